package videos

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/vidfriends/mediahub/internal/models"
	"github.com/vidfriends/mediahub/internal/repositories"
	"github.com/vidfriends/mediahub/internal/storage"
)

type memoryRepo struct {
	mu            sync.Mutex
	videos        map[string]models.Video
	users         map[string]models.User
	subscriptions [][2]string
	comments      map[string]int
	createErr     error
	updateErr     error
	deleteErr     error
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{
		videos:   make(map[string]models.Video),
		users:    make(map[string]models.User),
		comments: make(map[string]int),
	}
}

func (r *memoryRepo) Create(_ context.Context, video models.Video) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.createErr != nil {
		return r.createErr
	}
	r.videos[video.ID] = video
	return nil
}

func (r *memoryRepo) FindByID(_ context.Context, id string) (models.Video, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	v, ok := r.videos[id]
	if !ok {
		return models.Video{}, repositories.ErrNotFound
	}
	return v, nil
}

func (r *memoryRepo) Update(_ context.Context, next, prev models.Video) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.updateErr != nil {
		return r.updateErr
	}
	stored, ok := r.videos[next.ID]
	if !ok {
		return repositories.ErrNotFound
	}
	if stored.VideoFile.RemoteID != prev.VideoFile.RemoteID || stored.Thumbnail.RemoteID != prev.Thumbnail.RemoteID {
		return repositories.ErrConflict
	}
	r.videos[next.ID] = next
	return nil
}

func (r *memoryRepo) Delete(_ context.Context, video models.Video) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.deleteErr != nil {
		return r.deleteErr
	}
	stored, ok := r.videos[video.ID]
	if !ok {
		return repositories.ErrNotFound
	}
	if stored.VideoFile.RemoteID != video.VideoFile.RemoteID || stored.Thumbnail.RemoteID != video.Thumbnail.RemoteID {
		return repositories.ErrConflict
	}
	delete(r.videos, video.ID)
	return nil
}

func (r *memoryRepo) FindDetails(_ context.Context, videoID, viewerID string) (models.VideoDetails, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	v, ok := r.videos[videoID]
	if !ok {
		return models.VideoDetails{}, repositories.ErrNotFound
	}
	owner := r.users[v.OwnerID]
	details := models.VideoDetails{
		Video: v,
		Owner: models.OwnerProfile{
			ID:          owner.ID,
			Username:    owner.Username,
			DisplayName: owner.DisplayName,
			Email:       owner.Email,
		},
		TotalComments: int64(r.comments[videoID]),
	}
	for _, edge := range r.subscriptions {
		if edge[1] != v.OwnerID {
			continue
		}
		details.SubscriberCount++
		if edge[0] == viewerID {
			details.IsSubscribed = true
		}
	}
	return details, nil
}

func (r *memoryRepo) has(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.videos[id]
	return ok
}

func (r *memoryRepo) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.videos)
}

// fakeMedia tracks which remote assets exist.
type fakeMedia struct {
	mu         sync.Mutex
	seq        int
	live       map[string]models.AssetKind
	uploadFail map[models.AssetKind]error
	deleteFail map[string]error
	deletes    []string
	duration   float64
}

func newFakeMedia() *fakeMedia {
	return &fakeMedia{
		live:       make(map[string]models.AssetKind),
		uploadFail: make(map[models.AssetKind]error),
		deleteFail: make(map[string]error),
		duration:   42,
	}
}

func (m *fakeMedia) Upload(_ context.Context, localPath string, kind models.AssetKind) (storage.Asset, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	defer os.Remove(localPath)
	if err := m.uploadFail[kind]; err != nil {
		return storage.Asset{}, err
	}
	m.seq++
	folder := "images"
	if kind == models.AssetKindVideo {
		folder = "videos"
	}
	id := fmt.Sprintf("%s/%03d%s", folder, m.seq, filepath.Ext(localPath))
	m.live[id] = kind
	asset := storage.Asset{RemoteID: id, URL: "https://cdn.example.com/" + id}
	if kind == models.AssetKindVideo {
		asset.DurationSeconds = m.duration
	}
	return asset, nil
}

func (m *fakeMedia) Delete(_ context.Context, remoteID string, _ models.AssetKind) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deletes = append(m.deletes, remoteID)
	if err := m.deleteFail[remoteID]; err != nil {
		return err
	}
	delete(m.live, remoteID)
	return nil
}

func (m *fakeMedia) exists(remoteID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.live[remoteID]
	return ok
}

func (m *fakeMedia) liveCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.live)
}

func (m *fakeMedia) failDeletesOfKind(kind models.AssetKind, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, k := range m.live {
		if k == kind {
			m.deleteFail[id] = err
		}
	}
}

type orphanLog struct {
	mu  sync.Mutex
	ids []string
}

func (o *orphanLog) Report(_ context.Context, remoteID string, _ models.AssetKind, _ string, _ error) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.ids = append(o.ids, remoteID)
	return nil
}

var errRemote = errors.New("remote store unavailable")

func stage(t *testing.T, name string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(name), 0o600))
	return path
}

func requireRemoved(t *testing.T, paths ...string) {
	t.Helper()
	for _, p := range paths {
		_, err := os.Stat(p)
		require.True(t, errors.Is(err, os.ErrNotExist), "staged file %s must be removed", p)
	}
}
