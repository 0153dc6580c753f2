package users

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/vidfriends/mediahub/internal/apperr"
	"github.com/vidfriends/mediahub/internal/models"
	"github.com/vidfriends/mediahub/internal/repositories"
	"github.com/vidfriends/mediahub/internal/storage"
)

type memoryRepo struct {
	mu        sync.Mutex
	users     []models.User
	createErr error
}

func (r *memoryRepo) Create(_ context.Context, user models.User) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.createErr != nil {
		return r.createErr
	}
	r.users = append(r.users, user)
	return nil
}

func (r *memoryRepo) ExistsByUsernameOrEmail(_ context.Context, username, email string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, u := range r.users {
		if u.Username == username || u.Email == email {
			return true, nil
		}
	}
	return false, nil
}

type fakeMedia struct {
	mu        sync.Mutex
	seq       int
	live      map[string]bool
	failPaths map[string]bool
	deleteErr error
}

func newFakeMedia() *fakeMedia {
	return &fakeMedia{live: make(map[string]bool), failPaths: make(map[string]bool)}
}

func (m *fakeMedia) Upload(_ context.Context, localPath string, kind models.AssetKind) (storage.Asset, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	defer os.Remove(localPath)
	if m.failPaths[localPath] {
		return storage.Asset{}, errors.New("remote store rejected upload")
	}
	m.seq++
	id := fmt.Sprintf("images/%d%s", m.seq, filepath.Ext(localPath))
	m.live[id] = true
	return storage.Asset{RemoteID: id, URL: "https://cdn.example.com/" + id}, nil
}

func (m *fakeMedia) Delete(_ context.Context, remoteID string, _ models.AssetKind) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.deleteErr != nil {
		return m.deleteErr
	}
	delete(m.live, remoteID)
	return nil
}

func (m *fakeMedia) liveCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.live)
}

func stage(t *testing.T, name string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte("img"), 0o600))
	return path
}

func requireRemoved(t *testing.T, paths ...string) {
	t.Helper()
	for _, p := range paths {
		_, err := os.Stat(p)
		require.True(t, errors.Is(err, os.ErrNotExist), "staged file %s must be removed", p)
	}
}

func validInput(t *testing.T) RegisterInput {
	return RegisterInput{
		DisplayName: "Ada Lovelace",
		Email:       "Ada@Example.com",
		Username:    " Ada ",
		Password:    "analytical",
		AvatarPath:  stage(t, "avatar.png"),
		CoverPath:   stage(t, "cover.jpg"),
	}
}

func newTestService(repo *memoryRepo, media *fakeMedia) *Service {
	s := NewService(repo, media, nil, nil)
	s.hashCost = bcrypt.MinCost
	return s
}

func TestRegisterCreatesUser(t *testing.T) {
	repo := &memoryRepo{}
	media := newFakeMedia()
	in := validInput(t)

	user, err := newTestService(repo, media).Register(context.Background(), in)
	require.NoError(t, err)

	require.Equal(t, "ada", user.Username)
	require.Equal(t, "ada@example.com", user.Email)
	require.True(t, user.Avatar.Valid())
	require.NotNil(t, user.Cover)
	require.Len(t, repo.users, 1)
	require.NoError(t, bcrypt.CompareHashAndPassword([]byte(repo.users[0].PasswordHash), []byte("analytical")))
	require.Equal(t, 2, media.liveCount())
	requireRemoved(t, in.AvatarPath, in.CoverPath)
}

func TestRegisterDuplicateIsConflict(t *testing.T) {
	repo := &memoryRepo{}
	media := newFakeMedia()
	svc := newTestService(repo, media)

	_, err := svc.Register(context.Background(), validInput(t))
	require.NoError(t, err)

	for _, mutate := range []func(*RegisterInput){
		func(in *RegisterInput) { in.Username = "someone-else" },
		func(in *RegisterInput) { in.Email = "other@example.com" },
	} {
		in := validInput(t)
		mutate(&in)
		_, err := svc.Register(context.Background(), in)
		require.ErrorIs(t, err, apperr.ErrConflict)
		requireRemoved(t, in.AvatarPath, in.CoverPath)
	}

	require.Len(t, repo.users, 1)
	require.Equal(t, 2, media.liveCount(), "rejected registrations upload nothing")
}

func TestRegisterCreateRaceRollsBackUploads(t *testing.T) {
	repo := &memoryRepo{createErr: repositories.ErrConflict}
	media := newFakeMedia()

	_, err := newTestService(repo, media).Register(context.Background(), validInput(t))
	require.ErrorIs(t, err, apperr.ErrConflict)
	require.Zero(t, media.liveCount())
}

func TestRegisterCoverFailureDeletesAvatar(t *testing.T) {
	repo := &memoryRepo{}
	media := newFakeMedia()
	in := validInput(t)
	media.failPaths[in.CoverPath] = true

	_, err := newTestService(repo, media).Register(context.Background(), in)
	require.ErrorIs(t, err, apperr.ErrUploadStore)
	require.Zero(t, media.liveCount())
	require.Empty(t, repo.users)
}

func TestRegisterRollbackFailureIsDefect(t *testing.T) {
	repo := &memoryRepo{createErr: errors.New("disk full")}
	media := newFakeMedia()
	media.deleteErr = errors.New("store offline")

	_, err := newTestService(repo, media).Register(context.Background(), validInput(t))
	require.ErrorIs(t, err, apperr.ErrReconciliation)
}

func TestRegisterValidation(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*RegisterInput)
		field  string
	}{
		{"blank display name", func(in *RegisterInput) { in.DisplayName = "  " }, "displayName"},
		{"missing email", func(in *RegisterInput) { in.Email = "" }, "email"},
		{"malformed email", func(in *RegisterInput) { in.Email = "not-an-email" }, "email"},
		{"missing password", func(in *RegisterInput) { in.Password = "" }, "password"},
		{"username with space", func(in *RegisterInput) { in.Username = "ada lovelace" }, "username"},
		{"missing avatar", func(in *RegisterInput) { in.AvatarPath = "" }, "avatar"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			media := newFakeMedia()
			in := validInput(t)
			tt.mutate(&in)

			_, err := newTestService(&memoryRepo{}, media).Register(context.Background(), in)
			require.ErrorIs(t, err, apperr.ErrValidation)

			appErr, ok := apperr.As(err)
			require.True(t, ok)
			require.Contains(t, appErr.Fields, tt.field)
			require.Zero(t, media.liveCount())
		})
	}
}
