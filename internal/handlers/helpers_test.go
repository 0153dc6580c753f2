package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/vidfriends/mediahub/internal/auth"
	"github.com/vidfriends/mediahub/internal/models"
	"github.com/vidfriends/mediahub/internal/storage"
	"github.com/vidfriends/mediahub/internal/users"
	"github.com/vidfriends/mediahub/internal/videos"
)

type fakeMedia struct {
	mu  sync.Mutex
	seq int
}

func (m *fakeMedia) Upload(_ context.Context, localPath string, kind models.AssetKind) (storage.Asset, error) {
	defer os.Remove(localPath)
	m.mu.Lock()
	defer m.mu.Unlock()
	m.seq++
	id := fmt.Sprintf("images/%d%s", m.seq, filepath.Ext(localPath))
	return storage.Asset{RemoteID: id, URL: "https://cdn.example.com/" + id}, nil
}

func (m *fakeMedia) Delete(context.Context, string, models.AssetKind) error { return nil }

// videoServiceStub records the inputs it receives.
type videoServiceStub struct {
	mu        sync.Mutex
	upload    videos.UploadInput
	update    videos.UpdateInput
	viewer    string
	deletedBy string
	stagedOK  bool
	err       error
}

func (s *videoServiceStub) UploadVideo(_ context.Context, in videos.UploadInput) (models.Video, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.upload = in
	s.stagedOK = fileExists(in.VideoPath) && fileExists(in.ThumbnailPath)
	storage.RemoveStaged(in.VideoPath, in.ThumbnailPath)
	if s.err != nil {
		return models.Video{}, s.err
	}
	return models.Video{ID: "01HV00000000000000000000AA", OwnerID: in.OwnerID, Title: in.Title}, nil
}

func (s *videoServiceStub) GetVideoByID(_ context.Context, videoID, viewerID string) (models.VideoDetails, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.viewer = viewerID
	if s.err != nil {
		return models.VideoDetails{}, s.err
	}
	return models.VideoDetails{Video: models.Video{ID: videoID}, TotalComments: 3}, nil
}

func (s *videoServiceStub) DeleteVideo(_ context.Context, _ string, callerID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deletedBy = callerID
	return s.err
}

func (s *videoServiceStub) UpdateVideo(_ context.Context, in videos.UpdateInput) (models.Video, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.update = in
	storage.RemoveStaged(in.VideoPath, in.ThumbnailPath)
	if s.err != nil {
		return models.Video{}, s.err
	}
	return models.Video{ID: in.VideoID}, nil
}

func fileExists(path string) bool {
	if path == "" {
		return false
	}
	_, err := os.Stat(path)
	return err == nil
}

type testServer struct {
	handler http.Handler
	store   *auth.InMemoryCredentialStore
	videos  *videoServiceStub
	manager *auth.Manager
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()

	tokens, err := auth.NewTokenService(auth.TokenConfig{
		AccessSecret:  "access-secret",
		RefreshSecret: "refresh-secret",
		AccessTTL:     time.Minute,
		RefreshTTL:    time.Hour,
		Issuer:        "mediahub-test",
	})
	require.NoError(t, err)

	store := auth.NewInMemoryCredentialStore()
	manager := auth.NewManager(tokens, store, nil)
	stub := &videoServiceStub{}

	handler := NewRouter(Dependencies{
		Users:      users.NewService(store, &fakeMedia{}, nil, nil),
		Sessions:   manager,
		Videos:     stub,
		Logger:     slog.New(slog.NewTextHandler(io.Discard, nil)),
		StagingDir: t.TempDir(),
	})
	return &testServer{handler: handler, store: store, videos: stub, manager: manager}
}

func (s *testServer) do(req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)
	return rec
}

type part struct {
	name, filename, content string
}

func multipartRequest(t *testing.T, method, target string, parts ...part) *http.Request {
	t.Helper()
	var body bytes.Buffer
	w := multipart.NewWriter(&body)
	for _, p := range parts {
		if p.filename == "" {
			require.NoError(t, w.WriteField(p.name, p.content))
			continue
		}
		fw, err := w.CreateFormFile(p.name, p.filename)
		require.NoError(t, err)
		_, err = fw.Write([]byte(p.content))
		require.NoError(t, err)
	}
	require.NoError(t, w.Close())

	req := httptest.NewRequest(method, target, &body)
	req.Header.Set("Content-Type", w.FormDataContentType())
	return req
}

func jsonRequest(t *testing.T, method, target string, payload any) *http.Request {
	t.Helper()
	body, err := json.Marshal(payload)
	require.NoError(t, err)
	req := httptest.NewRequest(method, target, bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	return req
}

type envelope struct {
	StatusCode int             `json:"statusCode"`
	Data       json.RawMessage `json:"data"`
	Message    string          `json:"message"`
	Success    bool            `json:"success"`
}

func decodeEnvelope(t *testing.T, rec *httptest.ResponseRecorder) envelope {
	t.Helper()
	var env envelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env), rec.Body.String())
	require.Equal(t, rec.Code, env.StatusCode)
	require.Equal(t, rec.Code < 400, env.Success)
	return env
}

func cookieValue(rec *httptest.ResponseRecorder, name string) (string, bool) {
	for _, c := range rec.Result().Cookies() {
		if c.Name == name {
			return c.Value, true
		}
	}
	return "", false
}

var errUnexpected = errors.New("driver: bad connection to 10.0.0.7")
