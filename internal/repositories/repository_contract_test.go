package repositories

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/vidfriends/mediahub/internal/ids"
	"github.com/vidfriends/mediahub/internal/models"
)

type userStore interface {
	Create(ctx context.Context, user models.User) error
	ExistsByUsernameOrEmail(ctx context.Context, username, email string) (bool, error)
	FindByIdentifier(ctx context.Context, identifier string) (models.User, error)
	FindByID(ctx context.Context, id string) (models.User, error)
	SetRefreshToken(ctx context.Context, userID string, token *string) error
	CompareAndSwapRefreshToken(ctx context.Context, userID, expected, next string) (bool, error)
}

type videoStore interface {
	Create(ctx context.Context, video models.Video) error
	FindByID(ctx context.Context, id string) (models.Video, error)
	Update(ctx context.Context, next, prev models.Video) error
	Delete(ctx context.Context, video models.Video) error
	FindDetails(ctx context.Context, videoID, viewerID string) (models.VideoDetails, error)
}

type orphanStore interface {
	Record(ctx context.Context, orphan models.OrphanedAsset) error
	ListPending(ctx context.Context, limit, maxAttempts int) ([]models.OrphanedAsset, error)
	MarkResolved(ctx context.Context, id string, at time.Time) error
	MarkAttempt(ctx context.Context, id, lastErr string) error
}

// backend bundles one driver's repositories with raw writers for the
// collections the service only reads.
type backend struct {
	users     userStore
	videos    videoStore
	orphans   orphanStore
	subscribe func(t *testing.T, subscriberID, channelID string)
	comment   func(t *testing.T, videoID, ownerID, content string)
}

func runRepositoryContract(t *testing.T, newBackend func(t *testing.T) backend) {
	t.Run("users", func(t *testing.T) { testUserRepository(t, newBackend(t)) })
	t.Run("videos", func(t *testing.T) { testVideoRepository(t, newBackend(t)) })
	t.Run("details", func(t *testing.T) { testVideoDetails(t, newBackend(t)) })
	t.Run("orphans", func(t *testing.T) { testOrphanRepository(t, newBackend(t)) })
}

func newTestUser(username string) models.User {
	now := time.Now().UTC().Truncate(time.Millisecond)
	return models.User{
		ID:           ids.New(),
		Username:     username,
		Email:        username + "@example.com",
		DisplayName:  "User " + username,
		PasswordHash: "hash-" + username,
		Avatar:       models.AssetRef{RemoteID: "images/" + username, URL: "https://cdn.example.com/images/" + username},
		CreatedAt:    now,
		UpdatedAt:    now,
	}
}

func newTestVideo(ownerID string) models.Video {
	now := time.Now().UTC().Truncate(time.Millisecond)
	id := ids.New()
	return models.Video{
		ID:              id,
		OwnerID:         ownerID,
		Title:           "Title " + id,
		Description:     "Description",
		VideoFile:       models.AssetRef{RemoteID: "videos/" + id + ".mp4", URL: "https://cdn.example.com/videos/" + id + ".mp4"},
		Thumbnail:       models.AssetRef{RemoteID: "images/" + id + ".png", URL: "https://cdn.example.com/images/" + id + ".png"},
		DurationSeconds: 42.5,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
}

func testUserRepository(t *testing.T, b backend) {
	ctx := context.Background()

	alice := newTestUser("alice")
	alice.Cover = &models.AssetRef{RemoteID: "images/cover", URL: "https://cdn.example.com/images/cover"}
	require.NoError(t, b.users.Create(ctx, alice))

	dupUsername := newTestUser("alice")
	dupUsername.Email = "other@example.com"
	require.True(t, errors.Is(b.users.Create(ctx, dupUsername), ErrConflict))

	dupEmail := newTestUser("alice2")
	dupEmail.Email = alice.Email
	require.True(t, errors.Is(b.users.Create(ctx, dupEmail), ErrConflict))

	exists, err := b.users.ExistsByUsernameOrEmail(ctx, "nobody", alice.Email)
	require.NoError(t, err)
	require.True(t, exists)
	exists, err = b.users.ExistsByUsernameOrEmail(ctx, "nobody", "nobody@example.com")
	require.NoError(t, err)
	require.False(t, exists)

	byName, err := b.users.FindByIdentifier(ctx, "alice")
	require.NoError(t, err)
	require.Equal(t, alice.ID, byName.ID)
	require.Equal(t, alice.PasswordHash, byName.PasswordHash)
	require.NotNil(t, byName.Cover)
	require.Equal(t, *alice.Cover, *byName.Cover)
	require.Nil(t, byName.RefreshToken)
	require.WithinDuration(t, alice.CreatedAt, byName.CreatedAt, time.Millisecond)

	byEmail, err := b.users.FindByIdentifier(ctx, alice.Email)
	require.NoError(t, err)
	require.Equal(t, alice.ID, byEmail.ID)

	_, err = b.users.FindByID(ctx, ids.New())
	require.True(t, errors.Is(err, ErrNotFound))

	first := "refresh-1"
	require.NoError(t, b.users.SetRefreshToken(ctx, alice.ID, &first))

	swapped, err := b.users.CompareAndSwapRefreshToken(ctx, alice.ID, "refresh-1", "refresh-2")
	require.NoError(t, err)
	require.True(t, swapped)

	swapped, err = b.users.CompareAndSwapRefreshToken(ctx, alice.ID, "refresh-1", "refresh-3")
	require.NoError(t, err)
	require.False(t, swapped, "stale token must not rotate")

	stored, err := b.users.FindByID(ctx, alice.ID)
	require.NoError(t, err)
	require.NotNil(t, stored.RefreshToken)
	require.Equal(t, "refresh-2", *stored.RefreshToken)

	require.NoError(t, b.users.SetRefreshToken(ctx, alice.ID, nil))
	swapped, err = b.users.CompareAndSwapRefreshToken(ctx, alice.ID, "refresh-2", "refresh-4")
	require.NoError(t, err)
	require.False(t, swapped, "cleared token must not rotate")

	require.True(t, errors.Is(b.users.SetRefreshToken(ctx, ids.New(), nil), ErrNotFound))
}

func testVideoRepository(t *testing.T, b backend) {
	ctx := context.Background()

	owner := newTestUser("owner")
	require.NoError(t, b.users.Create(ctx, owner))

	video := newTestVideo(owner.ID)
	require.NoError(t, b.videos.Create(ctx, video))

	fetched, err := b.videos.FindByID(ctx, video.ID)
	require.NoError(t, err)
	require.Equal(t, video.OwnerID, fetched.OwnerID)
	require.Equal(t, video.VideoFile, fetched.VideoFile)
	require.Equal(t, video.Thumbnail, fetched.Thumbnail)
	require.InDelta(t, video.DurationSeconds, fetched.DurationSeconds, 0.001)

	next := fetched
	next.Title = "Renamed"
	next.Thumbnail = models.AssetRef{RemoteID: "images/new.png", URL: "https://cdn.example.com/images/new.png"}
	next.UpdatedAt = time.Now().UTC()
	require.NoError(t, b.videos.Update(ctx, next, fetched))

	stale := next
	stale.Title = "Lost update"
	require.True(t, errors.Is(b.videos.Update(ctx, stale, fetched), ErrConflict))

	missing := newTestVideo(owner.ID)
	require.True(t, errors.Is(b.videos.Update(ctx, missing, missing), ErrNotFound))

	updated, err := b.videos.FindByID(ctx, video.ID)
	require.NoError(t, err)
	require.Equal(t, "Renamed", updated.Title)
	require.Equal(t, next.Thumbnail, updated.Thumbnail)

	require.True(t, errors.Is(b.videos.Delete(ctx, fetched), ErrConflict), "delete must not drop a record whose assets were replaced")
	_, err = b.videos.FindByID(ctx, video.ID)
	require.NoError(t, err)

	require.NoError(t, b.videos.Delete(ctx, updated))
	_, err = b.videos.FindByID(ctx, video.ID)
	require.True(t, errors.Is(err, ErrNotFound))
	require.True(t, errors.Is(b.videos.Delete(ctx, updated), ErrNotFound))
}

func testVideoDetails(t *testing.T, b backend) {
	ctx := context.Background()

	owner := newTestUser("channel")
	viewer := newTestUser("viewer")
	fan := newTestUser("fan")
	stranger := newTestUser("stranger")
	for _, u := range []models.User{owner, viewer, fan, stranger} {
		require.NoError(t, b.users.Create(ctx, u))
	}

	video := newTestVideo(owner.ID)
	require.NoError(t, b.videos.Create(ctx, video))
	quiet := newTestVideo(owner.ID)
	require.NoError(t, b.videos.Create(ctx, quiet))

	b.subscribe(t, viewer.ID, owner.ID)
	b.subscribe(t, fan.ID, owner.ID)
	b.subscribe(t, owner.ID, fan.ID)
	for i := 0; i < 3; i++ {
		b.comment(t, video.ID, fan.ID, fmt.Sprintf("comment %d", i))
	}

	details, err := b.videos.FindDetails(ctx, video.ID, viewer.ID)
	require.NoError(t, err)
	require.Equal(t, video.ID, details.ID)
	require.Equal(t, models.OwnerProfile{ID: owner.ID, Username: owner.Username, DisplayName: owner.DisplayName, Email: owner.Email}, details.Owner)
	require.EqualValues(t, 2, details.SubscriberCount)
	require.True(t, details.IsSubscribed)
	require.EqualValues(t, 3, details.TotalComments)

	anonymous, err := b.videos.FindDetails(ctx, video.ID, "")
	require.NoError(t, err)
	require.False(t, anonymous.IsSubscribed)
	require.EqualValues(t, 3, anonymous.TotalComments)

	notSubscribed, err := b.videos.FindDetails(ctx, video.ID, stranger.ID)
	require.NoError(t, err)
	require.False(t, notSubscribed.IsSubscribed)

	empty, err := b.videos.FindDetails(ctx, quiet.ID, stranger.ID)
	require.NoError(t, err)
	require.Zero(t, empty.TotalComments)

	_, err = b.videos.FindDetails(ctx, ids.New(), viewer.ID)
	require.True(t, errors.Is(err, ErrNotFound))
}

func testOrphanRepository(t *testing.T, b backend) {
	ctx := context.Background()
	base := time.Now().UTC().Add(-time.Hour).Truncate(time.Millisecond)

	older := models.OrphanedAsset{ID: ids.New(), RemoteID: "videos/a.mp4", Kind: models.AssetKindVideo, Reason: "upload rollback", CreatedAt: base}
	newer := models.OrphanedAsset{ID: ids.New(), RemoteID: "images/b.png", Kind: models.AssetKindImage, Reason: "replaced", CreatedAt: base.Add(time.Minute)}
	require.NoError(t, b.orphans.Record(ctx, newer))
	require.NoError(t, b.orphans.Record(ctx, older))

	pending, err := b.orphans.ListPending(ctx, 10, 3)
	require.NoError(t, err)
	require.Len(t, pending, 2)
	require.Equal(t, older.ID, pending[0].ID)
	require.Equal(t, models.AssetKindVideo, pending[0].Kind)
	require.Nil(t, pending[0].ResolvedAt)

	require.NoError(t, b.orphans.MarkAttempt(ctx, older.ID, "timeout"))
	require.NoError(t, b.orphans.MarkAttempt(ctx, older.ID, "timeout"))
	pending, err = b.orphans.ListPending(ctx, 10, 2)
	require.NoError(t, err)
	require.Len(t, pending, 1, "exhausted orphans are skipped")
	require.Equal(t, newer.ID, pending[0].ID)

	require.NoError(t, b.orphans.MarkResolved(ctx, newer.ID, time.Now()))
	pending, err = b.orphans.ListPending(ctx, 10, 5)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	require.Equal(t, older.ID, pending[0].ID)
	require.Equal(t, 2, pending[0].Attempts)
	require.Equal(t, "timeout", pending[0].LastError)

	require.True(t, errors.Is(b.orphans.MarkAttempt(ctx, ids.New(), "x"), ErrNotFound))
}
