package videos

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/vidfriends/mediahub/internal/apperr"
	"github.com/vidfriends/mediahub/internal/ids"
	"github.com/vidfriends/mediahub/internal/models"
)

func TestDetailsWithCommentsAndSubscription(t *testing.T) {
	repo := newMemoryRepo()
	p := NewPipeline(repo, newFakeMedia(), nil, nil)
	video := seedVideo(t, p)

	viewer := ids.New()
	repo.users[ownerID] = models.User{
		ID:           ownerID,
		Username:     "ada",
		DisplayName:  "Ada",
		Email:        "ada@example.com",
		PasswordHash: "secret-hash",
	}
	repo.subscriptions = append(repo.subscriptions, [2]string{viewer, ownerID}, [2]string{ids.New(), ownerID})
	repo.comments[video.ID] = 3

	agg := NewAggregator(repo)

	details, err := agg.Details(context.Background(), video.ID, viewer)
	require.NoError(t, err)
	require.EqualValues(t, 3, details.TotalComments)
	require.True(t, details.IsSubscribed)
	require.EqualValues(t, 2, details.SubscriberCount)
	require.Equal(t, models.OwnerProfile{ID: ownerID, Username: "ada", DisplayName: "Ada", Email: "ada@example.com"}, details.Owner)

	anonymous, err := agg.Details(context.Background(), video.ID, "")
	require.NoError(t, err)
	require.False(t, anonymous.IsSubscribed)
	require.Equal(t, details.TotalComments, anonymous.TotalComments)
	require.Equal(t, details.SubscriberCount, anonymous.SubscriberCount)
}

func TestDetailsWithoutEdgesIsZero(t *testing.T) {
	repo := newMemoryRepo()
	video := seedVideo(t, NewPipeline(repo, newFakeMedia(), nil, nil))

	details, err := NewAggregator(repo).Details(context.Background(), video.ID, ids.New())
	require.NoError(t, err)
	require.Zero(t, details.TotalComments)
	require.Zero(t, details.SubscriberCount)
	require.False(t, details.IsSubscribed)
}

type stubFinder struct {
	details models.VideoDetails
	err     error
}

func (s stubFinder) FindDetails(context.Context, string, string) (models.VideoDetails, error) {
	return s.details, s.err
}

func TestDetailsNormalisesFinderOutput(t *testing.T) {
	agg := NewAggregator(stubFinder{details: models.VideoDetails{SubscriberCount: -2, TotalComments: -1, IsSubscribed: true}})

	details, err := agg.Details(context.Background(), ids.New(), "")
	require.NoError(t, err)
	require.Zero(t, details.SubscriberCount)
	require.Zero(t, details.TotalComments)
	require.False(t, details.IsSubscribed)
}

func TestDetailsErrors(t *testing.T) {
	_, err := NewAggregator(stubFinder{}).Details(context.Background(), "nope", "")
	require.ErrorIs(t, err, apperr.ErrValidation)

	_, err = NewAggregator(newMemoryRepo()).Details(context.Background(), ids.New(), "")
	require.ErrorIs(t, err, apperr.ErrNotFound)

	_, err = NewAggregator(stubFinder{err: errors.New("timeout")}).Details(context.Background(), ids.New(), "")
	require.ErrorIs(t, err, apperr.ErrPersistence)
}
