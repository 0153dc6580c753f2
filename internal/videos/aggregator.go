package videos

import (
	"context"
	"errors"

	"github.com/vidfriends/mediahub/internal/apperr"
	"github.com/vidfriends/mediahub/internal/ids"
	"github.com/vidfriends/mediahub/internal/models"
	"github.com/vidfriends/mediahub/internal/repositories"
)

// DetailsFinder loads a video joined with its related collections.
type DetailsFinder interface {
	FindDetails(ctx context.Context, videoID, viewerID string) (models.VideoDetails, error)
}

// Aggregator builds the viewer-relative read view of a video.
type Aggregator struct {
	finder DetailsFinder
}

// NewAggregator returns an Aggregator reading from finder.
func NewAggregator(finder DetailsFinder) *Aggregator {
	return &Aggregator{finder: finder}
}

// Details returns the enriched view of videoID. viewerID is empty for
// anonymous readers, who are never reported as subscribed.
func (a *Aggregator) Details(ctx context.Context, videoID, viewerID string) (models.VideoDetails, error) {
	if !ids.Valid(videoID) {
		return models.VideoDetails{}, apperr.Validation("invalid video id", "videoId")
	}

	details, err := a.finder.FindDetails(ctx, videoID, viewerID)
	if err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			return models.VideoDetails{}, apperr.NotFound("video not found")
		}
		return models.VideoDetails{}, apperr.Persistence("failed to load video", err)
	}

	if viewerID == "" {
		details.IsSubscribed = false
	}
	details.SubscriberCount = max(details.SubscriberCount, 0)
	details.TotalComments = max(details.TotalComments, 0)
	return details, nil
}
