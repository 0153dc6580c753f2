// Package videos implements the video write pipeline and read aggregation.
// Remote media is always written before the database record that references
// it, and the record is the last thing removed on delete.
package videos

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/vidfriends/mediahub/internal/apperr"
	"github.com/vidfriends/mediahub/internal/ids"
	"github.com/vidfriends/mediahub/internal/logging"
	"github.com/vidfriends/mediahub/internal/metrics"
	"github.com/vidfriends/mediahub/internal/models"
	"github.com/vidfriends/mediahub/internal/reconcile"
	"github.com/vidfriends/mediahub/internal/repositories"
	"github.com/vidfriends/mediahub/internal/storage"
)

// Repository persists video records.
type Repository interface {
	DetailsFinder
	Create(ctx context.Context, video models.Video) error
	FindByID(ctx context.Context, id string) (models.Video, error)
	// Update writes next only if the stored asset ids still match prev.
	Update(ctx context.Context, next, prev models.Video) error
	// Delete removes video only if the stored asset ids still match it.
	Delete(ctx context.Context, video models.Video) error
}

// MediaStore uploads local files and deletes remote assets. Any error is a
// definitive failure.
type MediaStore interface {
	Upload(ctx context.Context, localPath string, kind models.AssetKind) (storage.Asset, error)
	Delete(ctx context.Context, remoteID string, kind models.AssetKind) error
}

// UploadInput carries a new video. VideoPath and ThumbnailPath are staged
// local files; the pipeline removes them on every return path.
type UploadInput struct {
	OwnerID       string
	Title         string
	Description   string
	VideoPath     string
	ThumbnailPath string
}

// UpdateInput carries a partial video update. Nil or empty fields are left
// unchanged.
type UpdateInput struct {
	VideoID       string
	CallerID      string
	Title         *string
	Description   *string
	VideoPath     string
	ThumbnailPath string
}

// Pipeline coordinates the media store and the video repository.
type Pipeline struct {
	repo       Repository
	media      MediaStore
	aggregator *Aggregator
	compensate *reconcile.Compensator
	metrics    *metrics.Recorder
	now        func() time.Time
}

// NewPipeline wires a pipeline. reporter and recorder may be nil.
func NewPipeline(repo Repository, media MediaStore, reporter reconcile.Reporter, recorder *metrics.Recorder) *Pipeline {
	return &Pipeline{
		repo:       repo,
		media:      media,
		aggregator: NewAggregator(repo),
		compensate: reconcile.NewCompensator(media, reporter, recorder),
		metrics:    recorder,
		now:        time.Now,
	}
}

// UploadVideo uploads the video and thumbnail, then records the video. On
// failure no uploaded asset survives unless its deletion failed too, which is
// reported as a reconciliation defect.
func (p *Pipeline) UploadVideo(ctx context.Context, in UploadInput) (models.Video, error) {
	ctx, span := logging.StartSpan(ctx, "videos.upload")
	defer span.End()
	defer storage.RemoveStaged(in.VideoPath, in.ThumbnailPath)

	if strings.TrimSpace(in.OwnerID) == "" {
		return models.Video{}, apperr.Unauthorized("unauthorized request", nil)
	}

	title := strings.TrimSpace(in.Title)
	description := strings.TrimSpace(in.Description)
	var missing []string
	if title == "" {
		missing = append(missing, "title")
	}
	if description == "" {
		missing = append(missing, "description")
	}
	if strings.TrimSpace(in.VideoPath) == "" {
		missing = append(missing, "video")
	}
	if strings.TrimSpace(in.ThumbnailPath) == "" {
		missing = append(missing, "thumbnail")
	}
	if len(missing) > 0 {
		return models.Video{}, apperr.Validation("title, description, video and thumbnail are required", missing...)
	}

	videoAsset, err := p.upload(ctx, in.VideoPath, models.AssetKindVideo)
	if err != nil {
		return models.Video{}, apperr.UploadStore("video file upload failed", err)
	}
	uploads := []reconcile.Uploaded{{RemoteID: videoAsset.RemoteID, Kind: models.AssetKindVideo}}

	thumbAsset, err := p.upload(ctx, in.ThumbnailPath, models.AssetKindImage)
	if err != nil {
		return models.Video{}, p.rollback(ctx, opUpload, apperr.UploadStore("thumbnail upload failed", err), uploads)
	}
	uploads = append(uploads, reconcile.Uploaded{RemoteID: thumbAsset.RemoteID, Kind: models.AssetKindImage})

	now := p.now().UTC()
	video := models.Video{
		ID:              ids.NewAt(now),
		OwnerID:         in.OwnerID,
		Title:           title,
		Description:     description,
		VideoFile:       videoAsset.Ref(),
		Thumbnail:       thumbAsset.Ref(),
		DurationSeconds: videoAsset.DurationSeconds,
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	if err := p.repo.Create(ctx, video); err != nil {
		return models.Video{}, p.rollback(ctx, opUpload, apperr.Persistence("failed to save video", err), uploads)
	}

	logging.FromContext(ctx).Info("video uploaded", "videoId", video.ID, "ownerId", video.OwnerID)
	return video, nil
}

// GetVideoByID returns the enriched view of a video for viewerID, which is
// empty for anonymous readers.
func (p *Pipeline) GetVideoByID(ctx context.Context, videoID, viewerID string) (models.VideoDetails, error) {
	return p.aggregator.Details(ctx, videoID, viewerID)
}

// deleteAttempts bounds how often DeleteVideo follows a record whose assets
// were replaced while it was deleting them.
const deleteAttempts = 3

// DeleteVideo removes both remote assets and then the record. If a remote
// delete fails the record is kept so the delete can be retried. The record is
// only removed while it still points at the assets just deleted; if an update
// swapped them in between, the new assets are deleted too.
func (p *Pipeline) DeleteVideo(ctx context.Context, videoID, callerID string) error {
	ctx, span := logging.StartSpan(ctx, "videos.delete")
	defer span.End()
	logger := logging.FromContext(ctx)

	video, err := p.loadOwned(ctx, videoID, callerID)
	if err != nil {
		return err
	}

	for attempt := 1; ; attempt++ {
		if err := p.deleteAssets(ctx, video); err != nil {
			return err
		}

		err := p.repo.Delete(ctx, video)
		switch {
		case err == nil:
			logger.Info("video deleted", "videoId", video.ID, "attempts", attempt)
			return nil
		case errors.Is(err, repositories.ErrNotFound):
			return nil
		case errors.Is(err, repositories.ErrConflict) && attempt < deleteAttempts:
			logger.Warn("video assets replaced during delete, following", "videoId", video.ID, "attempt", attempt)
			video, err = p.loadOwned(ctx, videoID, callerID)
			if errors.Is(err, apperr.ErrNotFound) {
				return nil
			}
			if err != nil {
				return err
			}
		case errors.Is(err, repositories.ErrConflict):
			logger.Warn("video kept changing during delete", "videoId", video.ID, "attempts", attempt)
			return apperr.Conflict("video was modified concurrently, retry the request", err)
		default:
			p.metrics.ReconciliationDefect(opDelete)
			logger.Error("video record survives with deleted assets",
				"defect", true,
				"videoId", video.ID,
				"videoRemoteId", video.VideoFile.RemoteID,
				"thumbnailRemoteId", video.Thumbnail.RemoteID,
				"error", err,
			)
			return apperr.Persistence("remote assets were deleted but the video record could not be removed", err)
		}
	}
}

func (p *Pipeline) deleteAssets(ctx context.Context, video models.Video) error {
	logger := logging.FromContext(ctx)

	if !video.VideoFile.Valid() || !video.Thumbnail.Valid() {
		p.metrics.ReconciliationDefect(opDelete)
		logger.Error("video references an asset without a remote id",
			"defect", true,
			"videoId", video.ID,
			"videoUrl", video.VideoFile.URL,
			"thumbnailUrl", video.Thumbnail.URL,
		)
		return apperr.Reconciliation("video assets cannot be located in the media store", nil)
	}

	if err := p.media.Delete(ctx, video.VideoFile.RemoteID, models.AssetKindVideo); err != nil {
		return apperr.UploadStore("failed to delete video file", err)
	}
	if err := p.media.Delete(ctx, video.Thumbnail.RemoteID, models.AssetKindImage); err != nil {
		logger.Warn("thumbnail delete failed after video file was removed", "videoId", video.ID, "error", err)
		return apperr.UploadStore("failed to delete thumbnail", err)
	}
	return nil
}

// UpdateVideo applies a partial update. Replacement assets are uploaded
// first, the record is swapped under an optimistic precondition, and only
// then are the replaced assets deleted.
func (p *Pipeline) UpdateVideo(ctx context.Context, in UpdateInput) (models.Video, error) {
	ctx, span := logging.StartSpan(ctx, "videos.update")
	defer span.End()
	defer storage.RemoveStaged(in.VideoPath, in.ThumbnailPath)

	if err := validateUpdate(in); err != nil {
		return models.Video{}, err
	}

	current, err := p.loadOwned(ctx, in.VideoID, in.CallerID)
	if err != nil {
		return models.Video{}, err
	}

	next := current
	if in.Title != nil {
		next.Title = strings.TrimSpace(*in.Title)
	}
	if in.Description != nil {
		next.Description = strings.TrimSpace(*in.Description)
	}

	var uploads, replaced []reconcile.Uploaded
	var untracked []models.AssetRef
	retire := func(ref models.AssetRef, kind models.AssetKind) {
		if ref.Dangling() {
			untracked = append(untracked, ref)
			return
		}
		replaced = append(replaced, reconcile.Uploaded{RemoteID: ref.RemoteID, Kind: kind})
	}
	if in.VideoPath != "" {
		asset, err := p.upload(ctx, in.VideoPath, models.AssetKindVideo)
		if err != nil {
			return models.Video{}, apperr.UploadStore("video file upload failed", err)
		}
		uploads = append(uploads, reconcile.Uploaded{RemoteID: asset.RemoteID, Kind: models.AssetKindVideo})
		retire(current.VideoFile, models.AssetKindVideo)
		next.VideoFile = asset.Ref()
		next.DurationSeconds = asset.DurationSeconds
	}
	if in.ThumbnailPath != "" {
		asset, err := p.upload(ctx, in.ThumbnailPath, models.AssetKindImage)
		if err != nil {
			return models.Video{}, p.rollback(ctx, opUpdate, apperr.UploadStore("thumbnail upload failed", err), uploads)
		}
		uploads = append(uploads, reconcile.Uploaded{RemoteID: asset.RemoteID, Kind: models.AssetKindImage})
		retire(current.Thumbnail, models.AssetKindImage)
		next.Thumbnail = asset.Ref()
	}

	next.UpdatedAt = p.now().UTC()
	if err := p.repo.Update(ctx, next, current); err != nil {
		return models.Video{}, p.rollback(ctx, opUpdate, writeError(err, "failed to update video"), uploads)
	}

	logger := logging.FromContext(ctx)
	p.compensate.Retire(ctx, opUpdate, replaced...)
	for _, ref := range untracked {
		p.metrics.ReconciliationDefect(opUpdate)
		logger.Error("replaced asset has no remote id and cannot be deleted",
			"defect", true,
			"videoId", next.ID,
			"url", ref.URL,
		)
	}
	logger.Info("video updated", "videoId", next.ID, "replacedAssets", len(replaced)+len(untracked))
	return next, nil
}

func (p *Pipeline) upload(ctx context.Context, path string, kind models.AssetKind) (storage.Asset, error) {
	asset, err := p.media.Upload(ctx, path, kind)
	p.metrics.Upload(string(kind), err)
	return asset, err
}

func (p *Pipeline) loadOwned(ctx context.Context, videoID, callerID string) (models.Video, error) {
	if strings.TrimSpace(callerID) == "" {
		return models.Video{}, apperr.Unauthorized("unauthorized request", nil)
	}
	if !ids.Valid(videoID) {
		return models.Video{}, apperr.Validation("invalid video id", "videoId")
	}

	video, err := p.repo.FindByID(ctx, videoID)
	if err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			return models.Video{}, apperr.NotFound("video not found")
		}
		return models.Video{}, apperr.Persistence("failed to load video", err)
	}
	if video.OwnerID != callerID {
		return models.Video{}, apperr.Forbidden("only the owner can modify this video")
	}
	return video, nil
}

func validateUpdate(in UpdateInput) error {
	var blank []string
	if in.Title != nil && strings.TrimSpace(*in.Title) == "" {
		blank = append(blank, "title")
	}
	if in.Description != nil && strings.TrimSpace(*in.Description) == "" {
		blank = append(blank, "description")
	}
	if len(blank) > 0 {
		return apperr.Validation("fields must not be blank", blank...)
	}
	if in.Title == nil && in.Description == nil && in.VideoPath == "" && in.ThumbnailPath == "" {
		return apperr.Validation("nothing to update", "title", "description", "thumbnail", "video")
	}
	return nil
}
