package videos

import (
	"context"
	"errors"

	"github.com/vidfriends/mediahub/internal/apperr"
	"github.com/vidfriends/mediahub/internal/reconcile"
	"github.com/vidfriends/mediahub/internal/repositories"
)

const (
	opUpload = "upload_video"
	opUpdate = "update_video"
	opDelete = "delete_video"
)

// rollback deletes uploads and returns cause, or a reconciliation defect
// wrapping cause if any delete failed.
func (p *Pipeline) rollback(ctx context.Context, op string, cause *apperr.Error, uploads []reconcile.Uploaded) error {
	if len(uploads) == 0 {
		return cause
	}
	if err := p.compensate.Rollback(ctx, op, uploads...); err != nil {
		return apperr.Reconciliation("operation failed and uploaded assets could not be removed", errors.Join(cause, err))
	}
	return cause
}

// writeError classifies a repository write failure.
func writeError(err error, message string) *apperr.Error {
	switch {
	case errors.Is(err, repositories.ErrNotFound):
		return apperr.NotFound("video not found")
	case errors.Is(err, repositories.ErrConflict):
		return apperr.Conflict("video was modified concurrently, retry the request", err)
	default:
		return apperr.Persistence(message, err)
	}
}
