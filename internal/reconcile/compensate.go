package reconcile

import (
	"context"
	"errors"
	"fmt"

	"github.com/vidfriends/mediahub/internal/logging"
	"github.com/vidfriends/mediahub/internal/metrics"
	"github.com/vidfriends/mediahub/internal/models"
)

// Reporter hands an orphaned asset over for background clean-up.
type Reporter interface {
	Report(ctx context.Context, remoteID string, kind models.AssetKind, reason string, cause error) error
}

// Uploaded identifies a remote asset created earlier in the same operation.
type Uploaded struct {
	RemoteID string
	Kind     models.AssetKind
}

// Compensator deletes remote assets whose database write never happened.
type Compensator struct {
	store    Deleter
	reporter Reporter
	metrics  *metrics.Recorder
}

// NewCompensator returns a Compensator. reporter and recorder may be nil.
func NewCompensator(store Deleter, reporter Reporter, recorder *metrics.Recorder) *Compensator {
	return &Compensator{store: store, reporter: reporter, metrics: recorder}
}

// Rollback deletes every upload. Deletes continue past failures; each asset
// that could not be deleted is logged as a defect, counted, and reported to
// the ledger. The returned error joins all delete failures.
//
// Rollback runs even if ctx was cancelled by the caller.
func (c *Compensator) Rollback(ctx context.Context, operation string, uploads ...Uploaded) error {
	ctx = context.WithoutCancel(ctx)
	logger := logging.FromContext(ctx)

	var errs []error
	for _, up := range uploads {
		if up.RemoteID == "" {
			continue
		}
		err := c.store.Delete(ctx, up.RemoteID, up.Kind)
		c.metrics.CompensatingDelete(err)
		if err == nil {
			continue
		}

		c.metrics.ReconciliationDefect(operation)
		logger.Error("compensating delete failed",
			"defect", true,
			"operation", operation,
			"remoteId", up.RemoteID,
			"kind", up.Kind,
			"error", err,
		)
		if c.reporter != nil {
			if rerr := c.reporter.Report(ctx, up.RemoteID, up.Kind, operation+" rollback", err); rerr != nil {
				logger.Error("record orphaned asset", "defect", true, "remoteId", up.RemoteID, "error", rerr)
			}
		}
		errs = append(errs, fmt.Errorf("delete %s %s: %w", up.Kind, up.RemoteID, err))
	}
	return errors.Join(errs...)
}

// Retire deletes assets replaced by a committed write. Failures are handed to
// the reporter and never returned, since the database already points at the
// new assets.
func (c *Compensator) Retire(ctx context.Context, operation string, uploads ...Uploaded) {
	ctx = context.WithoutCancel(ctx)
	logger := logging.FromContext(ctx)

	for _, up := range uploads {
		if up.RemoteID == "" {
			continue
		}
		err := c.store.Delete(ctx, up.RemoteID, up.Kind)
		if err == nil {
			continue
		}
		logger.Warn("replaced asset delete failed", "operation", operation, "remoteId", up.RemoteID, "error", err)
		if c.reporter == nil {
			continue
		}
		if rerr := c.reporter.Report(ctx, up.RemoteID, up.Kind, operation+" replaced", err); rerr != nil {
			c.metrics.ReconciliationDefect(operation)
			logger.Error("record orphaned asset", "defect", true, "remoteId", up.RemoteID, "error", rerr)
		}
	}
}
