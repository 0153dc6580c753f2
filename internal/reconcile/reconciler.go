// Package reconcile retries remote deletes that a compensating action could
// not complete, so failed rollbacks do not leak storage forever.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/vidfriends/mediahub/internal/ids"
	"github.com/vidfriends/mediahub/internal/lock"
	"github.com/vidfriends/mediahub/internal/metrics"
	"github.com/vidfriends/mediahub/internal/models"
)

// Ledger persists orphaned remote assets until they are deleted.
type Ledger interface {
	Record(ctx context.Context, orphan models.OrphanedAsset) error
	ListPending(ctx context.Context, limit, maxAttempts int) ([]models.OrphanedAsset, error)
	MarkResolved(ctx context.Context, id string, at time.Time) error
	MarkAttempt(ctx context.Context, id, lastErr string) error
}

// Deleter removes a remote asset.
type Deleter interface {
	Delete(ctx context.Context, remoteID string, kind models.AssetKind) error
}

// Config controls pacing and concurrency of the reconciler.
type Config struct {
	Interval         time.Duration
	DeletesPerSecond float64
	Burst            int
	BatchSize        int
	Workers          int
	QueueSize        int
	MaxAttempts      int
	// LockTTL bounds how long one replica may own a sweep.
	LockTTL       time.Duration
	DeleteTimeout time.Duration
}

func (c Config) withDefaults() Config {
	if c.Interval <= 0 {
		c.Interval = 5 * time.Minute
	}
	if c.DeletesPerSecond <= 0 {
		c.DeletesPerSecond = 5
	}
	if c.Burst <= 0 {
		c.Burst = 1
	}
	if c.BatchSize <= 0 {
		c.BatchSize = 50
	}
	if c.Workers <= 0 {
		c.Workers = 1
	}
	if c.QueueSize <= 0 {
		c.QueueSize = 16
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 10
	}
	if c.LockTTL <= 0 {
		c.LockTTL = 2 * c.Interval
	}
	if c.DeleteTimeout <= 0 {
		c.DeleteTimeout = 30 * time.Second
	}
	return c
}

// Reconciler records orphaned assets and deletes them in the background,
// either straight from its queue or during periodic ledger sweeps.
type Reconciler struct {
	ledger  Ledger
	deleter Deleter
	locker  lock.Locker
	limiter *rate.Limiter
	metrics *metrics.Recorder
	logger  *slog.Logger
	cfg     Config
	now     func() time.Time

	inflight sync.Map

	jobs   chan models.OrphanedAsset
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	once   sync.Once
	// closeMu guards sends on jobs against the close in Shutdown.
	closeMu sync.RWMutex
	closed  bool
}

var errReconcilerClosed = errors.New("reconciler closed")

const opAbandon = "reconcile_orphan"

// New starts a reconciler worker pool. locker may be nil for a single
// instance deployment, in which case an in-memory locker is used.
func New(ledger Ledger, deleter Deleter, locker lock.Locker, cfg Config, recorder *metrics.Recorder, logger *slog.Logger) *Reconciler {
	cfg = cfg.withDefaults()
	if locker == nil {
		locker = lock.NewMemoryLocker()
	}
	if logger == nil {
		logger = slog.Default()
	}

	ctx, cancel := context.WithCancel(context.Background())

	r := &Reconciler{
		ledger:  ledger,
		deleter: deleter,
		locker:  locker,
		limiter: rate.NewLimiter(rate.Limit(cfg.DeletesPerSecond), cfg.Burst),
		metrics: recorder,
		logger:  logger,
		cfg:     cfg,
		now:     time.Now,
		jobs:    make(chan models.OrphanedAsset, cfg.QueueSize),
		ctx:     ctx,
		cancel:  cancel,
	}

	r.wg.Add(cfg.Workers)
	for i := 0; i < cfg.Workers; i++ {
		go r.worker()
	}

	return r
}

// Report records an orphaned asset in the ledger and queues an immediate
// retry. A full queue leaves the retry to the next sweep.
func (r *Reconciler) Report(ctx context.Context, remoteID string, kind models.AssetKind, reason string, cause error) error {
	orphan := models.OrphanedAsset{
		ID:        ids.New(),
		RemoteID:  remoteID,
		Kind:      kind,
		Reason:    reason,
		CreatedAt: r.now().UTC(),
	}
	if cause != nil {
		orphan.LastError = cause.Error()
	}

	if err := r.ledger.Record(ctx, orphan); err != nil {
		return fmt.Errorf("record orphaned asset: %w", err)
	}

	r.closeMu.RLock()
	defer r.closeMu.RUnlock()
	if r.closed {
		return nil
	}
	select {
	case r.jobs <- orphan:
	default:
		r.logger.Warn("reconcile queue full, deferring to sweep", "orphanId", orphan.ID)
	}
	return nil
}

// Enqueue schedules a retry for orphan, blocking while the queue is full.
func (r *Reconciler) Enqueue(ctx context.Context, orphan models.OrphanedAsset) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-r.ctx.Done():
		return errReconcilerClosed
	default:
	}

	r.closeMu.RLock()
	defer r.closeMu.RUnlock()
	if r.closed {
		return errReconcilerClosed
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-r.ctx.Done():
		return errReconcilerClosed
	case r.jobs <- orphan:
		return nil
	}
}

// Sweep retries one batch of pending orphans. It returns the number resolved.
// When another instance holds the sweep lock it does nothing.
func (r *Reconciler) Sweep(ctx context.Context) (int, error) {
	acquired, err := r.locker.Acquire(ctx, lock.ReconcileSweepKey, r.cfg.LockTTL)
	if err != nil {
		return 0, fmt.Errorf("acquire sweep lock: %w", err)
	}
	if !acquired {
		r.logger.Debug("reconcile sweep skipped, lock held elsewhere")
		return 0, nil
	}
	defer func() {
		if _, err := r.locker.Release(context.WithoutCancel(ctx), lock.ReconcileSweepKey); err != nil {
			r.logger.Warn("release sweep lock", "error", err)
		}
	}()

	pending, err := r.ledger.ListPending(ctx, r.cfg.BatchSize, r.cfg.MaxAttempts)
	if err != nil {
		return 0, fmt.Errorf("list orphaned assets: %w", err)
	}

	resolved := 0
	for _, orphan := range pending {
		if err := ctx.Err(); err != nil {
			return resolved, err
		}
		ok, err := r.process(ctx, orphan)
		if err != nil {
			return resolved, err
		}
		if ok {
			resolved++
		}
		held, err := r.locker.Extend(ctx, lock.ReconcileSweepKey, r.cfg.LockTTL)
		if err != nil || !held {
			r.logger.Warn("sweep lock lost, stopping early", "resolved", resolved, "error", err)
			return resolved, nil
		}
	}

	if len(pending) > 0 {
		r.logger.Info("reconcile sweep finished", "pending", len(pending), "resolved", resolved)
	}
	return resolved, nil
}

// Run sweeps on every interval until ctx is cancelled.
func (r *Reconciler) Run(ctx context.Context) {
	ticker := time.NewTicker(r.cfg.Interval)
	defer ticker.Stop()

	for {
		if _, err := r.Sweep(ctx); err != nil && !errors.Is(err, context.Canceled) {
			r.logger.Error("reconcile sweep failed", "error", err)
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// Shutdown stops accepting work and waits for the workers to exit.
func (r *Reconciler) Shutdown(ctx context.Context) error {
	r.once.Do(func() {
		r.cancel()
		r.closeMu.Lock()
		r.closed = true
		close(r.jobs)
		r.closeMu.Unlock()
	})

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-done:
		return nil
	}
}

func (r *Reconciler) worker() {
	defer r.wg.Done()

	for {
		select {
		case <-r.ctx.Done():
			return
		case orphan, ok := <-r.jobs:
			if !ok {
				return
			}
			if _, err := r.process(r.ctx, orphan); err != nil && !errors.Is(err, context.Canceled) {
				r.logger.Error("reconcile orphan", "orphanId", orphan.ID, "error", err)
			}
		}
	}
}

// process deletes one orphan. A failed delete is recorded as an attempt and
// is not an error; only ledger and pacing failures are returned.
func (r *Reconciler) process(ctx context.Context, orphan models.OrphanedAsset) (bool, error) {
	if _, busy := r.inflight.LoadOrStore(orphan.ID, struct{}{}); busy {
		return false, nil
	}
	defer r.inflight.Delete(orphan.ID)

	if err := r.limiter.Wait(ctx); err != nil {
		return false, err
	}

	deleteCtx, cancel := context.WithTimeout(ctx, r.cfg.DeleteTimeout)
	deleteErr := r.deleter.Delete(deleteCtx, orphan.RemoteID, orphan.Kind)
	cancel()
	r.metrics.OrphanRetry(deleteErr)

	if deleteErr != nil {
		r.logger.Warn("orphan delete failed", "orphanId", orphan.ID, "remoteId", orphan.RemoteID, "error", deleteErr)
		if err := r.ledger.MarkAttempt(ctx, orphan.ID, deleteErr.Error()); err != nil {
			return false, fmt.Errorf("record orphan attempt: %w", err)
		}
		if orphan.Attempts+1 >= r.cfg.MaxAttempts {
			// Sweeps no longer list it; the asset needs manual cleanup.
			r.metrics.ReconciliationDefect(opAbandon)
			r.logger.Error("orphan abandoned after max attempts",
				"orphanId", orphan.ID, "remoteId", orphan.RemoteID, "kind", orphan.Kind,
				"attempts", orphan.Attempts+1, "defect", true, "error", deleteErr)
		}
		return false, nil
	}

	if err := r.ledger.MarkResolved(ctx, orphan.ID, r.now().UTC()); err != nil {
		return false, fmt.Errorf("resolve orphan: %w", err)
	}
	r.logger.Info("orphan deleted", "orphanId", orphan.ID, "remoteId", orphan.RemoteID, "kind", orphan.Kind)
	return true, nil
}
