package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/omj-erie/omjsite/internal/storage"
)

// TimeoutReason is recorded on documents the reconciler gives up on.
const TimeoutReason = "processing timed out"

// StaleStore finds and fails documents stuck in processing.
type StaleStore interface {
	ListStaleProcessing(ctx context.Context, cutoff time.Time) ([]storage.Document, error)
	MarkDocumentFailed(ctx context.Context, id, reason string) error
}

// Reconciler periodically fails documents that stayed in processing longer
// than the timeout, so they can be reprocessed.
type Reconciler struct {
	store    StaleStore
	timeout  time.Duration
	schedule string
	cron     *cron.Cron
	now      func() time.Time
	logger   *slog.Logger
}

// NewReconciler creates a Reconciler running on a cron schedule such as "@every 1m".
func NewReconciler(store StaleStore, timeout time.Duration, schedule string, logger *slog.Logger) *Reconciler {
	if schedule == "" {
		schedule = "@every 1m"
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Reconciler{
		store:    store,
		timeout:  timeout,
		schedule: schedule,
		cron:     cron.New(),
		now:      func() time.Time { return time.Now().UTC() },
		logger:   logger,
	}
}

// Start registers the sweep and starts the scheduler.
func (r *Reconciler) Start(ctx context.Context) error {
	if _, err := r.cron.AddFunc(r.schedule, func() {
		if _, err := r.Reconcile(ctx); err != nil {
			r.logger.Error("reconciling stale documents", "error", err)
		}
	}); err != nil {
		return fmt.Errorf("scheduling reconciler %q: %w", r.schedule, err)
	}
	r.cron.Start()
	r.logger.Info("reconciler started", "schedule", r.schedule, "timeout", r.timeout)
	return nil
}

// Stop halts the scheduler and waits for a running sweep to finish.
func (r *Reconciler) Stop() {
	<-r.cron.Stop().Done()
}

// Reconcile marks every stale processing document failed and returns how many it marked.
func (r *Reconciler) Reconcile(ctx context.Context) (int, error) {
	docs, err := r.store.ListStaleProcessing(ctx, r.now().Add(-r.timeout))
	if err != nil {
		return 0, err
	}

	marked := 0
	for _, d := range docs {
		if err := r.store.MarkDocumentFailed(ctx, d.ID, TimeoutReason); err != nil {
			r.logger.Error("marking stale document failed", "document_id", d.ID, "error", err)
			continue
		}
		r.logger.Warn("document processing timed out", "document_id", d.ID, "last_update", d.UpdatedAt)
		marked++
	}
	return marked, nil
}
