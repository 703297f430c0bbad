package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/omj-erie/omjsite/internal/storage"
)

// JobProcessDocument is the job type that runs ProcessDocument.
const JobProcessDocument = "process_document"

// JobQueue abstracts the job queue operations.
type JobQueue interface {
	EnqueueJob(job storage.Job) error
	ClaimNextJob(types []string) (*storage.Job, error)
	CompleteJob(id string) error
	FailJob(id string, errMsg string) error
}

// Processor ingests one document.
type Processor interface {
	ProcessDocument(ctx context.Context, documentID string) Result
}

type processPayload struct {
	DocumentID string `json:"document_id"`
}

// Enqueue schedules ingestion of a document and returns the job id.
// Ingestion is never retried automatically: a failed document waits for an
// explicit reprocess.
func Enqueue(q JobQueue, documentID string) (string, error) {
	payload, err := json.Marshal(processPayload{DocumentID: documentID})
	if err != nil {
		return "", err
	}
	job := storage.Job{
		ID:          uuid.NewString(),
		Type:        JobProcessDocument,
		PayloadJSON: string(payload),
		MaxAttempts: 1,
	}
	if err := q.EnqueueJob(job); err != nil {
		return "", err
	}
	return job.ID, nil
}

// Worker processes process_document jobs from the SQLite job queue.
type Worker struct {
	queue  JobQueue
	proc   Processor
	poll   time.Duration
	logger *slog.Logger
}

// NewWorker creates a Worker. If pollInterval is <= 0, it defaults to 500ms.
func NewWorker(queue JobQueue, proc Processor, pollInterval time.Duration) *Worker {
	if pollInterval <= 0 {
		pollInterval = 500 * time.Millisecond
	}
	return &Worker{queue: queue, proc: proc, poll: pollInterval, logger: slog.Default()}
}

// RunN runs n polling loops concurrently and blocks until ctx is cancelled.
func (w *Worker) RunN(ctx context.Context, n int) {
	if n < 1 {
		n = 1
	}
	var wg sync.WaitGroup
	for range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			w.Run(ctx)
		}()
	}
	wg.Wait()
}

// Run polls for jobs until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}

		done, err := w.RunOnce(ctx)
		if err != nil {
			w.logger.Error("worker iteration failed", "error", err)
		}
		if done {
			continue
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(w.poll):
		}
	}
}

// RunOnce claims and processes a single job.
// Returns true if a job was processed (regardless of success/failure).
func (w *Worker) RunOnce(ctx context.Context) (bool, error) {
	job, err := w.queue.ClaimNextJob([]string{JobProcessDocument})
	if err != nil {
		return false, fmt.Errorf("claiming job: %w", err)
	}
	if job == nil {
		return false, nil
	}

	if err := w.processJob(ctx, job); err != nil {
		w.logger.Warn("job failed", "job_id", job.ID, "error", err)
		if failErr := w.queue.FailJob(job.ID, err.Error()); failErr != nil {
			w.logger.Error("failed to mark job as failed", "job_id", job.ID, "error", failErr)
		}
		return true, nil
	}

	if err := w.queue.CompleteJob(job.ID); err != nil {
		return true, fmt.Errorf("completing job %s: %w", job.ID, err)
	}
	return true, nil
}

func (w *Worker) processJob(ctx context.Context, job *storage.Job) error {
	var payload processPayload
	if err := json.Unmarshal([]byte(job.PayloadJSON), &payload); err != nil {
		return fmt.Errorf("parsing payload: %w", err)
	}
	if payload.DocumentID == "" {
		return errors.New("payload has no document_id")
	}

	res := w.proc.ProcessDocument(ctx, payload.DocumentID)
	if res.InProgress {
		w.logger.Info("document claimed by another run, dropping job", "job_id", job.ID, "document_id", payload.DocumentID)
		return nil
	}
	if !res.Success {
		return fmt.Errorf("%s: %s", res.Stage, res.Error)
	}
	return nil
}
