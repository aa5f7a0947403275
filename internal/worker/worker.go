package worker

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/yangwenmai/labnotebook/internal/model"
	"github.com/yangwenmai/labnotebook/internal/store"
)

// InterruptedReason is recorded on entries found running at startup.
const InterruptedReason = "interrupted"

// Executor runs one entry to completion.
type Executor interface {
	Execute(ctx context.Context, id string) (*model.Entry, error)
}

// Queue provides atomic claim and completion of queued executions.
type Queue interface {
	ClaimNextExecution(ctx context.Context) (*store.QueuedExecution, error)
	FinishExecution(ctx context.Context, id int64, errText *string) error
	RequeueClaimed(ctx context.Context) (int64, error)
	FailStaleRunning(ctx context.Context, reason string) (int64, error)
}

// Worker polls the execution queue and runs claimed entries with a bounded
// number of goroutines.
type Worker struct {
	queue       Queue
	executor    Executor
	interval    time.Duration
	concurrency int
	log         *slog.Logger
}

// New creates a new Worker. concurrency below 1 is treated as 1.
func New(queue Queue, executor Executor, interval time.Duration, concurrency int, log *slog.Logger) *Worker {
	if concurrency < 1 {
		concurrency = 1
	}
	if log == nil {
		log = slog.Default()
	}
	return &Worker{queue: queue, executor: executor, interval: interval, concurrency: concurrency, log: log}
}

// Recover marks entries left running by a previous process as failed and
// puts their claimed queue rows back.
func (w *Worker) Recover(ctx context.Context) error {
	failed, err := w.queue.FailStaleRunning(ctx, InterruptedReason)
	if err != nil {
		return err
	}
	requeued, err := w.queue.RequeueClaimed(ctx)
	if err != nil {
		return err
	}
	if failed > 0 || requeued > 0 {
		w.log.Warn("recovered interrupted executions", "failed", failed, "requeued", requeued)
	}
	return nil
}

// Start recovers interrupted work and runs the polling loops. It blocks
// until ctx is cancelled.
func (w *Worker) Start(ctx context.Context) error {
	if err := w.Recover(ctx); err != nil {
		return err
	}
	w.log.Info("worker started", "interval", w.interval.String(), "concurrency", w.concurrency)

	g, ctx := errgroup.WithContext(ctx)
	for i := range w.concurrency {
		g.Go(func() error {
			w.loop(ctx, i)
			return nil
		})
	}
	err := g.Wait()
	w.log.Info("worker stopped")
	return err
}

func (w *Worker) loop(ctx context.Context, slot int) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		processed, err := w.RunOnce(ctx)
		if err != nil {
			w.log.Error("worker claim error", "slot", slot, "error", err)
		}
		if !processed {
			w.sleep(ctx)
		}
	}
}

// RunOnce claims and executes at most one queued entry. It reports whether
// an entry was claimed.
func (w *Worker) RunOnce(ctx context.Context) (bool, error) {
	job, err := w.queue.ClaimNextExecution(ctx)
	if err != nil {
		return false, err
	}
	if job == nil {
		return false, nil
	}

	w.log.Info("processing queued entry", "queue_id", job.ID, "entry_id", job.EntryID)
	var errText *string
	if _, err := w.executor.Execute(ctx, job.EntryID); err != nil {
		w.log.Error("queued execution failed", "entry_id", job.EntryID, "error", err)
		msg := err.Error()
		errText = &msg
	}
	if err := w.queue.FinishExecution(context.WithoutCancel(ctx), job.ID, errText); err != nil {
		w.log.Error("failed to finish queued execution", "queue_id", job.ID, "error", err)
	}
	return true, nil
}

func (w *Worker) sleep(ctx context.Context) {
	select {
	case <-ctx.Done():
	case <-time.After(w.interval):
	}
}
