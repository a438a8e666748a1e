package queue

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/judgefinder/judge-sync/pkg/logger"
)

// Worker polls the queue at a fixed interval and processes one job at a
// time. It owns its cancellation and takes an injectable wait function so
// tests drive ticks without real timers.
type Worker struct {
	manager  *Manager
	interval time.Duration
	logger   *logger.Logger

	// wait blocks until the next tick or context cancellation, returning
	// false on cancellation. Replaced in tests.
	wait func(ctx context.Context, d time.Duration) bool

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

func NewWorker(manager *Manager, interval time.Duration, log *logger.Logger) *Worker {
	return &Worker{
		manager:  manager,
		interval: interval,
		logger:   log,
		wait:     sleepWait,
	}
}

func sleepWait(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

// Start launches the polling loop. Calling Start on a running worker is a
// no-op.
func (w *Worker) Start(ctx context.Context) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.cancel != nil {
		return
	}

	runCtx, cancel := context.WithCancel(ctx)
	w.cancel = cancel
	w.done = make(chan struct{})

	go func() {
		defer close(w.done)
		w.logger.Info("Queue worker started", "interval", w.interval.String())
		for {
			// Drain everything due, then sleep one interval.
			for w.RunOnce(runCtx) {
				if runCtx.Err() != nil {
					return
				}
			}
			if !w.wait(runCtx, w.interval) {
				w.logger.Info("Queue worker stopped")
				return
			}
		}
	}()
}

// Stop cancels the loop and blocks until it exits. An in-flight job finishes
// first: cancellation only prevents claiming the next one.
func (w *Worker) Stop() {
	w.mu.Lock()
	cancel, done := w.cancel, w.done
	w.cancel, w.done = nil, nil
	w.mu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}
}

// RunOnce claims and processes at most one job. Returns whether a job was
// processed, so callers can drain the queue.
func (w *Worker) RunOnce(ctx context.Context) bool {
	job, err := w.manager.GetNextJob()
	if err != nil {
		w.logger.Error("Failed to claim job", "error", err)
		return false
	}
	if job == nil {
		return false
	}

	w.logger.Info("Processing job", "job_id", job.ID, "type", job.Type)
	result, err := w.manager.ProcessJob(ctx, job)
	if err != nil {
		retryable := !errors.Is(err, ErrUnknownJobType) && !errors.Is(err, ErrBadOptions)
		if failErr := w.manager.FailJob(job, err, retryable); failErr != nil {
			w.logger.Error("Failed to record job failure", "job_id", job.ID, "error", failErr)
		}
		return true
	}

	if err := w.manager.CompleteJob(job, result); err != nil {
		w.logger.Error("Failed to record job completion", "job_id", job.ID, "error", err)
	}
	return true
}
