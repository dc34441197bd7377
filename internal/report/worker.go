package report

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/Veraticus/expensetrack/internal/common"
	"github.com/Veraticus/expensetrack/internal/model"
	"github.com/Veraticus/expensetrack/internal/service"
	"golang.org/x/sync/errgroup"
)

// Worker defaults.
const (
	DefaultConcurrency  = 2
	DefaultPollInterval = 2 * time.Second
)

// JobRunner runs a single job.
type JobRunner interface {
	Run(ctx context.Context, jobID string) (*model.ReportGenerationJob, error)
}

// Worker polls for pending jobs and runs up to concurrency of them at once.
// Each job runs under its own context so it can be cancelled individually.
type Worker struct {
	runner       JobRunner
	jobs         service.JobStore
	running      map[string]context.CancelFunc
	concurrency  int
	pollInterval time.Duration
	mu           sync.Mutex
}

// NewWorker creates a worker.
func NewWorker(runner JobRunner, jobs service.JobStore, concurrency int, pollInterval time.Duration) *Worker {
	if concurrency <= 0 {
		concurrency = DefaultConcurrency
	}
	if pollInterval <= 0 {
		pollInterval = DefaultPollInterval
	}
	return &Worker{
		runner:       runner,
		jobs:         jobs,
		running:      make(map[string]context.CancelFunc),
		concurrency:  concurrency,
		pollInterval: pollInterval,
	}
}

// Run polls until ctx is cancelled, then waits for running jobs to stop.
// Cancelling ctx cancels every running job.
func (w *Worker) Run(ctx context.Context) error {
	var g errgroup.Group
	g.SetLimit(w.concurrency)

	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()

	slog.Info("Report worker started", "concurrency", w.concurrency, "poll_interval", w.pollInterval)
	for {
		if err := w.dispatch(ctx, &g); err != nil {
			slog.Warn("Failed to poll for pending jobs", "error", err)
		}

		select {
		case <-ctx.Done():
			err := g.Wait()
			slog.Info("Report worker stopped")
			return err
		case <-ticker.C:
		}
	}
}

// RunPending runs the jobs pending right now and waits for them to finish.
// It returns the number of jobs started.
func (w *Worker) RunPending(ctx context.Context) (int, error) {
	var g errgroup.Group
	g.SetLimit(w.concurrency)

	started, err := w.dispatchBlocking(ctx, &g)
	if waitErr := g.Wait(); err == nil {
		err = waitErr
	}
	return started, err
}

// Cancel stops a job running in this worker. It reports whether the job was found.
func (w *Worker) Cancel(jobID string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()

	cancel, ok := w.running[jobID]
	if ok {
		cancel()
	}
	return ok
}

// Running returns the ids of jobs currently running in this worker.
func (w *Worker) Running() []string {
	w.mu.Lock()
	defer w.mu.Unlock()

	ids := make([]string, 0, len(w.running))
	for id := range w.running {
		ids = append(ids, id)
	}
	return ids
}

// dispatch starts pending jobs while capacity is free.
func (w *Worker) dispatch(ctx context.Context, g *errgroup.Group) error {
	pending, err := w.pending(ctx)
	if err != nil {
		return err
	}

	for _, job := range pending {
		jobCtx, ok := w.register(ctx, job.ID)
		if !ok {
			continue
		}
		if !g.TryGo(w.task(jobCtx, job.ID)) {
			w.unregister(job.ID)
			break
		}
	}
	return nil
}

// dispatchBlocking starts every pending job, waiting for capacity as needed.
func (w *Worker) dispatchBlocking(ctx context.Context, g *errgroup.Group) (int, error) {
	pending, err := w.pending(ctx)
	if err != nil {
		return 0, err
	}

	started := 0
	for _, job := range pending {
		if ctx.Err() != nil {
			return started, ctx.Err()
		}
		jobCtx, ok := w.register(ctx, job.ID)
		if !ok {
			continue
		}
		g.Go(w.task(jobCtx, job.ID))
		started++
	}
	return started, nil
}

func (w *Worker) pending(ctx context.Context) ([]model.ReportGenerationJob, error) {
	jobs, err := w.jobs.ListJobs(ctx, service.JobFilter{Status: model.JobPending})
	if err != nil {
		return nil, fmt.Errorf("failed to list pending jobs: %w", err)
	}
	return jobs, nil
}

// task runs one job. Job errors are logged, never returned, so one job
// cannot stop the others.
func (w *Worker) task(ctx context.Context, jobID string) func() error {
	return func() error {
		defer w.unregister(jobID)

		job, err := w.runner.Run(ctx, jobID)
		switch {
		case errors.Is(err, common.ErrInvalidTransition), errors.Is(err, common.ErrJobFinished):
			slog.Debug("Report job already taken", "job_id", jobID, "error", err)
		case err != nil:
			slog.Error("Report job did not finish cleanly", "job_id", jobID, "error", err)
		case job != nil:
			slog.Info("Report job finished", "job_id", jobID, "status", job.Status)
		}
		return nil
	}
}

func (w *Worker) register(ctx context.Context, jobID string) (context.Context, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if _, ok := w.running[jobID]; ok {
		return nil, false
	}
	jobCtx, cancel := context.WithCancel(ctx)
	w.running[jobID] = cancel
	return jobCtx, true
}

func (w *Worker) unregister(jobID string) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if cancel, ok := w.running[jobID]; ok {
		cancel()
		delete(w.running, jobID)
	}
}
