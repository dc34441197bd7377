package cli

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/Veraticus/expensetrack/internal/model"
	"github.com/schollz/progressbar/v3"
)

// DefaultWatchInterval is how often a watched job is re-read.
const DefaultWatchInterval = 500 * time.Millisecond

// JobSource reads job state.
type JobSource interface {
	GetJob(ctx context.Context, id string) (*model.ReportGenerationJob, error)
}

// Watcher follows a report job and draws its progress.
type Watcher struct {
	jobs     JobSource
	writer   io.Writer
	bar      *progressbar.ProgressBar
	interval time.Duration
}

// NewWatcher creates a watcher writing to writer.
func NewWatcher(jobs JobSource, writer io.Writer, interval time.Duration) *Watcher {
	if interval <= 0 {
		interval = DefaultWatchInterval
	}
	return &Watcher{jobs: jobs, writer: writer, interval: interval}
}

// Watch polls the job until it reaches a terminal status or ctx ends, and
// returns the last state read.
func (w *Watcher) Watch(ctx context.Context, jobID string) (*model.ReportGenerationJob, error) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	var last *model.ReportGenerationJob
	for {
		job, err := w.jobs.GetJob(ctx, jobID)
		if err != nil {
			return last, fmt.Errorf("failed to read job %s: %w", jobID, err)
		}
		last = job
		w.update(job)

		if job.Status.IsTerminal() {
			w.finish(job)
			return job, nil
		}

		select {
		case <-ctx.Done():
			return last, ctx.Err()
		case <-ticker.C:
		}
	}
}

func (w *Watcher) update(job *model.ReportGenerationJob) {
	if job.TotalLines <= 0 {
		return
	}
	if w.bar == nil {
		w.bar = progressbar.NewOptions(job.TotalLines,
			progressbar.OptionSetWriter(w.writer),
			progressbar.OptionEnableColorCodes(true),
			progressbar.OptionShowCount(),
			progressbar.OptionSetWidth(40),
			progressbar.OptionSetDescription(fmt.Sprintf("[cyan][bold]Report %s[reset]", job.Period)),
			progressbar.OptionSetTheme(progressbar.Theme{
				Saucer:        "[green]=[reset]",
				SaucerHead:    "[green]>[reset]",
				SaucerPadding: " ",
				BarStart:      "[",
				BarEnd:        "]",
			}),
		)
	}
	if job.Status == model.JobCancellationRequested {
		w.bar.Describe("[yellow]Cancelling...[reset]")
	}
	if err := w.bar.Set(job.ProcessedLines); err != nil {
		slog.Debug("Failed to update progress bar", "error", err)
	}
}

func (w *Watcher) finish(job *model.ReportGenerationJob) {
	if w.bar != nil {
		if job.Status == model.JobCompleted {
			_ = w.bar.Finish()
		}
		_, _ = fmt.Fprintln(w.writer)
	}

	var line string
	switch job.Status {
	case model.JobCompleted:
		line = FormatSuccess(fmt.Sprintf("Report for %s completed: %d lines, %d failed", job.Period, job.ProcessedLines, job.FailedLines))
	case model.JobCancelled:
		line = FormatWarning(fmt.Sprintf("Report for %s cancelled after %d of %d lines", job.Period, job.ProcessedLines, job.TotalLines))
	default:
		line = FormatError(fmt.Sprintf("Report for %s failed: %s", job.Period, job.ErrorMessage))
	}
	_, _ = fmt.Fprintln(w.writer, line)
}
