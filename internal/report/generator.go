// Package report assembles expense reports through cancellable,
// progress-tracked generation jobs.
//
// A job moves Pending -> Processing -> Completed, Failed or Cancelled.
// CancellationRequested marks a running job that should stop at its next
// checkpoint. Every status write is a compare-and-set against the job store,
// so a cancellation is never overwritten by a failure surfacing later.
package report

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	"github.com/Veraticus/expensetrack/internal/categorize"
	"github.com/Veraticus/expensetrack/internal/common"
	"github.com/Veraticus/expensetrack/internal/model"
	"github.com/Veraticus/expensetrack/internal/service"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Defaults for Config.
const (
	DefaultProgressEveryLines    = 10
	DefaultProgressInterval      = 5 * time.Second
	DefaultCancelCheckEveryLines = 1
)

// DefaultReceiptThreshold is the amount below which a missing receipt is acceptable.
var DefaultReceiptThreshold = decimal.NewFromInt(75)

// Store is the persistence the generator needs.
type Store interface {
	ConfirmedMatchesInPeriod(ctx context.Context, userID string, period model.Period) ([]model.ConfirmedMatch, error)
	UnmatchedTransactionsInPeriod(ctx context.Context, userID string, period model.Period) ([]model.Transaction, error)
	service.ReportStore
	service.JobStore
}

// Categorizer suggests codes for one line.
type Categorizer interface {
	Categorize(ctx context.Context, q categorize.Query) (model.Categorization, model.TierCounts)
}

// Config tunes report generation.
type Config struct {
	ReceiptThreshold      decimal.Decimal
	ProgressInterval      time.Duration
	ProgressEveryLines    int
	CancelCheckEveryLines int
}

// DefaultConfig returns the standard settings.
func DefaultConfig() Config {
	return Config{
		ReceiptThreshold:      DefaultReceiptThreshold,
		ProgressInterval:      DefaultProgressInterval,
		ProgressEveryLines:    DefaultProgressEveryLines,
		CancelCheckEveryLines: DefaultCancelCheckEveryLines,
	}
}

// Validate checks the configuration.
func (c Config) Validate() error {
	if c.ReceiptThreshold.IsNegative() {
		return fmt.Errorf("%w: receipt threshold must not be negative", common.ErrInvalidConfig)
	}
	if c.ProgressEveryLines <= 0 {
		return fmt.Errorf("%w: progress_every_lines must be positive, got %d", common.ErrInvalidConfig, c.ProgressEveryLines)
	}
	if c.ProgressInterval <= 0 {
		return fmt.Errorf("%w: progress_interval must be positive, got %s", common.ErrInvalidConfig, c.ProgressInterval)
	}
	if c.CancelCheckEveryLines <= 0 {
		return fmt.Errorf("%w: cancel_check_every_lines must be positive, got %d", common.ErrInvalidConfig, c.CancelCheckEveryLines)
	}
	return nil
}

// Generator creates and runs report generation jobs.
type Generator struct {
	store       Store
	categorizer Categorizer
	normalizer  service.Normalizer
	predictions service.PredictionSource
	now         func() time.Time
	newID       func() string
	cfg         Config
}

// Option configures a Generator.
type Option func(*Generator)

// WithNormalizer sets the description normalizer.
func WithNormalizer(n service.Normalizer) Option {
	return func(g *Generator) { g.normalizer = n }
}

// WithPredictions sets the pattern prediction source.
func WithPredictions(p service.PredictionSource) Option {
	return func(g *Generator) { g.predictions = p }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(g *Generator) { g.now = now }
}

// WithIDGenerator overrides identifier generation.
func WithIDGenerator(newID func() string) Option {
	return func(g *Generator) { g.newID = newID }
}

// NewGenerator creates a generator.
func NewGenerator(store Store, categorizer Categorizer, cfg Config, opts ...Option) (*Generator, error) {
	if store == nil {
		return nil, fmt.Errorf("%w: report store is required", common.ErrMissingConfig)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	g := &Generator{
		store:       store,
		categorizer: categorizer,
		cfg:         cfg,
		now:         time.Now,
		newID:       uuid.NewString,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g, nil
}

// CreateJob records a pending job for userID and period.
func (g *Generator) CreateJob(ctx context.Context, userID string, period model.Period) (*model.ReportGenerationJob, error) {
	if period.IsZero() {
		return nil, common.NewUserError("a report period is required", common.ErrInvalidConfig)
	}

	now := g.now().UTC()
	job := &model.ReportGenerationJob{
		ID:        g.newID(),
		UserID:    userID,
		Period:    period,
		Status:    model.JobPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := g.store.CreateJob(ctx, job); err != nil {
		return nil, fmt.Errorf("failed to create report job: %w", err)
	}

	slog.Info("Created report job", "job_id", job.ID, "user_id", userID, "period", period.String())
	return job, nil
}

// RequestCancellation asks a job to stop. A pending job is cancelled at once;
// a running job is flagged and stops at its next checkpoint.
func (g *Generator) RequestCancellation(ctx context.Context, jobID string) (*model.ReportGenerationJob, error) {
	job, err := g.store.TransitionJob(ctx, jobID, []model.JobStatus{model.JobPending}, func(j *model.ReportGenerationJob) {
		completed := g.now().UTC()
		j.Status = model.JobCancelled
		j.CompletedAt = &completed
		j.ErrorMessage = "cancelled before start"
	})
	if err == nil {
		slog.Info("Cancelled pending report job", "job_id", jobID)
		return job, nil
	}
	if !errors.Is(err, common.ErrInvalidTransition) {
		return nil, fmt.Errorf("failed to cancel job: %w", err)
	}

	job, err = g.store.TransitionJob(ctx, jobID, []model.JobStatus{model.JobProcessing}, func(j *model.ReportGenerationJob) {
		j.Status = model.JobCancellationRequested
	})
	if err == nil {
		slog.Info("Requested cancellation of running report job", "job_id", jobID)
		return job, nil
	}
	if !errors.Is(err, common.ErrInvalidTransition) {
		return nil, fmt.Errorf("failed to cancel job: %w", err)
	}

	switch {
	case job.Status == model.JobCancellationRequested:
		return job, nil
	case job.Status.IsTerminal():
		return job, fmt.Errorf("job %s is %s: %w", jobID, job.Status, common.ErrJobFinished)
	default:
		return job, err
	}
}

// jobRun is the state of one job execution. Nothing in it is shared
// between jobs.
type jobRun struct {
	job       *model.ReportGenerationJob
	tracker   *ProgressTracker
	report    *model.ExpenseReport
	processed int
	failed    int
}

// Run executes a pending job to completion. It returns the job's final state.
// The returned error is non-nil only when the job could not be run or its
// final state could not be recorded; a job that ends Failed or Cancelled is
// reported through its status.
func (g *Generator) Run(ctx context.Context, jobID string) (*model.ReportGenerationJob, error) {
	job, err := g.store.TransitionJob(ctx, jobID, []model.JobStatus{model.JobPending}, func(j *model.ReportGenerationJob) {
		started := g.now().UTC()
		j.Status = model.JobProcessing
		j.StartedAt = &started
	})
	if err != nil {
		if errors.Is(err, common.ErrInvalidTransition) && job != nil {
			if job.Status == model.JobCancelled {
				slog.Info("Report job was cancelled before it started", "job_id", jobID)
				return job, nil
			}
			if job.Status.IsTerminal() {
				return job, fmt.Errorf("job %s is %s: %w", jobID, job.Status, common.ErrJobFinished)
			}
		}
		return job, fmt.Errorf("failed to start job: %w", err)
	}

	slog.Info("Starting report job",
		"job_id", job.ID,
		"user_id", job.UserID,
		"period", job.Period.String())

	run := &jobRun{job: job}
	return g.execute(ctx, run)
}

// execute runs the job body and records its terminal state.
func (g *Generator) execute(ctx context.Context, run *jobRun) (job *model.ReportGenerationJob, err error) {
	// Terminal writes must land even if ctx was cancelled.
	finalCtx := context.WithoutCancel(ctx)

	defer func() {
		if r := recover(); r != nil {
			job, err = g.fail(finalCtx, run, fmt.Errorf("report generation panicked: %v", r), string(debug.Stack()))
		}
	}()

	cancelled, err := g.process(ctx, run)
	if cancelled || (err != nil && ctx.Err() != nil) {
		return g.finalizeCancelled(finalCtx, run)
	}
	if err != nil {
		return g.fail(finalCtx, run, err, fmt.Sprintf("%+v", err))
	}
	return g.complete(finalCtx, run)
}

// process loads the period's data and assembles every line. It reports
// whether the job was cancelled along the way.
func (g *Generator) process(ctx context.Context, run *jobRun) (bool, error) {
	job := run.job

	if g.cancelled(ctx, job.ID) {
		return true, nil
	}

	matches, err := g.store.ConfirmedMatchesInPeriod(ctx, job.UserID, job.Period)
	if err != nil {
		return false, fmt.Errorf("failed to load confirmed matches: %w", err)
	}
	unmatched, err := g.store.UnmatchedTransactionsInPeriod(ctx, job.UserID, job.Period)
	if err != nil {
		return false, fmt.Errorf("failed to load unmatched transactions: %w", err)
	}

	items := make([]workItem, 0, len(matches)+len(unmatched))
	for i := range matches {
		items = append(items, workItem{match: &matches[i]})
	}
	for i := range unmatched {
		items = append(items, workItem{txn: &unmatched[i]})
	}

	if len(items) == 0 {
		return false, fmt.Errorf("%w for period %s", common.ErrNoTransactions, job.Period)
	}

	updated, err := g.store.TransitionJob(ctx, job.ID, []model.JobStatus{model.JobProcessing, model.JobCancellationRequested}, func(j *model.ReportGenerationJob) {
		j.TotalLines = len(items)
		j.ProcessedLines = 0
		j.FailedLines = 0
	})
	if err != nil {
		if errors.Is(err, common.ErrInvalidTransition) {
			return true, nil
		}
		return false, fmt.Errorf("failed to record job totals: %w", err)
	}
	run.job = updated

	slog.Info("Assembling report lines",
		"job_id", job.ID,
		"confirmed_matches", len(matches),
		"unmatched_transactions", len(unmatched))

	predictions := g.fetchPredictions(ctx, job)

	run.tracker = NewProgressTracker(len(items), g.cfg.ProgressEveryLines, g.cfg.ProgressInterval, g.now)
	run.report = &model.ExpenseReport{
		ID:        g.newID(),
		UserID:    job.UserID,
		JobID:     job.ID,
		Period:    job.Period,
		Status:    model.ReportDraft,
		CreatedAt: g.now().UTC(),
		Lines:     make([]model.ExpenseLine, 0, len(items)),
	}

	for i, item := range items {
		if i%g.cfg.CancelCheckEveryLines == 0 && g.cancelled(ctx, job.ID) {
			return true, nil
		}

		number := i + 1
		line, counts, lineErr := g.safeBuildLine(ctx, job.UserID, run.report.ID, number, item, predictions)
		if lineErr != nil {
			slog.Warn("Failed to assemble report line, emitting fallback",
				"job_id", job.ID,
				"line", number,
				"error", lineErr)
			line = g.fallbackLine(run.report.ID, number, item)
			counts = model.TierCounts{}
			run.failed++
		}
		run.report.Lines = append(run.report.Lines, line)
		run.report.TierCounts = run.report.TierCounts.Add(counts)
		run.processed++

		if run.processed < len(items) && run.tracker.Due(run.processed) {
			if g.cancelled(ctx, job.ID) {
				return true, nil
			}
			if stop, err := g.checkpoint(ctx, run, run.tracker.EstimatedCompletion(run.processed)); stop || err != nil {
				return stop, err
			}
		}
	}

	if g.cancelled(ctx, job.ID) {
		return true, nil
	}
	if stop, err := g.checkpoint(ctx, run, nil); stop || err != nil {
		return stop, err
	}

	aggregate(run.report)
	return false, nil
}

// checkpoint persists progress. It reports stop when the job has left the
// running states.
func (g *Generator) checkpoint(ctx context.Context, run *jobRun, eta *time.Time) (bool, error) {
	err := g.store.UpdateProgress(ctx, run.job.ID, run.processed, run.failed, eta)
	run.tracker.Mark()
	if err == nil {
		run.job.ProcessedLines = run.processed
		run.job.FailedLines = run.failed
		run.job.EstimatedCompletion = eta
		return false, nil
	}
	if errors.Is(err, common.ErrJobFinished) || errors.Is(err, common.ErrInvalidTransition) {
		return true, nil
	}
	if ctx.Err() != nil {
		return true, nil
	}
	return false, fmt.Errorf("failed to update progress: %w", err)
}

// cancelled consults the context and the persisted cancellation flag.
func (g *Generator) cancelled(ctx context.Context, jobID string) bool {
	if ctx.Err() != nil {
		return true
	}
	requested, err := g.store.IsCancellationRequested(ctx, jobID)
	if err != nil {
		slog.Warn("Failed to read cancellation flag", "job_id", jobID, "error", err)
		return false
	}
	return requested
}

// fetchPredictions loads pattern predictions. Failures yield none.
func (g *Generator) fetchPredictions(ctx context.Context, job *model.ReportGenerationJob) (predictions map[string]model.Prediction) {
	if g.predictions == nil {
		return nil
	}
	defer func() {
		if r := recover(); r != nil {
			slog.Warn("Prediction source panicked, continuing without predictions", "job_id", job.ID, "panic", r)
			predictions = nil
		}
	}()

	predictions, err := g.predictions.PredictionsForPeriod(ctx, job.UserID, job.Period.Start(), job.Period.End())
	if err != nil {
		slog.Warn("Failed to load predictions, continuing without them", "job_id", job.ID, "error", err)
		return nil
	}
	return predictions
}

// complete persists the report and links it to the job.
func (g *Generator) complete(ctx context.Context, run *jobRun) (*model.ReportGenerationJob, error) {
	report := run.report
	if err := g.store.SaveReport(ctx, report); err != nil {
		return g.fail(ctx, run, fmt.Errorf("failed to save report: %w", err), "")
	}

	job, err := g.store.TransitionJob(ctx, run.job.ID, []model.JobStatus{model.JobProcessing}, func(j *model.ReportGenerationJob) {
		completed := g.now().UTC()
		j.Status = model.JobCompleted
		j.CompletedAt = &completed
		j.EstimatedCompletion = nil
		j.ProcessedLines = run.processed
		j.FailedLines = run.failed
		j.ReportID = &report.ID
	})
	if err != nil {
		g.discardReport(ctx, report.ID)
		if errors.Is(err, common.ErrInvalidTransition) {
			return g.finalizeCancelled(ctx, run)
		}
		return job, fmt.Errorf("failed to complete job: %w", err)
	}

	slog.Info("Report job completed",
		"job_id", job.ID,
		"report_id", report.ID,
		"lines", report.LineCount,
		"failed_lines", report.FailedLineCount,
		"total", report.TotalAmount.StringFixed(2))
	return job, nil
}

// fail marks the job Failed unless it has been cancelled meanwhile.
func (g *Generator) fail(ctx context.Context, run *jobRun, cause error, details string) (*model.ReportGenerationJob, error) {
	job, err := g.store.TransitionJob(ctx, run.job.ID, []model.JobStatus{model.JobProcessing}, func(j *model.ReportGenerationJob) {
		completed := g.now().UTC()
		j.Status = model.JobFailed
		j.CompletedAt = &completed
		j.EstimatedCompletion = nil
		j.ErrorMessage = cause.Error()
		j.ErrorDetails = details
		j.ProcessedLines = run.processed
		j.FailedLines = run.failed
	})
	if err != nil {
		if errors.Is(err, common.ErrInvalidTransition) && job != nil {
			if job.Status == model.JobCancellationRequested {
				return g.finalizeCancelled(ctx, run)
			}
			if job.Status.IsTerminal() {
				return job, nil
			}
		}
		return job, fmt.Errorf("failed to record job failure (%v): %w", cause, err)
	}

	slog.Error("Report job failed", "job_id", job.ID, "error", cause)
	return job, nil
}

// finalizeCancelled marks the job Cancelled.
func (g *Generator) finalizeCancelled(ctx context.Context, run *jobRun) (*model.ReportGenerationJob, error) {
	from := []model.JobStatus{model.JobPending, model.JobProcessing, model.JobCancellationRequested}
	job, err := g.store.TransitionJob(ctx, run.job.ID, from, func(j *model.ReportGenerationJob) {
		completed := g.now().UTC()
		j.Status = model.JobCancelled
		j.CompletedAt = &completed
		j.EstimatedCompletion = nil
		j.ProcessedLines = run.processed
		j.FailedLines = run.failed
		j.ReportID = nil
	})
	if err != nil {
		if errors.Is(err, common.ErrInvalidTransition) && job != nil && job.Status.IsTerminal() {
			return job, nil
		}
		return job, fmt.Errorf("failed to record job cancellation: %w", err)
	}

	slog.Info("Report job cancelled", "job_id", job.ID, "processed_lines", run.processed)
	return job, nil
}

func (g *Generator) discardReport(ctx context.Context, reportID string) {
	if err := g.store.DeleteReport(ctx, reportID); err != nil && !errors.Is(err, common.ErrNotFound) {
		slog.Warn("Failed to discard report of unfinished job", "report_id", reportID, "error", err)
	}
}
