package report

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/Veraticus/expensetrack/internal/categorize"
	"github.com/Veraticus/expensetrack/internal/common"
	"github.com/Veraticus/expensetrack/internal/model"
	"github.com/Veraticus/expensetrack/internal/service"
)

// memStore is an in-memory Store with failure hooks.
type memStore struct {
	loadErr          error
	saveReportErr    error
	onCancelCheck    func(jobID string, calls int)
	onLoad           func()
	onSaveReport     func()
	jobs             map[string]model.ReportGenerationJob
	reports          map[string]model.ExpenseReport
	matches          []model.ConfirmedMatch
	unmatched        []model.Transaction
	progress         []int
	deletedReports   []string
	cancelCheckCalls int
	mu               sync.Mutex
}

var _ Store = (*memStore)(nil)

func newMemStore() *memStore {
	return &memStore{
		jobs:    make(map[string]model.ReportGenerationJob),
		reports: make(map[string]model.ExpenseReport),
	}
}

func (m *memStore) ConfirmedMatchesInPeriod(_ context.Context, _ string, _ model.Period) ([]model.ConfirmedMatch, error) {
	if m.onLoad != nil {
		m.onLoad()
	}
	if m.loadErr != nil {
		return nil, m.loadErr
	}
	return slices.Clone(m.matches), nil
}

func (m *memStore) UnmatchedTransactionsInPeriod(_ context.Context, _ string, _ model.Period) ([]model.Transaction, error) {
	if m.loadErr != nil {
		return nil, m.loadErr
	}
	return slices.Clone(m.unmatched), nil
}

func (m *memStore) SaveReport(_ context.Context, report *model.ExpenseReport) error {
	if m.onSaveReport != nil {
		m.onSaveReport()
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.saveReportErr != nil {
		return m.saveReportErr
	}
	m.reports[report.ID] = *report
	return nil
}

func (m *memStore) GetReport(_ context.Context, id string) (*model.ExpenseReport, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	report, ok := m.reports[id]
	if !ok {
		return nil, common.ErrNotFound
	}
	return &report, nil
}

func (m *memStore) DeleteReport(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.reports[id]; !ok {
		return common.ErrNotFound
	}
	delete(m.reports, id)
	m.deletedReports = append(m.deletedReports, id)
	return nil
}

func (m *memStore) CreateJob(_ context.Context, job *model.ReportGenerationJob) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.jobs[job.ID]; ok {
		return common.ErrDuplicateEntry
	}
	m.jobs[job.ID] = *job
	return nil
}

func (m *memStore) GetJob(_ context.Context, id string) (*model.ReportGenerationJob, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[id]
	if !ok {
		return nil, common.ErrNotFound
	}
	return &job, nil
}

func (m *memStore) ListJobs(_ context.Context, filter service.JobFilter) ([]model.ReportGenerationJob, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var jobs []model.ReportGenerationJob
	for _, job := range m.jobs {
		if filter.Status != "" && job.Status != filter.Status {
			continue
		}
		jobs = append(jobs, job)
	}
	slices.SortFunc(jobs, func(a, b model.ReportGenerationJob) int {
		if a.ID < b.ID {
			return -1
		}
		if a.ID > b.ID {
			return 1
		}
		return 0
	})
	return jobs, nil
}

func (m *memStore) UpdateJob(_ context.Context, job *model.ReportGenerationJob) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.jobs[job.ID] = *job
	return nil
}

func (m *memStore) UpdateProgress(_ context.Context, id string, processed, failed int, eta *time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[id]
	if !ok {
		return common.ErrNotFound
	}
	switch {
	case job.Status == model.JobProcessing || job.Status == model.JobCancellationRequested:
	case job.Status.IsTerminal():
		return fmt.Errorf("job %s is %s: %w", id, job.Status, common.ErrJobFinished)
	default:
		return fmt.Errorf("job %s is %s: %w", id, job.Status, common.ErrInvalidTransition)
	}
	job.ProcessedLines, job.FailedLines, job.EstimatedCompletion = processed, failed, eta
	m.jobs[id] = job
	m.progress = append(m.progress, processed)
	return nil
}

func (m *memStore) IsCancellationRequested(_ context.Context, id string) (bool, error) {
	m.mu.Lock()
	m.cancelCheckCalls++
	calls := m.cancelCheckCalls
	hook := m.onCancelCheck
	m.mu.Unlock()

	if hook != nil {
		hook(id, calls)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[id]
	if !ok {
		return false, common.ErrNotFound
	}
	return job.Status == model.JobCancellationRequested || job.Status == model.JobCancelled, nil
}

func (m *memStore) TransitionJob(_ context.Context, id string, from []model.JobStatus, fn func(*model.ReportGenerationJob)) (*model.ReportGenerationJob, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[id]
	if !ok {
		return nil, common.ErrNotFound
	}
	if !slices.Contains(from, job.Status) {
		current := job
		return &current, fmt.Errorf("job %s is %s: %w", id, job.Status, common.ErrInvalidTransition)
	}
	fn(&job)
	m.jobs[id] = job
	updated := job
	return &updated, nil
}

// setStatus forces a job status, as another process would.
func (m *memStore) setStatus(id string, status model.JobStatus) {
	m.mu.Lock()
	defer m.mu.Unlock()
	job := m.jobs[id]
	job.Status = status
	m.jobs[id] = job
}

// fakeCategorizer returns fixed suggestions, or panics for chosen descriptions.
type fakeCategorizer struct {
	result  model.Categorization
	counts  model.TierCounts
	panicOn map[string]bool
}

func (f *fakeCategorizer) Categorize(_ context.Context, q categorize.Query) (model.Categorization, model.TierCounts) {
	if f.panicOn[q.RawDescription] {
		panic("categorizer exploded")
	}
	return f.result, f.counts
}

type fakeNormalizer struct {
	err error
}

func (f fakeNormalizer) Normalize(_ context.Context, raw, _ string) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	return "NORM " + raw, nil
}

type fakePredictions struct {
	err         error
	predictions map[string]model.Prediction
}

func (f fakePredictions) PredictionsForPeriod(context.Context, string, time.Time, time.Time) (map[string]model.Prediction, error) {
	return f.predictions, f.err
}
