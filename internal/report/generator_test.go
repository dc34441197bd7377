package report

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Veraticus/expensetrack/internal/common"
	"github.com/Veraticus/expensetrack/internal/model"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testUser = "user-1"

var (
	june     = model.Period{Year: 2025, Month: time.June}
	testTime = time.Date(2025, time.July, 2, 9, 0, 0, 0, time.UTC)
)

func date(day int) time.Time {
	return time.Date(2025, time.June, day, 0, 0, 0, 0, time.UTC)
}

func unmatchedTxn(id, description, amount string, day int) model.Transaction {
	return model.Transaction{
		ID:          id,
		UserID:      testUser,
		Date:        date(day),
		Amount:      decimal.RequireFromString(amount),
		Description: description,
		MatchFlag:   model.FlagUnmatched,
	}
}

func confirmed(matchID string, target model.MatchTarget, vendor, description, amount string, day int, members ...string) model.ConfirmedMatch {
	receiptDate := date(day)
	total := decimal.RequireFromString(amount)
	return model.ConfirmedMatch{
		Match: model.Match{ID: matchID, ReceiptID: "r-" + matchID, Target: target, Status: model.MatchConfirmed},
		Receipt: model.Receipt{
			ID:     "r-" + matchID,
			UserID: testUser,
			Extraction: model.ExtractionResult{
				VendorName:      vendor,
				TotalAmount:     &total,
				TransactionDate: &receiptDate,
			},
		},
		Candidate: model.Candidate{Target: target, Date: date(day), Amount: total, Description: description},
		MemberIDs: members,
	}
}

func sequentialIDs() func() string {
	var n atomic.Int64
	return func() string {
		return fmt.Sprintf("id-%d", n.Add(1))
	}
}

func glAlias() *fakeCategorizer {
	return &fakeCategorizer{
		result: model.Categorization{
			GL: &model.Suggestion{Code: "6300", Source: model.SourceAlias, Tier: model.TierAlias, Reference: "a1", Confidence: 100},
		},
		counts: model.TierCounts{Tier1: 1},
	}
}

func newTestGenerator(t *testing.T, store *memStore, categorizer Categorizer, opts ...Option) *Generator {
	t.Helper()
	base := []Option{
		WithClock(func() time.Time { return testTime }),
		WithIDGenerator(sequentialIDs()),
		WithNormalizer(fakeNormalizer{}),
	}
	g, err := NewGenerator(store, categorizer, DefaultConfig(), append(base, opts...)...)
	require.NoError(t, err)
	return g
}

func createJob(t *testing.T, g *Generator) *model.ReportGenerationJob {
	t.Helper()
	job, err := g.CreateJob(context.Background(), testUser, june)
	require.NoError(t, err)
	require.Equal(t, model.JobPending, job.Status)
	return job
}

func TestRun_CompletesReport(t *testing.T) {
	store := newMemStore()
	store.matches = []model.ConfirmedMatch{
		confirmed("m1", model.TransactionTarget{TransactionID: "t-delta"}, "Delta Airlines", "DELTA AIR 04928", "450.00", 1),
		confirmed("m2", model.GroupTarget{GroupID: "g-hotel"}, "", "MARRIOTT BOSTON", "300.00", 3, "t-h1", "t-h2"),
	}
	store.unmatched = []model.Transaction{
		unmatchedTxn("t-small", "STARBUCKS 1123", "-20.00", 5),
		unmatchedTxn("t-big", "HERTZ RENT A CAR", "120.00", 9),
	}
	predictions := fakePredictions{predictions: map[string]model.Prediction{
		"t-small": {ID: "p1:t-small", TransactionID: "t-small", PatternID: "p1", Department: "SALES", Confidence: 80},
		"t-h2":    {ID: "p2:t-h2", TransactionID: "t-h2", PatternID: "p2", GLCode: "9999", Department: "OPS", Confidence: 90},
	}}

	g := newTestGenerator(t, store, glAlias(), WithPredictions(predictions))
	job := createJob(t, g)

	final, err := g.Run(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, model.JobCompleted, final.Status)
	assert.Equal(t, 4, final.TotalLines)
	assert.Equal(t, 4, final.ProcessedLines)
	assert.Equal(t, 0, final.FailedLines)
	require.NotNil(t, final.ReportID)
	require.NotNil(t, final.StartedAt)
	require.NotNil(t, final.CompletedAt)
	assert.Nil(t, final.EstimatedCompletion)

	report, err := store.GetReport(context.Background(), *final.ReportID)
	require.NoError(t, err)
	assert.Equal(t, job.ID, report.JobID)
	assert.Equal(t, model.ReportDraft, report.Status)
	require.Len(t, report.Lines, 4)
	assert.Equal(t, final.TotalLines, report.LineCount)

	delta := report.Lines[0]
	assert.Equal(t, 1, delta.LineNumber)
	assert.Equal(t, report.ID+"-0001", delta.ID)
	assert.True(t, delta.HasReceipt)
	assert.Equal(t, "t-delta", delta.TransactionID)
	assert.Equal(t, "m1", delta.MatchID)
	assert.Equal(t, "Delta Airlines", delta.Vendor)
	assert.Equal(t, "NORM DELTA AIR 04928", delta.NormalizedDescription)
	assert.Equal(t, "6300", delta.GLCode)
	assert.Equal(t, model.SourceAlias, delta.GLSource)
	assert.Equal(t, model.TierAlias, delta.GLTier)
	assert.True(t, delta.NeedsReview, "no department")
	assert.Equal(t, model.JustificationNone, delta.Justification)

	hotel := report.Lines[1]
	assert.Equal(t, "g-hotel", hotel.GroupID)
	assert.Empty(t, hotel.TransactionID)
	assert.Equal(t, "NORM MARRIOTT BOSTON", hotel.Vendor, "falls back to the normalized description")
	// The alias GL wins; the member prediction only fills the department.
	assert.Equal(t, "6300", hotel.GLCode)
	assert.Equal(t, "OPS", hotel.DepartmentCode)
	assert.Equal(t, model.SourcePrediction, hotel.DepartmentSource)
	assert.True(t, hotel.AutoSuggested)
	assert.Equal(t, "p2:t-h2", hotel.PredictionID)
	assert.False(t, hotel.NeedsReview)

	small := report.Lines[2]
	assert.False(t, small.HasReceipt)
	assert.Equal(t, model.JustificationBelowThreshold, small.Justification)
	assert.True(t, small.Amount.Equal(decimal.RequireFromString("20.00")))
	assert.Equal(t, "SALES", small.DepartmentCode)
	assert.Equal(t, "p1:t-small", small.PredictionID)

	big := report.Lines[3]
	assert.Equal(t, model.JustificationMissingReceipt, big.Justification)
	assert.Equal(t, 4, big.LineNumber)

	assert.True(t, report.TotalAmount.Equal(decimal.RequireFromString("890.00")), report.TotalAmount.String())
	assert.Equal(t, 2, report.MissingReceiptCount)
	assert.Equal(t, model.TierCounts{Tier1: 4}, report.TierCounts)
	assert.Equal(t, []int{4}, store.progress)
}

func TestRun_NoTransactionsFails(t *testing.T) {
	store := newMemStore()
	g := newTestGenerator(t, store, glAlias())
	job := createJob(t, g)

	final, err := g.Run(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, model.JobFailed, final.Status)
	assert.Equal(t, "no transactions found for period 2025-06", final.ErrorMessage)
	assert.Nil(t, final.ReportID)
	assert.Empty(t, store.reports)
}

func TestRun_LineFailureIsolated(t *testing.T) {
	store := newMemStore()
	broken := confirmed("m-broken", model.TransactionTarget{TransactionID: "t1"}, "Hilton", "HILTON", "210.00", 2)
	broken.Match.Target = nil
	store.matches = []model.ConfirmedMatch{broken}
	store.unmatched = []model.Transaction{unmatchedTxn("t2", "UBER TRIP", "18.00", 4)}

	g := newTestGenerator(t, store, glAlias())
	job := createJob(t, g)

	final, err := g.Run(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, model.JobCompleted, final.Status)
	assert.Equal(t, 2, final.ProcessedLines)
	assert.Equal(t, 1, final.FailedLines)

	report, err := store.GetReport(context.Background(), *final.ReportID)
	require.NoError(t, err)
	assert.Equal(t, final.TotalLines, report.LineCount)
	assert.Equal(t, 1, report.FailedLineCount)

	failed := report.Lines[0]
	assert.True(t, failed.ProcessingFailed)
	assert.True(t, failed.NeedsReview)
	assert.Equal(t, "HILTON", failed.Description)
	assert.True(t, failed.Amount.Equal(decimal.RequireFromString("210.00")))
	assert.Empty(t, failed.GLCode)

	assert.False(t, report.Lines[1].ProcessingFailed)
	assert.Equal(t, model.TierCounts{Tier1: 1}, report.TierCounts)
}

func TestRun_CollaboratorFailuresDegrade(t *testing.T) {
	store := newMemStore()
	store.unmatched = []model.Transaction{
		unmatchedTxn("t1", "EXPLODES", "30.00", 1),
		unmatchedTxn("t2", "LYFT RIDE", "12.00", 2),
	}
	categorizer := glAlias()
	categorizer.panicOn = map[string]bool{"EXPLODES": true}

	g := newTestGenerator(t, store, categorizer,
		WithNormalizer(fakeNormalizer{err: errors.New("normalizer offline")}),
		WithPredictions(fakePredictions{err: errors.New("patterns unavailable")}))
	job := createJob(t, g)

	final, err := g.Run(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, model.JobCompleted, final.Status)
	assert.Equal(t, 0, final.FailedLines)

	report, err := store.GetReport(context.Background(), *final.ReportID)
	require.NoError(t, err)
	assert.Equal(t, "EXPLODES", report.Lines[0].NormalizedDescription, "raw text is used when normalization fails")
	assert.Empty(t, report.Lines[0].GLCode)
	assert.True(t, report.Lines[0].NeedsReview)
	assert.Equal(t, "6300", report.Lines[1].GLCode)
	assert.Equal(t, model.TierCounts{Tier1: 1}, report.TierCounts)
}

func TestRun_CancelledBeforeStart(t *testing.T) {
	store := newMemStore()
	store.unmatched = []model.Transaction{unmatchedTxn("t1", "UBER", "10.00", 1)}
	g := newTestGenerator(t, store, glAlias())
	job := createJob(t, g)

	cancelled, err := g.RequestCancellation(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, model.JobCancelled, cancelled.Status)

	final, err := g.Run(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, model.JobCancelled, final.Status)
	assert.Equal(t, 0, final.ProcessedLines)
	assert.Nil(t, final.StartedAt)
	assert.Empty(t, store.reports)
}

func TestRun_CancellationRequestedWhileRunning(t *testing.T) {
	store := newMemStore()
	for i := 1; i <= 25; i++ {
		store.unmatched = append(store.unmatched, unmatchedTxn(fmt.Sprintf("t%02d", i), "UBER TRIP", "15.00", i))
	}

	g := newTestGenerator(t, store, glAlias())
	job := createJob(t, g)

	// The first check happens before loading data, then one per line.
	store.onCancelCheck = func(id string, calls int) {
		if calls == 5 {
			_, err := g.RequestCancellation(context.Background(), id)
			require.NoError(t, err)
		}
	}

	final, err := g.Run(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, model.JobCancelled, final.Status)
	assert.Equal(t, 3, final.ProcessedLines)
	assert.Equal(t, 25, final.TotalLines)
	assert.Nil(t, final.ReportID)
	assert.Empty(t, store.reports)
}

func TestRun_ContextCancelled(t *testing.T) {
	store := newMemStore()
	store.unmatched = []model.Transaction{unmatchedTxn("t1", "UBER", "10.00", 1)}
	g := newTestGenerator(t, store, glAlias())
	job := createJob(t, g)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	final, err := g.Run(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, model.JobCancelled, final.Status)
	assert.Empty(t, store.reports)
}

func TestRun_CancellationWinsOverFailure(t *testing.T) {
	store := newMemStore()
	store.loadErr = errors.New("database is locked")
	g := newTestGenerator(t, store, glAlias())
	job := createJob(t, g)

	store.onLoad = func() {
		_, err := g.RequestCancellation(context.Background(), job.ID)
		require.NoError(t, err)
	}

	final, err := g.Run(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, model.JobCancelled, final.Status)
	assert.Empty(t, final.ErrorMessage)
}

func TestRun_LateCancellationDiscardsReport(t *testing.T) {
	store := newMemStore()
	store.unmatched = []model.Transaction{unmatchedTxn("t1", "UBER", "10.00", 1)}
	g := newTestGenerator(t, store, glAlias())
	job := createJob(t, g)

	store.onSaveReport = func() {
		store.setStatus(job.ID, model.JobCancellationRequested)
	}

	final, err := g.Run(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, model.JobCancelled, final.Status)
	assert.Nil(t, final.ReportID)
	assert.Empty(t, store.reports)
	assert.Len(t, store.deletedReports, 1)
}

func TestRun_SaveReportFailure(t *testing.T) {
	store := newMemStore()
	store.unmatched = []model.Transaction{unmatchedTxn("t1", "UBER", "10.00", 1)}
	store.saveReportErr = errors.New("disk full")
	g := newTestGenerator(t, store, glAlias())
	job := createJob(t, g)

	final, err := g.Run(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, model.JobFailed, final.Status)
	assert.Contains(t, final.ErrorMessage, "disk full")
	assert.Equal(t, 1, final.ProcessedLines)
}

func TestRun_JobNotPending(t *testing.T) {
	store := newMemStore()
	g := newTestGenerator(t, store, glAlias())

	running := createJob(t, g)
	store.setStatus(running.ID, model.JobProcessing)
	_, err := g.Run(context.Background(), running.ID)
	assert.ErrorIs(t, err, common.ErrInvalidTransition)

	done := createJob(t, g)
	store.setStatus(done.ID, model.JobCompleted)
	_, err = g.Run(context.Background(), done.ID)
	assert.ErrorIs(t, err, common.ErrJobFinished)

	_, err = g.Run(context.Background(), "missing")
	assert.ErrorIs(t, err, common.ErrNotFound)
}

func TestRequestCancellation(t *testing.T) {
	store := newMemStore()
	g := newTestGenerator(t, store, glAlias())
	ctx := context.Background()

	running := createJob(t, g)
	store.setStatus(running.ID, model.JobProcessing)

	job, err := g.RequestCancellation(ctx, running.ID)
	require.NoError(t, err)
	assert.Equal(t, model.JobCancellationRequested, job.Status)

	// Asking again is harmless.
	job, err = g.RequestCancellation(ctx, running.ID)
	require.NoError(t, err)
	assert.Equal(t, model.JobCancellationRequested, job.Status)

	done := createJob(t, g)
	store.setStatus(done.ID, model.JobCompleted)
	_, err = g.RequestCancellation(ctx, done.ID)
	assert.ErrorIs(t, err, common.ErrJobFinished)
}

func TestRun_ProgressCadence(t *testing.T) {
	store := newMemStore()
	for i := 1; i <= 25; i++ {
		store.unmatched = append(store.unmatched, unmatchedTxn(fmt.Sprintf("t%02d", i), "LUNCH", "9.00", 1+i%28))
	}
	g := newTestGenerator(t, store, glAlias())
	job := createJob(t, g)

	final, err := g.Run(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, model.JobCompleted, final.Status)
	// Every tenth line, then the final update. The frozen clock never
	// triggers the interval.
	assert.Equal(t, []int{10, 20, 25}, store.progress)
}

func TestRun_ConcurrentJobsAreIndependent(t *testing.T) {
	store := newMemStore()
	for i := 1; i <= 12; i++ {
		store.unmatched = append(store.unmatched, unmatchedTxn(fmt.Sprintf("t%02d", i), "UBER TRIP", "15.00", i))
	}
	g := newTestGenerator(t, store, glAlias())

	jobs := make([]*model.ReportGenerationJob, 4)
	for i := range jobs {
		jobs[i] = createJob(t, g)
	}

	var wg sync.WaitGroup
	results := make([]*model.ReportGenerationJob, len(jobs))
	for i, job := range jobs {
		wg.Add(1)
		go func(i int, id string) {
			defer wg.Done()
			final, err := g.Run(context.Background(), id)
			assert.NoError(t, err)
			results[i] = final
		}(i, job.ID)
	}
	wg.Wait()

	for _, final := range results {
		require.NotNil(t, final)
		assert.Equal(t, model.JobCompleted, final.Status)
		assert.Equal(t, 12, final.ProcessedLines)

		report, err := store.GetReport(context.Background(), *final.ReportID)
		require.NoError(t, err)
		assert.Equal(t, 12, report.LineCount)
		assert.Equal(t, model.TierCounts{Tier1: 12}, report.TierCounts)
	}
}

func TestConfigValidate(t *testing.T) {
	require.NoError(t, DefaultConfig().Validate())

	cfg := DefaultConfig()
	cfg.ProgressEveryLines = 0
	assert.ErrorIs(t, cfg.Validate(), common.ErrInvalidConfig)

	cfg = DefaultConfig()
	cfg.ReceiptThreshold = decimal.NewFromInt(-1)
	assert.ErrorIs(t, cfg.Validate(), common.ErrInvalidConfig)

	_, err := NewGenerator(nil, nil, DefaultConfig())
	assert.ErrorIs(t, err, common.ErrMissingConfig)
}
