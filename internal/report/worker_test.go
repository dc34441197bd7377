package report

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Veraticus/expensetrack/internal/model"
	"github.com/Veraticus/expensetrack/internal/service"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// countingRunner records the jobs it ran and the peak concurrency.
type countingRunner struct {
	store  *memStore
	ran    map[string]int
	hold   time.Duration
	active atomic.Int32
	peak   atomic.Int32
	mu     sync.Mutex
}

func (r *countingRunner) Run(ctx context.Context, jobID string) (*model.ReportGenerationJob, error) {
	n := r.active.Add(1)
	defer r.active.Add(-1)
	for {
		peak := r.peak.Load()
		if n <= peak || r.peak.CompareAndSwap(peak, n) {
			break
		}
	}

	r.mu.Lock()
	r.ran[jobID]++
	r.mu.Unlock()

	select {
	case <-time.After(r.hold):
	case <-ctx.Done():
	}
	return r.store.TransitionJob(ctx, jobID, []model.JobStatus{model.JobPending}, func(j *model.ReportGenerationJob) {
		j.Status = model.JobCompleted
	})
}

func seedPendingJobs(t *testing.T, store *memStore, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		require.NoError(t, store.CreateJob(context.Background(), &model.ReportGenerationJob{
			ID:     fmt.Sprintf("job-%d", i),
			UserID: testUser,
			Period: june,
			Status: model.JobPending,
		}))
	}
}

func TestWorker_RunPendingRespectsConcurrency(t *testing.T) {
	store := newMemStore()
	seedPendingJobs(t, store, 5)
	runner := &countingRunner{store: store, ran: make(map[string]int), hold: 20 * time.Millisecond}

	worker := NewWorker(runner, store, 2, time.Second)
	started, err := worker.RunPending(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 5, started)
	assert.LessOrEqual(t, runner.peak.Load(), int32(2))
	assert.Empty(t, worker.Running())

	for id, count := range runner.ran {
		assert.Equal(t, 1, count, id)
	}

	pending, err := store.ListJobs(context.Background(), service.JobFilter{Status: model.JobPending})
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestWorker_RunStopsOnContextCancel(t *testing.T) {
	store := newMemStore()
	seedPendingJobs(t, store, 1)
	runner := &countingRunner{store: store, ran: make(map[string]int), hold: time.Hour}

	worker := NewWorker(runner, store, 1, 10*time.Millisecond)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- worker.Run(ctx) }()

	require.Eventually(t, func() bool { return len(worker.Running()) == 1 }, time.Second, 5*time.Millisecond)
	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("worker did not stop")
	}
	assert.Empty(t, worker.Running())
}

func TestWorker_CancelSingleJob(t *testing.T) {
	store := newMemStore()
	seedPendingJobs(t, store, 1)
	runner := &countingRunner{store: store, ran: make(map[string]int), hold: time.Hour}

	worker := NewWorker(runner, store, 1, time.Second)
	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = worker.RunPending(context.Background())
	}()

	require.Eventually(t, func() bool { return len(worker.Running()) == 1 }, time.Second, 5*time.Millisecond)
	assert.True(t, worker.Cancel("job-0"))
	assert.False(t, worker.Cancel("job-unknown"))

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("job was not cancelled")
	}
}

func TestWorker_WithGenerator(t *testing.T) {
	store := newMemStore()
	store.unmatched = []model.Transaction{unmatchedTxn("t1", "UBER TRIP", "15.00", 3)}
	g := newTestGenerator(t, store, glAlias())
	first := createJob(t, g)
	second := createJob(t, g)

	worker := NewWorker(g, store, 2, time.Second)
	started, err := worker.RunPending(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, started)

	for _, id := range []string{first.ID, second.ID} {
		job, err := store.GetJob(context.Background(), id)
		require.NoError(t, err)
		assert.Equal(t, model.JobCompleted, job.Status)
	}
}
