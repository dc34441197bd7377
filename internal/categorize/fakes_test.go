package categorize

import (
	"context"
	"time"

	"github.com/Veraticus/expensetrack/internal/common"
	"github.com/Veraticus/expensetrack/internal/model"
	"github.com/Veraticus/expensetrack/internal/service"
)

const testUser = "user-1"

// stubTier returns a fixed outcome and counts its calls.
type stubTier struct {
	outcome service.Outcome[Hit]
	panicOn bool
	delay   time.Duration
	level   model.Tier
	source  model.Source
	calls   int
}

func (s *stubTier) Level() model.Tier    { return s.level }
func (s *stubTier) Source() model.Source { return s.source }

func (s *stubTier) Lookup(ctx context.Context, _ Query) service.Outcome[Hit] {
	s.calls++
	if s.panicOn {
		panic("boom")
	}
	if s.delay > 0 {
		select {
		case <-time.After(s.delay):
		case <-ctx.Done():
			return service.Missed[Hit](service.ReasonUnavailable, ctx.Err())
		}
	}
	return s.outcome
}

type fakeAliasStore struct {
	err     error
	aliases []model.VendorAlias
}

func (f *fakeAliasStore) SaveVendorAlias(context.Context, *model.VendorAlias) error { return nil }
func (f *fakeAliasStore) DeleteVendorAlias(context.Context, string) error          { return nil }

func (f *fakeAliasStore) ListVendorAliases(context.Context, string) ([]model.VendorAlias, error) {
	if f.err != nil {
		return nil, f.err
	}
	return append([]model.VendorAlias(nil), f.aliases...), nil
}

type fakeCacheStore struct {
	err     error
	entries map[string]model.DescriptionCacheEntry
}

func (f *fakeCacheStore) GetDescriptionCache(_ context.Context, _ string, key string) (*model.DescriptionCacheEntry, error) {
	if f.err != nil {
		return nil, f.err
	}
	entry, ok := f.entries[key]
	if !ok {
		return nil, common.ErrNotFound
	}
	return &entry, nil
}

func (f *fakeCacheStore) SaveDescriptionCache(_ context.Context, entry *model.DescriptionCacheEntry) error {
	if f.entries == nil {
		f.entries = make(map[string]model.DescriptionCacheEntry)
	}
	f.entries[entry.NormalizedDescription] = *entry
	return nil
}

type fakeEmbedder struct {
	err    error
	vector []float32
}

func (f *fakeEmbedder) Embed(context.Context, string) ([]float32, error) {
	return f.vector, f.err
}

type fakeIndex struct {
	err      error
	neighbor *model.Neighbor
}

func (f *fakeIndex) NearestNeighbor(context.Context, string, []float32) (*model.Neighbor, error) {
	if f.err != nil {
		return nil, f.err
	}
	if f.neighbor == nil {
		return nil, common.ErrNotFound
	}
	return f.neighbor, nil
}

type fakeTransactions struct {
	service.TransactionStore
	transactions []model.Transaction
}

func (f *fakeTransactions) GetTransactionsByDateRange(_ context.Context, _ string, start, end time.Time) ([]model.Transaction, error) {
	var out []model.Transaction
	for _, txn := range f.transactions {
		if !txn.Date.Before(start) && txn.Date.Before(end) {
			out = append(out, txn)
		}
	}
	return out, nil
}

type fakePatterns struct {
	patterns []model.ExpensePattern
}

func (f *fakePatterns) SaveExpensePattern(_ context.Context, p *model.ExpensePattern) error {
	f.patterns = append(f.patterns, *p)
	return nil
}

func (f *fakePatterns) ListExpensePatterns(context.Context, string) ([]model.ExpensePattern, error) {
	return f.patterns, nil
}
