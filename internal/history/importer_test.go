package history

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/Veraticus/expensetrack/internal/categorize"
	"github.com/Veraticus/expensetrack/internal/common"
	"github.com/Veraticus/expensetrack/internal/normalize"
	"github.com/Veraticus/expensetrack/internal/storage"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testUser = "user-1"

const historyCSV = `Date,Description,Vendor,Amount,GL Code,Department
2025-01-06,DELTA AIR 0062345678901,,$412.20,6100,OPS
2025-02-10,DELTA AIR 0069876543210,,388.00,6100,OPS
2025-02-12,UBER *TRIP HELP.UBER.COM,,24.10,6150,OPS
2025-03-01,UBER *TRIP HELP.UBER.COM,,31.90,6150,SALES
2025-03-02,UBER *TRIP HELP.UBER.COM,,18.00,6150,OPS
2025-03-04,ACME WIDGETS #4411,Acme Widgets,"1,250.00",5000,ENG
not a date,HILTON,,100.00,6200,OPS
2025-03-05,MARRIOTT BOSTON,,,6200,OPS
2025-03-06,HERTZ RENT,,75.00,,
`

type failingEmbedder struct{}

func (failingEmbedder) Embed(context.Context, string) ([]float32, error) {
	return nil, errors.New("embedding service down")
}

func newTestImporter(t *testing.T, opts ...Option) (*Importer, *storage.SQLiteStorage) {
	t.Helper()

	store, err := storage.NewSQLiteStorage(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	require.NoError(t, store.Migrate(context.Background()))

	seq := 0
	base := []Option{
		WithClock(func() time.Time { return time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC) }),
		WithIDGenerator(func() string {
			seq++
			return fmt.Sprintf("rec-%03d", seq)
		}),
	}
	normalizer := normalize.Default()
	importer, err := NewImporter(store, normalizer, normalizer, append(base, opts...)...)
	require.NoError(t, err)
	return importer, store
}

func TestImport(t *testing.T) {
	importer, store := newTestImporter(t, WithEmbedder(categorize.NewHashingEmbedder(0)))
	ctx := context.Background()

	summary, err := importer.Import(ctx, testUser, strings.NewReader(historyCSV))
	require.NoError(t, err)

	assert.Equal(t, 9, summary.Rows)
	assert.Equal(t, 3, summary.Skipped)
	assert.Equal(t, 3, summary.CacheEntries)
	assert.Equal(t, 4, summary.Embeddings)
	assert.Zero(t, summary.EmbedFailures)
	assert.Equal(t, 1, summary.Aliases)
	assert.Equal(t, 3, summary.Patterns)

	t.Run("description cache holds dominant codes", func(t *testing.T) {
		delta, err := store.GetDescriptionCache(ctx, testUser, "Delta Airlines")
		require.NoError(t, err)
		assert.Equal(t, "6100", delta.GLCode)
		assert.Equal(t, "OPS", delta.Department)
		assert.Equal(t, 2, delta.HitCount)

		uber, err := store.GetDescriptionCache(ctx, testUser, "Uber")
		require.NoError(t, err)
		assert.Equal(t, "6150", uber.GLCode)
		assert.Equal(t, "OPS", uber.Department)
	})

	t.Run("alias only for consistently coded vendors", func(t *testing.T) {
		aliases, err := store.ListVendorAliases(ctx, testUser)
		require.NoError(t, err)
		require.Len(t, aliases, 1)
		assert.Equal(t, "DELTA AIRLINES", aliases[0].Pattern)
		assert.Equal(t, "Delta Airlines", aliases[0].CanonicalName)
		assert.Equal(t, "6100", aliases[0].DefaultGLCode)
	})

	t.Run("patterns track amounts and agreement", func(t *testing.T) {
		patterns, err := store.ListExpensePatterns(ctx, testUser)
		require.NoError(t, err)
		require.Len(t, patterns, 3)

		byVendor := make(map[string]int)
		for i, p := range patterns {
			byVendor[p.NormalizedVendor] = i
		}

		uber := patterns[byVendor["UBER"]]
		assert.Equal(t, 3, uber.OccurrenceCount)
		assert.Equal(t, 2, uber.ConfirmCount)
		assert.Equal(t, 1, uber.RejectCount)
		assert.Equal(t, "OPS", uber.DefaultDepartment)
		assert.True(t, uber.MinAmount.Equal(decimal.NewFromInt(18)), uber.MinAmount.String())
		assert.True(t, uber.MaxAmount.Equal(decimal.RequireFromString("31.90")), uber.MaxAmount.String())
		assert.True(t, uber.AverageAmount.Equal(decimal.RequireFromString("24.67")), uber.AverageAmount.String())

		acme := patterns[byVendor["ACME WIDGETS"]]
		assert.True(t, acme.MaxAmount.Equal(decimal.NewFromInt(1250)))
	})

	t.Run("embeddings feed the neighbor index", func(t *testing.T) {
		vector, err := categorize.NewHashingEmbedder(0).Embed(ctx, "Delta Airlines")
		require.NoError(t, err)
		neighbor, err := store.NearestNeighbor(ctx, testUser, vector)
		require.NoError(t, err)
		assert.Equal(t, "6100", neighbor.GLCode)
		assert.InDelta(t, 1.0, neighbor.Similarity, 1e-4)
	})
}

func TestImport_ExistingAliasKept(t *testing.T) {
	importer, store := newTestImporter(t)
	ctx := context.Background()

	first, err := importer.Import(ctx, testUser, strings.NewReader(historyCSV))
	require.NoError(t, err)
	assert.Equal(t, 1, first.Aliases)

	second, err := importer.Import(ctx, testUser, strings.NewReader(historyCSV))
	require.NoError(t, err)
	assert.Zero(t, second.Aliases)
	assert.Equal(t, 1, second.ExistingAlias)

	patterns, err := store.ListExpensePatterns(ctx, testUser)
	require.NoError(t, err)
	for _, p := range patterns {
		if p.NormalizedVendor == "DELTA AIRLINES" {
			assert.Equal(t, 4, p.OccurrenceCount)
			assert.Equal(t, 4, p.ConfirmCount)
		}
	}
}

func TestImport_EmbedderFailuresAreCounted(t *testing.T) {
	importer, _ := newTestImporter(t, WithEmbedder(failingEmbedder{}))

	summary, err := importer.Import(context.Background(), testUser, strings.NewReader(historyCSV))
	require.NoError(t, err)
	assert.Zero(t, summary.Embeddings)
	assert.Equal(t, 4, summary.EmbedFailures)
	assert.Equal(t, 3, summary.CacheEntries)
}

func TestImport_Errors(t *testing.T) {
	importer, _ := newTestImporter(t)

	_, err := importer.Import(context.Background(), "", strings.NewReader(historyCSV))
	var userErr *common.UserError
	assert.ErrorAs(t, err, &userErr)

	_, err = importer.Import(context.Background(), testUser, strings.NewReader(""))
	assert.Error(t, err)
}

func TestNewImporter_RequiresCollaborators(t *testing.T) {
	_, err := NewImporter(nil, normalize.Default(), normalize.Default())
	assert.ErrorIs(t, err, common.ErrMissingConfig)
}

func TestParseAmount(t *testing.T) {
	tests := []struct {
		in   string
		want string
		err  bool
	}{
		{in: "$1,234.56", want: "1234.56"},
		{in: "42", want: "42"},
		{in: "(19.99)", want: "-19.99"},
		{in: "-5.00", want: "-5"},
		{in: "abc", err: true},
		{in: "", err: true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := parseAmount(tt.in)
			if tt.err {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.True(t, got.Equal(decimal.RequireFromString(tt.want)), got.String())
		})
	}
}

func TestParseDate(t *testing.T) {
	for _, in := range []string{"2025-03-04", "03/04/2025", "3/4/2025", "03/04/25"} {
		got, err := parseDate(in)
		require.NoError(t, err, in)
		assert.Equal(t, time.Date(2025, time.March, 4, 0, 0, 0, 0, time.UTC), got, in)
	}
	_, err := parseDate("March 4")
	assert.Error(t, err)
}
