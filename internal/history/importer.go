// Package history imports previously filed expense reports so the
// categorization tiers have something to learn from on day one.
//
// Each CSV row warms the description cache and the embedding corpus. Vendors
// that were always filed under the same codes also get a vendor alias, and
// every vendor contributes to its learned expense pattern.
package history

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/Veraticus/expensetrack/internal/common"
	"github.com/Veraticus/expensetrack/internal/model"
	"github.com/Veraticus/expensetrack/internal/scoring"
	"github.com/Veraticus/expensetrack/internal/service"
	"github.com/gocarina/gocsv"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// DefaultMinAliasOccurrences is how often a vendor must appear, always with
// the same codes, before an alias is created for it.
const DefaultMinAliasOccurrences = 2

var dateLayouts = []string{"2006-01-02", "01/02/2006", "1/2/2006", "01/02/06", "1/2/06"}

// Row is one historical expense line.
type Row struct {
	Date        string `csv:"Date"`
	Description string `csv:"Description"`
	Vendor      string `csv:"Vendor"`
	Amount      string `csv:"Amount"`
	GLCode      string `csv:"GL Code"`
	Department  string `csv:"Department"`
}

// Store is the persistence the importer writes to.
type Store interface {
	service.AliasStore
	service.DescriptionCacheStore
	service.PatternStore
	SaveEmbedding(ctx context.Context, record *model.EmbeddingRecord) error
}

// VendorExtractor guesses a vendor name from statement text.
type VendorExtractor interface {
	ExtractVendor(description string) string
}

// Summary reports what an import did.
type Summary struct {
	Rows           int
	Skipped        int
	CacheEntries   int
	Embeddings     int
	EmbedFailures  int
	Aliases        int
	Patterns       int
	ExistingAlias  int
	UnknownVendors int
}

// Importer loads historical expense CSV files.
type Importer struct {
	store               Store
	normalizer          service.Normalizer
	vendors             VendorExtractor
	embedder            service.Embedder
	now                 func() time.Time
	newID               func() string
	minAliasOccurrences int
}

// Option configures an Importer.
type Option func(*Importer)

// WithEmbedder enables warming the embedding corpus.
func WithEmbedder(embedder service.Embedder) Option {
	return func(i *Importer) { i.embedder = embedder }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(i *Importer) { i.now = now }
}

// WithIDGenerator overrides record id generation.
func WithIDGenerator(newID func() string) Option {
	return func(i *Importer) { i.newID = newID }
}

// WithMinAliasOccurrences sets the alias creation threshold.
func WithMinAliasOccurrences(n int) Option {
	return func(i *Importer) {
		if n > 0 {
			i.minAliasOccurrences = n
		}
	}
}

// NewImporter creates an importer.
func NewImporter(store Store, normalizer service.Normalizer, vendors VendorExtractor, opts ...Option) (*Importer, error) {
	if store == nil || normalizer == nil || vendors == nil {
		return nil, fmt.Errorf("%w: history importer needs a store, normalizer and vendor extractor", common.ErrMissingConfig)
	}
	i := &Importer{
		store:               store,
		normalizer:          normalizer,
		vendors:             vendors,
		now:                 time.Now,
		newID:               uuid.NewString,
		minAliasOccurrences: DefaultMinAliasOccurrences,
	}
	for _, opt := range opts {
		opt(i)
	}
	return i, nil
}

// entry is a parsed row.
type entry struct {
	date        time.Time
	amount      decimal.Decimal
	vendor      string
	description string
	normalized  string
	gl          string
	department  string
}

func (e entry) codes() codePair {
	return codePair{gl: e.gl, department: e.department}
}

type codePair struct {
	gl         string
	department string
}

// Import reads CSV rows from r and stores what they teach for userID.
func (i *Importer) Import(ctx context.Context, userID string, r io.Reader) (*Summary, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, common.NewUserError("a user id is required", nil)
	}

	var rows []Row
	if err := gocsv.Unmarshal(r, &rows); err != nil {
		return nil, fmt.Errorf("failed to read expense history: %w", err)
	}

	summary := &Summary{Rows: len(rows)}
	entries := make([]entry, 0, len(rows))
	for n, row := range rows {
		if err := ctx.Err(); err != nil {
			return summary, err
		}
		e, err := i.parse(ctx, row)
		if err != nil {
			summary.Skipped++
			slog.Warn("Skipping history row", "row", n+2, "error", err)
			continue
		}
		if e.vendor == "Unknown" {
			summary.UnknownVendors++
		}
		entries = append(entries, e)
	}

	if err := i.warmCache(ctx, userID, entries, summary); err != nil {
		return summary, err
	}
	if err := i.warmEmbeddings(ctx, userID, entries, summary); err != nil {
		return summary, err
	}
	if err := i.learnVendors(ctx, userID, entries, summary); err != nil {
		return summary, err
	}

	slog.Info("Imported expense history",
		"user_id", userID,
		"rows", summary.Rows,
		"skipped", summary.Skipped,
		"cache_entries", summary.CacheEntries,
		"embeddings", summary.Embeddings,
		"aliases", summary.Aliases,
		"patterns", summary.Patterns)
	return summary, nil
}

func (i *Importer) parse(ctx context.Context, row Row) (entry, error) {
	description := strings.TrimSpace(row.Description)
	if description == "" {
		return entry{}, errors.New("missing description")
	}
	gl, department := strings.TrimSpace(row.GLCode), strings.TrimSpace(row.Department)
	if gl == "" && department == "" {
		return entry{}, errors.New("row has no codes")
	}

	date, err := parseDate(row.Date)
	if err != nil {
		return entry{}, err
	}
	amount, err := parseAmount(row.Amount)
	if err != nil {
		return entry{}, err
	}

	vendor := strings.TrimSpace(row.Vendor)
	if vendor == "" {
		vendor = i.vendors.ExtractVendor(description)
	}

	normalized, err := i.normalizer.Normalize(ctx, description, "")
	if err != nil || strings.TrimSpace(normalized) == "" {
		normalized = scoring.Normalize(description)
	}

	return entry{
		date:        date,
		amount:      amount,
		vendor:      vendor,
		description: description,
		normalized:  normalized,
		gl:          gl,
		department:  department,
	}, nil
}

// warmCache stores the most frequent codes per normalized description.
func (i *Importer) warmCache(ctx context.Context, userID string, entries []entry, summary *Summary) error {
	byDescription := make(map[string][]entry)
	for _, e := range entries {
		byDescription[e.normalized] = append(byDescription[e.normalized], e)
	}

	for _, key := range sortedKeys(byDescription) {
		group := byDescription[key]
		codes, count := dominant(group)

		hits := count
		existing, err := i.store.GetDescriptionCache(ctx, userID, key)
		switch {
		case err == nil && existing.GLCode == codes.gl && existing.Department == codes.department:
			hits += existing.HitCount
		case err != nil && !errors.Is(err, common.ErrNotFound):
			return fmt.Errorf("failed to read description cache: %w", err)
		}

		if err := i.store.SaveDescriptionCache(ctx, &model.DescriptionCacheEntry{
			UserID:                userID,
			NormalizedDescription: key,
			GLCode:                codes.gl,
			Department:            codes.department,
			HitCount:              hits,
			UpdatedAt:             i.now().UTC(),
		}); err != nil {
			return fmt.Errorf("failed to save description cache: %w", err)
		}
		summary.CacheEntries++
	}
	return nil
}

// warmEmbeddings stores one verified vector per distinct description and codes.
// Embedding failures are counted and logged, never fatal.
func (i *Importer) warmEmbeddings(ctx context.Context, userID string, entries []entry, summary *Summary) error {
	if i.embedder == nil {
		return nil
	}

	seen := make(map[string]bool)
	for _, e := range entries {
		key := e.normalized + "\x00" + e.gl + "\x00" + e.department
		if seen[key] {
			continue
		}
		seen[key] = true

		vector, err := i.embedder.Embed(ctx, e.normalized)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			summary.EmbedFailures++
			slog.Debug("Failed to embed history row", "description", e.normalized, "error", err)
			continue
		}

		if err := i.store.SaveEmbedding(ctx, &model.EmbeddingRecord{
			ID:         i.newID(),
			UserID:     userID,
			Text:       e.normalized,
			GLCode:     e.gl,
			Department: e.department,
			Vector:     vector,
			Verified:   true,
			CreatedAt:  i.now().UTC(),
		}); err != nil {
			return fmt.Errorf("failed to save embedding: %w", err)
		}
		summary.Embeddings++
	}
	return nil
}

// learnVendors creates aliases for consistently coded vendors and folds
// every vendor's rows into its expense pattern.
func (i *Importer) learnVendors(ctx context.Context, userID string, entries []entry, summary *Summary) error {
	byVendor := make(map[string][]entry)
	for _, e := range entries {
		if e.vendor == "" || e.vendor == "Unknown" {
			continue
		}
		byVendor[e.vendor] = append(byVendor[e.vendor], e)
	}
	if len(byVendor) == 0 {
		return nil
	}

	aliases, err := i.store.ListVendorAliases(ctx, userID)
	if err != nil {
		return fmt.Errorf("failed to load vendor aliases: %w", err)
	}
	aliasPatterns := make(map[string]bool, len(aliases))
	for _, alias := range aliases {
		aliasPatterns[strings.ToUpper(strings.TrimSpace(alias.Pattern))] = true
	}

	patterns, err := i.store.ListExpensePatterns(ctx, userID)
	if err != nil {
		return fmt.Errorf("failed to load expense patterns: %w", err)
	}
	existingPatterns := make(map[string]model.ExpensePattern, len(patterns))
	for _, pattern := range patterns {
		existingPatterns[pattern.NormalizedVendor] = pattern
	}

	for _, vendor := range sortedKeys(byVendor) {
		group := byVendor[vendor]

		if consistent(group) && len(group) >= i.minAliasOccurrences {
			pattern := strings.ToUpper(vendor)
			if aliasPatterns[pattern] {
				summary.ExistingAlias++
			} else {
				if err := i.store.SaveVendorAlias(ctx, &model.VendorAlias{
					ID:                i.newID(),
					UserID:            userID,
					Pattern:           pattern,
					CanonicalName:     vendor,
					DefaultGLCode:     group[0].gl,
					DefaultDepartment: group[0].department,
					CreatedAt:         i.now().UTC(),
				}); err != nil {
					return fmt.Errorf("failed to save vendor alias: %w", err)
				}
				aliasPatterns[pattern] = true
				summary.Aliases++
			}
		}

		key := scoring.Normalize(vendor)
		if key == "" {
			continue
		}
		pattern := mergePattern(existingPatterns[key], group)
		if pattern.ID == "" {
			pattern.ID = i.newID()
		}
		pattern.UserID = userID
		pattern.NormalizedVendor = key
		if err := i.store.SaveExpensePattern(ctx, &pattern); err != nil {
			return fmt.Errorf("failed to save expense pattern: %w", err)
		}
		existingPatterns[key] = pattern
		summary.Patterns++
	}
	return nil
}

// mergePattern folds rows into an existing pattern. Rows carrying the
// dominant codes count as confirmations and the rest as rejections.
func mergePattern(pattern model.ExpensePattern, group []entry) model.ExpensePattern {
	codes, count := dominant(group)
	if pattern.ID != "" && (pattern.DefaultGLCode != codes.gl || pattern.DefaultDepartment != codes.department) {
		// Codes changed; the old tallies describe different codes.
		pattern.ConfirmCount, pattern.RejectCount = 0, 0
	}
	pattern.DefaultGLCode = codes.gl
	pattern.DefaultDepartment = codes.department
	pattern.ConfirmCount += count
	pattern.RejectCount += len(group) - count

	total := pattern.AverageAmount.Mul(decimal.NewFromInt(int64(pattern.OccurrenceCount)))
	for n, e := range group {
		amount := e.amount.Abs()
		if (pattern.OccurrenceCount == 0 && n == 0) || amount.LessThan(pattern.MinAmount) {
			pattern.MinAmount = amount
		}
		if amount.GreaterThan(pattern.MaxAmount) {
			pattern.MaxAmount = amount
		}
		if e.date.After(pattern.LastSeenAt) {
			pattern.LastSeenAt = e.date
		}
		total = total.Add(amount)
	}
	pattern.OccurrenceCount += len(group)
	pattern.AverageAmount = total.Div(decimal.NewFromInt(int64(pattern.OccurrenceCount))).Round(2)
	return pattern
}

// dominant returns the most frequent code pair and its count. Ties go to the
// pair seen last, so newer filings win.
func dominant(group []entry) (codePair, int) {
	counts := make(map[codePair]int)
	var (
		best      codePair
		bestCount int
	)
	for _, e := range group {
		counts[e.codes()]++
		if c := counts[e.codes()]; c >= bestCount {
			best, bestCount = e.codes(), c
		}
	}
	return best, bestCount
}

func consistent(group []entry) bool {
	for _, e := range group[1:] {
		if e.codes() != group[0].codes() {
			return false
		}
	}
	return true
}

func sortedKeys(m map[string][]entry) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func parseDate(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("invalid date %q", s)
}

func parseAmount(s string) (decimal.Decimal, error) {
	cleaned := strings.NewReplacer("$", "", ",", "", " ", "").Replace(strings.TrimSpace(s))
	if strings.HasPrefix(cleaned, "(") && strings.HasSuffix(cleaned, ")") {
		cleaned = "-" + strings.Trim(cleaned, "()")
	}
	amount, err := decimal.NewFromString(cleaned)
	if err != nil {
		return decimal.Zero, fmt.Errorf("invalid amount %q", s)
	}
	return amount, nil
}
