package model

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Tier ranks the signal that produced a code suggestion.
type Tier int

// Tier constants. TierNone marks suggestions that did not come from the tier chain.
const (
	TierNone             Tier = 0
	TierAlias            Tier = 1
	TierDescriptionCache Tier = 2
	TierEmbedding        Tier = 3
)

// Source names where a suggestion came from.
type Source string

// Suggestion sources.
const (
	SourceAlias            Source = "Alias"
	SourceDescriptionCache Source = "DescriptionCache"
	SourceEmbedding        Source = "Embedding"
	SourcePrediction       Source = "Prediction"
)

// Suggestion is a proposed GL or department code with its provenance.
type Suggestion struct {
	Code       string
	Source     Source
	Reference  string // Alias id, cache key, embedding record id or prediction id
	Tier       Tier
	Confidence float64 // [0,100]
}

// Categorization carries independent GL and department suggestion slots.
// A nil slot means no tier produced a code.
type Categorization struct {
	GL         *Suggestion
	Department *Suggestion
}

// Complete reports whether both slots are populated.
func (c Categorization) Complete() bool {
	return c.GL != nil && c.Department != nil
}

// TierCounts accumulates tier hits over a report.
type TierCounts struct {
	Tier1 int
	Tier2 int
	Tier3 int
}

// Record returns the counts with one more hit for tier.
func (c TierCounts) Record(tier Tier) TierCounts {
	switch tier {
	case TierAlias:
		c.Tier1++
	case TierDescriptionCache:
		c.Tier2++
	case TierEmbedding:
		c.Tier3++
	}
	return c
}

// Add folds another set of counts into c.
func (c TierCounts) Add(other TierCounts) TierCounts {
	return TierCounts{
		Tier1: c.Tier1 + other.Tier1,
		Tier2: c.Tier2 + other.Tier2,
		Tier3: c.Tier3 + other.Tier3,
	}
}

// Total returns the number of hits across all tiers.
func (c TierCounts) Total() int {
	return c.Tier1 + c.Tier2 + c.Tier3
}

// VendorAlias maps a vendor text pattern to a canonical vendor and default codes.
type VendorAlias struct {
	CreatedAt         time.Time
	ID                string
	UserID            string
	Pattern           string
	CanonicalName     string
	DefaultGLCode     string
	DefaultDepartment string
	MatchCount        int
}

// Matches reports whether text contains the alias pattern, ignoring case.
func (a VendorAlias) Matches(text string) bool {
	pattern := strings.ToUpper(strings.TrimSpace(a.Pattern))
	if pattern == "" {
		return false
	}
	return strings.Contains(strings.ToUpper(text), pattern)
}

// DescriptionCacheEntry associates a normalized description with the codes it was filed under.
type DescriptionCacheEntry struct {
	UpdatedAt             time.Time
	UserID                string
	NormalizedDescription string
	GLCode                string
	Department            string
	HitCount              int
}

// EmbeddingRecord is a vector for a past categorized line.
// Only verified records take part in nearest-neighbor lookups.
type EmbeddingRecord struct {
	CreatedAt  time.Time
	ID         string
	UserID     string
	Text       string
	GLCode     string
	Department string
	Vector     []float32
	Verified   bool
}

// Neighbor is the result of a nearest-neighbor lookup.
type Neighbor struct {
	RecordID   string
	GLCode     string
	Department string
	Similarity float64 // Cosine similarity in [-1,1]
}

// ExpensePattern is a learned per-user vendor pattern.
type ExpensePattern struct {
	LastSeenAt        time.Time
	MinAmount         decimal.Decimal
	AverageAmount     decimal.Decimal
	MaxAmount         decimal.Decimal
	ID                string
	UserID            string
	NormalizedVendor  string
	DefaultGLCode     string
	DefaultDepartment string
	OccurrenceCount   int
	ConfirmCount      int
	RejectCount       int
	IsSuppressed      bool
}

// Confidence returns how much the pattern can be trusted for amount, in [0,100].
// Amounts far outside the observed range halve the confidence.
func (p ExpensePattern) Confidence(amount decimal.Decimal) float64 {
	decided := p.ConfirmCount + p.RejectCount
	var base float64
	if decided == 0 {
		base = 50
	} else {
		base = float64(p.ConfirmCount) / float64(decided) * 100
	}

	if p.OccurrenceCount > 0 && !p.MaxAmount.IsZero() {
		lower := p.MinAmount.Mul(decimal.NewFromFloat(0.5))
		upper := p.MaxAmount.Mul(decimal.NewFromFloat(1.5))
		abs := amount.Abs()
		if abs.LessThan(lower) || abs.GreaterThan(upper) {
			base /= 2
		}
	}
	return base
}

// Prediction is a pattern-based code suggestion for one transaction.
type Prediction struct {
	ID            string
	TransactionID string
	PatternID     string
	GLCode        string
	Department    string
	Confidence    float64
}
