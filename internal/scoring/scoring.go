// Package scoring computes confidence scores for receipt and transaction pairs.
//
// Every function here is pure: the same receipt, candidate and alias list
// always produce the same scores.
package scoring

import (
	"fmt"
	"math"
	"sort"
	"strings"
	"time"
	"unicode"

	"github.com/Veraticus/expensetrack/internal/model"
	"github.com/shopspring/decimal"
	"github.com/texttheater/golang-levenshtein/levenshtein"
)

// Vendor sub-score levels.
const (
	VendorExact      = 100.0
	VendorAlias      = 90.0
	VendorContains   = 85.0
	VendorFuzzyLimit = 70.0
)

// Config tunes the score calculation.
type Config struct {
	DateWindowDays     int     // Day distance beyond which the date score is 0
	AmountTolerancePct float64 // Relative difference (percent) at which the amount score reaches 0
	AmountWeight       float64
	DateWeight         float64
	VendorWeight       float64
}

// DefaultConfig returns the default configuration.
func DefaultConfig() Config {
	return Config{
		DateWindowDays:     7,
		AmountTolerancePct: 20,
		AmountWeight:       0.4,
		DateWeight:         0.3,
		VendorWeight:       0.3,
	}
}

// Validate checks the configuration.
func (c Config) Validate() error {
	if c.DateWindowDays < 0 {
		return fmt.Errorf("date window cannot be negative")
	}
	if c.AmountTolerancePct <= 0 || c.AmountTolerancePct > 100 {
		return fmt.Errorf("amount tolerance must be in (0,100], got %.2f", c.AmountTolerancePct)
	}
	if c.AmountWeight < 0 || c.DateWeight < 0 || c.VendorWeight < 0 {
		return fmt.Errorf("weights cannot be negative")
	}
	if c.AmountWeight+c.DateWeight+c.VendorWeight == 0 {
		return fmt.Errorf("at least one weight must be positive")
	}
	return nil
}

// Result is the outcome of scoring one pair.
type Result struct {
	AliasID string // Alias that produced the vendor score, if any
	model.Scores
}

// Calculator scores receipt and candidate pairs.
type Calculator struct {
	cfg Config
}

// NewCalculator creates a calculator. Invalid configurations fall back to defaults.
func NewCalculator(cfg Config) *Calculator {
	if err := cfg.Validate(); err != nil {
		cfg = DefaultConfig()
	}
	return &Calculator{cfg: cfg}
}

// Score computes all sub-scores and the overall score for a receipt and a candidate.
func (c *Calculator) Score(receipt model.Receipt, candidate model.Candidate, aliases []model.VendorAlias) Result {
	ex := receipt.Extraction
	vendor, aliasID := VendorScore(ex.VendorName, candidate.Description, aliases)

	scores := model.Scores{
		Amount: c.AmountScore(ex.TotalAmount, candidate.Amount),
		Date:   c.DateScore(ex.TransactionDate, candidate.Date),
		Vendor: vendor,
	}
	scores.Overall = c.Overall(scores)

	return Result{Scores: scores, AliasID: aliasID}
}

// AmountScore is 100 for an exact match and decays linearly with the relative
// difference, reaching 0 at the configured tolerance. A missing amount scores 0.
func (c *Calculator) AmountScore(receiptAmount *decimal.Decimal, amount decimal.Decimal) float64 {
	if receiptAmount == nil {
		return 0
	}
	a := receiptAmount.Abs()
	b := amount.Abs()
	diff := a.Sub(b).Abs()
	if diff.IsZero() {
		return 100
	}

	larger := decimal.Max(a, b)
	if larger.IsZero() {
		return 0
	}
	relPct, _ := diff.Div(larger).Mul(decimal.NewFromInt(100)).Float64()
	if relPct >= c.cfg.AmountTolerancePct {
		return 0
	}
	// Non-exact amounts never reach 100.
	return round2(99 * (1 - relPct/c.cfg.AmountTolerancePct))
}

// DateScore is 100 for the same calendar day, decays linearly with the day
// distance and is 0 beyond the window. A missing date scores 0.
func (c *Calculator) DateScore(receiptDate *time.Time, date time.Time) float64 {
	if receiptDate == nil {
		return 0
	}
	days := DayDistance(*receiptDate, date)
	if days == 0 {
		return 100
	}
	if days > c.cfg.DateWindowDays {
		return 0
	}
	return round2(100 * (1 - float64(days)/float64(c.cfg.DateWindowDays+1)))
}

// Overall combines the sub-scores with the configured weights.
// The result is monotonic in every sub-score and bounded to [0,100].
func (c *Calculator) Overall(s model.Scores) float64 {
	total := c.cfg.AmountWeight + c.cfg.DateWeight + c.cfg.VendorWeight
	weighted := c.cfg.AmountWeight*clamp(s.Amount) +
		c.cfg.DateWeight*clamp(s.Date) +
		c.cfg.VendorWeight*clamp(s.Vendor)
	return clamp(round2(weighted / total))
}

// VendorScore compares extracted vendor text with a transaction description.
// Exact normalized equality scores highest, alias and containment matches score
// medium, token and edit-distance similarity score at most VendorFuzzyLimit.
// The returned alias id is set when an alias produced the score.
func VendorScore(vendor, description string, aliases []model.VendorAlias) (float64, string) {
	v := Normalize(vendor)
	d := Normalize(description)
	if v == "" || d == "" {
		return 0, ""
	}
	if v == d {
		return VendorExact, ""
	}

	for _, alias := range sortedAliases(aliases) {
		if alias.Matches(d) && refersTo(v, alias) {
			return VendorAlias, alias.ID
		}
	}

	if containsWords(d, v) || containsWords(v, d) {
		return VendorContains, ""
	}

	return round2(math.Max(tokenOverlap(v, d), editSimilarity(v, d)) * VendorFuzzyLimit), ""
}

// Normalize upper-cases text, replaces punctuation with spaces and collapses whitespace.
func Normalize(s string) string {
	mapped := strings.Map(func(r rune) rune {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			return unicode.ToUpper(r)
		}
		return ' '
	}, s)
	return strings.Join(strings.Fields(mapped), " ")
}

// DayDistance returns the absolute number of calendar days between a and b.
func DayDistance(a, b time.Time) int {
	da := time.Date(a.Year(), a.Month(), a.Day(), 0, 0, 0, 0, time.UTC)
	db := time.Date(b.Year(), b.Month(), b.Day(), 0, 0, 0, 0, time.UTC)
	days := int(math.Round(da.Sub(db).Hours() / 24))
	if days < 0 {
		return -days
	}
	return days
}

// refersTo reports whether normalized vendor text names the alias.
func refersTo(vendor string, alias model.VendorAlias) bool {
	canonical := Normalize(alias.CanonicalName)
	if canonical == vendor || alias.Matches(vendor) {
		return true
	}
	return canonical != "" && containsWords(canonical, vendor)
}

// sortedAliases orders aliases longest pattern first, then by id.
func sortedAliases(aliases []model.VendorAlias) []model.VendorAlias {
	sorted := make([]model.VendorAlias, len(aliases))
	copy(sorted, aliases)
	sort.SliceStable(sorted, func(i, j int) bool {
		if len(sorted[i].Pattern) != len(sorted[j].Pattern) {
			return len(sorted[i].Pattern) > len(sorted[j].Pattern)
		}
		return sorted[i].ID < sorted[j].ID
	})
	return sorted
}

// containsWords reports whether needle appears in haystack on word boundaries.
func containsWords(haystack, needle string) bool {
	return strings.Contains(" "+haystack+" ", " "+needle+" ")
}

// tokenOverlap is the fraction of vendor tokens found in the description.
func tokenOverlap(vendor, description string) float64 {
	vt := strings.Fields(vendor)
	dt := strings.Fields(description)
	if len(vt) == 0 {
		return 0
	}
	matched := 0
	for _, v := range vt {
		for _, d := range dt {
			if v == d || (len(v) >= 4 && ratio(v, d) >= 0.8) {
				matched++
				break
			}
		}
	}
	return float64(matched) / float64(len(vt))
}

// editSimilarity compares the vendor with the same number of leading
// description tokens.
func editSimilarity(vendor, description string) float64 {
	n := len(strings.Fields(vendor))
	dt := strings.Fields(description)
	if n > len(dt) {
		n = len(dt)
	}
	prefix := strings.Join(dt[:n], " ")
	sim := ratio(vendor, prefix)
	if sim < 0.5 {
		return 0
	}
	return sim
}

func ratio(a, b string) float64 {
	return levenshtein.RatioForStrings([]rune(a), []rune(b), levenshtein.DefaultOptions)
}

func clamp(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 100:
		return 100
	default:
		return v
	}
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
