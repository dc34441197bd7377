// Package categorize suggests GL and department codes through an ordered
// chain of lookup tiers.
//
// Tiers run in order (alias, description cache, embedding similarity). Each
// suggestion slot is filled by the first tier that produces a code for it.
// A tier that fails or times out contributes nothing and the chain moves on.
package categorize

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/Veraticus/expensetrack/internal/model"
	"github.com/Veraticus/expensetrack/internal/service"
)

// DefaultLookupTimeout bounds each tier lookup.
const DefaultLookupTimeout = 2 * time.Second

// Query identifies the line being categorized.
type Query struct {
	UserID                string
	Vendor                string // Display vendor, usually the receipt's extracted vendor
	RawDescription        string
	NormalizedDescription string
}

// Hit is a code suggestion from one tier. Either code may be empty.
type Hit struct {
	GLCode     string
	Department string
	Reference  string
	Confidence float64 // [0,100]
}

// Tier is one lookup in the categorization chain.
type Tier interface {
	// Level returns the tier rank recorded on suggestions.
	Level() model.Tier
	// Source returns the provenance label recorded on suggestions.
	Source() model.Source
	// Lookup returns a hit, or a miss with the reason.
	Lookup(ctx context.Context, q Query) service.Outcome[Hit]
}

// Engine runs the tier chain.
type Engine struct {
	tiers   []Tier
	timeout time.Duration
}

// NewEngine creates an engine over the given tiers, consulted in order.
func NewEngine(timeout time.Duration, tiers ...Tier) *Engine {
	if timeout <= 0 {
		timeout = DefaultLookupTimeout
	}
	return &Engine{tiers: tiers, timeout: timeout}
}

// Categorize fills the GL and department slots from the first tier that
// yields each. The returned counts record one hit per populated slot.
func (e *Engine) Categorize(ctx context.Context, q Query) (model.Categorization, model.TierCounts) {
	var (
		result model.Categorization
		counts model.TierCounts
	)

	for _, tier := range e.tiers {
		if result.Complete() {
			break
		}

		outcome := e.lookup(ctx, tier, q)
		if !outcome.Ok() {
			logMiss(tier, q, outcome)
			continue
		}

		hit := outcome.Value
		if result.GL == nil && hit.GLCode != "" {
			result.GL = suggestion(tier, hit, hit.GLCode)
			counts = counts.Record(tier.Level())
		}
		if result.Department == nil && hit.Department != "" {
			result.Department = suggestion(tier, hit, hit.Department)
			counts = counts.Record(tier.Level())
		}
	}

	return result, counts
}

// lookup runs one tier with its own timeout. A panicking tier counts as failed.
func (e *Engine) lookup(ctx context.Context, tier Tier, q Query) (outcome service.Outcome[Hit]) {
	if err := ctx.Err(); err != nil {
		return service.Missed[Hit](service.ReasonUnavailable, err)
	}

	tierCtx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	defer func() {
		if r := recover(); r != nil {
			outcome = service.Missed[Hit](service.ReasonFailed, fmt.Errorf("tier %s panicked: %v", tier.Source(), r))
		}
	}()

	outcome = tier.Lookup(tierCtx, q)
	if outcome.Ok() && outcome.Value.GLCode == "" && outcome.Value.Department == "" {
		return service.Missed[Hit](service.ReasonNoMatch, nil)
	}
	return outcome
}

func suggestion(tier Tier, hit Hit, code string) *model.Suggestion {
	return &model.Suggestion{
		Code:       code,
		Source:     tier.Source(),
		Tier:       tier.Level(),
		Reference:  hit.Reference,
		Confidence: clampConfidence(hit.Confidence),
	}
}

func logMiss(tier Tier, q Query, outcome service.Outcome[Hit]) {
	if outcome.Reason == service.ReasonNoMatch {
		slog.Debug("Categorization tier had no match",
			"tier", tier.Source(),
			"description", q.NormalizedDescription)
		return
	}
	slog.Warn("Categorization tier unavailable, continuing",
		"tier", tier.Source(),
		"reason", outcome.Reason,
		"error", outcome.Err)
}

func clampConfidence(c float64) float64 {
	switch {
	case c < 0:
		return 0
	case c > 100:
		return 100
	default:
		return c
	}
}
