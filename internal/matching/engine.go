// Package matching proposes and manages receipt to transaction matches.
package matching

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/Veraticus/expensetrack/internal/common"
	"github.com/Veraticus/expensetrack/internal/model"
	"github.com/Veraticus/expensetrack/internal/scoring"
	"github.com/Veraticus/expensetrack/internal/service"
	"github.com/google/uuid"
)

// Store is the persistence the engine needs.
type Store interface {
	service.TransactionStore
	service.ReceiptStore
	service.MatchStore
	service.AliasStore
}

// Config tunes proposal generation.
type Config struct {
	Scoring             scoring.Config
	MinScore            float64 // Overall score a candidate must reach to be proposed
	CandidateWindowDays int     // Days either side of the receipt date searched for candidates
}

// DefaultConfig returns the default configuration.
func DefaultConfig() Config {
	return Config{
		Scoring:             scoring.DefaultConfig(),
		MinScore:            50,
		CandidateWindowDays: 10,
	}
}

// Validate checks the configuration.
func (c Config) Validate() error {
	if c.MinScore < 0 || c.MinScore > 100 {
		return fmt.Errorf("%w: minimum score must be between 0 and 100, got %.2f", common.ErrInvalidConfig, c.MinScore)
	}
	if c.CandidateWindowDays < 0 {
		return fmt.Errorf("%w: candidate window cannot be negative", common.ErrInvalidConfig)
	}
	if err := c.Scoring.Validate(); err != nil {
		return fmt.Errorf("%w: %w", common.ErrInvalidConfig, err)
	}
	return nil
}

// Engine generates match proposals and drives the proposal lifecycle.
type Engine struct {
	store Store
	calc  *scoring.Calculator
	now   func() time.Time
	newID func() string
	cfg   Config
}

// Option configures an Engine.
type Option func(*Engine)

// WithClock overrides the engine's time source.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// WithIDGenerator overrides how match IDs are generated.
func WithIDGenerator(newID func() string) Option {
	return func(e *Engine) { e.newID = newID }
}

// NewEngine creates a match engine.
func NewEngine(store Store, cfg Config, opts ...Option) (*Engine, error) {
	if store == nil {
		return nil, errors.New("match store is required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	e := &Engine{
		store: store,
		calc:  scoring.NewCalculator(cfg.Scoring),
		cfg:   cfg,
		now:   func() time.Time { return time.Now().UTC() },
		newID: uuid.NewString,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// Proposal is a scored candidate that cleared the minimum score.
type Proposal struct {
	Candidate model.Candidate
	Match     model.Match
}

// Rank scores every candidate against the receipt, drops those below the
// minimum score and orders the rest by overall score descending, then by
// earliest date, then by target ID.
func (e *Engine) Rank(receipt model.Receipt, candidates []model.Candidate, aliases []model.VendorAlias) []Proposal {
	now := e.now()
	proposals := make([]Proposal, 0, len(candidates))

	for _, candidate := range candidates {
		if candidate.Target == nil {
			continue
		}
		result := e.calc.Score(receipt, candidate, aliases)
		if result.Overall < e.cfg.MinScore {
			continue
		}

		match := model.Match{
			ReceiptID: receipt.ID,
			Target:    candidate.Target,
			Status:    model.MatchProposed,
			Scores:    result.Scores,
			CreatedAt: now,
			UpdatedAt: now,
		}
		if result.AliasID != "" {
			aliasID := result.AliasID
			match.VendorAliasID = &aliasID
		}
		proposals = append(proposals, Proposal{Candidate: candidate, Match: match})
	}

	sort.SliceStable(proposals, func(i, j int) bool {
		a, b := proposals[i], proposals[j]
		if a.Match.Scores.Overall != b.Match.Scores.Overall {
			return a.Match.Scores.Overall > b.Match.Scores.Overall
		}
		if !a.Candidate.Date.Equal(b.Candidate.Date) {
			return a.Candidate.Date.Before(b.Candidate.Date)
		}
		return a.Candidate.Target.TargetID() < b.Candidate.Target.TargetID()
	})
	return proposals
}

// ProposeMatches scores the candidates and stores a proposed match for each one
// that clears the minimum score. Pairs that already have a match record are
// skipped. The returned matches are in rank order.
func (e *Engine) ProposeMatches(ctx context.Context, receipt model.Receipt, candidates []model.Candidate) ([]model.Match, error) {
	aliases := e.aliases(ctx, receipt.UserID)
	ranked := e.Rank(receipt, candidates, aliases)
	if len(ranked) == 0 {
		slog.Debug("No candidates cleared the minimum score",
			"receipt_id", receipt.ID,
			"candidates", len(candidates),
			"min_score", e.cfg.MinScore)
		return nil, nil
	}

	matches := make([]model.Match, len(ranked))
	for i := range ranked {
		ranked[i].Match.ID = e.newID()
		matches[i] = ranked[i].Match
	}

	inserted, err := e.store.SaveProposals(ctx, matches)
	if err != nil {
		return nil, fmt.Errorf("failed to save proposals for receipt %s: %w", receipt.ID, err)
	}

	slog.Info("Proposed matches",
		"receipt_id", receipt.ID,
		"candidates", len(candidates),
		"proposed", len(inserted))
	return inserted, nil
}

// ProposeForReceipt loads the receipt and searches unmatched transactions and
// groups around its date. Receipts without a date search their upload month.
func (e *Engine) ProposeForReceipt(ctx context.Context, receiptID string) ([]model.Match, error) {
	receipt, err := e.store.GetReceipt(ctx, receiptID)
	if err != nil {
		return nil, fmt.Errorf("failed to load receipt: %w", err)
	}
	if receipt.MatchFlag == model.FlagMatched {
		return nil, common.NewUserError(fmt.Sprintf("receipt %s is already matched", receiptID), common.ErrMatchConflict)
	}

	start, end := e.candidateWindow(*receipt)
	candidates, err := e.store.MatchCandidates(ctx, receipt.UserID, start, end)
	if err != nil {
		return nil, fmt.Errorf("failed to load match candidates: %w", err)
	}
	return e.ProposeMatches(ctx, *receipt, candidates)
}

func (e *Engine) candidateWindow(receipt model.Receipt) (time.Time, time.Time) {
	if d := receipt.Extraction.TransactionDate; d != nil {
		day := time.Date(d.Year(), d.Month(), d.Day(), 0, 0, 0, 0, time.UTC)
		return day.AddDate(0, 0, -e.cfg.CandidateWindowDays), day.AddDate(0, 0, e.cfg.CandidateWindowDays+1)
	}
	period := model.PeriodOf(receipt.UploadedAt)
	return period.Start(), period.End()
}

// Confirm transitions a proposed match to confirmed. It fails with
// common.ErrMatchConflict when the receipt or target is already claimed.
func (e *Engine) Confirm(ctx context.Context, matchID, actorID string) (*model.Match, error) {
	match, err := e.store.ConfirmMatch(ctx, matchID, actorID, e.now())
	if err != nil {
		if errors.Is(err, common.ErrMatchConflict) {
			slog.Warn("Match confirmation conflict", "match_id", matchID, "error", err)
		}
		return nil, fmt.Errorf("failed to confirm match %s: %w", matchID, err)
	}

	slog.Info("Confirmed match",
		"match_id", match.ID,
		"receipt_id", match.ReceiptID,
		"target_kind", match.Target.Kind(),
		"target_id", match.Target.TargetID(),
		"actor", actorID)
	return match, nil
}

// Reject transitions a proposed match to rejected. The record is kept.
func (e *Engine) Reject(ctx context.Context, matchID string) (*model.Match, error) {
	match, err := e.store.RejectMatch(ctx, matchID, e.now())
	if err != nil {
		return nil, fmt.Errorf("failed to reject match %s: %w", matchID, err)
	}
	slog.Info("Rejected match", "match_id", match.ID, "receipt_id", match.ReceiptID)
	return match, nil
}

// CreateManualMatch records a user-chosen pairing as a confirmed match. The
// same conflict rules as Confirm apply.
func (e *Engine) CreateManualMatch(ctx context.Context, receiptID string, target model.MatchTarget, actorID string) (*model.Match, error) {
	receipt, err := e.store.GetReceipt(ctx, receiptID)
	if err != nil {
		return nil, fmt.Errorf("failed to load receipt: %w", err)
	}

	candidate, err := e.candidateFor(ctx, target)
	if err != nil {
		return nil, err
	}
	result := e.calc.Score(*receipt, candidate, e.aliases(ctx, receipt.UserID))

	now := e.now()
	match := &model.Match{
		ID:          e.newID(),
		ReceiptID:   receipt.ID,
		Target:      target,
		Status:      model.MatchConfirmed,
		Scores:      result.Scores,
		IsManual:    true,
		ConfirmedBy: actorID,
		ConfirmedAt: &now,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if result.AliasID != "" {
		aliasID := result.AliasID
		match.VendorAliasID = &aliasID
	}

	if err := e.store.SaveManualMatch(ctx, match); err != nil {
		return nil, fmt.Errorf("failed to save manual match: %w", err)
	}

	slog.Info("Created manual match",
		"match_id", match.ID,
		"receipt_id", receipt.ID,
		"target_id", target.TargetID(),
		"actor", actorID)
	return match, nil
}

// Unmatch deletes a match at the user's request.
func (e *Engine) Unmatch(ctx context.Context, matchID string) error {
	if err := e.store.DeleteMatch(ctx, matchID); err != nil {
		return fmt.Errorf("failed to delete match %s: %w", matchID, err)
	}
	slog.Info("Deleted match", "match_id", matchID)
	return nil
}

// MatchesForReceipt lists every match recorded for a receipt.
func (e *Engine) MatchesForReceipt(ctx context.Context, receiptID string) ([]model.Match, error) {
	matches, err := e.store.ListMatchesByReceipt(ctx, receiptID)
	if err != nil {
		return nil, fmt.Errorf("failed to list matches: %w", err)
	}
	return matches, nil
}

// ConfirmedMatchesInPeriod returns confirmed matches whose transaction or group
// date falls in the period, in the store's order: target date, then creation
// time, then ID.
func (e *Engine) ConfirmedMatchesInPeriod(ctx context.Context, userID string, period model.Period) ([]model.ConfirmedMatch, error) {
	matches, err := e.store.ConfirmedMatchesInPeriod(ctx, userID, period)
	if err != nil {
		return nil, fmt.Errorf("failed to load confirmed matches: %w", err)
	}
	return matches, nil
}

func (e *Engine) candidateFor(ctx context.Context, target model.MatchTarget) (model.Candidate, error) {
	switch t := target.(type) {
	case model.TransactionTarget:
		txn, err := e.store.GetTransaction(ctx, t.TransactionID)
		if err != nil {
			return model.Candidate{}, fmt.Errorf("failed to load transaction: %w", err)
		}
		return model.CandidateFromTransaction(*txn), nil
	case model.GroupTarget:
		group, err := e.store.GetGroup(ctx, t.GroupID)
		if err != nil {
			return model.Candidate{}, fmt.Errorf("failed to load group: %w", err)
		}
		return model.CandidateFromGroup(*group), nil
	default:
		return model.Candidate{}, fmt.Errorf("unsupported match target %T", target)
	}
}

// aliases loads the user's vendor aliases. Scoring continues without them
// when the lookup fails.
func (e *Engine) aliases(ctx context.Context, userID string) []model.VendorAlias {
	aliases, err := e.store.ListVendorAliases(ctx, userID)
	if err != nil {
		slog.Warn("Failed to load vendor aliases, scoring without them", "user_id", userID, "error", err)
		return nil
	}
	return aliases
}
