// Package service defines the storage and collaborator contracts shared by the engines.
package service

import (
	"context"
	"time"

	"github.com/Veraticus/expensetrack/internal/model"
)

// TransactionStore persists imported transactions and transaction groups.
type TransactionStore interface {
	SaveTransactions(ctx context.Context, transactions []model.Transaction) (int, error)
	GetTransaction(ctx context.Context, id string) (*model.Transaction, error)
	GetTransactionsByIDs(ctx context.Context, ids []string) ([]model.Transaction, error)
	GetTransactionsByDateRange(ctx context.Context, userID string, start, end time.Time) ([]model.Transaction, error)
	// UnmatchedTransactionsInPeriod returns transactions with no confirmed match,
	// neither directly nor through their group, ordered by date then id.
	UnmatchedTransactionsInPeriod(ctx context.Context, userID string, period model.Period) ([]model.Transaction, error)
	// MatchCandidates returns unconfirmed ungrouped transactions and unconfirmed
	// groups whose date falls in [start, end).
	MatchCandidates(ctx context.Context, userID string, start, end time.Time) ([]model.Candidate, error)
	CreateGroup(ctx context.Context, group *model.TransactionGroup) error
	GetGroup(ctx context.Context, id string) (*model.TransactionGroup, error)
}

// ReceiptStore persists receipts and their extraction results.
type ReceiptStore interface {
	SaveReceipt(ctx context.Context, receipt *model.Receipt) error
	GetReceipt(ctx context.Context, id string) (*model.Receipt, error)
	ListReceipts(ctx context.Context, userID string, flag model.MatchFlag) ([]model.Receipt, error)
}

// MatchStore persists matches and enforces confirmed-match uniqueness.
type MatchStore interface {
	// SaveProposals inserts proposed matches, skipping pairs that already have
	// a match in any status, and returns the inserted ones.
	SaveProposals(ctx context.Context, matches []model.Match) ([]model.Match, error)
	GetMatch(ctx context.Context, id string) (*model.Match, error)
	ListMatchesByReceipt(ctx context.Context, receiptID string) ([]model.Match, error)
	// ConfirmMatch confirms a proposed match. It returns common.ErrMatchConflict
	// when another confirmed match already claims the receipt or target.
	ConfirmMatch(ctx context.Context, id, actorID string, at time.Time) (*model.Match, error)
	RejectMatch(ctx context.Context, id string, at time.Time) (*model.Match, error)
	// SaveManualMatch stores a match created directly in confirmed state.
	SaveManualMatch(ctx context.Context, match *model.Match) error
	DeleteMatch(ctx context.Context, id string) error
	// ConfirmedMatchesInPeriod returns confirmed matches whose target date falls
	// in period, ordered by target date, then creation time, then id.
	ConfirmedMatchesInPeriod(ctx context.Context, userID string, period model.Period) ([]model.ConfirmedMatch, error)
}

// AliasStore persists vendor aliases.
type AliasStore interface {
	SaveVendorAlias(ctx context.Context, alias *model.VendorAlias) error
	ListVendorAliases(ctx context.Context, userID string) ([]model.VendorAlias, error)
	DeleteVendorAlias(ctx context.Context, id string) error
}

// DescriptionCacheStore persists normalized description to code associations.
type DescriptionCacheStore interface {
	GetDescriptionCache(ctx context.Context, userID, normalizedDescription string) (*model.DescriptionCacheEntry, error)
	SaveDescriptionCache(ctx context.Context, entry *model.DescriptionCacheEntry) error
}

// EmbeddingStore persists embedding vectors and answers nearest-neighbor queries.
type EmbeddingStore interface {
	SaveEmbedding(ctx context.Context, record *model.EmbeddingRecord) error
	NeighborIndex
}

// PatternStore persists learned expense patterns.
type PatternStore interface {
	SaveExpensePattern(ctx context.Context, pattern *model.ExpensePattern) error
	ListExpensePatterns(ctx context.Context, userID string) ([]model.ExpensePattern, error)
}

// ReportStore persists expense reports with their lines.
type ReportStore interface {
	SaveReport(ctx context.Context, report *model.ExpenseReport) error
	GetReport(ctx context.Context, id string) (*model.ExpenseReport, error)
	DeleteReport(ctx context.Context, id string) error
}

// JobFilter defines filtering criteria for listing jobs.
type JobFilter struct {
	UserID string
	Status model.JobStatus
	Limit  int
}

// JobStore persists report generation jobs. Status changes go through
// TransitionJob so a terminal write never overwrites a concurrent one.
type JobStore interface {
	CreateJob(ctx context.Context, job *model.ReportGenerationJob) error
	GetJob(ctx context.Context, id string) (*model.ReportGenerationJob, error)
	ListJobs(ctx context.Context, filter JobFilter) ([]model.ReportGenerationJob, error)
	UpdateJob(ctx context.Context, job *model.ReportGenerationJob) error
	UpdateProgress(ctx context.Context, id string, processed, failed int, estimatedCompletion *time.Time) error
	IsCancellationRequested(ctx context.Context, id string) (bool, error)
	// TransitionJob re-reads the job, and only if its current status is one of
	// from applies fn and persists the result. Otherwise it returns
	// common.ErrInvalidTransition together with the current job.
	TransitionJob(ctx context.Context, id string, from []model.JobStatus, fn func(*model.ReportGenerationJob)) (*model.ReportGenerationJob, error)
}

// Storage is the full persistence layer.
type Storage interface {
	TransactionStore
	ReceiptStore
	MatchStore
	AliasStore
	DescriptionCacheStore
	EmbeddingStore
	PatternStore
	ReportStore
	JobStore

	Migrate(ctx context.Context) error
	Close() error
}
