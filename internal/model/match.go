package model

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// MatchStatus is the lifecycle state of a match.
type MatchStatus string

// Match status constants.
const (
	MatchProposed  MatchStatus = "proposed"
	MatchConfirmed MatchStatus = "confirmed"
	MatchRejected  MatchStatus = "rejected"
)

// TargetKind names the variant of a MatchTarget.
type TargetKind string

// Target kinds.
const (
	TargetTransaction TargetKind = "transaction"
	TargetGroup       TargetKind = "group"
)

// MatchTarget is the transaction side of a match: exactly one transaction or
// exactly one transaction group. The only implementations are
// TransactionTarget and GroupTarget.
type MatchTarget interface {
	TargetID() string
	Kind() TargetKind
	isMatchTarget()
}

// TransactionTarget points a match at a single transaction.
type TransactionTarget struct {
	TransactionID string
}

// TargetID implements MatchTarget.
func (t TransactionTarget) TargetID() string { return t.TransactionID }

// Kind implements MatchTarget.
func (t TransactionTarget) Kind() TargetKind { return TargetTransaction }

func (TransactionTarget) isMatchTarget() {}

// GroupTarget points a match at a transaction group.
type GroupTarget struct {
	GroupID string
}

// TargetID implements MatchTarget.
func (g GroupTarget) TargetID() string { return g.GroupID }

// Kind implements MatchTarget.
func (g GroupTarget) Kind() TargetKind { return TargetGroup }

func (GroupTarget) isMatchTarget() {}

// NewTarget builds a MatchTarget from its persisted kind and id.
func NewTarget(kind TargetKind, id string) (MatchTarget, error) {
	if id == "" {
		return nil, fmt.Errorf("match target id is required")
	}
	switch kind {
	case TargetTransaction:
		return TransactionTarget{TransactionID: id}, nil
	case TargetGroup:
		return GroupTarget{GroupID: id}, nil
	default:
		return nil, fmt.Errorf("unknown match target kind %q", kind)
	}
}

// Scores are the sub-scores and overall confidence of a match, each in [0,100].
type Scores struct {
	Amount  float64
	Date    float64
	Vendor  float64
	Overall float64
}

// Validate ensures every score lies in [0,100].
func (s Scores) Validate() error {
	for name, v := range map[string]float64{
		"amount":  s.Amount,
		"date":    s.Date,
		"vendor":  s.Vendor,
		"overall": s.Overall,
	} {
		if v < 0 || v > 100 {
			return fmt.Errorf("%s score must be between 0 and 100, got %.2f", name, v)
		}
	}
	return nil
}

// Match pairs a receipt with a transaction or transaction group.
type Match struct {
	CreatedAt     time.Time
	UpdatedAt     time.Time
	Target        MatchTarget
	ConfirmedAt   *time.Time
	VendorAliasID *string
	ID            string
	ReceiptID     string
	ConfirmedBy   string
	Status        MatchStatus
	Scores        Scores
	IsManual      bool
}

// Candidate is a transaction or group considered for a receipt, flattened to
// the fields scoring needs.
type Candidate struct {
	Date        time.Time
	Amount      decimal.Decimal
	Target      MatchTarget
	Description string
}

// CandidateFromTransaction flattens a transaction into a Candidate.
func CandidateFromTransaction(t Transaction) Candidate {
	return Candidate{
		Target:      TransactionTarget{TransactionID: t.ID},
		Date:        t.Date,
		Amount:      t.Amount,
		Description: t.Description,
	}
}

// CandidateFromGroup flattens a transaction group into a Candidate.
func CandidateFromGroup(g TransactionGroup) Candidate {
	return Candidate{
		Target:      GroupTarget{GroupID: g.ID},
		Date:        g.DisplayDate,
		Amount:      g.CombinedAmount,
		Description: g.Name,
	}
}

// ConfirmedMatch is a confirmed match joined with its receipt and a snapshot
// of the matched transaction or group.
type ConfirmedMatch struct {
	Receipt   Receipt
	Candidate Candidate
	Match     Match
	MemberIDs []string // Transaction ids behind the target
}
