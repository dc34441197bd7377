// Package model defines the core domain models used throughout the application.
package model

import (
	"crypto/sha256"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// MatchFlag mirrors the match lifecycle onto receipts, transactions and groups.
type MatchFlag string

// Match flag constants.
const (
	FlagUnmatched MatchFlag = "unmatched"
	FlagProposed  MatchFlag = "proposed"
	FlagMatched   MatchFlag = "matched"
)

// Transaction represents a single imported bank or card transaction.
// Transactions are immutable once imported; only MatchFlag changes afterwards.
type Transaction struct {
	Date        time.Time
	ImportedAt  time.Time
	Amount      decimal.Decimal
	GroupID     *string
	ID          string
	UserID      string
	AccountID   string
	Description string // Raw statement text
	Hash        string
	MatchFlag   MatchFlag
}

// GenerateHash creates a unique hash for duplicate detection.
func (t *Transaction) GenerateHash() string {
	data := fmt.Sprintf("%s:%s:%s:%s:%s",
		t.UserID,
		t.Date.Format("2006-01-02"),
		t.Amount.StringFixed(2),
		strings.ToUpper(strings.TrimSpace(t.Description)),
		t.AccountID)
	hash := sha256.Sum256([]byte(data))
	return fmt.Sprintf("%x", hash)
}

// TransactionGroup aggregates several transactions (split charges) under one
// nominal date and amount for matching purposes.
type TransactionGroup struct {
	DisplayDate    time.Time
	CreatedAt      time.Time
	CombinedAmount decimal.Decimal
	ID             string
	UserID         string
	Name           string
	MatchFlag      MatchFlag
	TransactionIDs []string
}

// NewTransactionGroup builds a group from its members. The combined amount is
// the sum of member amounts and the display date is the earliest member date.
func NewTransactionGroup(id, userID, name string, members []Transaction) (TransactionGroup, error) {
	if len(members) < 2 {
		return TransactionGroup{}, fmt.Errorf("a transaction group needs at least two members, got %d", len(members))
	}

	group := TransactionGroup{
		ID:             id,
		UserID:         userID,
		Name:           name,
		MatchFlag:      FlagUnmatched,
		CombinedAmount: decimal.Zero,
		TransactionIDs: make([]string, 0, len(members)),
	}

	for i, member := range members {
		if member.UserID != userID {
			return TransactionGroup{}, fmt.Errorf("transaction %s belongs to a different user", member.ID)
		}
		if member.GroupID != nil {
			return TransactionGroup{}, fmt.Errorf("transaction %s is already grouped", member.ID)
		}
		if member.MatchFlag == FlagMatched {
			return TransactionGroup{}, fmt.Errorf("transaction %s is already matched", member.ID)
		}
		group.CombinedAmount = group.CombinedAmount.Add(member.Amount)
		group.TransactionIDs = append(group.TransactionIDs, member.ID)
		if i == 0 || member.Date.Before(group.DisplayDate) {
			group.DisplayDate = member.Date
		}
	}

	if group.Name == "" {
		group.Name = members[0].Description
	}

	return group, nil
}
