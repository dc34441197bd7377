// Package ofx imports bank and credit card statements in OFX/QFX format.
package ofx

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/Veraticus/expensetrack/internal/model"
	"github.com/aclindsa/ofxgo"
	"github.com/shopspring/decimal"
)

var (
	severityRegex = regexp.MustCompile(`(?i)<SEVERITY>(Info|Warn|Error)</SEVERITY>`)
	// Opening tags at the end of a line that lost their closing bracket.
	openTagRegex = regexp.MustCompile(`(?m)^(\s*<[A-Z][A-Z0-9._]*[A-Z0-9])$`)
)

// Statement is the result of parsing one file.
type Statement struct {
	Transactions []model.Transaction
	Accounts     []string
	// Credits counts deposits, refunds and payments left out of Transactions.
	Credits int
}

// Parser converts OFX statements into expense transactions for one user.
// Debits become transactions with positive amounts. Credits are skipped
// unless the parser was created WithCredits.
type Parser struct {
	now            func() time.Time
	userID         string
	includeCredits bool
}

// Option configures a Parser.
type Option func(*Parser)

// WithCredits keeps credit rows as negative-amount transactions.
func WithCredits() Option {
	return func(p *Parser) { p.includeCredits = true }
}

// WithClock overrides the import timestamp source.
func WithClock(now func() time.Time) Option {
	return func(p *Parser) { p.now = now }
}

// NewParser creates a parser that assigns transactions to userID.
func NewParser(userID string, opts ...Option) *Parser {
	p := &Parser{userID: userID, now: time.Now}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Parse reads a statement file.
func (p *Parser) Parse(ctx context.Context, reader io.Reader) (*Statement, error) {
	content, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("failed to read OFX file: %w", err)
	}

	resp, err := ofxgo.ParseResponse(strings.NewReader(preprocess(string(content))))
	if err != nil {
		return nil, fmt.Errorf("failed to parse OFX file: %w", err)
	}

	stmt := &Statement{}
	accounts := make(map[string]bool)
	importedAt := p.now().UTC()

	for _, msg := range resp.Bank {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		bank, ok := msg.(*ofxgo.StatementResponse)
		if !ok {
			continue
		}
		accountID := string(bank.BankAcctFrom.AcctID)
		accounts[accountID] = true
		if bank.BankTranList != nil {
			p.collect(stmt, bank.BankTranList.Transactions, accountID, importedAt)
		}
	}

	for _, msg := range resp.CreditCard {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		card, ok := msg.(*ofxgo.CCStatementResponse)
		if !ok {
			continue
		}
		accountID := string(card.CCAcctFrom.AcctID)
		accounts[accountID] = true
		if card.BankTranList != nil {
			p.collect(stmt, card.BankTranList.Transactions, accountID, importedAt)
		}
	}

	for account := range accounts {
		if account != "" {
			stmt.Accounts = append(stmt.Accounts, account)
		}
	}
	sort.Strings(stmt.Accounts)

	slog.Info("Parsed OFX file",
		"transactions", len(stmt.Transactions),
		"credits_skipped", stmt.Credits,
		"accounts", len(stmt.Accounts))
	return stmt, nil
}

func (p *Parser) collect(stmt *Statement, rows []ofxgo.Transaction, accountID string, importedAt time.Time) {
	for _, row := range rows {
		txn, err := p.convert(row, accountID, importedAt)
		if err != nil {
			slog.Warn("Skipping unreadable OFX transaction",
				"account", accountID,
				"fitid", string(row.FiTID),
				"error", err)
			continue
		}
		if txn.Amount.IsNegative() && !p.includeCredits {
			stmt.Credits++
			continue
		}
		stmt.Transactions = append(stmt.Transactions, txn)
	}
}

// convert maps one OFX row. OFX amounts are negative for money leaving the
// account, so the sign is flipped to make spending positive.
func (p *Parser) convert(row ofxgo.Transaction, accountID string, importedAt time.Time) (model.Transaction, error) {
	amount, err := decimal.NewFromString(row.TrnAmt.FloatString(2))
	if err != nil {
		return model.Transaction{}, fmt.Errorf("invalid amount: %w", err)
	}

	posted := row.DtPosted.Time
	txn := model.Transaction{
		UserID:      p.userID,
		AccountID:   accountID,
		Date:        time.Date(posted.Year(), posted.Month(), posted.Day(), 0, 0, 0, 0, time.UTC),
		Amount:      amount.Neg(),
		Description: description(row),
		MatchFlag:   model.FlagUnmatched,
		ImportedAt:  importedAt,
	}
	txn.Hash = txn.GenerateHash()

	if fitID := strings.TrimSpace(string(row.FiTID)); fitID != "" {
		txn.ID = accountID + "-" + fitID
	} else {
		txn.ID = accountID + "-" + txn.Hash[:16]
	}
	return txn, nil
}

// description picks the most useful statement text for a row.
func description(row ofxgo.Transaction) string {
	if row.Payee != nil && row.Payee.Name != "" {
		return strings.TrimSpace(string(row.Payee.Name))
	}

	name := strings.TrimSpace(string(row.Name))
	if row.Memo != "" && isGeneric(name) {
		name = strings.TrimSpace(string(row.Memo))
	}

	upper := strings.ToUpper(name)
	for _, prefix := range []string{
		"POS PURCHASE ",
		"PURCHASE AUTHORIZED ON ",
		"DEBIT CARD PURCHASE ",
		"ACH DEBIT ",
		"CHECK CARD ",
		"VISA PURCHASE ",
		"MC PURCHASE ",
		"DEBIT PURCHASE ",
	} {
		if strings.HasPrefix(upper, prefix) {
			name = name[len(prefix):]
			break
		}
	}

	// Leading MM/DD posting dates.
	if len(name) > 5 && name[2] == '/' && name[5] == ' ' {
		name = strings.TrimSpace(name[6:])
	}
	return name
}

func isGeneric(name string) bool {
	switch strings.ToUpper(name) {
	case "DEBIT", "CREDIT", "PURCHASE", "PAYMENT", "POS TRANSACTION", "CARD PURCHASE":
		return true
	default:
		return false
	}
}

// preprocess repairs formatting mistakes some banks make.
func preprocess(content string) string {
	content = strings.TrimLeft(content, " \t\r\n")
	content = severityRegex.ReplaceAllStringFunc(content, strings.ToUpper)
	return openTagRegex.ReplaceAllString(content, "$1>")
}
