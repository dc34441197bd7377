package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// ReportStatus is the workflow state of an expense report.
type ReportStatus string

// Report status constants.
const (
	ReportDraft     ReportStatus = "draft"
	ReportSubmitted ReportStatus = "submitted"
)

// Justification explains why a line has no receipt attached.
type Justification string

// Justification codes.
const (
	JustificationNone           Justification = ""
	JustificationMissingReceipt Justification = "MissingReceipt"
	JustificationBelowThreshold Justification = "BelowThreshold"
)

// ExpenseLine is one row of an expense report.
type ExpenseLine struct {
	TransactionDate       time.Time
	ReceiptDate           *time.Time
	Amount                decimal.Decimal
	ID                    string
	ReportID              string
	TransactionID         string // Empty for lines backed by a group
	GroupID               string
	ReceiptID             string
	MatchID               string
	Vendor                string
	Description           string
	NormalizedDescription string
	GLCode                string
	SuggestedGLCode       string
	GLSource              Source
	DepartmentCode        string
	SuggestedDepartment   string
	DepartmentSource      Source
	Justification         Justification
	PredictionID          string
	LineNumber            int
	GLTier                Tier
	DepartmentTier        Tier
	HasReceipt            bool
	AutoSuggested         bool
	NeedsReview           bool
	ProcessingFailed      bool
}

// ExpenseReport is the assembled, auditable report for one period.
type ExpenseReport struct {
	CreatedAt           time.Time
	TotalAmount         decimal.Decimal
	ID                  string
	UserID              string
	JobID               string
	Status              ReportStatus
	Lines               []ExpenseLine
	Period              Period
	TierCounts          TierCounts
	LineCount           int
	MissingReceiptCount int
	NeedsReviewCount    int
	FailedLineCount     int
}
