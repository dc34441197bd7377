package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// LineItem is one itemized row read off a receipt.
type LineItem struct {
	Total       *decimal.Decimal `json:"total,omitempty"`
	Description string           `json:"description"`
	Quantity    decimal.Decimal  `json:"quantity"`
}

// ExtractionResult holds the raw field values produced by document extraction.
// Only the vendor text, total amount and transaction date feed matching.
type ExtractionResult struct {
	TransactionDate  *time.Time         `json:"transaction_date,omitempty"`
	TotalAmount      *decimal.Decimal   `json:"total_amount,omitempty"`
	TaxAmount        *decimal.Decimal   `json:"tax_amount,omitempty"`
	ConfidenceScores map[string]float64 `json:"confidence_scores,omitempty"`
	VendorName       string             `json:"vendor_name"`
	Currency         string             `json:"currency,omitempty"`
	LineItems        []LineItem         `json:"line_items,omitempty"`
}

// Receipt is an uploaded receipt document together with its extraction result.
type Receipt struct {
	UploadedAt time.Time
	Extraction ExtractionResult
	ID         string
	UserID     string
	FileName   string
	MatchFlag  MatchFlag
}
