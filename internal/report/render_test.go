package report

import (
	"bytes"
	"strings"
	"testing"

	"github.com/Veraticus/expensetrack/internal/model"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleReport() *model.ExpenseReport {
	report := &model.ExpenseReport{
		ID:     "rep-1",
		Period: june,
		Lines: []model.ExpenseLine{
			{
				LineNumber:      1,
				TransactionDate: date(1),
				Amount:          decimal.RequireFromString("1450.00"),
				Vendor:          "Delta Airlines",
				Description:     "DELTA AIR 04928",
				GLCode:          "6300",
				GLSource:        model.SourceAlias,
				DepartmentCode:  "TRAVEL",
				HasReceipt:      true,
				ReceiptID:       "r1",
			},
			{
				LineNumber:      2,
				TransactionDate: date(5),
				Amount:          decimal.RequireFromString("20.50"),
				Vendor:          "STARBUCKS",
				Description:     "STARBUCKS",
				Justification:   model.JustificationBelowThreshold,
				NeedsReview:     true,
			},
		},
		TierCounts: model.TierCounts{Tier1: 1},
	}
	aggregate(report)
	return report
}

func TestRenderMarkdown(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, RenderMarkdown(&buf, sampleReport()))
	out := buf.String()

	assert.Contains(t, out, "# Expense Report 2025-06")
	assert.Contains(t, out, "| Date | GL Acct/Job | Dept/Phase | Description | Amount |")
	assert.Contains(t, out, "| 06/01/2025 | 6300 | TRAVEL | Delta Airlines - DELTA AIR 04928 | $1,450.00 |")
	assert.Contains(t, out, "| 06/05/2025 |  |  | STARBUCKS (BelowThreshold) | $20.50 |")
	assert.Contains(t, out, "| **Total** | | | | **$1,470.50** |")
	assert.Contains(t, out, "- Missing receipts: 1")
	assert.Contains(t, out, "- Tier hits: alias 1, description cache 0, embedding 0")
	assert.NotContains(t, out, "Failed lines")
}

func TestRenderCSV(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, RenderCSV(&buf, sampleReport()))

	rows := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, rows, 3)
	assert.Equal(t, "Date,Vendor,Description,Amount,GL Code,GL Source,Department,Department Source,Receipt,Justification,Line,Needs Review", rows[0])
	assert.Equal(t, "2025-06-01,Delta Airlines,DELTA AIR 04928,1450.00,6300,Alias,TRAVEL,,r1,,1,false", rows[1])
	assert.Equal(t, "2025-06-05,STARBUCKS,STARBUCKS,20.50,,,,,,BelowThreshold,2,true", rows[2])
}

func TestFormatMoney(t *testing.T) {
	tests := map[string]string{
		"0":           "$0.00",
		"7.5":         "$7.50",
		"999.99":      "$999.99",
		"1000":        "$1,000.00",
		"1234567.891": "$1,234,567.89",
		"-42.1":       "-$42.10",
	}
	for in, want := range tests {
		assert.Equal(t, want, FormatMoney(decimal.RequireFromString(in)), in)
	}
}
