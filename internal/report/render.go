package report

import (
	"fmt"
	"io"
	"strings"

	"github.com/Veraticus/expensetrack/internal/model"
	"github.com/gocarina/gocsv"
	"github.com/shopspring/decimal"
)

// RenderMarkdown writes the report as a markdown expense table followed by
// a short summary.
func RenderMarkdown(w io.Writer, report *model.ExpenseReport) error {
	var b strings.Builder

	fmt.Fprintf(&b, "# Expense Report %s\n\n", report.Period)
	b.WriteString("| Date | GL Acct/Job | Dept/Phase | Description | Amount |\n")
	b.WriteString("|------|-------------|------------|-------------|--------|\n")
	for _, line := range report.Lines {
		fmt.Fprintf(&b, "| %s | %s | %s | %s | %s |\n",
			line.TransactionDate.Format("01/02/2006"),
			cell(line.GLCode),
			cell(line.DepartmentCode),
			cell(describe(line)),
			FormatMoney(line.Amount))
	}
	fmt.Fprintf(&b, "| **Total** | | | | **%s** |\n\n", FormatMoney(report.TotalAmount))

	b.WriteString("## Summary\n\n")
	fmt.Fprintf(&b, "- Lines: %d\n", report.LineCount)
	fmt.Fprintf(&b, "- Missing receipts: %d\n", report.MissingReceiptCount)
	fmt.Fprintf(&b, "- Needs review: %d\n", report.NeedsReviewCount)
	if report.FailedLineCount > 0 {
		fmt.Fprintf(&b, "- Failed lines: %d\n", report.FailedLineCount)
	}
	fmt.Fprintf(&b, "- Tier hits: alias %d, description cache %d, embedding %d\n",
		report.TierCounts.Tier1, report.TierCounts.Tier2, report.TierCounts.Tier3)

	_, err := io.WriteString(w, b.String())
	return err
}

// csvLine is the CSV export row.
type csvLine struct {
	Date             string `csv:"Date"`
	Vendor           string `csv:"Vendor"`
	Description      string `csv:"Description"`
	Amount           string `csv:"Amount"`
	GLCode           string `csv:"GL Code"`
	GLSource         string `csv:"GL Source"`
	Department       string `csv:"Department"`
	DepartmentSource string `csv:"Department Source"`
	Receipt          string `csv:"Receipt"`
	Justification    string `csv:"Justification"`
	Line             int    `csv:"Line"`
	NeedsReview      bool   `csv:"Needs Review"`
}

// RenderCSV writes one CSV row per report line.
func RenderCSV(w io.Writer, report *model.ExpenseReport) error {
	rows := make([]csvLine, 0, len(report.Lines))
	for _, line := range report.Lines {
		rows = append(rows, csvLine{
			Line:             line.LineNumber,
			Date:             line.TransactionDate.Format("2006-01-02"),
			Vendor:           line.Vendor,
			Description:      line.Description,
			Amount:           line.Amount.StringFixed(2),
			GLCode:           line.GLCode,
			GLSource:         string(line.GLSource),
			Department:       line.DepartmentCode,
			DepartmentSource: string(line.DepartmentSource),
			Receipt:          line.ReceiptID,
			Justification:    string(line.Justification),
			NeedsReview:      line.NeedsReview,
		})
	}

	if err := gocsv.Marshal(&rows, w); err != nil {
		return fmt.Errorf("failed to write report CSV: %w", err)
	}
	return nil
}

// FormatMoney renders an amount as $1,234.56.
func FormatMoney(amount decimal.Decimal) string {
	sign := ""
	if amount.IsNegative() {
		sign = "-"
		amount = amount.Abs()
	}

	fixed := amount.StringFixed(2)
	whole, frac, _ := strings.Cut(fixed, ".")

	var grouped strings.Builder
	for i, digit := range whole {
		if i > 0 && (len(whole)-i)%3 == 0 {
			grouped.WriteByte(',')
		}
		grouped.WriteRune(digit)
	}
	return sign + "$" + grouped.String() + "." + frac
}

func describe(line model.ExpenseLine) string {
	text := line.Description
	if line.Vendor != "" && !strings.EqualFold(line.Vendor, line.Description) {
		text = line.Vendor + " - " + line.Description
	}
	if !line.HasReceipt && line.Justification != model.JustificationNone {
		text += " (" + string(line.Justification) + ")"
	}
	return text
}

func cell(s string) string {
	return strings.ReplaceAll(s, "|", "/")
}
