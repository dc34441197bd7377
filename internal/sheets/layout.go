package sheets

import (
	"fmt"

	"github.com/Veraticus/expensetrack/internal/model"
)

// Row offsets of the exported tab.
const (
	headerRows   = 3 // Title, blank, column headers
	amountColumn = 5
	columnCount  = 10
)

var columnHeaders = []any{
	"Date",
	"GL Acct/Job",
	"Dept/Phase",
	"Vendor",
	"Description",
	"Amount",
	"Receipt",
	"Justification",
	"Source",
	"Needs Review",
}

// TabTitle names the tab holding a report.
func TabTitle(report *model.ExpenseReport) string {
	return "Expenses " + report.Period.String()
}

// reportValues lays a report out as sheet rows: title, column headers, one
// row per line, then totals.
func reportValues(report *model.ExpenseReport) [][]any {
	values := make([][]any, 0, headerRows+len(report.Lines)+5)
	values = append(values,
		[]any{"Expense Report", report.Period.String()},
		[]any{},
		columnHeaders,
	)

	for _, line := range report.Lines {
		receipt := ""
		if line.HasReceipt {
			receipt = line.ReceiptID
		}
		review := ""
		if line.NeedsReview {
			review = "yes"
		}
		values = append(values, []any{
			line.TransactionDate.Format("2006-01-02"),
			line.GLCode,
			line.DepartmentCode,
			line.Vendor,
			line.Description,
			line.Amount.InexactFloat64(),
			receipt,
			string(line.Justification),
			source(line),
			review,
		})
	}

	values = append(values,
		[]any{},
		[]any{"Total", "", "", "", "", report.TotalAmount.InexactFloat64()},
		[]any{"Lines", report.LineCount},
		[]any{"Missing receipts", report.MissingReceiptCount},
		[]any{"Needs review", report.NeedsReviewCount},
	)
	return values
}

// source summarizes where a line's codes came from.
func source(line model.ExpenseLine) string {
	gl, dept := string(line.GLSource), string(line.DepartmentSource)
	switch {
	case gl == "" && dept == "":
		return ""
	case gl == dept || dept == "":
		return gl
	case gl == "":
		return dept
	default:
		return fmt.Sprintf("%s / %s", gl, dept)
	}
}
