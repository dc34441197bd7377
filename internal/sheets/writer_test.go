package sheets

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/Veraticus/expensetrack/internal/model"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/option"
	"google.golang.org/api/sheets/v4"
)

// fakeSheetsAPI records the calls a Writer makes.
type fakeSheetsAPI struct {
	existingTabs []string
	writes       []sheets.ValueRange
	writeRanges  []string
	addedTabs    []string
	clears       int
	formats      int
	mu           sync.Mutex
}

func (f *fakeSheetsAPI) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	body, _ := io.ReadAll(r.Body)
	w.Header().Set("Content-Type", "application/json")
	path := r.URL.Path

	switch {
	case r.Method == http.MethodGet:
		spreadsheet := sheets.Spreadsheet{SpreadsheetId: "sheet-1"}
		for i, title := range f.existingTabs {
			spreadsheet.Sheets = append(spreadsheet.Sheets, &sheets.Sheet{
				Properties: &sheets.SheetProperties{SheetId: int64(i + 7), Title: title},
			})
		}
		_ = json.NewEncoder(w).Encode(spreadsheet)
	case strings.HasSuffix(path, ":batchUpdate"):
		var req sheets.BatchUpdateSpreadsheetRequest
		_ = json.Unmarshal(body, &req)
		resp := sheets.BatchUpdateSpreadsheetResponse{SpreadsheetId: "sheet-1"}
		if len(req.Requests) == 1 && req.Requests[0].AddSheet != nil {
			f.addedTabs = append(f.addedTabs, req.Requests[0].AddSheet.Properties.Title)
			resp.Replies = []*sheets.Response{{
				AddSheet: &sheets.AddSheetResponse{
					Properties: &sheets.SheetProperties{SheetId: 42, Title: req.Requests[0].AddSheet.Properties.Title},
				},
			}}
		} else {
			f.formats++
		}
		_ = json.NewEncoder(w).Encode(resp)
	case strings.HasSuffix(path, ":clear"):
		f.clears++
		_, _ = io.WriteString(w, `{}`)
	case r.Method == http.MethodPut:
		var vr sheets.ValueRange
		_ = json.Unmarshal(body, &vr)
		f.writes = append(f.writes, vr)
		f.writeRanges = append(f.writeRanges, path[strings.LastIndex(path, "/")+1:])
		_, _ = io.WriteString(w, `{}`)
	default:
		http.Error(w, "unexpected request "+r.Method+" "+path, http.StatusNotFound)
	}
}

func newTestWriter(t *testing.T, api *fakeSheetsAPI, batchSize int) *Writer {
	t.Helper()

	server := httptest.NewServer(api)
	t.Cleanup(server.Close)

	svc, err := sheets.NewService(context.Background(),
		option.WithEndpoint(server.URL+"/"),
		option.WithHTTPClient(server.Client()))
	require.NoError(t, err)

	config := DefaultConfig()
	config.SpreadsheetID = "sheet-1"
	config.ServiceAccountPath = "/unused.json"
	config.BatchSize = batchSize
	config.RetryDelay = time.Millisecond
	return newWriterWithService(svc, config, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func testReport() *model.ExpenseReport {
	june := func(day int) time.Time { return time.Date(2025, time.June, day, 0, 0, 0, 0, time.UTC) }
	return &model.ExpenseReport{
		ID:     "report-1",
		Period: model.Period{Year: 2025, Month: time.June},
		Lines: []model.ExpenseLine{
			{
				LineNumber: 1, TransactionDate: june(3), Vendor: "Delta Airlines", Description: "DELTA AIR 0062",
				Amount: decimal.RequireFromString("412.20"), GLCode: "6100", DepartmentCode: "OPS",
				GLSource: model.SourceAlias, DepartmentSource: model.SourceAlias, HasReceipt: true, ReceiptID: "rcpt-1",
			},
			{
				LineNumber: 2, TransactionDate: june(9), Vendor: "Uber", Description: "UBER *TRIP",
				Amount: decimal.RequireFromString("24.10"), GLCode: "6150",
				GLSource: model.SourceEmbedding, Justification: model.JustificationBelowThreshold, NeedsReview: true,
			},
		},
		TotalAmount:         decimal.RequireFromString("436.30"),
		LineCount:           2,
		MissingReceiptCount: 1,
		NeedsReviewCount:    1,
	}
}

func TestWriter_Export(t *testing.T) {
	api := &fakeSheetsAPI{existingTabs: []string{"Sheet1"}}
	writer := newTestWriter(t, api, 500)

	result, err := writer.Export(context.Background(), testReport())
	require.NoError(t, err)

	assert.Equal(t, "sheet-1", result.SpreadsheetID)
	assert.Equal(t, "Expenses 2025-06", result.Tab)
	assert.Equal(t, 10, result.Rows)
	assert.Equal(t, []string{"Expenses 2025-06"}, api.addedTabs)
	assert.Equal(t, 1, api.clears)
	assert.Equal(t, 1, api.formats)

	require.Len(t, api.writes, 1)
	rows := api.writes[0].Values
	require.Len(t, rows, 10)
	assert.Equal(t, []any{"Expense Report", "2025-06"}, rows[0])
	assert.Equal(t, "Date", rows[2][0])
	assert.Equal(t, []any{"2025-06-03", "6100", "OPS", "Delta Airlines", "DELTA AIR 0062", 412.2, "rcpt-1", "", "Alias", ""}, rows[3])
	assert.Equal(t, []any{"2025-06-09", "6150", "", "Uber", "UBER *TRIP", 24.1, "", "BelowThreshold", "Embedding", "yes"}, rows[4])
	assert.Equal(t, []any{"Total", "", "", "", "", 436.3}, rows[6])
}

func TestWriter_ExportReusesTabAndBatches(t *testing.T) {
	api := &fakeSheetsAPI{existingTabs: []string{"Expenses 2025-06"}}
	writer := newTestWriter(t, api, 4)

	result, err := writer.Export(context.Background(), testReport())
	require.NoError(t, err)

	assert.Empty(t, api.addedTabs)
	assert.Equal(t, 10, result.Rows)
	require.Len(t, api.writes, 3)
	assert.Len(t, api.writes[0].Values, 4)
	assert.Len(t, api.writes[2].Values, 2)
	assert.Equal(t, "'Expenses 2025-06'!A5", api.writeRanges[1])
}

func TestWriter_ExportNilReport(t *testing.T) {
	writer := newTestWriter(t, &fakeSheetsAPI{}, 500)
	_, err := writer.Export(context.Background(), nil)
	assert.Error(t, err)
}

func TestSource(t *testing.T) {
	tests := []struct {
		line model.ExpenseLine
		want string
	}{
		{line: model.ExpenseLine{}, want: ""},
		{line: model.ExpenseLine{GLSource: model.SourceAlias, DepartmentSource: model.SourceAlias}, want: "Alias"},
		{line: model.ExpenseLine{GLSource: model.SourceAlias}, want: "Alias"},
		{line: model.ExpenseLine{DepartmentSource: model.SourcePrediction}, want: "Prediction"},
		{line: model.ExpenseLine{GLSource: model.SourceAlias, DepartmentSource: model.SourceEmbedding}, want: "Alias / Embedding"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, source(tt.line))
	}
}
