package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/Veraticus/expensetrack/internal/cli"
	"github.com/Veraticus/expensetrack/internal/common"
	"github.com/Veraticus/expensetrack/internal/model"
	"github.com/Veraticus/expensetrack/internal/report"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"
)

func receiptsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "receipts",
		Short: "Manage uploaded receipts",
	}

	cmd.AddCommand(receiptsAddCmd())
	cmd.AddCommand(receiptsListCmd())

	return cmd
}

func receiptsAddCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "add",
		Short: "Record a receipt and its extracted fields",
		Long: `Record a receipt. Extracted fields come either from flags or from a JSON
extraction result:

  {"vendor_name": "Delta Air Lines", "total_amount": "412.20",
   "transaction_date": "2025-06-03T00:00:00Z", "currency": "USD"}

Unless --no-propose is given, match proposals are computed right away.`,
		RunE: runReceiptsAdd,
	}

	cmd.Flags().String("extraction", "", "JSON file holding the extraction result")
	cmd.Flags().String("file", "", "Name of the receipt document")
	cmd.Flags().String("vendor", "", "Vendor name on the receipt")
	cmd.Flags().String("amount", "", "Receipt total")
	cmd.Flags().String("date", "", "Transaction date (YYYY-MM-DD)")
	cmd.Flags().String("tax", "", "Tax amount")
	cmd.Flags().String("currency", "", "Currency code")
	cmd.Flags().Bool("no-propose", false, "Do not compute match proposals")

	return cmd
}

func runReceiptsAdd(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	noPropose, _ := cmd.Flags().GetBool("no-propose")
	fileName, _ := cmd.Flags().GetString("file")

	extraction, err := extractionFromFlags(cmd)
	if err != nil {
		return err
	}
	if fileName == "" {
		if path, _ := cmd.Flags().GetString("extraction"); path != "" {
			fileName = filepath.Base(path)
		}
	}

	a, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	receipt := &model.Receipt{
		ID:         uuid.NewString(),
		UserID:     a.userID(),
		FileName:   fileName,
		UploadedAt: time.Now().UTC(),
		Extraction: *extraction,
		MatchFlag:  model.FlagUnmatched,
	}
	if err := a.store.SaveReceipt(ctx, receipt); err != nil {
		return fmt.Errorf("failed to save receipt: %w", err)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintln(out, cli.FormatSuccess("Saved receipt "+receipt.ID))
	if noPropose {
		return nil
	}

	proposals, err := a.matcher.ProposeForReceipt(ctx, receipt.ID)
	if err != nil {
		return fmt.Errorf("failed to propose matches: %w", err)
	}
	printMatches(out, proposals)
	return nil
}

// extractionFromFlags reads the extraction file if given, then applies any
// field flags on top of it.
func extractionFromFlags(cmd *cobra.Command) (*model.ExtractionResult, error) {
	var extraction model.ExtractionResult

	if path, _ := cmd.Flags().GetString("extraction"); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read extraction file: %w", err)
		}
		if err := json.Unmarshal(data, &extraction); err != nil {
			return nil, common.NewUserError(fmt.Sprintf("extraction file %s is not valid JSON", path), err)
		}
	}

	if vendor, _ := cmd.Flags().GetString("vendor"); vendor != "" {
		extraction.VendorName = vendor
	}
	if currency, _ := cmd.Flags().GetString("currency"); currency != "" {
		extraction.Currency = strings.ToUpper(currency)
	}
	if raw, _ := cmd.Flags().GetString("amount"); raw != "" {
		amount, err := parseMoneyFlag("amount", raw)
		if err != nil {
			return nil, err
		}
		extraction.TotalAmount = &amount
	}
	if raw, _ := cmd.Flags().GetString("tax"); raw != "" {
		tax, err := parseMoneyFlag("tax", raw)
		if err != nil {
			return nil, err
		}
		extraction.TaxAmount = &tax
	}
	if raw, _ := cmd.Flags().GetString("date"); raw != "" {
		date, err := time.Parse("2006-01-02", raw)
		if err != nil {
			return nil, common.NewUserError(fmt.Sprintf("--date %q must be YYYY-MM-DD", raw), err)
		}
		extraction.TransactionDate = &date
	}

	if extraction.VendorName == "" && extraction.TotalAmount == nil && extraction.TransactionDate == nil {
		return nil, common.NewUserError("a receipt needs at least a vendor, amount or date", nil)
	}
	return &extraction, nil
}

func parseMoneyFlag(name, raw string) (decimal.Decimal, error) {
	amount, err := decimal.NewFromString(strings.TrimPrefix(strings.TrimSpace(raw), "$"))
	if err != nil {
		return decimal.Zero, common.NewUserError(fmt.Sprintf("--%s %q is not a valid amount", name, raw), err)
	}
	return amount, nil
}

func receiptsListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List receipts",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			flag, _ := cmd.Flags().GetString("flag")

			matchFlag, err := parseMatchFlag(flag)
			if err != nil {
				return err
			}

			a, err := openApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			receipts, err := a.store.ListReceipts(ctx, a.userID(), matchFlag)
			if err != nil {
				return fmt.Errorf("failed to list receipts: %w", err)
			}
			if len(receipts) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), cli.FormatInfo("No receipts found"))
				return nil
			}

			rows := make([][]string, 0, len(receipts))
			for _, r := range receipts {
				rows = append(rows, []string{
					r.ID,
					optionalDate(r.Extraction.TransactionDate),
					r.Extraction.VendorName,
					optionalMoney(r.Extraction.TotalAmount),
					string(r.MatchFlag),
					r.FileName,
				})
			}
			fmt.Fprintln(cmd.OutOrStdout(), cli.RenderTable([]string{"ID", "Date", "Vendor", "Total", "Status", "File"}, rows))
			return nil
		},
	}

	cmd.Flags().String("flag", "", "Only receipts with this match status (unmatched, proposed, matched)")

	return cmd
}

func parseMatchFlag(raw string) (model.MatchFlag, error) {
	switch flag := model.MatchFlag(strings.ToLower(raw)); flag {
	case "", model.FlagUnmatched, model.FlagProposed, model.FlagMatched:
		return flag, nil
	default:
		return "", common.NewUserError(fmt.Sprintf("unknown match status %q", raw), nil)
	}
}

func optionalDate(t *time.Time) string {
	if t == nil {
		return "-"
	}
	return t.Format("2006-01-02")
}

func optionalMoney(amount *decimal.Decimal) string {
	if amount == nil {
		return "-"
	}
	return report.FormatMoney(*amount)
}
