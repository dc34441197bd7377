package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"

	"github.com/Veraticus/expensetrack/internal/cli"
	"github.com/Veraticus/expensetrack/internal/common"
	"github.com/Veraticus/expensetrack/internal/history"
	"github.com/Veraticus/expensetrack/internal/ofx"
	"github.com/spf13/cobra"
)

func importCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "import",
		Short: "Import transactions and coding history",
	}

	cmd.AddCommand(importOFXCmd())
	cmd.AddCommand(importHistoryCmd())

	return cmd
}

func importOFXCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ofx [files...]",
		Short: "Import transactions from OFX/QFX files",
		Long: `Import card and bank transactions from OFX or QFX files exported from your bank.
Transactions already imported are skipped.

Examples:
  # Import single file
  expensetrack import ofx ~/Downloads/amex_2025_06.qfx

  # Import all QFX files in a directory
  expensetrack import ofx ~/Downloads/*.qfx`,
		Args: cobra.MinimumNArgs(1),
		RunE: runImportOFX,
	}

	cmd.Flags().BoolP("dry-run", "d", false, "Preview import without saving")
	cmd.Flags().Bool("include-credits", false, "Also import refunds and payments")

	return cmd
}

func runImportOFX(cmd *cobra.Command, args []string) error {
	dryRun, _ := cmd.Flags().GetBool("dry-run")
	includeCredits, _ := cmd.Flags().GetBool("include-credits")
	ctx := cmd.Context()

	files, err := expandGlobs(args)
	if err != nil {
		return err
	}

	a, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	var opts []ofx.Option
	if includeCredits {
		opts = append(opts, ofx.WithCredits())
	}
	parser := ofx.NewParser(a.userID(), opts...)

	rows := make([][]string, 0, len(files))
	var parsed, saved, failed int
	for _, path := range files {
		statement, err := parseOFXFile(ctx, parser, path)
		if err != nil {
			slog.Error("Failed to parse OFX file", "file", path, "error", err)
			failed++
			continue
		}

		inserted := 0
		if !dryRun && len(statement.Transactions) > 0 {
			inserted, err = a.store.SaveTransactions(ctx, statement.Transactions)
			if err != nil {
				return fmt.Errorf("failed to save transactions from %s: %w", path, err)
			}
		}

		parsed += len(statement.Transactions)
		saved += inserted
		rows = append(rows, []string{
			filepath.Base(path),
			strconv.Itoa(len(statement.Transactions)),
			strconv.Itoa(inserted),
			strconv.Itoa(len(statement.Transactions) - inserted),
			strconv.Itoa(statement.Credits),
		})
	}

	out := cmd.OutOrStdout()
	fmt.Fprintln(out, cli.RenderTable([]string{"File", "Parsed", "New", "Duplicates", "Credits skipped"}, rows))
	switch {
	case dryRun:
		fmt.Fprintln(out, cli.FormatInfo(fmt.Sprintf("Dry run: %d transactions parsed, nothing saved", parsed)))
	default:
		fmt.Fprintln(out, cli.FormatSuccess(fmt.Sprintf("Imported %d new transactions (%d parsed)", saved, parsed)))
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d files could not be imported", failed, len(files))
	}
	return nil
}

func parseOFXFile(ctx context.Context, parser *ofx.Parser, path string) (*ofx.Statement, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open file: %w", err)
	}
	defer func() { _ = f.Close() }()

	return parser.Parse(ctx, f)
}

// expandGlobs resolves each argument as a glob, falling back to a plain path.
func expandGlobs(patterns []string) ([]string, error) {
	var files []string
	for _, pattern := range patterns {
		matches, err := filepath.Glob(pattern)
		if err != nil {
			return nil, fmt.Errorf("invalid pattern %s: %w", pattern, err)
		}
		if len(matches) > 0 {
			files = append(files, matches...)
			continue
		}
		if _, err := os.Stat(pattern); err == nil {
			files = append(files, pattern)
		} else {
			slog.Warn("No files found matching pattern", "pattern", pattern)
		}
	}

	if len(files) == 0 {
		return nil, common.NewUserError("no files found to import", nil)
	}
	return files, nil
}

func importHistoryCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history <file.csv>",
		Short: "Learn coding from a historical expense CSV",
		Long: `Import previously coded expenses to warm the description cache, the embedding
index, vendor aliases and expense patterns.

The CSV needs the columns Date, Description, Amount, GL Code and Department.
An optional Vendor column overrides vendor extraction from the description.`,
		Args: cobra.ExactArgs(1),
		RunE: runImportHistory,
	}

	cmd.Flags().Int("min-occurrences", 2, "Rows a vendor needs before an alias is learned")
	cmd.Flags().Bool("skip-embeddings", false, "Do not compute embeddings")

	return cmd
}

func runImportHistory(cmd *cobra.Command, args []string) error {
	minOccurrences, _ := cmd.Flags().GetInt("min-occurrences")
	skipEmbeddings, _ := cmd.Flags().GetBool("skip-embeddings")
	ctx := cmd.Context()

	f, err := os.Open(args[0])
	if errors.Is(err, os.ErrNotExist) {
		return common.NewUserError(fmt.Sprintf("history file %s does not exist", args[0]), err)
	}
	if err != nil {
		return fmt.Errorf("failed to open history file: %w", err)
	}
	defer func() { _ = f.Close() }()

	a, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	opts := []history.Option{history.WithMinAliasOccurrences(minOccurrences)}
	if !skipEmbeddings {
		embedder, err := a.embedding(ctx)
		if err != nil {
			return err
		}
		opts = append(opts, history.WithEmbedder(embedder))
	}

	importer, err := history.NewImporter(a.store, a.normalizer, a.normalizer, opts...)
	if err != nil {
		return err
	}

	summary, err := importer.Import(ctx, a.userID(), f)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintln(out, cli.RenderTable([]string{"Result", "Count"}, [][]string{
		{"Rows read", strconv.Itoa(summary.Rows)},
		{"Rows skipped", strconv.Itoa(summary.Skipped)},
		{"Description cache entries", strconv.Itoa(summary.CacheEntries)},
		{"Embeddings", strconv.Itoa(summary.Embeddings)},
		{"Vendor aliases learned", strconv.Itoa(summary.Aliases)},
		{"Expense patterns", strconv.Itoa(summary.Patterns)},
	}))
	if summary.EmbedFailures > 0 {
		fmt.Fprintln(out, cli.FormatWarning(fmt.Sprintf("%d embeddings failed; rerun to retry them", summary.EmbedFailures)))
	}
	fmt.Fprintln(out, cli.FormatSuccess(fmt.Sprintf("Learned coding from %d rows", summary.Rows-summary.Skipped)))
	return nil
}
