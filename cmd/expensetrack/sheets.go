package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/Veraticus/expensetrack/internal/cli"
	"github.com/Veraticus/expensetrack/internal/common"
	"github.com/Veraticus/expensetrack/internal/config"
	"github.com/Veraticus/expensetrack/internal/sheets"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

func sheetsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sheets",
		Short: "Google Sheets export setup",
	}

	cmd.AddCommand(sheetsAuthCmd())

	return cmd
}

func sheetsAuthCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "auth",
		Short: "Authorize Google Sheets access with OAuth2",
		Long: `Run the browser consent flow with your OAuth2 desktop client and cache the
resulting token. Set sheets.client_id and sheets.client_secret (or
GOOGLE_SHEETS_CLIENT_ID and GOOGLE_SHEETS_CLIENT_SECRET) first.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			force, _ := cmd.Flags().GetBool("force")
			callback, _ := cmd.Flags().GetString("callback")
			ctx := cmd.Context()

			v := viper.GetViper()
			oauthConfig := sheets.OAuth2Config{
				ClientID:     firstNonEmpty(v.GetString("sheets.client_id"), os.Getenv("GOOGLE_SHEETS_CLIENT_ID")),
				ClientSecret: firstNonEmpty(v.GetString("sheets.client_secret"), os.Getenv("GOOGLE_SHEETS_CLIENT_SECRET")),
				TokenFile:    config.SheetsTokenFile(v),
				CallbackAddr: callback,
			}
			if oauthConfig.ClientID == "" || oauthConfig.ClientSecret == "" {
				return common.NewUserError("sheets.client_id and sheets.client_secret are required", common.ErrMissingConfig)
			}

			if force {
				if _, err := sheets.Login(ctx, oauthConfig); err != nil {
					return fmt.Errorf("authorization failed: %w", err)
				}
			} else {
				source, err := sheets.TokenSource(ctx, oauthConfig)
				if err != nil {
					return fmt.Errorf("authorization failed: %w", err)
				}
				if _, err := source.Token(); err != nil {
					return fmt.Errorf("cached token is not usable, rerun with --force: %w", err)
				}
			}

			fmt.Fprintln(cmd.OutOrStdout(), cli.FormatSuccess("Google Sheets authorized; token cached in "+oauthConfig.TokenFile))
			return nil
		},
	}

	cmd.Flags().Bool("force", false, "Ignore any cached token and log in again")
	cmd.Flags().String("callback", "", "Address for the OAuth2 callback server (default localhost:8080)")

	return cmd
}

func runExportSheets(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	sheetsConfig, err := config.LoadSheetsConfig(viper.GetViper())
	if err != nil {
		return common.NewUserError("Google Sheets is not configured; run 'expensetrack sheets auth' or set a service account", err)
	}

	a, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	expenseReport, err := loadReport(ctx, a, args[0])
	if err != nil {
		return err
	}

	writer, err := sheets.NewWriter(ctx, *sheetsConfig, slog.Default())
	if err != nil {
		return err
	}
	result, err := writer.Export(ctx, expenseReport)
	if err != nil {
		return err
	}

	fmt.Fprintln(cmd.OutOrStdout(), cli.FormatSuccess(fmt.Sprintf("Exported %d rows to tab %q", result.Rows, result.Tab)))
	fmt.Fprintln(cmd.OutOrStdout(), cli.FormatInfo("https://docs.google.com/spreadsheets/d/"+result.SpreadsheetID))
	return nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
