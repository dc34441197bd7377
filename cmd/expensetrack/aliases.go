package main

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/Veraticus/expensetrack/internal/cli"
	"github.com/Veraticus/expensetrack/internal/common"
	"github.com/Veraticus/expensetrack/internal/model"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

// aliasFile is the YAML layout accepted by `aliases import`.
type aliasFile struct {
	Aliases []aliasEntry `yaml:"aliases"`
}

type aliasEntry struct {
	Pattern    string `yaml:"pattern"`
	Name       string `yaml:"name"`
	GLCode     string `yaml:"gl_code"`
	Department string `yaml:"department"`
}

func aliasesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "aliases",
		Short: "Manage vendor aliases",
		Long: `Vendor aliases map statement text to a canonical vendor with default GL and
department codes. They drive the first categorization tier and add a vendor
bonus when matching receipts.`,
	}

	cmd.AddCommand(aliasesAddCmd())
	cmd.AddCommand(aliasesListCmd())
	cmd.AddCommand(aliasesImportCmd())
	cmd.AddCommand(aliasesDeleteCmd())

	return cmd
}

func aliasesAddCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "add <pattern> <canonical-name>",
		Short: "Add or update a vendor alias",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			glCode, _ := cmd.Flags().GetString("gl")
			department, _ := cmd.Flags().GetString("dept")

			a, err := openApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			alias := newAlias(a.userID(), aliasEntry{Pattern: args[0], Name: args[1], GLCode: glCode, Department: department})
			if err := a.store.SaveVendorAlias(ctx, &alias); err != nil {
				return fmt.Errorf("failed to save alias: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), cli.FormatSuccess(fmt.Sprintf("%s now maps to %s", alias.Pattern, alias.CanonicalName)))
			return nil
		},
	}

	cmd.Flags().String("gl", "", "Default GL account/job code")
	cmd.Flags().String("dept", "", "Default department/phase code")

	return cmd
}

func aliasesListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List vendor aliases",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			a, err := openApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			aliases, err := a.store.ListVendorAliases(ctx, a.userID())
			if err != nil {
				return fmt.Errorf("failed to list aliases: %w", err)
			}
			if len(aliases) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), cli.FormatInfo("No vendor aliases yet"))
				return nil
			}

			rows := make([][]string, 0, len(aliases))
			for _, alias := range aliases {
				rows = append(rows, []string{
					alias.ID,
					alias.Pattern,
					alias.CanonicalName,
					alias.DefaultGLCode,
					alias.DefaultDepartment,
					strconv.Itoa(alias.MatchCount),
				})
			}
			fmt.Fprintln(cmd.OutOrStdout(), cli.RenderTable([]string{"ID", "Pattern", "Vendor", "GL", "Dept", "Uses"}, rows))
			return nil
		},
	}
}

func aliasesImportCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "import <file.yaml>",
		Short: "Import vendor aliases from YAML",
		Long: `Import vendor aliases from a YAML file:

  aliases:
    - pattern: "DELTA AIR"
      name: Delta Air Lines
      gl_code: "6100"
      department: OPS`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			entries, err := readAliasFile(args[0])
			if err != nil {
				return err
			}

			a, err := openApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			for _, entry := range entries {
				alias := newAlias(a.userID(), entry)
				if err := a.store.SaveVendorAlias(ctx, &alias); err != nil {
					return fmt.Errorf("failed to save alias %q: %w", entry.Pattern, err)
				}
			}
			fmt.Fprintln(cmd.OutOrStdout(), cli.FormatSuccess(fmt.Sprintf("Imported %d vendor aliases", len(entries))))
			return nil
		},
	}
}

func aliasesDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <alias-id>",
		Short: "Delete a vendor alias",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := openApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			if err := a.store.DeleteVendorAlias(ctx, args[0]); err != nil {
				return matchError(err, args[0])
			}
			fmt.Fprintln(cmd.OutOrStdout(), cli.FormatSuccess("Deleted alias "+args[0]))
			return nil
		},
	}
}

func readAliasFile(path string) ([]aliasEntry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read alias file: %w", err)
	}

	var file aliasFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, common.NewUserError(fmt.Sprintf("alias file %s is not valid YAML", path), err)
	}

	for i, entry := range file.Aliases {
		if strings.TrimSpace(entry.Pattern) == "" || strings.TrimSpace(entry.Name) == "" {
			return nil, common.NewUserError(fmt.Sprintf("alias %d in %s needs a pattern and a name", i+1, path), nil)
		}
	}
	return file.Aliases, nil
}

func newAlias(userID string, entry aliasEntry) model.VendorAlias {
	return model.VendorAlias{
		ID:                uuid.NewString(),
		UserID:            userID,
		Pattern:           strings.ToUpper(strings.TrimSpace(entry.Pattern)),
		CanonicalName:     strings.TrimSpace(entry.Name),
		DefaultGLCode:     entry.GLCode,
		DefaultDepartment: entry.Department,
		CreatedAt:         time.Now().UTC(),
	}
}
