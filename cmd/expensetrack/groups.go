package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/Veraticus/expensetrack/internal/cli"
	"github.com/Veraticus/expensetrack/internal/common"
	"github.com/Veraticus/expensetrack/internal/model"
	"github.com/Veraticus/expensetrack/internal/report"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

func groupsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "groups",
		Short: "Group split charges so one receipt can match them",
	}

	cmd.AddCommand(groupsCreateCmd())
	cmd.AddCommand(groupsShowCmd())

	return cmd
}

func groupsCreateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "create <transaction-id> <transaction-id> [transaction-id...]",
		Short: "Create a transaction group",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			name, _ := cmd.Flags().GetString("name")

			a, err := openApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			members, err := a.store.GetTransactionsByIDs(ctx, args)
			if err != nil {
				return fmt.Errorf("failed to load transactions: %w", err)
			}
			if len(members) != len(args) {
				return common.NewUserError(fmt.Sprintf("found %d of %d transactions", len(members), len(args)), common.ErrNotFound)
			}
			if name == "" {
				name = members[0].Description
			}

			group, err := model.NewTransactionGroup(uuid.NewString(), a.userID(), name, members)
			if err != nil {
				return common.NewUserError(err.Error(), err)
			}
			if err := a.store.CreateGroup(ctx, &group); err != nil {
				return fmt.Errorf("failed to create group: %w", err)
			}

			fmt.Fprintln(cmd.OutOrStdout(), cli.FormatSuccess(fmt.Sprintf("Created group %s: %d transactions, %s on %s",
				group.ID, len(group.TransactionIDs), report.FormatMoney(group.CombinedAmount), group.DisplayDate.Format("2006-01-02"))))
			return nil
		},
	}

	cmd.Flags().String("name", "", "Group name (defaults to the first description)")

	return cmd
}

func groupsShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <group-id>",
		Short: "Show a transaction group and its members",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := openApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			group, err := a.store.GetGroup(ctx, args[0])
			if err != nil {
				return matchError(err, args[0])
			}
			members, err := a.store.GetTransactionsByIDs(ctx, group.TransactionIDs)
			if err != nil {
				return fmt.Errorf("failed to load members: %w", err)
			}

			out := cmd.OutOrStdout()
			fmt.Fprintln(out, cli.RenderBox(group.Name, fmt.Sprintf("%s on %s (%s)",
				report.FormatMoney(group.CombinedAmount), group.DisplayDate.Format("2006-01-02"), group.MatchFlag)))
			fmt.Fprintln(out, transactionTable(members))
			return nil
		},
	}
}

func transactionsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "transactions",
		Short: "List imported transactions",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			rawPeriod, _ := cmd.Flags().GetString("period")

			period := model.PeriodOf(time.Now())
			if rawPeriod != "" {
				p, err := model.ParsePeriod(rawPeriod)
				if err != nil {
					return common.NewUserError(err.Error(), err)
				}
				period = p
			}

			a, err := openApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			txns, err := a.store.GetTransactionsByDateRange(ctx, a.userID(), period.Start(), period.End())
			if err != nil {
				return fmt.Errorf("failed to list transactions: %w", err)
			}
			if len(txns) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), cli.FormatInfo("No transactions in "+period.String()))
				return nil
			}
			fmt.Fprintln(cmd.OutOrStdout(), transactionTable(txns))
			return nil
		},
	}

	cmd.Flags().String("period", "", "Month to list (YYYY-MM, default current month)")

	return cmd
}

func transactionTable(txns []model.Transaction) string {
	rows := make([][]string, 0, len(txns))
	for _, t := range txns {
		group := ""
		if t.GroupID != nil {
			group = *t.GroupID
		}
		rows = append(rows, []string{
			t.ID,
			t.Date.Format("2006-01-02"),
			truncate(t.Description, 40),
			report.FormatMoney(t.Amount),
			string(t.MatchFlag),
			group,
		})
	}
	return cli.RenderTable([]string{"ID", "Date", "Description", "Amount", "Status", "Group"}, rows)
}

func truncate(s string, n int) string {
	if len([]rune(s)) <= n {
		return s
	}
	return strings.TrimSpace(string([]rune(s)[:n-1])) + "…"
}
