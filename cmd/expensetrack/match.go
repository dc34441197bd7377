package main

import (
	"errors"
	"fmt"
	"io"
	"strconv"

	"github.com/Veraticus/expensetrack/internal/cli"
	"github.com/Veraticus/expensetrack/internal/common"
	"github.com/Veraticus/expensetrack/internal/model"
	"github.com/spf13/cobra"
)

func matchCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "match",
		Short: "Propose, confirm and manage receipt matches",
	}

	cmd.AddCommand(matchProposeCmd())
	cmd.AddCommand(matchListCmd())
	cmd.AddCommand(matchConfirmCmd())
	cmd.AddCommand(matchRejectCmd())
	cmd.AddCommand(matchManualCmd())
	cmd.AddCommand(matchDeleteCmd())

	return cmd
}

func matchProposeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "propose [receipt-id]",
		Short: "Score candidate transactions for receipts",
		Long: `Score candidate transactions and groups against a receipt and store the ones
above the minimum score as proposals. Without an id, every unmatched receipt
is processed.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := openApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			ids := args
			if len(ids) == 0 {
				receipts, err := a.store.ListReceipts(ctx, a.userID(), model.FlagUnmatched)
				if err != nil {
					return fmt.Errorf("failed to list receipts: %w", err)
				}
				for _, r := range receipts {
					ids = append(ids, r.ID)
				}
			}

			var proposals []model.Match
			for _, id := range ids {
				matches, err := a.matcher.ProposeForReceipt(ctx, id)
				if err != nil {
					return fmt.Errorf("failed to propose matches for receipt %s: %w", id, err)
				}
				proposals = append(proposals, matches...)
			}

			printMatches(cmd.OutOrStdout(), proposals)
			return nil
		},
	}
	return cmd
}

func matchListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list <receipt-id>",
		Short: "List matches for a receipt",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := openApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			matches, err := a.matcher.MatchesForReceipt(ctx, args[0])
			if err != nil {
				return matchError(err, args[0])
			}
			printMatches(cmd.OutOrStdout(), matches)
			return nil
		},
	}
}

func matchConfirmCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "confirm <match-id>",
		Short: "Confirm a proposed match",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := openApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			match, err := a.matcher.Confirm(ctx, args[0], a.userID())
			if err != nil {
				return matchError(err, args[0])
			}
			fmt.Fprintln(cmd.OutOrStdout(), cli.FormatSuccess(fmt.Sprintf("Receipt %s matched to %s %s",
				match.ReceiptID, match.Target.Kind(), match.Target.TargetID())))
			return nil
		},
	}
}

func matchRejectCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reject <match-id>",
		Short: "Reject a proposed match",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := openApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			if _, err := a.matcher.Reject(ctx, args[0]); err != nil {
				return matchError(err, args[0])
			}
			fmt.Fprintln(cmd.OutOrStdout(), cli.FormatSuccess("Rejected match "+args[0]))
			return nil
		},
	}
}

func matchManualCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "manual <receipt-id>",
		Short: "Match a receipt to a transaction or group by hand",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			transactionID, _ := cmd.Flags().GetString("transaction")
			groupID, _ := cmd.Flags().GetString("group")

			var target model.MatchTarget
			var err error
			switch {
			case transactionID != "" && groupID != "":
				return common.NewUserError("use either --transaction or --group, not both", nil)
			case transactionID != "":
				target, err = model.NewTarget(model.TargetTransaction, transactionID)
			case groupID != "":
				target, err = model.NewTarget(model.TargetGroup, groupID)
			default:
				return common.NewUserError("one of --transaction or --group is required", nil)
			}
			if err != nil {
				return err
			}

			a, err := openApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			match, err := a.matcher.CreateManualMatch(ctx, args[0], target, a.userID())
			if err != nil {
				return matchError(err, args[0])
			}
			fmt.Fprintln(cmd.OutOrStdout(), cli.FormatSuccess(fmt.Sprintf("Created match %s (overall score %.1f)",
				match.ID, match.Scores.Overall)))
			return nil
		},
	}

	cmd.Flags().String("transaction", "", "Transaction id to match")
	cmd.Flags().String("group", "", "Transaction group id to match")

	return cmd
}

func matchDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "delete <match-id>",
		Aliases: []string{"unmatch"},
		Short:   "Remove a match and reset its receipt and target",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := openApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			if err := a.matcher.Unmatch(ctx, args[0]); err != nil {
				return matchError(err, args[0])
			}
			fmt.Fprintln(cmd.OutOrStdout(), cli.FormatSuccess("Removed match "+args[0]))
			return nil
		},
	}
}

// matchError turns the sentinel errors users can cause into readable messages.
func matchError(err error, id string) error {
	switch {
	case errors.Is(err, common.ErrNotFound):
		return common.NewUserError(fmt.Sprintf("%s was not found", id), err)
	case errors.Is(err, common.ErrMatchConflict):
		return common.NewUserError("the receipt or transaction already has a confirmed match", err)
	case errors.Is(err, common.ErrInvalidTransition):
		return common.NewUserError(fmt.Sprintf("match %s can no longer change state", id), err)
	default:
		return err
	}
}

func printMatches(w io.Writer, matches []model.Match) {
	if len(matches) == 0 {
		fmt.Fprintln(w, cli.FormatInfo("No matches"))
		return
	}

	rows := make([][]string, 0, len(matches))
	for _, m := range matches {
		rows = append(rows, []string{
			m.ID,
			m.ReceiptID,
			string(m.Target.Kind()) + " " + m.Target.TargetID(),
			string(m.Status),
			strconv.FormatFloat(m.Scores.Overall, 'f', 1, 64),
			strconv.FormatFloat(m.Scores.Amount, 'f', 1, 64),
			strconv.FormatFloat(m.Scores.Date, 'f', 1, 64),
			strconv.FormatFloat(m.Scores.Vendor, 'f', 1, 64),
		})
	}
	fmt.Fprintln(w, cli.RenderTable([]string{"Match", "Receipt", "Target", "Status", "Overall", "Amount", "Date", "Vendor"}, rows))
}
