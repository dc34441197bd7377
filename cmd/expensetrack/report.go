package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/Veraticus/expensetrack/internal/cli"
	"github.com/Veraticus/expensetrack/internal/common"
	"github.com/Veraticus/expensetrack/internal/model"
	"github.com/Veraticus/expensetrack/internal/report"
	"github.com/Veraticus/expensetrack/internal/service"
	"github.com/spf13/cobra"
)

func reportCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "report",
		Short: "Generate and inspect monthly expense reports",
	}

	cmd.AddCommand(reportGenerateCmd())
	cmd.AddCommand(reportWorkerCmd())
	cmd.AddCommand(reportCancelCmd())
	cmd.AddCommand(reportStatusCmd())
	cmd.AddCommand(reportListCmd())
	cmd.AddCommand(reportShowCmd())
	cmd.AddCommand(reportExportSheetsCmd())

	return cmd
}

func reportGenerateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "generate <YYYY-MM>",
		Short: "Queue a report for a month",
		Long: `Queue a report generation job for a month. The job is picked up by
'expensetrack report worker', or runs right here with --wait.

Interrupting a --wait run requests cancellation: the job stops at its next
checkpoint and no partial report is kept.`,
		Args: cobra.ExactArgs(1),
		RunE: runReportGenerate,
	}

	cmd.Flags().BoolP("wait", "w", false, "Run the job in this process and show progress")

	return cmd
}

func runReportGenerate(cmd *cobra.Command, args []string) error {
	wait, _ := cmd.Flags().GetBool("wait")
	ctx := cmd.Context()

	period, err := model.ParsePeriod(args[0])
	if err != nil {
		return common.NewUserError(err.Error(), err)
	}

	a, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	generator, err := a.generator(ctx)
	if err != nil {
		return err
	}

	job, err := generator.CreateJob(ctx, a.userID(), period)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if !wait {
		fmt.Fprintln(out, cli.FormatSuccess(fmt.Sprintf("Queued report job %s for %s", job.ID, period)))
		fmt.Fprintln(out, cli.FormatInfo("Run 'expensetrack report worker' to process it"))
		return nil
	}

	final, err := runAndWatch(ctx, out, generator, a.store, job.ID)
	if err != nil {
		return err
	}
	if final.Status == model.JobCompleted && final.ReportID != nil {
		fmt.Fprintln(out, cli.FormatInfo("Show it with 'expensetrack report show "+final.ID+"'"))
	}
	return nil
}

// runAndWatch runs a job in this process while drawing its progress. An
// interrupt turns into a cancellation request rather than a hard stop, so the
// job can finish cleanly.
func runAndWatch(ctx context.Context, out io.Writer, generator *report.Generator, jobs cli.JobSource, jobID string) (*model.ReportGenerationJob, error) {
	runCtx := context.WithoutCancel(ctx)
	watchCtx, stopWatch := context.WithCancel(runCtx)
	defer stopWatch()

	runErr := make(chan error, 1)
	go func() {
		_, err := generator.Run(runCtx, jobID)
		if err != nil {
			stopWatch()
		}
		runErr <- err
	}()

	handler := cli.NewInterruptHandler(os.Stderr, "Cancelling report...", "The job stops at its next checkpoint")
	interrupted := handler.HandleInterrupts(watchCtx)
	defer handler.Stop()
	go func() {
		<-interrupted.Done()
		if !handler.WasInterrupted() {
			return
		}
		if _, err := generator.RequestCancellation(runCtx, jobID); err != nil && !errors.Is(err, common.ErrJobFinished) {
			slog.Warn("Failed to request cancellation", "job_id", jobID, "error", err)
		}
	}()

	final, watchErr := cli.NewWatcher(jobs, out, cli.DefaultWatchInterval).Watch(watchCtx, jobID)
	if err := <-runErr; err != nil {
		return nil, err
	}
	if watchErr != nil {
		return nil, watchErr
	}
	return final, nil
}

func reportWorkerCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "worker",
		Short: "Process queued report jobs",
		Long: `Poll for pending report jobs and run them, several at a time. Stop with
Ctrl+C; running jobs are cancelled and no partial reports are kept.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			once, _ := cmd.Flags().GetBool("once")
			concurrency, _ := cmd.Flags().GetInt("concurrency")
			ctx := cmd.Context()

			a, err := openApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			generator, err := a.generator(ctx)
			if err != nil {
				return err
			}
			if concurrency <= 0 {
				concurrency = a.cfg.Worker.Concurrency
			}
			worker := report.NewWorker(generator, a.store, concurrency, a.cfg.Worker.PollInterval)

			handler := cli.NewInterruptHandler(os.Stderr, "Stopping worker...", "Running jobs are being cancelled")
			ctx = handler.HandleInterrupts(ctx)
			defer handler.Stop()

			if once {
				started, err := worker.RunPending(ctx)
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), cli.FormatSuccess(fmt.Sprintf("Processed %d report jobs", started)))
				return nil
			}

			fmt.Fprintln(cmd.OutOrStdout(), cli.FormatInfo(fmt.Sprintf("Worker running with %d slots, press Ctrl+C to stop", concurrency)))
			if err := worker.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			return nil
		},
	}

	cmd.Flags().Bool("once", false, "Run the jobs pending now and exit")
	cmd.Flags().Int("concurrency", 0, "Jobs to run at once (default worker.concurrency)")

	return cmd
}

func reportCancelCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "cancel <job-id>",
		Short: "Cancel a report job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := openApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			generator, err := a.generator(ctx)
			if err != nil {
				return err
			}

			job, err := generator.RequestCancellation(ctx, args[0])
			switch {
			case errors.Is(err, common.ErrJobFinished):
				return common.NewUserError(fmt.Sprintf("job %s already %s", args[0], job.Status), err)
			case err != nil:
				return matchError(err, args[0])
			}

			out := cmd.OutOrStdout()
			if job.Status == model.JobCancelled {
				fmt.Fprintln(out, cli.FormatSuccess("Cancelled job "+job.ID))
			} else {
				fmt.Fprintln(out, cli.FormatInfo("Cancellation requested; job "+job.ID+" stops at its next checkpoint"))
			}
			return nil
		},
	}
}

func reportStatusCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status <job-id>",
		Short: "Show the progress of a report job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			watch, _ := cmd.Flags().GetBool("watch")
			ctx := cmd.Context()

			a, err := openApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			out := cmd.OutOrStdout()
			if watch {
				_, err := cli.NewWatcher(a.store, out, cli.DefaultWatchInterval).Watch(ctx, args[0])
				if errors.Is(err, context.Canceled) {
					return nil
				}
				return err
			}

			job, err := a.store.GetJob(ctx, args[0])
			if err != nil {
				return matchError(err, args[0])
			}
			fmt.Fprintln(out, cli.RenderBox(fmt.Sprintf("Report %s", job.Period), describeJob(job)))
			return nil
		},
	}

	cmd.Flags().Bool("watch", false, "Follow the job until it finishes")

	return cmd
}

func describeJob(job *model.ReportGenerationJob) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Job:       %s\n", job.ID)
	fmt.Fprintf(&b, "Status:    %s\n", cli.FormatStatus(job.Status))
	fmt.Fprintf(&b, "Progress:  %d/%d lines (%.0f%%)", job.ProcessedLines, job.TotalLines, job.PercentComplete())
	if job.FailedLines > 0 {
		fmt.Fprintf(&b, ", %d failed", job.FailedLines)
	}
	if job.EstimatedCompletion != nil && !job.Status.IsTerminal() {
		fmt.Fprintf(&b, "\nETA:       %s", job.EstimatedCompletion.Local().Format(time.Kitchen))
	}
	if job.ReportID != nil {
		fmt.Fprintf(&b, "\nReport:    %s", *job.ReportID)
	}
	if job.ErrorMessage != "" {
		fmt.Fprintf(&b, "\nError:     %s", job.ErrorMessage)
	}
	return b.String()
}

func reportListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List report jobs",
		RunE: func(cmd *cobra.Command, _ []string) error {
			status, _ := cmd.Flags().GetString("status")
			limit, _ := cmd.Flags().GetInt("limit")
			ctx := cmd.Context()

			a, err := openApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			jobs, err := a.store.ListJobs(ctx, service.JobFilter{
				UserID: a.userID(),
				Status: model.JobStatus(status),
				Limit:  limit,
			})
			if err != nil {
				return fmt.Errorf("failed to list jobs: %w", err)
			}
			if len(jobs) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), cli.FormatInfo("No report jobs"))
				return nil
			}

			rows := make([][]string, 0, len(jobs))
			for _, job := range jobs {
				rows = append(rows, []string{
					job.ID,
					job.Period.String(),
					string(job.Status),
					fmt.Sprintf("%d/%d", job.ProcessedLines, job.TotalLines),
					strconv.Itoa(job.FailedLines),
					job.CreatedAt.Local().Format("2006-01-02 15:04"),
				})
			}
			fmt.Fprintln(cmd.OutOrStdout(), cli.RenderTable([]string{"Job", "Period", "Status", "Lines", "Failed", "Created"}, rows))
			return nil
		},
	}

	cmd.Flags().String("status", "", "Only jobs with this status")
	cmd.Flags().Int("limit", 0, "Maximum jobs to show")

	return cmd
}

func reportShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show <job-id>",
		Short: "Print a completed report",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			format, _ := cmd.Flags().GetString("format")
			output, _ := cmd.Flags().GetString("output")
			ctx := cmd.Context()

			render := report.RenderMarkdown
			switch strings.ToLower(format) {
			case "markdown", "md":
			case "csv":
				render = report.RenderCSV
			default:
				return common.NewUserError(fmt.Sprintf("unknown format %q (use markdown or csv)", format), nil)
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

			w := cmd.OutOrStdout()
			if output != "" {
				f, err := os.Create(output) // #nosec G304
				if err != nil {
					return fmt.Errorf("failed to create output file: %w", err)
				}
				defer func() { _ = f.Close() }()
				w = f
			}
			if err := render(w, expenseReport); err != nil {
				return fmt.Errorf("failed to render report: %w", err)
			}
			if output != "" {
				fmt.Fprintln(cmd.OutOrStdout(), cli.FormatSuccess("Wrote "+output))
			}
			return nil
		},
	}

	cmd.Flags().StringP("format", "f", "markdown", "Output format (markdown, csv)")
	cmd.Flags().StringP("output", "o", "", "Write to a file instead of stdout")

	return cmd
}

// loadReport resolves a job id to its report, accepting a report id as well.
func loadReport(ctx context.Context, a *app, id string) (*model.ExpenseReport, error) {
	job, err := a.store.GetJob(ctx, id)
	switch {
	case err == nil:
		if job.ReportID == nil {
			return nil, common.NewUserError(fmt.Sprintf("job %s is %s and has no report", id, job.Status), nil)
		}
		id = *job.ReportID
	case !errors.Is(err, common.ErrNotFound):
		return nil, fmt.Errorf("failed to load job: %w", err)
	}

	expenseReport, err := a.store.GetReport(ctx, id)
	if err != nil {
		return nil, matchError(err, id)
	}
	return expenseReport, nil
}

func reportExportSheetsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "export-sheets <job-id>",
		Short: "Write a completed report to Google Sheets",
		Args:  cobra.ExactArgs(1),
		RunE:  runExportSheets,
	}
}
