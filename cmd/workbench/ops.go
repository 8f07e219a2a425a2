package main

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	workbench "github.com/jdziat/queue-workbench"
	"github.com/jdziat/queue-workbench/pkg/core"
)

func newOverviewCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "overview",
		Short: "Print the overview as JSON",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			wb, err := a.open(cmd.Context())
			if err != nil {
				return err
			}
			defer wb.Close()

			ov, err := wb.Overview(cmd.Context())
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(ov)
		},
	}
}

func newCleanCmd(a *app) *cobra.Command {
	var (
		status string
		grace  time.Duration
	)
	cmd := &cobra.Command{
		Use:   "clean <queue>",
		Short: "Remove completed or failed jobs older than the grace period",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			wb, err := a.open(cmd.Context())
			if err != nil {
				return err
			}
			defer wb.Close()

			n, err := wb.Clean(cmd.Context(), args[0], core.JobStatus(status), grace)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "removed %d %s jobs from %s\n", n, status, args[0])
			return nil
		},
	}
	cmd.Flags().StringVar(&status, "status", string(core.StatusCompleted), "bucket to clean: completed or failed")
	cmd.Flags().DurationVar(&grace, "grace", 0, "keep jobs that finished within this duration")
	return cmd
}

func newRetryFailedCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "retry-failed <queue>",
		Short: "Retry every failed job in a queue",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			wb, err := a.open(ctx)
			if err != nil {
				return err
			}
			defer wb.Close()

			var total workbench.BulkResult
			for {
				page, err := wb.Jobs(ctx, workbench.JobsQuery{
					Queue:  args[0],
					Status: core.StatusFailed,
					Limit:  workbench.MaxPageSize,
				})
				if err != nil {
					return err
				}
				if len(page.Data) == 0 {
					break
				}
				refs := make([]core.JobRef, 0, len(page.Data))
				for _, info := range page.Data {
					refs = append(refs, core.JobRef{Queue: info.QueueName, ID: info.ID})
				}
				res, err := wb.BulkRetry(ctx, refs)
				if err != nil {
					return err
				}
				total.Success += res.Success
				total.Failed += res.Failed
				// Jobs that cannot be retried stay failed; stop rather than
				// fetch them again.
				if res.Success == 0 {
					break
				}
			}
			fmt.Fprintf(cmd.OutOrStdout(), "retried %d jobs in %s (%d failed)\n", total.Success, args[0], total.Failed)
			return nil
		},
	}
}
