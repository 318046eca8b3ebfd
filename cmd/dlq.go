package main

import (
	"os/signal"
	"syscall"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/invoice-cli/internal/resilience"
)

var (
	dlqErrorType string
	dlqLimit     int
)

var dlqCmd = &cobra.Command{
	Use:   "dlq",
	Short: "Inspect and retry dead-lettered documents",
}

var dlqListCmd = &cobra.Command{
	Use:   "list",
	Short: "List dead-letter entries due for retry",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		total, err := st.CountDLQ(ctx)
		if err != nil {
			return err
		}
		entries, err := st.DequeueDLQ(ctx, resilience.DLQFilter{ErrorType: dlqErrorType, Limit: dlqLimit})
		if err != nil {
			return err
		}
		if entries == nil {
			entries = []resilience.DLQEntry{}
		}
		return writeJSON(cmd.OutOrStdout(), map[string]any{
			"total": total,
			"due":   entries,
		})
	},
}

var dlqRetryCmd = &cobra.Command{
	Use:   "retry",
	Short: "Reprocess dead-letter entries that are due",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initEnv(ctx, "process")
		if err != nil {
			return err
		}
		defer env.Close()

		n, err := env.Processor.RetryDLQ(ctx, resilience.DLQFilter{ErrorType: dlqErrorType, Limit: dlqLimit})
		if err != nil {
			return eris.Wrap(err, "dlq retry")
		}
		zap.L().Info("dlq retry complete", zap.Int("succeeded", n))
		return writeJSON(cmd.OutOrStdout(), map[string]int{"succeeded": n})
	},
}

func init() {
	for _, c := range []*cobra.Command{dlqListCmd, dlqRetryCmd} {
		c.Flags().StringVar(&dlqErrorType, "error-type", "", "only entries of this error type (transient or permanent)")
		c.Flags().IntVar(&dlqLimit, "limit", 50, "max entries")
	}
	dlqCmd.AddCommand(dlqListCmd, dlqRetryCmd)
	rootCmd.AddCommand(dlqCmd)
}
