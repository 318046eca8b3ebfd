package main

import (
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

var processUserID string

var processCmd = &cobra.Command{
	Use:   "process <file-url>",
	Short: "Extract, map and suggest GL codes for one document",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initEnv(ctx, "process")
		if err != nil {
			return err
		}
		defer env.Close()

		res, err := env.Processor.Process(ctx, processUserID, args[0])
		if res != nil {
			if werr := writeJSON(cmd.OutOrStdout(), res); werr != nil {
				return werr
			}
		}
		return err
	},
}

func init() {
	processCmd.Flags().StringVar(&processUserID, "user", "", "user the document belongs to (required)")
	_ = processCmd.MarkFlagRequired("user")
	rootCmd.AddCommand(processCmd)
}
