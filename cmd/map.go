package main

import (
	"github.com/spf13/cobra"
)

var (
	mapInput      string
	mapUserID     string
	mapDocumentID string
)

var mapCmd = &cobra.Command{
	Use:   "map",
	Short: "Map an extraction result onto the accounting schema",
	Long:  "Reads extraction JSON (a file or - for stdin), maps it to the 21 accounting fields using the user's mapping tables and prints the result with its audit trail.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		data, err := readInput(mapInput, cmd.InOrStdin())
		if err != nil {
			return err
		}
		res, err := parseExtraction(data)
		if err != nil {
			return err
		}

		env, err := initEnv(ctx, "map")
		if err != nil {
			return err
		}
		defer env.Close()

		out := env.Engine.ProcessDocument(ctx, res, mapUserID, mapDocumentID)
		return writeJSON(cmd.OutOrStdout(), out)
	},
}

func init() {
	mapCmd.Flags().StringVar(&mapInput, "input", "-", "extraction JSON file, or - for stdin")
	mapCmd.Flags().StringVar(&mapUserID, "user", "", "user whose mapping tables apply (required)")
	mapCmd.Flags().StringVar(&mapDocumentID, "document-id", "", "document id recorded on audit entries")
	_ = mapCmd.MarkFlagRequired("user")
	rootCmd.AddCommand(mapCmd)
}
