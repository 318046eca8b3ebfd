package main

import (
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/invoice-cli/internal/importer"
)

var mappingsUserID string

var mappingsCmd = &cobra.Command{
	Use:   "mappings",
	Short: "Manage company, GL and cost-center mapping tables",
}

var mappingsImportCmd = &cobra.Command{
	Use:   "import <workbook.xlsx>",
	Short: "Import mapping tables from an Excel workbook",
	Long:  "Upserts the companies, gl_mappings and cost_centers sheets of the workbook for a user. Invalid rows are skipped and reported.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		if err := st.Migrate(ctx); err != nil {
			return eris.Wrap(err, "migrate store")
		}

		res, err := importer.ImportFile(ctx, st, args[0], mappingsUserID)
		if err != nil {
			return err
		}
		return writeJSON(cmd.OutOrStdout(), res)
	},
}

func init() {
	mappingsImportCmd.Flags().StringVar(&mappingsUserID, "user", "", "user the mappings belong to (required)")
	_ = mappingsImportCmd.MarkFlagRequired("user")

	mappingsCmd.AddCommand(mappingsImportCmd)
	rootCmd.AddCommand(mappingsCmd)
}
