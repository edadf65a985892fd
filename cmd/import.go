package main

import (
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/pulsefit/retention-cli/internal/ingest"
)

var importCSVPath string

var importCmd = &cobra.Command{
	Use:   "import",
	Short: "Import memberships and events from a platform CSV export",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()

		if err := st.Migrate(ctx); err != nil {
			return eris.Wrap(err, "migrate store")
		}

		stats, err := ingest.ImportCSV(ctx, st, importCSVPath)
		if err != nil {
			return eris.Wrap(err, "import csv")
		}

		zap.L().Info("import complete",
			zap.String("csv", importCSVPath),
			zap.Int("memberships", stats.Memberships),
			zap.Int("events", stats.Events),
			zap.Int("skipped", stats.Skipped),
		)
		return nil
	},
}

func init() {
	importCmd.Flags().StringVar(&importCSVPath, "csv", "", "path to CSV file (required)")
	_ = importCmd.MarkFlagRequired("csv")
	rootCmd.AddCommand(importCmd)
}
