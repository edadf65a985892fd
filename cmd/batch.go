package main

import (
	"encoding/json"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var batchCmd = &cobra.Command{
	Use:   "batch <box-id>",
	Short: "Compute churn risk for every active athlete of a box",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		boxID := args[0]

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()

		if err := st.Migrate(ctx); err != nil {
			return eris.Wrap(err, "migrate store")
		}

		result, err := newEngine(st).CalculateBoxRiskScores(ctx, boxID)
		if err != nil {
			return eris.Wrap(err, "batch risk scores")
		}

		zap.L().Info("batch complete",
			zap.String("box", result.BoxID),
			zap.Int("total", result.Total),
			zap.Int("succeeded", result.Succeeded),
			zap.Int("failed", result.Failed),
		)

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(result)
	},
}

func init() {
	rootCmd.AddCommand(batchCmd)
}
