package main

import (
	"encoding/json"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var scoreCmd = &cobra.Command{
	Use:   "score <membership-id>",
	Short: "Compute churn risk for a single membership",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		membershipID := args[0]

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()

		if err := st.Migrate(ctx); err != nil {
			return eris.Wrap(err, "migrate store")
		}

		snap, err := newEngine(st).CalculateRiskScore(ctx, membershipID)
		if err != nil {
			return eris.Wrap(err, "calculate risk score")
		}

		zap.L().Info("risk score computed",
			zap.String("membership", snap.MembershipID),
			zap.Int("score", snap.OverallRiskScore),
			zap.String("level", string(snap.RiskLevel)),
			zap.Float64("churn_probability", snap.ChurnProbability),
		)

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(snap)
	},
}

func init() {
	rootCmd.AddCommand(scoreCmd)
}
