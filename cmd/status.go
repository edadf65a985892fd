package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
	"gopkg.in/yaml.v3"

	"github.com/pulsefit/retention-cli/internal/model"
	"github.com/pulsefit/retention-cli/internal/store"
)

var (
	statusFormat    string
	statusShowStale bool
)

// statusReport is the status command payload across all output formats.
type statusReport struct {
	Summary *model.RiskSummary `json:"summary" yaml:"summary"`
	Stale   []model.StaleEntry `json:"stale_memberships,omitempty" yaml:"stale_memberships,omitempty"`
}

var statusCmd = &cobra.Command{
	Use:   "status <box-id>",
	Short: "Show the risk distribution for a box",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		boxID := args[0]

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()

		rep, err := buildStatusReport(ctx, st, boxID, statusShowStale)
		if err != nil {
			return err
		}

		return renderStatusReport(os.Stdout, rep, statusFormat)
	},
}

func buildStatusReport(ctx context.Context, st store.Store, boxID string, withStale bool) (*statusReport, error) {
	now := time.Now().UTC()

	summary, err := st.RiskSummary(ctx, boxID, now)
	if err != nil {
		return nil, eris.Wrap(err, "box risk summary")
	}

	rep := &statusReport{Summary: summary}
	if withStale {
		stale, err := st.ListStaleSnapshots(ctx, boxID, now)
		if err != nil {
			return nil, eris.Wrap(err, "list stale snapshots")
		}
		rep.Stale = stale
	}
	return rep, nil
}

func renderStatusReport(out io.Writer, rep *statusReport, format string) error {
	switch format {
	case "text":
		formatStatusText(out, rep)
		return nil
	case "json":
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(rep)
	case "yaml":
		enc := yaml.NewEncoder(out)
		defer enc.Close() //nolint:errcheck
		return enc.Encode(rep)
	default:
		return eris.Errorf("unsupported format: %s", format)
	}
}

// formatStatusText writes a human-readable summary. Counts go through a
// locale-aware printer so large rosters stay legible.
func formatStatusText(out io.Writer, rep *statusReport) {
	p := message.NewPrinter(language.English)
	s := rep.Summary

	_, _ = p.Fprintf(out, "Box %s\n", s.BoxID)
	_, _ = p.Fprintf(out, "Scored memberships: %d\n", s.Total)
	_, _ = p.Fprintf(out, "  low %d  medium %d  high %d  critical %d\n", s.Low, s.Medium, s.High, s.Critical)
	_, _ = p.Fprintf(out, "Avg churn probability: %.4f\n", s.AvgChurnProbability)
	_, _ = p.Fprintf(out, "Stale snapshots: %d\n", s.StaleSnapshots)

	if rep.Stale == nil {
		return
	}

	_, _ = fmt.Fprintln(out)
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "MEMBERSHIP\tVALID UNTIL")
	_, _ = fmt.Fprintln(w, "----------\t-----------")
	for _, e := range rep.Stale {
		until := "never scored"
		if e.ValidUntil != nil {
			until = e.ValidUntil.UTC().Format(time.RFC3339)
		}
		_, _ = fmt.Fprintf(w, "%s\t%s\n", e.MembershipID, until)
	}
	_ = w.Flush()
}

func init() {
	statusCmd.Flags().StringVar(&statusFormat, "format", "text", "output format: text, json or yaml")
	statusCmd.Flags().BoolVar(&statusShowStale, "stale", false, "list memberships with missing or expired snapshots")
	rootCmd.AddCommand(statusCmd)
}
