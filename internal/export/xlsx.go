// Package export renders box retention reports as XLSX workbooks for
// front-desk staff and owners.
package export

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"

	"github.com/pulsefit/retention-cli/internal/model"
	"github.com/pulsefit/retention-cli/internal/store"
)

// Exporter builds XLSX risk reports from persisted snapshots.
type Exporter struct {
	store store.Store

	// now is swappable for deterministic tests.
	now func() time.Time
}

// NewExporter creates an Exporter over the given store.
func NewExporter(st store.Store) *Exporter {
	return &Exporter{store: st, now: time.Now}
}

// WriteBoxReport writes the box report workbook to path, creating parent
// directories as needed.
func (e *Exporter) WriteBoxReport(ctx context.Context, boxID, path string) error {
	f, err := e.BoxReport(ctx, boxID)
	if err != nil {
		return err
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return eris.Wrapf(err, "export: create directory %s", dir)
		}
	}
	if err := f.Save(path); err != nil {
		return eris.Wrapf(err, "export: save workbook %s", path)
	}
	return nil
}

// WriteTo streams the box report workbook to w.
func (e *Exporter) WriteTo(ctx context.Context, boxID string, w io.Writer) error {
	f, err := e.BoxReport(ctx, boxID)
	if err != nil {
		return err
	}
	if err := f.Write(w); err != nil {
		return eris.Wrapf(err, "export: write workbook for box %s", boxID)
	}
	return nil
}

// BoxReport builds a two-sheet workbook: a summary of the box's risk level
// distribution and a per-membership listing ordered most at-risk first.
func (e *Exporter) BoxReport(ctx context.Context, boxID string) (*xlsx.File, error) {
	now := e.now().UTC()

	summary, err := e.store.RiskSummary(ctx, boxID, now)
	if err != nil {
		return nil, eris.Wrapf(err, "export: risk summary for box %s", boxID)
	}
	snaps, err := e.store.ListRiskSnapshots(ctx, boxID)
	if err != nil {
		return nil, eris.Wrapf(err, "export: list snapshots for box %s", boxID)
	}

	f := xlsx.NewFile()
	if err := addSummarySheet(f, summary); err != nil {
		return nil, err
	}
	if err := addMembershipSheet(f, snaps); err != nil {
		return nil, err
	}
	return f, nil
}

func addSummarySheet(f *xlsx.File, summary *model.RiskSummary) error {
	sheet, err := f.AddSheet("Summary")
	if err != nil {
		return eris.Wrap(err, "export: add summary sheet")
	}

	rows := []struct {
		label string
		value string
	}{
		{"Box", summary.BoxID},
		{"Collected at", summary.CollectedAt.Format(time.RFC3339)},
		{"Scored memberships", fmt.Sprintf("%d", summary.Total)},
		{"Low risk", fmt.Sprintf("%d", summary.Low)},
		{"Medium risk", fmt.Sprintf("%d", summary.Medium)},
		{"High risk", fmt.Sprintf("%d", summary.High)},
		{"Critical risk", fmt.Sprintf("%d", summary.Critical)},
		{"Average churn probability", fmt.Sprintf("%.4f", summary.AvgChurnProbability)},
		{"Stale snapshots", fmt.Sprintf("%d", summary.StaleSnapshots)},
	}
	for _, r := range rows {
		row := sheet.AddRow()
		row.AddCell().Value = r.label
		row.AddCell().Value = r.value
	}
	return nil
}

var membershipHeader = []string{
	"Membership ID", "Risk Level", "Overall Score", "Churn Probability",
	"Attendance", "Performance", "Engagement", "Wellness",
	"Attendance Trend %", "Days Since Last Visit", "Days Since Last Check-in",
	"Calculated At", "Valid Until",
}

func addMembershipSheet(f *xlsx.File, snaps []model.RiskSnapshot) error {
	sheet, err := f.AddSheet("Memberships")
	if err != nil {
		return eris.Wrap(err, "export: add memberships sheet")
	}

	header := sheet.AddRow()
	for _, h := range membershipHeader {
		header.AddCell().Value = h
	}

	for _, snap := range snaps {
		row := sheet.AddRow()
		row.AddCell().Value = snap.MembershipID
		row.AddCell().Value = string(snap.RiskLevel)
		row.AddCell().SetInt(snap.OverallRiskScore)
		row.AddCell().SetFloatWithFormat(snap.ChurnProbability, "0.0000")
		row.AddCell().SetInt(snap.AttendanceScore)
		row.AddCell().SetInt(snap.PerformanceScore)
		row.AddCell().SetInt(snap.EngagementScore)
		row.AddCell().SetInt(snap.WellnessScore)
		row.AddCell().SetFloatWithFormat(snap.AttendanceTrend, "0.00")
		addDaysCell(row, snap.DaysSinceLastVisit)
		addDaysCell(row, snap.DaysSinceLastCheckin)
		row.AddCell().Value = snap.CalculatedAt.Format(time.RFC3339)
		row.AddCell().Value = snap.ValidUntil.Format(time.RFC3339)
	}
	return nil
}

// addDaysCell leaves the cell blank when the metric has no history.
func addDaysCell(row *xlsx.Row, days *int) {
	cell := row.AddCell()
	if days != nil {
		cell.SetInt(*days)
	}
}
