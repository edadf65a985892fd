// Package ingest loads platform CSV exports into the behavioral data
// store, so a box can be scored without a live connection to the
// upstream membership platform.
package ingest

import (
	"context"
	"encoding/csv"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/pulsefit/retention-cli/internal/model"
	"github.com/pulsefit/retention-cli/internal/store"
)

// Stats summarizes one import run.
type Stats struct {
	Memberships int `json:"memberships"`
	Events      int `json:"events"`
	Skipped     int `json:"skipped"`
}

// ImportCSV reads a platform CSV export and writes its rows into the
// store. The file kind is detected from the header row: membership
// exports carry a "status" column, event exports carry an "event_type"
// column. Malformed rows are skipped and counted, not fatal.
func ImportCSV(ctx context.Context, st store.Store, path string) (*Stats, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, eris.Wrap(err, fmt.Sprintf("ingest: open csv %s", path))
	}
	defer f.Close() //nolint:errcheck

	reader := csv.NewReader(f)
	reader.FieldsPerRecord = -1
	records, err := reader.ReadAll()
	if err != nil {
		return nil, eris.Wrap(err, "ingest: read csv")
	}

	if len(records) < 2 {
		return &Stats{}, nil // header only or empty
	}

	cols := columnIndex(records[0])
	rows := records[1:]

	switch {
	case cols.has("status"):
		return importMemberships(ctx, st, cols, rows)
	case cols.has("event_type"):
		return importEvents(ctx, st, cols, rows)
	default:
		return nil, eris.New("ingest: unrecognized csv headers, want a membership or event export")
	}
}

type columns map[string]int

func columnIndex(headers []string) columns {
	cols := make(columns, len(headers))
	for i, h := range headers {
		cols[strings.ToLower(strings.TrimSpace(h))] = i
	}
	return cols
}

func (c columns) has(name string) bool {
	_, ok := c[name]
	return ok
}

// get returns the trimmed cell for the named column, or "" when the
// column or cell is absent.
func (c columns) get(row []string, name string) string {
	i, ok := c[name]
	if !ok || i >= len(row) {
		return ""
	}
	return strings.TrimSpace(row[i])
}

func importMemberships(ctx context.Context, st store.Store, cols columns, rows [][]string) (*Stats, error) {
	stats := &Stats{}
	for _, row := range rows {
		if ctx.Err() != nil {
			return stats, eris.Wrap(ctx.Err(), "ingest: import cancelled")
		}

		m := model.Membership{
			ID:     cols.get(row, "membership_id"),
			BoxID:  cols.get(row, "box_id"),
			Status: model.MembershipStatus(cols.get(row, "status")),
			Role:   model.MembershipRole(cols.get(row, "role")),
		}
		if m.ID == "" || m.BoxID == "" {
			stats.Skipped++
			continue
		}
		if m.Role == "" {
			m.Role = model.RoleAthlete
		}
		if streak := cols.get(row, "checkin_streak"); streak != "" {
			n, err := strconv.Atoi(streak)
			if err != nil {
				stats.Skipped++
				continue
			}
			m.CheckinStreak = n
		}
		if joined := cols.get(row, "joined_at"); joined != "" {
			ts, err := parseTime(joined)
			if err != nil {
				stats.Skipped++
				continue
			}
			m.JoinedAt = ts
		}

		if err := st.CreateMembership(ctx, &m); err != nil {
			return stats, eris.Wrap(err, "ingest: create membership")
		}
		stats.Memberships++
	}
	zap.L().Debug("membership rows imported",
		zap.Int("imported", stats.Memberships),
		zap.Int("skipped", stats.Skipped),
	)
	return stats, nil
}

func importEvents(ctx context.Context, st store.Store, cols columns, rows [][]string) (*Stats, error) {
	stats := &Stats{}
	for _, row := range rows {
		if ctx.Err() != nil {
			return stats, eris.Wrap(ctx.Err(), "ingest: import cancelled")
		}

		id := cols.get(row, "membership_id")
		kind := cols.get(row, "event_type")
		at, err := parseTime(cols.get(row, "occurred_at"))
		if id == "" || err != nil {
			stats.Skipped++
			continue
		}

		switch kind {
		case "attendance":
			err = st.RecordAttendance(ctx, id, at)
		case "personal_record":
			err = st.RecordPersonalRecord(ctx, id, cols.get(row, "detail"), at)
		case "benchmark_result":
			err = st.RecordBenchmarkResult(ctx, id, cols.get(row, "detail"), at)
		case "checkin":
			var c model.Checkin
			c, err = parseCheckin(cols, row)
			if err != nil {
				stats.Skipped++
				continue
			}
			c.CheckedInAt = at
			err = st.RecordCheckin(ctx, id, c)
		case "feedback":
			err = st.RecordFeedback(ctx, id, cols.get(row, "detail"), at)
		default:
			stats.Skipped++
			continue
		}
		if err != nil {
			return stats, eris.Wrap(err, fmt.Sprintf("ingest: record %s", kind))
		}
		stats.Events++
	}
	zap.L().Debug("event rows imported",
		zap.Int("imported", stats.Events),
		zap.Int("skipped", stats.Skipped),
	)
	return stats, nil
}

func parseCheckin(cols columns, row []string) (model.Checkin, error) {
	var c model.Checkin
	for _, f := range []struct {
		name string
		dst  *int
	}{
		{"energy", &c.Energy},
		{"readiness", &c.Readiness},
		{"stress", &c.Stress},
		{"motivation", &c.Motivation},
	} {
		n, err := strconv.Atoi(cols.get(row, f.name))
		if err != nil {
			return c, eris.Wrap(err, fmt.Sprintf("ingest: checkin %s", f.name))
		}
		*f.dst = n
	}
	return c, nil
}

// parseTime accepts RFC 3339 timestamps and bare dates, the two formats
// platform exports use.
func parseTime(s string) (time.Time, error) {
	if ts, err := time.Parse(time.RFC3339, s); err == nil {
		return ts, nil
	}
	ts, err := time.Parse("2006-01-02", s)
	if err != nil {
		return time.Time{}, eris.Wrap(err, "ingest: parse timestamp")
	}
	return ts, nil
}
