// Package store provides the behavioral data store backing the risk engine:
// attendance, performance, check-in and feedback history plus the persisted
// risk snapshot per membership.
package store

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/pulsefit/retention-cli/internal/model"
)

// ErrMembershipNotFound is returned when a membership id does not resolve.
var ErrMembershipNotFound = eris.New("store: membership not found")

// Store defines the persistence interface consumed by the risk engine.
// All date windows are half-open: [from, to).
type Store interface {
	// Memberships
	GetMembership(ctx context.Context, membershipID string) (*model.Membership, error)
	ListActiveAthleteIDs(ctx context.Context, boxID string) ([]string, error)
	CreateMembership(ctx context.Context, m *model.Membership) error

	// Event ingestion (CSV import)
	RecordAttendance(ctx context.Context, membershipID string, at time.Time) error
	RecordPersonalRecord(ctx context.Context, membershipID, movement string, at time.Time) error
	RecordBenchmarkResult(ctx context.Context, membershipID, benchmark string, at time.Time) error
	RecordCheckin(ctx context.Context, membershipID string, c model.Checkin) error
	RecordFeedback(ctx context.Context, membershipID, body string, at time.Time) error

	// Behavioral history
	CountAttendances(ctx context.Context, membershipID string, from, to time.Time) (int, error)
	LastAttendanceAt(ctx context.Context, membershipID string) (*time.Time, error)
	CountPersonalRecords(ctx context.Context, membershipID string, from, to time.Time) (int, error)
	LastPersonalRecordAt(ctx context.Context, membershipID string) (*time.Time, error)
	CountBenchmarkResults(ctx context.Context, membershipID string, from, to time.Time) (int, error)
	CountCheckins(ctx context.Context, membershipID string, from, to time.Time) (int, error)
	LastCheckinAt(ctx context.Context, membershipID string) (*time.Time, error)
	CountFeedback(ctx context.Context, membershipID string, from, to time.Time) (int, error)
	// WellnessAverages returns nil when no check-ins exist in the window.
	WellnessAverages(ctx context.Context, membershipID string, from, to time.Time) (*model.WellnessAverages, error)

	// Risk snapshots
	UpsertRiskSnapshot(ctx context.Context, snap *model.RiskSnapshot) error
	GetRiskSnapshot(ctx context.Context, membershipID string) (*model.RiskSnapshot, error)
	ListRiskSnapshots(ctx context.Context, boxID string) ([]model.RiskSnapshot, error)
	RiskSummary(ctx context.Context, boxID string, now time.Time) (*model.RiskSummary, error)
	ListStaleSnapshots(ctx context.Context, boxID string, now time.Time) ([]model.StaleEntry, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}
