package store

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pulsefit/retention-cli/internal/model"
)

// anyArgs returns n pgxmock.AnyArg() matchers; pgxmock (unlike sqlmock)
// treats a missing WithArgs as "expect zero arguments", so exec expectations
// that don't care about values still need placeholders for every argument.
func anyArgs(n int) []any {
	args := make([]any, n)
	for i := range args {
		args[i] = pgxmock.AnyArg()
	}
	return args
}

// newMockPostgresStore creates a PostgresStore backed by pgxmock for unit testing.
func newMockPostgresStore(t *testing.T) (*PostgresStore, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool(pgxmock.QueryMatcherOption(pgxmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { mock.Close() })

	s := &PostgresStore{pool: mock}
	return s, mock
}

func TestPostgresStore_GetMembership(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	joined := time.Date(2025, 11, 3, 9, 0, 0, 0, time.UTC)

	mock.ExpectQuery(`SELECT id, box_id, status, role, checkin_streak, joined_at FROM memberships WHERE id = \$1`).
		WithArgs("m-1").
		WillReturnRows(pgxmock.NewRows([]string{"id", "box_id", "status", "role", "checkin_streak", "joined_at"}).
			AddRow("m-1", "box-1", model.MembershipStatusActive, model.RoleAthlete, 7, joined))

	m, err := s.GetMembership(context.Background(), "m-1")
	require.NoError(t, err)
	assert.Equal(t, "box-1", m.BoxID)
	assert.Equal(t, 7, m.CheckinStreak)
	assert.Equal(t, joined, m.JoinedAt)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_GetMembership_NotFound(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`SELECT id, box_id, status, role, checkin_streak, joined_at FROM memberships`).
		WithArgs("ghost").
		WillReturnError(pgx.ErrNoRows)

	_, err := s.GetMembership(context.Background(), "ghost")
	assert.ErrorIs(t, err, ErrMembershipNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_ListActiveAthleteIDs(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`SELECT id FROM memberships WHERE box_id = \$1 AND status = \$2 AND role = \$3`).
		WithArgs("box-1", "active", "athlete").
		WillReturnRows(pgxmock.NewRows([]string{"id"}).AddRow("m-1").AddRow("m-2"))

	ids, err := s.ListActiveAthleteIDs(context.Background(), "box-1")
	require.NoError(t, err)
	assert.Equal(t, []string{"m-1", "m-2"}, ids)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_CreateMembership(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`INSERT INTO memberships`).
		WithArgs(anyArgs(6)...).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	m := &model.Membership{BoxID: "box-1", Status: model.MembershipStatusActive, Role: model.RoleAthlete}
	require.NoError(t, s.CreateMembership(context.Background(), m))
	assert.NotEmpty(t, m.ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_RecordCheckin(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	at := time.Date(2026, 7, 15, 9, 0, 0, 0, time.UTC)

	mock.ExpectExec(`INSERT INTO checkins`).
		WithArgs(anyArgs(7)...).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	err := s.RecordCheckin(context.Background(), "m-1", model.Checkin{
		Energy: 8, Readiness: 7, Stress: 3, Motivation: 9, CheckedInAt: at,
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_CountAttendances(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	from := time.Date(2026, 7, 2, 12, 0, 0, 0, time.UTC)
	to := from.AddDate(0, 0, 30)

	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM attendances WHERE membership_id = \$1 AND attended_at >= \$2 AND attended_at < \$3`).
		WithArgs("m-1", from, to).
		WillReturnRows(pgxmock.NewRows([]string{"count"}).AddRow(12))

	n, err := s.CountAttendances(context.Background(), "m-1", from, to)
	require.NoError(t, err)
	assert.Equal(t, 12, n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_LastAttendanceAt_NoHistory(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`SELECT MAX\(attended_at\) FROM attendances WHERE membership_id = \$1`).
		WithArgs("m-1").
		WillReturnRows(pgxmock.NewRows([]string{"max"}).AddRow(nil))

	last, err := s.LastAttendanceAt(context.Background(), "m-1")
	require.NoError(t, err)
	assert.Nil(t, last)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_WellnessAverages(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	from := time.Date(2026, 7, 2, 12, 0, 0, 0, time.UTC)
	to := from.AddDate(0, 0, 30)

	e, r, st, m := 7.5, 6.0, 3.25, 8.0
	mock.ExpectQuery(`SELECT AVG\(energy\), AVG\(readiness\), AVG\(stress\), AVG\(motivation\)`).
		WithArgs("m-1", from, to).
		WillReturnRows(pgxmock.NewRows([]string{"energy", "readiness", "stress", "motivation"}).
			AddRow(&e, &r, &st, &m))

	wa, err := s.WellnessAverages(context.Background(), "m-1", from, to)
	require.NoError(t, err)
	require.NotNil(t, wa)
	assert.Equal(t, 7.5, wa.Energy)
	assert.Equal(t, 3.25, wa.Stress)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_WellnessAverages_NoCheckins(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	from := time.Date(2026, 7, 2, 12, 0, 0, 0, time.UTC)
	to := from.AddDate(0, 0, 30)

	mock.ExpectQuery(`SELECT AVG\(energy\), AVG\(readiness\), AVG\(stress\), AVG\(motivation\)`).
		WithArgs("m-1", from, to).
		WillReturnRows(pgxmock.NewRows([]string{"energy", "readiness", "stress", "motivation"}).
			AddRow(nil, nil, nil, nil))

	wa, err := s.WellnessAverages(context.Background(), "m-1", from, to)
	require.NoError(t, err)
	assert.Nil(t, wa)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func testSnapshot() *model.RiskSnapshot {
	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	return &model.RiskSnapshot{
		MembershipID:     "m-1",
		BoxID:            "box-1",
		OverallRiskScore: 62,
		RiskLevel:        model.RiskLevelMedium,
		ChurnProbability: 0.3823,
		AttendanceScore:  70,
		PerformanceScore: 40,
		EngagementScore:  55,
		WellnessScore:    65,
		Factors: model.RiskFactors{
			Attendance: model.AttendanceFactor{Score: 70, DaysGap: 2, Frequency: 3.2},
		},
		ValidUntil:   now.Add(24 * time.Hour),
		CalculatedAt: now,
		UpdatedAt:    now,
	}
}

func TestPostgresStore_UpsertRiskSnapshot(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	snap := testSnapshot()

	mock.ExpectExec(`INSERT INTO "risk_scores" .+ ON CONFLICT \("membership_id"\) DO UPDATE SET`).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	err := s.UpsertRiskSnapshot(context.Background(), snap)
	require.NoError(t, err)
	assert.NotEmpty(t, snap.ID, "upsert assigns an id when missing")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_UpsertRiskSnapshot_KeepsID(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	snap := testSnapshot()
	snap.ID = "existing-id"

	mock.ExpectExec(`INSERT INTO "risk_scores"`).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	err := s.UpsertRiskSnapshot(context.Background(), snap)
	require.NoError(t, err)
	assert.Equal(t, "existing-id", snap.ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_GetRiskSnapshot(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	snap := testSnapshot()
	snap.ID = "rs-1"
	factorsJSON, err := json.Marshal(snap.Factors)
	require.NoError(t, err)

	mock.ExpectQuery(`FROM risk_scores WHERE membership_id = \$1`).
		WithArgs("m-1").
		WillReturnRows(pgxmock.NewRows([]string{
			"id", "membership_id", "box_id",
			"overall_risk_score", "risk_level", "churn_probability",
			"attendance_score", "performance_score", "engagement_score", "wellness_score",
			"attendance_trend", "performance_trend", "engagement_trend", "wellness_trend",
			"days_since_last_visit", "days_since_last_checkin", "days_since_last_pr",
			"factors", "valid_until", "calculated_at", "updated_at",
		}).AddRow(
			snap.ID, snap.MembershipID, snap.BoxID,
			snap.OverallRiskScore, string(snap.RiskLevel), snap.ChurnProbability,
			snap.AttendanceScore, snap.PerformanceScore, snap.EngagementScore, snap.WellnessScore,
			snap.AttendanceTrend, snap.PerformanceTrend, snap.EngagementTrend, snap.WellnessTrend,
			nil, nil, nil,
			factorsJSON, snap.ValidUntil, snap.CalculatedAt, snap.UpdatedAt,
		))

	got, err := s.GetRiskSnapshot(context.Background(), "m-1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, model.RiskLevelMedium, got.RiskLevel)
	assert.Equal(t, 2, got.Factors.Attendance.DaysGap)
	assert.Nil(t, got.DaysSinceLastVisit)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_GetRiskSnapshot_NotFound(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`FROM risk_scores WHERE membership_id = \$1`).
		WithArgs("m-1").
		WillReturnError(pgx.ErrNoRows)

	got, err := s.GetRiskSnapshot(context.Background(), "m-1")
	require.NoError(t, err)
	assert.Nil(t, got)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_RiskSummary(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)

	mock.ExpectQuery(`SELECT COUNT\(\*\),`).
		WithArgs("box-1", now).
		WillReturnRows(pgxmock.NewRows([]string{
			"total", "low", "medium", "high", "critical", "avg", "stale",
		}).AddRow(10, 4, 3, 2, 1, 0.41, 2))

	summary, err := s.RiskSummary(context.Background(), "box-1", now)
	require.NoError(t, err)
	assert.Equal(t, 10, summary.Total)
	assert.Equal(t, 1, summary.Critical)
	assert.Equal(t, 0.41, summary.AvgChurnProbability)
	assert.Equal(t, 2, summary.StaleSnapshots)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_ListStaleSnapshots(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	expired := now.Add(-2 * time.Hour)

	mock.ExpectQuery(`LEFT JOIN risk_scores rs ON rs\.membership_id = m\.id`).
		WithArgs("box-1", "active", "athlete", now).
		WillReturnRows(pgxmock.NewRows([]string{"id", "valid_until"}).
			AddRow("m-1", nil).
			AddRow("m-2", &expired))

	entries, err := s.ListStaleSnapshots(context.Background(), "box-1", now)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Nil(t, entries[0].ValidUntil, "never scored membership has no valid_until")
	require.NotNil(t, entries[1].ValidUntil)
	assert.Equal(t, expired, *entries[1].ValidUntil)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_Migrate(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`CREATE TABLE IF NOT EXISTS memberships`).
		WillReturnResult(pgxmock.NewResult("CREATE", 0))

	require.NoError(t, s.Migrate(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
}
