package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/pulsefit/retention-cli/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite. It exists for local
// development and single-box deployments; Postgres is the production backend.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := sqlDB.Exec(pragma); err != nil {
			sqlDB.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: sqlDB}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS memberships (
	id             TEXT PRIMARY KEY,
	box_id         TEXT NOT NULL,
	status         TEXT NOT NULL DEFAULT 'active',
	role           TEXT NOT NULL DEFAULT 'athlete',
	checkin_streak INTEGER NOT NULL DEFAULT 0,
	joined_at      DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS attendances (
	id            TEXT PRIMARY KEY,
	membership_id TEXT NOT NULL REFERENCES memberships(id),
	attended_at   DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS personal_records (
	id            TEXT PRIMARY KEY,
	membership_id TEXT NOT NULL REFERENCES memberships(id),
	movement      TEXT NOT NULL,
	achieved_at   DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS benchmark_results (
	id            TEXT PRIMARY KEY,
	membership_id TEXT NOT NULL REFERENCES memberships(id),
	benchmark     TEXT NOT NULL,
	completed_at  DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS checkins (
	id            TEXT PRIMARY KEY,
	membership_id TEXT NOT NULL REFERENCES memberships(id),
	energy        INTEGER,
	readiness     INTEGER,
	stress        INTEGER,
	motivation    INTEGER,
	checked_in_at DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS feedback_entries (
	id            TEXT PRIMARY KEY,
	membership_id TEXT NOT NULL REFERENCES memberships(id),
	body          TEXT,
	submitted_at  DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS risk_scores (
	id                      TEXT PRIMARY KEY,
	membership_id           TEXT NOT NULL UNIQUE REFERENCES memberships(id),
	box_id                  TEXT NOT NULL,
	overall_risk_score      INTEGER NOT NULL,
	risk_level              TEXT NOT NULL,
	churn_probability       REAL NOT NULL,
	attendance_score        INTEGER NOT NULL,
	performance_score       INTEGER NOT NULL,
	engagement_score        INTEGER NOT NULL,
	wellness_score          INTEGER NOT NULL,
	attendance_trend        REAL NOT NULL,
	performance_trend       REAL NOT NULL,
	engagement_trend        REAL NOT NULL,
	wellness_trend          REAL NOT NULL,
	days_since_last_visit   INTEGER,
	days_since_last_checkin INTEGER,
	days_since_last_pr      INTEGER,
	factors                 TEXT NOT NULL,
	valid_until             DATETIME NOT NULL,
	calculated_at           DATETIME NOT NULL,
	updated_at              DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_memberships_box ON memberships(box_id, status, role);
CREATE INDEX IF NOT EXISTS idx_attendances_member_date ON attendances(membership_id, attended_at);
CREATE INDEX IF NOT EXISTS idx_prs_member_date ON personal_records(membership_id, achieved_at);
CREATE INDEX IF NOT EXISTS idx_benchmarks_member_date ON benchmark_results(membership_id, completed_at);
CREATE INDEX IF NOT EXISTS idx_checkins_member_date ON checkins(membership_id, checked_in_at);
CREATE INDEX IF NOT EXISTS idx_feedback_member_date ON feedback_entries(membership_id, submitted_at);
CREATE INDEX IF NOT EXISTS idx_risk_scores_box ON risk_scores(box_id);
CREATE INDEX IF NOT EXISTS idx_risk_scores_valid_until ON risk_scores(valid_until);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) GetMembership(ctx context.Context, membershipID string) (*model.Membership, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, box_id, status, role, checkin_streak, joined_at FROM memberships WHERE id = ?`,
		membershipID,
	)

	var m model.Membership
	err := row.Scan(&m.ID, &m.BoxID, &m.Status, &m.Role, &m.CheckinStreak, &m.JoinedAt)
	if err != nil {
		if eris.Is(err, sql.ErrNoRows) {
			return nil, ErrMembershipNotFound
		}
		return nil, eris.Wrapf(err, "sqlite: get membership %s", membershipID)
	}
	return &m, nil
}

func (s *SQLiteStore) ListActiveAthleteIDs(ctx context.Context, boxID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id FROM memberships WHERE box_id = ? AND status = ? AND role = ? ORDER BY joined_at, id`,
		boxID, string(model.MembershipStatusActive), string(model.RoleAthlete),
	)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: list athletes for box %s", boxID)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan membership id")
		}
		ids = append(ids, id)
	}
	return ids, eris.Wrap(rows.Err(), "sqlite: iterate membership ids")
}

func (s *SQLiteStore) CreateMembership(ctx context.Context, m *model.Membership) error {
	if m.ID == "" {
		m.ID = uuid.New().String()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO memberships (id, box_id, status, role, checkin_streak, joined_at)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
			box_id = excluded.box_id,
			status = excluded.status,
			role = excluded.role,
			checkin_streak = excluded.checkin_streak,
			joined_at = excluded.joined_at`,
		m.ID, m.BoxID, string(m.Status), string(m.Role), m.CheckinStreak, m.JoinedAt.UTC(),
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: create membership %s", m.ID)
	}
	return nil
}

func (s *SQLiteStore) RecordAttendance(ctx context.Context, membershipID string, at time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO attendances (id, membership_id, attended_at) VALUES (?, ?, ?)`,
		uuid.New().String(), membershipID, at.UTC(),
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: record attendance for %s", membershipID)
	}
	return nil
}

func (s *SQLiteStore) RecordPersonalRecord(ctx context.Context, membershipID, movement string, at time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO personal_records (id, membership_id, movement, achieved_at) VALUES (?, ?, ?, ?)`,
		uuid.New().String(), membershipID, movement, at.UTC(),
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: record PR for %s", membershipID)
	}
	return nil
}

func (s *SQLiteStore) RecordBenchmarkResult(ctx context.Context, membershipID, benchmark string, at time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO benchmark_results (id, membership_id, benchmark, completed_at) VALUES (?, ?, ?, ?)`,
		uuid.New().String(), membershipID, benchmark, at.UTC(),
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: record benchmark result for %s", membershipID)
	}
	return nil
}

func (s *SQLiteStore) RecordCheckin(ctx context.Context, membershipID string, c model.Checkin) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO checkins (id, membership_id, energy, readiness, stress, motivation, checked_in_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		uuid.New().String(), membershipID, c.Energy, c.Readiness, c.Stress, c.Motivation, c.CheckedInAt.UTC(),
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: record checkin for %s", membershipID)
	}
	return nil
}

func (s *SQLiteStore) RecordFeedback(ctx context.Context, membershipID, body string, at time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO feedback_entries (id, membership_id, body, submitted_at) VALUES (?, ?, ?, ?)`,
		uuid.New().String(), membershipID, body, at.UTC(),
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: record feedback for %s", membershipID)
	}
	return nil
}

func (s *SQLiteStore) CountAttendances(ctx context.Context, membershipID string, from, to time.Time) (int, error) {
	return s.countRange(ctx, "attendances", "attended_at", membershipID, from, to)
}

func (s *SQLiteStore) LastAttendanceAt(ctx context.Context, membershipID string) (*time.Time, error) {
	return s.maxDate(ctx, "attendances", "attended_at", membershipID)
}

func (s *SQLiteStore) CountPersonalRecords(ctx context.Context, membershipID string, from, to time.Time) (int, error) {
	return s.countRange(ctx, "personal_records", "achieved_at", membershipID, from, to)
}

func (s *SQLiteStore) LastPersonalRecordAt(ctx context.Context, membershipID string) (*time.Time, error) {
	return s.maxDate(ctx, "personal_records", "achieved_at", membershipID)
}

func (s *SQLiteStore) CountBenchmarkResults(ctx context.Context, membershipID string, from, to time.Time) (int, error) {
	return s.countRange(ctx, "benchmark_results", "completed_at", membershipID, from, to)
}

func (s *SQLiteStore) CountCheckins(ctx context.Context, membershipID string, from, to time.Time) (int, error) {
	return s.countRange(ctx, "checkins", "checked_in_at", membershipID, from, to)
}

func (s *SQLiteStore) LastCheckinAt(ctx context.Context, membershipID string) (*time.Time, error) {
	return s.maxDate(ctx, "checkins", "checked_in_at", membershipID)
}

func (s *SQLiteStore) CountFeedback(ctx context.Context, membershipID string, from, to time.Time) (int, error) {
	return s.countRange(ctx, "feedback_entries", "submitted_at", membershipID, from, to)
}

func (s *SQLiteStore) WellnessAverages(ctx context.Context, membershipID string, from, to time.Time) (*model.WellnessAverages, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT AVG(energy), AVG(readiness), AVG(stress), AVG(motivation)
		 FROM checkins
		 WHERE membership_id = ? AND checked_in_at >= ? AND checked_in_at < ?`,
		membershipID, from.UTC(), to.UTC(),
	)

	var energy, readiness, stress, motivation sql.NullFloat64
	if err := row.Scan(&energy, &readiness, &stress, &motivation); err != nil {
		return nil, eris.Wrapf(err, "sqlite: wellness averages for %s", membershipID)
	}
	if !energy.Valid && !readiness.Valid && !stress.Valid && !motivation.Valid {
		return nil, nil
	}

	return &model.WellnessAverages{
		Energy:     energy.Float64,
		Readiness:  readiness.Float64,
		Stress:     stress.Float64,
		Motivation: motivation.Float64,
	}, nil
}

func (s *SQLiteStore) UpsertRiskSnapshot(ctx context.Context, snap *model.RiskSnapshot) error {
	if snap.ID == "" {
		snap.ID = uuid.New().String()
	}

	factorsJSON, err := json.Marshal(snap.Factors)
	if err != nil {
		return eris.Wrapf(err, "sqlite: marshal factors for %s", snap.MembershipID)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO risk_scores (
			id, membership_id, box_id,
			overall_risk_score, risk_level, churn_probability,
			attendance_score, performance_score, engagement_score, wellness_score,
			attendance_trend, performance_trend, engagement_trend, wellness_trend,
			days_since_last_visit, days_since_last_checkin, days_since_last_pr,
			factors, valid_until, calculated_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(membership_id) DO UPDATE SET
			overall_risk_score = excluded.overall_risk_score,
			risk_level = excluded.risk_level,
			churn_probability = excluded.churn_probability,
			attendance_score = excluded.attendance_score,
			performance_score = excluded.performance_score,
			engagement_score = excluded.engagement_score,
			wellness_score = excluded.wellness_score,
			attendance_trend = excluded.attendance_trend,
			performance_trend = excluded.performance_trend,
			engagement_trend = excluded.engagement_trend,
			wellness_trend = excluded.wellness_trend,
			days_since_last_visit = excluded.days_since_last_visit,
			days_since_last_checkin = excluded.days_since_last_checkin,
			days_since_last_pr = excluded.days_since_last_pr,
			factors = excluded.factors,
			valid_until = excluded.valid_until,
			calculated_at = excluded.calculated_at,
			updated_at = excluded.updated_at`,
		snap.ID, snap.MembershipID, snap.BoxID,
		snap.OverallRiskScore, string(snap.RiskLevel), snap.ChurnProbability,
		snap.AttendanceScore, snap.PerformanceScore, snap.EngagementScore, snap.WellnessScore,
		snap.AttendanceTrend, snap.PerformanceTrend, snap.EngagementTrend, snap.WellnessTrend,
		intPtrValue(snap.DaysSinceLastVisit), intPtrValue(snap.DaysSinceLastCheckin), intPtrValue(snap.DaysSinceLastPR),
		string(factorsJSON), snap.ValidUntil.UTC(), snap.CalculatedAt.UTC(), snap.UpdatedAt.UTC(),
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: upsert risk snapshot for %s", snap.MembershipID)
	}
	return nil
}

const sqliteSelectRiskScore = `SELECT id, membership_id, box_id,
	overall_risk_score, risk_level, churn_probability,
	attendance_score, performance_score, engagement_score, wellness_score,
	attendance_trend, performance_trend, engagement_trend, wellness_trend,
	days_since_last_visit, days_since_last_checkin, days_since_last_pr,
	factors, valid_until, calculated_at, updated_at
FROM risk_scores`

func (s *SQLiteStore) GetRiskSnapshot(ctx context.Context, membershipID string) (*model.RiskSnapshot, error) {
	row := s.db.QueryRowContext(ctx, sqliteSelectRiskScore+` WHERE membership_id = ?`, membershipID)
	snap, err := scanSQLiteRiskSnapshot(row)
	if err != nil {
		if eris.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, eris.Wrapf(err, "sqlite: get risk snapshot for %s", membershipID)
	}
	return snap, nil
}

func (s *SQLiteStore) ListRiskSnapshots(ctx context.Context, boxID string) ([]model.RiskSnapshot, error) {
	rows, err := s.db.QueryContext(ctx, sqliteSelectRiskScore+` WHERE box_id = ? ORDER BY overall_risk_score ASC`, boxID)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: list risk snapshots for box %s", boxID)
	}
	defer rows.Close()

	var snaps []model.RiskSnapshot
	for rows.Next() {
		snap, err := scanSQLiteRiskSnapshot(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan risk snapshot")
		}
		snaps = append(snaps, *snap)
	}
	return snaps, eris.Wrap(rows.Err(), "sqlite: iterate risk snapshots")
}

func (s *SQLiteStore) RiskSummary(ctx context.Context, boxID string, now time.Time) (*model.RiskSummary, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*),
			COALESCE(SUM(CASE WHEN risk_level = 'low' THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN risk_level = 'medium' THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN risk_level = 'high' THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN risk_level = 'critical' THEN 1 ELSE 0 END), 0),
			COALESCE(AVG(churn_probability), 0),
			COALESCE(SUM(CASE WHEN valid_until < ? THEN 1 ELSE 0 END), 0)
		 FROM risk_scores WHERE box_id = ?`,
		now.UTC(), boxID,
	)

	summary := &model.RiskSummary{BoxID: boxID, CollectedAt: now}
	err := row.Scan(
		&summary.Total,
		&summary.Low, &summary.Medium, &summary.High, &summary.Critical,
		&summary.AvgChurnProbability,
		&summary.StaleSnapshots,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: risk summary for box %s", boxID)
	}
	return summary, nil
}

func (s *SQLiteStore) ListStaleSnapshots(ctx context.Context, boxID string, now time.Time) ([]model.StaleEntry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT m.id, rs.valid_until
		 FROM memberships m
		 LEFT JOIN risk_scores rs ON rs.membership_id = m.id
		 WHERE m.box_id = ? AND m.status = ? AND m.role = ?
		   AND (rs.membership_id IS NULL OR rs.valid_until < ?)
		 ORDER BY m.joined_at`,
		boxID, string(model.MembershipStatusActive), string(model.RoleAthlete), now.UTC(),
	)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: list stale snapshots for box %s", boxID)
	}
	defer rows.Close()

	var entries []model.StaleEntry
	for rows.Next() {
		var e model.StaleEntry
		var validUntil sql.NullTime
		if err := rows.Scan(&e.MembershipID, &validUntil); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan stale entry")
		}
		if validUntil.Valid {
			t := validUntil.Time
			e.ValidUntil = &t
		}
		entries = append(entries, e)
	}
	return entries, eris.Wrap(rows.Err(), "sqlite: iterate stale entries")
}

func (s *SQLiteStore) countRange(ctx context.Context, table, dateCol, membershipID string, from, to time.Time) (int, error) {
	query := `SELECT COUNT(*) FROM ` + table + ` WHERE membership_id = ? AND ` + dateCol + ` >= ? AND ` + dateCol + ` < ?`
	var n int
	if err := s.db.QueryRowContext(ctx, query, membershipID, from.UTC(), to.UTC()).Scan(&n); err != nil {
		return 0, eris.Wrapf(err, "sqlite: count %s for %s", table, membershipID)
	}
	return n, nil
}

func (s *SQLiteStore) maxDate(ctx context.Context, table, dateCol, membershipID string) (*time.Time, error) {
	query := `SELECT MAX(` + dateCol + `) FROM ` + table + ` WHERE membership_id = ?`
	var t sql.NullTime
	if err := s.db.QueryRowContext(ctx, query, membershipID).Scan(&t); err != nil {
		return nil, eris.Wrapf(err, "sqlite: max %s.%s for %s", table, dateCol, membershipID)
	}
	if !t.Valid {
		return nil, nil
	}
	out := t.Time
	return &out, nil
}

func scanSQLiteRiskSnapshot(row scannable) (*model.RiskSnapshot, error) {
	var snap model.RiskSnapshot
	var level, factorsJSON string
	var visit, checkin, pr sql.NullInt64

	err := row.Scan(
		&snap.ID, &snap.MembershipID, &snap.BoxID,
		&snap.OverallRiskScore, &level, &snap.ChurnProbability,
		&snap.AttendanceScore, &snap.PerformanceScore, &snap.EngagementScore, &snap.WellnessScore,
		&snap.AttendanceTrend, &snap.PerformanceTrend, &snap.EngagementTrend, &snap.WellnessTrend,
		&visit, &checkin, &pr,
		&factorsJSON, &snap.ValidUntil, &snap.CalculatedAt, &snap.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	snap.RiskLevel = model.RiskLevel(level)
	snap.DaysSinceLastVisit = nullableInt(visit)
	snap.DaysSinceLastCheckin = nullableInt(checkin)
	snap.DaysSinceLastPR = nullableInt(pr)
	if factorsJSON != "" {
		if err := json.Unmarshal([]byte(factorsJSON), &snap.Factors); err != nil {
			return nil, eris.Wrapf(err, "sqlite: unmarshal factors for %s", snap.MembershipID)
		}
	}
	return &snap, nil
}

func nullableInt(v sql.NullInt64) *int {
	if !v.Valid {
		return nil
	}
	n := int(v.Int64)
	return &n
}

// intPtrValue converts *int to a driver value, preserving NULL.
func intPtrValue(v *int) any {
	if v == nil {
		return nil
	}
	return *v
}
