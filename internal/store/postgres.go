package store

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/pulsefit/retention-cli/internal/db"
	"github.com/pulsefit/retention-cli/internal/model"
)

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(10)
	minConns := int32(2)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

// Pool returns the underlying database pool for subsystems that need direct
// query access (e.g., the monitoring collector).
func (s *PostgresStore) Pool() db.Pool {
	return s.pool
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS memberships (
	id             TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	box_id         TEXT NOT NULL,
	status         TEXT NOT NULL DEFAULT 'active',
	role           TEXT NOT NULL DEFAULT 'athlete',
	checkin_streak INTEGER NOT NULL DEFAULT 0,
	joined_at      TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS attendances (
	id            TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	membership_id TEXT NOT NULL REFERENCES memberships(id),
	attended_at   TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS personal_records (
	id            TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	membership_id TEXT NOT NULL REFERENCES memberships(id),
	movement      TEXT NOT NULL,
	achieved_at   TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS benchmark_results (
	id            TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	membership_id TEXT NOT NULL REFERENCES memberships(id),
	benchmark     TEXT NOT NULL,
	completed_at  TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS checkins (
	id            TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	membership_id TEXT NOT NULL REFERENCES memberships(id),
	energy        INTEGER,
	readiness     INTEGER,
	stress        INTEGER,
	motivation    INTEGER,
	checked_in_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS feedback_entries (
	id            TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	membership_id TEXT NOT NULL REFERENCES memberships(id),
	body          TEXT,
	submitted_at  TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS risk_scores (
	id                      TEXT PRIMARY KEY,
	membership_id           TEXT NOT NULL UNIQUE REFERENCES memberships(id),
	box_id                  TEXT NOT NULL,
	overall_risk_score      INTEGER NOT NULL,
	risk_level              TEXT NOT NULL,
	churn_probability       DOUBLE PRECISION NOT NULL,
	attendance_score        INTEGER NOT NULL,
	performance_score       INTEGER NOT NULL,
	engagement_score        INTEGER NOT NULL,
	wellness_score          INTEGER NOT NULL,
	attendance_trend        DOUBLE PRECISION NOT NULL,
	performance_trend       DOUBLE PRECISION NOT NULL,
	engagement_trend        DOUBLE PRECISION NOT NULL,
	wellness_trend          DOUBLE PRECISION NOT NULL,
	days_since_last_visit   INTEGER,
	days_since_last_checkin INTEGER,
	days_since_last_pr      INTEGER,
	factors                 JSONB NOT NULL,
	valid_until             TIMESTAMPTZ NOT NULL,
	calculated_at           TIMESTAMPTZ NOT NULL,
	updated_at              TIMESTAMPTZ NOT NULL
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

// Migrate creates the schema if it does not exist.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, postgresMigration); err != nil {
		return eris.Wrap(err, "postgres: migrate")
	}
	return nil
}

// Close releases the connection pool.
func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

func (s *PostgresStore) GetMembership(ctx context.Context, membershipID string) (*model.Membership, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT id, box_id, status, role, checkin_streak, joined_at FROM memberships WHERE id = $1`,
		membershipID,
	)

	var m model.Membership
	err := row.Scan(&m.ID, &m.BoxID, &m.Status, &m.Role, &m.CheckinStreak, &m.JoinedAt)
	if err != nil {
		if eris.Is(err, pgx.ErrNoRows) {
			return nil, ErrMembershipNotFound
		}
		return nil, eris.Wrapf(err, "postgres: get membership %s", membershipID)
	}
	return &m, nil
}

func (s *PostgresStore) ListActiveAthleteIDs(ctx context.Context, boxID string) ([]string, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id FROM memberships WHERE box_id = $1 AND status = $2 AND role = $3 ORDER BY joined_at, id`,
		boxID, string(model.MembershipStatusActive), string(model.RoleAthlete),
	)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: list athletes for box %s", boxID)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, eris.Wrap(err, "postgres: scan membership id")
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "postgres: iterate membership ids")
	}
	return ids, nil
}

func (s *PostgresStore) CreateMembership(ctx context.Context, m *model.Membership) error {
	if m.ID == "" {
		m.ID = uuid.New().String()
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO memberships (id, box_id, status, role, checkin_streak, joined_at)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 ON CONFLICT (id) DO UPDATE SET
			box_id = EXCLUDED.box_id,
			status = EXCLUDED.status,
			role = EXCLUDED.role,
			checkin_streak = EXCLUDED.checkin_streak,
			joined_at = EXCLUDED.joined_at`,
		m.ID, m.BoxID, string(m.Status), string(m.Role), m.CheckinStreak, m.JoinedAt,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: create membership %s", m.ID)
	}
	return nil
}

func (s *PostgresStore) RecordAttendance(ctx context.Context, membershipID string, at time.Time) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO attendances (id, membership_id, attended_at) VALUES ($1, $2, $3)`,
		uuid.New().String(), membershipID, at,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: record attendance for %s", membershipID)
	}
	return nil
}

func (s *PostgresStore) RecordPersonalRecord(ctx context.Context, membershipID, movement string, at time.Time) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO personal_records (id, membership_id, movement, achieved_at) VALUES ($1, $2, $3, $4)`,
		uuid.New().String(), membershipID, movement, at,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: record PR for %s", membershipID)
	}
	return nil
}

func (s *PostgresStore) RecordBenchmarkResult(ctx context.Context, membershipID, benchmark string, at time.Time) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO benchmark_results (id, membership_id, benchmark, completed_at) VALUES ($1, $2, $3, $4)`,
		uuid.New().String(), membershipID, benchmark, at,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: record benchmark result for %s", membershipID)
	}
	return nil
}

func (s *PostgresStore) RecordCheckin(ctx context.Context, membershipID string, c model.Checkin) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO checkins (id, membership_id, energy, readiness, stress, motivation, checked_in_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		uuid.New().String(), membershipID, c.Energy, c.Readiness, c.Stress, c.Motivation, c.CheckedInAt,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: record checkin for %s", membershipID)
	}
	return nil
}

func (s *PostgresStore) RecordFeedback(ctx context.Context, membershipID, body string, at time.Time) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO feedback_entries (id, membership_id, body, submitted_at) VALUES ($1, $2, $3, $4)`,
		uuid.New().String(), membershipID, body, at,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: record feedback for %s", membershipID)
	}
	return nil
}

func (s *PostgresStore) CountAttendances(ctx context.Context, membershipID string, from, to time.Time) (int, error) {
	return s.countRange(ctx, "attendances", "attended_at", membershipID, from, to)
}

func (s *PostgresStore) LastAttendanceAt(ctx context.Context, membershipID string) (*time.Time, error) {
	return s.maxDate(ctx, "attendances", "attended_at", membershipID)
}

func (s *PostgresStore) CountPersonalRecords(ctx context.Context, membershipID string, from, to time.Time) (int, error) {
	return s.countRange(ctx, "personal_records", "achieved_at", membershipID, from, to)
}

func (s *PostgresStore) LastPersonalRecordAt(ctx context.Context, membershipID string) (*time.Time, error) {
	return s.maxDate(ctx, "personal_records", "achieved_at", membershipID)
}

func (s *PostgresStore) CountBenchmarkResults(ctx context.Context, membershipID string, from, to time.Time) (int, error) {
	return s.countRange(ctx, "benchmark_results", "completed_at", membershipID, from, to)
}

func (s *PostgresStore) CountCheckins(ctx context.Context, membershipID string, from, to time.Time) (int, error) {
	return s.countRange(ctx, "checkins", "checked_in_at", membershipID, from, to)
}

func (s *PostgresStore) LastCheckinAt(ctx context.Context, membershipID string) (*time.Time, error) {
	return s.maxDate(ctx, "checkins", "checked_in_at", membershipID)
}

func (s *PostgresStore) CountFeedback(ctx context.Context, membershipID string, from, to time.Time) (int, error) {
	return s.countRange(ctx, "feedback_entries", "submitted_at", membershipID, from, to)
}

func (s *PostgresStore) WellnessAverages(ctx context.Context, membershipID string, from, to time.Time) (*model.WellnessAverages, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT AVG(energy), AVG(readiness), AVG(stress), AVG(motivation)
		 FROM checkins
		 WHERE membership_id = $1 AND checked_in_at >= $2 AND checked_in_at < $3`,
		membershipID, from, to,
	)

	var energy, readiness, stress, motivation *float64
	if err := row.Scan(&energy, &readiness, &stress, &motivation); err != nil {
		return nil, eris.Wrapf(err, "postgres: wellness averages for %s", membershipID)
	}
	if energy == nil && readiness == nil && stress == nil && motivation == nil {
		return nil, nil
	}

	wa := &model.WellnessAverages{}
	if energy != nil {
		wa.Energy = *energy
	}
	if readiness != nil {
		wa.Readiness = *readiness
	}
	if stress != nil {
		wa.Stress = *stress
	}
	if motivation != nil {
		wa.Motivation = *motivation
	}
	return wa, nil
}

// riskScoreColumns is the column order shared by upsert and select.
var riskScoreColumns = []string{
	"id", "membership_id", "box_id",
	"overall_risk_score", "risk_level", "churn_probability",
	"attendance_score", "performance_score", "engagement_score", "wellness_score",
	"attendance_trend", "performance_trend", "engagement_trend", "wellness_trend",
	"days_since_last_visit", "days_since_last_checkin", "days_since_last_pr",
	"factors", "valid_until", "calculated_at", "updated_at",
}

func (s *PostgresStore) UpsertRiskSnapshot(ctx context.Context, snap *model.RiskSnapshot) error {
	if snap.ID == "" {
		snap.ID = uuid.New().String()
	}

	factorsJSON, err := json.Marshal(snap.Factors)
	if err != nil {
		return eris.Wrapf(err, "postgres: marshal factors for %s", snap.MembershipID)
	}

	err = db.UpsertRow(ctx, s.pool, db.UpsertConfig{
		Table:        "risk_scores",
		Columns:      riskScoreColumns,
		ConflictKeys: []string{"membership_id"},
		// The existing row keeps its id and membership identity; everything
		// else is replaced wholesale.
		UpdateCols: riskScoreColumns[3:],
	}, []any{
		snap.ID, snap.MembershipID, snap.BoxID,
		snap.OverallRiskScore, string(snap.RiskLevel), snap.ChurnProbability,
		snap.AttendanceScore, snap.PerformanceScore, snap.EngagementScore, snap.WellnessScore,
		snap.AttendanceTrend, snap.PerformanceTrend, snap.EngagementTrend, snap.WellnessTrend,
		snap.DaysSinceLastVisit, snap.DaysSinceLastCheckin, snap.DaysSinceLastPR,
		factorsJSON, snap.ValidUntil, snap.CalculatedAt, snap.UpdatedAt,
	})
	if err != nil {
		return eris.Wrapf(err, "postgres: upsert risk snapshot for %s", snap.MembershipID)
	}
	return nil
}

const selectRiskScore = `SELECT id, membership_id, box_id,
	overall_risk_score, risk_level, churn_probability,
	attendance_score, performance_score, engagement_score, wellness_score,
	attendance_trend, performance_trend, engagement_trend, wellness_trend,
	days_since_last_visit, days_since_last_checkin, days_since_last_pr,
	factors, valid_until, calculated_at, updated_at
FROM risk_scores`

func (s *PostgresStore) GetRiskSnapshot(ctx context.Context, membershipID string) (*model.RiskSnapshot, error) {
	row := s.pool.QueryRow(ctx, selectRiskScore+` WHERE membership_id = $1`, membershipID)
	snap, err := scanRiskSnapshot(row)
	if err != nil {
		if eris.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, eris.Wrapf(err, "postgres: get risk snapshot for %s", membershipID)
	}
	return snap, nil
}

func (s *PostgresStore) ListRiskSnapshots(ctx context.Context, boxID string) ([]model.RiskSnapshot, error) {
	rows, err := s.pool.Query(ctx, selectRiskScore+` WHERE box_id = $1 ORDER BY overall_risk_score ASC`, boxID)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: list risk snapshots for box %s", boxID)
	}
	defer rows.Close()

	var snaps []model.RiskSnapshot
	for rows.Next() {
		snap, err := scanRiskSnapshot(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan risk snapshot")
		}
		snaps = append(snaps, *snap)
	}
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "postgres: iterate risk snapshots")
	}
	return snaps, nil
}

func (s *PostgresStore) RiskSummary(ctx context.Context, boxID string, now time.Time) (*model.RiskSummary, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT COUNT(*),
			COUNT(*) FILTER (WHERE risk_level = 'low'),
			COUNT(*) FILTER (WHERE risk_level = 'medium'),
			COUNT(*) FILTER (WHERE risk_level = 'high'),
			COUNT(*) FILTER (WHERE risk_level = 'critical'),
			COALESCE(AVG(churn_probability), 0),
			COUNT(*) FILTER (WHERE valid_until < $2)
		 FROM risk_scores WHERE box_id = $1`,
		boxID, now,
	)

	summary := &model.RiskSummary{BoxID: boxID, CollectedAt: now}
	err := row.Scan(
		&summary.Total,
		&summary.Low, &summary.Medium, &summary.High, &summary.Critical,
		&summary.AvgChurnProbability,
		&summary.StaleSnapshots,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: risk summary for box %s", boxID)
	}
	return summary, nil
}

func (s *PostgresStore) ListStaleSnapshots(ctx context.Context, boxID string, now time.Time) ([]model.StaleEntry, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT m.id, rs.valid_until
		 FROM memberships m
		 LEFT JOIN risk_scores rs ON rs.membership_id = m.id
		 WHERE m.box_id = $1 AND m.status = $2 AND m.role = $3
		   AND (rs.membership_id IS NULL OR rs.valid_until < $4)
		 ORDER BY m.joined_at`,
		boxID, string(model.MembershipStatusActive), string(model.RoleAthlete), now,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: list stale snapshots for box %s", boxID)
	}
	defer rows.Close()

	var entries []model.StaleEntry
	for rows.Next() {
		var e model.StaleEntry
		if err := rows.Scan(&e.MembershipID, &e.ValidUntil); err != nil {
			return nil, eris.Wrap(err, "postgres: scan stale entry")
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "postgres: iterate stale entries")
	}
	return entries, nil
}

func (s *PostgresStore) countRange(ctx context.Context, table, dateCol, membershipID string, from, to time.Time) (int, error) {
	query := `SELECT COUNT(*) FROM ` + table + ` WHERE membership_id = $1 AND ` + dateCol + ` >= $2 AND ` + dateCol + ` < $3`
	var n int
	if err := s.pool.QueryRow(ctx, query, membershipID, from, to).Scan(&n); err != nil {
		return 0, eris.Wrapf(err, "postgres: count %s for %s", table, membershipID)
	}
	return n, nil
}

func (s *PostgresStore) maxDate(ctx context.Context, table, dateCol, membershipID string) (*time.Time, error) {
	query := `SELECT MAX(` + dateCol + `) FROM ` + table + ` WHERE membership_id = $1`
	var t *time.Time
	if err := s.pool.QueryRow(ctx, query, membershipID).Scan(&t); err != nil {
		return nil, eris.Wrapf(err, "postgres: max %s.%s for %s", table, dateCol, membershipID)
	}
	return t, nil
}

// scannable is satisfied by both pgx.Row and pgx.Rows.
type scannable interface {
	Scan(dest ...any) error
}

func scanRiskSnapshot(row scannable) (*model.RiskSnapshot, error) {
	var snap model.RiskSnapshot
	var level string
	var factorsJSON []byte

	err := row.Scan(
		&snap.ID, &snap.MembershipID, &snap.BoxID,
		&snap.OverallRiskScore, &level, &snap.ChurnProbability,
		&snap.AttendanceScore, &snap.PerformanceScore, &snap.EngagementScore, &snap.WellnessScore,
		&snap.AttendanceTrend, &snap.PerformanceTrend, &snap.EngagementTrend, &snap.WellnessTrend,
		&snap.DaysSinceLastVisit, &snap.DaysSinceLastCheckin, &snap.DaysSinceLastPR,
		&factorsJSON, &snap.ValidUntil, &snap.CalculatedAt, &snap.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	snap.RiskLevel = model.RiskLevel(level)
	if len(factorsJSON) > 0 {
		if err := json.Unmarshal(factorsJSON, &snap.Factors); err != nil {
			return nil, eris.Wrapf(err, "postgres: unmarshal factors for %s", snap.MembershipID)
		}
	}
	return &snap, nil
}
