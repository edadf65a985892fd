package model

import "time"

// RiskLevel is the discrete classification derived from the overall risk score.
type RiskLevel string

const (
	RiskLevelLow      RiskLevel = "low"
	RiskLevelMedium   RiskLevel = "medium"
	RiskLevelHigh     RiskLevel = "high"
	RiskLevelCritical RiskLevel = "critical"
)

// AttendanceFactor holds the attendance sub-score and its raw inputs.
type AttendanceFactor struct {
	Score     int     `json:"score"`
	Trend     float64 `json:"trend"`
	DaysGap   int     `json:"days_gap"`
	Frequency float64 `json:"frequency"`
}

// PerformanceFactor holds the performance sub-score and its raw inputs.
type PerformanceFactor struct {
	Score             int     `json:"score"`
	Trend             float64 `json:"trend"`
	PRCount           int     `json:"pr_count"`
	BenchmarkProgress int     `json:"benchmark_progress"`
}

// EngagementFactor holds the engagement sub-score and its raw inputs.
type EngagementFactor struct {
	Score             int     `json:"score"`
	Trend             float64 `json:"trend"`
	CheckinStreak     int     `json:"checkin_streak"`
	FeedbackFrequency float64 `json:"feedback_frequency"`
}

// WellnessFactor holds the wellness sub-score and its raw inputs.
type WellnessFactor struct {
	Score            int     `json:"score"`
	Trend            float64 `json:"trend"`
	AverageEnergy    float64 `json:"average_energy"`
	AverageReadiness float64 `json:"average_readiness"`
}

// RiskFactors bundles all four factor details for audit and explainability.
type RiskFactors struct {
	Attendance  AttendanceFactor  `json:"attendance"`
	Performance PerformanceFactor `json:"performance"`
	Engagement  EngagementFactor  `json:"engagement"`
	Wellness    WellnessFactor    `json:"wellness"`
}

// KeyMetrics holds recency metrics computed independently of the windowed
// factors. A nil field means no record of that kind exists at all.
type KeyMetrics struct {
	DaysSinceLastVisit   *int `json:"days_since_last_visit"`
	DaysSinceLastCheckin *int `json:"days_since_last_checkin"`
	DaysSinceLastPR      *int `json:"days_since_last_pr"`
}

// RiskSnapshot is the single persisted risk record per membership. It is
// replaced wholesale on every recomputation, keyed by MembershipID.
type RiskSnapshot struct {
	ID           string `json:"id"`
	MembershipID string `json:"membership_id"`
	BoxID        string `json:"box_id"`

	OverallRiskScore int       `json:"overall_risk_score"`
	RiskLevel        RiskLevel `json:"risk_level"`
	ChurnProbability float64   `json:"churn_probability"`

	AttendanceScore  int `json:"attendance_score"`
	PerformanceScore int `json:"performance_score"`
	EngagementScore  int `json:"engagement_score"`
	WellnessScore    int `json:"wellness_score"`

	AttendanceTrend  float64 `json:"attendance_trend"`
	PerformanceTrend float64 `json:"performance_trend"`
	EngagementTrend  float64 `json:"engagement_trend"`
	WellnessTrend    float64 `json:"wellness_trend"`

	DaysSinceLastVisit   *int `json:"days_since_last_visit"`
	DaysSinceLastCheckin *int `json:"days_since_last_checkin"`
	DaysSinceLastPR      *int `json:"days_since_last_pr"`

	Factors RiskFactors `json:"factors"`

	ValidUntil   time.Time `json:"valid_until"`
	CalculatedAt time.Time `json:"calculated_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// WellnessAverages holds per-scale averages over one window. All values are
// on the 1-10 self-reported scale.
type WellnessAverages struct {
	Energy     float64 `json:"energy"`
	Readiness  float64 `json:"readiness"`
	Stress     float64 `json:"stress"`
	Motivation float64 `json:"motivation"`
}

// RiskSummary aggregates current snapshots for one box.
type RiskSummary struct {
	BoxID               string    `json:"box_id" yaml:"box_id"`
	Total               int       `json:"total" yaml:"total"`
	Low                 int       `json:"low" yaml:"low"`
	Medium              int       `json:"medium" yaml:"medium"`
	High                int       `json:"high" yaml:"high"`
	Critical            int       `json:"critical" yaml:"critical"`
	AvgChurnProbability float64   `json:"avg_churn_probability" yaml:"avg_churn_probability"`
	StaleSnapshots      int       `json:"stale_snapshots" yaml:"stale_snapshots"`
	CollectedAt         time.Time `json:"collected_at" yaml:"collected_at"`
}

// StaleEntry identifies a membership whose snapshot is missing or expired.
type StaleEntry struct {
	MembershipID string     `json:"membership_id" yaml:"membership_id"`
	ValidUntil   *time.Time `json:"valid_until,omitempty" yaml:"valid_until,omitempty"`
}
