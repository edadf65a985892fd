package risk

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/pulsefit/retention-cli/internal/model"
	"github.com/pulsefit/retention-cli/internal/store"
)

// Options tunes the engine. Zero values fall back to defaults.
type Options struct {
	// WindowDays is the length of the analysis window (and of the
	// comparison window immediately preceding it). Default: 30.
	WindowDays int

	// Validity is how long a persisted snapshot is considered fresh.
	// Default: 24h. The engine never expires rows itself; consumers decide
	// whether to recompute.
	Validity time.Duration

	// BatchRatePerSec throttles batch processing against the shared store.
	// Zero means unthrottled.
	BatchRatePerSec float64
}

func (o Options) withDefaults() Options {
	if o.WindowDays <= 0 {
		o.WindowDays = 30
	}
	if o.Validity <= 0 {
		o.Validity = 24 * time.Hour
	}
	return o
}

// Engine computes and persists churn risk snapshots.
type Engine struct {
	store   store.Store
	opts    Options
	limiter *rate.Limiter
	log     *zap.Logger

	// now is swappable for deterministic tests.
	now func() time.Time
}

// NewEngine creates an Engine over the given behavioral data store.
func NewEngine(st store.Store, opts Options, log *zap.Logger) *Engine {
	opts = opts.withDefaults()
	if log == nil {
		log = zap.L()
	}
	var limiter *rate.Limiter
	if opts.BatchRatePerSec > 0 {
		limiter = rate.NewLimiter(rate.Limit(opts.BatchRatePerSec), 1)
	}
	return &Engine{
		store:   st,
		opts:    opts,
		limiter: limiter,
		log:     log,
		now:     time.Now,
	}
}

// CalculateRiskScore runs the full pipeline for one membership: the four
// factor calculators and the key metrics run concurrently, the results are
// aggregated, and the snapshot is upserted. Fails fast on the first store
// error; data absence is not an error.
func (e *Engine) CalculateRiskScore(ctx context.Context, membershipID string) (*model.RiskSnapshot, error) {
	m, err := e.store.GetMembership(ctx, membershipID)
	if err != nil {
		return nil, err
	}

	now := e.now().UTC()
	w := NewWindows(now, e.opts.WindowDays)

	var (
		factors model.RiskFactors
		keyMetr model.KeyMetrics
	)

	// The five calculations are independent; all must succeed together.
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		f, err := CalculateAttendance(gctx, e.store, membershipID, w)
		factors.Attendance = f
		return err
	})
	g.Go(func() error {
		f, err := CalculatePerformance(gctx, e.store, membershipID, w)
		factors.Performance = f
		return err
	})
	g.Go(func() error {
		f, err := CalculateEngagement(gctx, e.store, membershipID, m.CheckinStreak, w)
		factors.Engagement = f
		return err
	})
	g.Go(func() error {
		f, err := CalculateWellness(gctx, e.store, membershipID, w)
		factors.Wellness = f
		return err
	})
	g.Go(func() error {
		km, err := CalculateKeyMetrics(gctx, e.store, membershipID, now)
		keyMetr = km
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, eris.Wrapf(err, "risk: calculate factors for %s", membershipID)
	}

	overall := OverallScore(factors)

	snap := &model.RiskSnapshot{
		MembershipID: m.ID,
		BoxID:        m.BoxID,

		OverallRiskScore: overall,
		RiskLevel:        ClassifyRisk(overall),
		ChurnProbability: ChurnProbability(overall),

		AttendanceScore:  factors.Attendance.Score,
		PerformanceScore: factors.Performance.Score,
		EngagementScore:  factors.Engagement.Score,
		WellnessScore:    factors.Wellness.Score,

		AttendanceTrend:  factors.Attendance.Trend,
		PerformanceTrend: factors.Performance.Trend,
		EngagementTrend:  factors.Engagement.Trend,
		WellnessTrend:    factors.Wellness.Trend,

		DaysSinceLastVisit:   keyMetr.DaysSinceLastVisit,
		DaysSinceLastCheckin: keyMetr.DaysSinceLastCheckin,
		DaysSinceLastPR:      keyMetr.DaysSinceLastPR,

		Factors: factors,

		ValidUntil:   now.Add(e.opts.Validity),
		CalculatedAt: now,
		UpdatedAt:    now,
	}

	if err := e.store.UpsertRiskSnapshot(ctx, snap); err != nil {
		return nil, eris.Wrapf(err, "risk: persist snapshot for %s", membershipID)
	}

	e.log.Info("risk: snapshot calculated",
		zap.String("membership_id", m.ID),
		zap.String("box_id", m.BoxID),
		zap.Int("overall_score", overall),
		zap.String("risk_level", string(snap.RiskLevel)),
		zap.Float64("churn_probability", snap.ChurnProbability),
	)

	return snap, nil
}
