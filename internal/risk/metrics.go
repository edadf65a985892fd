package risk

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/pulsefit/retention-cli/internal/model"
	"github.com/pulsefit/retention-cli/internal/store"
)

// CalculateKeyMetrics computes the "days since last X" recency metrics used
// for display and triage. These are independent of the windowed factors: a
// missing history yields nil, not the attendance factor's 999 sentinel.
func CalculateKeyMetrics(ctx context.Context, st store.Store, membershipID string, now time.Time) (model.KeyMetrics, error) {
	var km model.KeyMetrics

	lastVisit, err := st.LastAttendanceAt(ctx, membershipID)
	if err != nil {
		return km, eris.Wrap(err, "risk: key metrics: last attendance")
	}
	lastCheckin, err := st.LastCheckinAt(ctx, membershipID)
	if err != nil {
		return km, eris.Wrap(err, "risk: key metrics: last checkin")
	}
	lastPR, err := st.LastPersonalRecordAt(ctx, membershipID)
	if err != nil {
		return km, eris.Wrap(err, "risk: key metrics: last PR")
	}

	km.DaysSinceLastVisit = daysSince(now, lastVisit)
	km.DaysSinceLastCheckin = daysSince(now, lastCheckin)
	km.DaysSinceLastPR = daysSince(now, lastPR)
	return km, nil
}

func daysSince(now time.Time, t *time.Time) *int {
	if t == nil {
		return nil
	}
	d := wholeDaysSince(now, *t)
	return &d
}
