package risk

import (
	"context"
	"math"

	"github.com/rotisserie/eris"

	"github.com/pulsefit/retention-cli/internal/model"
	"github.com/pulsefit/retention-cli/internal/store"
)

const (
	// noAttendanceGap is the sentinel day gap for memberships with no
	// attendance history at all.
	noAttendanceGap = 999

	// idealSessionsPerWeek is the attendance frequency treated as 100%.
	idealSessionsPerWeek = 4.0

	// recencyDecayPerDay is how many recency points one day of absence costs.
	recencyDecayPerDay = 5.0

	frequencyWeight = 0.7
	recencyWeight   = 0.3
)

// CalculateAttendance computes the attendance factor for one membership:
// session frequency against the weekly ideal, recency of the last visit,
// and the trend against the comparison window.
func CalculateAttendance(ctx context.Context, st store.Store, membershipID string, w Windows) (model.AttendanceFactor, error) {
	var f model.AttendanceFactor

	currentCount, err := st.CountAttendances(ctx, membershipID, w.AnalysisStart, w.Now)
	if err != nil {
		return f, eris.Wrap(err, "risk: attendance: count current window")
	}
	previousCount, err := st.CountAttendances(ctx, membershipID, w.ComparisonStart, w.AnalysisStart)
	if err != nil {
		return f, eris.Wrap(err, "risk: attendance: count comparison window")
	}
	lastAttendance, err := st.LastAttendanceAt(ctx, membershipID)
	if err != nil {
		return f, eris.Wrap(err, "risk: attendance: last attendance")
	}

	daysGap := noAttendanceGap
	if lastAttendance != nil {
		daysGap = wholeDaysSince(w.Now, *lastAttendance)
	}

	frequency := float64(currentCount) / w.AnalysisDays() * 7

	frequencyScore := math.Min(100, frequency/idealSessionsPerWeek*100)
	recencyScore := math.Max(0, 100-float64(daysGap)*recencyDecayPerDay)

	f.Score = int(math.Round(frequencyScore*frequencyWeight + recencyScore*recencyWeight))
	f.Trend = pctChange(currentCount, previousCount)
	f.DaysGap = daysGap
	f.Frequency = round2(frequency)
	return f, nil
}
