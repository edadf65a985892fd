// Package risk implements the churn risk scoring engine: four factor
// calculators over adjacent time windows, a weighted aggregator with a
// logistic churn-probability transform, recency key metrics, and the
// snapshot persistence and batch orchestration around them.
package risk

import (
	"math"
	"time"
)

// Windows holds the two adjacent periods every factor calculator reads:
// the analysis window [AnalysisStart, Now) for current-state metrics and
// the comparison window [ComparisonStart, AnalysisStart) for trends.
type Windows struct {
	Now             time.Time
	AnalysisStart   time.Time
	ComparisonStart time.Time
}

// NewWindows builds the analysis and comparison windows ending at now.
// Both windows span days each; the comparison window immediately precedes
// the analysis window.
func NewWindows(now time.Time, days int) Windows {
	return Windows{
		Now:             now,
		AnalysisStart:   now.AddDate(0, 0, -days),
		ComparisonStart: now.AddDate(0, 0, -2*days),
	}
}

// AnalysisDays returns the length of the analysis window in days.
func (w Windows) AnalysisDays() float64 {
	return w.Now.Sub(w.AnalysisStart).Hours() / 24
}

// pctChange returns the percentage change from previous to current, rounded
// to two decimals. A zero previous period means no prior data, which is
// reported as no trend rather than infinite growth.
func pctChange(current, previous int) float64 {
	if previous == 0 {
		return 0
	}
	return round2(float64(current-previous) / float64(previous) * 100)
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

func round4(v float64) float64 {
	return math.Round(v*10000) / 10000
}

// wholeDaysSince returns full days elapsed between then and now.
// Future-dated events, which imported exports can carry, count as zero
// days so recency scores stay within their 0-100 bound.
func wholeDaysSince(now, then time.Time) int {
	d := int(now.Sub(then).Hours() / 24)
	if d < 0 {
		return 0
	}
	return d
}
