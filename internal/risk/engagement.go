package risk

import (
	"context"
	"math"

	"github.com/rotisserie/eris"

	"github.com/pulsefit/retention-cli/internal/model"
	"github.com/pulsefit/retention-cli/internal/store"
)

const (
	pointsPerStreakDay = 3
	pointsPerFeedback  = 10

	streakWeight   = 0.4
	checkinWeight  = 0.3
	feedbackWeight = 0.3
)

// CalculateEngagement computes the engagement factor from the running
// check-in streak on the membership record plus windowed check-in and
// feedback counts. Daily check-ins are the 100% ideal.
func CalculateEngagement(ctx context.Context, st store.Store, membershipID string, checkinStreak int, w Windows) (model.EngagementFactor, error) {
	var f model.EngagementFactor

	checkinCount, err := st.CountCheckins(ctx, membershipID, w.AnalysisStart, w.Now)
	if err != nil {
		return f, eris.Wrap(err, "risk: engagement: count current checkins")
	}
	prevCheckinCount, err := st.CountCheckins(ctx, membershipID, w.ComparisonStart, w.AnalysisStart)
	if err != nil {
		return f, eris.Wrap(err, "risk: engagement: count comparison checkins")
	}
	feedbackCount, err := st.CountFeedback(ctx, membershipID, w.AnalysisStart, w.Now)
	if err != nil {
		return f, eris.Wrap(err, "risk: engagement: count current feedback")
	}
	prevFeedbackCount, err := st.CountFeedback(ctx, membershipID, w.ComparisonStart, w.AnalysisStart)
	if err != nil {
		return f, eris.Wrap(err, "risk: engagement: count comparison feedback")
	}

	streakScore := math.Min(100, float64(checkinStreak*pointsPerStreakDay))
	checkinScore := math.Min(100, float64(checkinCount)/w.AnalysisDays()*100*3)
	feedbackScore := math.Min(100, float64(feedbackCount*pointsPerFeedback))

	f.Score = int(math.Round(streakScore*streakWeight + checkinScore*checkinWeight + feedbackScore*feedbackWeight))
	f.Trend = pctChange(checkinCount+feedbackCount, prevCheckinCount+prevFeedbackCount)
	f.CheckinStreak = checkinStreak
	f.FeedbackFrequency = round2(float64(feedbackCount) / w.AnalysisDays() * 7)
	return f, nil
}
