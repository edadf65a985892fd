package risk

import (
	"math"

	"github.com/pulsefit/retention-cli/internal/model"
)

// Factor weights for the overall risk score. Attendance is the strongest
// churn predictor, performance the weakest. Fixed constants, not
// configurable per box.
const (
	attendanceWeight  = 0.35
	engagementWeight  = 0.25
	wellnessWeight    = 0.25
	performanceWeight = 0.15
)

// OverallScore combines the four factor scores into one 0-100 risk score.
// Higher means healthier.
func OverallScore(factors model.RiskFactors) int {
	weighted := float64(factors.Attendance.Score)*attendanceWeight +
		float64(factors.Engagement.Score)*engagementWeight +
		float64(factors.Wellness.Score)*wellnessWeight +
		float64(factors.Performance.Score)*performanceWeight
	return int(math.Round(weighted))
}

// ClassifyRisk maps an overall score to a discrete risk level. Thresholds
// are inclusive on the lower bound of each tier.
func ClassifyRisk(score int) model.RiskLevel {
	switch {
	case score >= 80:
		return model.RiskLevelLow
	case score >= 60:
		return model.RiskLevelMedium
	case score >= 40:
		return model.RiskLevelHigh
	default:
		return model.RiskLevelCritical
	}
}

// ChurnProbability transforms the overall score into a [0,1] churn estimate
// via a logistic curve centered at score 50. Healthier scores map to lower
// probabilities; a score of exactly 50 maps to exactly 0.5.
func ChurnProbability(score int) float64 {
	normalized := (float64(score) - 50) / 25
	return round4(1 / (1 + math.Exp(normalized)))
}
