package risk

import (
	"context"
	"math"

	"github.com/rotisserie/eris"

	"github.com/pulsefit/retention-cli/internal/model"
	"github.com/pulsefit/retention-cli/internal/store"
)

const (
	// neutralWellness is the midpoint of the 1-10 self-reported scales,
	// used when no check-ins exist in a window so a membership with no
	// wellness data scores neither maximally at-risk nor maximally healthy.
	neutralWellness = 5.0

	positiveWeight = 0.8
	stressWeight   = 0.2
)

// CalculateWellness computes the wellness factor from averaged self-reported
// energy, readiness, stress and motivation scales over the analysis window.
// Stress is inverted: lower stress raises the score. The trend uses only the
// energy/readiness composite.
func CalculateWellness(ctx context.Context, st store.Store, membershipID string, w Windows) (model.WellnessFactor, error) {
	var f model.WellnessFactor

	current, err := st.WellnessAverages(ctx, membershipID, w.AnalysisStart, w.Now)
	if err != nil {
		return f, eris.Wrap(err, "risk: wellness: current window averages")
	}
	previous, err := st.WellnessAverages(ctx, membershipID, w.ComparisonStart, w.AnalysisStart)
	if err != nil {
		return f, eris.Wrap(err, "risk: wellness: comparison window averages")
	}

	cur := averagesOrNeutral(current)

	positiveScore := (cur.Energy + cur.Readiness + cur.Motivation) / 30 * 100
	stressImpact := (10 - cur.Stress) / 10 * 100

	currentComposite := cur.Energy + cur.Readiness
	previousComposite := currentComposite
	if previous != nil {
		previousComposite = previous.Energy + previous.Readiness
	}

	// A zero previous composite would divide by zero; report no trend.
	trend := 0.0
	if previousComposite != 0 {
		trend = round2((currentComposite - previousComposite) / previousComposite * 100)
	}

	f.Score = int(math.Round(positiveScore*positiveWeight + stressImpact*stressWeight))
	f.Trend = trend
	f.AverageEnergy = round2(cur.Energy)
	f.AverageReadiness = round2(cur.Readiness)
	return f, nil
}

// averagesOrNeutral substitutes the neutral midpoint for every scale when a
// window has no check-ins.
func averagesOrNeutral(wa *model.WellnessAverages) model.WellnessAverages {
	if wa == nil {
		return model.WellnessAverages{
			Energy:     neutralWellness,
			Readiness:  neutralWellness,
			Stress:     neutralWellness,
			Motivation: neutralWellness,
		}
	}
	return *wa
}
