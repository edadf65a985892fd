package risk

import (
	"context"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// BatchFailure records one membership whose computation failed.
type BatchFailure struct {
	MembershipID string `json:"membership_id"`
	Reason       string `json:"reason"`
}

// BatchResult summarizes a box-wide scoring run.
type BatchResult struct {
	BoxID     string         `json:"box_id"`
	Total     int            `json:"total"`
	Succeeded int            `json:"succeeded"`
	Failed    int            `json:"failed"`
	Failures  []BatchFailure `json:"failures,omitempty"`
}

// CalculateBoxRiskScores runs the single-membership pipeline for every
// active athlete of a box. Memberships are processed strictly sequentially
// to bound load on the shared store; a failing membership is recorded and
// processing continues with the next one. An empty roster is a no-op
// success. Only a failure to load the roster itself returns an error.
func (e *Engine) CalculateBoxRiskScores(ctx context.Context, boxID string) (*BatchResult, error) {
	ids, err := e.store.ListActiveAthleteIDs(ctx, boxID)
	if err != nil {
		return nil, eris.Wrapf(err, "risk: list active athletes for box %s", boxID)
	}

	result := &BatchResult{BoxID: boxID, Total: len(ids)}
	if len(ids) == 0 {
		e.log.Info("risk: no active athletes to score", zap.String("box_id", boxID))
		return result, nil
	}

	e.log.Info("risk: scoring box",
		zap.String("box_id", boxID),
		zap.Int("memberships", len(ids)),
	)

	for _, id := range ids {
		if e.limiter != nil {
			if err := e.limiter.Wait(ctx); err != nil {
				return result, eris.Wrap(err, "risk: batch rate limiter")
			}
		}

		if _, err := e.CalculateRiskScore(ctx, id); err != nil {
			result.Failed++
			result.Failures = append(result.Failures, BatchFailure{
				MembershipID: id,
				Reason:       err.Error(),
			})
			e.log.Error("risk: membership scoring failed",
				zap.String("membership_id", id),
				zap.Error(err),
			)
			continue
		}
		result.Succeeded++
	}

	e.log.Info("risk: box scoring complete",
		zap.String("box_id", boxID),
		zap.Int("total", result.Total),
		zap.Int("succeeded", result.Succeeded),
		zap.Int("failed", result.Failed),
	)
	return result, nil
}
