package monitoring

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/pulsefit/retention-cli/internal/model"
	"github.com/pulsefit/retention-cli/internal/store"
)

// BoxHealth holds a point-in-time view of one box's retention state.
type BoxHealth struct {
	Summary *model.RiskSummary `json:"summary"`

	// StaleMemberships lists active athletes whose snapshot is expired or
	// missing entirely.
	StaleMemberships []model.StaleEntry `json:"stale_memberships,omitempty"`

	CollectedAt time.Time `json:"collected_at"`
}

// CriticalShare is the fraction of scored memberships at critical risk.
func (h *BoxHealth) CriticalShare() float64 {
	if h.Summary == nil || h.Summary.Total == 0 {
		return 0
	}
	return float64(h.Summary.Critical) / float64(h.Summary.Total)
}

// Collector gathers box health from the store.
type Collector struct {
	store store.Store

	// now is swappable for deterministic tests.
	now func() time.Time
}

// NewCollector creates a new box health collector.
func NewCollector(st store.Store) *Collector {
	return &Collector{store: st, now: time.Now}
}

// Collect gathers the risk level distribution and staleness state for a box.
func (c *Collector) Collect(ctx context.Context, boxID string) (*BoxHealth, error) {
	now := c.now().UTC()

	summary, err := c.store.RiskSummary(ctx, boxID, now)
	if err != nil {
		return nil, eris.Wrapf(err, "monitoring: risk summary for box %s", boxID)
	}

	stale, err := c.store.ListStaleSnapshots(ctx, boxID, now)
	if err != nil {
		return nil, eris.Wrapf(err, "monitoring: stale snapshots for box %s", boxID)
	}

	return &BoxHealth{
		Summary:          summary,
		StaleMemberships: stale,
		CollectedAt:      now,
	}, nil
}
