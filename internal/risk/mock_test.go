package risk

import (
	"context"
	"time"

	"github.com/pulsefit/retention-cli/internal/model"
	"github.com/pulsefit/retention-cli/internal/store"
)

// checkinRec is one wellness check-in in the in-memory store.
type checkinRec struct {
	at                                    time.Time
	energy, readiness, stress, motivation float64
}

// memStore is an in-memory Store for engine tests. Counts and averages are
// computed by filtering raw event timestamps, so tests exercise the same
// window boundaries as the real backends.
type memStore struct {
	memberships map[string]*model.Membership
	attendances map[string][]time.Time
	prs         map[string][]time.Time
	benchmarks  map[string][]time.Time
	checkins    map[string][]checkinRec
	feedback    map[string][]time.Time
	snapshots   map[string]*model.RiskSnapshot

	upsertCount int

	// failFor injects a store error for a given membership id.
	failFor map[string]error
}

func newMemStore() *memStore {
	return &memStore{
		memberships: make(map[string]*model.Membership),
		attendances: make(map[string][]time.Time),
		prs:         make(map[string][]time.Time),
		benchmarks:  make(map[string][]time.Time),
		checkins:    make(map[string][]checkinRec),
		feedback:    make(map[string][]time.Time),
		snapshots:   make(map[string]*model.RiskSnapshot),
		failFor:     make(map[string]error),
	}
}

func (s *memStore) addMembership(m *model.Membership) {
	s.memberships[m.ID] = m
}

func (s *memStore) GetMembership(_ context.Context, id string) (*model.Membership, error) {
	if err := s.failFor[id]; err != nil {
		return nil, err
	}
	m, ok := s.memberships[id]
	if !ok {
		return nil, store.ErrMembershipNotFound
	}
	return m, nil
}

func (s *memStore) ListActiveAthleteIDs(_ context.Context, boxID string) ([]string, error) {
	if err := s.failFor["box:"+boxID]; err != nil {
		return nil, err
	}
	var ids []string
	for id, m := range s.memberships {
		if m.BoxID == boxID && m.Status == model.MembershipStatusActive && m.Role == model.RoleAthlete {
			ids = append(ids, id)
		}
	}
	return ids, nil
}

func (s *memStore) CreateMembership(_ context.Context, m *model.Membership) error {
	s.memberships[m.ID] = m
	return nil
}

func (s *memStore) RecordAttendance(_ context.Context, id string, at time.Time) error {
	s.attendances[id] = append(s.attendances[id], at)
	return nil
}

func (s *memStore) RecordPersonalRecord(_ context.Context, id, _ string, at time.Time) error {
	s.prs[id] = append(s.prs[id], at)
	return nil
}

func (s *memStore) RecordBenchmarkResult(_ context.Context, id, _ string, at time.Time) error {
	s.benchmarks[id] = append(s.benchmarks[id], at)
	return nil
}

func (s *memStore) RecordCheckin(_ context.Context, id string, c model.Checkin) error {
	s.checkins[id] = append(s.checkins[id], checkinRec{
		at:         c.CheckedInAt,
		energy:     float64(c.Energy),
		readiness:  float64(c.Readiness),
		stress:     float64(c.Stress),
		motivation: float64(c.Motivation),
	})
	return nil
}

func (s *memStore) RecordFeedback(_ context.Context, id, _ string, at time.Time) error {
	s.feedback[id] = append(s.feedback[id], at)
	return nil
}

func countBetween(times []time.Time, from, to time.Time) int {
	n := 0
	for _, t := range times {
		if !t.Before(from) && t.Before(to) {
			n++
		}
	}
	return n
}

func maxTime(times []time.Time) *time.Time {
	if len(times) == 0 {
		return nil
	}
	max := times[0]
	for _, t := range times[1:] {
		if t.After(max) {
			max = t
		}
	}
	return &max
}

func (s *memStore) CountAttendances(_ context.Context, id string, from, to time.Time) (int, error) {
	if err := s.failFor[id]; err != nil {
		return 0, err
	}
	return countBetween(s.attendances[id], from, to), nil
}

func (s *memStore) LastAttendanceAt(_ context.Context, id string) (*time.Time, error) {
	return maxTime(s.attendances[id]), nil
}

func (s *memStore) CountPersonalRecords(_ context.Context, id string, from, to time.Time) (int, error) {
	return countBetween(s.prs[id], from, to), nil
}

func (s *memStore) LastPersonalRecordAt(_ context.Context, id string) (*time.Time, error) {
	return maxTime(s.prs[id]), nil
}

func (s *memStore) CountBenchmarkResults(_ context.Context, id string, from, to time.Time) (int, error) {
	return countBetween(s.benchmarks[id], from, to), nil
}

func (s *memStore) CountCheckins(_ context.Context, id string, from, to time.Time) (int, error) {
	n := 0
	for _, c := range s.checkins[id] {
		if !c.at.Before(from) && c.at.Before(to) {
			n++
		}
	}
	return n, nil
}

func (s *memStore) LastCheckinAt(_ context.Context, id string) (*time.Time, error) {
	var times []time.Time
	for _, c := range s.checkins[id] {
		times = append(times, c.at)
	}
	return maxTime(times), nil
}

func (s *memStore) CountFeedback(_ context.Context, id string, from, to time.Time) (int, error) {
	return countBetween(s.feedback[id], from, to), nil
}

func (s *memStore) WellnessAverages(_ context.Context, id string, from, to time.Time) (*model.WellnessAverages, error) {
	var sum model.WellnessAverages
	n := 0
	for _, c := range s.checkins[id] {
		if !c.at.Before(from) && c.at.Before(to) {
			sum.Energy += c.energy
			sum.Readiness += c.readiness
			sum.Stress += c.stress
			sum.Motivation += c.motivation
			n++
		}
	}
	if n == 0 {
		return nil, nil
	}
	return &model.WellnessAverages{
		Energy:     sum.Energy / float64(n),
		Readiness:  sum.Readiness / float64(n),
		Stress:     sum.Stress / float64(n),
		Motivation: sum.Motivation / float64(n),
	}, nil
}

func (s *memStore) UpsertRiskSnapshot(_ context.Context, snap *model.RiskSnapshot) error {
	if err := s.failFor["upsert:"+snap.MembershipID]; err != nil {
		return err
	}
	s.upsertCount++
	copied := *snap
	s.snapshots[snap.MembershipID] = &copied
	return nil
}

func (s *memStore) GetRiskSnapshot(_ context.Context, id string) (*model.RiskSnapshot, error) {
	return s.snapshots[id], nil
}

func (s *memStore) ListRiskSnapshots(_ context.Context, boxID string) ([]model.RiskSnapshot, error) {
	var snaps []model.RiskSnapshot
	for _, snap := range s.snapshots {
		if snap.BoxID == boxID {
			snaps = append(snaps, *snap)
		}
	}
	return snaps, nil
}

func (s *memStore) RiskSummary(_ context.Context, boxID string, now time.Time) (*model.RiskSummary, error) {
	summary := &model.RiskSummary{BoxID: boxID, CollectedAt: now}
	for _, snap := range s.snapshots {
		if snap.BoxID != boxID {
			continue
		}
		summary.Total++
		switch snap.RiskLevel {
		case model.RiskLevelLow:
			summary.Low++
		case model.RiskLevelMedium:
			summary.Medium++
		case model.RiskLevelHigh:
			summary.High++
		case model.RiskLevelCritical:
			summary.Critical++
		}
		summary.AvgChurnProbability += snap.ChurnProbability
		if snap.ValidUntil.Before(now) {
			summary.StaleSnapshots++
		}
	}
	if summary.Total > 0 {
		summary.AvgChurnProbability /= float64(summary.Total)
	}
	return summary, nil
}

func (s *memStore) ListStaleSnapshots(_ context.Context, boxID string, now time.Time) ([]model.StaleEntry, error) {
	var entries []model.StaleEntry
	for id, m := range s.memberships {
		if m.BoxID != boxID || m.Status != model.MembershipStatusActive || m.Role != model.RoleAthlete {
			continue
		}
		snap, ok := s.snapshots[id]
		if !ok {
			entries = append(entries, model.StaleEntry{MembershipID: id})
			continue
		}
		if snap.ValidUntil.Before(now) {
			vu := snap.ValidUntil
			entries = append(entries, model.StaleEntry{MembershipID: id, ValidUntil: &vu})
		}
	}
	return entries, nil
}

func (s *memStore) Migrate(context.Context) error { return nil }
func (s *memStore) Close() error                  { return nil }
