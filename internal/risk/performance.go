package risk

import (
	"context"
	"math"

	"github.com/rotisserie/eris"

	"github.com/pulsefit/retention-cli/internal/model"
	"github.com/pulsefit/retention-cli/internal/store"
)

const (
	// Each new PR is worth 25 points, capped at 100. Benchmark completions
	// carry deliberately less weight: 15 points each, capped at 50.
	pointsPerPR        = 25
	pointsPerBenchmark = 15
	benchmarkScoreCap  = 50
)

// CalculatePerformance computes the performance factor from new personal
// records and benchmark completions in the analysis window, with the trend
// measured against the combined totals of the comparison window.
func CalculatePerformance(ctx context.Context, st store.Store, membershipID string, w Windows) (model.PerformanceFactor, error) {
	var f model.PerformanceFactor

	prCount, err := st.CountPersonalRecords(ctx, membershipID, w.AnalysisStart, w.Now)
	if err != nil {
		return f, eris.Wrap(err, "risk: performance: count current PRs")
	}
	prevPRCount, err := st.CountPersonalRecords(ctx, membershipID, w.ComparisonStart, w.AnalysisStart)
	if err != nil {
		return f, eris.Wrap(err, "risk: performance: count comparison PRs")
	}
	benchmarkCount, err := st.CountBenchmarkResults(ctx, membershipID, w.AnalysisStart, w.Now)
	if err != nil {
		return f, eris.Wrap(err, "risk: performance: count current benchmarks")
	}
	prevBenchmarkCount, err := st.CountBenchmarkResults(ctx, membershipID, w.ComparisonStart, w.AnalysisStart)
	if err != nil {
		return f, eris.Wrap(err, "risk: performance: count comparison benchmarks")
	}

	prScore := math.Min(100, float64(prCount*pointsPerPR))
	benchmarkScore := math.Min(benchmarkScoreCap, float64(benchmarkCount*pointsPerBenchmark))

	f.Score = int(math.Min(100, math.Round(prScore+benchmarkScore)))
	f.Trend = pctChange(prCount+benchmarkCount, prevPRCount+prevBenchmarkCount)
	f.PRCount = prCount
	f.BenchmarkProgress = benchmarkCount
	return f, nil
}
