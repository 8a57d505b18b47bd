package engine

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOptimizePropagationPathEmpty(t *testing.T) {
	got := NewOptimizationAgent().OptimizePropagationPath(PropagationPath{})
	assert.NotNil(t, got.Hops)
	assert.Empty(t, got.Hops)
	assert.Zero(t, got.TotalExpectedReach)
	assert.NotNil(t, got.ConstraintViolations)
	assert.Empty(t, got.ConstraintViolations)
}

func messyPath() PropagationPath {
	return PropagationPath{
		SeedID: "s",
		Hops: []Hop{
			{TargetRef: "x", EstimatedArrivalOffset: Duration(10 * time.Minute), TransmissionScore: 0.5},
			{TargetRef: "y", EstimatedArrivalOffset: Duration(5 * time.Minute), TransmissionScore: 1.5},
			{TargetRef: "", EstimatedArrivalOffset: Duration(time.Minute), TransmissionScore: 0.3},
			{TargetRef: "x", EstimatedArrivalOffset: Duration(20 * time.Minute), TransmissionScore: 0.4},
			{TargetRef: "z", EstimatedArrivalOffset: Duration(-time.Minute), TransmissionScore: 0.2},
			{TargetRef: "w", EstimatedArrivalOffset: Duration(30 * time.Minute), TransmissionScore: 0.01},
		},
	}
}

func TestOptimizePropagationPathRepairs(t *testing.T) {
	got := NewOptimizationAgent().OptimizePropagationPath(messyPath())

	var targets []string
	for _, h := range got.Hops {
		targets = append(targets, h.TargetRef)
	}
	assert.Equal(t, []string{"z", "y", "x"}, targets)
	assert.Equal(t, Duration(0), got.Hops[0].EstimatedArrivalOffset)
	assert.Equal(t, 1.0, got.Hops[1].TransmissionScore)
	assert.InDelta(t, 1.7, got.TotalExpectedReach, 1e-9)
	assert.Equal(t, []string{"w"}, got.PrunedTargets)
	assert.Len(t, got.ConstraintViolations, 6)
}

func TestOptimizePropagationPathIdempotent(t *testing.T) {
	agent := NewOptimizationAgent()
	first := agent.OptimizePropagationPath(messyPath())
	second := agent.OptimizePropagationPath(first.PropagationPath)

	assert.Equal(t, first.PropagationPath, second.PropagationPath)
	assert.Equal(t, first.TotalExpectedReach, second.TotalExpectedReach)
	assert.Empty(t, second.ConstraintViolations)
	assert.Empty(t, second.PrunedTargets)
}

func TestOptimizeComputedPathHasNoViolations(t *testing.T) {
	seed := Seed{ID: "s", Vector: []float64{1, 0, 0}, Location: &beijing, SpectralTags: []string{"tech"}}
	path, err := newPropagation().CalculatePropagationPath(context.Background(), seed, scenarioContext(), scenarioPool())
	require.NoError(t, err)

	got := NewOptimizationAgent().OptimizePropagationPath(path)
	assert.Empty(t, got.ConstraintViolations)
	assert.Equal(t, path.Hops, got.Hops)
}

func TestCalculateOptimalTimingNoUsers(t *testing.T) {
	now := time.Date(2026, 10, 14, 8, 30, 0, 0, time.UTC)
	got := NewOptimizationAgent(WithOptimizationClock(fixedClock(now))).CalculateOptimalTiming(Seed{ID: "s"}, nil)
	assert.Zero(t, got.RecommendedStartOffset)
	assert.NotEmpty(t, got.Rationale)
	assert.Equal(t, []time.Time{now}, got.OptimalTimes)
}

func TestCalculateOptimalTimingActiveHours(t *testing.T) {
	created := time.Date(2026, 10, 14, 8, 30, 0, 0, time.UTC)
	users := []User{
		{ID: "a", ActiveHours: []int{20, 21, 22}},
		{ID: "b", ActiveHours: []int{20, 21, 22}, ActivityLevel: ptr(0.5)},
	}
	got := NewOptimizationAgent().CalculateOptimalTiming(Seed{ID: "s", CreatedAt: &created}, users)

	assert.Equal(t, Duration(11*time.Hour+30*time.Minute), got.RecommendedStartOffset)
	assert.Equal(t, got.RecommendedStartOffset, got.ExpectedPeakOffset)
	require.Len(t, got.OptimalTimes, 3)
	assert.Equal(t, time.Date(2026, 10, 14, 20, 0, 0, 0, time.UTC), got.OptimalTimes[0])
	assert.Contains(t, got.Rationale, "20:00")
	assert.Contains(t, got.Rationale, "2 of 2")
}

func TestCalculateOptimalTimingDiurnalTimezone(t *testing.T) {
	midnight := time.Date(2026, 10, 14, 0, 0, 0, 0, time.UTC)
	users := []User{{ID: "a", Location: loc(39.9, 120)}}
	got := NewOptimizationAgent().CalculateOptimalTiming(Seed{ID: "s", CreatedAt: &midnight}, users)

	// Local evening (UTC+8) starts at 10:00 UTC.
	assert.Equal(t, Duration(10*time.Hour), got.RecommendedStartOffset)
	assert.GreaterOrEqual(t, got.ExpectedPeakOffset, got.RecommendedStartOffset)
}

func TestCalculateOptimalTimingStartsNow(t *testing.T) {
	created := time.Date(2026, 10, 14, 20, 15, 0, 0, time.UTC)
	users := []User{{ID: "a", ActiveHours: []int{20, 21, 22}}}
	got := NewOptimizationAgent().CalculateOptimalTiming(Seed{ID: "s", CreatedAt: &created}, users)
	assert.Zero(t, got.RecommendedStartOffset)
	assert.Equal(t, created, got.OptimalTimes[0])
}
