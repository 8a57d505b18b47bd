package engine

import (
	"fmt"
	"math"
	"sort"
	"time"
)

const (
	DefaultTimingWindow = 3 * time.Hour
	optimalTimeCount    = 3
	// activeThreshold is the profile level at which a user counts as online.
	activeThreshold = 0.5
)

// OptimizationAgent post-processes paths and derives timing.
type OptimizationAgent struct {
	floor  float64
	window time.Duration
	now    func() time.Time
}

// OptimizationOption configures an OptimizationAgent.
type OptimizationOption func(*OptimizationAgent)

// WithPruneFloor drops hops whose transmission score is below floor.
func WithPruneFloor(floor float64) OptimizationOption {
	return func(a *OptimizationAgent) { a.floor = floor }
}

// WithTimingWindow sets how long a propagation burst is expected to last.
func WithTimingWindow(d time.Duration) OptimizationOption {
	return func(a *OptimizationAgent) {
		if d >= time.Hour {
			a.window = d
		}
	}
}

// WithOptimizationClock overrides the reference clock for timing.
func WithOptimizationClock(now func() time.Time) OptimizationOption {
	return func(a *OptimizationAgent) { a.now = now }
}

// NewOptimizationAgent creates an optimization agent.
func NewOptimizationAgent(opts ...OptimizationOption) *OptimizationAgent {
	a := &OptimizationAgent{
		floor:  DefaultPropagationConfig().TransmissionFloor,
		window: DefaultTimingWindow,
		now:    time.Now,
	}
	for _, o := range opts {
		o(a)
	}
	return a
}

// OptimizePropagationPath enforces path constraints: every hop has a target,
// scores lie in [0,1], offsets are non-negative and non-decreasing, and no
// target repeats. Breaches are repaired and recorded, never returned as
// errors. The result is a fixed point: optimizing it again changes nothing.
func (a *OptimizationAgent) OptimizePropagationPath(path PropagationPath) OptimizedPath {
	violations := []string{}
	hops := make([]Hop, 0, len(path.Hops))

	for i, h := range path.Hops {
		if h.TargetRef == "" {
			violations = append(violations, fmt.Sprintf("hop %d has no target", i))
			continue
		}
		if math.IsNaN(h.TransmissionScore) || h.TransmissionScore < 0 || h.TransmissionScore > 1 {
			violations = append(violations, fmt.Sprintf("hop %d (%s) transmission score %v outside [0,1]", i, h.TargetRef, h.TransmissionScore))
			h.TransmissionScore = clamp(h.TransmissionScore, 0, 1)
		}
		if h.EstimatedArrivalOffset < 0 {
			violations = append(violations, fmt.Sprintf("hop %d (%s) has negative arrival offset %s", i, h.TargetRef, h.EstimatedArrivalOffset))
			h.EstimatedArrivalOffset = 0
		}
		hops = append(hops, h)
	}

	for i := 1; i < len(hops); i++ {
		if hops[i].EstimatedArrivalOffset < hops[i-1].EstimatedArrivalOffset {
			violations = append(violations, fmt.Sprintf("hop %s arrives before preceding hop %s", hops[i].TargetRef, hops[i-1].TargetRef))
		}
	}
	sort.SliceStable(hops, func(i, j int) bool {
		return hops[i].EstimatedArrivalOffset < hops[j].EstimatedArrivalOffset
	})

	seen := make(map[string]bool, len(hops))
	out := OptimizedPath{
		PropagationPath: PropagationPath{
			SeedID:         path.SeedID,
			Hops:           make([]Hop, 0, len(hops)),
			EstimatedReach: path.EstimatedReach,
			Confidence:     path.Confidence,
		},
		ConstraintViolations: violations,
	}
	for _, h := range hops {
		if seen[h.TargetRef] {
			out.ConstraintViolations = append(out.ConstraintViolations, fmt.Sprintf("duplicate target %s removed", h.TargetRef))
			continue
		}
		seen[h.TargetRef] = true
		if h.TransmissionScore < a.floor {
			out.PrunedTargets = append(out.PrunedTargets, h.TargetRef)
			continue
		}
		out.Hops = append(out.Hops, h)
		out.TotalExpectedReach += h.TransmissionScore
	}
	return out
}

// CalculateOptimalTiming picks the start slot whose window covers the most
// target-user activity. Offsets are relative to the seed's creation time, or
// now when the seed has none.
func (a *OptimizationAgent) CalculateOptimalTiming(seed Seed, users []User) TimingRecommendation {
	ref := a.now().UTC()
	if seed.CreatedAt != nil {
		ref = seed.CreatedAt.UTC()
	}
	if len(users) == 0 {
		return TimingRecommendation{
			Rationale:    "no target users; start immediately",
			OptimalTimes: []time.Time{ref},
		}
	}

	var activity [24]float64
	for _, u := range users {
		p := activityProfile(u, seed.Location)
		w := 1.0
		if u.ActivityLevel != nil {
			w = *u.ActivityLevel
		}
		for h := range activity {
			activity[h] += w * p[h]
		}
	}

	hourStart := ref.Truncate(time.Hour)
	window := int(a.window / time.Hour)
	type slot struct {
		k     int
		score float64
	}
	slots := make([]slot, 24)
	for k := range slots {
		start := (hourStart.Hour() + k) % 24
		var s float64
		for j := 0; j < window; j++ {
			s += activity[(start+j)%24]
		}
		slots[k] = slot{k, s}
	}
	sort.SliceStable(slots, func(i, j int) bool { return slots[i].score > slots[j].score })

	slotTime := func(k int) time.Time {
		if k == 0 {
			return ref
		}
		return hourStart.Add(time.Duration(k) * time.Hour)
	}

	best := slots[0].k
	peak := best
	for j := 1; j < window; j++ {
		if activity[(hourStart.Hour()+best+j)%24] > activity[(hourStart.Hour()+peak)%24] {
			peak = best + j
		}
	}

	startAt := slotTime(best)
	peakAt := slotTime(peak)
	startHour := startAt.Hour()
	active := 0
	for _, u := range users {
		if activityProfile(u, seed.Location)[startHour] >= activeThreshold {
			active++
		}
	}

	rec := TimingRecommendation{
		RecommendedStartOffset: Duration(startAt.Sub(ref)),
		ExpectedPeakOffset:     Duration(peakAt.Sub(ref)),
		Rationale: fmt.Sprintf("start at %s UTC when %d of %d target users are active; activity peaks at %s UTC",
			startAt.Format("15:04"), active, len(users), peakAt.Truncate(time.Hour).Format("15:04")),
	}
	for i := 0; i < len(slots) && i < optimalTimeCount; i++ {
		rec.OptimalTimes = append(rec.OptimalTimes, slotTime(slots[i].k))
	}
	return rec
}

// localDiurnal is a typical activity curve by local hour.
var localDiurnal = [24]float64{
	0.4, 0.1, 0.05, 0.05, 0.05, 0.05, 0.1, 0.5,
	0.5, 0.5, 0.3, 0.3, 0.8, 0.8, 0.3, 0.3,
	0.3, 0.3, 1.0, 1.0, 1.0, 1.0, 1.0, 0.4,
}

// activityProfile returns a user's activity by UTC hour. Declared active
// hours win; otherwise the diurnal curve is shifted by the timezone implied
// by the user's (or the seed's) longitude.
func activityProfile(u User, fallback *Location) [24]float64 {
	var p [24]float64
	if len(u.ActiveHours) > 0 {
		for _, h := range u.ActiveHours {
			if h >= 0 && h < 24 {
				p[h] = 1
			}
		}
		return p
	}
	loc := u.Location
	if loc == nil {
		loc = fallback
	}
	tz := 0
	if loc != nil {
		tz = int(math.Round(loc.Lng / 15))
	}
	for utc := range p {
		local := ((utc+tz)%24 + 24) % 24
		p[utc] = localDiurnal[local]
	}
	return p
}
