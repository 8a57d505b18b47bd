package engine

import (
	"context"
	"math"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"
)

// PropagationConfig bounds the diffusion model.
type PropagationConfig struct {
	// AffinityThreshold is the minimum seed affinity, and the minimum
	// user-to-user compatibility, for a contact edge to exist.
	AffinityThreshold float64
	// TransmissionFloor stops expansion once the best candidate scores below it.
	TransmissionFloor float64
	MaxHops           int
	// CandidateLimit caps the candidate set drawn per request.
	CandidateLimit  int
	DefaultRadiusKm float64
	// RelayDelay is the base time for one hop to pass content onward.
	RelayDelay time.Duration
}

// DefaultPropagationConfig returns the standard diffusion bounds.
func DefaultPropagationConfig() PropagationConfig {
	return PropagationConfig{
		AffinityThreshold: 0.6,
		TransmissionFloor: 0.05,
		MaxHops:           10,
		CandidateLimit:    200,
		DefaultRadiusKm:   10,
		RelayDelay:        5 * time.Minute,
	}
}

// Tier distance bounds and the minimum arrival delay for each tier.
var tierDelays = map[Tier]time.Duration{
	TierCommunity:    0,
	TierNeighborhood: 15 * time.Minute,
	TierStreet:       60 * time.Minute,
	TierCity:         240 * time.Minute,
}

const (
	communityKm    = 1.0
	neighborhoodKm = 3.0
	// unknownGeoWeight applies to candidates without a location.
	unknownGeoWeight = 0.5
	recencyHalfLife  = 24 * time.Hour
	baseResonance    = 100.0
)

// PropagationAgent builds a candidate diffusion path for a seed.
type PropagationAgent struct {
	cfg       PropagationConfig
	matching  *MatchingAgent
	directory UserDirectory
	logger    *zap.Logger
	now       func() time.Time
}

// PropagationOption configures a PropagationAgent.
type PropagationOption func(*PropagationAgent)

// WithDirectory resolves index hits into users when no inline pool is supplied.
func WithDirectory(d UserDirectory) PropagationOption {
	return func(a *PropagationAgent) { a.directory = d }
}

// WithPropagationLogger sets the agent's logger.
func WithPropagationLogger(l *zap.Logger) PropagationOption {
	return func(a *PropagationAgent) {
		if l != nil {
			a.logger = l
		}
	}
}

// WithClock overrides the clock used for seed recency.
func WithClock(now func() time.Time) PropagationOption {
	return func(a *PropagationAgent) { a.now = now }
}

// NewPropagationAgent creates a propagation agent scoring through matching.
func NewPropagationAgent(matching *MatchingAgent, cfg PropagationConfig, opts ...PropagationOption) *PropagationAgent {
	def := DefaultPropagationConfig()
	if cfg.MaxHops <= 0 {
		cfg.MaxHops = def.MaxHops
	}
	if cfg.CandidateLimit <= 0 {
		cfg.CandidateLimit = def.CandidateLimit
	}
	if cfg.DefaultRadiusKm <= 0 {
		cfg.DefaultRadiusKm = def.DefaultRadiusKm
	}
	if cfg.RelayDelay <= 0 {
		cfg.RelayDelay = def.RelayDelay
	}
	a := &PropagationAgent{
		cfg:      cfg,
		matching: matching,
		logger:   zap.NewNop(),
		now:      time.Now,
	}
	for _, o := range opts {
		o(a)
	}
	return a
}

type candidate struct {
	user     User
	affinity float64
	geo      float64
	tier     Tier
	base     float64
}

// CalculatePropagationPath runs a bounded greedy expansion over the contact
// graph implied by pool (or, when pool is empty, by the vector index). At
// every step it picks the candidate with the highest expected onward reach,
// transmissionScore x (1 + susceptible neighbours), among users in contact
// with the previous hop.
func (a *PropagationAgent) CalculatePropagationPath(ctx context.Context, seed Seed, pctx PropagationContext, pool []User) (PropagationPath, error) {
	if len(seed.Vector) == 0 {
		return PropagationPath{}, Errorf(KindMissingSeedVector, "seed %s has no vector; generate one with the content agent first", seed.ID)
	}
	if err := Validate(pctx); err != nil {
		return PropagationPath{}, err
	}

	users, err := a.candidatePool(ctx, seed, pool)
	if err != nil {
		return PropagationPath{}, err
	}
	path := PropagationPath{SeedID: seed.ID, Hops: []Hop{}}

	cands, err := a.scoreCandidates(ctx, seed, pctx, users)
	if err != nil {
		return PropagationPath{}, err
	}
	if len(cands) == 0 {
		a.logger.Debug("no eligible candidates", zap.String("seed_id", seed.ID), zap.Int("pool", len(users)))
		return path, nil
	}

	compat, err := a.contactGraph(ctx, cands)
	if err != nil {
		return PropagationPath{}, err
	}

	relay := a.relayDelay(pctx)
	remaining := make([]bool, len(cands))
	for i := range remaining {
		remaining[i] = true
	}
	var (
		offset  time.Duration
		affSum  float64
		prev    = -1
		thresh  = a.cfg.AffinityThreshold
		reached float64
	)
	for len(path.Hops) < a.cfg.MaxHops {
		if err := ctx.Err(); err != nil {
			return PropagationPath{}, err
		}
		best, bestT, bestEV := -1, 0.0, 0.0
		for i := range cands {
			if !remaining[i] {
				continue
			}
			t := cands[i].base
			if prev >= 0 {
				if compat[prev][i] < thresh {
					continue
				}
				t *= compat[prev][i]
			}
			susceptible := 0
			for j := range cands {
				if j != i && remaining[j] && compat[i][j] >= thresh {
					susceptible++
				}
			}
			ev := t * float64(1+susceptible)
			// Candidates are sorted by id, so strict comparison keeps the lowest id on ties.
			if best < 0 || ev > bestEV || (ev == bestEV && t > bestT) {
				best, bestT, bestEV = i, t, ev
			}
		}
		if best < 0 || bestT < a.cfg.TransmissionFloor {
			break
		}

		c := cands[best]
		offset = max(offset+relay, tierDelays[c.tier])
		path.Hops = append(path.Hops, Hop{
			TargetRef:              c.user.ID,
			EstimatedArrivalOffset: Duration(offset),
			TransmissionScore:      bestT,
			Tier:                   c.tier,
			SemanticWeight:         c.affinity,
			GeographicWeight:       c.geo,
		})
		remaining[best] = false
		prev = best
		affSum += c.affinity
		reached += bestEV
	}

	path.EstimatedReach = reached
	if n := len(path.Hops); n > 0 {
		path.Confidence = clamp(affSum/float64(n)*(1-math.Exp(-float64(n)/3)), 0, 1)
	}
	return path, nil
}

func (a *PropagationAgent) candidatePool(ctx context.Context, seed Seed, pool []User) ([]User, error) {
	if len(pool) > 0 {
		return pool, nil
	}
	if !a.matching.HasIndex() || a.directory == nil {
		return nil, nil
	}
	hits, err := a.matching.SearchIndex(ctx, seed.Vector, a.cfg.CandidateLimit)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	ids := make([]string, len(hits))
	for i, h := range hits {
		ids[i] = h.ID
	}
	users, err := a.directory.LookupUsers(ctx, ids)
	if err != nil {
		return nil, Transient(err, "lookup candidate users")
	}
	return users, ctx.Err()
}

// scoreCandidates computes each eligible user's base transmission score from
// seed affinity, audience activity, distance from origin and trend overlap.
func (a *PropagationAgent) scoreCandidates(ctx context.Context, seed Seed, pctx PropagationContext, users []User) ([]candidate, error) {
	origin := pctx.Geographic.Center()
	if seed.Location != nil {
		origin = *seed.Location
	}
	radius := pctx.Geographic.RadiusKm
	if radius <= 0 {
		radius = a.cfg.DefaultRadiusKm
	}
	activity := 0.5 + 0.5*pctx.UserActivityLevel
	trend := 1 + 0.1*float64(trendOverlap(seed.SpectralTags, pctx.Social.TrendingTopics))

	scored := make([]candidate, len(users))
	ok := make([]bool, len(users))
	err := forEachChunk(ctx, len(users), func(lo, hi int) {
		for i := lo; i < hi; i++ {
			u := users[i]
			aff, err := a.matching.SeedAffinity(seed.Vector, u)
			if err != nil || aff < a.cfg.AffinityThreshold {
				continue
			}
			geo, tier := unknownGeoWeight, TierCity
			if u.Location != nil {
				km := haversineKm(origin, *u.Location)
				tier = tierFor(km, radius)
				geo = 1
				if km > radius {
					geo = math.Exp(-(km - radius) / radius)
				}
			}
			scored[i] = candidate{
				user:     u,
				affinity: aff,
				geo:      geo,
				tier:     tier,
				base:     clamp(aff*activity*geo*trend, 0, 1),
			}
			ok[i] = true
		}
	})
	if err != nil {
		return nil, err
	}

	seen := make(map[string]bool, len(users))
	var out []candidate
	for i, c := range scored {
		if !ok[i] {
			continue
		}
		if seen[c.user.ID] {
			continue
		}
		seen[c.user.ID] = true
		out = append(out, c)
	}

	if len(out) > a.cfg.CandidateLimit {
		sort.Slice(out, func(i, j int) bool {
			if out[i].base != out[j].base {
				return out[i].base > out[j].base
			}
			return out[i].user.ID < out[j].user.ID
		})
		out = out[:a.cfg.CandidateLimit]
	}
	sort.Slice(out, func(i, j int) bool { return out[i].user.ID < out[j].user.ID })
	return out, nil
}

// contactGraph computes pairwise user compatibility between candidates.
func (a *PropagationAgent) contactGraph(ctx context.Context, cands []candidate) ([][]float64, error) {
	n := len(cands)
	compat := make([][]float64, n)
	for i := range compat {
		compat[i] = make([]float64, n)
	}
	err := forEachChunk(ctx, n, func(lo, hi int) {
		for i := lo; i < hi; i++ {
			for j := 0; j < n; j++ {
				if i != j {
					compat[i][j] = a.matching.compatibility(cands[i].user, cands[j].user)
				}
			}
		}
	})
	return compat, err
}

func (a *PropagationAgent) relayDelay(pctx PropagationContext) time.Duration {
	d := float64(a.cfg.RelayDelay) * (1.5 - pctx.UserActivityLevel)
	if pctx.TimeOfDay < 6 {
		d *= 2
	}
	return time.Duration(d)
}

func tierFor(km, radius float64) Tier {
	switch {
	case km <= communityKm:
		return TierCommunity
	case km <= neighborhoodKm:
		return TierNeighborhood
	case km <= math.Max(radius, neighborhoodKm):
		return TierStreet
	default:
		return TierCity
	}
}

func trendOverlap(tags, trending []string) int {
	set := make(map[string]bool, len(trending))
	for _, t := range trending {
		set[strings.ToLower(strings.TrimSpace(t))] = true
	}
	n := 0
	for _, t := range dedupe(tags) {
		if set[strings.ToLower(t)] {
			n++
		}
	}
	return n
}

// PredictPropagationPotential is a cheap forecast of expected resonance
// (0-100) from topic popularity, geographic density and recency. It does not
// expand a path.
func (a *PropagationAgent) PredictPropagationPotential(seed Seed) (float64, error) {
	if err := checkContent(seed.Content); err != nil {
		return 0, err
	}

	popularity, n := 0.0, 0
	for _, t := range dedupe(seed.SpectralTags) {
		if p, ok := topicPopularity(t); ok {
			popularity += p
			n++
		}
	}
	if n == 0 {
		popularity = basePopularity
	} else {
		popularity /= float64(n)
	}

	density := 0.6
	if seed.Location != nil {
		density = 1
	}

	recency := 1.0
	if seed.CreatedAt != nil {
		age := a.now().Sub(*seed.CreatedAt)
		if age > 0 {
			recency = math.Pow(0.5, float64(age)/float64(recencyHalfLife))
		}
	}
	return clamp(baseResonance*popularity*density*recency, 0, baseResonance), nil
}
