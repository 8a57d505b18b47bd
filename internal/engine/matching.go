package engine

import (
	"context"
	"errors"
	"math"
	"sort"

	"go.uber.org/zap"
)

const (
	defaultTopK         = 10
	defaultGeoScaleKm   = 10.0
	defaultVectorWeight = 0.7
)

// MatchingAgent performs vector-space comparisons between users and between
// a seed and a user pool.
type MatchingAgent struct {
	metric       Metric
	geoScaleKm   float64
	vectorWeight float64
	index        VectorIndex
	logger       *zap.Logger
}

// MatchingOption configures a MatchingAgent.
type MatchingOption func(*MatchingAgent)

// WithMetric sets the distance metric used for pool ranking and index search.
func WithMetric(m Metric) MatchingOption {
	return func(a *MatchingAgent) { a.metric = m }
}

// WithIndex backs FindSimilarUsers with a vector index when no inline pool is given.
func WithIndex(idx VectorIndex) MatchingOption {
	return func(a *MatchingAgent) { a.index = idx }
}

// WithGeoScale sets the distance in km at which geographic proximity decays to 1/e.
func WithGeoScale(km float64) MatchingOption {
	return func(a *MatchingAgent) {
		if km > 0 {
			a.geoScaleKm = km
		}
	}
}

// WithMatchingLogger sets the logger for skipped pool members.
func WithMatchingLogger(l *zap.Logger) MatchingOption {
	return func(a *MatchingAgent) {
		if l != nil {
			a.logger = l
		}
	}
}

// NewMatchingAgent creates a matching agent using cosine distance by default.
func NewMatchingAgent(opts ...MatchingOption) *MatchingAgent {
	a := &MatchingAgent{
		metric:       MetricCosine,
		geoScaleKm:   defaultGeoScaleKm,
		vectorWeight: defaultVectorWeight,
		logger:       zap.NewNop(),
	}
	for _, o := range opts {
		o(a)
	}
	return a
}

// Metric is the agent's distance metric.
func (a *MatchingAgent) Metric() Metric { return a.metric }

// HasIndex reports whether an index backs empty-pool queries.
func (a *MatchingAgent) HasIndex() bool { return a.index != nil }

// FindSimilarUsers ranks pool members by distance from seedVector, nearest
// first, ties broken by ascending id. A user listed more than once appears
// once, at its nearest distance. Members with a missing or mismatched vector
// are skipped and reported. An empty pool falls through to the configured
// vector index. topK <= 0 selects the default of 10.
func (a *MatchingAgent) FindSimilarUsers(ctx context.Context, seedVector []float64, pool []User, topK int) (SimilarUsers, error) {
	if len(seedVector) == 0 {
		return SimilarUsers{}, Errorf(KindMissingSeedVector, "seed vector is empty")
	}
	if topK <= 0 {
		topK = defaultTopK
	}
	if len(pool) == 0 && a.index != nil {
		results, err := a.SearchIndex(ctx, seedVector, topK)
		if err != nil {
			return SimilarUsers{}, err
		}
		return SimilarUsers{Results: results}, nil
	}

	dists := make([]float64, len(pool))
	errs := make([]error, len(pool))
	err := forEachChunk(ctx, len(pool), func(lo, hi int) {
		for i := lo; i < hi; i++ {
			if len(pool[i].InterestVector) == 0 {
				errs[i] = Errorf(KindIncompleteUser, "user %s has no interest vector", pool[i].ID)
				continue
			}
			dists[i], errs[i] = Distance(a.metric, seedVector, pool[i].InterestVector)
		}
	})
	if err != nil {
		return SimilarUsers{}, err
	}

	out := SimilarUsers{Results: make([]VectorSearchResult, 0, len(pool))}
	for i, u := range pool {
		if errs[i] != nil {
			var e *Error
			if !errors.As(errs[i], &e) {
				return SimilarUsers{}, errs[i]
			}
			a.logger.Debug("skipping pool member",
				zap.String("user_id", u.ID),
				zap.String("kind", string(e.Kind)),
				zap.String("reason", e.Message))
			out.Skipped = append(out.Skipped, SkippedUser{UserID: u.ID, Kind: e.Kind, Message: e.Message})
			continue
		}
		out.Results = append(out.Results, VectorSearchResult{ID: u.ID, Distance: dists[i]})
	}
	out.Results = rankResults(nearestPerID(out.Results), topK)
	return out, nil
}

// SearchIndex queries the vector index and normalizes its answer to the
// engine's ordering contract.
func (a *MatchingAgent) SearchIndex(ctx context.Context, seedVector []float64, topK int) ([]VectorSearchResult, error) {
	if a.index == nil {
		return nil, Errorf(KindInvalidRequest, "user pool is empty and no vector index is configured")
	}
	if topK <= 0 {
		topK = defaultTopK
	}
	results, err := a.index.Search(ctx, seedVector, topK, a.metric)
	if err != nil {
		return nil, Transient(err, "vector index search")
	}
	clean := make([]VectorSearchResult, 0, len(results))
	for _, r := range results {
		if r.ID == "" {
			continue
		}
		if math.IsNaN(r.Distance) || r.Distance < 0 {
			r.Distance = 0
		}
		clean = append(clean, r)
	}
	return rankResults(nearestPerID(clean), topK), nil
}

// nearestPerID keeps one entry per id, the one with the smallest distance.
func nearestPerID(results []VectorSearchResult) []VectorSearchResult {
	best := make(map[string]int, len(results))
	out := results[:0]
	for _, r := range results {
		if i, ok := best[r.ID]; ok {
			if r.Distance < out[i].Distance {
				out[i] = r
			}
			continue
		}
		best[r.ID] = len(out)
		out = append(out, r)
	}
	return out
}

func rankResults(results []VectorSearchResult, k int) []VectorSearchResult {
	sort.Slice(results, func(i, j int) bool {
		if results[i].Distance != results[j].Distance {
			return results[i].Distance < results[j].Distance
		}
		return results[i].ID < results[j].ID
	})
	if len(results) > k {
		results = results[:k]
	}
	return results
}

// CalculateUserCompatibility blends interest similarity with geographic
// proximity when both users have a location. The score is symmetric and
// identical users score exactly 1.
func (a *MatchingAgent) CalculateUserCompatibility(u1, u2 User) (float64, error) {
	if len(u1.InterestVector) == 0 {
		return 0, Errorf(KindIncompleteUser, "user %s has no interest vector", u1.ID)
	}
	if len(u2.InterestVector) == 0 {
		return 0, Errorf(KindIncompleteUser, "user %s has no interest vector", u2.ID)
	}
	if len(u1.InterestVector) != len(u2.InterestVector) {
		return 0, Errorf(KindDimensionMismatch, "users %s and %s have vectors of dimension %d and %d",
			u1.ID, u2.ID, len(u1.InterestVector), len(u2.InterestVector))
	}
	return a.compatibility(u1, u2), nil
}

func (a *MatchingAgent) compatibility(u1, u2 User) float64 {
	sim := affinity(u1.InterestVector, u2.InterestVector)
	if u1.Location == nil || u2.Location == nil {
		return sim
	}
	geo := math.Exp(-haversineKm(*u1.Location, *u2.Location) / a.geoScaleKm)
	return clamp(a.vectorWeight*sim+(1-a.vectorWeight)*geo, 0, 1)
}

// SeedAffinity is the similarity in [0,1] between a seed vector and a user's
// interests.
func (a *MatchingAgent) SeedAffinity(seedVector []float64, u User) (float64, error) {
	if len(u.InterestVector) == 0 {
		return 0, Errorf(KindIncompleteUser, "user %s has no interest vector", u.ID)
	}
	if len(u.InterestVector) != len(seedVector) {
		return 0, Errorf(KindDimensionMismatch, "user %s vector dimension %d does not match seed dimension %d",
			u.ID, len(u.InterestVector), len(seedVector))
	}
	return affinity(seedVector, u.InterestVector), nil
}
