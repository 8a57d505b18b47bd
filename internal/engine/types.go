package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Location is a WGS84 coordinate.
type Location struct {
	Lat float64 `json:"lat" validate:"gte=-90,lte=90"`
	Lng float64 `json:"lng" validate:"gte=-180,lte=180"`
}

// ContentType classifies a seed's payload.
type ContentType string

const (
	ContentText  ContentType = "text"
	ContentImage ContentType = "image"
	ContentVideo ContentType = "video"
	ContentAudio ContentType = "audio"
	ContentLink  ContentType = "link"
)

// IsMedia reports whether the content is a reference to media rather than text.
func (c ContentType) IsMedia() bool {
	switch c {
	case ContentImage, ContentVideo, ContentAudio, ContentLink:
		return true
	}
	return false
}

// Seed is a unit of content eligible for propagation. Vector and SpectralTags
// are derived fields attached by the content agent.
type Seed struct {
	ID           string      `json:"id" validate:"required"`
	Content      string      `json:"content"`
	ContentType  ContentType `json:"contentType,omitempty" validate:"omitempty,oneof=text image video audio link"`
	Location     *Location   `json:"location,omitempty"`
	Vector       []float64   `json:"vector,omitempty"`
	SpectralTags []string    `json:"spectralTags,omitempty"`
	CreatedAt    *time.Time  `json:"createdAt,omitempty"`
}

// GeographicContext is the area a propagation request is centred on.
type GeographicContext struct {
	Lat      float64 `json:"lat" validate:"gte=-90,lte=90"`
	Lng      float64 `json:"lng" validate:"gte=-180,lte=180"`
	RadiusKm float64 `json:"radiusKm" validate:"gte=0"`
}

// UnmarshalJSON also accepts the legacy "radius" field name.
func (g *GeographicContext) UnmarshalJSON(data []byte) error {
	var raw struct {
		Lat      float64  `json:"lat"`
		Lng      float64  `json:"lng"`
		RadiusKm *float64 `json:"radiusKm"`
		Radius   *float64 `json:"radius"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	g.Lat, g.Lng = raw.Lat, raw.Lng
	switch {
	case raw.RadiusKm != nil:
		g.RadiusKm = *raw.RadiusKm
	case raw.Radius != nil:
		g.RadiusKm = *raw.Radius
	}
	return nil
}

// Center returns the context's centre point.
func (g GeographicContext) Center() Location {
	return Location{Lat: g.Lat, Lng: g.Lng}
}

// SocialContext describes the audience at request time.
type SocialContext struct {
	ActiveUsers    int      `json:"activeUsers" validate:"gte=0"`
	TrendingTopics []string `json:"trendingTopics"`
}

// PropagationContext is supplied per propagation request.
type PropagationContext struct {
	TimeOfDay         int               `json:"timeOfDay" validate:"gte=0,lte=23"`
	UserActivityLevel float64           `json:"userActivityLevel" validate:"gte=0,lte=1"`
	Geographic        GeographicContext `json:"geographicContext"`
	Social            SocialContext     `json:"socialContext"`
}

// User is the engine's read-only view of a user record.
type User struct {
	ID             string    `json:"id" validate:"required"`
	InterestVector []float64 `json:"interestVector,omitempty"`
	Location       *Location `json:"location,omitempty"`
	// ActivityLevel in [0,1]; nil means unknown.
	ActivityLevel *float64 `json:"activityLevel,omitempty" validate:"omitempty,gte=0,lte=1"`
	// ActiveHours are the UTC hours the user is usually active.
	ActiveHours []int `json:"activeHours,omitempty" validate:"omitempty,dive,gte=0,lte=23"`
}

// Tier is the geographic band a hop lands in, measured from the seed origin.
type Tier string

const (
	TierCommunity    Tier = "community"
	TierNeighborhood Tier = "neighborhood"
	TierStreet       Tier = "street"
	TierCity         Tier = "city"
)

// Hop is one step of a propagation path.
type Hop struct {
	TargetRef              string   `json:"targetRef"`
	EstimatedArrivalOffset Duration `json:"estimatedArrivalOffset"`
	TransmissionScore      float64  `json:"transmissionScore"`
	Tier                   Tier     `json:"tier,omitempty"`
	SemanticWeight         float64  `json:"semanticWeight,omitempty"`
	GeographicWeight       float64  `json:"geographicWeight,omitempty"`
}

// PropagationPath is an ordered sequence of hops, non-decreasing in arrival offset.
type PropagationPath struct {
	SeedID         string  `json:"seedId,omitempty"`
	Hops           []Hop   `json:"hops"`
	EstimatedReach float64 `json:"estimatedReach"`
	Confidence     float64 `json:"confidence"`
}

// OptimizedPath is a path after constraint enforcement.
type OptimizedPath struct {
	PropagationPath
	TotalExpectedReach   float64  `json:"totalExpectedReach"`
	ConstraintViolations []string `json:"constraintViolations"`
	PrunedTargets        []string `json:"prunedTargets,omitempty"`
}

// VectorSearchResult is one nearest-neighbour hit. Smaller distance is closer
// for every metric.
type VectorSearchResult struct {
	ID       string  `json:"id"`
	Distance float64 `json:"distance"`
}

// SkippedUser records a pool member that was dropped instead of scored.
type SkippedUser struct {
	UserID  string `json:"userId"`
	Kind    Kind   `json:"kind"`
	Message string `json:"message"`
}

// SimilarUsers is the result of FindSimilarUsers.
type SimilarUsers struct {
	Results []VectorSearchResult `json:"results"`
	Skipped []SkippedUser        `json:"skipped,omitempty"`
}

// ContentAnalysis summarises a piece of content.
type ContentAnalysis struct {
	Sentiment           float64  `json:"sentiment"`
	Topics              []string `json:"topics"`
	Confidence          float64  `json:"confidence"`
	Keywords            []string `json:"keywords"`
	Readability         float64  `json:"readability"`
	EngagementPotential float64  `json:"engagementPotential"`
}

// TimingRecommendation says when to start a seed's propagation.
type TimingRecommendation struct {
	RecommendedStartOffset Duration    `json:"recommendedStartOffset"`
	ExpectedPeakOffset     Duration    `json:"expectedPeakOffset"`
	Rationale              string      `json:"rationale"`
	OptimalTimes           []time.Time `json:"optimalTimes,omitempty"`
}

// Metric selects the vector distance function.
type Metric string

const (
	MetricCosine    Metric = "cosine"
	MetricEuclidean Metric = "euclidean"
	MetricDot       Metric = "dot"
)

// ParseMetric resolves a metric name; empty means cosine.
func ParseMetric(s string) (Metric, error) {
	switch m := Metric(strings.ToLower(strings.TrimSpace(s))); m {
	case "":
		return MetricCosine, nil
	case MetricCosine, MetricEuclidean, MetricDot:
		return m, nil
	default:
		return "", Errorf(KindInvalidRequest, "unknown metric %q", s)
	}
}

// VectorIndex is the remote nearest-neighbour collaborator.
type VectorIndex interface {
	Search(ctx context.Context, query []float64, k int, metric Metric) ([]VectorSearchResult, error)
}

// UserDirectory resolves index hits back into user records.
type UserDirectory interface {
	LookupUsers(ctx context.Context, ids []string) ([]User, error)
}

// Duration is a time.Duration that travels as a Go duration string ("1h30m").
// Numbers are read as seconds.
type Duration time.Duration

func (d Duration) Std() time.Duration { return time.Duration(d) }

func (d Duration) String() string { return time.Duration(d).String() }

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

func (d *Duration) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		v, err := time.ParseDuration(s)
		if err != nil {
			return fmt.Errorf("parse duration %q: %w", s, err)
		}
		*d = Duration(v)
		return nil
	}
	var secs float64
	if err := json.Unmarshal(data, &secs); err != nil {
		return fmt.Errorf("duration must be a string or number of seconds")
	}
	*d = Duration(secs * float64(time.Second))
	return nil
}
