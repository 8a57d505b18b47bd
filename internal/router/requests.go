package router

import "github.com/flulink/engine/internal/engine"

// Request payloads, one per action. Field names follow the HTTP API.

type PropagationPathRequest struct {
	Seed    engine.Seed               `json:"seed"`
	Context engine.PropagationContext `json:"context"`
	// Users is the inline candidate pool; empty draws candidates from the index.
	Users []engine.User `json:"users,omitempty" validate:"dive"`
}

type SeedRequest struct {
	Seed engine.Seed `json:"seed"`
}

type SimilarUsersRequest struct {
	SeedVector []float64     `json:"seedVector"`
	UserPool   []engine.User `json:"userPool" validate:"dive"`
	TopK       int           `json:"topK" validate:"gte=0"` // 0 or omitted means 10
}

type CompatibilityRequest struct {
	User1 engine.User `json:"user1"`
	User2 engine.User `json:"user2"`
}

type ContentRequest struct {
	Content string `json:"content"`
}

type OptimizePathRequest struct {
	Path engine.PropagationPath `json:"path"`
}

type OptimalTimingRequest struct {
	Seed  engine.Seed   `json:"seed"`
	Users []engine.User `json:"users" validate:"dive"`
}

// Response envelopes for actions whose result is not a struct of its own.

type PotentialResponse struct {
	Potential float64 `json:"potential"`
}

type SimilarUsersResponse struct {
	SimilarUsers []engine.VectorSearchResult `json:"similarUsers"`
	Skipped      []engine.SkippedUser        `json:"skipped,omitempty"`
}

type CompatibilityResponse struct {
	Compatibility float64 `json:"compatibility"`
}

type VectorResponse struct {
	Vector []float64 `json:"vector"`
}

type TagsResponse struct {
	Tags []string `json:"tags"`
}

type TimingResponse struct {
	Timing engine.TimingRecommendation `json:"timing"`
}
