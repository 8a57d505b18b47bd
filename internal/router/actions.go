package router

import (
	"strings"

	"github.com/flulink/engine/internal/engine"
)

// Action names one dispatchable engine operation.
type Action string

const (
	ActionPropagationPath      Action = "propagation-path"
	ActionPropagationPotential Action = "propagation-potential"
	ActionSimilarUsers         Action = "similar-users"
	ActionUserCompatibility    Action = "user-compatibility"
	ActionAnalyzeContent       Action = "analyze-content"
	ActionContentVector        Action = "content-vector"
	ActionSpectralTags         Action = "spectral-tags"
	ActionOptimizePath         Action = "optimize-path"
	ActionOptimalTiming        Action = "optimal-timing"
)

// Route describes where an action is exposed and which agent owns it.
type Route struct {
	Action      Action
	Path        string
	Agent       string
	Method      string
	Description string
}

// Registry is the static action table, in display order.
var Registry = []Route{
	{ActionPropagationPath, "/propagation/path", "propagation", "CalculatePropagationPath", "compute a propagation path for a seed"},
	{ActionPropagationPotential, "/propagation/potential", "propagation", "PredictPropagationPotential", "forecast a seed's resonance"},
	{ActionSimilarUsers, "/matching/similar-users", "matching", "FindSimilarUsers", "rank users by distance from a seed vector"},
	{ActionUserCompatibility, "/matching/compatibility", "matching", "CalculateUserCompatibility", "score two users' compatibility"},
	{ActionAnalyzeContent, "/content/analyze", "content", "AnalyzeContent", "analyze content sentiment and topics"},
	{ActionContentVector, "/content/vector", "content", "GenerateContentVector", "embed content into a vector"},
	{ActionSpectralTags, "/content/tags", "content", "ExtractSpectralTags", "extract spectral tags from content"},
	{ActionOptimizePath, "/optimization/path", "optimization", "OptimizePropagationPath", "enforce path constraints"},
	{ActionOptimalTiming, "/optimization/timing", "optimization", "CalculateOptimalTiming", "recommend a propagation start time"},
}

// ParseAction resolves name against the registry.
func ParseAction(name string) (Action, error) {
	a := Action(strings.TrimSpace(name))
	for _, r := range Registry {
		if r.Action == a {
			return a, nil
		}
	}
	return "", engine.Errorf(engine.KindUnknownAction, "unknown action %q", name)
}
