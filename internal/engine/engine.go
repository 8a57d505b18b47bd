// Package engine implements the FluLink propagation and matching core: four
// stateless agents (content, matching, propagation, optimization) over a
// shared data model. Collaborators such as the vector index and the
// embedding backend are reached only through interfaces.
package engine

import (
	"time"

	"go.uber.org/zap"
)

// Options wires an Engine. Zero values select defaults. TimingWindow is the
// expected burst length used by timing and must be at least 1h.
type Options struct {
	Embedder     Embedder
	Index        VectorIndex
	Directory    UserDirectory
	Metric       Metric
	GeoScaleKm   float64
	Propagation  PropagationConfig
	TimingWindow time.Duration
	Logger       *zap.Logger
	Now          func() time.Time
}

// Engine groups the four agents. It holds no mutable state of its own.
type Engine struct {
	Content      *ContentAgent
	Matching     *MatchingAgent
	Propagation  *PropagationAgent
	Optimization *OptimizationAgent
}

// New composes the agents from opts.
func New(opts Options) *Engine {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	cfg := opts.Propagation
	if cfg == (PropagationConfig{}) {
		cfg = DefaultPropagationConfig()
	}

	mopts := []MatchingOption{WithMatchingLogger(logger.Named("matching"))}
	if opts.Metric != "" {
		mopts = append(mopts, WithMetric(opts.Metric))
	}
	if opts.Index != nil {
		mopts = append(mopts, WithIndex(opts.Index))
	}
	if opts.GeoScaleKm > 0 {
		mopts = append(mopts, WithGeoScale(opts.GeoScaleKm))
	}
	matching := NewMatchingAgent(mopts...)

	popts := []PropagationOption{
		WithPropagationLogger(logger.Named("propagation")),
		WithClock(now),
	}
	if opts.Directory != nil {
		popts = append(popts, WithDirectory(opts.Directory))
	}

	return &Engine{
		Content:     NewContentAgent(opts.Embedder),
		Matching:    matching,
		Propagation: NewPropagationAgent(matching, cfg, popts...),
		Optimization: NewOptimizationAgent(
			WithPruneFloor(cfg.TransmissionFloor),
			WithTimingWindow(opts.TimingWindow),
			WithOptimizationClock(now),
		),
	}
}
