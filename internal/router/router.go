// Package router is the single dispatch boundary in front of the engine
// agents. It validates an action, decodes its payload, and forwards it to
// the owning agent under a time budget with bounded retries for transient
// backend failures.
package router

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/flulink/engine/internal/engine"
)

// ServiceName identifies the router in health responses.
const ServiceName = "agentrouter-api"

// ContentService is the content agent as seen by the router.
type ContentService interface {
	AnalyzeContent(content string) (engine.ContentAnalysis, error)
	GenerateContentVector(ctx context.Context, content string) ([]float64, error)
	ExtractSpectralTags(content string) ([]string, error)
}

// MatchingService is the matching agent as seen by the router.
type MatchingService interface {
	FindSimilarUsers(ctx context.Context, seedVector []float64, pool []engine.User, topK int) (engine.SimilarUsers, error)
	CalculateUserCompatibility(u1, u2 engine.User) (float64, error)
}

// PropagationService is the propagation agent as seen by the router.
type PropagationService interface {
	CalculatePropagationPath(ctx context.Context, seed engine.Seed, pctx engine.PropagationContext, pool []engine.User) (engine.PropagationPath, error)
	PredictPropagationPotential(seed engine.Seed) (float64, error)
}

// OptimizationService is the optimization agent as seen by the router.
type OptimizationService interface {
	OptimizePropagationPath(path engine.PropagationPath) engine.OptimizedPath
	CalculateOptimalTiming(seed engine.Seed, users []engine.User) engine.TimingRecommendation
}

// Agents are the router's dispatch targets.
type Agents struct {
	Content      ContentService
	Matching     MatchingService
	Propagation  PropagationService
	Optimization OptimizationService
}

// AgentsFrom exposes an engine's agents to the router.
func AgentsFrom(e *engine.Engine) Agents {
	return Agents{
		Content:      e.Content,
		Matching:     e.Matching,
		Propagation:  e.Propagation,
		Optimization: e.Optimization,
	}
}

// Config is the dispatch policy.
type Config struct {
	Timeout        time.Duration
	Retries        int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

// DefaultConfig returns a 30s budget with 3 retries.
func DefaultConfig() Config {
	return Config{
		Timeout:        30 * time.Second,
		Retries:        3,
		InitialBackoff: 50 * time.Millisecond,
		MaxBackoff:     time.Second,
	}
}

// State is a step of the per-request dispatch lifecycle.
type State string

const (
	StateIdle        State = "idle"
	StateValidating  State = "validating"
	StateDispatching State = "dispatching"
	StateSucceeded   State = "succeeded"
	StateFailed      State = "failed"
)

// Router dispatches actions to agents. It keeps no per-request state between
// calls and is safe for concurrent use.
type Router struct {
	agents   Agents
	cfg      Config
	logger   *zap.Logger
	metrics  *Metrics
	version  string
	instance string
	now      func() time.Time
}

// Option configures a Router.
type Option func(*Router)

// WithLogger sets the router's logger.
func WithLogger(l *zap.Logger) Option {
	return func(r *Router) {
		if l != nil {
			r.logger = l
		}
	}
}

// WithMetrics records dispatch outcomes in m.
func WithMetrics(m *Metrics) Option {
	return func(r *Router) { r.metrics = m }
}

// WithVersion sets the version reported by Health.
func WithVersion(v string) Option {
	return func(r *Router) { r.version = v }
}

// WithClock overrides the clock used for health timestamps.
func WithClock(now func() time.Time) Option {
	return func(r *Router) { r.now = now }
}

// New creates a router over agents. Zero durations in cfg take defaults.
func New(agents Agents, cfg Config, opts ...Option) *Router {
	def := DefaultConfig()
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	if cfg.Retries < 0 {
		cfg.Retries = 0
	}
	if cfg.InitialBackoff <= 0 {
		cfg.InitialBackoff = def.InitialBackoff
	}
	if cfg.MaxBackoff < cfg.InitialBackoff {
		cfg.MaxBackoff = max(def.MaxBackoff, cfg.InitialBackoff)
	}
	r := &Router{
		agents:   agents,
		cfg:      cfg,
		logger:   zap.NewNop(),
		version:  "dev",
		instance: uuid.NewString(),
		now:      time.Now,
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Health is the liveness check body.
type Health struct {
	Status    string    `json:"status"`
	Service   string    `json:"service"`
	Version   string    `json:"version"`
	Instance  string    `json:"instance"`
	Timestamp time.Time `json:"timestamp"`
}

// Health reports engine identity and the current time.
func (r *Router) Health() Health {
	return Health{
		Status:    "ok",
		Service:   ServiceName,
		Version:   r.version,
		Instance:  r.instance,
		Timestamp: r.now().UTC(),
	}
}

type requestIDKey struct{}

// WithRequestID attaches a request id that Dispatch will log under.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey{}, id)
}

// RequestID returns the id attached by WithRequestID, if any.
func RequestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

// call is a decoded action bound to its agent.
type call func(ctx context.Context) (any, error)

// Dispatch runs one named action with data as its payload. Failures are
// always *engine.Error values; partial results are never returned.
func (r *Router) Dispatch(ctx context.Context, name string, data json.RawMessage) (any, error) {
	reqID := RequestID(ctx)
	if reqID == "" {
		reqID = uuid.NewString()
	}
	log := r.logger.With(zap.String("request_id", reqID), zap.String("action", name))
	start := time.Now()

	state := StateIdle
	transition := func(to State) {
		log.Debug("router state", zap.String("from", string(state)), zap.String("to", string(to)))
		state = to
	}

	transition(StateValidating)
	action, err := ParseAction(name)
	if err != nil {
		transition(StateFailed)
		r.finish(log, "unknown", start, 0, err)
		return nil, err
	}
	fn, err := r.bind(action, data)
	if err != nil {
		transition(StateFailed)
		r.finish(log, string(action), start, 0, err)
		return nil, err
	}

	transition(StateDispatching)
	ctx, cancel := context.WithTimeout(ctx, r.cfg.Timeout)
	defer cancel()

	result, attempts, err := r.run(ctx, log, action, fn)
	if err != nil {
		transition(StateFailed)
	} else {
		transition(StateSucceeded)
	}
	r.finish(log, string(action), start, attempts, err)
	return result, err
}

// run executes fn, retrying transient failures with exponential backoff
// until the retry budget or the deadline runs out.
func (r *Router) run(ctx context.Context, log *zap.Logger, action Action, fn call) (any, int, error) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = r.cfg.InitialBackoff
	b.MaxInterval = r.cfg.MaxBackoff
	b.MaxElapsedTime = 0
	b.Reset()

	attempts := 0
	op := func() (any, error) {
		attempts++
		res, err := fn(ctx)
		if err == nil {
			return res, nil
		}
		if ctx.Err() != nil || !engine.IsTransient(err) {
			return nil, backoff.Permanent(err)
		}
		return nil, err
	}
	notify := func(err error, wait time.Duration) {
		if r.metrics != nil {
			r.metrics.Retries.WithLabelValues(string(action)).Inc()
		}
		log.Warn("transient failure, retrying",
			zap.Int("attempt", attempts),
			zap.Duration("backoff", wait),
			zap.Error(err))
	}

	policy := backoff.WithContext(backoff.WithMaxRetries(b, uint64(r.cfg.Retries)), ctx)
	res, err := backoff.RetryNotifyWithData(op, policy, notify)
	if err == nil {
		return res, attempts, nil
	}

	switch {
	case ctx.Err() != nil:
		return nil, attempts, engine.Wrap(engine.KindUnavailable, err,
			"%s abandoned after %d attempt(s): %v", action, attempts, ctx.Err())
	case engine.IsTransient(err):
		return nil, attempts, engine.Wrap(engine.KindUnavailable, err,
			"%s failed after %d attempt(s)", action, attempts)
	case engine.KindOf(err) == "":
		return nil, attempts, engine.Wrap(engine.KindUnavailable, err, "%s failed", action)
	}
	return nil, attempts, err
}

func (r *Router) finish(log *zap.Logger, action string, start time.Time, attempts int, err error) {
	outcome := "ok"
	if err != nil {
		outcome = string(engine.KindOf(err))
	}
	if r.metrics != nil {
		r.metrics.Requests.WithLabelValues(action, outcome).Inc()
		r.metrics.Duration.WithLabelValues(action).Observe(time.Since(start).Seconds())
	}
	fields := []zap.Field{
		zap.Int("attempts", attempts),
		zap.Duration("duration", time.Since(start)),
	}
	if err != nil {
		log.Info("dispatch failed", append(fields, zap.String("kind", outcome), zap.Error(err))...)
		return
	}
	log.Info("dispatch complete", fields...)
}

// bind decodes data into the action's payload and binds it to the owning
// agent. The switch covers every Action in Registry.
func (r *Router) bind(action Action, data json.RawMessage) (call, error) {
	a := r.agents
	switch action {
	case ActionPropagationPath:
		var req PropagationPathRequest
		if err := decode(data, &req); err != nil {
			return nil, err
		}
		return func(ctx context.Context) (any, error) {
			return a.Propagation.CalculatePropagationPath(ctx, req.Seed, req.Context, req.Users)
		}, nil

	case ActionPropagationPotential:
		var req SeedRequest
		if err := decode(data, &req); err != nil {
			return nil, err
		}
		return func(context.Context) (any, error) {
			p, err := a.Propagation.PredictPropagationPotential(req.Seed)
			if err != nil {
				return nil, err
			}
			return PotentialResponse{Potential: p}, nil
		}, nil

	case ActionSimilarUsers:
		var req SimilarUsersRequest
		if err := decode(data, &req); err != nil {
			return nil, err
		}
		return func(ctx context.Context) (any, error) {
			res, err := a.Matching.FindSimilarUsers(ctx, req.SeedVector, req.UserPool, req.TopK)
			if err != nil {
				return nil, err
			}
			return SimilarUsersResponse{SimilarUsers: res.Results, Skipped: res.Skipped}, nil
		}, nil

	case ActionUserCompatibility:
		var req CompatibilityRequest
		if err := decode(data, &req); err != nil {
			return nil, err
		}
		return func(context.Context) (any, error) {
			c, err := a.Matching.CalculateUserCompatibility(req.User1, req.User2)
			if err != nil {
				return nil, err
			}
			return CompatibilityResponse{Compatibility: c}, nil
		}, nil

	case ActionAnalyzeContent:
		var req ContentRequest
		if err := decode(data, &req); err != nil {
			return nil, err
		}
		return func(context.Context) (any, error) {
			return a.Content.AnalyzeContent(req.Content)
		}, nil

	case ActionContentVector:
		var req ContentRequest
		if err := decode(data, &req); err != nil {
			return nil, err
		}
		return func(ctx context.Context) (any, error) {
			v, err := a.Content.GenerateContentVector(ctx, req.Content)
			if err != nil {
				return nil, err
			}
			return VectorResponse{Vector: v}, nil
		}, nil

	case ActionSpectralTags:
		var req ContentRequest
		if err := decode(data, &req); err != nil {
			return nil, err
		}
		return func(context.Context) (any, error) {
			tags, err := a.Content.ExtractSpectralTags(req.Content)
			if err != nil {
				return nil, err
			}
			return TagsResponse{Tags: tags}, nil
		}, nil

	case ActionOptimizePath:
		var req OptimizePathRequest
		if err := decode(data, &req); err != nil {
			return nil, err
		}
		return func(context.Context) (any, error) {
			return a.Optimization.OptimizePropagationPath(req.Path), nil
		}, nil

	case ActionOptimalTiming:
		var req OptimalTimingRequest
		if err := decode(data, &req); err != nil {
			return nil, err
		}
		return func(context.Context) (any, error) {
			return TimingResponse{Timing: a.Optimization.CalculateOptimalTiming(req.Seed, req.Users)}, nil
		}, nil
	}
	return nil, engine.Errorf(engine.KindUnknownAction, "action %q has no handler", action)
}

// decode unmarshals a payload and validates its struct tags. A missing
// payload decodes as an empty object.
func decode(data json.RawMessage, v any) error {
	if len(data) == 0 || string(data) == "null" {
		data = json.RawMessage("{}")
	}
	if err := json.Unmarshal(data, v); err != nil {
		var syn *json.SyntaxError
		var typ *json.UnmarshalTypeError
		switch {
		case errors.As(err, &syn):
			return engine.Wrap(engine.KindInvalidRequest, err, "malformed payload at offset %d", syn.Offset)
		case errors.As(err, &typ):
			return engine.Wrap(engine.KindInvalidRequest, err, "field %s must be %s", typ.Field, typ.Type)
		}
		return engine.Wrap(engine.KindInvalidRequest, err, "invalid payload")
	}
	return engine.Validate(v)
}
