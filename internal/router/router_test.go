package router

import (
	"context"
	"encoding/json"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flulink/engine/internal/engine"
)

// fakeMatching fails with errs in order, then succeeds.
type fakeMatching struct {
	calls atomic.Int32
	errs  []error
	block bool
}

func (f *fakeMatching) FindSimilarUsers(ctx context.Context, _ []float64, _ []engine.User, _ int) (engine.SimilarUsers, error) {
	n := int(f.calls.Add(1))
	if f.block {
		<-ctx.Done()
		return engine.SimilarUsers{}, ctx.Err()
	}
	if n <= len(f.errs) {
		return engine.SimilarUsers{}, f.errs[n-1]
	}
	return engine.SimilarUsers{Results: []engine.VectorSearchResult{{ID: "u1"}}}, nil
}

func (f *fakeMatching) CalculateUserCompatibility(_, _ engine.User) (float64, error) {
	f.calls.Add(1)
	return 0.5, nil
}

func fastConfig() Config {
	return Config{Timeout: time.Second, Retries: 3, InitialBackoff: time.Millisecond, MaxBackoff: 2 * time.Millisecond}
}

func newFakeRouter(m *fakeMatching, opts ...Option) *Router {
	agents := AgentsFrom(engine.New(engine.Options{}))
	agents.Matching = m
	return New(agents, fastConfig(), opts...)
}

var similarPayload = json.RawMessage(`{"seedVector":[1,0,0],"userPool":[],"topK":3}`)

func counterValue(t *testing.T, reg *prometheus.Registry, name string, labels map[string]string) float64 {
	t.Helper()
	families, err := reg.Gather()
	require.NoError(t, err)
	for _, mf := range families {
		if mf.GetName() != name {
			continue
		}
	next:
		for _, m := range mf.GetMetric() {
			for _, lp := range m.GetLabel() {
				if want, ok := labels[lp.GetName()]; ok && want != lp.GetValue() {
					continue next
				}
			}
			return m.GetCounter().GetValue()
		}
	}
	return 0
}

func TestDispatchUnknownAction(t *testing.T) {
	m := &fakeMatching{}
	_, err := newFakeRouter(m).Dispatch(context.Background(), "delete-everything", nil)
	require.Error(t, err)
	assert.Equal(t, engine.KindUnknownAction, engine.KindOf(err))
	assert.Zero(t, m.calls.Load())
}

func TestDispatchRetriesTransient(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := &fakeMatching{errs: []error{
		engine.Transient(errors.New("timeout"), "search"),
		engine.Transient(errors.New("timeout"), "search"),
	}}
	r := newFakeRouter(m, WithMetrics(NewMetrics(reg)))

	res, err := r.Dispatch(context.Background(), string(ActionSimilarUsers), similarPayload)
	require.NoError(t, err)
	assert.Equal(t, int32(3), m.calls.Load())
	require.IsType(t, SimilarUsersResponse{}, res)
	assert.Equal(t, "u1", res.(SimilarUsersResponse).SimilarUsers[0].ID)

	assert.Equal(t, 2.0, counterValue(t, reg, "flulink_router_retries_total", map[string]string{"action": "similar-users"}))
	assert.Equal(t, 1.0, counterValue(t, reg, "flulink_router_requests_total", map[string]string{"action": "similar-users", "outcome": "ok"}))
}

func TestDispatchRetriesExhausted(t *testing.T) {
	transient := engine.Transient(errors.New("unavailable"), "search")
	m := &fakeMatching{errs: []error{transient, transient, transient, transient, transient}}

	_, err := newFakeRouter(m).Dispatch(context.Background(), string(ActionSimilarUsers), similarPayload)
	require.Error(t, err)
	assert.Equal(t, engine.KindUnavailable, engine.KindOf(err))
	assert.Equal(t, int32(4), m.calls.Load())
}

func TestDispatchDomainErrorNotRetried(t *testing.T) {
	m := &fakeMatching{errs: []error{engine.Errorf(engine.KindMissingSeedVector, "seed vector is empty")}}

	_, err := newFakeRouter(m).Dispatch(context.Background(), string(ActionSimilarUsers), similarPayload)
	assert.Equal(t, engine.KindMissingSeedVector, engine.KindOf(err))
	assert.Equal(t, int32(1), m.calls.Load())
}

func TestDispatchTimeout(t *testing.T) {
	m := &fakeMatching{block: true}
	agents := AgentsFrom(engine.New(engine.Options{}))
	agents.Matching = m
	cfg := fastConfig()
	cfg.Timeout = 20 * time.Millisecond
	r := New(agents, cfg)

	_, err := r.Dispatch(context.Background(), string(ActionSimilarUsers), similarPayload)
	require.Error(t, err)
	assert.Equal(t, engine.KindUnavailable, engine.KindOf(err))
	assert.Equal(t, int32(1), m.calls.Load())
}

func TestDispatchInvalidPayload(t *testing.T) {
	m := &fakeMatching{}
	r := newFakeRouter(m)

	tests := []struct {
		name   string
		action Action
		data   string
	}{
		{"malformed", ActionSimilarUsers, `{"seedVector":`},
		{"wrong type", ActionSimilarUsers, `{"topK":"three"}`},
		{"negative topK", ActionSimilarUsers, `{"seedVector":[1],"topK":-1}`},
		{"pool member without id", ActionSimilarUsers, `{"seedVector":[1],"userPool":[{"interestVector":[1]}]}`},
		{"seed without id", ActionPropagationPotential, `{"seed":{"content":"hi"}}`},
		{"context out of range", ActionPropagationPath, `{"seed":{"id":"s","vector":[1]},"context":{"timeOfDay":24}}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := r.Dispatch(context.Background(), string(tt.action), json.RawMessage(tt.data))
			require.Error(t, err)
			assert.Equal(t, engine.KindInvalidRequest, engine.KindOf(err))
		})
	}
	assert.Zero(t, m.calls.Load())
}

func TestDispatchEveryAction(t *testing.T) {
	r := New(AgentsFrom(engine.New(engine.Options{})), DefaultConfig())
	pctx := `{"timeOfDay":14,"userActivityLevel":0.8,
		"geographicContext":{"lat":39.9,"lng":116.4,"radius":10},
		"socialContext":{"activeUsers":100,"trendingTopics":["tech"]}}`

	tests := []struct {
		action Action
		data   string
		check  func(t *testing.T, res any)
	}{
		{ActionPropagationPath, `{"seed":{"id":"s","vector":[1,0,0]},"context":` + pctx + `,"users":[{"id":"u1","interestVector":[1,0,0]}]}`,
			func(t *testing.T, res any) {
				path := res.(engine.PropagationPath)
				require.Len(t, path.Hops, 1)
				assert.Equal(t, "u1", path.Hops[0].TargetRef)
			}},
		{ActionPropagationPotential, `{"seed":{"id":"s","spectralTags":["tech"]}}`,
			func(t *testing.T, res any) { assert.InDelta(t, 54, res.(PotentialResponse).Potential, 1e-9) }},
		{ActionSimilarUsers, `{"seedVector":[1,0,0],"topK":3,"userPool":[
			{"id":"user1","interestVector":[1,0,0]},
			{"id":"user2","interestVector":[0,1,0]},
			{"id":"user3","interestVector":[0.9,0.1,0]}]}`,
			func(t *testing.T, res any) {
				got := res.(SimilarUsersResponse).SimilarUsers
				require.Len(t, got, 3)
				assert.Equal(t, "user1", got[0].ID)
				assert.Equal(t, "user3", got[1].ID)
			}},
		{ActionUserCompatibility, `{"user1":{"id":"a","interestVector":[1,2]},"user2":{"id":"b","interestVector":[1,2]}}`,
			func(t *testing.T, res any) { assert.Equal(t, 1.0, res.(CompatibilityResponse).Compatibility) }},
		{ActionAnalyzeContent, `{"content":"I love golang"}`,
			func(t *testing.T, res any) { assert.Contains(t, res.(engine.ContentAnalysis).Topics, "tech") }},
		{ActionContentVector, `{"content":"I love golang"}`,
			func(t *testing.T, res any) { assert.Len(t, res.(VectorResponse).Vector, engine.DefaultDimensions) }},
		{ActionSpectralTags, `{"content":""}`,
			func(t *testing.T, res any) { assert.Empty(t, res.(TagsResponse).Tags) }},
		{ActionOptimizePath, `{"path":{"hops":[]}}`,
			func(t *testing.T, res any) {
				got := res.(engine.OptimizedPath)
				assert.Empty(t, got.Hops)
				assert.Empty(t, got.ConstraintViolations)
			}},
		{ActionOptimalTiming, `{"seed":{"id":"s"},"users":[]}`,
			func(t *testing.T, res any) { assert.Zero(t, res.(TimingResponse).Timing.RecommendedStartOffset) }},
	}
	require.Len(t, tests, len(Registry))
	for _, tt := range tests {
		t.Run(string(tt.action), func(t *testing.T) {
			res, err := r.Dispatch(context.Background(), string(tt.action), json.RawMessage(tt.data))
			require.NoError(t, err)
			tt.check(t, res)
		})
	}
}

func TestParseAction(t *testing.T) {
	for _, route := range Registry {
		got, err := ParseAction(string(route.Action))
		require.NoError(t, err)
		assert.Equal(t, route.Action, got)
	}
	_, err := ParseAction("")
	assert.Equal(t, engine.KindUnknownAction, engine.KindOf(err))
}

func TestHealth(t *testing.T) {
	at := time.Date(2026, 10, 14, 12, 0, 0, 0, time.UTC)
	r := New(Agents{}, Config{}, WithVersion("1.2.3"), WithClock(func() time.Time { return at }))
	h := r.Health()
	assert.Equal(t, "ok", h.Status)
	assert.Equal(t, ServiceName, h.Service)
	assert.Equal(t, "1.2.3", h.Version)
	assert.NotEmpty(t, h.Instance)
	assert.Equal(t, at, h.Timestamp)
	assert.Equal(t, h.Instance, r.Health().Instance)
}

func TestNewDefaults(t *testing.T) {
	r := New(Agents{}, Config{Retries: -1})
	assert.Equal(t, 30*time.Second, r.cfg.Timeout)
	assert.Equal(t, 0, r.cfg.Retries)
	assert.Equal(t, 50*time.Millisecond, r.cfg.InitialBackoff)
	assert.Equal(t, time.Second, r.cfg.MaxBackoff)
}

func TestRequestIDFromContext(t *testing.T) {
	ctx := WithRequestID(context.Background(), "req-1")
	assert.Equal(t, "req-1", RequestID(ctx))
	assert.Empty(t, RequestID(context.Background()))
}
