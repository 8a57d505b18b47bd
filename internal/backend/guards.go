package backend

import (
	"context"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"github.com/flulink/engine/internal/engine"
)

// Index is a VectorIndex behind a circuit breaker.
type Index struct {
	next engine.VectorIndex
	cb   *gobreaker.CircuitBreaker
}

// GuardIndex wraps next with a breaker named name.
func GuardIndex(name string, next engine.VectorIndex, cfg BreakerConfig, logger *zap.Logger) *Index {
	return &Index{next: next, cb: newBreaker(name, cfg, logger)}
}

func (g *Index) Search(ctx context.Context, query []float64, k int, metric engine.Metric) ([]engine.VectorSearchResult, error) {
	res, err := g.cb.Execute(func() (any, error) {
		return g.next.Search(ctx, query, k, metric)
	})
	if err != nil {
		return nil, translate(g.cb.Name(), err)
	}
	return res.([]engine.VectorSearchResult), nil
}

// State reports the breaker state.
func (g *Index) State() gobreaker.State { return g.cb.State() }

// Directory is a UserDirectory behind a circuit breaker.
type Directory struct {
	next engine.UserDirectory
	cb   *gobreaker.CircuitBreaker
}

// GuardDirectory wraps next with a breaker named name.
func GuardDirectory(name string, next engine.UserDirectory, cfg BreakerConfig, logger *zap.Logger) *Directory {
	return &Directory{next: next, cb: newBreaker(name, cfg, logger)}
}

func (g *Directory) LookupUsers(ctx context.Context, ids []string) ([]engine.User, error) {
	res, err := g.cb.Execute(func() (any, error) {
		return g.next.LookupUsers(ctx, ids)
	})
	if err != nil {
		return nil, translate(g.cb.Name(), err)
	}
	return res.([]engine.User), nil
}

func (g *Directory) State() gobreaker.State { return g.cb.State() }

// Embedder is an engine.Embedder behind a circuit breaker.
type Embedder struct {
	next engine.Embedder
	cb   *gobreaker.CircuitBreaker
}

// GuardEmbedder wraps next with a breaker named after its model.
func GuardEmbedder(next engine.Embedder, cfg BreakerConfig, logger *zap.Logger) *Embedder {
	return &Embedder{next: next, cb: newBreaker("embedder:"+next.Model(), cfg, logger)}
}

func (g *Embedder) Model() string   { return g.next.Model() }
func (g *Embedder) Dimensions() int { return g.next.Dimensions() }

func (g *Embedder) Embed(ctx context.Context, text string) ([]float64, error) {
	res, err := g.cb.Execute(func() (any, error) {
		return g.next.Embed(ctx, text)
	})
	if err != nil {
		return nil, translate(g.cb.Name(), err)
	}
	return res.([]float64), nil
}

func (g *Embedder) State() gobreaker.State { return g.cb.State() }
