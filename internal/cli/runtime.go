package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/flulink/engine/internal/backend"
	"github.com/flulink/engine/internal/config"
	"github.com/flulink/engine/internal/engine"
	"github.com/flulink/engine/internal/logging"
	"github.com/flulink/engine/internal/pgindex"
	"github.com/flulink/engine/internal/router"
	"github.com/flulink/engine/internal/store"
)

// userStore is a backend that can hold, search and resolve users.
type userStore interface {
	engine.VectorIndex
	engine.UserDirectory
	ImportUsers(ctx context.Context, users []engine.User) (int, error)
	GetUser(ctx context.Context, id string) (*engine.User, error)
	ListUsers(ctx context.Context) ([]engine.User, error)
	CountUsers(ctx context.Context) (int, error)
	DeleteUser(ctx context.Context, id string) error
}

// versioned is implemented by stores that track a schema version.
type versioned interface {
	SchemaVersion() (int, error)
}

// runtime is the process wiring shared by every command.
type runtime struct {
	cfg      config.Config
	logger   *zap.Logger
	registry *prometheus.Registry
	store    userStore // nil for the inline backend
	location string
	engine   *engine.Engine
	router   *router.Router
	closers  []func()
}

func (rt *runtime) Close() {
	for i := len(rt.closers) - 1; i >= 0; i-- {
		rt.closers[i]()
	}
	rt.logger.Sync()
}

// openRuntime loads config and builds the engine, its backends and the router.
func openRuntime(ctx context.Context) (*runtime, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	logger, err := logging.New(cfg.Log)
	if err != nil {
		return nil, err
	}
	rt := &runtime{cfg: cfg, logger: logger, registry: prometheus.NewRegistry()}

	if err := rt.openStore(ctx); err != nil {
		rt.Close()
		return nil, err
	}

	opts := engine.Options{
		Embedder:     rt.embedder(ctx),
		Metric:       cfg.Metric(),
		GeoScaleKm:   cfg.Engine.GeoScaleKm,
		Propagation:  cfg.Propagation(),
		TimingWindow: cfg.Engine.TimingWindow,
		Logger:       logger,
	}
	if rt.store != nil {
		opts.Index, opts.Directory = rt.store, rt.store
		if cfg.Breaker.Enabled {
			bc := cfg.BreakerSettings()
			opts.Index = backend.GuardIndex(cfg.Index.Backend+":search", rt.store, bc, logger)
			opts.Directory = backend.GuardDirectory(cfg.Index.Backend+":lookup", rt.store, bc, logger)
		}
	}
	rt.engine = engine.New(opts)
	rt.router = router.New(router.AgentsFrom(rt.engine), cfg.Dispatch(),
		router.WithLogger(logger),
		router.WithMetrics(router.NewMetrics(rt.registry)),
		router.WithVersion(VersionString()),
	)
	return rt, nil
}

func (rt *runtime) openStore(ctx context.Context) error {
	switch rt.cfg.Index.Backend {
	case config.IndexInline:
		rt.location = "inline"
		return nil
	case config.IndexSQLite:
		path := rt.cfg.Database.Path
		if path == "" {
			var err error
			path, err = store.DefaultDBPath()
			if err != nil {
				return fmt.Errorf("resolve db path: %w", err)
			}
		}
		db, err := store.Open(path)
		if err != nil {
			return fmt.Errorf("open database: %w", err)
		}
		rt.store, rt.location = db, path
		rt.closers = append(rt.closers, func() { db.Close() })
		return nil
	case config.IndexPgvector:
		idx, err := pgindex.Open(ctx, rt.cfg.Index.DSN, rt.cfg.Engine.Dimensions)
		if err != nil {
			return fmt.Errorf("open pgvector index: %w", err)
		}
		rt.store, rt.location = idx, "pgvector"
		rt.closers = append(rt.closers, idx.Close)
		return nil
	default:
		return fmt.Errorf("unknown index backend %q", rt.cfg.Index.Backend)
	}
}

// embedder picks Ollama when it answers, falling back to the hashing embedder.
func (rt *runtime) embedder(ctx context.Context) engine.Embedder {
	ec := rt.cfg.Embedder
	dims := rt.cfg.Engine.Dimensions
	if ec.Provider == config.EmbedderOllama {
		if engine.OllamaReachable(ctx, ec.URL, ec.Model) {
			emb, err := engine.NewOllamaEmbedder(ec.URL, ec.Model, dims)
			if err == nil {
				if rt.cfg.Breaker.Enabled {
					return backend.GuardEmbedder(emb, rt.cfg.BreakerSettings(), rt.logger)
				}
				return emb
			}
			fmt.Fprintf(os.Stderr, "warning: ollama embedder init failed: %v\n", err)
		} else {
			fmt.Fprintf(os.Stderr, "warning: ollama not reachable at %s, using hash embedder\n", ec.URL)
		}
	}
	return engine.NewHashEmbedder(dims)
}

// readInput reads path, or stdin when path is "-" or empty.
func readInput(path string, stdin io.Reader) ([]byte, error) {
	if path == "" || path == "-" {
		return io.ReadAll(stdin)
	}
	return os.ReadFile(path)
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
