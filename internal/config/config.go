// Package config loads the FluLink service configuration from YAML with
// environment overrides.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/flulink/engine/internal/backend"
	"github.com/flulink/engine/internal/engine"
	"github.com/flulink/engine/internal/router"
)

// Index backends.
const (
	IndexInline   = "inline"
	IndexSQLite   = "sqlite"
	IndexPgvector = "pgvector"
)

// Embedding providers.
const (
	EmbedderHash   = "hash"
	EmbedderOllama = "ollama"
)

// Config holds all flulink configuration.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	Index    IndexConfig    `yaml:"index"`
	Embedder EmbedderConfig `yaml:"embedder"`
	Engine   EngineConfig   `yaml:"engine"`
	Router   RouterConfig   `yaml:"router"`
	Breaker  BreakerConfig  `yaml:"breaker"`
	Log      LogConfig      `yaml:"log"`
}

type ServerConfig struct {
	Bind string `yaml:"bind" validate:"required"`
	Port int    `yaml:"port" validate:"gte=1,lte=65535"`
}

type DatabaseConfig struct {
	Path string `yaml:"path"` // empty resolves to store.DefaultDBPath()
}

type IndexConfig struct {
	Backend        string `yaml:"backend" validate:"oneof=inline sqlite pgvector"`
	DSN            string `yaml:"dsn" validate:"required_if=Backend pgvector"`
	Metric         string `yaml:"metric" validate:"omitempty,oneof=cosine euclidean dot"`
	CandidateLimit int    `yaml:"candidate_limit" validate:"gte=1"`
}

type EmbedderConfig struct {
	Provider string `yaml:"provider" validate:"oneof=hash ollama"`
	URL      string `yaml:"url" validate:"omitempty,url"`
	Model    string `yaml:"model" validate:"required_if=Provider ollama"`
}

type EngineConfig struct {
	Dimensions        int           `yaml:"dimensions" validate:"gte=8,lte=4096"`
	AffinityThreshold float64       `yaml:"affinity_threshold" validate:"gt=0,lte=1"`
	TransmissionFloor float64       `yaml:"transmission_floor" validate:"gte=0,lt=1"`
	MaxHops           int           `yaml:"max_hops" validate:"gte=1"`
	RadiusKm          float64       `yaml:"radius_km" validate:"gt=0"`
	GeoScaleKm        float64       `yaml:"geo_scale_km" validate:"gt=0"`
	RelayDelay        time.Duration `yaml:"relay_delay" validate:"gt=0"`
	TimingWindow      time.Duration `yaml:"timing_window" validate:"gte=1h"`
}

type RouterConfig struct {
	Timeout        time.Duration `yaml:"timeout" validate:"gt=0"`
	Retries        int           `yaml:"retries" validate:"gte=0,lte=10"`
	InitialBackoff time.Duration `yaml:"initial_backoff" validate:"gt=0"`
	MaxBackoff     time.Duration `yaml:"max_backoff" validate:"gtefield=InitialBackoff"`
}

type BreakerConfig struct {
	Enabled          bool          `yaml:"enabled"`
	MaxRequests      uint32        `yaml:"max_requests" validate:"gte=1"`
	Interval         time.Duration `yaml:"interval"`
	Timeout          time.Duration `yaml:"timeout" validate:"gt=0"`
	FailureThreshold float64       `yaml:"failure_threshold" validate:"gt=0,lte=1"`
	MinRequests      uint32        `yaml:"min_requests" validate:"gte=1"`
}

type LogConfig struct {
	Level  string `yaml:"level" validate:"oneof=debug info warn error"`
	Format string `yaml:"format" validate:"oneof=json console"`
}

// Default returns a Config with sensible defaults.
func Default() Config {
	prop := engine.DefaultPropagationConfig()
	rc := router.DefaultConfig()
	bc := backend.DefaultBreakerConfig()
	return Config{
		Server: ServerConfig{
			Bind: "127.0.0.1",
			Port: 37778,
		},
		Index: IndexConfig{
			Backend:        IndexSQLite,
			Metric:         string(engine.MetricCosine),
			CandidateLimit: prop.CandidateLimit,
		},
		Embedder: EmbedderConfig{
			Provider: EmbedderHash,
			URL:      "http://localhost:11434",
			Model:    "nomic-embed-text",
		},
		Engine: EngineConfig{
			Dimensions:        engine.DefaultDimensions,
			AffinityThreshold: prop.AffinityThreshold,
			TransmissionFloor: prop.TransmissionFloor,
			MaxHops:           prop.MaxHops,
			RadiusKm:          prop.DefaultRadiusKm,
			GeoScaleKm:        10,
			RelayDelay:        prop.RelayDelay,
			TimingWindow:      engine.DefaultTimingWindow,
		},
		Router: RouterConfig{
			Timeout:        rc.Timeout,
			Retries:        rc.Retries,
			InitialBackoff: rc.InitialBackoff,
			MaxBackoff:     rc.MaxBackoff,
		},
		Breaker: BreakerConfig{
			Enabled:          true,
			MaxRequests:      bc.MaxRequests,
			Interval:         bc.Interval,
			Timeout:          bc.Timeout,
			FailureThreshold: bc.FailureThreshold,
			MinRequests:      bc.MinRequests,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "console",
		},
	}
}

// Load reads path over the defaults, applies environment overrides and
// validates the result. An empty path skips the file.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// applyEnv overlays FLULINK_* variables.
func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	if v, ok := lookup("FLULINK_LISTEN"); ok && v != "" {
		host, port, found := strings.Cut(v, ":")
		if !found {
			return fmt.Errorf("FLULINK_LISTEN %q: want host:port", v)
		}
		n, err := strconv.Atoi(port)
		if err != nil {
			return fmt.Errorf("FLULINK_LISTEN %q: %w", v, err)
		}
		if host != "" {
			c.Server.Bind = host
		}
		c.Server.Port = n
	}
	if v, ok := lookup("FLULINK_DB"); ok && v != "" {
		c.Database.Path = v
	}
	if v, ok := lookup("FLULINK_INDEX"); ok && v != "" {
		c.Index.Backend = strings.ToLower(v)
	}
	if v, ok := lookup("FLULINK_PG_DSN"); ok && v != "" {
		c.Index.DSN = v
	}
	if v, ok := lookup("FLULINK_OLLAMA_URL"); ok && v != "" {
		c.Embedder.Provider = EmbedderOllama
		c.Embedder.URL = v
	}
	if v, ok := lookup("FLULINK_LOG_LEVEL"); ok && v != "" {
		c.Log.Level = strings.ToLower(v)
	}
	return nil
}

var validate = validator.New()

// Validate checks field ranges and cross-field requirements.
func (c Config) Validate() error {
	err := validate.Struct(c)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return fmt.Errorf("validate config: %w", err)
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msgs = append(msgs, fmt.Sprintf("%s fails %q", fe.Namespace(), fe.Tag()))
	}
	return fmt.Errorf("invalid config: %s", strings.Join(msgs, "; "))
}

// ListenAddr returns the bind:port address string.
func (c *Config) ListenAddr() string {
	return fmt.Sprintf("%s:%d", c.Server.Bind, c.Server.Port)
}

// Propagation converts the engine section.
func (c *Config) Propagation() engine.PropagationConfig {
	return engine.PropagationConfig{
		AffinityThreshold: c.Engine.AffinityThreshold,
		TransmissionFloor: c.Engine.TransmissionFloor,
		MaxHops:           c.Engine.MaxHops,
		CandidateLimit:    c.Index.CandidateLimit,
		DefaultRadiusKm:   c.Engine.RadiusKm,
		RelayDelay:        c.Engine.RelayDelay,
	}
}

// Dispatch converts the router section.
func (c *Config) Dispatch() router.Config {
	return router.Config{
		Timeout:        c.Router.Timeout,
		Retries:        c.Router.Retries,
		InitialBackoff: c.Router.InitialBackoff,
		MaxBackoff:     c.Router.MaxBackoff,
	}
}

// BreakerSettings converts the breaker section.
func (c *Config) BreakerSettings() backend.BreakerConfig {
	return backend.BreakerConfig{
		MaxRequests:      c.Breaker.MaxRequests,
		Interval:         c.Breaker.Interval,
		Timeout:          c.Breaker.Timeout,
		FailureThreshold: c.Breaker.FailureThreshold,
		MinRequests:      c.Breaker.MinRequests,
	}
}

// Metric returns the configured distance metric.
func (c *Config) Metric() engine.Metric {
	m, err := engine.ParseMetric(c.Index.Metric)
	if err != nil {
		return engine.MetricCosine
	}
	return m
}
