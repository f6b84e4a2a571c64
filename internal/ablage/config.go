package ablage

import (
	"time"

	"ablage/internal/storage"
)

// Configuration defaults, matching the upstream deployment's environment
// defaults.
const (
	DefaultTitle          = "Mini image and file server"
	DefaultTTL            = 14 * 24 * time.Hour
	DefaultReapInterval   = 6 * time.Hour
	DefaultMaxUploadBytes = 15 << 20
)

// Config holds all tunables for a Server. Limits and intervals are plain
// values handed in at construction time rather than process-wide state, so
// tests can vary them per instance.
type Config struct {
	// DataRoot is the directory holding the class areas and upload staging
	// files. Staging happens here even when Engine is a remote backend, so
	// the default local engine commits with a same-filesystem rename.
	DataRoot string

	// Title is the landing page heading.
	Title string

	// MaxUploadBytes is the upload size ceiling.
	MaxUploadBytes int64

	// TTL is how long a committed object lives before the reaper may delete
	// it.
	TTL time.Duration

	// ReapInterval is the sleep between reap cycles.
	ReapInterval time.Duration

	// Engine is the storage backend. Defaults to LocalFileStorage under
	// DataRoot.
	Engine storage.Engine

	// Metrics receives operational counters. Defaults to a no-op.
	Metrics Metrics
}

type ConfigOption func(*Config)

func WithDataRoot(dataRoot string) ConfigOption {
	return func(cfg *Config) {
		cfg.DataRoot = dataRoot
	}
}

func WithTitle(title string) ConfigOption {
	return func(cfg *Config) {
		cfg.Title = title
	}
}

func WithMaxUploadBytes(n int64) ConfigOption {
	return func(cfg *Config) {
		cfg.MaxUploadBytes = n
	}
}

func WithTTL(ttl time.Duration) ConfigOption {
	return func(cfg *Config) {
		cfg.TTL = ttl
	}
}

func WithReapInterval(interval time.Duration) ConfigOption {
	return func(cfg *Config) {
		cfg.ReapInterval = interval
	}
}

func WithStorageEngine(engine storage.Engine) ConfigOption {
	return func(cfg *Config) {
		cfg.Engine = engine
	}
}

func WithMetrics(m Metrics) ConfigOption {
	return func(cfg *Config) {
		cfg.Metrics = m
	}
}

func NewConfig(opts ...ConfigOption) Config {
	cfg := Config{
		Title:          DefaultTitle,
		MaxUploadBytes: DefaultMaxUploadBytes,
		TTL:            DefaultTTL,
		ReapInterval:   DefaultReapInterval,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	return cfg
}
