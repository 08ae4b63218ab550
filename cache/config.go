package cache

import (
	"time"

	"github.com/goliatone/go-query-sync/internal/cacheinfra"
	"github.com/juju/clock"
	"go.uber.org/zap"
)

// Config exposes cache configuration options for consumers of the cache package.
type Config struct {
	// DefaultFreshness applies to reads that pass a negative freshness.
	DefaultFreshness time.Duration
	// EvictionGrace is how long an unsubscribed entry is kept.
	EvictionGrace time.Duration
}

// DefaultConfig returns a Config populated with sensible defaults.
func DefaultConfig() Config {
	return convertFromInternal(cacheinfra.DefaultConfig())
}

// Validate checks whether the configuration values are valid.
func (c Config) Validate() error {
	return c.toInternal().Validate()
}

// Option configures a QueryCache.
type Option func(*options)

type options struct {
	clock      clock.Clock
	logger     *zap.Logger
	serializer KeySerializer
}

// WithClock sets the clock used for freshness checks and eviction timers.
func WithClock(c clock.Clock) Option {
	return func(o *options) { o.clock = c }
}

// WithLogger sets the logger used by the cache.
func WithLogger(l *zap.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithKeySerializer replaces the segment encoder.
func WithKeySerializer(s KeySerializer) Option {
	return func(o *options) { o.serializer = s }
}

// New constructs a QueryCache using the provided configuration.
func New(cfg Config, opts ...Option) (*QueryCache, error) {
	o := options{serializer: defaultSerializer}
	for _, opt := range opts {
		opt(&o)
	}

	store, err := cacheinfra.NewStore(cfg.toInternal(),
		cacheinfra.WithClock(o.clock),
		cacheinfra.WithLogger(o.logger),
	)
	if err != nil {
		return nil, err
	}

	return &QueryCache{
		store:      store,
		serializer: o.serializer,
		cfg:        cfg,
	}, nil
}

// NewWithDefaults constructs a QueryCache using DefaultConfig.
func NewWithDefaults(opts ...Option) (*QueryCache, error) {
	return New(DefaultConfig(), opts...)
}

func (c Config) toInternal() cacheinfra.Config {
	return cacheinfra.Config{
		DefaultFreshness: c.DefaultFreshness,
		EvictionGrace:    c.EvictionGrace,
	}
}

func convertFromInternal(cfg cacheinfra.Config) Config {
	return Config{
		DefaultFreshness: cfg.DefaultFreshness,
		EvictionGrace:    cfg.EvictionGrace,
	}
}
