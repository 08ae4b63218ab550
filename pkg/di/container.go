package di

import (
	"context"
	"errors"
	"fmt"

	"github.com/goliatone/go-query-sync/cache"
	"github.com/goliatone/go-query-sync/entity"
	"github.com/goliatone/go-query-sync/realtime"
	"github.com/juju/clock"
	"go.uber.org/zap"
)

// Config groups the configuration of every component the container builds.
type Config struct {
	Cache    cache.Config
	Realtime realtime.Config
}

// DefaultConfig returns the defaults of each component.
func DefaultConfig() Config {
	return Config{
		Cache:    cache.DefaultConfig(),
		Realtime: realtime.DefaultConfig(),
	}
}

// Option configures a Container.
type Option func(*options)

type options struct {
	feed   realtime.ChangeFeed
	clock  clock.Clock
	logger *zap.Logger
}

// WithChangeFeed enables the realtime bridge on top of feed.
func WithChangeFeed(feed realtime.ChangeFeed) Option {
	return func(o *options) { o.feed = feed }
}

// WithClock sets the clock shared by the cache and the bridge.
func WithClock(c clock.Clock) Option {
	return func(o *options) { o.clock = c }
}

// WithLogger sets the logger shared by the cache and the bridge.
func WithLogger(l *zap.Logger) Option {
	return func(o *options) { o.logger = l }
}

// Container provides dependency injection for the sync components.
// It owns one query cache and, when a change feed is given, one realtime
// bridge, and builds cached entity services wired to both.
type Container struct {
	cache  *cache.QueryCache
	bridge *realtime.Bridge
	config Config
	logger *zap.Logger
}

// NewContainer creates a new DI container with the provided configuration.
func NewContainer(config Config, opts ...Option) (*Container, error) {
	o := options{logger: zap.NewNop()}
	for _, opt := range opts {
		opt(&o)
	}

	qc, err := cache.New(config.Cache, cache.WithClock(o.clock), cache.WithLogger(o.logger))
	if err != nil {
		return nil, fmt.Errorf("query cache: %w", err)
	}

	c := &Container{cache: qc, config: config, logger: o.logger}

	if o.feed != nil {
		bridge, err := realtime.NewBridge(o.feed, qc, config.Realtime,
			realtime.WithClock(o.clock),
			realtime.WithLogger(o.logger),
		)
		if err != nil {
			qc.Close()
			return nil, fmt.Errorf("realtime bridge: %w", err)
		}
		c.bridge = bridge
	}

	return c, nil
}

// NewContainerWithDefaults creates a new DI container using default configuration.
func NewContainerWithDefaults(opts ...Option) (*Container, error) {
	return NewContainer(DefaultConfig(), opts...)
}

// Cache returns the singleton query cache.
func (c *Container) Cache() *cache.QueryCache {
	return c.cache
}

// Bridge returns the realtime bridge, nil when no change feed was given.
func (c *Container) Bridge() *realtime.Bridge {
	return c.bridge
}

// Config returns a copy of the configuration used by this container.
func (c *Container) Config() Config {
	return c.config
}

// OpenRealtime opens one handle per registered table.
func (c *Container) OpenRealtime(ctx context.Context) ([]*realtime.Handle, error) {
	if c.bridge == nil {
		return nil, nil
	}

	var handles []*realtime.Handle
	for _, table := range c.bridge.Tables() {
		h, err := c.bridge.Open(ctx, table, nil)
		if err != nil {
			for _, opened := range handles {
				opened.Close()
			}
			return nil, err
		}
		handles = append(handles, h)
	}
	return handles, nil
}

// Close shuts the bridge down and closes the cache.
func (c *Container) Close() error {
	var errs []error
	if c.bridge != nil {
		errs = append(errs, c.bridge.Shutdown())
	}
	errs = append(errs, c.cache.Close())
	return errors.Join(errs...)
}

// NewCachedService wraps base with the container's cache and, when the
// bridge is enabled and table is not empty, registers the route that keeps
// the entity's keys in sync with table.
//
// Since Go methods cannot have type parameters, this is provided as a package-level function.
// Example: NewCachedService[*Client](container, clientService, "clients")
func NewCachedService[T any](container *Container, base entity.Service[T], table string, opts ...entity.CachedOption[T]) *entity.Cached[T] {
	svc := entity.NewCached(base, container.cache, opts...)
	if container.bridge != nil && table != "" {
		container.bridge.Register(svc.Route(table))
	}
	return svc
}
