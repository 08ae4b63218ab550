package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/goliatone/go-query-sync/internal/cacheinfra"
)

// FetchFn is the function signature the cache expects when fetching from the source of truth.
type FetchFn[T any] func(ctx context.Context) (T, error)

// FreshnessDefault asks a read to use the cache's configured DefaultFreshness.
const FreshnessDefault time.Duration = -1

var (
	// ErrInvalidResultType is returned when a cached value does not hold the requested type.
	ErrInvalidResultType = errors.New("cache: cached value has unexpected type")

	// ErrClosed is returned by reads on a closed cache.
	ErrClosed = cacheinfra.ErrClosed
)

// FetchError wraps a fetcher failure. It is only ever returned to the reads
// that shared the failed call; nothing is cached.
type FetchError = cacheinfra.FetchError

// Result is a typed cache read.
type Result[T any] struct {
	Value     T
	Stale     bool
	UpdatedAt time.Time
}

// Change is delivered to subscribers whenever the value under a key is replaced.
type Change struct {
	Key       string
	Value     any
	Removed   bool
	UpdatedAt time.Time
	Seq       uint64
}

// Stats mirrors the cache counters.
type Stats = cacheinfra.Stats

// QueryCache is the key addressed store of last known good query results.
// It is safe for concurrent use.
type QueryCache struct {
	store      *cacheinfra.Store
	serializer KeySerializer
	cfg        Config
}

// Config returns the configuration the cache was built with.
func (c *QueryCache) Config() Config {
	return c.cfg
}

// Invalidate marks every entry under prefix stale and returns how many
// entries matched. Subscribed entries refetch in the background.
func (c *QueryCache) Invalidate(prefix Key) int {
	return c.store.Invalidate(c.segments(prefix))
}

// Write stores value under key as a fresh entry.
func (c *QueryCache) Write(key Key, value any) {
	c.store.Write(c.segments(key), value)
}

// Remove evicts the value under key.
func (c *QueryCache) Remove(key Key) {
	c.store.Remove(c.segments(key))
}

// Subscribe calls onChange every time the value under key is replaced, by a
// fetch, a revalidation, a write or a remove.
func (c *QueryCache) Subscribe(key Key, onChange func(Change)) (*Subscription, error) {
	unsubscribe, err := c.store.Subscribe(c.segments(key), func(ch cacheinfra.Change) {
		onChange(Change(ch))
	})
	if err != nil {
		return nil, err
	}
	return newSubscription(unsubscribe), nil
}

// Len returns the number of entries held.
func (c *QueryCache) Len() int { return c.store.Len() }

// Stats returns a snapshot of the cache counters.
func (c *QueryCache) Stats() Stats { return c.store.Stats() }

// Close stops timers, abandons in-flight fetches and drops every entry.
func (c *QueryCache) Close() error { return c.store.Close() }

// KeyString returns the identifier the cache uses for key.
func (c *QueryCache) KeyString(key Key) string {
	return cacheinfra.ID(c.segments(key))
}

func (c *QueryCache) segments(k Key) []string {
	return encodeKey(c.serializer, k)
}

func (c *QueryCache) freshness(d time.Duration) time.Duration {
	if d < 0 {
		return c.cfg.DefaultFreshness
	}
	return d
}

// Read is the type safe read through the cache. A fresh value is served
// without calling fetch; a stale value is served with Stale set while one
// background fetch runs; a missing value waits for the in-flight fetch.
func Read[T any](ctx context.Context, c *QueryCache, key Key, fetch FetchFn[T], freshness time.Duration) (Result[T], error) {
	res, err := c.store.Read(ctx, c.segments(key), untyped(fetch), c.freshness(freshness))
	if err != nil {
		return Result[T]{}, err
	}
	return typed[T](c, key, res)
}

// Refetch forces a fetch for key, joining one already in flight.
func Refetch[T any](ctx context.Context, c *QueryCache, key Key, fetch FetchFn[T]) (Result[T], error) {
	res, err := c.store.Refetch(ctx, c.segments(key), untyped(fetch))
	if err != nil {
		return Result[T]{}, err
	}
	return typed[T](c, key, res)
}

// Peek returns the cached value under key without fetching.
func Peek[T any](c *QueryCache, key Key, freshness time.Duration) (Result[T], bool) {
	res, ok := c.store.Peek(c.segments(key), c.freshness(freshness))
	if !ok {
		return Result[T]{}, false
	}
	out, err := typed[T](c, key, res)
	if err != nil {
		return Result[T]{}, false
	}
	return out, true
}

func untyped[T any](fetch FetchFn[T]) cacheinfra.Fetcher {
	if fetch == nil {
		return nil
	}
	return func(ctx context.Context) (any, error) {
		return fetch(ctx)
	}
}

func typed[T any](c *QueryCache, key Key, res cacheinfra.Result) (Result[T], error) {
	out := Result[T]{Stale: res.Stale, UpdatedAt: res.UpdatedAt}
	if res.Value == nil {
		return out, nil
	}
	v, ok := res.Value.(T)
	if !ok {
		return Result[T]{}, fmt.Errorf("%w: key %s holds %T", ErrInvalidResultType, c.KeyString(key), res.Value)
	}
	out.Value = v
	return out, nil
}
