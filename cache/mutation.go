package cache

import (
	"context"
	"sync/atomic"
)

// MutationFn performs a write against the source of truth.
type MutationFn[In, Out any] func(ctx context.Context, in In) (Out, error)

// MutationConfig describes the cache side effects of a successful mutation.
type MutationConfig[In, Out any] struct {
	// Invalidates lists prefixes invalidated after every success.
	Invalidates []Key
	// InvalidatesFor adds prefixes that depend on the call.
	InvalidatesFor func(in In, out Out) []Key
	// OnSuccess runs before invalidation, typically to write or remove a detail entry.
	OnSuccess func(c *QueryCache, in In, out Out)
}

// Mutation is the write side used by views. The cache is only touched after
// the wrapped call succeeds; a failed call leaves every entry as it was.
type Mutation[In, Out any] struct {
	cache   *QueryCache
	fn      MutationFn[In, Out]
	cfg     MutationConfig[In, Out]
	pending atomic.Int32
}

// NewMutation wraps fn.
func NewMutation[In, Out any](c *QueryCache, fn MutationFn[In, Out], cfg MutationConfig[In, Out]) *Mutation[In, Out] {
	return &Mutation[In, Out]{cache: c, fn: fn, cfg: cfg}
}

// Execute runs the mutation and applies its cache side effects on success.
// Prefixes attached with WithInvalidations are invalidated as well.
func (m *Mutation[In, Out]) Execute(ctx context.Context, in In) (Out, error) {
	m.pending.Add(1)
	defer m.pending.Add(-1)

	out, err := m.fn(ctx, in)
	if err != nil {
		return out, err
	}

	if m.cfg.OnSuccess != nil {
		m.cfg.OnSuccess(m.cache, in, out)
	}

	keys := append([]Key(nil), m.cfg.Invalidates...)
	if m.cfg.InvalidatesFor != nil {
		keys = append(keys, m.cfg.InvalidatesFor(in, out)...)
	}
	keys = append(keys, invalidationsFromContext(ctx)...)

	for _, k := range dedupeKeys(keys, m.cache.KeyString) {
		m.cache.Invalidate(k)
	}
	return out, nil
}

// IsPending reports whether an Execute call is in progress.
func (m *Mutation[In, Out]) IsPending() bool {
	return m.pending.Load() > 0
}
