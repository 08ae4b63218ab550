package cache

import (
	"context"
	"sync/atomic"
	"time"
)

// QueryResult is what a view renders: the value, whether it may be outdated,
// and the error of the last read if there was one.
type QueryResult[T any] struct {
	Value     T
	IsStale   bool
	Removed   bool
	Err       error
	UpdatedAt time.Time
}

// Query binds a key, a fetcher and a freshness window. It is the read side
// used by views: Result reads through the cache, Subscribe follows changes.
type Query[T any] struct {
	cache     *QueryCache
	key       Key
	fetch     FetchFn[T]
	freshness time.Duration
}

// NewQuery builds a read hook. Pass FreshnessDefault to use the cache default.
func NewQuery[T any](c *QueryCache, key Key, fetch FetchFn[T], freshness time.Duration) *Query[T] {
	return &Query[T]{
		cache:     c,
		key:       key,
		fetch:     fetch,
		freshness: freshness,
	}
}

// Key returns the key the query reads.
func (q *Query[T]) Key() Key { return q.key }

// ID returns the identifier the cache stores the query under.
func (q *Query[T]) ID() string { return q.cache.KeyString(q.key) }

// Result reads through the cache.
func (q *Query[T]) Result(ctx context.Context) QueryResult[T] {
	res, err := Read(ctx, q.cache, q.key, q.fetch, q.freshness)
	return toQueryResult(res, err)
}

// Refetch forces a fetch, sharing it with any read already waiting on one.
func (q *Query[T]) Refetch(ctx context.Context) QueryResult[T] {
	res, err := Refetch(ctx, q.cache, q.key, q.fetch)
	return toQueryResult(res, err)
}

// Subscribe calls fn with every replacement of the query value. Replacements
// that arrive out of order are dropped, so fn never moves backwards. The
// subscription also keeps the entry from being evicted.
func (q *Query[T]) Subscribe(fn func(QueryResult[T])) (*Subscription, error) {
	var last atomic.Uint64
	return q.cache.Subscribe(q.key, func(ch Change) {
		for {
			seen := last.Load()
			if ch.Seq <= seen {
				return
			}
			if last.CompareAndSwap(seen, ch.Seq) {
				break
			}
		}

		out := QueryResult[T]{Removed: ch.Removed, UpdatedAt: ch.UpdatedAt}
		if !ch.Removed && ch.Value != nil {
			v, ok := ch.Value.(T)
			if !ok {
				out.Err = ErrInvalidResultType
			}
			out.Value = v
		}
		fn(out)
	})
}

func toQueryResult[T any](res Result[T], err error) QueryResult[T] {
	if err != nil {
		return QueryResult[T]{Err: err}
	}
	return QueryResult[T]{
		Value:     res.Value,
		IsStale:   res.Stale,
		UpdatedAt: res.UpdatedAt,
	}
}
