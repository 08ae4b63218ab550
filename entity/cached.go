package entity

import (
	"context"
	"fmt"
	"reflect"
	"time"

	"github.com/goliatone/go-query-sync/cache"
)

// Interface assertion to ensure Cached implements Service[T]
var _ Service[any] = (*Cached[any])(nil)

// Freshness holds the per read freshness windows of one entity. List also
// covers the by-status reads.
type Freshness struct {
	List   time.Duration
	Detail time.Duration
	Stats  time.Duration
	Recent time.Duration
	Search time.Duration
}

// DefaultFreshness matches how quickly dashboard views go out of date.
func DefaultFreshness() Freshness {
	return Freshness{
		List:   5 * time.Minute,
		Detail: 5 * time.Minute,
		Stats:  2 * time.Minute,
		Recent: 2 * time.Minute,
		Search: time.Minute,
	}
}

type updateInput[T any] struct {
	id    string
	patch T
}

// Cached decorates a Service with the query cache. Reads go through the
// cache with the entity's freshness windows; writes go through mutations
// that touch the cache only after the underlying call succeeds.
type Cached[T any] struct {
	base      Service[T]
	cache     *cache.QueryCache
	keys      Keys
	freshness Freshness
	idOf      func(T) string
	search    string

	create *cache.Mutation[T, T]
	update *cache.Mutation[updateInput[T], T]
	remove *cache.Mutation[string, struct{}]
}

// CachedOption configures NewCached.
type CachedOption[T any] func(*Cached[T])

// WithKeys sets the key factory, by default NewKeys(KindOf[T]()).
func WithKeys[T any](keys Keys) CachedOption[T] {
	return func(c *Cached[T]) { c.keys = keys }
}

// WithFreshness sets the freshness windows. Every field is used as given,
// and a zero window means always stale.
func WithFreshness[T any](f Freshness) CachedOption[T] {
	return func(c *Cached[T]) { c.freshness = f }
}

// WithIDFunc sets how the id of a record is read, by default its ID field.
func WithIDFunc[T any](fn func(T) string) CachedOption[T] {
	return func(c *Cached[T]) { c.idOf = fn }
}

// WithSearchField sets the column Search matches, "name" by default.
func WithSearchField[T any](column string) CachedOption[T] {
	return func(c *Cached[T]) { c.search = column }
}

// NewCached wraps base with qc.
func NewCached[T any](base Service[T], qc *cache.QueryCache, opts ...CachedOption[T]) *Cached[T] {
	c := &Cached[T]{
		base:      base,
		cache:     qc,
		keys:      NewKeys(KindOf[T]()),
		freshness: DefaultFreshness(),
		idOf:      extractID[T],
		search:    "name",
	}
	for _, opt := range opts {
		opt(c)
	}

	collections := c.keys.CollectionPrefixes()

	c.create = cache.NewMutation(qc, func(ctx context.Context, record T) (T, error) {
		return c.base.Create(ctx, record)
	}, cache.MutationConfig[T, T]{
		Invalidates: collections,
		OnSuccess: func(qc *cache.QueryCache, _ T, out T) {
			if id := c.idOf(out); id != "" {
				qc.Write(c.keys.Detail(id), out)
			}
		},
	})

	c.update = cache.NewMutation(qc, func(ctx context.Context, in updateInput[T]) (T, error) {
		return c.base.Update(ctx, in.id, in.patch)
	}, cache.MutationConfig[updateInput[T], T]{
		Invalidates: collections,
		OnSuccess: func(qc *cache.QueryCache, in updateInput[T], out T) {
			qc.Write(c.keys.Detail(in.id), out)
		},
	})

	c.remove = cache.NewMutation(qc, func(ctx context.Context, id string) (struct{}, error) {
		return struct{}{}, c.base.Remove(ctx, id)
	}, cache.MutationConfig[string, struct{}]{
		Invalidates: collections,
		OnSuccess: func(qc *cache.QueryCache, id string, _ struct{}) {
			qc.Remove(c.keys.Detail(id))
		},
	})

	return c
}

// Keys returns the key factory.
func (c *Cached[T]) Keys() Keys { return c.keys }

// Freshness returns the freshness windows reads use.
func (c *Cached[T]) Freshness() Freshness { return c.freshness }

// ListQuery returns the read hook for q.
func (c *Cached[T]) ListQuery(q ListQuery) *cache.Query[Page[T]] {
	q = q.Normalize()
	return cache.NewQuery(c.cache, c.keys.List(q), func(ctx context.Context) (Page[T], error) {
		return c.base.List(ctx, q)
	}, c.freshness.List)
}

// DetailQuery returns the read hook for one record.
func (c *Cached[T]) DetailQuery(id string) *cache.Query[T] {
	return cache.NewQuery(c.cache, c.keys.Detail(id), func(ctx context.Context) (T, error) {
		return c.base.Get(ctx, id)
	}, c.freshness.Detail)
}

// CountQuery returns the read hook for a count under f.
func (c *Cached[T]) CountQuery(f Filters) *cache.Query[int] {
	f = f.Normalize()
	return cache.NewQuery(c.cache, c.keys.StatsFor(f), func(ctx context.Context) (int, error) {
		return c.base.Count(ctx, f)
	}, c.freshness.Stats)
}

// RecentQuery returns the read hook for the newest n records.
func (c *Cached[T]) RecentQuery(n int) *cache.Query[[]T] {
	q := ListQuery{Pagination: Pagination{Page: 1, Limit: n}}
	return cache.NewQuery(c.cache, c.keys.Recent(n), c.items(q), c.freshness.Recent)
}

// StatusQuery returns the read hook for the records in status.
func (c *Cached[T]) StatusQuery(status string) *cache.Query[[]T] {
	q := ListQuery{Filters: Filters{"status": status}}
	return cache.NewQuery(c.cache, c.keys.ByStatus(status), c.items(q), c.freshness.List)
}

// SearchQuery returns the read hook for a free text search.
func (c *Cached[T]) SearchQuery(term string) *cache.Query[[]T] {
	q := ListQuery{Filters: Filters{c.search + SearchSuffix: term}}
	return cache.NewQuery(c.cache, c.keys.Search(term), c.items(q), c.freshness.Search)
}

func (c *Cached[T]) items(q ListQuery) cache.FetchFn[[]T] {
	q = q.Normalize()
	return func(ctx context.Context) ([]T, error) {
		page, err := c.base.List(ctx, q)
		return page.Items, err
	}
}

// List retrieves a page through the cache.
func (c *Cached[T]) List(ctx context.Context, q ListQuery) (Page[T], error) {
	r := c.ListQuery(q).Result(ctx)
	return r.Value, r.Err
}

// Get retrieves one record through the cache.
func (c *Cached[T]) Get(ctx context.Context, id string) (T, error) {
	r := c.DetailQuery(id).Result(ctx)
	return r.Value, r.Err
}

// Count returns a count through the cache.
func (c *Cached[T]) Count(ctx context.Context, f Filters) (int, error) {
	r := c.CountQuery(f).Result(ctx)
	return r.Value, r.Err
}

// Create creates a record and invalidates the collection queries.
func (c *Cached[T]) Create(ctx context.Context, record T) (T, error) {
	return c.create.Execute(ctx, record)
}

// Update updates a record, writes it under its detail key and invalidates
// the collection queries.
func (c *Cached[T]) Update(ctx context.Context, id string, patch T) (T, error) {
	return c.update.Execute(ctx, updateInput[T]{id: id, patch: patch})
}

// Remove deletes a record, evicts its detail entry and invalidates the
// collection queries.
func (c *Cached[T]) Remove(ctx context.Context, id string) error {
	_, err := c.remove.Execute(ctx, id)
	return err
}

// IsPending reports whether any write is in flight.
func (c *Cached[T]) IsPending() bool {
	return c.create.IsPending() || c.update.IsPending() || c.remove.IsPending()
}

// extractID reads an ID field from a record using reflection.
func extractID[T any](record T) string {
	v := reflect.ValueOf(record)
	for v.Kind() == reflect.Ptr || v.Kind() == reflect.Interface {
		if v.IsNil() {
			return ""
		}
		v = v.Elem()
	}
	if v.Kind() != reflect.Struct {
		return ""
	}

	for _, name := range []string{"ID", "Id"} {
		field := v.FieldByName(name)
		if field.IsValid() && field.CanInterface() {
			if field.IsZero() {
				return ""
			}
			return fmt.Sprint(field.Interface())
		}
	}
	return ""
}
