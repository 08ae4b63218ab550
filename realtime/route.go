package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/goliatone/go-query-sync/cache"
)

// ChangeFeed delivers row changes for one table at a time. handler receives
// events in order; onError reports transport failures after which the
// subscription is considered broken. Closing the returned io.Closer ends it.
type ChangeFeed interface {
	Subscribe(ctx context.Context, table string, handler func(ChangeEvent), onError func(error)) (io.Closer, error)
}

// Invalidator is the part of the query cache the bridge drives.
type Invalidator interface {
	Invalidate(prefix cache.Key) int
	Write(key cache.Key, value any)
	Remove(key cache.Key)
}

// Route maps the changes of one table to cache operations.
type Route interface {
	Table() string
	Apply(inv Invalidator, ev ChangeEvent) error
	// Resync invalidates everything the table feeds, used after events may
	// have been missed.
	Resync(inv Invalidator)
}

// TableRoute routes a table whose rows decode into T.
//
// Every event invalidates Prefixes. Inserts and updates that carry a full row
// write it under Detail(id); deletes remove Detail(id). When the id is unknown
// the whole Details prefix is invalidated instead.
type TableRoute[T any] struct {
	Name     string
	Prefixes []cache.Key
	Details  cache.Key
	Detail   func(id string) cache.Key
	Decode   func(raw json.RawMessage) (T, error)
}

// NewTableRoute builds a route decoding rows with encoding/json.
func NewTableRoute[T any](table string, prefixes []cache.Key, details cache.Key, detail func(id string) cache.Key) *TableRoute[T] {
	return &TableRoute[T]{
		Name:     table,
		Prefixes: prefixes,
		Details:  details,
		Detail:   detail,
	}
}

// Table implements Route.
func (r *TableRoute[T]) Table() string { return r.Name }

// Apply implements Route.
func (r *TableRoute[T]) Apply(inv Invalidator, ev ChangeEvent) error {
	for _, p := range r.Prefixes {
		inv.Invalidate(p)
	}

	id := ev.RowID()
	if id == "" || r.Detail == nil {
		r.invalidateDetails(inv)
		return nil
	}
	key := r.Detail(id)

	switch ev.Operation {
	case OpInsert, OpUpdate:
		if ev.Truncated || len(ev.New) == 0 {
			inv.Invalidate(key)
			return nil
		}
		row, err := r.decode(ev.New)
		if err != nil {
			inv.Invalidate(key)
			return fmt.Errorf("realtime: decode %s row %s: %w", r.Name, id, err)
		}
		inv.Write(key, row)
	case OpDelete:
		inv.Remove(key)
	default:
		inv.Invalidate(key)
		return fmt.Errorf("realtime: unknown operation %q on %s", ev.Operation, r.Name)
	}
	return nil
}

// Resync implements Route.
func (r *TableRoute[T]) Resync(inv Invalidator) {
	for _, p := range r.Prefixes {
		inv.Invalidate(p)
	}
	r.invalidateDetails(inv)
}

func (r *TableRoute[T]) invalidateDetails(inv Invalidator) {
	if len(r.Details) > 0 {
		inv.Invalidate(r.Details)
	}
}

func (r *TableRoute[T]) decode(raw json.RawMessage) (T, error) {
	if r.Decode != nil {
		return r.Decode(raw)
	}
	var row T
	err := json.Unmarshal(raw, &row)
	return row, err
}
