package entity

import (
	"github.com/goliatone/go-query-sync/realtime"
)

// Route builds the realtime route that keeps keys in sync with table. Row
// changes invalidate the collection prefixes and refresh the detail entry.
func Route[T any](keys Keys, table string) *realtime.TableRoute[T] {
	return realtime.NewTableRoute[T](table, keys.CollectionPrefixes(), keys.Details(), keys.Detail)
}

// Route returns the realtime route for table using the decorator's keys.
func (c *Cached[T]) Route(table string) *realtime.TableRoute[T] {
	return Route[T](c.keys, table)
}
