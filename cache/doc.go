// Package cache provides the query cache: a key addressed, in-memory store of
// last known good query results with per-read freshness and in-flight
// de-duplication.
//
// # Overview
//
// Reads are addressed by a Key, an ordered tuple of segments such as
// Key{"clients", "list", filters}. Segments are encoded by a KeySerializer so
// that structurally equal filter sets address the same entry, and prefixes are
// matched segment by segment.
//
//	qc, err := cache.New(cache.DefaultConfig())
//	res, err := cache.Read(ctx, qc, cache.NewKey("clients", "detail", id),
//		func(ctx context.Context) (Client, error) { return svc.Get(ctx, id) },
//		time.Minute,
//	)
//	if res.Stale {
//		// served from cache while a background fetch runs
//	}
//
// # Freshness and revalidation
//
// A value younger than the freshness window passed to the read is served
// without calling the fetcher. An older or invalidated value is served
// immediately with Stale set while exactly one background fetch replaces it.
// A zero window makes every cached value stale. Concurrent reads of a missing
// key share one fetch.
//
// # Writes
//
// Invalidate marks every entry under a prefix stale; entries that somebody
// subscribes to are refetched right away, the rest on their next read. Write
// replaces a value and Remove evicts it. Fetch completions are ordered by a
// sequence number taken at dispatch, so a slow response never overwrites a
// newer write.
//
// # Hooks
//
// Query and Mutation are the read and write sides used by views. A Mutation
// touches the cache only after the wrapped call succeeds.
//
// # Eviction
//
// An entry without subscribers is dropped after Config.EvictionGrace.
package cache
