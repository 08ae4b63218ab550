// Package entity holds the business entity services of the dashboard and the
// glue that puts them behind the query cache.
//
// Service is the CRUD surface of one entity. FromRepository adapts any
// go-repository-bun repository to it, turning Filters and Pagination into
// bun criteria: a filter named "<column>_search" matches with ILIKE, any
// other filter by equality, and lists are ordered by created_at, newest
// first, unless asked otherwise.
//
// Keys is the per entity key factory. Cached decorates a Service so that
// reads go through the cache and writes only touch it after success:
//
//	create  invalidates the collection prefixes (lists, stats, recent, status, search)
//	update  writes the detail entry, then invalidates the collection prefixes
//	remove  evicts the detail entry, then invalidates the collection prefixes
//
// Route builds the realtime route that keeps the same keys in sync with the
// entity's table.
package entity
