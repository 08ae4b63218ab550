package entity

import "github.com/goliatone/go-query-sync/cache"

// Keys is the query key factory of one entity kind. Every key starts with the
// kind so a single Invalidate(All()) clears the whole entity:
//
//	clients
//	clients/list/<query>
//	clients/detail/<id>
//	clients/stats/<filters>
//	clients/recent/<n>
//	clients/status/<status>
//	clients/search/<term>
type Keys struct {
	Kind string
}

// NewKeys returns the factory for kind.
func NewKeys(kind string) Keys { return Keys{Kind: kind} }

func (k Keys) All() cache.Key     { return cache.NewKey(k.Kind) }
func (k Keys) Lists() cache.Key   { return k.All().With("list") }
func (k Keys) Details() cache.Key { return k.All().With("detail") }
func (k Keys) Stats() cache.Key   { return k.All().With("stats") }
func (k Keys) Recents() cache.Key { return k.All().With("recent") }
func (k Keys) Statuses() cache.Key {
	return k.All().With("status")
}
func (k Keys) Searches() cache.Key { return k.All().With("search") }

// List addresses one list query; q is normalized first.
func (k Keys) List(q ListQuery) cache.Key {
	return k.Lists().With(q.Normalize())
}

// Detail addresses one record.
func (k Keys) Detail(id string) cache.Key { return k.Details().With(id) }

// StatsFor addresses a count under filters.
func (k Keys) StatsFor(f Filters) cache.Key {
	return k.Stats().With(f.Normalize())
}

// Recent addresses the newest n records.
func (k Keys) Recent(n int) cache.Key { return k.Recents().With(n) }

// ByStatus addresses the records in one status.
func (k Keys) ByStatus(status string) cache.Key { return k.Statuses().With(status) }

// Search addresses a free text search.
func (k Keys) Search(term string) cache.Key { return k.Searches().With(term) }

// CollectionPrefixes are the prefixes whose results change whenever any
// record of the kind is created, updated or removed. Detail keys are not
// included; they are written or removed individually.
func (k Keys) CollectionPrefixes() []cache.Key {
	return []cache.Key{k.Lists(), k.Stats(), k.Recents(), k.Statuses(), k.Searches()}
}
