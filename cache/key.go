package cache

import "github.com/goliatone/go-query-sync/internal/cacheinfra"

// Key is an ordered tuple of segments addressing a query, e.g.
// Key{"clients", "list", filters}. Keys are compared by their encoded
// segments, so structurally equal filter sets address the same entry.
//
// Segments, String, HasPrefix and Equal always use the default
// serializer. A QueryCache built WithKeySerializer addresses its entries
// with its own serializer; use QueryCache.KeyString for the identifier the
// cache actually stores a key under.
type Key []any

var defaultSerializer = NewDefaultKeySerializer()

// NewKey builds a Key from segments.
func NewKey(segments ...any) Key {
	return Key(segments)
}

// With returns a new key extended by segments. The receiver is not modified.
func (k Key) With(segments ...any) Key {
	out := make(Key, 0, len(k)+len(segments))
	out = append(out, k...)
	return append(out, segments...)
}

// Segments returns the encoded form of every segment.
func (k Key) Segments() []string {
	return encodeKey(defaultSerializer, k)
}

// String joins the encoded segments with KeySeparator, quoting any segment
// that could be read as a boundary.
func (k Key) String() string {
	return cacheinfra.ID(k.Segments())
}

// HasPrefix reports whether p addresses k or one of its ancestors. Segments
// are compared whole: ("clients","list") is a prefix of
// ("clients","list",{...}) but not of ("clients","lists").
func (k Key) HasPrefix(p Key) bool {
	if len(p) > len(k) {
		return false
	}
	ks, ps := k.Segments(), p.Segments()
	for i := range ps {
		if ks[i] != ps[i] {
			return false
		}
	}
	return true
}

// Equal reports whether both keys encode identically.
func (k Key) Equal(other Key) bool {
	return len(k) == len(other) && k.HasPrefix(other)
}

func encodeKey(s KeySerializer, k Key) []string {
	out := make([]string, len(k))
	for i, seg := range k {
		out[i] = s.SerializeSegment(seg)
	}
	return out
}
