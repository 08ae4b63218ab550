package cache

import (
	"strings"
	"testing"
	"time"
)

func joinWithSeparator(parts ...string) string {
	return strings.Join(parts, KeySeparator)
}

type listFilters struct {
	Status string
	Search string
	Page   int
	secret string
}

func TestDefaultKeySerializer_BasicTypes(t *testing.T) {
	serializer := NewDefaultKeySerializer()

	tests := []struct {
		name string
		in   any
		want string
	}{
		{"string", "clients", "clients"},
		{"string with separator chars", "hello:world", "hello:world"},
		{"int", 42, "42"},
		{"bool", true, "true"},
		{"float", 3.14, "3.14"},
		{"nil", nil, "nil"},
		{"nil pointer", (*int)(nil), "nil"},
		{"pointer is dereferenced", ptr(7), "7"},
		{"duration", 90 * time.Second, "1m30s"},
		{"time in utc", time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC), "2024-05-01T12:00:00Z"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := serializer.SerializeSegment(tt.in)
			if got != tt.want {
				t.Errorf("SerializeSegment() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestDefaultKeySerializer_Collections(t *testing.T) {
	serializer := NewDefaultKeySerializer()

	tests := []struct {
		name string
		in   any
		want string
	}{
		{"slice", []int{1, 2, 3}, "[1,2,3]"},
		{"nil slice", []string(nil), "[]"},
		{"array", [2]string{"a", "b"}, `["a","b"]`},
		{"map sorted", map[string]any{"status": "active", "page": 2}, `{"page"=2,"status"="active"}`},
		{"nil map", map[string]any(nil), "{}"},
		{"nested key", Key{"clients", 1}, `("clients",1)`},
		{
			"struct exported fields only",
			listFilters{Status: "active", Page: 1, secret: "x"},
			`{Status:"active",Search:"",Page:1}`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := serializer.SerializeSegment(tt.in)
			if got != tt.want {
				t.Errorf("SerializeSegment() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestDefaultKeySerializer_MapOrderIsIrrelevant(t *testing.T) {
	serializer := NewDefaultKeySerializer()

	a := map[string]any{}
	a["status"] = "active"
	a["search"] = "acme"
	a["page"] = 1

	b := map[string]any{"page": 1, "search": "acme", "status": "active"}

	for i := 0; i < 20; i++ {
		if serializer.SerializeSegment(a) != serializer.SerializeSegment(b) {
			t.Fatal("expected structurally equal maps to encode identically")
		}
	}
}

func TestDefaultKeySerializer_DistinctFilterSets(t *testing.T) {
	serializer := NewDefaultKeySerializer()

	tests := []struct {
		name string
		a, b any
	}{
		{
			"delimiters in a map value",
			map[string]any{"name": "x", "status": "active"},
			map[string]any{"name": "x,status=active"},
		},
		{
			"delimiters in a map key",
			map[string]any{"a=b": "c"},
			map[string]any{"a": "b=c"},
		},
		{
			"commas in list elements",
			[]string{"a,b"},
			[]string{"a", "b"},
		},
		{
			"struct field values",
			listFilters{Status: "a,Search:b"},
			listFilters{Status: "a", Search: "b"},
		},
		{
			"string and number",
			[]any{"1"},
			[]any{1},
		},
		{
			"nested key segments",
			Key{"a,b"},
			Key{"a", "b"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a, b := serializer.SerializeSegment(tt.a), serializer.SerializeSegment(tt.b)
			if a == b {
				t.Errorf("expected distinct encodings, both are %q", a)
			}
		})
	}
}

func TestKey_StringDistinguishesSegmentBoundaries(t *testing.T) {
	tests := []struct {
		name string
		a, b Key
	}{
		{"separator inside a segment", NewKey("clients", "a::b"), NewKey("clients", "a", "b")},
		{"trailing colon", NewKey("a:", "b"), NewKey("a", ":b")},
		{"leading quote", NewKey(`"a`, `b"`), NewKey("a::b")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.a.String() == tt.b.String() {
				t.Errorf("expected distinct identifiers, both are %q", tt.a.String())
			}
			if tt.a.Equal(tt.b) {
				t.Error("expected keys to differ")
			}
		})
	}

	if got := NewKey("clients", "detail", "42").String(); got != "clients::detail::42" {
		t.Errorf("plain segments should join unquoted, got %q", got)
	}
}

func TestDefaultKeySerializer_Functions(t *testing.T) {
	serializer := NewDefaultKeySerializer()

	fn := func() {}
	first := serializer.SerializeSegment(fn)
	second := serializer.SerializeSegment(fn)

	if !strings.HasPrefix(first, "func:") {
		t.Errorf("expected func: prefix, got %q", first)
	}
	if first != second {
		t.Errorf("expected stable encoding within a process, got %q and %q", first, second)
	}
}

func TestKey_String(t *testing.T) {
	k := NewKey("clients", "list", map[string]any{"status": "active"})

	want := joinWithSeparator("clients", "list", `{"status"="active"}`)
	if got := k.String(); got != want {
		t.Errorf("String() = %q, want %q", got, want)
	}
}

func TestKey_HasPrefix(t *testing.T) {
	list := NewKey("clients", "list")

	tests := []struct {
		name   string
		key    Key
		prefix Key
		want   bool
	}{
		{"same key", list, list, true},
		{"filtered list", list.With(map[string]any{"status": "active"}), list, true},
		{"root", list, NewKey("clients"), true},
		{"plural sibling", NewKey("clients", "lists"), list, false},
		{"detail", NewKey("clients", "detail", "42"), list, false},
		{"other entity", NewKey("projects", "list"), list, false},
		{"longer prefix", list, list.With("x"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.key.HasPrefix(tt.prefix); got != tt.want {
				t.Errorf("HasPrefix() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestKey_WithDoesNotAlias(t *testing.T) {
	base := make(Key, 2, 8)
	base[0], base[1] = "clients", "list"

	a := base.With("a")
	b := base.With("b")

	if a[2] != "a" || b[2] != "b" {
		t.Errorf("expected independent keys, got %v and %v", a, b)
	}
}

func TestKey_Equal(t *testing.T) {
	a := NewKey("clients", "list", map[string]int{"page": 1, "limit": 10})
	b := NewKey("clients", "list", map[string]int{"limit": 10, "page": 1})

	if !a.Equal(b) {
		t.Error("expected keys built from equal filter sets to be equal")
	}
	if a.Equal(NewKey("clients", "list")) {
		t.Error("expected keys of different length to differ")
	}
}

func ptr[T any](v T) *T { return &v }
