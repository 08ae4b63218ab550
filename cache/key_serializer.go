package cache

import (
	"encoding/json"
	"fmt"
	"reflect"
	"sort"
	"strconv"
	"strings"
	"time"
)

// KeySeparator defines the delimiter used between encoded key segments.
const KeySeparator = "::"

// KeySerializer encodes a single key segment into its stable string form.
// Two segments that are structurally equal must encode identically.
type KeySerializer interface {
	SerializeSegment(v any) string
}

// defaultKeySerializer implements KeySerializer using reflection.
// Maps are encoded with sorted keys and structs by exported field name so that
// filter sets built in different orders produce the same key.
type defaultKeySerializer struct{}

// NewDefaultKeySerializer creates a new instance of the default key serializer.
func NewDefaultKeySerializer() KeySerializer {
	return &defaultKeySerializer{}
}

// SerializeSegment encodes v. A top level string is written as is, so
// Key{"clients", "list"} encodes to the segments "clients" and "list". Strings
// nested inside lists, maps, structs and keys are quoted, which keeps the
// delimiters of the composite encoding out of reach of user supplied values.
func (s *defaultKeySerializer) SerializeSegment(v any) string {
	return s.encode(v, false)
}

func (s *defaultKeySerializer) encode(v any, nested bool) string {
	if v == nil {
		return "nil"
	}

	switch tv := v.(type) {
	case string:
		if nested {
			return strconv.Quote(tv)
		}
		return tv
	case Key:
		return s.serializeKey(tv)
	case time.Time:
		return tv.UTC().Format(time.RFC3339Nano)
	case time.Duration:
		return tv.String()
	}

	rv := reflect.ValueOf(v)
	rt := rv.Type()

	switch rt.Kind() {
	case reflect.Func:
		return fmt.Sprintf("func:%p", v)
	case reflect.Chan:
		return fmt.Sprintf("chan:%p", v)
	case reflect.Ptr, reflect.Interface:
		if rv.IsNil() {
			return "nil"
		}
		return s.encode(rv.Elem().Interface(), nested)
	case reflect.Slice:
		if rv.IsNil() {
			return "[]"
		}
		return s.serializeList(rv)
	case reflect.Array:
		return s.serializeList(rv)
	case reflect.Map:
		if rv.IsNil() {
			return "{}"
		}
		return s.serializeMap(rv)
	case reflect.Struct:
		return s.serializeStruct(rv, rt)
	case reflect.String:
		if nested {
			return strconv.Quote(rv.String())
		}
		return rv.String()
	}

	if isBasicKind(rt.Kind()) {
		return fmt.Sprintf("%v", v)
	}

	out := s.jsonFallback(v)
	if nested {
		return strconv.Quote(out)
	}
	return out
}

func (s *defaultKeySerializer) serializeKey(k Key) string {
	parts := make([]string, len(k))
	for i, seg := range k {
		parts[i] = s.encode(seg, true)
	}
	return "(" + strings.Join(parts, ",") + ")"
}

func (s *defaultKeySerializer) serializeList(rv reflect.Value) string {
	parts := make([]string, rv.Len())
	for i := range parts {
		parts[i] = s.encode(rv.Index(i).Interface(), true)
	}
	return "[" + strings.Join(parts, ",") + "]"
}

// serializeMap sorts pairs by their encoded form so insertion order never leaks into the key.
func (s *defaultKeySerializer) serializeMap(rv reflect.Value) string {
	pairs := make([]string, 0, rv.Len())
	iter := rv.MapRange()
	for iter.Next() {
		k := s.encode(iter.Key().Interface(), true)
		v := s.encode(iter.Value().Interface(), true)
		pairs = append(pairs, k+"="+v)
	}
	sort.Strings(pairs)
	return "{" + strings.Join(pairs, ",") + "}"
}

func (s *defaultKeySerializer) serializeStruct(rv reflect.Value, rt reflect.Type) string {
	parts := make([]string, 0, rv.NumField())
	for i := 0; i < rv.NumField(); i++ {
		field := rt.Field(i)
		if !field.IsExported() {
			continue
		}
		fv := rv.Field(i)
		if !fv.CanInterface() {
			continue
		}
		parts = append(parts, field.Name+":"+s.encode(fv.Interface(), true))
	}
	return "{" + strings.Join(parts, ",") + "}"
}

func isBasicKind(kind reflect.Kind) bool {
	switch kind {
	case reflect.Bool,
		reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64,
		reflect.Float32, reflect.Float64,
		reflect.Complex64, reflect.Complex128,
		reflect.String:
		return true
	default:
		return false
	}
}

// jsonFallback is the last resort for kinds the reflection walk does not cover.
func (s *defaultKeySerializer) jsonFallback(v any) string {
	data, err := json.Marshal(v)
	if err != nil {
		return "fallback:" + reflect.TypeOf(v).String()
	}
	return "json:" + string(data)
}
