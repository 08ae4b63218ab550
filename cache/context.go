package cache

import "context"

type invalidationsContextKey struct{}

// WithInvalidations attaches extra prefixes that a mutation executed with ctx
// invalidates on success, on top of the ones it is configured with.
func WithInvalidations(ctx context.Context, keys ...Key) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	if len(keys) == 0 {
		return ctx
	}

	combined := dedupeKeys(append(invalidationsFromContext(ctx), keys...), Key.String)
	if len(combined) == 0 {
		return ctx
	}

	return context.WithValue(ctx, invalidationsContextKey{}, combined)
}

func invalidationsFromContext(ctx context.Context) []Key {
	if ctx == nil {
		return nil
	}
	if keys, ok := ctx.Value(invalidationsContextKey{}).([]Key); ok {
		return append([]Key(nil), keys...)
	}
	return nil
}

// dedupeKeys drops empty keys and keys whose identifier under id was
// already seen.
func dedupeKeys(keys []Key, id func(Key) string) []Key {
	seen := make(map[string]struct{}, len(keys))
	out := keys[:0]
	for _, k := range keys {
		if len(k) == 0 {
			continue
		}
		kid := id(k)
		if _, ok := seen[kid]; ok {
			continue
		}
		seen[kid] = struct{}{}
		out = append(out, k)
	}
	return out
}
