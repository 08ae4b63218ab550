package realtime_test

import (
	"encoding/json"
	"sync"
	"testing"

	"github.com/goliatone/go-query-sync/cache"
	"github.com/goliatone/go-query-sync/realtime"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type row struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Status string `json:"status"`
}

type recorder struct {
	mu          sync.Mutex
	invalidated []string
	written     map[string]any
	removed     []string
}

func newRecorder() *recorder {
	return &recorder{written: make(map[string]any)}
}

func (r *recorder) Invalidate(prefix cache.Key) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.invalidated = append(r.invalidated, prefix.String())
	return 0
}

func (r *recorder) Write(key cache.Key, value any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.written[key.String()] = value
}

func (r *recorder) Remove(key cache.Key) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.removed = append(r.removed, key.String())
}

func (r *recorder) Invalidated() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.invalidated...)
}

func clientsRoute() *realtime.TableRoute[row] {
	details := cache.NewKey("clients", "detail")
	return realtime.NewTableRoute[row]("clients",
		[]cache.Key{cache.NewKey("clients", "list"), cache.NewKey("clients", "stats")},
		details,
		func(id string) cache.Key { return details.With(id) },
	)
}

func raw(t *testing.T, v any) json.RawMessage {
	t.Helper()
	b, err := json.Marshal(v)
	require.NoError(t, err)
	return b
}

func TestTableRoute_InsertWritesDetail(t *testing.T) {
	rec := newRecorder()
	route := clientsRoute()

	err := route.Apply(rec, realtime.ChangeEvent{
		Operation: realtime.OpInsert,
		Table:     "clients",
		New:       raw(t, row{ID: "c1", Name: "Ada", Status: "active"}),
	})
	require.NoError(t, err)

	assert.Equal(t, []string{"clients::list", "clients::stats"}, rec.Invalidated())
	assert.Equal(t, row{ID: "c1", Name: "Ada", Status: "active"}, rec.written["clients::detail::c1"])
}

func TestTableRoute_DeleteRemovesDetail(t *testing.T) {
	rec := newRecorder()

	err := clientsRoute().Apply(rec, realtime.ChangeEvent{
		Operation: realtime.OpDelete,
		Old:       raw(t, row{ID: "c1"}),
	})
	require.NoError(t, err)

	assert.Equal(t, []string{"clients::detail::c1"}, rec.removed)
	assert.Empty(t, rec.written)
}

func TestTableRoute_TruncatedInvalidatesDetail(t *testing.T) {
	rec := newRecorder()

	err := clientsRoute().Apply(rec, realtime.ChangeEvent{
		Operation: realtime.OpUpdate,
		New:       raw(t, map[string]any{"id": "c1"}),
		Truncated: true,
	})
	require.NoError(t, err)

	assert.Contains(t, rec.Invalidated(), "clients::detail::c1")
	assert.Empty(t, rec.written)
}

func TestTableRoute_MissingIDInvalidatesAllDetails(t *testing.T) {
	rec := newRecorder()

	err := clientsRoute().Apply(rec, realtime.ChangeEvent{
		Operation: realtime.OpUpdate,
		New:       raw(t, map[string]any{"name": "no id"}),
	})
	require.NoError(t, err)

	assert.Equal(t, []string{"clients::list", "clients::stats", "clients::detail"}, rec.Invalidated())
}

func TestTableRoute_DecodeFailure(t *testing.T) {
	rec := newRecorder()

	err := clientsRoute().Apply(rec, realtime.ChangeEvent{
		Operation: realtime.OpUpdate,
		New:       json.RawMessage(`{"id":"c1","name":42}`),
	})
	require.Error(t, err)

	assert.Contains(t, rec.Invalidated(), "clients::detail::c1")
	assert.Empty(t, rec.written)
}

func TestTableRoute_UnknownOperation(t *testing.T) {
	rec := newRecorder()

	err := clientsRoute().Apply(rec, realtime.ChangeEvent{
		Operation: "truncate",
		New:       raw(t, row{ID: "c1"}),
	})
	require.Error(t, err)
	assert.Contains(t, rec.Invalidated(), "clients::detail::c1")
}

func TestTableRoute_Resync(t *testing.T) {
	rec := newRecorder()
	clientsRoute().Resync(rec)

	assert.Equal(t, []string{"clients::list", "clients::stats", "clients::detail"}, rec.Invalidated())
}

func TestChangeEvent_RowID(t *testing.T) {
	tests := []struct {
		name string
		ev   realtime.ChangeEvent
		want string
	}{
		{"string id", realtime.ChangeEvent{Operation: realtime.OpInsert, New: json.RawMessage(`{"id":"a"}`)}, "a"},
		{"numeric id", realtime.ChangeEvent{Operation: realtime.OpUpdate, New: json.RawMessage(`{"id":42}`)}, "42"},
		{"delete uses old", realtime.ChangeEvent{Operation: realtime.OpDelete, New: json.RawMessage(`{"id":"n"}`), Old: json.RawMessage(`{"id":"o"}`)}, "o"},
		{"no payload", realtime.ChangeEvent{Operation: realtime.OpInsert}, ""},
		{"null id", realtime.ChangeEvent{Operation: realtime.OpInsert, New: json.RawMessage(`{"id":null}`)}, ""},
		{"bad json", realtime.ChangeEvent{Operation: realtime.OpInsert, New: json.RawMessage(`{`)}, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.ev.RowID())
		})
	}
}

func TestParseOperation(t *testing.T) {
	op, err := realtime.ParseOperation("INSERT")
	require.NoError(t, err)
	assert.Equal(t, realtime.OpInsert, op)

	_, err = realtime.ParseOperation("TRUNCATE")
	assert.Error(t, err)
}
