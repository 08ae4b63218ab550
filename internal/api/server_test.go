package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/goliatone/go-query-sync/cache"
	"github.com/goliatone/go-query-sync/entity"
	"github.com/goliatone/go-query-sync/pkg/testsupport"
	"github.com/gorilla/websocket"
	"github.com/juju/clock/testclock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixture struct {
	server   *Server
	svc      *testsupport.FakeService
	contacts *entity.Cached[testsupport.Contact]
}

func newFixture(t *testing.T, rows ...testsupport.Contact) *fixture {
	t.Helper()

	clk := testclock.NewClock(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
	qc, err := cache.NewWithDefaults(cache.WithClock(clk))
	require.NoError(t, err)
	t.Cleanup(func() { qc.Close() })

	svc := testsupport.NewFakeService(rows...)
	contacts := entity.NewCached[testsupport.Contact](svc, qc)

	return &fixture{
		server:   New(qc, []Resource{NewResource(contacts)}),
		svc:      svc,
		contacts: contacts,
	}
}

func (f *fixture) do(t *testing.T, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, target, nil)
	} else {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	f.server.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) entity.Response[T] {
	t.Helper()
	var out entity.Response[T]
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&out), rec.Body.String())
	return out
}

func contact(t *testing.T, name, status string, age time.Duration) testsupport.Contact {
	c := testsupport.FakeContact(t)
	c.Name, c.Status = name, status
	c.CreatedAt = time.Now().UTC().Add(-age)
	return c
}

func TestResource_List(t *testing.T) {
	f := newFixture(t,
		contact(t, "Ada", "active", time.Hour),
		contact(t, "Grace", "active", time.Minute),
		contact(t, "Linus", "inactive", time.Second),
	)

	rec := f.do(t, http.MethodGet, "/api/contacts?status=active&limit=1&page=2", "")
	require.Equal(t, http.StatusOK, rec.Code)

	res := decode[entity.Page[testsupport.Contact]](t, rec)
	assert.True(t, res.Success)
	assert.Nil(t, res.Error)
	assert.False(t, res.Stale)
	assert.Equal(t, 2, res.Data.Total)
	assert.Equal(t, 2, res.Data.Page)
	require.Len(t, res.Data.Items, 1)
	assert.Equal(t, "Ada", res.Data.Items[0].Name)
}

func TestResource_ReadEndpoints(t *testing.T) {
	ada := contact(t, "Ada", "active", time.Hour)
	f := newFixture(t, ada, contact(t, "Linus", "inactive", time.Second))

	rec := f.do(t, http.MethodGet, "/api/contacts/"+ada.ID, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Ada", decode[testsupport.Contact](t, rec).Data.Name)

	rec = f.do(t, http.MethodGet, "/api/contacts/stats?status=inactive", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1, decode[int](t, rec).Data)

	rec = f.do(t, http.MethodGet, "/api/contacts/recent?n=1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	recent := decode[[]testsupport.Contact](t, rec).Data
	require.Len(t, recent, 1)
	assert.Equal(t, "Linus", recent[0].Name)

	rec = f.do(t, http.MethodGet, "/api/contacts/status/active", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[[]testsupport.Contact](t, rec).Data, 1)

	rec = f.do(t, http.MethodGet, "/api/contacts/search?q=ad", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, decode[[]testsupport.Contact](t, rec).Success)
}

func TestResource_NotFound(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodGet, "/api/contacts/missing", "")
	require.Equal(t, http.StatusNotFound, rec.Code)

	res := decode[any](t, rec)
	assert.False(t, res.Success)
	require.NotNil(t, res.Error)
	assert.Contains(t, res.Error.Message, "missing")
	assert.NotEmpty(t, res.Error.Category)
}

func TestResource_BadRequests(t *testing.T) {
	f := newFixture(t)

	tests := []struct {
		name   string
		method string
		target string
		body   string
	}{
		{name: "page not a number", method: http.MethodGet, target: "/api/contacts?page=abc"},
		{name: "bad sort order", method: http.MethodGet, target: "/api/contacts?sort_order=sideways"},
		{name: "limit too large", method: http.MethodGet, target: "/api/contacts?limit=100000"},
		{name: "bad filter name", method: http.MethodGet, target: "/api/contacts?Name%3D1=x"},
		{name: "missing search term", method: http.MethodGet, target: "/api/contacts/search"},
		{name: "recent out of range", method: http.MethodGet, target: "/api/contacts/recent?n=0"},
		{name: "malformed body", method: http.MethodPost, target: "/api/contacts", body: `{"name":`},
		{name: "unknown field", method: http.MethodPost, target: "/api/contacts", body: `{"nickname":"x"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := f.do(t, tt.method, tt.target, tt.body)
			assert.Equal(t, http.StatusBadRequest, rec.Code, rec.Body.String())
		})
	}

	assert.Zero(t, f.svc.Calls("List"))
	assert.Zero(t, f.svc.Calls("Create"))
}

func TestResource_WriteLifecycle(t *testing.T) {
	f := newFixture(t, contact(t, "Ada", "active", time.Hour))

	rec := f.do(t, http.MethodGet, "/api/contacts", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, 1, decode[entity.Page[testsupport.Contact]](t, rec).Data.Total)

	rec = f.do(t, http.MethodPost, "/api/contacts", `{"name":"Grace","status":"active"}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	created := decode[testsupport.Contact](t, rec).Data
	require.NotEmpty(t, created.ID)

	rec = f.do(t, http.MethodGet, "/api/contacts", "")
	stale := decode[entity.Page[testsupport.Contact]](t, rec)
	assert.True(t, stale.Stale, "the list read before the write is served stale")

	require.Eventually(t, func() bool {
		res := decode[entity.Page[testsupport.Contact]](t, f.do(t, http.MethodGet, "/api/contacts", ""))
		return !res.Stale && res.Data.Total == 2
	}, 2*time.Second, 5*time.Millisecond)

	rec = f.do(t, http.MethodPatch, "/api/contacts/"+created.ID, `{"status":"inactive"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "inactive", decode[testsupport.Contact](t, rec).Data.Status)

	rec = f.do(t, http.MethodGet, "/api/contacts/"+created.ID, "")
	assert.Equal(t, "inactive", decode[testsupport.Contact](t, rec).Data.Status)
	assert.Zero(t, f.svc.Calls("Get"), "the patched detail is served from the cache")

	rec = f.do(t, http.MethodDelete, "/api/contacts/"+created.ID, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, decode[any](t, rec).Success)

	rec = f.do(t, http.MethodGet, "/api/contacts/"+created.ID, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = f.do(t, http.MethodDelete, "/api/contacts/"+created.ID, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestServer_Health(t *testing.T) {
	f := newFixture(t)

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set(RequestIDHeader, "trace-1")
	rec := httptest.NewRecorder()
	f.server.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "trace-1", rec.Header().Get(RequestIDHeader))

	var out health
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&out))
	assert.Equal(t, "ok", out.Status)
	assert.Equal(t, []string{"contacts"}, out.Resources)
	assert.Empty(t, out.Realtime)
}

func TestServer_CheckOrigin(t *testing.T) {
	s := New(nil, nil, WithAllowedOrigins("https://app.example.com"))

	req := httptest.NewRequest(http.MethodGet, "/ws", nil)
	req.Header.Set("Origin", "https://app.example.com")
	assert.True(t, s.checkOrigin(req))

	req.Header.Set("Origin", "https://evil.example.com")
	assert.False(t, s.checkOrigin(req))

	assert.True(t, New(nil, nil).checkOrigin(req))
}

type contactPush struct {
	Type     string              `json:"type"`
	Resource string              `json:"resource"`
	Key      string              `json:"key"`
	Data     testsupport.Contact `json:"data"`
	Removed  bool                `json:"removed"`
	Error    string              `json:"error"`
}

func dial(t *testing.T, f *fixture) *websocket.Conn {
	t.Helper()
	srv := httptest.NewServer(f.server)
	t.Cleanup(srv.Close)

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+"/ws", nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func next(t *testing.T, conn *websocket.Conn) contactPush {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var p contactPush
	require.NoError(t, conn.ReadJSON(&p))
	return p
}

func TestWebSocket_DetailSubscription(t *testing.T) {
	ada := contact(t, "Ada", "active", time.Hour)
	f := newFixture(t, ada)
	conn := dial(t, f)

	require.NoError(t, conn.WriteJSON(map[string]any{"type": "subscribe", "resource": "contacts", "id": ada.ID}))

	snap := next(t, conn)
	require.Equal(t, MessageSubscribed, snap.Type, snap.Error)
	assert.Equal(t, "contacts", snap.Resource)
	assert.Equal(t, "Ada", snap.Data.Name)
	assert.Equal(t, f.contacts.Keys().Detail(ada.ID).String(), snap.Key)

	_, err := f.contacts.Update(context.Background(), ada.ID, testsupport.Contact{Name: "Ada Lovelace"})
	require.NoError(t, err)

	change := next(t, conn)
	assert.Equal(t, MessageChange, change.Type)
	assert.Equal(t, snap.Key, change.Key)
	assert.Equal(t, "Ada Lovelace", change.Data.Name)

	require.NoError(t, f.contacts.Remove(context.Background(), ada.ID))
	removed := next(t, conn)
	assert.Equal(t, MessageChange, removed.Type)
	assert.True(t, removed.Removed)

	require.NoError(t, conn.WriteJSON(map[string]any{"type": "unsubscribe", "key": snap.Key}))
	assert.Equal(t, MessageUnsubscribed, next(t, conn).Type)
}

func TestWebSocket_ListSubscription(t *testing.T) {
	f := newFixture(t, contact(t, "Ada", "active", time.Hour))
	conn := dial(t, f)

	require.NoError(t, conn.WriteJSON(map[string]any{
		"type":     "subscribe",
		"resource": "contacts",
		"query":    map[string]string{"status": "active"},
	}))

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var snap struct {
		Type string                           `json:"type"`
		Data entity.Page[testsupport.Contact] `json:"data"`
	}
	require.NoError(t, conn.ReadJSON(&snap))
	require.Equal(t, MessageSubscribed, snap.Type)
	assert.Equal(t, 1, snap.Data.Total)

	_, err := f.contacts.Create(context.Background(), contact(t, "Grace", "active", 0))
	require.NoError(t, err)

	// the subscribed list is refetched after the create invalidates it
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var change struct {
		Type string                           `json:"type"`
		Data entity.Page[testsupport.Contact] `json:"data"`
	}
	require.NoError(t, conn.ReadJSON(&change))
	assert.Equal(t, MessageChange, change.Type)
	assert.Equal(t, 2, change.Data.Total)
}

func TestWebSocket_Errors(t *testing.T) {
	f := newFixture(t)
	conn := dial(t, f)

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("{")))
	assert.Equal(t, MessageError, next(t, conn).Type)

	require.NoError(t, conn.WriteJSON(map[string]any{"type": "subscribe", "resource": "ledgers"}))
	p := next(t, conn)
	assert.Equal(t, MessageError, p.Type)
	assert.Equal(t, "unknown resource", p.Error)

	require.NoError(t, conn.WriteJSON(map[string]any{"type": "subscribe", "resource": "contacts", "id": "missing"}))
	p = next(t, conn)
	assert.Equal(t, MessageError, p.Type)
	assert.Contains(t, p.Error, "not found")

	require.NoError(t, conn.WriteJSON(map[string]any{"type": "shout"}))
	assert.Equal(t, "unknown message type", next(t, conn).Error)
}
