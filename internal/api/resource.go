package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/goliatone/go-query-sync/cache"
	"github.com/goliatone/go-query-sync/entity"
	"go.uber.org/zap"
)

// Query parameters of the list endpoint that are not filters.
const (
	paramPage      = "page"
	paramLimit     = "limit"
	paramSortBy    = "sort_by"
	paramSortOrder = "sort_order"
)

const maxBodyBytes = 1 << 20

// Resource exposes one cached entity service over HTTP and the websocket.
type Resource interface {
	Kind() string
	mount(r chi.Router)
	watch(ctx context.Context, req watchRequest, push func(Push)) (*watch, error)
}

// NewResource exposes svc under /api/<kind>.
func NewResource[T any](svc *entity.Cached[T]) Resource {
	return &resource[T]{svc: svc}
}

type resource[T any] struct {
	svc *entity.Cached[T]
}

func (res *resource[T]) Kind() string { return res.svc.Keys().Kind }

func (res *resource[T]) mount(r chi.Router) {
	r.Route("/"+res.Kind(), func(r chi.Router) {
		r.Get("/", res.list)
		r.Post("/", res.create)
		r.Get("/stats", res.stats)
		r.Get("/recent", res.recent)
		r.Get("/search", res.search)
		r.Get("/status/{status}", res.byStatus)
		r.Get("/{id}", res.get)
		r.Patch("/{id}", res.update)
		r.Delete("/{id}", res.remove)
	})
}

func (res *resource[T]) list(w http.ResponseWriter, r *http.Request) {
	q, err := parseListQuery(r.URL.Query())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeResult(w, r, res.svc.ListQuery(q).Result(r.Context()))
}

func (res *resource[T]) stats(w http.ResponseWriter, r *http.Request) {
	writeResult(w, r, res.svc.CountQuery(filtersFrom(r.URL.Query())).Result(r.Context()))
}

func (res *resource[T]) recent(w http.ResponseWriter, r *http.Request) {
	n := 5
	if raw := r.URL.Query().Get("n"); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil || v < 1 || v > entity.MaxLimit {
			writeError(w, r, entity.Invalid(errors.New("n out of range"), "invalid n"))
			return
		}
		n = v
	}
	writeResult(w, r, res.svc.RecentQuery(n).Result(r.Context()))
}

func (res *resource[T]) search(w http.ResponseWriter, r *http.Request) {
	term := r.URL.Query().Get("q")
	if term == "" {
		writeError(w, r, entity.Invalid(errors.New("missing q"), "search term is required"))
		return
	}
	writeResult(w, r, res.svc.SearchQuery(term).Result(r.Context()))
}

func (res *resource[T]) byStatus(w http.ResponseWriter, r *http.Request) {
	writeResult(w, r, res.svc.StatusQuery(chi.URLParam(r, "status")).Result(r.Context()))
}

func (res *resource[T]) get(w http.ResponseWriter, r *http.Request) {
	writeResult(w, r, res.svc.DetailQuery(chi.URLParam(r, "id")).Result(r.Context()))
}

func (res *resource[T]) create(w http.ResponseWriter, r *http.Request) {
	record, err := decodeBody[T](w, r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	created, err := res.svc.Create(r.Context(), record)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusCreated, entity.OK(created, false))
}

func (res *resource[T]) update(w http.ResponseWriter, r *http.Request) {
	patch, err := decodeBody[T](w, r)
	if err != nil {
		writeError(w, r, err)
		return
	}

	ctx := r.Context()
	if status, ok := statusOf(patch); ok {
		ctx = cache.WithInvalidations(ctx, res.svc.Keys().ByStatus(status))
	}

	updated, err := res.svc.Update(ctx, chi.URLParam(r, "id"), patch)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, entity.OK(updated, false))
}

func (res *resource[T]) remove(w http.ResponseWriter, r *http.Request) {
	if err := res.svc.Remove(r.Context(), chi.URLParam(r, "id")); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, entity.OK[any](nil, false))
}

func (res *resource[T]) watch(ctx context.Context, req watchRequest, push func(Push)) (*watch, error) {
	if req.ID != "" {
		return subscribe(ctx, res.Kind(), res.svc.DetailQuery(req.ID), push)
	}

	q, err := parseListQuery(req.values())
	if err != nil {
		return nil, err
	}
	return subscribe(ctx, res.Kind(), res.svc.ListQuery(q), push)
}

// subscribe follows q. The first read loads the entry without a subscriber
// so the load itself is not pushed; the snapshot is read again once the
// subscription is in place so no replacement falls in between.
func subscribe[T any](ctx context.Context, kind string, q *cache.Query[T], push func(Push)) (*watch, error) {
	if first := q.Result(ctx); first.Err != nil {
		return nil, first.Err
	}

	key := q.ID()
	sub, err := q.Subscribe(func(r cache.QueryResult[T]) {
		p := Push{Type: MessageChange, Resource: kind, Key: key, Removed: r.Removed}
		if r.Err != nil {
			p.Type, p.Error = MessageError, r.Err.Error()
		} else if !r.Removed {
			p.Data = r.Value
		}
		push(p)
	})
	if err != nil {
		return nil, err
	}

	snap := q.Result(ctx)
	if snap.Err != nil {
		sub.Close()
		return nil, snap.Err
	}

	return &watch{
		key: key,
		sub: sub,
		snapshot: Push{
			Type:     MessageSubscribed,
			Resource: kind,
			Key:      key,
			Data:     snap.Value,
			Stale:    snap.IsStale,
		},
	}, nil
}

func parseListQuery(values url.Values) (entity.ListQuery, error) {
	var q entity.ListQuery
	for name, dst := range map[string]*int{paramPage: &q.Pagination.Page, paramLimit: &q.Pagination.Limit} {
		raw := values.Get(name)
		if raw == "" {
			continue
		}
		v, err := strconv.Atoi(raw)
		if err != nil {
			return q, entity.Invalid(err, "invalid "+name)
		}
		*dst = v
	}
	q.Pagination.SortBy = values.Get(paramSortBy)
	q.Pagination.SortOrder = values.Get(paramSortOrder)
	q.Filters = filtersFrom(values)

	q = q.Normalize()
	if err := q.Validate(); err != nil {
		return q, entity.Invalid(err, "invalid list query")
	}
	return q, nil
}

// filtersFrom turns every parameter that is not a paging option into a filter.
func filtersFrom(values url.Values) entity.Filters {
	f := entity.Filters{}
	for name := range values {
		switch name {
		case paramPage, paramLimit, paramSortBy, paramSortOrder:
			continue
		}
		f[name] = values.Get(name)
	}
	return f.Normalize()
}

func decodeBody[T any](w http.ResponseWriter, r *http.Request) (T, error) {
	var v T
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&v); err != nil {
		return v, entity.Invalid(err, "invalid request body")
	}
	return v, nil
}

// statusOf reads the status field of a patch, if it sets one.
func statusOf(patch any) (string, bool) {
	raw, err := json.Marshal(patch)
	if err != nil {
		return "", false
	}
	var body struct {
		Status string `json:"status"`
	}
	if err := json.Unmarshal(raw, &body); err != nil || body.Status == "" {
		return "", false
	}
	return body.Status, true
}

func writeResult[T any](w http.ResponseWriter, r *http.Request, res cache.QueryResult[T]) {
	if res.Err != nil {
		writeError(w, r, res.Err)
		return
	}
	writeJSON(w, r, http.StatusOK, entity.OK(res.Value, res.IsStale))
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := entity.HTTPStatus(err)
	if status >= http.StatusInternalServerError {
		LoggerFrom(r.Context()).Warn("request failed", zap.Error(err))
	}
	writeJSON(w, r, status, entity.Fail[any](err))
}

func writeJSON(w http.ResponseWriter, r *http.Request, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		LoggerFrom(r.Context()).Debug("write response", zap.Error(err))
	}
}
