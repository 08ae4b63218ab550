package api

import (
	"net/http"
	"slices"
	"sort"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/goliatone/go-query-sync/cache"
	"github.com/goliatone/go-query-sync/realtime"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the server logger.
func WithLogger(l *zap.Logger) Option {
	return func(s *Server) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithBridge reports the realtime handles on the health endpoint.
func WithBridge(b *realtime.Bridge) Option {
	return func(s *Server) { s.bridge = b }
}

// WithAllowedOrigins restricts websocket upgrades to origins. With no
// origins every upgrade is accepted.
func WithAllowedOrigins(origins ...string) Option {
	return func(s *Server) { s.origins = origins }
}

// Server is the HTTP surface of the dashboard: one JSON resource per entity
// under /api, a websocket at /ws pushing query changes, and /healthz.
type Server struct {
	router    chi.Router
	cache     *cache.QueryCache
	bridge    *realtime.Bridge
	resources map[string]Resource
	origins   []string
	upgrader  websocket.Upgrader
	logger    *zap.Logger
}

// New builds the server for resources, all backed by qc.
func New(qc *cache.QueryCache, resources []Resource, opts ...Option) *Server {
	s := &Server{
		cache:     qc,
		resources: make(map[string]Resource, len(resources)),
		logger:    zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	for _, res := range resources {
		s.resources[res.Kind()] = res
	}
	s.upgrader = websocket.Upgrader{CheckOrigin: s.checkOrigin}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(LoggingMiddleware(s.logger))

	r.Get("/healthz", s.health)
	r.Get("/ws", s.handleWS)
	r.Route("/api", func(r chi.Router) {
		for _, res := range resources {
			res.mount(r)
		}
	})

	s.router = r
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) checkOrigin(r *http.Request) bool {
	if len(s.origins) == 0 {
		return true
	}
	return slices.Contains(s.origins, r.Header.Get("Origin"))
}

type handleStatus struct {
	ID    string `json:"id"`
	Table string `json:"table"`
	State string `json:"state"`
	Opens int    `json:"opens"`
	Error string `json:"error,omitempty"`
}

type health struct {
	Status    string         `json:"status"`
	Resources []string       `json:"resources"`
	Cache     cache.Stats    `json:"cache"`
	Realtime  []handleStatus `json:"realtime,omitempty"`
}

// health reports degraded while any realtime handle is not open: reads still
// work but may be served stale for longer.
func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	out := health{Status: "ok", Cache: s.cache.Stats()}
	for kind := range s.resources {
		out.Resources = append(out.Resources, kind)
	}
	sort.Strings(out.Resources)

	if s.bridge != nil {
		for _, h := range s.bridge.Handles() {
			st := handleStatus{ID: h.ID(), Table: h.Table(), State: h.State().String(), Opens: h.Opens()}
			if err := h.Err(); err != nil {
				st.Error = err.Error()
			}
			if h.State() != realtime.StateOpen {
				out.Status = "degraded"
			}
			out.Realtime = append(out.Realtime, st)
		}
		sort.Slice(out.Realtime, func(i, j int) bool { return out.Realtime[i].Table < out.Realtime[j].Table })
	}

	writeJSON(w, r, http.StatusOK, out)
}
