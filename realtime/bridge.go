package realtime

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/juju/clock"
	"github.com/puzpuzpuz/xsync/v3"
	"go.uber.org/zap"
)

// Bridge opens per table subscriptions on a ChangeFeed and turns every change
// into invalidations of the query cache. It only ever calls the Invalidator
// entry points, so readers are never blocked by the feed.
type Bridge struct {
	feed   ChangeFeed
	inv    Invalidator
	cfg    Config
	clock  clock.Clock
	logger *zap.Logger

	routes  *xsync.MapOf[string, Route]
	handles *xsync.MapOf[string, *Handle]

	onError func(*SubscriptionError)
	onState func(h *Handle, s State)
}

// Option configures a Bridge.
type Option func(*Bridge)

// WithClock sets the clock used for reconnect backoff.
func WithClock(c clock.Clock) Option {
	return func(b *Bridge) {
		if c != nil {
			b.clock = c
		}
	}
}

// WithLogger sets the bridge logger.
func WithLogger(l *zap.Logger) Option {
	return func(b *Bridge) {
		if l != nil {
			b.logger = l
		}
	}
}

// WithErrorHandler receives every subscription error notice.
func WithErrorHandler(fn func(*SubscriptionError)) Option {
	return func(b *Bridge) { b.onError = fn }
}

// WithStateHandler is called on every handle state transition.
func WithStateHandler(fn func(h *Handle, s State)) Option {
	return func(b *Bridge) { b.onState = fn }
}

// WithRoutes registers routes at construction.
func WithRoutes(routes ...Route) Option {
	return func(b *Bridge) { b.Register(routes...) }
}

// NewBridge builds a bridge between feed and inv.
func NewBridge(feed ChangeFeed, inv Invalidator, cfg Config, opts ...Option) (*Bridge, error) {
	if feed == nil {
		return nil, fmt.Errorf("realtime: change feed is required")
	}
	if inv == nil {
		return nil, fmt.Errorf("realtime: invalidator is required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	b := &Bridge{
		feed:    feed,
		inv:     inv,
		cfg:     cfg,
		clock:   clock.WallClock,
		logger:  zap.NewNop(),
		routes:  xsync.NewMapOf[string, Route](),
		handles: xsync.NewMapOf[string, *Handle](),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b, nil
}

// Register adds routes, replacing any previous route for the same table.
func (b *Bridge) Register(routes ...Route) {
	for _, r := range routes {
		b.routes.Store(r.Table(), r)
	}
}

// Tables lists the tables that have a route.
func (b *Bridge) Tables() []string {
	tables := make([]string, 0, b.routes.Size())
	b.routes.Range(func(table string, _ Route) bool {
		tables = append(tables, table)
		return true
	})
	return tables
}

// OpenOption configures a handle opened by Bridge.Open.
type OpenOption func(*Handle)

// WithOperations limits the events passed to onEvent to ops. The table's
// route still sees every event, so the cache stays in sync either way.
func WithOperations(ops ...Operation) OpenOption {
	return func(h *Handle) {
		if len(ops) == 0 {
			return
		}
		h.ops = make(map[Operation]struct{}, len(ops))
		for _, op := range ops {
			h.ops[op] = struct{}{}
		}
	}
}

// Open starts a subscription handle for table. The handle reconnects on its
// own until it is closed or ctx is done. onEvent, when set, is called after
// the cache has been updated for each event.
func (b *Bridge) Open(ctx context.Context, table string, onEvent func(ChangeEvent), opts ...OpenOption) (*Handle, error) {
	route, ok := b.routes.Load(table)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownTable, table)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	hctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	h := &Handle{
		id:      uuid.NewString(),
		table:   table,
		route:   route,
		bridge:  b,
		onEvent: onEvent,
		ctx:     hctx,
		cancel:  cancel,
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(h)
	}
	h.state.Store(int32(StateClosed))
	b.handles.Store(h.id, h)

	h.stopWatch = context.AfterFunc(ctx, func() { h.Close() })

	go h.run()

	b.logger.Info("realtime handle opened",
		zap.String("handle", h.id),
		zap.String("table", table),
	)
	return h, nil
}

// Close tears down h. It is safe to call more than once.
func (b *Bridge) Close(h *Handle) error {
	if h == nil {
		return nil
	}
	return h.Close()
}

// Handles returns the handles that are currently open.
func (b *Bridge) Handles() []*Handle {
	out := make([]*Handle, 0, b.handles.Size())
	b.handles.Range(func(_ string, h *Handle) bool {
		out = append(out, h)
		return true
	})
	return out
}

// Shutdown closes every handle.
func (b *Bridge) Shutdown() error {
	for _, h := range b.Handles() {
		h.Close()
	}
	return nil
}

func (b *Bridge) report(h *Handle, attempt int, err error) {
	notice := &SubscriptionError{
		Table:   h.table,
		Handle:  h.id,
		Attempt: attempt,
		Err:     err,
	}
	h.setErr(notice)

	b.logger.Warn("realtime subscription error",
		zap.String("handle", h.id),
		zap.String("table", h.table),
		zap.Int("attempt", attempt),
		zap.Error(err),
	)
	if b.onError != nil {
		b.onError(notice)
	}
}
