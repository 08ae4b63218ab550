package changefeed

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/goliatone/go-query-sync/realtime"
	"github.com/juju/clock"
	"github.com/lib/pq"
	"go.uber.org/zap"
)

var (
	// ErrClosed is returned by Subscribe once the feed is closed.
	ErrClosed = errors.New("changefeed: closed")
	// ErrNotificationsLost is reported to every subscriber after the
	// listener reconnected, since notifications sent meanwhile are gone.
	ErrNotificationsLost = errors.New("changefeed: connection re-established, notifications may have been lost")
)

// Listener is the part of *pq.Listener the feed drives.
type Listener interface {
	Listen(channel string) error
	Unlisten(channel string) error
	Ping() error
	NotificationChannel() <-chan *pq.Notification
	Close() error
}

var _ Listener = (*pq.Listener)(nil)

// Option configures a Feed.
type Option func(*Feed)

// WithClock sets the clock driving the ping timer.
func WithClock(c clock.Clock) Option {
	return func(f *Feed) {
		if c != nil {
			f.clock = c
		}
	}
}

// WithLogger sets the feed logger.
func WithLogger(l *zap.Logger) Option {
	return func(f *Feed) {
		if l != nil {
			f.logger = l
		}
	}
}

// Feed is a realtime.ChangeFeed over Postgres LISTEN/NOTIFY. Every table is
// listened to on its own channel, see Channel, while at least one
// subscription for it is open.
type Feed struct {
	listener Listener
	cfg      Config
	clock    clock.Clock
	logger   *zap.Logger

	// listenMu orders LISTEN and UNLISTEN calls, mu guards subs.
	listenMu sync.Mutex
	mu       sync.Mutex
	subs     map[string]map[int64]*subscription
	serial   int64
	closed   bool

	start  sync.Once
	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

var _ realtime.ChangeFeed = (*Feed)(nil)

// New opens a pq listener on dsn. The connection is established lazily
// by the first Subscribe.
func New(dsn string, cfg Config, opts ...Option) (*Feed, error) {
	if dsn == "" {
		return nil, fmt.Errorf("changefeed: missing data source name")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	f := newFeed(cfg, opts...)
	f.listener = pq.NewListener(dsn, cfg.MinReconnectInterval, cfg.MaxReconnectInterval, f.onListenerEvent)
	return f, nil
}

// NewWithListener builds a feed on an existing listener.
func NewWithListener(l Listener, cfg Config, opts ...Option) (*Feed, error) {
	if l == nil {
		return nil, fmt.Errorf("changefeed: listener is required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	f := newFeed(cfg, opts...)
	f.listener = l
	return f, nil
}

func newFeed(cfg Config, opts ...Option) *Feed {
	ctx, cancel := context.WithCancel(context.Background())
	f := &Feed{
		cfg:    cfg,
		clock:  clock.WallClock,
		logger: zap.NewNop(),
		subs:   make(map[string]map[int64]*subscription),
		ctx:    ctx,
		cancel: cancel,
		done:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

type subscription struct {
	feed    *Feed
	table   string
	id      int64
	handler func(realtime.ChangeEvent)
	onError func(error)
	once    sync.Once
}

func (s *subscription) Close() error {
	var err error
	s.once.Do(func() { err = s.feed.unsubscribe(s) })
	return err
}

// Subscribe implements realtime.ChangeFeed. The first subscription of a
// table issues LISTEN on its channel; ctx bounds that call.
func (f *Feed) Subscribe(ctx context.Context, table string, handler func(realtime.ChangeEvent), onError func(error)) (io.Closer, error) {
	if err := ValidateTable(table); err != nil {
		return nil, realtime.Permanent(fmt.Errorf("changefeed: table %q: %w", table, err))
	}
	if handler == nil || onError == nil {
		return nil, realtime.Permanent(fmt.Errorf("changefeed: handler and onError are required"))
	}

	f.listenMu.Lock()
	defer f.listenMu.Unlock()

	f.mu.Lock()
	closed, first := f.closed, len(f.subs[table]) == 0
	f.mu.Unlock()

	if closed {
		return nil, realtime.Permanent(ErrClosed)
	}
	if first {
		if err := f.listen(ctx, Channel(table)); err != nil {
			return nil, err
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	subs := f.subs[table]
	if subs == nil {
		subs = make(map[int64]*subscription)
		f.subs[table] = subs
	}
	f.serial++
	sub := &subscription{feed: f, table: table, id: f.serial, handler: handler, onError: onError}
	subs[sub.id] = sub

	f.start.Do(func() { go f.worker() })

	f.logger.Debug("changefeed subscribed",
		zap.String("table", table),
		zap.Int("subscribers", len(subs)),
	)
	return sub, nil
}

func (f *Feed) listen(ctx context.Context, channel string) error {
	errs := make(chan error, 1)
	go func() { errs <- f.listener.Listen(channel) }()

	select {
	case err := <-errs:
		if err != nil && !errors.Is(err, pq.ErrChannelAlreadyOpen) {
			return fmt.Errorf("changefeed: listen %s: %w", channel, err)
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (f *Feed) unsubscribe(s *subscription) error {
	f.listenMu.Lock()
	defer f.listenMu.Unlock()

	f.mu.Lock()
	subs := f.subs[s.table]
	delete(subs, s.id)
	last := len(subs) == 0 && !f.closed
	if last {
		delete(f.subs, s.table)
	}
	f.mu.Unlock()

	if !last {
		return nil
	}

	err := f.listener.Unlisten(Channel(s.table))
	if err != nil && !errors.Is(err, pq.ErrChannelNotOpen) {
		f.logger.Warn("changefeed unlisten failed", zap.String("table", s.table), zap.Error(err))
		return err
	}
	return nil
}

// Close stops the worker and closes the listener.
func (f *Feed) Close() error {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return nil
	}
	f.closed = true
	f.subs = make(map[string]map[int64]*subscription)
	f.mu.Unlock()

	f.cancel()
	started := true
	f.start.Do(func() { started = false })
	if started {
		<-f.done
	}
	return f.listener.Close()
}

func (f *Feed) worker() {
	defer close(f.done)

	notifications := f.listener.NotificationChannel()
	for {
		select {
		case <-f.ctx.Done():
			return

		case n, ok := <-notifications:
			if !ok {
				return
			}
			if n == nil {
				// the listener reconnected
				f.broadcast(ErrNotificationsLost)
				continue
			}
			f.deliver(n)

		case <-f.clock.After(f.cfg.PingInterval):
			if err := f.listener.Ping(); err != nil {
				f.logger.Warn("changefeed ping failed", zap.Error(err))
				f.broadcast(fmt.Errorf("changefeed: ping: %w", err))
			}
		}
	}
}

func (f *Feed) deliver(n *pq.Notification) {
	table, ok := strings.CutSuffix(n.Channel, ChannelSuffix)
	if !ok {
		f.logger.Debug("changefeed ignoring foreign channel", zap.String("channel", n.Channel))
		return
	}

	ev, err := Decode(table, []byte(n.Extra))
	if err != nil {
		f.logger.Warn("changefeed dropped notification",
			zap.String("channel", n.Channel),
			zap.Error(err),
		)
		return
	}

	for _, s := range f.subscribers(table) {
		s.handler(ev)
	}
}

func (f *Feed) subscribers(table string) []*subscription {
	f.mu.Lock()
	defer f.mu.Unlock()

	out := make([]*subscription, 0, len(f.subs[table]))
	for _, s := range f.subs[table] {
		out = append(out, s)
	}
	return out
}

func (f *Feed) broadcast(err error) {
	f.mu.Lock()
	var all []*subscription
	for _, subs := range f.subs {
		for _, s := range subs {
			all = append(all, s)
		}
	}
	f.mu.Unlock()

	for _, s := range all {
		s.onError(err)
	}
}

func (f *Feed) onListenerEvent(ev pq.ListenerEventType, err error) {
	switch ev {
	case pq.ListenerEventConnected:
		f.logger.Info("changefeed connected")
	case pq.ListenerEventDisconnected:
		f.logger.Warn("changefeed disconnected", zap.Error(err))
		f.broadcast(fmt.Errorf("changefeed: disconnected: %w", err))
	case pq.ListenerEventReconnected:
		f.logger.Info("changefeed reconnected")
	case pq.ListenerEventConnectionAttemptFailed:
		f.logger.Warn("changefeed connection attempt failed", zap.Error(err))
	}
}

// payload is the JSON document the notify trigger sends.
type payload struct {
	Operation string          `json:"operation"`
	Table     string          `json:"table"`
	New       json.RawMessage `json:"new"`
	Old       json.RawMessage `json:"old"`
	Truncated bool            `json:"truncated"`
}

// Decode parses a notification payload sent for table.
func Decode(table string, data []byte) (realtime.ChangeEvent, error) {
	var p payload
	if err := json.Unmarshal(data, &p); err != nil {
		return realtime.ChangeEvent{}, fmt.Errorf("changefeed: decode payload: %w", err)
	}

	op, err := realtime.ParseOperation(p.Operation)
	if err != nil {
		return realtime.ChangeEvent{}, err
	}
	if p.Table != "" && p.Table != table {
		return realtime.ChangeEvent{}, fmt.Errorf("changefeed: payload for %s on the %s channel", p.Table, table)
	}

	return realtime.ChangeEvent{
		Operation: op,
		Table:     table,
		New:       nullToEmpty(p.New),
		Old:       nullToEmpty(p.Old),
		Truncated: p.Truncated,
	}, nil
}

func nullToEmpty(raw json.RawMessage) json.RawMessage {
	if len(raw) == 0 || string(raw) == "null" {
		return nil
	}
	return raw
}
