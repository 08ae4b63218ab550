package realtime

import (
	"context"
	"errors"
	"io"
	"sync"
	"sync/atomic"

	"github.com/juju/retry"
	"go.uber.org/zap"
)

// State is the lifecycle state of a subscription handle.
type State int32

const (
	StateClosed State = iota
	StateConnecting
	StateOpen
	StateError
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateError:
		return "error"
	default:
		return "unknown"
	}
}

var errHandleClosed = errors.New("realtime: handle closed")

// Handle is one table subscription. It moves CLOSED -> CONNECTING -> OPEN and
// from OPEN to CLOSED on Close or to ERROR on a transport failure. From ERROR
// it goes back to CONNECTING after an exponential, capped backoff, without a
// retry limit. The backoff keeps growing across drops of a subscription that
// never stays open for Config.StableAfter. Whenever it reaches OPEN again the
// table's cache entries are invalidated because events may have been missed
// while it was down.
type Handle struct {
	id      string
	table   string
	route   Route
	bridge  *Bridge
	onEvent func(ChangeEvent)
	ops     map[Operation]struct{}

	ctx       context.Context
	cancel    context.CancelFunc
	stopWatch func() bool

	state    atomic.Int32
	stop     chan struct{}
	stopOnce sync.Once
	done     chan struct{}

	mu      sync.Mutex
	closer  io.Closer
	errs    chan error
	lastErr error
	opens   int
}

// ID returns the handle identifier.
func (h *Handle) ID() string { return h.id }

// Table returns the subscribed table.
func (h *Handle) Table() string { return h.table }

// State returns the current state.
func (h *Handle) State() State { return State(h.state.Load()) }

// Err returns the last subscription error notice, if any.
func (h *Handle) Err() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.lastErr
}

// Opens returns how many times the handle reached StateOpen.
func (h *Handle) Opens() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.opens
}

// Done is closed once the handle's loop has exited.
func (h *Handle) Done() <-chan struct{} { return h.done }

// Close stops the handle and waits for it to release its feed subscription.
// It is idempotent.
func (h *Handle) Close() error {
	h.stopOnce.Do(func() {
		if h.stopWatch != nil {
			h.stopWatch()
		}
		close(h.stop)
		h.cancel()
	})
	<-h.done

	h.setState(StateClosed)
	h.bridge.handles.Delete(h.id)
	return nil
}

func (h *Handle) run() {
	defer close(h.done)

	cfg := h.bridge.cfg
	clk := h.bridge.clock
	delay := cfg.ReconnectMin
	for {
		err := retry.Call(retry.CallArgs{
			Func: h.connect,
			IsFatalError: func(err error) bool {
				return IsPermanent(err) || h.stopping()
			},
			NotifyFunc: func(err error, attempt int) {
				h.setState(StateError)
				h.bridge.report(h, attempt, err)
			},
			Attempts:    retry.UnlimitedAttempts,
			Delay:       delay,
			MaxDelay:    cfg.ReconnectMax,
			BackoffFunc: retry.DoubleDelay,
			Clock:       clk,
			Stop:        h.stop,
		})
		if err != nil {
			if h.stopping() || retry.IsRetryStopped(err) {
				return
			}
			h.setState(StateError)
			h.bridge.report(h, 0, err)
			<-h.stop
			return
		}

		openedAt := clk.Now()
		if h.markOpen() > 1 {
			h.route.Resync(h.bridge.inv)
			h.bridge.logger.Info("realtime handle resynced",
				zap.String("handle", h.id),
				zap.String("table", h.table),
			)
		}

		select {
		case <-h.stop:
			h.disconnect()
			return
		case err := <-h.errors():
			h.disconnect()
			h.setState(StateError)
			h.bridge.report(h, 0, err)
		}

		if clk.Now().Sub(openedAt) >= cfg.StableAfter {
			delay = cfg.ReconnectMin
		}
		h.bridge.logger.Debug("realtime handle reconnecting",
			zap.String("handle", h.id),
			zap.Duration("delay", delay),
		)
		select {
		case <-h.stop:
			return
		case <-clk.After(delay):
		}
		delay = min(2*delay, cfg.ReconnectMax)
	}
}

func (h *Handle) connect() error {
	if h.stopping() {
		return errHandleClosed
	}
	h.setState(StateConnecting)

	errs := make(chan error, 1)
	closer, err := h.bridge.feed.Subscribe(h.ctx, h.table, h.dispatch, func(err error) {
		select {
		case errs <- err:
		default:
		}
	})
	if err != nil {
		return err
	}

	h.mu.Lock()
	h.closer = closer
	h.errs = errs
	h.mu.Unlock()
	return nil
}

func (h *Handle) dispatch(ev ChangeEvent) {
	if h.stopping() {
		return
	}
	if ev.Table == "" {
		ev.Table = h.table
	}

	if err := h.route.Apply(h.bridge.inv, ev); err != nil {
		h.bridge.logger.Warn("realtime route failed",
			zap.String("table", h.table),
			zap.String("operation", string(ev.Operation)),
			zap.Error(err),
		)
	}

	if h.onEvent != nil && h.wants(ev.Operation) {
		h.onEvent(ev)
	}
}

// wants reports whether onEvent should see op. No filter means every operation.
func (h *Handle) wants(op Operation) bool {
	if len(h.ops) == 0 {
		return true
	}
	_, ok := h.ops[op]
	return ok
}

func (h *Handle) markOpen() int {
	h.mu.Lock()
	h.opens++
	n := h.opens
	h.mu.Unlock()

	h.setState(StateOpen)
	return n
}

func (h *Handle) errors() <-chan error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.errs
}

func (h *Handle) disconnect() {
	h.mu.Lock()
	closer := h.closer
	h.closer = nil
	h.errs = nil
	h.mu.Unlock()

	if closer == nil {
		return
	}
	if err := closer.Close(); err != nil {
		h.bridge.logger.Debug("realtime feed close failed",
			zap.String("handle", h.id),
			zap.Error(err),
		)
	}
}

func (h *Handle) stopping() bool {
	select {
	case <-h.stop:
		return true
	default:
		return false
	}
}

func (h *Handle) setErr(err error) {
	h.mu.Lock()
	h.lastErr = err
	h.mu.Unlock()
}

func (h *Handle) setState(s State) {
	old := State(h.state.Swap(int32(s)))
	if old == s {
		return
	}

	h.bridge.logger.Info("realtime handle state",
		zap.String("handle", h.id),
		zap.String("table", h.table),
		zap.Stringer("from", old),
		zap.Stringer("to", s),
	)
	if h.bridge.onState != nil {
		h.bridge.onState(h, s)
	}
}
