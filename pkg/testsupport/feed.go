package testsupport

import (
	"context"
	"errors"
	"io"
	"sync"

	"github.com/goliatone/go-query-sync/realtime"
)

// ErrFeedDown is what FakeFeed.FailNext returns by default.
var ErrFeedDown = errors.New("testsupport: feed down")

// FakeFeed is an in-memory realtime.ChangeFeed. Tests push events with Emit
// and break live subscriptions with Drop.
type FakeFeed struct {
	mu         sync.Mutex
	subs       map[string][]*fakeSub
	failures   []error
	subscribes map[string]int
	changed    chan struct{}
}

type fakeSub struct {
	feed    *FakeFeed
	table   string
	handler func(realtime.ChangeEvent)
	onError func(error)
	once    sync.Once
}

func (s *fakeSub) Close() error {
	s.once.Do(func() { s.feed.remove(s) })
	return nil
}

// NewFakeFeed returns an empty feed.
func NewFakeFeed() *FakeFeed {
	return &FakeFeed{
		subs:       make(map[string][]*fakeSub),
		subscribes: make(map[string]int),
		changed:    make(chan struct{}),
	}
}

// Subscribe implements realtime.ChangeFeed.
func (f *FakeFeed) Subscribe(ctx context.Context, table string, handler func(realtime.ChangeEvent), onError func(error)) (io.Closer, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	f.subscribes[table]++
	if len(f.failures) > 0 {
		err := f.failures[0]
		f.failures = f.failures[1:]
		f.signalLocked()
		return nil, err
	}

	sub := &fakeSub{feed: f, table: table, handler: handler, onError: onError}
	f.subs[table] = append(f.subs[table], sub)
	f.signalLocked()
	return sub, nil
}

// FailNext makes the next n Subscribe calls fail with err, or ErrFeedDown
// when err is nil.
func (f *FakeFeed) FailNext(n int, err error) {
	if err == nil {
		err = ErrFeedDown
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := 0; i < n; i++ {
		f.failures = append(f.failures, err)
	}
}

// Emit delivers ev to every live subscription on ev.Table.
func (f *FakeFeed) Emit(ev realtime.ChangeEvent) int {
	f.mu.Lock()
	subs := append([]*fakeSub(nil), f.subs[ev.Table]...)
	f.mu.Unlock()

	for _, s := range subs {
		s.handler(ev)
	}
	return len(subs)
}

// Drop reports err to every live subscription on table and forgets them,
// like a connection loss.
func (f *FakeFeed) Drop(table string, err error) {
	if err == nil {
		err = ErrFeedDown
	}
	f.mu.Lock()
	subs := f.subs[table]
	delete(f.subs, table)
	f.signalLocked()
	f.mu.Unlock()

	for _, s := range subs {
		s.onError(err)
	}
}

// Subscribers returns the number of live subscriptions on table.
func (f *FakeFeed) Subscribers(table string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.subs[table])
}

// Subscribes returns how many times Subscribe was called for table.
func (f *FakeFeed) Subscribes(table string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.subscribes[table]
}

// Changed returns a channel closed on the next subscription change.
func (f *FakeFeed) Changed() <-chan struct{} {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.changed
}

func (f *FakeFeed) remove(s *fakeSub) {
	f.mu.Lock()
	defer f.mu.Unlock()

	subs := f.subs[s.table]
	for i, sub := range subs {
		if sub == s {
			f.subs[s.table] = append(subs[:i], subs[i+1:]...)
			break
		}
	}
	f.signalLocked()
}

func (f *FakeFeed) signalLocked() {
	close(f.changed)
	f.changed = make(chan struct{})
}
