package cacheinfra

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/juju/clock"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// Separator joins encoded key segments into the entry identifier.
const Separator = "::"

// ErrClosed is returned by operations on a store that has been closed.
var ErrClosed = errors.New("query store closed")

// Fetcher loads the value for one key from the source of truth.
type Fetcher func(ctx context.Context) (any, error)

// FetchError is returned to the reads that shared a failed fetch.
type FetchError struct {
	Key string
	Err error
}

func (e *FetchError) Error() string {
	return "fetch " + e.Key + ": " + e.Err.Error()
}

func (e *FetchError) Unwrap() error { return e.Err }

// Change describes a replacement of an entry value, delivered to subscribers.
// Seq grows with every applied replacement of the same entry, so a subscriber
// that sees a lower Seq than one it already handled can ignore it.
type Change struct {
	Key       string
	Value     any
	Removed   bool
	UpdatedAt time.Time
	Seq       uint64
}

// Result is what a read observes.
type Result struct {
	Value     any
	Stale     bool
	UpdatedAt time.Time
}

// Stats is a point in time snapshot of the store counters.
type Stats struct {
	Entries   int
	Hits      int64
	StaleHits int64
	Misses    int64
	Fetches   int64
	Failures  int64
	Discarded int64
	Evictions int64
}

type entry struct {
	id       string
	segments []string

	value     any
	hasValue  bool
	updatedAt time.Time

	invalidated bool
	seq         uint64
	invalidSeq  uint64
	fetch       Fetcher

	subs       map[uint64]func(Change)
	evictGen   uint64
	evictTimer clock.Timer
}

type counters struct {
	hits      atomic.Int64
	staleHits atomic.Int64
	misses    atomic.Int64
	fetches   atomic.Int64
	failures  atomic.Int64
	discarded atomic.Int64
	evictions atomic.Int64
}

// Store is the untyped engine behind the query cache. A single mutex guards
// the entry map and every multi step entry mutation. Fetchers and subscriber
// callbacks always run with the mutex released.
type Store struct {
	cfg    Config
	clock  clock.Clock
	logger *zap.Logger

	mu      sync.Mutex
	entries map[string]*entry
	seq     uint64
	subSeq  uint64
	closed  bool

	group singleflight.Group
	stats counters

	ctx    context.Context
	cancel context.CancelFunc
}

// Option configures a Store.
type Option func(*Store)

// WithClock sets the clock used for freshness and eviction timers.
func WithClock(c clock.Clock) Option {
	return func(s *Store) {
		if c != nil {
			s.clock = c
		}
	}
}

// WithLogger sets the store logger.
func WithLogger(l *zap.Logger) Option {
	return func(s *Store) {
		if l != nil {
			s.logger = l
		}
	}
}

// NewStore validates cfg and returns a ready store.
func NewStore(cfg Config, opts ...Option) (*Store, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Store{
		cfg:     cfg,
		clock:   clock.WallClock,
		logger:  zap.NewNop(),
		entries: make(map[string]*entry),
		ctx:     ctx,
		cancel:  cancel,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Config returns the configuration the store was built with.
func (s *Store) Config() Config { return s.cfg }

// ID joins encoded segments into an entry identifier. Plain segments are
// joined with Separator; a segment that could be mistaken for a boundary
// (it holds the separator, starts with a quote, or starts or ends with a
// colon) is quoted, so distinct segment lists never share an identifier.
func ID(segments []string) string {
	parts := make([]string, len(segments))
	for i, seg := range segments {
		if needsQuote(seg) {
			seg = strconv.Quote(seg)
		}
		parts[i] = seg
	}
	return strings.Join(parts, Separator)
}

func needsQuote(seg string) bool {
	return strings.Contains(seg, Separator) ||
		strings.HasPrefix(seg, `"`) ||
		strings.HasPrefix(seg, ":") ||
		strings.HasSuffix(seg, ":")
}

// HasPrefix reports whether prefix matches the leading segments of segments.
func HasPrefix(segments, prefix []string) bool {
	if len(prefix) > len(segments) {
		return false
	}
	for i := range prefix {
		if segments[i] != prefix[i] {
			return false
		}
	}
	return true
}

// Read serves the entry for segments. A fresh value is returned as is. A stale
// value is returned immediately with Stale set while a single background
// revalidation runs. A missing value joins the in-flight fetch or starts one.
// The caller's context only bounds how long it waits, never the fetch itself.
func (s *Store) Read(ctx context.Context, segments []string, fetch Fetcher, freshness time.Duration) (Result, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return Result{}, ErrClosed
	}

	e := s.entryLocked(segments)
	if fetch != nil {
		e.fetch = fetch
	}

	if e.hasValue {
		res := Result{Value: e.value, UpdatedAt: e.updatedAt}
		if s.freshLocked(e, freshness) {
			s.mu.Unlock()
			s.stats.hits.Add(1)
			s.logger.Debug("query cache hit", zap.String("key", e.id))
			return res, nil
		}
		res.Stale = true
		if e.fetch != nil {
			s.dispatchLocked(e)
		}
		s.mu.Unlock()
		s.stats.staleHits.Add(1)
		return res, nil
	}

	if e.fetch == nil {
		s.mu.Unlock()
		return Result{}, &FetchError{Key: e.id, Err: errors.New("no fetcher registered")}
	}

	ch := s.dispatchLocked(e)
	s.mu.Unlock()
	s.stats.misses.Add(1)

	return s.wait(ctx, ch)
}

// Refetch forces a fetch for segments, joining one already in flight.
func (s *Store) Refetch(ctx context.Context, segments []string, fetch Fetcher) (Result, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return Result{}, ErrClosed
	}

	e := s.entryLocked(segments)
	if fetch != nil {
		e.fetch = fetch
	}
	if e.fetch == nil {
		s.mu.Unlock()
		return Result{}, &FetchError{Key: e.id, Err: errors.New("no fetcher registered")}
	}
	ch := s.dispatchLocked(e)
	s.mu.Unlock()

	return s.wait(ctx, ch)
}

func (s *Store) wait(ctx context.Context, ch <-chan singleflight.Result) (Result, error) {
	select {
	case r := <-ch:
		if r.Err != nil {
			return Result{}, r.Err
		}
		return r.Val.(Result), nil
	case <-ctx.Done():
		return Result{}, ctx.Err()
	}
}

// Peek returns the cached value for segments without fetching.
func (s *Store) Peek(segments []string, freshness time.Duration) (Result, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[ID(segments)]
	if !ok || !e.hasValue {
		return Result{}, false
	}
	return Result{
		Value:     e.value,
		UpdatedAt: e.updatedAt,
		Stale:     !s.freshLocked(e, freshness),
	}, true
}

// Write stores value under segments as a fresh entry and notifies subscribers.
// Any fetch dispatched before the write is discarded when it completes.
func (s *Store) Write(segments []string, value any) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}

	e := s.entryLocked(segments)
	e.seq = s.nextSeqLocked()
	e.value = value
	e.hasValue = true
	e.invalidated = false
	e.updatedAt = s.clock.Now()

	change := Change{Key: e.id, Value: value, UpdatedAt: e.updatedAt, Seq: e.seq}
	subs := snapshot(e)
	s.mu.Unlock()

	notify(subs, change)
}

// Remove evicts the value under segments. Subscribed entries keep their
// subscriber set and are told the value was removed.
func (s *Store) Remove(segments []string) {
	id := ID(segments)

	s.mu.Lock()
	e, ok := s.entries[id]
	if !ok || s.closed {
		s.mu.Unlock()
		return
	}
	s.group.Forget(id)

	if len(e.subs) == 0 {
		s.dropLocked(e)
		s.mu.Unlock()
		return
	}

	e.seq = s.nextSeqLocked()
	e.value = nil
	e.hasValue = false
	e.invalidated = false

	change := Change{Key: id, Removed: true, UpdatedAt: s.clock.Now(), Seq: e.seq}
	subs := snapshot(e)
	s.mu.Unlock()

	notify(subs, change)
}

// Invalidate marks every entry under prefix stale and returns how many
// entries matched. Entries with subscribers are revalidated in the background
// with their last fetcher; the rest refetch on their next read.
func (s *Store) Invalidate(prefix []string) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return 0
	}

	matched := 0
	for _, e := range s.entries {
		if !HasPrefix(e.segments, prefix) {
			continue
		}
		matched++

		e.invalidated = true
		e.invalidSeq = s.seq
		// a refetch after this point must not join a call dispatched before it
		s.group.Forget(e.id)

		if len(e.subs) > 0 && e.fetch != nil {
			s.dispatchLocked(e)
		}
	}

	if matched > 0 {
		s.logger.Debug("query cache invalidated",
			zap.Strings("prefix", prefix),
			zap.Int("entries", matched),
		)
	}
	return matched
}

// Subscribe registers onChange for segments and returns the function that
// removes it. Once the last subscriber leaves, the eviction grace period starts.
func (s *Store) Subscribe(segments []string, onChange func(Change)) (func(), error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, ErrClosed
	}

	e := s.entryLocked(segments)
	s.cancelEvictionLocked(e)

	s.subSeq++
	subID := s.subSeq
	if e.subs == nil {
		e.subs = make(map[uint64]func(Change))
	}
	e.subs[subID] = onChange

	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()

		if s.closed {
			return
		}
		delete(e.subs, subID)
		if len(e.subs) == 0 && s.entries[e.id] == e {
			s.scheduleEvictionLocked(e)
		}
	}, nil
}

// Len returns the number of entries currently held.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// Stats returns a snapshot of the store counters.
func (s *Store) Stats() Stats {
	return Stats{
		Entries:   s.Len(),
		Hits:      s.stats.hits.Load(),
		StaleHits: s.stats.staleHits.Load(),
		Misses:    s.stats.misses.Load(),
		Fetches:   s.stats.fetches.Load(),
		Failures:  s.stats.failures.Load(),
		Discarded: s.stats.discarded.Load(),
		Evictions: s.stats.evictions.Load(),
	}
}

// Close cancels in-flight fetches, stops eviction timers and drops every entry.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	s.cancel()

	for _, e := range s.entries {
		if e.evictTimer != nil {
			e.evictTimer.Stop()
		}
		s.group.Forget(e.id)
	}
	s.entries = make(map[string]*entry)
	return nil
}

func (s *Store) entryLocked(segments []string) *entry {
	id := ID(segments)
	if e, ok := s.entries[id]; ok {
		return e
	}

	e := &entry{
		id:       id,
		segments: append([]string(nil), segments...),
	}
	s.entries[id] = e
	s.scheduleEvictionLocked(e)
	return e
}

func (s *Store) freshLocked(e *entry, freshness time.Duration) bool {
	if e.invalidated || freshness <= 0 {
		return false
	}
	return s.clock.Now().Sub(e.updatedAt) < freshness
}

func (s *Store) nextSeqLocked() uint64 {
	s.seq++
	return s.seq
}

// dispatchLocked starts (or joins) the fetch for e. The sequence number is
// taken at dispatch so completions can be ordered against later writes.
func (s *Store) dispatchLocked(e *entry) <-chan singleflight.Result {
	seq := s.nextSeqLocked()
	id := e.id
	fetch := e.fetch

	return s.group.DoChan(id, func() (any, error) {
		return s.runFetch(id, seq, fetch)
	})
}

func (s *Store) runFetch(id string, seq uint64, fetch Fetcher) (any, error) {
	s.stats.fetches.Add(1)

	value, err := fetch(s.ctx)
	if err != nil {
		s.stats.failures.Add(1)
		s.logger.Warn("query fetch failed", zap.String("key", id), zap.Error(err))
		return nil, &FetchError{Key: id, Err: err}
	}

	return s.commit(id, seq, value), nil
}

// commit applies a completed fetch. Completions older than the last applied
// replacement are discarded and the waiters get the newer value instead.
// A completion dispatched before an invalidation is stored but stays stale.
func (s *Store) commit(id string, seq uint64, value any) Result {
	now := s.clock.Now()

	s.mu.Lock()
	e, ok := s.entries[id]
	if !ok || s.closed {
		s.mu.Unlock()
		return Result{Value: value, UpdatedAt: now}
	}

	if seq < e.seq {
		res := Result{Value: value, UpdatedAt: now}
		if e.hasValue {
			res = Result{Value: e.value, UpdatedAt: e.updatedAt, Stale: e.invalidated}
		}
		s.mu.Unlock()
		s.stats.discarded.Add(1)
		s.logger.Debug("query completion discarded",
			zap.String("key", id),
			zap.Uint64("seq", seq),
			zap.Uint64("applied", e.seq),
		)
		return res
	}

	e.seq = seq
	e.value = value
	e.hasValue = true
	e.updatedAt = now
	e.invalidated = seq <= e.invalidSeq

	change := Change{Key: id, Value: value, UpdatedAt: now, Seq: seq}
	res := Result{Value: value, UpdatedAt: now, Stale: e.invalidated}
	subs := snapshot(e)
	s.mu.Unlock()

	notify(subs, change)
	return res
}

func (s *Store) scheduleEvictionLocked(e *entry) {
	s.cancelEvictionLocked(e)
	gen := e.evictGen
	e.evictTimer = s.clock.AfterFunc(s.cfg.EvictionGrace, func() {
		s.evict(e.id, gen)
	})
}

func (s *Store) cancelEvictionLocked(e *entry) {
	e.evictGen++
	if e.evictTimer != nil {
		e.evictTimer.Stop()
		e.evictTimer = nil
	}
}

func (s *Store) evict(id string, gen uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[id]
	if !ok || s.closed || e.evictGen != gen || len(e.subs) > 0 {
		return
	}
	s.dropLocked(e)
	s.stats.evictions.Add(1)
	s.logger.Debug("query cache entry evicted", zap.String("key", id))
}

func (s *Store) dropLocked(e *entry) {
	if e.evictTimer != nil {
		e.evictTimer.Stop()
	}
	e.evictGen++
	delete(s.entries, e.id)
	s.group.Forget(e.id)
}

func snapshot(e *entry) []func(Change) {
	if len(e.subs) == 0 {
		return nil
	}
	out := make([]func(Change), 0, len(e.subs))
	for _, fn := range e.subs {
		out = append(out, fn)
	}
	return out
}

func notify(subs []func(Change), change Change) {
	for _, fn := range subs {
		fn(change)
	}
}
