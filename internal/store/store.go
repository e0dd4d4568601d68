// Package store is the page's cache of management API resources. Entries are
// fetched on demand, shared between concurrent readers and dropped by explicit
// invalidation, which is fanned out to subscribers and other replicas.
package store

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// Keys used by the admin page. They match the API paths they cache.
const (
	KeyIndexingStatus = "/api/manage/admin/connector/indexing-status"
	KeyCredentials    = "/api/manage/credential"
)

// DefaultTTL bounds how long an entry is served before it is refetched.
const DefaultTTL = 5 * time.Second

// Fetcher loads the current value of a key.
type Fetcher func(ctx context.Context) (any, error)

// Result is the state of one key as seen by a reader.
type Result struct {
	Data    any
	Err     error
	Loading bool
}

// EventKind describes what happened to a key.
type EventKind string

const (
	EventInvalidated EventKind = "invalidated"
	EventUpdated     EventKind = "updated"
)

// Event is delivered to subscribers of a key.
type Event struct {
	Key  string
	Kind EventKind
}

// Options configures a Store.
type Options struct {
	TTL    time.Duration
	Bus    Bus
	Logger *slog.Logger
	Now    func() time.Time
}

type entry struct {
	data      any
	err       error
	fetchedAt time.Time
}

// Store caches fetch results per key.
type Store struct {
	mu            sync.Mutex
	fetchers      map[string]Fetcher
	entries       map[string]entry
	generation    map[string]uint64
	revalidations map[string]int
	subscribers   map[string]map[int]chan Event
	nextSubID     int

	group  singleflight.Group
	ttl    time.Duration
	member Member
	logger *slog.Logger
	now    func() time.Time
}

// New creates a store. When opts.Bus is set the store both publishes its own
// invalidations and drops entries invalidated elsewhere.
func New(ctx context.Context, opts Options) (*Store, error) {
	if opts.TTL <= 0 {
		opts.TTL = DefaultTTL
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	s := &Store{
		fetchers:      make(map[string]Fetcher),
		entries:       make(map[string]entry),
		generation:    make(map[string]uint64),
		revalidations: make(map[string]int),
		subscribers:   make(map[string]map[int]chan Event),
		ttl:           opts.TTL,
		logger:        opts.Logger,
		now:           opts.Now,
	}

	if opts.Bus != nil {
		member, err := opts.Bus.Join(ctx, s.invalidateLocal)
		if err != nil {
			return nil, fmt.Errorf("failed to join invalidation bus: %w", err)
		}
		s.member = member
	}
	return s, nil
}

// Close detaches the store from its bus.
func (s *Store) Close() error {
	if s.member == nil {
		return nil
	}
	return s.member.Close()
}

// Register sets the fetcher for key.
func (s *Store) Register(key string, fetch Fetcher) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fetchers[key] = fetch
}

// Get returns the cached value for key, fetching it when missing or stale.
// Concurrent readers share a single fetch. If ctx ends before the fetch
// completes the result reports Loading.
func (s *Store) Get(ctx context.Context, key string) Result {
	s.mu.Lock()
	fetch, ok := s.fetchers[key]
	e, cached := s.entries[key]
	gen := s.generation[key]
	s.mu.Unlock()

	if !ok {
		return Result{Err: fmt.Errorf("store: no fetcher registered for %q", key)}
	}
	if cached && s.now().Sub(e.fetchedAt) < s.ttl {
		return Result{Data: e.data, Err: e.err}
	}

	ch := s.group.DoChan(key, func() (any, error) {
		data, err := fetch(context.WithoutCancel(ctx))
		s.mu.Lock()
		// An invalidation during the fetch means this result may already be stale.
		if s.generation[key] == gen {
			s.entries[key] = entry{data: data, err: err, fetchedAt: s.now()}
		}
		s.mu.Unlock()
		if err != nil {
			s.logger.Warn("store fetch failed", "key", key, "error", err)
		}
		s.notify(key, EventUpdated)
		return data, err
	})

	select {
	case res := <-ch:
		return Result{Data: res.Val, Err: res.Err}
	case <-ctx.Done():
		if cached {
			return Result{Data: e.data, Err: e.err, Loading: true}
		}
		return Result{Loading: true}
	}
}

// Peek returns the cached value without fetching.
func (s *Store) Peek(key string) Result {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[key]
	if !ok {
		return Result{Loading: true}
	}
	return Result{Data: e.data, Err: e.err}
}

// Invalidate drops key so the next Get refetches it and tells subscribers and
// the bus about it.
func (s *Store) Invalidate(ctx context.Context, key string) {
	s.invalidateLocal(key)
	if s.member == nil {
		return
	}
	if err := s.member.Publish(ctx, key); err != nil {
		s.logger.Warn("failed to publish invalidation", "key", key, "error", err)
	}
}

func (s *Store) invalidateLocal(key string) {
	s.mu.Lock()
	delete(s.entries, key)
	s.generation[key]++
	s.revalidations[key]++
	s.mu.Unlock()

	s.group.Forget(key)
	s.logger.Debug("store key invalidated", "key", key)
	s.notify(key, EventInvalidated)
}

// Revalidations reports how many times key has been invalidated.
func (s *Store) Revalidations(key string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.revalidations[key]
}

// Subscribe delivers events for key until cancel is called. Slow subscribers
// miss events rather than block the store.
func (s *Store) Subscribe(key string) (<-chan Event, func()) {
	ch := make(chan Event, 8)

	s.mu.Lock()
	id := s.nextSubID
	s.nextSubID++
	if s.subscribers[key] == nil {
		s.subscribers[key] = make(map[int]chan Event)
	}
	s.subscribers[key][id] = ch
	s.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.subscribers[key], id)
			s.mu.Unlock()
			close(ch)
		})
	}
	return ch, cancel
}

func (s *Store) notify(key string, kind EventKind) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, ch := range s.subscribers[key] {
		select {
		case ch <- Event{Key: key, Kind: kind}:
		default:
		}
	}
}
