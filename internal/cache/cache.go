// Package cache provides the keyed result store sitting between the
// orchestrator and the provider clients: TTL expiry with an optional
// stale-while-revalidate window, single-flight de-duplication of concurrent
// misses, capacity-bounded LRU eviction, and optional short-TTL negative
// caching of failures.
package cache

import (
	"container/list"
	"context"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// FetchFunc computes the value for a missing or expired key. The context it
// receives is detached from any caller: an in-flight fetch is never canceled
// by a caller's deadline, so it can complete and warm the cache.
type FetchFunc func(ctx context.Context) (any, error)

// Config holds the store's tuning knobs.
type Config struct {
	// TTL is how long a successful entry stays fresh. Default: 5 minutes.
	TTL time.Duration

	// Grace is the stale-while-revalidate window after TTL. Entries older
	// than TTL+Grace are treated as gone. Default: 1 minute.
	Grace time.Duration

	// NegativeTTL, when positive, caches fetch failures for that duration so
	// a known-down provider is not hammered. Zero disables negative caching.
	NegativeTTL time.Duration

	// Capacity bounds the number of entries; 0 means unbounded. When full,
	// the least-recently-used entry outside any in-flight fetch is evicted.
	Capacity int

	// StaleWhileRevalidate serves an expired-but-graced value immediately
	// while exactly one background refresh runs.
	StaleWhileRevalidate bool

	// FetchTimeout bounds a detached fetch. Default: 10 seconds.
	FetchTimeout time.Duration
}

// Hooks receives store events. All fields are optional. Callbacks may run
// with internal locks held and must not call back into the store.
type Hooks struct {
	OnHit     func(key string, stale bool)
	OnMiss    func(key string)
	OnEvict   func(key string)
	OnRefresh func(key string)
	OnSize    func(entries int)
}

// Entry is the caller-visible view of a cached value.
type Entry struct {
	Key       string
	Value     any
	FetchedAt time.Time
	TTL       time.Duration
	Stale     bool
}

type record struct {
	key       string
	value     any
	err       error
	fetchedAt time.Time
	ttl       time.Duration
}

// Store is safe for concurrent use. It exclusively owns entry lifetimes;
// callers only observe them through GetOrFetch.
type Store struct {
	cfg   Config
	hooks Hooks

	mu         sync.Mutex
	entries    map[string]*list.Element
	lru        *list.List // front = most recently used
	inflight   map[string]struct{}
	refreshing map[string]struct{}

	flights singleflight.Group

	now func() time.Time
}

// New creates a Store with the given config and optional hooks.
func New(cfg Config, hooks Hooks) *Store {
	if cfg.TTL <= 0 {
		cfg.TTL = 5 * time.Minute
	}
	if cfg.Grace <= 0 {
		cfg.Grace = time.Minute
	}
	if cfg.FetchTimeout <= 0 {
		cfg.FetchTimeout = 10 * time.Second
	}
	return &Store{
		cfg:        cfg,
		hooks:      hooks,
		entries:    make(map[string]*list.Element),
		lru:        list.New(),
		inflight:   make(map[string]struct{}),
		refreshing: make(map[string]struct{}),
		now:        time.Now,
	}
}

// GetOrFetch resolves key against the store. On a fresh hit the cached entry
// is returned. On a graced hit (TTL passed, within Grace, SWR enabled) the
// stale entry is returned immediately and at most one background refresh is
// started. On a miss, exactly one fetch runs no matter how many callers race;
// all callers receive the same value or the same error. If ctx ends while
// waiting, the caller gets ctx.Err() but the fetch keeps running and
// populates the store for future callers.
func (s *Store) GetOrFetch(ctx context.Context, key string, fetch FetchFunc) (Entry, error) {
	now := s.now()

	s.mu.Lock()
	if el, ok := s.entries[key]; ok {
		rec := el.Value.(*record)
		age := now.Sub(rec.fetchedAt)
		switch {
		case age < rec.ttl:
			s.lru.MoveToFront(el)
			entry := entryOf(rec, false)
			err := rec.err
			s.mu.Unlock()
			if s.hooks.OnHit != nil {
				s.hooks.OnHit(key, false)
			}
			if err != nil {
				return Entry{}, err
			}
			return entry, nil

		case s.cfg.StaleWhileRevalidate && rec.err == nil && age < rec.ttl+s.cfg.Grace:
			s.lru.MoveToFront(el)
			entry := entryOf(rec, true)
			startRefresh := false
			if _, busy := s.refreshing[key]; !busy {
				s.refreshing[key] = struct{}{}
				startRefresh = true
			}
			s.mu.Unlock()
			if startRefresh {
				go s.refresh(key, fetch)
			}
			if s.hooks.OnHit != nil {
				s.hooks.OnHit(key, true)
			}
			return entry, nil

		default:
			s.removeLocked(el)
			s.mu.Unlock()
		}
	} else {
		s.mu.Unlock()
	}

	if s.hooks.OnMiss != nil {
		s.hooks.OnMiss(key)
	}

	ch := s.flights.DoChan(key, func() (any, error) {
		s.mu.Lock()
		s.inflight[key] = struct{}{}
		s.mu.Unlock()
		defer func() {
			s.mu.Lock()
			delete(s.inflight, key)
			s.mu.Unlock()
		}()

		return s.fetchDetached(key, fetch)
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return Entry{}, res.Err
		}
		return Entry{Key: key, Value: res.Val, FetchedAt: s.now(), TTL: s.cfg.TTL}, nil
	case <-ctx.Done():
		// The flight continues in the background and warms the cache.
		return Entry{}, ctx.Err()
	}
}

func (s *Store) fetchDetached(key string, fetch FetchFunc) (any, error) {
	fctx, cancel := context.WithTimeout(context.Background(), s.cfg.FetchTimeout)
	defer cancel()

	v, err := fetch(fctx)
	if err != nil {
		if s.cfg.NegativeTTL > 0 {
			s.put(key, nil, err, s.cfg.NegativeTTL)
		}
		return nil, err
	}
	s.put(key, v, nil, s.cfg.TTL)
	return v, nil
}

func (s *Store) refresh(key string, fetch FetchFunc) {
	defer func() {
		s.mu.Lock()
		delete(s.refreshing, key)
		s.mu.Unlock()
	}()

	fctx, cancel := context.WithTimeout(context.Background(), s.cfg.FetchTimeout)
	defer cancel()

	v, err := fetch(fctx)
	if err != nil {
		// Keep serving the stale value; expiry will retire it.
		return
	}
	s.put(key, v, nil, s.cfg.TTL)
	if s.hooks.OnRefresh != nil {
		s.hooks.OnRefresh(key)
	}
}

func (s *Store) put(key string, v any, err error, ttl time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if el, ok := s.entries[key]; ok {
		rec := el.Value.(*record)
		rec.value, rec.err, rec.fetchedAt, rec.ttl = v, err, s.now(), ttl
		s.lru.MoveToFront(el)
		return
	}

	el := s.lru.PushFront(&record{key: key, value: v, err: err, fetchedAt: s.now(), ttl: ttl})
	s.entries[key] = el

	if s.cfg.Capacity > 0 && len(s.entries) > s.cfg.Capacity {
		s.evictLocked()
	}
	if s.hooks.OnSize != nil {
		s.hooks.OnSize(len(s.entries))
	}
}

// evictLocked drops LRU entries until within capacity, skipping keys with an
// active flight or refresh.
func (s *Store) evictLocked() {
	el := s.lru.Back()
	for el != nil && len(s.entries) > s.cfg.Capacity {
		prev := el.Prev()
		rec := el.Value.(*record)
		_, busyFlight := s.inflight[rec.key]
		_, busyRefresh := s.refreshing[rec.key]
		if !busyFlight && !busyRefresh {
			s.removeLocked(el)
			if s.hooks.OnEvict != nil {
				s.hooks.OnEvict(rec.key)
			}
		}
		el = prev
	}
}

func (s *Store) removeLocked(el *list.Element) {
	rec := el.Value.(*record)
	s.lru.Remove(el)
	delete(s.entries, rec.key)
	if s.hooks.OnSize != nil {
		s.hooks.OnSize(len(s.entries))
	}
}

// Sweep drops every entry past its TTL plus the grace window and returns how
// many were removed. Intended to run periodically from the scheduler.
func (s *Store) Sweep() int {
	now := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()

	var removed int
	el := s.lru.Back()
	for el != nil {
		prev := el.Prev()
		rec := el.Value.(*record)
		if now.Sub(rec.fetchedAt) > rec.ttl+s.cfg.Grace {
			s.removeLocked(el)
			removed++
		}
		el = prev
	}
	return removed
}

// Invalidate removes a key immediately. Idempotent.
func (s *Store) Invalidate(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if el, ok := s.entries[key]; ok {
		s.removeLocked(el)
	}
}

// Len returns the current entry count.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

func entryOf(rec *record, stale bool) Entry {
	return Entry{
		Key:       rec.key,
		Value:     rec.value,
		FetchedAt: rec.fetchedAt,
		TTL:       rec.ttl,
		Stale:     stale,
	}
}
