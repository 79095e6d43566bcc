package state

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/m3rciful/keyshop/core/logger"
)

// Options configures a Store.
type Options struct {
	// TTL is the idle lifetime of a session. Zero disables expiry.
	TTL time.Duration
	// Shards is the number of map partitions. Defaults to 16.
	Shards int
	// Now overrides the clock, for tests.
	Now func() time.Time
}

// Store is a sharded keyed session store with per-key locking and TTL expiry.
type Store[S any] struct {
	shards []*shard[S]
	ttl    time.Duration
	now    func() time.Time
}

type shard[S any] struct {
	mu      sync.Mutex
	entries map[int64]*entry[S]
}

// entry is guarded by mu; refs and map membership are guarded by the shard lock.
type entry[S any] struct {
	mu      sync.Mutex
	refs    int
	has     bool
	val     S
	expires time.Time
}

// New creates an empty store.
func New[S any](opts Options) *Store[S] {
	n := opts.Shards
	if n <= 0 {
		n = 16
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	s := &Store[S]{shards: make([]*shard[S], n), ttl: opts.TTL, now: now}
	for i := range s.shards {
		s.shards[i] = &shard[S]{entries: make(map[int64]*entry[S])}
	}
	return s
}

func (s *Store[S]) shardFor(key int64) *shard[S] {
	k := uint64(key)
	return s.shards[k%uint64(len(s.shards))]
}

// do runs fn with exclusive access to the entry for key.
func (s *Store[S]) do(key int64, fn func(e *entry[S])) {
	sh := s.shardFor(key)
	sh.mu.Lock()
	e, ok := sh.entries[key]
	if !ok {
		e = &entry[S]{}
		sh.entries[key] = e
	}
	e.refs++
	sh.mu.Unlock()

	e.mu.Lock()
	if e.has && s.expired(e) {
		s.clear(e)
	}
	fn(e)
	e.mu.Unlock()

	sh.mu.Lock()
	e.refs--
	if e.refs == 0 && !e.has {
		delete(sh.entries, key)
	}
	sh.mu.Unlock()
}

func (s *Store[S]) expired(e *entry[S]) bool {
	return s.ttl > 0 && !s.now().Before(e.expires)
}

func (s *Store[S]) clear(e *entry[S]) {
	var zero S
	e.val, e.has = zero, false
}

// With runs a read-modify-write on the session for key. fn receives the live
// session (ok=false when absent or expired) and returns the next value and
// whether to keep it; keep=false removes the session. The result is stored
// even when fn returns an error, which is passed through to the caller.
// Calls for the same key never overlap.
func (s *Store[S]) With(key int64, fn func(cur S, ok bool) (next S, keep bool, err error)) error {
	var err error
	s.do(key, func(e *entry[S]) {
		var next S
		var keep bool
		next, keep, err = fn(e.val, e.has)
		if !keep {
			s.clear(e)
			return
		}
		e.val, e.has = next, true
		e.expires = s.now().Add(s.ttl)
	})
	return err
}

// Get returns the live session for key without refreshing its expiry.
func (s *Store[S]) Get(key int64) (S, bool) {
	var v S
	var ok bool
	s.do(key, func(e *entry[S]) { v, ok = e.val, e.has })
	return v, ok
}

// Delete removes the session for key and reports whether a live one existed.
func (s *Store[S]) Delete(key int64) bool {
	var had bool
	s.do(key, func(e *entry[S]) {
		had = e.has
		s.clear(e)
	})
	return had
}

// Len counts live sessions.
func (s *Store[S]) Len() int {
	var keys []int64
	for _, sh := range s.shards {
		sh.mu.Lock()
		for k := range sh.entries {
			keys = append(keys, k)
		}
		sh.mu.Unlock()
	}
	n := 0
	for _, k := range keys {
		if _, ok := s.Get(k); ok {
			n++
		}
	}
	return n
}

// Sweep drops expired sessions that nobody is currently using and returns
// how many were removed.
func (s *Store[S]) Sweep() int {
	if s.ttl <= 0 {
		return 0
	}
	removed := 0
	for _, sh := range s.shards {
		sh.mu.Lock()
		for k, e := range sh.entries {
			// refs==0 means no goroutine holds e.mu.
			if e.refs == 0 && e.has && s.expired(e) {
				delete(sh.entries, k)
				removed++
			}
		}
		sh.mu.Unlock()
	}
	return removed
}

// Run sweeps every interval until ctx is done.
func (s *Store[S]) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 || s.ttl <= 0 {
		return
	}
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if n := s.Sweep(); n > 0 {
				logger.SVCSessions.Debug("sessions expired",
					slog.String("event", "sessions.sweep"),
					slog.Int("removed", n),
					slog.Int("active", s.Len()),
				)
			}
		}
	}
}
