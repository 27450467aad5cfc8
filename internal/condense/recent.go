package condense

import (
	"sort"
	"sync"
	"time"
)

// recentAlerts remembers, per entity, when each signal last alerted. It is
// bounded the same way the event dedup cache is: expired entries go first,
// then an arbitrary half.
type recentAlerts struct {
	mu      sync.Mutex
	seen    map[string]map[string]time.Time
	size    int
	maxSize int
}

func newRecentAlerts(maxSize int) *recentAlerts {
	if maxSize <= 0 {
		maxSize = 100000
	}
	return &recentAlerts{
		seen:    make(map[string]map[string]time.Time),
		maxSize: maxSize,
	}
}

// observe records ts for (entity, signal) unless a later time is known.
func (r *recentAlerts) observe(entity, signal string, ts time.Time, ttl time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()

	bySignal, ok := r.seen[entity]
	if !ok {
		bySignal = make(map[string]time.Time)
		r.seen[entity] = bySignal
	}
	prev, ok := bySignal[signal]
	if !ok {
		r.size++
	} else if !ts.After(prev) {
		return
	}
	bySignal[signal] = ts

	if r.size > r.maxSize {
		r.evictLocked(ts, ttl)
	}
}

// lookup returns the signals seen for entity, sorted by name.
func (r *recentAlerts) lookup(entity string) []recentSignal {
	r.mu.Lock()
	defer r.mu.Unlock()
	bySignal := r.seen[entity]
	out := make([]recentSignal, 0, len(bySignal))
	for signal, ts := range bySignal {
		out = append(out, recentSignal{signal: signal, ts: ts})
	}
	sort.Slice(out, func(a, b int) bool { return out[a].signal < out[b].signal })
	return out
}

func (r *recentAlerts) len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.size
}

func (r *recentAlerts) evictLocked(now time.Time, ttl time.Duration) {
	for entity, bySignal := range r.seen {
		for signal, ts := range bySignal {
			if now.Sub(ts) > ttl {
				delete(bySignal, signal)
				r.size--
			}
		}
		if len(bySignal) == 0 {
			delete(r.seen, entity)
		}
	}
	if r.size <= r.maxSize {
		return
	}
	target := r.size / 2
	for entity, bySignal := range r.seen {
		r.size -= len(bySignal)
		delete(r.seen, entity)
		if r.size <= target {
			break
		}
	}
}

type recentSignal struct {
	signal string
	ts     time.Time
}
