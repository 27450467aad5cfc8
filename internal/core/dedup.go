package core

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/bolcd/bolcd/internal/discovery"
)

// EventDedup is a short-lived deduplication cache that keeps the same event
// from entering a recompute batch twice (e.g. when a shipper retries a
// publish). Events are fingerprinted by source, entity, timestamp and the
// full signal map.
type EventDedup struct {
	mu      sync.Mutex
	seen    map[string]time.Time
	ttl     time.Duration
	maxSize int
	now     func() time.Time
}

// NewEventDedup creates a dedup cache remembering fingerprints for ttl
// (default 30s), holding at most maxSize of them (default 50000).
func NewEventDedup(ttl time.Duration, maxSize int) *EventDedup {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	if maxSize <= 0 {
		maxSize = 50000
	}
	return &EventDedup{
		seen:    make(map[string]time.Time, maxSize/2),
		ttl:     ttl,
		maxSize: maxSize,
		now:     time.Now,
	}
}

// IsDuplicate reports whether ev was already seen within the TTL, recording
// it when it was not.
func (d *EventDedup) IsDuplicate(ev discovery.Event) bool {
	hash := fingerprint(ev)

	d.mu.Lock()
	defer d.mu.Unlock()

	now := d.now()
	if seenAt, ok := d.seen[hash]; ok && now.Sub(seenAt) < d.ttl {
		return true
	}
	d.seen[hash] = now
	if len(d.seen) > d.maxSize {
		d.evictLocked(now)
	}

	return false
}

// fingerprint hashes the event with signal names in sorted order so map
// iteration order does not matter.
func fingerprint(ev discovery.Event) string {
	h := sha256.New()
	h.Write([]byte(ev.Source))
	h.Write([]byte{0})
	h.Write([]byte(ev.EntityID))
	h.Write([]byte{0})
	h.Write([]byte(strconv.FormatInt(ev.Timestamp.UnixNano(), 10)))
	h.Write([]byte{0})

	names := make([]string, 0, len(ev.Values))
	for name := range ev.Values {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		v := ev.Values[name]
		h.Write([]byte(name))
		h.Write([]byte{'=', byte(v.Kind())})
		h.Write([]byte(v.Label()))
		h.Write([]byte{0})
	}

	return hex.EncodeToString(h.Sum(nil)[:16])
}

func (d *EventDedup) purgeExpiredLocked(now time.Time) {
	for k, t := range d.seen {
		if now.Sub(t) >= d.ttl {
			delete(d.seen, k)
		}
	}
}

// evictLocked runs when the cache is over maxSize. Expired fingerprints go
// first; if that is not enough, half of the remainder is dropped.
func (d *EventDedup) evictLocked(now time.Time) {
	d.purgeExpiredLocked(now)
	if len(d.seen) <= d.maxSize {
		return
	}
	drop := len(d.seen) / 2
	for k := range d.seen {
		if drop == 0 {
			break
		}
		delete(d.seen, k)
		drop--
	}
}

// StartCleanup sweeps expired fingerprints every interval until the returned
// stop function is called.
func (d *EventDedup) StartCleanup(interval time.Duration) func() {
	done := make(chan struct{})
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				d.mu.Lock()
				d.purgeExpiredLocked(d.now())
				d.mu.Unlock()
			}
		}
	}()
	return func() { close(done) }
}

// Size returns the current number of entries in the cache.
func (d *EventDedup) Size() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.seen)
}
