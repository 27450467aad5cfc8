package core

import (
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/bolcd/bolcd/internal/discovery"
)

// BatchHandler receives a flushed batch of events.
type BatchHandler func(batch []discovery.Event)

// EventBatcher collects bus events into recompute batches. A batch is
// flushed when its window expires or it reaches the maximum size.
type EventBatcher struct {
	mu      sync.Mutex
	logger  zerolog.Logger
	window  time.Duration
	max     int
	pending []discovery.Event
	timer   *time.Timer
	handler BatchHandler
	flushed int
	stopped bool
}

// NewEventBatcher creates a batcher. A zero window disables the timer so
// only size triggers a flush.
func NewEventBatcher(logger zerolog.Logger, cfg IngestConfig, handler BatchHandler) *EventBatcher {
	maxBatch := cfg.MaxBatch
	if maxBatch <= 0 {
		maxBatch = 100000
	}
	return &EventBatcher{
		logger:  logger.With().Str("component", "event_batcher").Logger(),
		window:  cfg.BatchWindow,
		max:     maxBatch,
		handler: handler,
	}
}

// Add appends an event to the open batch. It reports false once the
// batcher is stopped.
func (b *EventBatcher) Add(ev discovery.Event) bool {
	b.mu.Lock()
	if b.stopped {
		b.mu.Unlock()
		return false
	}
	b.pending = append(b.pending, ev)
	if len(b.pending) == 1 && b.window > 0 {
		b.timer = time.AfterFunc(b.window, func() { b.Flush() })
	}
	full := len(b.pending) >= b.max
	b.mu.Unlock()

	if full {
		go b.Flush()
	}
	return true
}

// Flush hands the open batch to the handler and returns its size.
func (b *EventBatcher) Flush() int {
	b.mu.Lock()
	batch := b.pending
	b.pending = nil
	if b.timer != nil {
		b.timer.Stop()
		b.timer = nil
	}
	if len(batch) > 0 {
		b.flushed++
	}
	b.mu.Unlock()

	if len(batch) == 0 {
		return 0
	}
	b.logger.Info().Int("events", len(batch)).Msg("event batch flushed")
	b.handler(batch)
	return len(batch)
}

// Stats returns current batcher state.
func (b *EventBatcher) Stats() map[string]interface{} {
	b.mu.Lock()
	defer b.mu.Unlock()
	return map[string]interface{}{
		"window_seconds": b.window.Seconds(),
		"max_batch":      b.max,
		"pending":        len(b.pending),
		"flushed":        b.flushed,
	}
}

// Stop flushes what is pending and rejects further events.
func (b *EventBatcher) Stop() {
	b.mu.Lock()
	b.stopped = true
	b.mu.Unlock()
	b.Flush()
	b.logger.Info().Msg("event batcher stopped")
}
