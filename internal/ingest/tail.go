package ingest

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/bolcd/bolcd/internal/core"
)

// Tailer follows a JSONL event file and publishes each new line.
type Tailer struct {
	src    core.TailSource
	pub    Publisher
	logger zerolog.Logger
	cancel context.CancelFunc
	done   chan struct{}

	accepted atomic.Int64
	rejected atomic.Int64
}

// NewTailer creates a tailer for src.
func NewTailer(src core.TailSource, pub Publisher, logger zerolog.Logger) *Tailer {
	return &Tailer{
		src:    src,
		pub:    pub,
		logger: logger.With().Str("component", "event_tailer").Str("path", src.Path).Logger(),
	}
}

// Name identifies the tailer in logs and status output.
func (t *Tailer) Name() string { return "tail:" + t.src.Path }

// Start opens the file and follows it until Stop or ctx is cancelled. Unless
// FromStart is set, only lines written after Start are read.
func (t *Tailer) Start(ctx context.Context) error {
	f, err := os.Open(t.src.Path)
	if err != nil {
		return fmt.Errorf("opening %s: %w", t.src.Path, err)
	}
	if !t.src.FromStart {
		if _, err := f.Seek(0, io.SeekEnd); err != nil {
			f.Close()
			return fmt.Errorf("seeking to end of %s: %w", t.src.Path, err)
		}
	}

	ctx, t.cancel = context.WithCancel(ctx)
	t.done = make(chan struct{})
	go t.follow(ctx, f)
	return nil
}

// Stop ends the tail and waits for the reader to exit.
func (t *Tailer) Stop() error {
	if t.cancel != nil {
		t.cancel()
		<-t.done
	}
	return nil
}

// Stats returns accepted and rejected line counts.
func (t *Tailer) Stats() (accepted, rejected int64) {
	return t.accepted.Load(), t.rejected.Load()
}

// follow reads lines until ctx ends. A shrinking file is treated as rotated
// and reopened from the start.
func (t *Tailer) follow(ctx context.Context, f *os.File) {
	defer close(t.done)
	defer func() { f.Close() }()

	reader := bufio.NewReaderSize(f, 64*1024)
	var lastSize int64
	if info, err := f.Stat(); err == nil {
		lastSize = info.Size()
	}
	var partial strings.Builder

	for {
		if ctx.Err() != nil {
			return
		}

		chunk, err := reader.ReadString('\n')
		partial.WriteString(chunk)
		if err == nil {
			t.handle(partial.String())
			partial.Reset()
			if info, statErr := f.Stat(); statErr == nil {
				lastSize = info.Size()
			}
			continue
		}
		if err != io.EOF {
			t.logger.Error().Err(err).Msg("read error")
			if !sleepCtx(ctx, time.Second) {
				return
			}
			continue
		}

		if info, statErr := os.Stat(t.src.Path); statErr == nil {
			if info.Size() < lastSize {
				t.logger.Info().Msg("rotation detected, reopening")
				f.Close()
				newF, openErr := os.Open(t.src.Path)
				if openErr != nil {
					t.logger.Error().Err(openErr).Msg("failed to reopen after rotation")
					return
				}
				f = newF
				reader.Reset(f)
				partial.Reset()
				lastSize = 0
				continue
			}
			lastSize = info.Size()
		}
		if !sleepCtx(ctx, 250*time.Millisecond) {
			return
		}
	}
}

func (t *Tailer) handle(line string) {
	line = strings.TrimSpace(line)
	if line == "" {
		return
	}
	ev, err := decodeLine([]byte(line))
	if err != nil {
		t.rejected.Add(1)
		t.logger.Debug().Err(err).Str("raw", truncate(line, 200)).Msg("malformed event line")
		return
	}
	if ev.Source == "" {
		ev.Source = t.src.Source
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	}
	if err := t.pub.PublishEvent(ev); err != nil {
		t.rejected.Add(1)
		t.logger.Error().Err(err).Msg("failed to publish event")
		return
	}
	t.accepted.Add(1)
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

// TailManager runs one Tailer per configured source.
type TailManager struct {
	mu      sync.Mutex
	tailers []*Tailer
	logger  zerolog.Logger
}

// NewTailManager creates an empty manager.
func NewTailManager(logger zerolog.Logger) *TailManager {
	return &TailManager{logger: logger.With().Str("component", "tail_manager").Logger()}
}

// StartAll starts a tailer per source. Sources that fail to open are logged
// and skipped; the number started is returned.
func (m *TailManager) StartAll(ctx context.Context, sources []core.TailSource, pub Publisher) int {
	started := 0
	for _, src := range sources {
		t := NewTailer(src, pub, m.logger)
		if err := t.Start(ctx); err != nil {
			m.logger.Error().Err(err).Str("tailer", t.Name()).Msg("failed to start tailer")
			continue
		}
		m.mu.Lock()
		m.tailers = append(m.tailers, t)
		m.mu.Unlock()
		started++
		m.logger.Info().Str("tailer", t.Name()).Bool("from_start", src.FromStart).Msg("tailer started")
	}
	return started
}

// StopAll stops every running tailer.
func (m *TailManager) StopAll() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, t := range m.tailers {
		_ = t.Stop()
	}
	m.tailers = nil
}

// Count returns the number of running tailers.
func (m *TailManager) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.tailers)
}

// Status reports per-tailer counters.
func (m *TailManager) Status() []map[string]interface{} {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]map[string]interface{}, 0, len(m.tailers))
	for _, t := range m.tailers {
		acc, rej := t.Stats()
		out = append(out, map[string]interface{}{
			"name":     t.Name(),
			"accepted": acc,
			"rejected": rej,
		})
	}
	return out
}
