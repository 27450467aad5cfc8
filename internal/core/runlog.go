package core

import (
	"sync"
	"time"

	"github.com/bolcd/bolcd/internal/discovery"
)

// RunSummary describes one recompute run.
type RunSummary struct {
	RunID     string                     `json:"run_id"`
	Actor     string                     `json:"actor"`
	StartedAt time.Time                  `json:"started_at"`
	TookMS    int64                      `json:"took_ms"`
	Events    int                        `json:"events"`
	Segments  []string                   `json:"segments"`
	Edges     int                        `json:"edges"`
	Subsumed  int                        `json:"subsumed"`
	Failures  []discovery.SegmentFailure `json:"failures,omitempty"`
	Error     string                     `json:"error,omitempty"`
}

// RunLog is a fixed-size ring buffer of recent run summaries.
type RunLog struct {
	mu      sync.RWMutex
	entries []RunSummary
	maxSize int
	pos     int
	full    bool
}

// NewRunLog creates a ring buffer that holds up to maxSize runs.
func NewRunLog(maxSize int) *RunLog {
	if maxSize <= 0 {
		maxSize = 100
	}
	return &RunLog{
		entries: make([]RunSummary, maxSize),
		maxSize: maxSize,
	}
}

// Add records a run, overwriting the oldest when full.
func (l *RunLog) Add(s RunSummary) {
	l.mu.Lock()
	l.entries[l.pos] = s
	l.pos = (l.pos + 1) % l.maxSize
	if l.pos == 0 {
		l.full = true
	}
	l.mu.Unlock()
}

// Len returns the number of stored runs.
func (l *RunLog) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if l.full {
		return l.maxSize
	}
	return l.pos
}

// Recent returns the most recent n runs in chronological order.
func (l *RunLog) Recent(n int) []RunSummary {
	l.mu.RLock()
	defer l.mu.RUnlock()

	var total int
	if l.full {
		total = l.maxSize
	} else {
		total = l.pos
	}

	if n > total {
		n = total
	}
	if n <= 0 {
		return []RunSummary{}
	}

	result := make([]RunSummary, n)
	start := l.pos - n
	if start < 0 {
		start += l.maxSize
	}
	for i := 0; i < n; i++ {
		result[i] = l.entries[(start+i)%l.maxSize]
	}
	return result
}

// Last returns the most recent run.
func (l *RunLog) Last() (RunSummary, bool) {
	recent := l.Recent(1)
	if len(recent) == 0 {
		return RunSummary{}, false
	}
	return recent[0], true
}

func summarize(runID, actor string, started time.Time, took time.Duration, events int, res *discovery.Result, err error) RunSummary {
	s := RunSummary{
		RunID:     runID,
		Actor:     actor,
		StartedAt: started.UTC(),
		TookMS:    took.Milliseconds(),
		Events:    events,
		Segments:  []string{},
	}
	if err != nil {
		s.Error = err.Error()
	}
	if res == nil {
		return s
	}
	if s.RunID == "" {
		s.RunID = res.RunID
	}
	s.Segments = res.SegmentIDs()
	s.Failures = res.Failures
	for _, g := range res.Graphs {
		s.Edges += len(g.Edges)
		s.Subsumed += len(g.Subsumed)
	}
	return s
}
