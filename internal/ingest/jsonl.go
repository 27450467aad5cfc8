package ingest

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/bolcd/bolcd/internal/discovery"
)

const maxLineSize = 1 << 20

// LineError reports a malformed input line.
type LineError struct {
	Line int
	Err  error
}

func (e *LineError) Error() string { return fmt.Sprintf("line %d: %v", e.Line, e.Err) }

func (e *LineError) Unwrap() error { return e.Err }

// Reader streams events from newline-delimited JSON. Blank lines are
// skipped.
type Reader struct {
	scanner *bufio.Scanner
	line    int
}

// NewReader wraps r.
func NewReader(r io.Reader) *Reader {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), maxLineSize)
	return &Reader{scanner: sc}
}

// Next returns the next event, or io.EOF when the input is exhausted.
func (r *Reader) Next() (discovery.Event, error) {
	for r.scanner.Scan() {
		r.line++
		line := bytes.TrimSpace(r.scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		ev, err := decodeLine(line)
		if err != nil {
			return discovery.Event{}, &LineError{Line: r.line, Err: err}
		}
		return ev, nil
	}
	if err := r.scanner.Err(); err != nil {
		return discovery.Event{}, &LineError{Line: r.line + 1, Err: err}
	}
	return discovery.Event{}, io.EOF
}

// Line is the number of the last line read.
func (r *Reader) Line() int { return r.line }

// ReadAll drains r.
func ReadAll(r io.Reader) ([]discovery.Event, error) {
	reader := NewReader(r)
	var out []discovery.Event
	for {
		ev, err := reader.Next()
		if err == io.EOF {
			return out, nil
		}
		if err != nil {
			return nil, err
		}
		out = append(out, ev)
	}
}

// ReadFile reads every event in a JSONL file. "-" reads stdin.
func ReadFile(path string) ([]discovery.Event, error) {
	if path == "-" {
		return ReadAll(os.Stdin)
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening events: %w", err)
	}
	defer f.Close()
	events, err := ReadAll(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return events, nil
}

// WriteAll writes events as JSONL.
func WriteAll(w io.Writer, events []discovery.Event) error {
	bw := bufio.NewWriter(w)
	enc := json.NewEncoder(bw)
	for i, ev := range events {
		if err := enc.Encode(ev); err != nil {
			return fmt.Errorf("event %d: %w", i, err)
		}
	}
	return bw.Flush()
}

// DecodeBody accepts either a JSON array of events or JSONL.
func DecodeBody(data []byte) ([]discovery.Event, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) > 0 && trimmed[0] == '[' {
		var events []discovery.Event
		if err := json.Unmarshal(trimmed, &events); err != nil {
			return nil, fmt.Errorf("decoding event array: %w", err)
		}
		return events, nil
	}
	return ReadAll(bytes.NewReader(trimmed))
}

func decodeLine(line []byte) (discovery.Event, error) {
	var ev discovery.Event
	if err := json.Unmarshal(line, &ev); err != nil {
		return discovery.Event{}, err
	}
	return ev, nil
}
