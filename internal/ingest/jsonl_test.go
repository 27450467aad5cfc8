package ingest

import (
	"bytes"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/bolcd/bolcd/internal/discovery"
)

// ─── Reader ─────────────────────────────────────────────────────────────────

func TestReader_SkipsBlankLines(t *testing.T) {
	input := `{"ts": 1700000000, "entity_id": "h1", "A": 1}

   
{"ts": 1700000001, "entity_id": "h2", "A": null, "role": "admin"}
`
	r := NewReader(strings.NewReader(input))
	var got []discovery.Event
	for {
		ev, err := r.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			t.Fatalf("Next() error: %v", err)
		}
		got = append(got, ev)
	}
	if len(got) != 2 {
		t.Fatalf("events = %d, want 2", len(got))
	}
	if got[0].EntityID != "h1" || got[1].EntityID != "h2" {
		t.Errorf("entity ids = %q, %q", got[0].EntityID, got[1].EntityID)
	}
	if got[1].Value("A").Kind() != discovery.KindMissing {
		t.Errorf("null A kind = %v, want missing", got[1].Value("A").Kind())
	}
	if r.Line() != 4 {
		t.Errorf("Line() = %d, want 4", r.Line())
	}
}

func TestReader_ReportsLineNumber(t *testing.T) {
	input := "{\"A\": 1}\n\n{\"A\": [1, 2]}\n"
	_, err := ReadAll(strings.NewReader(input))
	var le *LineError
	if !errors.As(err, &le) {
		t.Fatalf("ReadAll() error = %v, want *LineError", err)
	}
	if le.Line != 3 {
		t.Errorf("Line = %d, want 3", le.Line)
	}
}

func TestReadAll_Empty(t *testing.T) {
	events, err := ReadAll(strings.NewReader(""))
	if err != nil {
		t.Fatalf("ReadAll() error: %v", err)
	}
	if len(events) != 0 {
		t.Errorf("events = %d, want 0", len(events))
	}
}

// ─── Files ──────────────────────────────────────────────────────────────────

func TestWriteAllReadFile_RoundTrip(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	events := discovery.SyntheticChain([]string{"X", "Y", "Z"}, 60, start)

	path := filepath.Join(t.TempDir(), "events.jsonl")
	var buf bytes.Buffer
	if err := WriteAll(&buf, events); err != nil {
		t.Fatalf("WriteAll() error: %v", err)
	}
	if err := os.WriteFile(path, buf.Bytes(), 0644); err != nil {
		t.Fatal(err)
	}

	got, err := ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile() error: %v", err)
	}
	if len(got) != len(events) {
		t.Fatalf("events = %d, want %d", len(got), len(events))
	}
	for i := range events {
		if !got[i].Timestamp.Equal(events[i].Timestamp) {
			t.Errorf("event %d ts = %v, want %v", i, got[i].Timestamp, events[i].Timestamp)
		}
		for _, name := range []string{"X", "Y", "Z"} {
			a, _ := got[i].Value(name).Float()
			b, _ := events[i].Value(name).Float()
			if a != b {
				t.Errorf("event %d %s = %v, want %v", i, name, a, b)
			}
		}
	}
}

func TestReadFile_Missing(t *testing.T) {
	if _, err := ReadFile(filepath.Join(t.TempDir(), "nope.jsonl")); err == nil {
		t.Error("expected error for missing file")
	}
}

// ─── DecodeBody ─────────────────────────────────────────────────────────────

func TestDecodeBody(t *testing.T) {
	tests := []struct {
		name string
		body string
		want int
	}{
		{"array", `[{"A": 1}, {"A": 0}]`, 2},
		{"jsonl", "{\"A\": 1}\n{\"A\": 0}\n{\"A\": 2}\n", 3},
		{"empty", "", 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			events, err := DecodeBody([]byte(tt.body))
			if err != nil {
				t.Fatalf("DecodeBody() error: %v", err)
			}
			if len(events) != tt.want {
				t.Errorf("events = %d, want %d", len(events), tt.want)
			}
		})
	}
	if _, err := DecodeBody([]byte(`[{"A": 1},`)); err == nil {
		t.Error("expected error for truncated array")
	}
}
