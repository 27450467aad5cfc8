package audit

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// ErrChainBroken is returned by Verify when a record's hash or link does
// not match.
var ErrChainBroken = errors.New("audit hash chain broken")

// JSONLSink appends one JSON object per line. Each record's hash covers its
// content and the previous record's hash, so edits and deletions in the
// middle of the file are detectable.
type JSONLSink struct {
	path string
	mu   sync.Mutex
	f    *os.File
	last string
}

// NewJSONLSink creates or opens path; the directory is created if missing.
// The chain continues from the last record already in the file.
func NewJSONLSink(path string) (*JSONLSink, error) {
	if path == "" {
		return nil, os.ErrInvalid
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, err
	}
	existing, err := readRecords(path)
	if err != nil {
		return nil, err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, err
	}
	s := &JSONLSink{path: path, f: f}
	if len(existing) > 0 {
		s.last = existing[len(existing)-1].Hash
	}
	return s, nil
}

// Path returns the file backing the sink.
func (s *JSONLSink) Path() string { return s.path }

func (s *JSONLSink) Record(_ context.Context, rec Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.f == nil {
		return os.ErrClosed
	}
	rec.Timestamp = rec.Timestamp.UTC()
	rec.PrevHash = s.last
	h, err := ComputeHash(rec)
	if err != nil {
		return fmt.Errorf("hash audit record: %w", err)
	}
	rec.Hash = h
	data, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	data = append(data, '\n')
	if _, err := s.f.Write(data); err != nil {
		return err
	}
	s.last = h
	return nil
}

// Tail returns up to limit of the newest records, oldest first.
func (s *JSONLSink) Tail(_ context.Context, limit int) ([]Record, error) {
	s.sync()
	records, err := readRecords(s.path)
	if err != nil {
		return nil, err
	}
	return tail(records, limit), nil
}

// Verify recomputes every hash and link. It returns the number of records
// checked, and an error wrapping ErrChainBroken at the first mismatch.
func (s *JSONLSink) Verify() (int, error) {
	s.sync()
	records, err := readRecords(s.path)
	if err != nil {
		return 0, err
	}
	return VerifyChain(records)
}

// VerifyChain checks hashes and links of records in file order.
func VerifyChain(records []Record) (int, error) {
	prev := ""
	for i, rec := range records {
		if rec.PrevHash != prev {
			return i, fmt.Errorf("%w: record %d (%s) links to %q, want %q", ErrChainBroken, i+1, rec.ID, rec.PrevHash, prev)
		}
		want, err := ComputeHash(rec)
		if err != nil {
			return i, err
		}
		if rec.Hash != want {
			return i, fmt.Errorf("%w: record %d (%s) hash mismatch", ErrChainBroken, i+1, rec.ID)
		}
		prev = rec.Hash
	}
	return len(records), nil
}

func (s *JSONLSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.f == nil {
		return nil
	}
	err := s.f.Close()
	s.f = nil
	return err
}

func (s *JSONLSink) sync() {
	s.mu.Lock()
	if s.f != nil {
		_ = s.f.Sync()
	}
	s.mu.Unlock()
}

// readRecords decodes every non-empty line. Numbers in diffs are kept as
// json.Number so re-hashing reproduces the written bytes.
func readRecords(path string) ([]Record, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	defer f.Close()

	var out []Record
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	line := 0
	for sc.Scan() {
		line++
		raw := bytes.TrimSpace(sc.Bytes())
		if len(raw) == 0 {
			continue
		}
		dec := json.NewDecoder(bytes.NewReader(raw))
		dec.UseNumber()
		var rec Record
		if err := dec.Decode(&rec); err != nil {
			return nil, fmt.Errorf("%s:%d: %w", path, line, err)
		}
		out = append(out, rec)
	}
	return out, sc.Err()
}
