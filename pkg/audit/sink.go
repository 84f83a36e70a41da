package audit

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// FileSink appends NDJSON records to <root>/orchestrator-YYYY-MM-DD.ndjson,
// rotating daily by filename. The file is opened lazily and reopened when
// the UTC date changes.
type FileSink struct {
	root string

	mu      sync.Mutex
	file    *os.File
	curDate string
}

// NewFileSink creates the audit directory if needed and returns the sink.
func NewFileSink(root string) (*FileSink, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("create audit root: %w", err)
	}
	return &FileSink{root: root}, nil
}

// Write appends the batch, one JSON object per line.
func (s *FileSink) Write(records []Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := s.fileForDate(time.Now().UTC().Format("2006-01-02"))
	if err != nil {
		return err
	}

	enc := json.NewEncoder(f)
	for _, r := range records {
		if err := enc.Encode(r); err != nil {
			return fmt.Errorf("encode audit record: %w", err)
		}
	}
	return nil
}

// Close closes the current file, if any.
func (s *FileSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.file == nil {
		return nil
	}
	err := s.file.Close()
	s.file = nil
	s.curDate = ""
	return err
}

func (s *FileSink) fileForDate(date string) (*os.File, error) {
	if s.file != nil && s.curDate == date {
		return s.file, nil
	}
	if s.file != nil {
		_ = s.file.Close()
		s.file = nil
	}

	path := filepath.Join(s.root, fmt.Sprintf("orchestrator-%s.ndjson", date))
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open audit file: %w", err)
	}
	s.file = f
	s.curDate = date
	return f, nil
}

// MemorySink collects records in memory for tests.
type MemorySink struct {
	mu      sync.Mutex
	records []Record
}

// NewMemorySink returns an empty in-memory sink.
func NewMemorySink() *MemorySink {
	return &MemorySink{}
}

// Write appends the batch.
func (s *MemorySink) Write(records []Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = append(s.records, records...)
	return nil
}

// Records returns a copy of everything written so far.
func (s *MemorySink) Records() []Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Record, len(s.records))
	copy(out, s.records)
	return out
}

// ByType returns the written records with the given event type.
func (s *MemorySink) ByType(t EventType) []Record {
	var out []Record
	for _, r := range s.Records() {
		if r.EventType == t {
			out = append(out, r)
		}
	}
	return out
}
