package outcome

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/entrhq/formforge/pkg/form"
)

// DefaultMaxTraceBytes is the size at which a trace file is rotated.
const DefaultMaxTraceBytes = 10 << 20

// JSONLSink appends one JSON object per line to trace files named
// <prefix>.jsonl, <prefix>.1.jsonl, ... in dir. A file is rotated before a
// line would push it past the size limit.
type JSONLSink struct {
	dir      string
	prefix   string
	maxBytes int64

	mu    sync.Mutex
	file  *os.File
	size  int64
	index int
}

// NewJSONLSink creates dir if needed and opens the first trace file.
// maxBytes <= 0 selects DefaultMaxTraceBytes.
func NewJSONLSink(dir, prefix string, maxBytes int64) (*JSONLSink, error) {
	if maxBytes <= 0 {
		maxBytes = DefaultMaxTraceBytes
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create trace directory: %w", err)
	}
	s := &JSONLSink{dir: dir, prefix: prefix, maxBytes: maxBytes}
	if err := s.open(); err != nil {
		return nil, err
	}
	return s, nil
}

// Files returns the trace files written so far, oldest first.
func (s *JSONLSink) Files() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	files := make([]string, 0, s.index+1)
	for i := 0; i <= s.index; i++ {
		files = append(files, s.path(i))
	}
	return files
}

func (s *JSONLSink) path(i int) string {
	if i == 0 {
		return filepath.Join(s.dir, s.prefix+".jsonl")
	}
	return filepath.Join(s.dir, fmt.Sprintf("%s.%d.jsonl", s.prefix, i))
}

func (s *JSONLSink) open() error {
	f, err := os.OpenFile(s.path(s.index), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0600)
	if err != nil {
		return fmt.Errorf("failed to open trace file: %w", err)
	}
	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return fmt.Errorf("failed to stat trace file: %w", err)
	}
	s.file = f
	s.size = info.Size()
	return nil
}

func (s *JSONLSink) write(v any) error {
	line, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal trace record: %w", err)
	}
	line = append(line, '\n')

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.file == nil {
		return fmt.Errorf("trace sink is closed")
	}
	if s.size > 0 && s.size+int64(len(line)) > s.maxBytes {
		if err := s.file.Close(); err != nil {
			return fmt.Errorf("failed to close trace file: %w", err)
		}
		s.index++
		if err := s.open(); err != nil {
			s.file = nil
			return err
		}
		debugLog.Debugf("Rotated trace to %s", s.path(s.index))
	}
	n, err := s.file.Write(line)
	s.size += int64(n)
	if err != nil {
		return fmt.Errorf("failed to write trace record: %w", err)
	}
	return nil
}

// WriteResult implements Sink.
func (s *JSONLSink) WriteResult(ctx context.Context, runID string, res form.ExecutionResult) error {
	return s.write(NewResultRecord(runID, res))
}

// WriteRun implements Sink.
func (s *JSONLSink) WriteRun(ctx context.Context, out *form.RunOutcome) error {
	return s.write(NewRunRecord(out))
}

// Close implements Sink.
func (s *JSONLSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.file == nil {
		return nil
	}
	err := s.file.Close()
	s.file = nil
	return err
}
