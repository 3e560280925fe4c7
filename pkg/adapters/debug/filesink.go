package debug

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	"go.uber.org/zap"
)

// FileSink is an append-only JSONL diagnostic sink. It is constructed and
// injected at runtime startup with its lifecycle tied to runtime start/stop;
// there is no ambient global or lazy file handle. Write failures are logged
// and swallowed so diagnostics can never affect execution.
type FileSink struct {
	logger *zap.Logger

	mu     sync.Mutex
	file   *os.File
	failed bool
}

// NewFileSink opens (or creates) the sink file for appending.
func NewFileSink(path string, logger *zap.Logger) (*FileSink, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("failed to open debug sink: %w", err)
	}
	return &FileSink{file: f, logger: logger}, nil
}

// Write appends one record. Errors are reported once and then suppressed to
// avoid log spam from a dead disk.
func (s *FileSink) Write(record map[string]any) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.file == nil {
		return
	}

	record["ts"] = time.Now().UTC().Format(time.RFC3339Nano)
	data, err := json.Marshal(record)
	if err != nil {
		s.reportOnce("failed to marshal debug record", err)
		return
	}
	if _, err := s.file.Write(append(data, '\n')); err != nil {
		s.reportOnce("failed to write debug record", err)
	}
}

func (s *FileSink) reportOnce(msg string, err error) {
	if s.failed {
		return
	}
	s.failed = true
	s.logger.Warn(msg, zap.Error(err))
}

// Close flushes and closes the sink file.
func (s *FileSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.file == nil {
		return nil
	}
	err := s.file.Close()
	s.file = nil
	return err
}
