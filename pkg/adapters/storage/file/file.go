package file

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"go.uber.org/zap"

	"github.com/strandlabs/strand/internal/domain"
)

// Store is the filesystem-backed session store.
//
// Layout under the data directory:
//
//	sessions/<session_id>/status.json    current session document
//	sessions/<session_id>/steps.jsonl    append-only step log, one record per line
//	checkpoints/<checkpoint_id>.json     immutable snapshot per checkpoint
//
// Writes to status.json go through a temp file and rename so readers never
// observe a partial document. Step records are only ever appended.
type Store struct {
	dir    string
	logger *zap.Logger

	// mu serializes writers per session id.
	mu sync.Mutex
}

// NewStore creates the data directory layout if needed.
func NewStore(dir string, logger *zap.Logger) (*Store, error) {
	for _, sub := range []string{"sessions", "checkpoints"} {
		if err := os.MkdirAll(filepath.Join(dir, sub), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create data directory: %w", err)
		}
	}
	return &Store{dir: dir, logger: logger}, nil
}

func (s *Store) sessionDir(sessionID string) string {
	return filepath.Join(s.dir, "sessions", sessionID)
}

// SaveSession writes the status document atomically.
func (s *Store) SaveSession(ctx context.Context, sess *domain.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	dir := s.sessionDir(sess.ID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create session directory: %w", err)
	}

	data, err := json.Marshal(sess)
	if err != nil {
		return fmt.Errorf("failed to marshal session: %w", err)
	}

	tmp := filepath.Join(dir, "status.json.tmp")
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("failed to write session: %w", err)
	}
	if err := os.Rename(tmp, filepath.Join(dir, "status.json")); err != nil {
		return fmt.Errorf("failed to publish session: %w", err)
	}
	return nil
}

// LoadSession reconstructs a session from its status document. A missing
// session maps to domain.ErrNotFound; unreadable or corrupt state maps to
// domain.ErrReadError and is never treated as empty.
func (s *Store) LoadSession(ctx context.Context, sessionID string) (*domain.Session, error) {
	data, err := os.ReadFile(filepath.Join(s.sessionDir(sessionID), "status.json"))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("session %s: %w", sessionID, domain.ErrNotFound)
		}
		return nil, fmt.Errorf("session %s: %w: %v", sessionID, domain.ErrReadError, err)
	}

	var sess domain.Session
	if err := json.Unmarshal(data, &sess); err != nil {
		return nil, fmt.Errorf("session %s: %w: %v", sessionID, domain.ErrReadError, err)
	}
	return &sess, nil
}

// AppendStep appends one record to the session's step log.
func (s *Store) AppendStep(ctx context.Context, rec *domain.StepRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	dir := s.sessionDir(rec.SessionID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create session directory: %w", err)
	}

	f, err := os.OpenFile(filepath.Join(dir, "steps.jsonl"), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("failed to open step log: %w", err)
	}
	defer f.Close()

	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to marshal step record: %w", err)
	}
	if _, err := f.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("failed to append step record: %w", err)
	}
	return nil
}

// ReadSteps returns the session's step log in append order. A session with no
// recorded steps yields an empty slice; a corrupt line is a ReadError.
func (s *Store) ReadSteps(ctx context.Context, sessionID string) ([]domain.StepRecord, error) {
	f, err := os.Open(filepath.Join(s.sessionDir(sessionID), "steps.jsonl"))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("session %s: %w: %v", sessionID, domain.ErrReadError, err)
	}
	defer f.Close()

	var steps []domain.StepRecord
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var rec domain.StepRecord
		if err := json.Unmarshal(line, &rec); err != nil {
			return nil, fmt.Errorf("session %s: %w: malformed step record: %v", sessionID, domain.ErrReadError, err)
		}
		steps = append(steps, rec)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("session %s: %w: %v", sessionID, domain.ErrReadError, err)
	}
	return steps, nil
}

// SaveCheckpoint writes one immutable snapshot. An existing checkpoint id is
// never overwritten.
func (s *Store) SaveCheckpoint(ctx context.Context, cp *domain.Checkpoint) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	path := filepath.Join(s.dir, "checkpoints", cp.ID+".json")
	data, err := json.Marshal(cp)
	if err != nil {
		return fmt.Errorf("failed to marshal checkpoint: %w", err)
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		if errors.Is(err, fs.ErrExist) {
			return fmt.Errorf("checkpoint %s already exists", cp.ID)
		}
		return fmt.Errorf("failed to create checkpoint: %w", err)
	}
	defer f.Close()

	if _, err := f.Write(data); err != nil {
		return fmt.Errorf("failed to write checkpoint: %w", err)
	}
	return nil
}

// LoadCheckpoint reads one snapshot by id.
func (s *Store) LoadCheckpoint(ctx context.Context, checkpointID string) (*domain.Checkpoint, error) {
	data, err := os.ReadFile(filepath.Join(s.dir, "checkpoints", checkpointID+".json"))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("checkpoint %s: %w", checkpointID, domain.ErrNotFound)
		}
		return nil, fmt.Errorf("checkpoint %s: %w: %v", checkpointID, domain.ErrReadError, err)
	}

	var cp domain.Checkpoint
	if err := json.Unmarshal(data, &cp); err != nil {
		return nil, fmt.Errorf("checkpoint %s: %w: %v", checkpointID, domain.ErrReadError, err)
	}
	return &cp, nil
}
