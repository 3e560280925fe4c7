package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/strandlabs/strand/internal/domain"
)

// Store implements the session store in memory. This is for testing purposes
// only. Records are deep-copied through JSON so tests cannot mutate stored
// state by accident.
type Store struct {
	mu          sync.RWMutex
	sessions    map[string][]byte
	steps       map[string][]domain.StepRecord
	checkpoints map[string][]byte
}

// NewStore creates a new in-memory session store.
func NewStore() *Store {
	return &Store{
		sessions:    make(map[string][]byte),
		steps:       make(map[string][]domain.StepRecord),
		checkpoints: make(map[string][]byte),
	}
}

// SaveSession persists the session document.
func (s *Store) SaveSession(ctx context.Context, sess *domain.Session) error {
	data, err := json.Marshal(sess)
	if err != nil {
		return fmt.Errorf("failed to marshal session: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[sess.ID] = data
	return nil
}

// LoadSession retrieves a session by id.
func (s *Store) LoadSession(ctx context.Context, sessionID string) (*domain.Session, error) {
	s.mu.RLock()
	data, ok := s.sessions[sessionID]
	s.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("session %s: %w", sessionID, domain.ErrNotFound)
	}

	var sess domain.Session
	if err := json.Unmarshal(data, &sess); err != nil {
		return nil, fmt.Errorf("session %s: %w: %v", sessionID, domain.ErrReadError, err)
	}
	return &sess, nil
}

// AppendStep appends one step record.
func (s *Store) AppendStep(ctx context.Context, rec *domain.StepRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.steps[rec.SessionID] = append(s.steps[rec.SessionID], *rec)
	return nil
}

// ReadSteps returns the step log in append order.
func (s *Store) ReadSteps(ctx context.Context, sessionID string) ([]domain.StepRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	steps := make([]domain.StepRecord, len(s.steps[sessionID]))
	copy(steps, s.steps[sessionID])
	return steps, nil
}

// SaveCheckpoint stores one immutable snapshot.
func (s *Store) SaveCheckpoint(ctx context.Context, cp *domain.Checkpoint) error {
	data, err := json.Marshal(cp)
	if err != nil {
		return fmt.Errorf("failed to marshal checkpoint: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.checkpoints[cp.ID]; exists {
		return fmt.Errorf("checkpoint %s already exists", cp.ID)
	}
	s.checkpoints[cp.ID] = data
	return nil
}

// LoadCheckpoint retrieves a checkpoint by id.
func (s *Store) LoadCheckpoint(ctx context.Context, checkpointID string) (*domain.Checkpoint, error) {
	s.mu.RLock()
	data, ok := s.checkpoints[checkpointID]
	s.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("checkpoint %s: %w", checkpointID, domain.ErrNotFound)
	}

	var cp domain.Checkpoint
	if err := json.Unmarshal(data, &cp); err != nil {
		return nil, fmt.Errorf("checkpoint %s: %w: %v", checkpointID, domain.ErrReadError, err)
	}
	return &cp, nil
}
