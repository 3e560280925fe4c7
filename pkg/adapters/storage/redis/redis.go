package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/strandlabs/strand/internal/domain"
)

// Store implements the session store on Redis with a TTL per session. The
// step log lives in a list and is only ever RPUSHed, matching the append-only
// contract.
type Store struct {
	client *redis.Client
	logger *zap.Logger
	ttl    time.Duration
}

// NewStore creates a new Redis session store. A zero ttl keeps records
// forever.
func NewStore(client *redis.Client, ttl time.Duration, logger *zap.Logger) *Store {
	return &Store{client: client, ttl: ttl, logger: logger}
}

func sessionKey(id string) string    { return "strand:session:" + id }
func stepsKey(id string) string      { return "strand:steps:" + id }
func checkpointKey(id string) string { return "strand:checkpoint:" + id }

// SaveSession persists the session document with TTL.
func (s *Store) SaveSession(ctx context.Context, sess *domain.Session) error {
	data, err := json.Marshal(sess)
	if err != nil {
		return fmt.Errorf("failed to marshal session: %w", err)
	}
	if err := s.client.Set(ctx, sessionKey(sess.ID), data, s.ttl).Err(); err != nil {
		return fmt.Errorf("failed to save session: %w", err)
	}
	return nil
}

// LoadSession retrieves a session by id.
func (s *Store) LoadSession(ctx context.Context, sessionID string) (*domain.Session, error) {
	data, err := s.client.Get(ctx, sessionKey(sessionID)).Bytes()
	if err != nil {
		if err == redis.Nil {
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

// AppendStep appends one record to the session's step list.
func (s *Store) AppendStep(ctx context.Context, rec *domain.StepRecord) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to marshal step record: %w", err)
	}

	key := stepsKey(rec.SessionID)
	pipe := s.client.Pipeline()
	pipe.RPush(ctx, key, data)
	if s.ttl > 0 {
		pipe.Expire(ctx, key, s.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to append step record: %w", err)
	}
	return nil
}

// ReadSteps returns the step log in append order.
func (s *Store) ReadSteps(ctx context.Context, sessionID string) ([]domain.StepRecord, error) {
	items, err := s.client.LRange(ctx, stepsKey(sessionID), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("session %s: %w: %v", sessionID, domain.ErrReadError, err)
	}

	steps := make([]domain.StepRecord, 0, len(items))
	for _, item := range items {
		var rec domain.StepRecord
		if err := json.Unmarshal([]byte(item), &rec); err != nil {
			return nil, fmt.Errorf("session %s: %w: malformed step record: %v", sessionID, domain.ErrReadError, err)
		}
		steps = append(steps, rec)
	}
	return steps, nil
}

// SaveCheckpoint stores one immutable snapshot. SetNX refuses to overwrite an
// existing checkpoint id.
func (s *Store) SaveCheckpoint(ctx context.Context, cp *domain.Checkpoint) error {
	data, err := json.Marshal(cp)
	if err != nil {
		return fmt.Errorf("failed to marshal checkpoint: %w", err)
	}

	ok, err := s.client.SetNX(ctx, checkpointKey(cp.ID), data, s.ttl).Result()
	if err != nil {
		return fmt.Errorf("failed to save checkpoint: %w", err)
	}
	if !ok {
		return fmt.Errorf("checkpoint %s already exists", cp.ID)
	}
	return nil
}

// LoadCheckpoint retrieves a checkpoint by id.
func (s *Store) LoadCheckpoint(ctx context.Context, checkpointID string) (*domain.Checkpoint, error) {
	data, err := s.client.Get(ctx, checkpointKey(checkpointID)).Bytes()
	if err != nil {
		if err == redis.Nil {
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
