package file

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/strandlabs/strand/internal/domain"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := NewStore(t.TempDir(), zap.NewNop())
	require.NoError(t, err)
	return store
}

func TestSessionRoundTrip(t *testing.T) {
	t.Parallel()
	store := newTestStore(t)
	ctx := context.Background()

	sess := &domain.Session{
		ID:              "s1",
		GraphID:         "g1",
		ExecutionID:     "e1",
		Status:          domain.SessionRunning,
		CurrentNode:     "b",
		ExecutionPath:   []string{"a", "b"},
		NodeVisitCounts: map[string]int{"a": 1, "b": 1},
		Memory:          domain.Memory{"k": "v"},
		CreatedAt:       time.Now().UTC(),
	}
	require.NoError(t, store.SaveSession(ctx, sess))

	// Overwriting with new state is the normal path.
	sess.Status = domain.SessionCompleted
	require.NoError(t, store.SaveSession(ctx, sess))

	got, err := store.LoadSession(ctx, "s1")
	require.NoError(t, err)
	require.Equal(t, domain.SessionCompleted, got.Status)
	require.Equal(t, []string{"a", "b"}, got.ExecutionPath)
	require.Equal(t, "v", got.Memory["k"])
}

func TestLoadSessionMissingIsNotFound(t *testing.T) {
	t.Parallel()
	store := newTestStore(t)

	_, err := store.LoadSession(context.Background(), "nope")
	require.ErrorIs(t, err, domain.ErrNotFound)
}

func TestLoadSessionCorruptIsReadError(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	store, err := NewStore(dir, zap.NewNop())
	require.NoError(t, err)

	sessDir := filepath.Join(dir, "sessions", "broken")
	require.NoError(t, os.MkdirAll(sessDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(sessDir, "status.json"), []byte("{not json"), 0o644))

	_, err = store.LoadSession(context.Background(), "broken")
	require.ErrorIs(t, err, domain.ErrReadError)
	require.NotErrorIs(t, err, domain.ErrNotFound)
}

func TestStepLogAppendOrder(t *testing.T) {
	t.Parallel()
	store := newTestStore(t)
	ctx := context.Background()

	for i := 1; i <= 3; i++ {
		require.NoError(t, store.AppendStep(ctx, &domain.StepRecord{
			SessionID: "s1",
			NodeID:    "n",
			Turn:      i,
			Verdict:   domain.VerdictPositive,
			Timestamp: time.Now().UTC(),
		}))
	}

	steps, err := store.ReadSteps(ctx, "s1")
	require.NoError(t, err)
	require.Len(t, steps, 3)
	for i, s := range steps {
		require.Equal(t, i+1, s.Turn)
	}
}

func TestReadStepsNoLogYieldsEmpty(t *testing.T) {
	t.Parallel()
	store := newTestStore(t)

	steps, err := store.ReadSteps(context.Background(), "never-ran")
	require.NoError(t, err)
	require.Empty(t, steps)
}

func TestReadStepsCorruptLineIsReadError(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	store, err := NewStore(dir, zap.NewNop())
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, store.AppendStep(ctx, &domain.StepRecord{SessionID: "s1", NodeID: "n", Turn: 1}))

	logPath := filepath.Join(dir, "sessions", "s1", "steps.jsonl")
	f, err := os.OpenFile(logPath, os.O_WRONLY|os.O_APPEND, 0o644)
	require.NoError(t, err)
	_, err = f.WriteString("garbage line\n")
	require.NoError(t, err)
	require.NoError(t, f.Close())

	_, err = store.ReadSteps(ctx, "s1")
	require.ErrorIs(t, err, domain.ErrReadError)
}

func TestCheckpointIsImmutable(t *testing.T) {
	t.Parallel()
	store := newTestStore(t)
	ctx := context.Background()

	cp := &domain.Checkpoint{
		ID:        "cp1",
		SessionID: "s1",
		GraphID:   "g1",
		NodeID:    "a",
		Memory:    domain.Memory{"k": "v"},
		CreatedAt: time.Now().UTC(),
	}
	require.NoError(t, store.SaveCheckpoint(ctx, cp))

	// A second write under the same id is refused, not silently replaced.
	cp2 := &domain.Checkpoint{ID: "cp1", SessionID: "s1", Memory: domain.Memory{"k": "other"}}
	err := store.SaveCheckpoint(ctx, cp2)
	require.Error(t, err)
	require.Contains(t, err.Error(), "already exists")

	got, err := store.LoadCheckpoint(ctx, "cp1")
	require.NoError(t, err)
	require.Equal(t, "v", got.Memory["k"])
}

func TestLoadCheckpointMissingIsNotFound(t *testing.T) {
	t.Parallel()
	store := newTestStore(t)

	_, err := store.LoadCheckpoint(context.Background(), "nope")
	require.ErrorIs(t, err, domain.ErrNotFound)
}
