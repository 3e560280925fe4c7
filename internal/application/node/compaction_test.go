package node

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/strandlabs/strand/internal/ports"
)

func TestEstimateTokens(t *testing.T) {
	t.Parallel()
	require.Equal(t, 0, estimateTokens(nil))
	// Each message costs a 4-token framing overhead plus content/4.
	require.Equal(t, 4, estimateTokens([]ports.Message{{Role: "user", Content: ""}}))
	require.Equal(t, 9, estimateTokens([]ports.Message{{Role: "user", Content: strings.Repeat("x", 20)}}))
	require.Equal(t, 13, estimateTokens([]ports.Message{
		{Role: "user", Content: strings.Repeat("x", 20)},
		{Role: "assistant", Content: ""},
	}))
}

func TestCompactHistoryShortHistoryUntouched(t *testing.T) {
	t.Parallel()
	history := []ports.Message{
		{Role: "user", Content: "prompt"},
		{Role: "assistant", Content: "a"},
		{Role: "user", Content: "b"},
	}
	got := compactHistory(history, 4)
	require.Equal(t, history, got)
}

func TestCompactHistoryKeepsPromptAndTail(t *testing.T) {
	t.Parallel()
	history := []ports.Message{
		{Role: "user", Content: "prompt"},
		{Role: "assistant", Content: "old answer 1"},
		{Role: "user", Content: "old result 1"},
		{Role: "assistant", Content: "old answer 2"},
		{Role: "user", Content: "recent 1"},
		{Role: "assistant", Content: "recent 2"},
	}

	got := compactHistory(history, 2)
	require.Len(t, got, 4)
	require.Equal(t, history[0], got[0])
	require.Equal(t, history[4], got[2])
	require.Equal(t, history[5], got[3])

	summary := got[1]
	require.Equal(t, "user", summary.Role)
	require.Contains(t, summary.Content, "3 earlier messages summarized")
	require.Contains(t, summary.Content, "1 user")
	require.Contains(t, summary.Content, "2 assistant")
}

func TestCompactHistoryPreservesFileReferences(t *testing.T) {
	t.Parallel()
	history := []ports.Message{
		{Role: "user", Content: "prompt"},
		{Role: "user", Content: "large output stored at file:///tmp/out-1.json for later"},
		{Role: "assistant", Content: "see file:///tmp/out-2.json, then decide"},
		{Role: "user", Content: "recent"},
	}

	got := compactHistory(history, 1)
	require.Len(t, got, 3)

	summary := got[1].Content
	require.Contains(t, summary, "Preserved file references:")
	require.Contains(t, summary, "file:///tmp/out-1.json")
	require.Contains(t, summary, "file:///tmp/out-2.json")
	// The boundary scan must not drag trailing punctuation into the ref.
	require.NotContains(t, summary, "out-2.json,")
}

func TestFileRefs(t *testing.T) {
	t.Parallel()
	require.Empty(t, fileRefs("no references here"))
	require.Equal(t,
		[]string{"file:///a.txt", "file:///b.txt"},
		fileRefs(`first "file:///a.txt" then (file:///b.txt) done`))
	// A ref at end of string terminates cleanly.
	require.Equal(t, []string{"file:///tail.log"}, fileRefs("log at file:///tail.log"))
}
