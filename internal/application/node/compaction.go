package node

import (
	"fmt"
	"strings"

	"github.com/strandlabs/strand/internal/ports"
)

// estimateTokens is a cheap history size proxy. Four bytes per token is the
// usual rule of thumb for English-heavy mixed content.
func estimateTokens(history []ports.Message) int {
	total := 0
	for _, m := range history {
		total += len(m.Content)/4 + 4
	}
	return total
}

// compactHistory replaces the oldest turns with a single summary message once
// the history exceeds the token budget. The first message (the node prompt)
// and the most recent keepTail messages survive verbatim; file-reference
// placeholders found in dropped messages are carried into the summary so
// large tool outputs stay recoverable.
func compactHistory(history []ports.Message, keepTail int) []ports.Message {
	if len(history) <= keepTail+1 {
		return history
	}

	dropped := history[1 : len(history)-keepTail]

	var refs []string
	roleCounts := make(map[string]int)
	for _, m := range dropped {
		roleCounts[m.Role]++
		refs = append(refs, fileRefs(m.Content)...)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "[context compacted: %d earlier messages summarized", len(dropped))
	for _, role := range []string{"user", "assistant", "tool"} {
		if n := roleCounts[role]; n > 0 {
			fmt.Fprintf(&b, ", %d %s", n, role)
		}
	}
	b.WriteString("]")
	if len(refs) > 0 {
		b.WriteString("\nPreserved file references:")
		for _, r := range refs {
			b.WriteString("\n- ")
			b.WriteString(r)
		}
	}

	compacted := make([]ports.Message, 0, keepTail+2)
	compacted = append(compacted, history[0])
	compacted = append(compacted, ports.Message{Role: "user", Content: b.String()})
	compacted = append(compacted, history[len(history)-keepTail:]...)
	return compacted
}

// fileRefs extracts file:// placeholders from message content.
func fileRefs(content string) []string {
	var refs []string
	for i := 0; i < len(content); {
		idx := strings.Index(content[i:], "file://")
		if idx < 0 {
			break
		}
		start := i + idx
		end := start
		for end < len(content) && !isRefBoundary(content[end]) {
			end++
		}
		refs = append(refs, content[start:end])
		i = end
	}
	return refs
}

func isRefBoundary(c byte) bool {
	return c == ' ' || c == '\n' || c == '\t' || c == '"' || c == ')' || c == ']' || c == ','
}
