package node

import (
	"context"
	"fmt"
	"strings"

	"github.com/strandlabs/strand/internal/ports"
)

// toolCall accumulates one tool invocation as argument fragments stream in.
type toolCall struct {
	name string
	args strings.Builder
}

// streamOutcome is everything one STREAMING phase produced.
type streamOutcome struct {
	text  string
	calls []*toolCall
	err   error
}

// collectStream drains one provider stream into a turn outcome. The stream is
// lazy, finite and non-restartable: the channel closes after a done or error
// element, and a context cancellation mid-stream surfaces as an error outcome
// rather than a partial success.
func collectStream(ctx context.Context, ch <-chan ports.StreamEvent, emitDelta func(text string)) *streamOutcome {
	var text strings.Builder
	calls := make(map[int]*toolCall)
	order := []int{}

	for {
		select {
		case <-ctx.Done():
			return &streamOutcome{err: ctx.Err()}
		case ev, ok := <-ch:
			if !ok {
				return finishStream(&text, calls, order, nil)
			}
			switch ev.Kind {
			case ports.StreamText:
				text.WriteString(ev.Text)
				if emitDelta != nil {
					emitDelta(ev.Text)
				}
			case ports.StreamToolCall:
				tc, seen := calls[ev.Index]
				if !seen {
					tc = &toolCall{name: ev.ToolName}
					calls[ev.Index] = tc
					order = append(order, ev.Index)
				}
				if tc.name == "" {
					tc.name = ev.ToolName
				}
				tc.args.WriteString(ev.ArgsFragment)
			case ports.StreamError:
				err := ev.Err
				if err == nil {
					err = fmt.Errorf("provider stream failed")
				}
				return finishStream(&text, calls, order, err)
			case ports.StreamDone:
				return finishStream(&text, calls, order, nil)
			}
		}
	}
}

func finishStream(text *strings.Builder, calls map[int]*toolCall, order []int, err error) *streamOutcome {
	out := &streamOutcome{text: text.String(), err: err}
	for _, idx := range order {
		out.calls = append(out.calls, calls[idx])
	}
	return out
}
