package anthropic

import (
	"context"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"go.uber.org/zap"

	"github.com/strandlabs/strand/internal/ports"
)

// Provider implements the streaming LLM provider on the Anthropic Messages
// API. Each Stream call produces a lazy, finite channel of typed events; the
// channel is closed after a done or error element.
type Provider struct {
	client anthropic.Client
	logger *zap.Logger
}

// NewProvider creates an Anthropic-backed provider.
func NewProvider(apiKey string, logger *zap.Logger) *Provider {
	return &Provider{
		client: anthropic.NewClient(option.WithAPIKey(apiKey)),
		logger: logger,
	}
}

// Stream starts one streamed completion and adapts SDK events onto the
// provider-neutral stream shape.
func (p *Provider) Stream(ctx context.Context, req *ports.CompletionRequest) (<-chan ports.StreamEvent, error) {
	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(req.Model),
		MaxTokens: int64(req.MaxTokens),
		Messages:  buildMessages(req.Messages),
	}
	if req.System != "" {
		params.System = []anthropic.TextBlockParam{{Text: req.System}}
	}
	if req.Temperature > 0 {
		params.Temperature = anthropic.Float(req.Temperature)
	}
	for _, tool := range req.Tools {
		params.Tools = append(params.Tools, anthropic.ToolUnionParam{
			OfTool: &anthropic.ToolParam{
				Name:        tool.Name,
				Description: anthropic.String(tool.Description),
				InputSchema: anthropic.ToolInputSchemaParam{
					Properties: tool.Parameters["properties"],
				},
			},
		})
	}

	stream := p.client.Messages.NewStreaming(ctx, params)
	out := make(chan ports.StreamEvent)

	go func() {
		defer close(out)

		for stream.Next() {
			event := stream.Current()
			switch ev := event.AsAny().(type) {
			case anthropic.ContentBlockStartEvent:
				if block, ok := ev.ContentBlock.AsAny().(anthropic.ToolUseBlock); ok {
					send(ctx, out, ports.StreamEvent{
						Kind:     ports.StreamToolCall,
						ToolName: block.Name,
						Index:    int(ev.Index),
					})
				}
			case anthropic.ContentBlockDeltaEvent:
				switch delta := ev.Delta.AsAny().(type) {
				case anthropic.TextDelta:
					send(ctx, out, ports.StreamEvent{Kind: ports.StreamText, Text: delta.Text})
				case anthropic.InputJSONDelta:
					send(ctx, out, ports.StreamEvent{
						Kind:         ports.StreamToolCall,
						Index:        int(ev.Index),
						ArgsFragment: delta.PartialJSON,
					})
				}
			}
		}

		if err := stream.Err(); err != nil {
			p.logger.Warn("anthropic stream error", zap.Error(err))
			send(ctx, out, ports.StreamEvent{Kind: ports.StreamError, Err: err})
			return
		}
		send(ctx, out, ports.StreamEvent{Kind: ports.StreamDone})
	}()

	return out, nil
}

func send(ctx context.Context, out chan<- ports.StreamEvent, ev ports.StreamEvent) {
	select {
	case out <- ev:
	case <-ctx.Done():
	}
}

func buildMessages(msgs []ports.Message) []anthropic.MessageParam {
	out := make([]anthropic.MessageParam, 0, len(msgs))
	for _, m := range msgs {
		block := anthropic.NewTextBlock(m.Content)
		if m.Role == "assistant" {
			out = append(out, anthropic.NewAssistantMessage(block))
			continue
		}
		out = append(out, anthropic.NewUserMessage(block))
	}
	return out
}
