package llm

import (
	"context"
	"fmt"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

// Anthropic is a Backend on the Anthropic Messages API.
type Anthropic struct {
	client      anthropic.Client
	model       string
	maxTokens   int64
	temperature float64
}

// NewAnthropic creates an Anthropic backend. opts must carry an API key.
func NewAnthropic(opts Options) *Anthropic {
	temperature := 0.7
	if opts.Temperature != nil {
		temperature = float64(*opts.Temperature)
	}
	return &Anthropic{
		client:      anthropic.NewClient(option.WithAPIKey(opts.APIKey)),
		model:       opts.Model,
		maxTokens:   int64(opts.MaxTokens),
		temperature: temperature,
	}
}

// Name returns "anthropic".
func (b *Anthropic) Name() string {
	return "anthropic"
}

// Model returns the configured model.
func (b *Anthropic) Model() string {
	return b.model
}

// Complete sends one Messages request. Streaming requests accumulate the
// event stream into a full message so both paths share the reply decoding.
func (b *Anthropic) Complete(ctx context.Context, req Request) (Reply, error) {
	params := b.params(req)

	if !req.Streaming() {
		msg, err := b.client.Messages.New(ctx, params)
		if err != nil {
			return Reply{}, fmt.Errorf("anthropic request failed: %w", err)
		}
		return anthropicReply(msg), nil
	}

	stream := b.client.Messages.NewStreaming(ctx, params)
	defer stream.Close()

	msg := anthropic.Message{}
	for stream.Next() {
		event := stream.Current()
		if err := msg.Accumulate(event); err != nil {
			return Reply{}, fmt.Errorf("anthropic stream: %w", err)
		}
		if delta, ok := event.AsAny().(anthropic.ContentBlockDeltaEvent); ok {
			if text, ok := delta.Delta.AsAny().(anthropic.TextDelta); ok {
				req.emit(text.Text)
			}
		}
	}
	if err := stream.Err(); err != nil {
		return Reply{}, fmt.Errorf("anthropic stream: %w", err)
	}
	return anthropicReply(&msg), nil
}

func (b *Anthropic) params(req Request) anthropic.MessageNewParams {
	params := anthropic.MessageNewParams{
		Model:       anthropic.Model(b.model),
		MaxTokens:   b.maxTokens,
		Messages:    anthropicMessages(req.Dialogue),
		Temperature: anthropic.Float(b.temperature),
	}
	if req.System != "" {
		params.System = []anthropic.TextBlockParam{{Text: req.System}}
	}
	return params
}

func anthropicReply(msg *anthropic.Message) Reply {
	reply := Reply{
		StopReason: string(msg.StopReason),
		Usage: Usage{
			Input:  uint32(msg.Usage.InputTokens),
			Output: uint32(msg.Usage.OutputTokens),
		},
	}
	for _, block := range msg.Content {
		if text, ok := block.AsAny().(anthropic.TextBlock); ok {
			reply.Text += text.Text
		}
	}
	return reply
}

// anthropicMessages expects an already alternating dialogue.
func anthropicMessages(dialogue []ChatMessage) []anthropic.MessageParam {
	out := make([]anthropic.MessageParam, 0, len(dialogue))
	for _, msg := range dialogue {
		block := anthropic.NewTextBlock(msg.Content)
		switch msg.Role {
		case RoleUser:
			out = append(out, anthropic.NewUserMessage(block))
		case RoleAssistant:
			out = append(out, anthropic.NewAssistantMessage(block))
		}
	}
	return out
}

var _ Backend = (*Anthropic)(nil)
