package llm

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	openai "github.com/sashabaranov/go-openai"
)

// OpenAI is a Backend on the Chat Completions API. It also serves other
// vendors speaking the same protocol.
type OpenAI struct {
	name        string
	client      *openai.Client
	model       string
	maxTokens   int
	temperature float32
}

// NewOpenAI creates an OpenAI backend. opts.BaseURL, when set, points it at
// a compatible server.
func NewOpenAI(opts Options) *OpenAI {
	config := openai.DefaultConfig(opts.APIKey)
	if opts.BaseURL != "" {
		config.BaseURL = opts.BaseURL
	}
	return newOpenAICompatible("openai", config, opts)
}

func newOpenAICompatible(name string, config openai.ClientConfig, opts Options) *OpenAI {
	temperature := float32(0.7)
	if opts.Temperature != nil {
		temperature = *opts.Temperature
	}
	return &OpenAI{
		name:        name,
		client:      openai.NewClientWithConfig(config),
		model:       opts.Model,
		maxTokens:   int(opts.MaxTokens),
		temperature: temperature,
	}
}

// Name returns the vendor name.
func (b *OpenAI) Name() string {
	return b.name
}

// Model returns the configured model.
func (b *OpenAI) Model() string {
	return b.model
}

// Complete sends one chat completion request.
func (b *OpenAI) Complete(ctx context.Context, req Request) (Reply, error) {
	cr := openai.ChatCompletionRequest{
		Model:               b.model,
		Messages:            openAIMessages(req),
		MaxCompletionTokens: b.maxTokens,
		Temperature:         b.temperature,
	}

	if !req.Streaming() {
		resp, err := b.client.CreateChatCompletion(ctx, cr)
		if err != nil {
			return Reply{}, fmt.Errorf("%s request failed: %w", b.name, err)
		}
		reply := Reply{Usage: Usage{
			Input:  uint32(resp.Usage.PromptTokens),
			Output: uint32(resp.Usage.CompletionTokens),
		}}
		if len(resp.Choices) > 0 {
			reply.Text = resp.Choices[0].Message.Content
			reply.StopReason = string(resp.Choices[0].FinishReason)
		}
		return reply, nil
	}

	cr.Stream = true
	cr.StreamOptions = &openai.StreamOptions{IncludeUsage: true}
	stream, err := b.client.CreateChatCompletionStream(ctx, cr)
	if err != nil {
		return Reply{}, fmt.Errorf("%s stream: %w", b.name, err)
	}
	defer stream.Close()

	var (
		reply Reply
		text  strings.Builder
	)
	for {
		chunk, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return Reply{}, fmt.Errorf("%s stream: %w", b.name, err)
		}
		// Usage arrives on a final chunk without choices.
		if chunk.Usage != nil {
			reply.Usage = Usage{
				Input:  uint32(chunk.Usage.PromptTokens),
				Output: uint32(chunk.Usage.CompletionTokens),
			}
		}
		if len(chunk.Choices) == 0 {
			continue
		}
		choice := chunk.Choices[0]
		text.WriteString(choice.Delta.Content)
		req.emit(choice.Delta.Content)
		if choice.FinishReason != "" {
			reply.StopReason = string(choice.FinishReason)
		}
	}
	reply.Text = text.String()
	return reply, nil
}

// openAIMessages puts the system prompt first. The Chat Completions API
// accepts consecutive messages of one role, so the dialogue is sent as is.
func openAIMessages(req Request) []openai.ChatCompletionMessage {
	out := make([]openai.ChatCompletionMessage, 0, len(req.Dialogue)+1)
	if req.System != "" {
		out = append(out, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: req.System,
		})
	}
	for _, msg := range req.Dialogue {
		out = append(out, openai.ChatCompletionMessage{
			Role:    msg.Role,
			Content: msg.Content,
		})
	}
	return out
}

var _ Backend = (*OpenAI)(nil)
