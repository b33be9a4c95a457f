package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"google.golang.org/genai"
)

// Gemini is a Backend on the Google Gemini API.
type Gemini struct {
	client      *genai.Client
	model       string
	maxTokens   int32
	temperature float32
	// initErr is reported on first use so construction never fails.
	initErr error
}

// NewGemini creates a Gemini backend.
func NewGemini(opts Options) *Gemini {
	b := &Gemini{
		model:       opts.Model,
		maxTokens:   int32(opts.MaxTokens),
		temperature: 0.7,
	}
	if opts.Temperature != nil {
		b.temperature = *opts.Temperature
	}

	client, err := genai.NewClient(context.Background(), &genai.ClientConfig{
		APIKey:  opts.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		b.initErr = fmt.Errorf("gemini client: %w", err)
		return b
	}
	b.client = client
	return b
}

// Name returns "gemini".
func (b *Gemini) Name() string {
	return "gemini"
}

// Model returns the configured model.
func (b *Gemini) Model() string {
	return b.model
}

// Complete sends one generate request.
func (b *Gemini) Complete(ctx context.Context, req Request) (Reply, error) {
	if b.initErr != nil {
		return Reply{}, b.initErr
	}
	if b.client == nil {
		return Reply{}, errors.New("gemini client not initialized")
	}

	config := &genai.GenerateContentConfig{
		Temperature:     genai.Ptr(b.temperature),
		MaxOutputTokens: b.maxTokens,
	}
	if req.System != "" {
		config.SystemInstruction = genai.NewContentFromText(req.System, genai.RoleUser)
	}
	contents := geminiContents(req.Dialogue)

	if !req.Streaming() {
		resp, err := b.client.Models.GenerateContent(ctx, b.model, contents, config)
		if err != nil {
			return Reply{}, fmt.Errorf("gemini request failed: %w", err)
		}
		reply := Reply{Text: resp.Text()}
		geminiMeta(resp, &reply)
		if reply.Text == "" {
			return Reply{}, fmt.Errorf("empty gemini reply (finish reason %q)", reply.StopReason)
		}
		return reply, nil
	}

	var (
		reply Reply
		text  strings.Builder
	)
	for resp, err := range b.client.Models.GenerateContentStream(ctx, b.model, contents, config) {
		if err != nil {
			return Reply{}, fmt.Errorf("gemini stream: %w", err)
		}
		chunk := resp.Text()
		text.WriteString(chunk)
		req.emit(chunk)
		geminiMeta(resp, &reply)
	}
	reply.Text = text.String()
	return reply, nil
}

// geminiMeta copies usage and finish reason when the response carries them.
func geminiMeta(resp *genai.GenerateContentResponse, reply *Reply) {
	if u := resp.UsageMetadata; u != nil {
		reply.Usage = Usage{
			Input:  uint32(u.PromptTokenCount),
			Output: uint32(u.CandidatesTokenCount),
		}
	}
	if len(resp.Candidates) > 0 && resp.Candidates[0].FinishReason != "" {
		reply.StopReason = string(resp.Candidates[0].FinishReason)
	}
}

// geminiContents expects an already alternating dialogue.
func geminiContents(dialogue []ChatMessage) []*genai.Content {
	out := make([]*genai.Content, 0, len(dialogue))
	for _, msg := range dialogue {
		switch msg.Role {
		case RoleUser:
			out = append(out, genai.NewContentFromText(msg.Content, genai.RoleUser))
		case RoleAssistant:
			out = append(out, genai.NewContentFromText(msg.Content, genai.RoleModel))
		}
	}
	return out
}

var _ Backend = (*Gemini)(nil)
