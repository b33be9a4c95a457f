// Package llm talks to the reasoning backend the control loop consults once
// per turn.
//
// Each backend hides:
// - client initialization and authentication
// - conversion between ChatMessage and the vendor wire format
// - streaming mechanics (deltas are pushed through Request.OnText)
package llm

import (
	"context"
)

// Backend answers one request with one reply.
type Backend interface {
	// Name returns the backend name used in logs.
	Name() string

	// Model returns the model identifier sent with every request.
	Model() string

	// Complete sends the request and blocks until the whole reply is known.
	// When req.OnText is set, text is delivered through it while it is
	// generated and the returned Reply still carries the full text.
	Complete(ctx context.Context, req Request) (Reply, error)
}

// Request is one backend call.
type Request struct {
	// System is the rendered system message. It travels out of band for
	// backends that support that.
	System string
	// Dialogue alternates user and assistant turns, starting with the user.
	Dialogue []ChatMessage
	// OnText receives text fragments as they arrive. Nil disables streaming.
	OnText func(text string)
}

// NewRequest separates system messages from the dialogue and normalizes the
// rest into strict alternation.
func NewRequest(messages []ChatMessage) Request {
	system, dialogue := SplitSystem(messages)
	return Request{System: system, Dialogue: Alternate(dialogue)}
}

// Streaming reports whether the caller wants text as it is generated.
func (r Request) Streaming() bool {
	return r.OnText != nil
}

func (r Request) emit(text string) {
	if r.OnText != nil && text != "" {
		r.OnText(text)
	}
}

// Reply is the backend's answer to one Request.
type Reply struct {
	Text string
	// StopReason is the vendor's finish reason, e.g. "end_turn" or "length".
	StopReason string
	Usage      Usage
}

// Usage counts tokens spent on one request.
type Usage struct {
	Input  uint32
	Output uint32
}

// Total returns input plus output tokens.
func (u Usage) Total() uint32 {
	return u.Input + u.Output
}

// Truncated reports whether the reply stopped at the output token limit.
func (r Reply) Truncated() bool {
	switch r.StopReason {
	case "max_tokens", "length", "MAX_TOKENS":
		return true
	}
	return false
}
