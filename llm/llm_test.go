package llm

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	openai "github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/require"
)

func TestSplitSystem(t *testing.T) {
	system, dialogue := SplitSystem([]ChatMessage{
		SystemMessage("rules"),
		UserMessage("hi"),
		SystemMessage("more rules"),
		AssistantMessage("hello"),
	})

	require.Equal(t, "rules\n\nmore rules", system)
	require.Equal(t, []ChatMessage{UserMessage("hi"), AssistantMessage("hello")}, dialogue)
}

func TestAlternate(t *testing.T) {
	tests := []struct {
		name string
		in   []ChatMessage
		want []ChatMessage
	}{
		{
			name: "empty",
			in:   nil,
			want: nil,
		},
		{
			name: "already alternating",
			in:   []ChatMessage{UserMessage("a"), AssistantMessage("b")},
			want: []ChatMessage{UserMessage("a"), AssistantMessage("b")},
		},
		{
			name: "merges runs",
			in: []ChatMessage{
				UserMessage("a"), UserMessage("b"),
				AssistantMessage("c"), AssistantMessage("d"),
				UserMessage("e"),
			},
			want: []ChatMessage{
				UserMessage("a\n\nb"),
				AssistantMessage("c\n\nd"),
				UserMessage("e"),
			},
		},
		{
			name: "leading assistant",
			in:   []ChatMessage{AssistantMessage("x")},
			want: []ChatMessage{UserMessage("(start)"), AssistantMessage("x")},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.want, Alternate(tt.in))
		})
	}
}

func TestAlternateDoesNotMutateInput(t *testing.T) {
	in := []ChatMessage{UserMessage("a"), UserMessage("b")}
	_ = Alternate(in)
	require.Equal(t, "a", in[0].Content)
}

func TestNewRequest(t *testing.T) {
	req := NewRequest([]ChatMessage{
		SystemMessage("rules"),
		UserMessage("go"),
		AssistantMessage("@worker [w1]: ready"),
		AssistantMessage("<CALL>ls('.')</CALL>"),
	})

	require.Equal(t, "rules", req.System)
	require.Equal(t, []ChatMessage{
		UserMessage("go"),
		AssistantMessage("@worker [w1]: ready\n\n<CALL>ls('.')</CALL>"),
	}, req.Dialogue)
	require.False(t, req.Streaming())
}

func TestVendorMessages(t *testing.T) {
	req := NewRequest([]ChatMessage{
		SystemMessage("rules"),
		AssistantMessage("first"),
		UserMessage("x"),
	})

	msgs := anthropicMessages(req.Dialogue)
	require.Len(t, msgs, 3)
	require.Equal(t, anthropic.MessageParamRoleUser, msgs[0].Role)
	require.Equal(t, anthropic.MessageParamRoleAssistant, msgs[1].Role)
	require.Equal(t, anthropic.MessageParamRoleUser, msgs[2].Role)

	oa := openAIMessages(req)
	require.Len(t, oa, 4)
	require.Equal(t, openai.ChatMessageRoleSystem, oa[0].Role)
	require.Equal(t, "rules", oa[0].Content)

	require.Len(t, geminiContents(req.Dialogue), 3)
}

func TestReplyTruncated(t *testing.T) {
	for reason, want := range map[string]bool{
		"max_tokens": true,
		"length":     true,
		"MAX_TOKENS": true,
		"end_turn":   false,
		"stop":       false,
		"":           false,
	} {
		require.Equal(t, want, Reply{StopReason: reason}.Truncated(), reason)
	}
}

func TestParseProviderType(t *testing.T) {
	tests := map[string]ProviderType{
		"openai":    ProviderOpenAI,
		"GPT":       ProviderOpenAI,
		"claude":    ProviderAnthropic,
		"anthropic": ProviderAnthropic,
		"deepseek":  ProviderDeepSeek,
		"google":    ProviderGemini,
	}
	for in, want := range tests {
		got, err := ParseProviderType(in)
		require.NoError(t, err, in)
		require.Equal(t, want, got, in)
	}

	_, err := ParseProviderType("nope")
	require.Error(t, err)
}

func TestNew(t *testing.T) {
	t.Setenv("DEEPSEEK_API_KEY", "")
	_, err := New(ProviderDeepSeek, Options{})
	require.ErrorContains(t, err, "DEEPSEEK_API_KEY")

	t.Setenv("DEEPSEEK_API_KEY", "sk-env")
	b, err := New(ProviderDeepSeek, Options{})
	require.NoError(t, err)
	require.Equal(t, "deepseek", b.Name())
	require.Equal(t, ModelDeepSeekChat, b.Model())

	b, err = New(ProviderOpenAI, Options{APIKey: "k", Model: "local", BaseURL: "http://localhost:8080/v1"})
	require.NoError(t, err)
	require.Equal(t, "openai", b.Name())
	require.Equal(t, "local", b.Model())

	b, err = New(ProviderAnthropic, Options{APIKey: "k", Temperature: Temperature(0)})
	require.NoError(t, err)
	require.Equal(t, ModelAnthropicSonnet4, b.Model())
}

type flakyBackend struct {
	errs  []error
	calls int
	// chunk is emitted before failing when set.
	chunk string
}

func (b *flakyBackend) Name() string  { return "flaky" }
func (b *flakyBackend) Model() string { return "m" }

func (b *flakyBackend) Complete(ctx context.Context, req Request) (Reply, error) {
	b.calls++
	if b.calls <= len(b.errs) {
		req.emit(b.chunk)
		return Reply{}, b.errs[b.calls-1]
	}
	req.emit("ok")
	return Reply{Text: "ok"}, nil
}

func newRetrying(b Backend, retries int) (*Retrying, *[]time.Duration) {
	var slept []time.Duration
	r := WithRetry(b, RetryPolicy{Retries: retries, Initial: time.Second, Max: 3 * time.Second}, nil)
	r.sleep = func(ctx context.Context, d time.Duration) error {
		slept = append(slept, d)
		return nil
	}
	return r, &slept
}

func TestRetryTransient(t *testing.T) {
	limited := &openai.APIError{HTTPStatusCode: 429, Message: "slow down"}
	b := &flakyBackend{errs: []error{limited, fmt.Errorf("wrapped: %w", limited), limited}}
	r, slept := newRetrying(b, 3)

	reply, err := r.Complete(context.Background(), Request{})
	require.NoError(t, err)
	require.Equal(t, "ok", reply.Text)
	require.Equal(t, 4, b.calls)
	require.Equal(t, []time.Duration{time.Second, 2 * time.Second, 3 * time.Second}, *slept)
	require.Equal(t, "flaky", r.Name())
}

func TestRetryGivesUp(t *testing.T) {
	b := &flakyBackend{errs: []error{errors.New("overloaded"), errors.New("overloaded")}}
	r, _ := newRetrying(b, 1)

	_, err := r.Complete(context.Background(), Request{})
	require.ErrorContains(t, err, "giving up after 1 retries")
	require.Equal(t, 2, b.calls)
}

func TestRetrySkipsPermanentErrors(t *testing.T) {
	b := &flakyBackend{errs: []error{&openai.APIError{HTTPStatusCode: 401, Message: "bad key"}}}
	r, slept := newRetrying(b, 3)

	_, err := r.Complete(context.Background(), Request{})
	require.Error(t, err)
	require.Equal(t, 1, b.calls)
	require.Empty(t, *slept)
}

func TestRetryStopsAfterStreamedText(t *testing.T) {
	b := &flakyBackend{errs: []error{errors.New("rate limit")}, chunk: "partial"}
	r, _ := newRetrying(b, 3)

	var seen []string
	_, err := r.Complete(context.Background(), Request{OnText: func(s string) { seen = append(seen, s) }})
	require.ErrorContains(t, err, "rate limit")
	require.Equal(t, 1, b.calls)
	require.Equal(t, []string{"partial"}, seen)
}

func TestTransient(t *testing.T) {
	tests := []struct {
		err  error
		want bool
	}{
		{nil, false},
		{&anthropic.Error{StatusCode: 529}, true},
		{&anthropic.Error{StatusCode: 400}, false},
		{&openai.APIError{HTTPStatusCode: 503}, true},
		{&openai.RequestError{HTTPStatusCode: 502, Err: errors.New("bad gateway")}, true},
		{errors.New("Error 503, Message: busy, Status: UNAVAILABLE"), true},
		{errors.New("invalid argument"), false},
	}
	for i, tt := range tests {
		require.Equal(t, tt.want, Transient(tt.err), "case %d", i)
	}
}
