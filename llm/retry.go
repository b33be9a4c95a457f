package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	openai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"
)

// RetryPolicy bounds retries of transient backend failures.
type RetryPolicy struct {
	// Retries after the first attempt. Zero disables retrying.
	Retries int
	// Initial is the first backoff; it doubles up to Max.
	Initial time.Duration
	Max     time.Duration
}

// DefaultRetryPolicy retries three times, starting at one second.
var DefaultRetryPolicy = RetryPolicy{Retries: 3, Initial: time.Second, Max: 30 * time.Second}

// Retrying wraps a Backend and retries rate limits and server errors.
type Retrying struct {
	Backend
	policy RetryPolicy
	logger *zap.Logger
	sleep  func(ctx context.Context, d time.Duration) error
}

// WithRetry wraps b. A nil logger discards retry logs.
func WithRetry(b Backend, policy RetryPolicy, logger *zap.Logger) *Retrying {
	if logger == nil {
		logger = zap.NewNop()
	}
	if policy.Initial <= 0 {
		policy.Initial = DefaultRetryPolicy.Initial
	}
	if policy.Max < policy.Initial {
		policy.Max = policy.Initial
	}
	return &Retrying{Backend: b, policy: policy, logger: logger, sleep: sleepCtx}
}

// Complete retries a failed request while the failure is transient. A
// streaming request is only retried before its first fragment was
// delivered, since the operator has already seen that text.
func (r *Retrying) Complete(ctx context.Context, req Request) (Reply, error) {
	delivered := false
	if req.OnText != nil {
		onText := req.OnText
		req.OnText = func(text string) {
			delivered = true
			onText(text)
		}
	}

	backoff := r.policy.Initial
	for attempt := 0; ; attempt++ {
		reply, err := r.Backend.Complete(ctx, req)
		if err == nil {
			return reply, nil
		}
		if ctx.Err() != nil || delivered || !Transient(err) {
			return Reply{}, err
		}
		if attempt == r.policy.Retries {
			return Reply{}, fmt.Errorf("giving up after %d retries: %w", attempt, err)
		}

		r.logger.Warn("backend request failed, retrying",
			zap.String("backend", r.Name()),
			zap.Int("attempt", attempt+1),
			zap.Duration("backoff", backoff),
			zap.Error(err))
		if err := r.sleep(ctx, backoff); err != nil {
			return Reply{}, err
		}
		backoff = min(backoff*2, r.policy.Max)
	}
}

// Transient reports whether err is a rate limit, an overload or a server
// side failure worth retrying. Anthropic and OpenAI errors are classified by
// status code; anything else falls back to the message text.
func Transient(err error) bool {
	if err == nil {
		return false
	}

	var anthropicErr *anthropic.Error
	if errors.As(err, &anthropicErr) {
		return retryableStatus(anthropicErr.StatusCode)
	}
	var openaiErr *openai.APIError
	if errors.As(err, &openaiErr) {
		return retryableStatus(openaiErr.HTTPStatusCode)
	}
	var requestErr *openai.RequestError
	if errors.As(err, &requestErr) {
		return retryableStatus(requestErr.HTTPStatusCode)
	}
	msg := strings.ToLower(err.Error())
	for _, hint := range transientHints {
		if strings.Contains(msg, hint) {
			return true
		}
	}
	return false
}

// transientHints also covers Gemini, whose errors read
// "Error 503, Message: ..., Status: UNAVAILABLE".
var transientHints = []string{
	"rate limit", "too many requests", "overloaded",
	"service unavailable", "bad gateway", "gateway timeout",
	"resource_exhausted", "status: unavailable", "status: internal",
}

func retryableStatus(code int) bool {
	switch code {
	case http.StatusTooManyRequests, http.StatusRequestTimeout:
		return true
	case 529: // Anthropic "overloaded"
		return true
	}
	return code >= http.StatusInternalServerError
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
