// Backend factory.
//
//	backend, err := llm.New(llm.ProviderAnthropic, llm.Options{
//	    Model:     llm.ModelAnthropicSonnet4,
//	    MaxTokens: 8192,
//	})
//
// An empty Options.APIKey is read from the provider's environment variable.

package llm

import (
	"fmt"
	"os"
	"strings"
)

// ProviderType represents supported reasoning backends.
type ProviderType int

const (
	// ProviderOpenAI is the OpenAI Chat Completions API.
	ProviderOpenAI ProviderType = iota
	// ProviderAnthropic is the Anthropic Messages API.
	ProviderAnthropic
	// ProviderDeepSeek is DeepSeek's OpenAI-compatible API.
	ProviderDeepSeek
	// ProviderGemini is the Google Gemini API.
	ProviderGemini
)

// String returns the canonical provider name.
func (p ProviderType) String() string {
	switch p {
	case ProviderOpenAI:
		return "openai"
	case ProviderAnthropic:
		return "anthropic"
	case ProviderDeepSeek:
		return "deepseek"
	case ProviderGemini:
		return "gemini"
	default:
		return "unknown"
	}
}

// EnvVar returns the environment variable holding this provider's API key.
func (p ProviderType) EnvVar() string {
	switch p {
	case ProviderOpenAI:
		return "OPENAI_API_KEY"
	case ProviderAnthropic:
		return "ANTHROPIC_API_KEY"
	case ProviderDeepSeek:
		return "DEEPSEEK_API_KEY"
	case ProviderGemini:
		return "GEMINI_API_KEY"
	default:
		return ""
	}
}

// DefaultModel returns the model used when Options.Model is empty.
func (p ProviderType) DefaultModel() string {
	switch p {
	case ProviderOpenAI:
		return ModelOpenAIGPT4o
	case ProviderAnthropic:
		return ModelAnthropicSonnet4
	case ProviderDeepSeek:
		return ModelDeepSeekChat
	case ProviderGemini:
		return ModelGeminiFlash25
	default:
		return ""
	}
}

// ParseProviderType parses a provider name or alias (case-insensitive).
func ParseProviderType(s string) (ProviderType, error) {
	switch strings.ToLower(s) {
	case "openai", "gpt":
		return ProviderOpenAI, nil
	case "anthropic", "claude":
		return ProviderAnthropic, nil
	case "deepseek":
		return ProviderDeepSeek, nil
	case "gemini", "google":
		return ProviderGemini, nil
	default:
		return 0, fmt.Errorf("unknown provider: %s", s)
	}
}

// Options configures a backend. Zero values select defaults.
type Options struct {
	APIKey    string
	Model     string
	MaxTokens uint32
	// Temperature nil keeps the default of 0.7.
	Temperature *float32
	// BaseURL redirects an OpenAI-compatible backend. Ignored by the others.
	BaseURL string
}

// Temperature returns a pointer for Options.Temperature.
func Temperature(t float32) *float32 {
	return &t
}

func (o Options) withDefaults(p ProviderType) (Options, error) {
	if o.APIKey == "" {
		o.APIKey = os.Getenv(p.EnvVar())
	}
	if o.APIKey == "" {
		return o, fmt.Errorf("%s: %s environment variable not set", p, p.EnvVar())
	}
	if o.Model == "" {
		o.Model = p.DefaultModel()
	}
	if o.MaxTokens == 0 {
		o.MaxTokens = 4096
	}
	if o.Temperature == nil {
		o.Temperature = Temperature(0.7)
	}
	return o, nil
}

// New creates the backend for p.
func New(p ProviderType, opts Options) (Backend, error) {
	opts, err := opts.withDefaults(p)
	if err != nil {
		return nil, err
	}

	switch p {
	case ProviderOpenAI:
		return NewOpenAI(opts), nil
	case ProviderAnthropic:
		return NewAnthropic(opts), nil
	case ProviderDeepSeek:
		return NewDeepSeek(opts), nil
	case ProviderGemini:
		return NewGemini(opts), nil
	default:
		return nil, fmt.Errorf("unknown provider type: %v", p)
	}
}
