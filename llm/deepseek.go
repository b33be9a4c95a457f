package llm

import (
	openai "github.com/sashabaranov/go-openai"
)

const deepseekBaseURL = "https://api.deepseek.com/v1"

// NewDeepSeek creates a DeepSeek backend. DeepSeek speaks the Chat
// Completions protocol, so it is an OpenAI backend with another endpoint.
func NewDeepSeek(opts Options) *OpenAI {
	config := openai.DefaultConfig(opts.APIKey)
	config.BaseURL = deepseekBaseURL
	if opts.BaseURL != "" {
		config.BaseURL = opts.BaseURL
	}
	return newOpenAICompatible("deepseek", config, opts)
}
