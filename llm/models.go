package llm

// Model identifiers used as provider defaults.
const (
	ModelOpenAIGPT52           = "gpt-5.2"
	ModelOpenAIGPT4o           = "gpt-4o"
	ModelAnthropicClaudeOpus45 = "claude-opus-4-5-20251101"
	ModelAnthropicSonnet4      = "claude-sonnet-4-20250514"
	ModelDeepSeekChat          = "deepseek-chat"
	ModelDeepSeekReasoner      = "deepseek-reasoner"
	ModelGeminiFlash25         = "gemini-2.5-flash"
	ModelGeminiPro25           = "gemini-2.5-pro"
)
