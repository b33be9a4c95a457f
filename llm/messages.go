package llm

import "strings"

// Message roles.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// ChatMessage is one role-tagged entry of the conversation.
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// SystemMessage creates a system message.
func SystemMessage(content string) ChatMessage {
	return ChatMessage{Role: RoleSystem, Content: content}
}

// UserMessage creates a user message.
func UserMessage(content string) ChatMessage {
	return ChatMessage{Role: RoleUser, Content: content}
}

// AssistantMessage creates an assistant message.
func AssistantMessage(content string) ChatMessage {
	return ChatMessage{Role: RoleAssistant, Content: content}
}

// SplitSystem separates system messages from the dialogue. Several system
// messages are joined with blank lines.
func SplitSystem(messages []ChatMessage) (string, []ChatMessage) {
	var system []string
	dialogue := make([]ChatMessage, 0, len(messages))
	for _, msg := range messages {
		if msg.Role == RoleSystem {
			system = append(system, msg.Content)
			continue
		}
		dialogue = append(dialogue, msg)
	}
	return strings.Join(system, "\n\n"), dialogue
}

// Alternate merges consecutive messages of the same role and makes sure the
// dialogue opens with a user turn. The control loop may append several
// messages of one role in a row (forwarded worker reports, escalation
// notices) while most backends reject that.
func Alternate(dialogue []ChatMessage) []ChatMessage {
	var out []ChatMessage
	for _, msg := range dialogue {
		if n := len(out); n > 0 && out[n-1].Role == msg.Role {
			out[n-1].Content += "\n\n" + msg.Content
			continue
		}
		out = append(out, msg)
	}
	if len(out) > 0 && out[0].Role != RoleUser {
		out = append([]ChatMessage{UserMessage("(start)")}, out...)
	}
	return out
}
