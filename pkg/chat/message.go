package chat

import "strings"

// Role identifies the author of a message in the conversation sent to a
// provider.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// Message is the canonical, provider-independent conversation unit. The
// orchestrator rebuilds the vendor request from the full message list on
// every round, so ordering matters.
//
// A message with Role == RoleAssistant and a non-empty ToolCallID replays
// "the assistant asked for this tool" (Content carries the serialized
// arguments); a message with Role == RoleTool replays the tool's reply.
// Adapters lower both into whatever pairing their vendor requires.
type Message struct {
	Role       Role   `json:"role"`
	Content    string `json:"content"`
	ToolName   string `json:"toolName,omitempty"`
	ToolCallID string `json:"toolCallId,omitempty"`
}

func NewSystemMessage(content string) Message {
	return Message{Role: RoleSystem, Content: content}
}

func NewUserMessage(content string) Message {
	return Message{Role: RoleUser, Content: content}
}

func NewAssistantMessage(content string) Message {
	return Message{Role: RoleAssistant, Content: content}
}

// NewToolMessage builds the canonical "tool replied" message for the given
// call.
func NewToolMessage(toolCallID string, toolName string, content string) Message {
	return Message{
		Role:       RoleTool,
		Content:    content,
		ToolName:   toolName,
		ToolCallID: toolCallID,
	}
}

// IsToolCall reports whether the message replays an assistant tool request
// rather than plain assistant text.
func (m Message) IsToolCall() bool {
	return m.Role == RoleAssistant && m.ToolCallID != ""
}

// LastAssistantText returns the content of the last plain assistant message,
// or "" if there is none.
func LastAssistantText(msgs []Message) string {
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].Role == RoleAssistant && msgs[i].ToolCallID == "" {
			return msgs[i].Content
		}
	}
	return ""
}

// Render returns a compact single-line description, used in logs.
func (m Message) Render() string {
	var sb strings.Builder
	sb.WriteString("[")
	sb.WriteString(string(m.Role))
	if m.ToolName != "" {
		sb.WriteString(":")
		sb.WriteString(m.ToolName)
	}
	sb.WriteString("] ")
	sb.WriteString(m.Content)
	return sb.String()
}
