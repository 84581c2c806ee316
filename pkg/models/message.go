package models

import (
	"encoding/json"
	"time"
)

// Role indicates the message author type.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// Message is one entry in a session's conversation history.
//
// Assistant messages may carry the raw tool-call list the model emitted.
// Tool messages carry the serialized result of exactly one call, tied back
// to it via ToolCallID. User messages reference uploaded images indirectly
// through ImageRefs so history never embeds binary payloads.
type Message struct {
	ID         string     `json:"id"`
	Role       Role       `json:"role"`
	Content    string     `json:"content,omitempty"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
	Images     []ImageRef `json:"images,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
}

// ToolCall is a model-requested invocation of a named capability.
type ToolCall struct {
	ID    string          `json:"id"`
	Name  string          `json:"name"`
	Input json.RawMessage `json:"input"`
}
