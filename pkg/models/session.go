// Package models defines the shared data model for the PixelForge agent
// runtime: sessions, steps, messages, tool executions, image references,
// and the consumer-facing event stream.
package models

import (
	"encoding/json"
	"time"
)

// SessionStatus represents the lifecycle state of an agent session.
type SessionStatus string

const (
	// StatusIdle means the session exists but no turn has started yet.
	StatusIdle SessionStatus = "idle"

	// StatusRunning means an orchestrator loop is driving a turn.
	StatusRunning SessionStatus = "running"

	// StatusWaitingTool means the loop is executing tool calls for the
	// current step.
	StatusWaitingTool SessionStatus = "waiting_tool"

	// StatusCompleted means the model produced a final answer.
	StatusCompleted SessionStatus = "completed"

	// StatusFailed means the session stopped on an unrecoverable error
	// (provider failure, step limit, insufficient credits).
	StatusFailed SessionStatus = "failed"

	// StatusCancelled means the caller cancelled the turn.
	StatusCancelled SessionStatus = "cancelled"
)

// Terminal reports whether the status is an end state.
func (s SessionStatus) Terminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCancelled:
		return true
	default:
		return false
	}
}

// SessionConfig holds the per-session agent configuration.
type SessionConfig struct {
	// Model is the provider model identifier (e.g. "gpt-4o").
	Model string `json:"model,omitempty"`

	// SystemPrompt sets the assistant's behavior for the whole session.
	SystemPrompt string `json:"system_prompt,omitempty"`

	// Temperature is passed through to the model provider.
	Temperature float32 `json:"temperature,omitempty"`

	// MaxTokens limits the length of each model response.
	MaxTokens int `json:"max_tokens,omitempty"`

	// MaxSteps bounds the total number of agent steps for the session.
	MaxSteps int `json:"max_steps,omitempty"`

	// AvailableTools restricts the tool catalog exposed to the model.
	// Nil means every registered tool is available.
	AvailableTools []string `json:"available_tools,omitempty"`
}

// ErrorInfo records a failure with its stable taxonomy code.
type ErrorInfo struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Session is a conversation between one user and the tool-calling loop.
// It is owned by the state manager and mutated only by the single active
// orchestrator loop for the session.
type Session struct {
	ID               string        `json:"id"`
	UserID           string        `json:"user_id"`
	Status           SessionStatus `json:"status"`
	Config           SessionConfig `json:"config"`
	Messages         []*Message    `json:"messages"`
	Steps            []*Step       `json:"steps"`
	TotalCreditsUsed int64         `json:"total_credits_used"`
	LastError        *ErrorInfo    `json:"last_error,omitempty"`
	CreatedAt        time.Time     `json:"created_at"`
	UpdatedAt        time.Time     `json:"updated_at"`
}

// Step is one model-call-then-tool-calls iteration within a session.
// Steps are append-only and never edited after creation.
type Step struct {
	Index      int              `json:"index"`
	Assistant  *Message         `json:"assistant"`
	Executions []*ToolExecution `json:"executions,omitempty"`
	CreatedAt  time.Time        `json:"created_at"`
}

// ExecutionStatus represents the state of a single tool execution.
type ExecutionStatus string

const (
	ExecutionPending   ExecutionStatus = "pending"
	ExecutionRunning   ExecutionStatus = "running"
	ExecutionSuccess   ExecutionStatus = "success"
	ExecutionError     ExecutionStatus = "error"
	ExecutionCancelled ExecutionStatus = "cancelled"
)

// ToolExecution is the runtime record of performing one tool call.
// CreditsUsed is zero on every failure path.
type ToolExecution struct {
	ToolName        string          `json:"tool_name"`
	CallID          string          `json:"call_id"`
	Arguments       json.RawMessage `json:"arguments,omitempty"`
	Status          ExecutionStatus `json:"status"`
	Result          json.RawMessage `json:"result,omitempty"`
	Error           string          `json:"error,omitempty"`
	ErrorCode       string          `json:"error_code,omitempty"`
	ExecutionTimeMs int64           `json:"execution_time_ms"`
	CreditsUsed     int64           `json:"credits_used"`
}

// Succeeded reports whether the execution completed successfully.
func (e *ToolExecution) Succeeded() bool {
	return e != nil && e.Status == ExecutionSuccess
}
