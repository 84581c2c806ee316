package models

import (
	"encoding/json"
	"time"
)

// AgentEventType identifies a consumer-facing event emitted while a turn runs.
type AgentEventType string

const (
	// EventContentDelta carries a fragment of streamed assistant text.
	EventContentDelta AgentEventType = "content_delta"

	// EventToolStart signals that a tool execution is about to run.
	EventToolStart AgentEventType = "tool_start"

	// EventToolResult carries the outcome of a tool execution.
	EventToolResult AgentEventType = "tool_result"

	// EventStepComplete signals that a full agent step was recorded.
	EventStepComplete AgentEventType = "step_complete"

	// EventDone signals successful completion of the turn.
	EventDone AgentEventType = "done"

	// EventError signals that the turn ended with an error.
	EventError AgentEventType = "error"
)

// AgentEvent is one entry in the ordered event stream a caller observes
// during sendMessage. Sequence is monotonic within a run; events are
// emitted in the order the underlying operations complete.
type AgentEvent struct {
	Type     AgentEventType `json:"type"`
	Sequence uint64         `json:"sequence"`
	Time     time.Time      `json:"time"`

	// Delta is set for content_delta events.
	Delta string `json:"delta,omitempty"`

	Tool  *ToolEventPayload `json:"tool,omitempty"`
	Step  *StepEventPayload `json:"step,omitempty"`
	Done  *DonePayload      `json:"done,omitempty"`
	Error *ErrorInfo        `json:"error,omitempty"`
}

// ToolEventPayload describes a tool execution for tool_start/tool_result.
type ToolEventPayload struct {
	CallID   string          `json:"call_id"`
	ToolName string          `json:"tool_name"`
	Args     json.RawMessage `json:"args,omitempty"`

	// Result fields, set on tool_result only.
	Success     bool            `json:"success,omitempty"`
	Data        json.RawMessage `json:"data,omitempty"`
	Error       string          `json:"error,omitempty"`
	CreditsUsed int64           `json:"credits_used,omitempty"`
}

// StepEventPayload describes a completed agent step.
type StepEventPayload struct {
	Index     int `json:"index"`
	ToolCount int `json:"tool_count"`
}

// DonePayload carries the final result of a successful turn.
type DonePayload struct {
	FinalMessage     string `json:"final_message"`
	TotalCreditsUsed int64  `json:"total_credits_used"`
	Steps            int    `json:"steps"`
}
