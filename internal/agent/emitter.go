package agent

import (
	"encoding/json"
	"sync/atomic"
	"time"

	"github.com/pixelforge/pixelforge/pkg/models"
)

// Sink receives emitted events. Implementations must not block
// indefinitely; the orchestrator emits from the session's loop
// goroutine.
type Sink interface {
	Send(event *models.AgentEvent)
}

// ChannelSink forwards events to a channel and closes it when the run
// ends.
type ChannelSink struct {
	ch chan *models.AgentEvent
}

// NewChannelSink creates a sink with the given buffer size.
func NewChannelSink(buffer int) *ChannelSink {
	return &ChannelSink{ch: make(chan *models.AgentEvent, buffer)}
}

// Send implements Sink.
func (s *ChannelSink) Send(event *models.AgentEvent) { s.ch <- event }

// Events returns the receive side of the sink.
func (s *ChannelSink) Events() <-chan *models.AgentEvent { return s.ch }

// Close closes the event channel. Called once, after the terminal event.
func (s *ChannelSink) Close() { close(s.ch) }

// Emitter builds ordered AgentEvents for one run. Sequence numbers are
// monotonic within the run.
type Emitter struct {
	sink     Sink
	sequence uint64
}

// NewEmitter creates an emitter writing to the given sink.
func NewEmitter(sink Sink) *Emitter {
	return &Emitter{sink: sink}
}

func (e *Emitter) next(eventType models.AgentEventType) *models.AgentEvent {
	return &models.AgentEvent{
		Type:     eventType,
		Sequence: atomic.AddUint64(&e.sequence, 1),
		Time:     time.Now(),
	}
}

// ContentDelta emits a fragment of streamed assistant text.
func (e *Emitter) ContentDelta(delta string) {
	event := e.next(models.EventContentDelta)
	event.Delta = delta
	e.sink.Send(event)
}

// ToolStart emits the start of a tool execution.
func (e *Emitter) ToolStart(call models.ToolCall) {
	event := e.next(models.EventToolStart)
	event.Tool = &models.ToolEventPayload{
		CallID:   call.ID,
		ToolName: call.Name,
		Args:     call.Input,
	}
	e.sink.Send(event)
}

// ToolResult emits the outcome of a tool execution.
func (e *Emitter) ToolResult(exec *models.ToolExecution) {
	event := e.next(models.EventToolResult)
	payload := &models.ToolEventPayload{
		CallID:      exec.CallID,
		ToolName:    exec.ToolName,
		Success:     exec.Succeeded(),
		CreditsUsed: exec.CreditsUsed,
	}
	if exec.Succeeded() {
		payload.Data = exec.Result
	} else {
		payload.Error = exec.Error
	}
	event.Tool = payload
	e.sink.Send(event)
}

// StepComplete emits the end of an agent step.
func (e *Emitter) StepComplete(index, toolCount int) {
	event := e.next(models.EventStepComplete)
	event.Step = &models.StepEventPayload{Index: index, ToolCount: toolCount}
	e.sink.Send(event)
}

// Done emits the terminal success event.
func (e *Emitter) Done(finalMessage string, totalCredits int64, steps int) {
	event := e.next(models.EventDone)
	event.Done = &models.DonePayload{
		FinalMessage:     finalMessage,
		TotalCreditsUsed: totalCredits,
		Steps:            steps,
	}
	e.sink.Send(event)
}

// Error emits the terminal failure event.
func (e *Emitter) Error(code ErrorCode, message string) {
	event := e.next(models.EventError)
	event.Error = &models.ErrorInfo{Code: string(code), Message: message}
	e.sink.Send(event)
}

// rawJSON is a helper for building small JSON payloads.
func rawJSON(v any) json.RawMessage {
	b, err := json.Marshal(v)
	if err != nil {
		return json.RawMessage(`{}`)
	}
	return b
}
