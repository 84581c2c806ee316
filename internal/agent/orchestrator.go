package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/pixelforge/pixelforge/internal/artifacts"
	"github.com/pixelforge/pixelforge/internal/gateway"
	"github.com/pixelforge/pixelforge/internal/observability"
	"github.com/pixelforge/pixelforge/internal/sessions"
	"github.com/pixelforge/pixelforge/pkg/models"
)

// defaultMaxSteps bounds sessions that do not set their own limit.
const defaultMaxSteps = 8

// eventBuffer sizes the per-turn event channel. Consumers that fall
// behind this far will backpressure the loop.
const eventBuffer = 64

// Orchestrator drives agent sessions: it accepts user messages, runs
// the model-call-then-tools loop until the model answers in plain text,
// and persists every state transition. One turn runs per session at a
// time; concurrent sends are rejected as busy.
type Orchestrator struct {
	gateway  *gateway.Gateway
	registry *Registry
	executor *Executor
	sessions *sessions.Manager
	images   *artifacts.Store
	metrics  *observability.Metrics
	logger   *slog.Logger

	busyMu sync.Mutex
	busy   map[string]bool
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(o *Orchestrator) { o.logger = logger }
}

// WithMetrics attaches Prometheus metrics.
func WithMetrics(m *observability.Metrics) Option {
	return func(o *Orchestrator) { o.metrics = m }
}

// NewOrchestrator wires an orchestrator over its collaborators.
func NewOrchestrator(gw *gateway.Gateway, registry *Registry, executor *Executor, mgr *sessions.Manager, images *artifacts.Store, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		gateway:  gw,
		registry: registry,
		executor: executor,
		sessions: mgr,
		images:   images,
		logger:   slog.Default(),
		busy:     make(map[string]bool),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// CreateSession validates the config and persists a new idle session.
// Allowlisted tool names must exist in the registry.
func (o *Orchestrator) CreateSession(ctx context.Context, userID string, cfg models.SessionConfig) (*models.Session, error) {
	if userID == "" {
		return nil, NewError(CodeValidationError, "user id is required")
	}
	for _, name := range cfg.AvailableTools {
		if _, ok := o.registry.Get(name); !ok {
			return nil, NewError(CodeValidationError, "unknown tool %q in available_tools", name)
		}
	}
	if cfg.MaxSteps <= 0 {
		cfg.MaxSteps = defaultMaxSteps
	}
	return o.sessions.Create(ctx, userID, cfg)
}

// GetSession loads a session.
func (o *Orchestrator) GetSession(ctx context.Context, id string) (*models.Session, error) {
	sess, err := o.sessions.Get(ctx, id)
	if errors.Is(err, sessions.ErrNotFound) {
		return nil, NewError(CodeSessionNotFound, "session %s not found", id)
	}
	return sess, err
}

// ListSessions returns the user's sessions, newest first.
func (o *Orchestrator) ListSessions(ctx context.Context, userID string) ([]*models.Session, error) {
	return o.sessions.ListForUser(ctx, userID)
}

// DeleteSession removes a session and its image state. Fails while a
// turn is running.
func (o *Orchestrator) DeleteSession(ctx context.Context, id string) error {
	o.busyMu.Lock()
	running := o.busy[id]
	o.busyMu.Unlock()
	if running {
		return NewError(CodeSessionBusy, "session %s has a turn in progress", id)
	}

	if err := o.sessions.Delete(ctx, id); err != nil {
		if errors.Is(err, sessions.ErrNotFound) {
			return NewError(CodeSessionNotFound, "session %s not found", id)
		}
		return err
	}
	o.images.Drop(id)
	return nil
}

// SendMessage starts a turn: the user message (with optional uploaded
// image URLs) is appended and the loop runs in the background. The
// returned channel delivers the ordered event stream and closes after
// the terminal done or error event.
func (o *Orchestrator) SendMessage(ctx context.Context, sessionID, content string, uploads []string) (<-chan *models.AgentEvent, error) {
	sess, err := o.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	if !o.acquire(sessionID) {
		return nil, NewError(CodeSessionBusy, "session %s already has a turn in progress", sessionID)
	}
	release := func() { o.release(sessionID) }

	// Failed and cancelled sessions are terminal. A persisted running or
	// waiting_tool status means an earlier process died mid-turn; the
	// busy flag held above is the concurrency authority, so the session
	// accepts the message.
	switch sess.Status {
	case models.StatusFailed, models.StatusCancelled:
		release()
		return nil, NewError(CodeValidationError, "session %s is %s and cannot accept messages", sessionID, sess.Status)
	}

	// Uploads are scoped to this message; earlier attachments are no
	// longer addressable.
	o.images.SetUploads(sessionID, uploads)

	userMsg := &models.Message{
		ID:        uuid.NewString(),
		Role:      models.RoleUser,
		Content:   content,
		CreatedAt: time.Now(),
	}
	for _, url := range uploads {
		userMsg.Images = append(userMsg.Images, models.ImageRef{Kind: models.ImageRefLiteral, Value: url})
	}
	sess.Messages = append(sess.Messages, userMsg)
	sess.Status = models.StatusRunning
	sess.LastError = nil
	if err := o.sessions.Update(ctx, sess); err != nil {
		release()
		return nil, err
	}

	sink := NewChannelSink(eventBuffer)
	go func() {
		defer release()
		o.runTurn(ctx, sess, NewEmitter(sink))
		sink.Close()
	}()
	return sink.Events(), nil
}

// SendMessageSync runs a full turn and returns the final session state
// along with the terminal event.
func (o *Orchestrator) SendMessageSync(ctx context.Context, sessionID, content string, uploads []string) (*models.Session, *models.AgentEvent, error) {
	events, err := o.SendMessage(ctx, sessionID, content, uploads)
	if err != nil {
		return nil, nil, err
	}
	var terminal *models.AgentEvent
	for event := range events {
		if event.Type == models.EventDone || event.Type == models.EventError {
			terminal = event
		}
	}
	sess, err := o.GetSession(context.WithoutCancel(ctx), sessionID)
	if err != nil {
		return nil, terminal, err
	}
	return sess, terminal, nil
}

func (o *Orchestrator) acquire(sessionID string) bool {
	o.busyMu.Lock()
	defer o.busyMu.Unlock()
	if o.busy[sessionID] {
		return false
	}
	o.busy[sessionID] = true
	return true
}

func (o *Orchestrator) release(sessionID string) {
	o.busyMu.Lock()
	delete(o.busy, sessionID)
	o.busyMu.Unlock()
}

// runTurn executes the loop until the model answers without tool calls
// or the turn fails. The session object is owned by this goroutine
// until the turn ends.
func (o *Orchestrator) runTurn(ctx context.Context, sess *models.Session, emitter *Emitter) {
	o.metrics.TurnStarted()
	maxSteps := sess.Config.MaxSteps
	if maxSteps <= 0 {
		maxSteps = defaultMaxSteps
	}

	for {
		// Cancellation wins over every other outcome, the step limit
		// included.
		if ctx.Err() != nil {
			o.failTurn(ctx, sess, emitter, CodeCancelled, "turn cancelled")
			return
		}
		if len(sess.Steps) >= maxSteps {
			o.failTurn(ctx, sess, emitter, CodeStepLimitExceeded,
				fmt.Sprintf("session reached its limit of %d steps without a final answer", maxSteps))
			return
		}

		completion, err := o.streamModel(ctx, sess, emitter)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, context.Canceled) {
				o.failTurn(ctx, sess, emitter, CodeCancelled, "turn cancelled")
				return
			}
			o.failTurn(ctx, sess, emitter, CodeProviderError, err.Error())
			return
		}

		assistant := &models.Message{
			ID:        uuid.NewString(),
			Role:      models.RoleAssistant,
			Content:   completion.Content,
			ToolCalls: completion.ToolCalls,
			CreatedAt: time.Now(),
		}
		sess.Messages = append(sess.Messages, assistant)

		step := &models.Step{
			Index:     len(sess.Steps),
			Assistant: assistant,
			CreatedAt: time.Now(),
		}

		if len(completion.ToolCalls) == 0 {
			sess.Steps = append(sess.Steps, step)
			sess.Status = models.StatusCompleted
			o.persist(ctx, sess)
			emitter.Done(completion.Content, sess.TotalCreditsUsed, len(sess.Steps))
			o.metrics.TurnFinished(string(models.StatusCompleted))
			o.logger.Info("turn completed",
				"session_id", sess.ID,
				"steps", len(sess.Steps),
				"total_credits", sess.TotalCreditsUsed)
			return
		}

		sess.Status = models.StatusWaitingTool
		o.persist(ctx, sess)

		// Tool calls run strictly one at a time, in the order the
		// model emitted them.
		for _, call := range completion.ToolCalls {
			if ctx.Err() != nil {
				sess.Steps = append(sess.Steps, step)
				o.failTurn(ctx, sess, emitter, CodeCancelled, "turn cancelled during tool execution")
				return
			}

			emitter.ToolStart(call)
			exec, fatal := o.executor.Execute(ctx, sess, step.Index, call)
			step.Executions = append(step.Executions, exec)
			sess.TotalCreditsUsed += exec.CreditsUsed
			o.metrics.RecordToolExecution(exec.ToolName, string(exec.Status),
				float64(exec.ExecutionTimeMs)/1000, exec.CreditsUsed)
			if exec.ErrorCode != "" {
				o.metrics.RecordError(exec.ErrorCode)
			}
			emitter.ToolResult(exec)

			// The result message lands in history whether or not the
			// call succeeded; the model sees failures too.
			sess.Messages = append(sess.Messages, toolResultMessage(call, exec))

			if fatal != nil {
				sess.Steps = append(sess.Steps, step)
				o.failTurn(ctx, sess, emitter, CodeOf(fatal, CodeToolHandlerError), fatal.Error())
				return
			}
		}

		sess.Steps = append(sess.Steps, step)

		// A cancellation that fired during the last tool call ends the
		// turn here; the step stays recorded but is not reported as
		// complete.
		if ctx.Err() != nil {
			o.failTurn(ctx, sess, emitter, CodeCancelled, "turn cancelled during tool execution")
			return
		}

		emitter.StepComplete(step.Index, len(step.Executions))
		sess.Status = models.StatusRunning
		o.persist(ctx, sess)
	}
}

// streamModel performs one gateway call, forwarding text deltas as
// events and returning the assembled completion.
func (o *Orchestrator) streamModel(ctx context.Context, sess *models.Session, emitter *Emitter) (*gateway.Completion, error) {
	req := &gateway.Request{
		Model:       sess.Config.Model,
		System:      sess.Config.SystemPrompt,
		Temperature: sess.Config.Temperature,
		MaxTokens:   sess.Config.MaxTokens,
		Messages:    sess.Messages,
		Tools:       o.registry.Definitions(sess.Config.AvailableTools),
	}

	start := time.Now()
	provider := o.gateway.Provider().Name()
	deltas, err := o.gateway.Stream(ctx, req)
	if err != nil {
		o.metrics.RecordModelRequest(provider, req.Model, "error", time.Since(start).Seconds(), 0, 0)
		return nil, err
	}

	var completion *gateway.Completion
	for delta := range deltas {
		switch {
		case delta.Err != nil:
			o.metrics.RecordModelRequest(provider, req.Model, "error", time.Since(start).Seconds(), 0, 0)
			return nil, delta.Err
		case delta.Text != "":
			emitter.ContentDelta(delta.Text)
		case delta.Done:
			completion = delta.Completion
		}
	}
	if completion == nil {
		o.metrics.RecordModelRequest(provider, req.Model, "error", time.Since(start).Seconds(), 0, 0)
		return nil, &gateway.ProviderError{
			Reason:   gateway.ReasonMalformedStream,
			Provider: provider,
			Model:    req.Model,
			Message:  "stream ended without a completion",
		}
	}

	o.metrics.RecordModelRequest(provider, req.Model, "success", time.Since(start).Seconds(),
		completion.InputTokens, completion.OutputTokens)
	return completion, nil
}

// failTurn moves the session to its terminal failure state and emits
// the error event.
func (o *Orchestrator) failTurn(ctx context.Context, sess *models.Session, emitter *Emitter, code ErrorCode, message string) {
	status := models.StatusFailed
	if code == CodeCancelled {
		status = models.StatusCancelled
	}
	sess.Status = status
	sess.LastError = &models.ErrorInfo{Code: string(code), Message: message}
	o.persist(ctx, sess)

	emitter.Error(code, message)
	o.metrics.TurnFinished(string(status))
	o.metrics.RecordError(string(code))
	o.logger.Warn("turn failed",
		"session_id", sess.ID,
		"code", string(code),
		"error", message)
}

// persist saves the session even when the turn's context is already
// cancelled; terminal states must not be lost.
func (o *Orchestrator) persist(ctx context.Context, sess *models.Session) {
	if err := o.sessions.Update(context.WithoutCancel(ctx), sess); err != nil {
		o.logger.Error("failed to persist session",
			"session_id", sess.ID,
			"error", err)
	}
}

func toolResultMessage(call models.ToolCall, exec *models.ToolExecution) *models.Message {
	var content string
	if exec.Succeeded() {
		content = string(exec.Result)
	} else {
		content = string(rawJSON(map[string]string{
			"error": exec.Error,
			"code":  exec.ErrorCode,
		}))
	}
	return &models.Message{
		ID:         uuid.NewString(),
		Role:       models.RoleTool,
		Content:    content,
		ToolCallID: call.ID,
		CreatedAt:  time.Now(),
	}
}
