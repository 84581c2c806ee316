package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	"github.com/pixelforge/pixelforge/internal/artifacts"
	"github.com/pixelforge/pixelforge/internal/billing"
	"github.com/pixelforge/pixelforge/pkg/models"
)

// defaultToolTimeout bounds handlers that declare no time estimate.
const defaultToolTimeout = 30 * time.Second

// Executor runs one tool call end to end: lookup, validation, image
// resolution, credit check, the handler itself under a timeout with
// panic recovery, and artifact capture. Every call yields a
// ToolExecution record whether it succeeded or not; credits are only
// consumed on success.
type Executor struct {
	registry *Registry
	resolver *Resolver
	images   *artifacts.Store
	ledger   billing.Ledger
	logger   *slog.Logger
}

// NewExecutor wires an executor over the given collaborators.
func NewExecutor(registry *Registry, resolver *Resolver, images *artifacts.Store, ledger billing.Ledger, logger *slog.Logger) *Executor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Executor{
		registry: registry,
		resolver: resolver,
		images:   images,
		ledger:   ledger,
		logger:   logger,
	}
}

// Execute performs a single tool call for the given session and step.
// The returned record always has CallID, ToolName, and timing set; on
// any failure path Status is error (or cancelled) and CreditsUsed is
// zero. The error return is non-nil only for session-fatal failures.
func (e *Executor) Execute(ctx context.Context, sess *models.Session, stepIndex int, call models.ToolCall) (*models.ToolExecution, error) {
	start := time.Now()
	exec := &models.ToolExecution{
		ToolName:  call.Name,
		CallID:    call.ID,
		Arguments: call.Input,
		Status:    models.ExecutionRunning,
	}
	finish := func() *models.ToolExecution {
		exec.ExecutionTimeMs = time.Since(start).Milliseconds()
		return exec
	}
	fail := func(code ErrorCode, msg string) {
		exec.Status = models.ExecutionError
		exec.ErrorCode = string(code)
		exec.Error = msg
		exec.CreditsUsed = 0
	}

	cfg, ok := e.registry.Get(call.Name)
	if !ok {
		fail(CodeToolNotFound, fmt.Sprintf("tool %s is not registered", call.Name))
		return finish(), nil
	}

	if err := validateArgs(cfg, call.Input); err != nil {
		fail(CodeOf(err, CodeValidationError), err.Error())
		return finish(), nil
	}

	resolved, err := e.resolver.ResolveArgs(sess.ID, cfg, call.Input)
	if err != nil {
		fail(CodeOf(err, CodeValidationError), err.Error())
		return finish(), nil
	}

	// Point-in-time affordability check. The debit itself happens after
	// the handler succeeds.
	if cfg.CreditCost > 0 {
		balance, berr := e.ledger.Balance(ctx, sess.UserID)
		if berr != nil {
			fail(CodeToolHandlerError, fmt.Sprintf("credit balance lookup failed: %v", berr))
			return finish(), nil
		}
		if balance < cfg.CreditCost {
			fail(CodeInsufficientCredits, fmt.Sprintf("tool %s costs %d credits, balance is %d", cfg.Name, cfg.CreditCost, balance))
			return finish(), NewError(CodeInsufficientCredits, "tool %s costs %d credits, balance is %d", cfg.Name, cfg.CreditCost, balance)
		}
	}

	tc := &ToolContext{
		SessionID: sess.ID,
		UserID:    sess.UserID,
		StepIndex: stepIndex,
		CallID:    call.ID,
	}

	result, err := e.runWithTimeout(ctx, cfg, tc, resolved)
	if err != nil {
		switch {
		case errors.Is(err, context.Canceled):
			exec.Status = models.ExecutionCancelled
			exec.ErrorCode = string(CodeCancelled)
			exec.Error = "tool execution cancelled"
			exec.CreditsUsed = 0
		case errors.Is(err, context.DeadlineExceeded):
			fail(CodeToolTimeout, fmt.Sprintf("tool %s timed out after %s", cfg.Name, e.timeoutFor(cfg)))
		default:
			fail(CodeOf(err, CodeToolHandlerError), err.Error())
		}
		e.logger.Warn("tool execution failed",
			"session_id", sess.ID,
			"tool", call.Name,
			"call_id", call.ID,
			"code", exec.ErrorCode,
			"error", exec.Error)
		return finish(), nil
	}

	if cfg.CreditCost > 0 {
		if derr := e.ledger.Debit(ctx, sess.UserID, cfg.CreditCost, cfg.Name); derr != nil {
			if errors.Is(derr, billing.ErrInsufficientCredits) {
				fail(CodeInsufficientCredits, derr.Error())
				return finish(), WrapError(CodeInsufficientCredits, derr)
			}
			fail(CodeToolHandlerError, fmt.Sprintf("credit debit failed: %v", derr))
			return finish(), nil
		}
		exec.CreditsUsed = cfg.CreditCost
	}

	exec.Status = models.ExecutionSuccess
	exec.Result = result

	if cfg.ProducesImage {
		e.captureArtifact(sess.ID, cfg.Name, stepIndex, call.ID, result)
	}

	e.logger.Info("tool executed",
		"session_id", sess.ID,
		"tool", call.Name,
		"call_id", call.ID,
		"credits_used", exec.CreditsUsed,
		"duration_ms", time.Since(start).Milliseconds())
	return finish(), nil
}

func (e *Executor) timeoutFor(cfg *ToolConfig) time.Duration {
	if cfg.EstimatedTimeSeconds > 0 {
		// Twice the estimate leaves headroom for slow backends.
		return 2 * time.Duration(cfg.EstimatedTimeSeconds) * time.Second
	}
	return defaultToolTimeout
}

func (e *Executor) runWithTimeout(ctx context.Context, cfg *ToolConfig, tc *ToolContext, args json.RawMessage) (json.RawMessage, error) {
	execCtx, cancel := context.WithTimeout(ctx, e.timeoutFor(cfg))
	defer cancel()

	type outcome struct {
		result json.RawMessage
		err    error
	}
	resultCh := make(chan outcome, 1)

	go func() {
		defer func() {
			if r := recover(); r != nil {
				resultCh <- outcome{err: NewError(CodeToolHandlerError,
					"tool %s panicked: %v\n%s", cfg.Name, r, debug.Stack())}
			}
		}()
		result, err := cfg.Handler(execCtx, tc, args)
		resultCh <- outcome{result: result, err: err}
	}()

	select {
	case out := <-resultCh:
		return out.result, out.err
	case <-execCtx.Done():
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, context.DeadlineExceeded
	}
}

// captureArtifact records the produced image under the step and call it
// came from. A producing tool whose result lacks an image field is a
// handler bug worth logging, not a failure of the call.
func (e *Executor) captureArtifact(sessionID, toolName string, stepIndex int, callID string, result json.RawMessage) {
	var payload struct {
		Image string `json:"image"`
	}
	if err := json.Unmarshal(result, &payload); err != nil || payload.Image == "" {
		e.logger.Warn("producing tool returned no image",
			"session_id", sessionID,
			"tool", toolName,
			"call_id", callID)
		return
	}
	e.images.PutArtifact(sessionID, &artifacts.Image{
		Value:     payload.Image,
		ToolName:  toolName,
		StepIndex: stepIndex,
		CallID:    callID,
	})
}
