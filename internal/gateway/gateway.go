// Package gateway wraps model providers behind a single interface with
// blocking and streaming completion calls, tool-call assembly, and retry
// handling for transient provider failures.
package gateway

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/pixelforge/pixelforge/internal/backoff"
	"github.com/pixelforge/pixelforge/pkg/models"
)

// ToolDef is a tool definition presented to the model.
type ToolDef struct {
	Name        string
	Description string
	// Schema is the JSON Schema for the tool's arguments.
	Schema json.RawMessage
}

// Request is a provider-agnostic completion request.
type Request struct {
	Model       string
	System      string
	Temperature float32
	MaxTokens   int
	Messages    []*models.Message
	Tools       []ToolDef
}

// Completion is the assembled result of one model call.
type Completion struct {
	Content      string
	ToolCalls    []models.ToolCall
	FinishReason string
	InputTokens  int
	OutputTokens int
}

// Delta is one streamed fragment of a completion.
type Delta struct {
	// Text is an incremental piece of assistant content.
	Text string

	// ToolCall is set once a tool call has been fully assembled.
	ToolCall *models.ToolCall

	// Done marks the final delta; Completion carries the assembled result.
	Done       bool
	Completion *Completion

	// Err terminates the stream when set.
	Err error
}

// Provider is a single model backend. Implementations return typed
// *ProviderError values so the gateway can classify failures.
type Provider interface {
	Name() string
	Complete(ctx context.Context, req *Request) (*Completion, error)
	Stream(ctx context.Context, req *Request) (<-chan *Delta, error)
}

// Gateway fronts a Provider with retry policy. Rate-limited calls are
// retried exactly once after a delay; transient network and server
// failures get bounded exponential backoff. Everything else fails
// immediately.
type Gateway struct {
	provider Provider
	policy   backoff.Policy
	// maxAttempts bounds transient retries, including the first try.
	maxAttempts int
	logger      *slog.Logger
}

// New creates a gateway around the given provider.
func New(provider Provider, logger *slog.Logger) *Gateway {
	if logger == nil {
		logger = slog.Default()
	}
	return &Gateway{
		provider:    provider,
		policy:      backoff.Default(),
		maxAttempts: 3,
		logger:      logger,
	}
}

// Provider returns the wrapped provider.
func (g *Gateway) Provider() Provider { return g.provider }

// Complete performs a blocking completion with retries.
func (g *Gateway) Complete(ctx context.Context, req *Request) (*Completion, error) {
	return retryCall(ctx, g, req, g.provider.Complete)
}

// Stream opens a streaming completion with retries. Retries apply only
// to establishing the stream; mid-stream failures surface as error
// deltas without a second attempt.
func (g *Gateway) Stream(ctx context.Context, req *Request) (<-chan *Delta, error) {
	return retryCall(ctx, g, req, g.provider.Stream)
}

func retryCall[T any](ctx context.Context, g *Gateway, req *Request, call func(context.Context, *Request) (T, error)) (T, error) {
	var zero T
	rateLimitRetried := false

	for attempt := 1; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return zero, err
		}

		out, err := call(ctx, req)
		if err == nil {
			return out, nil
		}

		perr := AsProviderError(err)
		switch {
		case perr.Reason == ReasonRateLimit && !rateLimitRetried:
			// 429 gets exactly one retry.
			rateLimitRetried = true
			g.logger.Warn("provider rate limited, retrying once",
				"provider", g.provider.Name(),
				"model", req.Model)
			if serr := backoff.Sleep(ctx, g.policy.Delay(attempt)); serr != nil {
				return zero, serr
			}

		case perr.Reason.Transient() && attempt < g.maxAttempts:
			g.logger.Warn("transient provider failure, retrying",
				"provider", g.provider.Name(),
				"model", req.Model,
				"attempt", attempt,
				"reason", string(perr.Reason),
				"error", err)
			if serr := backoff.Sleep(ctx, g.policy.Delay(attempt)); serr != nil {
				return zero, serr
			}

		default:
			return zero, perr
		}
	}
}
