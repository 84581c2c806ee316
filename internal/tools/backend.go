// Package tools provides the image tool catalog: background removal,
// upscaling, style transfer, generation, and description, backed by the
// image processing service.
package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/pixelforge/pixelforge/internal/backoff"
)

// Backend performs one image operation against the processing service.
type Backend interface {
	Process(ctx context.Context, op string, params map[string]any) (json.RawMessage, error)
}

// HTTPBackend calls the processing service over HTTP. Server errors and
// connection failures are retried with bounded backoff; 4xx responses
// are not.
type HTTPBackend struct {
	baseURL string
	client  *http.Client
	policy  backoff.Policy
	logger  *slog.Logger
}

// NewHTTPBackend creates a backend for the service at baseURL.
func NewHTTPBackend(baseURL string, logger *slog.Logger) *HTTPBackend {
	if logger == nil {
		logger = slog.Default()
	}
	return &HTTPBackend{
		baseURL: baseURL,
		client:  &http.Client{Timeout: 60 * time.Second},
		policy:  backoff.Default(),
		logger:  logger,
	}
}

type backendError struct {
	status int
	body   string
}

func (e *backendError) Error() string {
	return fmt.Sprintf("backend returned %d: %s", e.status, e.body)
}

func (e *backendError) retryable() bool { return e.status >= 500 }

// Process posts the operation and returns the service's JSON response.
func (b *HTTPBackend) Process(ctx context.Context, op string, params map[string]any) (json.RawMessage, error) {
	body, err := json.Marshal(params)
	if err != nil {
		return nil, fmt.Errorf("encode %s request: %w", op, err)
	}
	url := b.baseURL + "/v1/" + op

	return backoff.Retry(ctx, b.policy, 3, func(err error) bool {
		var berr *backendError
		if errors.As(err, &berr) {
			return berr.retryable()
		}
		// Connection-level failures are worth another attempt.
		return true
	}, func(attempt int) (json.RawMessage, error) {
		if attempt > 1 {
			b.logger.Debug("retrying backend call", "op", op, "attempt", attempt)
		}
		return b.do(ctx, url, body)
	})
}

func (b *HTTPBackend) do(ctx context.Context, url string, body []byte) (json.RawMessage, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := b.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close() //nolint:errcheck

	data, err := io.ReadAll(io.LimitReader(resp.Body, 10<<20))
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &backendError{status: resp.StatusCode, body: truncate(string(data), 512)}
	}
	return json.RawMessage(data), nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
