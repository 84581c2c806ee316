package agent

import (
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/pixelforge/pixelforge/internal/artifacts"
	"github.com/pixelforge/pixelforge/internal/billing"
	"github.com/pixelforge/pixelforge/pkg/models"
)

type executorFixture struct {
	executor *Executor
	registry *Registry
	images   *artifacts.Store
	ledger   *billing.MemoryLedger
	session  *models.Session
}

func newExecutorFixture(t *testing.T) *executorFixture {
	t.Helper()
	logger := discardLogger()
	registry := NewRegistry()
	images := artifacts.NewStore(logger)
	ledger := billing.NewMemoryLedger(logger)
	return &executorFixture{
		executor: NewExecutor(registry, NewResolver(images), images, ledger, logger),
		registry: registry,
		images:   images,
		ledger:   ledger,
		session:  &models.Session{ID: "sess-1", UserID: "user-1"},
	}
}

func (f *executorFixture) register(t *testing.T, cfg *ToolConfig) {
	t.Helper()
	if cfg.Schema == nil {
		cfg.Schema = objectSchema()
	}
	if err := f.registry.Register(cfg); err != nil {
		t.Fatalf("Register(%s) error = %v", cfg.Name, err)
	}
}

func TestExecuteToolNotFound(t *testing.T) {
	f := newExecutorFixture(t)

	exec, fatal := f.executor.Execute(context.Background(), f.session, 0,
		models.ToolCall{ID: "c1", Name: "ghost_tool", Input: json.RawMessage(`{}`)})
	if fatal != nil {
		t.Fatalf("unknown tool was session-fatal: %v", fatal)
	}
	if exec.Status != models.ExecutionError {
		t.Errorf("Status = %s, want error", exec.Status)
	}
	if exec.ErrorCode != string(CodeToolNotFound) {
		t.Errorf("ErrorCode = %s, want tool_not_found", exec.ErrorCode)
	}
	if exec.CreditsUsed != 0 {
		t.Errorf("CreditsUsed = %d, want 0", exec.CreditsUsed)
	}
}

func TestExecuteSchemaValidation(t *testing.T) {
	f := newExecutorFixture(t)
	f.register(t, &ToolConfig{
		Name:    "exec_validate",
		Schema:  objectSchema("image"),
		Handler: noopHandler,
	})

	exec, fatal := f.executor.Execute(context.Background(), f.session, 0,
		models.ToolCall{ID: "c1", Name: "exec_validate", Input: json.RawMessage(`{"style":"anime"}`)})
	if fatal != nil {
		t.Fatalf("validation failure was session-fatal: %v", fatal)
	}
	if exec.ErrorCode != string(CodeValidationError) {
		t.Errorf("ErrorCode = %s, want validation_error", exec.ErrorCode)
	}
	if exec.CreditsUsed != 0 {
		t.Errorf("CreditsUsed = %d, want 0", exec.CreditsUsed)
	}
}

func TestExecuteSuccessDebitsCredits(t *testing.T) {
	f := newExecutorFixture(t)
	if err := f.ledger.Credit(context.Background(), "user-1", 10); err != nil {
		t.Fatal(err)
	}
	f.register(t, &ToolConfig{
		Name:       "exec_paid",
		CreditCost: 3,
		Handler: func(_ context.Context, _ *ToolContext, _ json.RawMessage) (json.RawMessage, error) {
			return json.RawMessage(`{"ok":true}`), nil
		},
	})

	exec, fatal := f.executor.Execute(context.Background(), f.session, 0,
		models.ToolCall{ID: "c1", Name: "exec_paid", Input: json.RawMessage(`{}`)})
	if fatal != nil {
		t.Fatalf("Execute() fatal = %v", fatal)
	}
	if !exec.Succeeded() {
		t.Fatalf("Status = %s (%s), want success", exec.Status, exec.Error)
	}
	if exec.CreditsUsed != 3 {
		t.Errorf("CreditsUsed = %d, want 3", exec.CreditsUsed)
	}
	balance, _ := f.ledger.Balance(context.Background(), "user-1")
	if balance != 7 {
		t.Errorf("balance after debit = %d, want 7", balance)
	}
}

func TestExecuteInsufficientCreditsIsFatal(t *testing.T) {
	f := newExecutorFixture(t)
	if err := f.ledger.Credit(context.Background(), "user-1", 2); err != nil {
		t.Fatal(err)
	}
	f.register(t, &ToolConfig{
		Name:       "exec_pricey",
		CreditCost: 5,
		Handler:    noopHandler,
	})

	exec, fatal := f.executor.Execute(context.Background(), f.session, 0,
		models.ToolCall{ID: "c1", Name: "exec_pricey", Input: json.RawMessage(`{}`)})
	if fatal == nil {
		t.Fatal("insufficient credits did not return a fatal error")
	}
	if CodeOf(fatal, "") != CodeInsufficientCredits {
		t.Errorf("fatal code = %s, want insufficient_credits", CodeOf(fatal, ""))
	}
	if exec.ErrorCode != string(CodeInsufficientCredits) {
		t.Errorf("exec.ErrorCode = %s", exec.ErrorCode)
	}
	if exec.CreditsUsed != 0 {
		t.Errorf("CreditsUsed = %d, want 0", exec.CreditsUsed)
	}
	balance, _ := f.ledger.Balance(context.Background(), "user-1")
	if balance != 2 {
		t.Errorf("balance changed to %d on a refused call", balance)
	}
}

func TestExecuteHandlerErrorLeavesBalance(t *testing.T) {
	f := newExecutorFixture(t)
	if err := f.ledger.Credit(context.Background(), "user-1", 10); err != nil {
		t.Fatal(err)
	}
	f.register(t, &ToolConfig{
		Name:       "exec_failing",
		CreditCost: 4,
		Handler: func(_ context.Context, _ *ToolContext, _ json.RawMessage) (json.RawMessage, error) {
			return nil, NewError(CodeToolHandlerError, "backend rejected the image")
		},
	})

	exec, fatal := f.executor.Execute(context.Background(), f.session, 0,
		models.ToolCall{ID: "c1", Name: "exec_failing", Input: json.RawMessage(`{}`)})
	if fatal != nil {
		t.Fatalf("handler error was session-fatal: %v", fatal)
	}
	if exec.ErrorCode != string(CodeToolHandlerError) {
		t.Errorf("ErrorCode = %s", exec.ErrorCode)
	}
	if exec.CreditsUsed != 0 {
		t.Errorf("CreditsUsed = %d, want 0 on failure", exec.CreditsUsed)
	}
	balance, _ := f.ledger.Balance(context.Background(), "user-1")
	if balance != 10 {
		t.Errorf("balance = %d, want 10 untouched", balance)
	}
}

func TestExecutePanicRecovered(t *testing.T) {
	f := newExecutorFixture(t)
	f.register(t, &ToolConfig{
		Name: "exec_panicky",
		Handler: func(_ context.Context, _ *ToolContext, _ json.RawMessage) (json.RawMessage, error) {
			panic("nil map write")
		},
	})

	exec, fatal := f.executor.Execute(context.Background(), f.session, 0,
		models.ToolCall{ID: "c1", Name: "exec_panicky", Input: json.RawMessage(`{}`)})
	if fatal != nil {
		t.Fatalf("panic was session-fatal: %v", fatal)
	}
	if exec.ErrorCode != string(CodeToolHandlerError) {
		t.Errorf("ErrorCode = %s, want tool_handler_error", exec.ErrorCode)
	}
	if !strings.Contains(exec.Error, "panicked") {
		t.Errorf("error message %q does not mention the panic", exec.Error)
	}
}

func TestExecuteTimeout(t *testing.T) {
	f := newExecutorFixture(t)
	f.register(t, &ToolConfig{
		Name:                 "exec_slow",
		EstimatedTimeSeconds: 1, // 2s effective timeout
		Handler: func(ctx context.Context, _ *ToolContext, _ json.RawMessage) (json.RawMessage, error) {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(time.Minute):
				return json.RawMessage(`{}`), nil
			}
		},
	})

	exec, fatal := f.executor.Execute(context.Background(), f.session, 0,
		models.ToolCall{ID: "c1", Name: "exec_slow", Input: json.RawMessage(`{}`)})
	if fatal != nil {
		t.Fatalf("timeout was session-fatal: %v", fatal)
	}
	if exec.ErrorCode != string(CodeToolTimeout) {
		t.Errorf("ErrorCode = %s, want tool_timeout", exec.ErrorCode)
	}
	if exec.CreditsUsed != 0 {
		t.Errorf("CreditsUsed = %d, want 0", exec.CreditsUsed)
	}
}

func TestExecuteCancellation(t *testing.T) {
	f := newExecutorFixture(t)
	started := make(chan struct{})
	f.register(t, &ToolConfig{
		Name: "exec_cancelled",
		Handler: func(ctx context.Context, _ *ToolContext, _ json.RawMessage) (json.RawMessage, error) {
			close(started)
			<-ctx.Done()
			return nil, ctx.Err()
		},
	})

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		<-started
		cancel()
	}()

	exec, fatal := f.executor.Execute(ctx, f.session, 0,
		models.ToolCall{ID: "c1", Name: "exec_cancelled", Input: json.RawMessage(`{}`)})
	if fatal != nil {
		t.Fatalf("cancellation was session-fatal: %v", fatal)
	}
	if exec.Status != models.ExecutionCancelled {
		t.Errorf("Status = %s, want cancelled", exec.Status)
	}
	if exec.ErrorCode != string(CodeCancelled) {
		t.Errorf("ErrorCode = %s, want cancelled", exec.ErrorCode)
	}
}

func TestExecuteCapturesArtifact(t *testing.T) {
	f := newExecutorFixture(t)
	f.register(t, &ToolConfig{
		Name:          "exec_producer",
		ProducesImage: true,
		Handler: func(_ context.Context, _ *ToolContext, _ json.RawMessage) (json.RawMessage, error) {
			return json.RawMessage(`{"image":"https://results.example.com/r.png"}`), nil
		},
	})

	exec, _ := f.executor.Execute(context.Background(), f.session, 2,
		models.ToolCall{ID: "call_7", Name: "exec_producer", Input: json.RawMessage(`{}`)})
	if !exec.Succeeded() {
		t.Fatalf("Status = %s (%s)", exec.Status, exec.Error)
	}

	img, ok := f.images.Artifact("sess-1", models.ArtifactKey(2, "call_7"))
	if !ok {
		t.Fatal("artifact was not recorded under step:2:tool:call_7")
	}
	if img.Value != "https://results.example.com/r.png" {
		t.Errorf("artifact value = %q", img.Value)
	}
	if img.ToolName != "exec_producer" {
		t.Errorf("artifact tool = %q", img.ToolName)
	}
}

func TestExecuteResolvesReferencesBeforeHandler(t *testing.T) {
	f := newExecutorFixture(t)
	f.images.SetUploads("sess-1", []string{"https://uploads.example.com/u0.png"})

	var seen string
	f.register(t, &ToolConfig{
		Name:        "exec_resolving",
		Schema:      objectSchema("image"),
		ImageParams: []string{"image"},
		Handler: func(_ context.Context, _ *ToolContext, args json.RawMessage) (json.RawMessage, error) {
			var parsed struct {
				Image string `json:"image"`
			}
			if err := json.Unmarshal(args, &parsed); err != nil {
				return nil, err
			}
			seen = parsed.Image
			return json.RawMessage(`{}`), nil
		},
	})

	exec, _ := f.executor.Execute(context.Background(), f.session, 0,
		models.ToolCall{ID: "c1", Name: "exec_resolving", Input: json.RawMessage(`{"image":"uploaded:0"}`)})
	if !exec.Succeeded() {
		t.Fatalf("Status = %s (%s)", exec.Status, exec.Error)
	}
	if seen != "https://uploads.example.com/u0.png" {
		t.Errorf("handler saw image = %q, want the resolved upload URL", seen)
	}
}
