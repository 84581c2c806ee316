package agent

import (
	"encoding/json"
	"strings"
	"testing"
)

func TestValidateArgsReportsOffendingPaths(t *testing.T) {
	cfg := &ToolConfig{Name: "crop", Schema: objectSchema("image"), Handler: noopHandler}

	err := validateArgs(cfg, json.RawMessage(`{"style":"noir"}`))
	mustCode(t, err, CodeValidationError)
	if !strings.Contains(err.Error(), "image") {
		t.Errorf("validation error %q does not name the missing field", err)
	}

	if err := validateArgs(cfg, json.RawMessage(`{"image":"https://x/cat.png"}`)); err != nil {
		t.Errorf("valid arguments rejected: %v", err)
	}
}

func TestValidateArgsRejectsMalformedJSON(t *testing.T) {
	cfg := &ToolConfig{Name: "tint", Schema: objectSchema(), Handler: noopHandler}
	mustCode(t, validateArgs(cfg, json.RawMessage(`{"image":`)), CodeValidationError)
}

func TestSchemaCacheScopedToConfig(t *testing.T) {
	// Two configs sharing a tool name (separate registries in practice)
	// must each validate against their own schema.
	strict := &ToolConfig{Name: "resize", Schema: objectSchema("image"), Handler: noopHandler}
	loose := &ToolConfig{Name: "resize", Schema: objectSchema(), Handler: noopHandler}

	if err := validateArgs(strict, json.RawMessage(`{}`)); err == nil {
		t.Fatal("strict config accepted arguments missing a required field")
	}
	if err := validateArgs(loose, json.RawMessage(`{}`)); err != nil {
		t.Fatalf("loose config rejected empty arguments: %v", err)
	}
	if err := validateArgs(strict, json.RawMessage(`{}`)); err == nil {
		t.Fatal("strict config stopped enforcing its schema after the loose one compiled")
	}
}

func TestCompileErrorSurfacesOnEveryCall(t *testing.T) {
	cfg := &ToolConfig{Name: "broken", Schema: json.RawMessage(`{"type":`), Handler: noopHandler}
	for i := 0; i < 2; i++ {
		if err := validateArgs(cfg, json.RawMessage(`{}`)); err == nil {
			t.Fatalf("call %d: invalid schema compiled without error", i)
		}
	}
}
