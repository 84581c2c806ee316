package agent

import (
	"context"
	"encoding/json"
	"reflect"
	"testing"
)

func noopHandler(_ context.Context, _ *ToolContext, _ json.RawMessage) (json.RawMessage, error) {
	return json.RawMessage(`{}`), nil
}

func objectSchema(required ...string) json.RawMessage {
	schema := map[string]any{
		"type": "object",
		"properties": map[string]any{
			"image": map[string]any{"type": "string"},
			"style": map[string]any{"type": "string"},
		},
	}
	if len(required) > 0 {
		schema["required"] = required
	}
	b, _ := json.Marshal(schema)
	return b
}

func TestRegisterDuplicateFails(t *testing.T) {
	r := NewRegistry()
	cfg := &ToolConfig{Name: "resize", Schema: objectSchema(), Handler: noopHandler}
	if err := r.Register(cfg); err != nil {
		t.Fatalf("first Register() error = %v", err)
	}
	if err := r.Register(cfg); err == nil {
		t.Fatal("duplicate Register() succeeded, want error")
	}
}

func TestRegisterRejectsInvalidConfig(t *testing.T) {
	r := NewRegistry()
	if err := r.Register(&ToolConfig{Name: "", Handler: noopHandler}); err == nil {
		t.Error("Register() with empty name succeeded, want error")
	}
	if err := r.Register(&ToolConfig{Name: "no_handler"}); err == nil {
		t.Error("Register() with nil handler succeeded, want error")
	}
}

func TestNamesSorted(t *testing.T) {
	r := NewRegistry()
	for _, name := range []string{"zeta", "alpha", "mid"} {
		if err := r.Register(&ToolConfig{Name: name, Schema: objectSchema(), Handler: noopHandler}); err != nil {
			t.Fatalf("Register(%s) error = %v", name, err)
		}
	}
	got := r.Names()
	want := []string{"alpha", "mid", "zeta"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Names() = %v, want %v", got, want)
	}
}

func TestDefinitionsAllowlist(t *testing.T) {
	r := NewRegistry()
	for _, name := range []string{"crop", "blur", "tint"} {
		if err := r.Register(&ToolConfig{Name: name, Schema: objectSchema(), Handler: noopHandler}); err != nil {
			t.Fatalf("Register(%s) error = %v", name, err)
		}
	}

	defs := r.Definitions(nil)
	if len(defs) != 3 {
		t.Fatalf("Definitions(nil) returned %d defs, want 3", len(defs))
	}
	for i, want := range []string{"blur", "crop", "tint"} {
		if defs[i].Name != want {
			t.Errorf("Definitions(nil)[%d].Name = %q, want %q", i, defs[i].Name, want)
		}
	}

	// Allowlist order is preserved; unknown names are dropped silently.
	defs = r.Definitions([]string{"tint", "missing", "crop"})
	if len(defs) != 2 {
		t.Fatalf("allowlisted Definitions returned %d defs, want 2", len(defs))
	}
	if defs[0].Name != "tint" || defs[1].Name != "crop" {
		t.Errorf("allowlisted Definitions order = [%s %s], want [tint crop]", defs[0].Name, defs[1].Name)
	}

	// An empty, non-nil allowlist means no tools at all.
	if defs := r.Definitions([]string{}); len(defs) != 0 {
		t.Errorf("Definitions(empty) returned %d defs, want 0", len(defs))
	}
}
