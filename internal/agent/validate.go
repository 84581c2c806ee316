package agent

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// validateArgs checks tool arguments against the tool's JSON Schema.
// Violations come back as validation errors with the offending paths.
func validateArgs(cfg *ToolConfig, args json.RawMessage) error {
	compiled, err := cfg.compiledSchema()
	if err != nil {
		return err
	}

	var value any
	if len(args) == 0 {
		value = map[string]any{}
	} else if err := json.Unmarshal(args, &value); err != nil {
		return NewError(CodeValidationError, "arguments for %s are not valid JSON: %v", cfg.Name, err)
	}

	if err := compiled.Validate(value); err != nil {
		var verr *jsonschema.ValidationError
		if ok := asValidationError(err, &verr); ok {
			return NewError(CodeValidationError, "arguments for %s invalid: %s", cfg.Name, flattenValidation(verr))
		}
		return NewError(CodeValidationError, "arguments for %s invalid: %v", cfg.Name, err)
	}
	return nil
}

// compiledSchema compiles the config's schema on first use. The cache
// lives on the config itself, so two registries can hold different
// schemas under the same tool name without interfering.
func (cfg *ToolConfig) compiledSchema() (*jsonschema.Schema, error) {
	cfg.compileOnce.Do(func() {
		compiled, err := jsonschema.CompileString(cfg.Name+".json", string(cfg.Schema))
		if err != nil {
			cfg.compileErr = fmt.Errorf("compile schema for %s: %w", cfg.Name, err)
			return
		}
		cfg.compiled = compiled
	})
	return cfg.compiled, cfg.compileErr
}

func asValidationError(err error, target **jsonschema.ValidationError) bool {
	verr, ok := err.(*jsonschema.ValidationError)
	if ok {
		*target = verr
	}
	return ok
}

// flattenValidation collapses a validation error tree into one line of
// leaf failures.
func flattenValidation(verr *jsonschema.ValidationError) string {
	leaves := collectLeaves(verr)
	parts := make([]string, 0, len(leaves))
	for _, leaf := range leaves {
		loc := leaf.InstanceLocation
		if loc == "" {
			loc = "/"
		}
		parts = append(parts, fmt.Sprintf("%s: %s", loc, leaf.Message))
	}
	return strings.Join(parts, "; ")
}

func collectLeaves(verr *jsonschema.ValidationError) []*jsonschema.ValidationError {
	if len(verr.Causes) == 0 {
		return []*jsonschema.ValidationError{verr}
	}
	var out []*jsonschema.ValidationError
	for _, cause := range verr.Causes {
		out = append(out, collectLeaves(cause)...)
	}
	return out
}
