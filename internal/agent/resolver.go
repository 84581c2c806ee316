package agent

import (
	"encoding/json"

	"github.com/pixelforge/pixelforge/internal/artifacts"
	"github.com/pixelforge/pixelforge/pkg/models"
)

// Resolver rewrites image-reference arguments into concrete URLs before
// a handler runs. Artifact references resolve against the session's
// recorded tool outputs, uploaded references against the current
// message's attachments, and anything else passes through as a literal.
type Resolver struct {
	images *artifacts.Store
}

// NewResolver creates a resolver over the given image store.
func NewResolver(images *artifacts.Store) *Resolver {
	return &Resolver{images: images}
}

// ResolveArgs returns a copy of args with every image parameter of the
// tool replaced by its resolved value. A reference to a missing
// artifact or upload is a validation error; execution must not fall
// back to treating the sentinel text as a URL.
func (r *Resolver) ResolveArgs(sessionID string, cfg *ToolConfig, args json.RawMessage) (json.RawMessage, error) {
	if len(cfg.ImageParams) == 0 {
		return args, nil
	}

	var parsed map[string]any
	if err := json.Unmarshal(args, &parsed); err != nil {
		return nil, NewError(CodeValidationError, "arguments for %s are not a JSON object: %v", cfg.Name, err)
	}

	for _, param := range cfg.ImageParams {
		raw, ok := parsed[param]
		if !ok {
			continue
		}
		str, ok := raw.(string)
		if !ok {
			return nil, NewError(CodeValidationError, "argument %s of %s must be a string image reference", param, cfg.Name)
		}

		resolved, err := r.resolve(sessionID, cfg.Name, param, str)
		if err != nil {
			return nil, err
		}
		parsed[param] = resolved
	}

	out, err := json.Marshal(parsed)
	if err != nil {
		return nil, NewError(CodeValidationError, "re-encode arguments for %s: %v", cfg.Name, err)
	}
	return out, nil
}

func (r *Resolver) resolve(sessionID, toolName, param, raw string) (string, error) {
	ref := models.ParseImageRef(raw)
	switch ref.Kind {
	case models.ImageRefArtifact:
		img, ok := r.images.Artifact(sessionID, ref.Value)
		if !ok {
			return "", NewError(CodeValidationError,
				"argument %s of %s references unknown artifact %q", param, toolName, raw)
		}
		return img.Value, nil

	case models.ImageRefUploaded:
		n, ok := ref.UploadedIndex()
		if !ok {
			return "", NewError(CodeValidationError,
				"argument %s of %s has malformed upload reference %q", param, toolName, raw)
		}
		value, ok := r.images.Upload(sessionID, n)
		if !ok {
			return "", NewError(CodeValidationError,
				"argument %s of %s references upload %d but the message has no such attachment", param, toolName, n)
		}
		return value, nil

	default:
		return ref.Value, nil
	}
}
