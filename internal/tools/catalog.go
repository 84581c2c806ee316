package tools

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/invopop/jsonschema"

	"github.com/pixelforge/pixelforge/internal/agent"
)

// Argument structs double as the source of each tool's JSON Schema.
// Image-reference fields accept "uploaded:<n>", a prior tool output
// reference, or a plain URL; by the time a handler runs they hold a
// concrete URL.

type removeBackgroundArgs struct {
	Image string `json:"image" jsonschema:"description=Image to process: an upload reference or a prior tool output or a URL"`
}

type upscaleImageArgs struct {
	Image  string `json:"image" jsonschema:"description=Image to upscale"`
	Factor int    `json:"factor,omitempty" jsonschema:"minimum=2,maximum=4,description=Scale factor of 2 or 4"`
}

type styleTransferArgs struct {
	Image string `json:"image" jsonschema:"description=Image to restyle"`
	Style string `json:"style" jsonschema:"description=Target style such as watercolor or anime or oil-painting"`
}

type generateImageArgs struct {
	Prompt string `json:"prompt" jsonschema:"description=Text description of the image to generate"`
	Width  int    `json:"width,omitempty" jsonschema:"minimum=64,maximum=2048,description=Output width in pixels"`
	Height int    `json:"height,omitempty" jsonschema:"minimum=64,maximum=2048,description=Output height in pixels"`
}

type describeImageArgs struct {
	Image string `json:"image" jsonschema:"description=Image to describe"`
}

// RegisterCatalog registers the built-in image tools against the given
// backend. Called once at startup; a duplicate registration is a
// programming error and propagates.
func RegisterCatalog(registry *agent.Registry, backend Backend) error {
	catalog := []*agent.ToolConfig{
		{
			Name:                 "remove_background",
			Description:          "Remove the background from an image, leaving the subject on a transparent canvas.",
			Schema:               schemaFor(&removeBackgroundArgs{}, "image"),
			CreditCost:           2,
			EstimatedTimeSeconds: 10,
			ImageParams:          []string{"image"},
			ProducesImage:        true,
			Handler:              processHandler(backend, "remove_background"),
		},
		{
			Name:                 "upscale_image",
			Description:          "Upscale an image by 2x or 4x, enhancing detail.",
			Schema:               schemaFor(&upscaleImageArgs{}, "image"),
			CreditCost:           3,
			EstimatedTimeSeconds: 20,
			ImageParams:          []string{"image"},
			ProducesImage:        true,
			Handler:              processHandler(backend, "upscale_image"),
		},
		{
			Name:                 "style_transfer",
			Description:          "Re-render an image in a named artistic style.",
			Schema:               schemaFor(&styleTransferArgs{}, "image", "style"),
			CreditCost:           5,
			EstimatedTimeSeconds: 30,
			ImageParams:          []string{"image"},
			ProducesImage:        true,
			Handler:              processHandler(backend, "style_transfer"),
		},
		{
			Name:                 "generate_image",
			Description:          "Generate a new image from a text prompt.",
			Schema:               schemaFor(&generateImageArgs{}, "prompt"),
			CreditCost:           10,
			EstimatedTimeSeconds: 45,
			ProducesImage:        true,
			Handler:              processHandler(backend, "generate_image"),
		},
		{
			Name:                 "describe_image",
			Description:          "Describe the contents of an image in natural language.",
			Schema:               schemaFor(&describeImageArgs{}, "image"),
			CreditCost:           1,
			EstimatedTimeSeconds: 10,
			ImageParams:          []string{"image"},
			Handler:              processHandler(backend, "describe_image"),
		},
	}

	for _, cfg := range catalog {
		if err := registry.Register(cfg); err != nil {
			return fmt.Errorf("register catalog: %w", err)
		}
	}
	return nil
}

// processHandler forwards validated, resolved arguments to the backend
// operation of the same name.
func processHandler(backend Backend, op string) agent.Handler {
	return func(ctx context.Context, tc *agent.ToolContext, args json.RawMessage) (json.RawMessage, error) {
		var params map[string]any
		if err := json.Unmarshal(args, &params); err != nil {
			return nil, fmt.Errorf("decode %s arguments: %w", op, err)
		}
		return backend.Process(ctx, op, params)
	}
}

// schemaFor reflects a JSON Schema from an argument struct and marks
// the given properties required.
func schemaFor(v any, required ...string) json.RawMessage {
	r := &jsonschema.Reflector{
		DoNotReference: true,
		ExpandedStruct: true,
	}
	schema := r.Reflect(v)
	schema.Version = ""
	schema.Required = required
	b, err := json.Marshal(schema)
	if err != nil {
		panic(fmt.Sprintf("reflect tool schema: %v", err))
	}
	return b
}
