package gateway

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/anthropics/anthropic-sdk-go/packages/ssestream"

	"github.com/pixelforge/pixelforge/pkg/models"
)

const anthropicDefaultMaxTokens = 4096

// AnthropicProvider implements Provider for Claude models.
//
// Anthropic streams tool calls as content blocks: content_block_start
// carries the ID and name, input_json_delta events carry argument
// fragments, content_block_stop closes the call. Text arrives through
// text_delta events on separate blocks.
type AnthropicProvider struct {
	client anthropic.Client
}

// NewAnthropicProvider creates a provider backed by the given API key.
func NewAnthropicProvider(apiKey string) *AnthropicProvider {
	return &AnthropicProvider{client: anthropic.NewClient(option.WithAPIKey(apiKey))}
}

// Name returns "anthropic".
func (p *AnthropicProvider) Name() string { return "anthropic" }

// Complete performs a blocking message call.
func (p *AnthropicProvider) Complete(ctx context.Context, req *Request) (*Completion, error) {
	params, err := p.buildParams(req)
	if err != nil {
		return nil, err
	}
	msg, err := p.client.Messages.New(ctx, params)
	if err != nil {
		return nil, wrapError(p.Name(), req.Model, anthropicStatus(err), err)
	}

	out := &Completion{
		FinishReason: string(msg.StopReason),
		InputTokens:  int(msg.Usage.InputTokens),
		OutputTokens: int(msg.Usage.OutputTokens),
	}
	for _, block := range msg.Content {
		switch variant := block.AsAny().(type) {
		case anthropic.TextBlock:
			out.Content += variant.Text
		case anthropic.ToolUseBlock:
			out.ToolCalls = append(out.ToolCalls, models.ToolCall{
				ID:    variant.ID,
				Name:  variant.Name,
				Input: json.RawMessage(variant.JSON.Input.Raw()),
			})
		}
	}
	return out, nil
}

// Stream opens a streaming message call.
func (p *AnthropicProvider) Stream(ctx context.Context, req *Request) (<-chan *Delta, error) {
	params, err := p.buildParams(req)
	if err != nil {
		return nil, err
	}
	stream := p.client.Messages.NewStreaming(ctx, params)
	if err := stream.Err(); err != nil {
		return nil, wrapError(p.Name(), req.Model, anthropicStatus(err), err)
	}

	deltas := make(chan *Delta)
	go p.processStream(req.Model, stream, deltas)
	return deltas, nil
}

func (p *AnthropicProvider) processStream(model string, stream *ssestream.Stream[anthropic.MessageStreamEventUnion], deltas chan<- *Delta) {
	defer close(deltas)
	defer stream.Close() //nolint:errcheck

	acc := NewStreamAccumulator()
	completion := &Completion{}
	var content []byte
	// Anthropic identifies tool-call blocks by content block index.
	slot := -1
	inToolBlock := false

	for stream.Next() {
		event := stream.Current()
		switch event.Type {
		case "message_start":
			start := event.AsMessageStart()
			completion.InputTokens = int(start.Message.Usage.InputTokens)

		case "content_block_start":
			blockStart := event.AsContentBlockStart()
			if blockStart.ContentBlock.Type == "tool_use" {
				toolUse := blockStart.ContentBlock.AsToolUse()
				slot = int(blockStart.Index)
				inToolBlock = true
				acc.Add(slot, toolUse.ID, toolUse.Name, "")
			}

		case "content_block_delta":
			delta := event.AsContentBlockDelta().Delta
			switch delta.Type {
			case "text_delta":
				if delta.Text != "" {
					content = append(content, delta.Text...)
					deltas <- &Delta{Text: delta.Text}
				}
			case "input_json_delta":
				if inToolBlock && delta.PartialJSON != "" {
					acc.Add(slot, "", "", delta.PartialJSON)
				}
			}

		case "content_block_stop":
			inToolBlock = false

		case "message_delta":
			msgDelta := event.AsMessageDelta()
			completion.FinishReason = string(msgDelta.Delta.StopReason)
			if msgDelta.Usage.OutputTokens > 0 {
				completion.OutputTokens = int(msgDelta.Usage.OutputTokens)
			}

		case "message_stop":
			calls, err := acc.Finish(p.Name(), model)
			if err != nil {
				deltas <- &Delta{Err: err, Done: true}
				return
			}
			for i := range calls {
				deltas <- &Delta{ToolCall: &calls[i]}
			}
			completion.ToolCalls = calls
			completion.Content = string(content)
			deltas <- &Delta{Done: true, Completion: completion}
			return
		}
	}

	if err := stream.Err(); err != nil {
		deltas <- &Delta{Err: wrapError(p.Name(), model, anthropicStatus(err), err), Done: true}
		return
	}

	// Stream ended without message_stop. Accept accumulated calls only
	// if their arguments balanced.
	calls, err := acc.Finish(p.Name(), model)
	if err != nil {
		deltas <- &Delta{Err: err, Done: true}
		return
	}
	completion.ToolCalls = calls
	completion.Content = string(content)
	deltas <- &Delta{Done: true, Completion: completion}
}

func (p *AnthropicProvider) buildParams(req *Request) (anthropic.MessageNewParams, error) {
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = anthropicDefaultMaxTokens
	}
	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(req.Model),
		MaxTokens: int64(maxTokens),
		Messages:  p.convertMessages(req.Messages),
	}
	if req.System != "" {
		params.System = []anthropic.TextBlockParam{{Text: req.System}}
	}
	if req.Temperature > 0 {
		params.Temperature = anthropic.Float(float64(req.Temperature))
	}
	for _, t := range req.Tools {
		var schema anthropic.ToolInputSchemaParam
		if err := json.Unmarshal(t.Schema, &schema); err != nil {
			return params, &ProviderError{
				Reason:   ReasonInvalidRequest,
				Provider: p.Name(),
				Model:    req.Model,
				Message:  "invalid schema for tool " + t.Name,
				Cause:    err,
			}
		}
		tool := anthropic.ToolUnionParamOfTool(schema, t.Name)
		if tool.OfTool != nil {
			tool.OfTool.Description = anthropic.String(t.Description)
		}
		params.Tools = append(params.Tools, tool)
	}
	return params, nil
}

func (p *AnthropicProvider) convertMessages(messages []*models.Message) []anthropic.MessageParam {
	var result []anthropic.MessageParam
	for _, msg := range messages {
		var content []anthropic.ContentBlockParamUnion

		switch msg.Role {
		case models.RoleUser, models.RoleSystem:
			if msg.Content != "" {
				content = append(content, anthropic.NewTextBlock(msg.Content))
			}
			for _, url := range imageURLs(msg.Images) {
				content = append(content, anthropic.ContentBlockParamUnion{
					OfImage: &anthropic.ImageBlockParam{
						Source: anthropic.ImageBlockParamSourceUnion{
							OfURL: &anthropic.URLImageSourceParam{URL: url},
						},
					},
				})
			}
			if len(content) > 0 {
				result = append(result, anthropic.NewUserMessage(content...))
			}

		case models.RoleAssistant:
			if msg.Content != "" {
				content = append(content, anthropic.NewTextBlock(msg.Content))
			}
			for _, tc := range msg.ToolCalls {
				var input any
				if err := json.Unmarshal(tc.Input, &input); err != nil {
					input = map[string]any{}
				}
				content = append(content, anthropic.NewToolUseBlock(tc.ID, input, tc.Name))
			}
			if len(content) > 0 {
				result = append(result, anthropic.NewAssistantMessage(content...))
			}

		case models.RoleTool:
			// Tool results ride in user messages on the Anthropic API.
			content = append(content, anthropic.NewToolResultBlock(msg.ToolCallID, msg.Content, false))
			result = append(result, anthropic.NewUserMessage(content...))
		}
	}
	return result
}

func anthropicStatus(err error) int {
	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode
	}
	return 0
}
