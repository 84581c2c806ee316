package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"io"

	openai "github.com/sashabaranov/go-openai"

	"github.com/pixelforge/pixelforge/pkg/models"
)

// OpenAIProvider implements Provider for OpenAI chat models.
//
// OpenAI streams tool calls incrementally: the ID and function name
// arrive in the first fragment for a choice index, argument JSON in the
// fragments after it. Calls are assembled with a StreamAccumulator and
// emitted when the stream signals finish_reason "tool_calls" or the
// arguments balance.
type OpenAIProvider struct {
	client *openai.Client
}

// NewOpenAIProvider creates a provider backed by the given API key.
func NewOpenAIProvider(apiKey string) *OpenAIProvider {
	return &OpenAIProvider{client: openai.NewClient(apiKey)}
}

// Name returns "openai".
func (p *OpenAIProvider) Name() string { return "openai" }

// Complete performs a blocking chat completion.
func (p *OpenAIProvider) Complete(ctx context.Context, req *Request) (*Completion, error) {
	resp, err := p.client.CreateChatCompletion(ctx, p.buildRequest(req, false))
	if err != nil {
		return nil, wrapError(p.Name(), req.Model, openaiStatus(err), err)
	}
	if len(resp.Choices) == 0 {
		return nil, &ProviderError{
			Reason:   ReasonMalformedStream,
			Provider: p.Name(),
			Model:    req.Model,
			Message:  "completion returned no choices",
		}
	}

	choice := resp.Choices[0]
	out := &Completion{
		Content:      choice.Message.Content,
		FinishReason: string(choice.FinishReason),
		InputTokens:  resp.Usage.PromptTokens,
		OutputTokens: resp.Usage.CompletionTokens,
	}
	for _, tc := range choice.Message.ToolCalls {
		out.ToolCalls = append(out.ToolCalls, models.ToolCall{
			ID:    tc.ID,
			Name:  tc.Function.Name,
			Input: json.RawMessage(tc.Function.Arguments),
		})
	}
	return out, nil
}

// Stream opens a streaming chat completion.
func (p *OpenAIProvider) Stream(ctx context.Context, req *Request) (<-chan *Delta, error) {
	stream, err := p.client.CreateChatCompletionStream(ctx, p.buildRequest(req, true))
	if err != nil {
		return nil, wrapError(p.Name(), req.Model, openaiStatus(err), err)
	}

	deltas := make(chan *Delta)
	go p.processStream(ctx, req.Model, stream, deltas)
	return deltas, nil
}

func (p *OpenAIProvider) processStream(ctx context.Context, model string, stream *openai.ChatCompletionStream, deltas chan<- *Delta) {
	defer close(deltas)
	defer stream.Close()

	acc := NewStreamAccumulator()
	completion := &Completion{}
	var content []byte
	emitted := false

	emitCalls := func() bool {
		calls, err := acc.Finish(p.Name(), model)
		if err != nil {
			deltas <- &Delta{Err: err, Done: true}
			return false
		}
		for i := range calls {
			deltas <- &Delta{ToolCall: &calls[i]}
		}
		completion.ToolCalls = calls
		emitted = true
		return true
	}

	for {
		select {
		case <-ctx.Done():
			deltas <- &Delta{Err: ctx.Err(), Done: true}
			return
		default:
		}

		resp, err := stream.Recv()
		if err != nil {
			if errors.Is(err, io.EOF) {
				if !emitted && !acc.Empty() {
					// Stream ended without a finish signal; accept the
					// calls only if their argument JSON balanced.
					if !emitCalls() {
						return
					}
				}
				completion.Content = string(content)
				deltas <- &Delta{Done: true, Completion: completion}
				return
			}
			deltas <- &Delta{Err: wrapError(p.Name(), model, openaiStatus(err), err), Done: true}
			return
		}
		if len(resp.Choices) == 0 {
			continue
		}

		choice := resp.Choices[0]
		if choice.Delta.Content != "" {
			content = append(content, choice.Delta.Content...)
			deltas <- &Delta{Text: choice.Delta.Content}
		}

		for _, tc := range choice.Delta.ToolCalls {
			slot := 0
			if tc.Index != nil {
				slot = *tc.Index
			}
			acc.Add(slot, tc.ID, tc.Function.Name, tc.Function.Arguments)
		}

		if choice.FinishReason != "" {
			completion.FinishReason = string(choice.FinishReason)
		}
		if choice.FinishReason == openai.FinishReasonToolCalls && !emitted {
			if !emitCalls() {
				return
			}
		}
	}
}

func (p *OpenAIProvider) buildRequest(req *Request, stream bool) openai.ChatCompletionRequest {
	out := openai.ChatCompletionRequest{
		Model:       req.Model,
		Messages:    p.convertMessages(req.Messages, req.System),
		Temperature: req.Temperature,
		Stream:      stream,
	}
	if req.MaxTokens > 0 {
		out.MaxTokens = req.MaxTokens
	}
	for _, t := range req.Tools {
		var schema map[string]any
		if err := json.Unmarshal(t.Schema, &schema); err != nil {
			schema = map[string]any{"type": "object", "properties": map[string]any{}}
		}
		out.Tools = append(out.Tools, openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  schema,
			},
		})
	}
	return out
}

func (p *OpenAIProvider) convertMessages(messages []*models.Message, system string) []openai.ChatCompletionMessage {
	result := make([]openai.ChatCompletionMessage, 0, len(messages)+1)
	if system != "" {
		result = append(result, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: system,
		})
	}

	for _, msg := range messages {
		switch msg.Role {
		case models.RoleUser:
			urls := imageURLs(msg.Images)
			if len(urls) == 0 {
				result = append(result, openai.ChatCompletionMessage{
					Role:    openai.ChatMessageRoleUser,
					Content: msg.Content,
				})
				continue
			}
			parts := make([]openai.ChatMessagePart, 0, len(urls)+1)
			if msg.Content != "" {
				parts = append(parts, openai.ChatMessagePart{
					Type: openai.ChatMessagePartTypeText,
					Text: msg.Content,
				})
			}
			for _, url := range urls {
				parts = append(parts, openai.ChatMessagePart{
					Type: openai.ChatMessagePartTypeImageURL,
					ImageURL: &openai.ChatMessageImageURL{
						URL:    url,
						Detail: openai.ImageURLDetailAuto,
					},
				})
			}
			result = append(result, openai.ChatCompletionMessage{
				Role:         openai.ChatMessageRoleUser,
				MultiContent: parts,
			})

		case models.RoleAssistant:
			oaiMsg := openai.ChatCompletionMessage{
				Role:    openai.ChatMessageRoleAssistant,
				Content: msg.Content,
			}
			for _, tc := range msg.ToolCalls {
				oaiMsg.ToolCalls = append(oaiMsg.ToolCalls, openai.ToolCall{
					ID:   tc.ID,
					Type: openai.ToolTypeFunction,
					Function: openai.FunctionCall{
						Name:      tc.Name,
						Arguments: string(tc.Input),
					},
				})
			}
			result = append(result, oaiMsg)

		case models.RoleTool:
			result = append(result, openai.ChatCompletionMessage{
				Role:       openai.ChatMessageRoleTool,
				Content:    msg.Content,
				ToolCallID: msg.ToolCallID,
			})

		case models.RoleSystem:
			result = append(result, openai.ChatCompletionMessage{
				Role:    openai.ChatMessageRoleSystem,
				Content: msg.Content,
			})
		}
	}
	return result
}

// imageURLs keeps only references the model can fetch directly. Sentinel
// references are resolved by the executor before tools run and are never
// shipped to the provider.
func imageURLs(refs []models.ImageRef) []string {
	var out []string
	for _, r := range refs {
		if r.Kind == models.ImageRefLiteral {
			out = append(out, r.Value)
		}
	}
	return out
}

func openaiStatus(err error) int {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return apiErr.HTTPStatusCode
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return reqErr.HTTPStatusCode
	}
	return 0
}
