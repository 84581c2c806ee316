package gateway

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/pixelforge/pixelforge/pkg/models"
)

// callAccumulator assembles one tool call from streamed fragments. The
// call ID and name arrive in the first fragment; argument JSON trickles
// in as partial text. Brace depth is tracked with string and escape
// awareness so a call can be recognized as complete even before the
// provider's finish signal.
type callAccumulator struct {
	id   string
	name string
	args strings.Builder

	depth    int
	inString bool
	escaped  bool
	started  bool
}

func (c *callAccumulator) write(fragment string) {
	c.args.WriteString(fragment)
	for i := 0; i < len(fragment); i++ {
		ch := fragment[i]
		if c.escaped {
			c.escaped = false
			continue
		}
		switch ch {
		case '\\':
			if c.inString {
				c.escaped = true
			}
		case '"':
			c.inString = !c.inString
		case '{', '[':
			if !c.inString {
				c.depth++
				c.started = true
			}
		case '}', ']':
			if !c.inString {
				c.depth--
			}
		}
	}
}

// balanced reports whether the accumulated JSON closes every bracket it
// opened. An empty argument body counts as balanced: tools without
// parameters stream no fragments at all.
func (c *callAccumulator) balanced() bool {
	if c.args.Len() == 0 {
		return true
	}
	return c.started && c.depth == 0 && !c.inString
}

func (c *callAccumulator) toolCall() models.ToolCall {
	input := c.args.String()
	if input == "" {
		input = "{}"
	}
	return models.ToolCall{
		ID:    c.id,
		Name:  c.name,
		Input: json.RawMessage(input),
	}
}

// StreamAccumulator assembles tool calls across a streamed completion.
// Fragments are keyed by the provider's call slot (choice index for
// OpenAI, content block for Anthropic); calls are emitted in first-seen
// order.
type StreamAccumulator struct {
	calls map[int]*callAccumulator
	order []int
}

// NewStreamAccumulator creates an empty accumulator.
func NewStreamAccumulator() *StreamAccumulator {
	return &StreamAccumulator{calls: make(map[int]*callAccumulator)}
}

// Add folds one fragment into the call at the given slot. id and name
// may be empty on continuation fragments.
func (a *StreamAccumulator) Add(slot int, id, name, argFragment string) {
	c, ok := a.calls[slot]
	if !ok {
		c = &callAccumulator{}
		a.calls[slot] = c
		a.order = append(a.order, slot)
	}
	if id != "" {
		c.id = id
	}
	if name != "" {
		c.name = name
	}
	if argFragment != "" {
		c.write(argFragment)
	}
}

// Empty reports whether no fragments have been accumulated.
func (a *StreamAccumulator) Empty() bool { return len(a.calls) == 0 }

// Finish validates and returns the assembled calls in first-seen order.
// A call whose argument JSON never balanced, or that is missing its ID
// or name, means the stream ended mid-call.
func (a *StreamAccumulator) Finish(provider, model string) ([]models.ToolCall, error) {
	out := make([]models.ToolCall, 0, len(a.order))
	for _, slot := range a.order {
		c := a.calls[slot]
		if c.id == "" || c.name == "" {
			return nil, &ProviderError{
				Reason:   ReasonMalformedStream,
				Provider: provider,
				Model:    model,
				Message:  fmt.Sprintf("tool call in slot %d missing id or name", slot),
			}
		}
		if !c.balanced() {
			return nil, &ProviderError{
				Reason:   ReasonMalformedStream,
				Provider: provider,
				Model:    model,
				Message:  fmt.Sprintf("tool call %s ended with unbalanced arguments", c.id),
			}
		}
		out = append(out, c.toolCall())
	}
	return out, nil
}
