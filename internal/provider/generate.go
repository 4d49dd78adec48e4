package provider

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/anthropics/anthropic-sdk-go"

	"github.com/calder-ai/rudder/internal/budget"
	"github.com/calder-ai/rudder/internal/history"
)

// ToolCall is one tool invocation requested by the model.
type ToolCall struct {
	// ID is the provider's identifier for this call.
	ID string
	// Name is the tool to invoke.
	Name string
	// Input is the decoded tool input.
	Input map[string]any
}

// Response is the outcome of one generation step.
type Response struct {
	// Text is the concatenated text content.
	Text string
	// ToolCalls are the tool invocations the model requested, if any.
	ToolCalls []ToolCall
	// InputTokens and OutputTokens are the provider's exact counts.
	InputTokens  int64
	OutputTokens int64
	// Done is true when the model ended its turn without requesting tools.
	Done bool
}

const systemPrompt = "You are a coding agent working through a phased workflow. " +
	"Use the provided tools to inspect and change the project; respond with text when the phase's work is complete."

// Generate sends the conversation and tool schema to the model and
// decodes the response. The strategy caps output and drops optional
// reasoning when the budget is degraded.
func (c *Client) Generate(ctx context.Context, turns []history.Turn, strategy budget.Strategy) (*Response, error) {
	maxTokens := strategy.MaxOutputTokens
	if maxTokens <= 0 {
		maxTokens = budget.DefaultMaxOutputTokens
	}

	resp, err := c.inner.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     c.model,
		MaxTokens: maxTokens,
		System: []anthropic.TextBlockParam{
			{Text: systemPrompt},
		},
		Messages: buildMessages(turns),
		Tools:    ToolDefinitions(),
	})
	if err != nil {
		return nil, fmt.Errorf("generate: %w", err)
	}

	out := &Response{
		InputTokens:  resp.Usage.InputTokens,
		OutputTokens: resp.Usage.OutputTokens,
		Done:         resp.StopReason == anthropic.StopReasonEndTurn,
	}

	for _, block := range resp.Content {
		switch variant := block.AsAny().(type) {
		case anthropic.TextBlock:
			out.Text += variant.Text
		case anthropic.ToolUseBlock:
			var input map[string]any
			if err := json.Unmarshal(variant.Input, &input); err != nil {
				return nil, fmt.Errorf("decode tool input for %s: %w", variant.Name, err)
			}
			out.ToolCalls = append(out.ToolCalls, ToolCall{
				ID:    variant.ID,
				Name:  variant.Name,
				Input: input,
			})
		}
	}
	return out, nil
}

// buildMessages converts conversation turns to provider messages.
// System turns (compression synopses) ride along as user content so the
// model sees them in order.
func buildMessages(turns []history.Turn) []anthropic.MessageParam {
	messages := make([]anthropic.MessageParam, 0, len(turns))
	for _, turn := range turns {
		block := anthropic.NewTextBlock(turn.Content)
		if turn.Role == "agent" {
			messages = append(messages, anthropic.NewAssistantMessage(block))
		} else {
			messages = append(messages, anthropic.NewUserMessage(block))
		}
	}
	return messages
}
