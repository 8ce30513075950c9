package provider

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/chatstack/chatstack/internal/log"
)

// defaultAnthropicMaxTokens applies when the caller does not set a limit;
// the Anthropic API requires max_tokens on every request.
const defaultAnthropicMaxTokens = 4096

// Anthropic implements Streamer over the Anthropic messages API.
//
// Protocol notes: Anthropic has no "tool" role; tool results travel as user
// messages carrying tool_result blocks, and the system instruction has a
// dedicated top-level slot. Tool-use blocks are accumulated from the event
// stream and surfaced once complete.
type Anthropic struct {
	client anthropic.Client
	logger log.Logger
}

// NewAnthropic creates an Anthropic-backed Streamer.
func NewAnthropic(apiKey string, logger log.Logger) *Anthropic {
	return &Anthropic{
		client: anthropic.NewClient(option.WithAPIKey(apiKey)),
		logger: logger.With("provider", "anthropic"),
	}
}

func (p *Anthropic) Stream(ctx context.Context, req StreamRequest, emit func(Event) error) error {
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultAnthropicMaxTokens
	}
	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(req.Model),
		Messages:  toAnthropicMessages(req.Messages),
		MaxTokens: int64(maxTokens),
	}
	if req.System != "" {
		params.System = []anthropic.TextBlockParam{{Text: req.System}}
	}
	if req.Temperature > 0 {
		params.Temperature = anthropic.Float(req.Temperature)
	}
	if len(req.Tools) > 0 {
		params.Tools = toAnthropicTools(req.Tools)
	}

	stream := p.client.Messages.NewStreaming(ctx, params)
	defer stream.Close()

	message := anthropic.Message{}
	for stream.Next() {
		event := stream.Current()
		if err := message.Accumulate(event); err != nil {
			return wrapOpaque("anthropic", err)
		}

		switch variant := event.AsAny().(type) {
		case anthropic.ContentBlockDeltaEvent:
			switch delta := variant.Delta.AsAny().(type) {
			case anthropic.TextDelta:
				if delta.Text != "" {
					if err := emit(Event{TextDelta: delta.Text}); err != nil {
						return err
					}
				}
			}
		}
	}
	if err := stream.Err(); err != nil {
		return p.mapError(err)
	}

	var calls []ToolCall
	for _, block := range message.Content {
		if tool, ok := block.AsAny().(anthropic.ToolUseBlock); ok {
			calls = append(calls, ToolCall{
				ID:        tool.ID,
				Name:      tool.Name,
				Arguments: string(tool.Input),
			})
		}
	}
	if len(calls) > 0 {
		if err := emit(Event{ToolCalls: calls}); err != nil {
			return err
		}
	}

	usage := Usage{
		InputTokens:  int(message.Usage.InputTokens),
		OutputTokens: int(message.Usage.OutputTokens),
		TotalTokens:  int(message.Usage.InputTokens + message.Usage.OutputTokens),
	}
	if usage.TotalTokens > 0 {
		if err := emit(Event{Usage: &usage}); err != nil {
			return err
		}
	}
	return nil
}

func (p *Anthropic) mapError(err error) error {
	var apierr *anthropic.Error
	if errors.As(err, &apierr) {
		return wrapStatus("anthropic", apierr.StatusCode, err)
	}
	return wrapOpaque("anthropic", err)
}

// toAnthropicMessages converts shared messages into Anthropic message params,
// folding tool results into user messages as the API requires.
func toAnthropicMessages(messages []Message) []anthropic.MessageParam {
	out := make([]anthropic.MessageParam, 0, len(messages))
	for _, m := range messages {
		switch m.Role {
		case RoleUser:
			out = append(out, anthropic.NewUserMessage(anthropic.NewTextBlock(m.Content)))
		case RoleTool:
			out = append(out, anthropic.NewUserMessage(
				anthropic.NewToolResultBlock(m.ToolCallID, m.Content, false)))
		case RoleAssistant:
			blocks := make([]anthropic.ContentBlockParamUnion, 0, 1+len(m.ToolCalls))
			if m.Content != "" {
				blocks = append(blocks, anthropic.NewTextBlock(m.Content))
			}
			for _, tc := range m.ToolCalls {
				input := json.RawMessage(tc.Arguments)
				if tc.Arguments == "" {
					input = json.RawMessage("{}")
				}
				blocks = append(blocks, anthropic.ContentBlockParamUnion{
					OfToolUse: &anthropic.ToolUseBlockParam{
						ID:    tc.ID,
						Name:  tc.Name,
						Input: input,
					},
				})
			}
			out = append(out, anthropic.NewAssistantMessage(blocks...))
		}
	}
	return out
}

// toAnthropicTools converts shared tool definitions into Anthropic tool
// params, lifting properties/required out of the JSON-schema map.
func toAnthropicTools(tools []ToolDefinition) []anthropic.ToolUnionParam {
	out := make([]anthropic.ToolUnionParam, len(tools))
	for i, t := range tools {
		props, _ := t.Parameters["properties"].(map[string]any)
		if props == nil {
			props = map[string]any{}
		}
		var required []string
		switch req := t.Parameters["required"].(type) {
		case []string:
			required = req
		case []any:
			for _, r := range req {
				if s, ok := r.(string); ok {
					required = append(required, s)
				}
			}
		}

		out[i] = anthropic.ToolUnionParam{
			OfTool: &anthropic.ToolParam{
				Name:        t.Name,
				Description: anthropic.String(t.Description),
				InputSchema: anthropic.ToolInputSchemaParam{
					Properties: props,
					Required:   required,
				},
			},
		}
	}
	return out
}
