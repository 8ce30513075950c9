package provider

import (
	"context"
	"errors"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/shared"

	"github.com/chatstack/chatstack/internal/log"
)

// OpenAI implements Streamer over the OpenAI chat completions API.
// Tool calls arrive as incremental deltas inside the stream; the SDK
// accumulator reassembles them and they are surfaced once at stream end.
type OpenAI struct {
	client openai.Client
	logger log.Logger
}

// NewOpenAI creates an OpenAI-backed Streamer.
func NewOpenAI(apiKey string, logger log.Logger) *OpenAI {
	return &OpenAI{
		client: openai.NewClient(option.WithAPIKey(apiKey)),
		logger: logger.With("provider", "openai"),
	}
}

func (p *OpenAI) Stream(ctx context.Context, req StreamRequest, emit func(Event) error) error {
	params := openai.ChatCompletionNewParams{
		Model:    shared.ChatModel(req.Model),
		Messages: toOpenAIMessages(req.System, req.Messages),
		StreamOptions: openai.ChatCompletionStreamOptionsParam{
			IncludeUsage: openai.Bool(true),
		},
	}
	if req.Temperature > 0 {
		params.Temperature = openai.Float(req.Temperature)
	}
	if req.MaxTokens > 0 {
		params.MaxCompletionTokens = openai.Int(int64(req.MaxTokens))
	}
	if len(req.Tools) > 0 {
		params.Tools = toOpenAITools(req.Tools)
	}

	stream := p.client.Chat.Completions.NewStreaming(ctx, params)
	defer stream.Close()

	acc := openai.ChatCompletionAccumulator{}
	for stream.Next() {
		chunk := stream.Current()
		acc.AddChunk(chunk)

		if len(chunk.Choices) > 0 {
			if delta := chunk.Choices[0].Delta.Content; delta != "" {
				if err := emit(Event{TextDelta: delta}); err != nil {
					return err
				}
			}
		}
	}
	if err := stream.Err(); err != nil {
		return p.mapError(err)
	}

	if calls := accumulatedToolCalls(acc); len(calls) > 0 {
		if err := emit(Event{ToolCalls: calls}); err != nil {
			return err
		}
	}

	// The usage chunk is the last element of the stream when IncludeUsage is
	// set; report it after all deltas.
	if acc.Usage.TotalTokens > 0 {
		usage := Usage{
			InputTokens:  int(acc.Usage.PromptTokens),
			OutputTokens: int(acc.Usage.CompletionTokens),
			TotalTokens:  int(acc.Usage.TotalTokens),
		}
		if err := emit(Event{Usage: &usage}); err != nil {
			return err
		}
	}
	return nil
}

func (p *OpenAI) mapError(err error) error {
	var apierr *openai.Error
	if errors.As(err, &apierr) {
		return wrapStatus("openai", apierr.StatusCode, err)
	}
	return wrapOpaque("openai", err)
}

// toOpenAIMessages converts shared messages to the OpenAI union shape. OpenAI
// keeps the system instruction inline as the first message.
func toOpenAIMessages(system string, messages []Message) []openai.ChatCompletionMessageParamUnion {
	out := make([]openai.ChatCompletionMessageParamUnion, 0, len(messages)+1)
	if system != "" {
		out = append(out, openai.SystemMessage(system))
	}
	for _, m := range messages {
		switch m.Role {
		case RoleSystem:
			out = append(out, openai.SystemMessage(m.Content))
		case RoleUser:
			out = append(out, openai.UserMessage(m.Content))
		case RoleTool:
			out = append(out, openai.ToolMessage(m.Content, m.ToolCallID))
		case RoleAssistant:
			asst := openai.ChatCompletionAssistantMessageParam{}
			if m.Content != "" {
				asst.Content.OfString = openai.String(m.Content)
			}
			if len(m.ToolCalls) > 0 {
				asst.ToolCalls = make([]openai.ChatCompletionMessageToolCallParam, len(m.ToolCalls))
				for i, tc := range m.ToolCalls {
					asst.ToolCalls[i] = openai.ChatCompletionMessageToolCallParam{
						ID: tc.ID,
						Function: openai.ChatCompletionMessageToolCallFunctionParam{
							Name:      tc.Name,
							Arguments: tc.Arguments,
						},
					}
				}
			}
			out = append(out, openai.ChatCompletionMessageParamUnion{OfAssistant: &asst})
		}
	}
	return out
}

// toOpenAITools converts shared tool definitions, passing the action
// identifier through as the function name verbatim.
func toOpenAITools(tools []ToolDefinition) []openai.ChatCompletionToolParam {
	out := make([]openai.ChatCompletionToolParam, len(tools))
	for i, t := range tools {
		out[i] = openai.ChatCompletionToolParam{
			Function: shared.FunctionDefinitionParam{
				Name:        t.Name,
				Description: openai.String(t.Description),
				Parameters:  shared.FunctionParameters(t.Parameters),
			},
		}
	}
	return out
}

func accumulatedToolCalls(acc openai.ChatCompletionAccumulator) []ToolCall {
	if len(acc.Choices) == 0 {
		return nil
	}
	raw := acc.Choices[0].Message.ToolCalls
	if len(raw) == 0 {
		return nil
	}
	calls := make([]ToolCall, len(raw))
	for i, tc := range raw {
		calls[i] = ToolCall{
			ID:        tc.ID,
			Name:      tc.Function.Name,
			Arguments: tc.Function.Arguments,
		}
	}
	return calls
}
