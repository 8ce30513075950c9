package provider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"google.golang.org/genai"

	"github.com/chatstack/chatstack/internal/log"
)

// Gemini implements Streamer over the Google Gemini API.
//
// Protocol notes: Gemini separates the system instruction from the contents,
// uses the role "model" for assistant turns, signals tool calls as inline
// functionCall parts (no correlation id; results are matched by function
// name), and reports usage metadata on every streamed response.
type Gemini struct {
	client  *genai.Client
	initErr error
	logger  log.Logger
}

// NewGemini creates a Gemini-backed Streamer. The SDK client is built once
// here; a construction failure surfaces on the first Stream call.
func NewGemini(apiKey string, logger log.Logger) *Gemini {
	client, err := genai.NewClient(context.Background(), &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	return &Gemini{
		client:  client,
		initErr: err,
		logger:  logger.With("provider", "gemini"),
	}
}

func (p *Gemini) Stream(ctx context.Context, req StreamRequest, emit func(Event) error) error {
	if p.initErr != nil {
		return p.mapError(p.initErr)
	}

	cfg := &genai.GenerateContentConfig{}
	if req.System != "" {
		cfg.SystemInstruction = &genai.Content{Parts: []*genai.Part{{Text: req.System}}}
	}
	if req.Temperature > 0 {
		cfg.Temperature = genai.Ptr(float32(req.Temperature))
	}
	if req.MaxTokens > 0 {
		cfg.MaxOutputTokens = int32(req.MaxTokens)
	}
	if len(req.Tools) > 0 {
		decls, err := toGeminiDeclarations(req.Tools)
		if err != nil {
			return fmt.Errorf("%w: gemini: %w", ErrProvider, err)
		}
		cfg.Tools = []*genai.Tool{{FunctionDeclarations: decls}}
	}

	contents, err := toGeminiContents(req.Messages)
	if err != nil {
		return fmt.Errorf("%w: gemini: %w", ErrProvider, err)
	}

	var calls []ToolCall
	var usage Usage
	for resp, err := range p.client.Models.GenerateContentStream(ctx, req.Model, contents, cfg) {
		if err != nil {
			return p.mapError(err)
		}
		for _, cand := range resp.Candidates {
			if cand.Content == nil {
				continue
			}
			for _, part := range cand.Content.Parts {
				if part.Text != "" {
					if emitErr := emit(Event{TextDelta: part.Text}); emitErr != nil {
						return emitErr
					}
				}
				if part.FunctionCall != nil {
					args, marshalErr := json.Marshal(part.FunctionCall.Args)
					if marshalErr != nil {
						return fmt.Errorf("%w: gemini: encode function args: %w", ErrProvider, marshalErr)
					}
					calls = append(calls, ToolCall{
						// Gemini does not issue call ids; synthesize one so the
						// shared shape stays uniform.
						ID:        uuid.NewString(),
						Name:      part.FunctionCall.Name,
						Arguments: string(args),
					})
				}
			}
		}
		if resp.UsageMetadata != nil {
			usage = Usage{
				InputTokens:  int(resp.UsageMetadata.PromptTokenCount),
				OutputTokens: int(resp.UsageMetadata.CandidatesTokenCount),
				TotalTokens:  int(resp.UsageMetadata.TotalTokenCount),
			}
		}
	}

	if len(calls) > 0 {
		if err := emit(Event{ToolCalls: calls}); err != nil {
			return err
		}
	}
	if usage.TotalTokens > 0 {
		if err := emit(Event{Usage: &usage}); err != nil {
			return err
		}
	}
	return nil
}

func (p *Gemini) mapError(err error) error {
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		return wrapStatus("gemini", apiErr.Code, err)
	}
	return wrapOpaque("gemini", err)
}

// toGeminiContents converts shared messages into Gemini contents. Assistant
// turns become role "model"; tool results become functionResponse parts on a
// user turn, matched by function name.
func toGeminiContents(messages []Message) ([]*genai.Content, error) {
	out := make([]*genai.Content, 0, len(messages))
	for _, m := range messages {
		switch m.Role {
		case RoleUser:
			out = append(out, &genai.Content{
				Role:  genai.RoleUser,
				Parts: []*genai.Part{{Text: m.Content}},
			})
		case RoleAssistant:
			parts := make([]*genai.Part, 0, 1+len(m.ToolCalls))
			if m.Content != "" {
				parts = append(parts, &genai.Part{Text: m.Content})
			}
			for _, tc := range m.ToolCalls {
				var args map[string]any
				if tc.Arguments != "" {
					if err := json.Unmarshal([]byte(tc.Arguments), &args); err != nil {
						return nil, fmt.Errorf("decode tool arguments for %q: %w", tc.Name, err)
					}
				}
				parts = append(parts, &genai.Part{
					FunctionCall: &genai.FunctionCall{Name: tc.Name, Args: args},
				})
			}
			out = append(out, &genai.Content{Role: genai.RoleModel, Parts: parts})
		case RoleTool:
			var result map[string]any
			if err := json.Unmarshal([]byte(m.Content), &result); err != nil {
				// Tool results are JSON envelopes; wrap anything else so the
				// response shape stays a map.
				result = map[string]any{"result": m.Content}
			}
			out = append(out, &genai.Content{
				Role: genai.RoleUser,
				Parts: []*genai.Part{{
					FunctionResponse: &genai.FunctionResponse{
						Name:     m.ToolName,
						Response: result,
					},
				}},
			})
		}
	}
	return out, nil
}

// toGeminiDeclarations converts shared tool definitions into Gemini function
// declarations, translating the JSON-schema parameter map into the typed
// schema the SDK requires.
func toGeminiDeclarations(tools []ToolDefinition) ([]*genai.FunctionDeclaration, error) {
	out := make([]*genai.FunctionDeclaration, len(tools))
	for i, t := range tools {
		schema, err := jsonSchemaToGenai(t.Parameters)
		if err != nil {
			return nil, fmt.Errorf("tool %q: %w", t.Name, err)
		}
		out[i] = &genai.FunctionDeclaration{
			Name:        t.Name,
			Description: t.Description,
			Parameters:  schema,
		}
	}
	return out, nil
}

// jsonSchemaToGenai translates the subset of JSON schema used by action
// parameter definitions (type, description, properties, required, items,
// enum) into genai.Schema.
func jsonSchemaToGenai(raw map[string]any) (*genai.Schema, error) {
	if raw == nil {
		return &genai.Schema{Type: genai.TypeObject}, nil
	}

	schema := &genai.Schema{}
	if typ, ok := raw["type"].(string); ok {
		switch typ {
		case "string":
			schema.Type = genai.TypeString
		case "number":
			schema.Type = genai.TypeNumber
		case "integer":
			schema.Type = genai.TypeInteger
		case "boolean":
			schema.Type = genai.TypeBoolean
		case "array":
			schema.Type = genai.TypeArray
		case "object":
			schema.Type = genai.TypeObject
		default:
			return nil, fmt.Errorf("unsupported schema type %q", typ)
		}
	} else {
		schema.Type = genai.TypeObject
	}

	if desc, ok := raw["description"].(string); ok {
		schema.Description = desc
	}
	if req, ok := raw["required"].([]any); ok {
		for _, r := range req {
			if s, ok := r.(string); ok {
				schema.Required = append(schema.Required, s)
			}
		}
	}
	if req, ok := raw["required"].([]string); ok {
		schema.Required = req
	}
	if enum, ok := raw["enum"].([]any); ok {
		for _, e := range enum {
			if s, ok := e.(string); ok {
				schema.Enum = append(schema.Enum, s)
			}
		}
	}
	if props, ok := raw["properties"].(map[string]any); ok {
		schema.Properties = make(map[string]*genai.Schema, len(props))
		for name, p := range props {
			sub, ok := p.(map[string]any)
			if !ok {
				return nil, fmt.Errorf("property %q is not a schema object", name)
			}
			converted, err := jsonSchemaToGenai(sub)
			if err != nil {
				return nil, fmt.Errorf("property %q: %w", name, err)
			}
			schema.Properties[name] = converted
		}
	}
	if items, ok := raw["items"].(map[string]any); ok {
		converted, err := jsonSchemaToGenai(items)
		if err != nil {
			return nil, fmt.Errorf("items: %w", err)
		}
		schema.Items = converted
	}
	return schema, nil
}
