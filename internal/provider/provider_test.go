package provider

import (
	"errors"
	"testing"

	"github.com/chatstack/chatstack/internal/log"
)

func TestRegistry_ForModel(t *testing.T) {
	registry := NewRegistry(Credentials{}, log.NewNop())

	tests := []struct {
		model string
		want  any
	}{
		{"gpt-4o-mini", &OpenAI{}},
		{"o3-mini", &OpenAI{}},
		{"chatgpt-4o-latest", &OpenAI{}},
		{"claude-sonnet-4-20250514", &Anthropic{}},
		{"gemini-2.0-flash", &Gemini{}},
	}
	for _, tt := range tests {
		t.Run(tt.model, func(t *testing.T) {
			s, err := registry.ForModel(tt.model)
			if err != nil {
				t.Fatalf("ForModel(%q) error: %v", tt.model, err)
			}
			switch tt.want.(type) {
			case *OpenAI:
				if _, ok := s.(*OpenAI); !ok {
					t.Errorf("ForModel(%q) = %T, want *OpenAI", tt.model, s)
				}
			case *Anthropic:
				if _, ok := s.(*Anthropic); !ok {
					t.Errorf("ForModel(%q) = %T, want *Anthropic", tt.model, s)
				}
			case *Gemini:
				if _, ok := s.(*Gemini); !ok {
					t.Errorf("ForModel(%q) = %T, want *Gemini", tt.model, s)
				}
			}
		})
	}
}

func TestRegistry_UnknownModel(t *testing.T) {
	registry := NewRegistry(Credentials{}, log.NewNop())

	_, err := registry.ForModel("llama-3-70b")
	if !errors.Is(err, ErrModelUnavailable) {
		t.Fatalf("ForModel() error = %v, want ErrModelUnavailable", err)
	}
}

func TestClassifyStatus(t *testing.T) {
	tests := []struct {
		status int
		want   error
	}{
		{401, ErrAuth},
		{403, ErrAuth},
		{429, ErrRateLimit},
		{404, ErrModelUnavailable},
		{500, ErrProvider},
		{503, ErrProvider},
	}
	for _, tt := range tests {
		if got := classifyStatus(tt.status); !errors.Is(got, tt.want) {
			t.Errorf("classifyStatus(%d) = %v, want %v", tt.status, got, tt.want)
		}
	}
}

func TestWrapStatus_KeepsChain(t *testing.T) {
	cause := errors.New("boom")
	err := wrapStatus("openai", 429, cause)

	if !errors.Is(err, ErrRateLimit) {
		t.Errorf("wrapped error should match ErrRateLimit, got %v", err)
	}
	if !errors.Is(err, cause) {
		t.Errorf("wrapped error should keep the cause, got %v", err)
	}
}

func TestUsage_Add(t *testing.T) {
	u := Usage{InputTokens: 10, OutputTokens: 20, TotalTokens: 30}
	u.Add(Usage{InputTokens: 1, OutputTokens: 2, TotalTokens: 3})

	if u.InputTokens != 11 || u.OutputTokens != 22 || u.TotalTokens != 33 {
		t.Errorf("Add() = %+v", u)
	}
}

func TestToOpenAIMessages_SystemAndRoles(t *testing.T) {
	msgs := toOpenAIMessages("be helpful", []Message{
		{Role: RoleUser, Content: "hi"},
		{Role: RoleAssistant, Content: "hello", ToolCalls: []ToolCall{
			{ID: "call_1", Name: "lookup", Arguments: `{"q":"x"}`},
		}},
		{Role: RoleTool, Content: `{"success":true}`, ToolCallID: "call_1"},
	})

	// system + user + assistant + tool
	if len(msgs) != 4 {
		t.Fatalf("got %d messages, want 4", len(msgs))
	}
	if msgs[0].OfSystem == nil {
		t.Error("first message should be the system instruction")
	}
	if msgs[2].OfAssistant == nil || len(msgs[2].OfAssistant.ToolCalls) != 1 {
		t.Error("assistant message should carry the tool call")
	}
	if msgs[3].OfTool == nil {
		t.Error("tool result should map to a tool message")
	}
}

func TestToOpenAITools_NamePassedVerbatim(t *testing.T) {
	tools := toOpenAITools([]ToolDefinition{{
		Name:        "capture_lead",
		Description: "Capture visitor contact details",
		Parameters:  map[string]any{"type": "object"},
	}})

	if len(tools) != 1 {
		t.Fatalf("got %d tools, want 1", len(tools))
	}
	if tools[0].Function.Name != "capture_lead" {
		t.Errorf("tool name = %q, want identifier passed through verbatim", tools[0].Function.Name)
	}
}

func TestToAnthropicMessages_ToolResultAsUser(t *testing.T) {
	msgs := toAnthropicMessages([]Message{
		{Role: RoleUser, Content: "hi"},
		{Role: RoleAssistant, ToolCalls: []ToolCall{
			{ID: "toolu_1", Name: "notify", Arguments: `{"msg":"x"}`},
		}},
		{Role: RoleTool, Content: `{"success":true}`, ToolCallID: "toolu_1"},
	})

	if len(msgs) != 3 {
		t.Fatalf("got %d messages, want 3", len(msgs))
	}
	// Anthropic has no tool role: the result must be a user message.
	if msgs[2].Role != "user" {
		t.Errorf("tool result role = %q, want user", msgs[2].Role)
	}
}

func TestToAnthropicTools_RequiredVariants(t *testing.T) {
	params := map[string]any{
		"type": "object",
		"properties": map[string]any{
			"email": map[string]any{"type": "string"},
		},
		"required": []any{"email"},
	}
	tools := toAnthropicTools([]ToolDefinition{{Name: "capture_lead", Parameters: params}})

	if got := tools[0].OfTool.InputSchema.Required; len(got) != 1 || got[0] != "email" {
		t.Errorf("required = %v, want [email]", got)
	}
}

func TestToGeminiContents_Roles(t *testing.T) {
	contents, err := toGeminiContents([]Message{
		{Role: RoleUser, Content: "hi"},
		{Role: RoleAssistant, Content: "checking", ToolCalls: []ToolCall{
			{ID: "x", Name: "lookup", Arguments: `{"q":"a"}`},
		}},
		{Role: RoleTool, Content: `{"success":true}`, ToolCallID: "x", ToolName: "lookup"},
	})
	if err != nil {
		t.Fatalf("toGeminiContents() error: %v", err)
	}
	if len(contents) != 3 {
		t.Fatalf("got %d contents, want 3", len(contents))
	}
	if contents[1].Role != "model" {
		t.Errorf("assistant role = %q, want model", contents[1].Role)
	}
	if contents[2].Parts[0].FunctionResponse == nil {
		t.Fatal("tool result should be a functionResponse part")
	}
	if contents[2].Parts[0].FunctionResponse.Name != "lookup" {
		t.Error("functionResponse must be matched by tool name")
	}
}

func TestJSONSchemaToGenai(t *testing.T) {
	schema, err := jsonSchemaToGenai(map[string]any{
		"type":        "object",
		"description": "lead fields",
		"properties": map[string]any{
			"email": map[string]any{"type": "string", "description": "contact email"},
			"tags":  map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
		},
		"required": []any{"email"},
	})
	if err != nil {
		t.Fatalf("jsonSchemaToGenai() error: %v", err)
	}
	if schema.Properties["email"] == nil || schema.Properties["email"].Description != "contact email" {
		t.Error("nested property lost")
	}
	if schema.Properties["tags"].Items == nil {
		t.Error("array items schema lost")
	}
	if len(schema.Required) != 1 || schema.Required[0] != "email" {
		t.Errorf("required = %v", schema.Required)
	}
}

func TestJSONSchemaToGenai_UnsupportedType(t *testing.T) {
	_, err := jsonSchemaToGenai(map[string]any{"type": "null"})
	if err == nil {
		t.Fatal("expected error for unsupported schema type")
	}
}
