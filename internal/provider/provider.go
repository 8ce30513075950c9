// Package provider presents one streaming chat-completion interface over
// three incompatible LLM backends (OpenAI, Anthropic, Google Gemini).
//
// Each adapter translates the shared message/tool model into the provider's
// wire shape, streams text deltas as they arrive, surfaces model-issued tool
// calls uniformly, and reports token usage once after the last delta. Errors
// are normalized into a common taxonomy so callers never branch on provider
// identity.
package provider

import (
	"context"
	"fmt"
	"strings"

	"github.com/chatstack/chatstack/internal/log"
)

// Role tags a chat message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// ToolCall is a model-issued request to invoke a named tool.
type ToolCall struct {
	ID        string // provider correlation id (synthesized when absent)
	Name      string // the action identifier, verbatim
	Arguments string // raw JSON arguments
}

// Message is a provider-agnostic chat message.
type Message struct {
	Role      Role
	Content   string
	ToolCalls []ToolCall // tool calls issued by an assistant message

	// ToolCallID and ToolName are set when Role == RoleTool to correlate a
	// result with the call that produced it. OpenAI and Anthropic correlate
	// by id; Gemini correlates by function name.
	ToolCallID string
	ToolName   string
}

// ToolDefinition describes one callable tool offered to the model. Name is
// the action identifier and must be passed through to the provider verbatim;
// adapters never rewrite or alias it.
type ToolDefinition struct {
	Name        string
	Description string
	Parameters  map[string]any // JSON schema for the arguments
}

// Usage is the aggregated token accounting for one stream.
type Usage struct {
	InputTokens  int
	OutputTokens int
	TotalTokens  int
}

// Add accumulates another usage report, e.g. across the tool round and the
// resumed final stream of one turn.
func (u *Usage) Add(other Usage) {
	u.InputTokens += other.InputTokens
	u.OutputTokens += other.OutputTokens
	u.TotalTokens += other.TotalTokens
}

// StreamRequest is one streaming chat-completion call.
type StreamRequest struct {
	Model       string
	System      string // system instruction; adapters place it where the provider expects
	Messages    []Message
	Tools       []ToolDefinition
	Temperature float64
	MaxTokens   int
}

// Event is one element of the unified stream. Exactly one field group is set:
// a text delta, a batch of tool calls (at most once per stream), or the final
// usage report (exactly once, after all deltas).
type Event struct {
	TextDelta string
	ToolCalls []ToolCall
	Usage     *Usage
}

// Streamer is the shared streaming contract implemented by every adapter.
// Stream invokes emit for each event in order and returns when the provider
// stream is exhausted or ctx is canceled. A non-nil error from emit stops
// consumption of the underlying stream.
type Streamer interface {
	Stream(ctx context.Context, req StreamRequest, emit func(Event) error) error
}

// Credentials carries per-provider API keys. They are opaque, caller-supplied
// strings and must never be persisted or logged.
type Credentials struct {
	OpenAIKey    string
	AnthropicKey string
	GoogleKey    string
}

// Registry dispatches models to concrete adapters by model-name prefix.
type Registry struct {
	creds  Credentials
	logger log.Logger
}

// NewRegistry creates a Registry for the given credentials.
func NewRegistry(creds Credentials, logger log.Logger) *Registry {
	if logger == nil {
		logger = log.NewNop()
	}
	return &Registry{creds: creds, logger: logger}
}

// ForModel returns the adapter responsible for model, or ErrModelUnavailable
// when no prefix matches.
func (r *Registry) ForModel(model string) (Streamer, error) {
	switch {
	case strings.HasPrefix(model, "gpt-"),
		strings.HasPrefix(model, "chatgpt-"),
		strings.HasPrefix(model, "o1"),
		strings.HasPrefix(model, "o3"),
		strings.HasPrefix(model, "o4"):
		return NewOpenAI(r.creds.OpenAIKey, r.logger), nil
	case strings.HasPrefix(model, "claude-"):
		return NewAnthropic(r.creds.AnthropicKey, r.logger), nil
	case strings.HasPrefix(model, "gemini-"):
		return NewGemini(r.creds.GoogleKey, r.logger), nil
	default:
		return nil, fmt.Errorf("%w: no provider for model %q", ErrModelUnavailable, model)
	}
}
