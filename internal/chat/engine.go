// Package chat runs one retrieval-grounded chat turn as an explicit state
// machine: ground the prompt, stream a first pass with the agent's actions
// offered as tools, execute any requested actions, then resume the stream
// for the final answer.
package chat

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/chatstack/chatstack/internal/action"
	"github.com/chatstack/chatstack/internal/log"
	"github.com/chatstack/chatstack/internal/provider"
	"github.com/chatstack/chatstack/internal/retrieval"
	"github.com/google/uuid"
)

// Providers resolves a model name to its streaming adapter.
type Providers interface {
	ForModel(model string) (provider.Streamer, error)
}

// Retriever grounds a query against an agent's corpus.
type Retriever interface {
	Retrieve(ctx context.Context, agentID uuid.UUID, query string, opts ...retrieval.Option) ([]retrieval.Chunk, error)
}

// Executor carries out a single action.
type Executor interface {
	Execute(ctx context.Context, act action.Action, args map[string]any) action.Result
}

// TurnRequest is everything one chat turn needs. The action list is loaded by
// the caller; the engine only filters it for active entries.
type TurnRequest struct {
	AgentID      uuid.UUID
	Model        string
	SystemPrompt string
	History      []provider.Message
	UserMessage  string
	Actions      []action.Action
	Temperature  float64
	MaxTokens    int
}

// Engine orchestrates chat turns.
type Engine struct {
	providers     Providers
	retriever     Retriever
	executor      Executor
	retrievalOpts []retrieval.Option
	logger        log.Logger
}

// EngineOption configures an Engine.
type EngineOption func(*Engine)

// WithRetrievalOptions sets the retrieval tuning applied to every turn.
func WithRetrievalOptions(opts ...retrieval.Option) EngineOption {
	return func(e *Engine) { e.retrievalOpts = opts }
}

// New creates an Engine. logger may be nil.
func New(providers Providers, retriever Retriever, executor Executor, logger log.Logger, opts ...EngineOption) *Engine {
	if logger == nil {
		logger = log.NewNop()
	}
	e := &Engine{
		providers: providers,
		retriever: retriever,
		executor:  executor,
		logger:    logger.With("component", "chat"),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Run executes one turn and returns its event stream. The channel is closed
// after a terminal EventDone or EventError. Canceling ctx stops the
// underlying provider stream.
func (e *Engine) Run(ctx context.Context, req TurnRequest) <-chan Event {
	events := make(chan Event)
	go func() {
		defer close(events)
		e.run(ctx, req, events)
	}()
	return events
}

func (e *Engine) run(ctx context.Context, req TurnRequest, events chan<- Event) {
	send := func(ev Event) bool {
		select {
		case events <- ev:
			return true
		case <-ctx.Done():
			return false
		}
	}

	streamer, err := e.providers.ForModel(req.Model)
	if err != nil {
		send(Event{Kind: EventError, Err: err})
		return
	}

	system, sources := e.ground(ctx, req)

	messages := make([]provider.Message, 0, len(req.History)+1)
	messages = append(messages, req.History...)
	messages = append(messages, provider.Message{Role: provider.RoleUser, Content: req.UserMessage})

	active := activeActions(req.Actions)
	tools := toolDefinitions(active)

	var usage provider.Usage

	// With no active actions the turn is a single plain stream. Skipping the
	// tool round entirely matters on providers where tool-capable calls have
	// different latency characteristics.
	if len(active) == 0 {
		if !e.streamText(ctx, streamer, streamRequest(req, system, messages, nil), &usage, send) {
			return
		}
		finish(send, sources, usage)
		return
	}

	// First pass: offer the full tool list and collect any calls the model
	// makes while forwarding its text live.
	assistantText, calls, ok := e.streamPass(ctx, streamer, streamRequest(req, system, messages, tools), &usage, send)
	if !ok {
		return
	}

	if len(calls) == 0 {
		finish(send, sources, usage)
		return
	}

	// Tool round: execute every requested call, surfacing each request and
	// outcome to the caller, then append the exchange to the history.
	messages = append(messages, provider.Message{
		Role:      provider.RoleAssistant,
		Content:   assistantText,
		ToolCalls: calls,
	})
	for _, call := range calls {
		// The call event goes out before execution so a caller can render
		// in-progress state while the action runs.
		if !send(Event{Kind: EventToolCall, ToolCall: &ToolCallEvent{
			ID:        call.ID,
			Name:      call.Name,
			Arguments: call.Arguments,
		}}) {
			return
		}

		result := e.executeCall(ctx, active, call)
		payload := marshalResult(result)
		if !send(Event{Kind: EventToolResult, ToolResult: &ToolResultEvent{
			ID:      call.ID,
			Name:    call.Name,
			Success: result.Success,
			Result:  payload,
		}}) {
			return
		}

		messages = append(messages, provider.Message{
			Role:       provider.RoleTool,
			Content:    payload,
			ToolCallID: call.ID,
			ToolName:   call.Name,
		})
	}

	// Final stream: resume with the tool results in context. Tools stay in
	// the request because some providers reject histories containing tool
	// exchanges without matching declarations; any further calls the model
	// makes here are ignored, matching the single-hop tool-use contract.
	_, extra, ok := e.streamPass(ctx, streamer, streamRequest(req, system, messages, tools), &usage, send)
	if !ok {
		return
	}
	if len(extra) > 0 {
		e.logger.Warn("model requested tools after the tool round; ignoring",
			"model", req.Model, "count", len(extra))
	}

	finish(send, sources, usage)
}

// ground retrieves context for the user message and assembles the system
// prompt. Retrieval failures degrade to an ungrounded prompt instead of
// failing the turn.
func (e *Engine) ground(ctx context.Context, req TurnRequest) (string, []Source) {
	chunks, err := e.retriever.Retrieve(ctx, req.AgentID, req.UserMessage, e.retrievalOpts...)
	if err != nil {
		e.logger.Warn("retrieval failed, answering ungrounded",
			"agent_id", req.AgentID, "error", err)
		chunks = nil
	}

	var b strings.Builder
	if req.SystemPrompt != "" {
		b.WriteString(req.SystemPrompt)
		b.WriteString("\n\n")
	}

	if len(chunks) == 0 {
		b.WriteString("No reference material was found for this question. " +
			"You may answer from general knowledge, but say explicitly that " +
			"the answer is not based on the provided documents and may be inaccurate.")
		return b.String(), nil
	}

	b.WriteString("Answer using only the reference material below.\n\n```context\n")
	for _, c := range chunks {
		fmt.Fprintf(&b, "[source: %s]\n%s\n\n", c.Source, c.Content)
	}
	b.WriteString("```\n\n" +
		"If the material does not contain the answer, say so instead of guessing. " +
		"Do not make claims the material does not support.")

	return b.String(), dedupeSources(chunks)
}

// dedupeSources keeps one entry per document name. Results arrive descending
// by similarity, so the first occurrence is the best one.
func dedupeSources(chunks []retrieval.Chunk) []Source {
	seen := make(map[string]bool, len(chunks))
	sources := make([]Source, 0, len(chunks))
	for _, c := range chunks {
		if seen[c.Source] {
			continue
		}
		seen[c.Source] = true
		sources = append(sources, Source{Name: c.Source, Similarity: c.Similarity})
	}
	return sources
}

func activeActions(actions []action.Action) map[string]action.Action {
	active := make(map[string]action.Action, len(actions))
	for _, a := range actions {
		if a.Active {
			active[a.ID] = a
		}
	}
	return active
}

func toolDefinitions(active map[string]action.Action) []provider.ToolDefinition {
	if len(active) == 0 {
		return nil
	}
	tools := make([]provider.ToolDefinition, 0, len(active))
	for _, a := range active {
		params := a.Parameters
		if params == nil {
			params = map[string]any{"type": "object", "properties": map[string]any{}}
		}
		tools = append(tools, provider.ToolDefinition{
			Name:        a.ID,
			Description: a.Description,
			Parameters:  params,
		})
	}
	return tools
}

func streamRequest(req TurnRequest, system string, messages []provider.Message, tools []provider.ToolDefinition) provider.StreamRequest {
	return provider.StreamRequest{
		Model:       req.Model,
		System:      system,
		Messages:    messages,
		Tools:       tools,
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
	}
}

// streamPass runs one provider stream, forwarding text deltas, accumulating
// usage, and collecting tool calls. Returns ok=false after emitting a
// terminal error event or losing the caller.
func (e *Engine) streamPass(ctx context.Context, s provider.Streamer, req provider.StreamRequest, usage *provider.Usage, send func(Event) bool) (string, []provider.ToolCall, bool) {
	var text strings.Builder
	var calls []provider.ToolCall
	lost := false

	err := s.Stream(ctx, req, func(ev provider.Event) error {
		if ev.TextDelta != "" {
			text.WriteString(ev.TextDelta)
			if !send(Event{Kind: EventText, Text: ev.TextDelta}) {
				lost = true
				return context.Canceled
			}
		}
		if len(ev.ToolCalls) > 0 {
			calls = append(calls, ev.ToolCalls...)
		}
		if ev.Usage != nil {
			usage.Add(*ev.Usage)
		}
		return nil
	})
	if lost {
		return "", nil, false
	}
	if err != nil {
		send(Event{Kind: EventError, Err: err})
		return "", nil, false
	}
	return text.String(), calls, true
}

func (e *Engine) streamText(ctx context.Context, s provider.Streamer, req provider.StreamRequest, usage *provider.Usage, send func(Event) bool) bool {
	_, _, ok := e.streamPass(ctx, s, req, usage, send)
	return ok
}

// executeCall resolves and runs one tool call. Unknown identifiers and
// malformed arguments become failed results visible to the model, never turn
// failures.
func (e *Engine) executeCall(ctx context.Context, active map[string]action.Action, call provider.ToolCall) action.Result {
	act, ok := active[call.Name]
	if !ok {
		e.logger.Error("model referenced unknown action", "action_id", call.Name)
		return action.Failure("Action not found")
	}

	args := map[string]any{}
	if strings.TrimSpace(call.Arguments) != "" {
		if err := json.Unmarshal([]byte(call.Arguments), &args); err != nil {
			return action.Failure(fmt.Sprintf("invalid arguments: %v", err))
		}
	}
	return e.executor.Execute(ctx, act, args)
}

func marshalResult(res action.Result) string {
	payload, err := json.Marshal(res)
	if err != nil {
		payload, _ = json.Marshal(action.Failure(fmt.Sprintf("encoding result: %v", err)))
	}
	return string(payload)
}

func finish(send func(Event) bool, sources []Source, usage provider.Usage) {
	if len(sources) > 0 {
		if !send(Event{Kind: EventSources, Sources: sources}) {
			return
		}
	}
	if !send(Event{Kind: EventUsage, Usage: &usage}) {
		return
	}
	send(Event{Kind: EventDone})
}
