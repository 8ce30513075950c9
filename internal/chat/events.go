package chat

import "github.com/chatstack/chatstack/internal/provider"

// EventKind discriminates the events a turn emits.
type EventKind string

const (
	// EventText carries one incremental text delta.
	EventText EventKind = "text"

	// EventSources reports which corpus documents grounded the answer.
	EventSources EventKind = "sources"

	// EventToolCall signals that the model requested an action. Emitted so a
	// caller can render in-progress state; it is not control data.
	EventToolCall EventKind = "tool_call"

	// EventToolResult carries the outcome of an executed action.
	EventToolResult EventKind = "tool_result"

	// EventUsage reports aggregated token usage, exactly once per turn,
	// after the last text delta.
	EventUsage EventKind = "usage"

	// EventError terminates a failed turn. No events follow it.
	EventError EventKind = "error"

	// EventDone terminates a successful turn.
	EventDone EventKind = "done"
)

// Source identifies one document that grounded the answer.
type Source struct {
	Name       string  `json:"name"`
	Similarity float64 `json:"similarity"`
}

// ToolCallEvent describes a model-issued action request.
type ToolCallEvent struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// ToolResultEvent describes the outcome of one executed action.
type ToolResultEvent struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Success bool   `json:"success"`
	Result  string `json:"result"` // serialized result envelope
}

// Event is one element of a turn's output stream. Kind selects which field
// is populated.
type Event struct {
	Kind       EventKind
	Text       string
	Sources    []Source
	ToolCall   *ToolCallEvent
	ToolResult *ToolResultEvent
	Usage      *provider.Usage
	Err        error
}
