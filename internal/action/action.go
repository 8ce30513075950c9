// Package action defines the catalog of agent capabilities a model may
// invoke, and the executor that carries them out.
package action

import (
	"github.com/google/uuid"
)

// Kind selects the behavior of an action.
type Kind string

const (
	// KindHTTP performs a configured outbound HTTP call.
	KindHTTP Kind = "http"

	// KindLead persists a visitor contact record.
	KindLead Kind = "lead"

	// KindNotify posts a message to a configured chat webhook.
	KindNotify Kind = "notify"

	// KindSearch is a placeholder for a web-search integration; it performs
	// no real search and echoes the query back.
	KindSearch Kind = "search"

	// KindButton returns a static button payload for the caller to render.
	KindButton Kind = "button"

	// KindCalendar returns a scheduling link for the caller to render.
	KindCalendar Kind = "calendar"
)

// Config is the kind-specific configuration of an action. Only the fields
// relevant to the action's kind are used.
type Config struct {
	// HTTP call settings (KindHTTP).
	URL     string            `json:"url,omitempty"`
	Method  string            `json:"method,omitempty"`
	Headers map[string]string `json:"headers,omitempty"`

	// Webhook destination (KindNotify).
	WebhookURL string `json:"webhookUrl,omitempty"`

	// Render settings (KindButton, KindCalendar).
	Label  string `json:"label,omitempty"`
	Target string `json:"target,omitempty"`
}

// Action is a configured, agent-scoped capability. ID doubles as the
// provider-facing tool name: adapters pass it through verbatim and tool-call
// responses are mapped back to actions purely by identifier equality.
type Action struct {
	ID          string
	AgentID     uuid.UUID
	Name        string
	Description string // used verbatim as the tool's contract for the model
	Kind        Kind
	Config      Config
	Parameters  map[string]any // JSON schema for the model-supplied arguments
	Active      bool
}

// Result is the uniform envelope every execution returns. This envelope, not
// any raw upstream response, is what gets serialized back into the model's
// context.
type Result struct {
	Success bool   `json:"success"`
	Result  any    `json:"result,omitempty"`
	Error   string `json:"error,omitempty"`
}

// Failure builds a failed Result with the given message.
func Failure(msg string) Result {
	return Result{Success: false, Error: msg}
}
