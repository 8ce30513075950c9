package action

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/chatstack/chatstack/internal/corpus"
	"github.com/chatstack/chatstack/internal/log"
	"github.com/google/uuid"
)

const (
	// maxResponseBytes caps how much of an upstream HTTP response is read
	// back into the model's context.
	maxResponseBytes = 64 * 1024

	defaultHTTPTimeout = 15 * time.Second
)

// LeadStore persists captured contact records.
type LeadStore interface {
	CreateLead(ctx context.Context, lead *corpus.Lead) error
}

// Executor dispatches actions by kind. Execution failures are reported inside
// the Result envelope rather than as Go errors, so an orchestration loop can
// always hand something back to the model.
type Executor struct {
	client *http.Client
	leads  LeadStore
	logger log.Logger
}

// ExecutorOption configures an Executor.
type ExecutorOption func(*Executor)

// WithHTTPClient overrides the HTTP client used for http and notify actions.
func WithHTTPClient(c *http.Client) ExecutorOption {
	return func(e *Executor) { e.client = c }
}

// NewExecutor creates an Executor backed by the given lead store.
func NewExecutor(leads LeadStore, logger log.Logger, opts ...ExecutorOption) *Executor {
	e := &Executor{
		client: &http.Client{Timeout: defaultHTTPTimeout},
		leads:  leads,
		logger: logger,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Execute runs a single action with the model-supplied arguments. The
// returned Result is always usable; errors never escape as Go errors.
func (e *Executor) Execute(ctx context.Context, act Action, args map[string]any) Result {
	e.logger.Debug("executing action",
		"action_id", act.ID,
		"kind", string(act.Kind),
		"name", act.Name)

	var res Result
	switch act.Kind {
	case KindHTTP:
		res = e.executeHTTP(ctx, act, args)
	case KindLead:
		res = e.executeLead(ctx, act, args)
	case KindNotify:
		res = e.executeNotify(ctx, act, args)
	case KindSearch:
		res = e.executeSearch(act, args)
	case KindButton:
		res = e.executeButton(act)
	case KindCalendar:
		res = e.executeCalendar(act)
	default:
		res = Failure(fmt.Sprintf("unsupported action kind %q", act.Kind))
	}

	if !res.Success {
		e.logger.Warn("action failed", "action_id", act.ID, "error", res.Error)
	}
	return res
}

func (e *Executor) executeHTTP(ctx context.Context, act Action, args map[string]any) Result {
	if act.Config.URL == "" {
		return Failure("action has no URL configured")
	}
	method := strings.ToUpper(act.Config.Method)
	if method == "" {
		method = http.MethodPost
	}

	var req *http.Request
	var err error
	if method == http.MethodGet {
		target, qerr := withQuery(act.Config.URL, args)
		if qerr != nil {
			return Failure(qerr.Error())
		}
		req, err = http.NewRequestWithContext(ctx, method, target, nil)
	} else {
		body, merr := json.Marshal(args)
		if merr != nil {
			return Failure(fmt.Sprintf("encoding arguments: %v", merr))
		}
		req, err = http.NewRequestWithContext(ctx, method, act.Config.URL, bytes.NewReader(body))
		if err == nil {
			req.Header.Set("Content-Type", "application/json")
		}
	}
	if err != nil {
		return Failure(fmt.Sprintf("building request: %v", err))
	}
	for k, v := range act.Config.Headers {
		req.Header.Set(k, v)
	}

	resp, err := e.client.Do(req)
	if err != nil {
		return Failure(fmt.Sprintf("request failed: %v", err))
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return Failure(fmt.Sprintf("reading response: %v", err))
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return Failure(fmt.Sprintf("upstream returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body))))
	}
	return Result{Success: true, Result: decodeBody(resp.Header.Get("Content-Type"), body)}
}

// withQuery merges args into base's query string. Values are stringified with
// %v since tool arguments arrive as decoded JSON scalars.
func withQuery(base string, args map[string]any) (string, error) {
	u, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("invalid URL: %w", err)
	}
	q := u.Query()
	for k, v := range args {
		q.Set(k, fmt.Sprintf("%v", v))
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// decodeBody returns structured JSON when the upstream says it sent JSON,
// otherwise the raw text.
func decodeBody(contentType string, body []byte) any {
	if strings.Contains(contentType, "application/json") {
		var v any
		if err := json.Unmarshal(body, &v); err == nil {
			return v
		}
	}
	return string(body)
}

func (e *Executor) executeLead(ctx context.Context, act Action, args map[string]any) Result {
	lead := &corpus.Lead{
		ID:      uuid.New(),
		AgentID: act.AgentID,
		Extra:   map[string]any{},
	}
	for k, v := range args {
		s, _ := v.(string)
		switch k {
		case "name":
			lead.Name = s
		case "email":
			lead.Email = s
		case "phone":
			lead.Phone = s
		case "company":
			lead.Company = s
		default:
			lead.Extra[k] = v
		}
	}
	// Every lead field is optional; a record with only a name or company is
	// still worth persisting.
	if err := e.leads.CreateLead(ctx, lead); err != nil {
		return Failure(fmt.Sprintf("saving lead: %v", err))
	}
	return Result{Success: true, Result: map[string]any{"lead_id": lead.ID.String()}}
}

func (e *Executor) executeNotify(ctx context.Context, act Action, args map[string]any) Result {
	if act.Config.WebhookURL == "" {
		return Failure("action has no webhook URL configured")
	}
	message, _ := args["message"].(string)
	if message == "" {
		return Failure("notify requires a message argument")
	}

	payload, err := json.Marshal(map[string]string{"text": message})
	if err != nil {
		return Failure(fmt.Sprintf("encoding payload: %v", err))
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, act.Config.WebhookURL, bytes.NewReader(payload))
	if err != nil {
		return Failure(fmt.Sprintf("building request: %v", err))
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.client.Do(req)
	if err != nil {
		return Failure(fmt.Sprintf("webhook failed: %v", err))
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, maxResponseBytes))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return Failure(fmt.Sprintf("webhook returned %d", resp.StatusCode))
	}
	return Result{Success: true, Result: "notification sent"}
}

func (e *Executor) executeSearch(_ Action, args map[string]any) Result {
	query, _ := args["query"].(string)
	if query == "" {
		return Failure("search requires a query argument")
	}
	// No search backend is wired up yet. Surface that honestly so the model
	// does not fabricate results.
	return Result{Success: true, Result: map[string]any{
		"query":   query,
		"results": []any{},
		"note":    "web search is not configured for this agent",
	}}
}

func (e *Executor) executeButton(act Action) Result {
	if act.Config.URL == "" {
		return Failure("action has no URL configured")
	}
	return Result{Success: true, Result: map[string]any{
		"type":   "button",
		"label":  act.Config.Label,
		"url":    act.Config.URL,
		"target": act.Config.Target,
	}}
}

func (e *Executor) executeCalendar(act Action) Result {
	if act.Config.URL == "" {
		return Failure("action has no URL configured")
	}
	return Result{Success: true, Result: map[string]any{
		"type":  "calendar",
		"label": act.Config.Label,
		"url":   act.Config.URL,
	}}
}
