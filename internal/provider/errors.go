package provider

import (
	"errors"
	"fmt"
	"net/http"
)

// Sentinel errors forming the provider error taxonomy. Adapters map
// provider-specific status codes onto these so the orchestrator and its
// callers can classify failures with errors.Is.
var (
	// ErrAuth indicates bad or missing credentials. User-actionable; never retried.
	ErrAuth = errors.New("provider authentication failed")

	// ErrRateLimit indicates provider throttling. Transient; retryable after backoff.
	ErrRateLimit = errors.New("provider rate limited")

	// ErrModelUnavailable indicates an unknown or inaccessible model name.
	ErrModelUnavailable = errors.New("model unavailable")

	// ErrProvider is the catch-all for other upstream failures.
	ErrProvider = errors.New("provider request failed")
)

// classifyStatus maps an HTTP status code from any provider onto the shared
// taxonomy.
func classifyStatus(status int) error {
	switch status {
	case http.StatusUnauthorized, http.StatusForbidden:
		return ErrAuth
	case http.StatusTooManyRequests:
		return ErrRateLimit
	case http.StatusNotFound:
		return ErrModelUnavailable
	default:
		return ErrProvider
	}
}

// wrapStatus builds a taxonomy error for a provider HTTP failure, keeping the
// original error in the chain.
func wrapStatus(name string, status int, err error) error {
	return fmt.Errorf("%w: %s returned status %d: %w", classifyStatus(status), name, status, err)
}

// wrapOpaque builds a taxonomy error for a failure with no usable status code
// (network errors, decode failures).
func wrapOpaque(name string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrProvider, name, err)
}
