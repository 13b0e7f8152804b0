package providers

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Kind classifies a provider failure into the shared taxonomy. Every
// surfaced error carries a machine-readable kind plus a human-readable
// message keyed by it.
type Kind string

const (
	KindAuth          Kind = "auth"
	KindRateLimit     Kind = "rate_limit"
	KindQuota         Kind = "quota"
	KindNetwork       Kind = "network"
	KindTimeout       Kind = "timeout"
	KindService       Kind = "service"
	KindValidation    Kind = "validation"
	KindContextLength Kind = "context_length"
	KindModelNotFound Kind = "model_not_found"
	KindCircuitOpen   Kind = "circuit_open"
	KindUnknown       Kind = "unknown"
)

// Recoverable reports whether an in-adapter recovery action exists for
// this kind.
func (k Kind) Recoverable() bool {
	switch k {
	case KindRateLimit, KindQuota, KindNetwork, KindTimeout, KindService, KindContextLength, KindModelNotFound:
		return true
	case KindCircuitOpen:
		// Fail fast; the caller may retry later but the adapter must not
		return false
	default:
		return false
	}
}

// Retryable reports whether retrying the same request can succeed.
func (k Kind) Retryable() bool {
	switch k {
	case KindRateLimit, KindQuota, KindNetwork, KindTimeout, KindService, KindContextLength, KindModelNotFound:
		return true
	default:
		return false
	}
}

// Suggestion returns the suggested caller action for this kind.
func (k Kind) Suggestion() string {
	switch k {
	case KindAuth:
		return "check the configured API credential"
	case KindRateLimit:
		return "rate limit reached, retry shortly"
	case KindQuota:
		return "quota exhausted, retry with a smaller model or raise the quota"
	case KindNetwork, KindTimeout:
		return "transient network issue, retry the request"
	case KindService:
		return "provider is overloaded, retry later or switch providers"
	case KindValidation:
		return "fix the request parameters"
	case KindContextLength:
		return "shorten the prompt or conversation context"
	case KindModelNotFound:
		return "use a supported model identifier"
	case KindCircuitOpen:
		return "provider temporarily disabled, retry after cooldown"
	default:
		return "inspect the underlying error"
	}
}

// ProviderError is the enhanced error surfaced by adapters and the
// manager: original message + kind + suggested action + request id.
type ProviderError struct {
	Provider   string
	Kind       Kind
	Message    string
	StatusCode int
	RequestID  string

	// RetryAfter is the vendor-supplied backoff hint, zero when absent.
	// Takes precedence over the exponential backoff term.
	RetryAfter time.Duration

	Cause error
}

// Error implements the error interface.
func (e *ProviderError) Error() string {
	msg := fmt.Sprintf("%s: %s (%s)", e.Provider, e.Message, e.Kind)
	if e.Cause != nil {
		return msg + ": " + e.Cause.Error()
	}
	return msg
}

// Unwrap implements error unwrapping.
func (e *ProviderError) Unwrap() error {
	return e.Cause
}

// Retryable reports whether the failure is retryable.
func (e *ProviderError) Retryable() bool {
	return e.Kind.Retryable()
}

// Suggestion returns the suggested caller action.
func (e *ProviderError) Suggestion() string {
	return e.Kind.Suggestion()
}

// NewError creates a ProviderError with a fresh request id.
func NewError(provider string, kind Kind, message string, cause error) *ProviderError {
	return &ProviderError{
		Provider:  provider,
		Kind:      kind,
		Message:   message,
		RequestID: uuid.NewString(),
		Cause:     cause,
	}
}

// AsProviderError extracts a *ProviderError from an error chain.
func AsProviderError(err error) (*ProviderError, bool) {
	var perr *ProviderError
	if errors.As(err, &perr) {
		return perr, true
	}
	return nil, false
}

// KindOf returns the taxonomy kind of an error, KindUnknown when the
// error carries none.
func KindOf(err error) Kind {
	if perr, ok := AsProviderError(err); ok {
		return perr.Kind
	}
	return KindUnknown
}

// Classify wraps an arbitrary error as a ProviderError if it is not one
// already. Context deadline errors map to the timeout kind, other
// transport-level failures to network.
func Classify(provider string, err error) *ProviderError {
	if perr, ok := AsProviderError(err); ok {
		return perr
	}
	kind := KindNetwork
	if errors.Is(err, context.DeadlineExceeded) {
		kind = KindTimeout
	} else if errors.Is(err, context.Canceled) {
		kind = KindTimeout
	}
	return NewError(provider, kind, err.Error(), err)
}
