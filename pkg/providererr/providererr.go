// Package providererr defines the closed error taxonomy every storage
// provider reports through. A ProviderError never crosses a provider
// boundary carrying a raw stack trace or an unsanitized response body; it
// carries a Kind from the fixed set below, a sanitized message, and
// optionally a wrapped cause for local debugging.
package providererr

import (
	"errors"
	"fmt"

	"github.com/aeroftp/aerocore/pkg/pathutil"
)

// Kind is the closed set of provider error kinds. New kinds are never added
// casually: every caller that matches on Kind (CLI, retry policy, OAuth
// manager) needs to handle it.
type Kind int

const (
	NotConnected Kind = iota
	AuthenticationFailed
	ConnectionFailed
	NotFound
	AccessDenied
	InvalidPath
	TransferFailed
	ServerError
	ParseError
	NotSupported
	RateLimited
	IoError
	Other
)

func (k Kind) String() string {
	switch k {
	case NotConnected:
		return "NotConnected"
	case AuthenticationFailed:
		return "AuthenticationFailed"
	case ConnectionFailed:
		return "ConnectionFailed"
	case NotFound:
		return "NotFound"
	case AccessDenied:
		return "AccessDenied"
	case InvalidPath:
		return "InvalidPath"
	case TransferFailed:
		return "TransferFailed"
	case ServerError:
		return "ServerError"
	case ParseError:
		return "ParseError"
	case NotSupported:
		return "NotSupported"
	case RateLimited:
		return "RateLimited"
	case IoError:
		return "IoError"
	default:
		return "Other"
	}
}

// ProviderError is the structured error type returned from every
// StorageProvider method. It deliberately carries no stack; Cause is kept
// for local log lines and is never serialized across a host boundary.
type ProviderError struct {
	Kind      Kind
	Message   string
	Provider  string // e.g. "s3", "ftp", "internxt" - empty for provider-agnostic errors
	Cause     error
	HTTPState int // 0 if not HTTP-derived
	RetryHint int // seconds, from Retry-After; 0 if absent
}

func (e *ProviderError) Error() string {
	msg := pathutil.SanitizeAPIError(e.Message)
	if e.Provider != "" {
		return fmt.Sprintf("%s: [%s] %s", e.Provider, e.Kind, msg)
	}
	return fmt.Sprintf("[%s] %s", e.Kind, msg)
}

func (e *ProviderError) Unwrap() error { return e.Cause }

// Is supports errors.Is against another *ProviderError by Kind equality,
// and against a bare Kind value for convenience (errors.Is(err, NotFound)
// does not work directly since Kind isn't an error; use Matches for that).
func (e *ProviderError) Is(target error) bool {
	var other *ProviderError
	if errors.As(target, &other) {
		return e.Kind == other.Kind
	}
	return false
}

// New constructs a ProviderError with the given kind and message. The
// message is expected to already be human-safe; callers handling raw
// provider response bodies should run them through pathutil.SanitizeAPIError
// (or rely on Error()'s own sanitization pass) before embedding them here.
func New(kind Kind, provider, message string) *ProviderError {
	return &ProviderError{Kind: kind, Provider: provider, Message: message}
}

// Wrap builds a ProviderError around an existing error, classifying it.
func Wrap(kind Kind, provider, message string, cause error) *ProviderError {
	return &ProviderError{Kind: kind, Provider: provider, Message: message, Cause: cause}
}

// WithHTTP attaches HTTP status and Retry-After context and returns the
// receiver for chaining at the construction site.
func (e *ProviderError) WithHTTP(status int, retryAfterSeconds int) *ProviderError {
	e.HTTPState = status
	e.RetryHint = retryAfterSeconds
	return e
}

// Matches reports whether err is a *ProviderError of the given kind.
func Matches(err error, kind Kind) bool {
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe.Kind == kind
	}
	return false
}

// KindOf extracts the Kind from err if it is a *ProviderError, else Other.
func KindOf(err error) Kind {
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe.Kind
	}
	return Other
}

// Retryable reports whether a ProviderError's kind is one the retry policy
// should attempt again on its own (network/5xx/429-shaped failures).
// AuthenticationFailed is deliberately excluded: a failed refresh clears
// tokens and must surface immediately rather than be retried blindly.
func Retryable(err error) bool {
	switch KindOf(err) {
	case ConnectionFailed, ServerError, RateLimited, IoError:
		return true
	default:
		return false
	}
}

// Internal reports an invariant violation the core code itself detected,
// never a provider response. The offending value is never embedded raw;
// callers pass an already-redacted description.
func Internal(description string) *ProviderError {
	return &ProviderError{Kind: Other, Message: "internal invariant violated: " + description}
}
