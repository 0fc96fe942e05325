// Package types provides shared types, interfaces, and errors for the application.
package types

import "errors"

// Sentinel errors for consistent error handling across the application.
// These errors can be checked with errors.Is() for type-safe error handling.
var (
	// Browser pool errors
	ErrPoolExhausted = errors.New("browser pool exhausted: no browsers available")
	ErrPoolClosed    = errors.New("browser pool is shutting down")
	ErrBrowserGone   = errors.New("browser instance is gone")
	ErrTooManyPages  = errors.New("browser page limit reached")
	ErrLeaseMismatch = errors.New("release does not match an active lease")
	ErrBrowserLaunch = errors.New("browser launch failed")

	// Circuit breaker errors
	ErrCircuitOpen = errors.New("circuit breaker is open")

	// Store errors
	ErrSessionNotFound      = errors.New("session not found")
	ErrSessionExpired       = errors.New("session has expired")
	ErrSessionAlreadyExists = errors.New("session already exists")
	ErrContextNotFound      = errors.New("context not found")
	ErrContextClosed        = errors.New("context is closed")
	ErrPageNotFound         = errors.New("page not found")
	ErrNotOwner             = errors.New("entity is owned by another session")
	ErrTooManySessions      = errors.New("maximum number of sessions reached")
	ErrBackendUnavailable   = errors.New("store backend unavailable")
	ErrKeyNotFound          = errors.New("api key not found")

	// Proxy errors
	ErrNoProxies          = errors.New("no proxies configured")
	ErrNoHealthyProxies   = errors.New("no healthy proxies available")
	ErrProxyNotFound      = errors.New("proxy not found")
	ErrRotationInFlight   = errors.New("rotation already in progress for context")
	ErrUnknownStrategy    = errors.New("unknown proxy selection strategy")
	ErrFailoverDisabled   = errors.New("proxy failover is disabled")
	ErrProxyUnhealthy     = errors.New("bound proxy is unhealthy")
	ErrInvalidProxyConfig = errors.New("invalid proxy configuration")

	// Action errors
	ErrUnknownAction      = errors.New("unknown action kind")
	ErrValidationFailed   = errors.New("action validation failed")
	ErrSecurityViolation  = errors.New("action rejected by security validation")
	ErrActionTimeout      = errors.New("action timed out")
	ErrResourceExhausted  = errors.New("resource limit exceeded")
	ErrHandleNotFound     = errors.New("evaluation handle not found")
	ErrDownloadIncomplete = errors.New("download did not complete in time")
	ErrNoHistory          = errors.New("no history entry in that direction")

	// Context errors
	ErrContextCanceled = errors.New("operation canceled")

	// Shutdown
	ErrShutdown = errors.New("service is shutting down")
)

// ErrorKind is the coarse classification surfaced in action results and
// translated to transport status codes by adapters.
type ErrorKind string

const (
	KindInvalidInput        ErrorKind = "INVALID_INPUT"
	KindUnauthenticated     ErrorKind = "UNAUTHENTICATED"
	KindForbidden           ErrorKind = "FORBIDDEN"
	KindNotFound            ErrorKind = "NOT_FOUND"
	KindConflict            ErrorKind = "CONFLICT"
	KindTimeout             ErrorKind = "TIMEOUT"
	KindResourceExhausted   ErrorKind = "RESOURCE_EXHAUSTED"
	KindCircuitOpen         ErrorKind = "CIRCUIT_OPEN"
	KindUpstreamUnavailable ErrorKind = "UPSTREAM_UNAVAILABLE"
	KindElementNotFound     ErrorKind = "ELEMENT_NOT_FOUND"
	KindNavigationFailed    ErrorKind = "NAVIGATION_FAILED"
	KindEvaluationFailed    ErrorKind = "EVALUATION_FAILED"
	KindInteractionFailed   ErrorKind = "INTERACTION_FAILED"
	KindFileFailed          ErrorKind = "FILE_FAILED"
	KindSecurityViolation   ErrorKind = "SECURITY_VIOLATION"
	KindPageGone            ErrorKind = "PAGE_GONE"
	KindExecutionFailed     ErrorKind = "EXECUTION_FAILED"
	KindInternal            ErrorKind = "INTERNAL"
)

// Label returns a human-readable label for the error kind.
func (k ErrorKind) Label() string {
	switch k {
	case KindInvalidInput:
		return "Invalid input"
	case KindUnauthenticated:
		return "Unauthenticated"
	case KindForbidden:
		return "Permission denied"
	case KindNotFound:
		return "Not found"
	case KindConflict:
		return "Conflict"
	case KindTimeout:
		return "Operation timed out"
	case KindResourceExhausted:
		return "Resource exhausted"
	case KindCircuitOpen:
		return "Circuit breaker open"
	case KindUpstreamUnavailable:
		return "Upstream unavailable"
	case KindElementNotFound:
		return "Element not found"
	case KindNavigationFailed:
		return "Navigation failed"
	case KindEvaluationFailed:
		return "Evaluation failed"
	case KindInteractionFailed:
		return "Interaction failed"
	case KindFileFailed:
		return "File operation failed"
	case KindSecurityViolation:
		return "Security violation"
	case KindPageGone:
		return "Page is gone"
	case KindExecutionFailed:
		return "Execution failed"
	default:
		return "Internal error"
	}
}

// TaggedError carries an error kind, a message, optional detail fields, and a
// correlation id across component boundaries. Transport adapters translate it
// into their native status codes.
type TaggedError struct {
	Kind          ErrorKind
	Message       string
	Details       map[string]any
	CorrelationID string
	Err           error
}

// Error implements the error interface.
func (e *TaggedError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return e.Kind.Label()
}

// Unwrap returns the underlying error for errors.Is/As support.
func (e *TaggedError) Unwrap() error {
	return e.Err
}

// NewTaggedError builds a TaggedError wrapping err.
func NewTaggedError(kind ErrorKind, message string, err error) *TaggedError {
	return &TaggedError{Kind: kind, Message: message, Err: err}
}

// KindOf maps well-known sentinel errors to their kind. Unknown errors map to
// KindInternal; the action classifier applies finer-grained mapping for
// executor failures.
func KindOf(err error) ErrorKind {
	var tagged *TaggedError
	if errors.As(err, &tagged) {
		return tagged.Kind
	}
	switch {
	case errors.Is(err, ErrPoolExhausted):
		return KindResourceExhausted
	case errors.Is(err, ErrResourceExhausted):
		return KindResourceExhausted
	case errors.Is(err, ErrCircuitOpen):
		return KindCircuitOpen
	case errors.Is(err, ErrTooManySessions):
		return KindResourceExhausted
	case errors.Is(err, ErrPoolClosed), errors.Is(err, ErrShutdown),
		errors.Is(err, ErrBackendUnavailable):
		return KindUpstreamUnavailable
	case errors.Is(err, ErrSessionNotFound), errors.Is(err, ErrSessionExpired),
		errors.Is(err, ErrContextNotFound), errors.Is(err, ErrPageNotFound),
		errors.Is(err, ErrProxyNotFound), errors.Is(err, ErrKeyNotFound):
		return KindNotFound
	case errors.Is(err, ErrSessionAlreadyExists), errors.Is(err, ErrContextClosed):
		return KindConflict
	case errors.Is(err, ErrNotOwner):
		return KindForbidden
	case errors.Is(err, ErrSecurityViolation):
		return KindSecurityViolation
	case errors.Is(err, ErrValidationFailed), errors.Is(err, ErrUnknownAction):
		return KindInvalidInput
	case errors.Is(err, ErrActionTimeout), errors.Is(err, ErrContextCanceled):
		return KindTimeout
	case errors.Is(err, ErrBrowserGone):
		return KindPageGone
	default:
		return KindInternal
	}
}
