package workflow

import (
	"errors"
	"fmt"
)

// ErrorKind enumerates the structured failure kinds the core surfaces at its
// boundary. No raw transport or adapter error ever crosses out of the core
// without being translated to one of these.
type ErrorKind string

const (
	ErrValidationFailed     ErrorKind = "VALIDATION_FAILED"
	ErrNoAdapterRegistered  ErrorKind = "NO_ADAPTER_REGISTERED"
	ErrQueueFull            ErrorKind = "QUEUE_FULL"
	ErrCircuitOpenKind      ErrorKind = "CIRCUIT_OPEN"
	ErrNetwork              ErrorKind = "NETWORK"
	ErrHTTP5xx              ErrorKind = "HTTP_5XX"
	ErrHTTP429              ErrorKind = "HTTP_429"
	ErrHTTP408              ErrorKind = "HTTP_408"
	ErrHTTP4xxOther         ErrorKind = "HTTP_4XX_OTHER"
	ErrRemoteEngine         ErrorKind = "REMOTE_ENGINE_ERROR"
	ErrExecutionTimeout     ErrorKind = "EXECUTION_TIMEOUT"
	ErrRetriesExhausted     ErrorKind = "RETRIES_EXHAUSTED"
	ErrWorkerLost           ErrorKind = "WORKER_LOST"
	ErrShutdown             ErrorKind = "SHUTDOWN"
	ErrAlreadyTerminal      ErrorKind = "ALREADY_TERMINAL"
	ErrNotFound             ErrorKind = "NOT_FOUND"
	ErrUnsupportedConvert   ErrorKind = "UNSUPPORTED_CONVERSION"
)

// CoreError is the single structured error type every terminal execution
// record and every public operation failure carries. It mirrors the
// teacher's small sentinel-wrapping error structs (see
// infrastructure/resilience and infrastructure/database) but generalizes
// to the fixed kind enumeration this domain requires.
type CoreError struct {
	Kind        ErrorKind
	Message     string
	Details     map[string]string
	EngineError string
	Cause       error
}

func (e *CoreError) Error() string {
	if e.Message == "" {
		return string(e.Kind)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *CoreError) Unwrap() error { return e.Cause }

// NewError builds a CoreError of the given kind.
func NewError(kind ErrorKind, message string) *CoreError {
	return &CoreError{Kind: kind, Message: message}
}

// Wrap builds a CoreError of the given kind around a cause.
func Wrap(kind ErrorKind, message string, cause error) *CoreError {
	return &CoreError{Kind: kind, Message: message, Cause: cause}
}

// KindOf extracts the ErrorKind from err if it is (or wraps) a *CoreError.
func KindOf(err error) (ErrorKind, bool) {
	var ce *CoreError
	if errors.As(err, &ce) {
		return ce.Kind, true
	}
	return "", false
}

// IsKind reports whether err is a CoreError of the given kind.
func IsKind(err error, kind ErrorKind) bool {
	k, ok := KindOf(err)
	return ok && k == kind
}

// retriableKinds is the fixed default classification from spec §4.B/§7.
var retriableKinds = map[ErrorKind]bool{
	ErrNetwork:         true,
	ErrHTTP5xx:         true,
	ErrHTTP429:         true,
	ErrHTTP408:         true,
	ErrCircuitOpenKind: true,
}

// DefaultRetriable is the fixed retriable-classification policy, overridable
// per call by passing a different predicate to the retry driver.
func DefaultRetriable(err error) bool {
	if err == nil {
		return false
	}
	kind, ok := KindOf(err)
	if !ok {
		return false
	}
	return retriableKinds[kind]
}
