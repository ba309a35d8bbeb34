// Package errs defines the domain error kinds shared across AstraGuard's
// decision pipeline.
//
// Propagation policy: after a sample passes validation, nothing in the
// decision path returns one of these to the HTTP boundary — every internal
// failure is converted into a degraded but complete AnomalyDecision. Only
// ValidationError and the API-key boundary check reject a request outright.
package errs

import (
	"errors"
	"fmt"
)

// Kind enumerates the domain error kinds from the error handling design.
type Kind string

const (
	KindValidation       Kind = "ValidationError"
	KindModelLoad        Kind = "ModelLoadError"
	KindAnomalyEngine    Kind = "AnomalyEngineError"
	KindTimeout          Kind = "TimeoutError"
	KindCircuitOpen      Kind = "CircuitOpenError"
	KindInvalidTransition Kind = "InvalidTransition"
	KindReportGeneration Kind = "ReportGenerationError"
)

// Error wraps an underlying cause with a domain Kind.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Kind, e.Op)
	}
	return fmt.Sprintf("%s: %s: %v", e.Kind, e.Op, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

func New(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

func Validation(op string, err error) *Error    { return New(KindValidation, op, err) }
func ModelLoad(op string, err error) *Error     { return New(KindModelLoad, op, err) }
func AnomalyEngine(op string, err error) *Error { return New(KindAnomalyEngine, op, err) }
func Timeout(op string, err error) *Error       { return New(KindTimeout, op, err) }
func CircuitOpen(op string, err error) *Error   { return New(KindCircuitOpen, op, err) }
func InvalidTransition(op string, err error) *Error {
	return New(KindInvalidTransition, op, err)
}
func ReportGeneration(op string, err error) *Error {
	return New(KindReportGeneration, op, err)
}

// KindOf extracts the Kind of err if it (or something it wraps) is an *Error.
// Returns ("", false) otherwise.
func KindOf(err error) (Kind, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind, true
	}
	return "", false
}

// Is reports whether err carries the given Kind anywhere in its chain.
func Is(err error, kind Kind) bool {
	k, ok := KindOf(err)
	return ok && k == kind
}
