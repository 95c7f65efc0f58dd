package domain

import (
	"errors"
	"fmt"
)

// NotFoundError represents a missing resource.
type NotFoundError struct {
	Resource string
}

func (e NotFoundError) Error() string {
	if e.Resource == "" {
		return "not found"
	}
	return fmt.Sprintf("%s not found", e.Resource)
}

// Is enables errors.Is matching on NotFoundError.
func (e NotFoundError) Is(target error) bool {
	_, ok := target.(NotFoundError)
	if ok {
		return true
	}
	_, ok = target.(*NotFoundError)
	return ok
}

// ErrNotFound is the sentinel error for missing resources.
var ErrNotFound = NotFoundError{}

// NetworkError is a transient transport failure. Callers may retry.
type NetworkError struct {
	Op  string
	Err error
}

func (e NetworkError) Error() string {
	return fmt.Sprintf("network error during %s: %v", e.Op, e.Err)
}

func (e NetworkError) Unwrap() error { return e.Err }

func (e NetworkError) Is(target error) bool {
	_, ok := target.(NetworkError)
	if ok {
		return true
	}
	_, ok = target.(*NetworkError)
	return ok
}

var ErrNetwork = NetworkError{}

// BackendError is a structured failure returned by the remote service.
type BackendError struct {
	Op      string
	Status  int
	Message string
}

func (e BackendError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("backend error during %s (status %d): %s", e.Op, e.Status, e.Message)
	}
	return fmt.Sprintf("backend error during %s: %s", e.Op, e.Message)
}

func (e BackendError) Is(target error) bool {
	_, ok := target.(BackendError)
	if ok {
		return true
	}
	_, ok = target.(*BackendError)
	return ok
}

var ErrBackend = BackendError{}

// ValidationError is a malformed or missing query parameter. It is never sent
// over the network.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("validation: %s: %s", e.Field, e.Message)
}

func (e ValidationError) Is(target error) bool {
	_, ok := target.(ValidationError)
	if ok {
		return true
	}
	_, ok = target.(*ValidationError)
	return ok
}

var ErrValidation = ValidationError{}

// SessionError means the messaging backend is unreachable or the identity
// session is no longer valid.
type SessionError struct {
	Reason string
	Err    error
}

func (e SessionError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("session error: %s: %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("session error: %s", e.Reason)
}

func (e SessionError) Unwrap() error { return e.Err }

func (e SessionError) Is(target error) bool {
	_, ok := target.(SessionError)
	if ok {
		return true
	}
	_, ok = target.(*SessionError)
	return ok
}

var ErrSession = SessionError{}

// GatewayError marks an error as originating at the remote data gateway.
// The wrapped error is one of the typed errors above.
type GatewayError struct {
	Op  string
	Err error
}

func (e *GatewayError) Error() string {
	return fmt.Sprintf("gateway %s: %v", e.Op, e.Err)
}

func (e *GatewayError) Unwrap() error { return e.Err }

func IsGatewayError(err error) bool {
	var gw *GatewayError
	return errors.As(err, &gw)
}

// Retryable reports whether a caller-driven retry can succeed.
func Retryable(err error) bool {
	return errors.Is(err, ErrNetwork)
}
