package domain

import "fmt"

// NotFoundError represents an unknown DID or missing resource.
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

// InvalidRecordError means a stored record's on-chain linkage is
// malformed and cannot be reconciled. No writes are performed.
type InvalidRecordError struct {
	DID    string
	Reason string
}

func (e InvalidRecordError) Error() string {
	return fmt.Sprintf("invalid record %s: %s", e.DID, e.Reason)
}

func (e InvalidRecordError) Is(target error) bool {
	_, ok := target.(InvalidRecordError)
	if ok {
		return true
	}
	_, ok = target.(*InvalidRecordError)
	return ok
}

var ErrInvalidRecord = InvalidRecordError{}

// TransientError means the chain or a store was temporarily
// unreachable. Callers may retry.
type TransientError struct {
	Op  string
	Err error
}

func (e TransientError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s temporarily unavailable", e.Op)
	}
	return fmt.Sprintf("%s temporarily unavailable: %v", e.Op, e.Err)
}

func (e TransientError) Unwrap() error { return e.Err }

func (e TransientError) Is(target error) bool {
	_, ok := target.(TransientError)
	if ok {
		return true
	}
	_, ok = target.(*TransientError)
	return ok
}

var ErrTransientUnavailable = TransientError{}

// UnauthorizedError means admin authorization failed.
type UnauthorizedError struct {
	Reason string
}

func (e UnauthorizedError) Error() string {
	if e.Reason == "" {
		return "unauthorized"
	}
	return fmt.Sprintf("unauthorized: %s", e.Reason)
}

func (e UnauthorizedError) Is(target error) bool {
	_, ok := target.(UnauthorizedError)
	if ok {
		return true
	}
	_, ok = target.(*UnauthorizedError)
	return ok
}

var ErrUnauthorized = UnauthorizedError{}

// InconsistentError means a partial cross-index write was detected.
// It is recorded on the main record and repaired on the next
// reconciliation rather than surfaced to the triggering caller.
type InconsistentError struct {
	DID string
}

func (e InconsistentError) Error() string {
	return fmt.Sprintf("indices inconsistent for %s, repair pending", e.DID)
}

func (e InconsistentError) Is(target error) bool {
	_, ok := target.(InconsistentError)
	if ok {
		return true
	}
	_, ok = target.(*InconsistentError)
	return ok
}

var ErrInconsistent = InconsistentError{}

// ValidationError means a document failed schema validation. Carries
// the structured error list for the response body.
type ValidationError struct {
	Errors []ValidationItem
}

type ValidationItem struct {
	Path    string `json:"path"`
	Message string `json:"message"`
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("validation failed with %d errors", len(e.Errors))
}

func (e ValidationError) Is(target error) bool {
	_, ok := target.(ValidationError)
	if ok {
		return true
	}
	_, ok = target.(*ValidationError)
	return ok
}

var ErrValidationFailed = ValidationError{}
