package service

import "fmt"

// ValidationError rejects a request before any work is performed: missing or
// malformed input, or nothing to process.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string { return e.Message }

// NotFoundError signals that a review, column or document does not exist.
type NotFoundError struct {
	Resource string
	ID       string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Resource, e.ID)
}

// ForbiddenError signals that the caller does not own the target review.
type ForbiddenError struct {
	Message string
}

func (e *ForbiddenError) Error() string { return e.Message }

// OracleError is a per-cell extraction failure: transport error, timeout, or
// schema-invalid output. It is recorded against the failing cell and never
// aborts sibling cells.
type OracleError struct {
	Message string
	Err     error
}

func (e *OracleError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("oracle: %s: %v", e.Message, e.Err)
	}
	return fmt.Sprintf("oracle: %s", e.Message)
}

func (e *OracleError) Unwrap() error { return e.Err }
