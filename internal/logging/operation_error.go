package logging

import "fmt"

// OperationError annotates an error with the operation and request it
// belongs to, and the backend that was answering when it happened.
type OperationError struct {
	Operation string
	RequestID string
	Backend   string
	Err       error
}

// Error implements the error interface.
func (e *OperationError) Error() string {
	if e == nil || e.Err == nil {
		return ""
	}
	prefix := e.Operation
	if e.Backend != "" {
		prefix = fmt.Sprintf("%s [%s]", prefix, e.Backend)
	}
	if e.RequestID != "" {
		return fmt.Sprintf("%s (request_id=%s): %v", prefix, e.RequestID, e.Err)
	}
	return fmt.Sprintf("%s: %v", prefix, e.Err)
}

// Unwrap returns the underlying error for errors.Is/As support.
func (e *OperationError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// NewOperationError wraps an error with structured context about where it occurred.
func NewOperationError(operation, requestID, backend string, err error) error {
	if err == nil {
		return nil
	}
	return &OperationError{Operation: operation, RequestID: requestID, Backend: backend, Err: err}
}
