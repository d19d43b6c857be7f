package logging

import (
	"fmt"
	"strings"
)

// OperationError annotates an infrastructure error with where it happened.
type OperationError struct {
	Operation string
	RequestID string
	// Attempts is the number of tries made before giving up; zero when unknown.
	Attempts int
	Err      error
}

func (e *OperationError) Error() string {
	if e == nil || e.Err == nil {
		return ""
	}
	var meta []string
	if e.RequestID != "" {
		meta = append(meta, "request_id="+e.RequestID)
	}
	if e.Attempts > 1 {
		meta = append(meta, fmt.Sprintf("attempts=%d", e.Attempts))
	}
	if len(meta) == 0 {
		return fmt.Sprintf("%s: %v", e.Operation, e.Err)
	}
	return fmt.Sprintf("%s (%s): %v", e.Operation, strings.Join(meta, " "), e.Err)
}

// Unwrap returns the underlying error for errors.Is/As support.
func (e *OperationError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// NewOperationError wraps err with the operation name and request id. It returns nil for a nil err.
func NewOperationError(operation, requestID string, err error) error {
	if err == nil {
		return nil
	}
	return &OperationError{Operation: operation, RequestID: requestID, Err: err}
}
