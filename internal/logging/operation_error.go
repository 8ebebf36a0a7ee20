package logging

import (
	"errors"
	"fmt"

	"go.uber.org/zap"
)

// OperationError annotates an error with the session action it occurred in.
type OperationError struct {
	Operation string
	SessionID string
	Err       error
}

// Error implements the error interface.
func (e *OperationError) Error() string {
	if e == nil || e.Err == nil {
		return ""
	}
	if e.SessionID != "" {
		return fmt.Sprintf("%s (session_id=%s): %v", e.Operation, e.SessionID, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Operation, e.Err)
}

// Unwrap returns the underlying error for errors.Is/As support.
func (e *OperationError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// NewOperationError wraps an error with the operation and session it belongs to.
func NewOperationError(operation, sessionID string, err error) error {
	if err == nil {
		return nil
	}
	return &OperationError{Operation: operation, SessionID: sessionID, Err: err}
}

// ErrorFields returns zap fields describing err. Operation and session are
// lifted out of the outermost OperationError in the chain so log lines for
// a failed action can be filtered by session.
func ErrorFields(err error) []zap.Field {
	if err == nil {
		return nil
	}
	var opErr *OperationError
	if !errors.As(err, &opErr) {
		return []zap.Field{zap.Error(err)}
	}
	fields := []zap.Field{zap.String("operation", opErr.Operation)}
	if opErr.SessionID != "" {
		fields = append(fields, zap.String("session_id", opErr.SessionID))
	}
	return append(fields, zap.Error(opErr.Err))
}
