package domain

import (
	"errors"
	"fmt"
)

// ErrTaskNotFound is returned by the document store when the addressed task does not exist.
var ErrTaskNotFound = errors.New("task not found")

// ValidationError reports a draft field that failed the form rules.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// RemoteWriteError wraps a failed create, update or delete call.
type RemoteWriteError struct {
	Op     string
	TaskID string
	Err    error
}

func (e *RemoteWriteError) Error() string {
	if e.TaskID == "" {
		return fmt.Sprintf("remote %s failed: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("remote %s of task %s failed: %v", e.Op, e.TaskID, e.Err)
}

func (e *RemoteWriteError) Unwrap() error { return e.Err }

// RemoteSubscriptionError wraps a failure of the live snapshot channel.
type RemoteSubscriptionError struct {
	OwnerID string
	Err     error
}

func (e *RemoteSubscriptionError) Error() string {
	return fmt.Sprintf("task subscription failed: %v", e.Err)
}

func (e *RemoteSubscriptionError) Unwrap() error { return e.Err }
