// Package task defines the coordinated unit of work and its wire format.
//
// A Task links a request event, its coordination-store record, and its
// eventual result event through a caller-generated correlation id. Events
// are a tagged union discriminated by a string kind, decoded exactly once
// at the bus boundary.
package task

import (
	"errors"
	"time"
)

// Common errors.
var (
	// ErrUnknownKind indicates an event with an unrecognized type discriminant.
	ErrUnknownKind = errors.New("unknown event kind")

	// ErrMalformedEvent indicates an event that could not be decoded.
	ErrMalformedEvent = errors.New("malformed event")

	// ErrMissingCorrelation indicates an event without a correlation id.
	ErrMissingCorrelation = errors.New("missing correlation id")
)

// Status represents the current state of a task.
type Status string

const (
	// StatusPending indicates the task is waiting to be claimed.
	StatusPending Status = "pending"

	// StatusWorking indicates a worker has claimed the task.
	StatusWorking Status = "working"

	// StatusCompleted indicates the task finished successfully.
	StatusCompleted Status = "completed"

	// StatusError indicates generation failed; the result holds a
	// user-safe message, never the raw fault.
	StatusError Status = "error"

	// StatusUnknown is the observable state of a record that never
	// existed or whose TTL elapsed. An expired pending task is
	// indistinguishable from one that was never created.
	StatusUnknown Status = "unknown"
)

// String returns the string representation of the status.
func (s Status) String() string {
	return string(s)
}

// IsTerminal returns true if the status is a terminal state.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusError
}

// Valid returns true if the status is a known stored value.
// StatusUnknown is a read-side observation, not a stored value.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusWorking, StatusCompleted, StatusError:
		return true
	default:
		return false
	}
}

// Task is the coordination-store record for one unit of work.
type Task struct {
	// CorrelationID is the caller-generated unique token linking the
	// request event, this record, and the result event.
	CorrelationID string `json:"correlation_id"`

	// RequesterID identifies the originating caller.
	RequesterID string `json:"requester_id,omitempty"`

	// Payload is the task-kind-specific input (a date string, or a
	// free-text message).
	Payload string `json:"payload,omitempty"`

	// Status is the current state of the task.
	Status Status `json:"status"`

	// Result holds the output text, present only once Status is terminal.
	Result string `json:"result,omitempty"`

	// CreatedAt is when the pending record was written.
	CreatedAt time.Time `json:"created_at"`

	// CompletedAt is when the task reached a terminal state.
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// Clone returns a deep copy of the task.
func (t *Task) Clone() *Task {
	if t == nil {
		return nil
	}
	clone := *t
	if t.CompletedAt != nil {
		completed := *t.CompletedAt
		clone.CompletedAt = &completed
	}
	return &clone
}
