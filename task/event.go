package task

import (
	"encoding/json"
	"fmt"
	"time"
)

// Kind discriminates event variants on the wire.
type Kind string

const (
	// KindReading requests an astrology reading for a date of birth.
	KindReading Kind = "reading.request"

	// KindChat requests a conversational reply to a free-text message.
	KindChat Kind = "chat.request"

	// KindResult carries a terminal outcome back to the requester side.
	KindResult Kind = "task.result"
)

// Stream subjects. Requests and results travel on separate subjects so
// workers and monitors checkpoint independently.
const (
	SubjectRequests = "tasks.requests"
	SubjectResults  = "tasks.results"
)

// Event is one decoded message from the stream. Events are immutable and
// delivered at least once; handlers must be guarded against duplicates.
type Event interface {
	// EventKind returns the wire discriminant.
	EventKind() Kind

	// Correlation returns the correlation id carried by the event.
	Correlation() string
}

// Request is a claimable unit of work carried by a request event.
type Request interface {
	Event

	// Input returns the kind-specific payload: the date of birth for a
	// reading, the message text for a chat.
	Input() string

	// Requester returns the originating caller id.
	Requester() string

	// EventStatus returns the status stamped on the event by the
	// dispatcher. Workers only act on pending requests.
	EventStatus() Status
}

// ReadingRequest asks a worker to produce a reading for a date of birth.
type ReadingRequest struct {
	Type          Kind      `json:"type"`
	CorrelationID string    `json:"correlation_id"`
	RequesterID   string    `json:"requester_id"`
	DateOfBirth   string    `json:"dob"`
	Status        Status    `json:"status"`
	Timestamp     time.Time `json:"timestamp"`
}

// EventKind implements Event.
func (r *ReadingRequest) EventKind() Kind { return KindReading }

// Correlation implements Event.
func (r *ReadingRequest) Correlation() string { return r.CorrelationID }

// Input implements Request.
func (r *ReadingRequest) Input() string { return r.DateOfBirth }

// Requester implements Request.
func (r *ReadingRequest) Requester() string { return r.RequesterID }

// EventStatus implements Request.
func (r *ReadingRequest) EventStatus() Status { return r.Status }

// ChatRequest asks a worker to produce a conversational reply.
type ChatRequest struct {
	Type          Kind      `json:"type"`
	CorrelationID string    `json:"correlation_id"`
	RequesterID   string    `json:"requester_id"`
	Message       string    `json:"message"`
	Status        Status    `json:"status"`
	Timestamp     time.Time `json:"timestamp"`
}

// EventKind implements Event.
func (r *ChatRequest) EventKind() Kind { return KindChat }

// Correlation implements Event.
func (r *ChatRequest) Correlation() string { return r.CorrelationID }

// Input implements Request.
func (r *ChatRequest) Input() string { return r.Message }

// Requester implements Request.
func (r *ChatRequest) Requester() string { return r.RequesterID }

// EventStatus implements Request.
func (r *ChatRequest) EventStatus() Status { return r.Status }

// Result carries the outcome of a task. Status is completed or error;
// for errors Result holds a fixed user-safe message.
type Result struct {
	Type          Kind      `json:"type"`
	CorrelationID string    `json:"correlation_id"`
	RequesterID   string    `json:"requester_id"`
	Status        Status    `json:"status"`
	Result        string    `json:"result"`
	CompletedAt   time.Time `json:"completed_at"`
}

// EventKind implements Event.
func (r *Result) EventKind() Kind { return KindResult }

// Correlation implements Event.
func (r *Result) Correlation() string { return r.CorrelationID }

// Interface assertions.
var (
	_ Request = (*ReadingRequest)(nil)
	_ Request = (*ChatRequest)(nil)
	_ Event   = (*Result)(nil)
)

// Encode serializes an event to its JSON wire form.
func Encode(ev Event) ([]byte, error) {
	return json.Marshal(ev)
}

// kindProbe extracts only the discriminant for a two-pass decode.
type kindProbe struct {
	Type Kind `json:"type"`
}

// Decode parses a wire event into its concrete variant. Anything that
// fails to match a known variant returns an error wrapping ErrUnknownKind
// or ErrMalformedEvent; callers log and drop such events.
func Decode(data []byte) (Event, error) {
	var probe kindProbe
	if err := json.Unmarshal(data, &probe); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedEvent, err)
	}

	var ev Event
	switch probe.Type {
	case KindReading:
		ev = &ReadingRequest{}
	case KindChat:
		ev = &ChatRequest{}
	case KindResult:
		ev = &Result{}
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownKind, probe.Type)
	}

	if err := json.Unmarshal(data, ev); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedEvent, err)
	}
	if ev.Correlation() == "" {
		return nil, ErrMissingCorrelation
	}
	return ev, nil
}
