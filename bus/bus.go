// Package bus provides event stream clients for task coordination.
//
// The EventBus interface abstracts a partitioned, append-only stream with
// at-least-once delivery and consumer-group checkpointing. A group's
// checkpoint advances only after its handler returns nil, so a handler
// fault causes redelivery. Subscriptions start at the latest offset: a
// restarted consumer does not replay backlog, which drops any unacked
// in-flight event to the new latest offset. That at-most-once-from-restart
// trade-off is deliberate and operators must know about it.
package bus

import (
	"context"
	"errors"
	"time"
)

// Common errors.
var (
	ErrClosed         = errors.New("bus closed")
	ErrInvalidSubject = errors.New("invalid subject")
	ErrInvalidGroup   = errors.New("invalid consumer group")
)

// Message represents a message delivered from the stream.
type Message struct {
	// Subject the message was published to.
	Subject string

	// Data is the message payload.
	Data []byte
}

// Handler processes one delivered message. Returning nil acknowledges the
// message and advances the group's checkpoint; returning an error leaves
// the checkpoint in place so the message is redelivered. Handlers run
// one at a time per partition, in delivery order.
type Handler func(ctx context.Context, msg *Message) error

// EventBus provides publish and consumer-group subscription.
type EventBus interface {
	// Publish appends a message to the stream. Failures are transient
	// and surface to the caller; a successful publish is delivered at
	// least once to each group, never assumed exactly once.
	Publish(ctx context.Context, subject string, data []byte) error

	// Subscribe consumes a subject as part of a consumer group, calling
	// handler for each delivered message. Each message goes to one
	// member of the group. Subscribe blocks until ctx is cancelled
	// (returning ctx.Err()) or the underlying connection fails
	// (returning the failure); callers wanting automatic reconnection
	// wrap it in a Supervisor.
	Subscribe(ctx context.Context, subject, group string, handler Handler) error

	// Close shuts down the bus connection.
	Close() error
}

// Config holds common bus configuration.
type Config struct {
	// RedeliverDelay is the pause before a nacked message is retried.
	// Default: 1 second.
	RedeliverDelay time.Duration
}

// DefaultConfig returns configuration with sensible defaults.
func DefaultConfig() Config {
	return Config{
		RedeliverDelay: time.Second,
	}
}

// ValidateSubject checks if a subject is valid.
func ValidateSubject(subject string) error {
	if subject == "" {
		return ErrInvalidSubject
	}
	return nil
}
