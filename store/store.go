// Package store provides the shared coordination store for task records.
//
// The store is the only mutable state shared between dispatchers, workers,
// and monitors. Records expire: a pending task is kept for a few minutes,
// a resolved one for much less, so answered tasks never accumulate. A task
// whose pending TTL elapses unclaimed becomes indistinguishable from one
// that never existed — callers must treat "may silently disappear" as part
// of the contract.
//
// All cross-process mutation goes through the store's atomic operations.
// In particular Claim, not a read of IsPending followed by a write, is the
// idempotency guard against duplicate delivery.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/astroflow/astroflow/task"
)

// Common errors.
var (
	// ErrNotFound indicates no record exists for the correlation id.
	ErrNotFound = errors.New("task not found")

	// ErrClosed indicates the store has been closed.
	ErrClosed = errors.New("store closed")

	// ErrInvalidStatus indicates SetResult was called with a non-terminal status.
	ErrInvalidStatus = errors.New("status must be completed or error")
)

// Default expiry windows. A resolved record is retained strictly shorter
// than a pending one, bounding memory for answered tasks.
const (
	DefaultPendingTTL  = 5 * time.Minute
	DefaultResolvedTTL = time.Minute
)

// TaskStore holds per-task status and result with TTL-based expiry.
// All operations are safe under concurrent, possibly duplicate, callers.
type TaskStore interface {
	// CreatePending creates or overwrites a record with status pending
	// and arms the expiry to ttl (DefaultPendingTTL if zero). An existing
	// id is overwritten without error; callers ensure id uniqueness
	// upstream.
	CreatePending(ctx context.Context, id, payload string, ttl time.Duration) error

	// Claim atomically transitions a pending record to working. Exactly
	// one caller observes true for a given pending record; every other
	// caller, and any caller racing a resolved or absent record, observes
	// false. This is the sole idempotency guard for workers.
	Claim(ctx context.Context, id string) (bool, error)

	// MarkWorking sets a pending record's status to working without
	// altering the payload. Best effort: a missing, expired, or already
	// claimed or resolved record is a silent no-op, so a stale caller
	// can never regress a terminal status.
	MarkWorking(ctx context.Context, id string) error

	// Release returns a working record to pending so a redelivered
	// request can claim it again. Best effort: a missing, expired, or
	// resolved record is a silent no-op.
	Release(ctx context.Context, id string) error

	// SetResult records a terminal outcome and re-arms the expiry to the
	// resolved TTL. Idempotent: applying it twice with the same arguments
	// leaves the same observable state. Concurrent writers race benignly;
	// last write wins.
	SetResult(ctx context.Context, id string, status task.Status, result string) error

	// GetStatus returns the record's status, or task.StatusUnknown (with
	// a nil error) when the record is absent or expired.
	GetStatus(ctx context.Context, id string) (task.Status, error)

	// GetResult returns the result text. ErrNotFound when the record is
	// absent, expired, or not yet resolved.
	GetResult(ctx context.Context, id string) (string, error)

	// GetPayload returns the original task payload.
	// ErrNotFound when the record is absent or expired.
	GetPayload(ctx context.Context, id string) (string, error)

	// Get returns a copy of the full record.
	// ErrNotFound when absent or expired.
	Get(ctx context.Context, id string) (*task.Task, error)

	// IsPending reports whether the record exists with status pending.
	// A convenience read only — never a guard for processing.
	IsPending(ctx context.Context, id string) (bool, error)

	// Delete evicts a record early. Nil if the record does not exist.
	Delete(ctx context.Context, id string) error

	// Close releases resources held by the store.
	Close() error
}
