// Package dispatch originates tasks and observes their completion.
//
// The Dispatcher writes the pending store record before publishing the
// request event. If the publish fails the error surfaces to the caller
// and the orphaned record simply expires; nothing cleans it up eagerly.
// Completion is observed by polling the store, never by push.
package dispatch

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/astroflow/astroflow/bus"
	apperrors "github.com/astroflow/astroflow/errors"
	"github.com/astroflow/astroflow/logging"
	"github.com/astroflow/astroflow/store"
	"github.com/astroflow/astroflow/task"
)

// Dispatcher submits tasks: a pending record in the store, then a
// request event on the stream.
type Dispatcher struct {
	store      store.TaskStore
	bus        bus.EventBus
	logger     *logging.Logger
	pendingTTL time.Duration
	idGen      func() string
	now        func() time.Time
}

// Config holds dispatcher configuration.
type Config struct {
	// Store is the coordination store. Required.
	Store store.TaskStore

	// Bus carries request events. Required.
	Bus bus.EventBus

	// PendingTTL bounds how long an unresolved task stays observable.
	// Default: store.DefaultPendingTTL.
	PendingTTL time.Duration

	// IDGen generates correlation ids. Default: uuid.NewString.
	IDGen func() string

	// Logger for submission reporting. Optional.
	Logger *logging.Logger
}

// New creates a dispatcher.
func New(cfg Config) (*Dispatcher, error) {
	if cfg.Store == nil {
		return nil, fmt.Errorf("store is required")
	}
	if cfg.Bus == nil {
		return nil, fmt.Errorf("bus is required")
	}
	if cfg.PendingTTL <= 0 {
		cfg.PendingTTL = store.DefaultPendingTTL
	}
	if cfg.IDGen == nil {
		cfg.IDGen = uuid.NewString
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.New()
	}

	return &Dispatcher{
		store:      cfg.Store,
		bus:        cfg.Bus,
		logger:     cfg.Logger.WithComponent("dispatcher"),
		pendingTTL: cfg.PendingTTL,
		idGen:      cfg.IDGen,
		now:        time.Now,
	}, nil
}

// SubmitReading submits an astrology reading task for a date of birth.
// Returns the correlation id the caller polls with.
func (d *Dispatcher) SubmitReading(ctx context.Context, requesterID, dob string) (string, error) {
	id := d.idGen()
	ev := &task.ReadingRequest{
		Type:          task.KindReading,
		CorrelationID: id,
		RequesterID:   requesterID,
		DateOfBirth:   dob,
		Status:        task.StatusPending,
		Timestamp:     d.now().UTC(),
	}
	return id, d.submit(ctx, id, dob, ev)
}

// SubmitChat submits a conversational task for a free-text message.
func (d *Dispatcher) SubmitChat(ctx context.Context, requesterID, message string) (string, error) {
	id := d.idGen()
	ev := &task.ChatRequest{
		Type:          task.KindChat,
		CorrelationID: id,
		RequesterID:   requesterID,
		Message:       message,
		Status:        task.StatusPending,
		Timestamp:     d.now().UTC(),
	}
	return id, d.submit(ctx, id, message, ev)
}

// submit writes the pending record, then publishes. Order matters: a
// worker that sees the event must be able to claim the record.
func (d *Dispatcher) submit(ctx context.Context, id, payload string, ev task.Event) error {
	log := d.logger.WithCorrelation(id)

	if err := d.store.CreatePending(ctx, id, payload, d.pendingTTL); err != nil {
		return apperrors.WrapWithCode(err, apperrors.CodeStoreWrite, "create pending record",
			apperrors.WithCorrelation(id))
	}

	data, err := task.Encode(ev)
	if err != nil {
		return apperrors.WrapWithCode(err, apperrors.CodeInternal, "encode request",
			apperrors.WithCorrelation(id))
	}
	if err := d.bus.Publish(ctx, task.SubjectRequests, data); err != nil {
		// The pending record is now an orphan; it expires with its TTL.
		return apperrors.WrapWithCode(err, apperrors.CodePublish, "publish request",
			apperrors.WithCorrelation(id))
	}

	log.Info("task submitted", map[string]interface{}{
		"kind": string(ev.EventKind()),
	})
	return nil
}
