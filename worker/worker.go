// Package worker consumes request events, claims the matching store
// record, runs generation, and writes the outcome through both channels:
// a result event and a store write.
//
// The atomic claim is the only duplicate guard. A redelivery of an
// already resolved task hits Claim again, loses, and is dropped without
// re-generating. When a claim succeeds but publishing or storing the
// outcome fails, the claim is released back to pending before the event
// is handed back for redelivery, so the retry claims and regenerates
// instead of stranding the task as working until it expires.
package worker

import (
	"context"
	"fmt"
	"time"

	"github.com/astroflow/astroflow/bus"
	apperrors "github.com/astroflow/astroflow/errors"
	"github.com/astroflow/astroflow/llm"
	"github.com/astroflow/astroflow/logging"
	"github.com/astroflow/astroflow/store"
	"github.com/astroflow/astroflow/task"
)

// DefaultGroup is the consumer group all worker replicas share, so each
// request lands on exactly one replica.
const DefaultGroup = "workers"

// DefaultGenerateTimeout bounds a single generation call.
const DefaultGenerateTimeout = 120 * time.Second

// Worker processes request events from the stream.
type Worker struct {
	store      store.TaskStore
	bus        bus.EventBus
	reading    llm.Generator
	chat       llm.Generator
	logger     *logging.Logger
	group      string
	genTimeout time.Duration
}

// Config holds worker configuration.
type Config struct {
	// Store is the coordination store. Required.
	Store store.TaskStore

	// Bus carries request and result events. Required.
	Bus bus.EventBus

	// Reading generates astrology readings. Required.
	Reading llm.Generator

	// Chat generates conversational replies. Optional; when nil, chat
	// requests resolve to the error outcome with the fixed chat
	// fallback text.
	Chat llm.Generator

	// Group is the consumer group name. Default: DefaultGroup.
	Group string

	// GenerateTimeout bounds one generation call.
	// Default: DefaultGenerateTimeout.
	GenerateTimeout time.Duration

	// Logger for processing reporting. Optional.
	Logger *logging.Logger
}

// New creates a worker.
func New(cfg Config) (*Worker, error) {
	if cfg.Store == nil {
		return nil, fmt.Errorf("store is required")
	}
	if cfg.Bus == nil {
		return nil, fmt.Errorf("bus is required")
	}
	if cfg.Reading == nil {
		return nil, fmt.Errorf("reading generator is required")
	}
	if cfg.Group == "" {
		cfg.Group = DefaultGroup
	}
	if cfg.GenerateTimeout <= 0 {
		cfg.GenerateTimeout = DefaultGenerateTimeout
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.New()
	}

	return &Worker{
		store:      cfg.Store,
		bus:        cfg.Bus,
		reading:    cfg.Reading,
		chat:       cfg.Chat,
		logger:     cfg.Logger.WithComponent("worker"),
		group:      cfg.Group,
		genTimeout: cfg.GenerateTimeout,
	}, nil
}

// Run subscribes to the request subject under a reconnecting supervisor
// and blocks until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) error {
	sup, err := bus.NewSupervisor(bus.SupervisorConfig{
		Bus:     w.bus,
		Subject: task.SubjectRequests,
		Group:   w.group,
		Handler: w.Handle,
		Logger:  w.logger,
	})
	if err != nil {
		return err
	}
	return sup.Run(ctx)
}

// Handle processes one delivered request event. A nil return
// acknowledges the event; an error leaves it for redelivery.
//
// Undecodable events and expected duplicates are logged and dropped,
// never redelivered: retrying them cannot succeed.
func (w *Worker) Handle(ctx context.Context, msg *bus.Message) error {
	ev, err := task.Decode(msg.Data)
	if err != nil {
		w.logger.Warn("dropping undecodable event", map[string]interface{}{
			"subject": msg.Subject,
			"error":   err.Error(),
		})
		return nil
	}

	req, ok := ev.(task.Request)
	if !ok {
		w.logger.Debug("ignoring non-request event", map[string]interface{}{
			"kind": string(ev.EventKind()),
		})
		return nil
	}

	id := req.Correlation()
	log := w.logger.WithCorrelation(id)

	if req.EventStatus() != task.StatusPending {
		log.Info("skipping non-pending request", map[string]interface{}{
			"status": req.EventStatus().String(),
		})
		return nil
	}

	claimed, err := w.store.Claim(ctx, id)
	if err != nil {
		return apperrors.WrapWithCode(err, apperrors.CodeStoreWrite, "claim failed",
			apperrors.WithCorrelation(id))
	}
	if !claimed {
		// Duplicate delivery, or the record expired. Either way the
		// request is no longer ours to run.
		log.Info("claim refused, dropping request")
		return nil
	}

	log.Info("processing request", map[string]interface{}{
		"kind": string(req.EventKind()),
	})

	text, status := w.generate(ctx, req)
	completedAt := time.Now().UTC()

	result := &task.Result{
		Type:          task.KindResult,
		CorrelationID: id,
		RequesterID:   req.Requester(),
		Status:        status,
		Result:        text,
		CompletedAt:   completedAt,
	}
	data, err := task.Encode(result)
	if err != nil {
		return apperrors.WrapWithCode(err, apperrors.CodeInternal, "encode result",
			apperrors.WithCorrelation(id))
	}
	if err := w.bus.Publish(ctx, task.SubjectResults, data); err != nil {
		// The result never landed anywhere. Release the claim so the
		// redelivered event can claim and regenerate; leaving the record
		// working would make the redelivery lose the claim and drop.
		w.release(ctx, id)
		return apperrors.WrapWithCode(err, apperrors.CodePublish, "publish result",
			apperrors.WithCorrelation(id))
	}

	if err := w.store.SetResult(ctx, id, status, text); err != nil {
		// The result event is out, so the result consumer may still
		// resolve the record. Release gates on working: if that write
		// lands first the redelivery loses the claim and drops, else it
		// re-claims and regenerates.
		w.release(ctx, id)
		return apperrors.WrapWithCode(err, apperrors.CodeStoreWrite, "store result",
			apperrors.WithCorrelation(id))
	}

	log.Info("request resolved", map[string]interface{}{
		"status": status.String(),
	})
	return nil
}

// release undoes a claim after a post-claim failure. Best effort: if
// the write is lost too, the task strands as working until it expires.
// Runs detached from ctx so a cancellation that caused the failure does
// not also suppress the compensation.
func (w *Worker) release(ctx context.Context, id string) {
	if err := w.store.Release(context.WithoutCancel(ctx), id); err != nil {
		w.logger.WithCorrelation(id).Warn("claim release failed", map[string]interface{}{
			"error": err.Error(),
		})
	}
}

// generate runs the kind-appropriate generator. A generator fault maps
// to the error outcome with the fixed user-safe text; the raw error
// stays in the logs and is never retried.
func (w *Worker) generate(ctx context.Context, req task.Request) (string, task.Status) {
	var gen llm.Generator
	var fallback string
	switch req.EventKind() {
	case task.KindChat:
		gen = w.chat
		fallback = llm.FallbackChat
	default:
		gen = w.reading
		fallback = llm.FallbackReading
	}

	log := w.logger.WithCorrelation(req.Correlation())
	if gen == nil {
		log.Error("no generator configured for kind", map[string]interface{}{
			"kind": string(req.EventKind()),
		})
		return fallback, task.StatusError
	}

	genCtx, cancel := context.WithTimeout(ctx, w.genTimeout)
	defer cancel()

	text, err := gen.Generate(genCtx, req.Input(), "")
	if err != nil {
		log.Error("generation failed", map[string]interface{}{
			"kind":  string(req.EventKind()),
			"error": err.Error(),
		})
		return fallback, task.StatusError
	}
	return text, task.StatusCompleted
}
