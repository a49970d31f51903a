package dispatch

import (
	"context"
	"fmt"

	"github.com/astroflow/astroflow/bus"
	apperrors "github.com/astroflow/astroflow/errors"
	"github.com/astroflow/astroflow/logging"
	"github.com/astroflow/astroflow/store"
	"github.com/astroflow/astroflow/task"
)

// DefaultResultGroup is the consumer group for the dispatcher-side
// result consumer.
const DefaultResultGroup = "monitors"

// ResultConsumer applies result events to the store. It is the second
// completion writer: the worker also writes the result directly, and
// both writes carry the same terminal payload, so whichever lands last
// wins without changing the observable outcome.
type ResultConsumer struct {
	store  store.TaskStore
	bus    bus.EventBus
	logger *logging.Logger
	group  string
}

// ResultConsumerConfig holds result consumer configuration.
type ResultConsumerConfig struct {
	// Store is the coordination store. Required.
	Store store.TaskStore

	// Bus carries result events. Required.
	Bus bus.EventBus

	// Group is the consumer group name. Default: DefaultResultGroup.
	Group string

	// Logger for consumption reporting. Optional.
	Logger *logging.Logger
}

// NewResultConsumer creates a result consumer.
func NewResultConsumer(cfg ResultConsumerConfig) (*ResultConsumer, error) {
	if cfg.Store == nil {
		return nil, fmt.Errorf("store is required")
	}
	if cfg.Bus == nil {
		return nil, fmt.Errorf("bus is required")
	}
	if cfg.Group == "" {
		cfg.Group = DefaultResultGroup
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.New()
	}

	return &ResultConsumer{
		store:  cfg.Store,
		bus:    cfg.Bus,
		logger: cfg.Logger.WithComponent("result-consumer"),
		group:  cfg.Group,
	}, nil
}

// Run subscribes to the result subject under a reconnecting supervisor
// and blocks until ctx is cancelled.
func (c *ResultConsumer) Run(ctx context.Context) error {
	sup, err := bus.NewSupervisor(bus.SupervisorConfig{
		Bus:     c.bus,
		Subject: task.SubjectResults,
		Group:   c.group,
		Handler: c.Handle,
		Logger:  c.logger,
	})
	if err != nil {
		return err
	}
	return sup.Run(ctx)
}

// Handle applies one result event. Undecodable and non-result events
// are logged and dropped; a store write failure leaves the event for
// redelivery.
func (c *ResultConsumer) Handle(ctx context.Context, msg *bus.Message) error {
	ev, err := task.Decode(msg.Data)
	if err != nil {
		c.logger.Warn("dropping undecodable event", map[string]interface{}{
			"subject": msg.Subject,
			"error":   err.Error(),
		})
		return nil
	}

	res, ok := ev.(*task.Result)
	if !ok {
		c.logger.Debug("ignoring non-result event", map[string]interface{}{
			"kind": string(ev.EventKind()),
		})
		return nil
	}

	id := res.CorrelationID
	log := c.logger.WithCorrelation(id)

	if !res.Status.IsTerminal() {
		log.Warn("dropping result with non-terminal status", map[string]interface{}{
			"status": res.Status.String(),
		})
		return nil
	}

	if err := c.store.SetResult(ctx, id, res.Status, res.Result); err != nil {
		return apperrors.WrapWithCode(err, apperrors.CodeStoreWrite, "apply result event",
			apperrors.WithCorrelation(id))
	}

	log.Info("result applied", map[string]interface{}{
		"status": res.Status.String(),
	})
	return nil
}
