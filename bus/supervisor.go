package bus

import (
	"context"
	"fmt"
	"time"

	"github.com/astroflow/astroflow/logging"
)

// DefaultReconnectDelay is the fixed wait between subscribe attempts.
const DefaultReconnectDelay = 10 * time.Second

// Supervisor keeps a subscription alive. When Subscribe returns an
// error the supervisor waits a fixed delay and resubscribes, forever,
// until the context is cancelled. There is no backoff: the delay is
// the same after the first failure and the hundredth.
type Supervisor struct {
	bus     EventBus
	logger  *logging.Logger
	delay   time.Duration
	subject string
	group   string
	handler Handler
}

// SupervisorConfig holds supervisor configuration.
type SupervisorConfig struct {
	// Bus is the event bus to subscribe on.
	Bus EventBus

	// Subject to consume.
	Subject string

	// Group is the consumer group name.
	Group string

	// Handler processes delivered messages.
	Handler Handler

	// Delay between reconnect attempts.
	// Default: DefaultReconnectDelay.
	Delay time.Duration

	// Logger used for reconnect reporting. Optional.
	Logger *logging.Logger
}

// NewSupervisor creates a supervisor for a single subscription.
func NewSupervisor(cfg SupervisorConfig) (*Supervisor, error) {
	if cfg.Bus == nil {
		return nil, fmt.Errorf("bus is required")
	}
	if err := ValidateSubject(cfg.Subject); err != nil {
		return nil, err
	}
	if cfg.Group == "" {
		return nil, ErrInvalidGroup
	}
	if cfg.Delay <= 0 {
		cfg.Delay = DefaultReconnectDelay
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.New()
	}

	return &Supervisor{
		bus:     cfg.Bus,
		logger:  cfg.Logger.WithComponent("supervisor"),
		delay:   cfg.Delay,
		subject: cfg.Subject,
		group:   cfg.Group,
		handler: cfg.Handler,
	}, nil
}

// Run blocks, resubscribing on failure, until ctx is cancelled.
// Returns the context error.
func (s *Supervisor) Run(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		err := s.bus.Subscribe(ctx, s.subject, s.group, s.handler)
		if cerr := ctx.Err(); cerr != nil {
			return cerr
		}

		s.logger.Warn("subscription dropped, reconnecting", map[string]interface{}{
			"subject": s.subject,
			"group":   s.group,
			"delay":   s.delay.String(),
			"error":   errString(err),
		})

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(s.delay):
		}
	}
}

func errString(err error) string {
	if err == nil {
		return "none"
	}
	return err.Error()
}
