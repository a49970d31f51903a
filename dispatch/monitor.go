package dispatch

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/astroflow/astroflow/logging"
	"github.com/astroflow/astroflow/store"
	"github.com/astroflow/astroflow/task"
)

// Monitor polling defaults.
const (
	DefaultMaxWait      = 300 * time.Second
	DefaultPollInterval = 2 * time.Second
)

// OutcomeKind classifies how an Await ended.
type OutcomeKind string

const (
	// OutcomeCompleted means the task resolved with a successful result.
	OutcomeCompleted OutcomeKind = "completed"

	// OutcomeErrored means the task resolved with the error outcome;
	// Result holds the fixed user-safe text.
	OutcomeErrored OutcomeKind = "errored"

	// OutcomeTimedOut means no terminal state was observed within
	// maxWait. A record that expired mid-poll looks exactly the same.
	OutcomeTimedOut OutcomeKind = "timed_out"
)

// Outcome is the final observation of one awaited task.
type Outcome struct {
	Kind   OutcomeKind
	Result string
}

// Monitor observes task completion by polling the store. Outstanding
// Awaits are registered per correlation id so a caller disconnect can
// cancel them.
type Monitor struct {
	store        store.TaskStore
	logger       *logging.Logger
	maxWait      time.Duration
	pollInterval time.Duration

	mu      sync.Mutex
	pending map[string]context.CancelFunc
}

// MonitorConfig holds monitor configuration.
type MonitorConfig struct {
	// Store is the coordination store. Required.
	Store store.TaskStore

	// MaxWait bounds one Await. Default: DefaultMaxWait.
	MaxWait time.Duration

	// PollInterval is the gap between status reads.
	// Default: DefaultPollInterval.
	PollInterval time.Duration

	// Logger for polling reporting. Optional.
	Logger *logging.Logger
}

// NewMonitor creates a completion monitor.
func NewMonitor(cfg MonitorConfig) (*Monitor, error) {
	if cfg.Store == nil {
		return nil, fmt.Errorf("store is required")
	}
	if cfg.MaxWait <= 0 {
		cfg.MaxWait = DefaultMaxWait
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.New()
	}

	return &Monitor{
		store:        cfg.Store,
		logger:       cfg.Logger.WithComponent("monitor"),
		maxWait:      cfg.MaxWait,
		pollInterval: cfg.PollInterval,
		pending:      make(map[string]context.CancelFunc),
	}, nil
}

// Await polls until the task reaches a terminal state or maxWait
// elapses. Returns an error only when ctx is cancelled; every other
// ending is an Outcome, including the timeout.
func (m *Monitor) Await(ctx context.Context, id string) (Outcome, error) {
	return m.AwaitWithin(ctx, id, m.maxWait, m.pollInterval)
}

// AwaitWithin is Await with explicit bounds.
//
// Transient store read failures count as still pending: the poll
// carries on and the failure only shows up in the logs. An unknown
// status also keeps the poll going, because a record created a moment
// ago may not be visible yet and an expired one ends as a timeout
// anyway.
func (m *Monitor) AwaitWithin(ctx context.Context, id string, maxWait, pollInterval time.Duration) (Outcome, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	m.register(id, cancel)
	defer m.deregister(id)

	log := m.logger.WithCorrelation(id)
	deadline := time.Now().Add(maxWait)
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		status, err := m.store.GetStatus(ctx, id)
		if err != nil {
			log.Warn("status read failed, still polling", map[string]interface{}{
				"error": err.Error(),
			})
		} else if status.IsTerminal() {
			result, rerr := m.store.GetResult(ctx, id)
			if rerr != nil {
				// The record resolved but vanished between reads;
				// treat it like any other expiry.
				log.Warn("result read failed after terminal status", map[string]interface{}{
					"error": rerr.Error(),
				})
			} else {
				if status == task.StatusCompleted {
					return Outcome{Kind: OutcomeCompleted, Result: result}, nil
				}
				return Outcome{Kind: OutcomeErrored, Result: result}, nil
			}
		}

		if time.Now().After(deadline) {
			return Outcome{Kind: OutcomeTimedOut}, nil
		}

		select {
		case <-ctx.Done():
			return Outcome{}, ctx.Err()
		case <-ticker.C:
		}
	}
}

// Cancel aborts an outstanding Await for the given correlation id.
// Returns false when none is registered.
func (m *Monitor) Cancel(id string) bool {
	m.mu.Lock()
	cancel, ok := m.pending[id]
	m.mu.Unlock()
	if ok {
		cancel()
	}
	return ok
}

func (m *Monitor) register(id string, cancel context.CancelFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pending[id] = cancel
}

func (m *Monitor) deregister(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.pending, id)
}
