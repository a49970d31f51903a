// Package shutdown coordinates graceful teardown of a process.
//
// Components register handlers with a phase number; lower phases stop
// first and handlers within a phase stop concurrently. The worker
// process stops its subscriptions before the bus, and the bus before
// the store, so nothing writes through a closed dependency.
package shutdown

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"sort"
	"sync"
	"syscall"
	"time"

	"github.com/astroflow/astroflow/logging"
)

// Common errors.
var (
	// ErrTimeout indicates shutdown did not complete within the timeout.
	ErrTimeout = errors.New("shutdown timeout exceeded")

	// ErrHandlerFailed indicates one or more handlers failed.
	ErrHandlerFailed = errors.New("one or more shutdown handlers failed")
)

// DefaultTimeout bounds a full shutdown when none is given.
const DefaultTimeout = 30 * time.Second

// Handler is implemented by components that need graceful shutdown.
type Handler interface {
	// OnShutdown stops the component. The context is cancelled when
	// the overall timeout is reached.
	OnShutdown(ctx context.Context) error
}

// Func adapts a function to the Handler interface.
type Func func(ctx context.Context) error

// OnShutdown implements Handler.
func (f Func) OnShutdown(ctx context.Context) error {
	return f(ctx)
}

// registration holds a registered handler with its metadata.
type registration struct {
	name    string
	handler Handler
	phase   int
}

// Coordinator runs registered handlers phase by phase on shutdown.
type Coordinator struct {
	timeout time.Duration
	logger  *logging.Logger

	mu       sync.Mutex
	handlers []registration
	once     sync.Once
	err      error
	done     chan struct{}
	signals  chan os.Signal
}

// NewCoordinator creates a coordinator. A zero timeout means
// DefaultTimeout; a nil logger logs to stdout.
func NewCoordinator(timeout time.Duration, logger *logging.Logger) *Coordinator {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if logger == nil {
		logger = logging.New()
	}

	return &Coordinator{
		timeout: timeout,
		logger:  logger.WithComponent("shutdown"),
		done:    make(chan struct{}),
		signals: make(chan os.Signal, 1),
	}
}

// Register adds a handler at the given phase. Lower phases stop first;
// handlers sharing a phase stop concurrently.
func (c *Coordinator) Register(name string, phase int, handler Handler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handlers = append(c.handlers, registration{name: name, handler: handler, phase: phase})
}

// RegisterFunc registers a plain function at the given phase.
func (c *Coordinator) RegisterFunc(name string, phase int, fn func(ctx context.Context) error) {
	c.Register(name, phase, Func(fn))
}

// Shutdown runs all handlers. Safe to call more than once; later calls
// return the first run's error.
func (c *Coordinator) Shutdown(ctx context.Context) error {
	c.once.Do(func() {
		c.err = c.run(ctx)
		close(c.done)
	})
	<-c.done
	return c.err
}

// ShutdownWithTimeout runs Shutdown bounded by the configured timeout.
func (c *Coordinator) ShutdownWithTimeout() error {
	ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
	defer cancel()
	return c.Shutdown(ctx)
}

// HandleSignals triggers shutdown on SIGTERM or SIGINT.
func (c *Coordinator) HandleSignals() {
	signal.Notify(c.signals, syscall.SIGTERM, syscall.SIGINT)
	go func() {
		<-c.signals
		c.logger.Info("signal received, shutting down")
		_ = c.ShutdownWithTimeout()
	}()
}

// Trigger initiates shutdown as if a signal had arrived.
func (c *Coordinator) Trigger() {
	select {
	case c.signals <- syscall.SIGTERM:
	default:
	}
}

// Done is closed when shutdown has completed.
func (c *Coordinator) Done() <-chan struct{} {
	return c.done
}

// Err returns the shutdown error, valid once Done is closed.
func (c *Coordinator) Err() error {
	select {
	case <-c.done:
		return c.err
	default:
		return nil
	}
}

func (c *Coordinator) run(ctx context.Context) error {
	c.mu.Lock()
	handlers := make([]registration, len(c.handlers))
	copy(handlers, c.handlers)
	c.mu.Unlock()

	sort.SliceStable(handlers, func(i, j int) bool {
		return handlers[i].phase < handlers[j].phase
	})

	var failed bool
	for _, group := range groupByPhase(handlers) {
		select {
		case <-ctx.Done():
			c.logger.Error("shutdown timed out", map[string]interface{}{
				"remaining": len(group),
			})
			return ErrTimeout
		default:
		}

		var wg sync.WaitGroup
		var mu sync.Mutex
		for _, reg := range group {
			wg.Add(1)
			go func(r registration) {
				defer wg.Done()
				start := time.Now()
				err := r.handler.OnShutdown(ctx)
				fields := map[string]interface{}{
					"handler": r.name,
					"phase":   r.phase,
					"took":    time.Since(start).String(),
				}
				if err != nil {
					fields["error"] = err.Error()
					c.logger.Error("handler failed", fields)
					mu.Lock()
					failed = true
					mu.Unlock()
					return
				}
				c.logger.Info("handler stopped", fields)
			}(reg)
		}
		wg.Wait()
	}

	if failed {
		return ErrHandlerFailed
	}
	return nil
}

// groupByPhase splits phase-sorted handlers into per-phase groups.
func groupByPhase(handlers []registration) [][]registration {
	var groups [][]registration
	var current []registration
	for i, h := range handlers {
		if i > 0 && h.phase != handlers[i-1].phase {
			groups = append(groups, current)
			current = nil
		}
		current = append(current, h)
	}
	if len(current) > 0 {
		groups = append(groups, current)
	}
	return groups
}
