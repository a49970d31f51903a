package bus

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/astroflow/astroflow/logging"
)

// flakyBus fails the first N Subscribe calls, then blocks until the
// context is cancelled.
type flakyBus struct {
	failures int

	mu        sync.Mutex
	attempts  int
	connected chan struct{}
}

func newFlakyBus(failures int) *flakyBus {
	return &flakyBus{
		failures:  failures,
		connected: make(chan struct{}, 1),
	}
}

func (f *flakyBus) Publish(context.Context, string, []byte) error { return nil }

func (f *flakyBus) Subscribe(ctx context.Context, subject, group string, handler Handler) error {
	f.mu.Lock()
	f.attempts++
	n := f.attempts
	f.mu.Unlock()

	if n <= f.failures {
		return errors.New("connection refused")
	}

	select {
	case f.connected <- struct{}{}:
	default:
	}
	<-ctx.Done()
	return ctx.Err()
}

func (f *flakyBus) Close() error { return nil }

func (f *flakyBus) attemptCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.attempts
}

func quietLogger() *logging.Logger {
	l := logging.New()
	l.SetOutput(io.Discard)
	return l
}

func TestSupervisor_ReconnectsAfterFailures(t *testing.T) {
	fb := newFlakyBus(3)
	sup, err := NewSupervisor(SupervisorConfig{
		Bus:     fb,
		Subject: "tasks.requests",
		Group:   "workers",
		Handler: func(context.Context, *Message) error { return nil },
		Delay:   5 * time.Millisecond,
		Logger:  quietLogger(),
	})
	if err != nil {
		t.Fatalf("new supervisor: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- sup.Run(ctx) }()

	select {
	case <-fb.connected:
	case <-time.After(2 * time.Second):
		t.Fatal("supervisor never reached a successful subscribe")
	}

	// Three failures mean the fourth attempt is the one that held.
	if got := fb.attemptCount(); got != 4 {
		t.Errorf("expected 4 attempts, got %d", got)
	}

	cancel()
	select {
	case err := <-errCh:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("expected context.Canceled, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestSupervisor_ResubscribesAfterDrop(t *testing.T) {
	// Every Subscribe call drops immediately; the supervisor must keep
	// retrying at its fixed delay without giving up.
	fb := newFlakyBus(1 << 30)
	sup, err := NewSupervisor(SupervisorConfig{
		Bus:     fb,
		Subject: "tasks.requests",
		Group:   "workers",
		Handler: func(context.Context, *Message) error { return nil },
		Delay:   time.Millisecond,
		Logger:  quietLogger(),
	})
	if err != nil {
		t.Fatalf("new supervisor: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- sup.Run(ctx) }()

	deadline := time.Now().Add(2 * time.Second)
	for fb.attemptCount() < 5 {
		if time.Now().After(deadline) {
			t.Fatalf("expected at least 5 attempts, got %d", fb.attemptCount())
		}
		time.Sleep(time.Millisecond)
	}

	cancel()
	select {
	case err := <-errCh:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("expected context.Canceled, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestSupervisor_CancelDuringDelay(t *testing.T) {
	fb := newFlakyBus(1 << 30)
	sup, err := NewSupervisor(SupervisorConfig{
		Bus:     fb,
		Subject: "tasks.requests",
		Group:   "workers",
		Handler: func(context.Context, *Message) error { return nil },
		Delay:   time.Hour,
		Logger:  quietLogger(),
	})
	if err != nil {
		t.Fatalf("new supervisor: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- sup.Run(ctx) }()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-errCh:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("expected context.Canceled, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return while waiting out the delay")
	}
}

func TestSupervisor_ConfigValidation(t *testing.T) {
	if _, err := NewSupervisor(SupervisorConfig{}); err == nil {
		t.Error("expected error for missing bus")
	}

	fb := newFlakyBus(0)
	if _, err := NewSupervisor(SupervisorConfig{Bus: fb, Group: "g"}); !errors.Is(err, ErrInvalidSubject) {
		t.Errorf("expected ErrInvalidSubject, got %v", err)
	}
	if _, err := NewSupervisor(SupervisorConfig{Bus: fb, Subject: "s"}); !errors.Is(err, ErrInvalidGroup) {
		t.Errorf("expected ErrInvalidGroup, got %v", err)
	}
}

var _ EventBus = (*flakyBus)(nil)
