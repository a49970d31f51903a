package dispatch

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/astroflow/astroflow/store"
	"github.com/astroflow/astroflow/task"
)

// flakyStore fails the first N status reads, then delegates.
type flakyStore struct {
	store.TaskStore

	mu       sync.Mutex
	failures int
	reads    int
}

func (f *flakyStore) GetStatus(ctx context.Context, id string) (task.Status, error) {
	f.mu.Lock()
	f.reads++
	n := f.reads
	f.mu.Unlock()
	if n <= f.failures {
		return task.StatusUnknown, errors.New("read timeout")
	}
	return f.TaskStore.GetStatus(ctx, id)
}

func newTestMonitor(t *testing.T, s store.TaskStore) *Monitor {
	t.Helper()
	m, err := NewMonitor(MonitorConfig{Store: s, Logger: quietLogger()})
	if err != nil {
		t.Fatalf("new monitor: %v", err)
	}
	return m
}

func TestMonitor_Completed(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemoryStore()
	defer s.Close()
	m := newTestMonitor(t, s)

	if err := s.CreatePending(ctx, "c1", "payload", store.DefaultPendingTTL); err != nil {
		t.Fatalf("create: %v", err)
	}

	// Resolve the task while the monitor polls.
	go func() {
		time.Sleep(20 * time.Millisecond)
		s.SetResult(ctx, "c1", task.StatusCompleted, "your reading")
	}()

	out, err := m.AwaitWithin(ctx, "c1", time.Second, 5*time.Millisecond)
	if err != nil {
		t.Fatalf("await: %v", err)
	}
	if out.Kind != OutcomeCompleted {
		t.Errorf("expected completed, got %s", out.Kind)
	}
	if out.Result != "your reading" {
		t.Errorf("result mismatch: %q", out.Result)
	}
}

func TestMonitor_Errored(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemoryStore()
	defer s.Close()
	m := newTestMonitor(t, s)

	if err := s.CreatePending(ctx, "e1", "payload", store.DefaultPendingTTL); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := s.SetResult(ctx, "e1", task.StatusError, "user-safe message"); err != nil {
		t.Fatalf("set result: %v", err)
	}

	out, err := m.AwaitWithin(ctx, "e1", time.Second, 5*time.Millisecond)
	if err != nil {
		t.Fatalf("await: %v", err)
	}
	if out.Kind != OutcomeErrored {
		t.Errorf("expected errored, got %s", out.Kind)
	}
	if out.Result != "user-safe message" {
		t.Errorf("result mismatch: %q", out.Result)
	}
}

func TestMonitor_TimedOut(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemoryStore()
	defer s.Close()
	m := newTestMonitor(t, s)

	if err := s.CreatePending(ctx, "t1", "payload", store.DefaultPendingTTL); err != nil {
		t.Fatalf("create: %v", err)
	}

	out, err := m.AwaitWithin(ctx, "t1", 30*time.Millisecond, 5*time.Millisecond)
	if err != nil {
		t.Fatalf("await: %v", err)
	}
	if out.Kind != OutcomeTimedOut {
		t.Errorf("expected timed out, got %s", out.Kind)
	}
	if out.Result != "" {
		t.Errorf("timeout outcome carries no result, got %q", out.Result)
	}
}

func TestMonitor_UnknownRecordTimesOut(t *testing.T) {
	// A record that never existed polls to the timeout, same as one
	// that expired mid-poll.
	ctx := context.Background()
	s := store.NewMemoryStore()
	defer s.Close()
	m := newTestMonitor(t, s)

	out, err := m.AwaitWithin(ctx, "never-created", 30*time.Millisecond, 5*time.Millisecond)
	if err != nil {
		t.Fatalf("await: %v", err)
	}
	if out.Kind != OutcomeTimedOut {
		t.Errorf("expected timed out, got %s", out.Kind)
	}
}

func TestMonitor_TransientReadFailures(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemoryStore()
	defer mem.Close()
	fs := &flakyStore{TaskStore: mem, failures: 3}
	m := newTestMonitor(t, fs)

	if err := mem.CreatePending(ctx, "f1", "payload", store.DefaultPendingTTL); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := mem.SetResult(ctx, "f1", task.StatusCompleted, "late but fine"); err != nil {
		t.Fatalf("set result: %v", err)
	}

	out, err := m.AwaitWithin(ctx, "f1", time.Second, 5*time.Millisecond)
	if err != nil {
		t.Fatalf("await: %v", err)
	}
	if out.Kind != OutcomeCompleted {
		t.Errorf("transient read failures must not end the poll, got %s", out.Kind)
	}
	if out.Result != "late but fine" {
		t.Errorf("result mismatch: %q", out.Result)
	}
}

func TestMonitor_ContextCancel(t *testing.T) {
	s := store.NewMemoryStore()
	defer s.Close()
	m := newTestMonitor(t, s)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	_, err := m.AwaitWithin(ctx, "never", time.Hour, 5*time.Millisecond)
	if !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}

func TestMonitor_CancelRegistered(t *testing.T) {
	s := store.NewMemoryStore()
	defer s.Close()
	m := newTestMonitor(t, s)

	errCh := make(chan error, 1)
	go func() {
		_, err := m.AwaitWithin(context.Background(), "reg1", time.Hour, 5*time.Millisecond)
		errCh <- err
	}()

	deadline := time.Now().Add(2 * time.Second)
	for !m.Cancel("reg1") {
		if time.Now().After(deadline) {
			t.Fatal("await never registered")
		}
		time.Sleep(time.Millisecond)
	}

	select {
	case err := <-errCh:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("expected context.Canceled, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("await did not stop after Cancel")
	}

	if m.Cancel("reg1") {
		t.Error("Cancel after deregistration must return false")
	}
}

func TestMonitor_Defaults(t *testing.T) {
	s := store.NewMemoryStore()
	defer s.Close()
	m := newTestMonitor(t, s)

	if m.maxWait != DefaultMaxWait {
		t.Errorf("expected default max wait, got %v", m.maxWait)
	}
	if m.pollInterval != DefaultPollInterval {
		t.Errorf("expected default poll interval, got %v", m.pollInterval)
	}
}
