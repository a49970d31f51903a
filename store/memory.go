package store

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/astroflow/astroflow/task"
)

// MemoryStore implements TaskStore using in-memory storage.
// Useful for testing and single-process scenarios.
type MemoryStore struct {
	mu     sync.RWMutex
	data   map[string]*entry
	closed atomic.Bool

	resolvedTTL time.Duration
	now         func() time.Time

	// For TTL cleanup
	cleanupTicker *time.Ticker
	done          chan struct{}
}

type entry struct {
	task    task.Task
	expires time.Time
}

// MemoryOption configures a MemoryStore.
type MemoryOption func(*MemoryStore)

// WithClock sets the time source, letting tests simulate expiry.
func WithClock(now func() time.Time) MemoryOption {
	return func(s *MemoryStore) {
		s.now = now
	}
}

// WithResolvedTTL overrides the expiry window applied by SetResult.
func WithResolvedTTL(ttl time.Duration) MemoryOption {
	return func(s *MemoryStore) {
		s.resolvedTTL = ttl
	}
}

// NewMemoryStore creates a new in-memory task store.
func NewMemoryStore(opts ...MemoryOption) *MemoryStore {
	s := &MemoryStore{
		data:          make(map[string]*entry),
		resolvedTTL:   DefaultResolvedTTL,
		now:           time.Now,
		cleanupTicker: time.NewTicker(time.Second),
		done:          make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	go s.cleanupLoop()
	return s
}

// cleanupLoop removes expired entries periodically. Reads also check
// expiry lazily, so the loop only bounds memory, not correctness.
func (s *MemoryStore) cleanupLoop() {
	for {
		select {
		case <-s.cleanupTicker.C:
			s.cleanupExpired()
		case <-s.done:
			return
		}
	}
}

func (s *MemoryStore) cleanupExpired() {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	for id, e := range s.data {
		if now.After(e.expires) {
			delete(s.data, id)
		}
	}
}

// live returns the entry for id if present and unexpired.
// Must be called with the lock held.
func (s *MemoryStore) live(id string) (*entry, bool) {
	e, ok := s.data[id]
	if !ok {
		return nil, false
	}
	if s.now().After(e.expires) {
		return nil, false
	}
	return e, true
}

// CreatePending creates or overwrites a record with status pending.
func (s *MemoryStore) CreatePending(ctx context.Context, id, payload string, ttl time.Duration) error {
	if s.closed.Load() {
		return ErrClosed
	}
	if ttl <= 0 {
		ttl = DefaultPendingTTL
	}

	now := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()

	s.data[id] = &entry{
		task: task.Task{
			CorrelationID: id,
			Payload:       payload,
			Status:        task.StatusPending,
			CreatedAt:     now,
		},
		expires: now.Add(ttl),
	}
	return nil
}

// Claim atomically transitions pending to working.
func (s *MemoryStore) Claim(ctx context.Context, id string) (bool, error) {
	if s.closed.Load() {
		return false, ErrClosed
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.live(id)
	if !ok || e.task.Status != task.StatusPending {
		return false, nil
	}
	e.task.Status = task.StatusWorking
	return true, nil
}

// MarkWorking sets a pending record's status to working. Anything
// else, including a missing record, is a no-op: status only moves
// forward.
func (s *MemoryStore) MarkWorking(ctx context.Context, id string) error {
	if s.closed.Load() {
		return ErrClosed
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if e, ok := s.live(id); ok && e.task.Status == task.StatusPending {
		e.task.Status = task.StatusWorking
	}
	return nil
}

// Release returns a working record to pending. Missing or resolved
// records are left untouched.
func (s *MemoryStore) Release(ctx context.Context, id string) error {
	if s.closed.Load() {
		return ErrClosed
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if e, ok := s.live(id); ok && e.task.Status == task.StatusWorking {
		e.task.Status = task.StatusPending
	}
	return nil
}

// SetResult records a terminal outcome and re-arms the resolved TTL.
func (s *MemoryStore) SetResult(ctx context.Context, id string, status task.Status, result string) error {
	if s.closed.Load() {
		return ErrClosed
	}
	if !status.IsTerminal() {
		return ErrInvalidStatus
	}

	now := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.live(id)
	if !ok {
		// The record expired or was never created; a late result still
		// lands so a monitor that races expiry can observe it.
		e = &entry{task: task.Task{CorrelationID: id, CreatedAt: now}}
		s.data[id] = e
	}
	e.task.Status = status
	e.task.Result = result
	completed := now
	e.task.CompletedAt = &completed
	e.expires = now.Add(s.resolvedTTL)
	return nil
}

// GetStatus returns the record's status, or StatusUnknown when absent.
func (s *MemoryStore) GetStatus(ctx context.Context, id string) (task.Status, error) {
	if s.closed.Load() {
		return task.StatusUnknown, ErrClosed
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.live(id)
	if !ok {
		return task.StatusUnknown, nil
	}
	return e.task.Status, nil
}

// GetResult returns the result text for a resolved record.
func (s *MemoryStore) GetResult(ctx context.Context, id string) (string, error) {
	if s.closed.Load() {
		return "", ErrClosed
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.live(id)
	if !ok || !e.task.Status.IsTerminal() {
		return "", ErrNotFound
	}
	return e.task.Result, nil
}

// GetPayload returns the original task payload.
func (s *MemoryStore) GetPayload(ctx context.Context, id string) (string, error) {
	if s.closed.Load() {
		return "", ErrClosed
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.live(id)
	if !ok {
		return "", ErrNotFound
	}
	return e.task.Payload, nil
}

// Get returns a copy of the full record.
func (s *MemoryStore) Get(ctx context.Context, id string) (*task.Task, error) {
	if s.closed.Load() {
		return nil, ErrClosed
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.live(id)
	if !ok {
		return nil, ErrNotFound
	}
	return e.task.Clone(), nil
}

// IsPending reports whether the record exists with status pending.
func (s *MemoryStore) IsPending(ctx context.Context, id string) (bool, error) {
	status, err := s.GetStatus(ctx, id)
	if err != nil {
		return false, err
	}
	return status == task.StatusPending, nil
}

// Delete evicts a record early.
func (s *MemoryStore) Delete(ctx context.Context, id string) error {
	if s.closed.Load() {
		return ErrClosed
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.data, id)
	return nil
}

// Close shuts down the store.
func (s *MemoryStore) Close() error {
	if s.closed.Swap(true) {
		return nil
	}

	close(s.done)
	s.cleanupTicker.Stop()

	s.mu.Lock()
	defer s.mu.Unlock()
	s.data = nil
	return nil
}

// Ensure MemoryStore implements TaskStore.
var _ TaskStore = (*MemoryStore)(nil)
