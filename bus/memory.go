package bus

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// MemoryBus implements EventBus using an in-memory append-only log.
// Useful for testing and single-process scenarios. The log is a single
// partition per subject, so delivery order holds per subject.
type MemoryBus struct {
	config Config

	mu     sync.Mutex
	logs   map[string][]*Message
	groups map[string]map[string]*memoryGroup // subject -> group -> state
	closed atomic.Bool
	done   chan struct{}
}

// memoryGroup tracks one consumer group's checkpoint on a subject log.
type memoryGroup struct {
	cursor int
	// proc serializes handler execution across group members.
	proc sync.Mutex
	// wake is closed and replaced on each publish to the subject.
	wake chan struct{}
}

// NewMemoryBus creates a new in-memory event bus.
func NewMemoryBus(cfg Config) *MemoryBus {
	if cfg.RedeliverDelay <= 0 {
		cfg.RedeliverDelay = DefaultConfig().RedeliverDelay
	}

	return &MemoryBus{
		config: cfg,
		logs:   make(map[string][]*Message),
		groups: make(map[string]map[string]*memoryGroup),
		done:   make(chan struct{}),
	}
}

// Publish appends a message to the subject's log and wakes subscribers.
func (b *MemoryBus) Publish(ctx context.Context, subject string, data []byte) error {
	if err := ValidateSubject(subject); err != nil {
		return err
	}
	if b.closed.Load() {
		return ErrClosed
	}

	msg := &Message{
		Subject: subject,
		Data:    append([]byte(nil), data...),
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	b.logs[subject] = append(b.logs[subject], msg)
	for _, g := range b.groups[subject] {
		close(g.wake)
		g.wake = make(chan struct{})
	}
	return nil
}

// group returns the state for (subject, group), creating it positioned at
// the latest offset. A group created now never sees earlier backlog.
func (b *MemoryBus) group(subject, name string) *memoryGroup {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.groups[subject] == nil {
		b.groups[subject] = make(map[string]*memoryGroup)
	}
	g, ok := b.groups[subject][name]
	if !ok {
		g = &memoryGroup{
			cursor: len(b.logs[subject]),
			wake:   make(chan struct{}),
		}
		b.groups[subject][name] = g
	}
	return g
}

// Subscribe consumes the subject as part of a consumer group.
// The group checkpoint advances only after handler returns nil; a handler
// error leaves the checkpoint in place and the message is redelivered
// after the configured delay.
func (b *MemoryBus) Subscribe(ctx context.Context, subject, groupName string, handler Handler) error {
	if err := ValidateSubject(subject); err != nil {
		return err
	}
	if groupName == "" {
		return ErrInvalidGroup
	}
	if b.closed.Load() {
		return ErrClosed
	}

	g := b.group(subject, groupName)

	for {
		b.mu.Lock()
		if b.closed.Load() {
			b.mu.Unlock()
			return ErrClosed
		}
		log := b.logs[subject]
		if g.cursor >= len(log) {
			wake := g.wake
			b.mu.Unlock()
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-b.done:
				return ErrClosed
			case <-wake:
			}
			continue
		}
		idx := g.cursor
		msg := log[idx]
		b.mu.Unlock()

		// One handler at a time per group; members race for the
		// checkpointed message and losers move on.
		g.proc.Lock()
		b.mu.Lock()
		taken := g.cursor != idx
		b.mu.Unlock()
		if taken {
			g.proc.Unlock()
			continue
		}

		err := handler(ctx, msg)
		if err == nil {
			b.mu.Lock()
			g.cursor = idx + 1
			b.mu.Unlock()
			g.proc.Unlock()
			continue
		}
		g.proc.Unlock()

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-b.done:
			return ErrClosed
		case <-time.After(b.config.RedeliverDelay):
		}
	}
}

// Close shuts down the bus and unblocks all subscribers.
func (b *MemoryBus) Close() error {
	if b.closed.Swap(true) {
		return nil
	}

	close(b.done)

	b.mu.Lock()
	defer b.mu.Unlock()
	b.logs = nil
	return nil
}

// Ensure MemoryBus implements EventBus.
var _ EventBus = (*MemoryBus)(nil)
