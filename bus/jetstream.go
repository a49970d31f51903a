package bus

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
)

// JetStreamBus implements EventBus using NATS JetStream.
//
// Each consumer group maps to a durable consumer with explicit acks: the
// checkpoint advances only when the handler returns nil, a handler error
// naks the message for redelivery. DeliverNew gives the latest-only start
// position the coordination layer runs with.
type JetStreamBus struct {
	conn   *nats.Conn
	js     jetstream.JetStream
	config JetStreamConfig
	closed atomic.Bool
}

// JetStreamConfig holds JetStream bus configuration.
type JetStreamConfig struct {
	// Conn is the NATS connection to use. Owned by the caller.
	Conn *nats.Conn

	// Stream is the JetStream stream name.
	// Default: "ASTROFLOW"
	Stream string

	// Subjects bound to the stream.
	// Default: ["tasks.>"]
	Subjects []string

	// AckWait is how long the server waits for an ack before
	// redelivering. Default: 30 seconds.
	AckWait time.Duration
}

// DefaultJetStreamConfig returns configuration with sensible defaults.
func DefaultJetStreamConfig() JetStreamConfig {
	return JetStreamConfig{
		Stream:   "ASTROFLOW",
		Subjects: []string{"tasks.>"},
		AckWait:  30 * time.Second,
	}
}

// NewJetStreamBus creates a JetStream-backed event bus, creating the
// stream if it does not exist.
func NewJetStreamBus(cfg JetStreamConfig) (*JetStreamBus, error) {
	if cfg.Conn == nil {
		return nil, fmt.Errorf("nats connection required")
	}
	if cfg.Stream == "" {
		cfg.Stream = DefaultJetStreamConfig().Stream
	}
	if len(cfg.Subjects) == 0 {
		cfg.Subjects = DefaultJetStreamConfig().Subjects
	}
	if cfg.AckWait <= 0 {
		cfg.AckWait = DefaultJetStreamConfig().AckWait
	}

	js, err := jetstream.New(cfg.Conn)
	if err != nil {
		return nil, fmt.Errorf("jetstream: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_, err = js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:      cfg.Stream,
		Subjects:  cfg.Subjects,
		Retention: jetstream.LimitsPolicy,
	})
	if err != nil {
		return nil, fmt.Errorf("create stream: %w", err)
	}

	return &JetStreamBus{
		conn:   cfg.Conn,
		js:     js,
		config: cfg,
	}, nil
}

// Publish appends a message to the stream.
func (b *JetStreamBus) Publish(ctx context.Context, subject string, data []byte) error {
	if err := ValidateSubject(subject); err != nil {
		return err
	}
	if b.closed.Load() || b.conn.IsClosed() {
		return ErrClosed
	}

	if _, err := b.js.Publish(ctx, subject, data); err != nil {
		return fmt.Errorf("jetstream publish: %w", err)
	}
	return nil
}

// Subscribe consumes a subject as a durable consumer group.
// Blocks until ctx is cancelled or the consume loop reports a failure.
func (b *JetStreamBus) Subscribe(ctx context.Context, subject, group string, handler Handler) error {
	if err := ValidateSubject(subject); err != nil {
		return err
	}
	if group == "" {
		return ErrInvalidGroup
	}
	if b.closed.Load() || b.conn.IsClosed() {
		return ErrClosed
	}

	setupCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	cons, err := b.js.CreateOrUpdateConsumer(setupCtx, b.config.Stream, jetstream.ConsumerConfig{
		Durable:       group,
		FilterSubject: subject,
		AckPolicy:     jetstream.AckExplicitPolicy,
		DeliverPolicy: jetstream.DeliverNewPolicy,
		AckWait:       b.config.AckWait,
	})
	cancel()
	if err != nil {
		return fmt.Errorf("create consumer: %w", err)
	}

	errCh := make(chan error, 1)
	cc, err := cons.Consume(func(m jetstream.Msg) {
		msg := &Message{
			Subject: m.Subject(),
			Data:    m.Data(),
		}
		if err := handler(ctx, msg); err != nil {
			// No checkpoint: the message redelivers after AckWait
			// or sooner via the nak.
			_ = m.Nak()
			return
		}
		_ = m.Ack()
	}, jetstream.ConsumeErrHandler(func(_ jetstream.ConsumeContext, err error) {
		select {
		case errCh <- err:
		default:
		}
	}))
	if err != nil {
		return fmt.Errorf("jetstream consume: %w", err)
	}
	defer cc.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-errCh:
		return fmt.Errorf("jetstream consume: %w", err)
	}
}

// Close shuts down the bus. The NATS connection is owned by the caller
// and is not closed here.
func (b *JetStreamBus) Close() error {
	b.closed.Store(true)
	return nil
}

// Connect dials a NATS server with reconnect behavior suited to a
// long-lived process.
func Connect(url, name string) (*nats.Conn, error) {
	if url == "" {
		url = nats.DefaultURL
	}

	opts := []nats.Option{
		nats.ReconnectWait(2 * time.Second),
		nats.MaxReconnects(-1),
		nats.Timeout(5 * time.Second),
	}
	if name != "" {
		opts = append(opts, nats.Name(name))
	}

	conn, err := nats.Connect(url, opts...)
	if err != nil {
		return nil, fmt.Errorf("nats connect: %w", err)
	}
	return conn, nil
}

// Ensure JetStreamBus implements EventBus.
var _ EventBus = (*JetStreamBus)(nil)
