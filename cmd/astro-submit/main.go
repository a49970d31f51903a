// Command astro-submit submits a task and waits for its outcome. It is
// the dispatcher side of the pipeline: pending record, request event,
// result consumer, and the polling monitor, in one short-lived process.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/astroflow/astroflow/bus"
	"github.com/astroflow/astroflow/config"
	"github.com/astroflow/astroflow/dispatch"
	"github.com/astroflow/astroflow/logging"
	"github.com/astroflow/astroflow/store"
	"github.com/astroflow/astroflow/task"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "astro-submit: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	configPath := flag.String("config", "astroflow.toml", "path to configuration file")
	kind := flag.String("kind", "reading", "task kind: reading or chat")
	input := flag.String("input", "", "date of birth (YYYY-MM-DD) for a reading, message text for chat")
	requester := flag.String("requester", "cli", "requester id stamped on the request")
	flag.Parse()

	if *input == "" {
		return fmt.Errorf("-input is required")
	}
	if *kind != "reading" && *kind != "chat" {
		return fmt.Errorf("unknown kind %q", *kind)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger := logging.New()
	logger.SetLevel(logging.Level(strings.ToUpper(cfg.LogLevel)))

	conn, err := bus.Connect(cfg.NATS.URL, "astro-submit")
	if err != nil {
		return err
	}
	defer conn.Close()

	taskStore, err := store.NewKVStore(store.KVConfig{
		Conn:        conn,
		Bucket:      cfg.Store.Bucket,
		ResolvedTTL: cfg.Store.ResolvedTTL(),
	})
	if err != nil {
		return fmt.Errorf("open task store: %w", err)
	}
	defer taskStore.Close()

	eventBus, err := bus.NewJetStreamBus(bus.JetStreamConfig{
		Conn:     conn,
		Stream:   cfg.NATS.Stream,
		Subjects: []string{task.SubjectRequests, task.SubjectResults},
	})
	if err != nil {
		return fmt.Errorf("open event bus: %w", err)
	}
	defer eventBus.Close()

	dispatcher, err := dispatch.New(dispatch.Config{
		Store:      taskStore,
		Bus:        eventBus,
		PendingTTL: cfg.Store.PendingTTL(),
		Logger:     logger,
	})
	if err != nil {
		return fmt.Errorf("build dispatcher: %w", err)
	}
	monitor, err := dispatch.NewMonitor(dispatch.MonitorConfig{
		Store:        taskStore,
		MaxWait:      cfg.Monitor.MaxWait(),
		PollInterval: cfg.Monitor.PollInterval(),
		Logger:       logger,
	})
	if err != nil {
		return fmt.Errorf("build monitor: %w", err)
	}
	resultConsumer, err := dispatch.NewResultConsumer(dispatch.ResultConsumerConfig{
		Store:  taskStore,
		Bus:    eventBus,
		Group:  cfg.Monitor.Group,
		Logger: logger,
	})
	if err != nil {
		return fmt.Errorf("build result consumer: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go resultConsumer.Run(ctx)

	var id string
	if *kind == "chat" {
		id, err = dispatcher.SubmitChat(ctx, *requester, *input)
	} else {
		id, err = dispatcher.SubmitReading(ctx, *requester, *input)
	}
	if err != nil {
		return fmt.Errorf("submit: %w", err)
	}
	fmt.Printf("submitted %s task %s\n", *kind, id)

	out, err := monitor.Await(ctx, id)
	if err != nil {
		return fmt.Errorf("await: %w", err)
	}

	switch out.Kind {
	case dispatch.OutcomeCompleted:
		fmt.Println(out.Result)
		return nil
	case dispatch.OutcomeErrored:
		fmt.Println(out.Result)
		return fmt.Errorf("task %s resolved with an error", id)
	default:
		return fmt.Errorf("task %s timed out after %s", id, cfg.Monitor.MaxWait())
	}
}
