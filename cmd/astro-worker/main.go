// Command astro-worker runs the task worker: it consumes request events,
// claims tasks in the coordination store, generates readings or chat
// replies, and publishes results.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/astroflow/astroflow/bus"
	"github.com/astroflow/astroflow/config"
	"github.com/astroflow/astroflow/llm"
	"github.com/astroflow/astroflow/logging"
	"github.com/astroflow/astroflow/shutdown"
	"github.com/astroflow/astroflow/store"
	"github.com/astroflow/astroflow/task"
	"github.com/astroflow/astroflow/worker"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "astro-worker: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	configPath := flag.String("config", "astroflow.toml", "path to configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger := logging.New()
	logger.SetLevel(logging.Level(strings.ToUpper(cfg.LogLevel)))
	log := logger.WithComponent("astro-worker")

	conn, err := bus.Connect(cfg.NATS.URL, "astro-worker")
	if err != nil {
		return err
	}

	taskStore, err := store.NewKVStore(store.KVConfig{
		Conn:        conn,
		Bucket:      cfg.Store.Bucket,
		ResolvedTTL: cfg.Store.ResolvedTTL(),
	})
	if err != nil {
		return fmt.Errorf("open task store: %w", err)
	}

	eventBus, err := bus.NewJetStreamBus(bus.JetStreamConfig{
		Conn:     conn,
		Stream:   cfg.NATS.Stream,
		Subjects: []string{task.SubjectRequests, task.SubjectResults},
	})
	if err != nil {
		return fmt.Errorf("open event bus: %w", err)
	}

	reading, chat, err := buildGenerators(cfg, log)
	if err != nil {
		return err
	}

	w, err := worker.New(worker.Config{
		Store:           taskStore,
		Bus:             eventBus,
		Reading:         reading,
		Chat:            chat,
		Group:           cfg.Worker.Group,
		GenerateTimeout: cfg.Worker.GenerateTimeout(),
		Logger:          logger,
	})
	if err != nil {
		return fmt.Errorf("build worker: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	coord := shutdown.NewCoordinator(0, logger)
	coord.RegisterFunc("subscriptions", 10, func(context.Context) error {
		cancel()
		return nil
	})
	coord.RegisterFunc("bus", 20, func(context.Context) error {
		return eventBus.Close()
	})
	coord.RegisterFunc("store", 30, func(context.Context) error {
		return taskStore.Close()
	})
	coord.RegisterFunc("nats", 40, func(context.Context) error {
		conn.Close()
		return nil
	})
	coord.HandleSignals()

	log.Info("worker starting", map[string]interface{}{
		"nats":   cfg.NATS.URL,
		"stream": cfg.NATS.Stream,
		"bucket": cfg.Store.Bucket,
		"group":  cfg.Worker.Group,
	})

	runErr := w.Run(ctx)

	// The supervisor only returns on context cancel, normally via the
	// signal path above; shutting down again here is a no-op then, and
	// the real teardown if Run ever returns another way.
	shutdownErr := coord.ShutdownWithTimeout()
	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		return runErr
	}
	return shutdownErr
}

// buildGenerators wires the configured LLM, falling back to the local
// template generator when no API key is present. Chat has no local
// fallback: without a key, chat requests resolve to the error outcome.
func buildGenerators(cfg *config.Config, log *logging.Logger) (reading, chat llm.Generator, err error) {
	if cfg.LLM.APIKey == "" {
		log.Warn("no LLM API key configured, using local template readings")
		return llm.NewReadingGenerator(), nil, nil
	}

	reading, err = llm.NewOpenAIGenerator(llm.OpenAIConfig{
		APIKey:       cfg.LLM.APIKey,
		BaseURL:      cfg.LLM.BaseURL,
		Model:        cfg.LLM.Model,
		MaxTokens:    cfg.LLM.MaxTokens,
		SystemPrompt: llm.ReadingPrompt,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("build reading generator: %w", err)
	}
	chat, err = llm.NewOpenAIGenerator(llm.OpenAIConfig{
		APIKey:       cfg.LLM.APIKey,
		BaseURL:      cfg.LLM.BaseURL,
		Model:        cfg.LLM.Model,
		MaxTokens:    cfg.LLM.MaxTokens,
		SystemPrompt: llm.ChatPrompt,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("build chat generator: %w", err)
	}
	return reading, chat, nil
}
