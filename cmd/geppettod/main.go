package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sort"
	"syscall"
	"time"

	apiPkg "github.com/geppetto-io/geppetto/internal/api"
	"github.com/geppetto-io/geppetto/internal/audit"
	"github.com/geppetto-io/geppetto/internal/config"
	slackconn "github.com/geppetto-io/geppetto/internal/connector/slack"
	"github.com/geppetto-io/geppetto/internal/connector/telegram"
	"github.com/geppetto-io/geppetto/internal/freshdesk"
	"github.com/geppetto-io/geppetto/internal/provider"
	"github.com/geppetto-io/geppetto/internal/support"
)

func main() {
	configPath := flag.String("config", "", "Path to config JSON file")
	verbose := flag.Bool("v", false, "Verbose logging")
	flag.Parse()

	// Set up logging
	logLevel := slog.LevelInfo
	if *verbose {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel}))

	// Load config (file or env)
	var cfg *config.Config
	var err error
	if *configPath != "" {
		cfg, err = config.Load(*configPath)
	} else {
		cfg, err = config.LoadFromEnv()
	}
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger.Info("geppettod starting")

	// 1. Initialize the provider router. "default" goes first so it becomes
	// the active backend; the rest follow in name order.
	backends := make([]provider.BackendConfig, 0, len(cfg.Providers))
	names := make([]string, 0, len(cfg.Providers))
	for name := range cfg.Providers {
		names = append(names, name)
	}
	sort.Strings(names)
	if _, ok := cfg.Providers["default"]; ok {
		backends = append(backends, backendConfig("default", cfg.Providers["default"]))
	}
	for _, name := range names {
		if name == "default" {
			continue
		}
		backends = append(backends, backendConfig(name, cfg.Providers[name]))
	}

	router, err := provider.NewRouter(backends, logger.With("component", "provider"))
	if err != nil {
		logger.Error("no usable model backend", "error", err)
		os.Exit(1)
	}

	// 2. Ticketing client
	tickets := freshdesk.New(cfg.Freshdesk.Domain, cfg.Freshdesk.APIKey,
		freshdesk.WithLogger(logger.With("component", "freshdesk")),
	)

	// 3. Audit trail: in-memory ring for the API, sqlite for durability
	buf := audit.NewBuffer(cfg.Audit.BufferSize)
	sinks := []audit.Sink{buf}
	if cfg.Audit.DBPath != "" {
		store, err := audit.NewSQLiteStore(cfg.Audit.DBPath)
		if err != nil {
			logger.Error("failed to open audit store", "path", cfg.Audit.DBPath, "error", err)
			os.Exit(1)
		}
		defer store.Close()
		sinks = append(sinks, store)
		logger.Info("audit store opened", "path", cfg.Audit.DBPath)
	}
	recorder := audit.NewRecorder(logger.With("component", "audit"), sinks...)

	// 4. Workflow engine
	contexts := support.NewContextStore()
	engine := support.NewEngine(router, tickets, contexts, recorder, logger, support.EngineConfig{
		SystemPrompt:    cfg.Engine.SystemPrompt,
		RequesterDomain: cfg.Engine.RequesterDomain,
		CallTimeout:     time.Duration(cfg.Engine.CallTimeoutSeconds) * time.Second,
	})

	// Context for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 5. Context TTL sweeper
	sweeper, err := support.NewSweeper(contexts, recorder,
		cfg.Engine.SweepSchedule,
		time.Duration(cfg.Engine.MaxIdleMinutes)*time.Minute,
		logger,
	)
	if err != nil {
		logger.Error("failed to init sweeper", "error", err)
		os.Exit(1)
	}
	go safeGo(logger, "sweeper", func() { sweeper.Start(ctx) })

	// 6. Chat connectors
	if cfg.Connectors.Slack != nil {
		sc, err := slackconn.New(slackconn.Config{
			BotToken: cfg.Connectors.Slack.BotToken,
			AppToken: cfg.Connectors.Slack.AppToken,
		}, engine, logger)
		if err != nil {
			logger.Error("failed to init slack connector", "error", err)
			os.Exit(1)
		}
		go safeGo(logger, "slack", func() { sc.Start(ctx) })
	}
	if cfg.Connectors.Telegram != nil {
		tc, err := telegram.New(telegram.Config{
			Token:     cfg.Connectors.Telegram.Token,
			AllowFrom: cfg.Connectors.Telegram.AllowFrom,
		}, engine, logger)
		if err != nil {
			logger.Error("failed to init telegram connector", "error", err)
			os.Exit(1)
		}
		go safeGo(logger, "telegram", func() { tc.Start(ctx) })
	}

	// 7. API server
	apiSrv := apiPkg.NewServer(engine, router, buf, apiPkg.Config{
		Host: cfg.API.Host,
		Port: cfg.API.Port,
		Key:  cfg.API.Key,
	}, logger)
	go safeGo(logger, "api-server", func() { apiSrv.Start(ctx) })

	// 8. Graceful shutdown
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	logger.Info("received signal, shutting down", "signal", sig)
	cancel()
	logger.Info("geppettod stopped")
}

func backendConfig(name string, p config.ProviderConfig) provider.BackendConfig {
	return provider.BackendConfig{
		Name:    name,
		Type:    p.Type,
		APIKey:  p.APIKey,
		BaseURL: p.BaseURL,
		Model:   p.Model,
	}
}

// safeGo runs fn with panic recovery.
func safeGo(logger *slog.Logger, name string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("goroutine panicked", "name", name, "panic", fmt.Sprintf("%v", r))
		}
	}()
	fn()
}
