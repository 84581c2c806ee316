package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/pixelforge/pixelforge/internal/agent"
	"github.com/pixelforge/pixelforge/internal/artifacts"
	"github.com/pixelforge/pixelforge/internal/billing"
	"github.com/pixelforge/pixelforge/internal/config"
	"github.com/pixelforge/pixelforge/internal/gateway"
	"github.com/pixelforge/pixelforge/internal/observability"
	"github.com/pixelforge/pixelforge/internal/sessions"
	"github.com/pixelforge/pixelforge/internal/tools"
)

func buildServeCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the agent HTTP server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(configPath)
			if err != nil {
				return err
			}
			return runServe(cfg)
		},
	}
	cmd.Flags().StringVar(&configPath, "config", "", "Path to configuration file")
	return cmd
}

// buildToolsCmd lists the registered tool catalog.
func buildToolsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "tools",
		Short: "List the built-in tool catalog",
		RunE: func(cmd *cobra.Command, args []string) error {
			registry := agent.NewRegistry()
			if err := tools.RegisterCatalog(registry, tools.NewHTTPBackend("", nil)); err != nil {
				return err
			}
			for _, name := range registry.Names() {
				cfg, _ := registry.Get(name)
				fmt.Fprintf(cmd.OutOrStdout(), "%-20s %d credits  %s\n", cfg.Name, cfg.CreditCost, cfg.Description)
			}
			return nil
		},
	}
}

func runServe(cfg *config.Config) error {
	logger := setupLogger(cfg.Logging)

	provider, err := buildProvider(cfg)
	if err != nil {
		return err
	}
	gw := gateway.New(provider, logger)

	store, closeStore, err := buildStore(cfg)
	if err != nil {
		return err
	}
	defer closeStore()

	images := artifacts.NewStore(logger)
	ledger := billing.NewMemoryLedger(logger)
	registry := agent.NewRegistry()
	backend := tools.NewHTTPBackend(cfg.Backend.URL, logger)
	if err := tools.RegisterCatalog(registry, backend); err != nil {
		return err
	}

	metrics := observability.NewMetrics()
	executor := agent.NewExecutor(registry, agent.NewResolver(images), images, ledger, logger)
	orch := agent.NewOrchestrator(gw, registry, executor, sessions.NewManager(store, logger), images,
		agent.WithLogger(logger),
		agent.WithMetrics(metrics),
	)

	server := newServer(orch, ledger, cfg, metrics, logger)
	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	httpServer := &http.Server{
		Addr:              addr,
		Handler:           server.routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server listening",
			"addr", addr,
			"provider", provider.Name(),
			"storage", cfg.Storage.Driver)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	return httpServer.Shutdown(shutdownCtx)
}

func buildProvider(cfg *config.Config) (gateway.Provider, error) {
	switch cfg.Provider.Name {
	case "openai":
		return gateway.NewOpenAIProvider(cfg.Provider.APIKey), nil
	case "anthropic":
		return gateway.NewAnthropicProvider(cfg.Provider.APIKey), nil
	default:
		return nil, fmt.Errorf("unknown provider %q", cfg.Provider.Name)
	}
}

func buildStore(cfg *config.Config) (sessions.StorageProvider, func(), error) {
	switch cfg.Storage.Driver {
	case "memory":
		return sessions.NewMemoryStore(), func() {}, nil
	case "sqlite":
		store, err := sessions.NewSQLiteStore(cfg.Storage.Path)
		if err != nil {
			return nil, nil, err
		}
		return store, func() { store.Close() }, nil //nolint:errcheck
	default:
		return nil, nil, fmt.Errorf("unknown storage driver %q", cfg.Storage.Driver)
	}
}
