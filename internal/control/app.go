// Package control wires the Discord client, its background workers and the
// health server into one application lifecycle.
package control

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/vietddude/shopcord/internal/core/config"
	"github.com/vietddude/shopcord/internal/health"
	"github.com/vietddude/shopcord/internal/infra/discord"
	"github.com/vietddude/shopcord/internal/infra/discord/cache"
	"github.com/vietddude/shopcord/internal/infra/discord/retry"
)

// App is the main application struct that manages the client lifecycle.
type App struct {
	cfg          config.AppConfig
	client       *discord.Client
	healthServer *health.Server
	log          *slog.Logger
}

// NewApp creates an App with all dependencies initialized.
func NewApp(cfg config.AppConfig, logger *slog.Logger) *App {
	if logger == nil {
		logger = slog.Default()
	}

	client := NewClient(cfg, logger)
	return &App{
		cfg:          cfg,
		client:       client,
		healthServer: health.NewServer(client, cfg.Server.Port, cfg.Timeouts.Read, cfg.Timeouts.Write),
		log:          logger,
	}
}

// NewClient builds a Discord client from application configuration.
func NewClient(cfg config.AppConfig, logger *slog.Logger) *discord.Client {
	transport := discord.NewHTTPTransport(discord.TransportConfig{
		BaseURL:        cfg.Discord.BaseURL,
		UserAgent:      cfg.Discord.UserAgent,
		Timeout:        cfg.Timeouts.Default,
		ConnectTimeout: cfg.Timeouts.Connect,
		ReadTimeout:    cfg.Timeouts.Read,
	})
	return discord.NewClient(ClientConfig(cfg), transport, discord.WithLogger(logger))
}

// ClientConfig maps application configuration onto the Discord client.
func ClientConfig(cfg config.AppConfig) discord.Config {
	return discord.Config{
		BotToken:     cfg.Discord.BotToken,
		ClientID:     cfg.Discord.ClientID,
		ClientSecret: cfg.Discord.ClientSecret,
		GlobalRPS:    cfg.Discord.GlobalRPS,
		Retry: retry.Config{
			MaxRetries: cfg.Retry.MaxAttempts,
			BaseDelay:  cfg.Retry.BaseDelay,
			MaxDelay:   cfg.Retry.MaxDelay,
		},
		Cache: cache.Config{
			Enabled:              cfg.Cache.Enabled,
			TTL:                  cfg.Cache.TTL,
			MaxSize:              cfg.Cache.MaxSize,
			StaleWhileRevalidate: cfg.Cache.StaleWhileRevalidate,
		},
		CoordinatorTimeout: cfg.Coordinator.Timeout,
		SweepInterval:      cfg.SweepInterval,
		Logging: discord.LoggingConfig{
			RateLimit:   cfg.Logging.Categories.RateLimit,
			Retry:       cfg.Logging.Categories.Retry,
			Cache:       cfg.Logging.Categories.Cache,
			Coordinator: cfg.Logging.Categories.Coordinator,
			Health:      cfg.Logging.Categories.Health,
		},
	}
}

// Client returns the Discord client.
func (a *App) Client() *discord.Client {
	return a.client
}

// Start starts the background workers and the health server.
func (a *App) Start(ctx context.Context) error {
	if a.cfg.Discord.BotToken == "" {
		a.log.Warn("No bot token configured, guild calls will fail")
	}

	go func() {
		if err := a.healthServer.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.log.Error("Health server failed", "error", err)
		}
	}()

	a.client.Start(ctx)

	a.log.Info("Discord client started",
		"base_url", strings.TrimSuffix(a.cfg.Discord.BaseURL, "/"),
		"health_port", a.cfg.Server.Port,
		"cache_enabled", a.cfg.Cache.Enabled,
		"max_retries", a.cfg.Retry.MaxAttempts,
	)
	return nil
}

// Stop shuts down the health server and waits for background refreshes.
func (a *App) Stop(ctx context.Context) error {
	a.log.Info("Stopping shopcord...")

	err := a.healthServer.Stop(ctx)

	done := make(chan struct{})
	go func() {
		a.client.Close()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		return errors.Join(err, ctx.Err())
	}
	return err
}
