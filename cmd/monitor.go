package cmd

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/restockd/restockd/internal/api"
	"github.com/restockd/restockd/internal/app"
	"github.com/restockd/restockd/internal/config"
	"github.com/restockd/restockd/internal/dispatch"
	"github.com/restockd/restockd/internal/fetch"
	"github.com/restockd/restockd/internal/monitor"
	"github.com/restockd/restockd/internal/ratelimit"
	"github.com/restockd/restockd/internal/resolver"
)

func newMonitorCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "monitor",
		Short: "Runs the restock monitor",
		Long: `Starts one monitoring pipeline per configured user and serves the
control API for health, metrics, and per-user start/stop/status.`,
		RunE: runMonitor,
	}
}

func runMonitor(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()

	cfg, err := config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	a, err := app.New(ctx, cfg)
	if err != nil {
		return fmt.Errorf("init services: %w", err)
	}
	defer a.Close()

	// The DNS cache is the one process-wide resource shared across users.
	res := resolver.New(resolver.Config{
		AttemptTimeout:  time.Duration(cfg.DNS.AttemptTimeoutSeconds) * time.Second,
		LifetimeTimeout: time.Duration(cfg.DNS.LifetimeTimeoutSeconds) * time.Second,
		CacheTTL:        time.Duration(cfg.DNS.CacheTTLMinutes) * time.Minute,
		ProbeTimeout:    time.Duration(cfg.DNS.ProbeTimeoutSeconds) * time.Second,
	}, a.Logger)

	dispatcher := dispatch.New(a.Sink, dispatch.Config{
		MaxDepth:   cfg.Queue.MaxDepth,
		MaxRetries: cfg.Queue.MaxRetries,
		Spacing:    time.Duration(cfg.Queue.SpacingMs) * time.Millisecond,
	}, a.Logger)
	defer dispatcher.Close()

	factory := func(userID string) *monitor.Orchestrator {
		fetcher := fetch.New(fetch.Config{
			PageLimit:  cfg.HTTP.PageLimit,
			UserAgent:  cfg.HTTP.UserAgent,
			Timeout:    cfg.FetchTimeout(),
			MaxBackoff: time.Duration(cfg.HTTP.MaxBackoffSeconds) * time.Second,
		}, res, ratelimit.New(ratelimit.Config{
			RequestsPerSecond: userRate(ctx, a, userID),
		}), a.Logger)

		return monitor.NewOrchestrator(monitor.OrchestratorConfig{
			UserID:         userID,
			HealthInterval: time.Duration(cfg.Monitor.HealthIntervalSeconds) * time.Second,
			IdleDelay:      time.Duration(cfg.Monitor.IdleDelaySeconds) * time.Second,
			DefaultDelay:   time.Duration(cfg.Monitor.DefaultDelaySeconds) * time.Second,
		}, a.Store, fetcher, dispatcher, a.Logger)
	}

	registry := monitor.NewRegistry(factory, a.Logger)
	for _, userID := range cfg.Monitor.Users {
		if err := registry.Start(userID); err != nil {
			a.Logger.Warn("start monitor failed", zap.String("user_id", userID), zap.Error(err))
		}
	}

	server := api.NewServer(registry, a.Store, cfg.ShutdownGrace(), a.Logger)
	err = server.Run(ctx, cfg.Server.Port)

	registry.StopAll(cfg.ShutdownGrace())

	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	a.Logger.Info("monitor shut down")
	return nil
}

// userRate reads the user's configured request rate, falling back to 1 rps
// when the config store has no record yet.
func userRate(ctx context.Context, a *app.App, userID string) float64 {
	lookupCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	uc, err := a.Store.UserConfig(lookupCtx, userID)
	if err != nil || uc.RateLimit <= 0 {
		return 1
	}
	return uc.RateLimit
}
