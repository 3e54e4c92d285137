// Package app initializes and holds the long-lived services shared by the
// monitor: logger, configuration store, and notification sink.
package app

import (
	"context"
	"fmt"

	gcppubsub "cloud.google.com/go/pubsub/v2"
	"go.uber.org/zap"

	"github.com/restockd/restockd/internal/config"
	"github.com/restockd/restockd/internal/configstore"
	configmemory "github.com/restockd/restockd/internal/configstore/memory"
	"github.com/restockd/restockd/internal/configstore/postgres"
	"github.com/restockd/restockd/internal/logging"
	"github.com/restockd/restockd/internal/notify"
	notifymemory "github.com/restockd/restockd/internal/notify/memory"
	"github.com/restockd/restockd/internal/notify/pubsub"
	"github.com/restockd/restockd/internal/notify/webhook"
)

// App holds the shared, long-lived services, initialized once at startup.
type App struct {
	Logger *zap.Logger
	Config config.Config
	Store  configstore.Provider
	Sink   notify.Sink

	closers []func()
}

// New builds the App from configuration, failing fast when a required
// service cannot be initialized.
func New(ctx context.Context, cfg config.Config) (*App, error) {
	logger, err := logging.New(cfg.Logging.Development)
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}

	a := &App{Logger: logger, Config: cfg}

	store, err := a.buildStore(ctx, cfg)
	if err != nil {
		return nil, err
	}
	a.Store = store
	a.closers = append(a.closers, store.Close)

	sink, err := a.buildSink(ctx, cfg)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.Sink = sink

	return a, nil
}

func (a *App) buildStore(ctx context.Context, cfg config.Config) (configstore.Provider, error) {
	switch cfg.DB.Provider {
	case "postgres":
		a.Logger.Info("using postgres configuration store")
		store, err := postgres.New(ctx, postgres.Config{
			DSN:      cfg.DB.DSN,
			MaxConns: cfg.DB.MaxConns,
			MinConns: cfg.DB.MinConns,
		})
		if err != nil {
			return nil, fmt.Errorf("init postgres store: %w", err)
		}
		return store, nil
	case "memory":
		a.Logger.Info("using in-memory configuration store")
		return configmemory.New(), nil
	default:
		return nil, fmt.Errorf("unknown db provider: %s", cfg.DB.Provider)
	}
}

func (a *App) buildSink(ctx context.Context, cfg config.Config) (notify.Sink, error) {
	switch cfg.Sink.Provider {
	case "webhook":
		a.Logger.Info("using webhook notification sink")
		sink, err := webhook.New(cfg.Sink.WebhookURL, 0)
		if err != nil {
			return nil, fmt.Errorf("init webhook sink: %w", err)
		}
		return sink, nil
	case "pubsub":
		a.Logger.Info("using pubsub notification sink", zap.String("topic", cfg.Sink.TopicName))
		client, err := gcppubsub.NewClient(ctx, cfg.Sink.ProjectID)
		if err != nil {
			return nil, fmt.Errorf("init pubsub client: %w", err)
		}
		a.closers = append(a.closers, func() { _ = client.Close() })
		return pubsub.New(client.Publisher(cfg.Sink.TopicName)), nil
	case "memory":
		a.Logger.Info("using in-memory notification sink")
		return notifymemory.New(), nil
	default:
		return nil, fmt.Errorf("unknown sink provider: %s", cfg.Sink.Provider)
	}
}

// Close releases every service in reverse initialization order.
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	_ = a.Logger.Sync()
}
