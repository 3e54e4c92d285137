// Package configstore abstracts the externally owned configuration backing
// store that supplies per-user settings, store targets, and keywords. The
// orchestrator re-reads it every cycle and pings it from the periodic health
// check.
package configstore

import (
	"context"
	"fmt"

	"github.com/restockd/restockd/internal/monitor"
)

// ErrNotFound is returned when a user has no configuration record. It wraps
// monitor.ErrConfigMissing so the orchestrator treats it as an idle wait.
var ErrNotFound = fmt.Errorf("configuration not found: %w", monitor.ErrConfigMissing)

// Provider supplies the data the polling engine consumes.
type Provider interface {
	// UserConfig returns the per-user monitoring knobs.
	UserConfig(ctx context.Context, userID string) (monitor.UserConfig, error)
	// StoreTargets returns the user's store list, enabled and disabled.
	StoreTargets(ctx context.Context, userID string) ([]monitor.StoreTarget, error)
	// Keywords returns the user's keyword list, enabled and disabled.
	Keywords(ctx context.Context, userID string) ([]monitor.Keyword, error)
	// Ping verifies the backing store is reachable.
	Ping(ctx context.Context) error
	// Close releases backing resources.
	Close()
}
