// Package memory provides an in-memory configstore.Provider for local runs
// and tests.
package memory

import (
	"context"
	"sync"

	"github.com/restockd/restockd/internal/configstore"
	"github.com/restockd/restockd/internal/monitor"
)

// Store holds configuration in memory. Safe for concurrent use.
type Store struct {
	mu       sync.RWMutex
	configs  map[string]monitor.UserConfig
	stores   map[string][]monitor.StoreTarget
	keywords map[string][]monitor.Keyword
	pingErr  error
}

// New returns an empty Store.
func New() *Store {
	return &Store{
		configs:  make(map[string]monitor.UserConfig),
		stores:   make(map[string][]monitor.StoreTarget),
		keywords: make(map[string][]monitor.Keyword),
	}
}

// SetUser installs or replaces a user's full configuration.
func (s *Store) SetUser(cfg monitor.UserConfig, targets []monitor.StoreTarget, keywords []monitor.Keyword) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.configs[cfg.UserID] = cfg
	s.stores[cfg.UserID] = targets
	s.keywords[cfg.UserID] = keywords
}

// SetPingError makes subsequent Pings fail, for health check tests.
func (s *Store) SetPingError(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pingErr = err
}

// UserConfig implements configstore.Provider.
func (s *Store) UserConfig(_ context.Context, userID string) (monitor.UserConfig, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cfg, ok := s.configs[userID]
	if !ok {
		return monitor.UserConfig{}, configstore.ErrNotFound
	}
	return cfg, nil
}

// StoreTargets implements configstore.Provider.
func (s *Store) StoreTargets(_ context.Context, userID string) ([]monitor.StoreTarget, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]monitor.StoreTarget, len(s.stores[userID]))
	copy(out, s.stores[userID])
	return out, nil
}

// Keywords implements configstore.Provider.
func (s *Store) Keywords(_ context.Context, userID string) ([]monitor.Keyword, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]monitor.Keyword, len(s.keywords[userID]))
	copy(out, s.keywords[userID])
	return out, nil
}

// Ping implements configstore.Provider.
func (s *Store) Ping(_ context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.pingErr
}

// Close implements configstore.Provider.
func (s *Store) Close() {}
