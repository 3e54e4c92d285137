package monitor

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/restockd/restockd/internal/telemetry"
)

// ConfigSource supplies the externally owned configuration the orchestrator
// re-reads every cycle.
type ConfigSource interface {
	UserConfig(ctx context.Context, userID string) (UserConfig, error)
	StoreTargets(ctx context.Context, userID string) ([]StoreTarget, error)
	Keywords(ctx context.Context, userID string) ([]Keyword, error)
	Ping(ctx context.Context) error
}

// Fetcher retrieves one store's product listing.
type Fetcher interface {
	FetchListing(ctx context.Context, storeURL string) ([]ProductRecord, error)
	Close()
}

// Enqueuer admits payloads to the outbound notification queue. delivered runs
// once the payload actually reaches the sink.
type Enqueuer interface {
	Enqueue(payload NotificationPayload, delivered func()) bool
}

// OrchestratorConfig holds the orchestrator's own knobs; per-user behavior
// comes from the ConfigSource.
type OrchestratorConfig struct {
	UserID string
	// HealthInterval is the wall-clock period of the health check.
	HealthInterval time.Duration
	// IdleDelay is the wait applied when the user has no usable configuration.
	IdleDelay time.Duration
	// DefaultDelay is used when the user config carries no monitor delay.
	DefaultDelay time.Duration
}

func (c *OrchestratorConfig) applyDefaults() {
	if c.HealthInterval <= 0 {
		c.HealthInterval = 300 * time.Second
	}
	if c.IdleDelay <= 0 {
		c.IdleDelay = 30 * time.Second
	}
	if c.DefaultDelay <= 0 {
		c.DefaultDelay = 30 * time.Second
	}
}

// Orchestrator drives one user's monitoring loop through the states
// Idle -> Polling -> Waiting -> ... -> Stopped. All pipeline state it owns
// (dedup cache, fetcher pools) is private to the user.
type Orchestrator struct {
	cfg        OrchestratorConfig
	source     ConfigSource
	fetcher    Fetcher
	dispatcher Enqueuer
	dedup      *DedupCache
	logger     *zap.Logger

	mu            sync.Mutex
	state         State
	lastStats     CycleStats
	storeStatuses map[string]StoreStatus
}

// NewOrchestrator constructs an Orchestrator for one user.
func NewOrchestrator(
	cfg OrchestratorConfig,
	source ConfigSource,
	fetcher Fetcher,
	dispatcher Enqueuer,
	logger *zap.Logger,
) *Orchestrator {
	cfg.applyDefaults()
	return &Orchestrator{
		cfg:           cfg,
		source:        source,
		fetcher:       fetcher,
		dispatcher:    dispatcher,
		dedup:         NewDedupCache(),
		logger:        logger.With(zap.String("user_id", cfg.UserID)),
		state:         StateIdle,
		storeStatuses: make(map[string]StoreStatus),
	}
}

// Run blocks until the context is canceled or the user's enabled flag turns
// off. Recoverable per-store failures never abort the loop.
func (o *Orchestrator) Run(ctx context.Context) {
	// Derived cancel stops the health loop when the user-disabled exit path
	// returns without the parent context being canceled.
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	defer func() {
		o.setState(StateStopped)
		o.fetcher.Close()
		o.logger.Info("orchestrator stopped")
	}()

	go o.healthLoop(ctx)

	for {
		if ctx.Err() != nil {
			return
		}

		stats, err := o.RunCycle(ctx)
		switch {
		case errors.Is(err, ErrConfigMissing):
			o.setState(StateIdle)
			o.logger.Debug("no usable configuration, idling")
			if !o.wait(ctx, o.cfg.IdleDelay) {
				return
			}
			continue
		case errors.Is(err, errUserDisabled):
			return
		case err != nil:
			o.logger.Error("cycle failed", zap.Error(err))
			if !o.wait(ctx, o.cfg.IdleDelay) {
				return
			}
			continue
		}

		delay := o.cycleDelay(ctx, stats)
		o.setState(StateWaiting)
		if !o.wait(ctx, delay) {
			return
		}
	}
}

// errUserDisabled is internal: the user turned the monitor off.
var errUserDisabled = errors.New("user disabled")

// RunCycle performs one full pass: re-read configuration, fan out one task
// per enabled store, aggregate results.
func (o *Orchestrator) RunCycle(ctx context.Context) (CycleStats, error) {
	userCfg, err := o.source.UserConfig(ctx, o.cfg.UserID)
	if err != nil {
		return CycleStats{}, err
	}
	if !userCfg.Enabled {
		return CycleStats{}, errUserDisabled
	}

	stores, err := o.source.StoreTargets(ctx, o.cfg.UserID)
	if err != nil {
		return CycleStats{}, err
	}
	keywords, err := o.source.Keywords(ctx, o.cfg.UserID)
	if err != nil {
		return CycleStats{}, err
	}

	enabledStores := filterStores(stores)
	enabledKeywords := filterKeywords(keywords)
	if len(enabledStores) == 0 || len(enabledKeywords) == 0 {
		return CycleStats{}, ErrConfigMissing
	}

	o.setState(StatePolling)
	cycleID := uuid.NewString()
	stats := CycleStats{CycleID: cycleID, StoresChecked: len(enabledStores)}

	var mu sync.Mutex
	g := new(errgroup.Group)
	for _, target := range enabledStores {
		g.Go(func() error {
			matches, notifications, storeErr := o.pollStore(ctx, userCfg, target, enabledKeywords)
			mu.Lock()
			stats.Matches += matches
			stats.Notifications += notifications
			if storeErr != nil {
				stats.StoresFailed++
			}
			mu.Unlock()
			// Failures are isolated: logged in pollStore, never propagated,
			// so sibling stores keep running.
			return nil
		})
	}
	_ = g.Wait()

	stats.FinishedAt = time.Now()
	o.recordStats(stats)
	telemetry.ObserveCycle(o.cfg.UserID)
	telemetry.IncProductsMatched(stats.Matches)
	o.logger.Info("cycle complete",
		zap.String("cycle_id", cycleID),
		zap.Int("stores_checked", stats.StoresChecked),
		zap.Int("stores_failed", stats.StoresFailed),
		zap.Int("matches", stats.Matches),
		zap.Int("notifications", stats.Notifications),
	)
	return stats, nil
}

func (o *Orchestrator) pollStore(
	ctx context.Context,
	userCfg UserConfig,
	target StoreTarget,
	keywords []Keyword,
) (matches, notifications int, err error) {
	o.setStoreStatus(target.URL, StoreStatusChecking)

	products, err := o.fetcher.FetchListing(ctx, target.URL)
	if err != nil {
		o.setStoreStatus(target.URL, StoreStatusError)
		telemetry.ObserveStoreStatus(string(StoreStatusError))
		o.logStoreError(target.URL, err)
		return 0, 0, err
	}

	for _, product := range products {
		if !Matches(product, keywords) || !product.Available() {
			continue
		}
		matches++
		if userCfg.MaxProducts > 0 && notifications >= userCfg.MaxProducts {
			continue
		}
		if !o.dedup.ShouldNotify(target.URL, o.cfg.UserID, product) {
			continue
		}
		payload := NewPayloadBuilder(target.URL, product).
			WithSizes(product).
			WithVariantLinks(target.URL, product).
			Build()
		key := DedupKey(target.URL, o.cfg.UserID, product)
		if o.dispatcher.Enqueue(payload, func() { o.dedup.RecordKey(key) }) {
			notifications++
		}
	}

	if matches == 0 {
		o.setStoreStatus(target.URL, StoreStatusNoProducts)
		telemetry.ObserveStoreStatus(string(StoreStatusNoProducts))
	} else {
		o.setStoreStatus(target.URL, StoreStatusSuccess)
		telemetry.ObserveStoreStatus(string(StoreStatusSuccess))
	}
	return matches, notifications, nil
}

// logStoreError maps the failure taxonomy to log severity: backoff skips and
// unreachable stores are routine, everything else is a warning.
func (o *Orchestrator) logStoreError(storeURL string, err error) {
	fields := []zap.Field{zap.String("store", storeURL), zap.Error(err)}
	switch {
	case errors.Is(err, ErrDomainBackoff):
		o.logger.Debug("store skipped, domain in backoff", fields...)
	case errors.Is(err, ErrResolutionFailure), errors.Is(err, ErrProbeFailure):
		o.logger.Info("store unreachable this cycle", fields...)
	default:
		o.logger.Warn("store poll failed", fields...)
	}
}

// cycleDelay computes the adaptive inter-cycle wait: the configured delay is
// shortened by the success multiplier when the cycle produced notifications,
// floored at the minimum cycle delay so the loop never spins.
func (o *Orchestrator) cycleDelay(ctx context.Context, stats CycleStats) time.Duration {
	userCfg, err := o.source.UserConfig(ctx, o.cfg.UserID)
	if err != nil {
		return o.cfg.DefaultDelay
	}
	delay := userCfg.MonitorDelay
	if delay <= 0 {
		delay = o.cfg.DefaultDelay
	}
	if stats.Notifications > 0 && userCfg.SuccessDelayMultiplier > 0 {
		delay = time.Duration(float64(delay) * userCfg.SuccessDelayMultiplier)
	}
	minDelay := userCfg.MinCycleDelay
	if minDelay <= 0 {
		minDelay = time.Second
	}
	if delay < minDelay {
		delay = minDelay
	}
	return delay
}

func (o *Orchestrator) healthLoop(ctx context.Context) {
	ticker := time.NewTicker(o.cfg.HealthInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			o.healthCheck(ctx)
		}
	}
}

// healthCheck verifies the configuration store is reachable and logs the
// aggregate per-store status without blocking the poll cycle.
func (o *Orchestrator) healthCheck(ctx context.Context) {
	healthy := true
	if err := o.source.Ping(ctx); err != nil {
		healthy = false
		o.logger.Warn("configuration store unreachable", zap.Error(err))
	}
	o.logger.Info("health check",
		zap.Bool("config_store_reachable", healthy),
		zap.String("state", string(o.State())),
		zap.Any("stores", o.StoreStatuses()),
	)
}

func (o *Orchestrator) wait(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

// State returns the current lifecycle state.
func (o *Orchestrator) State() State {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}

// LastStats returns the most recent completed cycle summary.
func (o *Orchestrator) LastStats() CycleStats {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.lastStats
}

// StoreStatuses returns a snapshot of per-store outcomes.
func (o *Orchestrator) StoreStatuses() map[string]StoreStatus {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make(map[string]StoreStatus, len(o.storeStatuses))
	for k, v := range o.storeStatuses {
		out[k] = v
	}
	return out
}

func (o *Orchestrator) setState(s State) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.state = s
}

func (o *Orchestrator) recordStats(stats CycleStats) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.lastStats = stats
}

func (o *Orchestrator) setStoreStatus(url string, status StoreStatus) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.storeStatuses[url] = status
}

func filterStores(stores []StoreTarget) []StoreTarget {
	out := stores[:0:0]
	for _, s := range stores {
		if s.Enabled {
			out = append(out, s)
		}
	}
	return out
}

func filterKeywords(keywords []Keyword) []Keyword {
	out := keywords[:0:0]
	for _, k := range keywords {
		if k.Enabled {
			out = append(out, k)
		}
	}
	return out
}
