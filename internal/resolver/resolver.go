// Package resolver implements DNS resolution with ordered fallback across
// resolver configurations, a time-bounded answer cache, and a cheap TCP
// reachability probe.
package resolver

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/restockd/restockd/internal/monitor"
)

// Config controls resolution timeouts and caching.
type Config struct {
	// AttemptTimeout bounds one lookup against one resolver.
	AttemptTimeout time.Duration
	// LifetimeTimeout bounds the whole fallback chain.
	LifetimeTimeout time.Duration
	// CacheTTL is how long a successful answer is reused.
	CacheTTL time.Duration
	// ProbeTimeout bounds the TCP reachability check.
	ProbeTimeout time.Duration
}

func (c *Config) applyDefaults() {
	if c.AttemptTimeout <= 0 {
		c.AttemptTimeout = 2 * time.Second
	}
	if c.LifetimeTimeout <= 0 {
		c.LifetimeTimeout = 4 * time.Second
	}
	if c.CacheTTL <= 0 {
		c.CacheTTL = time.Hour
	}
	if c.ProbeTimeout <= 0 {
		c.ProbeTimeout = 2 * time.Second
	}
}

type upstream struct {
	name     string
	resolver *net.Resolver
}

type cacheEntry struct {
	addr    string
	expires time.Time
}

// Resolver answers hostname lookups through an ordered list of resolver
// configurations: the system default first, then named public resolvers.
// The answer cache is internally synchronized and safe to share across all
// store tasks in the process.
type Resolver struct {
	cfg       Config
	upstreams []upstream
	logger    *zap.Logger

	mu    sync.Mutex
	cache map[string]cacheEntry

	now       func() time.Time
	probePort string
}

// New builds a Resolver falling back from the system resolver to Cloudflare
// and Google public DNS.
func New(cfg Config, logger *zap.Logger) *Resolver {
	cfg.applyDefaults()
	return &Resolver{
		cfg: cfg,
		upstreams: []upstream{
			{name: "system", resolver: net.DefaultResolver},
			{name: "cloudflare", resolver: namedResolver("1.1.1.1:53", cfg.AttemptTimeout)},
			{name: "google", resolver: namedResolver("8.8.8.8:53", cfg.AttemptTimeout)},
		},
		logger:    logger,
		cache:     make(map[string]cacheEntry),
		now:       time.Now,
		probePort: "443",
	}
}

func namedResolver(addr string, timeout time.Duration) *net.Resolver {
	return &net.Resolver{
		PreferGo: true,
		Dial: func(ctx context.Context, network, _ string) (net.Conn, error) {
			d := net.Dialer{Timeout: timeout}
			return d.DialContext(ctx, network, addr)
		},
	}
}

// Resolve returns an IP address for the domain, trying each upstream in order
// until one answers. Answers are cached; an exhausted chain yields
// monitor.ErrResolutionFailure, which callers treat as "store unreachable this
// cycle".
func (r *Resolver) Resolve(ctx context.Context, domain string) (string, error) {
	if addr, ok := r.cached(domain); ok {
		return addr, nil
	}

	ctx, cancel := context.WithTimeout(ctx, r.cfg.LifetimeTimeout)
	defer cancel()

	for _, up := range r.upstreams {
		addr, err := r.lookup(ctx, up, domain)
		if err == nil {
			r.store(domain, addr)
			return addr, nil
		}
		if ctx.Err() != nil {
			break
		}
		r.logger.Debug("resolver attempt failed",
			zap.String("domain", domain),
			zap.String("resolver", up.name),
			zap.Error(err),
		)
	}
	return "", fmt.Errorf("%w: %s", monitor.ErrResolutionFailure, domain)
}

func (r *Resolver) lookup(ctx context.Context, up upstream, domain string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, r.cfg.AttemptTimeout)
	defer cancel()

	ips, err := up.resolver.LookupIPAddr(ctx, domain)
	if err != nil {
		return "", fmt.Errorf("lookup %s via %s: %w", domain, up.name, err)
	}
	for _, ip := range ips {
		if v4 := ip.IP.To4(); v4 != nil {
			return v4.String(), nil
		}
	}
	if len(ips) > 0 {
		return ips[0].IP.String(), nil
	}
	return "", fmt.Errorf("lookup %s via %s: empty answer", domain, up.name)
}

// Probe attempts a bare TCP connect to port 443 at addr to confirm liveness
// before the real fetch. A false return only skips the store for this cycle.
func (r *Resolver) Probe(ctx context.Context, addr string) bool {
	d := net.Dialer{Timeout: r.cfg.ProbeTimeout}
	conn, err := d.DialContext(ctx, "tcp", net.JoinHostPort(addr, r.probePort))
	if err != nil {
		return false
	}
	_ = conn.Close()
	return true
}

func (r *Resolver) cached(domain string) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	entry, ok := r.cache[domain]
	if !ok || r.now().After(entry.expires) {
		return "", false
	}
	return entry.addr, true
}

func (r *Resolver) store(domain, addr string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cache[domain] = cacheEntry{addr: addr, expires: r.now().Add(r.cfg.CacheTTL)}
}
