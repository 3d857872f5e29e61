package a2a

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"goa.design/orchestra/telemetry"
)

// PoolConfig bounds the connection groups handed out by a Pool (§4.2).
type PoolConfig struct {
	// MaxConnsTotal is the total connection cap across all hosts.
	MaxConnsTotal int
	// MaxConnsPerHost is the per-host connection cap.
	MaxConnsPerHost int
	// DNSCacheTTL approximates DNS caching via the transport's idle
	// connection lifetime.
	DNSCacheTTL time.Duration
	// KeepAlive is the TCP keep-alive interval.
	KeepAlive time.Duration
	// SweepInterval is how often the pool recycles entries older than
	// MaxEntryAge.
	SweepInterval time.Duration
	// MaxEntryAge is how long a pool entry may live before a sweep
	// recycles it even if still in use, bounding how long a single DNS
	// resolution or a since-rotated credential stays pinned to a client.
	MaxEntryAge time.Duration
}

// DefaultPoolConfig returns the spec's default pool sizing (§4.2).
func DefaultPoolConfig() PoolConfig {
	return PoolConfig{
		MaxConnsTotal:    50,
		MaxConnsPerHost:  20,
		DNSCacheTTL:      300 * time.Second,
		KeepAlive:        30 * time.Second,
		SweepInterval:    30 * time.Second,
		MaxEntryAge:      10 * time.Minute,
	}
}

// poolKey is (base URL, timeout): the spec's named defect fix. A short
// health-check session and a long task-call session to the same base URL
// must never share an entry, since a shared *http.Client would cap both at
// whichever timeout was configured first.
type poolKey struct {
	baseURL string
	timeout time.Duration
}

// poolEntry owns one HTTP connection group. Entries are immutable once
// created: a recycle replaces the map entry rather than mutating the
// *http.Client in place, so in-flight callers holding a reference keep
// using a consistent transport.
type poolEntry struct {
	client    *http.Client
	limiter   *rate.Limiter
	createdAt time.Time
}

// Pool hands out *http.Client instances keyed on (baseURL, timeout). It is
// shared across threads/goroutines and protected by a mutex; see §5 Shared-
// resource policy.
type Pool struct {
	cfg PoolConfig
	obs telemetry.Provider

	mu      sync.Mutex
	entries map[poolKey]*poolEntry

	sweepCancel context.CancelFunc
	sweepDone   chan struct{}
}

// NewPool constructs a Pool and starts its background sweep goroutine.
func NewPool(cfg PoolConfig, obs telemetry.Provider) *Pool {
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = 30 * time.Second
	}
	ctx, cancel := context.WithCancel(context.Background())
	p := &Pool{
		cfg:         cfg,
		obs:         obs,
		entries:     make(map[poolKey]*poolEntry),
		sweepCancel: cancel,
		sweepDone:   make(chan struct{}),
	}
	go p.sweepLoop(ctx)
	return p
}

// Get returns the *http.Client for (baseURL, timeout), creating a fresh
// pool entry on first use. The socket read deadline honours
// sockReadTimeout when it exceeds timeout, matching the documented
// sock_read_timeout >= timeout invariant.
func (p *Pool) Get(baseURL string, timeout, sockReadTimeout time.Duration) *http.Client {
	key := poolKey{baseURL: baseURL, timeout: timeout}

	p.mu.Lock()
	defer p.mu.Unlock()

	if entry, ok := p.entries[key]; ok {
		return entry.client
	}

	readTimeout := timeout
	if sockReadTimeout > readTimeout {
		readTimeout = sockReadTimeout
	}

	transport := &http.Transport{
		MaxConnsPerHost:     p.cfg.MaxConnsPerHost,
		MaxIdleConns:        p.cfg.MaxConnsTotal,
		MaxIdleConnsPerHost: p.cfg.MaxConnsPerHost,
		IdleConnTimeout:     p.cfg.DNSCacheTTL,
		DialContext: (&net.Dialer{
			Timeout:   timeout,
			KeepAlive: p.cfg.KeepAlive,
		}).DialContext,
		ResponseHeaderTimeout: readTimeout,
	}

	entry := &poolEntry{
		client:    &http.Client{Transport: transport, Timeout: timeout},
		limiter:   rate.NewLimiter(rate.Limit(p.cfg.MaxConnsPerHost), p.cfg.MaxConnsPerHost),
		createdAt: time.Now(),
	}
	p.entries[key] = entry
	p.obs.Metrics.IncCounter("a2a.pool.entries_created", 1, "base_url", baseURL)
	return entry.client
}

// Wait blocks until a dial slot for baseURL/timeout is available, applying
// the per-host backpressure limiter before a caller opens a new request.
func (p *Pool) Wait(ctx context.Context, baseURL string, timeout time.Duration) error {
	p.mu.Lock()
	entry, ok := p.entries[poolKey{baseURL: baseURL, timeout: timeout}]
	p.mu.Unlock()
	if !ok {
		return nil
	}
	return entry.limiter.Wait(ctx)
}

// Close stops the background sweep and releases all pool entries.
func (p *Pool) Close() {
	p.sweepCancel()
	<-p.sweepDone

	p.mu.Lock()
	defer p.mu.Unlock()
	for key, entry := range p.entries {
		if transport, ok := entry.client.Transport.(*http.Transport); ok {
			transport.CloseIdleConnections()
		}
		delete(p.entries, key)
	}
}

func (p *Pool) sweepLoop(ctx context.Context) {
	defer close(p.sweepDone)
	ticker := time.NewTicker(p.cfg.SweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.sweep()
		}
	}
}

// sweep recycles pool entries older than MaxEntryAge, closing their idle
// connections and dropping them so the next Get rebuilds a fresh transport
// (§4.2's "background sweep removes closed sessions").
func (p *Pool) sweep() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for key, entry := range p.entries {
		if time.Since(entry.createdAt) <= p.cfg.MaxEntryAge {
			continue
		}
		if transport, ok := entry.client.Transport.(*http.Transport); ok {
			transport.CloseIdleConnections()
		}
		delete(p.entries, key)
		p.obs.Logger.Info(context.Background(), "recycled a2a pool entry", "base_url", key.baseURL)
		p.obs.Metrics.IncCounter("a2a.pool.entries_recycled", 1, "base_url", key.baseURL)
	}
}

// String renders a poolKey for diagnostics and tests.
func (k poolKey) String() string {
	return fmt.Sprintf("%s@%s", k.baseURL, k.timeout)
}
