package wdaclient

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"syscall"
	"time"

	"github.com/devicelab-dev/quern/internal/core"
	"github.com/devicelab-dev/quern/internal/logx"
	"github.com/devicelab-dev/quern/internal/metrics"
)

// Resolver maps a UDID to a reachable WDA base URL (component B). It may
// spawn and own a USB-mux forward subprocess, returned so the client can
// tear it down on shutdown.
type Resolver interface {
	Resolve(ctx context.Context, udid string) (baseURL string, forward *Forward, err error)
}

// Restarter restarts a hung driver (component C), used by the client's
// auto-start/auto-restart paths.
type Restarter interface {
	Start(ctx context.Context, udid, osVersion string) error
}

// Config tunes the client's timeout regimes; zero values fall back to the
// spec's defaults.
type Config struct {
	IdleTimeout       time.Duration // default 15m
	IdleCheckInterval time.Duration // default 60s
	SnapshotMaxDepth  int           // default 10
	SourceSoftTimeout time.Duration // default 3s
	StatusPingTimeout time.Duration // default 2s
	DefaultTimeout    time.Duration // default 10s, for simple operations
}

func (c Config) withDefaults() Config {
	if c.IdleTimeout == 0 {
		c.IdleTimeout = 15 * time.Minute
	}
	if c.IdleCheckInterval == 0 {
		c.IdleCheckInterval = 60 * time.Second
	}
	if c.SnapshotMaxDepth == 0 {
		c.SnapshotMaxDepth = 10
	}
	if c.SourceSoftTimeout == 0 {
		c.SourceSoftTimeout = 3 * time.Second
	}
	if c.StatusPingTimeout == 0 {
		c.StatusPingTimeout = 2 * time.Second
	}
	if c.DefaultTimeout == 0 {
		c.DefaultTimeout = 10 * time.Second
	}
	return c
}

// Client is the per-process WDA client: one connection cache, one idle
// reaper, shared across all UDIDs it has talked to.
type Client struct {
	resolver  Resolver
	restarter Restarter
	cfg       Config
	log       *slog.Logger

	mu           sync.Mutex
	conns        map[string]*connection
	resolveLocks map[string]*sync.Mutex // per-UDID, serializes resolveConnection's check->lock->re-check->create
	osVersions   map[string]string      // UDID -> last known os_version, for auto-start

	reaperOnce   sync.Once
	reaperCancel context.CancelFunc
	reaperDone   chan struct{}

	metrics *metrics.Registry
}

// WithMetrics attaches a metrics registry; nil is safe and disables recording.
func (c *Client) WithMetrics(m *metrics.Registry) *Client {
	c.metrics = m
	return c
}

// New constructs a Client. Auto-start and auto-restart only happen for a
// UDID whose os_version was recorded via RememberOSVersion; for any other
// UDID an unreachable endpoint is returned as UNAVAILABLE.
func New(resolver Resolver, restarter Restarter, cfg Config) *Client {
	return &Client{
		resolver:     resolver,
		restarter:    restarter,
		cfg:          cfg.withDefaults(),
		log:          logx.For("wdaclient"),
		conns:        make(map[string]*connection),
		resolveLocks: make(map[string]*sync.Mutex),
		osVersions:   make(map[string]string),
	}
}

// RememberOSVersion records the os_version used for a UDID's auto-start retry.
func (c *Client) RememberOSVersion(udid, osVersion string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.osVersions[udid] = osVersion
}

func (c *Client) getConn(udid string) (*connection, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	conn, ok := c.conns[udid]
	return conn, ok
}

func (c *Client) setConn(udid string, conn *connection) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.conns[udid] = conn
}

func (c *Client) dropConn(udid string) *connection {
	c.mu.Lock()
	defer c.mu.Unlock()
	conn, ok := c.conns[udid]
	if !ok {
		return nil
	}
	delete(c.conns, udid)
	return conn
}

// resolveConnection returns the cached connection for udid, resolving and
// caching a new one (with an auto-start retry) if none exists yet. The
// resolve-and-cache step is itself guarded by a per-UDID lock using the same
// check -> lock -> re-check -> create pattern ensureSession uses for session
// creation: without it, N concurrent first-callers for a UDID with no cached
// connection would each independently resolve a base URL and construct (and
// race to cache) their own *connection, each then creating its own session
// on ensureSession's per-connection mutex — N sessions instead of one.
func (c *Client) resolveConnection(ctx context.Context, udid string) (*connection, error) {
	if conn, ok := c.getConn(udid); ok {
		return conn, nil
	}

	lock := c.udidResolveLock(udid)
	lock.Lock()
	defer lock.Unlock()

	// Re-check: another goroutine may have resolved and cached a connection
	// for this udid while we were waiting for the lock.
	if conn, ok := c.getConn(udid); ok {
		return conn, nil
	}

	baseURL, forward, err := c.resolver.Resolve(ctx, udid)
	if err != nil {
		c.mu.Lock()
		osVersion := c.osVersions[udid]
		c.mu.Unlock()

		if osVersion != "" && c.restarter != nil {
			c.log.Info("endpoint unreachable, auto-starting driver", "udid", udid)
			if startErr := c.restarter.Start(ctx, udid, osVersion); startErr != nil {
				return nil, core.ErrUnavailable.WithCause(startErr)
			}
			baseURL, forward, err = c.resolver.Resolve(ctx, udid)
		}
		if err != nil {
			return nil, core.ErrUnavailable.WithCause(err)
		}
	}

	conn := newConnection(baseURL)
	conn.forward = forward
	c.setConn(udid, conn)
	c.startReaper()
	return conn, nil
}

// udidResolveLock returns the per-UDID mutex guarding resolveConnection's
// resolve-then-cache section, creating it on first use.
func (c *Client) udidResolveLock(udid string) *sync.Mutex {
	c.mu.Lock()
	defer c.mu.Unlock()
	lock, ok := c.resolveLocks[udid]
	if !ok {
		lock = &sync.Mutex{}
		c.resolveLocks[udid] = lock
	}
	return lock
}

func (c *Client) startReaper() {
	c.reaperOnce.Do(func() {
		ctx, cancel := context.WithCancel(context.Background())
		c.reaperCancel = cancel
		c.reaperDone = make(chan struct{})
		go c.reaperLoop(ctx)
	})
}

func (c *Client) reaperLoop(ctx context.Context) {
	defer close(c.reaperDone)
	ticker := time.NewTicker(c.cfg.IdleCheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if c.metrics != nil {
				c.metrics.WDAIdleReaperSweeps.Inc()
			}
			c.reapIdleSessions()
		}
	}
}

func (c *Client) reapIdleSessions() {
	now := time.Now()

	c.mu.Lock()
	var stale []string
	for udid, conn := range c.conns {
		conn.mu.RLock()
		idle := conn.idleFor(now)
		hasSession := conn.sessionID != ""
		conn.mu.RUnlock()
		if hasSession && idle > c.cfg.IdleTimeout {
			stale = append(stale, udid)
		}
	}
	c.mu.Unlock()

	for _, udid := range stale {
		c.log.Info("reaping idle session", "udid", udid)
		_ = c.DeleteSession(context.Background(), udid)
		if c.metrics != nil {
			c.metrics.WDAIdleConnectionsCut.Inc()
		}
	}
}

// Shutdown cancels the idle reaper, deletes every active session
// (best-effort), and terminates every forward subprocess — graceful first,
// then force — per §4.2.5.
func (c *Client) Shutdown(ctx context.Context) {
	if c.reaperCancel != nil {
		c.reaperCancel()
		<-c.reaperDone
	}

	c.mu.Lock()
	conns := c.conns
	c.conns = make(map[string]*connection)
	c.mu.Unlock()

	for udid, conn := range conns {
		conn.mu.RLock()
		sessionID := conn.sessionID
		baseURL := conn.baseURL
		fwd := conn.forward
		conn.mu.RUnlock()

		if sessionID != "" {
			if _, err := rawDelete(ctx, conn.httpClient, baseURL, "/session/"+sessionID, c.cfg.DefaultTimeout); err != nil {
				c.log.Debug("best-effort session delete failed on shutdown", "udid", udid, "err", err)
			}
		}
		if fwd != nil {
			terminateForward(fwd)
		}
	}
}

// terminateForward sends the forward process SIGTERM, waits briefly, then
// force-kills — the same graceful-then-force pattern the lifecycle manager
// uses for the driver process itself.
func terminateForward(f *Forward) {
	if f.cmd == nil || f.cmd.Process == nil {
		return
	}
	_ = f.cmd.Process.Signal(syscall.SIGTERM)

	done := make(chan struct{})
	go func() {
		_ = f.cmd.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(3 * time.Second):
		_ = f.cmd.Process.Kill()
	}
}

func udidError(udid string, err error) error {
	return fmt.Errorf("udid %s: %w", udid, err)
}

// transportErr drops udid's cached connection and wraps err as a
// WDA_TRANSPORT error, per §4.2.3/§7: any connect/read/timeout failure on
// the dispatch path invalidates the connection so the next call reconnects.
func (c *Client) transportErr(udid string, err error) error {
	c.dropConn(udid)
	if c.metrics != nil {
		c.metrics.WDATransportErrors.WithLabelValues(udid).Inc()
	}
	return core.ErrWDATransport.WithDetails(map[string]interface{}{"udid": udid}).WithCause(err)
}
