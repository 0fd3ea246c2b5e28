// Package wdaclient implements the WDA client (component D): per-device
// connection cache, session lifecycle, request dispatch with two timeout
// regimes, and a lazily-started idle reaper.
package wdaclient

import (
	"net/http"
	"os/exec"
	"sync"
	"time"
)

// Forward is the local-port USB-mux forward handle a connection may own,
// when the tunnel resolver fell back to the USB-mux path.
type Forward struct {
	LocalPort int
	cmd       *exec.Cmd
}

// NewForward wraps a running forward subprocess so a Resolver can hand it
// back to the client for lifetime management without exposing cmd itself.
func NewForward(localPort int, cmd *exec.Cmd) *Forward {
	return &Forward{LocalPort: localPort, cmd: cmd}
}

// connection is the per-UDID WdaConnection record from §3: base URL, the
// current session (if any), the forward handle (if the USB-mux path was
// used), last-interaction time, and the depth last pushed via settings.
type connection struct {
	// mu guards session creation. An RWMutex lets the check→lock→re-check→
	// create pattern from §4.2.2 do its "fast path" as an RLock — cheap and
	// never blocked by a concurrent reader — while session creation itself
	// takes the exclusive Lock.
	mu sync.RWMutex

	baseURL   string
	sessionID string
	forward   *Forward

	lastInteraction time.Time
	snapshotDepth   int // 0 means "no settings POST issued yet"

	httpClient *http.Client
}

func newConnection(baseURL string) *connection {
	return &connection{
		baseURL: baseURL,
		httpClient: &http.Client{
			// No blanket client timeout: dispatch() applies a per-call
			// context deadline instead, so /source's longer soft timeout
			// and a tap's short one can differ per call.
		},
		lastInteraction: time.Now(),
	}
}

func (c *connection) touch() {
	c.lastInteraction = time.Now()
}

func (c *connection) idleFor(now time.Time) time.Duration {
	return now.Sub(c.lastInteraction)
}

// snapshot returns the fields a request needs under a brief RLock, so the
// network call itself never holds the connection mutex.
func (c *connection) snapshot() (sessionID, baseURL string, client *http.Client) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.sessionID, c.baseURL, c.httpClient
}

func (c *connection) markTouched() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.touch()
}
