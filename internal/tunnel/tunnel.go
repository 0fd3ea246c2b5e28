// Package tunnel implements the endpoint discovery resolver (component B):
// IPv6 tunnel-daemon lookup with a USB-mux local-forward fallback, per
// §4.2.1.
package tunnel

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os/exec"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/danielpaulus/go-ios/ios"

	"github.com/devicelab-dev/quern/internal/core"
	"github.com/devicelab-dev/quern/internal/logx"
	"github.com/devicelab-dev/quern/internal/wdaclient"
)

const (
	wdaPort          = 8100
	statusPingTimeout = 2 * time.Second
	forwardStartDelay = 500 * time.Millisecond
	firstForwardPort  = 18100
)

// deviceLister is the narrow go-ios surface Resolver needs: enumerate
// attached physical devices by their hardware UDID (SerialNumber). The
// listing does not report CoreDevice UUIDs; kept as an interface so tests
// can fake it.
type deviceLister interface {
	ListDevices() ([]ios.DeviceEntry, error)
}

type goIOSLister struct{}

func (goIOSLister) ListDevices() ([]ios.DeviceEntry, error) {
	list, err := ios.ListDevices()
	if err != nil {
		return nil, err
	}
	return list.DeviceList, nil
}

// tunnelEntry is one row of the tunnel daemon's HTTP index.
type tunnelEntry struct {
	UDID    string `json:"udid"`
	Address string `json:"address"`
}

// Resolver implements wdaclient.Resolver.
type Resolver struct {
	daemonURL  string
	httpClient *http.Client
	lister     deviceLister
	log        *slog.Logger

	nextPort atomic.Int32

	mu      sync.Mutex
	mapping map[string]string // CoreDevice UUID -> hardware UDID, cached for process lifetime
}

// New constructs a Resolver. daemonURL is the tunnel daemon's HTTP index
// base (e.g. "http://localhost:5555"). The auto-start retry on failed
// resolution is the caller's (wdaclient.Client's) responsibility, not
// this resolver's — it performs one discovery attempt per call.
func New(daemonURL string) *Resolver {
	r := &Resolver{
		daemonURL:  daemonURL,
		httpClient: &http.Client{},
		lister:     goIOSLister{},
		log:        logx.For("tunnel"),
		mapping:    make(map[string]string),
	}
	r.nextPort.Store(firstForwardPort)
	return r
}

var _ wdaclient.Resolver = (*Resolver)(nil)

// Resolve implements the two-path discovery order from §4.2.1.
func (r *Resolver) Resolve(ctx context.Context, udid string) (string, *wdaclient.Forward, error) {
	if baseURL, err := r.resolveViaTunnelDaemon(ctx, udid); err == nil {
		return baseURL, nil, nil
	}

	if baseURL, forward, err := r.resolveViaUSBMux(ctx, udid); err == nil {
		return baseURL, forward, nil
	}

	return "", nil, core.ErrUnavailable.WithMessage(fmt.Sprintf("no reachable WDA endpoint for %s", udid))
}

// resolveViaTunnelDaemon queries the daemon's index for a published IPv6
// tunnel address keyed by hardware UDID, applying the single-device
// shortcut when the index lists exactly one entry.
func (r *Resolver) resolveViaTunnelDaemon(ctx context.Context, udid string) (string, error) {
	entries, err := r.fetchIndex(ctx)
	if err != nil {
		return "", err
	}
	if len(entries) == 0 {
		return "", fmt.Errorf("tunnel daemon has no published tunnels")
	}

	if len(entries) == 1 {
		return r.probeTunnel(ctx, entries[0].Address)
	}

	hardwareUDID, err := r.resolveHardwareUDID(udid)
	if err != nil {
		return "", err
	}
	for _, e := range entries {
		if e.UDID == hardwareUDID {
			return r.probeTunnel(ctx, e.Address)
		}
	}
	return "", fmt.Errorf("no tunnel published for udid %s", udid)
}

func (r *Resolver) fetchIndex(ctx context.Context) ([]tunnelEntry, error) {
	reqCtx, cancel := context.WithTimeout(ctx, statusPingTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, r.daemonURL+"/", nil)
	if err != nil {
		return nil, err
	}
	resp, err := r.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	var entries []tunnelEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("decoding tunnel daemon index: %w", err)
	}
	return entries, nil
}

func (r *Resolver) probeTunnel(ctx context.Context, address string) (string, error) {
	baseURL := fmt.Sprintf("http://[%s]:%d", address, wdaPort)
	if err := probeStatus(ctx, r.httpClient, baseURL); err != nil {
		return "", err
	}
	return baseURL, nil
}

// resolveHardwareUDID looks an ID up in go-ios's device listing, caching an
// identity mapping for every enumerated UDID for the process lifetime. An ID
// the listing does not contain (such as a CoreDevice UUID) is returned
// unchanged.
func (r *Resolver) resolveHardwareUDID(coreDeviceUUID string) (string, error) {
	r.mu.Lock()
	if mapped, ok := r.mapping[coreDeviceUUID]; ok {
		r.mu.Unlock()
		return mapped, nil
	}
	r.mu.Unlock()

	devices, err := r.lister.ListDevices()
	if err != nil {
		return "", fmt.Errorf("enumerating devices: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	for _, d := range devices {
		udid := d.Properties.SerialNumber
		r.mapping[udid] = udid
	}
	if mapped, ok := r.mapping[coreDeviceUUID]; ok {
		return mapped, nil
	}
	return coreDeviceUUID, nil
}

// resolveViaUSBMux spawns a local forward subprocess on a port from the
// monotonic counter, waits for it to bind, then probes /status.
func (r *Resolver) resolveViaUSBMux(ctx context.Context, udid string) (string, *wdaclient.Forward, error) {
	port := int(r.nextPort.Add(1)) - 1
	portStr := strconv.Itoa(port)

	cmd := exec.CommandContext(ctx, "iproxy", portStr+":"+strconv.Itoa(wdaPort), "-u", udid)
	if err := cmd.Start(); err != nil {
		return "", nil, fmt.Errorf("iproxy failed to start: %w", err)
	}

	time.Sleep(forwardStartDelay)

	baseURL := fmt.Sprintf("http://localhost:%d", port)
	if err := probeStatus(ctx, r.httpClient, baseURL); err != nil {
		_ = cmd.Process.Kill()
		return "", nil, err
	}

	return baseURL, wdaclient.NewForward(port, cmd), nil
}

func probeStatus(ctx context.Context, client *http.Client, baseURL string) error {
	reqCtx, cancel := context.WithTimeout(ctx, statusPingTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, baseURL+"/status", nil)
	if err != nil {
		return err
	}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("status probe at %s returned %d", baseURL, resp.StatusCode)
	}
	return nil
}
