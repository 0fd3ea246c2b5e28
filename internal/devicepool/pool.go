// Package devicepool implements the device pool (component G): resolving
// logical device criteria to a UDID, booting additional simulators on
// demand, and session-scoped claim/release leases, plus the "active
// device" used when a caller omits a UDID.
//
// Grounded on k-kohey-axe-cli's DevicePool (cmd/internal/platform/device_pool.go)
// for the lease-map/mutex shape, generalized from its simulator-only
// acquire/reuse model to the spec's resolve-by-criteria + ensure + claim
// split, and extended with the ActiveUdid field that pool doesn't have.
package devicepool

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/devicelab-dev/quern/internal/core"
	"github.com/devicelab-dev/quern/internal/logx"
	"github.com/devicelab-dev/quern/internal/metrics"
	"github.com/devicelab-dev/quern/internal/simhost"
)

// Pool resolves, boots, and leases devices.
type Pool struct {
	mu     sync.Mutex
	claims map[string]PoolClaim

	// activeUDID has no mutex: last-writer-wins is an accepted
	// inconsistency per the spec's concurrency model, not an oversight.
	activeUDID string

	sim    booter
	lister lister
	log    *slog.Logger
	metrics *metrics.Registry
}

// booter is the narrow simulator-boot surface Ensure needs, the same seam
// lister uses to keep simhost's real xcrun calls out of unit tests.
type booter interface {
	Boot(ctx context.Context, udid string) error
}

// WithMetrics attaches a metrics registry; nil is safe and disables recording.
func (p *Pool) WithMetrics(m *metrics.Registry) *Pool {
	p.metrics = m
	return p
}

// New constructs a Pool backed by simctl for simulator boot/list and
// go-ios for physical-device enumeration.
func New() *Pool {
	sim := simhost.New()
	return &Pool{
		claims: make(map[string]PoolClaim),
		sim:    sim,
		lister: newLister(sim),
		log:    logx.For("devicepool"),
	}
}

// ActiveUDID returns the current active device, or "" if none has been set.
func (p *Pool) ActiveUDID() string {
	return p.activeUDID
}

// Resolve implements §4.5's Resolve operation.
func (p *Pool) Resolve(ctx context.Context, criteria Criteria) (string, error) {
	if criteria.isEmpty() {
		if p.activeUDID == "" {
			return "", core.ErrDeviceNotFound.WithMessage("no active device and no resolution criteria given")
		}
		return p.activeUDID, nil
	}

	devices, err := p.lister.List(ctx)
	if err != nil {
		return "", core.ErrUnavailable.WithMessage("listing devices failed").WithCause(err)
	}

	match, ok := p.firstMatch(devices, criteria)
	if !ok {
		return "", core.ErrDeviceNotFound.WithMessage(
			fmt.Sprintf("no device matched criteria %+v among %d enumerated devices", criteria, len(devices)))
	}

	p.setActiveIfUnset(match.UDID)
	return match.UDID, nil
}

func (p *Pool) firstMatch(devices []deviceInfo, c Criteria) (deviceInfo, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	for _, d := range devices {
		if c.UDID != "" && d.UDID != c.UDID {
			continue
		}
		if c.NameEquals != "" && d.Name != c.NameEquals {
			continue
		}
		if c.NameContains != "" && !strings.Contains(d.Name, c.NameContains) {
			continue
		}
		if c.BootedOnly && !d.Booted {
			continue
		}
		if c.ClaimableOnly {
			if _, claimed := p.claims[d.UDID]; claimed {
				continue
			}
		}
		return d, true
	}
	return deviceInfo{}, false
}

func (p *Pool) setActiveIfUnset(udid string) {
	if p.activeUDID == "" {
		p.activeUDID = udid
	}
}

// Ensure implements §4.5's Ensure operation: boots additional simulators
// (never physical devices) until at least count devices match filter,
// returning the first count UDIDs. The first becomes ActiveUdid.
func (p *Pool) Ensure(ctx context.Context, count int, filter Criteria) ([]string, error) {
	devices, err := p.lister.List(ctx)
	if err != nil {
		return nil, core.ErrUnavailable.WithMessage("listing devices failed").WithCause(err)
	}

	matching := p.matchingSimulators(devices, filter)
	booted := make([]deviceInfo, 0, len(matching))
	shutdown := make([]deviceInfo, 0, len(matching))
	for _, d := range matching {
		if d.Booted {
			booted = append(booted, d)
		} else {
			shutdown = append(shutdown, d)
		}
	}

	for len(booted) < count && len(shutdown) > 0 {
		next := shutdown[0]
		shutdown = shutdown[1:]
		if err := p.sim.Boot(ctx, next.UDID); err != nil {
			p.log.Warn("booting simulator for Ensure failed", "udid", next.UDID, "err", err)
			continue
		}
		next.Booted = true
		booted = append(booted, next)
		if p.metrics != nil {
			p.metrics.PoolEnsureBoots.Inc()
		}
	}

	if len(booted) < count {
		return nil, core.ErrDeviceNotFound.WithMessage(
			fmt.Sprintf("only %d of %d requested simulators available matching criteria", len(booted), count))
	}

	result := make([]string, count)
	for i := 0; i < count; i++ {
		result[i] = booted[i].UDID
	}

	p.mu.Lock()
	p.setActiveIfUnset(result[0])
	p.mu.Unlock()

	return result, nil
}

func (p *Pool) matchingSimulators(devices []deviceInfo, c Criteria) []deviceInfo {
	var out []deviceInfo
	for _, d := range devices {
		if !d.IsSimulator {
			continue
		}
		if c.NameEquals != "" && d.Name != c.NameEquals {
			continue
		}
		if c.NameContains != "" && !strings.Contains(d.Name, c.NameContains) {
			continue
		}
		out = append(out, d)
	}
	return out
}

// IsSimulator reports whether udid is a simulator, per the enumerated
// device list. Used by callers that must reject WDA lifecycle operations
// against simulators (spec §6: "400 if simulator").
func (p *Pool) IsSimulator(ctx context.Context, udid string) (bool, error) {
	devices, err := p.lister.List(ctx)
	if err != nil {
		return false, core.ErrUnavailable.WithMessage("listing devices failed").WithCause(err)
	}
	for _, d := range devices {
		if d.UDID == udid {
			return d.IsSimulator, nil
		}
	}
	return false, core.ErrDeviceNotFound.WithMessage("udid " + udid + " not found among enumerated devices")
}

// Claim implements §4.5's Claim operation: records a session-scoped lease,
// generating a session id when the caller supplies none. A UDID already
// leased to a different session is rejected.
func (p *Pool) Claim(udid, sessionID string) (PoolClaim, error) {
	if sessionID == "" {
		sessionID = uuid.New().String()
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if existing, ok := p.claims[udid]; ok && existing.SessionID != sessionID {
		p.recordClaim("rejected")
		return PoolClaim{}, core.ErrValidation.WithMessage(
			fmt.Sprintf("device %s is already claimed by session %s", udid, existing.SessionID))
	}

	claim := PoolClaim{UDID: udid, SessionID: sessionID, ClaimedAt: time.Now()}
	p.claims[udid] = claim
	p.recordClaim("ok")
	p.recordActiveDevices()
	return claim, nil
}

func (p *Pool) recordClaim(outcome string) {
	if p.metrics != nil {
		p.metrics.PoolClaimsTotal.WithLabelValues(outcome).Inc()
	}
}

func (p *Pool) recordActiveDevices() {
	if p.metrics != nil {
		p.metrics.PoolActiveDevices.Set(float64(len(p.claims)))
	}
}

// Release implements §4.5's Release operation: idempotent if the UDID
// isn't currently claimed, rejected if a different session holds it.
func (p *Pool) Release(udid, sessionID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	existing, ok := p.claims[udid]
	if !ok {
		p.recordRelease("not_claimed")
		return nil
	}
	if existing.SessionID != sessionID {
		p.recordRelease("rejected")
		return core.ErrValidation.WithMessage(
			fmt.Sprintf("device %s is claimed by a different session", udid))
	}
	delete(p.claims, udid)
	p.recordRelease("ok")
	p.recordActiveDevices()
	return nil
}

func (p *Pool) recordRelease(outcome string) {
	if p.metrics != nil {
		p.metrics.PoolReleasesTotal.WithLabelValues(outcome).Inc()
	}
}
