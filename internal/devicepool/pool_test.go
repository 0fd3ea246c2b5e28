package devicepool

import (
	"context"
	"errors"
	"testing"

	"github.com/devicelab-dev/quern/internal/logx"
)

type fakeLister struct {
	devices []deviceInfo
}

func (f *fakeLister) List(ctx context.Context) ([]deviceInfo, error) {
	return f.devices, nil
}

// fakeBooter flips a simulator's Booted flag in the backing lister's device
// list when asked to boot it, so Ensure observes the change on its next List.
type fakeBooter struct {
	lister *fakeLister
	fail   map[string]bool
}

var errBootFailed = errors.New("simulated boot failure")

func (f *fakeBooter) Boot(ctx context.Context, udid string) error {
	if f.fail[udid] {
		return errBootFailed
	}
	for i := range f.lister.devices {
		if f.lister.devices[i].UDID == udid {
			f.lister.devices[i].Booted = true
		}
	}
	return nil
}

func newTestPool(devices []deviceInfo) *Pool {
	l := &fakeLister{devices: devices}
	return &Pool{
		claims: make(map[string]PoolClaim),
		lister: l,
		sim:    &fakeBooter{lister: l},
		log:    logx.For("devicepool-test"),
	}
}

func TestResolveEmptyCriteriaReturnsActive(t *testing.T) {
	p := newTestPool(nil)
	if _, err := p.Resolve(context.Background(), Criteria{}); err == nil {
		t.Fatal("expected NOT_FOUND with no active device set")
	}

	p.activeUDID = "udid-1"
	got, err := p.Resolve(context.Background(), Criteria{})
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if got != "udid-1" {
		t.Fatalf("got %q, want udid-1", got)
	}
}

func TestResolveByNameContainsSetsActive(t *testing.T) {
	p := newTestPool([]deviceInfo{
		{UDID: "udid-1", Name: "iPhone 15 Pro", Booted: true, IsSimulator: true},
		{UDID: "udid-2", Name: "iPhone SE", Booted: false, IsSimulator: true},
	})

	got, err := p.Resolve(context.Background(), Criteria{NameContains: "15 Pro"})
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if got != "udid-1" {
		t.Fatalf("got %q, want udid-1", got)
	}
	if p.ActiveUDID() != "udid-1" {
		t.Fatalf("ActiveUDID = %q, want udid-1 (first successful resolve)", p.ActiveUDID())
	}
}

func TestResolveNotFound(t *testing.T) {
	p := newTestPool([]deviceInfo{{UDID: "udid-1", Name: "iPhone SE", Booted: true, IsSimulator: true}})

	if _, err := p.Resolve(context.Background(), Criteria{UDID: "does-not-exist"}); err == nil {
		t.Fatal("expected NOT_FOUND for unmatched udid")
	}
}

func TestClaimRejectsDoubleClaim(t *testing.T) {
	p := newTestPool(nil)

	first, err := p.Claim("udid-1", "session-a")
	if err != nil {
		t.Fatalf("first Claim: %v", err)
	}
	if first.SessionID != "session-a" {
		t.Fatalf("session id = %q, want session-a", first.SessionID)
	}

	if _, err := p.Claim("udid-1", "session-b"); err == nil {
		t.Fatal("expected error claiming an already-claimed udid from a different session")
	}

	// Same session re-claiming its own lease is idempotent.
	if _, err := p.Claim("udid-1", "session-a"); err != nil {
		t.Fatalf("re-claim by same session: %v", err)
	}
}

func TestClaimGeneratesSessionIDWhenOmitted(t *testing.T) {
	p := newTestPool(nil)
	claim, err := p.Claim("udid-1", "")
	if err != nil {
		t.Fatalf("Claim: %v", err)
	}
	if claim.SessionID == "" {
		t.Fatal("expected a generated session id")
	}
}

func TestReleaseIsIdempotentWhenNotClaimed(t *testing.T) {
	p := newTestPool(nil)
	if err := p.Release("udid-1", "session-a"); err != nil {
		t.Fatalf("Release of unclaimed udid should be a no-op: %v", err)
	}
}

func TestReleaseRejectsWrongSession(t *testing.T) {
	p := newTestPool(nil)
	if _, err := p.Claim("udid-1", "session-a"); err != nil {
		t.Fatalf("Claim: %v", err)
	}

	if err := p.Release("udid-1", "session-b"); err == nil {
		t.Fatal("expected error releasing another session's claim")
	}
	if err := p.Release("udid-1", "session-a"); err != nil {
		t.Fatalf("Release: %v", err)
	}
}

func TestEnsureFailsWhenNotEnoughSimulators(t *testing.T) {
	p := newTestPool([]deviceInfo{
		{UDID: "udid-1", Name: "iPhone SE", Booted: true, IsSimulator: true},
	})

	if _, err := p.Ensure(context.Background(), 3, Criteria{}); err == nil {
		t.Fatal("expected error when fewer than count simulators are available to boot")
	}
}

func TestEnsureBootsShutdownSimulatorsToReachCount(t *testing.T) {
	p := newTestPool([]deviceInfo{
		{UDID: "udid-1", Name: "iPhone 15 Pro", Booted: true, IsSimulator: true},
		{UDID: "udid-2", Name: "iPhone 15", Booted: false, IsSimulator: true},
		{UDID: "udid-3", Name: "iPhone SE", Booted: false, IsSimulator: true},
	})

	got, err := p.Ensure(context.Background(), 3, Criteria{})
	if err != nil {
		t.Fatalf("Ensure: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("expected 3 udids, got %d", len(got))
	}
	if p.ActiveUDID() != got[0] {
		t.Fatalf("ActiveUDID = %q, want first returned udid %q", p.ActiveUDID(), got[0])
	}

	// Asking again now that all three are booted should boot nothing further.
	got2, err := p.Ensure(context.Background(), 3, Criteria{})
	if err != nil {
		t.Fatalf("second Ensure: %v", err)
	}
	if len(got2) != 3 {
		t.Fatalf("expected 3 udids on second call, got %d", len(got2))
	}
}

func TestEnsureSkipsSimulatorsThatFailToBoot(t *testing.T) {
	devices := []deviceInfo{
		{UDID: "udid-1", Name: "iPhone 15 Pro", Booted: false, IsSimulator: true},
		{UDID: "udid-2", Name: "iPhone 15", Booted: false, IsSimulator: true},
	}
	p := newTestPool(devices)
	p.sim = &fakeBooter{lister: p.lister.(*fakeLister), fail: map[string]bool{"udid-1": true}}

	got, err := p.Ensure(context.Background(), 1, Criteria{})
	if err != nil {
		t.Fatalf("Ensure: %v", err)
	}
	if len(got) != 1 || got[0] != "udid-2" {
		t.Fatalf("expected Ensure to skip the unbootable simulator and use udid-2, got %v", got)
	}
}

func TestEnsureNeverBootsPhysicalDevices(t *testing.T) {
	p := newTestPool([]deviceInfo{
		{UDID: "phys-1", Name: "Dennis's iPhone", Booted: true, IsSimulator: false},
	})

	if _, err := p.Ensure(context.Background(), 1, Criteria{}); err == nil {
		t.Fatal("expected Ensure to ignore physical devices and fail when no simulator satisfies count")
	}
}
