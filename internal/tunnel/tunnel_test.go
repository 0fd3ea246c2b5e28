package tunnel

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestFetchIndexDecodesArray(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode([]tunnelEntry{{UDID: "abc", Address: "fd00::1"}})
	}))
	defer srv.Close()

	r := New(srv.URL)
	entries, err := r.fetchIndex(context.Background())
	if err != nil {
		t.Fatalf("fetchIndex: %v", err)
	}
	if len(entries) != 1 || entries[0].UDID != "abc" {
		t.Fatalf("unexpected entries: %+v", entries)
	}
}

func TestResolveFallsBackWhenDaemonIndexEmpty(t *testing.T) {
	daemon := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode([]tunnelEntry{})
	}))
	defer daemon.Close()

	r := New(daemon.URL)
	// resolveViaTunnelDaemon should fail fast on an empty index without
	// attempting the probe.
	if _, err := r.resolveViaTunnelDaemon(context.Background(), "udid-1"); err == nil {
		t.Fatal("expected error for empty tunnel index")
	}
}

func TestForwardPortCounterIsMonotonic(t *testing.T) {
	r := New("http://localhost:5555")
	first := int(r.nextPort.Add(1)) - 1
	second := int(r.nextPort.Add(1)) - 1
	if first != firstForwardPort {
		t.Fatalf("first port = %d, want %d", first, firstForwardPort)
	}
	if second != firstForwardPort+1 {
		t.Fatalf("second port = %d, want %d", second, firstForwardPort+1)
	}
}
