// Package httpapi implements the core's HTTP boundary (spec §6): a plain
// net/http.ServeMux surface over the lifecycle manager, WDA client, and
// device pool, guarded by a Bearer/X-API-Key check. Grounded on
// SnapdragonPartners-maestro's pkg/webui/server.go (Server struct shape,
// requireAuth wrapper, RegisterRoutes + StartServer split) generalized
// from Basic Auth to the API-key scheme this spec requires.
package httpapi

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/devicelab-dev/quern/internal/devicepool"
	"github.com/devicelab-dev/quern/internal/lifecycle"
	"github.com/devicelab-dev/quern/internal/logx"
	"github.com/devicelab-dev/quern/internal/wdaclient"
)

// Server wires the three components into the HTTP surface the spec
// describes. It holds no state of its own beyond what those components own.
type Server struct {
	pool      *devicepool.Pool
	lifecycle *lifecycle.Manager
	wda       *wdaclient.Client
	apiKey    string
	log       *slog.Logger
}

// NewServer constructs a Server. An empty apiKey disables auth entirely,
// which is only appropriate for local development.
func NewServer(pool *devicepool.Pool, lc *lifecycle.Manager, wda *wdaclient.Client, apiKey string) *Server {
	return &Server{
		pool:      pool,
		lifecycle: lc,
		wda:       wda,
		apiKey:    apiKey,
		log:       logx.For("httpapi"),
	}
}

// requireAuth wraps a handler with the spec's dual-scheme API key check:
// Authorization: Bearer <key> or X-API-Key: <key>. /health bypasses this
// entirely by never being wrapped.
func (s *Server) requireAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.apiKey == "" {
			next(w, r)
			return
		}

		if auth := r.Header.Get("Authorization"); len(auth) > 7 && auth[:7] == "Bearer " {
			if auth[7:] == s.apiKey {
				next(w, r)
				return
			}
		}
		if r.Header.Get("X-API-Key") == s.apiKey {
			next(w, r)
			return
		}

		writeJSON(w, http.StatusUnauthorized, map[string]string{"detail": "invalid or missing API key"})
	}
}

// RegisterRoutes wires every endpoint in spec §6's table onto mux.
func (s *Server) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/health", s.handleHealth)

	mux.HandleFunc("/api/v1/device/ui", s.requireAuth(s.handleUI))
	mux.HandleFunc("/api/v1/device/ui/element", s.requireAuth(s.handleUIElement))
	mux.HandleFunc("/api/v1/device/ui/wait-for-element", s.requireAuth(s.handleWaitForElement))
	mux.HandleFunc("/api/v1/device/screen-summary", s.requireAuth(s.handleScreenSummary))
	mux.HandleFunc("/api/v1/device/ui/tap", s.requireAuth(s.handleTap))
	mux.HandleFunc("/api/v1/device/ui/tap-element", s.requireAuth(s.handleTapElement))
	mux.HandleFunc("/api/v1/device/ui/swipe", s.requireAuth(s.handleSwipe))
	mux.HandleFunc("/api/v1/device/ui/type", s.requireAuth(s.handleType))
	mux.HandleFunc("/api/v1/device/ui/clear", s.requireAuth(s.handleClear))
	mux.HandleFunc("/api/v1/device/ui/press", s.requireAuth(s.handlePress))

	mux.HandleFunc("/api/v1/device/wda/setup", s.requireAuth(s.handleWDASetup))
	mux.HandleFunc("/api/v1/device/wda/start", s.requireAuth(s.handleWDAStart))
	mux.HandleFunc("/api/v1/device/wda/stop", s.requireAuth(s.handleWDAStop))

	mux.HandleFunc("/api/v1/devices/claim", s.requireAuth(s.handleDevicesClaim))
	mux.HandleFunc("/api/v1/devices/release", s.requireAuth(s.handleDevicesRelease))
	mux.HandleFunc("/api/v1/devices/resolve", s.requireAuth(s.handleDevicesResolve))
	mux.HandleFunc("/api/v1/devices/ensure", s.requireAuth(s.handleDevicesEnsure))

	// Prometheus scrape target; unauthenticated like /health since it
	// carries no device data, only counters.
	mux.Handle("/metrics", promhttp.Handler())
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"detail": "method not allowed"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// Serve runs the HTTP server on addr until ctx is cancelled, then shuts it
// down gracefully with a 5s deadline (teacher's StartServer pattern).
func (s *Server) Serve(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	s.RegisterRoutes(mux)

	server := &http.Server{Addr: addr, Handler: mux}

	errCh := make(chan error, 1)
	go func() {
		s.log.Info("http server listening", "addr", addr)
		errCh <- server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	case <-ctx.Done():
		s.log.Info("shutting down http server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	}
}

// resolveUDID applies §4.5's Resolve to an optional caller-supplied udid
// query param, falling back to the pool's active device.
func (s *Server) resolveUDID(ctx context.Context, udid string) (string, error) {
	return s.pool.Resolve(ctx, devicepool.Criteria{UDID: udid})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
