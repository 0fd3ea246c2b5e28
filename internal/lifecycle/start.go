package lifecycle

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/devicelab-dev/quern/internal/core"
	"github.com/devicelab-dev/quern/internal/statestore"
)

// runningDriver holds the in-process handle for a spawned xcodebuild
// test-runner, keyed by UDID in Manager.pids. The state store only
// persists the PID number; this holds what's needed to signal the process
// within this server's lifetime.
type runningDriver struct {
	mu   sync.Mutex
	cmd  *exec.Cmd
	port int
	logF *os.File
}

// Start implements §4.1's driver-start operation. wdaclient.Restarter
// wraps this in an adapter discarding StartStatus, since a Client only
// needs the error from an auto-restart.
func (m *Manager) Start(ctx context.Context, udid, osVersion string) (StartStatus, error) {
	if pid, ok := m.livePID(udid); ok {
		m.recordStart("already_running")
		return StartStatus{Kind: StartAlreadyRunning, UDID: udid, PID: pid, Ready: true}, nil
	}

	xctestrun, err := m.findXctestrun()
	if err != nil {
		m.recordStart("xctestrun_missing")
		return StartStatus{}, err
	}

	port := portFromUDID(udid)
	if err := injectPort(xctestrun, port); err != nil {
		m.recordStart("port_inject_failed")
		return StartStatus{}, core.ErrBuildFailed.WithMessage("injecting WDA port into xctestrun failed").WithCause(err)
	}

	logPath := m.dirs.RunnerLog(udid)
	if err := os.MkdirAll(filepath.Dir(logPath), 0o755); err != nil {
		m.recordStart("log_dir_failed")
		return StartStatus{}, core.ErrBuildFailed.WithCause(err)
	}
	logF, err := os.Create(logPath) //#nosec G304 -- fixed per-device log path
	if err != nil {
		m.recordStart("log_create_failed")
		return StartStatus{}, core.ErrBuildFailed.WithMessage("creating runner log file failed").WithCause(err)
	}

	cmd := exec.CommandContext(context.Background(), "xcodebuild",
		"test-without-building",
		"-xctestrun", xctestrun,
		"-destination", fmt.Sprintf("id=%s", udid),
		"-derivedDataPath", m.derivedDataPath(),
	)
	cmd.Stdout = logF
	cmd.Stderr = logF

	if err := cmd.Start(); err != nil {
		_ = logF.Close()
		m.recordStart("spawn_failed")
		return StartStatus{}, core.ErrBuildFailed.WithTool("xcodebuild").WithMessage("starting WDA runner process failed").WithCause(err)
	}

	driver := &runningDriver{cmd: cmd, port: port, logF: logF}
	m.setRunning(udid, driver)

	if err := m.store.Update(func(st *statestore.State) {
		st.Runners[udid] = statestore.DriverRecord{
			PID:       cmd.Process.Pid,
			StartedAt: time.Now(),
			OSVersion: osVersion,
		}
	}); err != nil {
		m.log.Warn("recording runner PID failed", "udid", udid, "err", err)
	}

	ready := m.waitForReady(ctx, port)
	if !ready {
		m.log.Warn("WDA did not become ready within startup window", "udid", udid, "log", logPath)
		m.recordStart("started_not_ready")
	} else {
		m.recordStart("started")
	}

	return StartStatus{Kind: StartStarted, UDID: udid, PID: cmd.Process.Pid, Ready: ready}, nil
}

func (m *Manager) recordStart(outcome string) {
	if m.metrics != nil {
		m.metrics.LifecycleStartsTotal.WithLabelValues(outcome).Inc()
	}
}

// waitForReady polls /status on the just-spawned driver's port, per §4.1's
// start operation — generalized from the teacher's log-scraping
// waitForStartup into an endpoint poll, since the spec treats /status as
// the source of truth for readiness.
func (m *Manager) waitForReady(ctx context.Context, port int) bool {
	deadline := time.Now().Add(startupTimeout)
	client := &http.Client{Timeout: statusPingTimeout}
	url := fmt.Sprintf("http://localhost:%d/status", port)

	ticker := time.NewTicker(startupPollEvery)
	defer ticker.Stop()

	for time.Now().Before(deadline) {
		select {
		case <-ctx.Done():
			return false
		case <-ticker.C:
			reqCtx, cancel := context.WithTimeout(ctx, statusPingTimeout)
			req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, url, nil)
			if err != nil {
				cancel()
				continue
			}
			resp, err := client.Do(req)
			cancel()
			if err == nil {
				_ = resp.Body.Close()
				if resp.StatusCode == http.StatusOK {
					return true
				}
			}
		}
	}
	return false
}

func (m *Manager) livePID(udid string) (int, bool) {
	m.mu.Lock()
	driver, ok := m.pids[udid]
	m.mu.Unlock()
	if !ok {
		// No handle from this server process: probe the PID the state store
		// recorded for udid (e.g. a driver started before a server restart).
		rec, found := m.store.Read().Runners[udid]
		if !found || rec.PID <= 0 {
			return 0, false
		}
		proc, err := os.FindProcess(rec.PID)
		if err != nil || proc.Signal(syscall.Signal(0)) != nil {
			return 0, false
		}
		return rec.PID, true
	}

	driver.mu.Lock()
	defer driver.mu.Unlock()
	if driver.cmd == nil || driver.cmd.Process == nil {
		return 0, false
	}
	// Signal 0 checks liveness without actually sending a signal.
	if err := driver.cmd.Process.Signal(syscall.Signal(0)); err != nil {
		return 0, false
	}
	return driver.cmd.Process.Pid, true
}

func (m *Manager) setRunning(udid string, d *runningDriver) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pids[udid] = d
}
