package lifecycle

import (
	"context"
	"syscall"
	"time"

	"github.com/devicelab-dev/quern/internal/statestore"
)

// Stop implements §4.1's driver-stop operation: graceful SIGTERM, a short
// grace window, then SIGKILL if it hasn't exited — extending the
// teacher's unconditional Process.Kill with the grace window the spec
// requires.
func (m *Manager) Stop(ctx context.Context, udid string) (StopStatus, error) {
	m.mu.Lock()
	driver, ok := m.pids[udid]
	if ok {
		delete(m.pids, udid)
	}
	m.mu.Unlock()

	if !ok {
		return StopStatus{Kind: StopNotRunning, UDID: udid}, nil
	}

	driver.mu.Lock()
	defer driver.mu.Unlock()

	if driver.cmd != nil && driver.cmd.Process != nil {
		_ = driver.cmd.Process.Signal(syscall.SIGTERM)

		done := make(chan struct{})
		go func() {
			_, _ = driver.cmd.Process.Wait()
			close(done)
		}()

		select {
		case <-done:
		case <-time.After(stopGraceTimeout):
			_ = driver.cmd.Process.Kill()
		case <-ctx.Done():
			_ = driver.cmd.Process.Kill()
		}
	}
	if driver.logF != nil {
		_ = driver.logF.Close()
	}

	if err := m.store.Update(func(st *statestore.State) {
		delete(st.Runners, udid)
	}); err != nil {
		m.log.Warn("clearing runner record failed", "udid", udid, "err", err)
	}

	return StopStatus{Kind: StopStopped, UDID: udid}, nil
}
