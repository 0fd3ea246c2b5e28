// Package lifecycle implements the WDA lifecycle manager (component C):
// team discovery, idempotent clone/customize/build, version-routed
// install, detached driver spawn with readiness polling, and
// graceful-then-force stop. Grounded on the teacher's
// pkg/driver/wda/runner.go and setup.go, restructured around
// original_source/server/device/wda.py's clone/build/install state
// machine.
package lifecycle

import (
	"bytes"
	"context"
	"log/slog"
	"os/exec"
	"sync"
	"time"

	"github.com/devicelab-dev/quern/internal/logx"
	"github.com/devicelab-dev/quern/internal/metrics"
	"github.com/devicelab-dev/quern/internal/statestore"
)

const (
	cloneTimeout       = 60 * time.Second
	buildTimeout       = 10 * time.Minute
	startupTimeout     = 60 * time.Second
	startupPollEvery   = 500 * time.Millisecond
	statusPingTimeout  = 2 * time.Second
	stopGraceTimeout   = 3 * time.Second
	devicectlIOSMajor  = 17
)

// Proc is the narrow subprocess-execution surface the lifecycle manager
// needs. The real implementation shells out via os/exec; tests inject a
// fake, the same shape as the pack's SimctlRunner seam
// (k-kohey-axe-cli/cmd/internal/platform).
type Proc interface {
	Run(ctx context.Context, name string, args ...string) (stdout, stderr []byte, err error)
}

type execProc struct{}

func (execProc) Run(ctx context.Context, name string, args ...string) ([]byte, []byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	err := cmd.Run()
	return stdout.Bytes(), stderr.Bytes(), err
}

// Dirs is the set of filesystem paths the manager reads/writes, resolved
// from internal/config.
type Dirs struct {
	WDASourceDir string // <home>/wda/WebDriverAgent
	WDABuildDir  string // <home>/wda/build
	IconPath     string // vendored replacement app icon
	RunnerLog    func(udid string) string
}

// Manager owns the state store and drives §4.1's operations.
type Manager struct {
	store   *statestore.Store
	dirs    Dirs
	proc    Proc
	repoURL string
	log     *slog.Logger

	// mu guards pids.
	mu sync.Mutex
	// pids tracks live *os.Process handles for Stop/liveness, keyed by
	// UDID — the state store only persists the PID number, this map holds
	// the process handle needed to signal it within this server process's
	// lifetime (a restarted server falls back to a PID-based liveness
	// probe only).
	pids map[string]*runningDriver

	metrics *metrics.Registry
}

// WithMetrics attaches a metrics registry; nil is safe and disables recording.
func (m *Manager) WithMetrics(r *metrics.Registry) *Manager {
	m.metrics = r
	return m
}

// New constructs a Manager. repoURL is the upstream WDA git remote.
func New(store *statestore.Store, dirs Dirs, repoURL string) *Manager {
	return &Manager{
		store:   store,
		dirs:    dirs,
		proc:    execProc{},
		repoURL: repoURL,
		log:     logx.For("lifecycle"),
		pids:    make(map[string]*runningDriver),
	}
}

// WithProc overrides the subprocess runner; for tests.
func (m *Manager) WithProc(p Proc) *Manager {
	m.proc = p
	return m
}
