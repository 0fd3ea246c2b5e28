package lifecycle

import (
	"context"
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"testing"
	"time"

	"howett.net/plist"

	"github.com/devicelab-dev/quern/internal/core"
	"github.com/devicelab-dev/quern/internal/statestore"
)

// fakeProc dispatches on the invoked tool name so a single Manager can be
// driven through clone/build/install without ever shelling out for real.
type fakeProc struct {
	handlers map[string]func(ctx context.Context, args ...string) ([]byte, []byte, error)
}

func newFakeProc() *fakeProc {
	return &fakeProc{handlers: make(map[string]func(ctx context.Context, args ...string) ([]byte, []byte, error))}
}

func (f *fakeProc) on(name string, h func(ctx context.Context, args ...string) ([]byte, []byte, error)) {
	f.handlers[name] = h
}

func (f *fakeProc) Run(ctx context.Context, name string, args ...string) ([]byte, []byte, error) {
	h, ok := f.handlers[name]
	if !ok {
		return nil, nil, nil
	}
	return h(ctx, args...)
}

func newTestManager(t *testing.T, proc Proc) (*Manager, Dirs) {
	t.Helper()
	base := t.TempDir()
	dirs := Dirs{
		WDASourceDir: filepath.Join(base, "wda", "WebDriverAgent"),
		WDABuildDir:  filepath.Join(base, "wda", "build"),
		RunnerLog:    func(udid string) string { return filepath.Join(base, "logs", udid+".log") },
	}
	store := statestore.New(filepath.Join(base, "state.json"))
	m := New(store, dirs, "https://github.com/appium/WebDriverAgent.git")
	if proc != nil {
		m.WithProc(proc)
	}
	return m, dirs
}

// withXcodePrefs points discoverSigningIdentities at a temp plist encoding
// the given teams and restores the real lookup afterward.
func withXcodePrefs(t *testing.T, teams map[string][]teamPrefsEntry) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "com.apple.dt.Xcode.plist")
	data, err := plist.MarshalIndent(xcodePrefs{TeamsByAccount: teams}, plist.XMLFormat, "\t")
	if err != nil {
		t.Fatalf("marshaling fixture prefs: %v", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("writing fixture prefs: %v", err)
	}
	prev := xcodePrefsPath
	xcodePrefsPath = func() string { return path }
	t.Cleanup(func() { xcodePrefsPath = prev })
}

func gitCloneHandler(t *testing.T, wdaSourceDir string) func(ctx context.Context, args ...string) ([]byte, []byte, error) {
	return func(ctx context.Context, args ...string) ([]byte, []byte, error) {
		if err := os.MkdirAll(filepath.Join(wdaSourceDir, ".git"), 0o755); err != nil {
			t.Fatalf("fake clone mkdir: %v", err)
		}
		pbxproj := filepath.Join(wdaSourceDir, "WebDriverAgent.xcodeproj")
		if err := os.MkdirAll(pbxproj, 0o755); err != nil {
			t.Fatalf("fake clone mkdir pbxproj: %v", err)
		}
		if err := os.WriteFile(filepath.Join(pbxproj, "project.pbxproj"), []byte("// empty\n"), 0o644); err != nil {
			t.Fatalf("fake clone write pbxproj: %v", err)
		}
		return nil, nil, nil
	}
}

func TestSetup_NeedsIdentitySelectionWhenMultipleTeams(t *testing.T) {
	withXcodePrefs(t, map[string][]teamPrefsEntry{
		"acct": {
			{TeamID: "TEAM1", TeamName: "One"},
			{TeamID: "TEAM2", TeamName: "Two"},
		},
	})

	proc := newFakeProc()
	m, _ := newTestManager(t, proc)

	status, err := m.Setup(context.Background(), "udid-1", "17.4", "")
	if err != nil {
		t.Fatalf("Setup returned error: %v", err)
	}
	if status.Kind != SetupNeedsIdentitySelection {
		t.Fatalf("expected SetupNeedsIdentitySelection, got %v", status.Kind)
	}
	if len(status.Identities) != 2 {
		t.Fatalf("expected 2 identities, got %d", len(status.Identities))
	}
}

func TestSetup_InvalidTeamIDReturnsValidationError(t *testing.T) {
	withXcodePrefs(t, map[string][]teamPrefsEntry{
		"acct": {{TeamID: "TEAM1", TeamName: "One"}},
	})

	proc := newFakeProc()
	m, _ := newTestManager(t, proc)

	_, err := m.Setup(context.Background(), "udid-1", "17.4", "BOGUS")
	if err == nil {
		t.Fatal("expected an error for an unrecognized team_id")
	}
	var execErr *core.ExecutionError
	if !errors.As(err, &execErr) {
		t.Fatalf("expected *core.ExecutionError, got %T", err)
	}
	if execErr.Category != core.ErrCategoryValidation {
		t.Fatalf("expected validation category, got %s", execErr.Category)
	}
}

func TestSetup_NoTeamsReturnsErrNoTeams(t *testing.T) {
	withXcodePrefs(t, map[string][]teamPrefsEntry{})

	proc := newFakeProc()
	m, _ := newTestManager(t, proc)

	_, err := m.Setup(context.Background(), "udid-1", "17.4", "")
	if !errors.Is(err, core.ErrNoTeams) {
		t.Fatalf("expected ErrNoTeams, got %v", err)
	}
}

func TestSetup_OKThenIdempotentOnSecondCall(t *testing.T) {
	withXcodePrefs(t, map[string][]teamPrefsEntry{
		"acct": {{TeamID: "TEAM1", TeamName: "One"}},
	})

	proc := newFakeProc()
	m, dirs := newTestManager(t, proc)

	buildCalls := 0
	proc.on("git", gitCloneHandler(t, dirs.WDASourceDir))
	proc.on("xcodebuild", func(ctx context.Context, args ...string) ([]byte, []byte, error) {
		buildCalls++
		return nil, nil, nil
	})
	proc.on("ideviceinfo", func(ctx context.Context, args ...string) ([]byte, []byte, error) {
		return []byte("17.4"), nil, nil
	})
	proc.on("devicectl", func(ctx context.Context, args ...string) ([]byte, []byte, error) {
		return nil, nil, nil
	})

	status, err := m.Setup(context.Background(), "udid-1", "17.4", "")
	if err != nil {
		t.Fatalf("first Setup failed: %v", err)
	}
	if status.Kind != SetupOK || !status.Cloned || !status.Built || !status.Installed {
		t.Fatalf("expected a fully fresh setup, got %+v", status)
	}
	if buildCalls != 1 {
		t.Fatalf("expected exactly 1 build invocation, got %d", buildCalls)
	}

	status2, err := m.Setup(context.Background(), "udid-1", "17.4", "")
	if err != nil {
		t.Fatalf("second Setup failed: %v", err)
	}
	if status2.Cloned || status2.Built {
		t.Fatalf("expected the second Setup to skip clone and build, got %+v", status2)
	}
	if buildCalls != 1 {
		t.Fatalf("expected no additional build invocation on the idempotent call, got %d total", buildCalls)
	}
}

func TestStart_AlreadyRunningShortCircuits(t *testing.T) {
	m, _ := newTestManager(t, newFakeProc())

	cmd := exec.Command("sleep", "5")
	if err := cmd.Start(); err != nil {
		t.Skipf("cannot spawn sleep for this test environment: %v", err)
	}
	t.Cleanup(func() { _ = cmd.Process.Kill() })

	m.setRunning("udid-1", &runningDriver{cmd: cmd, port: 8100})

	status, err := m.Start(context.Background(), "udid-1", "17.4")
	if err != nil {
		t.Fatalf("Start returned error: %v", err)
	}
	if status.Kind != StartAlreadyRunning {
		t.Fatalf("expected StartAlreadyRunning, got %v", status.Kind)
	}
	if status.PID != cmd.Process.Pid {
		t.Fatalf("expected pid %d, got %d", cmd.Process.Pid, status.PID)
	}
}

func TestStop_NotRunningIsIdempotent(t *testing.T) {
	m, _ := newTestManager(t, newFakeProc())

	status, err := m.Stop(context.Background(), "udid-never-started")
	if err != nil {
		t.Fatalf("Stop returned error: %v", err)
	}
	if status.Kind != StopNotRunning {
		t.Fatalf("expected StopNotRunning, got %v", status.Kind)
	}
}

func TestStop_GracefulSIGTERMStopsPromptly(t *testing.T) {
	m, _ := newTestManager(t, newFakeProc())

	cmd := exec.Command("sleep", "30")
	if err := cmd.Start(); err != nil {
		t.Skipf("cannot spawn sleep for this test environment: %v", err)
	}
	m.setRunning("udid-2", &runningDriver{cmd: cmd, port: 8100})

	start := time.Now()
	status, err := m.Stop(context.Background(), "udid-2")
	elapsed := time.Since(start)
	if err != nil {
		t.Fatalf("Stop returned error: %v", err)
	}
	if status.Kind != StopStopped {
		t.Fatalf("expected StopStopped, got %v", status.Kind)
	}
	if elapsed >= stopGraceTimeout {
		t.Fatalf("expected SIGTERM to stop sleep well under the %s grace window, took %s", stopGraceTimeout, elapsed)
	}
}

func TestPortFromUDID_Deterministic(t *testing.T) {
	const udid = "00008030-001A2B3C4D5E6F7A"
	first := portFromUDID(udid)
	second := portFromUDID(udid)
	if first != second {
		t.Fatalf("portFromUDID is not deterministic: %d != %d", first, second)
	}
	if first < wdaBasePort || first >= wdaBasePort+wdaPortRange {
		t.Fatalf("port %d outside expected range [%d,%d)", first, wdaBasePort, wdaBasePort+wdaPortRange)
	}
}

func TestResolveTeamID_Precedence(t *testing.T) {
	identities := []SigningIdentity{{TeamID: "A"}, {TeamID: "B"}}

	if id, ok := resolveTeamID("B", "A", identities); !ok || id != "B" {
		t.Fatalf("caller-supplied team should win: got %q,%v", id, ok)
	}
	if id, ok := resolveTeamID("", "A", identities); !ok || id != "A" {
		t.Fatalf("saved team should be used when valid: got %q,%v", id, ok)
	}
	if id, ok := resolveTeamID("", "STALE", identities); ok {
		t.Fatalf("a saved team no longer in the discovered set must not resolve: got %q", id)
	}
	single := []SigningIdentity{{TeamID: "SOLE"}}
	if id, ok := resolveTeamID("", "", single); !ok || id != "SOLE" {
		t.Fatalf("the sole available team should resolve: got %q,%v", id, ok)
	}
	if _, ok := resolveTeamID("", "", identities); ok {
		t.Fatal("multiple teams with no saved/requested team must not resolve")
	}
}
