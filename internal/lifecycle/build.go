package lifecycle

import (
	"bytes"
	"context"
	"os"
	"path/filepath"

	"github.com/devicelab-dev/quern/internal/core"
)

// buildForTestingDestination targets any arm64 device, so the artifact
// doesn't need to be rebuilt per-UDID — only per signing team.
const buildForTestingDestination = "generic/platform=iOS"

// derivedDataPath returns the root xcodebuild writes build products under.
func (m *Manager) derivedDataPath() string {
	return m.dirs.WDABuildDir
}

// runnerAppPath is the built .app bundle path xcodebuild produces for the
// WebDriverAgentRunner scheme.
func (m *Manager) runnerAppPath() string {
	return filepath.Join(m.derivedDataPath(), "Build", "Products", "Debug-iphoneos", "WebDriverAgentRunner-Runner.app")
}

// xctestBundlePath is the inner .xctest bundle carrying the build's code
// signature — the authoritative source for the re-sign identity.
func (m *Manager) xctestBundlePath() string {
	return filepath.Join(m.runnerAppPath(), "PlugIns", "WebDriverAgentRunner.xctest")
}

// buildForTeam builds WDA for teamID, reusing the cached build iff the
// state store's build_team_id already matches (§4.1 step 5 / invariant
// "build_team_id == T implies the artifact on disk was signed with team
// T"). Returns true if a fresh build ran.
func (m *Manager) buildForTeam(ctx context.Context, teamID string) (bool, error) {
	st := m.store.Read()
	if st.BuildTeamID == teamID && st.Cloned {
		m.log.Info("WDA already built for team, skipping", "team", teamID)
		m.recordBuild("skipped")
		return false, nil
	}

	buildCtx, cancel := context.WithTimeout(ctx, buildTimeout)
	defer cancel()

	projectPath := filepath.Join(m.dirs.WDASourceDir, "WebDriverAgent.xcodeproj")
	m.log.Info("building WebDriverAgentRunner", "team", teamID)
	stdout, stderr, err := m.proc.Run(buildCtx, "xcodebuild",
		"build-for-testing",
		"-project", projectPath,
		"-scheme", "WebDriverAgentRunner",
		"-destination", buildForTestingDestination,
		"DEVELOPMENT_TEAM="+teamID,
		"CODE_SIGNING_ALLOWED=YES",
		"-allowProvisioningUpdates",
		"-derivedDataPath", m.derivedDataPath(),
	)
	if err != nil {
		if buildCtx.Err() != nil {
			m.recordBuild("timeout")
			return false, core.ErrBuildFailed.WithTool("xcodebuild").WithMessage("xcodebuild timed out after 10m").WithCause(err)
		}
		m.recordBuild("failed")
		return false, buildFailure(stdout, stderr, err)
	}

	m.postProcessRunnerApp(ctx, teamID)
	m.recordBuild("built")

	return true, nil
}

func (m *Manager) recordBuild(outcome string) {
	if m.metrics != nil {
		m.metrics.LifecycleBuildsTotal.WithLabelValues(outcome).Inc()
	}
}

// buildFailure classifies the two failure substrings §4.1 step 5 names
// into actionable messages; anything else surfaces the raw tail.
func buildFailure(stdout, stderr []byte, cause error) error {
	combined := string(stderr) + string(stdout)

	if bytes.Contains([]byte(combined), []byte("No Account for Team")) ||
		bytes.Contains([]byte(combined), []byte("no account for team")) {
		return core.ErrBuildFailed.WithTool("xcodebuild").
			WithMessage("Xcode has no account logged in for this team; sign in under Xcode > Settings > Accounts and retry").
			WithCause(cause)
	}
	if bytes.Contains([]byte(combined), []byte("No signing certificate")) ||
		bytes.Contains([]byte(combined), []byte("no signing certificate")) {
		return core.ErrBuildFailed.WithTool("xcodebuild").
			WithMessage("no signing certificate found for this team; add an Apple Development certificate under Manage Certificates and retry").
			WithCause(cause)
	}

	return core.ErrBuildFailed.WithTool("xcodebuild").
		WithDetails(map[string]interface{}{"stderr_tail": tail(string(stderr), 20), "stdout_tail": tail(string(stdout), 20)}).
		WithCause(cause)
}

func tail(s string, n int) string {
	lines := splitLines(s)
	if len(lines) <= n {
		return s
	}
	start := len(lines) - n
	out := ""
	for i, l := range lines[start:] {
		if i > 0 {
			out += "\n"
		}
		out += l
	}
	return out
}

func splitLines(s string) []string {
	var out []string
	start := 0
	for i := 0; i < len(s); i++ {
		if s[i] == '\n' {
			out = append(out, s[start:i])
			start = i + 1
		}
	}
	out = append(out, s[start:])
	return out
}

// postProcessRunnerApp patches the outer Runner.app (icon, display name,
// signature) that xcodebuild generates around the inner .xctest, per
// original_source's _post_process_runner_app. Best-effort: failures are
// logged, never fatal to the build, since the runner still launches
// without the rebrand.
func (m *Manager) postProcessRunnerApp(ctx context.Context, teamID string) {
	runnerApp := m.runnerAppPath()
	if _, err := os.Stat(runnerApp); err != nil {
		m.log.Warn("runner app not found, skipping post-process", "path", runnerApp)
		return
	}

	if err := copyIconsAndAssets(m.xctestBundlePath(), runnerApp); err != nil {
		m.log.Warn("copying icon assets into runner app failed", "err", err)
	}

	if err := patchRunnerInfoPlist(runnerApp); err != nil {
		m.log.Warn("patching runner Info.plist failed", "err", err)
	}

	identity, err := m.findSigningIdentity(ctx)
	if err != nil || identity == "" {
		m.log.Warn("no signing identity resolved from xctest signature, skipping re-sign", "err", err)
		return
	}

	for _, bundle := range []string{m.xctestBundlePath(), runnerApp} {
		if _, stderr, err := m.proc.Run(ctx, "codesign", "--force", "--sign", identity,
			"--preserve-metadata=identifier,entitlements", bundle); err != nil {
			m.log.Warn("re-signing bundle failed", "bundle", bundle, "stderr", string(stderr), "err", err)
			return
		}
	}
	m.log.Info("post-processed runner app: icon, display name, signature updated", "team", teamID)
}

