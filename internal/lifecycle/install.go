package lifecycle

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/devicelab-dev/quern/internal/core"
	"github.com/devicelab-dev/quern/internal/statestore"
)

// deviceOSVersion shells out to ideviceinfo, the same tool the rest of the
// pack uses to read physical-device lockdown values without a trusted
// pairing dance of its own.
func (m *Manager) deviceOSVersion(ctx context.Context, udid string) (string, error) {
	stdout, stderr, err := m.proc.Run(ctx, "ideviceinfo", "-u", udid, "-k", "ProductVersion")
	if err != nil {
		return "", core.ErrInstallFailed.WithTool("ideviceinfo").
			WithMessage("reading device iOS version failed").
			WithDetails(map[string]interface{}{"stderr": string(stderr)}).
			WithCause(err)
	}
	return strings.TrimSpace(string(stdout)), nil
}

// osMajor parses the leading dot-separated component of a ProductVersion
// string ("17.4.1" -> 17). Anything unparsable is treated as pre-17 so the
// older install path (which fails loudly with its own tool's error) is
// attempted rather than silently guessing devicectl support.
func osMajor(version string) int {
	head, _, _ := strings.Cut(version, ".")
	major, err := strconv.Atoi(head)
	if err != nil {
		return 0
	}
	return major
}

// installRunner installs the built WDA runner app on udid, routing by iOS
// major version per §4.1 step 6: devicectl for 17+, ideviceinstaller below
// that. Re-installs unconditionally — install_at is an idempotency marker
// only, never a skip condition.
func (m *Manager) installRunner(ctx context.Context, udid string) error {
	version, err := m.deviceOSVersion(ctx, udid)
	if err != nil {
		return err
	}
	major := osMajor(version)

	var stdout, stderr []byte
	if major >= devicectlIOSMajor {
		m.log.Info("installing runner via devicectl", "udid", udid, "os_version", version)
		stdout, stderr, err = m.proc.Run(ctx, "xcrun", "devicectl", "device", "install", "app",
			"--device", udid, m.runnerAppPath())
	} else {
		m.log.Info("installing runner via ideviceinstaller", "udid", udid, "os_version", version)
		stdout, stderr, err = m.proc.Run(ctx, "ideviceinstaller", "-u", udid, "-i", m.runnerAppPath())
	}
	if err != nil {
		return core.ErrInstallFailed.
			WithDetails(map[string]interface{}{"stdout": string(stdout), "stderr": string(stderr), "os_version": version}).
			WithCause(err)
	}

	if err := m.store.Update(func(st *statestore.State) {
		st.Installs[udid] = statestore.InstallRecord{InstalledAt: time.Now()}
	}); err != nil {
		m.log.Warn("recording install marker failed", "udid", udid, "err", err)
	}
	return nil
}
