package lifecycle

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"

	"github.com/devicelab-dev/quern/internal/core"
)

// productNameMarker is both the idempotency guard and the value patched
// into the Debug/Release build settings, per §4.1 step 4.
const productNameMarker = "PRODUCT_NAME = QuernDriver"

// Known build-setting UUIDs from upstream WDA's project.pbxproj — Debug and
// Release configurations for the WebDriverAgentRunner target.
const (
	debugConfigUUID   = "EEF988321C486604005CA669"
	releaseConfigUUID = "EEF988331C486604005CA669"
)

const buildSettingsBlockFmt = `(%s\s*/\*[^*]*\*/\s*=\s*\{[\s\S]*?buildSettings\s*=\s*\{)\s*\n`

// customizeProject idempotently replaces upstream's AppIcon assets with the
// vendored icon and patches PRODUCT_NAME for both build configurations.
// Returns true if customization was applied, false if the marker string was
// already present.
func (m *Manager) customizeProject() (bool, error) {
	pbxprojPath := filepath.Join(m.dirs.WDASourceDir, "WebDriverAgent.xcodeproj", "project.pbxproj")
	content, err := os.ReadFile(pbxprojPath) //#nosec G304 -- fixed path under our own clone
	if err != nil {
		return false, core.ErrCloneFailed.WithMessage("project.pbxproj not found").WithCause(err)
	}

	if regexp.MustCompile(regexp.QuoteMeta(productNameMarker)).Match(content) {
		m.log.Info("WDA already customized, skipping")
		return false, nil
	}

	if err := m.replaceAppIcons(); err != nil {
		m.log.Warn("app icon replacement failed, continuing with PRODUCT_NAME patch", "err", err)
	}

	patched := content
	for _, uuid := range []string{debugConfigUUID, releaseConfigUUID} {
		pattern := regexp.MustCompile(fmt.Sprintf(buildSettingsBlockFmt, regexp.QuoteMeta(uuid)))
		patched = pattern.ReplaceAll(patched, []byte("${1}\n\t\t\t\t"+productNameMarker+";\n"))
	}

	if err := os.WriteFile(pbxprojPath, patched, 0o644); err != nil { //#nosec G306 -- project file, not a secret
		return false, core.ErrCloneFailed.WithMessage("writing project.pbxproj failed").WithCause(err)
	}
	m.log.Info("customized WDA project: icons replaced, PRODUCT_NAME patched")
	return true, nil
}

// replaceAppIcons copies the vendored icon over every upstream
// AppIcon-1024.png found under the cloned repo.
func (m *Manager) replaceAppIcons() error {
	if m.dirs.IconPath == "" {
		return nil
	}
	icon, err := os.ReadFile(m.dirs.IconPath) //#nosec G304 -- vendored asset path
	if err != nil {
		return err
	}

	replaced := 0
	err = filepath.WalkDir(m.dirs.WDASourceDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil //nolint:nilerr // best-effort walk, skip unreadable entries
		}
		if d.IsDir() && filepath.Ext(path) == ".appiconset" {
			dest := filepath.Join(path, "AppIcon-1024.png")
			if _, statErr := os.Stat(dest); statErr == nil {
				if writeErr := os.WriteFile(dest, icon, 0o644); writeErr == nil { //#nosec G306 -- asset, not a secret
					replaced++
				}
			}
		}
		return nil
	})
	if replaced == 0 {
		m.log.Warn("no upstream AppIcon-1024.png found to replace")
	}
	return err
}
