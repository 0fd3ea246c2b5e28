package lifecycle

import (
	"bufio"
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"

	"howett.net/plist"
)

// runnerDisplayName is patched into the outer Runner.app's Info.plist so the
// rebranded driver app doesn't show up on-device as "WebDriverAgentRunner".
const runnerDisplayName = "QuernDriver"

// copyIconsAndAssets copies the inner xctest bundle's compiled asset
// catalog into the outer Runner.app, if present, so an icon patched into
// the xctest's Info.plist actually resolves. Missing source assets are not
// an error — some upstream revisions of WDA don't ship one.
func copyIconsAndAssets(xctestBundle, runnerApp string) error {
	src := filepath.Join(xctestBundle, "Assets.car")
	if _, err := os.Stat(src); err != nil {
		return nil
	}
	return copyFile(src, filepath.Join(runnerApp, "Assets.car"))
}

func copyFile(src, dest string) error {
	in, err := os.Open(src) //#nosec G304 -- fixed path under our own build output
	if err != nil {
		return err
	}
	defer func() { _ = in.Close() }()

	out, err := os.Create(dest) //#nosec G304 -- fixed path under our own build output
	if err != nil {
		return err
	}
	defer func() { _ = out.Close() }()

	_, err = io.Copy(out, in)
	return err
}

// patchRunnerInfoPlist sets CFBundleDisplayName on the outer Runner.app so
// it no longer advertises itself as WebDriverAgentRunner on-device.
func patchRunnerInfoPlist(runnerApp string) error {
	path := filepath.Join(runnerApp, "Info.plist")
	data, err := os.ReadFile(path) //#nosec G304 -- fixed path under our own build output
	if err != nil {
		return err
	}

	var info map[string]interface{}
	format, err := plist.Unmarshal(data, &info)
	if err != nil {
		return err
	}
	info["CFBundleDisplayName"] = runnerDisplayName
	info["CFBundleName"] = runnerDisplayName

	out, err := plist.MarshalIndent(info, format, "\t")
	if err != nil {
		return err
	}
	return os.WriteFile(path, out, 0o644) //#nosec G306 -- app bundle metadata, not a secret
}

// findSigningIdentity extracts the re-sign identity from the xctest
// bundle's existing code signature: "codesign -d --verbose=2" prints an
// "Authority=" line per certificate in the chain, leaf first.
func (m *Manager) findSigningIdentity(ctx context.Context) (string, error) {
	_, stderr, err := m.proc.Run(ctx, "codesign", "-d", "--verbose=2", m.xctestBundlePath())
	if err != nil {
		return "", err
	}

	scanner := bufio.NewScanner(bytes.NewReader(stderr))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if strings.HasPrefix(line, "Authority=") {
			return strings.TrimPrefix(line, "Authority="), nil
		}
	}
	return "", nil
}
