package lifecycle

import (
	"os"
	"path/filepath"
	"strconv"

	"howett.net/plist"

	"github.com/devicelab-dev/quern/internal/core"
)

// canonicalXctestrunName is the stable name findXctestrun renames the build
// product to on first discovery, so every later Start looks it up by a
// fixed path instead of re-globbing the Products directory.
const canonicalXctestrunName = "WebDriverAgentRunner.xctestrun"

// findXctestrun locates the .xctestrun file xcodebuild produced, renaming
// it to a stable name the first time it's found (teacher's findXctestrun,
// extended with a rename-once step since repeated glob matches can pick up
// a stale file left behind by an interrupted build).
func (m *Manager) findXctestrun() (string, error) {
	stable := filepath.Join(m.derivedDataPath(), "Build", "Products", canonicalXctestrunName)
	if _, err := os.Stat(stable); err == nil {
		return stable, nil
	}

	pattern := filepath.Join(m.derivedDataPath(), "Build", "Products", "*.xctestrun")
	matches, _ := filepath.Glob(pattern)
	if len(matches) == 0 {
		return "", core.ErrBuildFailed.WithMessage("no .xctestrun file found after build")
	}

	if err := os.Rename(matches[0], stable); err != nil {
		return matches[0], nil
	}
	return stable, nil
}

// injectPort decodes the xctestrun plist, sets USE_PORT in every test
// target's EnvironmentVariables dict, and writes it back in the same
// format it was read in (xcodebuild only accepts its own binary-plist
// dialect back).
func injectPort(path string, port int) error {
	data, err := os.ReadFile(path) //#nosec G304 -- fixed path under our own build output
	if err != nil {
		return err
	}

	var doc map[string]interface{}
	format, err := plist.Unmarshal(data, &doc)
	if err != nil {
		return err
	}

	portStr := strconv.Itoa(port)
	if configs, ok := doc["TestConfigurations"].([]interface{}); ok {
		for _, cfg := range configs {
			cfgMap, ok := cfg.(map[string]interface{})
			if !ok {
				continue
			}
			targets, _ := cfgMap["TestTargets"].([]interface{})
			for _, tgt := range targets {
				setPortEnv(tgt, portStr)
			}
		}
	} else if targets, ok := doc["TestTargets"].([]interface{}); ok {
		for _, tgt := range targets {
			setPortEnv(tgt, portStr)
		}
	}

	out, err := plist.MarshalIndent(doc, format, "\t")
	if err != nil {
		return err
	}
	return os.WriteFile(path, out, 0o644) //#nosec G306 -- build artifact, not a secret
}

func setPortEnv(target interface{}, portStr string) {
	tgtMap, ok := target.(map[string]interface{})
	if !ok {
		return
	}
	env, ok := tgtMap["EnvironmentVariables"].(map[string]interface{})
	if !ok {
		env = make(map[string]interface{})
		tgtMap["EnvironmentVariables"] = env
	}
	env["USE_PORT"] = portStr
}

