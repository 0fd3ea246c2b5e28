// Package config resolves the server's home directory and loads quern.yaml.
package config

import (
	"os"
	"path/filepath"
	"sync"
)

const envHome = "QUERN_HOME"

var (
	homeOnce sync.Once
	homeDir  string
)

// Home returns the quern home directory.
//
// Resolution order:
//  1. $QUERN_HOME environment variable
//  2. Parent of the binary's directory (if binary is in <home>/bin/)
//  3. Current working directory (development fallback)
func Home() string {
	homeOnce.Do(func() {
		homeDir = resolveHome()
	})
	return homeDir
}

// CacheDir returns <home>/cache.
func CacheDir() string {
	return filepath.Join(Home(), "cache")
}

// DriversDir returns <home>/drivers/ios.
func DriversDir() string {
	return filepath.Join(Home(), "drivers", "ios")
}

// StateFilePath returns <home>/wda-state.json, the component A state store file.
func StateFilePath() string {
	return filepath.Join(Home(), "wda-state.json")
}

// WDASourceDir returns <home>/wda/WebDriverAgent, the upstream clone destination.
func WDASourceDir() string {
	return filepath.Join(Home(), "wda", "WebDriverAgent")
}

// WDABuildDir returns <home>/wda/build, the derived-data root for xcodebuild.
func WDABuildDir() string {
	return filepath.Join(Home(), "wda", "build")
}

// RunnerLogPath returns <home>/wda/runner-<udid[:8]>.log.
func RunnerLogPath(udid string) string {
	short := udid
	if len(short) > 8 {
		short = short[:8]
	}
	return filepath.Join(Home(), "wda", "runner-"+short+".log")
}

func resolveHome() string {
	if env := os.Getenv(envHome); env != "" {
		return env
	}

	if execPath, err := os.Executable(); err == nil {
		if resolved, err := filepath.EvalSymlinks(execPath); err == nil {
			execPath = resolved
		}
		binDir := filepath.Dir(execPath)
		if filepath.Base(binDir) == "bin" {
			return filepath.Dir(binDir)
		}
	}

	if cwd, err := os.Getwd(); err == nil {
		return cwd
	}

	return "."
}

// ResetHome resets the cached home directory; for tests only.
func ResetHome() {
	homeOnce = sync.Once{}
	homeDir = ""
}
