package config

import (
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Config is the server's quern.yaml configuration.
type Config struct {
	// WDA repository and signing.
	WDARepoURL string `yaml:"wdaRepoUrl"`
	TeamID     string `yaml:"teamId"`

	// Timeouts, in seconds. These are loaded but not read by any component:
	// the lifecycle manager uses its own fixed clone, build and startup
	// timeouts.
	CloneTimeoutSeconds   int `yaml:"cloneTimeoutSeconds"`
	BuildTimeoutSeconds   int `yaml:"buildTimeoutSeconds"`
	StartupTimeoutSeconds int `yaml:"startupTimeoutSeconds"`

	// WDA client tuning.
	IdleTimeoutMinutes    int `yaml:"idleTimeoutMinutes"`
	IdleCheckSeconds      int `yaml:"idleCheckSeconds"`
	SnapshotMaxDepth      int `yaml:"snapshotMaxDepth"`
	SourceSoftTimeoutSecs int `yaml:"sourceSoftTimeoutSeconds"`

	// HTTP auth for cmd/quernd.
	APIKey string `yaml:"apiKey"`

	// Tunnel daemon endpoint.
	TunnelDaemonURL string `yaml:"tunnelDaemonUrl"`
}

// Defaults returns the configuration the spec's components assume when a
// value is not set explicitly in quern.yaml.
func Defaults() Config {
	return Config{
		WDARepoURL:            "https://github.com/appium/WebDriverAgent.git",
		CloneTimeoutSeconds:   60,
		BuildTimeoutSeconds:   600,
		StartupTimeoutSeconds: 60,
		IdleTimeoutMinutes:    15,
		IdleCheckSeconds:      60,
		SnapshotMaxDepth:      10,
		SourceSoftTimeoutSecs: 3,
		TunnelDaemonURL:       "http://localhost:5555",
	}
}

// Load reads quern.yaml at path, merging onto Defaults().
func Load(path string) (Config, error) {
	cfg := Defaults()

	data, err := os.ReadFile(path) //#nosec G304 -- operator-provided config path
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, err
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// LoadFromHome looks for quern.yaml under the resolved home directory.
func LoadFromHome() (Config, error) {
	return Load(filepath.Join(Home(), "quern.yaml"))
}
