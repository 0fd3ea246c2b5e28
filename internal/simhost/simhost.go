// Package simhost lists and boots iOS simulators via simctl, adapted from
// the teacher's pkg/simulator for use by internal/devicepool's Ensure
// operation (simulator auto-boot only; physical devices are never booted).
package simhost

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"
	"time"

	"github.com/devicelab-dev/quern/internal/logx"
)

const (
	bootTimeout     = 60 * time.Second
	bootPollEvery   = 1 * time.Second
	listSimTimeout  = 10 * time.Second
)

// Device is one simulator entry from `simctl list devices`.
type Device struct {
	Name      string
	UDID      string
	Runtime   string
	OSVersion string
	State     string // "Booted", "Shutdown", ...
}

func (d Device) Booted() bool { return d.State == "Booted" }

// Host lists and boots simulators. Kept as a struct (rather than package
// functions, as the teacher does) so tests can swap in a fake without
// shelling out to xcrun.
type Host struct {
	log *slog.Logger
}

func New() *Host {
	return &Host{log: logx.For("simhost")}
}

type simctlDevicesOutput struct {
	Devices map[string][]simctlDevice `json:"devices"`
}

type simctlDevice struct {
	Name        string `json:"name"`
	UDID        string `json:"udid"`
	State       string `json:"state"`
	IsAvailable bool   `json:"isAvailable"`
}

// List returns every available simulator across all installed runtimes.
func (h *Host) List(ctx context.Context) ([]Device, error) {
	listCtx, cancel := context.WithTimeout(ctx, listSimTimeout)
	defer cancel()

	cmd := exec.CommandContext(listCtx, "xcrun", "simctl", "list", "devices", "available", "-j")
	output, err := cmd.Output()
	if err != nil {
		return nil, fmt.Errorf("listing simulators: %w", err)
	}

	var data simctlDevicesOutput
	if err := json.Unmarshal(output, &data); err != nil {
		return nil, fmt.Errorf("parsing simctl output: %w", err)
	}

	var devices []Device
	for runtime, entries := range data.Devices {
		osVersion := extractOSVersion(runtime)
		for _, e := range entries {
			if !e.IsAvailable {
				continue
			}
			devices = append(devices, Device{
				Name:      e.Name,
				UDID:      e.UDID,
				Runtime:   runtime,
				OSVersion: osVersion,
				State:     e.State,
			})
		}
	}
	return devices, nil
}

// Boot starts a simulator and blocks until simctl reports it Booted, or
// returns early if it's already running.
func (h *Host) Boot(ctx context.Context, udid string) error {
	bootCtx, cancel := context.WithTimeout(ctx, bootTimeout)
	defer cancel()

	cmd := exec.CommandContext(bootCtx, "xcrun", "simctl", "boot", udid)
	if output, err := cmd.CombinedOutput(); err != nil {
		if strings.Contains(string(output), "current state: Booted") {
			return nil
		}
		return fmt.Errorf("simctl boot failed: %s", strings.TrimSpace(string(output)))
	}

	ticker := time.NewTicker(bootPollEvery)
	defer ticker.Stop()
	for {
		select {
		case <-bootCtx.Done():
			return fmt.Errorf("simulator %s did not boot within %s", udid, bootTimeout)
		case <-ticker.C:
			devices, err := h.List(ctx)
			if err != nil {
				continue
			}
			for _, d := range devices {
				if d.UDID == udid && d.Booted() {
					return nil
				}
			}
		}
	}
}

func extractOSVersion(runtime string) string {
	idx := strings.LastIndex(runtime, ".")
	if idx < 0 {
		return runtime
	}
	return strings.ReplaceAll(runtime[idx+1:], "-", ".")
}
