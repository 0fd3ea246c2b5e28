// Package cliapp implements cmd/quernd's command surface: a urfave/cli/v2
// tree generalized from the teacher's pkg/cli/wda.go (subcommand shape,
// colored status prose) covering both the long-running HTTP server and
// one-shot lifecycle/pool operations against the same on-disk state.
package cliapp

import (
	"context"
	"time"

	"github.com/devicelab-dev/quern/internal/config"
	"github.com/devicelab-dev/quern/internal/devicepool"
	"github.com/devicelab-dev/quern/internal/lifecycle"
	"github.com/devicelab-dev/quern/internal/logx"
	"github.com/devicelab-dev/quern/internal/metrics"
	"github.com/devicelab-dev/quern/internal/statestore"
	"github.com/devicelab-dev/quern/internal/tunnel"
	"github.com/devicelab-dev/quern/internal/wdaclient"
)

// deps bundles every component a command needs, constructed once from
// quern.yaml and shared between the HTTP server and CLI subcommands so
// both observe the same state store.
type deps struct {
	cfg       config.Config
	pool      *devicepool.Pool
	lifecycle *lifecycle.Manager
	wda       *wdaclient.Client
	metrics   *metrics.Registry
}

// lifecycleRestarter adapts *lifecycle.Manager to wdaclient.Restarter,
// discarding Start's StartStatus since the client's auto-restart path only
// needs to know whether the restart succeeded.
type lifecycleRestarter struct {
	m *lifecycle.Manager
}

func (r lifecycleRestarter) Start(ctx context.Context, udid, osVersion string) error {
	_, err := r.m.Start(ctx, udid, osVersion)
	return err
}

// buildDeps loads quern.yaml from the resolved home directory and
// constructs every long-lived component, wiring the metrics registry into
// each as an optional nil-safe dependency.
func buildDeps() (*deps, error) {
	cfg, err := config.LoadFromHome()
	if err != nil {
		return nil, err
	}

	store := statestore.New(config.StateFilePath())
	dirs := lifecycle.Dirs{
		WDASourceDir: config.WDASourceDir(),
		WDABuildDir:  config.WDABuildDir(),
		RunnerLog:    config.RunnerLogPath,
	}
	lc := lifecycle.New(store, dirs, cfg.WDARepoURL)

	pool := devicepool.New()

	resolver := tunnel.New(cfg.TunnelDaemonURL)
	wdaCfg := wdaclient.Config{
		IdleTimeout:       time.Duration(cfg.IdleTimeoutMinutes) * time.Minute,
		IdleCheckInterval: time.Duration(cfg.IdleCheckSeconds) * time.Second,
		SnapshotMaxDepth:  cfg.SnapshotMaxDepth,
		SourceSoftTimeout: time.Duration(cfg.SourceSoftTimeoutSecs) * time.Second,
	}
	wda := wdaclient.New(resolver, lifecycleRestarter{m: lc}, wdaCfg)

	reg := metrics.New()
	pool.WithMetrics(reg)
	lc.WithMetrics(reg)
	wda.WithMetrics(reg)

	logx.For("cliapp").Info("quern home resolved", "home", config.Home())

	return &deps{cfg: cfg, pool: pool, lifecycle: lc, wda: wda, metrics: reg}, nil
}
