package cliapp

import (
	"context"
	"fmt"

	"github.com/urfave/cli/v2"

	"github.com/devicelab-dev/quern/internal/lifecycle"
)

var wdaCommand = &cli.Command{
	Name:  "wda",
	Usage: "Manage WebDriverAgent on a device",
	Subcommands: []*cli.Command{
		wdaSetupCommand,
		wdaStartCommand,
		wdaStopCommand,
	},
}

var udidFlag = &cli.StringFlag{
	Name:     "udid",
	Usage:    "Device UDID",
	Required: true,
}

var wdaSetupCommand = &cli.Command{
	Name:  "setup",
	Usage: "Clone, build, and install WebDriverAgent on a physical device",
	Flags: []cli.Flag{
		udidFlag,
		&cli.StringFlag{Name: "os-version", Usage: "Device iOS version", Required: true},
		&cli.StringFlag{Name: "team-id", Usage: "Code-signing team ID, if known"},
	},
	Action: func(c *cli.Context) error {
		d, err := buildDeps()
		if err != nil {
			return err
		}
		status, err := d.lifecycle.Setup(context.Background(), c.String("udid"), c.String("os-version"), c.String("team-id"))
		if err != nil {
			fmt.Printf("%s✗%s setup failed: %v\n", color(colorRed), color(colorReset), err)
			return err
		}
		if status.Kind == lifecycle.SetupNeedsIdentitySelection {
			fmt.Printf("%s!%s multiple signing identities found, pick one with --team-id:\n", color(colorYellow), color(colorReset))
			for _, id := range status.Identities {
				fmt.Printf("    %s  (%s, %s)\n", id.TeamID, id.TeamName, id.TeamType)
			}
			return nil
		}
		fmt.Printf("%s✓%s WebDriverAgent ready on %s (cloned=%v built=%v installed=%v)\n",
			color(colorGreen), color(colorReset), status.UDID, status.Cloned, status.Built, status.Installed)
		return nil
	},
}

var wdaStartCommand = &cli.Command{
	Name:  "start",
	Usage: "Launch WebDriverAgent and wait for it to become ready",
	Flags: []cli.Flag{
		udidFlag,
		&cli.StringFlag{Name: "os-version", Usage: "Device iOS version", Required: true},
	},
	Action: func(c *cli.Context) error {
		d, err := buildDeps()
		if err != nil {
			return err
		}
		status, err := d.lifecycle.Start(context.Background(), c.String("udid"), c.String("os-version"))
		if err != nil {
			fmt.Printf("%s✗%s start failed: %v\n", color(colorRed), color(colorReset), err)
			return err
		}
		if status.Kind == lifecycle.StartAlreadyRunning {
			fmt.Printf("%s●%s WebDriverAgent already running on %s (pid %d)\n", color(colorCyan), color(colorReset), status.UDID, status.PID)
			return nil
		}
		fmt.Printf("%s✓%s WebDriverAgent started on %s (pid %d, ready=%v)\n",
			color(colorGreen), color(colorReset), status.UDID, status.PID, status.Ready)
		return nil
	},
}

var wdaStopCommand = &cli.Command{
	Name:  "stop",
	Usage: "Stop a running WebDriverAgent process",
	Flags: []cli.Flag{udidFlag},
	Action: func(c *cli.Context) error {
		d, err := buildDeps()
		if err != nil {
			return err
		}
		status, err := d.lifecycle.Stop(context.Background(), c.String("udid"))
		if err != nil {
			fmt.Printf("%s✗%s stop failed: %v\n", color(colorRed), color(colorReset), err)
			return err
		}
		if status.Kind == lifecycle.StopNotRunning {
			fmt.Printf("%s●%s WebDriverAgent was not running on %s\n", color(colorCyan), color(colorReset), status.UDID)
			return nil
		}
		fmt.Printf("%s✓%s WebDriverAgent stopped on %s\n", color(colorGreen), color(colorReset), status.UDID)
		return nil
	},
}
