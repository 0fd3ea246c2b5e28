package cliapp

import (
	"fmt"
	"os"

	"github.com/urfave/cli/v2"
)

// Version is set at build time.
var Version = "0.1.0"

// Execute runs the quernd CLI: a long-running HTTP server subcommand plus
// one-shot lifecycle and device-pool operations against the same on-disk
// state, generalized from the teacher's pkg/cli/wda.go subcommand style.
func Execute() {
	app := &cli.App{
		Name:    "quernd",
		Usage:   "iOS device-control and UI-automation server",
		Version: Version,
		Description: `quernd drives WebDriverAgent on iOS simulators and physical devices,
exposing UI inspection and interaction over HTTP.

Examples:
  # Run the HTTP server
  quernd serve --addr :8090

  # Prepare WebDriverAgent on a connected physical device
  quernd wda setup --udid 00008030-0011223344556677 --os-version 17.4

  # Claim a device for a test session
  quernd devices claim --udid 00008030-0011223344556677`,
		Commands: []*cli.Command{
			serveCommand,
			wdaCommand,
			devicesCommand,
		},
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
