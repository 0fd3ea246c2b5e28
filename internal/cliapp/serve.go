package cliapp

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v2"

	"github.com/devicelab-dev/quern/internal/httpapi"
)

var serveCommand = &cli.Command{
	Name:  "serve",
	Usage: "Run the HTTP server",
	Flags: []cli.Flag{
		&cli.StringFlag{
			Name:    "addr",
			Usage:   "Address to listen on",
			Value:   ":8090",
			EnvVars: []string{"QUERN_ADDR"},
		},
	},
	Action: func(c *cli.Context) error {
		d, err := buildDeps()
		if err != nil {
			return fmt.Errorf("loading configuration: %w", err)
		}

		server := httpapi.NewServer(d.pool, d.lifecycle, d.wda, d.cfg.APIKey)

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		fmt.Printf("%s●%s quernd listening on %s\n", color(colorGreen), color(colorReset), c.String("addr"))
		return server.Serve(ctx, c.String("addr"))
	},
}
