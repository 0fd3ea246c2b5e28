package cliapp

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/urfave/cli/v2"

	"github.com/devicelab-dev/quern/internal/devicepool"
)

var devicesCommand = &cli.Command{
	Name:  "devices",
	Usage: "Claim, release, resolve, and ensure devices from the pool",
	Subcommands: []*cli.Command{
		devicesClaimCommand,
		devicesReleaseCommand,
		devicesResolveCommand,
		devicesEnsureCommand,
	},
}

var devicesClaimCommand = &cli.Command{
	Name:  "claim",
	Usage: "Lease a device for a session",
	Flags: []cli.Flag{
		udidFlag,
		&cli.StringFlag{Name: "session-id", Usage: "Session identifier; generated if omitted"},
	},
	Action: func(c *cli.Context) error {
		d, err := buildDeps()
		if err != nil {
			return err
		}
		sessionID := c.String("session-id")
		if sessionID == "" {
			sessionID = uuid.NewString()
		}
		claim, err := d.pool.Claim(c.String("udid"), sessionID)
		if err != nil {
			fmt.Printf("%s✗%s claim failed: %v\n", color(colorRed), color(colorReset), err)
			return err
		}
		fmt.Printf("%s✓%s claimed %s for session %s\n", color(colorGreen), color(colorReset), claim.UDID, claim.SessionID)
		return nil
	},
}

var devicesReleaseCommand = &cli.Command{
	Name:  "release",
	Usage: "Release a device lease",
	Flags: []cli.Flag{
		udidFlag,
		&cli.StringFlag{Name: "session-id", Required: true},
	},
	Action: func(c *cli.Context) error {
		d, err := buildDeps()
		if err != nil {
			return err
		}
		if err := d.pool.Release(c.String("udid"), c.String("session-id")); err != nil {
			fmt.Printf("%s✗%s release failed: %v\n", color(colorRed), color(colorReset), err)
			return err
		}
		fmt.Printf("%s✓%s released %s\n", color(colorGreen), color(colorReset), c.String("udid"))
		return nil
	},
}

var devicesResolveCommand = &cli.Command{
	Name:  "resolve",
	Usage: "Resolve a single device matching the given criteria",
	Flags: []cli.Flag{
		&cli.StringFlag{Name: "udid"},
		&cli.StringFlag{Name: "name-equals"},
		&cli.StringFlag{Name: "name-contains"},
		&cli.BoolFlag{Name: "booted-only"},
		&cli.BoolFlag{Name: "claimable-only"},
	},
	Action: func(c *cli.Context) error {
		d, err := buildDeps()
		if err != nil {
			return err
		}
		criteria := devicepool.Criteria{
			UDID:          c.String("udid"),
			NameEquals:    c.String("name-equals"),
			NameContains:  c.String("name-contains"),
			BootedOnly:    c.Bool("booted-only"),
			ClaimableOnly: c.Bool("claimable-only"),
		}
		udid, err := d.pool.Resolve(context.Background(), criteria)
		if err != nil {
			fmt.Printf("%s✗%s resolve failed: %v\n", color(colorRed), color(colorReset), err)
			return err
		}
		fmt.Printf("%s✓%s resolved %s\n", color(colorGreen), color(colorReset), udid)
		return nil
	},
}

var devicesEnsureCommand = &cli.Command{
	Name:  "ensure",
	Usage: "Ensure at least count simulators matching criteria are booted",
	Flags: []cli.Flag{
		&cli.IntFlag{Name: "count", Value: 1},
		&cli.StringFlag{Name: "name-equals"},
		&cli.StringFlag{Name: "name-contains"},
	},
	Action: func(c *cli.Context) error {
		d, err := buildDeps()
		if err != nil {
			return err
		}
		criteria := devicepool.Criteria{
			NameEquals:   c.String("name-equals"),
			NameContains: c.String("name-contains"),
		}
		udids, err := d.pool.Ensure(context.Background(), c.Int("count"), criteria)
		if err != nil {
			fmt.Printf("%s✗%s ensure failed: %v\n", color(colorRed), color(colorReset), err)
			return err
		}
		fmt.Printf("%s✓%s ensured %d device(s):\n", color(colorGreen), color(colorReset), len(udids))
		for _, u := range udids {
			fmt.Printf("    %s\n", u)
		}
		return nil
	},
}
