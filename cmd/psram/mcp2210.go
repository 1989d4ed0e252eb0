package main

import (
	"context"
	"os"

	"github.com/urfave/cli/v2"
	"gopkg.in/yaml.v3"

	"github.com/mklimuk/psram/adapter"
	"github.com/mklimuk/psram/cmd/psram/console"
)

var mcp2210Cmd = cli.Command{
	Name: "mcp2210",
	Subcommands: cli.Commands{
		&mcp2210StatusCmd,
		&mcp2210SettingsCmd,
	},
}

var mcp2210StatusCmd = cli.Command{
	Name: "status",
	Flags: []cli.Flag{
		&cli.BoolFlag{Name: "verbose", Aliases: []string{"v"}},
		&cli.UintFlag{Name: "cs-pin", Value: 0},
	},
	Action: func(c *cli.Context) error {
		a := adapter.NewMCP2210(c.Uint("cs-pin"))
		ctx := console.SetVerbose(context.Background(), c.Bool("verbose"))
		status, err := a.Status(ctx)
		if err != nil {
			return console.Exit(1, "bridge communication error: %s", console.Red(err))
		}
		enc := yaml.NewEncoder(os.Stdout)
		err = enc.Encode(status)
		if err != nil {
			return console.Exit(1, "encoding error: %s", console.Red(err))
		}
		return nil
	},
}

var mcp2210SettingsCmd = cli.Command{
	Name: "settings",
	Flags: []cli.Flag{
		&cli.BoolFlag{Name: "verbose", Aliases: []string{"v"}},
		&cli.UintFlag{Name: "cs-pin", Value: 0},
	},
	Action: func(c *cli.Context) error {
		a := adapter.NewMCP2210(c.Uint("cs-pin"))
		ctx := console.SetVerbose(context.Background(), c.Bool("verbose"))
		settings, err := a.SPISettings(ctx)
		if err != nil {
			return console.Exit(1, "bridge communication error: %s", console.Red(err))
		}
		enc := yaml.NewEncoder(os.Stdout)
		err = enc.Encode(settings)
		if err != nil {
			return console.Exit(1, "encoding error: %s", console.Red(err))
		}
		return nil
	},
}
