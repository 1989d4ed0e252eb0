package main

import (
	"context"
	"encoding/hex"
	"fmt"

	"github.com/urfave/cli/v2"
	"periph.io/x/conn/v3/physic"

	"github.com/mklimuk/psram"
	"github.com/mklimuk/psram/adapter"
	"github.com/mklimuk/psram/cmd/psram/console"
	"github.com/mklimuk/psram/memory/psram64"
	"github.com/mklimuk/psram/spi"
)

var busFlags = []cli.Flag{
	&cli.StringFlag{
		Name:  "adapter",
		Usage: "bus adapter to use: periph or mcp2210",
		Value: "periph",
	},
	&cli.StringFlag{
		Name:  "bus",
		Usage: "spi port name (periph adapter)",
		Value: "SPI0.0",
	},
	&cli.StringFlag{
		Name:  "cs",
		Usage: "chip-select gpio pin name (periph adapter)",
		Value: "GPIO8",
	},
	&cli.UintFlag{
		Name:  "cs-pin",
		Usage: "chip-select pin number (mcp2210 adapter)",
		Value: 0,
	},
	&cli.StringFlag{
		Name:  "burst",
		Usage: "burst length: none, 32 or 1k",
		Value: "none",
	},
	&cli.BoolFlag{Name: "verbose", Aliases: []string{"v"}},
}

func parseBurst(value string) (psram64.BurstLength, error) {
	switch value {
	case "none":
		return psram64.BurstNone, nil
	case "32":
		return psram64.Burst32Byte, nil
	case "1k":
		return psram64.Burst1KByte, nil
	default:
		return 0, fmt.Errorf("unknown burst length %q", value)
	}
}

func openDriver(ctx context.Context, c *cli.Context) (*psram64.PSRAM64, func(), error) {
	burst, err := parseBurst(c.String("burst"))
	if err != nil {
		return nil, nil, err
	}
	done := func() {}
	var bus psram.SPIBus
	var cs psram.ChipSelect
	switch c.String("adapter") {
	case "periph":
		b, err := spi.NewBus(c.String("bus"), 33*physic.MegaHertz)
		if err != nil {
			return nil, nil, fmt.Errorf("could not open spi bus: %w", err)
		}
		line, err := spi.NewCSLine(c.String("cs"))
		if err != nil {
			_ = b.Close()
			return nil, nil, fmt.Errorf("could not open chip-select line: %w", err)
		}
		bus, cs = b, line
		done = func() { _ = b.Close() }
	case "mcp2210":
		bridge := adapter.NewMCP2210(c.Uint("cs-pin"))
		if err := bridge.Init(ctx); err != nil {
			return nil, nil, fmt.Errorf("bridge initialization error: %w", err)
		}
		bus, cs = bridge, bridge
	default:
		return nil, nil, fmt.Errorf("unknown adapter %q", c.String("adapter"))
	}
	d, err := psram64.Init(ctx, bus, cs, psram64.Freq33MHz, burst)
	if err != nil {
		done()
		return nil, nil, err
	}
	return d, done, nil
}

var idCmd = cli.Command{
	Name:  "id",
	Usage: "read device identification",
	Flags: busFlags,
	Action: func(c *cli.Context) error {
		ctx := console.SetVerbose(context.Background(), c.Bool("verbose"))
		d, done, err := openDriver(ctx, c)
		if err != nil {
			return console.Exit(1, "driver initialization error: %s", console.Red(err))
		}
		defer done()
		id, err := d.ReadID(ctx)
		if err != nil {
			return console.Exit(1, "error reading identification: %s", console.Red(err))
		}
		console.PInfof(console.PictoChip, "EID: %s", console.White(fmt.Sprintf("%012X", id.EID)))
		if id.KnownGoodDevice {
			console.PInfof(console.PictoFinish, "known good die: %s", console.Green("yes"))
		} else {
			console.PInfof(console.PictoStop, "known good die: %s", console.Red("no"))
		}
		return nil
	},
}

var readCmd = cli.Command{
	Name:  "read",
	Usage: "read memory contents",
	Flags: append([]cli.Flag{
		&cli.IntFlag{Name: "length", Usage: "number of bytes to read", Value: 16},
	}, busFlags...),
	Action: func(c *cli.Context) error {
		if c.NArg() != 1 {
			return console.Exit(1, "expected 1 argument, got %d", c.NArg())
		}
		ctx := console.SetVerbose(context.Background(), c.Bool("verbose"))
		addr, err := parseAddress(c.Args().Get(0))
		if err != nil {
			return console.Exit(1, "could not decode address: %v", err)
		}
		d, done, err := openDriver(ctx, c)
		if err != nil {
			return console.Exit(1, "driver initialization error: %s", console.Red(err))
		}
		defer done()
		buf := make([]byte, c.Int("length"))
		err = d.Read(ctx, addr, buf)
		if err != nil {
			return console.Exit(1, "read error: %s", console.Red(err))
		}
		console.Printf("%s", hex.Dump(buf))
		return nil
	},
}

var writeCmd = cli.Command{
	Name:  "write",
	Usage: "write memory contents",
	Flags: append([]cli.Flag{
		&cli.BoolFlag{Name: "yes", Usage: "skip confirmation"},
	}, busFlags...),
	Action: func(c *cli.Context) error {
		if c.NArg() != 2 {
			return console.Exit(1, "expected 2 arguments, got %d", c.NArg())
		}
		ctx := console.SetVerbose(context.Background(), c.Bool("verbose"))
		addr, err := parseAddress(c.Args().Get(0))
		if err != nil {
			return console.Exit(1, "could not decode address: %v", err)
		}
		data, err := hex.DecodeString(c.Args().Get(1))
		if err != nil {
			return console.Exit(1, "could not decode data: %v", err)
		}
		if !c.Bool("yes") {
			answer, err := console.YesOrNo(fmt.Sprintf("write %d bytes at %#06X?", len(data), addr))
			if err != nil {
				return console.Exit(1, "prompt error: %v", err)
			}
			if answer != console.Yes {
				console.Info("aborted")
				return nil
			}
		}
		d, done, err := openDriver(ctx, c)
		if err != nil {
			return console.Exit(1, "driver initialization error: %s", console.Red(err))
		}
		defer done()
		err = d.Write(ctx, addr, data)
		if err != nil {
			return console.Exit(1, "write error: %s", console.Red(err))
		}
		console.Infof("wrote %d bytes at %#06X", len(data), addr)
		return nil
	},
}

var resetCmd = cli.Command{
	Name:  "reset",
	Usage: "reset the device",
	Flags: busFlags,
	Action: func(c *cli.Context) error {
		ctx := console.SetVerbose(context.Background(), c.Bool("verbose"))
		d, done, err := openDriver(ctx, c)
		if err != nil {
			return console.Exit(1, "driver initialization error: %s", console.Red(err))
		}
		defer done()
		err = d.Reset(ctx)
		if err != nil {
			return console.Exit(1, "reset error (device may be left armed, retry): %s", console.Red(err))
		}
		console.Info("device reset")
		return nil
	},
}

var burstCmd = cli.Command{
	Name:  "burst",
	Usage: "transition the device burst length (none, 32 or 1k)",
	Flags: busFlags,
	Action: func(c *cli.Context) error {
		if c.NArg() != 1 {
			return console.Exit(1, "expected 1 argument, got %d", c.NArg())
		}
		target, err := parseBurst(c.Args().Get(0))
		if err != nil {
			return console.Exit(1, "%v", err)
		}
		ctx := console.SetVerbose(context.Background(), c.Bool("verbose"))
		d, done, err := openDriver(ctx, c)
		if err != nil {
			return console.Exit(1, "driver initialization error: %s", console.Red(err))
		}
		defer done()
		err = d.SetBurstLength(ctx, target)
		if err != nil {
			return console.Exit(1, "burst transition error: %s", console.Red(err))
		}
		console.Infof("burst length is now %s", d.BurstLength())
		return nil
	},
}

func parseAddress(arg string) (uint32, error) {
	bytes, err := hex.DecodeString(arg)
	if err != nil {
		return 0, err
	}
	if len(bytes) == 0 || len(bytes) > 3 {
		return 0, fmt.Errorf("address must be 1 to 3 hex bytes")
	}
	var addr uint32
	for _, b := range bytes {
		addr = addr<<8 | uint32(b)
	}
	return addr, nil
}
