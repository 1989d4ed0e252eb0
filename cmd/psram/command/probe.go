package command

import (
	"encoding/hex"
	"fmt"

	"github.com/urfave/cli/v2"
	"gobot.io/x/gobot/v2/drivers/spi"
	"gobot.io/x/gobot/v2/platforms/friendlyelec/nanopi"

	"github.com/mklimuk/psram/memory/psram64"
)

// ProbeIDCmd reads the identification record through the board's gobot SPI
// driver, bypassing the chip-select-holding driver path. Useful as a quick
// wiring check.
var ProbeIDCmd = &cli.Command{
	Name:  "id",
	Usage: "probe device identification over the board spi bus",
	Flags: []cli.Flag{
		&cli.StringFlag{Name: "bus", Usage: "spi bus name", Value: "spi"},
	},
	Action: func(c *cli.Context) error {
		adaptor := nanopi.NewNeoAdaptor()
		spiDev := spi.NewDriver(adaptor, c.String("bus"))
		err := spiDev.Start()
		if err != nil {
			return fmt.Errorf("SPI device start error: %w", err)
		}
		defer func() {
			_ = spiDev.Halt()
		}()
		conn := spiDev.Connection()
		ops, ok := conn.(interface {
			ReadCommandData(command []byte, data []byte) error
		})
		if !ok {
			return fmt.Errorf("spi connection does not support command reads")
		}
		// Read ID: opcode plus three latency bytes, then the record
		data := make([]byte, 10)
		err = ops.ReadCommandData([]byte{0x9F, 0x00, 0x00, 0x00}, data)
		if err != nil {
			return fmt.Errorf("SPI read error: %w", err)
		}
		fmt.Println(hex.Dump(data))
		id, err := psram64.ParseIdentification(data)
		if err != nil {
			return fmt.Errorf("identification parse error: %w", err)
		}
		fmt.Printf("EID: %012X known good: %v\n", id.EID, id.KnownGoodDevice)
		return nil
	},
}

// ProbeCmd groups board-level probing operations.
var ProbeCmd = &cli.Command{
	Name:  "probe",
	Usage: "board-level bus probing",
	Subcommands: []*cli.Command{
		ProbeIDCmd,
	},
}
