// Package spi implements the psram bus capabilities on top of a periph.io
// host SPI port and a GPIO chip-select line. The port's own chip select is
// left unused so the driver can hold the device selected across the command
// and payload exchanges of a single transaction.
package spi

import (
	"context"
	"fmt"

	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/conn/v3/spi"
	"periph.io/x/conn/v3/spi/spireg"
	"periph.io/x/host/v3"

	"github.com/mklimuk/psram"
)

var _ psram.SPIBus = &Bus{}

type Bus struct {
	port spi.PortCloser
	conn spi.Conn
}

// NewBus opens the named SPI port and configures it for mode 0, 8-bit words
// at the requested speed.
func NewBus(dev string, speed physic.Frequency) (*Bus, error) {
	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("could not init host: %w", err)
	}
	port, err := spireg.Open(dev)
	if err != nil {
		return nil, fmt.Errorf("could not open spi port: %w", err)
	}
	conn, err := port.Connect(speed, spi.Mode0, 8)
	if err != nil {
		_ = port.Close()
		return nil, fmt.Errorf("could not configure spi port: %w", err)
	}
	return &Bus{
		port: port,
		conn: conn,
	}, nil
}

// Transfer performs one full-duplex exchange, replacing buffer in place with
// the bytes captured during the transfer.
func (b *Bus) Transfer(ctx context.Context, buffer []byte) error {
	err := b.conn.Tx(buffer, buffer)
	if err != nil {
		return fmt.Errorf("could not transfer on spi bus: %w", err)
	}
	return nil
}

func (b *Bus) Close() error {
	return b.port.Close()
}

var _ psram.ChipSelect = &CSLine{}

// CSLine drives a GPIO pin as an active-low chip select.
type CSLine struct {
	pin gpio.PinOut
}

// NewCSLine resolves the named GPIO pin and parks it high (deselected).
func NewCSLine(name string) (*CSLine, error) {
	pin := gpioreg.ByName(name)
	if pin == nil {
		return nil, fmt.Errorf("gpio pin %q not found", name)
	}
	if err := pin.Out(gpio.High); err != nil {
		return nil, fmt.Errorf("could not park chip select high: %w", err)
	}
	return &CSLine{pin: pin}, nil
}

func (l *CSLine) AssertLow(ctx context.Context) error {
	return l.pin.Out(gpio.Low)
}

func (l *CSLine) AssertHigh(ctx context.Context) error {
	return l.pin.Out(gpio.High)
}
