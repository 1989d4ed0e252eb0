// Package adapter implements psram bus capabilities over USB bridge chips.
package adapter

import (
	"context"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/karalabe/hid"

	"github.com/mklimuk/psram"
	"github.com/mklimuk/psram/cmd/psram/console"
)

// Microchip MCP2210 USB-to-SPI bridge
const VendorID = 0x04D8
const ProductID = 0x00DE

// HID report command codes
const (
	cmdGetChipStatus   = 0x10
	cmdSetGPIOValue    = 0x30
	cmdGetGPIOValue    = 0x31
	cmdSetGPIODir      = 0x32
	cmdGetSPISettings  = 0x40
	cmdSetSPISettings  = 0x41
	cmdTransferSPIData = 0x42
)

// SPI transfer status codes returned in the second response byte
const (
	statusCompleted          = 0x00
	statusBusNotAvailable    = 0xF7
	statusTransferInProgress = 0xF8
)

// transferChunk is the per-report SPI data limit of the bridge.
const transferChunk = 60

var ErrCommandFailed = errors.New("command failed")
var ErrBusUnavailable = errors.New("SPI bus owned by an external master")

// MCP2210 drives the USB-to-SPI bridge through 64-byte HID reports. It
// implements psram.SPIBus and, through one of its general-purpose pins,
// psram.ChipSelect. The bridge's own automatic chip select is left idle so
// the select line can be held across consecutive exchanges.
type MCP2210 struct {
	mx           sync.Mutex
	request      []byte
	response     []byte
	responseWait time.Duration
	csPin        uint
}

var _ psram.SPIBus = &MCP2210{}
var _ psram.ChipSelect = &MCP2210{}

// MCP2210SPISettings mirrors the bridge's volatile SPI transfer settings.
type MCP2210SPISettings struct {
	BitRate             uint32 `yaml:"bit_rate"`
	IdleCSValue         uint16 `yaml:"idle_cs_value"`
	ActiveCSValue       uint16 `yaml:"active_cs_value"`
	CSToDataDelay       uint16 `yaml:"cs_to_data_delay"`
	LastByteToCSDelay   uint16 `yaml:"last_byte_to_cs_delay"`
	InterByteDelay      uint16 `yaml:"inter_byte_delay"`
	BytesPerTransaction uint16 `yaml:"bytes_per_transaction"`
	Mode                byte   `yaml:"spi_mode"`
}

// NewMCP2210 returns an adapter using csPin (0-8) as the chip-select output.
func NewMCP2210(csPin uint) *MCP2210 {
	return &MCP2210{
		request:      make([]byte, 64),
		response:     make([]byte, 64),
		responseWait: 50 * time.Millisecond,
		csPin:        csPin,
	}
}

// Init configures the chip-select pin as a GPIO output parked high.
func (d *MCP2210) Init(ctx context.Context) error {
	d.mx.Lock()
	defer d.mx.Unlock()
	d.resetBuffers()
	d.request[0] = cmdGetGPIOValue
	err := d.send(ctx, true)
	if err != nil {
		return fmt.Errorf("could not read GPIO values: %w", err)
	}
	val := binary.LittleEndian.Uint16(d.response[4:6])
	val |= 1 << d.csPin

	d.resetBuffers()
	d.request[0] = cmdSetGPIODir
	// direction bit 0 = output
	binary.LittleEndian.PutUint16(d.request[4:6], ^uint16(1<<d.csPin))
	err = d.send(ctx, true)
	if err != nil {
		return fmt.Errorf("could not set GPIO direction: %w", err)
	}

	d.resetBuffers()
	d.request[0] = cmdSetGPIOValue
	binary.LittleEndian.PutUint16(d.request[4:6], val)
	err = d.send(ctx, true)
	if err != nil {
		return fmt.Errorf("could not park chip select high: %w", err)
	}
	return nil
}

// Transfer clocks buffer through the SPI engine in chunks of at most 60
// bytes, replacing it in place with the received bytes. A busy engine is
// polled until it accepts the chunk.
func (d *MCP2210) Transfer(ctx context.Context, buffer []byte) error {
	d.mx.Lock()
	defer d.mx.Unlock()
	received := 0
	offset := 0
	for received < len(buffer) {
		if err := ctx.Err(); err != nil {
			return err
		}
		n := len(buffer) - offset
		if n > transferChunk {
			n = transferChunk
		}
		d.resetBuffers()
		d.request[0] = cmdTransferSPIData
		d.request[1] = byte(n)
		copy(d.request[4:], buffer[offset:offset+n])
		err := d.send(ctx, true)
		if err != nil {
			return fmt.Errorf("spi transfer report failed: %w", err)
		}
		switch d.response[1] {
		case statusCompleted:
		case statusBusNotAvailable:
			return ErrBusUnavailable
		case statusTransferInProgress:
			// chunk rejected, engine still clocking the previous one
			time.Sleep(d.responseWait)
			continue
		default:
			return fmt.Errorf("%w: spi transfer status %#02x", ErrCommandFailed, d.response[1])
		}
		offset += n
		rx := int(d.response[2])
		if received+rx > len(buffer) {
			return fmt.Errorf("%w: received %d excess bytes", ErrCommandFailed, received+rx-len(buffer))
		}
		copy(buffer[received:], d.response[4:4+rx])
		received += rx
	}
	return nil
}

// AssertLow drives the chip-select pin low, selecting the device.
func (d *MCP2210) AssertLow(ctx context.Context) error {
	return d.setCS(ctx, false)
}

// AssertHigh releases the chip-select pin.
func (d *MCP2210) AssertHigh(ctx context.Context) error {
	return d.setCS(ctx, true)
}

func (d *MCP2210) setCS(ctx context.Context, high bool) error {
	d.mx.Lock()
	defer d.mx.Unlock()
	d.resetBuffers()
	d.request[0] = cmdGetGPIOValue
	err := d.send(ctx, true)
	if err != nil {
		return fmt.Errorf("could not read GPIO values: %w", err)
	}
	val := binary.LittleEndian.Uint16(d.response[4:6])
	if high {
		val |= 1 << d.csPin
	} else {
		val &^= 1 << d.csPin
	}
	d.resetBuffers()
	d.request[0] = cmdSetGPIOValue
	binary.LittleEndian.PutUint16(d.request[4:6], val)
	err = d.send(ctx, true)
	if err != nil {
		return fmt.Errorf("could not set GPIO values: %w", err)
	}
	return nil
}

// MCP2210Status reports the bridge's chip status.
type MCP2210Status struct {
	BusReleaseRequested bool   `yaml:"bus_release_requested"`
	BusOwner            string `yaml:"bus_owner"`
	PasswordAttempts    int    `yaml:"password_attempts"`
	PasswordGuessed     bool   `yaml:"password_guessed"`
}

// Status queries the bridge's chip status register.
func (d *MCP2210) Status(ctx context.Context) (*MCP2210Status, error) {
	d.mx.Lock()
	defer d.mx.Unlock()
	d.resetBuffers()
	d.request[0] = cmdGetChipStatus
	err := d.send(ctx, true)
	if err != nil {
		return nil, fmt.Errorf("status request failed: %w", err)
	}
	status := &MCP2210Status{
		BusReleaseRequested: d.response[2] == 0x00,
		PasswordAttempts:    int(d.response[4]),
		PasswordGuessed:     d.response[5] == 0x01,
	}
	switch d.response[3] {
	case 0x00:
		status.BusOwner = "none"
	case 0x01:
		status.BusOwner = "usb-bridge"
	case 0x02:
		status.BusOwner = "external-master"
	default:
		status.BusOwner = fmt.Sprintf("unknown (%#02x)", d.response[3])
	}
	return status, nil
}

// SPISettings reads the bridge's current (volatile) SPI transfer settings.
func (d *MCP2210) SPISettings(ctx context.Context) (*MCP2210SPISettings, error) {
	d.mx.Lock()
	defer d.mx.Unlock()
	d.resetBuffers()
	d.request[0] = cmdGetSPISettings
	err := d.send(ctx, true)
	if err != nil {
		return nil, fmt.Errorf("settings request failed: %w", err)
	}
	if d.response[1] != 0x00 {
		return nil, ErrCommandFailed
	}
	return bufferToSettings(d.response), nil
}

// SetSPISettings writes the bridge's volatile SPI transfer settings.
func (d *MCP2210) SetSPISettings(ctx context.Context, settings *MCP2210SPISettings) error {
	d.mx.Lock()
	defer d.mx.Unlock()
	d.resetBuffers()
	d.request[0] = cmdSetSPISettings
	settingsToBuffer(settings, d.request)
	err := d.send(ctx, true)
	if err != nil {
		return fmt.Errorf("settings update failed: %w", err)
	}
	if d.response[1] != 0x00 {
		return ErrCommandFailed
	}
	return nil
}

func bufferToSettings(buffer []byte) *MCP2210SPISettings {
	/*
		4-7:   bit rate (32-bit, little-endian)
		8-9:   idle chip-select value
		10-11: active chip-select value
		12-13: chip-select-to-data delay (quanta of 100us)
		14-15: last-data-byte-to-CS delay
		16-17: delay between subsequent data bytes
		18-19: bytes to transfer per SPI transaction
		20:    SPI mode
	*/
	return &MCP2210SPISettings{
		BitRate:             binary.LittleEndian.Uint32(buffer[4:8]),
		IdleCSValue:         binary.LittleEndian.Uint16(buffer[8:10]),
		ActiveCSValue:       binary.LittleEndian.Uint16(buffer[10:12]),
		CSToDataDelay:       binary.LittleEndian.Uint16(buffer[12:14]),
		LastByteToCSDelay:   binary.LittleEndian.Uint16(buffer[14:16]),
		InterByteDelay:      binary.LittleEndian.Uint16(buffer[16:18]),
		BytesPerTransaction: binary.LittleEndian.Uint16(buffer[18:20]),
		Mode:                buffer[20],
	}
}

func settingsToBuffer(settings *MCP2210SPISettings, buffer []byte) {
	binary.LittleEndian.PutUint32(buffer[4:8], settings.BitRate)
	binary.LittleEndian.PutUint16(buffer[8:10], settings.IdleCSValue)
	binary.LittleEndian.PutUint16(buffer[10:12], settings.ActiveCSValue)
	binary.LittleEndian.PutUint16(buffer[12:14], settings.CSToDataDelay)
	binary.LittleEndian.PutUint16(buffer[14:16], settings.LastByteToCSDelay)
	binary.LittleEndian.PutUint16(buffer[16:18], settings.InterByteDelay)
	binary.LittleEndian.PutUint16(buffer[18:20], settings.BytesPerTransaction)
	buffer[20] = settings.Mode
}

func (d *MCP2210) send(ctx context.Context, response bool) error {
	devs := hid.Enumerate(VendorID, ProductID)
	if len(devs) == 0 {
		return fmt.Errorf("MCP2210 device not found")
	}
	if len(devs) > 1 {
		return fmt.Errorf("ambiguous device identification")
	}
	dev, err := devs[0].Open()
	if err != nil {
		return fmt.Errorf("error opening device: %w", err)
	}
	defer func() {
		_ = dev.Close()
	}()
	verbose := console.IsVerbose(ctx)
	if verbose {
		console.Printf("sending report to bridge:\n%s\n", hex.Dump(d.request))
	}
	n, err := dev.Write(d.request)
	if err != nil {
		return fmt.Errorf("could not write request: %w", err)
	}
	if n != 64 {
		return fmt.Errorf("short write: %d", n)
	}
	if !response {
		return nil
	}
	n, err = dev.Read(d.response)
	if err != nil {
		return fmt.Errorf("could not read response: %w", err)
	}
	if n != 64 {
		return fmt.Errorf("short read: %d", n)
	}
	if d.response[0] != d.request[0] {
		return fmt.Errorf("%w: response echoes command %#02x", ErrCommandFailed, d.response[0])
	}
	if verbose {
		console.Printf("read report from bridge:\n%s\n", hex.Dump(d.response))
	}
	return nil
}

func (d *MCP2210) resetBuffers() {
	resetBuffer(d.request)
	resetBuffer(d.response)
}

func resetBuffer(buf []byte) {
	for i := range buf {
		buf[i] = 0x00
	}
}
