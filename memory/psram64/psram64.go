// Package psram64 provides a driver for 64-Mbit serial pseudo-SRAM chips
// (ESP-PSRAM64/APS6404 family) behind a plain SPI bus and a chip-select line.
// It supports byte and slice reads and writes with automatic 256-byte write
// chunking, device identification and burst-length management.
//
// The driver is generic over the bus: anything implementing psram.SPIBus and
// psram.ChipSelect will do. The chip-select line is owned by the driver and
// is released after every exchange, even when the transfer itself failed.
//
// Example usage:
//
//	bus, _ := spi.NewBus("SPI0.0", 33*physic.MegaHertz)
//	cs, _ := spi.NewCSLine("GPIO8")
//	ram, err := psram64.Init(ctx, bus, cs, psram64.Freq33MHz, psram64.BurstNone)
//	if err != nil { log.Fatal(err) }
//	id, _ := ram.ReadID(ctx)
//	fmt.Printf("EID: %012X\n", id.EID)
package psram64

import (
	"context"
	"encoding/binary"
	"fmt"

	"github.com/mklimuk/psram"
)

// Instruction set. Quad-mode opcodes are deliberately absent: this driver
// only speaks single-wire command framing.
const (
	opRead           = 0x03 // read at up to 33MHz
	opFastRead       = 0x0B // faster read, not exposed by the current operations
	opWrite          = 0x02 // write at up to 33MHz
	opResetEnable    = 0x66 // arm the reset
	opReset          = 0x99 // execute the reset
	opSetBurstLength = 0xC0 // toggle 32-byte burst mode
	opReadID         = 0x9F // read manufacturer/device/EID
)

const (
	// vendor signature expected as the first identification byte
	vendorID = 0x0D
	// known-good-die status values
	kgdPass = 0x5D
	kgdFail = 0x55
)

const (
	// writeChunk is the fixed slice-write chunk size. It is a conservative
	// page-safety choice independent of the configured burst length.
	writeChunk = 256
	pageSize   = 1024
	capacity   = 8 * 1024 * 1024 // 64 Mbit
)

// Freq is the bus speed class the device is presumed to run at. Only the
// 33MHz class may cross page boundaries without restriction; it is also the
// only class Init currently accepts.
type Freq int

const (
	Freq33MHz Freq = iota
	Freq84MHz
	Freq104MHz
	Freq133MHz
	Freq144MHz
)

func (f Freq) String() string {
	switch f {
	case Freq33MHz:
		return "33MHz"
	case Freq84MHz:
		return "84MHz"
	case Freq104MHz:
		return "104MHz"
	case Freq133MHz:
		return "133MHz"
	case Freq144MHz:
		return "144MHz"
	default:
		return fmt.Sprintf("Freq(%d)", int(f))
	}
}

// BurstLength selects the device-side payload limit per access. The device
// has only two physical burst states: 32-byte and "not 32-byte", so
// transitions between BurstNone and Burst1KByte need no device command.
type BurstLength int

const (
	// BurstNone imposes no limit under 33MHz.
	BurstNone BurstLength = iota
	// Burst32Byte limits payloads to 32 bytes and cannot cross page boundaries.
	Burst32Byte
	// Burst1KByte limits payloads to 1KiB.
	Burst1KByte
)

func (b BurstLength) String() string {
	switch b {
	case BurstNone:
		return "none"
	case Burst32Byte:
		return "32B"
	case Burst1KByte:
		return "1KB"
	default:
		return fmt.Sprintf("BurstLength(%d)", int(b))
	}
}

// Identification is the device identity record returned by ReadID.
type Identification struct {
	// EID is the 48-bit unique identifier, in bits 0-47.
	EID uint64
	// KnownGoodDevice is true only when the self-test status byte reports
	// the known-good value.
	KnownGoodDevice bool
}

// ParseIdentification parses the identification bytes that follow the Read ID
// command echo and latency bytes. It fails with psram.ErrInvalidDevice when
// fewer than 10 bytes are available or the vendor signature does not match.
func ParseIdentification(buf []byte) (Identification, error) {
	if len(buf) < 10 {
		return Identification{}, fmt.Errorf("identification response too short (%d bytes): %w", len(buf), psram.ErrInvalidDevice)
	}
	if buf[0] != vendorID {
		return Identification{}, fmt.Errorf("unexpected vendor signature %#02x: %w", buf[0], psram.ErrInvalidDevice)
	}
	var eid [8]byte
	copy(eid[2:], buf[2:8])
	return Identification{
		EID:             binary.BigEndian.Uint64(eid[:]),
		KnownGoodDevice: buf[1] == kgdPass,
	}, nil
}

// PSRAM64 drives one pseudo-SRAM chip. It owns the bus and chip-select
// handles exclusively and executes operations strictly sequentially; there is
// no internal locking because only one logical owner exists by construction.
type PSRAM64 struct {
	bus   psram.SPIBus
	cs    psram.ChipSelect
	freq  Freq
	burst BurstLength
}

var _ psram.Memory = &PSRAM64{}

// Init validates the requested configuration and returns an owned driver.
// Only Freq33MHz is accepted for now; any other class fails with
// psram.ErrInvalidMode. When burst is Burst32Byte the burst-length toggle
// command is issued once, assuming the device powers up in its unrestricted
// default mode.
func Init(ctx context.Context, bus psram.SPIBus, cs psram.ChipSelect, freq Freq, burst BurstLength) (*PSRAM64, error) {
	if freq != Freq33MHz {
		return nil, fmt.Errorf("frequency class %s is not supported: %w", freq, psram.ErrInvalidMode)
	}
	d := &PSRAM64{bus: bus, cs: cs, freq: freq, burst: burst}
	if burst == Burst32Byte {
		if err := d.exchange(ctx, []byte{opSetBurstLength}, nil); err != nil {
			return nil, err
		}
	}
	return d, nil
}

// Freq returns the frequency class the driver was initialized with.
func (d *PSRAM64) Freq() Freq { return d.freq }

// BurstLength returns the burst mode last confirmed on the device.
func (d *PSRAM64) BurstLength() BurstLength { return d.burst }

// exchange runs one selected transaction: chip select low, a full-duplex
// transfer of cmd, optionally a second transfer of payload, chip select high.
// The select line is released even when a transfer failed so the device never
// stays electrically selected. A release failure takes precedence over an
// earlier transfer failure.
func (d *PSRAM64) exchange(ctx context.Context, cmd, payload []byte) error {
	if err := d.cs.AssertLow(ctx); err != nil {
		return &psram.ChipSelectError{Err: err}
	}
	xfer := d.bus.Transfer(ctx, cmd)
	if xfer == nil && payload != nil {
		xfer = d.bus.Transfer(ctx, payload)
	}
	if err := d.cs.AssertHigh(ctx); err != nil {
		return &psram.ChipSelectError{Err: err}
	}
	if xfer != nil {
		return &psram.TransportError{Err: xfer}
	}
	return nil
}

// ReadID reads the manufacturer/device identification.
func (d *PSRAM64) ReadID(ctx context.Context) (Identification, error) {
	// 13 don't-care bytes clock out the response after the command byte.
	buf := make([]byte, 14)
	buf[0] = opReadID
	if err := d.exchange(ctx, buf, nil); err != nil {
		return Identification{}, err
	}
	// skip the command echo and latency bytes
	return ParseIdentification(buf[4:])
}

// Reset arms and executes a device reset as two separate exchanges. Both
// commands must land for the reset to take effect; when the second exchange
// fails the device is left armed but not reset and the caller should retry.
func (d *PSRAM64) Reset(ctx context.Context) error {
	if err := d.exchange(ctx, []byte{opResetEnable}, nil); err != nil {
		return err
	}
	return d.exchange(ctx, []byte{opReset}, nil)
}

// SetBurstLength transitions the device to a new burst mode. The toggle
// command is sent only when the transition crosses the 32-byte boundary in
// either direction; the recorded mode is updated only once any required
// command succeeded, so a failed toggle never desynchronizes the driver from
// the device.
func (d *PSRAM64) SetBurstLength(ctx context.Context, burst BurstLength) error {
	if (burst == Burst32Byte) != (d.burst == Burst32Byte) {
		if err := d.exchange(ctx, []byte{opSetBurstLength}, nil); err != nil {
			return err
		}
	}
	d.burst = burst
	return nil
}

// command frames an opcode with the low 24 bits of address, MSB first.
func command(op byte, address uint32) []byte {
	return []byte{op, byte(address >> 16), byte(address >> 8), byte(address)}
}

// ReadByte reads a single byte at address.
func (d *PSRAM64) ReadByte(ctx context.Context, address uint32) (byte, error) {
	var buf [1]byte
	if err := d.Read(ctx, address, buf[:]); err != nil {
		return 0, err
	}
	return buf[0], nil
}

// Read fills buffer with consecutive bytes starting at address. The command
// and the payload are two exchanges under a single chip-select assertion; no
// chunking is applied because read bursts are unrestricted at 33MHz.
func (d *PSRAM64) Read(ctx context.Context, address uint32, buffer []byte) error {
	return d.exchange(ctx, command(opRead, address), buffer)
}

// WriteByte writes a single byte at address.
func (d *PSRAM64) WriteByte(ctx context.Context, address uint32, value byte) error {
	return d.Write(ctx, address, []byte{value})
}

// Write stores buffer at address, partitioned into chunks of at most 256
// bytes with the chip select cycled between chunks. A mid-sequence failure
// aborts immediately: chunks already written stay written and a single error
// is returned with no partial-completion count.
func (d *PSRAM64) Write(ctx context.Context, address uint32, buffer []byte) error {
	// scratch keeps the duplex exchange from clobbering the caller's slice
	var scratch [writeChunk]byte
	for i := 0; len(buffer) > 0; i++ {
		n := copy(scratch[:], buffer)
		addr := address + uint32(i)*writeChunk
		if err := d.exchange(ctx, command(opWrite, addr), scratch[:n]); err != nil {
			return err
		}
		buffer = buffer[n:]
	}
	return nil
}

// StartAddress returns the first addressable offset.
func (d *PSRAM64) StartAddress() uint32 { return 0 }

// Size returns the total addressable size in bytes (8MiB).
func (d *PSRAM64) Size() uint32 { return capacity }

// PageSize returns the device page size in bytes (1KiB).
func (d *PSRAM64) PageSize() uint32 { return pageSize }
