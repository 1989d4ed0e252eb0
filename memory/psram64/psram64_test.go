package psram64

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mklimuk/psram"
)

var errTransfer = errors.New("transfer fault")
var errPin = errors.New("pin fault")

// fakeBus records chip-select edges and every transfer frame and can inject
// failures at a given transfer call or on release.
type fakeBus struct {
	frames       [][]byte
	lows         int
	highs        int
	selected     bool
	unselectedTx bool
	calls        int
	failTransfer int // 1-based call index to fail, 0 = never
	failHigh     bool
	failLow      bool
}

func (f *fakeBus) Transfer(_ context.Context, buffer []byte) error {
	f.calls++
	if !f.selected {
		f.unselectedTx = true
	}
	frame := make([]byte, len(buffer))
	copy(frame, buffer)
	f.frames = append(f.frames, frame)
	if f.failTransfer == f.calls {
		return errTransfer
	}
	return nil
}

func (f *fakeBus) AssertLow(context.Context) error {
	if f.failLow {
		return errPin
	}
	f.lows++
	f.selected = true
	return nil
}

func (f *fakeBus) AssertHigh(context.Context) error {
	f.highs++
	f.selected = false
	if f.failHigh {
		return errPin
	}
	return nil
}

// ramDevice simulates the chip: it decodes command frames and serves read and
// write payloads from an in-memory map, echoing identification bytes for the
// Read ID opcode.
type ramDevice struct {
	mem      map[uint32]byte
	id       []byte
	selected bool
	cmd      []byte
}

func newRAMDevice() *ramDevice {
	return &ramDevice{
		mem: map[uint32]byte{},
		id:  []byte{0x0D, 0x5D, 0xDE, 0xAD, 0xBE, 0xEF, 0x10, 0x32, 0x00, 0x00},
	}
}

func (r *ramDevice) AssertLow(context.Context) error {
	r.selected = true
	r.cmd = nil
	return nil
}

func (r *ramDevice) AssertHigh(context.Context) error {
	r.selected = false
	r.cmd = nil
	return nil
}

func (r *ramDevice) Transfer(_ context.Context, buffer []byte) error {
	if !r.selected {
		return errors.New("device not selected")
	}
	if r.cmd == nil {
		r.cmd = make([]byte, len(buffer))
		copy(r.cmd, buffer)
		if buffer[0] == opReadID {
			// command echo and latency bytes, then the identification record
			copy(buffer[4:], r.id)
		}
		return nil
	}
	addr := uint32(r.cmd[1])<<16 | uint32(r.cmd[2])<<8 | uint32(r.cmd[3])
	switch r.cmd[0] {
	case opRead:
		for i := range buffer {
			buffer[i] = r.mem[addr+uint32(i)]
		}
	case opWrite:
		for i, b := range buffer {
			r.mem[addr+uint32(i)] = b
		}
	}
	return nil
}

func initDriver(t *testing.T, bus *fakeBus, burst BurstLength) *PSRAM64 {
	t.Helper()
	d, err := Init(context.Background(), bus, bus, Freq33MHz, burst)
	require.NoError(t, err)
	return d
}

func TestParseIdentification(t *testing.T) {
	tests := []struct {
		name  string
		given []byte
		eid   uint64
		good  bool
		fails bool
	}{
		{name: "known good", given: []byte{0x0D, 0x5D, 0x01, 0x02, 0x03, 0x04, 0x05, 0x06, 0x00, 0x00}, eid: 0x010203040506, good: true},
		{name: "known bad die", given: []byte{0x0D, 0x55, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0x00, 0x00}, eid: 0xFFFFFFFFFFFF},
		{name: "wrong vendor", given: []byte{0x9D, 0x5D, 0x01, 0x02, 0x03, 0x04, 0x05, 0x06, 0x00, 0x00}, fails: true},
		{name: "too short", given: []byte{0x0D, 0x5D, 0x01, 0x02, 0x03, 0x04, 0x05, 0x06, 0x00}, fails: true},
		{name: "empty", given: nil, fails: true},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			id, err := ParseIdentification(test.given)
			if test.fails {
				assert.ErrorIs(t, err, psram.ErrInvalidDevice)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, test.eid, id.EID)
			assert.Equal(t, test.good, id.KnownGoodDevice)
			assert.Zero(t, id.EID>>48, "top 16 bits must stay clear")
		})
	}
}

func TestInit_RejectsFastFrequencyClasses(t *testing.T) {
	for _, freq := range []Freq{Freq84MHz, Freq104MHz, Freq133MHz, Freq144MHz} {
		t.Run(freq.String(), func(t *testing.T) {
			bus := &fakeBus{}
			_, err := Init(context.Background(), bus, bus, freq, Burst32Byte)
			assert.ErrorIs(t, err, psram.ErrInvalidMode)
			assert.Empty(t, bus.frames, "no command may reach the device")
		})
	}
}

func TestInit_BurstToggle(t *testing.T) {
	bus := &fakeBus{}
	d := initDriver(t, bus, BurstNone)
	assert.Empty(t, bus.frames)
	assert.Equal(t, BurstNone, d.BurstLength())
	assert.Equal(t, Freq33MHz, d.Freq())

	bus = &fakeBus{}
	d = initDriver(t, bus, Burst32Byte)
	require.Len(t, bus.frames, 1)
	assert.Equal(t, []byte{0xC0}, bus.frames[0])
	assert.Equal(t, Burst32Byte, d.BurstLength())
}

func TestSetBurstLength_TogglesOnlyAcross32ByteBoundary(t *testing.T) {
	tests := []struct {
		from, to BurstLength
		commands int
	}{
		{BurstNone, BurstNone, 0},
		{BurstNone, Burst1KByte, 0},
		{Burst1KByte, BurstNone, 0},
		{BurstNone, Burst32Byte, 1},
		{Burst1KByte, Burst32Byte, 1},
		{Burst32Byte, BurstNone, 1},
		{Burst32Byte, Burst1KByte, 1},
		{Burst32Byte, Burst32Byte, 0},
	}
	for _, test := range tests {
		t.Run(test.from.String()+"_to_"+test.to.String(), func(t *testing.T) {
			bus := &fakeBus{}
			d := initDriver(t, bus, test.from)
			bus.frames = nil
			require.NoError(t, d.SetBurstLength(context.Background(), test.to))
			assert.Len(t, bus.frames, test.commands)
			for _, frame := range bus.frames {
				assert.Equal(t, []byte{0xC0}, frame)
			}
			assert.Equal(t, test.to, d.BurstLength())
		})
	}
}

func TestSetBurstLength_KeepsStateOnFailedToggle(t *testing.T) {
	bus := &fakeBus{}
	d := initDriver(t, bus, BurstNone)
	bus.failTransfer = bus.calls + 1
	err := d.SetBurstLength(context.Background(), Burst32Byte)
	var te *psram.TransportError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, BurstNone, d.BurstLength(), "mode must not drift after a failed toggle")
	assert.Equal(t, bus.lows, bus.highs, "chip select must be released")
}

func TestRead_CommandFraming(t *testing.T) {
	bus := &fakeBus{}
	d := initDriver(t, bus, BurstNone)
	buf := make([]byte, 4)
	require.NoError(t, d.Read(context.Background(), 0x001000, buf))
	require.Len(t, bus.frames, 2)
	assert.Equal(t, []byte{0x03, 0x00, 0x10, 0x00}, bus.frames[0])
	assert.Len(t, bus.frames[1], 4)
	assert.Equal(t, 1, bus.lows)
	assert.Equal(t, 1, bus.highs)
	assert.False(t, bus.unselectedTx)
}

func TestRead_AddressWrapsTo24Bits(t *testing.T) {
	bus := &fakeBus{}
	d := initDriver(t, bus, BurstNone)
	require.NoError(t, d.Read(context.Background(), 0xAB123456, make([]byte, 1)))
	assert.Equal(t, []byte{0x03, 0x12, 0x34, 0x56}, bus.frames[0])
}

func TestRead_SkipsPayloadWhenCommandFails(t *testing.T) {
	bus := &fakeBus{failTransfer: 1}
	d := initDriver(t, bus, BurstNone)
	err := d.Read(context.Background(), 0, make([]byte, 8))
	var te *psram.TransportError
	require.ErrorAs(t, err, &te)
	assert.ErrorIs(t, err, errTransfer)
	assert.Len(t, bus.frames, 1, "payload exchange must be skipped")
	assert.Equal(t, 1, bus.highs, "chip select must be released on failure")
}

func TestWrite_Chunking(t *testing.T) {
	tests := []struct {
		name    string
		address uint32
		length  int
		chunks  []int
	}{
		{name: "single byte", address: 0x20, length: 1, chunks: []int{1}},
		{name: "under one chunk", address: 0, length: 255, chunks: []int{255}},
		{name: "exact chunk", address: 0x100, length: 256, chunks: []int{256}},
		{name: "chunk plus one", address: 0x100, length: 257, chunks: []int{256, 1}},
		{name: "four chunks", address: 0x7FFE00, length: 1000, chunks: []int{256, 256, 256, 232}},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			bus := &fakeBus{}
			d := initDriver(t, bus, BurstNone)
			data := bytes.Repeat([]byte{0xA5}, test.length)
			require.NoError(t, d.Write(context.Background(), test.address, data))
			require.Len(t, bus.frames, 2*len(test.chunks))
			for i, size := range test.chunks {
				addr := test.address + uint32(i)*256
				expected := []byte{0x02, byte(addr >> 16), byte(addr >> 8), byte(addr)}
				assert.Equal(t, expected, bus.frames[2*i], "chunk %d command", i)
				assert.Len(t, bus.frames[2*i+1], size, "chunk %d payload", i)
			}
			assert.Equal(t, len(test.chunks), bus.lows, "chip select cycled per chunk")
			assert.Equal(t, len(test.chunks), bus.highs)
		})
	}
}

func TestWrite_DoesNotMutateCallerBuffer(t *testing.T) {
	d := newRAMDevice()
	ram, err := Init(context.Background(), d, d, Freq33MHz, BurstNone)
	require.NoError(t, err)
	data := bytes.Repeat([]byte{0x42}, 300)
	require.NoError(t, ram.Write(context.Background(), 0, data))
	assert.Equal(t, bytes.Repeat([]byte{0x42}, 300), data)
}

func TestWrite_AbortsOnChunkFailure(t *testing.T) {
	// fail the second chunk's payload transfer (call 4: cmd, payload, cmd, payload)
	bus := &fakeBus{failTransfer: 4}
	d := initDriver(t, bus, BurstNone)
	err := d.Write(context.Background(), 0, make([]byte, 700))
	var te *psram.TransportError
	require.ErrorAs(t, err, &te)
	assert.Len(t, bus.frames, 4, "remaining chunks must be skipped")
	assert.Equal(t, 2, bus.highs, "chip select released for both attempted chunks")
}

func TestExchange_ChipSelectErrors(t *testing.T) {
	t.Run("assert failure", func(t *testing.T) {
		bus := &fakeBus{}
		d := initDriver(t, bus, BurstNone)
		bus.failLow = true
		err := d.Read(context.Background(), 0, make([]byte, 1))
		var ce *psram.ChipSelectError
		require.ErrorAs(t, err, &ce)
		assert.ErrorIs(t, err, errPin)
		assert.Empty(t, bus.frames, "no transfer without selection")
	})
	t.Run("release failure after successful payload", func(t *testing.T) {
		bus := &fakeBus{}
		d := initDriver(t, bus, BurstNone)
		bus.failHigh = true
		err := d.Read(context.Background(), 0, make([]byte, 1))
		var ce *psram.ChipSelectError
		require.ErrorAs(t, err, &ce)
		assert.ErrorIs(t, err, errPin)
	})
}

func TestReset_Sequence(t *testing.T) {
	bus := &fakeBus{}
	d := initDriver(t, bus, BurstNone)
	require.NoError(t, d.Reset(context.Background()))
	require.Len(t, bus.frames, 2)
	assert.Equal(t, []byte{0x66}, bus.frames[0])
	assert.Equal(t, []byte{0x99}, bus.frames[1])
	assert.Equal(t, 2, bus.lows)
	assert.Equal(t, 2, bus.highs)
}

func TestReset_SurfacesSecondCommandFailure(t *testing.T) {
	bus := &fakeBus{failTransfer: 2}
	d := initDriver(t, bus, BurstNone)
	err := d.Reset(context.Background())
	var te *psram.TransportError
	require.ErrorAs(t, err, &te)
	require.Len(t, bus.frames, 2, "reset enable must have been issued")
	assert.Equal(t, []byte{0x66}, bus.frames[0])
	assert.Equal(t, 2, bus.highs)
}

func TestReadID(t *testing.T) {
	dev := newRAMDevice()
	d, err := Init(context.Background(), dev, dev, Freq33MHz, BurstNone)
	require.NoError(t, err)
	id, err := d.ReadID(context.Background())
	require.NoError(t, err)
	assert.True(t, id.KnownGoodDevice)
	assert.Equal(t, uint64(0xDEADBEEF1032), id.EID)
}

func TestWriteRead_RoundTrip(t *testing.T) {
	dev := newRAMDevice()
	d, err := Init(context.Background(), dev, dev, Freq33MHz, BurstNone)
	require.NoError(t, err)
	ctx := context.Background()

	data := make([]byte, 700)
	for i := range data {
		data[i] = byte(i * 7)
	}
	require.NoError(t, d.Write(ctx, 0x0FF0, data))

	got := make([]byte, len(data))
	require.NoError(t, d.Read(ctx, 0x0FF0, got))
	assert.Equal(t, data, got)

	require.NoError(t, d.WriteByte(ctx, 0x123456, 0xA7))
	b, err := d.ReadByte(ctx, 0x123456)
	require.NoError(t, err)
	assert.Equal(t, byte(0xA7), b)
}

func TestGeometry(t *testing.T) {
	bus := &fakeBus{}
	d := initDriver(t, bus, BurstNone)
	assert.Equal(t, uint32(0), d.StartAddress())
	assert.Equal(t, uint32(8388608), d.Size())
	assert.Equal(t, uint32(1024), d.PageSize())
	assert.Empty(t, bus.frames, "geometry queries must not touch the bus")
}
