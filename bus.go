package psram

import "context"

// SPIBus performs full-duplex exchanges on a serial bus. Transfer clocks the
// buffer out and replaces it in place with the bytes captured during the
// exchange. It is a single exchange, not a write followed by a read.
type SPIBus interface {
	Transfer(ctx context.Context, buffer []byte) error
}

// ChipSelect is the digital output wired to the device's \CS/\CE pin. The
// device is selected while the line is low.
type ChipSelect interface {
	AssertLow(ctx context.Context) error
	AssertHigh(ctx context.Context) error
}

// Memory is the addressed byte storage contract exposed by memory drivers.
// Addresses index a flat space starting at StartAddress.
type Memory interface {
	ReadByte(ctx context.Context, address uint32) (byte, error)
	Read(ctx context.Context, address uint32, buffer []byte) error
	WriteByte(ctx context.Context, address uint32, value byte) error
	Write(ctx context.Context, address uint32, buffer []byte) error
	StartAddress() uint32
	Size() uint32
	PageSize() uint32
}
