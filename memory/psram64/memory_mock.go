package psram64

import (
	"context"

	"github.com/mklimuk/psram"
)

// ReadBehaviorFunc defines the function signature for read behavior. The
// implementation fills buffer and returns an error.
type ReadBehaviorFunc func(ctx context.Context, address uint32, buffer []byte) error

// WriteBehaviorFunc defines the function signature for write behavior.
type WriteBehaviorFunc func(ctx context.Context, address uint32, buffer []byte) error

// MockMemory is a mock implementation of psram.Memory that uses behavior
// functions to produce results without requiring any hardware. It can stand
// in for any addressed memory driver in consumer tests.
type MockMemory struct {
	readBehavior  ReadBehaviorFunc
	writeBehavior WriteBehaviorFunc
}

var _ psram.Memory = &MockMemory{}

// NewMockMemory creates a new mock memory with the given behavior functions.
// The read behavior is called by Read() and ReadByte(); the write behavior by
// Write() and WriteByte().
//
// Example usage:
//
//	backing := make([]byte, 1024)
//	mem := psram64.NewMockMemory(
//		func(ctx context.Context, addr uint32, buf []byte) error {
//			copy(buf, backing[addr:])
//			return nil
//		},
//		func(ctx context.Context, addr uint32, buf []byte) error {
//			copy(backing[addr:], buf)
//			return nil
//		},
//	)
func NewMockMemory(readBehavior ReadBehaviorFunc, writeBehavior WriteBehaviorFunc) *MockMemory {
	return &MockMemory{
		readBehavior:  readBehavior,
		writeBehavior: writeBehavior,
	}
}

// ReadByte returns a single byte by calling the read behavior function.
func (m *MockMemory) ReadByte(ctx context.Context, address uint32) (byte, error) {
	var buf [1]byte
	if err := m.readBehavior(ctx, address, buf[:]); err != nil {
		return 0, err
	}
	return buf[0], nil
}

// Read fills buffer by calling the read behavior function.
func (m *MockMemory) Read(ctx context.Context, address uint32, buffer []byte) error {
	return m.readBehavior(ctx, address, buffer)
}

// WriteByte stores a single byte by calling the write behavior function.
func (m *MockMemory) WriteByte(ctx context.Context, address uint32, value byte) error {
	return m.writeBehavior(ctx, address, []byte{value})
}

// Write stores buffer by calling the write behavior function.
func (m *MockMemory) Write(ctx context.Context, address uint32, buffer []byte) error {
	return m.writeBehavior(ctx, address, buffer)
}

// StartAddress mirrors the driver's geometry.
func (m *MockMemory) StartAddress() uint32 { return 0 }

// Size mirrors the driver's geometry.
func (m *MockMemory) Size() uint32 { return capacity }

// PageSize mirrors the driver's geometry.
func (m *MockMemory) PageSize() uint32 { return pageSize }
