package psram64

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMockMemory_BehaviorFunctions(t *testing.T) {
	backing := make([]byte, 64)
	mem := NewMockMemory(
		func(_ context.Context, addr uint32, buf []byte) error {
			copy(buf, backing[addr:])
			return nil
		},
		func(_ context.Context, addr uint32, buf []byte) error {
			copy(backing[addr:], buf)
			return nil
		},
	)
	ctx := context.Background()

	require.NoError(t, mem.Write(ctx, 4, []byte{1, 2, 3}))
	got := make([]byte, 3)
	require.NoError(t, mem.Read(ctx, 4, got))
	assert.Equal(t, []byte{1, 2, 3}, got)

	require.NoError(t, mem.WriteByte(ctx, 0, 0xFE))
	b, err := mem.ReadByte(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, byte(0xFE), b)
}

func TestMockMemory_PropagatesErrors(t *testing.T) {
	fault := errors.New("backing store gone")
	mem := NewMockMemory(
		func(context.Context, uint32, []byte) error { return fault },
		func(context.Context, uint32, []byte) error { return fault },
	)
	ctx := context.Background()
	assert.ErrorIs(t, mem.Read(ctx, 0, make([]byte, 1)), fault)
	assert.ErrorIs(t, mem.Write(ctx, 0, []byte{0}), fault)
	_, err := mem.ReadByte(ctx, 0)
	assert.ErrorIs(t, err, fault)
	assert.ErrorIs(t, mem.WriteByte(ctx, 0, 0), fault)
}

func TestMockMemory_Geometry(t *testing.T) {
	mem := NewMockMemory(nil, nil)
	assert.Equal(t, uint32(0), mem.StartAddress())
	assert.Equal(t, uint32(8*1024*1024), mem.Size())
	assert.Equal(t, uint32(1024), mem.PageSize())
}
