package adapter

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSPISettings_BufferCodec(t *testing.T) {
	settings := &MCP2210SPISettings{
		BitRate:             12_000_000,
		IdleCSValue:         0x01FF,
		ActiveCSValue:       0x0000,
		CSToDataDelay:       2,
		LastByteToCSDelay:   1,
		InterByteDelay:      0,
		BytesPerTransaction: 4,
		Mode:                0,
	}
	buf := make([]byte, 64)
	settingsToBuffer(settings, buf)
	assert.Equal(t, settings, bufferToSettings(buf))
}

func TestBufferToSettings_Layout(t *testing.T) {
	buf := make([]byte, 64)
	// 33MHz little-endian at offset 4
	copy(buf[4:], []byte{0x40, 0x78, 0xF7, 0x01})
	buf[18] = 0x00
	buf[19] = 0x01 // 256 bytes per transaction
	buf[20] = 0x03
	settings := bufferToSettings(buf)
	assert.Equal(t, uint32(33_000_000), settings.BitRate)
	assert.Equal(t, uint16(256), settings.BytesPerTransaction)
	assert.Equal(t, byte(3), settings.Mode)
}
