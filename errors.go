package psram

import (
	"errors"
	"fmt"
)

// ErrInvalidDevice means an identification response did not match the
// expected vendor signature or format.
var ErrInvalidDevice = errors.New("this is not the correct device for the driver or it is faulty")

// ErrInvalidMode means an unsupported frequency class or configuration was
// requested.
var ErrInvalidMode = errors.New("the driver or device is not in the correct mode")

// TransportError wraps a failure reported by the SPI bus.
type TransportError struct {
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("spi transfer failed: %s", e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// ChipSelectError wraps a failure reported by the chip-select line.
type ChipSelectError struct {
	Err error
}

func (e *ChipSelectError) Error() string {
	return fmt.Sprintf("chip select could not be set: %s", e.Err)
}

func (e *ChipSelectError) Unwrap() error {
	return e.Err
}
