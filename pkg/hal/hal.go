// Package hal defines the peripheral collaborators of the node, the ADC and
// the die temperature sensor, and simulated implementations of both.
package hal

import (
	"errors"

	"github.com/itohio/buttonb/pkg/sample"
)

var (
	// ErrHardwareFault marks peripheral init and calibration errors. A node
	// with a faulty peripheral must not start.
	ErrHardwareFault = errors.New("hardware fault")
	// ErrNotInitialized is returned when a peripheral is used before Init.
	ErrNotInitialized = errors.New("peripheral not initialized")
)

// DoneHandler receives a full window of conversions. It runs in interrupt
// context: it may copy or average the window and post an event, nothing more.
type DoneHandler func(w sample.Window)

// ADC is a buffered analog converter. Every Sample call performs one
// conversion; once the buffer is full the window is handed to the DoneHandler
// and the buffer is re-armed.
type ADC interface {
	Init(done DoneHandler) error
	Sample() error
	Close() error
}

// TempSensor reads the die temperature in raw units. Read may busy-wait for
// the conversion, bounded by hardware.
type TempSensor interface {
	Init() error
	Read() (int32, error)
}
