package sample

import (
	"errors"

	"github.com/chewxy/math32"
)

// ErrEmptyWindow is returned when a measurement cycle produced no samples.
var ErrEmptyWindow = errors.New("empty sample window")

const (
	// vddMillivoltsPerLSB is the SAADC VDD channel scale: gain 1/6, 0.6 V
	// internal reference, 10-bit resolution.
	vddMillivoltsPerLSB = float32(600*6) / 1024
	// dieCelsiusPerLSB is the TEMP peripheral resolution.
	dieCelsiusPerLSB = float32(0.25)
)

// Window is one measurement cycle of raw samples for a single channel.
// It is consumed by a Filter and discarded.
type Window []int32

// Mean returns the arithmetic mean of the window. The sum is accumulated in
// 64 bits; the division truncates toward zero.
func Mean(w Window) (int32, error) {
	if len(w) == 0 {
		return 0, ErrEmptyWindow
	}

	var sum int64
	for _, v := range w {
		sum += int64(v)
	}

	return int32(sum / int64(len(w))), nil
}

// VDDMillivolts converts a raw VDD reading to millivolts.
func VDDMillivolts(raw int32) float32 {
	return round1(float32(raw) * vddMillivoltsPerLSB)
}

// DieCelsius converts a raw die temperature reading to degrees Celsius.
func DieCelsius(raw int32) float32 {
	return float32(raw) * dieCelsiusPerLSB
}

// round1 rounds to one decimal place for log output.
func round1(v float32) float32 {
	return math32.Floor(v*10+0.5) / 10
}
