// Package codec encodes node messages as CBOR maps into bounded buffers.
package codec

import (
	"errors"
	"fmt"
	"unicode/utf8"

	"github.com/fxamacker/cbor/v2"
)

// MaxMessageSize is the buffer size the node allocates per outgoing message.
const MaxMessageSize = 256

var (
	// ErrBufferTooSmall is returned when the encoded message does not fit the
	// destination buffer. The buffer is left untouched.
	ErrBufferTooSmall = errors.New("buffer too small")
	// ErrEncoding wraps encoder and decoder faults.
	ErrEncoding = errors.New("encoding failed")
)

// KeyEvent is the unsolicited button press notification.
type KeyEvent struct {
	Key int    `cbor:"key"`
	T   uint32 `cbor:"t"` // monotonic milliseconds
}

// Report carries one sensor value.
type Report struct {
	Name  string `cbor:"n"`
	Value int32  `cbor:"v"`
}

var (
	encMode cbor.EncMode
	decMode cbor.DecMode
)

func init() {
	var err error
	// Core encoding with fields in declaration order; map keys are not
	// re-sorted so {"key","t"} keeps the order the collector expects.
	encMode, err = cbor.EncOptions{Sort: cbor.SortNone}.EncMode()
	if err != nil {
		panic(fmt.Sprintf("codec: invalid encoder options: %v", err))
	}
	decMode, err = cbor.DecOptions{DupMapKey: cbor.DupMapKeyEnforcedAPF}.DecMode()
	if err != nil {
		panic(fmt.Sprintf("codec: invalid decoder options: %v", err))
	}
}

// Encode writes the CBOR encoding of v into dst and returns the number of
// bytes written. Nothing is written unless the whole message fits.
func Encode(dst []byte, v any) (int, error) {
	b, err := encMode.Marshal(v)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrEncoding, err)
	}
	if len(b) > len(dst) {
		return 0, fmt.Errorf("%w: need %d bytes, have %d", ErrBufferTooSmall, len(b), len(dst))
	}
	return copy(dst, b), nil
}

// EncodeKeyEvent encodes {"key": key, "t": t} into dst.
func EncodeKeyEvent(dst []byte, key int, t uint32) (int, error) {
	return Encode(dst, KeyEvent{Key: key, T: t})
}

// EncodeReport encodes {"n": name, "v": value} into dst. Sensor names are
// single ASCII characters so that they decode back to one byte.
func EncodeReport(dst []byte, name byte, value int32) (int, error) {
	if name == 0 || name >= utf8.RuneSelf {
		return 0, fmt.Errorf("%w: sensor name 0x%02x is not ASCII", ErrEncoding, name)
	}
	return Encode(dst, Report{Name: string(rune(name)), Value: value})
}

// DecodeKeyEvent decodes a key event message.
func DecodeKeyEvent(b []byte) (KeyEvent, error) {
	var ev KeyEvent
	if err := decMode.Unmarshal(b, &ev); err != nil {
		return KeyEvent{}, fmt.Errorf("%w: %v", ErrEncoding, err)
	}
	return ev, nil
}

// DecodeReport decodes a sensor report message.
func DecodeReport(b []byte) (Report, error) {
	var r Report
	if err := decMode.Unmarshal(b, &r); err != nil {
		return Report{}, fmt.Errorf("%w: %v", ErrEncoding, err)
	}
	if len(r.Name) != 1 {
		return Report{}, fmt.Errorf("%w: sensor name %q", ErrEncoding, r.Name)
	}
	return r, nil
}
