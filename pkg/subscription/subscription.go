// Package subscription holds the sensor subscription table: one record per
// monitored quantity describing its current and last reported value and the
// policy that decides when a change is worth reporting.
package subscription

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrNotFound is returned when a lookup names no live sensor.
	ErrNotFound = errors.New("sensor not found")
	// ErrDuplicateName is returned when two records share a name.
	ErrDuplicateName = errors.New("duplicate sensor name")
	// ErrReservedName is returned when a record uses the end-of-table name.
	ErrReservedName = errors.New("reserved sensor name")
)

// Name is the single-character sensor identifier.
type Name byte

// NameLast marks the end of the table. It never names a live sensor.
const NameLast Name = 0

// String returns the name as a one-character string.
func (n Name) String() string {
	if n == NameLast {
		return "<last>"
	}
	return string(rune(n))
}

// Origin tells SetValue where a value came from.
type Origin int

const (
	// OriginLocal is a value produced by the node's own sampling.
	OriginLocal Origin = iota
	// OriginRemote is a value written by a remote peer.
	OriginRemote
)

// SetValueHandler is notified when a remote peer writes a writable sensor.
type SetValueHandler func(name Name, value int32)

// Subscription is the reporting state of one sensor.
type Subscription struct {
	Name Name

	CurrentValue int32 // latest filtered reading
	SentValue    int32 // value at the last report attempt

	ReportableChange int32         // minimum |CurrentValue-SentValue| for an unscheduled report
	ReportInterval   time.Duration // keep-alive period
	LastSentAt       time.Duration // time since boot of the last report attempt

	DisableReporting bool
	ReadOnly         bool
	Initialized      bool

	// EnableOnInit clears DisableReporting when the first value arrives.
	EnableOnInit bool

	OnSetValue SetValueHandler
}

// Delta returns the absolute difference between the current and sent value.
func (s *Subscription) Delta() int64 {
	d := int64(s.CurrentValue) - int64(s.SentValue)
	if d < 0 {
		return -d
	}
	return d
}

// MarkSent records a report attempt at now.
func (s *Subscription) MarkSent(now time.Duration) {
	s.SentValue = s.CurrentValue
	s.LastSentAt = now
}

func (s *Subscription) String() string {
	return fmt.Sprintf("%s=%d (sent %d at %s)", s.Name, s.CurrentValue, s.SentValue, s.LastSentAt)
}
