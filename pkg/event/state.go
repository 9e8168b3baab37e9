// Package event sends button presses to the collector as acknowledged
// notifications and speeds up polling while an answer is due.
package event

import "fmt"

// State is the phase of a key event notification.
type State int

const (
	Idle State = iota
	Sending
	AwaitingAck
	Acked
	TimedOut
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Sending:
		return "sending"
	case AwaitingAck:
		return "awaiting_ack"
	case Acked:
		return "acked"
	case TimedOut:
		return "timed_out"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Transition is one state change of the notifier.
type Transition struct {
	Key  int
	From State
	To   State
}
