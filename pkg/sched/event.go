package sched

import (
	"github.com/itohio/buttonb/pkg/mesh"
	"github.com/itohio/buttonb/pkg/subscription"
)

// Event is a unit of deferred work. The set of events is closed; the main
// loop switches over it exhaustively.
type Event interface {
	event()
}

// SampleReady carries one averaged measurement for a sensor channel.
type SampleReady struct {
	Channel subscription.Name
	Value   int32
}

// KeyPressed is a user input event.
type KeyPressed struct {
	Key int
}

// RoleChanged reports a new mesh device role.
type RoleChanged struct {
	Role mesh.Role
}

// Work runs an arbitrary function on the loop. Transport completions and
// timer callbacks arrive this way.
type Work struct {
	Fn func()
}

func (SampleReady) event() {}
func (KeyPressed) event()  {}
func (RoleChanged) event() {}
func (Work) event()        {}
