// Package mesh models the parts of the mesh network stack the node reacts to:
// the device role and the parent poll period of a sleepy child.
package mesh

import (
	"io"

	"github.com/sirupsen/logrus"
)

// Role is the device role reported by the mesh stack.
type Role int

const (
	RoleDisabled Role = iota
	RoleDetached
	RoleChild
	RoleRouter
	RoleLeader
)

func (r Role) String() string {
	switch r {
	case RoleDisabled:
		return "disabled"
	case RoleDetached:
		return "detached"
	case RoleChild:
		return "child"
	case RoleRouter:
		return "router"
	case RoleLeader:
		return "leader"
	default:
		return "unknown"
	}
}

// ParseRole maps a role name back to a Role.
func ParseRole(s string) (Role, bool) {
	for r := RoleDisabled; r <= RoleLeader; r++ {
		if r.String() == s {
			return r, true
		}
	}
	return RoleDisabled, false
}

// Attached reports whether the role has a working link to the mesh.
func (r Role) Attached() bool {
	switch r {
	case RoleChild, RoleRouter, RoleLeader:
		return true
	case RoleDisabled, RoleDetached:
		return false
	default:
		return false
	}
}

// RoleIndicator is the per-role side effect, typically status LEDs.
type RoleIndicator func(Role)

// Indicators describes the two role LEDs of the board.
type Indicators struct {
	Child  bool
	Router bool
}

// IndicatorsFor returns the LED pattern for a role: child LED for a child,
// router LED for a router, both for a leader, none otherwise.
func IndicatorsFor(r Role) Indicators {
	switch r {
	case RoleChild:
		return Indicators{Child: true}
	case RoleRouter:
		return Indicators{Router: true}
	case RoleLeader:
		return Indicators{Child: true, Router: true}
	case RoleDisabled, RoleDetached:
		return Indicators{}
	default:
		return Indicators{}
	}
}

// RoleTracker remembers the current role and runs the indicator on change.
type RoleTracker struct {
	role      Role
	known     bool
	indicator RoleIndicator
	log       logrus.FieldLogger
}

// NewRoleTracker creates a tracker. indicator and log may be nil.
func NewRoleTracker(indicator RoleIndicator, log logrus.FieldLogger) *RoleTracker {
	if log == nil {
		l := logrus.New()
		l.SetOutput(io.Discard)
		log = l
	}
	return &RoleTracker{indicator: indicator, log: log}
}

// Update records a role reported by the mesh stack. It returns false when the
// role did not change.
func (t *RoleTracker) Update(r Role) bool {
	if t.known && t.role == r {
		return false
	}

	prev := t.role
	t.role = r
	t.known = true

	t.log.WithFields(logrus.Fields{
		"role": r.String(),
		"prev": prev.String(),
	}).Info("Mesh role changed")

	if t.indicator != nil {
		t.indicator(r)
	}
	return true
}

// Role returns the last reported role.
func (t *RoleTracker) Role() Role {
	return t.role
}
