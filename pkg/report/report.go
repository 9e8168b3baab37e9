// Package report decides when a sensor value is sent to the collector and
// sends it.
package report

import (
	"time"

	"github.com/itohio/buttonb/pkg/subscription"
)

// Reason explains the outcome of a report decision.
type Reason int

const (
	ReasonNone Reason = iota
	ReasonUninitialized
	ReasonDisabled
	ReasonThreshold
	ReasonKeepAlive
)

func (r Reason) String() string {
	switch r {
	case ReasonNone:
		return "none"
	case ReasonUninitialized:
		return "uninitialized"
	case ReasonDisabled:
		return "disabled"
	case ReasonThreshold:
		return "threshold"
	case ReasonKeepAlive:
		return "keepalive"
	default:
		return "unknown"
	}
}

// Due reports whether the reason calls for a transmission.
func (r Reason) Due() bool {
	return r == ReasonThreshold || r == ReasonKeepAlive
}

// Decide applies the reporting policy to s at time now. It has no side effects.
//
// A record is reported when it is initialized, reporting is enabled and
// either its value moved by at least ReportableChange since the last report
// or ReportInterval elapsed since then. An unchanged value never crosses the
// threshold, even when ReportableChange is zero.
func Decide(s *subscription.Subscription, now time.Duration) Reason {
	switch {
	case !s.Initialized:
		return ReasonUninitialized
	case s.DisableReporting:
		return ReasonDisabled
	}

	change := int64(s.ReportableChange)
	if change < 0 {
		change = -change
	}
	if d := s.Delta(); d > 0 && d >= change {
		return ReasonThreshold
	}

	if now-s.LastSentAt >= s.ReportInterval {
		return ReasonKeepAlive
	}
	return ReasonNone
}
