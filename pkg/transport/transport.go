// Package transport is the node's uplink to the collector: send a message
// and be told, later, whether it was delivered.
package transport

import (
	"errors"
	"fmt"
)

// ErrNotConnected is returned by operations on a closed or unopened link.
var ErrNotConnected = errors.New("not connected")

// Result is the outcome of one send.
type Result int

const (
	ResultOK Result = iota
	ResultTimeout
	ResultRejected
	ResultFailed
)

func (r Result) String() string {
	switch r {
	case ResultOK:
		return "ok"
	case ResultTimeout:
		return "timeout"
	case ResultRejected:
		return "rejected"
	case ResultFailed:
		return "failed"
	default:
		return fmt.Sprintf("result(%d)", int(r))
	}
}

// ParseResult maps a result name back to a Result.
func ParseResult(s string) (Result, error) {
	for r := ResultOK; r <= ResultFailed; r++ {
		if r.String() == s {
			return r, nil
		}
	}
	return ResultFailed, fmt.Errorf("unknown result %q", s)
}

// Response is the collector's reply to a message, if it sent one.
type Response struct {
	Payload []byte
}

// Completion is called exactly once per accepted message. resp may be nil.
type Completion func(resp *Response, res Result)

// Transport sends messages to the collector.
//
// Send copies payload and returns whether the message was accepted for
// delivery. done is only called for accepted messages and never before Send
// returns; it may run on any goroutine, so callers that need loop affinity
// wrap the transport in Deferred.
type Transport interface {
	Send(payload []byte, done Completion) bool
	Close() error
}
