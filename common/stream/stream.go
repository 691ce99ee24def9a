// Package stream turns the byte stream of a terminated TCP endpoint into discrete,
// tagged read and write requests.
//
// A Conn holds at most one pending read and one pending write. Reads complete when the
// buffered bytes satisfy the request mode: anything, an exact length, or everything up to
// and including a delimiter. All Conn state lives on a serial.Executor; handler callbacks
// run there, and request methods must be called from there too (use Conn.Run from other
// goroutines).
package stream

import (
	E "github.com/sagernet/sing-tcpstream/common/exceptions"
)

// Tag is an opaque request id handed back unchanged in the completion callback.
type Tag int64

var (
	ErrReadPending  = E.New("stream: read already pending")
	ErrWritePending = E.New("stream: write already pending")
)

type Handler interface {
	// OnDataRead hands over data owned by the handler.
	OnDataRead(data []byte, tag Tag)
	OnDataWritten(tag Tag)
	// OnDisconnected is called once per connection; no callbacks follow it.
	OnDisconnected()
}

// ReadFailureHandler is an optional Handler extension notified when a pending read ends
// without data, which happens when a delimiter is not found within its scan limit.
type ReadFailureHandler interface {
	OnReadFailed(tag Tag, err error)
}

type readMode uint8

const (
	readModeNone readMode = iota
	readModeAny
	readModeExactly
	readModePattern
)

func (m readMode) String() string {
	switch m {
	case readModeAny:
		return "any"
	case readModeExactly:
		return "exactly"
	case readModePattern:
		return "pattern"
	default:
		return "none"
	}
}
