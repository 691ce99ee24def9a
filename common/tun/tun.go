// Package tun describes the boundary between a userspace TCP/IP stack and the stream
// adapters built on top of its terminated connections.
package tun

import (
	M "github.com/sagernet/sing-tcpstream/common/metadata"
)

// Endpoint is one TCP connection terminated by a Stack.
type Endpoint interface {
	IsConnected() bool
	// Source and Destination are only valid while connected.
	Source() M.Socksaddr
	Destination() M.Socksaddr
	// Write queues data for transmission and returns without waiting; progress is
	// reported through EndpointHandler.BytesSent. data must not be modified until all
	// of it has been reported.
	Write(data []byte) error
	Close() error
	SetHandler(handler EndpointHandler)
}

// EndpointHandler receives notifications from an Endpoint, possibly from the stack's own
// goroutines. Each of the Closed* notifications is delivered at most once per endpoint.
type EndpointHandler interface {
	// BytesArrived passes data that is only valid for the duration of the call.
	BytesArrived(data []byte)
	BytesSent(n int)
	ClosedByReset()
	ClosedByAbort()
	ClosedByPeerHalfClose()
	ClosedNormally()
}

type Stack interface {
	Start() error
	Close() error
}
