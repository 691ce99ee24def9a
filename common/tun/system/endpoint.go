package system

import (
	"errors"
	"io"
	"net"
	"sync"
	"sync/atomic"

	"github.com/sagernet/sing-tcpstream/common/buf"
	"github.com/sagernet/sing-tcpstream/common/log"
	M "github.com/sagernet/sing-tcpstream/common/metadata"
	"github.com/sagernet/sing-tcpstream/common/tun"
)

var logger = log.NewLogger("tun <system>")

var _ tun.Endpoint = (*Endpoint)(nil)

// Endpoint terminates one OS TCP socket. Reads and writes run on their own goroutines
// and are reported through the tun.EndpointHandler.
type Endpoint struct {
	conn        *net.TCPConn
	source      M.Socksaddr
	destination M.Socksaddr
	handler     tun.EndpointHandler

	connected   atomic.Bool
	closedLocal atomic.Bool
	closeOnce   sync.Once
	notifyOnce  sync.Once
	writes      chan []byte
	done        chan struct{}
}

// NewEndpoint wraps an accepted connection: the peer is the source and the local address
// is the destination.
func NewEndpoint(conn *net.TCPConn) *Endpoint {
	endpoint := &Endpoint{
		conn:        conn,
		source:      M.SocksaddrFromNet(conn.RemoteAddr()),
		destination: M.SocksaddrFromNet(conn.LocalAddr()),
		handler:     nopHandler{},
		writes:      make(chan []byte, 1),
		done:        make(chan struct{}),
	}
	endpoint.connected.Store(true)
	return endpoint
}

func (e *Endpoint) SetHandler(handler tun.EndpointHandler) {
	e.handler = handler
}

// Start begins delivering notifications; SetHandler must have been called.
func (e *Endpoint) Start() {
	go e.readLoop()
	go e.writeLoop()
}

func (e *Endpoint) IsConnected() bool {
	return e.connected.Load()
}

func (e *Endpoint) Source() M.Socksaddr {
	return e.source
}

func (e *Endpoint) Destination() M.Socksaddr {
	return e.destination
}

func (e *Endpoint) Write(data []byte) error {
	if !e.connected.Load() {
		return net.ErrClosed
	}
	select {
	case e.writes <- data:
		return nil
	case <-e.done:
		return net.ErrClosed
	}
}

func (e *Endpoint) Close() error {
	var err error
	e.closeOnce.Do(func() {
		e.closedLocal.Store(true)
		e.connected.Store(false)
		close(e.done)
		err = e.conn.Close()
		e.notifyClosed(e.handler.ClosedNormally)
	})
	return err
}

func (e *Endpoint) readLoop() {
	buffer := buf.NewSize(buf.BufferSize)
	defer buffer.Release()
	for {
		_, err := buffer.ReadOnceFrom(e.conn)
		if !buffer.IsEmpty() {
			e.handler.BytesArrived(buffer.Bytes())
			buffer.Reset()
		}
		if err == nil {
			continue
		}
		if e.closedLocal.Load() || !e.connected.Load() {
			return
		}
		if errors.Is(err, io.EOF) {
			logger.Trace("read closed by ", e.source)
			e.handler.ClosedByPeerHalfClose()
			return
		}
		e.fail(err)
		return
	}
}

func (e *Endpoint) writeLoop() {
	for {
		select {
		case data := <-e.writes:
			for len(data) > 0 {
				chunk := data
				if len(chunk) > buf.BufferSize {
					chunk = chunk[:buf.BufferSize]
				}
				n, err := e.conn.Write(chunk)
				if n > 0 {
					e.handler.BytesSent(n)
				}
				if err != nil {
					if !e.closedLocal.Load() && e.connected.Load() {
						e.fail(err)
					}
					return
				}
				data = data[n:]
			}
		case <-e.done:
			return
		}
	}
}

func (e *Endpoint) fail(err error) {
	e.connected.Store(false)
	e.closeOnce.Do(func() {
		close(e.done)
		e.conn.Close()
	})
	if isReset(err) {
		logger.Debug("connection from ", e.source, " reset: ", err)
		e.notifyClosed(e.handler.ClosedByReset)
	} else {
		logger.Debug("connection from ", e.source, " aborted: ", err)
		e.notifyClosed(e.handler.ClosedByAbort)
	}
}

func (e *Endpoint) notifyClosed(notify func()) {
	e.notifyOnce.Do(notify)
}

type nopHandler struct{}

func (nopHandler) BytesArrived([]byte)    {}
func (nopHandler) BytesSent(int)          {}
func (nopHandler) ClosedByReset()         {}
func (nopHandler) ClosedByAbort()         {}
func (nopHandler) ClosedByPeerHalfClose() {}
func (nopHandler) ClosedNormally()        {}
