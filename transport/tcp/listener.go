package tcp

import (
	"context"
	"net"
	"net/netip"

	E "github.com/sagernet/sing-tcpstream/common/exceptions"
	"github.com/sagernet/sing-tcpstream/common/log"
	M "github.com/sagernet/sing-tcpstream/common/metadata"
	"github.com/sagernet/sing-tcpstream/common/serial"
	"github.com/sagernet/sing-tcpstream/common/stream"
	"github.com/sagernet/sing-tcpstream/common/tun"
	"github.com/sagernet/sing-tcpstream/common/tun/system"
)

var logger = log.NewLogger("tcp")

type Handler interface {
	// NewConnection runs on the connection's executor before any data is delivered and
	// returns the consumer for conn.
	NewConnection(ctx context.Context, conn *stream.Conn, metadata M.Metadata) (stream.Handler, error)
	E.Handler
}

var _ tun.Stack = (*Listener)(nil)

type Listener struct {
	ctx     context.Context
	bind    netip.AddrPort
	handler Handler
	*net.TCPListener
}

type Error struct {
	Metadata M.Metadata
	Cause    error
}

func (e *Error) Error() string {
	return "connection from " + e.Metadata.Source.String() + ": " + e.Cause.Error()
}

func (e *Error) Unwrap() error {
	return e.Cause
}

type Option func(*Listener)

func WithContext(ctx context.Context) Option {
	return func(listener *Listener) {
		listener.ctx = ctx
	}
}

func NewTCPListener(listen netip.AddrPort, handler Handler, options ...Option) *Listener {
	listener := &Listener{
		ctx:     context.Background(),
		bind:    listen,
		handler: handler,
	}
	for _, option := range options {
		option(listener)
	}
	return listener
}

func (l *Listener) Start() error {
	network := "tcp"
	if l.bind.Addr().Is4() {
		network = "tcp4"
	}
	tcpListener, err := net.ListenTCP(network, net.TCPAddrFromAddrPort(l.bind))
	if err != nil {
		return E.Cause(err, "listen ", l.bind)
	}
	l.TCPListener = tcpListener
	logger.Info("listening on ", tcpListener.Addr())
	context.AfterFunc(l.ctx, func() {
		l.Close()
	})
	go l.loop()
	return nil
}

func (l *Listener) Close() error {
	if l == nil || l.TCPListener == nil {
		return nil
	}
	return l.TCPListener.Close()
}

func (l *Listener) loop() {
	for {
		tcpConn, err := l.AcceptTCP()
		if err != nil {
			if !E.IsClosed(err) {
				l.handler.HandleError(E.Cause(err, "tcp listener closed"))
			}
			l.Close()
			return
		}
		l.newConnection(tcpConn)
	}
}

func (l *Listener) newConnection(tcpConn *net.TCPConn) {
	endpoint := system.NewEndpoint(tcpConn)
	metadata := M.Metadata{
		Protocol:    "tcp",
		Source:      endpoint.Source(),
		Destination: endpoint.Destination(),
	}
	logger.Debug("inbound connection from ", metadata.Source)

	queue := serial.NewQueue(context.Background())
	conn := stream.NewConn(endpoint, queue, nil)
	queue.Async(func() {
		handler, err := l.handler.NewConnection(l.ctx, conn, metadata)
		if err != nil {
			l.handler.HandleError(&Error{Metadata: metadata, Cause: err})
			endpoint.Close()
			queue.Close()
			return
		}
		stop := context.AfterFunc(l.ctx, func() {
			conn.Run(func() {
				conn.CloseNow()
			})
		})
		conn.SetHandler(&connectionHandler{handler, queue, stop})
		endpoint.Start()
	})
}

// connectionHandler releases the connection's queue and its listener context hook after
// the disconnect callback.
type connectionHandler struct {
	stream.Handler
	queue *serial.Queue
	stop  func() bool
}

func (h *connectionHandler) OnDisconnected() {
	h.stop()
	h.Handler.OnDisconnected()
	h.queue.Close()
}

func (h *connectionHandler) OnReadFailed(tag stream.Tag, err error) {
	if failureHandler, ok := h.Handler.(stream.ReadFailureHandler); ok {
		failureHandler.OnReadFailed(tag, err)
	}
}
