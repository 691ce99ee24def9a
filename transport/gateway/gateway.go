// Package gateway frames inbound TCP streams by a delimiter and publishes every frame to
// a set of sinks.
package gateway

import (
	"context"
	"strconv"
	"sync"
	"sync/atomic"

	E "github.com/sagernet/sing-tcpstream/common/exceptions"
	"github.com/sagernet/sing-tcpstream/common/log"
	M "github.com/sagernet/sing-tcpstream/common/metadata"
	"github.com/sagernet/sing-tcpstream/common/stream"
	"github.com/sagernet/sing-tcpstream/transport/tcp"
)

var logger = log.NewLogger("gateway")

type Options struct {
	Delimiter []byte
	// MaxFrame bounds the delimiter search; 0 means unbounded.
	MaxFrame int
	// Echo writes every frame back to its sender.
	Echo bool
}

var _ tcp.Handler = (*Gateway)(nil)

type Gateway struct {
	options  Options
	sinks    []Sink
	nextID   atomic.Uint64
	sessions sync.Map
}

func New(options Options, sinks ...Sink) (*Gateway, error) {
	if len(options.Delimiter) == 0 {
		return nil, E.New("missing frame delimiter")
	}
	if options.MaxFrame < 0 {
		return nil, E.New("negative max frame ", options.MaxFrame)
	}
	if len(sinks) == 0 {
		sinks = []Sink{LogSink{}}
	}
	return &Gateway{
		options: options,
		sinks:   sinks,
	}, nil
}

func (g *Gateway) NewConnection(ctx context.Context, conn *stream.Conn, metadata M.Metadata) (stream.Handler, error) {
	session := &Session{
		ID:          strconv.FormatUint(g.nextID.Add(1), 10),
		Source:      metadata.Source,
		Destination: metadata.Destination,
		ctx:         ctx,
		gateway:     g,
		conn:        conn,
	}
	var errs []error
	for _, sink := range g.sinks {
		if err := sink.Register(ctx, session); err != nil {
			errs = append(errs, err)
		}
	}
	if err := E.Errors(errs...); err != nil {
		session.unregister()
		return nil, E.Cause(err, "register session")
	}
	g.sessions.Store(session.ID, session)
	if err := session.readNext(); err != nil {
		g.sessions.Delete(session.ID)
		session.unregister()
		return nil, err
	}
	logger.Debug("session ", session.ID, " opened from ", session.Source)
	return session, nil
}

func (g *Gateway) HandleError(err error) {
	if E.IsClosedOrCanceled(err) {
		logger.Debug(err)
		return
	}
	logger.Error(err)
}

// Sessions returns the number of open sessions.
func (g *Gateway) Sessions() int {
	var count int
	g.sessions.Range(func(key, value any) bool {
		count++
		return true
	})
	return count
}

func (g *Gateway) Close() error {
	var errs []error
	for _, sink := range g.sinks {
		errs = append(errs, sink.Close())
	}
	return E.Errors(errs...)
}
