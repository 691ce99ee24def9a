package gateway

import (
	"bytes"
	"context"
	"time"

	E "github.com/sagernet/sing-tcpstream/common/exceptions"
	M "github.com/sagernet/sing-tcpstream/common/metadata"
	"github.com/sagernet/sing-tcpstream/common/stream"
)

const unregisterTimeout = 5 * time.Second

var (
	_ stream.Handler            = (*Session)(nil)
	_ stream.ReadFailureHandler = (*Session)(nil)
)

// Session is the consumer of one framed connection. Its callbacks run on the
// connection's executor.
type Session struct {
	ID          string
	Source      M.Socksaddr
	Destination M.Socksaddr
	Frames      int

	ctx     context.Context
	gateway *Gateway
	conn    *stream.Conn
	nextTag stream.Tag
	echo    []echoFrame
	writing bool
}

type echoFrame struct {
	data []byte
	tag  stream.Tag
}

func (s *Session) readNext() error {
	s.nextTag++
	return s.conn.ReadUntilPattern(s.gateway.options.Delimiter, s.nextTag, s.gateway.options.MaxFrame)
}

func (s *Session) OnDataRead(frame []byte, tag stream.Tag) {
	s.Frames++
	payload := bytes.TrimSuffix(frame, s.gateway.options.Delimiter)
	for _, sink := range s.gateway.sinks {
		if err := sink.Publish(s.ctx, s, payload); err != nil {
			logger.Warn("session ", s.ID, ": publish frame: ", err)
		}
	}
	if s.gateway.options.Echo {
		s.echo = append(s.echo, echoFrame{frame, stream.Tag(s.Frames)})
		s.flushEcho()
	}
	if err := s.readNext(); err != nil && !E.IsClosed(err) {
		logger.Warn("session ", s.ID, ": ", err)
	}
}

func (s *Session) OnDataWritten(tag stream.Tag) {
	s.writing = false
	s.flushEcho()
}

func (s *Session) OnReadFailed(tag stream.Tag, err error) {
	logger.Warn("session ", s.ID, ": frame ", tag, " longer than ", s.gateway.options.MaxFrame, " bytes (", s.conn.Buffered(), " buffered): ", err)
	s.conn.CloseNow()
}

func (s *Session) OnDisconnected() {
	s.gateway.sessions.Delete(s.ID)
	s.unregister()
	logger.Debug("session ", s.ID, " closed after ", s.Frames, " frames")
}

func (s *Session) flushEcho() {
	if s.writing || len(s.echo) == 0 {
		return
	}
	frame := s.echo[0]
	s.echo[0] = echoFrame{}
	s.echo = s.echo[1:]
	if err := s.conn.Write(frame.data, frame.tag); err != nil {
		logger.Debug("session ", s.ID, ": echo: ", err)
		return
	}
	s.writing = true
}

// unregister outlives the listener context so that stores are cleaned up on shutdown.
func (s *Session) unregister() {
	ctx, cancel := context.WithTimeout(context.Background(), unregisterTimeout)
	defer cancel()
	for _, sink := range s.gateway.sinks {
		if err := sink.Unregister(ctx, s); err != nil {
			logger.Warn("session ", s.ID, ": unregister: ", err)
		}
	}
}
