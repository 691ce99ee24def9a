package gateway

import (
	"context"
	"time"

	E "github.com/sagernet/sing-tcpstream/common/exceptions"
	"github.com/sagernet/sing-tcpstream/common/json"

	"github.com/nats-io/nats.go"
)

var _ Sink = (*NATSSink)(nil)

// NATSSink publishes frames to "<subject>.<session>" and "<subject>.all", and session
// open/close events to "<subject>.session".
type NATSSink struct {
	conn    *nats.Conn
	subject string
}

type sessionEvent struct {
	Event       string `json:"event"`
	Session     string `json:"session"`
	Source      string `json:"source"`
	Destination string `json:"destination"`
	Frames      int    `json:"frames"`
	Time        int64  `json:"time"`
}

func NewNATSSink(url string, subject string) (*NATSSink, error) {
	if subject == "" {
		return nil, E.New("missing nats subject")
	}
	conn, err := nats.Connect(url, nats.Name("sing-tcpstream"), nats.MaxReconnects(-1))
	if err != nil {
		return nil, E.Cause(err, "connect nats ", url)
	}
	logger.Info("connected to nats ", conn.ConnectedUrl())
	return &NATSSink{
		conn:    conn,
		subject: subject,
	}, nil
}

func (s *NATSSink) Register(ctx context.Context, session *Session) error {
	return s.publishEvent("open", session)
}

func (s *NATSSink) Publish(ctx context.Context, session *Session, frame []byte) error {
	err := s.conn.Publish(frameSubject(s.subject, session.ID), frame)
	if err != nil {
		return E.Cause(err, "publish frame")
	}
	return s.conn.Publish(s.subject+".all", frame)
}

func (s *NATSSink) Unregister(ctx context.Context, session *Session) error {
	return s.publishEvent("close", session)
}

func (s *NATSSink) Close() error {
	return s.conn.Drain()
}

func (s *NATSSink) publishEvent(event string, session *Session) error {
	payload, err := json.Marshal(newSessionEvent(event, session))
	if err != nil {
		return err
	}
	err = s.conn.Publish(s.subject+".session", payload)
	if err != nil {
		return E.Cause(err, "publish ", event, " event")
	}
	return nil
}

func newSessionEvent(event string, session *Session) sessionEvent {
	return sessionEvent{
		Event:       event,
		Session:     session.ID,
		Source:      session.Source.String(),
		Destination: session.Destination.String(),
		Frames:      session.Frames,
		Time:        time.Now().Unix(),
	}
}

func frameSubject(subject string, sessionID string) string {
	return subject + "." + sessionID
}
