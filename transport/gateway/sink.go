package gateway

import (
	"context"
)

// Sink receives session lifecycle events and frames. Calls for one session are made
// sequentially from that session's executor.
type Sink interface {
	Register(ctx context.Context, session *Session) error
	Publish(ctx context.Context, session *Session, frame []byte) error
	Unregister(ctx context.Context, session *Session) error
	Close() error
}

type LogSink struct{}

func (LogSink) Register(ctx context.Context, session *Session) error {
	logger.Info("session ", session.ID, ": ", session.Source, " => ", session.Destination)
	return nil
}

func (LogSink) Publish(ctx context.Context, session *Session, frame []byte) error {
	logger.Info("session ", session.ID, ": frame ", session.Frames, ", ", len(frame), " bytes")
	return nil
}

func (LogSink) Unregister(ctx context.Context, session *Session) error {
	logger.Info("session ", session.ID, ": closed")
	return nil
}

func (LogSink) Close() error {
	return nil
}
