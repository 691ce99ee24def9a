package gateway

import (
	"context"
	"net/netip"
	"testing"

	E "github.com/sagernet/sing-tcpstream/common/exceptions"
	"github.com/sagernet/sing-tcpstream/common/json"
	M "github.com/sagernet/sing-tcpstream/common/metadata"
	"github.com/sagernet/sing-tcpstream/common/serial"
	"github.com/sagernet/sing-tcpstream/common/stream"
	"github.com/sagernet/sing-tcpstream/common/tun"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

type testEndpoint struct {
	connected bool
	handler   tun.EndpointHandler
	writes    []string
	closes    int
}

func (e *testEndpoint) IsConnected() bool { return e.connected }

func (e *testEndpoint) Source() M.Socksaddr {
	return M.SocksaddrFromNetIP(netip.MustParseAddrPort("192.168.1.20:51000"))
}

func (e *testEndpoint) Destination() M.Socksaddr {
	return M.SocksaddrFromNetIP(netip.MustParseAddrPort("192.168.1.1:7000"))
}

func (e *testEndpoint) Write(data []byte) error {
	e.writes = append(e.writes, string(data))
	return nil
}

func (e *testEndpoint) Close() error {
	e.closes++
	e.connected = false
	return nil
}

func (e *testEndpoint) SetHandler(handler tun.EndpointHandler) { e.handler = handler }

type recordSink struct {
	registered     []string
	frames         []string
	unregistered   []string
	unregisterErrs []error
	registerErr    error
	closed         bool
}

func (s *recordSink) Register(ctx context.Context, session *Session) error {
	if s.registerErr != nil {
		return s.registerErr
	}
	s.registered = append(s.registered, session.ID)
	return nil
}

func (s *recordSink) Publish(ctx context.Context, session *Session, frame []byte) error {
	s.frames = append(s.frames, session.ID+":"+string(frame))
	return nil
}

func (s *recordSink) Unregister(ctx context.Context, session *Session) error {
	s.unregistered = append(s.unregistered, session.ID)
	s.unregisterErrs = append(s.unregisterErrs, ctx.Err())
	return nil
}

func (s *recordSink) Close() error {
	s.closed = true
	return nil
}

type testSession struct {
	loop     *serial.Loop
	endpoint *testEndpoint
	conn     *stream.Conn
}

type writtenRecorder struct {
	stream.Handler
	written []stream.Tag
}

func (r *writtenRecorder) OnDataWritten(tag stream.Tag) {
	r.written = append(r.written, tag)
	r.Handler.OnDataWritten(tag)
}

func openSession(t *testing.T, gateway *Gateway) (*testSession, error) {
	t.Helper()
	return openSessionWith(t, context.Background(), gateway, nil)
}

func openSessionWith(t *testing.T, ctx context.Context, gateway *Gateway, wrap func(stream.Handler) stream.Handler) (*testSession, error) {
	t.Helper()
	loop := new(serial.Loop)
	endpoint := &testEndpoint{connected: true}
	conn := stream.NewConn(endpoint, loop, nil)
	metadata := M.Metadata{Protocol: "tcp", Source: endpoint.Source(), Destination: endpoint.Destination()}
	handler, err := gateway.NewConnection(ctx, conn, metadata)
	if err != nil {
		return nil, err
	}
	if wrap != nil {
		handler = wrap(handler)
	}
	conn.SetHandler(handler)
	loop.Drain()
	return &testSession{loop, endpoint, conn}, nil
}

func (s *testSession) arrive(data string) {
	s.endpoint.handler.BytesArrived([]byte(data))
	s.loop.Drain()
}

func (s *testSession) sent(n int) {
	s.endpoint.handler.BytesSent(n)
	s.loop.Drain()
}

func TestGatewayPublishesFrames(t *testing.T) {
	t.Parallel()
	sink := new(recordSink)
	gateway, err := New(Options{Delimiter: []byte("\r\n")}, sink)
	require.NoError(t, err)

	session, err := openSession(t, gateway)
	require.NoError(t, err)
	require.Equal(t, []string{"1"}, sink.registered)
	require.Equal(t, 1, gateway.Sessions())

	session.arrive("$GPS,1,2\r")
	session.arrive("\n$HB\r\n$GPS,")
	session.arrive("3,4\r\n")
	require.Equal(t, []string{"1:$GPS,1,2", "1:$HB", "1:$GPS,3,4"}, sink.frames)
	require.Empty(t, session.endpoint.writes)

	session.endpoint.connected = false
	session.endpoint.handler.ClosedByReset()
	session.loop.Drain()
	require.Equal(t, []string{"1"}, sink.unregistered)
	require.Zero(t, gateway.Sessions())

	require.NoError(t, gateway.Close())
	require.True(t, sink.closed)
}

func TestGatewayEchoWaitsForCompletion(t *testing.T) {
	t.Parallel()
	sink := new(recordSink)
	gateway, err := New(Options{Delimiter: []byte("\n"), Echo: true}, sink)
	require.NoError(t, err)

	session, err := openSession(t, gateway)
	require.NoError(t, err)
	session.arrive("one\ntwo\nthree\n")
	require.Equal(t, []string{"one\n"}, session.endpoint.writes)

	session.sent(4)
	require.Equal(t, []string{"one\n", "two\n"}, session.endpoint.writes)
	session.sent(4)
	session.sent(6)
	require.Equal(t, []string{"one\n", "two\n", "three\n"}, session.endpoint.writes)
	require.Len(t, sink.frames, 3)
}

func TestGatewayEchoTagsFollowFrames(t *testing.T) {
	t.Parallel()
	gateway, err := New(Options{Delimiter: []byte("\n"), Echo: true}, new(recordSink))
	require.NoError(t, err)

	recorder := new(writtenRecorder)
	session, err := openSessionWith(t, context.Background(), gateway, func(handler stream.Handler) stream.Handler {
		recorder.Handler = handler
		return recorder
	})
	require.NoError(t, err)
	session.arrive("one\ntwo\nthree\n")
	session.sent(4)
	session.sent(4)
	session.sent(6)
	require.Equal(t, []stream.Tag{1, 2, 3}, recorder.written)
}

func TestGatewayUnregisterAfterCancel(t *testing.T) {
	t.Parallel()
	sink := new(recordSink)
	gateway, err := New(Options{Delimiter: []byte("\n")}, sink)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	session, err := openSessionWith(t, ctx, gateway, nil)
	require.NoError(t, err)
	cancel()

	session.endpoint.connected = false
	session.endpoint.handler.ClosedNormally()
	session.loop.Drain()
	require.Equal(t, []string{"1"}, sink.unregistered)
	require.Equal(t, []error{nil}, sink.unregisterErrs)
}

func TestGatewayOversizedFrame(t *testing.T) {
	t.Parallel()
	sink := new(recordSink)
	gateway, err := New(Options{Delimiter: []byte("\n"), MaxFrame: 8}, sink)
	require.NoError(t, err)

	session, err := openSession(t, gateway)
	require.NoError(t, err)
	session.arrive("short\n")
	session.arrive("much too long for a frame\n")
	require.Equal(t, []string{"1:short"}, sink.frames)
	require.Equal(t, 1, session.endpoint.closes)
	require.Equal(t, []string{"1"}, sink.unregistered)
}

func TestGatewayRegisterFailure(t *testing.T) {
	t.Parallel()
	sink := &recordSink{registerErr: E.New("store offline")}
	gateway, err := New(Options{Delimiter: []byte("\n")}, sink)
	require.NoError(t, err)

	_, err = openSession(t, gateway)
	require.Error(t, err)
	require.Equal(t, []string{"1"}, sink.unregistered)
	require.Zero(t, gateway.Sessions())
}

func TestGatewayOptions(t *testing.T) {
	t.Parallel()
	_, err := New(Options{})
	require.Error(t, err)
	_, err = New(Options{Delimiter: []byte("\n"), MaxFrame: -1})
	require.Error(t, err)

	gateway, err := New(Options{Delimiter: []byte("\n")})
	require.NoError(t, err)
	require.Equal(t, []Sink{LogSink{}}, gateway.sinks)
}

func TestSessionEvent(t *testing.T) {
	t.Parallel()
	session := &Session{
		ID:          "7",
		Source:      M.SocksaddrFromNetIP(netip.MustParseAddrPort("10.0.0.1:1000")),
		Destination: M.SocksaddrFromNetIP(netip.MustParseAddrPort("10.0.0.2:2000")),
		Frames:      3,
	}
	payload, err := json.Marshal(newSessionEvent("close", session))
	require.NoError(t, err)
	var decoded map[string]any
	require.NoError(t, json.Unmarshal(payload, &decoded))
	require.Equal(t, "close", decoded["event"])
	require.Equal(t, "10.0.0.1:1000", decoded["source"])
	require.EqualValues(t, 3, decoded["frames"])
	require.Equal(t, "frames.7", frameSubject("frames", session.ID))
}

func TestRedisSinkKeys(t *testing.T) {
	t.Parallel()
	client := redis.NewClient(&redis.Options{Addr: "127.0.0.1:0"})
	defer client.Close()
	sink := newRedisSink(client, RedisOptions{})
	session := &Session{ID: "42"}
	require.Equal(t, DefaultSessionTTL, sink.ttl)
	require.Equal(t, "tcpstream:sess:42", sink.sessionKey(session))
	require.Equal(t, "tcpstream:stats:42", sink.statsKey(session))
}
