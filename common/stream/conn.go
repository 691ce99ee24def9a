package stream

import (
	"net"

	"github.com/sagernet/sing-tcpstream/common/buf"
	E "github.com/sagernet/sing-tcpstream/common/exceptions"
	"github.com/sagernet/sing-tcpstream/common/log"
	M "github.com/sagernet/sing-tcpstream/common/metadata"
	"github.com/sagernet/sing-tcpstream/common/scanner"
	"github.com/sagernet/sing-tcpstream/common/serial"
	"github.com/sagernet/sing-tcpstream/common/tun"

	"github.com/sirupsen/logrus"
)

var logger = log.NewLogger("stream")

type Conn struct {
	endpoint tun.Endpoint
	executor serial.Executor
	handler  Handler
	logger   *logrus.Entry

	buffer *buf.Buffer

	readPending bool
	readTag     Tag
	readMode    readMode
	readLength  int
	scanner     *scanner.Scanner
	scanned     int

	writePending    bool
	writeTag        Tag
	writeRemaining  int
	closeAfterWrite bool

	disconnected bool
}

// NewConn binds handler to an already connected endpoint. Endpoint notifications are
// re-dispatched onto executor. handler may be nil and set later with SetHandler.
func NewConn(endpoint tun.Endpoint, executor serial.Executor, handler Handler) *Conn {
	c := &Conn{
		endpoint: endpoint,
		executor: executor,
		handler:  handler,
		buffer:   buf.New(),
		logger: logger.WithFields(logrus.Fields{
			"source":      endpoint.Source().String(),
			"destination": endpoint.Destination().String(),
		}),
	}
	endpoint.SetHandler((*endpointNotifier)(c))
	return c
}

// SetHandler replaces the consumer. It must run on the executor, and before the endpoint
// starts delivering when NewConn was given a nil handler.
func (c *Conn) SetHandler(handler Handler) {
	if c.disconnected {
		return
	}
	c.handler = handler
}

func (c *Conn) IsConnected() bool {
	return c.endpoint.IsConnected()
}

func (c *Conn) Source() M.Socksaddr {
	if !c.endpoint.IsConnected() {
		return M.Socksaddr{}
	}
	return c.endpoint.Source()
}

func (c *Conn) Destination() M.Socksaddr {
	if !c.endpoint.IsConnected() {
		return M.Socksaddr{}
	}
	return c.endpoint.Destination()
}

// Run schedules task on the connection's executor.
func (c *Conn) Run(task func()) {
	c.executor.Async(task)
}

// Buffered returns the number of received bytes not yet delivered.
func (c *Conn) Buffered() int {
	return c.buffer.Len()
}

func (c *Conn) ReadAny(tag Tag) error {
	return c.read(tag, readModeAny, 0, nil)
}

func (c *Conn) ReadExactly(length int, tag Tag) error {
	if length < 0 {
		return E.New("stream: negative read length ", length)
	}
	return c.read(tag, readModeExactly, length, nil)
}

// ReadUntilPattern completes with every byte up to and including pattern. A positive
// maxLength bounds how far the pattern is searched for; when the bound is reached the
// read ends without data.
func (c *Conn) ReadUntilPattern(pattern []byte, tag Tag, maxLength int) error {
	if len(pattern) == 0 {
		return E.New("stream: empty read pattern")
	}
	return c.read(tag, readModePattern, 0, scanner.New(pattern, maxLength))
}

func (c *Conn) read(tag Tag, mode readMode, length int, patternScanner *scanner.Scanner) error {
	if c.disconnected {
		return E.Cause(net.ErrClosed, "stream: read")
	}
	if c.readPending {
		return ErrReadPending
	}
	c.readPending = true
	c.readTag = tag
	c.readMode = mode
	c.readLength = length
	c.scanner = patternScanner
	c.scanned = 0
	c.logger.Trace("read ", mode, " tag ", tag)
	c.executor.Async(c.checkReadData)
	return nil
}

// checkReadData satisfies the pending read if the buffer allows it. It always looks at
// the request pending when it runs, which may differ from the one that scheduled it.
func (c *Conn) checkReadData() {
	if !c.readPending || c.disconnected {
		return
	}
	switch c.readMode {
	case readModeAny:
		if c.buffer.IsEmpty() {
			return
		}
		data := c.buffer.Take(c.buffer.Len())
		c.deliverRead(data, c.finishRead())
	case readModeExactly:
		if c.buffer.Len() < c.readLength {
			return
		}
		data := c.buffer.Take(c.readLength)
		c.deliverRead(data, c.finishRead())
	case readModePattern:
		if c.scanned >= c.buffer.Len() {
			return
		}
		result := c.scanner.Feed(c.buffer.From(c.scanned))
		c.scanned = c.buffer.Len()
		switch result.Status {
		case scanner.StatusMatched:
			data := c.buffer.Take(result.Length)
			c.deliverRead(data, c.finishRead())
		case scanner.StatusLimitExceeded:
			maxLength := c.scanner.MaxLength()
			tag := c.finishRead()
			c.logger.Debug("pattern read tag ", tag, " exceeded scan limit ", maxLength)
			if failureHandler, ok := c.handler.(ReadFailureHandler); ok {
				failureHandler.OnReadFailed(tag, scanner.ErrLimitExceeded)
			}
		}
	}
}

// finishRead clears the read slot so the delivery callback may issue the next read.
func (c *Conn) finishRead() Tag {
	tag := c.readTag
	c.readPending = false
	c.readTag = 0
	c.readMode = readModeNone
	c.readLength = 0
	c.scanner = nil
	c.scanned = 0
	return tag
}

func (c *Conn) deliverRead(data []byte, tag Tag) {
	c.logger.Trace("delivered ", len(data), " bytes for tag ", tag)
	if c.handler != nil {
		c.handler.OnDataRead(data, tag)
	}
}

// Write hands all of data to the endpoint. OnDataWritten follows once the endpoint has
// reported every byte as sent; data must stay untouched until then.
func (c *Conn) Write(data []byte, tag Tag) error {
	if c.disconnected || !c.endpoint.IsConnected() {
		return E.Cause(net.ErrClosed, "stream: write")
	}
	if c.writePending {
		return ErrWritePending
	}
	c.writePending = true
	c.writeTag = tag
	c.writeRemaining = len(data)
	c.logger.Trace("write ", len(data), " bytes tag ", tag)
	if len(data) == 0 {
		c.executor.Async(func() {
			c.bytesSent(0)
		})
		return nil
	}
	err := c.endpoint.Write(data)
	if err != nil {
		c.writePending = false
		c.writeRemaining = 0
		c.logger.Warn("endpoint write: ", err)
		c.closeEndpoint()
		return E.Cause(err, "stream: write")
	}
	return nil
}

func (c *Conn) bytesSent(n int) {
	if !c.writePending {
		return
	}
	c.writeRemaining -= n
	if c.writeRemaining > 0 {
		return
	}
	tag := c.writeTag
	c.writePending = false
	c.writeRemaining = 0
	c.writeTag = 0
	if c.handler != nil {
		c.handler.OnDataWritten(tag)
	}
	c.checkCloseAfterWrite()
}

// Close closes the connection once the pending write, if any, has completed.
func (c *Conn) Close() error {
	if !c.endpoint.IsConnected() {
		c.reportDisconnected()
		return nil
	}
	c.closeAfterWrite = true
	return c.checkCloseAfterWrite()
}

// CloseNow closes the connection regardless of the pending write.
func (c *Conn) CloseNow() error {
	if !c.endpoint.IsConnected() {
		c.reportDisconnected()
		return nil
	}
	return c.closeEndpoint()
}

func (c *Conn) checkCloseAfterWrite() error {
	if !c.closeAfterWrite || c.writePending {
		return nil
	}
	c.closeAfterWrite = false
	return c.closeEndpoint()
}

func (c *Conn) closeEndpoint() error {
	err := c.endpoint.Close()
	if err != nil {
		c.logger.Debug("close endpoint: ", err)
	}
	c.executor.Async(c.reportDisconnected)
	return err
}

func (c *Conn) reportDisconnected() {
	if c.disconnected {
		return
	}
	c.disconnected = true
	c.finishRead()
	c.writePending = false
	c.closeAfterWrite = false
	c.buffer.Release()
	handler := c.handler
	c.handler = nil
	c.logger.Trace("disconnected")
	if handler != nil {
		handler.OnDisconnected()
	}
}

// endpointNotifier receives endpoint notifications on the stack's goroutines and moves
// them onto the connection's executor.
type endpointNotifier Conn

var _ tun.EndpointHandler = (*endpointNotifier)(nil)

func (n *endpointNotifier) conn() *Conn {
	return (*Conn)(n)
}

func (n *endpointNotifier) BytesArrived(data []byte) {
	if len(data) == 0 {
		return
	}
	chunk := buf.Get(len(data))
	copy(chunk, data)
	c := n.conn()
	c.executor.Async(func() {
		if !c.disconnected {
			c.buffer.Write(chunk)
			c.checkReadData()
		}
		buf.Put(chunk)
	})
}

func (n *endpointNotifier) BytesSent(length int) {
	c := n.conn()
	c.executor.Async(func() {
		c.bytesSent(length)
	})
}

func (n *endpointNotifier) ClosedByReset() {
	c := n.conn()
	c.executor.Async(func() {
		c.logger.Debug("connection reset by peer")
		c.reportDisconnected()
	})
}

func (n *endpointNotifier) ClosedByAbort() {
	c := n.conn()
	c.executor.Async(func() {
		c.logger.Debug("connection aborted")
		c.reportDisconnected()
	})
}

// ClosedByPeerHalfClose takes the graceful path: a pending write still completes.
func (n *endpointNotifier) ClosedByPeerHalfClose() {
	c := n.conn()
	c.executor.Async(func() {
		c.logger.Debug("peer closed its sending side")
		c.Close()
	})
}

func (n *endpointNotifier) ClosedNormally() {
	c := n.conn()
	c.executor.Async(c.reportDisconnected)
}
