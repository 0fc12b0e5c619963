package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/danmuck/boardlink/internal/protocol/session"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

var (
	ErrAlreadyStarted = errors.New("transport: connect already requested")
	ErrUnknownKind    = errors.New("transport: unknown kind")
)

// Kind selects the wire a factory dials.
type Kind string

const (
	KindTCP       Kind = "tcp"
	KindWebSocket Kind = "websocket"
)

// Options configure every Conn a factory builds.
type Options struct {
	Session session.Config
	// QueueLength bounds the outbound queue; the inbound queue gets twice
	// as much room.
	QueueLength int
	// StallTimeout is how long a queued line may sit untaken before the
	// queue reports unhealthy.
	StallTimeout time.Duration
	// WebSocketPath is the request path of the websocket bridge.
	WebSocketPath string
	// OnDeficit is called when an outbound line is lost to a full queue. It
	// runs inside the session's send path and must not call back into the
	// session Manager.
	OnDeficit func()
}

func DefaultOptions() Options {
	return Options{
		Session:       session.DefaultConfig(),
		QueueLength:   200,
		StallTimeout:  30 * time.Second,
		WebSocketPath: "/",
	}
}

// WithDefaults fills zero-valued fields from DefaultOptions.
func (o Options) WithDefaults() Options {
	d := DefaultOptions()
	o.Session = o.Session.WithDefaults()
	if o.QueueLength <= 0 {
		o.QueueLength = d.QueueLength
	}
	if o.StallTimeout <= 0 {
		o.StallTimeout = d.StallTimeout
	}
	if strings.TrimSpace(o.WebSocketPath) == "" {
		o.WebSocketPath = d.WebSocketPath
	}
	return o
}

// lineIO is one established duplex line stream.
type lineIO interface {
	ReadLine() ([]byte, error)
	WriteLine(line []byte) error
	Close() error
	LocalAddr() net.Addr
	SetReadBuffer(n int) error
}

type dialFunc func(ctx context.Context, opts Options, host string, port int) (lineIO, error)

// NewFactory returns a session.TransportFactory building Conns of kind.
func NewFactory(kind Kind, opts Options) (session.TransportFactory, error) {
	opts = opts.WithDefaults()
	var dial dialFunc
	switch kind {
	case KindTCP, "":
		dial = dialTCP
	case KindWebSocket:
		dial = dialWebSocket
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownKind, kind)
	}
	return func(clientID string) session.Transport {
		return newConn(clientID, opts, dial)
	}, nil
}

// Conn is a session.Transport over a lineIO. Connect dials in the
// background; a reader and a writer goroutine then move lines between the
// stream and the queues.
type Conn struct {
	opts   Options
	dial   dialFunc
	logger zerolog.Logger

	in  *lineQueue
	out *lineQueue

	wake    chan struct{}
	release chan struct{}
	done    chan struct{}
	once    sync.Once

	mu         sync.Mutex
	stream     lineIO
	cancel     context.CancelFunc
	started    bool
	haveConn   bool
	hadConn    bool
	exitFlag   bool
	eofOk      bool
	errString  string
	readSingle bool
	discardIn  bool
	discardOut bool
	obf        *Obfuscator
	bufSize    int
	stats      session.TransportStats
}

var _ session.Transport = (*Conn)(nil)

func newConn(clientID string, opts Options, dial dialFunc) *Conn {
	return &Conn{
		opts:    opts,
		dial:    dial,
		logger:  log.Logger.With().Str("client", clientID).Str("component", "transport").Logger(),
		in:      newLineQueue("in", opts.QueueLength*2, opts.StallTimeout),
		out:     newLineQueue("out", opts.QueueLength, opts.StallTimeout),
		wake:    make(chan struct{}, 1),
		release: make(chan struct{}, 1),
		done:    make(chan struct{}),
	}
}

// Connect validates the transport settings and starts dialing. Progress is
// observed through HaveConn and ExitFlag.
func (c *Conn) Connect(host string, port int) error {
	if err := c.opts.Session.ValidateClientTransport(); err != nil {
		return err
	}
	c.mu.Lock()
	if c.started {
		c.mu.Unlock()
		return ErrAlreadyStarted
	}
	c.started = true
	ctx, cancel := context.WithTimeout(context.Background(), c.opts.Session.ConnectTimeout)
	c.cancel = cancel
	c.mu.Unlock()

	go c.connect(ctx, cancel, host, port)
	return nil
}

func (c *Conn) connect(ctx context.Context, cancel context.CancelFunc, host string, port int) {
	defer cancel()
	stream, err := c.dial(ctx, c.opts, host, port)
	if err != nil {
		c.fail("connect: " + err.Error())
		return
	}

	c.mu.Lock()
	if c.exitFlag {
		c.mu.Unlock()
		_ = stream.Close()
		return
	}
	c.stream = stream
	c.haveConn = true
	c.hadConn = true
	if c.bufSize > 0 {
		_ = stream.SetReadBuffer(c.bufSize)
	}
	c.mu.Unlock()

	c.logger.Debug().Str("host", host).Int("port", port).Msg("transport connected")
	go c.readLoop(stream)
	go c.writeLoop(stream)
}

func (c *Conn) readLoop(stream lineIO) {
	for {
		raw, err := stream.ReadLine()
		if err != nil {
			c.readFailed(err)
			return
		}
		c.mu.Lock()
		obf := c.obf
		discard := c.discardIn
		c.stats.Reads++
		c.stats.ReadBytes += int64(len(raw))
		c.stats.LastReadMS = time.Now().UnixMilli()
		c.mu.Unlock()

		if obf != nil {
			obf.Decode(raw)
		}
		if !discard && !c.in.put(string(raw)) {
			c.logger.Warn().Str("queue", c.in.stateSummary()).Msg("inbound queue full, line dropped")
		}
		if !c.holdWhileSingle() {
			return
		}
	}
}

func (c *Conn) readFailed(err error) {
	c.mu.Lock()
	eofOk := c.eofOk
	c.mu.Unlock()
	if errors.Is(err, io.EOF) && eofOk {
		c.fail("")
		return
	}
	c.fail("stream read: " + err.Error())
}

// holdWhileSingle parks the reader after a line while read-single is set.
// It returns false once the connection is shut down.
func (c *Conn) holdWhileSingle() bool {
	for {
		c.mu.Lock()
		single := c.readSingle && !c.exitFlag
		c.mu.Unlock()
		if !single {
			return true
		}
		select {
		case <-c.release:
		case <-c.done:
			return false
		}
	}
}

func (c *Conn) writeLoop(stream lineIO) {
	for {
		select {
		case <-c.done:
			return
		case <-c.out.ready:
		case <-c.wake:
		}
		for {
			line, ok := c.out.take()
			if !ok {
				break
			}
			if err := c.write(stream, line); err != nil {
				c.fail("stream write: " + err.Error())
				return
			}
		}
	}
}

func (c *Conn) write(stream lineIO, line string) error {
	c.mu.Lock()
	obf := c.obf
	discard := c.discardOut
	c.stats.Writes++
	c.stats.WriteBytes += int64(len(line))
	c.stats.LastWriteMS = time.Now().UnixMilli()
	c.mu.Unlock()

	buf := []byte(line)
	if obf != nil {
		obf.Encode(buf)
	}
	if discard {
		return nil
	}
	return stream.WriteLine(buf)
}

// fail records a failure the transport detected itself. The first failure
// wins; HadConnection is left alone so the session can tell a dropped
// connection from one that never came up.
func (c *Conn) fail(msg string) {
	c.mu.Lock()
	if c.exitFlag {
		c.mu.Unlock()
		return
	}
	c.exitFlag = true
	c.haveConn = false
	if msg != "" {
		c.errString = msg
	}
	stream := c.stream
	c.mu.Unlock()

	if msg != "" {
		c.logger.Warn().Str("reason", msg).Msg("transport failed")
	}
	c.shutdown(stream)
}

func (c *Conn) shutdown(stream lineIO) {
	c.once.Do(func() { close(c.done) })
	if stream != nil {
		_ = stream.Close()
	}
}

// SetExitFlag abandons the connection on request.
func (c *Conn) SetExitFlag(reason string) {
	c.mu.Lock()
	c.exitFlag = true
	c.haveConn = false
	c.hadConn = false
	if c.errString == "" {
		c.errString = reason
	}
	stream := c.stream
	cancel := c.cancel
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	c.shutdown(stream)
}

// Close is SetExitFlag with a fixed reason.
func (c *Conn) Close() error {
	c.SetExitFlag("closed")
	return nil
}

func (c *Conn) HaveConn() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.haveConn
}

func (c *Conn) HadConnection() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.hadConn
}

func (c *Conn) EOFOk() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.eofOk
}

func (c *Conn) SetEOFOk() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.eofOk = true
}

func (c *Conn) ExitFlag() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.exitFlag
}

func (c *Conn) ErrString() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.errString
}

func (c *Conn) PeekInbound() (string, bool) {
	return c.in.peek()
}

func (c *Conn) PopInbound() (string, bool) {
	return c.in.take()
}

func (c *Conn) SetReadSingle(v bool) {
	c.mu.Lock()
	c.readSingle = v
	c.mu.Unlock()
	if !v {
		select {
		case c.release <- struct{}{}:
		default:
		}
	}
}

// SendRaw queues line for the writer. It reports false when there is no
// connection or the outbound queue is full.
func (c *Conn) SendRaw(line string) bool {
	c.mu.Lock()
	ok := c.haveConn && !c.exitFlag
	c.mu.Unlock()
	if !ok {
		return false
	}
	if !c.out.put(line) {
		c.logger.Warn().Str("queue", c.out.stateSummary()).Msg("outbound queue full")
		if c.opts.OnDeficit != nil {
			c.opts.OnDeficit()
		}
		return false
	}
	return true
}

func (c *Conn) SetReceiveBufferSize(n int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.bufSize = n
	if c.stream != nil && n > 0 {
		if err := c.stream.SetReadBuffer(n); err != nil {
			c.logger.Debug().Err(err).Int("size", n).Msg("set receive buffer")
		}
	}
}

func (c *Conn) InitObfuscation(r1, r2, r3, r4, seed int32) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.obf = NewClientObfuscator(r1, r2, r3, r4, seed)
}

// SetDiscardInput drops inbound lines instead of queueing them.
func (c *Conn) SetDiscardInput(v bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.discardIn = v
}

// SetDiscardOutput counts outbound lines without writing them.
func (c *Conn) SetDiscardOutput(v bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.discardOut = v
}

func (c *Conn) HealthCheck() bool {
	return c.in.healthCheck() && c.out.healthCheck()
}

// Wake nudges the writer to flush the outbound queue.
func (c *Conn) Wake() {
	select {
	case c.wake <- struct{}{}:
	default:
	}
}

func (c *Conn) StateSummary() string {
	return c.in.stateSummary() + " " + c.out.stateSummary()
}

func (c *Conn) Stats() session.TransportStats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stats
}

func (c *Conn) LocalAddress() string {
	c.mu.Lock()
	stream := c.stream
	c.mu.Unlock()
	if stream == nil {
		return "0.0.0.0"
	}
	addr := stream.LocalAddr()
	if addr == nil {
		return "0.0.0.0"
	}
	host, _, err := net.SplitHostPort(addr.String())
	if err != nil {
		return addr.String()
	}
	return host
}
