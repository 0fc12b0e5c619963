// Package fakeserver is a minimal game server for transport tests and local
// development: it accepts the intro line, answers with a configurable
// acknowledgement and echoes tagged commands back.
package fakeserver

import (
	"bufio"
	"bytes"
	"context"
	"crypto/tls"
	"errors"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/danmuck/boardlink/internal/protocol"
	"github.com/danmuck/boardlink/internal/protocol/session"
	"github.com/danmuck/boardlink/internal/transport"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

var ErrNoIntro = errors.New("fakeserver: first line is not an intro")

// Config shapes the replies the server gives.
type Config struct {
	// Addr defaults to 127.0.0.1:0.
	Addr      string
	Handshake session.Handshake
	// AckLine replaces the rendered handshake when set.
	AckLine          string
	WithPasswordFlag bool
	// Silent stops echoing tagged commands.
	Silent bool
	TLS    *tls.Config
}

// DefaultHandshake is a version 18 acknowledgement with obfuscation on.
func DefaultHandshake() session.Handshake {
	return session.Handshake{
		SessionID:         1,
		ChannelID:         1,
		FeatureVersion:    session.FeatureMoveTimes,
		SessionKey:        "11.22.33.44",
		ServerIP:          "127.0.0.1",
		ServerTime:        time.Now().Unix() | 1,
		BufferSize:        65536,
		InitialPopulation: 1,
	}
}

// peerIO is one accepted client connection.
type peerIO interface {
	readLine() ([]byte, error)
	writeLine([]byte) error
	close() error
}

// Server is a running fake server.
type Server struct {
	cfg    Config
	ln     net.Listener
	http   *http.Server
	wg     sync.WaitGroup
	closed chan struct{}

	mu       sync.Mutex
	intros   []string
	received []string
	peers    map[*peer]struct{}
}

type peer struct {
	io    peerIO
	ready bool
	mu    sync.Mutex
	obf   *transport.Obfuscator
}

func listen(cfg Config) (net.Listener, error) {
	addr := cfg.Addr
	if addr == "" {
		addr = "127.0.0.1:0"
	}
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	if cfg.TLS != nil {
		ln = tls.NewListener(ln, cfg.TLS)
	}
	return ln, nil
}

func newServer(cfg Config, ln net.Listener) *Server {
	if cfg.Handshake == (session.Handshake{}) && cfg.AckLine == "" {
		cfg.Handshake = DefaultHandshake()
	}
	return &Server{
		cfg:    cfg,
		ln:     ln,
		closed: make(chan struct{}),
		peers:  make(map[*peer]struct{}),
	}
}

// Start serves newline-framed TCP.
func Start(cfg Config) (*Server, error) {
	ln, err := listen(cfg)
	if err != nil {
		return nil, err
	}
	s := newServer(cfg, ln)
	s.wg.Add(1)
	go s.acceptLoop()
	return s, nil
}

// StartWebSocket serves lines as websocket text messages on every path.
func StartWebSocket(cfg Config) (*Server, error) {
	ln, err := listen(cfg)
	if err != nil {
		return nil, err
	}
	s := newServer(cfg, ln)
	upgrader := websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}
	s.http = &http.Server{
		ReadHeaderTimeout: 5 * time.Second,
		Handler: http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			conn, err := upgrader.Upgrade(w, r, nil)
			if err != nil {
				return
			}
			s.wg.Add(1)
			go s.serve(&wsPeer{conn: conn})
		}),
	}
	go func() {
		_ = s.http.Serve(ln)
	}()
	return s, nil
}

func (s *Server) acceptLoop() {
	defer s.wg.Done()
	for {
		conn, err := s.ln.Accept()
		if err != nil {
			return
		}
		s.wg.Add(1)
		go s.serve(&tcpPeer{conn: conn, reader: bufio.NewReader(conn)})
	}
}

// Addr returns the host and port clients should dial.
func (s *Server) Addr() (string, int) {
	addr := s.ln.Addr().(*net.TCPAddr)
	return addr.IP.String(), addr.Port
}

func (s *Server) ack() string {
	if s.cfg.AckLine != "" {
		return s.cfg.AckLine
	}
	return s.cfg.Handshake.AckLine(s.cfg.WithPasswordFlag)
}

func (s *Server) serve(pio peerIO) {
	defer s.wg.Done()
	p := &peer{io: pio}
	s.mu.Lock()
	select {
	case <-s.closed:
		s.mu.Unlock()
		_ = pio.close()
		return
	default:
	}
	s.peers[p] = struct{}{}
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		delete(s.peers, p)
		s.mu.Unlock()
		_ = pio.close()
	}()

	first, err := pio.readLine()
	if err != nil {
		return
	}
	intro := string(first)
	if !strings.HasPrefix(intro, protocol.SendIntro) {
		log.Warn().Err(ErrNoIntro).Str("line", intro).Msg("fakeserver rejected connection")
		return
	}
	s.mu.Lock()
	s.intros = append(s.intros, intro)
	s.mu.Unlock()

	if err := pio.writeLine([]byte(s.ack())); err != nil {
		return
	}
	if s.cfg.AckLine == "" && s.cfg.Handshake.Features().Obfuscation {
		key, err := s.cfg.Handshake.ObfuscationKey()
		if err != nil {
			return
		}
		p.obf = transport.NewServerObfuscator(key.R1, key.R2, key.R3, key.R4, key.Seed)
	}
	s.mu.Lock()
	p.ready = true
	s.mu.Unlock()

	for {
		raw, err := pio.readLine()
		if err != nil {
			return
		}
		if p.obf != nil {
			p.obf.Decode(raw)
		}
		line := string(raw)
		s.mu.Lock()
		s.received = append(s.received, line)
		s.mu.Unlock()

		if reply, ok := s.reply(line); ok {
			if err := p.send(reply); err != nil {
				return
			}
		}
	}
}

// reply answers pings and echoes tagged commands.
func (s *Server) reply(line string) (string, bool) {
	tag, rest := protocol.SplitTag(line)
	code, body, _ := strings.Cut(rest, " ")
	if code+" " == protocol.SendPing {
		out := protocol.EchoPing + " " + body
		if tag != "" {
			out = tag + " " + out
		}
		return out, true
	}
	if tag == "" || s.cfg.Silent {
		return "", false
	}
	return line, true
}

func (p *peer) send(line string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	buf := []byte(line)
	if p.obf != nil {
		p.obf.Encode(buf)
	}
	return p.io.writeLine(buf)
}

// Broadcast sends line to every connected client that finished the
// handshake.
func (s *Server) Broadcast(line string) int {
	s.mu.Lock()
	peers := make([]*peer, 0, len(s.peers))
	for p := range s.peers {
		if p.ready {
			peers = append(peers, p)
		}
	}
	s.mu.Unlock()
	n := 0
	for _, p := range peers {
		if p.send(line) == nil {
			n++
		}
	}
	return n
}

// DropAll closes every client connection without closing the listener.
func (s *Server) DropAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for p := range s.peers {
		_ = p.io.close()
	}
}

func (s *Server) Intros() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.intros...)
}

func (s *Server) Received() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.received...)
}

// WaitReceived polls until at least n lines arrived or the timeout passes.
func (s *Server) WaitReceived(n int, timeout time.Duration) []string {
	deadline := time.Now().Add(timeout)
	for {
		got := s.Received()
		if len(got) >= n || time.Now().After(deadline) {
			return got
		}
		time.Sleep(5 * time.Millisecond)
	}
}

// Close stops accepting and disconnects every client.
func (s *Server) Close() error {
	s.mu.Lock()
	select {
	case <-s.closed:
		s.mu.Unlock()
		return nil
	default:
		close(s.closed)
	}
	s.mu.Unlock()

	var err error
	if s.http != nil {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		err = s.http.Shutdown(ctx)
	} else {
		err = s.ln.Close()
	}
	s.DropAll()
	s.wg.Wait()
	return err
}

type tcpPeer struct {
	conn   net.Conn
	reader *bufio.Reader
}

func (p *tcpPeer) readLine() ([]byte, error) {
	line, err := p.reader.ReadBytes('\n')
	if err != nil {
		return nil, err
	}
	return bytes.TrimRight(line, "\r\n"), nil
}

func (p *tcpPeer) writeLine(line []byte) error {
	_, err := p.conn.Write(append(line, '\n'))
	return err
}

func (p *tcpPeer) close() error {
	return p.conn.Close()
}

type wsPeer struct {
	conn *websocket.Conn
}

func (p *wsPeer) readLine() ([]byte, error) {
	_, msg, err := p.conn.ReadMessage()
	if err != nil {
		return nil, err
	}
	return bytes.TrimRight(msg, "\r\n"), nil
}

func (p *wsPeer) writeLine(line []byte) error {
	return p.conn.WriteMessage(websocket.TextMessage, line)
}

func (p *wsPeer) close() error {
	return p.conn.Close()
}

// HostPort is a convenience for tests that need "host:port".
func (s *Server) HostPort() string {
	host, port := s.Addr()
	return net.JoinHostPort(host, strconv.Itoa(port))
}
