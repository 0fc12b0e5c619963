package transport

import (
	"bufio"
	"bytes"
	"context"
	"crypto/tls"
	"net"
	"strconv"
	"time"
)

// streamIO frames lines on a byte stream with '\n' terminators.
type streamIO struct {
	conn         net.Conn
	reader       *bufio.Reader
	readTimeout  time.Duration
	writeTimeout time.Duration
}

func newStreamIO(conn net.Conn, readTimeout, writeTimeout time.Duration) *streamIO {
	return &streamIO{
		conn:         conn,
		reader:       bufio.NewReader(conn),
		readTimeout:  readTimeout,
		writeTimeout: writeTimeout,
	}
}

func (s *streamIO) ReadLine() ([]byte, error) {
	if s.readTimeout > 0 {
		if err := s.conn.SetReadDeadline(time.Now().Add(s.readTimeout)); err != nil {
			return nil, err
		}
	}
	line, err := s.reader.ReadBytes('\n')
	if err != nil {
		return nil, err
	}
	return bytes.TrimRight(line, "\r\n"), nil
}

func (s *streamIO) WriteLine(line []byte) error {
	if s.writeTimeout > 0 {
		if err := s.conn.SetWriteDeadline(time.Now().Add(s.writeTimeout)); err != nil {
			return err
		}
	}
	buf := make([]byte, 0, len(line)+1)
	buf = append(buf, line...)
	buf = append(buf, '\n')
	_, err := s.conn.Write(buf)
	return err
}

func (s *streamIO) Close() error {
	return s.conn.Close()
}

func (s *streamIO) LocalAddr() net.Addr {
	return s.conn.LocalAddr()
}

func (s *streamIO) SetReadBuffer(n int) error {
	return setReadBuffer(s.conn, n)
}

// setReadBuffer reaches through TLS wrappers to the TCP socket.
func setReadBuffer(conn net.Conn, n int) error {
	if tc, ok := conn.(*tls.Conn); ok {
		conn = tc.NetConn()
	}
	if tcp, ok := conn.(*net.TCPConn); ok {
		return tcp.SetReadBuffer(n)
	}
	return nil
}

func dialTCP(ctx context.Context, opts Options, host string, port int) (lineIO, error) {
	cfg := opts.Session
	dialer := net.Dialer{Timeout: cfg.ConnectTimeout}
	rawConn, err := dialer.DialContext(ctx, "tcp", net.JoinHostPort(host, strconv.Itoa(port)))
	if err != nil {
		return nil, err
	}
	if !cfg.TLS.Enabled {
		return newStreamIO(rawConn, cfg.ReadTimeout, cfg.WriteTimeout), nil
	}

	tlsCfg, err := ClientTLSConfig(cfg.TLS, host)
	if err != nil {
		_ = rawConn.Close()
		return nil, err
	}
	conn := tls.Client(rawConn, tlsCfg)
	if err := conn.HandshakeContext(ctx); err != nil {
		_ = rawConn.Close()
		return nil, err
	}
	return newStreamIO(conn, cfg.ReadTimeout, cfg.WriteTimeout), nil
}
