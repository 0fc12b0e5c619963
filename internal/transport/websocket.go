package transport

import (
	"bytes"
	"context"
	"net"
	"net/url"
	"strconv"
	"time"

	"github.com/gorilla/websocket"
)

// wsIO carries lines in websocket text messages. A message may hold several
// newline-separated lines.
type wsIO struct {
	conn         *websocket.Conn
	pending      [][]byte
	readTimeout  time.Duration
	writeTimeout time.Duration
}

func (w *wsIO) ReadLine() ([]byte, error) {
	for len(w.pending) == 0 {
		if w.readTimeout > 0 {
			if err := w.conn.SetReadDeadline(time.Now().Add(w.readTimeout)); err != nil {
				return nil, err
			}
		}
		_, msg, err := w.conn.ReadMessage()
		if err != nil {
			return nil, err
		}
		for _, line := range bytes.Split(msg, []byte{'\n'}) {
			line = bytes.TrimRight(line, "\r")
			if len(line) > 0 {
				w.pending = append(w.pending, line)
			}
		}
	}
	line := w.pending[0]
	w.pending = w.pending[1:]
	return line, nil
}

func (w *wsIO) WriteLine(line []byte) error {
	if w.writeTimeout > 0 {
		if err := w.conn.SetWriteDeadline(time.Now().Add(w.writeTimeout)); err != nil {
			return err
		}
	}
	return w.conn.WriteMessage(websocket.TextMessage, line)
}

func (w *wsIO) Close() error {
	deadline := time.Now().Add(time.Second)
	_ = w.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
	return w.conn.Close()
}

func (w *wsIO) LocalAddr() net.Addr {
	return w.conn.LocalAddr()
}

func (w *wsIO) SetReadBuffer(n int) error {
	return setReadBuffer(w.conn.NetConn(), n)
}

// WebSocketURL renders the bridge address for host and port.
func WebSocketURL(host string, port int, path string, secure bool) string {
	u := url.URL{Scheme: "ws", Host: net.JoinHostPort(host, strconv.Itoa(port)), Path: path}
	if secure {
		u.Scheme = "wss"
	}
	return u.String()
}

func dialWebSocket(ctx context.Context, opts Options, host string, port int) (lineIO, error) {
	cfg := opts.Session
	dialer := websocket.Dialer{
		Proxy:            websocket.DefaultDialer.Proxy,
		HandshakeTimeout: cfg.ConnectTimeout,
	}
	if cfg.TLS.Enabled {
		tlsCfg, err := ClientTLSConfig(cfg.TLS, host)
		if err != nil {
			return nil, err
		}
		dialer.TLSClientConfig = tlsCfg
	}
	conn, resp, err := dialer.DialContext(ctx, WebSocketURL(host, port, opts.WebSocketPath, cfg.TLS.Enabled), nil)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		return nil, err
	}
	return &wsIO{conn: conn, readTimeout: cfg.ReadTimeout, writeTimeout: cfg.WriteTimeout}, nil
}
