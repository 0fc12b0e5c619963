package session

// TransportStats are coarse read/write counters kept by a transport.
type TransportStats struct {
	Writes      int
	WriteBytes  int64
	Reads       int
	ReadBytes   int64
	LastWriteMS int64
	LastReadMS  int64
}

// Transport is the duplex line channel a Manager drives. One Transport
// instance serves one connection attempt; the Manager builds a fresh one on
// every reconnect.
//
// Connect only requests the connection; progress is observed through
// HaveConn and ExitFlag. SetExitFlag abandons the attempt and clears the
// had-connection memory, while failures the transport detects itself set the
// exit flag but leave HadConnection true.
type Transport interface {
	Connect(host string, port int) error
	HaveConn() bool
	HadConnection() bool
	EOFOk() bool
	SetEOFOk()
	ExitFlag() bool
	SetExitFlag(reason string)
	ErrString() string

	PeekInbound() (string, bool)
	PopInbound() (string, bool)
	// SetReadSingle holds the reader after each line until cleared, so the
	// handshake reply is consumed before obfuscated traffic is decoded.
	SetReadSingle(v bool)
	SendRaw(line string) bool

	SetReceiveBufferSize(n int)
	InitObfuscation(r1, r2, r3, r4, seed int32)

	HealthCheck() bool
	Wake()
	StateSummary() string
	Stats() TransportStats
	LocalAddress() string
	Close() error
}

// TransportFactory builds the transport for one connection attempt.
type TransportFactory func(clientID string) Transport
