package session

import (
	"sync"
)

// fakeTransport is a scriptable in-memory Transport.
type fakeTransport struct {
	mu sync.Mutex

	host       string
	port       int
	connectErr error

	haveConn   bool
	hadConn    bool
	eofOk      bool
	exitFlag   bool
	exitReason string
	errString  string
	readSingle bool
	healthy    bool
	wakes      int

	inbound []string
	sent    []string
	rejects bool

	bufSize int
	obf     []int32
	closed  bool
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{healthy: true}
}

func (f *fakeTransport) Connect(host string, port int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.host = host
	f.port = port
	return f.connectErr
}

// establish simulates the socket coming up.
func (f *fakeTransport) establish() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.haveConn = true
	f.hadConn = true
}

// drop simulates the socket dying on its own.
func (f *fakeTransport) drop(reason string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.haveConn = false
	f.exitFlag = true
	f.errString = reason
}

func (f *fakeTransport) push(lines ...string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.inbound = append(f.inbound, lines...)
}

func (f *fakeTransport) sentLines() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.sent))
	copy(out, f.sent)
	return out
}

func (f *fakeTransport) HaveConn() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.haveConn
}

func (f *fakeTransport) HadConnection() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.hadConn
}

func (f *fakeTransport) EOFOk() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.eofOk
}

func (f *fakeTransport) SetEOFOk() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.eofOk = true
}

func (f *fakeTransport) ExitFlag() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.exitFlag
}

func (f *fakeTransport) SetExitFlag(reason string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.exitFlag = true
	f.exitReason = reason
	f.errString = reason
	f.haveConn = false
	f.hadConn = false
}

func (f *fakeTransport) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	f.exitFlag = true
	f.haveConn = false
	return nil
}

func (f *fakeTransport) ErrString() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.errString
}

func (f *fakeTransport) PeekInbound() (string, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.inbound) == 0 {
		return "", false
	}
	return f.inbound[0], true
}

func (f *fakeTransport) PopInbound() (string, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.inbound) == 0 {
		return "", false
	}
	line := f.inbound[0]
	f.inbound = f.inbound[1:]
	return line, true
}

func (f *fakeTransport) SetReadSingle(v bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.readSingle = v
}

func (f *fakeTransport) SendRaw(line string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.rejects || !f.haveConn {
		return false
	}
	f.sent = append(f.sent, line)
	return true
}

func (f *fakeTransport) SetReceiveBufferSize(n int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.bufSize = n
}

func (f *fakeTransport) InitObfuscation(r1, r2, r3, r4, seed int32) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.obf = []int32{r1, r2, r3, r4, seed}
}

func (f *fakeTransport) HealthCheck() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.healthy
}

func (f *fakeTransport) Wake() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.wakes++
}

func (f *fakeTransport) StateSummary() string { return "in:0 out:0" }

func (f *fakeTransport) Stats() TransportStats { return TransportStats{} }

func (f *fakeTransport) LocalAddress() string { return "127.0.0.1" }

// fakeFactory hands out a fresh fakeTransport per attempt and remembers them.
type fakeFactory struct {
	mu    sync.Mutex
	built []*fakeTransport
	setup func(*fakeTransport)
}

func (ff *fakeFactory) build(string) Transport {
	t := newFakeTransport()
	if ff.setup != nil {
		ff.setup(t)
	}
	ff.mu.Lock()
	ff.built = append(ff.built, t)
	ff.mu.Unlock()
	return t
}

func (ff *fakeFactory) last() *fakeTransport {
	ff.mu.Lock()
	defer ff.mu.Unlock()
	if len(ff.built) == 0 {
		return nil
	}
	return ff.built[len(ff.built)-1]
}

func (ff *fakeFactory) count() int {
	ff.mu.Lock()
	defer ff.mu.Unlock()
	return len(ff.built)
}

// recordingSink captures diagnostics.
type recordingSink struct {
	mu     sync.Mutex
	lines  []string
	errors []string
	causes []error
}

func (s *recordingSink) LogLine(text string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lines = append(s.lines, text)
}

func (s *recordingSink) PostError(origin, message string, cause error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.errors = append(s.errors, message)
	s.causes = append(s.causes, cause)
}

func (s *recordingSink) posted() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.errors))
	copy(out, s.errors)
	return out
}
