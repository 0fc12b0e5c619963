package session

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/danmuck/boardlink/internal/observability"
	"github.com/danmuck/boardlink/internal/protocol"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// ManagerConfig wires a Manager to its collaborators.
type ManagerConfig struct {
	ClientID string
	Session  Config
	Factory  TransportFactory
	// Sink defaults to a LogSink on the global logger.
	Sink Sink
	// Now defaults to time.Now.
	Now func() time.Time
}

// Info is what the server told us during the handshake.
type Info struct {
	Handshake
	Features    Features
	ClockOffset time.Duration
	ConnectedAt time.Time
}

// EchoSnapshot is a copy of the ledger tables.
type EchoSnapshot struct {
	Pending    []EchoEntry
	Repeatable []EchoEntry
	Unexpected []EchoEntry
}

// Manager drives one logical client connection: handshake, sequencing,
// echo accounting, ping statistics, and reconnect policy.
//
// Advance is meant to be called from a single polling goroutine. Every
// other method may be called from any goroutine; shared state is guarded by
// one mutex held for the duration of each operation.
type Manager struct {
	cfg      Config
	clientID string
	factory  TransportFactory
	sink     Sink
	events   *EventLog
	now      func() time.Time
	logger   zerolog.Logger

	mu            sync.Mutex
	state         State
	conn          Transport
	identity      Identity
	host          string
	port          int
	policy        ReconnectPolicy
	info          Info
	hasSequence   bool
	seq           int64
	ledger        *EchoLedger
	ping          PingTracker
	errString     string
	errorCount    int
	extraMessages int
	startedAt     time.Time
	connected     chan struct{}
	never         chan struct{}
}

func NewManager(cfg ManagerConfig) (*Manager, error) {
	if strings.TrimSpace(cfg.ClientID) == "" {
		return nil, ErrClientIDRequired
	}
	if cfg.Factory == nil {
		return nil, ErrTransportRequired
	}
	sessionCfg := cfg.Session.WithDefaults()
	logger := log.Logger.With().Str("client", cfg.ClientID).Logger()
	sink := cfg.Sink
	if sink == nil {
		sink = NewLogSink(logger, cfg.ClientID)
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	events := NewEventLog(sessionCfg.LogCapacity)
	events.now = now
	return &Manager{
		cfg:       sessionCfg,
		clientID:  cfg.ClientID,
		factory:   cfg.Factory,
		sink:      sink,
		events:    events,
		now:       now,
		logger:    logger,
		state:     StateUnconnected,
		ledger:    NewEchoLedger(),
		ping:      NewPingTracker(),
		connected: make(chan struct{}),
		never:     make(chan struct{}),
	}, nil
}

// Connect records the target and identity and allows Advance to start
// connecting. It does not touch the network.
func (m *Manager) Connect(identity Identity, host string, port int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.identity = identity
	m.host = host
	m.port = port
	m.policy.AllowReconnect = true
}

// Advance performs one step of the connection state machine and reports
// whether the session is connected afterwards.
func (m *Manager) Advance() bool {
	var report func()
	m.mu.Lock()
	switch m.state {
	case StateUnconnected, StateDisconnected:
		m.requestLocked()
	case StateRequesting:
		m.pollRequestLocked()
	case StateAwaitingHandshake:
		report = m.pollHandshakeLocked()
	case StateConnected:
	}
	connected := m.state == StateConnected
	m.mu.Unlock()

	if report != nil {
		report()
	}
	return connected
}

func (m *Manager) requestLocked() {
	if !m.policy.mayConnect() {
		return
	}
	if m.conn != nil {
		m.conn.SetExitFlag("reconnect")
		m.policy.Reconnecting = true
	}
	conn := m.factory(m.clientID)
	m.conn = conn
	m.errorCount = 0
	m.errString = ""
	m.ledger.Clear()
	m.extraMessages = 0
	m.hasSequence = false
	m.seq = 0
	m.info = Info{}
	conn.SetReadSingle(false)
	if err := conn.Connect(m.host, m.port); err != nil {
		m.errString = err.Error()
		m.events.Add("connect request failed: ", err)
		m.setStateLocked(StateDisconnected)
		return
	}
	m.events.Add("connect ", m.host, ":", m.port)
	m.setStateLocked(StateRequesting)
}

func (m *Manager) pollRequestLocked() {
	if !m.conn.HaveConn() {
		if m.conn.ExitFlag() {
			m.conn.SetReadSingle(false)
			m.setStateLocked(StateDisconnected)
		}
		return
	}
	m.conn.SetReadSingle(true)
	m.startedAt = m.now()
	m.setStateLocked(StateAwaitingHandshake)
	// The intro predates sequencing and is never tagged or ledgered.
	m.conn.SendRaw(m.identity.IntroLine())
	m.events.Add("out: intro session=", m.identity.Session, " user=", m.identity.Username)
}

func (m *Manager) pollHandshakeLocked() func() {
	line, ok := m.conn.PeekInbound()
	if !ok {
		if m.conn.ExitFlag() {
			m.conn.SetReadSingle(false)
			m.setStateLocked(StateDisconnected)
		}
		return nil
	}

	_, rest := protocol.SplitTag(line)
	code, fields, _ := strings.Cut(rest, " ")
	code = strings.TrimSpace(code)
	if code != protocol.EchoIntroSelf {
		err := newError(KindProtocolViolation, "handshake", "unexpected first response "+code, nil)
		m.abandonLocked("unexpected: "+code, line)
		return m.reportFatal(err, line)
	}
	m.conn.PopInbound()

	hs, err := ParseHandshake(fields)
	if err != nil {
		if KindOf(err) == 0 {
			err = newError(KindMalformedHandshakeField, "handshake", "", err)
		}
		m.abandonLocked("malformed handshake", line)
		return m.reportFatal(err, line)
	}

	features := hs.Features()
	if features.Obfuscation {
		key, err := hs.ObfuscationKey()
		if err != nil {
			m.abandonLocked("malformed handshake", line)
			return m.reportFatal(err, line)
		}
		m.conn.InitObfuscation(key.R1, key.R2, key.R3, key.R4, key.Seed)
	}
	if features.Sequence {
		m.seq = 1
		m.hasSequence = true
	}
	now := m.now()
	m.info = Info{
		Handshake:   hs,
		Features:    features,
		ClockOffset: hs.ClockOffset(now),
		ConnectedAt: now,
	}
	m.conn.SetReceiveBufferSize(hs.BufferSize)
	m.conn.SetReadSingle(false)
	m.policy.Reconnecting = false
	m.setStateLocked(StateConnected)
	m.conn.Wake()
	m.events.Add(" in: handshake session=", hs.SessionID, " channel=", hs.ChannelID, " version=", hs.FeatureVersion)
	return nil
}

// abandonLocked handles a fatal handshake reply: this session never
// reconnects again.
func (m *Manager) abandonLocked(reason, line string) {
	m.policy.NeverReconnect = true
	m.conn.SetExitFlag(reason)
	m.conn.SetReadSingle(false)
	m.setStateLocked(StateDisconnected)
	m.events.Add("Unexpected first response: ", line)
	select {
	case <-m.never:
	default:
		close(m.never)
	}
}

func (m *Manager) reportFatal(err error, line string) func() {
	return func() {
		m.logger.Error().Err(err).Str("line", line).Msg("handshake failed")
		m.sink.PostError(m.clientID, err.Error()+": "+line, err)
	}
}

func (m *Manager) setStateLocked(s State) {
	prev := m.state
	if prev == s {
		return
	}
	m.state = s
	if s == StateConnected {
		close(m.connected)
	} else if prev == StateConnected {
		m.connected = make(chan struct{})
	}
	observability.RecordSessionState(m.clientID, s.String())
	m.logger.Debug().Str("from", prev.String()).Str("to", s.String()).Msg("session state")
}

// WaitConnected blocks until the session reaches Connected, the session is
// barred from reconnecting, or ctx ends.
func (m *Manager) WaitConnected(ctx context.Context) error {
	for {
		m.mu.Lock()
		if m.state == StateConnected {
			m.mu.Unlock()
			return nil
		}
		if m.policy.NeverReconnect {
			m.mu.Unlock()
			return ErrReconnectDisabled
		}
		ch := m.connected
		m.mu.Unlock()

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ch:
		case <-m.never:
		}
	}
}

func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

func (m *Manager) IsConnected() bool {
	return m.State() == StateConnected
}

func (m *Manager) Policy() ReconnectPolicy {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.policy
}

// Info returns the handshake results; ok is false until connected once in
// the current transport generation.
func (m *Manager) Info() (Info, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.info, m.info.ConnectedAt != (time.Time{})
}

// Sequence returns the number the next tagged command will carry, or 0 when
// sequencing is off.
func (m *Manager) Sequence() int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.hasSequence {
		return 0
	}
	return m.seq
}

// Send tags, records and forwards one command. It reports whether the
// transport accepted it; SendMessage gives the failure detail.
func (m *Manager) Send(message string, private bool) bool {
	return m.SendMessage(message, private) == nil
}

// SendMessage is Send with a classified error. A TransportFailure with
// Terminal unset means the transport had reached an acceptable EOF.
func (m *Manager) SendMessage(message string, private bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	line := message
	if m.hasSequence {
		tag := protocol.FormatTag(m.seq)
		m.seq++
		if !private {
			if strings.HasPrefix(message, protocol.SendMultiple) {
				m.ledger.RegisterRepeatable(tag, message)
			} else {
				m.ledger.RegisterPending(tag, message)
			}
		}
		line = tag + " " + message
	}
	m.logOutboundLocked(line)

	if m.state != StateConnected || m.conn == nil {
		observability.RecordSend(m.clientID, false)
		return &Error{Kind: KindTransportFailure, Op: "send", Err: ErrNotConnected}
	}
	if m.conn.SendRaw(line) {
		observability.RecordSend(m.clientID, true)
		return nil
	}

	observability.RecordSend(m.clientID, false)
	if m.conn.HaveConn() && !m.conn.ExitFlag() {
		// a live transport only refuses a line when its queue is full
		m.ping.FlagDeficit()
	}
	if m.connectionFailedLocked() {
		m.setExitFlagLocked("connection failed")
	}
	es := m.conn.ErrString()
	if es != "" {
		m.errString = es
		m.events.Add(es)
	}
	return &Error{
		Kind:     KindTransportFailure,
		Op:       "send",
		Detail:   es,
		Terminal: !m.conn.EOFOk(),
	}
}

func (m *Manager) logOutboundLocked(line string) {
	switch protocol.CommandCode(line) + " " {
	case protocol.SendNote, protocol.SendLogRequest:
		m.events.Add("out: ", protocol.Abbreviate(line, 10))
	default:
		if !strings.Contains(line, protocol.TrackMouseMarker) {
			m.events.Add("out: ", line)
		}
	}
}

// NextInboundLine pops the next inbound line while connected.
func (m *Manager) NextInboundLine() (string, bool) {
	m.mu.Lock()
	conn := m.conn
	connected := m.state == StateConnected
	m.mu.Unlock()
	if !connected || conn == nil {
		return "", false
	}
	line, ok := conn.PopInbound()
	if ok && !strings.Contains(line, protocol.TrackMouseMarker) {
		m.events.Add(" in: ", line)
	}
	return line, ok
}

// IsExpectedResponse matches an inbound echo tag against the ledger.
func (m *Manager) IsExpectedResponse(tag, fullLine string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.ledger.IsExpectedResponse(tag, fullLine)
}

// RegisterRepeatable records an echo that more than one reply may satisfy.
func (m *Manager) RegisterRepeatable(tag, body string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ledger.RegisterRepeatable(tag, body)
}

// ClearEchoes resets the ledger and the extra-message counter after a batch
// of input has been processed.
func (m *Manager) ClearEchoes() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ledger.Clear()
	m.extraMessages = 0
}

func (m *Manager) Echoes() EchoSnapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return EchoSnapshot{
		Pending:    m.ledger.Pending(),
		Repeatable: m.ledger.Repeatable(),
		Unexpected: m.ledger.Unexpected(),
	}
}

// CheckMissing reports echoes still owed for commands tagged up to upTo.
func (m *Manager) CheckMissing(upTo int64) {
	m.mu.Lock()
	entries, due := m.ledger.TakeMissingReport(upTo, m.cfg.Debug)
	m.mu.Unlock()
	if !due {
		return
	}
	msg := fmt.Sprintf("unusual missing echoes : %d %s\n\nlog:%s",
		len(entries), FormatEchoEntries(entries), m.events.Unseen())
	m.reportEchoAnomaly("missing", entries, msg)
}

// CheckExtra reports replies whose tags matched nothing, once per ledger
// lifetime.
func (m *Manager) CheckExtra() {
	m.mu.Lock()
	entries, due := m.ledger.TakeExtraReport()
	m.mu.Unlock()
	if !due {
		return
	}
	msg := fmt.Sprintf("unusual extra echoes : %d %s", len(entries), FormatEchoEntries(entries))
	m.reportEchoAnomaly("extra", entries, msg)
}

func (m *Manager) reportEchoAnomaly(kind string, entries []EchoEntry, msg string) {
	tags := make([]string, 0, len(entries))
	for _, e := range entries {
		tags = append(tags, e.Tag)
	}
	m.logger.Warn().
		Str("kind", kind).
		Int("count", len(entries)).
		Strs("tags", tags).
		Msg("echo anomaly")
	observability.RecordEchoAnomalies(m.clientID, kind, len(entries))
	m.LogError(msg, newError(KindEchoAnomaly, "check_"+kind, fmt.Sprintf("count=%d", len(entries)), nil))
}

// LogError forwards an error report. At most MaxErrorReports reports go out
// per transport generation; while connected they are also sent to the
// server as a log request.
func (m *Manager) LogError(msg string, cause error) {
	m.mu.Lock()
	m.errorCount++
	allowed := m.errorCount <= m.cfg.MaxErrorReports
	conn := m.conn
	online := m.state == StateConnected && conn != nil && conn.HaveConn()
	m.mu.Unlock()
	if !allowed {
		return
	}
	if online {
		conn.SendRaw(protocol.SendLogRequest + strings.ReplaceAll(msg, "\n", `\n`))
	}
	m.sink.PostError(m.clientID, msg, cause)
}

// LogMessage appends to the communications log and echoes the line to the
// sink.
func (m *Manager) LogMessage(parts ...any) {
	m.events.Add(parts...)
	m.sink.LogLine(fmt.Sprint(parts...))
}

// PrintLog returns the communications log entries not yet printed.
func (m *Manager) PrintLog() string {
	return m.events.Unseen()
}

func (m *Manager) Events() []LogEntry {
	return m.events.Entries()
}

// SetExitFlag abandons the current connection. Calling it again has no
// further effect.
func (m *Manager) SetExitFlag(reason string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.setExitFlagLocked(reason)
}

func (m *Manager) setExitFlagLocked(reason string) {
	if m.state != StateDisconnected {
		m.events.Add("exit: ", reason)
	}
	m.setStateLocked(StateDisconnected)
	if m.conn != nil {
		m.conn.SetExitFlag(reason)
	}
	m.errString = ""
}

// Close abandons the connection and stops Advance from reconnecting.
func (m *Manager) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.policy.AllowReconnect = false
	m.setExitFlagLocked("closed")
	if m.conn != nil {
		_ = m.conn.Close()
	}
}

// ConnectionFailed reports a connection that existed and went away without
// an acceptable EOF.
func (m *Manager) ConnectionFailed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.connectionFailedLocked()
}

func (m *Manager) connectionFailedLocked() bool {
	if m.policy.NeverReconnect || m.conn == nil {
		return false
	}
	return m.conn.HadConnection() && !m.conn.HaveConn() && !m.conn.EOFOk()
}

// HealthCheck asks the transport whether it is healthy and nudges it when
// it is not. It never changes state.
func (m *Manager) HealthCheck() bool {
	m.mu.Lock()
	conn := m.conn
	m.mu.Unlock()
	if conn == nil {
		return false
	}
	ok := conn.HealthCheck()
	if !ok {
		m.logger.Warn().Str("transport", conn.StateSummary()).Msg("network unhealthy")
		conn.Wake()
	}
	return ok
}

func (m *Manager) SetEOFOk() {
	m.mu.Lock()
	conn := m.conn
	m.mu.Unlock()
	if conn != nil {
		conn.SetEOFOk()
	}
}

func (m *Manager) HaveConn() bool {
	m.mu.Lock()
	conn := m.conn
	m.mu.Unlock()
	return conn != nil && conn.HaveConn()
}

func (m *Manager) ErrString() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.errStringLocked()
}

func (m *Manager) errStringLocked() string {
	if m.errString == "" && m.conn != nil {
		m.errString = m.conn.ErrString()
	}
	return m.errString
}

func (m *Manager) SetErrString(v string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.errString = v
}

// StateSummary describes the transport queues, prefixed by the state when
// not connected and followed by any error string.
func (m *Manager) StateSummary() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.conn == nil {
		return ""
	}
	var b strings.Builder
	if m.state != StateConnected {
		b.WriteString(m.state.String())
		b.WriteByte(' ')
	}
	b.WriteString(m.conn.StateSummary())
	if err := m.errStringLocked(); err != "" {
		b.WriteByte(' ')
		b.WriteString(err)
	}
	return b.String()
}

// RawStats summarizes transport throughput and ping figures.
func (m *Manager) RawStats() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.conn == nil {
		return "Disconnect"
	}
	st := m.conn.Stats()
	now := m.now()
	out := "W:" + m.statStr(now, st.Writes, st.WriteBytes, st.LastWriteMS) +
		" R:" + m.statStr(now, st.Reads, st.ReadBytes, st.LastReadMS)
	if m.ping.Count() > 0 {
		out += fmt.Sprintf(" P: %d %d-%d-%d", m.ping.Last(), m.ping.min, m.ping.Average(), m.ping.max)
	}
	return out
}

func (m *Manager) statStr(now time.Time, count int, total int64, lastMS int64) string {
	interval := (now.UnixMilli() - lastMS + 500) / 1000
	seconds := int64(now.Sub(m.startedAt) / time.Second)
	if seconds < 1 {
		seconds = 1
	}
	return fmt.Sprintf("%d n=%d %d/s", interval, count, total/seconds)
}

func (m *Manager) LocalAddress() string {
	m.mu.Lock()
	conn := m.conn
	m.mu.Unlock()
	if conn == nil {
		return "0.0.0.0"
	}
	return conn.LocalAddress()
}

// AddPing records one round-trip sample in milliseconds.
func (m *Manager) AddPing(sampleMS int64) {
	m.mu.Lock()
	m.ping.AddPing(sampleMS)
	m.mu.Unlock()
	observability.ObservePing(m.clientID, time.Duration(sampleMS)*time.Millisecond)
}

// FlagPing sets the extra-input flag and returns its previous value.
func (m *Manager) FlagPing() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.ping.FlagPing()
}

// FlagDeficit sets the deficit flag and returns its previous value.
func (m *Manager) FlagDeficit() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.ping.FlagDeficit()
}

func (m *Manager) ResetStats() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ping.Reset()
}

func (m *Manager) PingStats() PingSnapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.ping.Snapshot()
}

func (m *Manager) PingStatsSummary() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.ping.Summary()
}

// Count adds n to the extra-message counter and returns the total.
func (m *Manager) Count(n int) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.extraMessages += n
	return m.extraMessages
}

func (m *Manager) ClientID() string {
	return m.clientID
}
