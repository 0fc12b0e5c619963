package session

import (
	"errors"
	"fmt"
)

// ErrorKind classifies failures surfaced by the session layer.
type ErrorKind int

const (
	KindProtocolViolation ErrorKind = iota + 1
	KindTransportFailure
	KindEchoAnomaly
	KindMalformedHandshakeField
)

func (k ErrorKind) String() string {
	switch k {
	case KindProtocolViolation:
		return "protocol_violation"
	case KindTransportFailure:
		return "transport_failure"
	case KindEchoAnomaly:
		return "echo_anomaly"
	case KindMalformedHandshakeField:
		return "malformed_handshake_field"
	default:
		return "unknown"
	}
}

var (
	ErrProtocolViolation       = errors.New("session: protocol violation")
	ErrTransportFailure        = errors.New("session: transport failure")
	ErrEchoAnomaly             = errors.New("session: echo anomaly")
	ErrMalformedHandshakeField = errors.New("session: malformed handshake field")

	ErrNotConnected         = errors.New("session: not connected")
	ErrReconnectDisabled    = errors.New("session: reconnect disabled")
	ErrTransportRequired    = errors.New("session: transport factory required")
	ErrClientIDRequired     = errors.New("session: client id required")
	ErrHandshakeCodeMissing = errors.New("session: handshake line missing code")
)

// Error is a classified session failure.
type Error struct {
	Kind   ErrorKind
	Op     string
	Detail string
	// Terminal is meaningful for transport failures: false when the
	// transport reported an acceptable EOF.
	Terminal bool
	Err      error
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("session: %s: %s", e.Op, e.Kind)
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() []error {
	out := make([]error, 0, 2)
	if s := kindSentinel(e.Kind); s != nil {
		out = append(out, s)
	}
	if e.Err != nil {
		out = append(out, e.Err)
	}
	return out
}

func kindSentinel(k ErrorKind) error {
	switch k {
	case KindProtocolViolation:
		return ErrProtocolViolation
	case KindTransportFailure:
		return ErrTransportFailure
	case KindEchoAnomaly:
		return ErrEchoAnomaly
	case KindMalformedHandshakeField:
		return ErrMalformedHandshakeField
	default:
		return nil
	}
}

// KindOf returns the kind of a session error, or zero.
func KindOf(err error) ErrorKind {
	var se *Error
	if errors.As(err, &se) {
		return se.Kind
	}
	return 0
}

func newError(kind ErrorKind, op, detail string, cause error) *Error {
	return &Error{Kind: kind, Op: op, Detail: detail, Err: cause}
}
