package session

// State is the connection lifecycle position of a Manager.
type State int

const (
	StateUnconnected State = iota
	StateRequesting
	StateAwaitingHandshake
	StateConnected
	StateDisconnected
)

func (s State) String() string {
	switch s {
	case StateUnconnected:
		return "unconnected"
	case StateRequesting:
		return "requesting"
	case StateAwaitingHandshake:
		return "awaiting_handshake"
	case StateConnected:
		return "connected"
	case StateDisconnected:
		return "disconnected"
	default:
		return "unknown"
	}
}

// ReconnectPolicy is the reconnect bookkeeping of a Manager. NeverReconnect
// is sticky and overrides the other two.
type ReconnectPolicy struct {
	AllowReconnect bool
	Reconnecting   bool
	NeverReconnect bool
}

func (p ReconnectPolicy) mayConnect() bool {
	return p.AllowReconnect && !p.NeverReconnect
}
