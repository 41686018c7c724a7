package kcp2k

// ConnectionState tracks the lifecycle of a connection.
type ConnectionState int

const (
	// StateConnected is the initial state: the connection exists but
	// the handshake has not completed.
	StateConnected ConnectionState = iota

	// StateAuthenticated indicates the handshake completed and
	// application data may flow.
	StateAuthenticated

	// StateDisconnected is terminal. The connection is queued for
	// removal and emits no further events.
	StateDisconnected
)

// String returns a human-readable name for the state.
func (s ConnectionState) String() string {
	switch s {
	case StateConnected:
		return "Connected"
	case StateAuthenticated:
		return "Authenticated"
	case StateDisconnected:
		return "Disconnected"
	default:
		return "Unknown"
	}
}
