// Package message implements the wire framing shared by both endpoint
// roles. Every datagram carries a one-byte channel marker and a
// four-byte anti-spoofing cookie, followed by the channel-specific
// payload:
//
//	[channel:1][cookie:4][payload:...]
//
// Reliable payloads are ARQ segment streams; the reassembled message
// inside them starts with a reliable sub-header. Unreliable payloads
// carry their sub-header directly after the cookie.
package message

// Channel selects between the reliable and unreliable delivery path.
// It is the first byte of every datagram.
type Channel uint8

const (
	// ChannelNone is the zero value and never appears on the wire.
	ChannelNone Channel = 0

	// ChannelReliable routes the payload through the ARQ engine.
	ChannelReliable Channel = 1

	// ChannelUnreliable delivers the payload as raw UDP.
	ChannelUnreliable Channel = 2
)

// String returns a human-readable name for the channel.
func (c Channel) String() string {
	switch c {
	case ChannelReliable:
		return "Reliable"
	case ChannelUnreliable:
		return "Unreliable"
	default:
		return "None"
	}
}

// IsValid returns true if the channel is a defined wire value.
func (c Channel) IsValid() bool {
	return c == ChannelReliable || c == ChannelUnreliable
}

// ReliableHeader is the sub-header of an ARQ-reassembled message.
type ReliableHeader uint8

const (
	// ReliableHello authenticates a peer during the handshake.
	ReliableHello ReliableHeader = 1

	// ReliablePing keeps the connection alive through the ARQ path.
	ReliablePing ReliableHeader = 2

	// ReliableData carries an application message.
	ReliableData ReliableHeader = 3
)

// ParseReliableHeader maps a wire byte to a ReliableHeader.
func ParseReliableHeader(b uint8) (ReliableHeader, bool) {
	switch ReliableHeader(b) {
	case ReliableHello, ReliablePing, ReliableData:
		return ReliableHeader(b), true
	default:
		return 0, false
	}
}

// String returns a human-readable name for the header.
func (h ReliableHeader) String() string {
	switch h {
	case ReliableHello:
		return "Hello"
	case ReliablePing:
		return "Ping"
	case ReliableData:
		return "Data"
	default:
		return "Unknown"
	}
}

// UnreliableHeader is the sub-header of an unreliable payload.
type UnreliableHeader uint8

const (
	// UnreliableData carries an application message.
	UnreliableData UnreliableHeader = 4

	// UnreliableDisconnect signals connection teardown. It is the only
	// shutdown signal and is transmitted redundantly; receivers treat
	// repeats as idempotent.
	UnreliableDisconnect UnreliableHeader = 5

	// UnreliablePing keeps the connection alive without consuming ARQ
	// window slots.
	UnreliablePing UnreliableHeader = 6
)

// ParseUnreliableHeader maps a wire byte to an UnreliableHeader.
func ParseUnreliableHeader(b uint8) (UnreliableHeader, bool) {
	switch UnreliableHeader(b) {
	case UnreliableData, UnreliableDisconnect, UnreliablePing:
		return UnreliableHeader(b), true
	default:
		return 0, false
	}
}

// String returns a human-readable name for the header.
func (h UnreliableHeader) String() string {
	switch h {
	case UnreliableData:
		return "Data"
	case UnreliableDisconnect:
		return "Disconnect"
	case UnreliablePing:
		return "Ping"
	default:
		return "Unknown"
	}
}

// Framing sizes.
const (
	// ChannelHeaderSize is the size of the channel marker.
	ChannelHeaderSize = 1

	// CookieSize is the size of the anti-spoofing cookie.
	CookieSize = 4

	// MetadataSize is the outer framing overhead of every datagram.
	MetadataSize = ChannelHeaderSize + CookieSize

	// SubHeaderSize is the size of the reliable/unreliable sub-header.
	SubHeaderSize = 1
)

// Cookie is the per-peer anti-spoofing token carried in every datagram.
type Cookie [CookieSize]byte
