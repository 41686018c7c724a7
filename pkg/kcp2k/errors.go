package kcp2k

import "errors"

// Errors returned synchronously by endpoint and connection operations.
var (
	// ErrInvalidConfig is returned when configuration validation fails.
	ErrInvalidConfig = errors.New("kcp2k: invalid configuration")

	// ErrConnectionNotFound is returned when the connection id is not
	// in the peer table.
	ErrConnectionNotFound = errors.New("kcp2k: connection not found")

	// ErrConnectionClosed is returned for operations on a connection
	// that has already disconnected.
	ErrConnectionClosed = errors.New("kcp2k: connection closed")

	// ErrInvalidSend is returned for empty payloads, oversized
	// payloads, and invalid channels.
	ErrInvalidSend = errors.New("kcp2k: invalid send")

	// ErrCongestion is returned when the reliable send window cannot
	// accept the message.
	ErrCongestion = errors.New("kcp2k: send window exhausted")

	// ErrNotStarted is returned when an operation requires a started
	// endpoint.
	ErrNotStarted = errors.New("kcp2k: endpoint not started")

	// ErrAlreadyStarted is returned when an endpoint is started twice.
	ErrAlreadyStarted = errors.New("kcp2k: endpoint already started")
)

// ErrorCode classifies errors reported through the OnError callback.
type ErrorCode int

const (
	// ErrorNone indicates no error.
	ErrorNone ErrorCode = iota

	// ErrorDNSResolve indicates the host name could not be resolved.
	ErrorDNSResolve

	// ErrorTimeout indicates the peer went silent past the configured
	// timeout, or the ARQ engine declared the link dead.
	ErrorTimeout

	// ErrorCongestion indicates more messages than the transport or
	// network can handle.
	ErrorCongestion

	// ErrorInvalidReceive indicates an invalid inbound packet,
	// possibly malicious.
	ErrorInvalidReceive

	// ErrorInvalidSend indicates the caller tried to send invalid
	// data.
	ErrorInvalidSend

	// ErrorConnectionClosed indicates the connection ended voluntarily
	// or was lost involuntarily.
	ErrorConnectionClosed

	// ErrorConnectionNotFound indicates the connection id is unknown.
	ErrorConnectionNotFound

	// ErrorSendFailed indicates the OS rejected an outbound datagram.
	ErrorSendFailed

	// ErrorUnexpected indicates an unexpected condition that needs
	// fixing.
	ErrorUnexpected
)

// String returns a human-readable name for the error code.
func (e ErrorCode) String() string {
	switch e {
	case ErrorNone:
		return "None"
	case ErrorDNSResolve:
		return "DnsResolve"
	case ErrorTimeout:
		return "Timeout"
	case ErrorCongestion:
		return "Congestion"
	case ErrorInvalidReceive:
		return "InvalidReceive"
	case ErrorInvalidSend:
		return "InvalidSend"
	case ErrorConnectionClosed:
		return "ConnectionClosed"
	case ErrorConnectionNotFound:
		return "ConnectionNotFound"
	case ErrorSendFailed:
		return "SendError"
	case ErrorUnexpected:
		return "Unexpected"
	default:
		return "Unknown"
	}
}
