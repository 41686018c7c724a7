package transport

import "errors"

// Transport errors.
var (
	// ErrClosed is returned when an operation is attempted on a closed
	// socket.
	ErrClosed = errors.New("transport: closed")

	// ErrResolve is returned when the local or remote address cannot
	// be parsed or resolved.
	ErrResolve = errors.New("transport: address resolve failed")

	// ErrSendFailed is returned when the OS rejects an outbound
	// datagram.
	ErrSendFailed = errors.New("transport: send failed")
)
