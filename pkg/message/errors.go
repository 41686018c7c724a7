package message

import "errors"

// Framing errors.
var (
	// ErrDatagramTooShort is returned for datagrams that cannot carry a
	// channel marker, cookie, and at least one payload byte.
	ErrDatagramTooShort = errors.New("message: datagram too short")

	// ErrUnknownChannel is returned for a channel byte outside the
	// defined wire values.
	ErrUnknownChannel = errors.New("message: unknown channel byte")

	// ErrUnknownHeader is returned for a sub-header byte outside the
	// defined wire values.
	ErrUnknownHeader = errors.New("message: unknown header byte")

	// ErrPayloadTooShort is returned when a payload is missing its
	// sub-header.
	ErrPayloadTooShort = errors.New("message: payload too short")
)
