package kcp2k

import "github.com/xtjsk/kcp2k-go/pkg/message"

// Callbacks receive connection events. All callbacks are optional and
// fire synchronously from the endpoint's Tick (or, for errors forcing
// a disconnect, from Send, and for OnDisconnected, from CloseConnection
// and Disconnect). For one connection the order is causal:
// OnConnected precedes any OnData, OnDisconnected is final.
type Callbacks struct {
	// OnConnected fires once when a peer completes the handshake.
	OnConnected func(connectionID uint64)

	// OnData fires for each received application message. The data
	// slice is owned by the receiver; the transport keeps no reference
	// to it.
	OnData func(connectionID uint64, data []byte, channel message.Channel)

	// OnDisconnected fires exactly once when a peer leaves, times out,
	// or violates the protocol.
	OnDisconnected func(connectionID uint64)

	// OnError reports protocol-level errors. Recoverable errors are
	// reported and processing continues; fatal errors are followed by
	// OnDisconnected.
	OnError func(connectionID uint64, code ErrorCode, message string)
}
