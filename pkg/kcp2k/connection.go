package kcp2k

import (
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/pion/logging"

	"github.com/xtjsk/kcp2k-go/pkg/message"
)

// Connection is the per-peer state machine. It orchestrates framing,
// the ARQ engine, the handshake, and event delivery for one remote.
//
// A Connection is owned exclusively by its endpoint and mutated only
// from that endpoint's Tick and Send calls; it must not be shared
// across goroutines.
type Connection struct {
	id     uint64
	remote *net.UDPAddr

	config    *Config
	callbacks *Callbacks
	log       logging.LeveledLogger

	// sink writes one framed datagram to the remote through the
	// endpoint's shared socket.
	sink    func([]byte) error
	elapsed func() time.Duration
	remove  func(id uint64)

	peer *peer

	// recvBuf is scratch space for dequeuing one reassembled reliable
	// message; sized for the largest accepted message.
	recvBuf []byte
}

func newConnection(config *Config, callbacks *Callbacks, log logging.LeveledLogger,
	id uint64, remote *net.UDPAddr, cookie message.Cookie,
	sink func([]byte) error, elapsed func() time.Duration, remove func(id uint64),
	client bool) *Connection {

	c := &Connection{
		id:        id,
		remote:    remote,
		config:    config,
		callbacks: callbacks,
		log:       log,
		sink:      sink,
		elapsed:   elapsed,
		remove:    remove,
		recvBuf:   make([]byte, config.ReliableMaxMessageSize()+message.SubHeaderSize),
	}
	c.peer = newPeer(config, cookie, elapsed(), sink)

	// a client opens the handshake immediately; a server waits for it
	if client {
		c.sendHello()
	}
	return c
}

// ID returns the connection id, the hash of the remote address once
// authenticated.
func (c *Connection) ID() uint64 {
	return c.id
}

// RemoteAddr returns the remote address of this connection.
func (c *Connection) RemoteAddr() *net.UDPAddr {
	return c.remote
}

// State returns the current lifecycle state.
func (c *Connection) State() ConnectionState {
	return c.peer.state
}

// rekey replaces the connection id and rebuilds the ARQ peer around an
// adopted cookie. Used by the client when the server's first Hello
// validates the remote address: the triggering datagram must be fed
// through rawInput afterwards so the Hello is delivered in-band.
func (c *Connection) rekey(id uint64, cookie message.Cookie) {
	c.id = id
	c.peer = newPeer(c.config, cookie, c.elapsed(), c.sink)
}

// rawInput feeds one datagram received from this connection's remote.
// Malformed datagrams are reported and dropped; once authenticated,
// datagrams whose cookie does not match are dropped without touching
// connection state, which is the anti-spoofing guard.
func (c *Connection) rawInput(data []byte) {
	if c.peer.state == StateDisconnected {
		return
	}

	channel, cookie, body, err := message.ParseDatagram(data)
	if err != nil {
		if errors.Is(err, message.ErrUnknownChannel) {
			c.fireError(ErrorUnexpected, fmt.Sprintf("received message with unknown channel byte %d from %v", data[0], c.remote))
		} else {
			c.fireError(ErrorInvalidReceive, fmt.Sprintf("received message with size %d <= %d from %v", len(data), message.MetadataSize, c.remote))
		}
		return
	}

	if c.peer.state == StateAuthenticated && cookie != c.peer.cookie {
		// The client's Hello can arrive again after authentication, or
		// an attacker may be trying UDP spoofing. Either way: drop.
		c.fireError(ErrorInvalidReceive, fmt.Sprintf("dropped message with invalid cookie %x from %v, expected %x", cookie, c.remote, c.peer.cookie))
		return
	}

	c.peer.lastRecv = c.elapsed()

	switch channel {
	case message.ChannelReliable:
		c.inputReliable(body)
	case message.ChannelUnreliable:
		c.inputUnreliable(body)
	}
}

// inputReliable feeds the cookie-stripped body into the ARQ engine.
func (c *Connection) inputReliable(body []byte) {
	if n := c.peer.kcp.Input(body); n < 0 {
		c.fireError(ErrorInvalidReceive, fmt.Sprintf("input failed with error=%d for buffer with length=%d", n, len(body)))
	}
}

// inputUnreliable handles the fast path: the sub-header follows the
// cookie directly.
func (c *Connection) inputUnreliable(body []byte) {
	header, data, err := message.ParseUnreliablePayload(body)
	if err != nil {
		c.fireError(ErrorInvalidReceive, fmt.Sprintf("failed to parse unreliable header from %v: %v", c.remote, err))
		return
	}

	switch header {
	case message.UnreliableData:
		if c.peer.state != StateAuthenticated {
			c.fireError(ErrorInvalidReceive, "received Data message while not Authenticated")
			return
		}
		c.fireData(data, message.ChannelUnreliable)
	case message.UnreliableDisconnect:
		c.disconnect()
	case message.UnreliablePing:
		// advancing lastRecv is all a ping does
	}
}

// tickIncoming advances liveness checks and delivers one reassembled
// reliable message. Called once per endpoint tick.
func (c *Connection) tickIncoming() {
	now := c.elapsed()

	switch c.peer.state {
	case StateConnected:
		c.handlePing(now)
		c.handleTimeout(now)
		c.handleDeadLink()
		if c.peer.state == StateDisconnected {
			return
		}

		header, _, ok := c.receiveNextReliable()
		if !ok {
			return
		}
		switch header {
		case message.ReliableHello:
			c.authenticated()
		case message.ReliableData:
			c.fireError(ErrorInvalidReceive, "received Data message while Connected, disconnecting")
			c.disconnect()
		case message.ReliablePing:
		}

	case StateAuthenticated:
		c.handlePing(now)
		c.handleTimeout(now)
		c.handleDeadLink()
		if c.peer.state == StateDisconnected {
			return
		}

		header, data, ok := c.receiveNextReliable()
		if !ok {
			return
		}
		switch header {
		case message.ReliableHello:
			c.fireError(ErrorInvalidReceive, "received Hello message while Authenticated, disconnecting")
			c.disconnect()
		case message.ReliableData:
			if len(data) == 0 {
				c.fireError(ErrorInvalidReceive, "received empty Data message while Authenticated, disconnecting")
				c.disconnect()
				return
			}
			c.fireData(data, message.ChannelReliable)
		case message.ReliablePing:
		}

	case StateDisconnected:
	}
}

// tickOutgoing drives the ARQ engine's retransmissions and acks.
func (c *Connection) tickOutgoing(now time.Duration) {
	if c.peer.state == StateDisconnected {
		return
	}
	c.peer.kcp.Update(uint32(now.Milliseconds()))
}

// receiveNextReliable dequeues one reassembled message from the ARQ
// engine. A receive failure is a protocol violation and tears the
// connection down.
func (c *Connection) receiveNextReliable() (message.ReliableHeader, []byte, bool) {
	size := c.peer.kcp.PeekSize()
	if size < 0 {
		return 0, nil, false
	}

	n := c.peer.kcp.Recv(c.recvBuf)
	if n <= 0 {
		c.fireError(ErrorInvalidReceive, fmt.Sprintf("receive failed with error=%d, closing connection", n))
		c.disconnect()
		return 0, nil, false
	}

	header, data, err := message.ParseReliablePayload(c.recvBuf[:n])
	if err != nil {
		c.fireError(ErrorInvalidReceive, fmt.Sprintf("receive failed to parse header: %v, closing connection", err))
		c.disconnect()
		return 0, nil, false
	}
	return header, data, true
}

// authenticated completes the handshake: reply with our Hello (the
// outer framing of that datagram carries our cookie), then surface the
// connection.
func (c *Connection) authenticated() {
	c.sendHello()
	c.peer.state = StateAuthenticated
	c.fireConnected()
}

// Send submits a message on the given channel. Empty messages and
// invalid channels disconnect the connection; oversized messages and
// exhausted windows only fail the call.
func (c *Connection) Send(data []byte, channel message.Channel) error {
	if c.peer.state == StateDisconnected {
		return ErrConnectionClosed
	}
	if len(data) == 0 {
		// never valid, and a zero-length reliable Data would read as a
		// protocol violation on the remote side
		c.fireError(ErrorInvalidSend, "tried sending empty message, disconnecting")
		c.disconnect()
		return fmt.Errorf("%w: empty message", ErrInvalidSend)
	}

	switch channel {
	case message.ChannelReliable:
		if max := c.config.ReliableMaxMessageSize(); len(data) > max {
			return fmt.Errorf("%w: %d bytes exceeds reliable limit of %d", ErrInvalidSend, len(data), max)
		}
		return c.sendReliable(message.ReliableData, data)
	case message.ChannelUnreliable:
		if max := c.config.UnreliableMaxMessageSize(); len(data) > max {
			return fmt.Errorf("%w: %d bytes exceeds unreliable limit of %d", ErrInvalidSend, len(data), max)
		}
		return c.sendUnreliable(message.UnreliableData, data)
	default:
		c.fireError(ErrorInvalidSend, fmt.Sprintf("tried sending message with invalid channel %d, disconnecting", channel))
		c.disconnect()
		return fmt.Errorf("%w: channel %d", ErrInvalidSend, channel)
	}
}

// Disconnect tears the connection down, telling the remote with a
// burst of unreliable Disconnect datagrams. Safe to call repeatedly.
func (c *Connection) Disconnect() {
	c.disconnect()
}

func (c *Connection) sendReliable(header message.ReliableHeader, data []byte) error {
	payload := message.WrapReliablePayload(header, data)
	if n := c.peer.kcp.Send(payload); n < 0 {
		return fmt.Errorf("%w: send returned %d for length=%d", ErrCongestion, n, len(data))
	}
	// flush eagerly so small messages don't wait for the next tick
	c.peer.kcp.Flush()
	return nil
}

func (c *Connection) sendUnreliable(header message.UnreliableHeader, data []byte) error {
	return c.sink(message.WrapUnreliable(c.peer.cookie, header, data))
}

func (c *Connection) sendHello() {
	if c.log != nil {
		c.log.Debugf("sending handshake to %v with cookie=%x", c.remote, c.peer.cookie)
	}
	if err := c.sendReliable(message.ReliableHello, nil); err != nil && c.log != nil {
		c.log.Warnf("handshake send failed: %v", err)
	}
}

func (c *Connection) sendPing(now time.Duration) {
	c.peer.lastPing = now
	if c.config.ReliablePing {
		_ = c.sendReliable(message.ReliablePing, nil)
	} else {
		_ = c.sendUnreliable(message.UnreliablePing, nil)
	}
}

// sendDisconnect transmits the shutdown signal redundantly, the only
// protection an unreliable FIN gets against packet loss.
func (c *Connection) sendDisconnect() {
	for i := 0; i < 5; i++ {
		_ = c.sendUnreliable(message.UnreliableDisconnect, nil)
	}
}

func (c *Connection) handlePing(now time.Duration) {
	if now-c.peer.lastPing >= PingInterval {
		c.sendPing(now)
	}
}

func (c *Connection) handleTimeout(now time.Duration) {
	if now-c.peer.lastRecv > c.config.Timeout {
		c.fireError(ErrorTimeout, fmt.Sprintf("connection timed out after not receiving any message for %v", c.config.Timeout))
		c.disconnect()
	}
}

func (c *Connection) handleDeadLink() {
	if c.peer.kcp.IsDeadLink() {
		c.fireError(ErrorTimeout, fmt.Sprintf("dead link detected: a message was retransmitted %d times without ack, disconnecting", c.config.MaxRetransmits))
		c.disconnect()
	}
}

// disconnect is idempotent: the first call notifies the remote, flips
// the state, fires OnDisconnected, and queues removal, in that order.
func (c *Connection) disconnect() {
	if c.peer.state == StateDisconnected {
		return
	}
	c.sendDisconnect()
	c.peer.state = StateDisconnected
	c.fireDisconnected()
	c.remove(c.id)
}

func (c *Connection) fireConnected() {
	if cb := c.callbacks.OnConnected; cb != nil {
		cb(c.id)
	}
}

func (c *Connection) fireData(data []byte, channel message.Channel) {
	// hand ownership to the receiver; the scratch buffer is reused
	owned := make([]byte, len(data))
	copy(owned, data)
	if cb := c.callbacks.OnData; cb != nil {
		cb(c.id, owned, channel)
	}
}

func (c *Connection) fireDisconnected() {
	if cb := c.callbacks.OnDisconnected; cb != nil {
		cb(c.id)
	}
}

func (c *Connection) fireError(code ErrorCode, msg string) {
	if c.log != nil {
		c.log.Warnf("connection %d: %s: %s", c.id, code, msg)
	}
	if cb := c.callbacks.OnError; cb != nil {
		cb(c.id, code, msg)
	}
}
