package kcp2k

import (
	"net"

	"github.com/xtjsk/kcp2k-go/pkg/kcp"
	"github.com/xtjsk/kcp2k-go/pkg/message"
	"github.com/xtjsk/kcp2k-go/pkg/transport"
)

// Client keeps a single connection to a known server over a connected
// UDP socket.
//
// The connection starts under a random placeholder id. The id becomes
// the hash of the server's address once the server's Hello validates
// it; Send and the callbacks use the current id transparently.
//
// Like the server, a client is driven by periodic Tick calls.
type Client struct {
	endpoint
	remote string

	// currentID tracks the sole peer across the handshake rekey.
	currentID uint64
}

// NewClient creates a client for the given server address. The socket
// is not created until Connect.
func NewClient(config Config, remote string, callbacks Callbacks) (*Client, error) {
	e, err := newEndpoint(config, callbacks, "kcp2k-client")
	if err != nil {
		return nil, err
	}
	return &Client{endpoint: e, remote: remote}, nil
}

// Connect creates the connected socket and opens the handshake: the
// placeholder connection sends its Hello immediately.
func (c *Client) Connect() error {
	if c.sock != nil {
		return ErrAlreadyStarted
	}
	sock, err := transport.Dial(c.transportConfig(), c.remote)
	if err != nil {
		return err
	}
	c.sock = sock
	c.start = c.clock.Now()
	if c.log != nil {
		c.log.Infof("connecting to %s", c.remote)
	}

	remoteAddr, _ := sock.RemoteAddr().(*net.UDPAddr)
	id := randomID()
	conn := newConnection(&c.config, &c.callbacks, c.log, id, remoteAddr, generateCookie(),
		func(b []byte) error { return sock.Write(b) },
		c.elapsed, c.enqueueRemove, true)
	c.connections[id] = conn
	c.currentID = id
	return nil
}

// Send submits a message to the server.
func (c *Client) Send(data []byte, channel message.Channel) error {
	conn, ok := c.connections[c.currentID]
	if !ok {
		return ErrConnectionNotFound
	}
	return conn.Send(data, channel)
}

// Disconnect closes the connection to the server, telling it with a
// burst of Disconnect datagrams.
func (c *Client) Disconnect() {
	if conn, ok := c.connections[c.currentID]; ok {
		conn.Disconnect()
	}
}

// Tick advances the client: erase removed peers, drain the socket,
// deliver inbound events, then flush outbound ARQ state.
func (c *Client) Tick() {
	if c.sock == nil {
		return
	}
	c.drainRemovals()
	for {
		d, ok := c.sock.TryRecv()
		if !ok {
			break
		}
		c.handleDatagram(d)
	}
	c.tickIncomingAll()
	c.tickOutgoingAll()
}

// Stop shuts the socket down and clears the peer table without
// notifying the server.
func (c *Client) Stop() {
	c.stop()
}

func (c *Client) handleDatagram(d transport.Datagram) {
	id := transport.ConnectionHash(d.Addr)
	if conn, ok := c.connections[id]; ok {
		conn.rawInput(d.Data)
		return
	}

	// Unknown source id: this is either the server's first Hello, which
	// validates the remote address and carries the cookie to adopt in
	// its outer framing, or noise to ignore. The Hello check walks the
	// ARQ segment headers because acknowledgements may precede the
	// Hello segment in the same datagram.
	if len(d.Data) <= message.MetadataSize || message.Channel(d.Data[0]) != message.ChannelReliable {
		return
	}
	if b, ok := kcp.FirstPushByte(d.Data[message.MetadataSize:]); !ok || b != byte(message.ReliableHello) {
		if c.log != nil {
			c.log.Tracef("ignoring datagram from unknown source %v", d.Addr)
		}
		return
	}

	conn, ok := c.connections[c.currentID]
	if !ok || conn.State() == StateDisconnected {
		return
	}
	var cookie message.Cookie
	copy(cookie[:], d.Data[message.ChannelHeaderSize:message.MetadataSize])
	if c.log != nil {
		c.log.Debugf("received handshake with cookie=%x", cookie)
	}

	// rekey: reinsert under the validated id, rebuild the ARQ peer
	// around the adopted cookie, then feed the datagram so the Hello
	// is consumed in-band.
	delete(c.connections, c.currentID)
	conn.rekey(id, cookie)
	c.connections[id] = conn
	c.currentID = id
	conn.rawInput(d.Data)
}
