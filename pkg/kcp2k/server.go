package kcp2k

import (
	"net"

	"github.com/xtjsk/kcp2k-go/pkg/message"
	"github.com/xtjsk/kcp2k-go/pkg/transport"
)

// Server listens on a UDP socket and multiplexes many peers by remote
// address. A connection is created on the first datagram from an
// unknown address and removed on disconnect, timeout, dead link, or
// protocol violation.
//
// The server has no internal scheduler: drive it by calling Tick
// periodically, typically every Config.Interval.
type Server struct {
	endpoint
	addr string
}

// NewServer creates a server for the given local address. The socket
// is not created until Start.
func NewServer(config Config, addr string, callbacks Callbacks) (*Server, error) {
	e, err := newEndpoint(config, callbacks, "kcp2k-server")
	if err != nil {
		return nil, err
	}
	return &Server{endpoint: e, addr: addr}, nil
}

// Start binds the socket and begins accepting datagrams.
func (s *Server) Start() error {
	if s.sock != nil {
		return ErrAlreadyStarted
	}
	sock, err := transport.Listen(s.transportConfig(), s.addr)
	if err != nil {
		return err
	}
	s.sock = sock
	s.start = s.clock.Now()
	if s.log != nil {
		s.log.Infof("listening on %s", sock.LocalAddr())
	}
	return nil
}

// LocalAddr returns the bound address, or nil before Start.
func (s *Server) LocalAddr() net.Addr {
	if s.sock == nil {
		return nil
	}
	return s.sock.LocalAddr()
}

// Send submits a message to the identified peer.
func (s *Server) Send(connectionID uint64, data []byte, channel message.Channel) error {
	c, ok := s.connections[connectionID]
	if !ok {
		return ErrConnectionNotFound
	}
	return c.Send(data, channel)
}

// CloseConnection disconnects one peer, telling it with a burst of
// Disconnect datagrams. Unknown ids are ignored.
func (s *Server) CloseConnection(connectionID uint64) {
	if c, ok := s.connections[connectionID]; ok {
		c.Disconnect()
	}
}

// Tick advances the server: erase removed peers, drain the socket,
// deliver inbound events, then flush outbound ARQ state. The caller
// determines the pacing.
func (s *Server) Tick() {
	if s.sock == nil {
		return
	}
	s.drainRemovals()
	for {
		d, ok := s.sock.TryRecv()
		if !ok {
			break
		}
		s.handleDatagram(d)
	}
	s.tickIncomingAll()
	s.tickOutgoingAll()
}

// Stop shuts the socket down and clears the peer table. Peers are not
// notified and no events fire.
func (s *Server) Stop() {
	s.stop()
}

func (s *Server) handleDatagram(d transport.Datagram) {
	id := transport.ConnectionHash(d.Addr)
	c, ok := s.connections[id]
	if !ok {
		c = s.createConnection(id, d.Addr)
	}
	c.rawInput(d.Data)
}

func (s *Server) createConnection(id uint64, addr *net.UDPAddr) *Connection {
	cookie := generateCookie()
	c := newConnection(&s.config, &s.callbacks, s.log, id, addr, cookie,
		func(b []byte) error { return s.sock.WriteTo(b, addr) },
		s.elapsed, s.enqueueRemove, false)
	s.connections[id] = c
	if s.log != nil {
		s.log.Debugf("created connection %d for %v with cookie=%x", id, addr, cookie)
	}
	return c
}
