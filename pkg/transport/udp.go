// Package transport provides the UDP socket shared by all connections
// of an endpoint: socket construction for both roles, OS buffer sizing,
// and a receive queue that lets the owner drain datagrams from its tick
// loop without ever blocking on the socket.
package transport

import (
	"fmt"
	"net"
	"sync"

	"github.com/pion/logging"
)

const (
	// DefaultQueueSize is the receive queue capacity in datagrams.
	DefaultQueueSize = 512

	// DefaultMTU bounds the size of a single received datagram.
	DefaultMTU = 1200
)

// Config configures the UDP socket for either role.
type Config struct {
	// DualStack selects an IPv4+IPv6 socket instead of IPv4 only.
	DualStack bool

	// RecvBufferSize and SendBufferSize are the OS buffer targets in
	// bytes. Zero leaves the OS defaults in place.
	RecvBufferSize int
	SendBufferSize int

	// MTU bounds the size of a received datagram. Defaults to
	// DefaultMTU.
	MTU int

	// QueueSize is the receive queue capacity in datagrams. Defaults
	// to DefaultQueueSize.
	QueueSize int

	// LoggerFactory is the factory for creating loggers.
	// If nil, logging is disabled.
	LoggerFactory logging.LoggerFactory
}

func (c *Config) applyDefaults() {
	if c.MTU == 0 {
		c.MTU = DefaultMTU
	}
	if c.QueueSize == 0 {
		c.QueueSize = DefaultQueueSize
	}
}

func (c *Config) network() string {
	if c.DualStack {
		return "udp"
	}
	return "udp4"
}

// Datagram is one received UDP payload. Data is owned by the receiver.
type Datagram struct {
	Data []byte
	Addr *net.UDPAddr
}

// UDP wraps a single UDP socket. A read goroutine moves datagrams from
// the socket into a bounded queue; the owner drains the queue with
// TryRecv from its own thread. Writes happen directly on the caller's
// thread.
type UDP struct {
	conn    *net.UDPConn
	queue   chan Datagram
	closeCh chan struct{}
	wg      sync.WaitGroup
	log     logging.LeveledLogger
	mtu     int

	mu     sync.Mutex
	closed bool
}

// Listen creates a server socket bound to addr.
func Listen(config Config, addr string) (*UDP, error) {
	config.applyDefaults()
	local, err := net.ResolveUDPAddr(config.network(), addr)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrResolve, err)
	}
	conn, err := net.ListenUDP(config.network(), local)
	if err != nil {
		return nil, err
	}
	return newUDP(config, conn, "transport-udp-server"), nil
}

// Dial creates a client socket connected to the remote address. The
// socket only exchanges datagrams with that remote.
func Dial(config Config, remote string) (*UDP, error) {
	config.applyDefaults()
	remoteAddr, err := net.ResolveUDPAddr(config.network(), remote)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrResolve, err)
	}
	conn, err := net.DialUDP(config.network(), nil, remoteAddr)
	if err != nil {
		return nil, err
	}
	return newUDP(config, conn, "transport-udp-client"), nil
}

func newUDP(config Config, conn *net.UDPConn, scope string) *UDP {
	u := &UDP{
		conn:    conn,
		queue:   make(chan Datagram, config.QueueSize),
		closeCh: make(chan struct{}),
		mtu:     config.MTU,
	}
	if config.LoggerFactory != nil {
		u.log = config.LoggerFactory.NewLogger(scope)
	}

	u.configureBuffers(config.RecvBufferSize, config.SendBufferSize)

	u.wg.Add(1)
	go u.readLoop()
	return u
}

// configureBuffers applies the OS buffer targets and logs the initial
// and applied sizes. The OS may clamp the request; if connections drop
// under load, raise the OS limits rather than the targets.
func (u *UDP) configureBuffers(recvSize, sendSize int) {
	if recvSize == 0 && sendSize == 0 {
		return
	}
	initialRecv, initialSend := socketBufferSizes(u.conn)

	if recvSize > 0 {
		if err := u.conn.SetReadBuffer(recvSize); err != nil && u.log != nil {
			u.log.Warnf("SetReadBuffer(%d) failed: %v", recvSize, err)
		}
	}
	if sendSize > 0 {
		if err := u.conn.SetWriteBuffer(sendSize); err != nil && u.log != nil {
			u.log.Warnf("SetWriteBuffer(%d) failed: %v", sendSize, err)
		}
	}

	if u.log != nil {
		appliedRecv, appliedSend := socketBufferSizes(u.conn)
		u.log.Infof("RecvBuf = %d=>%d (requested %d) SendBuf = %d=>%d (requested %d)",
			initialRecv, appliedRecv, recvSize,
			initialSend, appliedSend, sendSize)
	}
}

// TryRecv returns the next queued datagram without blocking.
func (u *UDP) TryRecv() (Datagram, bool) {
	select {
	case d := <-u.queue:
		return d, true
	default:
		return Datagram{}, false
	}
}

// WriteTo sends a datagram to the given remote. Only valid on a
// listening socket.
func (u *UDP) WriteTo(b []byte, addr *net.UDPAddr) error {
	_, err := u.conn.WriteToUDP(b, addr)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrSendFailed, err)
	}
	return nil
}

// Write sends a datagram to the connected remote. Only valid on a
// dialed socket.
func (u *UDP) Write(b []byte) error {
	_, err := u.conn.Write(b)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrSendFailed, err)
	}
	return nil
}

// LocalAddr returns the local address of the socket.
func (u *UDP) LocalAddr() net.Addr {
	return u.conn.LocalAddr()
}

// RemoteAddr returns the connected remote address, or nil for a
// listening socket.
func (u *UDP) RemoteAddr() net.Addr {
	return u.conn.RemoteAddr()
}

// Close shuts the socket down and joins the read loop. Queued
// datagrams are discarded.
func (u *UDP) Close() error {
	u.mu.Lock()
	if u.closed {
		u.mu.Unlock()
		return ErrClosed
	}
	u.closed = true
	u.mu.Unlock()

	close(u.closeCh)
	err := u.conn.Close()
	u.wg.Wait()
	return err
}

func (u *UDP) readLoop() {
	defer u.wg.Done()

	buf := make([]byte, u.mtu)
	for {
		n, addr, err := u.conn.ReadFromUDP(buf)
		if err != nil {
			select {
			case <-u.closeCh:
				return
			default:
			}
			// Transient errors (e.g. ECONNREFUSED bounced back on a
			// connected socket) must not kill the loop.
			if u.log != nil {
				u.log.Warnf("read failed: %v", err)
			}
			continue
		}
		// zero-length datagrams are queued too; the owner classifies
		// them like any other invalid frame
		data := make([]byte, n)
		copy(data, buf[:n])

		select {
		case u.queue <- Datagram{Data: data, Addr: addr}:
		case <-u.closeCh:
			return
		}
	}
}
