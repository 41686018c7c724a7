package kcp2k

import (
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/pion/logging"

	"github.com/xtjsk/kcp2k-go/pkg/transport"
)

// endpoint is the state shared by both roles: the single UDP socket,
// the peer table, the deferred removal queue, and the time origin.
//
// An endpoint is a single-threaded domain: Tick, Send, and the
// callbacks they fire all run on the caller's goroutine.
type endpoint struct {
	config    Config
	callbacks Callbacks
	log       logging.LeveledLogger
	clock     clockwork.Clock

	sock  *transport.UDP
	start time.Time

	connections map[uint64]*Connection

	// removeQueue defers peer-table erasure to the start of the next
	// tick so iteration during a tick runs against a stable table.
	removeQueue []uint64
}

func newEndpoint(config Config, callbacks Callbacks, scope string) (endpoint, error) {
	config.applyDefaults()
	if err := config.Validate(); err != nil {
		return endpoint{}, err
	}
	e := endpoint{
		config:      config,
		callbacks:   callbacks,
		clock:       config.Clock,
		connections: make(map[uint64]*Connection),
	}
	if config.LoggerFactory != nil {
		e.log = config.LoggerFactory.NewLogger(scope)
	}
	return e, nil
}

func (e *endpoint) transportConfig() transport.Config {
	return transport.Config{
		DualStack:      e.config.DualStack,
		RecvBufferSize: e.config.RecvBufferSize,
		SendBufferSize: e.config.SendBufferSize,
		MTU:            e.config.MTU,
		LoggerFactory:  e.config.LoggerFactory,
	}
}

// elapsed is the monotonic duration since the endpoint started. All
// per-connection timers are expressed in this clock.
func (e *endpoint) elapsed() time.Duration {
	return e.clock.Now().Sub(e.start)
}

func (e *endpoint) enqueueRemove(id uint64) {
	e.removeQueue = append(e.removeQueue, id)
}

func (e *endpoint) drainRemovals() {
	for _, id := range e.removeQueue {
		delete(e.connections, id)
	}
	e.removeQueue = e.removeQueue[:0]
}

func (e *endpoint) tickIncomingAll() {
	for _, c := range e.connections {
		c.tickIncoming()
	}
}

func (e *endpoint) tickOutgoingAll() {
	now := e.elapsed()
	for _, c := range e.connections {
		c.tickOutgoing(now)
	}
}

// Connections returns a snapshot of the peer table.
func (e *endpoint) Connections() map[uint64]*Connection {
	out := make(map[uint64]*Connection, len(e.connections))
	for id, c := range e.connections {
		out[id] = c
	}
	return out
}

// RemoteAddr returns the remote address of a connection, or the empty
// string when the id is unknown.
func (e *endpoint) RemoteAddr(id uint64) string {
	if c, ok := e.connections[id]; ok {
		return c.RemoteAddr().String()
	}
	return ""
}

// stop shuts the socket down and clears the peer table without
// emitting synthetic disconnect events.
func (e *endpoint) stop() {
	if e.sock == nil {
		return
	}
	_ = e.sock.Close()
	e.sock = nil
	e.connections = make(map[uint64]*Connection)
	e.removeQueue = e.removeQueue[:0]
}
