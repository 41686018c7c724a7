package kcp2k

import (
	"net"
	"time"

	"github.com/xtjsk/kcp2k-go/pkg/kcp"
	"github.com/xtjsk/kcp2k-go/pkg/message"
)

// recorder captures callback invocations. Endpoints fire callbacks
// synchronously from the test goroutine, so no locking is needed.
type recorder struct {
	connected    []uint64
	data         []dataEvent
	disconnected []uint64
	errs         []errorEvent
}

type dataEvent struct {
	id      uint64
	data    []byte
	channel message.Channel
}

type errorEvent struct {
	id   uint64
	code ErrorCode
	msg  string
}

func (r *recorder) callbacks() Callbacks {
	return Callbacks{
		OnConnected: func(id uint64) {
			r.connected = append(r.connected, id)
		},
		OnData: func(id uint64, data []byte, channel message.Channel) {
			r.data = append(r.data, dataEvent{id, data, channel})
		},
		OnDisconnected: func(id uint64) {
			r.disconnected = append(r.disconnected, id)
		},
		OnError: func(id uint64, code ErrorCode, msg string) {
			r.errs = append(r.errs, errorEvent{id, code, msg})
		},
	}
}

func (r *recorder) eventCount() int {
	return len(r.connected) + len(r.data) + len(r.disconnected) + len(r.errs)
}

// connHarness drives a single Connection without sockets: the sink
// captures framed datagrams, time is advanced by hand.
type connHarness struct {
	conn    *Connection
	rec     *recorder
	cbs     Callbacks
	now     time.Duration
	sent    [][]byte
	removed []uint64
}

const harnessID = 42

var harnessCookie = message.Cookie{1, 2, 3, 4}

func newConnHarness(cfg Config, client bool) *connHarness {
	cfg.applyDefaults()
	h := &connHarness{rec: &recorder{}}
	h.cbs = h.rec.callbacks()
	addr := &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 9}
	h.conn = newConnection(&cfg, &h.cbs, nil, harnessID, addr, harnessCookie,
		func(b []byte) error {
			h.sent = append(h.sent, append([]byte(nil), b...))
			return nil
		},
		func() time.Duration { return h.now },
		func(id uint64) { h.removed = append(h.removed, id) },
		client)
	return h
}

// tick advances time by the configured interval and runs one full
// incoming+outgoing cycle.
func (h *connHarness) tick() {
	h.now += 20 * time.Millisecond
	h.conn.tickIncoming()
	h.conn.tickOutgoing(h.now)
}

// sentWithHeader counts captured unreliable datagrams with the given
// sub-header.
func (h *connHarness) sentWithHeader(header message.UnreliableHeader) int {
	n := 0
	for _, frame := range h.sent {
		if frame[0] == byte(message.ChannelUnreliable) && frame[message.MetadataSize] == byte(header) {
			n++
		}
	}
	return n
}

// remotePeer emulates the other side's ARQ engine so tests can craft
// valid reliable traffic for a Connection.
type remotePeer struct {
	k   *kcp.KCP
	out [][]byte
	now uint32
}

func newRemotePeer() *remotePeer {
	r := &remotePeer{}
	r.k = kcp.NewKCP(0, func(buf []byte) {
		r.out = append(r.out, append([]byte(nil), buf...))
	})
	r.k.NoDelay(1, 10, 0, 1)
	r.k.WndSize(32, 128)
	r.k.SetMtu(DefaultMTU - message.MetadataSize)
	return r
}

// reliableFrames encodes one reliable message and returns the framed
// datagrams carrying it (including any retransmissions of earlier
// messages, which receivers dedupe).
func (r *remotePeer) reliableFrames(cookie message.Cookie, header message.ReliableHeader, data []byte) [][]byte {
	r.k.Send(message.WrapReliablePayload(header, data))
	r.now += 20
	r.k.Update(r.now)
	frames := make([][]byte, 0, len(r.out))
	for _, seg := range r.out {
		frames = append(frames, message.WrapReliable(cookie, seg))
	}
	r.out = nil
	return frames
}

func (h *connHarness) feedReliable(r *remotePeer, header message.ReliableHeader, data []byte) {
	for _, frame := range r.reliableFrames(harnessCookie, header, data) {
		h.conn.rawInput(frame)
	}
}
