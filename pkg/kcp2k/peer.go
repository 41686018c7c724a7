package kcp2k

import (
	"crypto/rand"
	"encoding/binary"
	"time"

	"github.com/xtjsk/kcp2k-go/pkg/kcp"
	"github.com/xtjsk/kcp2k-go/pkg/message"
)

// peer bundles the per-connection transport state: the anti-spoofing
// cookie, the handshake state, the owned ARQ engine, and the liveness
// stamps. The cookie is immutable for the peer's lifetime; adopting a
// new cookie means building a new peer.
type peer struct {
	cookie message.Cookie
	state  ConnectionState
	kcp    *kcp.KCP

	lastRecv time.Duration
	lastPing time.Duration
}

// newPeer creates the ARQ engine for one connection. Engine output is
// framed as [Reliable][cookie][segments] and handed to sink. The MTU
// handed to the engine reserves the framing bytes, so wrapped datagrams
// never exceed the configured MTU.
func newPeer(config *Config, cookie message.Cookie, now time.Duration, sink func([]byte) error) *peer {
	p := &peer{
		cookie:   cookie,
		state:    StateConnected,
		lastRecv: now,
	}
	p.kcp = kcp.NewKCP(0, func(buf []byte) {
		_ = sink(message.WrapReliable(cookie, buf))
	})

	nodelay := 0
	if config.NoDelay {
		nodelay = 1
	}
	// the engine calls this flag 'nocwnd', so the setting is negated
	nc := 1
	if config.CongestionWindow {
		nc = 0
	}
	p.kcp.NoDelay(nodelay, int(config.Interval.Milliseconds()), config.FastResend, nc)
	p.kcp.WndSize(config.SendWindowSize, config.ReceiveWindowSize)
	p.kcp.SetMtu(config.MTU - message.MetadataSize)
	p.kcp.SetMaxRetransmits(config.MaxRetransmits)
	return p
}

// generateCookie draws the 4-byte anti-spoofing token for a new peer.
func generateCookie() message.Cookie {
	var c message.Cookie
	_, _ = rand.Read(c[:])
	return c
}

// randomID draws the placeholder connection id a client uses until the
// server's address is validated by its Hello.
func randomID() uint64 {
	var b [8]byte
	_, _ = rand.Read(b[:])
	return binary.LittleEndian.Uint64(b[:])
}
