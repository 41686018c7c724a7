package kcp2k

import (
	"bytes"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/pion/transport/v3/test"

	"github.com/xtjsk/kcp2k-go/pkg/kcp"
	"github.com/xtjsk/kcp2k-go/pkg/message"
)

// pair runs a server and a client against each other over loopback.
// Both share one fake clock so liveness behavior is deterministic; the
// sockets are real.
type pair struct {
	t      *testing.T
	fc     *clockwork.FakeClock
	server *Server
	client *Client
	srec   *recorder
	crec   *recorder
}

func newPair(t *testing.T, serverCfg, clientCfg Config) *pair {
	t.Helper()

	p := &pair{
		t:    t,
		fc:   clockwork.NewFakeClock(),
		srec: &recorder{},
		crec: &recorder{},
	}
	serverCfg.Clock = p.fc
	clientCfg.Clock = p.fc

	server, err := NewServer(serverCfg, "127.0.0.1:0", p.srec.callbacks())
	if err != nil {
		t.Fatalf("NewServer() error = %v", err)
	}
	if err := server.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	p.server = server
	t.Cleanup(server.Stop)

	client, err := NewClient(clientCfg, server.LocalAddr().String(), p.crec.callbacks())
	if err != nil {
		t.Fatalf("NewClient() error = %v", err)
	}
	if err := client.Connect(); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	p.client = client
	t.Cleanup(client.Stop)

	return p
}

// tick advances the shared clock by one interval and ticks both
// endpoints, with small real-time pauses for loopback delivery.
func (p *pair) tick() {
	p.fc.Advance(DefaultInterval)
	p.client.Tick()
	time.Sleep(time.Millisecond)
	p.server.Tick()
	time.Sleep(time.Millisecond)
}

// tickClientOnly advances the clock but only the client processes it.
func (p *pair) tickClientOnly() {
	p.fc.Advance(DefaultInterval)
	p.client.Tick()
	time.Sleep(time.Millisecond)
}

func (p *pair) tickUntil(maxTicks int, cond func() bool) {
	p.t.Helper()
	for i := 0; i < maxTicks; i++ {
		if cond() {
			return
		}
		p.tick()
	}
	if !cond() {
		p.t.Fatalf("condition not reached within %d ticks", maxTicks)
	}
}

// handshake drives both sides until each observed OnConnected.
func (p *pair) handshake() {
	p.t.Helper()
	p.tickUntil(100, func() bool {
		return len(p.srec.connected) == 1 && len(p.crec.connected) == 1
	})
}

func TestE2EHandshake(t *testing.T) {
	p := newPair(t, DefaultConfig(), DefaultConfig())
	p.handshake()

	// settle a few more ticks: the handshake must not repeat
	for i := 0; i < 10; i++ {
		p.tick()
	}

	if len(p.srec.connected) != 1 {
		t.Errorf("server connected events = %d, want 1", len(p.srec.connected))
	}
	if len(p.crec.connected) != 1 {
		t.Errorf("client connected events = %d, want 1", len(p.crec.connected))
	}
	if len(p.srec.data) != 0 || len(p.crec.data) != 0 {
		t.Error("data events during handshake")
	}
	if len(p.srec.errs) != 0 || len(p.crec.errs) != 0 {
		t.Errorf("errors during handshake: server=%v client=%v", p.srec.errs, p.crec.errs)
	}

	// the client rekeyed onto the hash of the server's address
	if p.crec.connected[0] != p.client.currentID {
		t.Error("client connected event does not carry the current id")
	}
}

func TestE2EReliableEcho(t *testing.T) {
	p := newPair(t, DefaultConfig(), DefaultConfig())
	p.handshake()

	payload := []byte{0x01, 0x02}
	if err := p.client.Send(payload, message.ChannelReliable); err != nil {
		t.Fatalf("client Send() error = %v", err)
	}
	p.tickUntil(100, func() bool { return len(p.srec.data) == 1 })

	got := p.srec.data[0]
	if got.channel != message.ChannelReliable || !bytes.Equal(got.data, payload) {
		t.Fatalf("server data = %+v, want reliable %v", got, payload)
	}

	// echo back to the same peer
	if err := p.server.Send(got.id, got.data, message.ChannelReliable); err != nil {
		t.Fatalf("server Send() error = %v", err)
	}
	p.tickUntil(100, func() bool { return len(p.crec.data) == 1 })

	echo := p.crec.data[0]
	if echo.channel != message.ChannelReliable || !bytes.Equal(echo.data, payload) {
		t.Fatalf("client data = %+v, want reliable %v", echo, payload)
	}
}

func TestE2EUnreliableOneShot(t *testing.T) {
	p := newPair(t, DefaultConfig(), DefaultConfig())
	p.handshake()

	id := p.srec.connected[0]
	if err := p.server.Send(id, []byte{0x03, 0x04}, message.ChannelUnreliable); err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	p.tickUntil(10, func() bool { return len(p.crec.data) == 1 })

	got := p.crec.data[0]
	if got.channel != message.ChannelUnreliable || !bytes.Equal(got.data, []byte{0x03, 0x04}) {
		t.Fatalf("data = %+v, want unreliable [3 4]", got)
	}

	for i := 0; i < 10; i++ {
		p.tick()
	}
	if len(p.crec.data) != 1 {
		t.Errorf("data events = %d, want exactly 1", len(p.crec.data))
	}
}

func TestE2EReliableOrdering(t *testing.T) {
	p := newPair(t, DefaultConfig(), DefaultConfig())
	p.handshake()

	const count = 10
	for i := 0; i < count; i++ {
		if err := p.client.Send([]byte{byte(i)}, message.ChannelReliable); err != nil {
			t.Fatalf("Send(%d) error = %v", i, err)
		}
	}
	p.tickUntil(200, func() bool { return len(p.srec.data) == count })

	for i, ev := range p.srec.data {
		if len(ev.data) != 1 || ev.data[0] != byte(i) {
			t.Fatalf("message %d = %v, delivery out of order", i, ev.data)
		}
	}
}

func TestE2ELargeReliableMessage(t *testing.T) {
	p := newPair(t, DefaultConfig(), DefaultConfig())
	p.handshake()

	// spans several fragments
	payload := make([]byte, 8000)
	for i := range payload {
		payload[i] = byte(i * 31)
	}
	if err := p.client.Send(payload, message.ChannelReliable); err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	p.tickUntil(300, func() bool { return len(p.srec.data) == 1 })

	if !bytes.Equal(p.srec.data[0].data, payload) {
		t.Fatal("large message arrived corrupted")
	}
}

func TestE2ESpoofRejection(t *testing.T) {
	p := newPair(t, DefaultConfig(), DefaultConfig())
	p.handshake()

	// a datagram "from the server's address" with a zeroed cookie and
	// an otherwise valid reliable Hello body
	remote := newRemotePeer()
	frames := remote.reliableFrames(message.Cookie{0, 0, 0, 0}, message.ReliableHello, nil)
	if len(frames) == 0 {
		t.Fatal("no spoof frame produced")
	}

	conn := p.client.connections[p.client.currentID]
	stateBefore := conn.State()
	conn.rawInput(frames[0])

	if conn.State() != stateBefore {
		t.Errorf("state changed from %v to %v", stateBefore, conn.State())
	}
	if len(p.crec.errs) != 1 || p.crec.errs[0].code != ErrorInvalidReceive {
		t.Errorf("errors = %v, want one InvalidReceive", p.crec.errs)
	}
	if len(p.crec.connected) != 1 {
		t.Errorf("connected events = %d, the handshake must not repeat", len(p.crec.connected))
	}
	if len(p.crec.disconnected) != 0 {
		t.Errorf("disconnected events = %v, want none", p.crec.disconnected)
	}
}

func TestE2ETimeout(t *testing.T) {
	clientCfg := DefaultConfig()
	clientCfg.Timeout = 500 * time.Millisecond
	p := newPair(t, DefaultConfig(), clientCfg)
	p.handshake()

	// the server goes silent: only the client keeps ticking
	for i := 0; i < 50 && len(p.crec.disconnected) == 0; i++ {
		p.tickClientOnly()
	}

	if len(p.crec.errs) != 1 || p.crec.errs[0].code != ErrorTimeout {
		t.Fatalf("errors = %v, want one Timeout", p.crec.errs)
	}
	if len(p.crec.disconnected) != 1 {
		t.Fatalf("disconnected = %v, want one event", p.crec.disconnected)
	}

	// terminal: further ticks emit nothing
	before := p.crec.eventCount()
	for i := 0; i < 10; i++ {
		p.tickClientOnly()
	}
	if p.crec.eventCount() != before {
		t.Errorf("events after disconnect: %+v", p.crec)
	}
}

func TestE2EExplicitDisconnect(t *testing.T) {
	p := newPair(t, DefaultConfig(), DefaultConfig())
	p.handshake()

	id := p.srec.connected[0]
	p.server.CloseConnection(id)

	p.tickUntil(10, func() bool { return len(p.crec.disconnected) == 1 })

	if len(p.srec.disconnected) == 0 {
		t.Error("server did not observe its own close")
	}
	if p.crec.disconnected[0] != p.client.currentID {
		t.Error("client disconnected event carries the wrong id")
	}
}

func TestE2EReliablePingKeepsAlive(t *testing.T) {
	serverCfg := DefaultConfig()
	clientCfg := DefaultConfig()
	serverCfg.Timeout = 3 * time.Second
	clientCfg.Timeout = 3 * time.Second
	p := newPair(t, serverCfg, clientCfg)
	p.handshake()

	// tick well past the timeout; pings must keep both sides alive
	for i := 0; i < 250; i++ {
		p.tick()
	}
	if len(p.srec.disconnected) != 0 || len(p.crec.disconnected) != 0 {
		t.Fatalf("idle connection dropped despite pings: server=%v client=%v",
			p.srec.disconnected, p.crec.disconnected)
	}
}

func TestE2EShutdownLeaksNothing(t *testing.T) {
	report := test.CheckRoutines(t)
	defer report()

	p := newPair(t, DefaultConfig(), DefaultConfig())
	p.handshake()

	// explicit stops; the pair's deferred cleanups become no-ops
	p.client.Stop()
	p.server.Stop()
}

// TestE2EHelloDetection covers the client's handshake detector against
// the exact first datagram a server produces: the acknowledgement of
// the client's Hello rides in front of the server's Hello segment.
func TestE2EHelloDetection(t *testing.T) {
	ack := make([]byte, kcp.Overhead)
	ack[4] = 82 // ack command, zero-length body
	remote := newRemotePeer()
	frames := remote.reliableFrames(message.Cookie{5, 5, 5, 5}, message.ReliableHello, nil)
	combined := append(append([]byte{}, frames[0][:message.MetadataSize]...),
		append(ack, frames[0][message.MetadataSize:]...)...)

	if b, ok := kcp.FirstPushByte(combined[message.MetadataSize:]); !ok || b != byte(message.ReliableHello) {
		t.Fatalf("FirstPushByte() = %d, %v; ack-prefixed Hello not detected", b, ok)
	}
}
