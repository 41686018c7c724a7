package kcp2k

import (
	"fmt"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/pion/logging"

	"github.com/xtjsk/kcp2k-go/pkg/kcp"
	"github.com/xtjsk/kcp2k-go/pkg/message"
)

// PingInterval is the protocol constant for keepalive pings.
const PingInterval = 1000 * time.Millisecond

// Default tunables. See Config for what each controls.
const (
	DefaultMTU               = 1200
	DefaultInterval          = 20 * time.Millisecond
	DefaultSendWindowSize    = 32
	DefaultReceiveWindowSize = 128
	DefaultTimeout           = 10000 * time.Millisecond
	DefaultMaxRetransmits    = 20

	// DefaultBufferSize maximizes the shared socket's OS buffers to
	// handle as many connections as possible.
	DefaultBufferSize = 1024 * 1024 * 7
)

// Config holds the endpoint tunables. It is immutable after the
// endpoint is constructed. The zero value of every boolean field means
// disabled; use DefaultConfig for the recommended settings.
type Config struct {
	// DualStack selects an IPv4+IPv6 socket. Not all platforms support
	// dual mode.
	DualStack bool

	// RecvBufferSize and SendBufferSize are OS buffer targets for the
	// single shared socket (default: DefaultBufferSize). If
	// connections drop under heavy load, increase the OS limits.
	RecvBufferSize int
	SendBufferSize int

	// MTU is the maximum UDP payload, configurable so the transport
	// can sit under other abstractions such as relays (default: 1200).
	MTU int

	// NoDelay enables aggressive ARQ retransmission timing.
	// Recommended to reduce latency.
	NoDelay bool

	// Interval is the ARQ internal update interval. Lower than the
	// upstream default of 100ms to reduce latency and support more
	// network entities (default: 20ms). Callers typically Tick at this
	// rate.
	Interval time.Duration

	// FastResend retransmits after this many duplicate acks, trading
	// bandwidth for faster recovery. Zero disables fast resend.
	FastResend int

	// CongestionWindow enables ARQ congestion control. It can
	// significantly increase latency; disabling is recommended.
	CongestionWindow bool

	// SendWindowSize and ReceiveWindowSize are the ARQ window sizes in
	// segments, modifiable to support higher loads (defaults: 32/128).
	SendWindowSize    int
	ReceiveWindowSize int

	// Timeout disconnects a peer after this much silence
	// (default: 10s).
	Timeout time.Duration

	// MaxRetransmits is how many times one segment may be
	// retransmitted before the link counts as dead (default: 20).
	MaxRetransmits uint32

	// ReliablePing routes keepalive pings through the ARQ engine,
	// exercising the reliable path as the liveness probe. When false,
	// pings use the unreliable path and consume no window slots.
	ReliablePing bool

	// Clock is the time source (default: the real clock). Tests
	// substitute a fake clock to drive timeouts deterministically.
	Clock clockwork.Clock

	// LoggerFactory is the factory for creating loggers.
	// If nil, logging is disabled.
	LoggerFactory logging.LoggerFactory
}

// DefaultConfig returns the recommended configuration.
func DefaultConfig() Config {
	return Config{
		RecvBufferSize:    DefaultBufferSize,
		SendBufferSize:    DefaultBufferSize,
		MTU:               DefaultMTU,
		NoDelay:           true,
		Interval:          DefaultInterval,
		SendWindowSize:    DefaultSendWindowSize,
		ReceiveWindowSize: DefaultReceiveWindowSize,
		Timeout:           DefaultTimeout,
		MaxRetransmits:    DefaultMaxRetransmits,
		ReliablePing:      true,
	}
}

// applyDefaults fills in default values for unset fields.
func (c *Config) applyDefaults() {
	if c.RecvBufferSize == 0 {
		c.RecvBufferSize = DefaultBufferSize
	}
	if c.SendBufferSize == 0 {
		c.SendBufferSize = DefaultBufferSize
	}
	if c.MTU == 0 {
		c.MTU = DefaultMTU
	}
	if c.Interval == 0 {
		c.Interval = DefaultInterval
	}
	if c.SendWindowSize == 0 {
		c.SendWindowSize = DefaultSendWindowSize
	}
	if c.ReceiveWindowSize == 0 {
		c.ReceiveWindowSize = DefaultReceiveWindowSize
	}
	if c.Timeout == 0 {
		c.Timeout = DefaultTimeout
	}
	if c.MaxRetransmits == 0 {
		c.MaxRetransmits = DefaultMaxRetransmits
	}
	if c.Clock == nil {
		c.Clock = clockwork.NewRealClock()
	}
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	if c.MTU <= kcp.Overhead+message.MetadataSize {
		return fmt.Errorf("%w: MTU %d cannot carry a segment", ErrInvalidConfig, c.MTU)
	}
	if c.SendWindowSize < 0 || c.ReceiveWindowSize < 2 {
		return fmt.Errorf("%w: window sizes %d/%d", ErrInvalidConfig, c.SendWindowSize, c.ReceiveWindowSize)
	}
	if c.Timeout < 0 || c.Interval < 0 {
		return fmt.Errorf("%w: negative duration", ErrInvalidConfig)
	}
	return nil
}

// ReliableMaxMessageSize is the largest payload accepted on the
// reliable channel: a full receive window of maximal fragments, minus
// the sub-header.
func (c *Config) ReliableMaxMessageSize() int {
	return (c.MTU-kcp.Overhead-message.MetadataSize)*(c.ReceiveWindowSize-1) - message.SubHeaderSize
}

// UnreliableMaxMessageSize is the largest payload accepted on the
// unreliable channel: one datagram minus framing and sub-header.
func (c *Config) UnreliableMaxMessageSize() int {
	return c.MTU - message.MetadataSize - message.SubHeaderSize
}
