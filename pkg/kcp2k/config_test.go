package kcp2k

import (
	"errors"
	"testing"
	"time"

	"github.com/xtjsk/kcp2k-go/pkg/kcp"
	"github.com/xtjsk/kcp2k-go/pkg/message"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	if cfg.MTU != 1200 {
		t.Errorf("MTU = %d, want 1200", cfg.MTU)
	}
	if cfg.Interval != 20*time.Millisecond {
		t.Errorf("Interval = %v, want 20ms", cfg.Interval)
	}
	if cfg.SendWindowSize != 32 || cfg.ReceiveWindowSize != 128 {
		t.Errorf("windows = %d/%d, want 32/128", cfg.SendWindowSize, cfg.ReceiveWindowSize)
	}
	if cfg.Timeout != 10*time.Second {
		t.Errorf("Timeout = %v, want 10s", cfg.Timeout)
	}
	if cfg.MaxRetransmits != 20 {
		t.Errorf("MaxRetransmits = %d, want 20", cfg.MaxRetransmits)
	}
	if !cfg.NoDelay || !cfg.ReliablePing || cfg.CongestionWindow {
		t.Error("recommended flags: NoDelay on, ReliablePing on, CongestionWindow off")
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate() error = %v", err)
	}
}

func TestApplyDefaults(t *testing.T) {
	var cfg Config
	cfg.applyDefaults()
	if cfg.MTU != DefaultMTU || cfg.Timeout != DefaultTimeout {
		t.Error("zero fields not defaulted")
	}
	if cfg.Clock == nil {
		t.Error("Clock not defaulted")
	}
}

func TestValidate(t *testing.T) {
	t.Run("tiny MTU", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.MTU = kcp.Overhead
		if err := cfg.Validate(); !errors.Is(err, ErrInvalidConfig) {
			t.Errorf("Validate() error = %v, want ErrInvalidConfig", err)
		}
	})

	t.Run("receive window too small", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.ReceiveWindowSize = 1
		if err := cfg.Validate(); !errors.Is(err, ErrInvalidConfig) {
			t.Errorf("Validate() error = %v, want ErrInvalidConfig", err)
		}
	})
}

func TestMaxMessageSizes(t *testing.T) {
	cfg := DefaultConfig()

	// one datagram: MTU minus channel byte, cookie, and sub-header
	if got, want := cfg.UnreliableMaxMessageSize(), 1200-5-1; got != want {
		t.Errorf("UnreliableMaxMessageSize() = %d, want %d", got, want)
	}

	// a full receive window of maximal fragments minus the sub-header
	want := (1200-kcp.Overhead-message.MetadataSize)*(128-1) - 1
	if got := cfg.ReliableMaxMessageSize(); got != want {
		t.Errorf("ReliableMaxMessageSize() = %d, want %d", got, want)
	}
	if cfg.ReliableMaxMessageSize() <= cfg.UnreliableMaxMessageSize() {
		t.Error("reliable limit should exceed unreliable limit")
	}
}
