// Package capture reads raw link-layer packets from the OS or a capture file.
package capture

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/mitchellh/mapstructure"

	"firestige.xyz/meter/internal/config"
	"firestige.xyz/meter/internal/core"
)

const (
	// DefaultBPFFilter keeps IP/TCP and drops loopback traffic.
	DefaultBPFFilter = "not host 127.0.0.1 and ip and tcp"

	defaultSnapLen = 65535
)

var (
	// ErrOpen wraps every failure to open a capture handle.
	ErrOpen = errors.New("capture: open failed")
	// ErrExhausted is returned by sources that reached their end.
	ErrExhausted = errors.New("capture: source exhausted")
)

// Capturer produces raw packets.
//
// Open acquires the handle, Capture blocks reading packets into out until ctx
// is cancelled or the handle fails, and Close releases the handle completely.
// A Capturer may be reopened after Close.
type Capturer interface {
	Name() string
	Open() error
	Capture(ctx context.Context, out chan<- core.RawPacket) error
	Close() error
	Stats() Stats
}

// Finite is implemented by sources that end on their own. Their open errors
// are returned instead of retried.
type Finite interface {
	Finite() bool
}

func isFinite(c Capturer) bool {
	f, ok := c.(Finite)
	return ok && f.Finite()
}

// Stats are capture counters.
type Stats struct {
	Received uint64 `json:"received"`
	Dropped  uint64 `json:"dropped"` // Dropped before the processing loop
	IfDrops  uint64 `json:"if_dropped"`
}

// Options are source specific settings read from capture.options.
type Options struct {
	RingBufferMB int    `mapstructure:"ring_buffer_mb"` // afpacket
	FanoutID     int    `mapstructure:"fanout_id"`      // afpacket, 0 = no fanout
	FanoutType   string `mapstructure:"fanout_type"`    // afpacket: only hash in gopacket v1.1.19
	Timeout      string `mapstructure:"timeout"`        // pcap read timeout
	Immediate    bool   `mapstructure:"immediate"`      // pcap immediate mode
}

// DecodeOptions decodes the capture.options map.
func DecodeOptions(raw map[string]any) (Options, error) {
	opts := Options{RingBufferMB: 16, Timeout: "100ms", Immediate: true}
	if len(raw) == 0 {
		return opts, nil
	}
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           &opts,
		WeaklyTypedInput: true,
		ErrorUnused:      true,
	})
	if err != nil {
		return opts, err
	}
	if err := dec.Decode(raw); err != nil {
		return opts, fmt.Errorf("capture options: %w", err)
	}
	return opts, nil
}

// New builds the capturer selected by cfg.Source.
func New(cfg config.CaptureConfig) (Capturer, error) {
	opts, err := DecodeOptions(cfg.Options)
	if err != nil {
		return nil, err
	}
	if cfg.SnapLen <= 0 {
		cfg.SnapLen = defaultSnapLen
	}
	if cfg.BPFFilter == "" {
		cfg.BPFFilter = DefaultBPFFilter
	}

	switch strings.ToLower(cfg.Source) {
	case "", "pcap":
		return newLive(cfg, opts), nil
	case "afpacket":
		return newAFPacket(cfg, opts)
	case "file":
		if cfg.File == "" {
			return nil, fmt.Errorf("capture: file is required for source=file")
		}
		return NewFile(cfg.File, cfg.BPFFilter), nil
	default:
		return nil, fmt.Errorf("capture: unknown source %q", cfg.Source)
	}
}

// send hands pkt to out without blocking. It reports false when ctx ended.
func send(ctx context.Context, out chan<- core.RawPacket, pkt core.RawPacket, dropped func()) bool {
	select {
	case out <- pkt:
		return true
	case <-ctx.Done():
		return false
	default:
		dropped()
		return true
	}
}
