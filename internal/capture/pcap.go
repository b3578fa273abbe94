package capture

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/google/gopacket/pcap"

	"firestige.xyz/meter/internal/config"
	"firestige.xyz/meter/internal/core"
)

// Live captures from a network device through libpcap.
type Live struct {
	cfg  config.CaptureConfig
	opts Options

	device string
	handle *pcap.Handle
	logger *slog.Logger

	received atomic.Uint64
	dropped  atomic.Uint64
	ifDrops  atomic.Uint64
}

func newLive(cfg config.CaptureConfig, opts Options) *Live {
	return &Live{
		cfg:    cfg,
		opts:   opts,
		logger: slog.Default().With("component", "capture", "source", "pcap"),
	}
}

func (c *Live) Name() string { return "pcap" }

// Open activates a pcap handle on the configured device, or on the first
// device with a non-loopback address when none is configured.
func (c *Live) Open() error {
	device := c.cfg.Device
	if device == "" {
		d, err := selectDevice()
		if err != nil {
			return fmt.Errorf("%w: %v", ErrOpen, err)
		}
		device = d
	}

	inactive, err := pcap.NewInactiveHandle(device)
	if err != nil {
		return fmt.Errorf("%w: %s: %v", ErrOpen, device, err)
	}
	defer inactive.CleanUp()

	if err := inactive.SetSnapLen(c.cfg.SnapLen); err != nil {
		return fmt.Errorf("%w: snap_len: %v", ErrOpen, err)
	}
	if err := inactive.SetPromisc(c.cfg.Promisc); err != nil {
		return fmt.Errorf("%w: promisc: %v", ErrOpen, err)
	}
	if err := inactive.SetTimeout(config.Duration(c.opts.Timeout, 100*time.Millisecond)); err != nil {
		return fmt.Errorf("%w: timeout: %v", ErrOpen, err)
	}
	if c.opts.Immediate {
		if err := inactive.SetImmediateMode(true); err != nil {
			c.logger.Warn("immediate mode unavailable", "error", err)
		}
	}

	handle, err := inactive.Activate()
	if err != nil {
		return fmt.Errorf("%w: activate %s: %v", ErrOpen, device, err)
	}
	if err := handle.SetBPFFilter(c.cfg.BPFFilter); err != nil {
		handle.Close()
		return fmt.Errorf("%w: bpf %q: %v", ErrOpen, c.cfg.BPFFilter, err)
	}

	c.device = device
	c.handle = handle
	c.logger.Info("pcap capture opened", "device", device, "filter", c.cfg.BPFFilter)
	return nil
}

// Capture reads packets until ctx is cancelled or the handle fails.
func (c *Live) Capture(ctx context.Context, out chan<- core.RawPacket) error {
	if c.handle == nil {
		return fmt.Errorf("capture: pcap handle not open")
	}
	linkType := uint8(c.handle.LinkType())

	for {
		if ctx.Err() != nil {
			return nil
		}

		data, ci, err := c.handle.ReadPacketData()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			if errors.Is(err, pcap.NextErrorTimeoutExpired) {
				c.updateStats()
				continue
			}
			return fmt.Errorf("pcap read on %s: %w", c.device, err)
		}

		c.received.Add(1)
		pkt := core.RawPacket{
			Data:       data,
			Timestamp:  ci.Timestamp,
			CaptureLen: uint32(ci.CaptureLength),
			OrigLen:    uint32(ci.Length),
			LinkType:   linkType,
		}
		if !send(ctx, out, pkt, func() { c.dropped.Add(1) }) {
			return nil
		}
	}
}

func (c *Live) updateStats() {
	st, err := c.handle.Stats()
	if err != nil {
		return
	}
	c.ifDrops.Store(uint64(st.PacketsIfDropped + st.PacketsDropped))
}

func (c *Live) Close() error {
	if c.handle != nil {
		c.handle.Close()
		c.handle = nil
		c.logger.Info("pcap capture closed", "device", c.device)
	}
	return nil
}

func (c *Live) Stats() Stats {
	return Stats{
		Received: c.received.Load(),
		Dropped:  c.dropped.Load(),
		IfDrops:  c.ifDrops.Load(),
	}
}

func selectDevice() (string, error) {
	devs, err := pcap.FindAllDevs()
	if err != nil {
		return "", fmt.Errorf("list devices: %w", err)
	}
	for _, d := range devs {
		for _, addr := range d.Addresses {
			if addr.IP != nil && !addr.IP.IsLoopback() {
				return d.Name, nil
			}
		}
	}
	return "", fmt.Errorf("no capture device with a non-loopback address")
}
