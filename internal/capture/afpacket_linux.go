package capture

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync/atomic"
	"time"

	"github.com/google/gopacket/afpacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcap"
	"golang.org/x/net/bpf"

	"firestige.xyz/meter/internal/config"
	"firestige.xyz/meter/internal/core"
)

// AFPacket captures through a TPACKET_V3 mmap ring.
type AFPacket struct {
	cfg  config.CaptureConfig
	opts Options

	frameSize int
	blockSize int
	numBlocks int

	handle *afpacket.TPacket
	logger *slog.Logger

	received atomic.Uint64
	dropped  atomic.Uint64
	ifDrops  atomic.Uint64
}

func newAFPacket(cfg config.CaptureConfig, opts Options) (Capturer, error) {
	frameSize, blockSize, numBlocks, err := ringLayout(opts.RingBufferMB, cfg.SnapLen, os.Getpagesize())
	if err != nil {
		return nil, fmt.Errorf("afpacket: %w", err)
	}
	if _, err := parseFanoutType(opts.FanoutType); err != nil {
		return nil, err
	}
	return &AFPacket{
		cfg:       cfg,
		opts:      opts,
		frameSize: frameSize,
		blockSize: blockSize,
		numBlocks: numBlocks,
		logger:    slog.Default().With("component", "capture", "source", "afpacket"),
	}, nil
}

func (c *AFPacket) Name() string { return "afpacket" }

// Open creates the TPacket handle and applies fanout and the BPF filter.
func (c *AFPacket) Open() error {
	opts := []interface{}{
		afpacket.OptFrameSize(c.frameSize),
		afpacket.OptBlockSize(c.blockSize),
		afpacket.OptNumBlocks(c.numBlocks),
		afpacket.OptPollTimeout(100 * time.Millisecond),
		afpacket.OptTPacketVersion(afpacket.TPacketVersion3),
	}
	if c.cfg.Device != "" {
		opts = append(opts, afpacket.OptInterface(c.cfg.Device))
	}

	handle, err := afpacket.NewTPacket(opts...)
	if err != nil {
		return fmt.Errorf("%w: tpacket: %v", ErrOpen, err)
	}

	if c.opts.FanoutID != 0 {
		fanout, _ := parseFanoutType(c.opts.FanoutType)
		if err := handle.SetFanout(fanout, uint16(c.opts.FanoutID)); err != nil {
			handle.Close()
			return fmt.Errorf("%w: fanout: %v", ErrOpen, err)
		}
	}

	if c.cfg.BPFFilter != "" {
		insns, err := compileBPF(c.cfg.BPFFilter, c.cfg.SnapLen)
		if err != nil {
			handle.Close()
			return fmt.Errorf("%w: %v", ErrOpen, err)
		}
		if err := handle.SetBPF(insns); err != nil {
			handle.Close()
			return fmt.Errorf("%w: set bpf: %v", ErrOpen, err)
		}
	}

	if err := handle.InitSocketStats(); err != nil {
		c.logger.Warn("failed to init socket stats", "error", err)
	}

	c.handle = handle
	c.logger.Info("afpacket capture opened",
		"interface", c.cfg.Device,
		"frame_size", c.frameSize,
		"block_size", c.blockSize,
		"num_blocks", c.numBlocks,
		"fanout_id", c.opts.FanoutID)
	return nil
}

// Capture reads the ring directly with ZeroCopyReadPacketData. The handle is
// only closed by Close after Capture returned, so no read races the unmap.
func (c *AFPacket) Capture(ctx context.Context, out chan<- core.RawPacket) error {
	if c.handle == nil {
		return fmt.Errorf("capture: afpacket handle not open")
	}

	for {
		if ctx.Err() != nil {
			return nil
		}

		data, ci, err := c.handle.ZeroCopyReadPacketData()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			if err == afpacket.ErrTimeout || err == afpacket.ErrPoll {
				continue
			}
			return fmt.Errorf("afpacket read: %w", err)
		}

		c.received.Add(1)
		if _, v3, err := c.handle.SocketStats(); err == nil {
			c.ifDrops.Store(uint64(v3.Drops()))
		}

		// ring memory is reused by the next read
		buf := make([]byte, len(data))
		copy(buf, data)

		pkt := core.RawPacket{
			Data:       buf,
			Timestamp:  ci.Timestamp,
			CaptureLen: uint32(ci.CaptureLength),
			OrigLen:    uint32(ci.Length),
			LinkType:   uint8(layers.LinkTypeEthernet),
		}
		if !send(ctx, out, pkt, func() { c.dropped.Add(1) }) {
			return nil
		}
	}
}

func (c *AFPacket) Close() error {
	if c.handle != nil {
		c.handle.Close()
		c.handle = nil
		c.logger.Info("afpacket capture closed", "interface", c.cfg.Device)
	}
	return nil
}

func (c *AFPacket) Stats() Stats {
	return Stats{
		Received: c.received.Load(),
		Dropped:  c.dropped.Load(),
		IfDrops:  c.ifDrops.Load(),
	}
}

func compileBPF(filter string, snapLen int) ([]bpf.RawInstruction, error) {
	insns, err := pcap.CompileBPFFilter(layers.LinkTypeEthernet, snapLen, filter)
	if err != nil {
		return nil, fmt.Errorf("compile bpf %q: %w", filter, err)
	}
	raw := make([]bpf.RawInstruction, len(insns))
	for i, ins := range insns {
		raw[i] = bpf.RawInstruction{Op: ins.Code, Jt: ins.Jt, Jf: ins.Jf, K: ins.K}
	}
	return raw, nil
}

// gopacket v1.1.19 only exports FanoutHash.
func parseFanoutType(ft string) (afpacket.FanoutType, error) {
	switch ft {
	case "", "hash":
		return afpacket.FanoutHash, nil
	default:
		return 0, fmt.Errorf("afpacket: unsupported fanout_type %q", ft)
	}
}
