package capture

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync/atomic"

	"github.com/google/gopacket/pcap"

	"firestige.xyz/meter/internal/core"
)

// File replays a pcap file. Packets are never dropped: Capture blocks on out.
type File struct {
	path   string
	filter string

	handle *pcap.Handle
	logger *slog.Logger

	received atomic.Uint64
}

// NewFile creates a file source. An empty filter reads every packet.
func NewFile(path, filter string) *File {
	return &File{
		path:   path,
		filter: filter,
		logger: slog.Default().With("component", "capture", "source", "file"),
	}
}

func (f *File) Name() string { return "file" }

func (f *File) Finite() bool { return true }

func (f *File) Open() error {
	handle, err := pcap.OpenOffline(f.path)
	if err != nil {
		return fmt.Errorf("%w: %s: %v", ErrOpen, f.path, err)
	}
	if f.filter != "" {
		if err := handle.SetBPFFilter(f.filter); err != nil {
			handle.Close()
			return fmt.Errorf("%w: bpf %q: %v", ErrOpen, f.filter, err)
		}
	}
	f.handle = handle
	f.logger.Info("replaying capture file", "path", f.path, "link_type", handle.LinkType().String())
	return nil
}

// Capture returns ErrExhausted at the end of the file.
func (f *File) Capture(ctx context.Context, out chan<- core.RawPacket) error {
	if f.handle == nil {
		return fmt.Errorf("capture: file not open")
	}
	linkType := uint8(f.handle.LinkType())

	for {
		data, ci, err := f.handle.ReadPacketData()
		if err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, pcap.NextErrorNoMorePackets) {
				f.logger.Info("capture file exhausted", "path", f.path, "packets", f.received.Load())
				return ErrExhausted
			}
			return fmt.Errorf("read %s: %w", f.path, err)
		}
		f.received.Add(1)

		pkt := core.RawPacket{
			Data:       data,
			Timestamp:  ci.Timestamp,
			CaptureLen: uint32(ci.CaptureLength),
			OrigLen:    uint32(ci.Length),
			LinkType:   linkType,
		}
		select {
		case out <- pkt:
		case <-ctx.Done():
			return nil
		}
	}
}

func (f *File) Close() error {
	if f.handle != nil {
		f.handle.Close()
		f.handle = nil
	}
	return nil
}

func (f *File) Stats() Stats {
	return Stats{Received: f.received.Load()}
}
