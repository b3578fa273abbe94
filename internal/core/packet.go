// Package core defines core data structures with zero external dependencies.
package core

import (
	"fmt"
	"net/netip"
	"time"
)

// RawPacket is a captured link-layer frame.
type RawPacket struct {
	Data       []byte    // Raw frame data, owned by the receiver
	Timestamp  time.Time // Capture timestamp (kernel timestamp preferred)
	CaptureLen uint32    // Actual captured length
	OrigLen    uint32    // Original frame length
	LinkType   uint8     // gopacket layers.LinkType of Data
}

// FlowKey identifies one direction of a TCP connection.
type FlowKey struct {
	SrcIP   netip.Addr
	DstIP   netip.Addr
	SrcPort uint16
	DstPort uint16
}

// Reverse returns the opposite direction of the flow.
func (k FlowKey) Reverse() FlowKey {
	return FlowKey{SrcIP: k.DstIP, DstIP: k.SrcIP, SrcPort: k.DstPort, DstPort: k.SrcPort}
}

// IsZero reports whether the key is unset.
func (k FlowKey) IsZero() bool {
	return !k.SrcIP.IsValid() && !k.DstIP.IsValid() && k.SrcPort == 0 && k.DstPort == 0
}

func (k FlowKey) String() string {
	return fmt.Sprintf("%s -> %s",
		netip.AddrPortFrom(k.SrcIP, k.SrcPort), netip.AddrPortFrom(k.DstIP, k.DstPort))
}

// Segment is the TCP view of a captured packet.
type Segment struct {
	Flow      FlowKey
	Seq       uint32
	SYN       bool
	FIN       bool
	RST       bool
	Payload   []byte
	Timestamp time.Time
}
