package capture

import (
	"net/netip"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"

	"firestige.xyz/meter/internal/core"
)

// Decoder turns link-layer frames into TCP segments. It reuses its layer
// buffers and is not safe for concurrent use.
type Decoder struct {
	eth      layers.Ethernet
	sll      layers.LinuxSLL
	loopback layers.Loopback
	ip4      layers.IPv4
	ip6      layers.IPv6
	tcp      layers.TCP

	parsers map[layers.LinkType]*gopacket.DecodingLayerParser
	decoded []gopacket.LayerType
}

// NewDecoder creates a decoder.
func NewDecoder() *Decoder {
	return &Decoder{
		parsers: make(map[layers.LinkType]*gopacket.DecodingLayerParser),
		decoded: make([]gopacket.LayerType, 0, 8),
	}
}

func (d *Decoder) parser(lt layers.LinkType) *gopacket.DecodingLayerParser {
	if p, ok := d.parsers[lt]; ok {
		return p
	}

	var first gopacket.LayerType
	switch lt {
	case layers.LinkTypeEthernet:
		first = layers.LayerTypeEthernet
	case layers.LinkTypeLinuxSLL:
		first = layers.LayerTypeLinuxSLL
	case layers.LinkTypeNull, layers.LinkTypeLoop:
		first = layers.LayerTypeLoopback
	case layers.LinkTypeRaw, layers.LinkTypeIPv4:
		first = layers.LayerTypeIPv4
	case layers.LinkTypeIPv6:
		first = layers.LayerTypeIPv6
	default:
		d.parsers[lt] = nil
		return nil
	}

	p := gopacket.NewDecodingLayerParser(first, &d.eth, &d.sll, &d.loopback, &d.ip4, &d.ip6, &d.tcp)
	p.IgnoreUnsupported = true
	d.parsers[lt] = p
	return p
}

// Decode extracts the TCP segment from pkt. It reports false for anything
// that is not IPv4/IPv6 TCP, and for loopback traffic. The payload aliases
// pkt.Data.
func (d *Decoder) Decode(pkt core.RawPacket) (core.Segment, bool) {
	p := d.parser(layers.LinkType(pkt.LinkType))
	if p == nil {
		return core.Segment{}, false
	}

	d.decoded = d.decoded[:0]
	// truncated tails still leave the decoded prefix usable
	_ = p.DecodeLayers(pkt.Data, &d.decoded)

	var src, dst netip.Addr
	var haveIP, haveTCP bool
	for _, lt := range d.decoded {
		switch lt {
		case layers.LayerTypeIPv4:
			src, _ = netip.AddrFromSlice(d.ip4.SrcIP.To4())
			dst, _ = netip.AddrFromSlice(d.ip4.DstIP.To4())
			haveIP = true
		case layers.LayerTypeIPv6:
			src, _ = netip.AddrFromSlice(d.ip6.SrcIP)
			dst, _ = netip.AddrFromSlice(d.ip6.DstIP)
			haveIP = true
		case layers.LayerTypeTCP:
			haveTCP = true
		}
	}
	if !haveIP || !haveTCP {
		return core.Segment{}, false
	}
	if src.IsLoopback() || dst.IsLoopback() {
		return core.Segment{}, false
	}

	return core.Segment{
		Flow: core.FlowKey{
			SrcIP:   src.Unmap(),
			DstIP:   dst.Unmap(),
			SrcPort: uint16(d.tcp.SrcPort),
			DstPort: uint16(d.tcp.DstPort),
		},
		Seq:       d.tcp.Seq,
		SYN:       d.tcp.SYN,
		FIN:       d.tcp.FIN,
		RST:       d.tcp.RST,
		Payload:   d.tcp.Payload,
		Timestamp: pkt.Timestamp,
	}, true
}
