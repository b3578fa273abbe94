package capture

import (
	"net"
	"net/netip"
	"testing"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"firestige.xyz/meter/internal/core"
)

type tcpOpts struct {
	src, dst  string
	sport     uint16
	dport     uint16
	seq       uint32
	syn, fin  bool
	rst       bool
	payload   []byte
	udp       bool
	linuxSLL  bool
	timestamp time.Time
}

func frame(t *testing.T, o tcpOpts) core.RawPacket {
	t.Helper()
	src, dst := net.ParseIP(o.src), net.ParseIP(o.dst)
	v4 := src.To4() != nil

	var netLayer gopacket.NetworkLayer
	var ipLayer gopacket.SerializableLayer
	etherType := layers.EthernetTypeIPv4
	proto := layers.IPProtocolTCP
	if o.udp {
		proto = layers.IPProtocolUDP
	}
	if v4 {
		ip := &layers.IPv4{Version: 4, TTL: 64, Protocol: proto, SrcIP: src.To4(), DstIP: dst.To4()}
		netLayer, ipLayer = ip, ip
	} else {
		ip := &layers.IPv6{Version: 6, HopLimit: 64, NextHeader: proto, SrcIP: src, DstIP: dst}
		netLayer, ipLayer = ip, ip
		etherType = layers.EthernetTypeIPv6
	}

	var link gopacket.SerializableLayer = &layers.Ethernet{
		SrcMAC:       net.HardwareAddr{0, 1, 2, 3, 4, 5},
		DstMAC:       net.HardwareAddr{6, 7, 8, 9, 10, 11},
		EthernetType: etherType,
	}
	linkType := layers.LinkTypeEthernet
	if o.linuxSLL {
		link = &sllHeader{proto: etherType}
		linkType = layers.LinkTypeLinuxSLL
	}

	var transport gopacket.SerializableLayer
	if o.udp {
		udp := &layers.UDP{SrcPort: layers.UDPPort(o.sport), DstPort: layers.UDPPort(o.dport)}
		require.NoError(t, udp.SetNetworkLayerForChecksum(netLayer))
		transport = udp
	} else {
		tcp := &layers.TCP{
			SrcPort: layers.TCPPort(o.sport),
			DstPort: layers.TCPPort(o.dport),
			Seq:     o.seq,
			SYN:     o.syn,
			FIN:     o.fin,
			RST:     o.rst,
			ACK:     true,
			Window:  65535,
		}
		require.NoError(t, tcp.SetNetworkLayerForChecksum(netLayer))
		transport = tcp
	}

	buf := gopacket.NewSerializeBuffer()
	opts := gopacket.SerializeOptions{FixLengths: true, ComputeChecksums: true}
	require.NoError(t, gopacket.SerializeLayers(buf, opts, link, ipLayer, transport, gopacket.Payload(o.payload)))

	data := append([]byte(nil), buf.Bytes()...)
	ts := o.timestamp
	if ts.IsZero() {
		ts = time.Unix(1700000000, 0)
	}
	return core.RawPacket{
		Data:       data,
		Timestamp:  ts,
		CaptureLen: uint32(len(data)),
		OrigLen:    uint32(len(data)),
		LinkType:   uint8(linkType),
	}
}

// sllHeader writes a 16 byte Linux cooked header.
type sllHeader struct{ proto layers.EthernetType }

func (h *sllHeader) LayerType() gopacket.LayerType { return layers.LayerTypeLinuxSLL }

func (h *sllHeader) SerializeTo(b gopacket.SerializeBuffer, _ gopacket.SerializeOptions) error {
	hdr, err := b.PrependBytes(16)
	if err != nil {
		return err
	}
	for i := range hdr {
		hdr[i] = 0
	}
	hdr[5] = 6 // address length
	hdr[14] = byte(h.proto >> 8)
	hdr[15] = byte(h.proto)
	return nil
}

func TestDecode_IPv4(t *testing.T) {
	d := NewDecoder()
	pkt := frame(t, tcpOpts{
		src: "10.0.0.2", dst: "192.168.1.5", sport: 5003, dport: 50000,
		seq: 1000, payload: []byte("hello"),
	})

	seg, ok := d.Decode(pkt)
	require.True(t, ok)
	assert.Equal(t, netip.MustParseAddr("10.0.0.2"), seg.Flow.SrcIP)
	assert.Equal(t, netip.MustParseAddr("192.168.1.5"), seg.Flow.DstIP)
	assert.Equal(t, uint16(5003), seg.Flow.SrcPort)
	assert.Equal(t, uint16(50000), seg.Flow.DstPort)
	assert.Equal(t, uint32(1000), seg.Seq)
	assert.Equal(t, []byte("hello"), seg.Payload)
	assert.Equal(t, pkt.Timestamp, seg.Timestamp)
	assert.False(t, seg.SYN)
}

func TestDecode_Flags(t *testing.T) {
	d := NewDecoder()

	seg, ok := d.Decode(frame(t, tcpOpts{src: "10.0.0.2", dst: "10.0.0.3", sport: 1, dport: 2, syn: true}))
	require.True(t, ok)
	assert.True(t, seg.SYN)
	assert.Empty(t, seg.Payload)

	seg, ok = d.Decode(frame(t, tcpOpts{src: "10.0.0.2", dst: "10.0.0.3", sport: 1, dport: 2, fin: true, rst: true}))
	require.True(t, ok)
	assert.True(t, seg.FIN)
	assert.True(t, seg.RST)
}

func TestDecode_IPv6AndCooked(t *testing.T) {
	d := NewDecoder()

	seg, ok := d.Decode(frame(t, tcpOpts{src: "2001:db8::1", dst: "2001:db8::2", sport: 7, dport: 8, payload: []byte{1}}))
	require.True(t, ok)
	assert.Equal(t, netip.MustParseAddr("2001:db8::1"), seg.Flow.SrcIP)

	seg, ok = d.Decode(frame(t, tcpOpts{src: "10.1.1.1", dst: "10.1.1.2", sport: 7, dport: 8, payload: []byte{2}, linuxSLL: true}))
	require.True(t, ok)
	assert.Equal(t, []byte{2}, seg.Payload)
}

func TestDecode_Rejects(t *testing.T) {
	d := NewDecoder()

	_, ok := d.Decode(frame(t, tcpOpts{src: "10.0.0.2", dst: "10.0.0.3", sport: 1, dport: 2, udp: true}))
	assert.False(t, ok, "udp")

	_, ok = d.Decode(frame(t, tcpOpts{src: "127.0.0.1", dst: "127.0.0.1", sport: 1, dport: 2}))
	assert.False(t, ok, "loopback")

	_, ok = d.Decode(core.RawPacket{Data: []byte{1, 2, 3}, LinkType: uint8(layers.LinkTypeEthernet)})
	assert.False(t, ok, "garbage")

	_, ok = d.Decode(core.RawPacket{Data: make([]byte, 64), LinkType: uint8(layers.LinkTypePPP)})
	assert.False(t, ok, "unsupported link type")
}
