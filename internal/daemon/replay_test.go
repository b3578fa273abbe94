package daemon

import (
	"context"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/encoding/protowire"

	"firestige.xyz/meter/internal/capture"
	"firestige.xyz/meter/internal/config"
	"firestige.xyz/meter/internal/core"
	"firestige.xyz/meter/internal/encounter"
	"firestige.xyz/meter/internal/fragment"
	"firestige.xyz/meter/internal/protocol"
)

func tcpPacket(t *testing.T, seq uint32, payload []byte, at time.Time) core.RawPacket {
	t.Helper()
	ip := &layers.IPv4{
		Version:  4,
		TTL:      64,
		Protocol: layers.IPProtocolTCP,
		SrcIP:    net.ParseIP("203.0.113.10").To4(),
		DstIP:    net.ParseIP("192.168.1.20").To4(),
	}
	tcp := &layers.TCP{SrcPort: 5003, DstPort: 51000, Seq: seq, ACK: true, PSH: true, Window: 65535}
	require.NoError(t, tcp.SetNetworkLayerForChecksum(ip))
	eth := &layers.Ethernet{
		SrcMAC:       net.HardwareAddr{0, 1, 2, 3, 4, 5},
		DstMAC:       net.HardwareAddr{6, 7, 8, 9, 10, 11},
		EthernetType: layers.EthernetTypeIPv4,
	}
	buf := gopacket.NewSerializeBuffer()
	opts := gopacket.SerializeOptions{FixLengths: true, ComputeChecksums: true}
	require.NoError(t, gopacket.SerializeLayers(buf, opts, eth, ip, tcp, gopacket.Payload(payload)))
	data := append([]byte(nil), buf.Bytes()...)
	return core.RawPacket{
		Data:       data,
		Timestamp:  at,
		CaptureLen: uint32(len(data)),
		OrigLen:    uint32(len(data)),
		LinkType:   uint8(layers.LinkTypeEthernet),
	}
}

// hit is a SyncNearDeltaInfo notify carrying one damage from a player on a monster.
func hit(amount uint64) []byte {
	const target, attacker = uint64(900<<16 | 64), uint64(1<<16 | 640)

	var dmg []byte
	dmg = protowire.AppendTag(dmg, 6, protowire.VarintType)
	dmg = protowire.AppendVarint(dmg, amount)
	dmg = protowire.AppendTag(dmg, 11, protowire.VarintType)
	dmg = protowire.AppendVarint(dmg, attacker)
	dmg = protowire.AppendTag(dmg, 12, protowire.VarintType)
	dmg = protowire.AppendVarint(dmg, 11)

	var effect []byte
	effect = protowire.AppendTag(effect, 1, protowire.VarintType)
	effect = protowire.AppendVarint(effect, target)
	effect = protowire.AppendTag(effect, 2, protowire.BytesType)
	effect = protowire.AppendBytes(effect, dmg)

	var delta []byte
	delta = protowire.AppendTag(delta, 1, protowire.VarintType)
	delta = protowire.AppendVarint(delta, target)
	delta = protowire.AppendTag(delta, 7, protowire.BytesType)
	delta = protowire.AppendBytes(delta, effect)

	var payload []byte
	payload = protowire.AppendTag(payload, 1, protowire.BytesType)
	payload = protowire.AppendBytes(payload, delta)
	return fragment.EncodeNotify(fragment.DefaultServiceID, uint32(protocol.MethodSyncNearDeltaInfo), payload)
}

func replayConfig(t *testing.T) *config.GlobalConfig {
	t.Helper()
	cfg, err := config.Default()
	require.NoError(t, err)
	return cfg
}

func TestReplay_Summary(t *testing.T) {
	base := time.Unix(1700000000, 0)
	hello := fragment.EncodeFrameDown(1, fragment.EncodeNotify(fragment.DefaultServiceID, uint32(protocol.MethodNotifySwitchSceneEnd), nil), false)
	next := uint32(1000 + len(hello))
	first := hit(250)

	src := capture.NewMemory(
		tcpPacket(t, 1000, hello, base),
		tcpPacket(t, next, first, base.Add(100*time.Millisecond)),
		tcpPacket(t, next+uint32(len(first)), hit(750), base.Add(900*time.Millisecond)),
	)

	res, err := Replay(context.Background(), replayConfig(t), src)
	require.NoError(t, err)

	assert.Equal(t, int64(1000), res.Summary.TotalDamage)
	require.Len(t, res.Summary.Players, 1)
	assert.Equal(t, int64(1), res.Summary.Players[0].UID)
	assert.Equal(t, uint64(3), res.Stats.Received)
	assert.Equal(t, uint64(1), res.Stats.Identified)
	assert.Equal(t, 1, res.Notifications[encounter.NotifyServerChange])
}

func TestReplay_EmptySource(t *testing.T) {
	res, err := Replay(context.Background(), replayConfig(t), capture.NewMemory())
	require.NoError(t, err)
	assert.Zero(t, res.Summary.TotalDamage)
	assert.Zero(t, res.Stats.Received)
}

func TestReplay_JSONLSink(t *testing.T) {
	cfg := replayConfig(t)
	cfg.Persist.Sink = "jsonl"
	cfg.Persist.JSONL.Path = filepath.Join(t.TempDir(), "tasks.jsonl")

	base := time.Unix(1700000000, 0)
	hello := fragment.EncodeFrameDown(1, fragment.EncodeNotify(fragment.DefaultServiceID, uint32(protocol.MethodNotifySwitchSceneEnd), nil), false)
	src := capture.NewMemory(
		tcpPacket(t, 1, hello, base),
		tcpPacket(t, uint32(1+len(hello)), hit(10), base.Add(time.Second)),
	)

	_, err := Replay(context.Background(), cfg, src)
	require.NoError(t, err)

	data, err := os.ReadFile(cfg.Persist.JSONL.Path)
	require.NoError(t, err)
	assert.NotEmpty(t, data)
}

func TestReplay_BadSink(t *testing.T) {
	cfg := replayConfig(t)
	cfg.Persist.Sink = "carrier-pigeon"
	_, err := Replay(context.Background(), cfg, capture.NewMemory())
	assert.Error(t, err)
}
