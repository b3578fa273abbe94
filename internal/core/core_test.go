package core

import (
	"errors"
	"fmt"
	"net/netip"
	"testing"
)

func TestFlowKeyReverse(t *testing.T) {
	k := FlowKey{
		SrcIP:   netip.MustParseAddr("10.0.0.1"),
		DstIP:   netip.MustParseAddr("192.168.1.20"),
		SrcPort: 5003,
		DstPort: 51234,
	}
	r := k.Reverse()
	if r.SrcIP != k.DstIP || r.DstIP != k.SrcIP {
		t.Errorf("addresses not swapped: %v", r)
	}
	if r.SrcPort != k.DstPort || r.DstPort != k.SrcPort {
		t.Errorf("ports not swapped: %v", r)
	}
	if r.Reverse() != k {
		t.Errorf("double reverse should be identity, got %v", r.Reverse())
	}
}

func TestFlowKeyString(t *testing.T) {
	k := FlowKey{
		SrcIP:   netip.MustParseAddr("10.0.0.1"),
		DstIP:   netip.MustParseAddr("10.0.0.2"),
		SrcPort: 1,
		DstPort: 2,
	}
	if got, want := k.String(), "10.0.0.1:1 -> 10.0.0.2:2"; got != want {
		t.Errorf("String() = %q, want %q", got, want)
	}
}

func TestFlowKeyIsZero(t *testing.T) {
	var k FlowKey
	if !k.IsZero() {
		t.Error("zero value should report IsZero")
	}
	k.SrcPort = 80
	if k.IsZero() {
		t.Error("key with a port should not be zero")
	}
}

func TestSentinelErrorsWrap(t *testing.T) {
	sentinels := []error{
		ErrPipelineStopped,
		ErrPacketTooShort,
		ErrUnsupportedProto,
		ErrConfigInvalid,
		ErrClosed,
	}
	for _, s := range sentinels {
		wrapped := fmt.Errorf("context: %w", s)
		if !errors.Is(wrapped, s) {
			t.Errorf("errors.Is failed for %v", s)
		}
	}
}
