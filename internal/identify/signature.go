// Package identify picks the game server connection out of captured TCP
// traffic by matching known payload signatures.
package identify

import (
	"bytes"
	"encoding/binary"

	"firestige.xyz/meter/internal/config"
)

const defaultMaxScanFrames = 2000

// Pattern is a byte sequence expected at Offset.
type Pattern struct {
	Offset int
	Bytes  []byte
}

func (p Pattern) match(b []byte) bool {
	end := p.Offset + len(p.Bytes)
	return p.Offset >= 0 && end <= len(b) && bytes.Equal(b[p.Offset:end], p.Bytes)
}

// Signature describes a payload that only the game server sends.
//
// Header patterns must all match the payload. When Frame is set, the bytes
// after Skip are walked as u32 length-prefixed sub-frames (the length counts
// its own 4 bytes) and the signature matches if any sub-frame body matches
// every Frame pattern.
type Signature struct {
	Name string
	// Length is the exact payload length, 0 for any.
	Length    int
	Header    []Pattern
	Skip      int
	Frame     []Pattern
	MaxFrames int
}

// Match reports whether payload carries the signature.
func (s Signature) Match(payload []byte) bool {
	if s.Length > 0 && len(payload) != s.Length {
		return false
	}
	if len(payload) < s.Skip {
		return false
	}
	for _, p := range s.Header {
		if !p.match(payload) {
			return false
		}
	}
	if len(s.Frame) == 0 {
		return true
	}
	return s.scanFrames(payload[s.Skip:])
}

func (s Signature) scanFrames(b []byte) bool {
	limit := s.MaxFrames
	if limit <= 0 {
		limit = defaultMaxScanFrames
	}
	for i := 0; i < limit && len(b) >= 4; i++ {
		n := binary.BigEndian.Uint32(b)
		body := int(n) - 4
		if n < 4 {
			body = 0
		}
		b = b[4:]
		if body > len(b) {
			return false
		}
		if matchAll(s.Frame, b[:body]) {
			return true
		}
		b = b[body:]
	}
	return false
}

func matchAll(ps []Pattern, b []byte) bool {
	for _, p := range ps {
		if !p.match(b) {
			return false
		}
	}
	return true
}

// SceneChange matches a server push whose nested frames carry a notify for
// the game service. It is the first packet after a scene server switch.
func SceneChange(maxFrames int) Signature {
	return Signature{
		Name:      "scene_change",
		Header:    []Pattern{{Offset: 4, Bytes: []byte{0x00}}},
		Skip:      10,
		Frame:     []Pattern{{Offset: 5, Bytes: []byte{0x00, 0x63, 0x33, 0x53, 0x42, 0x00}}},
		MaxFrames: maxFrames,
	}
}

// LoginReturn matches the 98 byte login response.
func LoginReturn() Signature {
	return Signature{
		Name:   "login_return",
		Length: 98,
		Header: []Pattern{
			{Offset: 0, Bytes: []byte{0x00, 0x00, 0x00, 0x62, 0x00, 0x03, 0x00, 0x00, 0x00, 0x01}},
			{Offset: 14, Bytes: []byte{0x00, 0x00, 0x00, 0x00, 0x0a, 0x4e}},
		},
	}
}

// Signatures returns the signatures enabled by cfg.
func Signatures(cfg config.IdentifyConfig) []Signature {
	var sigs []Signature
	if cfg.SceneSignature {
		sigs = append(sigs, SceneChange(cfg.MaxScanFrames))
	}
	if cfg.LoginSignature {
		sigs = append(sigs, LoginReturn())
	}
	return sigs
}
