// Package fragment classifies frames and extracts notify messages.
package fragment

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/klauspost/compress/zstd"

	"firestige.xyz/meter/internal/frame"
	"firestige.xyz/meter/internal/metrics"
)

// Type is the fragment kind carried in the low 15 bits of the packet type.
type Type uint16

const (
	TypeNone Type = iota
	TypeCall
	TypeNotify
	TypeReturn
	TypeEcho
	TypeFrameUp
	TypeFrameDown
)

const (
	compressedFlag = 0x8000
	typeMask       = 0x7fff

	// headerLen is size(u32) + packet type(u16).
	headerLen = 6
	// notifyHeaderLen is service id(u64) + stub id(u32) + method id(u32).
	notifyHeaderLen = 16

	// DefaultServiceID is the service family whose notifies carry game state.
	DefaultServiceID uint64 = 0x0000000063335342

	defaultMaxDecompressed = 16 * 1024 * 1024
	defaultMaxDepth        = 4
	defaultMaxFrameSize    = 10 * 1024 * 1024
)

var typeNames = [...]string{"none", "call", "notify", "return", "echo", "frame_up", "frame_down"}

func (t Type) String() string {
	if int(t) < len(typeNames) {
		return typeNames[t]
	}
	return fmt.Sprintf("unknown(%d)", uint16(t))
}

var (
	ErrMalformed       = errors.New("fragment: malformed")
	ErrServiceMismatch = errors.New("fragment: unexpected service id")
	ErrDecompress      = errors.New("fragment: decompression failed")
	ErrTooDeep         = errors.New("fragment: nesting too deep")
)

// Message is one notify extracted from a frame.
type Message struct {
	ServiceID uint64
	StubID    uint32
	MethodID  uint32
	Payload   []byte
	Depth     int // 0 for top-level notifies, >0 inside FrameDown
}

// Opcode returns the method id as a 16-bit opcode. ok is false when the id
// does not fit.
func (m Message) Opcode() (uint16, bool) {
	if m.MethodID > 0xffff {
		return 0, false
	}
	return uint16(m.MethodID), true
}

// Config bounds the parser.
type Config struct {
	ServiceID           uint64
	MaxDecompressedSize int
	MaxDepth            int
	MaxFrameSize        int
}

// Stats counts fragments seen by kind.
type Stats struct {
	ByType  map[Type]uint64
	Ignored uint64
}

// Parser turns frames into notify messages. It is not safe for concurrent use.
type Parser struct {
	cfg   Config
	dec   *zstd.Decoder
	stats Stats
}

// NewParser creates a parser with a zstd decoder capped at MaxDecompressedSize.
func NewParser(cfg Config) (*Parser, error) {
	if cfg.ServiceID == 0 {
		cfg.ServiceID = DefaultServiceID
	}
	if cfg.MaxDecompressedSize <= 0 {
		cfg.MaxDecompressedSize = defaultMaxDecompressed
	}
	if cfg.MaxDepth <= 0 {
		cfg.MaxDepth = defaultMaxDepth
	}
	if cfg.MaxFrameSize <= 0 {
		cfg.MaxFrameSize = defaultMaxFrameSize
	}
	dec, err := zstd.NewReader(nil,
		zstd.WithDecoderConcurrency(1),
		zstd.WithDecoderMaxMemory(uint64(cfg.MaxDecompressedSize)),
	)
	if err != nil {
		return nil, fmt.Errorf("fragment: create zstd decoder: %w", err)
	}
	return &Parser{
		cfg:   cfg,
		dec:   dec,
		stats: Stats{ByType: make(map[Type]uint64)},
	}, nil
}

// Close releases the decoder.
func (p *Parser) Close() {
	p.dec.Close()
}

// Stats returns the per-type counters. The map is shared; callers must not
// retain it across Parse calls.
func (p *Parser) Stats() Stats {
	return p.stats
}

// Parse extracts every notify carried by f, in stream order. Failures in one
// nested fragment do not discard its siblings; they are joined into err.
func (p *Parser) Parse(f frame.Frame) ([]Message, error) {
	var msgs []Message
	err := p.parse(f, 0, &msgs)
	return msgs, err
}

func (p *Parser) parse(f []byte, depth int, out *[]Message) error {
	if len(f) < headerLen {
		return fmt.Errorf("%w: %d bytes", ErrMalformed, len(f))
	}
	packetType := binary.BigEndian.Uint16(f[4:6])
	compressed := packetType&compressedFlag != 0
	kind := Type(packetType & typeMask)
	body := f[headerLen:]

	p.stats.ByType[kind]++
	metrics.FragmentsTotal.WithLabelValues(kind.String()).Inc()

	switch kind {
	case TypeNotify:
		msg, err := p.notify(body, compressed)
		if err != nil {
			return err
		}
		msg.Depth = depth
		*out = append(*out, msg)
		return nil
	case TypeFrameDown:
		return p.frameDown(body, compressed, depth, out)
	default:
		p.stats.Ignored++
		return nil
	}
}

func (p *Parser) notify(body []byte, compressed bool) (Message, error) {
	if len(body) < notifyHeaderLen {
		return Message{}, fmt.Errorf("%w: notify header needs %d bytes, got %d",
			ErrMalformed, notifyHeaderLen, len(body))
	}
	msg := Message{
		ServiceID: binary.BigEndian.Uint64(body[0:8]),
		StubID:    binary.BigEndian.Uint32(body[8:12]),
		MethodID:  binary.BigEndian.Uint32(body[12:16]),
	}
	if msg.ServiceID != p.cfg.ServiceID {
		return Message{}, fmt.Errorf("%w: %#x", ErrServiceMismatch, msg.ServiceID)
	}

	payload := body[notifyHeaderLen:]
	if compressed {
		var err error
		if payload, err = p.decompress(payload); err != nil {
			return Message{}, err
		}
	}
	msg.Payload = payload
	return msg, nil
}

func (p *Parser) frameDown(body []byte, compressed bool, depth int, out *[]Message) error {
	if depth+1 > p.cfg.MaxDepth {
		return fmt.Errorf("%w: depth %d", ErrTooDeep, depth+1)
	}
	if len(body) < 4 {
		return fmt.Errorf("%w: frame down without server sequence", ErrMalformed)
	}
	nested := body[4:]
	if len(nested) == 0 {
		return nil
	}
	if compressed {
		var err error
		if nested, err = p.decompress(nested); err != nil {
			return err
		}
	}

	frames, splitErr := frame.Split(nested, p.cfg.MaxFrameSize)
	var errs []error
	if splitErr != nil {
		errs = append(errs, fmt.Errorf("%w: nested stream: %w", ErrMalformed, splitErr))
	}
	for _, nf := range frames {
		if err := p.parse(nf, depth+1, out); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (p *Parser) decompress(src []byte) ([]byte, error) {
	dst, err := p.dec.DecodeAll(src, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDecompress, err)
	}
	if len(dst) > p.cfg.MaxDecompressedSize {
		return nil, fmt.Errorf("%w: %d bytes exceeds cap", ErrDecompress, len(dst))
	}
	return dst, nil
}
