// Package frame cuts a reconstructed byte stream into length-prefixed frames.
//
// Every frame starts with a big-endian uint32 holding the total frame length,
// header included.
package frame

import (
	"encoding/binary"
	"errors"
	"fmt"
)

const (
	// HeaderLen is the size of the length prefix.
	HeaderLen = 4

	defaultMaxFrameSize     = 10 * 1024 * 1024
	defaultCompactThreshold = 4096
)

// ErrDesync reports a length prefix that cannot be trusted. The buffered bytes
// have been discarded when it is returned.
var ErrDesync = errors.New("frame: stream desynchronized")

// Frame is one complete frame, length prefix included.
type Frame []byte

// Length returns the declared frame length.
func (f Frame) Length() uint32 {
	return binary.BigEndian.Uint32(f[:HeaderLen])
}

// Body returns the bytes after the length prefix.
func (f Frame) Body() []byte {
	return f[HeaderLen:]
}

// Config bounds the reassembler.
type Config struct {
	MaxFrameSize     int
	CompactThreshold int
}

// Reassembler accumulates stream bytes and yields whole frames.
type Reassembler struct {
	cfg    Config
	buf    []byte
	cursor int
}

// New creates an empty frame reassembler.
func New(cfg Config) *Reassembler {
	if cfg.MaxFrameSize < HeaderLen {
		cfg.MaxFrameSize = defaultMaxFrameSize
	}
	if cfg.CompactThreshold <= 0 {
		cfg.CompactThreshold = defaultCompactThreshold
	}
	return &Reassembler{cfg: cfg}
}

// Write appends stream bytes.
func (r *Reassembler) Write(p []byte) {
	r.buf = append(r.buf, p...)
}

// Buffered returns the number of unconsumed bytes.
func (r *Reassembler) Buffered() int {
	return len(r.buf) - r.cursor
}

// Reset drops all buffered bytes.
func (r *Reassembler) Reset() {
	r.buf = r.buf[:0]
	r.cursor = 0
}

// Next returns the next complete frame, or nil when more bytes are needed.
// The returned frame does not alias the internal buffer.
func (r *Reassembler) Next() (Frame, error) {
	avail := r.buf[r.cursor:]
	if len(avail) < HeaderLen {
		r.compact()
		return nil, nil
	}

	size := binary.BigEndian.Uint32(avail[:HeaderLen])
	if size < HeaderLen || uint64(size) > uint64(r.cfg.MaxFrameSize) {
		r.Reset()
		return nil, fmt.Errorf("%w: length %d", ErrDesync, size)
	}
	if len(avail) < int(size) {
		r.compact()
		return nil, nil
	}

	f := make(Frame, size)
	copy(f, avail[:size])
	r.cursor += int(size)
	r.compact()
	return f, nil
}

// compact moves unconsumed bytes to the front once the consumed prefix grows.
func (r *Reassembler) compact() {
	if r.cursor == len(r.buf) {
		r.buf = r.buf[:0]
		r.cursor = 0
		return
	}
	if r.cursor > r.cfg.CompactThreshold {
		n := copy(r.buf, r.buf[r.cursor:])
		r.buf = r.buf[:n]
		r.cursor = 0
	}
}

// Split cuts a self-contained framed buffer. Trailing bytes that do not form
// a whole frame are ignored.
func Split(data []byte, maxFrameSize int) ([]Frame, error) {
	r := New(Config{MaxFrameSize: maxFrameSize})
	r.Write(data)
	var frames []Frame
	for {
		f, err := r.Next()
		if err != nil {
			return frames, err
		}
		if f == nil {
			return frames, nil
		}
		frames = append(frames, f)
	}
}

// Encode prefixes body with its frame length.
func Encode(body []byte) Frame {
	f := make(Frame, HeaderLen+len(body))
	binary.BigEndian.PutUint32(f, uint32(len(f)))
	copy(f[HeaderLen:], body)
	return f
}
