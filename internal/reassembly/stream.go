package reassembly

import (
	"log/slog"

	"firestige.xyz/meter/internal/core"
)

// Output is the result of pushing one segment through a Stream.
type Output struct {
	Data []byte
	// ResetBefore means any bytes derived from earlier output must be discarded
	// before Data is consumed.
	ResetBefore bool
	// ResetAfter means the connection closed after Data.
	ResetAfter bool
}

// Stream applies TCP control flags on top of a Reassembler for the identified
// server direction.
type Stream struct {
	r *Reassembler
}

// NewStream wraps a fresh reassembler.
func NewStream(cfg Config) *Stream {
	return &Stream{r: New(cfg)}
}

// Reassembler exposes the underlying reassembler.
func (s *Stream) Reassembler() *Reassembler {
	return s.r
}

// ResetTo restarts the stream expecting next.
func (s *Stream) ResetTo(next uint32) {
	s.r.ResetTo(next)
}

// Push handles one segment of the server direction.
func (s *Stream) Push(seg core.Segment) Output {
	var out Output

	if seg.SYN {
		s.r.ResetTo(seg.Seq + 1)
		out.ResetBefore = true
		if len(seg.Payload) == 0 {
			return out
		}
		seg.Seq++
	}

	if behind := s.r.Behind(seg.Seq); behind > uint32(s.r.cfg.RegressionReset) {
		slog.Debug("sequence regressed, restarting stream",
			"flow", seg.Flow.String(), "seq", seg.Seq, "behind", behind)
		s.r.ResetTo(seg.Seq)
		out.ResetBefore = true
	}

	out.Data = s.r.Feed(seg.Seq, seg.Payload)

	if seg.FIN || seg.RST {
		s.r.Reset(nil)
		out.ResetAfter = true
	}
	return out
}
