// Package reassembly rebuilds the ordered byte stream of one TCP direction.
package reassembly

import (
	"firestige.xyz/meter/internal/metrics"
)

const (
	defaultMaxBufferedBytes = 5 * 1024 * 1024
	defaultRegressionReset  = 2 * 1024 * 1024
)

// Config bounds the reassembler.
type Config struct {
	MaxBufferedBytes int // Out-of-order bytes held before skipping a gap
	RegressionReset  int // Distance behind the cursor that is treated as a new stream
}

// Stats counts reassembler anomalies.
type Stats struct {
	Duplicates uint64
	Trimmed    uint64
	GapSkips   uint64
	Resets     uint64
}

// Reassembler orders segments by sequence number and releases contiguous runs.
// It is not safe for concurrent use; the processing loop owns it.
type Reassembler struct {
	cfg      Config
	next     uint32
	hasNext  bool
	pending  map[uint32][]byte
	buffered int
	stats    Stats
}

// New creates a reassembler with an unset cursor.
func New(cfg Config) *Reassembler {
	if cfg.MaxBufferedBytes <= 0 {
		cfg.MaxBufferedBytes = defaultMaxBufferedBytes
	}
	if cfg.RegressionReset <= 0 {
		cfg.RegressionReset = defaultRegressionReset
	}
	return &Reassembler{
		cfg:     cfg,
		pending: make(map[uint32][]byte),
	}
}

// seqBefore reports whether a precedes b in modular 32-bit sequence space.
func seqBefore(a, b uint32) bool {
	return int32(a-b) < 0
}

// Expected returns the next sequence number the stream is waiting for.
func (r *Reassembler) Expected() (uint32, bool) {
	return r.next, r.hasNext
}

// Buffered returns the number of out-of-order bytes currently held.
func (r *Reassembler) Buffered() int {
	return r.buffered
}

// Stats returns a copy of the anomaly counters.
func (r *Reassembler) Stats() Stats {
	return r.stats
}

// Reset discards buffered segments. A nil next leaves the cursor unset so the
// following segment seeds it.
func (r *Reassembler) Reset(next *uint32) {
	clear(r.pending)
	r.buffered = 0
	r.hasNext = next != nil
	if next != nil {
		r.next = *next
	}
	r.stats.Resets++
	metrics.ReassemblyEventsTotal.WithLabelValues("reset").Inc()
	metrics.ReassemblyBufferedBytes.Set(0)
}

// ResetTo is Reset with a known cursor.
func (r *Reassembler) ResetTo(next uint32) {
	r.Reset(&next)
}

// Behind returns how far seq lies before the cursor, or 0 when it does not.
func (r *Reassembler) Behind(seq uint32) uint32 {
	if !r.hasNext || !seqBefore(seq, r.next) {
		return 0
	}
	return r.next - seq
}

// Feed inserts one segment and returns any bytes that became contiguous.
// The returned slice is newly allocated and owned by the caller.
func (r *Reassembler) Feed(seq uint32, payload []byte) []byte {
	if len(payload) == 0 {
		return nil
	}
	if !r.hasNext {
		r.next = seq
		r.hasNext = true
	}

	if seqBefore(seq, r.next) {
		overlap := r.next - seq
		if uint64(overlap) >= uint64(len(payload)) {
			r.stats.Duplicates++
			metrics.ReassemblyEventsTotal.WithLabelValues("duplicate").Inc()
			return nil
		}
		payload = payload[overlap:]
		seq = r.next
		r.stats.Trimmed++
	}

	r.store(seq, payload)

	if r.buffered > r.cfg.MaxBufferedBytes {
		if earliest, ok := r.earliest(); ok && earliest != r.next {
			r.next = earliest
			r.stats.GapSkips++
			metrics.ReassemblyEventsTotal.WithLabelValues("gap_skip").Inc()
		}
	}

	out := r.flush()
	metrics.ReassemblyBufferedBytes.Set(float64(r.buffered))
	return out
}

// store keeps the longer payload when two segments share a start sequence.
func (r *Reassembler) store(seq uint32, payload []byte) {
	if existing, ok := r.pending[seq]; ok {
		if len(payload) <= len(existing) {
			r.stats.Duplicates++
			metrics.ReassemblyEventsTotal.WithLabelValues("duplicate").Inc()
			return
		}
		r.buffered -= len(existing)
	}
	cp := make([]byte, len(payload))
	copy(cp, payload)
	r.pending[seq] = cp
	r.buffered += len(cp)
}

// earliest returns the buffered sequence closest after the cursor.
func (r *Reassembler) earliest() (uint32, bool) {
	var (
		best     uint32
		bestDist uint32
		found    bool
	)
	for s := range r.pending {
		d := s - r.next
		if !found || d < bestDist {
			best, bestDist, found = s, d, true
		}
	}
	return best, found
}

// flush drains the contiguous run starting at the cursor. Segments that start
// before the cursor are trimmed to it or dropped when fully consumed.
func (r *Reassembler) flush() []byte {
	var out []byte
	for {
		r.settle()
		data, ok := r.pending[r.next]
		if !ok {
			return out
		}
		delete(r.pending, r.next)
		r.buffered -= len(data)
		out = append(out, data...)
		r.next += uint32(len(data))
	}
}

func (r *Reassembler) settle() {
	for s, data := range r.pending {
		if !seqBefore(s, r.next) {
			continue
		}
		delete(r.pending, s)
		r.buffered -= len(data)
		end := s + uint32(len(data))
		if !seqBefore(r.next, end) {
			continue
		}
		r.store(r.next, data[r.next-s:])
	}
}
