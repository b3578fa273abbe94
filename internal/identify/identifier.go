package identify

import (
	"log/slog"

	"firestige.xyz/meter/internal/core"
	"firestige.xyz/meter/internal/metrics"
)

// Verdict tells the caller what to do with an inspected segment.
type Verdict int

const (
	// Drop means the segment is not game traffic.
	Drop Verdict = iota
	// Forward means the segment belongs to the known server flow.
	Forward
	// Identified means the segment switched the known flow. The segment
	// itself is consumed and the stream restarts at Result.Next.
	Identified
)

func (v Verdict) String() string {
	switch v {
	case Forward:
		return "forward"
	case Identified:
		return "identified"
	default:
		return "drop"
	}
}

// Result is the outcome of Inspect.
type Result struct {
	Verdict   Verdict
	Signature string
	Next      uint32
}

// Identifier tracks the known server flow. Not safe for concurrent use.
type Identifier struct {
	sigs   []Signature
	known  core.FlowKey
	has    bool
	logger *slog.Logger
}

// New creates an identifier matching sigs in order.
func New(sigs []Signature) *Identifier {
	return &Identifier{
		sigs:   sigs,
		logger: slog.Default().With("component", "identify"),
	}
}

// Known returns the current server flow.
func (id *Identifier) Known() (core.FlowKey, bool) {
	return id.known, id.has
}

// Clear forgets the server flow so the next matching segment is identified
// again.
func (id *Identifier) Clear() {
	if id.has {
		id.logger.Info("server flow cleared", "flow", id.known.String())
	}
	id.known = core.FlowKey{}
	id.has = false
}

// Inspect classifies seg.
func (id *Identifier) Inspect(seg core.Segment) Result {
	if id.has && seg.Flow == id.known {
		return Result{Verdict: Forward}
	}
	if len(seg.Payload) == 0 {
		return Result{Verdict: Drop}
	}

	for _, sig := range id.sigs {
		if !sig.Match(seg.Payload) {
			continue
		}
		id.known = seg.Flow
		id.has = true
		metrics.ServerChangesTotal.Inc()
		id.logger.Info("game server identified", "flow", seg.Flow.String(), "signature", sig.Name)
		return Result{
			Verdict:   Identified,
			Signature: sig.Name,
			Next:      seg.Seq + uint32(len(seg.Payload)),
		}
	}
	return Result{Verdict: Drop}
}
