package pipeline

import (
	"sync/atomic"
)

// Metrics contains per-pipeline counters. The processing loop is the only
// writer; Stats may be read from any goroutine.
type Metrics struct {
	Received   atomic.Uint64
	Decoded    atomic.Uint64
	Skipped    atomic.Uint64 // Not TCP, or not the server flow
	Identified atomic.Uint64
	Frames     atomic.Uint64
	Messages   atomic.Uint64
	Events     atomic.Uint64
	Desyncs    atomic.Uint64
	Controls   atomic.Uint64
}

// Stats is a point-in-time copy of Metrics.
type Stats struct {
	Received   uint64 `json:"received"`
	Decoded    uint64 `json:"decoded"`
	Skipped    uint64 `json:"skipped"`
	Identified uint64 `json:"identified"`
	Frames     uint64 `json:"frames"`
	Messages   uint64 `json:"messages"`
	Events     uint64 `json:"events"`
	Desyncs    uint64 `json:"desyncs"`
	Controls   uint64 `json:"controls"`
}

func (m *Metrics) snapshot() Stats {
	return Stats{
		Received:   m.Received.Load(),
		Decoded:    m.Decoded.Load(),
		Skipped:    m.Skipped.Load(),
		Identified: m.Identified.Load(),
		Frames:     m.Frames.Load(),
		Messages:   m.Messages.Load(),
		Events:     m.Events.Load(),
		Desyncs:    m.Desyncs.Load(),
		Controls:   m.Controls.Load(),
	}
}
