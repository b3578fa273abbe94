package capture

import (
	"context"
	"sync"
	"sync/atomic"

	"firestige.xyz/meter/internal/core"
)

// Memory replays a fixed packet list. Each Open rewinds it. OpenErr, when
// set, is returned by Open; Err is returned by Capture after the packets
// instead of ErrExhausted.
type Memory struct {
	mu      sync.Mutex
	packets []core.RawPacket
	OpenErr error
	Err     error
	// Hold keeps Capture blocked after the packets until ctx ends.
	Hold bool

	opens    atomic.Int32
	received atomic.Uint64
}

// NewMemory creates a memory source over packets.
func NewMemory(packets ...core.RawPacket) *Memory {
	return &Memory{packets: packets}
}

func (m *Memory) Name() string { return "memory" }

func (m *Memory) Open() error {
	m.opens.Add(1)
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.OpenErr
}

// Opens reports how many times Open was called.
func (m *Memory) Opens() int { return int(m.opens.Load()) }

func (m *Memory) Capture(ctx context.Context, out chan<- core.RawPacket) error {
	m.mu.Lock()
	packets, err, hold := m.packets, m.Err, m.Hold
	m.mu.Unlock()

	for _, pkt := range packets {
		select {
		case out <- pkt:
			m.received.Add(1)
		case <-ctx.Done():
			return nil
		}
	}
	if hold {
		<-ctx.Done()
		return nil
	}
	if err != nil {
		return err
	}
	return ErrExhausted
}

// SetOpenErr changes the Open result.
func (m *Memory) SetOpenErr(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.OpenErr = err
}

func (m *Memory) Close() error { return nil }

func (m *Memory) Stats() Stats {
	return Stats{Received: m.received.Load()}
}
