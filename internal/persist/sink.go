package persist

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"firestige.xyz/meter/internal/config"
)

// Sink stores batches of tasks in queue order.
type Sink interface {
	Name() string
	Write(ctx context.Context, batch []Envelope) error
	Close() error
}

// NewSink builds the sink selected by cfg.Sink.
func NewSink(cfg config.PersistConfig) (Sink, error) {
	switch cfg.Sink {
	case "", "none":
		return Discard{}, nil
	case "jsonl":
		return NewJSONL(cfg.JSONL), nil
	case "kafka":
		return NewKafka(cfg.Kafka)
	default:
		return nil, fmt.Errorf("persist: unsupported sink %q", cfg.Sink)
	}
}

// Discard drops every task.
type Discard struct{}

func (Discard) Name() string                            { return "none" }
func (Discard) Write(context.Context, []Envelope) error { return nil }
func (Discard) Close() error                            { return nil }

// Memory keeps tasks in memory. It backs replay summaries and tests.
type Memory struct {
	mu   sync.Mutex
	envs []Envelope
}

func (m *Memory) Name() string { return "memory" }

func (m *Memory) Write(_ context.Context, batch []Envelope) error {
	m.mu.Lock()
	m.envs = append(m.envs, batch...)
	m.mu.Unlock()
	return nil
}

func (m *Memory) Close() error { return nil }

// Envelopes returns a copy of everything written so far.
func (m *Memory) Envelopes() []Envelope {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Clone(m.envs)
}

// Tasks returns the written tasks of the given kind, in order.
func (m *Memory) Tasks(kind Kind) []Task {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Task
	for _, env := range m.envs {
		if env.Kind == kind {
			out = append(out, env.Task)
		}
	}
	return out
}
