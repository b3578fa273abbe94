package persist

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"firestige.xyz/meter/internal/log"
	"firestige.xyz/meter/internal/metrics"
)

const (
	maxBatch     = 256
	drainTimeout = 5 * time.Second
)

// Enqueuer accepts tasks without blocking.
type Enqueuer interface {
	Enqueue(encounterID string, t Task) bool
}

// Queue is a fixed-capacity FIFO between the encounter and a Sink. Enqueue
// never blocks; tasks arriving while the queue is full are dropped and counted.
type Queue struct {
	ch      chan Envelope
	sink    Sink
	seq     atomic.Uint64
	dropped atomic.Uint64
	logger  *slog.Logger
}

// NewQueue creates a queue draining into sink.
func NewQueue(capacity int, sink Sink) *Queue {
	if capacity <= 0 {
		capacity = 1
	}
	return &Queue{
		ch:     make(chan Envelope, capacity),
		sink:   sink,
		logger: log.Component("persist"),
	}
}

// Enqueue adds a task. It reports false when the task was dropped.
func (q *Queue) Enqueue(encounterID string, t Task) bool {
	env := Envelope{
		Seq:         q.seq.Add(1),
		Kind:        t.Kind(),
		EncounterID: encounterID,
		Task:        t,
	}
	select {
	case q.ch <- env:
		metrics.PersistTasksTotal.WithLabelValues(string(env.Kind), "queued").Inc()
		return true
	default:
		q.dropped.Add(1)
		metrics.PersistTasksTotal.WithLabelValues(string(env.Kind), "dropped").Inc()
		return false
	}
}

// Dropped returns the number of tasks lost to a full queue.
func (q *Queue) Dropped() uint64 { return q.dropped.Load() }

// Len returns the number of tasks waiting.
func (q *Queue) Len() int { return len(q.ch) }

// Run drains the queue into the sink in order until ctx is cancelled, then
// flushes what is still buffered and closes the sink.
func (q *Queue) Run(ctx context.Context) error {
	q.logger.Info("persist queue started", "sink", q.sink.Name(), "capacity", cap(q.ch))
	defer func() {
		if err := q.sink.Close(); err != nil {
			q.logger.Error("failed to close sink", "sink", q.sink.Name(), "error", err)
		}
		q.logger.Info("persist queue stopped", "dropped", q.Dropped())
	}()

	batch := make([]Envelope, 0, maxBatch)
	for {
		select {
		case <-ctx.Done():
			return q.drain()
		case env := <-q.ch:
			batch = append(batch[:0], env)
			batch = q.fill(batch)
			q.write(ctx, batch)
		}
	}
}

// fill appends whatever is immediately available, up to maxBatch.
func (q *Queue) fill(batch []Envelope) []Envelope {
	for len(batch) < maxBatch {
		select {
		case env := <-q.ch:
			batch = append(batch, env)
		default:
			return batch
		}
	}
	return batch
}

func (q *Queue) drain() error {
	ctx, cancel := context.WithTimeout(context.Background(), drainTimeout)
	defer cancel()

	batch := make([]Envelope, 0, maxBatch)
	for {
		batch = q.fill(batch[:0])
		if len(batch) == 0 {
			return nil
		}
		q.write(ctx, batch)
		if ctx.Err() != nil {
			q.logger.Warn("persist drain timed out", "remaining", q.Len())
			return ctx.Err()
		}
	}
}

func (q *Queue) write(ctx context.Context, batch []Envelope) {
	result := "written"
	if err := q.sink.Write(ctx, batch); err != nil {
		result = "failed"
		q.logger.Error("failed to write tasks", "sink", q.sink.Name(), "count", len(batch), "error", err)
	}
	for _, env := range batch {
		metrics.PersistTasksTotal.WithLabelValues(string(env.Kind), result).Inc()
	}
}
