package pipeline

import (
	"time"

	"firestige.xyz/meter/internal/capture"
	"firestige.xyz/meter/internal/encounter"
	"firestige.xyz/meter/internal/protocol"
)

// Builder provides a fluent interface for building pipelines.
// This is an alternative to calling New directly.
type Builder struct {
	config   Config
	capturer capture.Capturer
	manager  *encounter.Manager
	scenes   protocol.SceneLookup
}

// NewBuilder creates a new pipeline builder.
func NewBuilder() *Builder {
	return &Builder{
		config: Config{
			BufferSize:    defaultBufferSize,
			ControlBuffer: defaultControlBuffer,
			TickInterval:  defaultTickInterval,
		},
	}
}

// WithConfig replaces the whole configuration.
func (b *Builder) WithConfig(cfg Config) *Builder {
	b.config = cfg
	return b
}

// WithCapturer sets the packet source.
func (b *Builder) WithCapturer(c capture.Capturer) *Builder {
	b.capturer = c
	return b
}

// WithManager sets the encounter manager receiving events.
func (b *Builder) WithManager(m *encounter.Manager) *Builder {
	b.manager = m
	return b
}

// WithScenes sets the scene lookup used by the message decoder.
func (b *Builder) WithScenes(s protocol.SceneLookup) *Builder {
	b.scenes = s
	return b
}

// WithBufferSize sets the raw packet channel buffer size.
func (b *Builder) WithBufferSize(size int) *Builder {
	b.config.BufferSize = size
	return b
}

// WithTickInterval sets how often time-driven encounter state advances.
func (b *Builder) WithTickInterval(d time.Duration) *Builder {
	b.config.TickInterval = d
	return b
}

// WithReplay drives time from packet timestamps.
func (b *Builder) WithReplay(replay bool) *Builder {
	b.config.Replay = replay
	return b
}

// Build creates the pipeline.
func (b *Builder) Build() (*Pipeline, error) {
	return New(b.config, b.capturer, b.manager, b.scenes)
}
