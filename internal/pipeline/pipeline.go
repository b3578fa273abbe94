// Package pipeline runs the single-writer processing chain from captured
// packets to encounter state.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"firestige.xyz/meter/internal/capture"
	"firestige.xyz/meter/internal/command"
	"firestige.xyz/meter/internal/config"
	"firestige.xyz/meter/internal/core"
	"firestige.xyz/meter/internal/encounter"
	"firestige.xyz/meter/internal/fragment"
	"firestige.xyz/meter/internal/frame"
	"firestige.xyz/meter/internal/identify"
	"firestige.xyz/meter/internal/metrics"
	"firestige.xyz/meter/internal/protocol"
	"firestige.xyz/meter/internal/reassembly"
)

const (
	defaultBufferSize    = 4096
	defaultControlBuffer = 64
	defaultTickInterval  = 250 * time.Millisecond

	// consecutive decompression failures treated as a lost stream
	maxDecompressFailures = 3
)

// Config contains pipeline configuration.
type Config struct {
	BufferSize    int // Raw packet channel capacity
	ControlBuffer int
	TickInterval  time.Duration
	Restart       config.RestartConfig
	Identify      config.IdentifyConfig
	Reassembly    config.ReassemblyConfig
	Frame         config.FrameConfig
	Fragment      config.FragmentConfig
	// Replay takes time from packet timestamps instead of the wall clock.
	Replay bool
}

// ConfigFrom builds a pipeline config from the global config.
func ConfigFrom(g *config.GlobalConfig) Config {
	return Config{
		BufferSize:    g.Capture.BufferSize,
		ControlBuffer: g.Pipeline.ControlBuffer,
		TickInterval:  config.Duration(g.Pipeline.TickInterval, defaultTickInterval),
		Restart:       g.Capture.Restart,
		Identify:      g.Identify,
		Reassembly:    g.Reassembly,
		Frame:         g.Frame,
		Fragment:      g.Fragment,
	}
}

// Pipeline owns every stage after capture. Packets, controls and ticks are
// handled by one goroutine, so events reach the manager in capture order.
type Pipeline struct {
	cfg     Config
	source  *capture.Supervisor
	name    string
	decoder *capture.Decoder
	ident   *identify.Identifier
	stream  *reassembly.Stream
	frames  *frame.Reassembler
	parser  *fragment.Parser
	proto   *protocol.Decoder
	manager *encounter.Manager
	metrics *Metrics
	logger  *slog.Logger

	raw      chan core.RawPacket
	controls chan command.Control
	done     chan struct{}

	// packet clock, replay only
	packetMs   int64
	lastTickMs int64

	decompressFailures int
}

// New creates a pipeline reading from src into m. scenes resolves scene ids
// found in scene payloads; nil disables the search.
func New(cfg Config, src capture.Capturer, m *encounter.Manager, scenes protocol.SceneLookup) (*Pipeline, error) {
	if src == nil || m == nil {
		return nil, fmt.Errorf("pipeline: capturer and manager are required")
	}
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = defaultBufferSize
	}
	if cfg.ControlBuffer <= 0 {
		cfg.ControlBuffer = defaultControlBuffer
	}
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = defaultTickInterval
	}

	parser, err := fragment.NewParser(fragment.Config{
		ServiceID:           cfg.Fragment.ServiceID,
		MaxDecompressedSize: cfg.Fragment.MaxDecompressedSize,
		MaxDepth:            cfg.Fragment.MaxDepth,
		MaxFrameSize:        cfg.Frame.MaxFrameSize,
	})
	if err != nil {
		return nil, err
	}

	return &Pipeline{
		cfg:     cfg,
		source:  capture.NewSupervisor(src, cfg.Restart, captureListener(m)),
		name:    src.Name(),
		decoder: capture.NewDecoder(),
		ident:   identify.New(identify.Signatures(cfg.Identify)),
		stream: reassembly.NewStream(reassembly.Config{
			MaxBufferedBytes: cfg.Reassembly.MaxBufferedBytes,
			RegressionReset:  cfg.Reassembly.RegressionReset,
		}),
		frames: frame.New(frame.Config{
			MaxFrameSize:     cfg.Frame.MaxFrameSize,
			CompactThreshold: cfg.Frame.CompactThreshold,
		}),
		parser:   parser,
		proto:    protocol.NewDecoder(scenes),
		manager:  m,
		metrics:  &Metrics{},
		logger:   slog.Default().With("component", "pipeline", "source", src.Name()),
		raw:      make(chan core.RawPacket, cfg.BufferSize),
		controls: make(chan command.Control, cfg.ControlBuffer),
		done:     make(chan struct{}),
	}, nil
}

// Submit queues a control for the processing loop.
func (p *Pipeline) Submit(ctx context.Context, ctl command.Control) error {
	select {
	case <-p.done:
		return core.ErrPipelineStopped
	default:
	}
	select {
	case p.controls <- ctl:
		return nil
	case <-p.done:
		return core.ErrPipelineStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stats returns the pipeline counters.
func (p *Pipeline) Stats() Stats {
	return p.metrics.snapshot()
}

// CaptureStats returns the capture source counters.
func (p *Pipeline) CaptureStats() capture.Stats {
	return p.source.Stats()
}

// Run captures and processes until ctx is cancelled or a finite source is
// exhausted and drained.
func (p *Pipeline) Run(ctx context.Context) error {
	defer close(p.done)
	defer p.parser.Close()

	p.logger.Info("pipeline starting", "replay", p.cfg.Replay)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		defer close(p.raw)
		return p.source.Run(gctx, p.raw)
	})
	g.Go(func() error {
		return p.processLoop(gctx)
	})

	err := g.Wait()
	p.logger.Info("pipeline stopped", "stats", p.Stats())
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func (p *Pipeline) processLoop(ctx context.Context) error {
	var tickC <-chan time.Time
	if !p.cfg.Replay {
		ticker := time.NewTicker(p.cfg.TickInterval)
		defer ticker.Stop()
		tickC = ticker.C
	}

	for {
		select {
		case <-ctx.Done():
			return nil

		case ctl := <-p.controls:
			p.handleControl(ctl)

		case now := <-tickC:
			p.manager.Tick(now.UnixMilli())

		case raw, ok := <-p.raw:
			if !ok {
				if p.cfg.Replay && p.packetMs > 0 {
					p.manager.Tick(p.packetMs)
				}
				return nil
			}
			p.processPacket(raw)
		}
	}
}

// Now returns the pipeline clock in Unix milliseconds. In replay it is the
// time of the last packet; read it only after Run returned.
func (p *Pipeline) Now() int64 {
	return p.now()
}

func (p *Pipeline) now() int64 {
	if p.cfg.Replay {
		return p.packetMs
	}
	return time.Now().UnixMilli()
}

func (p *Pipeline) handleControl(ctl command.Control) {
	p.metrics.Controls.Add(1)
	p.logger.Info("control", "kind", ctl.Kind, "reason", ctl.Reason)

	switch ctl.Kind {
	case command.ControlReset:
		p.manager.Apply(protocol.Reset{Manual: true}, p.now())
	case command.ControlTogglePause:
		p.manager.Apply(protocol.PauseToggle{}, p.now())
	case command.ControlResetMetrics:
		p.manager.Apply(protocol.ResetMetrics{}, p.now())
	case command.ControlRestartCapture:
		p.resync()
		reason := ctl.Reason
		if reason == "" {
			reason = "requested"
		}
		p.source.RequestRestart(reason)
	default:
		p.logger.Warn("unknown control", "kind", ctl.Kind)
	}
}

// processPacket runs one raw packet through every stage.
func (p *Pipeline) processPacket(raw core.RawPacket) {
	p.metrics.Received.Add(1)
	if p.cfg.Replay {
		p.advanceClock(raw.Timestamp)
	}

	seg, ok := p.decoder.Decode(raw)
	if !ok {
		p.metrics.Skipped.Add(1)
		metrics.CapturePacketsTotal.WithLabelValues(p.name, "skipped").Inc()
		return
	}
	p.metrics.Decoded.Add(1)
	metrics.CapturePacketsTotal.WithLabelValues(p.name, "tcp").Inc()

	res := p.ident.Inspect(seg)
	switch res.Verdict {
	case identify.Drop:
		p.metrics.Skipped.Add(1)
		return
	case identify.Identified:
		p.metrics.Identified.Add(1)
		p.stream.ResetTo(res.Next)
		p.frames.Reset()
		p.decompressFailures = 0
		p.apply(protocol.ServerChange{Flow: seg.Flow})
		return
	}

	out := p.stream.Push(seg)
	if out.ResetBefore {
		p.frames.Reset()
	}
	if len(out.Data) > 0 {
		p.frames.Write(out.Data)
		p.drainFrames()
	}
	if out.ResetAfter {
		p.frames.Reset()
	}
}

// advanceClock moves the packet clock and ticks the manager whenever a tick
// interval of packet time has passed.
func (p *Pipeline) advanceClock(ts time.Time) {
	ms := ts.UnixMilli()
	if ms < p.packetMs {
		return
	}
	p.packetMs = ms
	if p.lastTickMs == 0 {
		p.lastTickMs = ms
		return
	}
	if ms-p.lastTickMs >= p.cfg.TickInterval.Milliseconds() {
		p.lastTickMs = ms
		p.manager.Tick(ms)
	}
}

func (p *Pipeline) drainFrames() {
	for {
		f, err := p.frames.Next()
		if err != nil {
			metrics.FramesTotal.WithLabelValues("desync").Inc()
			p.desync(err)
			return
		}
		if f == nil {
			return
		}
		p.metrics.Frames.Add(1)
		metrics.FramesTotal.WithLabelValues("ok").Inc()

		if !p.handleFrame(f) {
			return
		}
	}
}

// handleFrame decodes and applies every message in f. It reports false when
// the stream was declared desynchronized.
func (p *Pipeline) handleFrame(f frame.Frame) bool {
	msgs, err := p.parser.Parse(f)
	if err != nil {
		if errors.Is(err, fragment.ErrDecompress) {
			p.decompressFailures++
			if p.decompressFailures >= maxDecompressFailures {
				p.desync(err)
				return false
			}
		}
		p.logger.Debug("fragment error", "error", err)
	} else {
		p.decompressFailures = 0
	}

	for _, msg := range msgs {
		p.metrics.Messages.Add(1)
		op, ok := msg.Opcode()
		if !ok {
			continue
		}
		ev, ok, err := p.proto.Decode(protocol.Method(op), msg.Payload)
		if err != nil {
			p.logger.Debug("decode failed", "method", protocol.Method(op).String(), "error", err)
			continue
		}
		if ok {
			p.apply(ev)
		}
	}
	return true
}

func (p *Pipeline) apply(ev protocol.StateEvent) {
	p.metrics.Events.Add(1)
	p.manager.Apply(ev, p.now())
}

// desync drops all stream state and forgets the server flow so the
// identifier runs again.
func (p *Pipeline) desync(cause error) {
	p.metrics.Desyncs.Add(1)
	p.logger.Warn("stream desynchronized, re-identifying server", "error", cause)
	p.manager.Notify(encounter.Notification{
		Kind: encounter.NotifyCaptureError,
		Data: capture.ErrorInfo{Source: p.name, Stage: capture.StageStream, Error: cause.Error()},
	})
	p.resync()
}

// captureListener forwards supervisor events to the manager's notifier.
func captureListener(m *encounter.Manager) capture.Listener {
	return func(kind capture.EventKind, info any) {
		switch kind {
		case capture.EventError:
			m.Notify(encounter.Notification{Kind: encounter.NotifyCaptureError, Data: info})
		case capture.EventRestarted:
			m.Notify(encounter.Notification{Kind: encounter.NotifyCaptureRestarted, Data: info})
		}
	}
}

func (p *Pipeline) resync() {
	p.ident.Clear()
	p.stream.Reassembler().Reset(nil)
	p.frames.Reset()
	p.decompressFailures = 0
}
