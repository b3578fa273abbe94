package emit

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"firestige.xyz/meter/internal/config"
	"firestige.xyz/meter/internal/encounter"
	"firestige.xyz/meter/internal/metrics"
)

// DefaultThrottle is the emission cadence when none is configured.
const DefaultThrottle = 200 * time.Millisecond

// Source gives read access to the live encounter.
type Source interface {
	View(fn func(enc *encounter.Encounter))
}

// Publisher receives encoded snapshots.
type Publisher interface {
	PublishSnapshot(data json.RawMessage)
}

// Config tunes the emitter.
type Config struct {
	Throttle        time.Duration
	LowHPPercent    float64
	DeadBossTeamDPS float64
}

// ConfigFrom maps the emit and encounter sections.
func ConfigFrom(ec config.EmitConfig, enc config.EncounterConfig) Config {
	c := Config{
		Throttle:        config.Duration(ec.Throttle, DefaultThrottle),
		LowHPPercent:    enc.LowHPPercent,
		DeadBossTeamDPS: enc.DeadBossTeamDPS,
	}
	if c.Throttle <= 0 {
		c.Throttle = DefaultThrottle
	}
	if c.LowHPPercent <= 0 {
		c.LowHPPercent = 5
	}
	if c.DeadBossTeamDPS <= 0 {
		c.DeadBossTeamDPS = 5000
	}
	return c
}

// Emitter builds a snapshot on every tick and publishes it when it changed.
// View settings are guarded separately from the encounter so commands never
// wait on the processing loop.
type Emitter struct {
	src    Source
	names  Names
	pub    Publisher
	cfg    Config
	logger *slog.Logger

	mu       sync.Mutex
	bossOnly bool
	subs     map[Subscription]struct{}
	last     []byte
}

// NewEmitter creates an emitter.
func NewEmitter(src Source, names Names, pub Publisher, cfg Config) *Emitter {
	if cfg.Throttle <= 0 {
		cfg.Throttle = DefaultThrottle
	}
	return &Emitter{
		src:    src,
		names:  names,
		pub:    pub,
		cfg:    cfg,
		logger: slog.Default().With("component", "emitter"),
		subs:   make(map[Subscription]struct{}),
	}
}

// SetBossOnly restricts damage views to boss targets.
func (e *Emitter) SetBossOnly(enabled bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.bossOnly = enabled
}

// Subscribe adds a per-skill breakdown.
func (e *Emitter) Subscribe(uid int64, m encounter.Metric) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.subs[Subscription{UID: uid, Metric: m}] = struct{}{}
}

// Unsubscribe removes a per-skill breakdown.
func (e *Emitter) Unsubscribe(uid int64, m encounter.Metric) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.subs, Subscription{UID: uid, Metric: m})
}

// ClearSubscriptions drops every per-skill breakdown.
func (e *Emitter) ClearSubscriptions() {
	e.mu.Lock()
	defer e.mu.Unlock()
	clear(e.subs)
}

func (e *Emitter) options() Options {
	e.mu.Lock()
	defer e.mu.Unlock()
	o := Options{
		BossOnly:        e.bossOnly,
		LowHPPercent:    e.cfg.LowHPPercent,
		DeadBossTeamDPS: e.cfg.DeadBossTeamDPS,
	}
	for s := range e.subs {
		o.Subscriptions = append(o.Subscriptions, s)
	}
	return o
}

// Build returns the current snapshot.
func (e *Emitter) Build() Snapshot {
	opts := e.options()
	var s Snapshot
	e.src.View(func(enc *encounter.Encounter) {
		s = BuildSnapshot(enc, opts, e.names)
	})
	return s
}

// Emit publishes the current snapshot unless it equals the last one sent.
func (e *Emitter) Emit() bool {
	data, err := json.Marshal(e.Build())
	if err != nil {
		e.logger.Error("encode snapshot", "error", err)
		return false
	}

	e.mu.Lock()
	if bytes.Equal(data, e.last) {
		e.mu.Unlock()
		return false
	}
	e.last = data
	e.mu.Unlock()

	e.pub.PublishSnapshot(data)
	metrics.SnapshotsTotal.Inc()
	return true
}

// Run emits on every throttle tick until ctx is cancelled.
func (e *Emitter) Run(ctx context.Context) error {
	ticker := time.NewTicker(e.cfg.Throttle)
	defer ticker.Stop()

	e.logger.Info("emitter started", "throttle", e.cfg.Throttle)
	for {
		select {
		case <-ctx.Done():
			e.Emit()
			return nil
		case <-ticker.C:
			e.Emit()
		}
	}
}
