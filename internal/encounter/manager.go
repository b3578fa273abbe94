package encounter

import (
	"cmp"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"firestige.xyz/meter/internal/config"
	"firestige.xyz/meter/internal/log"
	"firestige.xyz/meter/internal/metrics"
	"firestige.xyz/meter/internal/persist"
	"firestige.xyz/meter/internal/phase"
	"firestige.xyz/meter/internal/protocol"
)

// GameData resolves names, boss flags and class specialisations.
type GameData interface {
	SceneName(id int32) string
	MonsterName(typeID int32) (string, bool)
	IsBoss(typeID int32, name string) bool
	SkillSpec(skillID int32) (spec string, classID int32, ok bool)
	BuffName(id int32) (string, bool)
}

// Config tunes encounter bookkeeping.
type Config struct {
	OverworldScenes  []int32
	BossMaxHPMin     int64 // 0 disables the HP pool rule
	LowHPPercent     float64
	LowHPHold        time.Duration
	DeathDedupe      time.Duration
	RollbackPercent  float64
	RollbackCooldown time.Duration
	PhaseTimeout     time.Duration
	WipeDetection    bool
	DungeonSegments  bool
	SegmentTimeout   time.Duration
}

// DefaultConfig matches the configuration defaults.
func DefaultConfig() Config {
	return Config{
		OverworldScenes:  []int32{8},
		LowHPPercent:     5,
		LowHPHold:        5 * time.Second,
		DeathDedupe:      2 * time.Second,
		RollbackPercent:  95,
		RollbackCooldown: 2 * time.Second,
		PhaseTimeout:     phase.DefaultTimeout,
		WipeDetection:    true,
		DungeonSegments:  true,
		SegmentTimeout:   15 * time.Second,
	}
}

// ConfigFrom converts the loaded configuration.
func ConfigFrom(enc config.EncounterConfig, ph config.PhaseConfig) Config {
	def := DefaultConfig()
	cfg := Config{
		BossMaxHPMin:     enc.BossMaxHPMin,
		LowHPPercent:     enc.LowHPPercent,
		LowHPHold:        config.Duration(enc.LowHPHold, def.LowHPHold),
		DeathDedupe:      config.Duration(enc.DeathDedupe, def.DeathDedupe),
		RollbackPercent:  enc.RollbackThreshold * 100,
		RollbackCooldown: config.Duration(enc.RollbackCooldown, def.RollbackCooldown),
		PhaseTimeout:     config.Duration(ph.Timeout, def.PhaseTimeout),
		WipeDetection:    enc.WipeDetection,
		DungeonSegments:  enc.DungeonSegments,
		SegmentTimeout:   config.Duration(enc.SegmentTimeout, def.SegmentTimeout),
	}
	for _, id := range enc.OverworldScenes {
		cfg.OverworldScenes = append(cfg.OverworldScenes, int32(id))
	}
	if cfg.LowHPPercent <= 0 {
		cfg.LowHPPercent = def.LowHPPercent
	}
	if cfg.RollbackPercent <= 0 {
		cfg.RollbackPercent = def.RollbackPercent
	}
	return cfg
}

// Manager owns the live Encounter. Apply, Tick and Close are called by the
// single pipeline writer; View may be called from any goroutine.
type Manager struct {
	mu  sync.RWMutex
	enc *Encounter

	cfg      Config
	data     GameData
	tasks    persist.Enqueuer
	notifier Notifier
	logger   *slog.Logger
	newID    func() string

	// runtime toggles, guarded by mu
	wipeDetection bool
	segments      bool

	pending []Notification
}

// Option customises a Manager.
type Option func(*Manager)

// WithIDs overrides encounter id generation.
func WithIDs(fn func() string) Option {
	return func(m *Manager) { m.newID = fn }
}

// NewManager creates a manager with an idle encounter. tasks and notifier
// may be nil.
func NewManager(cfg Config, data GameData, tasks persist.Enqueuer, notifier Notifier, opts ...Option) *Manager {
	if notifier == nil {
		notifier = nopNotifier{}
	}
	m := &Manager{
		cfg:      cfg,
		data:     data,
		tasks:    tasks,
		notifier: notifier,
		logger:   log.Component("encounter"),
		newID:    func() string { return uuid.NewString() },

		wipeDetection: cfg.WipeDetection,
		segments:      cfg.DungeonSegments,
	}
	for _, opt := range opts {
		opt(m)
	}
	m.enc = newEncounter(phase.New(cfg.PhaseTimeout, m.phaseClosed))
	return m
}

// View runs fn with the read lock held. fn must not retain enc.
func (m *Manager) View(fn func(enc *Encounter)) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	fn(m.enc)
}

// Snapshot returns summary values of the encounter.
func (m *Manager) Snapshot() Summary {
	var s Summary
	m.View(func(enc *Encounter) { s = summarize(enc) })
	return s
}

// Apply applies one event with the write lock held. Notifications raised
// while applying are delivered after the lock is released.
func (m *Manager) Apply(ev protocol.StateEvent, nowMs int64) {
	start := time.Now()
	m.mu.Lock()
	m.apply(ev, nowMs)
	pending := m.takePending()
	m.mu.Unlock()
	metrics.ApplyLatencySeconds.Observe(time.Since(start).Seconds())

	m.dispatch(pending)
}

// Tick advances time-driven state: phase timeouts and the low HP boss rule.
func (m *Manager) Tick(nowMs int64) {
	m.mu.Lock()
	enc := m.enc
	if enc.Active() {
		enc.phases.Tick(nowMs)
		m.checkLowHP(nowMs)
		m.tickSegments(nowMs)
	}
	pending := m.takePending()
	m.mu.Unlock()

	m.dispatch(pending)
}

// Close ends the encounter for shutdown.
func (m *Manager) Close(nowMs int64) {
	m.mu.Lock()
	m.end(nowMs, false, "shutdown")
	pending := m.takePending()
	m.mu.Unlock()

	m.dispatch(pending)
}

// SetWipeDetection turns attempt splitting on party wipes on or off.
func (m *Manager) SetWipeDetection(enabled bool) {
	m.mu.Lock()
	m.wipeDetection = enabled
	m.mu.Unlock()
	m.logger.Info("wipe detection", "enabled", enabled)
}

// Notify forwards a notification that did not originate in the encounter,
// such as capture errors, through the same ordered path.
func (m *Manager) Notify(n Notification) {
	m.notifier.Notify(n)
}

func (m *Manager) takePending() []Notification {
	p := m.pending
	m.pending = nil
	return p
}

func (m *Manager) dispatch(pending []Notification) {
	for _, n := range pending {
		m.notifier.Notify(n)
	}
}

func (m *Manager) queue(n Notification) {
	m.pending = append(m.pending, n)
}

// enqueue queues an encounter-scoped task. Nothing is queued for idle or
// overworld encounters.
func (m *Manager) enqueue(t persist.Task) {
	if m.enc.persisted {
		m.send(t)
	}
}

func (m *Manager) send(t persist.Task) {
	if m.tasks != nil {
		m.tasks.Enqueue(m.enc.ID, t)
	}
}

func (m *Manager) apply(ev protocol.StateEvent, now int64) {
	enc := m.enc
	if enc.Paused && frozen(ev) {
		return
	}

	switch e := ev.(type) {
	case protocol.Batch:
		for _, sub := range e.Events {
			m.apply(sub, now)
		}
	case protocol.EntityAppear:
		for _, st := range e.Entities {
			m.applyEntity(st, now)
		}
	case protocol.EntityDisappear:
		// entities stay known so later deltas and rows keep their identity
	case protocol.AttributeDelta:
		m.applyEntity(e.Entity, now)
		m.checkAttempts(now)
	case protocol.CombatDelta:
		m.applyCombat(e, now)
		m.checkAttempts(now)
	case protocol.BuffUpdate:
		m.applyBuffs(e, now)
	case protocol.LocalPlayer:
		enc.LocalPlayerUID = e.UID
		m.entity(e.UID, e.UUID, protocol.EntityPlayer)
	case protocol.PlayerProfile:
		m.applyProfile(e, now)
	case protocol.ServerTimeSync:
		enc.ServerOffsetMs = e.ServerMs - e.ClientMs
	case protocol.Revive:
		m.applyRevive(e, now)
	case protocol.SceneChange:
		m.applyScene(e, now)
	case protocol.PauseToggle:
		enc.Paused = !enc.Paused
		if enc.Paused {
			m.queue(Notification{Kind: NotifyPause})
		} else {
			m.queue(Notification{Kind: NotifyResume})
		}
	case protocol.Reset:
		m.end(now, e.Manual, "reset")
	case protocol.ResetMetrics:
		m.resetMetrics()
	case protocol.ServerChange:
		m.logger.Info("server changed", "flow", e.Flow.String())
		m.end(now, false, "server_change")
		m.queue(Notification{Kind: NotifyServerChange, Data: e.Flow.String()})
	default:
		m.logger.Debug("unhandled event", "event", ev.EventName())
	}
}

// frozen reports whether ev is suppressed while paused.
func frozen(ev protocol.StateEvent) bool {
	switch ev.(type) {
	case protocol.EntityAppear, protocol.AttributeDelta, protocol.CombatDelta,
		protocol.BuffUpdate, protocol.LocalPlayer, protocol.PlayerProfile, protocol.Revive:
		return true
	}
	return false
}

// entity returns uid's entity, creating it on first reference.
func (m *Manager) entity(uid int64, packed uint64, kind protocol.EntityKind) *Entity {
	ent, ok := m.enc.Entities[uid]
	if !ok {
		ent = newEntity(uid, packed, kind)
		m.enc.Entities[uid] = ent
		return ent
	}
	if ent.UUID == 0 {
		ent.UUID = packed
	}
	if ent.Kind == protocol.EntityUnknown {
		ent.Kind = kind
	}
	return ent
}

func (m *Manager) applyEntity(st protocol.EntityState, now int64) {
	ent := m.entity(st.UID, st.UUID, st.Kind)
	for _, id := range st.Attrs.Unknown {
		metrics.UnknownAttrsTotal.WithLabelValues(st.Kind.String()).Inc()
		m.logger.Debug("unknown attribute", "uid", st.UID, "attr", int32(id))
	}
	if len(st.Attrs.Values) == 0 {
		return
	}

	switch ent.Kind {
	case protocol.EntityMonster:
		m.applyMonsterAttrs(ent, st.Attrs, now)
	case protocol.EntityPlayer:
		applyPlayerAttrs(ent, st.Attrs)
		m.upsert(ent, now)
	}
}

func applyPlayerAttrs(ent *Entity, attrs protocol.Attrs) {
	for id, v := range attrs.Values {
		ent.Attrs[id] = v
	}
	if name, ok := attrs.Str(protocol.AttrName); ok && name != "" {
		ent.Name = name
	}
	if v, ok := attrs.Int(protocol.AttrProfessionID); ok {
		ent.ClassID = int32(v)
	}
	if v, ok := attrs.Int(protocol.AttrLevel); ok {
		ent.Level = int32(v)
	}
	if v, ok := attrs.Int(protocol.AttrFightPoint); ok {
		ent.AbilityScore = int32(v)
	}
	if v, ok := attrs.Int(protocol.AttrCurrentHP); ok {
		ent.CurrentHP = v
		ent.HPKnown = true
	}
	if v, ok := attrs.Int(protocol.AttrMaxHP); ok {
		ent.MaxHP = v
	}
}

func (m *Manager) applyMonsterAttrs(ent *Entity, attrs protocol.Attrs, now int64) {
	for id, v := range attrs.Values {
		ent.Attrs[id] = v
	}
	if v, ok := attrs.Int(protocol.AttrTypeID); ok && v > 0 {
		ent.MonsterTypeID = int32(v)
		if name, ok := m.data.MonsterName(ent.MonsterTypeID); ok {
			ent.Name = name
		}
	}
	if name, ok := attrs.Str(protocol.AttrName); ok && name != "" && ent.MonsterTypeID == 0 {
		ent.Name = name
	}
	if v, ok := attrs.Int(protocol.AttrMaxHP); ok {
		ent.MaxHP = v
	}
	if v, ok := attrs.Int(protocol.AttrCurrentHP); ok {
		ent.CurrentHP = v
		ent.HPKnown = true
	}
	m.classifyBoss(ent)

	if ent.IsBoss && ent.HPKnown && ent.CurrentHP <= 0 && m.enc.Active() {
		m.bossDied(ent, now)
	}
}

func (m *Manager) classifyBoss(ent *Entity) {
	if ent.Kind != protocol.EntityMonster {
		return
	}
	ent.IsBoss = m.data.IsBoss(ent.MonsterTypeID, ent.Name) ||
		(m.cfg.BossMaxHPMin > 0 && ent.MaxHP >= m.cfg.BossMaxHPMin)
}

func (m *Manager) applyProfile(p protocol.PlayerProfile, now int64) {
	ent := m.entity(p.CharID, 0, protocol.EntityPlayer)
	ent.Kind = protocol.EntityPlayer
	if p.Name != "" {
		ent.Name = p.Name
		ent.Attrs[protocol.AttrName] = protocol.StrValue(p.Name)
	}
	if p.ProfessionID != 0 {
		ent.ClassID = p.ProfessionID
		ent.Attrs[protocol.AttrProfessionID] = protocol.VarintValue(uint64(p.ProfessionID))
	}
	if p.Level != 0 {
		ent.Level = p.Level
		ent.Attrs[protocol.AttrLevel] = protocol.VarintValue(uint64(p.Level))
	}
	if p.FightPoint != 0 {
		ent.AbilityScore = p.FightPoint
		ent.Attrs[protocol.AttrFightPoint] = protocol.VarintValue(uint64(p.FightPoint))
	}
	if m.enc.LocalPlayerUID == 0 {
		m.enc.LocalPlayerUID = p.CharID
	}
	m.upsert(ent, now)
}

func (m *Manager) upsert(ent *Entity, now int64) {
	if ent.Kind != protocol.EntityPlayer {
		return
	}
	m.send(persist.UpsertEntity{
		EntityID:     ent.UID,
		Name:         ent.Name,
		ClassID:      ent.ClassID,
		ClassSpec:    ent.ClassSpec,
		AbilityScore: ent.AbilityScore,
		Level:        ent.Level,
		SeenAtMs:     now,
		Attributes:   ent.attributeStrings(),
	})
}

func (m *Manager) applyRevive(r protocol.Revive, now int64) {
	enc := m.enc
	if last, ok := enc.revives[r.UID]; ok && abs(now-last) <= m.cfg.DeathDedupe.Milliseconds() {
		return
	}
	enc.revives[r.UID] = now
	delete(enc.deaths, r.UID)
	m.enqueue(persist.InsertReviveEvent{
		TimestampMs:   now,
		ActorID:       r.UID,
		IsLocalPlayer: r.UID == enc.LocalPlayerUID,
		AttemptIndex:  enc.AttemptIndex,
	})
}

func (m *Manager) applyScene(s protocol.SceneChange, now int64) {
	enc := m.enc
	changed := s.Known != enc.SceneKnown || s.SceneID != enc.SceneID
	if changed && enc.Active() {
		m.end(now, false, "scene_change")
	}
	if changed {
		m.closeOpenSegments(now)
	}

	enc.SceneID = s.SceneID
	enc.SceneKnown = s.Known
	if s.Known {
		enc.SceneName = m.data.SceneName(s.SceneID)
	} else {
		enc.SceneID = 0
		enc.SceneName = ""
	}
	if changed {
		enc.dungeon = newDungeon(enc.SceneID, enc.SceneName)
	}
	m.logger.Info("scene changed", "scene", enc.SceneID, "name", enc.SceneName, "source", s.Source)
	m.queue(Notification{Kind: NotifySceneChange, Data: SceneInfo{
		SceneID: enc.SceneID,
		Known:   enc.SceneKnown,
		Name:    enc.SceneName,
	}})
}

func (m *Manager) overworld() bool {
	return m.enc.SceneKnown && slices.Contains(m.cfg.OverworldScenes, m.enc.SceneID)
}

// beginFight starts the encounter on its first combat.
func (m *Manager) beginFight(now int64) {
	enc := m.enc
	enc.ID = m.newID()
	enc.StartedAtMs = now
	enc.LastCombatMs = now
	enc.AttemptIndex = 1
	enc.lastSplitMs = now
	enc.persisted = !m.overworld()

	m.logger.Info("encounter started", "id", enc.ID, "scene", enc.SceneID, "persisted", enc.persisted)
	m.enqueue(persist.BeginEncounter{
		StartedAtMs:   now,
		LocalPlayerID: enc.LocalPlayerUID,
		SceneID:       enc.SceneID,
		SceneName:     enc.SceneName,
	})
	hp := m.bossHP()
	m.enqueue(persist.BeginAttempt{
		AttemptIndex: 1,
		StartedAtMs:  now,
		Reason:       ReasonInitial,
		BossHPStart:  hp,
	})
	if pct, ok := m.bossPercent(); ok {
		enc.lowestBoss, enc.hasLowest = pct, true
	}
}

// end closes the encounter and resets combat state. It is a no-op for an
// idle encounter.
func (m *Manager) end(now int64, manual bool, reason string) {
	enc := m.enc
	if !enc.Active() {
		if manual {
			m.queue(Notification{Kind: NotifyReset, Data: ResetInfo{Manual: true, Reason: reason}})
		}
		return
	}
	id := enc.ID

	m.closeOpenSegments(now)
	m.saveBuffs()
	enc.phases.End()
	m.enqueue(persist.EndAttempt{
		AttemptIndex: enc.AttemptIndex,
		EndedAtMs:    now,
		BossHPEnd:    m.bossHP(),
		TotalDeaths:  enc.attemptDeath,
	})
	m.enqueue(persist.EndEncounter{
		EndedAtMs:      now,
		DefeatedBosses: slices.Clone(enc.DefeatedBosses),
		Manual:         manual,
	})
	m.logger.Info("encounter ended", "id", id, "reason", reason, "events", len(enc.Events), "damage", enc.TotalDamage)

	enc.resetFight()
	m.queue(Notification{Kind: NotifyReset, Data: ResetInfo{EncounterID: id, Manual: manual, Reason: reason}})
}

// resetMetrics zeroes player metrics mid fight, typically between dungeon
// segments. The encounter keeps running and nothing is persisted.
func (m *Manager) resetMetrics() {
	enc := m.enc
	var segment string
	if s, ok := enc.CurrentSegment(); ok {
		segment = s.Name()
	}
	enc.resetMetrics()
	m.logger.Info("player metrics reset", "encounter", enc.ID, "segment", segment)
	m.queue(Notification{Kind: NotifyMetricsReset, Data: MetricsResetInfo{EncounterID: enc.ID, SegmentName: segment}})
}

func (m *Manager) phaseClosed(p phase.Phase) {
	actors := make([]persist.PhaseActor, 0, len(p.Actors))
	for uid, s := range p.Actors {
		actors = append(actors, persist.PhaseActor{ActorID: uid, Damage: s.Damage, Heal: s.Heal, Taken: s.Taken})
	}
	slices.SortFunc(actors, func(a, b persist.PhaseActor) int { return cmp.Compare(a.ActorID, b.ActorID) })
	m.logger.Debug("phase closed", "id", p.ID, "label", p.Label, "outcome", p.Outcome)
	m.enqueue(persist.InsertPhase{
		PhaseID:     p.ID,
		Type:        string(p.Type),
		Label:       p.Label,
		StartedAtMs: p.StartedAtMs,
		EndedAtMs:   p.EndedAtMs,
		Outcome:     string(p.Outcome),
		BossIDs:     slices.Clone(p.BossIDs),
		Actors:      actors,
	})
}

func abs(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}
