// Package encounter holds the live encounter and applies decoded protocol
// events to it from a single writer.
package encounter

import (
	"cmp"
	"slices"

	"firestige.xyz/meter/internal/phase"
)

// EventKind classifies a combat event.
type EventKind uint8

const (
	EventDamage EventKind = iota
	EventHeal
)

func (k EventKind) String() string {
	if k == EventHeal {
		return "heal"
	}
	return "damage"
}

// CombatEvent is one damage or heal record in arrival order.
type CombatEvent struct {
	TimestampMs int64
	SourceUID   int64
	TargetUID   int64
	SkillID     int32
	Amount      int64
	IsCrit      bool
	IsLucky     bool
	Kind        EventKind
	TargetBoss  bool
}

// Encounter is one recording session. ID is empty until the first combat.
type Encounter struct {
	ID             string
	StartedAtMs    int64
	LastCombatMs   int64
	LocalPlayerUID int64
	SceneID        int32
	SceneKnown     bool
	SceneName      string
	Paused         bool
	ServerOffsetMs int64

	Entities map[int64]*Entity
	Events   []CombatEvent

	TotalDamage     int64
	TotalBossDamage int64
	TotalHeal       int64

	AttemptIndex   int
	DefeatedBosses []string

	phases    *phase.Detector
	persisted bool

	seen         map[int64]struct{} // players upserted during this fight
	party        map[int64]struct{}
	deaths       map[int64]int64 // last recorded death per actor, current attempt
	revives      map[int64]int64
	attemptDeath int
	lowestBoss   float64 // percent, valid when hasLowest
	hasLowest    bool
	lastSplitMs  int64
	lowHPSince   map[int64]int64
	deadBosses   map[int64]struct{}
	buffs        map[buffKey][]BuffSpan

	dungeon *dungeon // scene scoped, survives resets
}

func newEncounter(p *phase.Detector) *Encounter {
	e := &Encounter{
		Entities: make(map[int64]*Entity),
		phases:   p,
		dungeon:  newDungeon(0, ""),
	}
	e.resetFight()
	return e
}

// resetFight clears combat state. Entity identities, the local player, the
// scene and the pause flag survive.
func (e *Encounter) resetFight() {
	e.ID = ""
	e.StartedAtMs = 0
	e.LastCombatMs = 0
	e.Events = nil
	e.TotalDamage = 0
	e.TotalBossDamage = 0
	e.TotalHeal = 0
	e.AttemptIndex = 0
	e.DefeatedBosses = nil
	e.persisted = false
	e.seen = make(map[int64]struct{})
	e.party = make(map[int64]struct{})
	e.deaths = make(map[int64]int64)
	e.revives = make(map[int64]int64)
	e.attemptDeath = 0
	e.hasLowest = false
	e.lastSplitMs = 0
	e.lowHPSince = make(map[int64]int64)
	e.deadBosses = make(map[int64]struct{})
	e.buffs = make(map[buffKey][]BuffSpan)
	for _, ent := range e.Entities {
		ent.resetCombat()
	}
	if e.phases != nil {
		e.phases.Reset()
	}
}

// resetMetrics zeroes the combat totals of every entity and keeps the fight
// itself running: start time, attempts, phases and buffs survive.
func (e *Encounter) resetMetrics() {
	e.Events = nil
	e.TotalDamage = 0
	e.TotalBossDamage = 0
	e.TotalHeal = 0
	e.LastCombatMs = e.StartedAtMs
	for _, ent := range e.Entities {
		ent.resetCombat()
	}
}

// Active reports whether a fight has started.
func (e *Encounter) Active() bool { return e.ID != "" }

// ElapsedMs is wall time from the first to the last combat.
func (e *Encounter) ElapsedMs() int64 {
	if !e.Active() {
		return 0
	}
	return max(e.LastCombatMs-e.StartedAtMs, 0)
}

// Entity returns the entity with uid.
func (e *Encounter) Entity(uid int64) (*Entity, bool) {
	ent, ok := e.Entities[uid]
	return ent, ok
}

// Bosses returns the boss entities, largest HP pool first.
func (e *Encounter) Bosses() []*Entity {
	var out []*Entity
	for _, ent := range e.Entities {
		if ent.IsBoss {
			out = append(out, ent)
		}
	}
	slices.SortFunc(out, func(a, b *Entity) int {
		if c := cmp.Compare(b.MaxHP, a.MaxHP); c != 0 {
			return c
		}
		return cmp.Compare(a.UID, b.UID)
	})
	return out
}

// Boss is the boss with the largest HP pool.
func (e *Encounter) Boss() (*Entity, bool) {
	bosses := e.Bosses()
	if len(bosses) == 0 {
		return nil, false
	}
	return bosses[0], true
}

// BossDead reports whether uid was counted as a defeated boss.
func (e *Encounter) BossDead(uid int64) bool {
	_, ok := e.deadBosses[uid]
	return ok
}

// CurrentPhase returns the open phase.
func (e *Encounter) CurrentPhase() (phase.Phase, bool) { return e.phases.Current() }

// ClosedPhases returns the closed phases in order.
func (e *Encounter) ClosedPhases() []phase.Phase { return e.phases.Closed() }

// ActiveDurationMs is the summed phase time, downtime excluded.
func (e *Encounter) ActiveDurationMs() int64 { return e.phases.ActiveDurationMs() }

// ActivePerSecond divides amount by the active duration.
func (e *Encounter) ActivePerSecond(amount int64) float64 {
	return e.phases.ActivePerSecond(amount)
}

// Deaths is the number of deaths recorded in the current attempt.
func (e *Encounter) Deaths() int { return e.attemptDeath }
