// Package phase segments combat into mob and boss phases.
package phase

import (
	"fmt"
	"maps"
	"slices"
	"time"
)

// DefaultTimeout closes a phase after this long without combat.
const DefaultTimeout = 15 * time.Second

type Type string

const (
	TypeMob  Type = "mob"
	TypeBoss Type = "boss"
)

type Outcome string

const (
	OutcomeUnknown Outcome = "unknown"
	OutcomeSuccess Outcome = "success"
	OutcomeWipe    Outcome = "wipe"
)

// ActorStats are one actor's totals within a phase.
type ActorStats struct {
	Damage int64
	Heal   int64
	Taken  int64
}

// Phase is one continuous engagement. EndedAtMs is 0 while the phase is open.
type Phase struct {
	ID          int
	Type        Type
	Label       string
	BossIDs     []int64
	StartedAtMs int64
	EndedAtMs   int64
	Outcome     Outcome
	Actors      map[int64]ActorStats
}

// DurationMs is the closed length of the phase.
func (p Phase) DurationMs() int64 {
	return max(p.EndedAtMs-p.StartedAtMs, 0)
}

// Combat is one damage or heal record as seen by the detector.
type Combat struct {
	AtMs         int64
	ActorUID     int64
	TargetUID    int64
	TargetName   string
	TargetIsBoss bool
	Amount       int64
	Heal         bool
	CountTaken   bool // credit Amount to the target's taken total
}

// Detector is the phase state machine of one encounter. It is driven by the
// encounter's single writer and is not safe for concurrent use.
type Detector struct {
	timeoutMs int64
	onClose   func(Phase)

	current    *Phase
	lastCombat int64
	nextID     int
	packs      int
	active     map[int64]struct{}
	defeated   map[int64]struct{}
	closed     []Phase
	closedMs   int64
}

// New creates a detector. onClose, if set, receives every closed phase.
func New(timeout time.Duration, onClose func(Phase)) *Detector {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Detector{
		timeoutMs: timeout.Milliseconds(),
		onClose:   onClose,
		nextID:    1,
		active:    make(map[int64]struct{}),
		defeated:  make(map[int64]struct{}),
	}
}

// OnCombat applies one combat record. A phase whose inactivity window already
// elapsed is closed first, so a boss hit after downtime opens a fresh phase.
func (d *Detector) OnCombat(c Combat) {
	if d.current != nil && c.AtMs-d.lastCombat >= d.timeoutMs {
		d.close(OutcomeUnknown, d.lastCombat)
	}

	_, dead := d.defeated[c.TargetUID]
	boss := c.TargetIsBoss && !dead

	switch {
	case d.current == nil && boss:
		d.open(TypeBoss, bossLabel(c.TargetName), c.AtMs)
		d.addBoss(c.TargetUID)
	case d.current == nil:
		d.packs++
		d.open(TypeMob, fmt.Sprintf("Mob Pack %d", d.packs), c.AtMs)
	case boss && d.current.Type == TypeMob:
		d.current.Type = TypeBoss
		d.current.Label = bossLabel(c.TargetName)
		d.addBoss(c.TargetUID)
	case boss:
		d.addBoss(c.TargetUID)
	}

	stats := d.current.Actors
	if c.Heal {
		s := stats[c.ActorUID]
		s.Heal += c.Amount
		stats[c.ActorUID] = s
	} else {
		s := stats[c.ActorUID]
		s.Damage += c.Amount
		stats[c.ActorUID] = s
		if c.CountTaken {
			t := stats[c.TargetUID]
			t.Taken += c.Amount
			stats[c.TargetUID] = t
		}
	}
	d.lastCombat = c.AtMs
}

func bossLabel(name string) string {
	if name == "" {
		return "Boss"
	}
	return name
}

func (d *Detector) open(t Type, label string, at int64) {
	d.current = &Phase{
		ID:          d.nextID,
		Type:        t,
		Label:       label,
		StartedAtMs: at,
		Actors:      make(map[int64]ActorStats),
	}
	d.nextID++
}

func (d *Detector) addBoss(uid int64) {
	d.active[uid] = struct{}{}
	if !slices.Contains(d.current.BossIDs, uid) {
		d.current.BossIDs = append(d.current.BossIDs, uid)
	}
}

func (d *Detector) close(outcome Outcome, at int64) {
	p := *d.current
	p.EndedAtMs = max(at, p.StartedAtMs)
	p.Outcome = outcome
	d.current = nil
	clear(d.active)

	d.closed = append(d.closed, p)
	d.closedMs += p.DurationMs()
	if d.onClose != nil {
		d.onClose(p)
	}
}

// OnBossDeath marks a boss defeated. The boss phase succeeds once no active
// boss is left.
func (d *Detector) OnBossDeath(uid int64, at int64) {
	d.defeated[uid] = struct{}{}
	if _, ok := d.active[uid]; !ok {
		return
	}
	delete(d.active, uid)
	if d.current != nil && d.current.Type == TypeBoss && len(d.active) == 0 {
		d.close(OutcomeSuccess, at)
	}
}

// OnWipe closes the open phase as a wipe.
func (d *Detector) OnWipe(at int64) {
	if d.current != nil {
		d.close(OutcomeWipe, at)
	}
}

// Tick closes the open phase once now is a full timeout past the last
// combat. The phase ends at the last combat. It reports whether a phase closed.
func (d *Detector) Tick(now int64) bool {
	if d.current == nil || now-d.lastCombat < d.timeoutMs {
		return false
	}
	d.close(OutcomeUnknown, d.lastCombat)
	return true
}

// End closes the open phase at the last combat, for encounter end.
func (d *Detector) End() {
	if d.current != nil {
		d.close(OutcomeUnknown, d.lastCombat)
	}
}

// Current returns a copy of the open phase.
func (d *Detector) Current() (Phase, bool) {
	if d.current == nil {
		return Phase{}, false
	}
	p := *d.current
	p.BossIDs = slices.Clone(p.BossIDs)
	p.Actors = maps.Clone(p.Actors)
	return p, true
}

// Closed returns the closed phases in order.
func (d *Detector) Closed() []Phase {
	return slices.Clone(d.closed)
}

// ActiveDurationMs is the summed length of all phases, the open one counted
// up to its last combat. Gaps between phases are excluded.
func (d *Detector) ActiveDurationMs() int64 {
	total := d.closedMs
	if d.current != nil {
		total += max(d.lastCombat-d.current.StartedAtMs, 0)
	}
	return total
}

// ActivePerSecond divides amount by the active duration, 0 when there is none.
func (d *Detector) ActivePerSecond(amount int64) float64 {
	ms := d.ActiveDurationMs()
	if ms <= 0 {
		return 0
	}
	return float64(amount) / (float64(ms) / 1000)
}

// Reset forgets all phases.
func (d *Detector) Reset() {
	d.current = nil
	d.lastCombat = 0
	d.nextID = 1
	d.packs = 0
	d.closed = nil
	d.closedMs = 0
	clear(d.active)
	clear(d.defeated)
}
