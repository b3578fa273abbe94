package encounter

import (
	"strconv"

	"firestige.xyz/meter/internal/protocol"
)

// Metric selects one of the per-entity running totals.
type Metric string

const (
	MetricDamage Metric = "dps"
	MetricHeal   Metric = "heal"
	MetricTaken  Metric = "tanked"
)

// ParseMetric accepts the metric names used on the control surface.
func ParseMetric(s string) (Metric, bool) {
	switch Metric(s) {
	case MetricDamage, MetricHeal, MetricTaken:
		return Metric(s), true
	}
	return "", false
}

// SkillStats accumulates hits of one kind, overall or for one skill.
type SkillStats struct {
	Total      int64 `json:"total"`
	Hits       int64 `json:"hits"`
	CritTotal  int64 `json:"crit_total"`
	CritHits   int64 `json:"crit_hits"`
	LuckyTotal int64 `json:"lucky_total"`
	LuckyHits  int64 `json:"lucky_hits"`
}

func (s *SkillStats) add(amount int64, crit, lucky bool) {
	s.Total += amount
	s.Hits++
	if crit {
		s.CritTotal += amount
		s.CritHits++
	}
	if lucky {
		s.LuckyTotal += amount
		s.LuckyHits++
	}
}

// Entity is everything known about one uid in the encounter.
type Entity struct {
	UID           int64
	UUID          uint64
	Kind          protocol.EntityKind
	Name          string
	ClassID       int32
	ClassSpec     string
	Level         int32
	AbilityScore  int32
	MonsterTypeID int32
	IsBoss        bool

	CurrentHP int64
	MaxHP     int64
	HPKnown   bool

	// Attrs holds the last decoded value of every attribute id seen.
	Attrs map[protocol.AttrID]protocol.AttrValue

	Damage     SkillStats
	BossDamage SkillStats
	Heal       SkillStats
	Taken      SkillStats

	DamageSkills     map[int32]*SkillStats
	BossDamageSkills map[int32]*SkillStats
	HealSkills       map[int32]*SkillStats
	TakenSkills      map[int32]*SkillStats

	DmgToTarget      map[int64]int64
	SkillDmgToTarget map[int32]map[int64]int64
}

func newEntity(uid int64, uuid uint64, kind protocol.EntityKind) *Entity {
	e := &Entity{
		UID:   uid,
		UUID:  uuid,
		Kind:  kind,
		Attrs: make(map[protocol.AttrID]protocol.AttrValue),
	}
	e.resetCombat()
	return e
}

// resetCombat zeroes the running totals and keeps identity.
func (e *Entity) resetCombat() {
	e.Damage = SkillStats{}
	e.BossDamage = SkillStats{}
	e.Heal = SkillStats{}
	e.Taken = SkillStats{}
	e.DamageSkills = make(map[int32]*SkillStats)
	e.BossDamageSkills = make(map[int32]*SkillStats)
	e.HealSkills = make(map[int32]*SkillStats)
	e.TakenSkills = make(map[int32]*SkillStats)
	e.DmgToTarget = make(map[int64]int64)
	e.SkillDmgToTarget = make(map[int32]map[int64]int64)
}

// HasCombat reports whether the entity dealt, healed or took anything.
func (e *Entity) HasCombat() bool {
	return e.Damage.Hits > 0 || e.Heal.Hits > 0 || e.Taken.Hits > 0
}

// Stats returns the totals for m. bossOnly restricts damage to boss targets.
func (e *Entity) Stats(m Metric, bossOnly bool) SkillStats {
	switch m {
	case MetricHeal:
		return e.Heal
	case MetricTaken:
		return e.Taken
	default:
		if bossOnly {
			return e.BossDamage
		}
		return e.Damage
	}
}

// Skills returns the per-skill totals for m.
func (e *Entity) Skills(m Metric, bossOnly bool) map[int32]*SkillStats {
	switch m {
	case MetricHeal:
		return e.HealSkills
	case MetricTaken:
		return e.TakenSkills
	default:
		if bossOnly {
			return e.BossDamageSkills
		}
		return e.DamageSkills
	}
}

// HPPercent is current over max HP in percent.
func (e *Entity) HPPercent() (float64, bool) {
	if !e.HPKnown || e.MaxHP <= 0 {
		return 0, false
	}
	return float64(e.CurrentHP) / float64(e.MaxHP) * 100, true
}

func skill(m map[int32]*SkillStats, id int32) *SkillStats {
	s, ok := m[id]
	if !ok {
		s = &SkillStats{}
		m[id] = s
	}
	return s
}

// attributeStrings renders the extended attributes for persistence.
func (e *Entity) attributeStrings() map[string]string {
	if len(e.Attrs) == 0 {
		return nil
	}
	out := make(map[string]string, len(e.Attrs))
	for id, v := range e.Attrs {
		key := "0x" + strconv.FormatInt(int64(id), 16)
		if s, err := v.Str(); err == nil {
			out[key] = s
			continue
		}
		out[key] = v.String()
	}
	return out
}
