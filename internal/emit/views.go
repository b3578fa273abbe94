// Package emit builds presentation views of the live encounter and pushes
// them to clients at a fixed cadence.
package emit

import (
	"cmp"
	"fmt"
	"math"
	"slices"

	"firestige.xyz/meter/internal/encounter"
	"firestige.xyz/meter/internal/protocol"
)

// Names resolves display names for ids.
type Names interface {
	ClassName(id int32) string
	SkillName(id int32) string
}

// Subscription asks for the per-skill breakdown of one player and metric.
type Subscription struct {
	UID    int64            `json:"uid"`
	Metric encounter.Metric `json:"metric"`
}

// Options control how a snapshot is built.
type Options struct {
	BossOnly        bool
	Subscriptions   []Subscription
	LowHPPercent    float64
	DeadBossTeamDPS float64
}

// BossView is one boss in the header.
type BossView struct {
	UID       int64  `json:"uid"`
	Name      string `json:"name"`
	CurrentHP *int64 `json:"current_hp,omitempty"`
	MaxHP     *int64 `json:"max_hp,omitempty"`
	Elite     *int64 `json:"elite_status,omitempty"`
	Dead      bool   `json:"dead,omitempty"`
}

// HeaderView summarises the encounter.
type HeaderView struct {
	TotalDPS     float64    `json:"total_dps"`
	TotalDmg     int64      `json:"total_dmg"`
	ActiveDPS    float64    `json:"active_dps"`
	ElapsedMs    int64      `json:"elapsed_ms"`
	ActiveMs     int64      `json:"active_ms"`
	FightStartMs int64      `json:"fight_start_ms"`
	Bosses       []BossView `json:"bosses"`
	SceneID      int32      `json:"scene_id,omitempty"`
	SceneName    string     `json:"scene_name,omitempty"`
	PhaseType    string     `json:"phase_type,omitempty"`
	PhaseLabel   string     `json:"phase_label,omitempty"`
	SegmentType  string     `json:"segment_type,omitempty"`
	SegmentName  string     `json:"segment_name,omitempty"`
	AttemptIndex int        `json:"attempt_index"`
	Deaths       int        `json:"deaths"`
	Paused       bool       `json:"paused"`
	BossOnly     bool       `json:"boss_only"`
}

// PlayerRow is one player's line for a metric.
type PlayerRow struct {
	UID           int64   `json:"uid"`
	Name          string  `json:"name"`
	ClassName     string  `json:"class_name,omitempty"`
	ClassSpec     string  `json:"class_spec,omitempty"`
	AbilityScore  int32   `json:"ability_score,omitempty"`
	Total         int64   `json:"total"`
	PerSecond     float64 `json:"per_second"`
	Pct           float64 `json:"pct"`
	CritRate      float64 `json:"crit_rate"`
	CritDmgRate   float64 `json:"crit_dmg_rate"`
	LuckyRate     float64 `json:"lucky_rate"`
	LuckyDmgRate  float64 `json:"lucky_dmg_rate"`
	Hits          int64   `json:"hits"`
	HitsPerMinute float64 `json:"hits_per_minute"`

	RankLevel      *int64 `json:"rank_level,omitempty"`
	CurrentHP      *int64 `json:"current_hp,omitempty"`
	MaxHP          *int64 `json:"max_hp,omitempty"`
	CritStat       *int64 `json:"crit_stat,omitempty"`
	LuckyStat      *int64 `json:"lucky_stat,omitempty"`
	Haste          *int64 `json:"haste,omitempty"`
	Mastery        *int64 `json:"mastery,omitempty"`
	ElementFlag    *int64 `json:"element_flag,omitempty"`
	EnergyFlag     *int64 `json:"energy_flag,omitempty"`
	ReductionLevel *int64 `json:"reduction_level,omitempty"`
}

// SkillRow is one skill of a subscribed player.
type SkillRow struct {
	SkillID       int32   `json:"skill_id"`
	Name          string  `json:"name"`
	Total         int64   `json:"total"`
	PerSecond     float64 `json:"per_second"`
	Pct           float64 `json:"pct"`
	CritRate      float64 `json:"crit_rate"`
	CritDmgRate   float64 `json:"crit_dmg_rate"`
	LuckyRate     float64 `json:"lucky_rate"`
	LuckyDmgRate  float64 `json:"lucky_dmg_rate"`
	Hits          int64   `json:"hits"`
	HitsPerMinute float64 `json:"hits_per_minute"`
}

// SkillsView is the breakdown for one subscription.
type SkillsView struct {
	UID    int64            `json:"uid"`
	Metric encounter.Metric `json:"metric"`
	Player PlayerRow        `json:"player"`
	Skills []SkillRow       `json:"skills"`
}

// Snapshot is everything pushed to clients on one tick.
type Snapshot struct {
	EncounterID string                           `json:"encounter_id,omitempty"`
	Header      HeaderView                       `json:"header"`
	Players     map[encounter.Metric][]PlayerRow `json:"players"`
	Skills      []SkillsView                     `json:"skills,omitempty"`
}

var allMetrics = []encounter.Metric{encounter.MetricDamage, encounter.MetricHeal, encounter.MetricTaken}

// BuildSnapshot renders enc. The caller holds the encounter read lock.
func BuildSnapshot(enc *encounter.Encounter, opts Options, names Names) Snapshot {
	elapsedSec := float64(enc.ElapsedMs()) / 1000

	s := Snapshot{
		EncounterID: enc.ID,
		Header:      buildHeader(enc, opts, elapsedSec),
		Players:     make(map[encounter.Metric][]PlayerRow, len(allMetrics)),
	}
	for _, m := range allMetrics {
		s.Players[m] = buildRows(enc, m, opts.BossOnly, elapsedSec, names)
	}

	subs := slices.Clone(opts.Subscriptions)
	slices.SortFunc(subs, func(a, b Subscription) int {
		if c := cmp.Compare(a.UID, b.UID); c != 0 {
			return c
		}
		return cmp.Compare(a.Metric, b.Metric)
	})
	for _, sub := range subs {
		ent, ok := enc.Entity(sub.UID)
		if !ok {
			continue
		}
		s.Skills = append(s.Skills, buildSkills(enc, ent, sub.Metric, opts.BossOnly, elapsedSec, names))
	}
	return s
}

func buildHeader(enc *encounter.Encounter, opts Options, elapsedSec float64) HeaderView {
	total := enc.TotalDamage
	if opts.BossOnly {
		total = enc.TotalBossDamage
	}
	teamDPS := ratio(float64(total), elapsedSec)

	h := HeaderView{
		TotalDPS:     teamDPS,
		TotalDmg:     total,
		ActiveDPS:    enc.ActivePerSecond(total),
		ElapsedMs:    enc.ElapsedMs(),
		ActiveMs:     enc.ActiveDurationMs(),
		FightStartMs: enc.StartedAtMs,
		Bosses:       []BossView{},
		SceneID:      enc.SceneID,
		SceneName:    enc.SceneName,
		AttemptIndex: enc.AttemptIndex,
		Deaths:       enc.Deaths(),
		Paused:       enc.Paused,
		BossOnly:     opts.BossOnly,
	}
	if p, ok := enc.CurrentPhase(); ok {
		h.PhaseType = string(p.Type)
		h.PhaseLabel = p.Label
	}
	if seg, ok := enc.CurrentSegment(); ok {
		h.SegmentType = seg.Type
		h.SegmentName = seg.Name()
	}

	for _, boss := range enc.Bosses() {
		if !boss.HPKnown && boss.MaxHP == 0 {
			continue
		}
		v := BossView{UID: boss.UID, Name: boss.Name, Elite: attrInt(boss, protocol.AttrEliteStatus)}
		if v.Name == "" {
			v.Name = fmt.Sprintf("Boss %d", boss.UID)
		}
		if boss.HPKnown {
			v.CurrentHP = ptr(boss.CurrentHP)
		}
		if boss.MaxHP > 0 {
			v.MaxHP = ptr(boss.MaxHP)
		}
		pct, ok := boss.HPPercent()
		if enc.BossDead(boss.UID) || (ok && pct < opts.LowHPPercent && teamDPS >= opts.DeadBossTeamDPS) {
			v.Dead = true
			v.CurrentHP = ptr(int64(0))
		}
		h.Bosses = append(h.Bosses, v)
	}
	slices.SortFunc(h.Bosses, func(a, b BossView) int { return cmp.Compare(a.UID, b.UID) })
	return h
}

func buildRows(enc *encounter.Encounter, m encounter.Metric, bossOnly bool, elapsedSec float64, names Names) []PlayerRow {
	var scope int64
	var players []*encounter.Entity
	for _, ent := range enc.Entities {
		if ent.Kind != protocol.EntityPlayer {
			continue
		}
		st := ent.Stats(m, bossOnly)
		if st.Hits == 0 {
			continue
		}
		scope += st.Total
		players = append(players, ent)
	}

	rows := make([]PlayerRow, 0, len(players))
	for _, ent := range players {
		rows = append(rows, playerRow(enc, ent, ent.Stats(m, bossOnly), scope, elapsedSec, names))
	}
	slices.SortFunc(rows, func(a, b PlayerRow) int {
		if c := cmp.Compare(b.Total, a.Total); c != 0 {
			return c
		}
		return cmp.Compare(a.UID, b.UID)
	})
	return rows
}

func playerRow(enc *encounter.Encounter, ent *encounter.Entity, st encounter.SkillStats, scope int64, elapsedSec float64, names Names) PlayerRow {
	r := PlayerRow{
		UID:           ent.UID,
		Name:          displayName(ent, enc.LocalPlayerUID),
		ClassSpec:     ent.ClassSpec,
		AbilityScore:  ent.AbilityScore,
		Total:         st.Total,
		PerSecond:     ratio(float64(st.Total), elapsedSec),
		Pct:           ratio(float64(st.Total)*100, float64(scope)),
		CritRate:      ratio(float64(st.CritHits)*100, float64(st.Hits)),
		CritDmgRate:   ratio(float64(st.CritTotal)*100, float64(st.Total)),
		LuckyRate:     ratio(float64(st.LuckyHits)*100, float64(st.Hits)),
		LuckyDmgRate:  ratio(float64(st.LuckyTotal)*100, float64(st.Total)),
		Hits:          st.Hits,
		HitsPerMinute: ratio(float64(st.Hits)*60, elapsedSec),

		RankLevel:      attrInt(ent, protocol.AttrRankLevel),
		CritStat:       attrInt(ent, protocol.AttrCrit),
		LuckyStat:      attrInt(ent, protocol.AttrLucky),
		Haste:          attrInt(ent, protocol.AttrHaste),
		Mastery:        attrInt(ent, protocol.AttrMastery),
		ElementFlag:    attrInt(ent, protocol.AttrElementFlag),
		EnergyFlag:     attrInt(ent, protocol.AttrEnergyFlag),
		ReductionLevel: attrInt(ent, protocol.AttrReductionLevel),
	}
	if names != nil {
		r.ClassName = names.ClassName(ent.ClassID)
	}
	if ent.HPKnown {
		r.CurrentHP = ptr(ent.CurrentHP)
	}
	if ent.MaxHP > 0 {
		r.MaxHP = ptr(ent.MaxHP)
	}
	return r
}

func buildSkills(enc *encounter.Encounter, ent *encounter.Entity, m encounter.Metric, bossOnly bool, elapsedSec float64, names Names) SkillsView {
	st := ent.Stats(m, bossOnly)
	v := SkillsView{
		UID:    ent.UID,
		Metric: m,
		Player: playerRow(enc, ent, st, st.Total, elapsedSec, names),
		Skills: []SkillRow{},
	}
	for id, sk := range ent.Skills(m, bossOnly) {
		row := SkillRow{
			SkillID:       id,
			Total:         sk.Total,
			PerSecond:     ratio(float64(sk.Total), elapsedSec),
			Pct:           ratio(float64(sk.Total)*100, float64(st.Total)),
			CritRate:      ratio(float64(sk.CritHits)*100, float64(sk.Hits)),
			CritDmgRate:   ratio(float64(sk.CritTotal)*100, float64(sk.Total)),
			LuckyRate:     ratio(float64(sk.LuckyHits)*100, float64(sk.Hits)),
			LuckyDmgRate:  ratio(float64(sk.LuckyTotal)*100, float64(sk.Total)),
			Hits:          sk.Hits,
			HitsPerMinute: ratio(float64(sk.Hits)*60, elapsedSec),
		}
		if names != nil {
			row.Name = names.SkillName(id)
		}
		v.Skills = append(v.Skills, row)
	}
	slices.SortFunc(v.Skills, func(a, b SkillRow) int {
		if c := cmp.Compare(b.Total, a.Total); c != 0 {
			return c
		}
		return cmp.Compare(a.SkillID, b.SkillID)
	})
	return v
}

func displayName(ent *encounter.Entity, local int64) string {
	switch {
	case ent.UID == local && ent.Name == "":
		return "You"
	case ent.UID == local:
		return ent.Name + " (You)"
	case ent.Name == "":
		return fmt.Sprintf("#%d", ent.UID)
	}
	return ent.Name
}

func attrInt(ent *encounter.Entity, id protocol.AttrID) *int64 {
	v, ok := ent.Attrs[id]
	if !ok {
		return nil
	}
	n, err := v.Int()
	if err != nil {
		return nil
	}
	return &n
}

// ratio divides and maps NaN and infinities to 0.
func ratio(num, den float64) float64 {
	if den == 0 {
		return 0
	}
	r := num / den
	if math.IsNaN(r) || math.IsInf(r, 0) {
		return 0
	}
	return r
}

func ptr[T any](v T) *T { return &v }
