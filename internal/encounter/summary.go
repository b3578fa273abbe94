package encounter

import (
	"cmp"
	"slices"

	"firestige.xyz/meter/internal/protocol"
)

// Summary is a compact, copyable view of an encounter.
type Summary struct {
	EncounterID     string          `json:"encounter_id,omitempty"`
	StartedAtMs     int64           `json:"started_at_ms,omitempty"`
	ElapsedMs       int64           `json:"elapsed_ms"`
	ActiveMs        int64           `json:"active_ms"`
	SceneID         int32           `json:"scene_id,omitempty"`
	SceneName       string          `json:"scene_name,omitempty"`
	Paused          bool            `json:"paused"`
	AttemptIndex    int             `json:"attempt_index"`
	Events          int             `json:"events"`
	TotalDamage     int64           `json:"total_damage"`
	TotalBossDamage int64           `json:"total_boss_damage"`
	TotalHeal       int64           `json:"total_heal"`
	ActiveDPS       float64         `json:"active_dps"`
	DefeatedBosses  []string        `json:"defeated_bosses,omitempty"`
	Players         []PlayerSummary `json:"players,omitempty"`
	Phases          []PhaseSummary  `json:"phases,omitempty"`
}

type PlayerSummary struct {
	UID       int64   `json:"uid"`
	Name      string  `json:"name,omitempty"`
	ClassID   int32   `json:"class_id,omitempty"`
	Damage    int64   `json:"damage"`
	Heal      int64   `json:"heal"`
	Taken     int64   `json:"taken"`
	ActiveDPS float64 `json:"active_dps"`
}

type PhaseSummary struct {
	ID          int    `json:"id"`
	Type        string `json:"type"`
	Label       string `json:"label"`
	StartedAtMs int64  `json:"started_at_ms"`
	EndedAtMs   int64  `json:"ended_at_ms,omitempty"`
	Outcome     string `json:"outcome,omitempty"`
}

func summarize(enc *Encounter) Summary {
	s := Summary{
		EncounterID:     enc.ID,
		StartedAtMs:     enc.StartedAtMs,
		ElapsedMs:       enc.ElapsedMs(),
		ActiveMs:        enc.ActiveDurationMs(),
		SceneID:         enc.SceneID,
		SceneName:       enc.SceneName,
		Paused:          enc.Paused,
		AttemptIndex:    enc.AttemptIndex,
		Events:          len(enc.Events),
		TotalDamage:     enc.TotalDamage,
		TotalBossDamage: enc.TotalBossDamage,
		TotalHeal:       enc.TotalHeal,
		ActiveDPS:       enc.ActivePerSecond(enc.TotalDamage),
		DefeatedBosses:  slices.Clone(enc.DefeatedBosses),
	}
	for _, ent := range enc.Entities {
		if ent.Kind != protocol.EntityPlayer || !ent.HasCombat() {
			continue
		}
		s.Players = append(s.Players, PlayerSummary{
			UID:       ent.UID,
			Name:      ent.Name,
			ClassID:   ent.ClassID,
			Damage:    ent.Damage.Total,
			Heal:      ent.Heal.Total,
			Taken:     ent.Taken.Total,
			ActiveDPS: enc.ActivePerSecond(ent.Damage.Total),
		})
	}
	slices.SortFunc(s.Players, func(a, b PlayerSummary) int {
		if c := cmp.Compare(b.Damage, a.Damage); c != 0 {
			return c
		}
		return cmp.Compare(a.UID, b.UID)
	})

	phases := enc.ClosedPhases()
	if cur, ok := enc.CurrentPhase(); ok {
		phases = append(phases, cur)
	}
	for _, p := range phases {
		s.Phases = append(s.Phases, PhaseSummary{
			ID:          p.ID,
			Type:        string(p.Type),
			Label:       p.Label,
			StartedAtMs: p.StartedAtMs,
			EndedAtMs:   p.EndedAtMs,
			Outcome:     string(p.Outcome),
		})
	}
	return s
}
