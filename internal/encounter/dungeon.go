package encounter

import (
	"slices"

	"firestige.xyz/meter/internal/persist"
)

// Segment types.
const (
	SegmentBoss  = "boss"
	SegmentTrash = "trash"
)

// Segment is one stretch of a dungeon run: a boss pull, or the trash fought
// between pulls.
type Segment struct {
	ID                int    `json:"id"`
	Type              string `json:"type"`
	BossUID           int64  `json:"boss_entity_id,omitempty"`
	BossMonsterTypeID int32  `json:"boss_monster_type_id,omitempty"`
	BossName          string `json:"boss_name,omitempty"`
	StartedAtMs       int64  `json:"started_at_ms"`
	EndedAtMs         int64  `json:"ended_at_ms,omitempty"`
	LastHitMs         int64  `json:"last_hit_ms"`
	TotalDamage       int64  `json:"total_damage"`
	HitCount          int64  `json:"hit_count"`
	Active            bool   `json:"active"`
}

// Open reports whether the segment is still collecting damage.
func (s Segment) Open() bool { return s.Active }

// Name is the boss name of a boss segment and "Trash" otherwise.
func (s Segment) Name() string {
	if s.Type == SegmentBoss {
		if s.BossName != "" {
			return s.BossName
		}
		return "Boss"
	}
	return "Trash"
}

// DungeonLog is the segment history of the current scene.
type DungeonLog struct {
	Enabled   bool      `json:"enabled"`
	SceneID   int32     `json:"scene_id,omitempty"`
	SceneName string    `json:"scene_name,omitempty"`
	InCombat  bool      `json:"in_combat"`
	Segments  []Segment `json:"segments"`
}

type dungeon struct {
	sceneID   int32
	sceneName string
	segments  []Segment
	boss      int // open boss segment, -1 when idle
	trash     int // open trash segment, -1 when none
}

func newDungeon(sceneID int32, sceneName string) *dungeon {
	return &dungeon{sceneID: sceneID, sceneName: sceneName, boss: -1, trash: -1}
}

// current is the open boss segment, else the open trash segment.
func (d *dungeon) current() (Segment, bool) {
	if d.boss >= 0 {
		return d.segments[d.boss], true
	}
	if d.trash >= 0 {
		return d.segments[d.trash], true
	}
	return Segment{}, false
}

func (d *dungeon) open(s Segment) int {
	s.ID = len(d.segments) + 1
	s.Active = true
	d.segments = append(d.segments, s)
	return len(d.segments) - 1
}

// trackSegment credits one damage record to the open segment. Damage on a
// living boss while idle opens a boss segment and closes the trash segment.
func (m *Manager) trackSegment(target *Entity, amount, now int64) {
	if !m.segments {
		return
	}
	d := m.enc.dungeon
	idx := d.boss
	if idx < 0 {
		if target.IsBoss && !m.enc.BossDead(target.UID) {
			m.closeSegment(d.trash, now)
			d.trash = -1
			d.boss = d.open(Segment{
				Type:              SegmentBoss,
				BossUID:           target.UID,
				BossMonsterTypeID: target.MonsterTypeID,
				BossName:          target.Name,
				StartedAtMs:       now,
			})
			idx = d.boss
			m.logger.Info("boss segment started", "boss", target.Name, "uid", target.UID)
		} else {
			if d.trash < 0 {
				d.trash = d.open(Segment{Type: SegmentTrash, StartedAtMs: now})
			}
			idx = d.trash
		}
	}
	s := &d.segments[idx]
	s.TotalDamage += amount
	s.HitCount++
	s.LastHitMs = now
}

// segmentBossDied closes the boss segment when its boss, or another
// monster of the same template, dies.
func (m *Manager) segmentBossDied(ent *Entity, now int64) {
	d := m.enc.dungeon
	if d.boss < 0 {
		return
	}
	s := d.segments[d.boss]
	if s.BossUID != ent.UID && (s.BossMonsterTypeID == 0 || s.BossMonsterTypeID != ent.MonsterTypeID) {
		return
	}
	m.closeSegment(d.boss, now)
	d.boss = -1
}

// tickSegments closes a boss segment that saw no damage for the timeout.
func (m *Manager) tickSegments(now int64) {
	d := m.enc.dungeon
	if d.boss < 0 {
		return
	}
	s := d.segments[d.boss]
	if now-s.LastHitMs < m.cfg.SegmentTimeout.Milliseconds() {
		return
	}
	m.closeSegment(d.boss, s.LastHitMs)
	d.boss = -1
}

// closeOpenSegments closes every open segment.
func (m *Manager) closeOpenSegments(now int64) {
	d := m.enc.dungeon
	m.closeSegment(d.boss, now)
	m.closeSegment(d.trash, now)
	d.boss, d.trash = -1, -1
}

func (m *Manager) closeSegment(idx int, now int64) {
	d := m.enc.dungeon
	if idx < 0 || idx >= len(d.segments) || !d.segments[idx].Open() {
		return
	}
	s := &d.segments[idx]
	s.Active = false
	s.EndedAtMs = max(now, s.StartedAtMs)
	m.logger.Debug("segment closed", "id", s.ID, "type", s.Type, "damage", s.TotalDamage)
	m.enqueue(persist.InsertDungeonSegment{
		SegmentID:         s.ID,
		Type:              s.Type,
		BossEntityID:      s.BossUID,
		BossMonsterTypeID: s.BossMonsterTypeID,
		BossName:          s.BossName,
		StartedAtMs:       s.StartedAtMs,
		EndedAtMs:         s.EndedAtMs,
		TotalDamage:       s.TotalDamage,
		HitCount:          s.HitCount,
	})
}

// SetDungeonSegments turns segment tracking on or off. Turning it off closes
// the open segments.
func (m *Manager) SetDungeonSegments(enabled bool) {
	m.mu.Lock()
	if !enabled {
		m.closeOpenSegments(m.enc.LastCombatMs)
	}
	m.segments = enabled
	m.mu.Unlock()
	m.logger.Info("dungeon segments", "enabled", enabled)
}

// DungeonLog returns a copy of the segment history of the current scene.
func (m *Manager) DungeonLog() DungeonLog {
	m.mu.RLock()
	defer m.mu.RUnlock()
	d := m.enc.dungeon
	return DungeonLog{
		Enabled:   m.segments,
		SceneID:   d.sceneID,
		SceneName: d.sceneName,
		InCombat:  d.boss >= 0,
		Segments:  slices.Clone(d.segments),
	}
}

// CurrentSegment returns the open segment, boss first.
func (e *Encounter) CurrentSegment() (Segment, bool) { return e.dungeon.current() }
