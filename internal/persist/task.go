// Package persist carries encounter data to storage through an ordered,
// non-blocking task queue.
package persist

// Kind names a task variant on the wire.
type Kind string

const (
	KindBeginEncounter    Kind = "begin_encounter"
	KindEndEncounter      Kind = "end_encounter"
	KindUpsertEntity      Kind = "upsert_entity"
	KindInsertDamageEvent Kind = "insert_damage_event"
	KindInsertHealEvent   Kind = "insert_heal_event"
	KindInsertDeathEvent  Kind = "insert_death_event"
	KindInsertReviveEvent Kind = "insert_revive_event"
	KindBeginAttempt      Kind = "begin_attempt"
	KindEndAttempt        Kind = "end_attempt"
	KindInsertPhase       Kind = "insert_phase"
	KindInsertSegment     Kind = "insert_dungeon_segment"
	KindSaveBuffs         Kind = "save_buffs"
)

// Task is one storage operation.
type Task interface {
	Kind() Kind
}

// Envelope is a queued task with its ordering and encounter context.
type Envelope struct {
	Seq         uint64 `json:"seq"`
	Kind        Kind   `json:"kind"`
	EncounterID string `json:"encounter_id,omitempty"`
	Task        Task   `json:"data"`
}

type BeginEncounter struct {
	StartedAtMs   int64  `json:"started_at_ms"`
	LocalPlayerID int64  `json:"local_player_id,omitempty"`
	SceneID       int32  `json:"scene_id,omitempty"`
	SceneName     string `json:"scene_name,omitempty"`
}

type EndEncounter struct {
	EndedAtMs      int64    `json:"ended_at_ms"`
	DefeatedBosses []string `json:"defeated_bosses,omitempty"`
	Manual         bool     `json:"is_manually_reset"`
}

// UpsertEntity records the latest known identity of a player.
type UpsertEntity struct {
	EntityID     int64             `json:"entity_id"`
	Name         string            `json:"name,omitempty"`
	ClassID      int32             `json:"class_id,omitempty"`
	ClassSpec    string            `json:"class_spec,omitempty"`
	AbilityScore int32             `json:"ability_score,omitempty"`
	Level        int32             `json:"level,omitempty"`
	SeenAtMs     int64             `json:"seen_at_ms"`
	Attributes   map[string]string `json:"attributes,omitempty"`
}

type InsertDamageEvent struct {
	TimestampMs   int64  `json:"timestamp_ms"`
	AttackerID    int64  `json:"attacker_id"`
	DefenderID    int64  `json:"defender_id"`
	MonsterName   string `json:"monster_name,omitempty"`
	SkillID       int32  `json:"skill_id"`
	Value         int64  `json:"value"`
	IsCrit        bool   `json:"is_crit"`
	IsLucky       bool   `json:"is_lucky"`
	HPLoss        int64  `json:"hp_loss"`
	ShieldLoss    int64  `json:"shield_loss"`
	DefenderMaxHP int64  `json:"defender_max_hp,omitempty"`
	IsBoss        bool   `json:"is_boss"`
	AttemptIndex  int    `json:"attempt_index"`
}

type InsertHealEvent struct {
	TimestampMs  int64 `json:"timestamp_ms"`
	HealerID     int64 `json:"healer_id"`
	TargetID     int64 `json:"target_id"`
	SkillID      int32 `json:"skill_id"`
	Value        int64 `json:"value"`
	IsCrit       bool  `json:"is_crit"`
	IsLucky      bool  `json:"is_lucky"`
	AttemptIndex int   `json:"attempt_index"`
}

type InsertDeathEvent struct {
	TimestampMs   int64 `json:"timestamp_ms"`
	ActorID       int64 `json:"actor_id"`
	KillerID      int64 `json:"killer_id,omitempty"`
	SkillID       int32 `json:"skill_id,omitempty"`
	IsLocalPlayer bool  `json:"is_local_player"`
	AttemptIndex  int   `json:"attempt_index"`
}

type InsertReviveEvent struct {
	TimestampMs   int64 `json:"timestamp_ms"`
	ActorID       int64 `json:"actor_id"`
	IsLocalPlayer bool  `json:"is_local_player"`
	AttemptIndex  int   `json:"attempt_index"`
}

type BeginAttempt struct {
	AttemptIndex int    `json:"attempt_index"`
	StartedAtMs  int64  `json:"started_at_ms"`
	Reason       string `json:"reason"`
	BossHPStart  *int64 `json:"boss_hp_start,omitempty"`
}

type EndAttempt struct {
	AttemptIndex int    `json:"attempt_index"`
	EndedAtMs    int64  `json:"ended_at_ms"`
	BossHPEnd    *int64 `json:"boss_hp_end,omitempty"`
	TotalDeaths  int    `json:"total_deaths"`
}

// PhaseActor is one actor's totals within a phase.
type PhaseActor struct {
	ActorID int64 `json:"actor_id"`
	Damage  int64 `json:"damage"`
	Heal    int64 `json:"heal"`
	Taken   int64 `json:"taken"`
}

type InsertPhase struct {
	PhaseID     int          `json:"phase_id"`
	Type        string       `json:"phase_type"`
	Label       string       `json:"label"`
	StartedAtMs int64        `json:"started_at_ms"`
	EndedAtMs   int64        `json:"ended_at_ms"`
	Outcome     string       `json:"outcome"`
	BossIDs     []int64      `json:"boss_ids,omitempty"`
	Actors      []PhaseActor `json:"actors,omitempty"`
}

// InsertDungeonSegment records one closed boss or trash segment.
type InsertDungeonSegment struct {
	SegmentID         int    `json:"segment_id"`
	Type              string `json:"segment_type"`
	BossEntityID      int64  `json:"boss_entity_id,omitempty"`
	BossMonsterTypeID int32  `json:"boss_monster_type_id,omitempty"`
	BossName          string `json:"boss_name,omitempty"`
	StartedAtMs       int64  `json:"started_at_ms"`
	EndedAtMs         int64  `json:"ended_at_ms"`
	TotalDamage       int64  `json:"total_damage"`
	HitCount          int64  `json:"hit_count"`
}

// BuffSpan is one continuous application of a buff.
type BuffSpan struct {
	StartMs    int64 `json:"start_ms"`
	EndMs      int64 `json:"end_ms"`
	DurationMs int64 `json:"duration_ms"`
	Stack      int32 `json:"stack_count"`
}

// BuffRecord is the buff history of one entity and buff id.
type BuffRecord struct {
	EntityID int64      `json:"entity_id"`
	BuffID   int32      `json:"buff_id"`
	Spans    []BuffSpan `json:"events"`
}

// SaveBuffs stores the buff history of an encounter when it ends.
type SaveBuffs struct {
	Buffs []BuffRecord `json:"buffs"`
}

func (BeginEncounter) Kind() Kind    { return KindBeginEncounter }
func (EndEncounter) Kind() Kind      { return KindEndEncounter }
func (UpsertEntity) Kind() Kind      { return KindUpsertEntity }
func (InsertDamageEvent) Kind() Kind { return KindInsertDamageEvent }
func (InsertHealEvent) Kind() Kind   { return KindInsertHealEvent }
func (InsertDeathEvent) Kind() Kind  { return KindInsertDeathEvent }
func (InsertReviveEvent) Kind() Kind { return KindInsertReviveEvent }
func (BeginAttempt) Kind() Kind      { return KindBeginAttempt }
func (EndAttempt) Kind() Kind        { return KindEndAttempt }
func (InsertPhase) Kind() Kind       { return KindInsertPhase }

func (InsertDungeonSegment) Kind() Kind { return KindInsertSegment }
func (SaveBuffs) Kind() Kind            { return KindSaveBuffs }
