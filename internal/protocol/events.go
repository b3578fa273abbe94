package protocol

import "firestige.xyz/meter/internal/core"

// StateEvent is a decoded change to apply to the encounter, in wire order.
type StateEvent interface {
	// EventName is a short label for logs and metrics.
	EventName() string
}

// EntityState is one entity reference with its decoded attributes.
type EntityState struct {
	UUID  uint64
	UID   int64
	Kind  EntityKind
	Attrs Attrs
}

func newEntityState(uuid uint64, raw []RawAttr) EntityState {
	uid, kind := SplitUUID(uuid)
	return EntityState{UUID: uuid, UID: uid, Kind: kind, Attrs: DecodeAttrs(kind, raw)}
}

// EntityAppear lists entities entering the area of interest.
type EntityAppear struct {
	Entities []EntityState
}

// EntityDisappear lists entities leaving the area of interest.
type EntityDisappear struct {
	UUIDs []uint64
}

// AttributeDelta updates attributes of one entity.
type AttributeDelta struct {
	Entity EntityState
}

// CombatDelta carries the damage and heal records landing on one target.
type CombatDelta struct {
	TargetUUID uint64
	TargetUID  int64
	TargetKind EntityKind
	Damages    []Damage
}

// Buff is one BuffInfo record. CreatedMs is server time, 0 when absent.
type Buff struct {
	BuffID     int32
	Stack      int32
	DurationMs int64
	CreatedMs  int64
}

// BuffUpdate carries the buffs reported on one entity.
type BuffUpdate struct {
	TargetUUID uint64
	TargetUID  int64
	TargetKind EntityKind
	Buffs      []Buff
}

// Batch groups the events of one message so they apply in order.
type Batch struct {
	Events []StateEvent
}

// LocalPlayer names the entity controlled by the observed client.
type LocalPlayer struct {
	UUID uint64
	UID  int64
}

// PlayerProfile is the local character summary from container data.
type PlayerProfile struct {
	CharID       int64
	Name         string
	Level        int32
	ProfessionID int32
	FightPoint   int32
}

// ServerTimeSync reports the clock pair exchanged with the server.
type ServerTimeSync struct {
	ClientMs int64
	ServerMs int64
}

// Scene change origins.
const (
	SceneSourceEnterScene = "enter_scene"
	SceneSourceSceneAttrs = "scene_attrs"
)

// SceneChange reports the scene the client entered. Known is false when no
// recognised scene id was found in the message.
type SceneChange struct {
	SceneID int32
	Known   bool
	Source  string
}

// Revive reports an actor coming back to life.
type Revive struct {
	UUID uint64
	UID  int64
}

// PauseToggle flips the pause flag of the encounter.
type PauseToggle struct{}

// Reset ends the current encounter. Manual is set for operator resets.
type Reset struct {
	Manual bool
}

// ResetMetrics zeroes the player metrics of the running encounter and keeps
// its start time.
type ResetMetrics struct{}

// ServerChange reports that a new game server connection was identified.
type ServerChange struct {
	Flow core.FlowKey
}

func (EntityAppear) EventName() string    { return "entity_appear" }
func (EntityDisappear) EventName() string { return "entity_disappear" }
func (AttributeDelta) EventName() string  { return "attribute_delta" }
func (CombatDelta) EventName() string     { return "combat_delta" }
func (BuffUpdate) EventName() string      { return "buff_update" }
func (Batch) EventName() string           { return "batch" }
func (LocalPlayer) EventName() string     { return "local_player" }
func (PlayerProfile) EventName() string   { return "player_profile" }
func (ServerTimeSync) EventName() string  { return "server_time_sync" }
func (SceneChange) EventName() string     { return "scene_change" }
func (Revive) EventName() string          { return "revive" }
func (PauseToggle) EventName() string     { return "pause_toggle" }
func (Reset) EventName() string           { return "reset" }
func (ResetMetrics) EventName() string    { return "reset_metrics" }
func (ServerChange) EventName() string    { return "server_change" }
