package protocol

import "google.golang.org/protobuf/encoding/protowire"

// Field numbers of the scene service messages. The game ships no schema; these
// were taken from captured traffic and are kept in one place so that a client
// update only touches this table.
const (
	// SyncNearEntities
	fieldNearAppear    protowire.Number = 1
	fieldNearDisappear protowire.Number = 2

	// Entity (SyncNearEntities.Appear)
	fieldEntityUUID    protowire.Number = 1
	fieldEntityEntType protowire.Number = 2
	fieldEntityAttrs   protowire.Number = 3

	// DisappearEntity
	fieldDisappearUUID protowire.Number = 1

	// AttrCollection
	fieldAttrsUUID  protowire.Number = 1
	fieldAttrsAttrs protowire.Number = 2

	// Attr
	fieldAttrID  protowire.Number = 1
	fieldAttrRaw protowire.Number = 2

	// SyncNearDeltaInfo
	fieldNearDeltaInfos protowire.Number = 1

	// SyncToMeDeltaInfo / AoiSyncToMeDelta
	fieldToMeDeltaInfo protowire.Number = 1
	fieldToMeBaseDelta protowire.Number = 1
	fieldToMeUUID      protowire.Number = 5

	// AoiSyncDelta
	fieldDeltaUUID         protowire.Number = 1
	fieldDeltaAttrs        protowire.Number = 2
	fieldDeltaSkillEffects protowire.Number = 7
	fieldDeltaBuffInfos    protowire.Number = 8

	// BuffInfoSync / BuffInfo
	fieldBuffInfos      protowire.Number = 1
	fieldBuffBaseID     protowire.Number = 2
	fieldBuffLayer      protowire.Number = 3
	fieldBuffDuration   protowire.Number = 4
	fieldBuffCreateTime protowire.Number = 5

	// SkillEffect
	fieldEffectUUID    protowire.Number = 1
	fieldEffectDamages protowire.Number = 2

	// SyncDamageInfo
	fieldDamageSource       protowire.Number = 1
	fieldDamageIsMiss       protowire.Number = 2
	fieldDamageIsCrit       protowire.Number = 3
	fieldDamageType         protowire.Number = 4
	fieldDamageTypeFlag     protowire.Number = 5
	fieldDamageValue        protowire.Number = 6
	fieldDamageActualValue  protowire.Number = 7
	fieldDamageLuckyValue   protowire.Number = 8
	fieldDamageHPLessen     protowire.Number = 9
	fieldDamageShieldLessen protowire.Number = 10
	fieldDamageAttackerUUID protowire.Number = 11
	fieldDamageOwnerID      protowire.Number = 12
	fieldDamageIsDead       protowire.Number = 17
	fieldDamageTopSummoner  protowire.Number = 21

	// SyncServerTime
	fieldTimeClientMs protowire.Number = 1
	fieldTimeServerMs protowire.Number = 2

	// NotifyReviveUser
	fieldReviveActorUUID protowire.Number = 1

	// SyncContainerData / CharSerialize
	fieldContainerVData      protowire.Number = 1
	fieldCharID              protowire.Number = 1
	fieldCharBase            protowire.Number = 2
	fieldCharRoleLevel       protowire.Number = 22
	fieldCharProfessionList  protowire.Number = 61
	fieldCharBaseName        protowire.Number = 5
	fieldCharBaseFightPoint  protowire.Number = 35
	fieldRoleLevelLevel      protowire.Number = 1
	fieldProfessionCurrentID protowire.Number = 1

	// EnterScene / EnterSceneInfo
	fieldEnterSceneInfo    protowire.Number = 1
	fieldSceneGUID         protowire.Number = 1
	fieldConnectGUID       protowire.Number = 2
	fieldSceneAttrs        protowire.Number = 3
	fieldSubSceneAttrs     protowire.Number = 4
	fieldScenePlayerEntity protowire.Number = 5

	// SyncSceneAttrs
	fieldSyncSceneAttrs protowire.Number = 2
)

// DamageType values of SyncDamageInfo.Type.
const (
	DamageTypeNormal int32 = 0
	DamageTypeMiss   int32 = 1
	DamageTypeHeal   int32 = 2
	DamageTypeImmune int32 = 3
	DamageTypeFall   int32 = 4
	DamageTypeAbsorb int32 = 5
)

// critFlag is the TypeFlag bit marking a critical hit.
const critFlag = 0x01
