package protocol

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/encoding/protowire"
	"pgregory.net/rapid"
)

// msg builds protobuf payloads field by field.
type msg []byte

func (m msg) varint(num protowire.Number, v uint64) msg {
	m = protowire.AppendTag(m, num, protowire.VarintType)
	return protowire.AppendVarint(m, v)
}

func (m msg) bytes(num protowire.Number, b []byte) msg {
	m = protowire.AppendTag(m, num, protowire.BytesType)
	return protowire.AppendBytes(m, b)
}

type sceneSet map[int32]bool

func (s sceneSet) HasScene(id int32) bool { return s[id] }

func packUUID(uid uint64, category uint64) uint64 { return uid<<16 | category }

func rawAttr(id AttrID, raw []byte) msg {
	return msg{}.varint(fieldAttrID, uint64(id)).bytes(fieldAttrRaw, raw)
}

func lenString(s string) []byte {
	return append(protowire.AppendVarint(nil, uint64(len(s))), s...)
}

func TestSplitUUID(t *testing.T) {
	uid, kind := SplitUUID(packUUID(12345, 640))
	assert.Equal(t, int64(12345), uid)
	assert.Equal(t, EntityPlayer, kind)

	uid, kind = SplitUUID(packUUID(77, 64))
	assert.Equal(t, int64(77), uid)
	assert.Equal(t, EntityMonster, kind)

	_, kind = SplitUUID(packUUID(77, 1))
	assert.Equal(t, EntityUnknown, kind)
}

func TestSplitUUIDDeterministic(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		uuid := rapid.Uint64().Draw(t, "uuid")
		uid1, kind1 := SplitUUID(uuid)
		uid2, kind2 := SplitUUID(uuid)
		if uid1 != uid2 || kind1 != kind2 {
			t.Fatalf("SplitUUID(%d) not deterministic", uuid)
		}
		if uid1 != int64(uuid>>16) {
			t.Fatalf("uid %d, want %d", uid1, int64(uuid>>16))
		}
	})
}

func TestAttrValueAccessors(t *testing.T) {
	v := VarintValue(42)
	n, err := v.Uint()
	require.NoError(t, err)
	assert.Equal(t, uint64(42), n)

	_, err = v.Str()
	assert.True(t, errors.Is(err, ErrWrongKind))
	_, err = v.Raw()
	assert.True(t, errors.Is(err, ErrWrongKind))

	s := StrValue("Alice")
	got, err := s.Str()
	require.NoError(t, err)
	assert.Equal(t, "Alice", got)
	_, err = s.Int()
	assert.True(t, errors.Is(err, ErrWrongKind))

	b := BytesValue([]byte{1, 2})
	raw, err := b.Raw()
	require.NoError(t, err)
	assert.Equal(t, []byte{1, 2}, raw)
	assert.Equal(t, "0x0102", b.String())
}

func TestDecodePlayerAttrs(t *testing.T) {
	attrs := DecodeAttrs(EntityPlayer, []RawAttr{
		{ID: AttrName, Raw: lenString("Alice")},
		{ID: AttrLevel, Raw: protowire.AppendVarint(nil, 60)},
		{ID: AttrMaxHP, Raw: []byte{0xff}}, // truncated varint
		{ID: 0x7777, Raw: []byte{9, 9}},
	})

	name, ok := attrs.Str(AttrName)
	require.True(t, ok)
	assert.Equal(t, "Alice", name)

	level, ok := attrs.Int(AttrLevel)
	require.True(t, ok)
	assert.Equal(t, int64(60), level)

	assert.Equal(t, []AttrID{AttrMaxHP}, attrs.Failed)
	assert.Equal(t, []AttrID{0x7777}, attrs.Unknown)

	v, ok := attrs.Get(0x7777)
	require.True(t, ok)
	assert.Equal(t, AttrKindBytes, v.Kind())
	_, ok = attrs.Int(AttrMaxHP)
	assert.False(t, ok)
}

func TestDecodeMonsterAttrs(t *testing.T) {
	attrs := DecodeAttrs(EntityMonster, []RawAttr{
		{ID: AttrName, Raw: append([]byte{0x0c}, "Goblin"...)},
		{ID: AttrTypeID, Raw: protowire.AppendVarint(nil, 10032)},
		{ID: AttrCurrentHP, Raw: protowire.AppendVarint(nil, 5000)},
		{ID: AttrLevel, Raw: protowire.AppendVarint(nil, 3)},
		{ID: AttrEliteStatus, Raw: protowire.AppendVarint(nil, 2)},
	})

	name, _ := attrs.Str(AttrName)
	assert.Equal(t, "Goblin", name)
	elite, ok := attrs.Int(AttrEliteStatus)
	require.True(t, ok)
	assert.Equal(t, int64(2), elite)
	id, _ := attrs.Int(AttrTypeID)
	assert.Equal(t, int64(10032), id)
	hp, _ := attrs.Int(AttrCurrentHP)
	assert.Equal(t, int64(5000), hp)
	// level has no monster decoder
	assert.Equal(t, []AttrID{AttrLevel}, attrs.Unknown)
}

func TestDecodeUnknownMethod(t *testing.T) {
	d := NewDecoder(sceneSet{})

	ev, ok, err := d.Decode(MethodSyncLog, []byte{1, 2, 3})
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Nil(t, ev)

	_, ok, err = d.Decode(Method(0x7abc), nil)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.False(t, Method(0x7abc).Known())
}

func TestDecodeMalformed(t *testing.T) {
	d := NewDecoder(sceneSet{})

	// bytes field claiming 5 bytes with only one present
	_, ok, err := d.Decode(MethodSyncNearEntities, []byte{0x0a, 0x05, 0x01})
	require.Error(t, err)
	assert.False(t, ok)
	assert.True(t, errors.Is(err, ErrTruncated))
}

func TestDecodeSyncNearEntities(t *testing.T) {
	player := packUUID(1001, 640)
	monster := packUUID(2002, 64)

	playerEnt := msg{}.
		varint(fieldEntityUUID, player).
		bytes(fieldEntityAttrs, msg{}.
			varint(fieldAttrsUUID, player).
			bytes(fieldAttrsAttrs, rawAttr(AttrName, lenString("Alice"))).
			bytes(fieldAttrsAttrs, rawAttr(AttrProfessionID, protowire.AppendVarint(nil, 2))))
	monsterEnt := msg{}.
		varint(fieldEntityUUID, monster).
		bytes(fieldEntityAttrs, msg{}.
			bytes(fieldAttrsAttrs, rawAttr(AttrMaxHP, protowire.AppendVarint(nil, 1_000_000))))
	payload := msg{}.
		bytes(fieldNearAppear, playerEnt).
		bytes(fieldNearAppear, monsterEnt).
		bytes(fieldNearDisappear, msg{}.varint(fieldDisappearUUID, packUUID(3003, 64)))

	ev, ok, err := NewDecoder(sceneSet{}).Decode(MethodSyncNearEntities, payload)
	require.NoError(t, err)
	require.True(t, ok)

	batch, isBatch := ev.(Batch)
	require.True(t, isBatch, "got %T", ev)
	require.Len(t, batch.Events, 2)

	appear := batch.Events[0].(EntityAppear)
	require.Len(t, appear.Entities, 2)
	assert.Equal(t, int64(1001), appear.Entities[0].UID)
	assert.Equal(t, EntityPlayer, appear.Entities[0].Kind)
	name, _ := appear.Entities[0].Attrs.Str(AttrName)
	assert.Equal(t, "Alice", name)
	maxHP, _ := appear.Entities[1].Attrs.Int(AttrMaxHP)
	assert.Equal(t, int64(1_000_000), maxHP)

	gone := batch.Events[1].(EntityDisappear)
	assert.Equal(t, []uint64{packUUID(3003, 64)}, gone.UUIDs)
}

func TestDecodeSyncToMeDeltaInfo(t *testing.T) {
	local := packUUID(1001, 640)
	target := packUUID(2002, 64)

	damage := msg{}.
		varint(fieldDamageTypeFlag, 1).
		varint(fieldDamageValue, 100).
		varint(fieldDamageHPLessen, 100).
		varint(fieldDamageAttackerUUID, local).
		varint(fieldDamageOwnerID, 1201)
	delta := msg{}.
		varint(fieldDeltaUUID, target).
		bytes(fieldDeltaAttrs, msg{}.
			bytes(fieldAttrsAttrs, rawAttr(AttrCurrentHP, protowire.AppendVarint(nil, 900)))).
		bytes(fieldDeltaSkillEffects, msg{}.
			varint(fieldEffectUUID, target).
			bytes(fieldEffectDamages, damage))
	payload := msg{}.bytes(fieldToMeDeltaInfo, msg{}.
		bytes(fieldToMeBaseDelta, delta).
		varint(fieldToMeUUID, local))

	ev, ok, err := NewDecoder(sceneSet{}).Decode(MethodSyncToMeDeltaInfo, payload)
	require.NoError(t, err)
	require.True(t, ok)

	batch := ev.(Batch)
	require.Len(t, batch.Events, 3)

	lp := batch.Events[0].(LocalPlayer)
	assert.Equal(t, int64(1001), lp.UID)

	attrs := batch.Events[1].(AttributeDelta)
	hp, _ := attrs.Entity.Attrs.Int(AttrCurrentHP)
	assert.Equal(t, int64(900), hp)

	combat := batch.Events[2].(CombatDelta)
	assert.Equal(t, int64(2002), combat.TargetUID)
	assert.Equal(t, EntityMonster, combat.TargetKind)
	require.Len(t, combat.Damages, 1)

	d := combat.Damages[0]
	amount, ok := d.Amount()
	require.True(t, ok)
	assert.Equal(t, int64(100), amount)
	attacker, ok := d.Attacker()
	require.True(t, ok)
	assert.Equal(t, local, attacker)
	assert.True(t, d.Crit())
	assert.False(t, d.Lucky())
	assert.False(t, d.Heal())
	require.NotNil(t, d.OwnerID)
	assert.Equal(t, int32(1201), *d.OwnerID)
}

func TestDecodeBuffInfos(t *testing.T) {
	player := packUUID(1001, 640)
	buffs := msg{}.
		bytes(fieldBuffInfos, msg{}.
			varint(fieldBuffBaseID, 2110051).
			varint(fieldBuffLayer, 3).
			varint(fieldBuffDuration, 8000).
			varint(fieldBuffCreateTime, 1700000000500)).
		bytes(fieldBuffInfos, msg{}.varint(fieldBuffBaseID, 2110052)).
		// no base id
		bytes(fieldBuffInfos, msg{}.varint(fieldBuffDuration, 1000))
	delta := msg{}.varint(fieldDeltaUUID, player).bytes(fieldDeltaBuffInfos, buffs)
	payload := msg{}.bytes(fieldNearDeltaInfos, delta)

	ev, ok, err := NewDecoder(sceneSet{}).Decode(MethodSyncNearDeltaInfo, payload)
	require.NoError(t, err)
	require.True(t, ok)

	upd, isBuff := ev.(BuffUpdate)
	require.True(t, isBuff)
	assert.Equal(t, int64(1001), upd.TargetUID)
	assert.Equal(t, EntityPlayer, upd.TargetKind)
	assert.Equal(t, []Buff{
		{BuffID: 2110051, Stack: 3, DurationMs: 8000, CreatedMs: 1700000000500},
		{BuffID: 2110052, Stack: 1},
	}, upd.Buffs)
}

func TestDamageFallbacks(t *testing.T) {
	lucky := int64(40)
	d := Damage{LuckyValue: &lucky, AttackerUUID: 5, TopSummonerUUID: 9, Type: DamageTypeHeal}

	amount, ok := d.Amount()
	require.True(t, ok)
	assert.Equal(t, int64(40), amount)

	attacker, _ := d.Attacker()
	assert.Equal(t, uint64(9), attacker)
	assert.True(t, d.Lucky())
	assert.True(t, d.Heal())

	_, ok = Damage{}.Amount()
	assert.False(t, ok)
	_, ok = Damage{}.Attacker()
	assert.False(t, ok)
}

func TestDecodeSyncContainerData(t *testing.T) {
	char := msg{}.
		varint(fieldCharID, 1001).
		bytes(fieldCharBase, msg{}.
			bytes(fieldCharBaseName, []byte("Alice")).
			varint(fieldCharBaseFightPoint, 23000)).
		bytes(fieldCharRoleLevel, msg{}.varint(fieldRoleLevelLevel, 60)).
		bytes(fieldCharProfessionList, msg{}.varint(fieldProfessionCurrentID, 13))

	ev, ok, err := NewDecoder(sceneSet{}).Decode(MethodSyncContainerData, msg{}.bytes(fieldContainerVData, char))
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, PlayerProfile{
		CharID:       1001,
		Name:         "Alice",
		Level:        60,
		ProfessionID: 13,
		FightPoint:   23000,
	}, ev)

	_, ok, err = NewDecoder(sceneSet{}).Decode(MethodSyncContainerData, nil)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestDecodeReviveAndServerTime(t *testing.T) {
	d := NewDecoder(sceneSet{})

	ev, ok, err := d.Decode(MethodNotifyReviveUser, msg{}.varint(fieldReviveActorUUID, packUUID(42, 640)))
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, int64(42), ev.(Revive).UID)

	ev, ok, err = d.Decode(MethodSyncServerTime, msg{}.varint(fieldTimeClientMs, 10).varint(fieldTimeServerMs, 20))
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, ServerTimeSync{ClientMs: 10, ServerMs: 20}, ev)
}

func TestFindSceneID(t *testing.T) {
	scenes := sceneSet{1001: true}

	tests := []struct {
		name string
		data []byte
		ok   bool
	}{
		{"varint", protowire.AppendVarint([]byte{0x08}, 1001), true},
		{"little endian", []byte{0xe9, 0x03, 0x00, 0x00}, true},
		{"big endian", []byte{0x00, 0x00, 0x03, 0xe9}, true},
		{"ascii digits", []byte("scene_1001x"), true},
		{"nothing", []byte("no scene here"), false},
		{"empty", nil, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			id, ok := FindSceneID(tt.data, scenes)
			assert.Equal(t, tt.ok, ok)
			if tt.ok {
				assert.Equal(t, int32(1001), id)
			}
		})
	}

	_, ok := FindSceneID([]byte{0xe9, 0x07}, nil)
	assert.False(t, ok)
}

func enterScene(info msg) []byte {
	return msg{}.bytes(fieldEnterSceneInfo, info)
}

func attrCollection(attrs ...msg) []byte {
	var b msg
	for _, a := range attrs {
		b = b.bytes(fieldAttrsAttrs, a)
	}
	return b
}

func TestDecodeScenes(t *testing.T) {
	d := NewDecoder(sceneSet{1001: true})

	payload := enterScene(msg{}.bytes(fieldSceneAttrs, attrCollection(
		rawAttr(AttrTypeID, protowire.AppendVarint(nil, 1001)),
	)))
	ev, ok, err := d.Decode(MethodEnterScene, payload)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, SceneChange{SceneID: 1001, Known: true, Source: SceneSourceEnterScene}, ev)

	ev, ok, err = d.Decode(MethodEnterScene, []byte("xyz"))
	require.NoError(t, err)
	require.True(t, ok)
	assert.False(t, ev.(SceneChange).Known)

	_, ok, err = d.Decode(MethodSyncSceneAttrs, []byte("xyz"))
	require.NoError(t, err)
	assert.False(t, ok)

	attrs := msg{}.bytes(fieldSyncSceneAttrs, attrCollection(rawAttr(AttrTypeID, protowire.AppendVarint(nil, 1001))))
	ev, ok, err = d.Decode(MethodSyncSceneAttrs, attrs)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, SceneChange{SceneID: 1001, Known: true, Source: SceneSourceSceneAttrs}, ev)
}

func TestEnterSceneIDOrder(t *testing.T) {
	scenes := sceneSet{8: true, 1001: true, 2002: true, 3003: true}

	tests := []struct {
		name string
		info msg
		want int32
		ok   bool
	}{
		{
			name: "guid digits first",
			info: msg{}.bytes(fieldSceneGUID, []byte("dungeon-2002")).
				bytes(fieldSceneAttrs, attrCollection(rawAttr(AttrTypeID, protowire.AppendVarint(nil, 1001)))),
			want: 2002, ok: true,
		},
		{
			name: "subscene before scene",
			info: msg{}.bytes(fieldSceneAttrs, attrCollection(rawAttr(AttrTypeID, protowire.AppendVarint(nil, 1001)))).
				bytes(fieldSubSceneAttrs, attrCollection(rawAttr(AttrTypeID, protowire.AppendVarint(nil, 3003)))),
			want: 3003, ok: true,
		},
		{
			name: "unknown guid falls through",
			info: msg{}.bytes(fieldSceneGUID, []byte("guid-77")).
				bytes(fieldSceneAttrs, attrCollection(rawAttr(AttrTypeID, protowire.AppendVarint(nil, 1001)))),
			want: 1001, ok: true,
		},
		{
			name: "player attributes last",
			info: msg{}.bytes(fieldScenePlayerEntity, msg{}.varint(fieldEntityUUID, 99).
				bytes(fieldEntityAttrs, attrCollection(rawAttr(AttrID(0x99), protowire.AppendVarint(nil, 2002))))),
			want: 2002, ok: true,
		},
		{
			name: "name attribute is not a scene",
			info: msg{}.bytes(fieldSceneAttrs, attrCollection(rawAttr(AttrName, lenString("Overworl")))),
		},
		{
			name: "stray tags are not scenes",
			info: msg{}.bytes(fieldConnectGUID, []byte("conn")).
				bytes(fieldSceneAttrs, attrCollection(rawAttr(AttrTypeID, protowire.AppendVarint(nil, 4242)))).
				bytes(fieldScenePlayerEntity, msg{}.varint(fieldEntityUUID, 5)),
		},
		{
			name: "0x08 bytes inside a guid are not a scene",
			info: msg{}.bytes(fieldConnectGUID, []byte{0x08, 0x08, 0x08}),
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			id, ok := enterSceneID(enterScene(tt.info), scenes)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, id)
		})
	}

	// a well formed payload without scene info reports nothing
	id, ok := enterSceneID(msg{}.varint(1, 5), scenes)
	assert.False(t, ok)
	assert.NotEqual(t, int32(8), id)
}

func TestMethodNames(t *testing.T) {
	assert.Equal(t, "SyncNearDeltaInfo", MethodSyncNearDeltaInfo.String())
	assert.True(t, Interpreted(MethodSyncToMeDeltaInfo))
	assert.False(t, Interpreted(MethodSyncLog))
	assert.False(t, Interpreted(Method(0xffff)), "past the end of the table")

	var n int
	for m := range handlers {
		if Interpreted(Method(m)) {
			n++
		}
	}
	assert.Equal(t, 8, n)
}
