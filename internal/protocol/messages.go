package protocol

import (
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"
)

// RawAttr is one undecoded sidecar entry.
type RawAttr struct {
	ID  AttrID
	Raw []byte
}

// Damage is one SyncDamageInfo record. Pointer fields distinguish an absent
// value from zero; uuid fields use 0 for absent.
type Damage struct {
	Source          int32
	IsMiss          bool
	IsCrit          bool
	Type            int32
	TypeFlag        int32
	Value           *int64
	ActualValue     *int64
	LuckyValue      *int64
	HPLessen        int64
	ShieldLessen    int64
	AttackerUUID    uint64
	OwnerID         *int32
	IsDead          bool
	TopSummonerUUID uint64
}

// Amount is Value, falling back to LuckyValue.
func (d Damage) Amount() (int64, bool) {
	switch {
	case d.Value != nil:
		return *d.Value, true
	case d.LuckyValue != nil:
		return *d.LuckyValue, true
	}
	return 0, false
}

// Attacker is the summoner when the hit came from a summon, otherwise the
// direct attacker.
func (d Damage) Attacker() (uint64, bool) {
	if d.TopSummonerUUID != 0 {
		return d.TopSummonerUUID, true
	}
	return d.AttackerUUID, d.AttackerUUID != 0
}

func (d Damage) Crit() bool  { return d.TypeFlag&critFlag != 0 }
func (d Damage) Lucky() bool { return d.LuckyValue != nil }
func (d Damage) Heal() bool  { return d.Type == DamageTypeHeal }

// aoiDelta is one entity update of SyncNearDeltaInfo / SyncToMeDeltaInfo.
type aoiDelta struct {
	uuid     uint64
	hasAttrs bool
	attrs    []RawAttr
	damages  []Damage
	buffs    []Buff
}

func decodeAttr(b []byte) (RawAttr, error) {
	var a RawAttr
	err := walk(b, func(f field) error {
		switch f.num {
		case fieldAttrID:
			if v, ok := f.asInt32(); ok {
				a.ID = AttrID(v)
			}
		case fieldAttrRaw:
			if v, ok := f.asMessage(); ok {
				a.Raw = v
			}
		}
		return nil
	})
	return a, err
}

func decodeAttrCollection(b []byte) (uint64, []RawAttr, error) {
	var (
		uuid  uint64
		attrs []RawAttr
	)
	err := walk(b, func(f field) error {
		switch f.num {
		case fieldAttrsUUID:
			if v, ok := f.asUint(); ok {
				uuid = v
			}
		case fieldAttrsAttrs:
			raw, ok := f.asMessage()
			if !ok {
				return nil
			}
			a, err := decodeAttr(raw)
			if err != nil {
				return fmt.Errorf("attr: %w", err)
			}
			attrs = append(attrs, a)
		}
		return nil
	})
	return uuid, attrs, err
}

func decodeDamage(b []byte) (Damage, error) {
	var d Damage
	err := walk(b, func(f field) error {
		switch f.num {
		case fieldDamageSource:
			d.Source, _ = f.asInt32()
		case fieldDamageIsMiss:
			d.IsMiss, _ = f.asBool()
		case fieldDamageIsCrit:
			d.IsCrit, _ = f.asBool()
		case fieldDamageType:
			d.Type, _ = f.asInt32()
		case fieldDamageTypeFlag:
			d.TypeFlag, _ = f.asInt32()
		case fieldDamageValue:
			d.Value = optInt64(f)
		case fieldDamageActualValue:
			d.ActualValue = optInt64(f)
		case fieldDamageLuckyValue:
			d.LuckyValue = optInt64(f)
		case fieldDamageHPLessen:
			d.HPLessen, _ = f.asInt64()
		case fieldDamageShieldLessen:
			d.ShieldLessen, _ = f.asInt64()
		case fieldDamageAttackerUUID:
			d.AttackerUUID, _ = f.asUint()
		case fieldDamageOwnerID:
			if v, ok := f.asInt32(); ok {
				d.OwnerID = &v
			}
		case fieldDamageIsDead:
			d.IsDead, _ = f.asBool()
		case fieldDamageTopSummoner:
			d.TopSummonerUUID, _ = f.asUint()
		}
		return nil
	})
	return d, err
}

func optInt64(f field) *int64 {
	v, ok := f.asInt64()
	if !ok {
		return nil
	}
	return &v
}

func decodeSkillEffect(b []byte) ([]Damage, error) {
	var out []Damage
	err := walk(b, func(f field) error {
		if f.num != fieldEffectDamages {
			return nil
		}
		raw, ok := f.asMessage()
		if !ok {
			return nil
		}
		d, err := decodeDamage(raw)
		if err != nil {
			return fmt.Errorf("damage: %w", err)
		}
		out = append(out, d)
		return nil
	})
	return out, err
}

func decodeAoiDelta(b []byte) (aoiDelta, error) {
	var d aoiDelta
	err := walk(b, func(f field) error {
		switch f.num {
		case fieldDeltaUUID:
			d.uuid, _ = f.asUint()
		case fieldDeltaAttrs:
			raw, ok := f.asMessage()
			if !ok {
				return nil
			}
			_, attrs, err := decodeAttrCollection(raw)
			if err != nil {
				return fmt.Errorf("attrs: %w", err)
			}
			d.hasAttrs = true
			d.attrs = append(d.attrs, attrs...)
		case fieldDeltaSkillEffects:
			raw, ok := f.asMessage()
			if !ok {
				return nil
			}
			dmg, err := decodeSkillEffect(raw)
			if err != nil {
				return fmt.Errorf("skill effect: %w", err)
			}
			d.damages = append(d.damages, dmg...)
		case fieldDeltaBuffInfos:
			raw, ok := f.asMessage()
			if !ok {
				return nil
			}
			buffs, err := decodeBuffInfos(raw)
			if err != nil {
				return fmt.Errorf("buff infos: %w", err)
			}
			d.buffs = append(d.buffs, buffs...)
		}
		return nil
	})
	return d, err
}

// decodeBuffInfos reads a BuffInfoSync. Entries without a base id are
// dropped; an absent layer counts as one stack.
func decodeBuffInfos(b []byte) ([]Buff, error) {
	var out []Buff
	err := walk(b, func(f field) error {
		if f.num != fieldBuffInfos {
			return nil
		}
		raw, ok := f.asMessage()
		if !ok {
			return nil
		}
		buff := Buff{Stack: 1}
		var hasID bool
		err := walk(raw, func(f field) error {
			switch f.num {
			case fieldBuffBaseID:
				buff.BuffID, hasID = f.asInt32()
			case fieldBuffLayer:
				if v, ok := f.asInt32(); ok {
					buff.Stack = v
				}
			case fieldBuffDuration:
				buff.DurationMs, _ = f.asInt64()
			case fieldBuffCreateTime:
				buff.CreatedMs, _ = f.asInt64()
			}
			return nil
		})
		if err != nil {
			return err
		}
		if hasID {
			out = append(out, buff)
		}
		return nil
	})
	return out, err
}

// charProfile is the subset of CharSerialize the meter reads.
type charProfile struct {
	charID       int64
	name         string
	fightPoint   int32
	level        int32
	professionID int32
}

func decodeCharSerialize(b []byte) (charProfile, error) {
	var p charProfile
	err := walk(b, func(f field) error {
		switch f.num {
		case fieldCharID:
			p.charID, _ = f.asInt64()
		case fieldCharBase:
			raw, ok := f.asMessage()
			if !ok {
				return nil
			}
			return walk(raw, func(f field) error {
				switch f.num {
				case fieldCharBaseName:
					p.name, _ = f.asString()
				case fieldCharBaseFightPoint:
					p.fightPoint, _ = f.asInt32()
				}
				return nil
			})
		case fieldCharRoleLevel:
			raw, ok := f.asMessage()
			if !ok {
				return nil
			}
			var err error
			p.level, err = int32Field(raw, fieldRoleLevelLevel)
			return err
		case fieldCharProfessionList:
			raw, ok := f.asMessage()
			if !ok {
				return nil
			}
			var err error
			p.professionID, err = int32Field(raw, fieldProfessionCurrentID)
			return err
		}
		return nil
	})
	return p, err
}

// int32Field returns the varint value of field num in b. A repeated field
// yields its last occurrence.
func int32Field(b []byte, num protowire.Number) (int32, error) {
	var out int32
	err := walk(b, func(f field) error {
		if f.num == num {
			out, _ = f.asInt32()
		}
		return nil
	})
	return out, err
}
