// Package protocol decodes notify payloads of the game scene service into
// state events.
package protocol

import (
	"fmt"
	"log/slog"

	"firestige.xyz/meter/internal/log"
	"firestige.xyz/meter/internal/metrics"
)

// handler decodes one payload. A nil event with a nil error means the
// message carried nothing to apply.
type handler func(d *Decoder, payload []byte) (StateEvent, error)

// handlers is the fixed table of interpreted methods, indexed by method id.
// Every other slot is nil and the method is known-but-ignored.
var handlers = [...]handler{
	MethodEnterScene:        (*Decoder).enterScene,
	MethodSyncNearEntities:  (*Decoder).syncNearEntities,
	MethodSyncSceneAttrs:    (*Decoder).syncSceneAttrs,
	MethodSyncContainerData: (*Decoder).syncContainerData,
	MethodNotifyReviveUser:  (*Decoder).notifyReviveUser,
	MethodSyncServerTime:    (*Decoder).syncServerTime,
	MethodSyncNearDeltaInfo: (*Decoder).syncNearDeltaInfo,
	MethodSyncToMeDeltaInfo: (*Decoder).syncToMeDeltaInfo,
}

// Interpreted reports whether m has a decoder.
func Interpreted(m Method) bool {
	return lookup(m) != nil
}

func lookup(m Method) handler {
	if int(m) >= len(handlers) {
		return nil
	}
	return handlers[m]
}

// Decoder maps notify methods to state events.
type Decoder struct {
	scenes SceneLookup
	logger *slog.Logger
}

// NewDecoder creates a decoder resolving scene ids against scenes.
func NewDecoder(scenes SceneLookup) *Decoder {
	return &Decoder{scenes: scenes, logger: log.Component("protocol")}
}

// Decode turns one payload into a state event. ok is false when the method
// is not interpreted or the message carried nothing to apply; that is not an
// error. A returned error concerns this message only.
func (d *Decoder) Decode(m Method, payload []byte) (ev StateEvent, ok bool, err error) {
	h := lookup(m)
	if h == nil {
		return nil, false, nil
	}
	metrics.MessagesTotal.WithLabelValues(m.String()).Inc()

	ev, err = h(d, payload)
	if err != nil {
		metrics.DecodeErrorsTotal.WithLabelValues(m.String()).Inc()
		return nil, false, fmt.Errorf("decode %s: %w", m, err)
	}
	return ev, ev != nil, nil
}

// entity decodes the attributes of one entity and accounts for the ids it
// could not interpret.
func (d *Decoder) entity(uuid uint64, raw []RawAttr) EntityState {
	e := newEntityState(uuid, raw)
	if n := len(e.Attrs.Unknown); n > 0 {
		metrics.UnknownAttrsTotal.WithLabelValues(e.Kind.String()).Add(float64(n))
	}
	if len(e.Attrs.Failed) > 0 {
		d.logger.Debug("attribute decode failed", "uid", e.UID, "kind", e.Kind, "ids", e.Attrs.Failed)
	}
	return e
}

func (d *Decoder) enterScene(payload []byte) (StateEvent, error) {
	id, known := enterSceneID(payload, d.scenes)
	return SceneChange{SceneID: id, Known: known, Source: SceneSourceEnterScene}, nil
}

// syncSceneAttrs only yields an event when a known scene id is present.
func (d *Decoder) syncSceneAttrs(payload []byte) (StateEvent, error) {
	id, known := sceneAttrsID(payload, d.scenes)
	if !known {
		return nil, nil
	}
	return SceneChange{SceneID: id, Known: true, Source: SceneSourceSceneAttrs}, nil
}

func (d *Decoder) syncNearEntities(payload []byte) (StateEvent, error) {
	var (
		appear    []EntityState
		disappear []uint64
	)
	err := walk(payload, func(f field) error {
		raw, ok := f.asMessage()
		if !ok {
			return nil
		}
		switch f.num {
		case fieldNearAppear:
			var (
				uuid  uint64
				attrs []RawAttr
			)
			err := walk(raw, func(f field) error {
				switch f.num {
				case fieldEntityUUID:
					uuid, _ = f.asUint()
				case fieldEntityAttrs:
					b, ok := f.asMessage()
					if !ok {
						return nil
					}
					_, a, err := decodeAttrCollection(b)
					if err != nil {
						return err
					}
					attrs = append(attrs, a...)
				}
				return nil
			})
			if err != nil {
				return fmt.Errorf("appear: %w", err)
			}
			if uuid != 0 {
				appear = append(appear, d.entity(uuid, attrs))
			}
		case fieldNearDisappear:
			var uuid uint64
			err := walk(raw, func(f field) error {
				if f.num == fieldDisappearUUID {
					uuid, _ = f.asUint()
				}
				return nil
			})
			if err != nil {
				return fmt.Errorf("disappear: %w", err)
			}
			if uuid != 0 {
				disappear = append(disappear, uuid)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	var events []StateEvent
	if len(appear) > 0 {
		events = append(events, EntityAppear{Entities: appear})
	}
	if len(disappear) > 0 {
		events = append(events, EntityDisappear{UUIDs: disappear})
	}
	return collapse(events), nil
}

func (d *Decoder) syncContainerData(payload []byte) (StateEvent, error) {
	var (
		p     charProfile
		found bool
	)
	err := walk(payload, func(f field) error {
		if f.num != fieldContainerVData {
			return nil
		}
		raw, ok := f.asMessage()
		if !ok {
			return nil
		}
		var err error
		p, err = decodeCharSerialize(raw)
		found = true
		return err
	})
	if err != nil {
		return nil, err
	}
	if !found || p.charID == 0 {
		return nil, nil
	}
	return PlayerProfile{
		CharID:       p.charID,
		Name:         p.name,
		Level:        p.level,
		ProfessionID: p.professionID,
		FightPoint:   p.fightPoint,
	}, nil
}

func (d *Decoder) notifyReviveUser(payload []byte) (StateEvent, error) {
	var uuid uint64
	err := walk(payload, func(f field) error {
		if f.num == fieldReviveActorUUID {
			uuid, _ = f.asUint()
		}
		return nil
	})
	if err != nil || uuid == 0 {
		return nil, err
	}
	uid, _ := SplitUUID(uuid)
	return Revive{UUID: uuid, UID: uid}, nil
}

func (d *Decoder) syncServerTime(payload []byte) (StateEvent, error) {
	var ev ServerTimeSync
	err := walk(payload, func(f field) error {
		switch f.num {
		case fieldTimeClientMs:
			ev.ClientMs, _ = f.asInt64()
		case fieldTimeServerMs:
			ev.ServerMs, _ = f.asInt64()
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return ev, nil
}

func (d *Decoder) syncNearDeltaInfo(payload []byte) (StateEvent, error) {
	var events []StateEvent
	err := walk(payload, func(f field) error {
		if f.num != fieldNearDeltaInfos {
			return nil
		}
		raw, ok := f.asMessage()
		if !ok {
			return nil
		}
		delta, err := decodeAoiDelta(raw)
		if err != nil {
			return fmt.Errorf("delta: %w", err)
		}
		events = d.appendDelta(events, delta)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return collapse(events), nil
}

func (d *Decoder) syncToMeDeltaInfo(payload []byte) (StateEvent, error) {
	var events []StateEvent
	err := walk(payload, func(f field) error {
		if f.num != fieldToMeDeltaInfo {
			return nil
		}
		raw, ok := f.asMessage()
		if !ok {
			return nil
		}
		var (
			uuid  uint64
			delta *aoiDelta
		)
		err := walk(raw, func(f field) error {
			switch f.num {
			case fieldToMeUUID:
				uuid, _ = f.asUint()
			case fieldToMeBaseDelta:
				b, ok := f.asMessage()
				if !ok {
					return nil
				}
				dd, err := decodeAoiDelta(b)
				if err != nil {
					return fmt.Errorf("base delta: %w", err)
				}
				delta = &dd
			}
			return nil
		})
		if err != nil {
			return err
		}
		if uuid != 0 {
			uid, _ := SplitUUID(uuid)
			events = append(events, LocalPlayer{UUID: uuid, UID: uid})
		}
		if delta != nil {
			events = d.appendDelta(events, *delta)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return collapse(events), nil
}

// appendDelta expands one AOI delta into its attribute and combat events,
// attributes first.
func (d *Decoder) appendDelta(events []StateEvent, delta aoiDelta) []StateEvent {
	if delta.uuid == 0 {
		return events
	}
	if delta.hasAttrs {
		events = append(events, AttributeDelta{Entity: d.entity(delta.uuid, delta.attrs)})
	}
	if len(delta.damages) > 0 {
		uid, kind := SplitUUID(delta.uuid)
		events = append(events, CombatDelta{
			TargetUUID: delta.uuid,
			TargetUID:  uid,
			TargetKind: kind,
			Damages:    delta.damages,
		})
	}
	if len(delta.buffs) > 0 {
		uid, kind := SplitUUID(delta.uuid)
		events = append(events, BuffUpdate{
			TargetUUID: delta.uuid,
			TargetUID:  uid,
			TargetKind: kind,
			Buffs:      delta.buffs,
		})
	}
	return events
}

func collapse(events []StateEvent) StateEvent {
	switch len(events) {
	case 0:
		return nil
	case 1:
		return events[0]
	default:
		return Batch{Events: events}
	}
}
