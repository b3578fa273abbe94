package protocol

import (
	"encoding/binary"
	"math"
	"strconv"
	"strings"

	"google.golang.org/protobuf/encoding/protowire"
)

// SceneLookup reports whether a scene id is known to the game data.
type SceneLookup interface {
	HasScene(id int32) bool
}

// enterSceneID reads the scene id of an EnterScene payload. The structured
// fields are tried in order: digits of the scene guid, the type id attribute
// of the subscene then scene attributes, then the local player's attributes.
// Only a payload that does not parse as a message falls back to a byte scan,
// so a stray tag byte is never read as a scene id.
func enterSceneID(payload []byte, scenes SceneLookup) (int32, bool) {
	if scenes == nil {
		return 0, false
	}
	info, ok := enterSceneInfo(payload)
	if !ok {
		return FindSceneID(payload, scenes)
	}

	if id, ok := guidSceneID(info.guid, scenes); ok {
		return id, true
	}
	for _, attrs := range [][]RawAttr{info.subScene, info.scene} {
		if id, ok := attrSceneID(attrs, scenes); ok {
			return id, true
		}
	}
	for _, a := range info.player {
		if a.ID == AttrName {
			continue
		}
		if id, ok := FindSceneID(a.Raw, scenes); ok {
			return id, true
		}
	}
	return 0, false
}

// sceneAttrsID reads the scene id of a SyncSceneAttrs payload.
func sceneAttrsID(payload []byte, scenes SceneLookup) (int32, bool) {
	if scenes == nil {
		return 0, false
	}
	var attrs []RawAttr
	err := walk(payload, func(f field) error {
		if f.num != fieldSyncSceneAttrs {
			return nil
		}
		b, ok := f.asMessage()
		if !ok {
			return nil
		}
		_, a, err := decodeAttrCollection(b)
		if err != nil {
			return err
		}
		attrs = append(attrs, a...)
		return nil
	})
	if err != nil {
		return FindSceneID(payload, scenes)
	}
	return attrSceneID(attrs, scenes)
}

type sceneInfo struct {
	guid     string
	subScene []RawAttr
	scene    []RawAttr
	player   []RawAttr
}

func enterSceneInfo(payload []byte) (sceneInfo, bool) {
	var info sceneInfo
	err := walk(payload, func(f field) error {
		if f.num != fieldEnterSceneInfo {
			return nil
		}
		b, ok := f.asMessage()
		if !ok {
			return nil
		}
		return walk(b, func(f field) error {
			var err error
			switch f.num {
			case fieldSceneGUID:
				info.guid, _ = f.asString()
			case fieldSceneAttrs:
				if b, ok := f.asMessage(); ok {
					_, info.scene, err = decodeAttrCollection(b)
				}
			case fieldSubSceneAttrs:
				if b, ok := f.asMessage(); ok {
					_, info.subScene, err = decodeAttrCollection(b)
				}
			case fieldScenePlayerEntity:
				if b, ok := f.asMessage(); ok {
					info.player, err = entityAttrs(b)
				}
			}
			return err
		})
	})
	return info, err == nil
}

func entityAttrs(b []byte) ([]RawAttr, error) {
	var attrs []RawAttr
	err := walk(b, func(f field) error {
		if f.num != fieldEntityAttrs {
			return nil
		}
		raw, ok := f.asMessage()
		if !ok {
			return nil
		}
		_, a, err := decodeAttrCollection(raw)
		attrs = append(attrs, a...)
		return err
	})
	return attrs, err
}

func guidSceneID(guid string, scenes SceneLookup) (int32, bool) {
	digits := strings.Map(func(r rune) rune {
		if r >= '0' && r <= '9' {
			return r
		}
		return -1
	}, guid)
	if digits == "" {
		return 0, false
	}
	v, err := strconv.ParseInt(digits, 10, 32)
	if err != nil || !scenes.HasScene(int32(v)) {
		return 0, false
	}
	return int32(v), true
}

// attrSceneID prefers the type id attribute and otherwise scans raw
// attribute bytes. Names are length prefixed strings and are never scanned,
// since the length byte would read as a small scene id.
func attrSceneID(attrs []RawAttr, scenes SceneLookup) (int32, bool) {
	for _, a := range attrs {
		if a.ID != AttrTypeID {
			continue
		}
		v, n := protowire.ConsumeVarint(a.Raw)
		if n > 0 && v <= math.MaxInt32 && scenes.HasScene(int32(v)) {
			return int32(v), true
		}
	}
	for _, a := range attrs {
		if a.ID == AttrName {
			continue
		}
		if id, ok := FindSceneID(a.Raw, scenes); ok {
			return id, true
		}
	}
	return 0, false
}

// FindSceneID scans b for a known scene id. The scene field has moved between
// client versions, so the search tries, in order: a varint at every offset,
// a 4-byte little then big endian integer at every offset, and ASCII digit
// runs of 2 to 6 characters.
func FindSceneID(b []byte, scenes SceneLookup) (int32, bool) {
	if scenes == nil {
		return 0, false
	}

	for i := range b {
		v, n := protowire.ConsumeVarint(b[i:])
		if n < 0 || v > math.MaxInt32 {
			continue
		}
		if scenes.HasScene(int32(v)) {
			return int32(v), true
		}
	}

	for i := 0; i+4 <= len(b); i++ {
		if v := int32(binary.LittleEndian.Uint32(b[i:])); v > 0 && scenes.HasScene(v) {
			return v, true
		}
		if v := int32(binary.BigEndian.Uint32(b[i:])); v > 0 && scenes.HasScene(v) {
			return v, true
		}
	}

	for i := 0; i < len(b); {
		if !isDigit(b[i]) {
			i++
			continue
		}
		start := i
		for i < len(b) && isDigit(b[i]) {
			i++
		}
		if n := i - start; n >= 2 && n <= 6 {
			v, err := strconv.ParseInt(string(b[start:i]), 10, 32)
			if err == nil && scenes.HasScene(int32(v)) {
				return int32(v), true
			}
		}
	}
	return 0, false
}

func isDigit(c byte) bool { return c >= '0' && c <= '9' }
