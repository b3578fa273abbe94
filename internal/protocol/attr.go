package protocol

import (
	"fmt"
	"unicode/utf8"
)

// AttrID keys one value of an entity attribute sidecar.
type AttrID int32

const (
	AttrName           AttrID = 0x01
	AttrTypeID         AttrID = 0x0a // monster template id
	AttrProfessionID   AttrID = 0xdc
	AttrLevel          AttrID = 0x2710
	AttrFightPoint     AttrID = 0x272e
	AttrRankLevel      AttrID = 0x274c
	AttrCrit           AttrID = 0x2b66
	AttrLucky          AttrID = 0x2b7a
	AttrHaste          AttrID = 0x2b84
	AttrMastery        AttrID = 0x2b8e
	AttrCurrentHP      AttrID = 0x2c2e
	AttrMaxHP          AttrID = 0x2c38
	AttrEliteStatus    AttrID = 0x2c42 // stored only
	AttrElementFlag    AttrID = 0x646d6c
	AttrReductionLevel AttrID = 0x64696d
	AttrReductionID    AttrID = 0x6f6c65
	AttrEnergyFlag     AttrID = 0x543cd3c6
)

// AttrKind tags the variant held by an AttrValue.
type AttrKind uint8

const (
	AttrKindBytes AttrKind = iota
	AttrKindVarint
	AttrKindStr
)

func (k AttrKind) String() string {
	switch k {
	case AttrKindVarint:
		return "varint"
	case AttrKindStr:
		return "str"
	default:
		return "bytes"
	}
}

// AttrValue is a decoded sidecar value: a varint, a string or opaque bytes.
type AttrValue struct {
	kind AttrKind
	u    uint64
	s    string
	b    []byte
}

// VarintValue wraps an integer attribute.
func VarintValue(v uint64) AttrValue { return AttrValue{kind: AttrKindVarint, u: v} }

// StrValue wraps a string attribute.
func StrValue(s string) AttrValue { return AttrValue{kind: AttrKindStr, s: s} }

// BytesValue wraps an attribute that is passed through undecoded.
func BytesValue(b []byte) AttrValue { return AttrValue{kind: AttrKindBytes, b: b} }

// Kind returns the held variant.
func (v AttrValue) Kind() AttrKind { return v.kind }

// Uint returns the varint value.
func (v AttrValue) Uint() (uint64, error) {
	if v.kind != AttrKindVarint {
		return 0, fmt.Errorf("%w: want varint, have %s", ErrWrongKind, v.kind)
	}
	return v.u, nil
}

// Int returns the varint value reinterpreted as a signed integer.
func (v AttrValue) Int() (int64, error) {
	u, err := v.Uint()
	return int64(u), err
}

// Str returns the string value.
func (v AttrValue) Str() (string, error) {
	if v.kind != AttrKindStr {
		return "", fmt.Errorf("%w: want str, have %s", ErrWrongKind, v.kind)
	}
	return v.s, nil
}

// Raw returns the opaque bytes.
func (v AttrValue) Raw() ([]byte, error) {
	if v.kind != AttrKindBytes {
		return nil, fmt.Errorf("%w: want bytes, have %s", ErrWrongKind, v.kind)
	}
	return v.b, nil
}

func (v AttrValue) String() string {
	switch v.kind {
	case AttrKindVarint:
		return fmt.Sprintf("%d", v.u)
	case AttrKindStr:
		return fmt.Sprintf("%q", v.s)
	default:
		return fmt.Sprintf("0x%x", v.b)
	}
}

// Attrs is the result of decoding one attribute collection.
type Attrs struct {
	Values  map[AttrID]AttrValue
	Unknown []AttrID // ids kept as bytes because no decoder knows them
	Failed  []AttrID // known ids whose bytes did not decode
}

// Get returns the value for id.
func (a Attrs) Get(id AttrID) (AttrValue, bool) {
	v, ok := a.Values[id]
	return v, ok
}

// Int returns the integer value for id, if present and a varint.
func (a Attrs) Int(id AttrID) (int64, bool) {
	v, ok := a.Values[id]
	if !ok {
		return 0, false
	}
	n, err := v.Int()
	return n, err == nil
}

// Str returns the string value for id, if present and a string.
func (a Attrs) Str(id AttrID) (string, bool) {
	v, ok := a.Values[id]
	if !ok {
		return "", false
	}
	s, err := v.Str()
	return s, err == nil
}

// EntityKind is the entity category packed into the low bits of a uuid.
type EntityKind uint8

const (
	EntityUnknown EntityKind = iota
	EntityPlayer
	EntityMonster
)

const (
	entTypePlayer  = 640
	entTypeMonster = 64
)

func (k EntityKind) String() string {
	switch k {
	case EntityPlayer:
		return "player"
	case EntityMonster:
		return "monster"
	default:
		return "unknown"
	}
}

// SplitUUID derives the stable uid and category of a packed 64-bit entity id.
// The low 16 bits carry the category, the rest the id.
func SplitUUID(uuid uint64) (uid int64, kind EntityKind) {
	uid = int64(uuid >> 16)
	switch uuid & 0xffff {
	case entTypePlayer:
		kind = EntityPlayer
	case entTypeMonster:
		kind = EntityMonster
	default:
		kind = EntityUnknown
	}
	return uid, kind
}

// attrDecoder turns raw sidecar bytes into a typed value.
type attrDecoder func(raw []byte) (AttrValue, error)

var playerAttrDecoders = map[AttrID]attrDecoder{
	AttrName:           decodeLenString,
	AttrProfessionID:   decodeVarint,
	AttrLevel:          decodeVarint,
	AttrFightPoint:     decodeVarint,
	AttrRankLevel:      decodeVarint,
	AttrCrit:           decodeVarint,
	AttrLucky:          decodeVarint,
	AttrHaste:          decodeVarint,
	AttrMastery:        decodeVarint,
	AttrCurrentHP:      decodeVarint,
	AttrMaxHP:          decodeVarint,
	AttrElementFlag:    decodeVarint,
	AttrReductionLevel: decodeVarint,
	AttrReductionID:    decodeVarint,
	AttrEnergyFlag:     decodeVarint,
	AttrEliteStatus:    decodeVarint,
}

var monsterAttrDecoders = map[AttrID]attrDecoder{
	AttrTypeID:      decodeVarint,
	AttrName:        decodeSkipOneString,
	AttrCurrentHP:   decodeVarint,
	AttrMaxHP:       decodeVarint,
	AttrEliteStatus: decodeVarint,
}

func decodeVarint(raw []byte) (AttrValue, error) {
	v, _, err := consumeVarint(raw)
	if err != nil {
		return AttrValue{}, err
	}
	return VarintValue(v), nil
}

// decodeLenString reads a varint length followed by UTF-8 bytes.
func decodeLenString(raw []byte) (AttrValue, error) {
	n, used, err := consumeVarint(raw)
	if err != nil {
		return AttrValue{}, err
	}
	rest := raw[used:]
	if uint64(len(rest)) < n {
		return AttrValue{}, fmt.Errorf("%w: string wants %d bytes, have %d", ErrTruncated, n, len(rest))
	}
	s := rest[:n]
	if !utf8.Valid(s) {
		return AttrValue{}, fmt.Errorf("protocol: string attribute is not utf-8")
	}
	return StrValue(string(s)), nil
}

// decodeSkipOneString drops a one byte prefix and keeps the rest as text.
func decodeSkipOneString(raw []byte) (AttrValue, error) {
	if len(raw) > 0 {
		raw = raw[1:]
	}
	if !utf8.Valid(raw) {
		return AttrValue{}, fmt.Errorf("protocol: string attribute is not utf-8")
	}
	return StrValue(string(raw)), nil
}

// DecodeAttrs interprets a raw collection for an entity of the given kind.
// Every attribute is decoded on its own; a bad value is kept as bytes and
// listed in Failed, an id without decoder is kept as bytes and listed in
// Unknown. Later occurrences of an id overwrite earlier ones.
func DecodeAttrs(kind EntityKind, raw []RawAttr) Attrs {
	var table map[AttrID]attrDecoder
	switch kind {
	case EntityPlayer:
		table = playerAttrDecoders
	case EntityMonster:
		table = monsterAttrDecoders
	}

	out := Attrs{Values: make(map[AttrID]AttrValue, len(raw))}
	for _, a := range raw {
		dec, ok := table[a.ID]
		if !ok {
			out.Values[a.ID] = BytesValue(a.Raw)
			out.Unknown = append(out.Unknown, a.ID)
			continue
		}
		v, err := dec(a.Raw)
		if err != nil {
			out.Values[a.ID] = BytesValue(a.Raw)
			out.Failed = append(out.Failed, a.ID)
			continue
		}
		out.Values[a.ID] = v
	}
	return out
}
