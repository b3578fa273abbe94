package protocol

import (
	"errors"
	"fmt"
	"unicode/utf8"

	"google.golang.org/protobuf/encoding/protowire"
)

var (
	// ErrTruncated reports a payload that ends inside a field.
	ErrTruncated = errors.New("protocol: truncated message")
	// ErrWrongKind reports an attribute read through the wrong accessor.
	ErrWrongKind = errors.New("protocol: attribute has a different kind")
)

// field is one decoded protobuf field. Only the member matching typ is set.
type field struct {
	num    protowire.Number
	typ    protowire.Type
	varint uint64
	fixed  uint64
	bytes  []byte
}

// walk calls fn for every top-level field of b in wire order.
func walk(b []byte, fn func(f field) error) error {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return fmt.Errorf("%w: tag: %w", ErrTruncated, protowire.ParseError(n))
		}
		b = b[n:]

		f := field{num: num, typ: typ}
		switch typ {
		case protowire.VarintType:
			f.varint, n = protowire.ConsumeVarint(b)
		case protowire.BytesType:
			f.bytes, n = protowire.ConsumeBytes(b)
		case protowire.Fixed32Type:
			var v uint32
			v, n = protowire.ConsumeFixed32(b)
			f.fixed = uint64(v)
		case protowire.Fixed64Type:
			f.fixed, n = protowire.ConsumeFixed64(b)
		default:
			n = protowire.ConsumeFieldValue(num, typ, b)
		}
		if n < 0 {
			return fmt.Errorf("%w: field %d: %w", ErrTruncated, num, protowire.ParseError(n))
		}
		b = b[n:]

		if err := fn(f); err != nil {
			return err
		}
	}
	return nil
}

// Typed views of a field. A field arriving with an unexpected wire type is
// reported as absent so that schema drift degrades one field at a time.

func (f field) asUint() (uint64, bool) {
	if f.typ != protowire.VarintType {
		return 0, false
	}
	return f.varint, true
}

func (f field) asInt64() (int64, bool) {
	v, ok := f.asUint()
	return int64(v), ok
}

func (f field) asInt32() (int32, bool) {
	v, ok := f.asUint()
	return int32(v), ok
}

func (f field) asBool() (bool, bool) {
	v, ok := f.asUint()
	return v != 0, ok
}

func (f field) asMessage() ([]byte, bool) {
	if f.typ != protowire.BytesType {
		return nil, false
	}
	return f.bytes, true
}

func (f field) asString() (string, bool) {
	b, ok := f.asMessage()
	if !ok || !utf8.Valid(b) {
		return "", false
	}
	return string(b), true
}

// consumeVarint reads one varint from the front of b.
func consumeVarint(b []byte) (uint64, int, error) {
	v, n := protowire.ConsumeVarint(b)
	if n < 0 {
		return 0, 0, fmt.Errorf("%w: varint: %w", ErrTruncated, protowire.ParseError(n))
	}
	return v, n, nil
}
