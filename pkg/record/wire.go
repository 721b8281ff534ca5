package record

import (
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"
)

// Builder appends protobuf wire fields. Payload types use it to produce
// their MarshalPayload output.
type Builder struct { // A
	buf []byte
}

// Bytes appends a length-delimited field. Empty values are still written
// so that repeated fields keep their positions.
func (b *Builder) Bytes(num protowire.Number, v []byte) *Builder { // A
	b.buf = protowire.AppendTag(b.buf, num, protowire.BytesType)
	b.buf = protowire.AppendBytes(b.buf, v)
	return b
}

// Uint appends a varint field.
func (b *Builder) Uint(num protowire.Number, v uint64) *Builder { // A
	b.buf = protowire.AppendTag(b.buf, num, protowire.VarintType)
	b.buf = protowire.AppendVarint(b.buf, v)
	return b
}

// Bool appends a varint field holding 0 or 1.
func (b *Builder) Bool(num protowire.Number, v bool) *Builder { // A
	var n uint64
	if v {
		n = 1
	}
	return b.Uint(num, n)
}

// Message appends a nested message produced by m.
func (b *Builder) Message(
	num protowire.Number,
	m Marshaler,
) error { // A
	inner, err := m.MarshalPayload()
	if err != nil {
		return err
	}
	b.Bytes(num, inner)
	return nil
}

// Out returns the accumulated bytes.
func (b *Builder) Out() []byte { // A
	return b.buf
}

// Field is one decoded wire field. Bytes is set for length-delimited
// fields and Varint for varint fields.
type Field struct { // A
	Num    protowire.Number
	Type   protowire.Type
	Bytes  []byte
	Varint uint64
}

// Fields walks every top-level field of b. Unknown wire types are
// skipped.
func Fields(b []byte, fn func(f Field) error) error { // A
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return fmt.Errorf("tag: %w", protowire.ParseError(n))
		}
		b = b[n:]
		switch typ {
		case protowire.VarintType:
			v, m := protowire.ConsumeVarint(b)
			if m < 0 {
				return fmt.Errorf("field %d: %w", num, protowire.ParseError(m))
			}
			b = b[m:]
			if err := fn(Field{Num: num, Type: typ, Varint: v}); err != nil {
				return err
			}
		case protowire.BytesType:
			v, m := protowire.ConsumeBytes(b)
			if m < 0 {
				return fmt.Errorf("field %d: %w", num, protowire.ParseError(m))
			}
			b = b[m:]
			if err := fn(Field{Num: num, Type: typ, Bytes: v}); err != nil {
				return err
			}
		default:
			m := protowire.ConsumeFieldValue(num, typ, b)
			if m < 0 {
				return fmt.Errorf("field %d: %w", num, protowire.ParseError(m))
			}
			b = b[m:]
		}
	}
	return nil
}

// WantBytes returns an error unless f is length-delimited.
func (f Field) WantBytes() error { // A
	if f.Type != protowire.BytesType {
		return fmt.Errorf("field %d: want bytes, got wire type %d", f.Num, f.Type)
	}
	return nil
}

// WantVarint returns an error unless f is a varint.
func (f Field) WantVarint() error { // A
	if f.Type != protowire.VarintType {
		return fmt.Errorf("field %d: want varint, got wire type %d", f.Num, f.Type)
	}
	return nil
}

// CloneBytes returns a copy of the field value detached from the input
// buffer.
func (f Field) CloneBytes() []byte { // A
	return append([]byte(nil), f.Bytes...)
}
