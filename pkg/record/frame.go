package record

import (
	"errors"
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"
)

// HeaderSize is the encoded length of every record header.
const HeaderSize = 2

// headerField is the protobuf field number carrying the kind.
const headerField protowire.Number = 1

var errKindMismatch = errors.New("payload kind does not match header")

// Marshaler is implemented by every typed record payload.
type Marshaler interface { // A
	MarshalPayload() ([]byte, error)
}

// Unmarshaler is implemented by payload types that can be parsed out of
// a Frame. RecordKind names the header kind the type belongs to.
type Unmarshaler interface { // A
	RecordKind() Kind
	UnmarshalPayload(b []byte) error
}

// RawPayload carries pre-serialized payload bytes.
type RawPayload []byte // A

func (p RawPayload) MarshalPayload() ([]byte, error) { // A
	return p, nil
}

// EncodeHeader returns the two byte header for k.
func EncodeHeader(k Kind) ([]byte, error) { // A
	if !k.Valid() {
		return nil, fmt.Errorf("record: unknown kind %d", uint8(k))
	}
	b := make([]byte, 0, HeaderSize)
	b = protowire.AppendTag(b, headerField, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(k))
	if len(b) != HeaderSize {
		return nil, fmt.Errorf(
			"record: header for %s is %d bytes, want %d",
			k, len(b), HeaderSize,
		)
	}
	return b, nil
}

// DecodeHeader reads the kind from the first HeaderSize bytes of b.
func DecodeHeader(b []byte) (Kind, error) { // A
	if len(b) < HeaderSize {
		return 0, &HeaderParseError{
			Reason: fmt.Sprintf("need %d bytes, have %d", HeaderSize, len(b)),
		}
	}
	h := b[:HeaderSize]
	num, typ, n := protowire.ConsumeTag(h)
	if n < 0 {
		return 0, &HeaderParseError{
			Reason: protowire.ParseError(n).Error(),
		}
	}
	if num != headerField || typ != protowire.VarintType {
		return 0, &HeaderParseError{
			Reason: fmt.Sprintf("unexpected field %d type %d", num, typ),
		}
	}
	v, m := protowire.ConsumeVarint(h[n:])
	if m < 0 {
		return 0, &HeaderParseError{
			Reason: protowire.ParseError(m).Error(),
		}
	}
	if n+m != HeaderSize {
		return 0, &HeaderParseError{Reason: "header length mismatch"}
	}
	k := Kind(v)
	if v > 0xff || !k.Valid() {
		return 0, &HeaderParseError{
			Reason: fmt.Sprintf("unknown kind %d", v),
		}
	}
	return k, nil
}

// Encode frames the serialized payload behind the header for kind.
func Encode(p Marshaler, kind Kind) ([]byte, error) { // A
	header, err := EncodeHeader(kind)
	if err != nil {
		return nil, err
	}
	payload, err := p.MarshalPayload()
	if err != nil {
		return nil, fmt.Errorf("record: marshal %s payload: %w", kind, err)
	}
	out := make([]byte, 0, HeaderSize+len(payload))
	out = append(out, header...)
	return append(out, payload...), nil
}

// Frame is a decoded header together with its undecoded payload bytes.
type Frame struct { // A
	Kind    Kind
	Payload []byte
}

// Decode splits framed bytes into header kind and payload.
func Decode(b []byte) (Frame, error) { // A
	k, err := DecodeHeader(b)
	if err != nil {
		return Frame{}, err
	}
	return Frame{Kind: k, Payload: b[HeaderSize:]}, nil
}

// Parse deserializes the payload into dst. A dst whose kind differs from
// the header kind is rejected without reading the payload.
func (f Frame) Parse(dst Unmarshaler) error { // A
	if dst.RecordKind() != f.Kind {
		return &PayloadParseError{
			Kind: f.Kind,
			Err: fmt.Errorf(
				"%w: parsing %s as %s",
				errKindMismatch, f.Kind, dst.RecordKind(),
			),
		}
	}
	if err := dst.UnmarshalPayload(f.Payload); err != nil {
		return &PayloadParseError{Kind: f.Kind, Err: err}
	}
	return nil
}
