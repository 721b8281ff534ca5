package record

import (
	"bytes"
	"errors"
	"testing"

	"google.golang.org/protobuf/encoding/protowire"
	"pgregory.net/rapid"
)

type textPayload struct { // A
	kind Kind
	text string
}

func (p *textPayload) RecordKind() Kind { return p.kind } // A

func (p *textPayload) MarshalPayload() ([]byte, error) { // A
	var b Builder
	b.Bytes(1, []byte(p.text))
	return b.Out(), nil
}

func (p *textPayload) UnmarshalPayload(data []byte) error { // A
	seen := false
	err := Fields(data, func(f Field) error {
		if f.Num != 1 {
			return nil
		}
		if err := f.WantBytes(); err != nil {
			return err
		}
		p.text = string(f.Bytes)
		seen = true
		return nil
	})
	if err != nil {
		return err
	}
	if !seen {
		return errors.New("missing text")
	}
	return nil
}

func TestHeaderSizeIsFixedForEveryKind(t *testing.T) { // A
	t.Parallel()
	for _, k := range Kinds {
		h, err := EncodeHeader(k)
		if err != nil {
			t.Fatalf("EncodeHeader(%s): %v", k, err)
		}
		if len(h) != HeaderSize {
			t.Fatalf("%s header is %d bytes, want %d", k, len(h), HeaderSize)
		}
		got, err := DecodeHeader(h)
		if err != nil {
			t.Fatalf("DecodeHeader(%s): %v", k, err)
		}
		if got != k {
			t.Fatalf("got %s, want %s", got, k)
		}
	}
}

func TestEncodeDecodeRoundTrip(t *testing.T) { // A
	t.Parallel()
	rapid.Check(t, func(t *rapid.T) {
		k := rapid.SampledFrom(Kinds).Draw(t, "kind")
		text := rapid.String().Draw(t, "text")
		in := &textPayload{kind: k, text: text}

		b, err := Encode(in, k)
		if err != nil {
			t.Fatalf("Encode: %v", err)
		}
		f, err := Decode(b)
		if err != nil {
			t.Fatalf("Decode: %v", err)
		}
		if f.Kind != k {
			t.Fatalf("kind: got %s, want %s", f.Kind, k)
		}
		out := &textPayload{kind: k}
		if err := f.Parse(out); err != nil {
			t.Fatalf("Parse: %v", err)
		}
		if out.text != text {
			t.Fatalf("text: got %q, want %q", out.text, text)
		}
	})
}

func TestDecodeRejectsShortInput(t *testing.T) { // A
	t.Parallel()
	for _, in := range [][]byte{nil, {0x08}} {
		_, err := Decode(in)
		var hpe *HeaderParseError
		if !errors.As(err, &hpe) {
			t.Fatalf("Decode(%x): got %v, want HeaderParseError", in, err)
		}
	}
}

func TestDecodeRejectsUnknownKind(t *testing.T) { // A
	t.Parallel()
	b := protowire.AppendTag(nil, 1, protowire.VarintType)
	b = protowire.AppendVarint(b, 99)
	_, err := Decode(b)
	var hpe *HeaderParseError
	if !errors.As(err, &hpe) {
		t.Fatalf("got %v, want HeaderParseError", err)
	}
}

func TestDecodeRejectsWrongTag(t *testing.T) { // A
	t.Parallel()
	b := protowire.AppendTag(nil, 2, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(KindChunk))
	_, err := Decode(b)
	var hpe *HeaderParseError
	if !errors.As(err, &hpe) {
		t.Fatalf("got %v, want HeaderParseError", err)
	}
}

func TestParseRejectsMismatchedKind(t *testing.T) { // A
	t.Parallel()
	b, err := Encode(&textPayload{kind: KindChunk, text: "x"}, KindChunk)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	f, err := Decode(b)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	err = f.Parse(&textPayload{kind: KindSpend})
	var ppe *PayloadParseError
	if !errors.As(err, &ppe) {
		t.Fatalf("got %v, want PayloadParseError", err)
	}
	if ppe.Kind != KindChunk {
		t.Fatalf("error kind: got %s, want %s", ppe.Kind, KindChunk)
	}
}

func TestParseRejectsGarbagePayload(t *testing.T) { // A
	t.Parallel()
	h, _ := EncodeHeader(KindRegister)
	b := append(h, 0xff, 0xff, 0xff)
	f, err := Decode(b)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	var ppe *PayloadParseError
	if err := f.Parse(&textPayload{kind: KindRegister}); !errors.As(err, &ppe) {
		t.Fatalf("got %v, want PayloadParseError", err)
	}
}

func TestRawPayloadKeepsBytes(t *testing.T) { // A
	t.Parallel()
	b, err := Encode(RawPayload("abc"), KindScratchpad)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	f, err := Decode(b)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if !bytes.Equal(f.Payload, []byte("abc")) {
		t.Fatalf("payload: got %q", f.Payload)
	}
}

func TestTypeOf(t *testing.T) { // A
	t.Parallel()
	chunk, _ := Encode(RawPayload("a"), KindChunkWithPayment)
	rt, err := TypeOf(Record{Value: chunk})
	if err != nil || !rt.IsChunk() {
		t.Fatalf("chunk record: got %v, %v", rt, err)
	}

	spend, _ := Encode(RawPayload("a"), KindSpend)
	rec := Record{Value: spend}
	rt, err = TypeOf(rec)
	if err != nil {
		t.Fatalf("TypeOf: %v", err)
	}
	h, ok := rt.ContentHash()
	if !ok || h != rec.ContentHash() {
		t.Fatalf("spend record: got %v", rt)
	}
}
