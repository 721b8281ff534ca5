package record

import (
	"bytes"
	"errors"

	"github.com/i5heu/ouroboros-mesh/pkg/address"
)

// Record is a framed value stored under a key.
type Record struct { // A
	Key   address.Address
	Value []byte
}

// New frames p under key.
func New(key address.Address, p Marshaler, kind Kind) (Record, error) { // A
	value, err := Encode(p, kind)
	if err != nil {
		return Record{}, err
	}
	return Record{Key: key, Value: value}, nil
}

// Kind decodes the header kind of the value.
func (r Record) Kind() (Kind, error) { // A
	return DecodeHeader(r.Value)
}

// Frame decodes the value.
func (r Record) Frame() (Frame, error) { // A
	return Decode(r.Value)
}

// ContentHash identifies the exact bytes of the value.
func (r Record) ContentHash() address.Address { // A
	return address.FromContent(r.Value)
}

// Equal reports whether both records carry the same key and bytes.
func (r Record) Equal(o Record) bool { // A
	return r.Key == o.Key && bytes.Equal(r.Value, o.Value)
}

// RecordType classifies a stored record for freshness comparisons.
// Chunks are immutable so their presence is enough. Every other kind is
// identified by the hash of its current bytes.
type RecordType struct { // A
	chunk bool
	hash  address.Address
}

// ChunkType is the RecordType of every chunk record.
func ChunkType() RecordType { // A
	return RecordType{chunk: true}
}

// NonChunkType is the RecordType of a mutable record with the given
// content hash.
func NonChunkType(h address.Address) RecordType { // A
	return RecordType{hash: h}
}

func (t RecordType) IsChunk() bool { // A
	return t.chunk
}

// ContentHash returns the hash of a non-chunk record.
func (t RecordType) ContentHash() (address.Address, bool) { // A
	return t.hash, !t.chunk
}

func (t RecordType) String() string { // A
	if t.chunk {
		return "Chunk"
	}
	return "NonChunk(" + t.hash.Short() + ")"
}

// MarshalBinary encodes t as a marker byte, followed by the content hash
// for non-chunk types.
func (t RecordType) MarshalBinary() ([]byte, error) { // A
	if t.chunk {
		return []byte{1}, nil
	}
	return append([]byte{0}, t.hash[:]...), nil
}

func (t *RecordType) UnmarshalBinary(b []byte) error { // A
	switch {
	case len(b) == 1 && b[0] == 1:
		*t = ChunkType()
		return nil
	case len(b) == 1+address.Size && b[0] == 0:
		h, err := address.FromBytes(b[1:])
		if err != nil {
			return err
		}
		*t = NonChunkType(h)
		return nil
	}
	return errors.New("record: malformed record type")
}

// TypeOf derives the RecordType of r.
func TypeOf(r Record) (RecordType, error) { // A
	k, err := r.Kind()
	if err != nil {
		return RecordType{}, err
	}
	if k.IsChunk() {
		return ChunkType(), nil
	}
	return NonChunkType(r.ContentHash()), nil
}
