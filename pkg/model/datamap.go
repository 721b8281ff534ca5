package model

import (
	"fmt"

	"github.com/i5heu/ouroboros-mesh/pkg/address"
	"github.com/i5heu/ouroboros-mesh/pkg/record"
)

// DataMap lists, in order, the chunks that make up an uploaded file. It
// is itself stored as the value of a chunk.
type DataMap struct { // A
	Size   uint64
	Chunks []address.Address
}

func (d *DataMap) MarshalPayload() ([]byte, error) { // A
	var b record.Builder
	b.Uint(1, d.Size)
	for _, c := range d.Chunks {
		b.Bytes(2, c[:])
	}
	return b.Out(), nil
}

func (d *DataMap) UnmarshalPayload(data []byte) error { // A
	d.Chunks = nil
	err := record.Fields(data, func(f record.Field) error {
		switch f.Num {
		case 1:
			if err := f.WantVarint(); err != nil {
				return err
			}
			d.Size = f.Varint
		case 2:
			if err := f.WantBytes(); err != nil {
				return err
			}
			a, err := address.FromBytes(f.Bytes)
			if err != nil {
				return err
			}
			d.Chunks = append(d.Chunks, a)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("data map: %w", err)
	}
	return nil
}

// Chunk serializes the data map into a storable chunk.
func (d *DataMap) Chunk() (Chunk, error) { // A
	b, err := d.MarshalPayload()
	if err != nil {
		return Chunk{}, err
	}
	return NewChunk(b), nil
}
