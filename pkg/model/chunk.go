// Package model defines the immutable and owner-mutable payload types
// stored in the mesh, together with the payment envelope that
// accompanies a paid upload.
package model

import (
	"errors"
	"fmt"

	"github.com/i5heu/ouroboros-mesh/pkg/address"
	"github.com/i5heu/ouroboros-mesh/pkg/record"
)

// Chunk is a piece of immutable content. It is stored under the hash of
// its value.
type Chunk struct { // A
	Value []byte
}

// NewChunk wraps data.
func NewChunk(data []byte) Chunk { // A
	return Chunk{Value: data}
}

// Address is the content address of the chunk.
func (c Chunk) Address() address.Address { // A
	return address.FromContent(c.Value)
}

func (c *Chunk) RecordKind() record.Kind { return record.KindChunk } // A

func (c *Chunk) MarshalPayload() ([]byte, error) { // A
	var b record.Builder
	b.Bytes(1, c.Value)
	return b.Out(), nil
}

func (c *Chunk) UnmarshalPayload(data []byte) error { // A
	seen := false
	err := record.Fields(data, func(f record.Field) error {
		if f.Num != 1 {
			return nil
		}
		if err := f.WantBytes(); err != nil {
			return err
		}
		c.Value = f.CloneBytes()
		seen = true
		return nil
	})
	if err != nil {
		return err
	}
	if !seen {
		return errors.New("chunk: missing value")
	}
	return nil
}

// Record frames the chunk under its content address.
func (c Chunk) Record() (record.Record, error) { // A
	return record.New(c.Address(), &c, record.KindChunk)
}

// ChunkWithPayment bundles a chunk with the payment for storing it.
type ChunkWithPayment struct { // A
	Payment Payment
	Chunk   Chunk
}

func (c *ChunkWithPayment) RecordKind() record.Kind { // A
	return record.KindChunkWithPayment
}

func (c *ChunkWithPayment) MarshalPayload() ([]byte, error) { // A
	var b record.Builder
	if err := b.Message(1, &c.Payment); err != nil {
		return nil, err
	}
	if err := b.Message(2, &c.Chunk); err != nil {
		return nil, err
	}
	return b.Out(), nil
}

func (c *ChunkWithPayment) UnmarshalPayload(data []byte) error { // A
	var havePayment, haveChunk bool
	err := record.Fields(data, func(f record.Field) error {
		switch f.Num {
		case 1:
			if err := f.WantBytes(); err != nil {
				return err
			}
			havePayment = true
			return c.Payment.UnmarshalPayload(f.Bytes)
		case 2:
			if err := f.WantBytes(); err != nil {
				return err
			}
			haveChunk = true
			return c.Chunk.UnmarshalPayload(f.Bytes)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("chunk with payment: %w", err)
	}
	if !havePayment || !haveChunk {
		return errors.New("chunk with payment: incomplete payload")
	}
	return nil
}
