package model

import (
	"crypto/ed25519"
	"errors"
	"fmt"

	"github.com/i5heu/ouroboros-mesh/pkg/address"
	"github.com/i5heu/ouroboros-mesh/pkg/keys"
	"github.com/i5heu/ouroboros-mesh/pkg/record"
)

// Scratchpad is a single owner-mutable value. Each update increments
// Counter and is signed by the owner; peers keep the highest counter.
type Scratchpad struct { // A
	Owner        ed25519.PublicKey
	Counter      uint64
	DataEncoding uint64
	Data         []byte
	Signature    []byte
}

// ScratchpadAddress is where the scratchpad of owner is stored.
func ScratchpadAddress(owner ed25519.PublicKey) address.Address { // A
	return address.FromParts([]byte("scratchpad"), owner)
}

// NewScratchpad creates and signs the first version of a scratchpad.
func NewScratchpad(
	signer keys.Signer,
	encoding uint64,
	data []byte,
) (Scratchpad, error) { // A
	s := Scratchpad{
		Owner:        signer.PublicKey(),
		DataEncoding: encoding,
		Data:         data,
	}
	return s, s.sign(signer)
}

func (s Scratchpad) Address() address.Address { // A
	return ScratchpadAddress(s.Owner)
}

// Update replaces the data, bumps the counter and re-signs.
func (s *Scratchpad) Update(signer keys.Signer, data []byte) error { // A
	if !signer.PublicKey().Equal(s.Owner) {
		return errors.New("scratchpad: signer is not the owner")
	}
	s.Data = data
	s.Counter++
	return s.sign(signer)
}

func (s *Scratchpad) sign(signer keys.Signer) error { // A
	sig, err := signer.Sign(s.bytesForSignature())
	if err != nil {
		return fmt.Errorf("scratchpad: sign: %w", err)
	}
	s.Signature = sig
	return nil
}

func (s Scratchpad) bytesForSignature() []byte { // A
	var b record.Builder
	b.Bytes(1, s.Owner)
	b.Uint(2, s.Counter)
	b.Uint(3, s.DataEncoding)
	b.Bytes(4, s.Data)
	return b.Out()
}

// Verify checks the owner signature.
func (s Scratchpad) Verify() error { // A
	return keys.Verify(s.Owner, s.bytesForSignature(), s.Signature)
}

func (s *Scratchpad) RecordKind() record.Kind { return record.KindScratchpad } // A

func (s *Scratchpad) MarshalPayload() ([]byte, error) { // A
	var b record.Builder
	b.Bytes(1, s.Owner)
	b.Uint(2, s.Counter)
	b.Uint(3, s.DataEncoding)
	b.Bytes(4, s.Data)
	b.Bytes(5, s.Signature)
	return b.Out(), nil
}

func (s *Scratchpad) UnmarshalPayload(data []byte) error { // A
	err := record.Fields(data, func(f record.Field) error {
		switch f.Num {
		case 1, 4, 5:
			if err := f.WantBytes(); err != nil {
				return err
			}
		case 2, 3:
			if err := f.WantVarint(); err != nil {
				return err
			}
		}
		switch f.Num {
		case 1:
			s.Owner = ed25519.PublicKey(f.CloneBytes())
		case 2:
			s.Counter = f.Varint
		case 3:
			s.DataEncoding = f.Varint
		case 4:
			s.Data = f.CloneBytes()
		case 5:
			s.Signature = f.CloneBytes()
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("scratchpad: %w", err)
	}
	if len(s.Owner) != ed25519.PublicKeySize {
		return errors.New("scratchpad: missing owner")
	}
	return nil
}

// Record frames the scratchpad under its address.
func (s Scratchpad) Record() (record.Record, error) { // A
	return record.New(s.Address(), &s, record.KindScratchpad)
}

// ScratchpadWithPayment bundles a scratchpad with its storage payment.
type ScratchpadWithPayment struct { // A
	Payment    Payment
	Scratchpad Scratchpad
}

func (s *ScratchpadWithPayment) RecordKind() record.Kind { // A
	return record.KindScratchpadWithPayment
}

func (s *ScratchpadWithPayment) MarshalPayload() ([]byte, error) { // A
	var b record.Builder
	if err := b.Message(1, &s.Payment); err != nil {
		return nil, err
	}
	if err := b.Message(2, &s.Scratchpad); err != nil {
		return nil, err
	}
	return b.Out(), nil
}

func (s *ScratchpadWithPayment) UnmarshalPayload(data []byte) error { // A
	var havePayment, havePad bool
	err := record.Fields(data, func(f record.Field) error {
		switch f.Num {
		case 1:
			if err := f.WantBytes(); err != nil {
				return err
			}
			havePayment = true
			return s.Payment.UnmarshalPayload(f.Bytes)
		case 2:
			if err := f.WantBytes(); err != nil {
				return err
			}
			havePad = true
			return s.Scratchpad.UnmarshalPayload(f.Bytes)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("scratchpad with payment: %w", err)
	}
	if !havePayment || !havePad {
		return errors.New("scratchpad with payment: incomplete payload")
	}
	return nil
}

// ScratchpadFromValue decodes and verifies a framed scratchpad value.
// Payment-bearing frames are unwrapped.
func ScratchpadFromValue(value []byte) (Scratchpad, error) { // A
	f, err := record.Decode(value)
	if err != nil {
		return Scratchpad{}, err
	}
	var sp Scratchpad
	if f.Kind == record.KindScratchpadWithPayment {
		var sw ScratchpadWithPayment
		if err := f.Parse(&sw); err != nil {
			return Scratchpad{}, err
		}
		sp = sw.Scratchpad
	} else if err := f.Parse(&sp); err != nil {
		return Scratchpad{}, err
	}
	if err := sp.Verify(); err != nil {
		return Scratchpad{}, err
	}
	return sp, nil
}

// LatestScratchpad keeps the verified version with the highest counter.
func LatestScratchpad(values [][]byte) ([]byte, error) { // A
	var best []byte
	var bestCounter uint64
	for _, v := range values {
		sp, err := ScratchpadFromValue(v)
		if err != nil {
			continue
		}
		if best == nil || sp.Counter > bestCounter {
			best, bestCounter = v, sp.Counter
		}
	}
	if best == nil {
		return nil, errors.New("no valid scratchpad version")
	}
	return best, nil
}
