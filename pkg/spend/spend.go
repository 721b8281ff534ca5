// Package spend defines signed spends and the cash-note and transfer
// types built around them. A spend consumes exactly one unique public
// key; its record lives at the spend address derived from that key.
package spend

import (
	"crypto/ed25519"
	"errors"
	"fmt"

	"github.com/i5heu/ouroboros-mesh/pkg/address"
	"github.com/i5heu/ouroboros-mesh/pkg/keys"
	"github.com/i5heu/ouroboros-mesh/pkg/record"
)

// UniquePubkey is the single-use ed25519 key that a spend consumes.
type UniquePubkey [ed25519.PublicKeySize]byte // A

// PubkeyOf converts an ed25519 public key.
func PubkeyOf(pub ed25519.PublicKey) (UniquePubkey, error) { // A
	var u UniquePubkey
	if len(pub) != len(u) {
		return u, fmt.Errorf("spend: public key is %d bytes", len(pub))
	}
	copy(u[:], pub)
	return u, nil
}

// Address is the spend address for u.
func (u UniquePubkey) Address() address.Address { // A
	return address.FromParts([]byte("spend"), u[:])
}

func (u UniquePubkey) String() string { // A
	return address.Address(u).String()
}

// Output assigns an amount to a new unique key.
type Output struct { // A
	UniquePubkey UniquePubkey
	Amount       uint64
}

// Spend consumes UniquePubkey, which was created by the Parents spends,
// and creates Outputs.
type Spend struct { // A
	UniquePubkey UniquePubkey
	Amount       uint64
	Reason       []byte
	Parents      []address.Address
	Outputs      []Output
}

func (s *Spend) MarshalPayload() ([]byte, error) { // A
	var b record.Builder
	b.Bytes(1, s.UniquePubkey[:])
	b.Uint(2, s.Amount)
	b.Bytes(3, s.Reason)
	for _, p := range s.Parents {
		b.Bytes(4, p[:])
	}
	for i := range s.Outputs {
		var ob record.Builder
		ob.Bytes(1, s.Outputs[i].UniquePubkey[:])
		ob.Uint(2, s.Outputs[i].Amount)
		b.Bytes(5, ob.Out())
	}
	return b.Out(), nil
}

func (s *Spend) UnmarshalPayload(data []byte) error { // A
	*s = Spend{}
	return record.Fields(data, func(f record.Field) error {
		switch f.Num {
		case 1:
			if err := f.WantBytes(); err != nil {
				return err
			}
			u, err := PubkeyOf(f.Bytes)
			if err != nil {
				return err
			}
			s.UniquePubkey = u
		case 2:
			if err := f.WantVarint(); err != nil {
				return err
			}
			s.Amount = f.Varint
		case 3:
			if err := f.WantBytes(); err != nil {
				return err
			}
			s.Reason = f.CloneBytes()
		case 4:
			if err := f.WantBytes(); err != nil {
				return err
			}
			a, err := address.FromBytes(f.Bytes)
			if err != nil {
				return err
			}
			s.Parents = append(s.Parents, a)
		case 5:
			if err := f.WantBytes(); err != nil {
				return err
			}
			o, err := unmarshalOutput(f.Bytes)
			if err != nil {
				return err
			}
			s.Outputs = append(s.Outputs, o)
		}
		return nil
	})
}

func unmarshalOutput(data []byte) (Output, error) { // A
	var o Output
	err := record.Fields(data, func(f record.Field) error {
		switch f.Num {
		case 1:
			if err := f.WantBytes(); err != nil {
				return err
			}
			u, err := PubkeyOf(f.Bytes)
			if err != nil {
				return err
			}
			o.UniquePubkey = u
		case 2:
			if err := f.WantVarint(); err != nil {
				return err
			}
			o.Amount = f.Varint
		}
		return nil
	})
	return o, err
}

// OutputFor returns the amount Spend assigns to u.
func (s Spend) OutputFor(u UniquePubkey) (uint64, bool) { // A
	for _, o := range s.Outputs {
		if o.UniquePubkey == u {
			return o.Amount, true
		}
	}
	return 0, false
}

// SignedSpend is a Spend signed by the key it consumes.
type SignedSpend struct { // A
	Spend     Spend
	Signature []byte
}

// Sign signs s with signer, which must hold the consumed key.
func Sign(s Spend, signer keys.Signer) (SignedSpend, error) { // A
	if !signer.PublicKey().Equal(ed25519.PublicKey(s.UniquePubkey[:])) {
		return SignedSpend{}, errors.New("spend: signer does not own the spent key")
	}
	msg, err := s.MarshalPayload()
	if err != nil {
		return SignedSpend{}, err
	}
	sig, err := signer.Sign(msg)
	if err != nil {
		return SignedSpend{}, fmt.Errorf("spend: sign: %w", err)
	}
	return SignedSpend{Spend: s, Signature: sig}, nil
}

// UniquePubkey is the key this spend consumes.
func (s SignedSpend) UniquePubkey() UniquePubkey { // A
	return s.Spend.UniquePubkey
}

// Address is where this spend is stored.
func (s SignedSpend) Address() address.Address { // A
	return s.Spend.UniquePubkey.Address()
}

// Verify checks the signature against the consumed key.
func (s SignedSpend) Verify() error { // A
	msg, err := s.Spend.MarshalPayload()
	if err != nil {
		return err
	}
	pub := ed25519.PublicKey(s.Spend.UniquePubkey[:])
	if err := keys.Verify(pub, msg, s.Signature); err != nil {
		return fmt.Errorf("spend %s: %w", s.Address().Short(), err)
	}
	return nil
}

func (s *SignedSpend) RecordKind() record.Kind { return record.KindSpend } // A

func (s *SignedSpend) MarshalPayload() ([]byte, error) { // A
	var b record.Builder
	if err := b.Message(1, &s.Spend); err != nil {
		return nil, err
	}
	b.Bytes(2, s.Signature)
	return b.Out(), nil
}

func (s *SignedSpend) UnmarshalPayload(data []byte) error { // A
	haveSpend := false
	err := record.Fields(data, func(f record.Field) error {
		switch f.Num {
		case 1:
			if err := f.WantBytes(); err != nil {
				return err
			}
			haveSpend = true
			return s.Spend.UnmarshalPayload(f.Bytes)
		case 2:
			if err := f.WantBytes(); err != nil {
				return err
			}
			s.Signature = f.CloneBytes()
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("signed spend: %w", err)
	}
	if !haveSpend {
		return errors.New("signed spend: missing spend")
	}
	return nil
}

// Record frames the spend under its spend address.
func (s SignedSpend) Record() (record.Record, error) { // A
	return record.New(s.Address(), &s, record.KindSpend)
}

// FromValue decodes and verifies a framed spend value.
func FromValue(value []byte) (SignedSpend, error) { // A
	f, err := record.Decode(value)
	if err != nil {
		return SignedSpend{}, err
	}
	if f.Kind != record.KindSpend {
		return SignedSpend{}, fmt.Errorf("spend: record is a %s", f.Kind)
	}
	var ss SignedSpend
	if err := f.Parse(&ss); err != nil {
		return SignedSpend{}, err
	}
	if err := ss.Verify(); err != nil {
		return SignedSpend{}, err
	}
	return ss, nil
}

// PickValue resolves diverging copies of a spend record. Spends never
// merge; the first copy that verifies is kept.
func PickValue(values [][]byte) ([]byte, error) { // A
	errs := make([]error, 0, len(values))
	for _, v := range values {
		if _, err := FromValue(v); err != nil {
			errs = append(errs, err)
			continue
		}
		return v, nil
	}
	return nil, fmt.Errorf("spend: no valid copy: %w", errors.Join(errs...))
}
