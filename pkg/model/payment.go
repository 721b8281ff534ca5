package model

import (
	"errors"

	"github.com/i5heu/ouroboros-mesh/pkg/address"
	"github.com/i5heu/ouroboros-mesh/pkg/record"
)

// ErrMissingPayee is returned for a payment that names no payee.
var ErrMissingPayee = errors.New("payment: missing payee")

// Payment is the proof that a storing peer was paid for a record. The
// proof bytes are produced and checked by the payment subsystem; this
// package only carries them.
type Payment struct { // A
	Payee  address.PeerID
	Amount uint64
	Proof  []byte
}

// Validate checks the fields every payment must have.
func (p Payment) Validate() error { // A
	if p.Payee.IsZero() {
		return ErrMissingPayee
	}
	return nil
}

func (p *Payment) MarshalPayload() ([]byte, error) { // A
	var b record.Builder
	b.Bytes(1, p.Payee[:])
	b.Uint(2, p.Amount)
	b.Bytes(3, p.Proof)
	return b.Out(), nil
}

func (p *Payment) UnmarshalPayload(data []byte) error { // A
	return record.Fields(data, func(f record.Field) error {
		switch f.Num {
		case 1:
			if err := f.WantBytes(); err != nil {
				return err
			}
			id, err := address.PeerIDFromBytes(f.Bytes)
			if err != nil {
				return err
			}
			p.Payee = id
		case 2:
			if err := f.WantVarint(); err != nil {
				return err
			}
			p.Amount = f.Varint
		case 3:
			if err := f.WantBytes(); err != nil {
				return err
			}
			p.Proof = f.CloneBytes()
		}
		return nil
	})
}
