package register

import (
	"crypto/ed25519"
	"errors"
	"fmt"

	"github.com/i5heu/ouroboros-mesh/pkg/address"
	"github.com/i5heu/ouroboros-mesh/pkg/keys"
	"github.com/i5heu/ouroboros-mesh/pkg/record"
)

// Op is a signed write of one entry.
type Op struct { // A
	Register  address.Address
	Entry     Entry
	Source    ed25519.PublicKey
	Signature []byte
}

func signOp(
	reg address.Address,
	entry Entry,
	signer keys.Signer,
) (Op, error) { // A
	op := Op{Register: reg, Entry: entry, Source: signer.PublicKey()}
	sig, err := signer.Sign(op.bytesForSignature())
	if err != nil {
		return Op{}, fmt.Errorf("register: sign op: %w", err)
	}
	op.Signature = sig
	return op, nil
}

func (op Op) bytesForSignature() []byte { // A
	var b record.Builder
	b.Bytes(1, op.Register[:])
	b.Bytes(2, op.Entry.marshal())
	b.Bytes(3, op.Source)
	return b.Out()
}

// Verify checks the op signature against its source key.
func (op Op) Verify() error { // A
	if err := keys.Verify(op.Source, op.bytesForSignature(), op.Signature); err != nil {
		return fmt.Errorf("register op: %w", err)
	}
	return nil
}

func (op Op) marshal() []byte { // A
	var b record.Builder
	b.Bytes(1, op.Register[:])
	b.Bytes(2, op.Entry.marshal())
	b.Bytes(3, op.Source)
	b.Bytes(4, op.Signature)
	return b.Out()
}

func unmarshalOp(data []byte) (Op, error) { // A
	var op Op
	var haveEntry bool
	err := record.Fields(data, func(f record.Field) error {
		if err := f.WantBytes(); err != nil {
			return err
		}
		switch f.Num {
		case 1:
			a, err := address.FromBytes(f.Bytes)
			if err != nil {
				return err
			}
			op.Register = a
		case 2:
			e, err := unmarshalEntry(f.Bytes)
			if err != nil {
				return err
			}
			op.Entry = e
			haveEntry = true
		case 3:
			op.Source = ed25519.PublicKey(f.CloneBytes())
		case 4:
			op.Signature = f.CloneBytes()
		}
		return nil
	})
	if err != nil {
		return Op{}, err
	}
	if !haveEntry {
		return Op{}, errors.New("register op: missing entry")
	}
	return op, nil
}
