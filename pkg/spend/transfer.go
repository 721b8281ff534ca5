package spend

import (
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/i5heu/ouroboros-mesh/pkg/address"
	"github.com/i5heu/ouroboros-mesh/pkg/record"
)

// CashNote is spendable value owned by UniquePubkey, created as an
// output of the spend at ParentSpend.
type CashNote struct { // A
	UniquePubkey UniquePubkey
	Amount       uint64
	ParentSpend  address.Address
}

// Address is where the spend consuming this note would be stored.
func (c CashNote) Address() address.Address { // A
	return c.UniquePubkey.Address()
}

// CashNoteRedemption is the recipient-facing handle for a cash note. It
// names the parent spend so the recipient can check the network for it.
type CashNoteRedemption struct { // A
	UniquePubkey UniquePubkey
	Amount       uint64
	ParentSpend  address.Address
}

// Transfer carries the redemptions a sender hands to a recipient.
type Transfer struct { // A
	Redemptions []CashNoteRedemption
}

// TransferFromCashNote packages a single cash note.
func TransferFromCashNote(c CashNote) Transfer { // A
	return Transfer{Redemptions: []CashNoteRedemption{{
		UniquePubkey: c.UniquePubkey,
		Amount:       c.Amount,
		ParentSpend:  c.ParentSpend,
	}}}
}

// SignedTransaction is the wallet output of building a transfer: the
// spends to publish and the notes they create.
type SignedTransaction struct { // A
	Spends          []SignedSpend
	OutputCashNotes []CashNote
	ChangeCashNote  *CashNote
}

// ToHex encodes t for out-of-band delivery.
func (t Transfer) ToHex() (string, error) { // A
	var b record.Builder
	for _, r := range t.Redemptions {
		var rb record.Builder
		rb.Bytes(1, r.UniquePubkey[:])
		rb.Uint(2, r.Amount)
		rb.Bytes(3, r.ParentSpend[:])
		b.Bytes(1, rb.Out())
	}
	return hex.EncodeToString(b.Out()), nil
}

// TransferFromHex decodes the output of Transfer.ToHex.
func TransferFromHex(s string) (Transfer, error) { // A
	raw, err := hex.DecodeString(s)
	if err != nil {
		return Transfer{}, fmt.Errorf("transfer: decode hex: %w", err)
	}
	var t Transfer
	err = record.Fields(raw, func(f record.Field) error {
		if f.Num != 1 {
			return nil
		}
		if err := f.WantBytes(); err != nil {
			return err
		}
		r, err := unmarshalRedemption(f.Bytes)
		if err != nil {
			return err
		}
		t.Redemptions = append(t.Redemptions, r)
		return nil
	})
	if err != nil {
		return Transfer{}, fmt.Errorf("transfer: %w", err)
	}
	if len(t.Redemptions) == 0 {
		return Transfer{}, errors.New("transfer: no redemptions")
	}
	return t, nil
}

func unmarshalRedemption(data []byte) (CashNoteRedemption, error) { // A
	var r CashNoteRedemption
	var haveKey, haveParent bool
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
			r.UniquePubkey = u
			haveKey = true
		case 2:
			if err := f.WantVarint(); err != nil {
				return err
			}
			r.Amount = f.Varint
		case 3:
			if err := f.WantBytes(); err != nil {
				return err
			}
			a, err := address.FromBytes(f.Bytes)
			if err != nil {
				return err
			}
			r.ParentSpend = a
			haveParent = true
		}
		return nil
	})
	if err != nil {
		return r, err
	}
	if !haveKey || !haveParent {
		return r, errors.New("redemption: incomplete")
	}
	return r, nil
}
