package register

import (
	"crypto/ed25519"
	"errors"
	"fmt"

	"github.com/i5heu/ouroboros-mesh/pkg/address"
	"github.com/i5heu/ouroboros-mesh/pkg/keys"
	"github.com/i5heu/ouroboros-mesh/pkg/model"
	"github.com/i5heu/ouroboros-mesh/pkg/record"
)

// ErrFailedVerification is returned for a register whose owner signature
// or ops do not verify.
var ErrFailedVerification = errors.New("register: failed verification")

// SignedRegister is the stored form of a register: the owner-signed base
// (name, owner and permissions) plus every op applied to it. Ops are kept
// sorted by entry hash so replicas holding the same ops encode to the
// same bytes.
type SignedRegister struct { // A
	Name        address.Address
	Owner       ed25519.PublicKey
	Permissions Permissions
	Signature   []byte
	Ops         []Op
}

func baseBytes(
	name address.Address,
	owner ed25519.PublicKey,
	perms Permissions,
) []byte { // A
	var b record.Builder
	b.Bytes(1, name[:])
	b.Bytes(2, owner)
	b.Bytes(3, perms.marshal())
	return b.Out()
}

// Sign produces the stored form of r. signer must be the owner.
func Sign(r *Register, signer keys.Signer) (SignedRegister, error) { // A
	if !signer.PublicKey().Equal(r.owner) {
		return SignedRegister{}, ErrAccessDenied
	}
	sig, err := signer.Sign(baseBytes(r.name, r.owner, r.perms))
	if err != nil {
		return SignedRegister{}, fmt.Errorf("register: sign: %w", err)
	}
	return SignedRegister{
		Name:        r.name,
		Owner:       r.owner,
		Permissions: r.perms,
		Signature:   sig,
		Ops:         r.Ops(),
	}, nil
}

func (s SignedRegister) Address() address.Address { // A
	return Address(s.Name, s.Owner)
}

// Register rebuilds the DAG and verifies the owner signature and every
// op along the way.
func (s SignedRegister) Register() (*Register, error) { // A
	err := keys.Verify(s.Owner, baseBytes(s.Name, s.Owner, s.Permissions), s.Signature)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrFailedVerification, err)
	}
	r := New(s.Owner, s.Name, s.Permissions)
	pending := append([]Op(nil), s.Ops...)
	for len(pending) > 0 {
		next := pending[:0]
		progress := false
		for _, op := range pending {
			err := r.Apply(op)
			switch {
			case err == nil:
				progress = true
			case errors.Is(err, ErrMissingParents):
				next = append(next, op)
			default:
				return nil, fmt.Errorf("%w: %v", ErrFailedVerification, err)
			}
		}
		if !progress {
			return nil, fmt.Errorf("%w: %d ops with missing parents",
				ErrFailedVerification, len(next))
		}
		pending = next
	}
	return r, nil
}

// Verify checks the owner signature and every op.
func (s SignedRegister) Verify() error { // A
	_, err := s.Register()
	return err
}

// AddOp appends a verified op. Known ops are ignored.
func (s *SignedRegister) AddOp(op Op) error { // A
	r, err := s.Register()
	if err != nil {
		return err
	}
	if err := r.Apply(op); err != nil {
		return err
	}
	s.Ops = r.Ops()
	return nil
}

// Merge folds the ops of other into s. Both must describe the same
// register base.
func (s *SignedRegister) Merge(other SignedRegister) error { // A
	if s.Address() != other.Address() {
		return ErrAddressMismatch
	}
	if err := other.Verify(); err != nil {
		return err
	}
	combined := *s
	combined.Ops = append(append([]Op(nil), s.Ops...), other.Ops...)
	r, err := combined.Register()
	if err != nil {
		return err
	}
	s.Ops = r.Ops()
	return nil
}

func (s *SignedRegister) RecordKind() record.Kind { return record.KindRegister } // A

func (s *SignedRegister) MarshalPayload() ([]byte, error) { // A
	var b record.Builder
	b.Bytes(1, s.Name[:])
	b.Bytes(2, s.Owner)
	b.Bytes(3, s.Permissions.marshal())
	b.Bytes(4, s.Signature)
	for _, op := range s.Ops {
		b.Bytes(5, op.marshal())
	}
	return b.Out(), nil
}

func (s *SignedRegister) UnmarshalPayload(data []byte) error { // A
	*s = SignedRegister{}
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
			s.Name = a
		case 2:
			s.Owner = ed25519.PublicKey(f.CloneBytes())
		case 3:
			p, err := unmarshalPermissions(f.Bytes)
			if err != nil {
				return err
			}
			s.Permissions = p
		case 4:
			s.Signature = f.CloneBytes()
		case 5:
			op, err := unmarshalOp(f.Bytes)
			if err != nil {
				return err
			}
			s.Ops = append(s.Ops, op)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("signed register: %w", err)
	}
	if len(s.Owner) != ed25519.PublicKeySize {
		return errors.New("signed register: missing owner")
	}
	return nil
}

// Record frames s under its address.
func (s SignedRegister) Record() (record.Record, error) { // A
	return record.New(s.Address(), &s, record.KindRegister)
}

// RegisterWithPayment bundles a new register with its storage payment.
type RegisterWithPayment struct { // A
	Payment  model.Payment
	Register SignedRegister
}

func (r *RegisterWithPayment) RecordKind() record.Kind { // A
	return record.KindRegisterWithPayment
}

func (r *RegisterWithPayment) MarshalPayload() ([]byte, error) { // A
	var b record.Builder
	if err := b.Message(1, &r.Payment); err != nil {
		return nil, err
	}
	if err := b.Message(2, &r.Register); err != nil {
		return nil, err
	}
	return b.Out(), nil
}

func (r *RegisterWithPayment) UnmarshalPayload(data []byte) error { // A
	var havePayment, haveRegister bool
	err := record.Fields(data, func(f record.Field) error {
		switch f.Num {
		case 1:
			if err := f.WantBytes(); err != nil {
				return err
			}
			havePayment = true
			return r.Payment.UnmarshalPayload(f.Bytes)
		case 2:
			if err := f.WantBytes(); err != nil {
				return err
			}
			haveRegister = true
			return r.Register.UnmarshalPayload(f.Bytes)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("register with payment: %w", err)
	}
	if !havePayment || !haveRegister {
		return errors.New("register with payment: incomplete payload")
	}
	return nil
}

// MergeValues merges framed register values returned by different peers
// into a single framed register. Values that do not decode, verify or
// match the first valid register are skipped; it fails only when no
// value is usable.
func MergeValues(values [][]byte) ([]byte, error) { // A
	if len(values) == 0 {
		return nil, errors.New("register: nothing to merge")
	}
	var (
		merged *SignedRegister
		errs   []error
	)
	for _, v := range values {
		sr, err := FromValue(v)
		switch {
		case err != nil:
		case merged == nil:
			if err = sr.Verify(); err == nil {
				merged = &sr
			}
		default:
			err = merged.Merge(sr)
		}
		if err != nil {
			errs = append(errs, err)
		}
	}
	if merged == nil {
		return nil, errors.Join(errs...)
	}
	return record.Encode(merged, record.KindRegister)
}

// FromValue decodes a framed register value. Payment-bearing frames are
// unwrapped.
func FromValue(value []byte) (SignedRegister, error) { // A
	f, err := record.Decode(value)
	if err != nil {
		return SignedRegister{}, err
	}
	switch f.Kind {
	case record.KindRegisterWithPayment:
		var rp RegisterWithPayment
		if err := f.Parse(&rp); err != nil {
			return SignedRegister{}, err
		}
		return rp.Register, nil
	default:
		var sr SignedRegister
		if err := f.Parse(&sr); err != nil {
			return SignedRegister{}, err
		}
		return sr, nil
	}
}
