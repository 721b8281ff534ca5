package client

import (
	"context"
	"errors"
	"fmt"

	"github.com/i5heu/ouroboros-mesh/pkg/address"
	"github.com/i5heu/ouroboros-mesh/pkg/interfaces"
	"github.com/i5heu/ouroboros-mesh/pkg/keys"
	"github.com/i5heu/ouroboros-mesh/pkg/network"
	"github.com/i5heu/ouroboros-mesh/pkg/record"
	"github.com/i5heu/ouroboros-mesh/pkg/register"
)

// Register is a client-side copy of a network register.
type Register struct { // A
	signed register.SignedRegister
	dag    *register.Register
}

func newRegister(signed register.SignedRegister) (*Register, error) { // A
	dag, err := signed.Register()
	if err != nil {
		return nil, err
	}
	return &Register{signed: signed, dag: dag}, nil
}

func (r *Register) Address() address.Address { // A
	return r.signed.Address()
}

// Values returns one value per concurrent head, ordered by entry hash.
// A register updated from diverging copies has several.
func (r *Register) Values() [][]byte { // A
	heads := r.dag.Read()
	out := make([][]byte, len(heads))
	for i, e := range heads {
		out[i] = e.Value
	}
	return out
}

// Signed returns the stored form of the register.
func (r *Register) Signed() register.SignedRegister { // A
	return r.signed
}

// CreateRegister pays for and stores a new register holding value. The
// payee of the payment receives the register directly.
func (c *Client) CreateRegister(
	ctx context.Context,
	name address.Address,
	value []byte,
	owner keys.Signer,
	perms register.Permissions,
	payer interfaces.Payer,
) (*Register, error) { // A
	if payer == nil {
		return nil, errors.New("create register: payer is required")
	}
	dag := register.New(owner.PublicKey(), name, perms)
	if _, _, err := dag.Write(value, nil, owner); err != nil {
		return nil, fmt.Errorf("create register: %w", err)
	}
	signed, err := register.Sign(dag, owner)
	if err != nil {
		return nil, fmt.Errorf("create register: %w", err)
	}

	addr := signed.Address()
	payment, err := payer.Pay(ctx, addr, len(value))
	if err != nil {
		return nil, fmt.Errorf("pay for register %s: %w", addr.Short(), err)
	}
	rp := register.RegisterWithPayment{Payment: payment, Register: signed}
	rec, err := record.New(addr, &rp, record.KindRegisterWithPayment)
	if err != nil {
		return nil, err
	}
	err = c.net.Put(ctx, rec, network.PutConfig{
		Quorum:         network.QuorumAll,
		Retry:          network.RetryPersistent,
		UsePutRecordTo: []address.PeerID{payment.Payee},
	})
	if err != nil {
		return nil, fmt.Errorf("store register %s: %w", addr.Short(), err)
	}
	c.log.DebugContext(ctx, "register created", logKeyKey, addr.Short())
	return &Register{signed: signed, dag: dag}, nil
}

// FetchRegister reads the register at addr. Diverging copies are merged.
// A register that fails verification is reported with
// register.ErrFailedVerification.
func (c *Client) FetchRegister(ctx context.Context, addr address.Address) (*Register, error) { // A
	rec, err := c.net.Get(ctx, addr, network.GetConfig{
		Quorum: network.QuorumOne,
		Merge:  register.MergeValues,
	})
	if err != nil {
		return nil, fmt.Errorf("fetch register %s: %w", addr.Short(), err)
	}
	signed, err := register.FromValue(rec.Value)
	if err != nil {
		return nil, fmt.Errorf("decode register %s: %w", addr.Short(), err)
	}
	if signed.Address() != addr {
		return nil, fmt.Errorf("%w: register %s answered for %s",
			register.ErrFailedVerification, signed.Address().Short(), addr.Short())
	}
	r, err := newRegister(signed)
	if err != nil {
		if !errors.Is(err, register.ErrFailedVerification) {
			err = fmt.Errorf("%w: %v", register.ErrFailedVerification, err)
		}
		return nil, fmt.Errorf("register %s: %w", addr.Short(), err)
	}
	return r, nil
}

// UpdateRegister writes value as the successor of every current head of
// r and stores the register on its whole close group.
func (c *Client) UpdateRegister(
	ctx context.Context,
	r *Register,
	value []byte,
	signer keys.Signer,
) error { // A
	_, op, err := r.dag.Write(value, r.dag.HeadHashes(), signer)
	if err != nil {
		return fmt.Errorf("update register %s: %w", r.Address().Short(), err)
	}
	if err := r.signed.AddOp(op); err != nil {
		return fmt.Errorf("update register %s: %w", r.Address().Short(), err)
	}
	rec, err := r.signed.Record()
	if err != nil {
		return err
	}
	err = c.net.Put(ctx, rec, network.PutConfig{
		Quorum: network.QuorumAll,
		Retry:  network.RetryPersistent,
	})
	if err != nil {
		return fmt.Errorf("store register %s: %w", r.Address().Short(), err)
	}
	return nil
}
