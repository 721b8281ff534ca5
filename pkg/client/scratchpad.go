package client

import (
	"context"
	"crypto/ed25519"
	"errors"
	"fmt"

	"github.com/i5heu/ouroboros-mesh/pkg/address"
	"github.com/i5heu/ouroboros-mesh/pkg/interfaces"
	"github.com/i5heu/ouroboros-mesh/pkg/keys"
	"github.com/i5heu/ouroboros-mesh/pkg/model"
	"github.com/i5heu/ouroboros-mesh/pkg/network"
	"github.com/i5heu/ouroboros-mesh/pkg/record"
)

// CreateScratchpad pays for and stores the first version of the
// signer's scratchpad.
func (c *Client) CreateScratchpad(
	ctx context.Context,
	signer keys.Signer,
	encoding uint64,
	data []byte,
	payer interfaces.Payer,
) (model.Scratchpad, error) { // A
	if payer == nil {
		return model.Scratchpad{}, errors.New("create scratchpad: payer is required")
	}
	sp, err := model.NewScratchpad(signer, encoding, data)
	if err != nil {
		return model.Scratchpad{}, err
	}
	addr := sp.Address()
	payment, err := payer.Pay(ctx, addr, len(data))
	if err != nil {
		return model.Scratchpad{}, fmt.Errorf("pay for scratchpad %s: %w", addr.Short(), err)
	}
	sw := model.ScratchpadWithPayment{Payment: payment, Scratchpad: sp}
	rec, err := record.New(addr, &sw, record.KindScratchpadWithPayment)
	if err != nil {
		return model.Scratchpad{}, err
	}
	err = c.net.Put(ctx, rec, network.PutConfig{
		Quorum:         network.QuorumAll,
		Retry:          network.RetryPersistent,
		UsePutRecordTo: []address.PeerID{payment.Payee},
	})
	if err != nil {
		return model.Scratchpad{}, fmt.Errorf("store scratchpad %s: %w", addr.Short(), err)
	}
	return sp, nil
}

// PutScratchpad stores an updated scratchpad on its close group. Peers
// refuse versions whose counter is not ahead of theirs.
func (c *Client) PutScratchpad(ctx context.Context, sp model.Scratchpad) error { // A
	rec, err := sp.Record()
	if err != nil {
		return err
	}
	err = c.net.Put(ctx, rec, network.PutConfig{
		Quorum: network.QuorumMajority,
		Retry:  network.RetryPersistent,
	})
	if err != nil {
		return fmt.Errorf("store scratchpad %s (counter %d): %w", sp.Address().Short(), sp.Counter, err)
	}
	c.log.DebugContext(ctx, "scratchpad stored",
		logKeyKey, sp.Address().Short(),
		logKeyCounter, sp.Counter)
	return nil
}

// GetScratchpad reads the scratchpad of owner. When peers hold
// different versions the highest valid counter wins.
func (c *Client) GetScratchpad(ctx context.Context, owner ed25519.PublicKey) (model.Scratchpad, error) { // A
	addr := model.ScratchpadAddress(owner)
	rec, err := c.net.Get(ctx, addr, network.GetConfig{
		Quorum: network.QuorumOne,
		Merge:  model.LatestScratchpad,
	})
	if err != nil {
		return model.Scratchpad{}, fmt.Errorf("get scratchpad %s: %w", addr.Short(), err)
	}
	sp, err := model.ScratchpadFromValue(rec.Value)
	if err != nil {
		return model.Scratchpad{}, err
	}
	if !sp.Owner.Equal(owner) {
		return model.Scratchpad{}, fmt.Errorf("scratchpad %s belongs to another owner", addr.Short())
	}
	return sp, nil
}
