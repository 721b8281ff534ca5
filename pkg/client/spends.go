package client

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/i5heu/ouroboros-mesh/pkg/address"
	"github.com/i5heu/ouroboros-mesh/pkg/interfaces"
	"github.com/i5heu/ouroboros-mesh/pkg/network"
	"github.com/i5heu/ouroboros-mesh/pkg/record"
	"github.com/i5heu/ouroboros-mesh/pkg/spend"
)

var (
	// ErrCashNoteSpent is returned when a spend of the cash note's key is
	// already on the network.
	ErrCashNoteSpent = errors.New("cash note already spent")
	// ErrInvalidRedemption is returned when the parent spend of a
	// redemption does not create the redeemed note.
	ErrInvalidRedemption = errors.New("redemption does not match its parent spend")
	// ErrEmptyTransfer is returned for a transfer with nothing addressed
	// to the receiving wallet.
	ErrEmptyTransfer = errors.New("transfer holds no redemptions for this wallet")
)

// DoubleSpendError names the keys for which the network already holds a
// different spend.
type DoubleSpendError struct { // A
	Keys []spend.UniquePubkey
}

func (e *DoubleSpendError) Error() string { // A
	names := make([]string, len(e.Keys))
	for i, k := range e.Keys {
		names[i] = address.Address(k).Short()
	}
	return fmt.Sprintf("double spend of %d keys: %s", len(e.Keys), strings.Join(names, ", "))
}

// SendSpendsError collects spends that failed for reasons other than a
// double spend.
type SendSpendsError struct { // A
	Failures map[spend.UniquePubkey]error
}

func (e *SendSpendsError) Error() string { // A
	return fmt.Sprintf("failed to send %d spends", len(e.Failures))
}

func (e *SendSpendsError) Unwrap() []error { // A
	errs := make([]error, 0, len(e.Failures))
	for _, err := range e.Failures {
		errs = append(errs, err)
	}
	return errs
}

// spendPutConfig is used for every spend: a majority must store it and
// a majority read must return exactly it afterwards.
func spendPutConfig() network.PutConfig { // A
	return network.PutConfig{
		Quorum:       network.QuorumMajority,
		Retry:        network.RetryPersistent,
		Verification: &network.GetConfig{Quorum: network.QuorumMajority},
	}
}

// SendSpends puts every spend concurrently. If any key turns out to be
// spent differently already, a *DoubleSpendError naming those keys is
// returned, even when other spends failed too. Otherwise remaining
// failures are reported as a *SendSpendsError.
func (c *Client) SendSpends(ctx context.Context, spends []spend.SignedSpend) error { // A
	errs := make([]error, len(spends))
	var g errgroup.Group
	for i, s := range spends {
		g.Go(func() error {
			rec, err := s.Record()
			if err == nil {
				err = c.net.Put(ctx, rec, spendPutConfig())
			}
			errs[i] = err
			return nil
		})
	}
	_ = g.Wait()

	var doubles []spend.UniquePubkey
	failures := make(map[spend.UniquePubkey]error)
	for i, err := range errs {
		if err == nil {
			continue
		}
		key := spends[i].UniquePubkey()
		if network.IsConflict(err) {
			doubles = append(doubles, key)
			continue
		}
		failures[key] = err
	}

	if len(doubles) > 0 {
		slices.SortFunc(doubles, func(a, b spend.UniquePubkey) int {
			return bytes.Compare(a[:], b[:])
		})
		c.log.WarnContext(ctx, "double spend detected", logKeyKeys, len(doubles))
		return &DoubleSpendError{Keys: doubles}
	}
	if len(failures) > 0 {
		return &SendSpendsError{Failures: failures}
	}
	c.log.DebugContext(ctx, "spends sent", logKeyKeys, len(spends))
	return nil
}

// VerifyCashNoteIsValid reports whether note can still be spent. The
// note is valid only if the network holds no spend of its key.
func (c *Client) VerifyCashNoteIsValid(ctx context.Context, note spend.CashNote) error { // A
	_, err := c.net.Get(ctx, note.Address(), network.GetConfig{Quorum: network.QuorumMajority})
	switch {
	case errors.Is(err, network.ErrRecordNotFound):
		return nil
	case err == nil:
		return fmt.Errorf("%w: %s", ErrCashNoteSpent, note.UniquePubkey)
	default:
		return fmt.Errorf("check cash note %s: %w", address.Address(note.UniquePubkey).Short(), err)
	}
}

// ReceiveTransfer checks every redemption of t addressed to wallet
// against its parent spend, re-checks that none of the notes was spent
// since and deposits them.
func (c *Client) ReceiveTransfer(
	ctx context.Context,
	t spend.Transfer,
	wallet interfaces.Wallet,
) ([]spend.CashNote, error) { // A
	redemptions, err := wallet.UnwrapTransfer(t)
	if err != nil {
		return nil, fmt.Errorf("unwrap transfer: %w", err)
	}
	if len(redemptions) == 0 {
		return nil, ErrEmptyTransfer
	}

	notes := make([]spend.CashNote, len(redemptions))
	g, gctx := errgroup.WithContext(ctx)
	for i, r := range redemptions {
		g.Go(func() error {
			note, err := c.redeem(gctx, r)
			notes[i] = note
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	for _, note := range notes {
		if err := c.VerifyCashNoteIsValid(ctx, note); err != nil {
			return nil, err
		}
	}
	if err := wallet.Deposit(notes); err != nil {
		return nil, fmt.Errorf("deposit: %w", err)
	}
	c.log.InfoContext(ctx, "transfer received", logKeyKeys, len(notes))
	return notes, nil
}

// Receive decodes a hex transfer and receives it.
func (c *Client) Receive(
	ctx context.Context,
	transferHex string,
	wallet interfaces.Wallet,
) ([]spend.CashNote, error) { // A
	t, err := spend.TransferFromHex(transferHex)
	if err != nil {
		return nil, err
	}
	return c.ReceiveTransfer(ctx, t, wallet)
}

// redeem fetches the parent spend of r and checks that it is signed and
// creates the redeemed note with the stated amount.
func (c *Client) redeem(ctx context.Context, r spend.CashNoteRedemption) (spend.CashNote, error) { // A
	rec, err := c.net.Get(ctx, r.ParentSpend, network.GetConfig{Quorum: network.QuorumMajority})
	if err != nil {
		return spend.CashNote{}, fmt.Errorf("parent spend %s: %w", r.ParentSpend.Short(), err)
	}
	parent, err := decodeSpend(rec)
	if err != nil {
		return spend.CashNote{}, err
	}
	if parent.Address() != r.ParentSpend {
		return spend.CashNote{}, fmt.Errorf("%w: parent stored at another address", ErrInvalidRedemption)
	}
	amount, ok := parent.Spend.OutputFor(r.UniquePubkey)
	if !ok || amount != r.Amount {
		return spend.CashNote{}, fmt.Errorf("%w: %s", ErrInvalidRedemption, r.UniquePubkey)
	}
	return spend.CashNote{
		UniquePubkey: r.UniquePubkey,
		Amount:       r.Amount,
		ParentSpend:  r.ParentSpend,
	}, nil
}

func decodeSpend(rec record.Record) (spend.SignedSpend, error) { // A
	f, err := rec.Frame()
	if err != nil {
		return spend.SignedSpend{}, err
	}
	if f.Kind != record.KindSpend {
		return spend.SignedSpend{}, fmt.Errorf("record %s is a %s, not a spend", rec.Key.Short(), f.Kind)
	}
	var ss spend.SignedSpend
	if err := f.Parse(&ss); err != nil {
		return spend.SignedSpend{}, err
	}
	if err := ss.Verify(); err != nil {
		return spend.SignedSpend{}, err
	}
	return ss, nil
}

// Send pays amount to the key to and returns the transfer to hand to the
// recipient. The spends stay pending in the wallet until the network
// accepted all of them.
func (c *Client) Send(
	ctx context.Context,
	to spend.UniquePubkey,
	amount uint64,
	wallet interfaces.Wallet,
) (spend.Transfer, error) { // A
	tx, err := wallet.CreateTransaction(to, amount, nil)
	if err != nil {
		return spend.Transfer{}, fmt.Errorf("create transaction: %w", err)
	}
	wallet.AddPendingSpends(tx.Spends)
	if err := c.SendSpends(ctx, tx.Spends); err != nil {
		return spend.Transfer{}, err
	}
	if err := wallet.ProcessTransaction(tx); err != nil {
		return spend.Transfer{}, fmt.Errorf("process transaction: %w", err)
	}
	wallet.ClearPendingSpends()

	var t spend.Transfer
	for _, note := range tx.OutputCashNotes {
		if note.UniquePubkey == to {
			t.Redemptions = append(t.Redemptions, spend.TransferFromCashNote(note).Redemptions...)
		}
	}
	c.log.InfoContext(ctx, "sent", logKeyAmount, amount, logKeyKeys, len(tx.Spends))
	return t, nil
}

// ResendPendingSpends sends the wallet's unconfirmed spends again and
// clears them once the network accepted all of them.
func (c *Client) ResendPendingSpends(ctx context.Context, wallet interfaces.Wallet) error { // A
	pending := wallet.PendingSpends()
	if len(pending) == 0 {
		return nil
	}
	if err := c.SendSpends(ctx, pending); err != nil {
		return err
	}
	wallet.ClearPendingSpends()
	return nil
}
