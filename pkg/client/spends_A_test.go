package client

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/i5heu/ouroboros-mesh/pkg/address"
	"github.com/i5heu/ouroboros-mesh/pkg/interfaces"
	"github.com/i5heu/ouroboros-mesh/pkg/keys"
	"github.com/i5heu/ouroboros-mesh/pkg/spend"
)

// signedSpend spends kp's key into a single output of amount to a fresh
// key derived from tag.
func signedSpend(t *testing.T, kp *keys.KeyPair, amount uint64, tag string) spend.SignedSpend { // A
	t.Helper()
	u, err := spend.PubkeyOf(kp.PublicKey())
	require.NoError(t, err)
	seed := address.FromContent([]byte(tag))
	out, err := keys.FromSeed(seed[:])
	require.NoError(t, err)
	outKey, err := spend.PubkeyOf(out.PublicKey())
	require.NoError(t, err)

	ss, err := spend.Sign(spend.Spend{
		UniquePubkey: u,
		Amount:       amount,
		Parents:      []address.Address{address.FromContent([]byte("parent"))},
		Outputs:      []spend.Output{{UniquePubkey: outKey, Amount: amount}},
	}, kp)
	require.NoError(t, err)
	return ss
}

func newKeyPair(t *testing.T) *keys.KeyPair { // A
	t.Helper()
	kp, err := keys.Generate()
	require.NoError(t, err)
	return kp
}

func TestSendAndReceiveTransfer(t *testing.T) { // A
	t.Parallel()
	ctx := context.Background()
	env := newTestEnv(t)
	alice, bob := newTestWallet(), newTestWallet()
	alice.fund(t, 100)
	bobKey := bob.newKey(t)

	transfer, err := env.client.Send(ctx, bobKey, 30, alice)
	require.NoError(t, err)
	require.Len(t, transfer.Redemptions, 1)
	require.Empty(t, alice.PendingSpends())
	require.Equal(t, uint64(70), alice.balance())

	notes, err := env.client.ReceiveTransfer(ctx, transfer, bob)
	require.NoError(t, err)
	require.Len(t, notes, 1)
	require.Equal(t, bobKey, notes[0].UniquePubkey)
	require.Equal(t, uint64(30), bob.balance())
}

func TestReceiveRejectsSpentNote(t *testing.T) { // A
	t.Parallel()
	ctx := context.Background()
	env := newTestEnv(t)
	alice, bob, carol := newTestWallet(), newTestWallet(), newTestWallet()
	alice.fund(t, 50)

	transfer, err := env.client.Send(ctx, bob.newKey(t), 50, alice)
	require.NoError(t, err)
	hexTransfer, err := transfer.ToHex()
	require.NoError(t, err)

	_, err = env.client.Receive(ctx, hexTransfer, bob)
	require.NoError(t, err)
	_, err = env.client.Send(ctx, carol.newKey(t), 50, bob)
	require.NoError(t, err)

	_, err = env.client.Receive(ctx, hexTransfer, bob)
	require.ErrorIs(t, err, ErrCashNoteSpent)
}

func TestReceiveRejectsWrongAmount(t *testing.T) { // A
	t.Parallel()
	ctx := context.Background()
	env := newTestEnv(t)
	alice, bob := newTestWallet(), newTestWallet()
	alice.fund(t, 10)

	transfer, err := env.client.Send(ctx, bob.newKey(t), 4, alice)
	require.NoError(t, err)
	transfer.Redemptions[0].Amount = 5

	_, err = env.client.ReceiveTransfer(ctx, transfer, bob)
	require.ErrorIs(t, err, ErrInvalidRedemption)
	require.Zero(t, bob.balance())

	_, err = env.client.ReceiveTransfer(ctx, transfer, newTestWallet())
	require.ErrorIs(t, err, ErrEmptyTransfer)
}

func TestVerifyCashNoteIsValid(t *testing.T) { // A
	t.Parallel()
	ctx := context.Background()
	env := newTestEnv(t)
	kp := newKeyPair(t)
	u, err := spend.PubkeyOf(kp.PublicKey())
	require.NoError(t, err)
	note := spend.CashNote{UniquePubkey: u, Amount: 9}

	require.NoError(t, env.client.VerifyCashNoteIsValid(ctx, note))

	require.NoError(t, env.client.SendSpends(ctx, []spend.SignedSpend{signedSpend(t, kp, 9, "out")}))
	require.ErrorIs(t, env.client.VerifyCashNoteIsValid(ctx, note), ErrCashNoteSpent)
}

func TestSendSpendsDoubleSpendTakesPrecedence(t *testing.T) { // A
	t.Parallel()
	ctx := context.Background()
	env := newTestEnv(t)

	spent := newKeyPair(t)
	require.NoError(t, env.client.SendSpends(ctx, []spend.SignedSpend{signedSpend(t, spent, 5, "first")}))

	double := signedSpend(t, spent, 5, "second")
	fresh := signedSpend(t, newKeyPair(t), 7, "fresh")
	forged := signedSpend(t, newKeyPair(t), 3, "forged")
	forged.Signature[0] ^= 0xff

	err := env.client.SendSpends(ctx, []spend.SignedSpend{double, fresh, forged})
	var ds *DoubleSpendError
	require.ErrorAs(t, err, &ds)
	require.Equal(t, []spend.UniquePubkey{double.UniquePubkey()}, ds.Keys)

	var generic *SendSpendsError
	require.False(t, errors.As(err, &generic))

	note := spend.CashNote{UniquePubkey: fresh.UniquePubkey()}
	require.ErrorIs(t, env.client.VerifyCashNoteIsValid(ctx, note), ErrCashNoteSpent)
}

func TestSendSpendsReportsGenericFailures(t *testing.T) { // A
	t.Parallel()
	ctx := context.Background()
	env := newTestEnv(t)

	forged := signedSpend(t, newKeyPair(t), 3, "forged")
	forged.Signature[0] ^= 0xff
	ok := signedSpend(t, newKeyPair(t), 4, "ok")

	err := env.client.SendSpends(ctx, []spend.SignedSpend{forged, ok})
	var failed *SendSpendsError
	require.ErrorAs(t, err, &failed)
	require.Len(t, failed.Failures, 1)
	require.Contains(t, failed.Failures, forged.UniquePubkey())
	require.ErrorIs(t, err, interfaces.ErrRecordRejected)
}

func TestResendPendingSpends(t *testing.T) { // A
	t.Parallel()
	ctx := context.Background()
	env := newTestEnv(t)
	w := newTestWallet()
	require.NoError(t, env.client.ResendPendingSpends(ctx, w))

	s := signedSpend(t, newKeyPair(t), 2, "pending")
	w.AddPendingSpends([]spend.SignedSpend{s})
	require.NoError(t, env.client.ResendPendingSpends(ctx, w))
	require.Empty(t, w.PendingSpends())

	note := spend.CashNote{UniquePubkey: s.UniquePubkey()}
	require.ErrorIs(t, env.client.VerifyCashNoteIsValid(ctx, note), ErrCashNoteSpent)
}
