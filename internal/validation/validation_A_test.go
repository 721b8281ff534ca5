package validation

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/i5heu/ouroboros-mesh/internal/testutil"
	"github.com/i5heu/ouroboros-mesh/pkg/address"
	"github.com/i5heu/ouroboros-mesh/pkg/keys"
	"github.com/i5heu/ouroboros-mesh/pkg/model"
	"github.com/i5heu/ouroboros-mesh/pkg/record"
	"github.com/i5heu/ouroboros-mesh/pkg/register"
	"github.com/i5heu/ouroboros-mesh/pkg/spend"
)

var self = address.PeerID{0xaa}

func newValidator() (*Validator, *testutil.MemStore) { // A
	st := testutil.NewMemStore()
	return New(self, st, testutil.Logger()), st
}

func signedSpend(t *testing.T, kp *keys.KeyPair, reason string) spend.SignedSpend { // A
	t.Helper()
	u, err := spend.PubkeyOf(kp.PublicKey())
	require.NoError(t, err)
	ss, err := spend.Sign(spend.Spend{
		UniquePubkey: u,
		Amount:       10,
		Reason:       []byte(reason),
	}, kp)
	require.NoError(t, err)
	return ss
}

func TestAcceptChunk(t *testing.T) { // A
	t.Parallel()
	v, st := newValidator()
	ctx := context.Background()
	rec, err := model.NewChunk([]byte("data")).Record()
	require.NoError(t, err)

	require.NoError(t, v.Accept(ctx, rec))
	require.NoError(t, v.Accept(ctx, rec))
	require.Equal(t, 1, st.Len())

	bad := record.Record{Key: address.Address{1}, Value: rec.Value}
	require.True(t, errors.Is(v.Accept(ctx, bad), ErrInvalid))
}

func TestAcceptChunkWithPaymentStoresPlainChunk(t *testing.T) { // A
	t.Parallel()
	v, st := newValidator()
	ctx := context.Background()
	c := model.NewChunk([]byte("paid"))
	rec, err := record.New(c.Address(), &model.ChunkWithPayment{
		Payment: model.Payment{Payee: self, Amount: 1},
		Chunk:   c,
	}, record.KindChunkWithPayment)
	require.NoError(t, err)

	require.NoError(t, v.Accept(ctx, rec))
	got, err := st.Get(ctx, c.Address())
	require.NoError(t, err)
	k, err := got.Kind()
	require.NoError(t, err)
	require.Equal(t, record.KindChunk, k)
}

func TestAcceptRejectsPaymentToOtherPeer(t *testing.T) { // A
	t.Parallel()
	v, _ := newValidator()
	c := model.NewChunk([]byte("paid"))
	rec, err := record.New(c.Address(), &model.ChunkWithPayment{
		Payment: model.Payment{Payee: address.PeerID{0xbb}},
		Chunk:   c,
	}, record.KindChunkWithPayment)
	require.NoError(t, err)
	require.True(t, errors.Is(v.Accept(context.Background(), rec), ErrWrongPayee))
}

func TestAcceptSpendAtMostOnce(t *testing.T) { // A
	t.Parallel()
	v, _ := newValidator()
	ctx := context.Background()
	kp, _ := keys.Generate()

	first, err := signedSpend(t, kp, "first").Record()
	require.NoError(t, err)
	second, err := signedSpend(t, kp, "second").Record()
	require.NoError(t, err)
	require.Equal(t, first.Key, second.Key)

	require.NoError(t, v.Accept(ctx, first))
	require.NoError(t, v.Accept(ctx, first))
	require.True(t, errors.Is(v.Accept(ctx, second), ErrConflict))
}

func TestAcceptSpendConcurrentOnlyOneWins(t *testing.T) { // A
	t.Parallel()
	v, st := newValidator()
	ctx := context.Background()
	kp, _ := keys.Generate()

	var recs []record.Record
	for _, reason := range []string{"a", "b", "c", "d"} {
		r, err := signedSpend(t, kp, reason).Record()
		require.NoError(t, err)
		recs = append(recs, r)
	}

	var wg sync.WaitGroup
	errs := make([]error, len(recs))
	for i, r := range recs {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs[i] = v.Accept(ctx, r)
		}()
	}
	wg.Wait()

	var ok int
	for _, err := range errs {
		if err == nil {
			ok++
		} else {
			require.True(t, errors.Is(err, ErrConflict))
		}
	}
	require.Equal(t, 1, ok)
	require.Equal(t, 1, st.Len())
}

func TestAcceptSpendRejectsBadSignature(t *testing.T) { // A
	t.Parallel()
	v, _ := newValidator()
	kp, _ := keys.Generate()
	ss := signedSpend(t, kp, "x")
	ss.Spend.Amount = 99
	rec, err := ss.Record()
	require.NoError(t, err)
	require.True(t, errors.Is(v.Accept(context.Background(), rec), ErrInvalid))
}

func TestAcceptRegisterMerges(t *testing.T) { // A
	t.Parallel()
	v, st := newValidator()
	ctx := context.Background()
	owner, _ := keys.Generate()

	reg := register.New(owner.PublicKey(), address.Address{5}, register.Permissions{})
	root, _, err := reg.Write([]byte("root"), nil, owner)
	require.NoError(t, err)
	base, err := register.Sign(reg, owner)
	require.NoError(t, err)

	branch := func(value string) record.Record {
		r, err := base.Register()
		require.NoError(t, err)
		_, _, err = r.Write([]byte(value), []register.EntryHash{root}, owner)
		require.NoError(t, err)
		sr, err := register.Sign(r, owner)
		require.NoError(t, err)
		rec, err := sr.Record()
		require.NoError(t, err)
		return rec
	}

	require.NoError(t, v.Accept(ctx, branch("left")))
	require.NoError(t, v.Accept(ctx, branch("right")))

	stored, err := st.Get(ctx, base.Address())
	require.NoError(t, err)
	sr, err := register.FromValue(stored.Value)
	require.NoError(t, err)
	r, err := sr.Register()
	require.NoError(t, err)
	require.Len(t, r.Read(), 2)
}

func TestAcceptScratchpadOnlyMovesForward(t *testing.T) { // A
	t.Parallel()
	v, st := newValidator()
	ctx := context.Background()
	owner, _ := keys.Generate()

	sp, err := model.NewScratchpad(owner, 0, []byte("v0"))
	require.NoError(t, err)
	v0, err := sp.Record()
	require.NoError(t, err)
	require.NoError(t, sp.Update(owner, []byte("v1")))
	v1, err := sp.Record()
	require.NoError(t, err)

	require.NoError(t, v.Accept(ctx, v1))
	require.True(t, errors.Is(v.Accept(ctx, v0), ErrConflict))
	require.NoError(t, v.Accept(ctx, v1))

	got, err := st.Get(ctx, sp.Address())
	require.NoError(t, err)
	require.True(t, got.Equal(v1))
}

func TestAcceptRejectsGarbage(t *testing.T) { // A
	t.Parallel()
	v, _ := newValidator()
	err := v.Accept(context.Background(), record.Record{Value: []byte{0x08}})
	require.True(t, errors.Is(err, ErrInvalid))
}
