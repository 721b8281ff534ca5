package spend

import (
	"testing"

	"github.com/i5heu/ouroboros-mesh/pkg/address"
	"github.com/i5heu/ouroboros-mesh/pkg/keys"
	"github.com/i5heu/ouroboros-mesh/pkg/record"
	"github.com/stretchr/testify/require"
)

func newSpend(t *testing.T, amount uint64) (SignedSpend, *keys.KeyPair) { // A
	t.Helper()
	kp, err := keys.Generate()
	require.NoError(t, err)
	u, err := PubkeyOf(kp.PublicKey())
	require.NoError(t, err)

	out, _ := keys.Generate()
	ou, _ := PubkeyOf(out.PublicKey())

	ss, err := Sign(Spend{
		UniquePubkey: u,
		Amount:       amount,
		Reason:       []byte("test"),
		Parents:      []address.Address{{9}},
		Outputs:      []Output{{UniquePubkey: ou, Amount: amount}},
	}, kp)
	require.NoError(t, err)
	return ss, kp
}

func TestSignedSpendVerifies(t *testing.T) { // A
	t.Parallel()
	ss, _ := newSpend(t, 10)
	require.NoError(t, ss.Verify())

	ss.Spend.Amount = 11
	require.Error(t, ss.Verify())
}

func TestSignRejectsForeignKey(t *testing.T) { // A
	t.Parallel()
	ss, _ := newSpend(t, 10)
	other, _ := keys.Generate()
	_, err := Sign(ss.Spend, other)
	require.Error(t, err)
}

func TestSignedSpendRecordRoundTrip(t *testing.T) { // A
	t.Parallel()
	ss, _ := newSpend(t, 5)
	rec, err := ss.Record()
	require.NoError(t, err)
	require.Equal(t, ss.UniquePubkey().Address(), rec.Key)

	f, err := rec.Frame()
	require.NoError(t, err)
	var got SignedSpend
	require.NoError(t, f.Parse(&got))
	require.NoError(t, got.Verify())
	require.Equal(t, ss.Spend, got.Spend)
}

func TestSpendAddressesAreDistinctPerKey(t *testing.T) { // A
	t.Parallel()
	a, _ := newSpend(t, 1)
	b, _ := newSpend(t, 1)
	require.NotEqual(t, a.Address(), b.Address())
}

func TestTransferHexRoundTrip(t *testing.T) { // A
	t.Parallel()
	in := TransferFromCashNote(CashNote{
		UniquePubkey: UniquePubkey{1, 2, 3},
		Amount:       77,
		ParentSpend:  address.Address{4},
	})
	s, err := in.ToHex()
	require.NoError(t, err)
	out, err := TransferFromHex(s)
	require.NoError(t, err)
	require.Equal(t, in, out)

	_, err = TransferFromHex("zz")
	require.Error(t, err)
	_, err = TransferFromHex("")
	require.Error(t, err)
}

func TestParseSpendAsWrongKindFails(t *testing.T) { // A
	t.Parallel()
	ss, _ := newSpend(t, 1)
	b, err := record.Encode(&ss, record.KindRegister)
	require.NoError(t, err)
	f, err := record.Decode(b)
	require.NoError(t, err)
	var got SignedSpend
	require.Error(t, f.Parse(&got))
}

func TestPickValueSkipsInvalidCopies(t *testing.T) { // A
	t.Parallel()
	ss, _ := newSpend(t, 4)
	good, err := ss.Record()
	require.NoError(t, err)

	tampered := ss
	tampered.Spend.Amount = 40
	bad, err := tampered.Record()
	require.NoError(t, err)

	got, err := PickValue([][]byte{bad.Value, []byte("junk"), good.Value})
	require.NoError(t, err)
	require.Equal(t, good.Value, got)

	_, err = PickValue([][]byte{bad.Value})
	require.Error(t, err)
}
