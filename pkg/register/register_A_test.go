package register

import (
	"bytes"
	"crypto/ed25519"
	"errors"
	"testing"

	"github.com/i5heu/ouroboros-mesh/pkg/address"
	"github.com/i5heu/ouroboros-mesh/pkg/keys"
	"github.com/i5heu/ouroboros-mesh/pkg/record"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func newOwner(t require.TestingT) *keys.KeyPair { // A
	kp, err := keys.Generate()
	require.NoError(t, err)
	return kp
}

func values(entries []Entry) [][]byte { // A
	out := make([][]byte, len(entries))
	for i, e := range entries {
		out[i] = e.Value
	}
	return out
}

func TestWriteSupersedesParents(t *testing.T) { // A
	t.Parallel()
	owner := newOwner(t)
	r := New(owner.PublicKey(), address.Address{1}, Permissions{})

	h1, _, err := r.Write([]byte("a"), nil, owner)
	require.NoError(t, err)
	_, _, err = r.Write([]byte("b"), []EntryHash{h1}, owner)
	require.NoError(t, err)

	require.Equal(t, [][]byte{[]byte("b")}, values(r.Read()))
	require.Equal(t, 2, r.Size())
}

func TestConcurrentWritesProduceMultipleHeads(t *testing.T) { // A
	t.Parallel()
	owner := newOwner(t)
	r := New(owner.PublicKey(), address.Address{1}, Permissions{})
	root, _, err := r.Write([]byte("root"), nil, owner)
	require.NoError(t, err)

	base, err := Sign(r, owner)
	require.NoError(t, err)

	left, err := base.Register()
	require.NoError(t, err)
	_, opL, err := left.Write([]byte("left"), []EntryHash{root}, owner)
	require.NoError(t, err)

	right, err := base.Register()
	require.NoError(t, err)
	_, opR, err := right.Write([]byte("right"), []EntryHash{root}, owner)
	require.NoError(t, err)

	merged := base
	require.NoError(t, merged.AddOp(opL))
	require.NoError(t, merged.AddOp(opR))

	got, err := merged.Register()
	require.NoError(t, err)
	heads := values(got.Read())
	require.Len(t, heads, 2)
	require.ElementsMatch(t, [][]byte{[]byte("left"), []byte("right")}, heads)
}

func TestWriteDeniedForStranger(t *testing.T) { // A
	t.Parallel()
	owner := newOwner(t)
	stranger := newOwner(t)
	r := New(owner.PublicKey(), address.Address{1}, Permissions{})

	_, _, err := r.Write([]byte("x"), nil, stranger)
	require.True(t, errors.Is(err, ErrAccessDenied))

	open := New(owner.PublicKey(), address.Address{1}, Permissions{
		Writers: []ed25519.PublicKey{stranger.PublicKey()},
	})
	_, _, err = open.Write([]byte("x"), nil, stranger)
	require.NoError(t, err)
}

func TestTamperedOpFailsVerification(t *testing.T) { // A
	t.Parallel()
	owner := newOwner(t)
	r := New(owner.PublicKey(), address.Address{1}, Permissions{})
	_, _, err := r.Write([]byte("x"), nil, owner)
	require.NoError(t, err)
	sr, err := Sign(r, owner)
	require.NoError(t, err)
	require.NoError(t, sr.Verify())

	sr.Ops[0].Entry.Value = []byte("y")
	require.True(t, errors.Is(sr.Verify(), ErrFailedVerification))
}

func TestSignRequiresOwner(t *testing.T) { // A
	t.Parallel()
	owner := newOwner(t)
	r := New(owner.PublicKey(), address.Address{1}, Permissions{})
	_, err := Sign(r, newOwner(t))
	require.Error(t, err)
}

func TestMergeIsOrderIndependent(t *testing.T) { // A
	t.Parallel()
	owner := newOwner(t)
	r := New(owner.PublicKey(), address.Address{2}, Permissions{})
	root, _, err := r.Write([]byte("root"), nil, owner)
	require.NoError(t, err)
	base, err := Sign(r, owner)
	require.NoError(t, err)

	var replicas []SignedRegister
	for _, v := range []string{"a", "b", "c", "d"} {
		reg, err := base.Register()
		require.NoError(t, err)
		_, _, err = reg.Write([]byte(v), []EntryHash{root}, owner)
		require.NoError(t, err)
		sr, err := Sign(reg, owner)
		require.NoError(t, err)
		replicas = append(replicas, sr)
	}

	rapid.Check(t, func(rt *rapid.T) {
		order := rapid.Permutation(replicas).Draw(rt, "order")
		framed := make([][]byte, len(order))
		for i := range order {
			b, err := record.Encode(&order[i], record.KindRegister)
			if err != nil {
				rt.Fatalf("Encode: %v", err)
			}
			framed[i] = b
		}
		got, err := MergeValues(framed)
		if err != nil {
			rt.Fatalf("MergeValues: %v", err)
		}

		want, err := MergeValues(encodeAll(rt, replicas))
		if err != nil {
			rt.Fatalf("MergeValues: %v", err)
		}
		if !bytes.Equal(got, want) {
			rt.Fatalf("merge result depends on order")
		}

		sr, err := FromValue(got)
		if err != nil {
			rt.Fatalf("FromValue: %v", err)
		}
		reg, err := sr.Register()
		if err != nil {
			rt.Fatalf("Register: %v", err)
		}
		if n := len(reg.Read()); n != 4 {
			rt.Fatalf("got %d heads, want 4", n)
		}
	})
}

func TestMergeSkipsCopiesThatFailVerification(t *testing.T) { // A
	t.Parallel()
	owner := newOwner(t)
	r := New(owner.PublicKey(), address.Address{4}, Permissions{})
	root, _, err := r.Write([]byte("root"), nil, owner)
	require.NoError(t, err)
	base, err := Sign(r, owner)
	require.NoError(t, err)

	branch := func(v string) SignedRegister {
		reg, err := base.Register()
		require.NoError(t, err)
		_, _, err = reg.Write([]byte(v), []EntryHash{root}, owner)
		require.NoError(t, err)
		sr, err := Sign(reg, owner)
		require.NoError(t, err)
		return sr
	}
	left, right := branch("left"), branch("right")
	forged := branch("forged")
	forged.Signature = append([]byte(nil), forged.Signature...)
	forged.Signature[0] ^= 0xff

	frame := func(sr SignedRegister) []byte {
		b, err := record.Encode(&sr, record.KindRegister)
		require.NoError(t, err)
		return b
	}

	for _, order := range [][][]byte{
		{frame(forged), frame(left), frame(right)},
		{frame(left), frame(forged), frame(right)},
		{frame(left), frame(right), frame(forged)},
		{[]byte{0xff}, frame(left), frame(right)},
	} {
		got, err := MergeValues(order)
		require.NoError(t, err)
		sr, err := FromValue(got)
		require.NoError(t, err)
		reg, err := sr.Register()
		require.NoError(t, err)
		require.ElementsMatch(t, [][]byte{[]byte("left"), []byte("right")}, values(reg.Read()))
	}

	_, err = MergeValues([][]byte{frame(forged), frame(forged)})
	require.True(t, errors.Is(err, ErrFailedVerification))
}

func encodeAll(t *rapid.T, regs []SignedRegister) [][]byte { // A
	out := make([][]byte, len(regs))
	for i := range regs {
		b, err := record.Encode(&regs[i], record.KindRegister)
		if err != nil {
			t.Fatalf("Encode: %v", err)
		}
		out[i] = b
	}
	return out
}

func TestMergeRejectsDifferentRegister(t *testing.T) { // A
	t.Parallel()
	owner := newOwner(t)
	a, err := Sign(New(owner.PublicKey(), address.Address{1}, Permissions{}), owner)
	require.NoError(t, err)
	b, err := Sign(New(owner.PublicKey(), address.Address{2}, Permissions{}), owner)
	require.NoError(t, err)
	require.True(t, errors.Is(a.Merge(b), ErrAddressMismatch))
}

func TestFromValueUnwrapsPayment(t *testing.T) { // A
	t.Parallel()
	owner := newOwner(t)
	sr, err := Sign(New(owner.PublicKey(), address.Address{3}, Permissions{}), owner)
	require.NoError(t, err)
	rp := &RegisterWithPayment{Register: sr}
	rp.Payment.Payee = address.PeerID{1}

	b, err := record.Encode(rp, record.KindRegisterWithPayment)
	require.NoError(t, err)
	got, err := FromValue(b)
	require.NoError(t, err)
	require.Equal(t, sr.Address(), got.Address())
	require.NoError(t, got.Verify())
}
