package keys

import (
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSignVerify(t *testing.T) { // A
	t.Parallel()
	kp, err := Generate()
	require.NoError(t, err)

	sig, err := kp.Sign([]byte("msg"))
	require.NoError(t, err)
	require.NoError(t, Verify(kp.PublicKey(), []byte("msg"), sig))

	err = Verify(kp.PublicKey(), []byte("other"), sig)
	require.True(t, errors.Is(err, ErrInvalidSignature))
}

func TestLoadOrCreatePersistsKey(t *testing.T) { // A
	t.Parallel()
	path := filepath.Join(t.TempDir(), "sub", "node.key")

	first, err := LoadOrCreate(path)
	require.NoError(t, err)
	second, err := LoadOrCreate(path)
	require.NoError(t, err)

	require.Equal(t, first.PublicKey(), second.PublicKey())
	require.Equal(t, first.PeerID(), second.PeerID())
}

func TestFromSeedRejectsShortSeed(t *testing.T) { // A
	t.Parallel()
	_, err := FromSeed([]byte("short"))
	require.Error(t, err)
}
