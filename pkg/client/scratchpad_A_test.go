package client

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/i5heu/ouroboros-mesh/pkg/network"
)

func TestScratchpadLifecycle(t *testing.T) { // A
	t.Parallel()
	ctx := context.Background()
	env := newTestEnv(t)
	owner := newKeyPair(t)

	sp, err := env.client.CreateScratchpad(ctx, owner, 1, []byte("draft"), env.payer)
	require.NoError(t, err)

	got, err := env.client.GetScratchpad(ctx, owner.PublicKey())
	require.NoError(t, err)
	require.Equal(t, uint64(0), got.Counter)
	require.Equal(t, []byte("draft"), got.Data)

	stale := sp
	require.NoError(t, sp.Update(owner, []byte("final")))
	require.NoError(t, env.client.PutScratchpad(ctx, sp))

	got, err = env.client.GetScratchpad(ctx, owner.PublicKey())
	require.NoError(t, err)
	require.Equal(t, uint64(1), got.Counter)
	require.Equal(t, []byte("final"), got.Data)

	err = env.client.PutScratchpad(ctx, stale)
	var mismatch *network.RecordDoesNotMatchError
	require.ErrorAs(t, err, &mismatch)
}

// A peer left behind on an old version does not hide the newest one.
func TestGetScratchpadPrefersHighestCounter(t *testing.T) { // A
	t.Parallel()
	ctx := context.Background()
	env := newTestEnv(t)
	owner := newKeyPair(t)

	sp, err := env.client.CreateScratchpad(ctx, owner, 0, []byte("v0"), env.payer)
	require.NoError(t, err)
	old, err := sp.Record()
	require.NoError(t, err)

	require.NoError(t, sp.Update(owner, []byte("v1")))
	require.NoError(t, env.client.PutScratchpad(ctx, sp))

	peers, err := env.view.ClosestPeers(ctx, sp.Address(), false)
	require.NoError(t, err)
	require.NoError(t, env.net.Peer(peers[len(peers)-1]).Store.Put(ctx, old))

	got, err := env.client.GetScratchpad(ctx, owner.PublicKey())
	require.NoError(t, err)
	require.Equal(t, uint64(1), got.Counter)
	require.Equal(t, []byte("v1"), got.Data)
}
