package replication

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/i5heu/ouroboros-mesh/internal/testutil"
	"github.com/i5heu/ouroboros-mesh/internal/testutil/simnet"
	"github.com/i5heu/ouroboros-mesh/pkg/address"
	"github.com/i5heu/ouroboros-mesh/pkg/interfaces"
	"github.com/i5heu/ouroboros-mesh/pkg/keys"
	"github.com/i5heu/ouroboros-mesh/pkg/model"
	"github.com/i5heu/ouroboros-mesh/pkg/record"
)

func chunkRecord(t *testing.T, data string) record.Record { // A
	t.Helper()
	rec, err := model.NewChunk([]byte(data)).Record()
	require.NoError(t, err)
	return rec
}

func newSelector(
	t *testing.T,
	net *simnet.Net,
	self *simnet.Peer,
	cfg Config,
) *Selector { // A
	t.Helper()
	s, err := NewSelector(cfg, net.View(self.ID), self.Store, net, testutil.Logger())
	require.NoError(t, err)
	return s
}

func TestNewSelectorValidates(t *testing.T) { // A
	t.Parallel()
	_, err := NewSelector(Config{}, nil, nil, nil, testutil.Logger())
	require.Error(t, err)
}

// Three peers hold k; a fourth joins closer to k than the farthest
// holder. Exactly one notice goes out and it names k for the newcomer.
func TestPeerJoinReplicatesToNewcomer(t *testing.T) { // A
	t.Parallel()
	ctx := context.Background()
	rec := chunkRecord(t, "k")
	k := rec.Key

	net := simnet.New(3)
	a := net.AddPeer(near(k, 0x10))
	for _, d := range []byte{0x20, 0x30} {
		p := net.AddPeer(near(k, d))
		require.NoError(t, p.Store.Put(ctx, rec))
	}
	require.NoError(t, a.Store.Put(ctx, rec))

	d := net.AddPeer(near(k, 0x18))
	sel := newSelector(t, net, a, Config{CloseGroupSize: 3, CompletenessThreshold: 4})

	plan, err := sel.TargetedReplication(ctx, d.ID, false)
	require.NoError(t, err)
	require.Equal(t, Plan{d.ID: {k}}, plan)

	notices := net.Notices()
	require.Len(t, notices, 1)
	require.Equal(t, d.ID, notices[0].To)
	require.Equal(t, interfaces.ReplicateNotice{
		Holder:  a.ID,
		Entries: []interfaces.ReplicateEntry{{Key: k, Type: record.ChunkType()}},
	}, notices[0].Notice)
}

func TestPeerLeaveReplicatesToNewFarthest(t *testing.T) { // A
	t.Parallel()
	ctx := context.Background()
	rec := chunkRecord(t, "leave")
	k := rec.Key

	net := simnet.New(2)
	a := net.AddPeer(near(k, 0x10))
	require.NoError(t, a.Store.Put(ctx, rec))
	net.AddPeer(near(k, 0x20))
	gone := net.AddPeer(near(k, 0x30))
	next := net.AddPeer(near(k, 0x40))
	net.RemovePeer(gone.ID)

	sel := newSelector(t, net, a, Config{CloseGroupSize: 2, CompletenessThreshold: 3})
	plan, err := sel.TargetedReplication(ctx, gone.ID, true)
	require.NoError(t, err)
	require.Equal(t, Plan{next.ID: {k}}, plan)
	require.Len(t, net.Notices(), 1)
}

func TestSelectorSkipsBelowThreshold(t *testing.T) { // A
	t.Parallel()
	ctx := context.Background()
	rec := chunkRecord(t, "few")

	net := simnet.New(3)
	a := net.AddPeer(near(rec.Key, 0x10))
	require.NoError(t, a.Store.Put(ctx, rec))
	b := net.AddPeer(near(rec.Key, 0x08))

	sel := newSelector(t, net, a, Config{CloseGroupSize: 3, CompletenessThreshold: 5})
	plan, err := sel.TargetedReplication(ctx, b.ID, false)
	require.NoError(t, err)
	require.Empty(t, plan)

	plan, err = sel.IntervalReplication(ctx)
	require.NoError(t, err)
	require.Empty(t, plan)
	require.Empty(t, net.Notices())
}

func TestIntervalReplicationSendsEverything(t *testing.T) { // A
	t.Parallel()
	ctx := context.Background()

	net := simnet.New(3)
	peers := net.AddPeers("interval", 7)
	self := peers[0]

	set := make(address.Set)
	for _, data := range []string{"x", "y", "z"} {
		rec := chunkRecord(t, data)
		require.NoError(t, self.Store.Put(ctx, rec))
		set.Add(rec.Key)
	}

	sel := newSelector(t, net, self, Config{CloseGroupSize: 3})
	plan, err := sel.IntervalReplication(ctx)
	require.NoError(t, err)

	group, err := net.View(self.ID).ClosestPeers(ctx, self.ID.Address(), false)
	require.NoError(t, err)
	require.Len(t, group, 3)
	require.Len(t, plan, 3)
	for _, p := range group {
		require.Equal(t, set.Sorted(), plan[p])
	}

	notices := net.Notices()
	require.Len(t, notices, 3)
	for _, n := range notices {
		require.NotEqual(t, self.ID, n.To)
		require.Equal(t, self.ID, n.Notice.Holder)
		require.Equal(t, set.Sorted(), n.Notice.Keys())
	}
}

func TestNoticeCarriesContentHashOfMutableRecords(t *testing.T) { // A
	t.Parallel()
	ctx := context.Background()

	net := simnet.New(2)
	peers := net.AddPeers("typed", 3)
	self := peers[0]

	owner, err := keys.Generate()
	require.NoError(t, err)
	sp, err := model.NewScratchpad(owner, 0, []byte("state"))
	require.NoError(t, err)
	rec, err := sp.Record()
	require.NoError(t, err)
	require.NoError(t, self.Store.Put(ctx, rec))

	sel := newSelector(t, net, self, Config{CloseGroupSize: 2})
	_, err = sel.IntervalReplication(ctx)
	require.NoError(t, err)

	notices := net.Notices()
	require.Len(t, notices, 2)
	for _, n := range notices {
		require.Len(t, n.Notice.Entries, 1)
		h, ok := n.Notice.Entries[0].Type.ContentHash()
		require.True(t, ok)
		require.Equal(t, rec.ContentHash(), h)
	}
}
