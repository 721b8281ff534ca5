package replication

import (
	"testing"

	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/i5heu/ouroboros-mesh/pkg/address"
)

// near returns the peer at XOR distance {d} from key.
func near(key address.Address, d byte) address.PeerID { // A
	return address.PeerID(key.Distance(address.Address{d}))
}

func TestPlanTargets(t *testing.T) { // A
	t.Parallel()
	key := address.Address{0x01, 0x02, 0x03}
	keys := []address.Address{key}
	p := func(d byte) address.PeerID { return near(key, d) }

	tests := []struct {
		name    string
		self    address.PeerID
		peers   []address.PeerID
		churn   Churn
		want    address.PeerID
		noPlans bool
	}{
		{
			name:  "added closer peer is targeted",
			self:  p(0x10),
			peers: []address.PeerID{p(0x10), p(0x20), p(0x40), p(0x18)},
			churn: Churn{Peer: p(0x18)},
			want:  p(0x18),
		},
		{
			name:    "added farthest member is skipped",
			self:    p(0x10),
			peers:   []address.PeerID{p(0x10), p(0x20), p(0x40), p(0x30)},
			churn:   Churn{Peer: p(0x30)},
			noPlans: true,
		},
		{
			name:    "added peer outside the group is skipped",
			self:    p(0x10),
			peers:   []address.PeerID{p(0x10), p(0x20), p(0x30), p(0x50)},
			churn:   Churn{Peer: p(0x50)},
			noPlans: true,
		},
		{
			name:  "removed farthest member hands over to the new farthest",
			self:  p(0x10),
			peers: []address.PeerID{p(0x10), p(0x20), p(0x40), p(0x50)},
			churn: Churn{Peer: p(0x30), Removed: true},
			want:  p(0x40),
		},
		{
			name:    "removed closer member needs nothing",
			self:    p(0x10),
			peers:   []address.PeerID{p(0x10), p(0x20), p(0x30), p(0x40)},
			churn:   Churn{Peer: p(0x18), Removed: true},
			noPlans: true,
		},
		{
			name:    "local peer is never targeted",
			self:    p(0x40),
			peers:   []address.PeerID{p(0x10), p(0x20), p(0x40)},
			churn:   Churn{Peer: p(0x30), Removed: true},
			noPlans: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			plan := PlanTargets(tt.self, tt.peers, keys, tt.churn, 2)
			if tt.noPlans {
				require.Empty(t, plan)
				return
			}
			require.Equal(t, Plan{tt.want: keys}, plan)
		})
	}
}

func TestPlanTargetsAddedPeerProperty(t *testing.T) { // A
	rapid.Check(t, func(t *rapid.T) {
		g := rapid.IntRange(1, 6).Draw(t, "closeGroupSize")
		raw := rapid.SliceOfNDistinct(
			rapid.SliceOfN(rapid.Byte(), address.Size, address.Size),
			g+2, 20,
			func(b []byte) string { return string(b) },
		).Draw(t, "peers")
		peers := make([]address.PeerID, len(raw))
		for i, b := range raw {
			copy(peers[i][:], b)
		}
		var key address.Address
		copy(key[:], rapid.SliceOfN(rapid.Byte(), address.Size, address.Size).Draw(t, "key"))
		joined := peers[0]
		self := peers[1]

		plan := PlanTargets(self, peers, []address.Address{key}, Churn{Peer: joined}, g)

		group := address.SortPeersByAddress(peers, key, g+1)
		idx := -1
		for i, p := range group {
			if p == joined {
				idx = i
			}
		}
		if idx < 0 || idx == len(group)-1 {
			if len(plan) != 0 {
				t.Fatalf("farthest or outside peer targeted: %v", plan)
			}
			return
		}
		if len(plan) != 1 || len(plan[joined]) != 1 || plan[joined][0] != key {
			t.Fatalf("expected only the joined peer to be targeted, got %v", plan)
		}
	})
}

func TestPlanTargetsRemovedPeerProperty(t *testing.T) { // A
	rapid.Check(t, func(t *rapid.T) {
		g := rapid.IntRange(1, 6).Draw(t, "closeGroupSize")
		raw := rapid.SliceOfNDistinct(
			rapid.SliceOfN(rapid.Byte(), address.Size, address.Size),
			g+3, 20,
			func(b []byte) string { return string(b) },
		).Draw(t, "peers")
		peers := make([]address.PeerID, len(raw))
		for i, b := range raw {
			copy(peers[i][:], b)
		}
		var key address.Address
		copy(key[:], rapid.SliceOfN(rapid.Byte(), address.Size, address.Size).Draw(t, "key"))
		gone := peers[0]
		self := peers[1]
		remaining := peers[1:]

		plan := PlanTargets(self, remaining, []address.Address{key}, Churn{Peer: gone, Removed: true}, g)

		before := address.SortPeersByAddress(peers, key, g+1)
		if before[len(before)-1] != gone {
			if len(plan) != 0 {
				t.Fatalf("removal of a non farthest member planned %v", plan)
			}
			return
		}
		after := address.SortPeersByAddress(remaining, key, g+1)
		want := after[len(after)-1]
		if want == self {
			if len(plan) != 0 {
				t.Fatalf("local peer targeted: %v", plan)
			}
			return
		}
		if len(plan) != 1 || len(plan[want]) != 1 {
			t.Fatalf("expected %s to be targeted, got %v", want.Short(), plan)
		}
	})
}

func TestPlanHelpers(t *testing.T) { // A
	t.Parallel()
	plan := make(Plan)
	plan.Add(address.PeerID{2}, address.Address{1})
	plan.Add(address.PeerID{1}, address.Address{1})
	plan.Add(address.PeerID{2}, address.Address{2})
	require.Equal(t, 3, plan.Len())
	require.Equal(t, []address.PeerID{{1}, {2}}, plan.Targets())
}
