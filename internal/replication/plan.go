// Package replication keeps records in their close groups while peers
// join and leave. The Selector decides which keys to announce to which
// peers; the Fetcher pulls announced keys the local peer is missing.
package replication

import (
	"bytes"
	"slices"

	"github.com/i5heu/ouroboros-mesh/pkg/address"
)

// Plan maps a target peer to the keys it should hold.
type Plan map[address.PeerID][]address.Address // A

// Add appends key to the keys planned for peer.
func (p Plan) Add(peer address.PeerID, key address.Address) { // A
	p[peer] = append(p[peer], key)
}

// Targets returns the planned peers in byte order.
func (p Plan) Targets() []address.PeerID { // A
	out := make([]address.PeerID, 0, len(p))
	for peer := range p {
		out = append(out, peer)
	}
	slices.SortFunc(out, func(a, b address.PeerID) int {
		return bytes.Compare(a[:], b[:])
	})
	return out
}

// Len returns the number of planned (peer, key) pairs.
func (p Plan) Len() int { // A
	var n int
	for _, keys := range p {
		n += len(keys)
	}
	return n
}

// Churn describes one membership change.
type Churn struct { // A
	Peer    address.PeerID
	Removed bool
}

// PlanTargets computes the replication plan for one churn event.
//
// peers is the current peer view including self and, for a removal,
// already without the departed peer. For every key the close group of
// closeGroupSize+1 peers is computed. A joined peer receives the key
// unless it is the farthest member of that group. A departed peer that
// was the farthest member hands the key to the new farthest member of
// the group recomputed without it. The local peer is never a target.
func PlanTargets(
	self address.PeerID,
	peers []address.PeerID,
	keys []address.Address,
	churn Churn,
	closeGroupSize int,
) Plan { // A
	plan := make(Plan)
	size := closeGroupSize + 1

	without := slices.DeleteFunc(slices.Clone(peers), func(p address.PeerID) bool {
		return p == churn.Peer
	})
	with := append(slices.Clone(without), churn.Peer)

	for _, key := range keys {
		group := address.SortPeersByAddress(with, key, size)
		if len(group) == 0 || !address.ContainsPeer(group, churn.Peer) {
			continue
		}
		farthest := group[len(group)-1]

		var target address.PeerID
		if !churn.Removed {
			if churn.Peer == farthest {
				continue
			}
			target = churn.Peer
		} else {
			if churn.Peer != farthest {
				continue
			}
			updated := address.SortPeersByAddress(without, key, size)
			if len(updated) == 0 {
				continue
			}
			target = updated[len(updated)-1]
		}

		if target == self {
			continue
		}
		plan.Add(target, key)
	}
	return plan
}
