package node

import (
	"context"

	"github.com/i5heu/ouroboros-mesh/internal/carrier"
	"github.com/i5heu/ouroboros-mesh/pkg/address"
	"github.com/i5heu/ouroboros-mesh/pkg/interfaces"
)

// PeerView serves the routing view from the carrier's known nodes.
type PeerView struct { // A
	carrier        carrier.Carrier
	closeGroupSize int
}

// NewPeerView returns a view over c whose close groups have
// closeGroupSize members.
func NewPeerView(c carrier.Carrier, closeGroupSize int) *PeerView { // A
	return &PeerView{carrier: c, closeGroupSize: closeGroupSize}
}

func (v *PeerView) LocalPeerID() address.PeerID { // A
	return v.carrier.LocalNode().NodeID
}

func (v *PeerView) AllPeers(ctx context.Context) ([]address.PeerID, error) { // A
	nodes, err := v.carrier.GetNodes(ctx)
	if err != nil {
		return nil, err
	}
	peers := make([]address.PeerID, 0, len(nodes))
	for _, n := range nodes {
		peers = append(peers, n.NodeID)
	}
	return peers, nil
}

func (v *PeerView) ClosestPeers(
	ctx context.Context,
	addr address.Address,
	includeSelf bool,
) ([]address.PeerID, error) { // A
	all, err := v.AllPeers(ctx)
	if err != nil {
		return nil, err
	}
	self := v.LocalPeerID()
	peers := all[:0]
	for _, p := range all {
		if p != self || includeSelf {
			peers = append(peers, p)
		}
	}
	return address.SortPeersByAddress(peers, addr, v.closeGroupSize), nil
}

var _ interfaces.PeerView = (*PeerView)(nil)
