// Package simnet is an in-process network of peers for tests. Every peer
// owns a MemStore guarded by a validation.Validator, and requests are
// plain method calls.
package simnet

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/i5heu/ouroboros-mesh/internal/testutil"
	"github.com/i5heu/ouroboros-mesh/internal/validation"
	"github.com/i5heu/ouroboros-mesh/pkg/address"
	"github.com/i5heu/ouroboros-mesh/pkg/interfaces"
	"github.com/i5heu/ouroboros-mesh/pkg/record"
)

// ErrPeerDown is returned for requests to a peer marked down or unknown.
var ErrPeerDown = errors.New("simnet: peer unreachable")

type Peer struct {
	ID        address.PeerID
	Store     *testutil.MemStore
	Validator *validation.Validator
}

// Notice is a delivered replicate notice.
type Notice struct {
	To     address.PeerID
	Notice interfaces.ReplicateNotice
}

type Net struct {
	closeGroupSize int

	mu      sync.Mutex
	peers   map[address.PeerID]*Peer
	down    map[address.PeerID]bool
	notices []Notice
}

// New creates an empty network whose close groups have closeGroupSize
// members.
func New(closeGroupSize int) *Net {
	return &Net{
		closeGroupSize: closeGroupSize,
		peers:          make(map[address.PeerID]*Peer),
		down:           make(map[address.PeerID]bool),
	}
}

// AddPeer joins a peer with an empty store.
func (n *Net) AddPeer(id address.PeerID) *Peer {
	st := testutil.NewMemStore()
	p := &Peer{
		ID:        id,
		Store:     st,
		Validator: validation.New(id, st, testutil.Logger()),
	}
	n.mu.Lock()
	n.peers[id] = p
	n.mu.Unlock()
	return p
}

// AddPeers joins count peers with random looking ids derived from seed.
func (n *Net) AddPeers(seed string, count int) []*Peer {
	out := make([]*Peer, 0, count)
	for i := 0; i < count; i++ {
		id := address.PeerID(address.FromParts([]byte(seed), []byte(fmt.Sprint(i))))
		out = append(out, n.AddPeer(id))
	}
	return out
}

func (n *Net) RemovePeer(id address.PeerID) {
	n.mu.Lock()
	defer n.mu.Unlock()
	delete(n.peers, id)
	delete(n.down, id)
}

// SetDown makes a known peer fail every request without leaving the
// peer view.
func (n *Net) SetDown(id address.PeerID, down bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.down[id] = down
}

func (n *Net) Peer(id address.PeerID) *Peer {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.peers[id]
}

func (n *Net) PeerIDs() []address.PeerID {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]address.PeerID, 0, len(n.peers))
	for id := range n.peers {
		out = append(out, id)
	}
	return out
}

// Notices returns every replicate notice sent so far.
func (n *Net) Notices() []Notice {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]Notice(nil), n.notices...)
}

func (n *Net) reachable(id address.PeerID) (*Peer, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	p, ok := n.peers[id]
	if !ok || n.down[id] {
		return nil, fmt.Errorf("%w: %s", ErrPeerDown, id.Short())
	}
	return p, nil
}

// View returns the routing view of the peer self.
func (n *Net) View(self address.PeerID) interfaces.PeerView {
	return &view{net: n, self: self}
}

type view struct {
	net  *Net
	self address.PeerID
}

func (v *view) LocalPeerID() address.PeerID { return v.self }

func (v *view) AllPeers(context.Context) ([]address.PeerID, error) {
	peers := v.net.PeerIDs()
	if !address.ContainsPeer(peers, v.self) {
		peers = append(peers, v.self)
	}
	return peers, nil
}

func (v *view) ClosestPeers(
	ctx context.Context,
	addr address.Address,
	includeSelf bool,
) ([]address.PeerID, error) {
	all, _ := v.AllPeers(ctx)
	peers := make([]address.PeerID, 0, len(all))
	for _, p := range all {
		if p != v.self || includeSelf {
			peers = append(peers, p)
		}
	}
	return address.SortPeersByAddress(peers, addr, v.net.closeGroupSize), nil
}

// PutRecord implements interfaces.PeerClient.
func (n *Net) PutRecord(ctx context.Context, peer address.PeerID, rec record.Record) error {
	p, err := n.reachable(peer)
	if err != nil {
		return err
	}
	err = p.Validator.Accept(ctx, rec)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, validation.ErrConflict):
		return &interfaces.PutConflictError{Key: rec.Key, Peer: peer}
	default:
		return fmt.Errorf("%w: %v", interfaces.ErrRecordRejected, err)
	}
}

func (n *Net) GetRecord(
	ctx context.Context,
	peer address.PeerID,
	key address.Address,
) (record.Record, error) {
	p, err := n.reachable(peer)
	if err != nil {
		return record.Record{}, err
	}
	return p.Store.Get(ctx, key)
}

func (n *Net) GetReplicatedRecord(
	ctx context.Context,
	holder address.PeerID,
	_ address.PeerID,
	key address.Address,
) (record.Record, error) {
	return n.GetRecord(ctx, holder, key)
}

// NotifyReplicate records the notice. Notices to unreachable peers are
// dropped.
func (n *Net) NotifyReplicate(
	_ context.Context,
	to address.PeerID,
	notice interfaces.ReplicateNotice,
) {
	if _, err := n.reachable(to); err != nil {
		return
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	n.notices = append(n.notices, Notice{To: to, Notice: notice})
}

var (
	_ interfaces.PeerClient        = (*Net)(nil)
	_ interfaces.ReplicateNotifier = (*Net)(nil)
)
