// Package node wires one mesh peer together: it serves record requests
// arriving over the carrier, reacts to membership churn with targeted
// replication and pulls records announced by other peers.
package node

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"

	"github.com/i5heu/ouroboros-mesh/internal/carrier"
	"github.com/i5heu/ouroboros-mesh/internal/replication"
	"github.com/i5heu/ouroboros-mesh/pkg/address"
	"github.com/i5heu/ouroboros-mesh/pkg/interfaces"
	"github.com/i5heu/ouroboros-mesh/pkg/keys"
	"github.com/i5heu/ouroboros-mesh/pkg/network"
	workerpool "github.com/i5heu/ouroboros-mesh/pkg/workerPool"
)

const keyFileName = "node.key"

// Slog attribute keys used by the node package.
const (
	logKeyPeer    = "peer"
	logKeyKeys    = "keys"
	logKeyQueued  = "queued"
	logKeyFailed  = "failed"
	logKeyFetched = "fetched"
	logKeyError   = "error"
)

// LoadIdentity creates or loads the node key pair in dataDir. On first
// run a new key is generated and saved to <dataDir>/node.key.
func LoadIdentity(dataDir string) (*keys.KeyPair, error) { // A
	kp, err := keys.LoadOrCreate(filepath.Join(dataDir, keyFileName))
	if err != nil {
		return nil, fmt.Errorf("node identity: %w", err)
	}
	return kp, nil
}

// Config wires a Node.
type Config struct { // A
	Carrier     carrier.Carrier
	Store       interfaces.RecordStore
	Acceptor    interfaces.RecordAcceptor
	Pool        *workerpool.WorkerPool
	Network     network.Config
	Replication replication.Config
	Logger      *slog.Logger
}

// Node serves one peer of the mesh.
type Node struct { // A
	id       address.PeerID
	carrier  carrier.Carrier
	store    interfaces.RecordStore
	acceptor interfaces.RecordAcceptor
	log      *slog.Logger

	view     *PeerView
	client   *PeerClient
	network  *network.Network
	selector *replication.Selector
	fetcher  *replication.Fetcher

	ctx    context.Context
	cancel context.CancelFunc
	mu     sync.Mutex
	closed bool
	wg     sync.WaitGroup
}

// New builds the quorum network, replication selector and fetcher for
// the carrier's local node and registers the record handlers.
func New(cfg Config) (*Node, error) { // A
	switch {
	case cfg.Logger == nil:
		return nil, errors.New("node: logger is required")
	case cfg.Carrier == nil, cfg.Store == nil, cfg.Acceptor == nil:
		return nil, errors.New("node: carrier, store and acceptor are required")
	case cfg.Pool == nil:
		return nil, errors.New("node: worker pool is required")
	}
	if cfg.Replication.CloseGroupSize <= 0 {
		cfg.Replication.CloseGroupSize = replication.DefaultConfig().CloseGroupSize
	}
	cfg.Network.CloseGroupSize = cfg.Replication.CloseGroupSize

	n := &Node{
		id:       cfg.Carrier.LocalNode().NodeID,
		carrier:  cfg.Carrier,
		store:    cfg.Store,
		acceptor: cfg.Acceptor,
		log:      cfg.Logger,
	}
	n.view = NewPeerView(cfg.Carrier, cfg.Replication.CloseGroupSize)
	n.client = NewPeerClient(cfg.Carrier, cfg.Store, cfg.Acceptor, cfg.Logger)

	var err error
	n.network, err = network.New(cfg.Network, n.view, n.client, cfg.Logger)
	if err != nil {
		return nil, err
	}
	n.selector, err = replication.NewSelector(cfg.Replication, n.view, cfg.Store, n.client, cfg.Logger)
	if err != nil {
		return nil, err
	}
	n.fetcher, err = replication.NewFetcher(replication.FetcherConfig{
		Self:     n.id,
		Store:    cfg.Store,
		Client:   n.client,
		Network:  n.network,
		Acceptor: cfg.Acceptor,
		Pool:     cfg.Pool,
		Logger:   cfg.Logger,
	})
	if err != nil {
		return nil, err
	}

	n.ctx, n.cancel = context.WithCancel(context.Background())
	n.registerHandlers()
	cfg.Carrier.OnMembershipChange(n.onMembershipChange)
	return n, nil
}

// ID returns the node's keyspace identity.
func (n *Node) ID() address.PeerID { // A
	return n.id
}

// Network returns the quorum network seen from this node.
func (n *Node) Network() *network.Network { // A
	return n.network
}

// View returns the node's routing view.
func (n *Node) View() interfaces.PeerView { // A
	return n.view
}

// Selector returns the node's replication selector.
func (n *Node) Selector() *replication.Selector { // A
	return n.selector
}

// Run performs interval replication until ctx is done or the node is
// closed.
func (n *Node) Run(ctx context.Context) { // A
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-n.ctx.Done():
			cancel()
		case <-ctx.Done():
		}
	}()
	n.selector.Run(ctx)
}

// Close stops background fetches and waits for them.
func (n *Node) Close() { // A
	n.mu.Lock()
	n.closed = true
	n.mu.Unlock()
	n.cancel()
	n.wg.Wait()
}

func (n *Node) onMembershipChange(ctx context.Context, ev carrier.MembershipEvent) { // A
	if _, err := n.selector.TargetedReplication(ctx, ev.Node.NodeID, ev.Removed); err != nil {
		n.log.WarnContext(ctx, "targeted replication failed",
			logKeyPeer, ev.Node.NodeID.Short(),
			logKeyError, err)
	}
}

// drain fetches everything queued in the background. Concurrent drains
// split the queue between them.
func (n *Node) drain() { // A
	n.mu.Lock()
	if n.closed {
		n.mu.Unlock()
		return
	}
	n.wg.Add(1)
	n.mu.Unlock()
	go func() {
		defer n.wg.Done()
		results := n.fetcher.DrainAndFetch(n.ctx)
		if len(results) == 0 {
			return
		}
		var failed int
		for _, r := range results {
			if r.Err != nil {
				failed++
			}
		}
		n.log.DebugContext(n.ctx, "replication fetch finished",
			logKeyFetched, len(results)-failed,
			logKeyFailed, failed)
	}()
}
