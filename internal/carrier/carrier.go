package carrier

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"

	"github.com/i5heu/ouroboros-mesh/pkg/address"
)

// DefaultCarrier implements Carrier. It keeps the set of known nodes,
// one outgoing connection per node and the message handlers.
type DefaultCarrier struct { // A
	config    Config
	log       *slog.Logger
	localNode Node
	transport Transport

	mu       sync.RWMutex
	nodes    map[address.PeerID]Node
	conns    map[address.PeerID]Connection
	failures map[address.PeerID]int

	handlersMu sync.RWMutex
	handlers   map[MessageType]MessageHandler
	watchers   []func(ctx context.Context, ev MembershipEvent)

	listenerMu sync.Mutex
	listener   Listener
	running    bool
	stopCh     chan struct{}
	wg         sync.WaitGroup

	// bgMu orders background goroutine starts against Stop's wait.
	bgMu     sync.Mutex
	bgClosed bool
}

// NewDefaultCarrier creates a carrier for cfg.LocalNode.
func NewDefaultCarrier(cfg Config) (*DefaultCarrier, error) { // A
	if cfg.Logger == nil {
		return nil, errors.New("logger is required")
	}
	if cfg.Transport == nil {
		return nil, errors.New("transport is required")
	}
	if err := cfg.LocalNode.Validate(); err != nil {
		return nil, fmt.Errorf("invalid local node: %w", err)
	}
	cfg.applyDefaults()

	c := &DefaultCarrier{
		config:    cfg,
		log:       cfg.Logger,
		localNode: cfg.LocalNode,
		transport: cfg.Transport,
		nodes:     map[address.PeerID]Node{cfg.LocalNode.NodeID: cfg.LocalNode},
		conns:     make(map[address.PeerID]Connection),
		failures:  make(map[address.PeerID]int),
		handlers:  make(map[MessageType]MessageHandler),
		stopCh:    make(chan struct{}),
	}
	c.registerMembershipHandlers()
	return c, nil
}

// LocalNode returns the local node's identity.
func (c *DefaultCarrier) LocalNode() Node { // A
	return c.localNode
}

// GetNodes returns all known nodes ordered by ID.
func (c *DefaultCarrier) GetNodes(_ context.Context) ([]Node, error) { // A
	c.mu.RLock()
	nodes := make([]Node, 0, len(c.nodes))
	for _, n := range c.nodes {
		nodes = append(nodes, n)
	}
	c.mu.RUnlock()

	slices.SortFunc(nodes, func(a, b Node) int {
		return bytes.Compare(a.NodeID[:], b.NodeID[:])
	})
	return nodes, nil
}

// Node returns the known node with id.
func (c *DefaultCarrier) Node(id address.PeerID) (Node, bool) { // A
	c.mu.RLock()
	defer c.mu.RUnlock()
	n, ok := c.nodes[id]
	return n, ok
}

// OnMembershipChange registers fn for node join and leave events.
func (c *DefaultCarrier) OnMembershipChange(
	fn func(ctx context.Context, ev MembershipEvent),
) { // A
	c.handlersMu.Lock()
	defer c.handlersMu.Unlock()
	c.watchers = append(c.watchers, fn)
}

// notify runs the membership watchers in the background.
func (c *DefaultCarrier) notify(ctx context.Context, ev MembershipEvent) { // A
	c.handlersMu.RLock()
	watchers := slices.Clone(c.watchers)
	c.handlersMu.RUnlock()

	for _, fn := range watchers {
		c.goBackground(func() {
			fn(context.WithoutCancel(ctx), ev)
		})
	}
}

// goBackground runs fn on a goroutine that Stop waits for. It reports
// false and drops fn once Stop has begun.
func (c *DefaultCarrier) goBackground(fn func()) bool { // A
	c.bgMu.Lock()
	defer c.bgMu.Unlock()
	if c.bgClosed {
		return false
	}
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		fn()
	}()
	return true
}

// AddNode adds a node to the known set. A node that was not known before
// produces a join event.
func (c *DefaultCarrier) AddNode(ctx context.Context, node Node) error { // A
	if err := node.Validate(); err != nil {
		return fmt.Errorf("invalid node: %w", err)
	}
	if node.NodeID == c.localNode.NodeID {
		return nil
	}

	c.mu.Lock()
	_, known := c.nodes[node.NodeID]
	c.nodes[node.NodeID] = node
	delete(c.failures, node.NodeID)
	c.mu.Unlock()

	if !known {
		c.log.DebugContext(ctx, "added node",
			logKeyNodeID, node.NodeID.Short())
		c.notify(ctx, MembershipEvent{Node: node})
	}
	return nil
}

// RemoveNode removes a node from the known set and closes its
// connection. A known node produces a leave event.
func (c *DefaultCarrier) RemoveNode(ctx context.Context, nodeID address.PeerID) { // A
	if nodeID == c.localNode.NodeID {
		c.log.WarnContext(ctx, "attempted to remove local node from known nodes")
		return
	}

	c.mu.Lock()
	node, known := c.nodes[nodeID]
	delete(c.nodes, nodeID)
	delete(c.failures, nodeID)
	conn := c.conns[nodeID]
	delete(c.conns, nodeID)
	c.mu.Unlock()

	if conn != nil {
		_ = conn.Close()
	}
	if known {
		c.log.DebugContext(ctx, "removed node",
			logKeyNodeID, nodeID.Short())
		c.notify(ctx, MembershipEvent{Node: node, Removed: true})
	}
}

// recordFailure counts a failed delivery and evicts the node after
// config.EvictAfterFailures consecutive failures.
func (c *DefaultCarrier) recordFailure(ctx context.Context, nodeID address.PeerID) { // A
	c.mu.Lock()
	if _, ok := c.nodes[nodeID]; !ok {
		c.mu.Unlock()
		return
	}
	c.failures[nodeID]++
	n := c.failures[nodeID]
	c.mu.Unlock()

	if n >= c.config.EvictAfterFailures {
		c.log.InfoContext(ctx, "evicting unreachable node",
			logKeyNodeID, nodeID.Short(),
			logKeyFailures, n)
		c.RemoveNode(ctx, nodeID)
	}
}

func (c *DefaultCarrier) recordSuccess(nodeID address.PeerID) { // A
	c.mu.Lock()
	delete(c.failures, nodeID)
	c.mu.Unlock()
}

var _ Carrier = (*DefaultCarrier)(nil)
