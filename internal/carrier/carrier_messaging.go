package carrier

import (
	"context"
	"fmt"
	"sync"

	"github.com/i5heu/ouroboros-mesh/pkg/address"
)

// Request sends msg to a known node and returns its reply. Error replies
// are returned as *RemoteError.
func (c *DefaultCarrier) Request(
	ctx context.Context,
	nodeID address.PeerID,
	msg Message,
) (Message, error) { // A
	c.mu.RLock()
	node, ok := c.nodes[nodeID]
	c.mu.RUnlock()
	if !ok || nodeID == c.localNode.NodeID {
		return Message{}, fmt.Errorf("%w: %s", ErrUnknownNode, nodeID.Short())
	}

	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.config.RequestTimeout)
		defer cancel()
	}

	reply, err := c.requestNode(ctx, node, msg)
	if err != nil {
		c.recordFailure(ctx, nodeID)
		return Message{}, fmt.Errorf("%s to node %s: %w", msg.Type, nodeID.Short(), err)
	}
	c.recordSuccess(nodeID)

	if reply.Type == MessageTypeError {
		return Message{}, &RemoteError{NodeID: nodeID, Message: string(reply.Payload)}
	}
	return reply, nil
}

// SendMessageToNode sends msg and waits until the node handled it.
func (c *DefaultCarrier) SendMessageToNode(
	ctx context.Context,
	nodeID address.PeerID,
	msg Message,
) error { // A
	_, err := c.Request(ctx, nodeID, msg)
	return err
}

// SendIgnoreReply sends msg in the background. The caller never learns
// whether it arrived; failures are logged at debug level.
func (c *DefaultCarrier) SendIgnoreReply(
	ctx context.Context,
	nodeID address.PeerID,
	msg Message,
) { // A
	started := c.goBackground(func() {
		if err := c.SendMessageToNode(context.WithoutCancel(ctx), nodeID, msg); err != nil {
			c.log.DebugContext(ctx, "fire and forget message not delivered",
				logKeyNodeID, nodeID.Short(),
				logKeyMessageType, msg.Type.String(),
				logKeyError, err)
		}
	})
	if !started {
		c.log.DebugContext(ctx, "carrier stopping, message dropped",
			logKeyNodeID, nodeID.Short(),
			logKeyMessageType, msg.Type.String())
	}
}

// Broadcast sends a message to all known remote nodes in parallel.
func (c *DefaultCarrier) Broadcast(
	ctx context.Context,
	msg Message,
) (*BroadcastResult, error) { // A
	nodes, err := c.GetNodes(ctx)
	if err != nil {
		return nil, err
	}

	result := &BroadcastResult{
		SuccessNodes: make([]Node, 0, len(nodes)),
		FailedNodes:  make(map[address.PeerID]error),
	}

	var wg sync.WaitGroup
	var resultMu sync.Mutex
	for _, node := range nodes {
		if node.NodeID == c.localNode.NodeID {
			continue
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := c.SendMessageToNode(ctx, node.NodeID, msg)

			resultMu.Lock()
			defer resultMu.Unlock()
			if err != nil {
				result.FailedNodes[node.NodeID] = err
				return
			}
			result.SuccessNodes = append(result.SuccessNodes, node)
		}()
	}
	wg.Wait()

	c.log.DebugContext(ctx, "broadcast complete",
		logKeyMessageType, msg.Type.String(),
		logKeySuccessCount, len(result.SuccessNodes),
		logKeyFailedCount, len(result.FailedNodes))

	return result, nil
}

// requestNode sends msg over the cached connection to node, dialing a
// new one when there is none or the cached one broke.
func (c *DefaultCarrier) requestNode(
	ctx context.Context,
	node Node,
	msg Message,
) (Message, error) { // A
	c.mu.RLock()
	conn := c.conns[node.NodeID]
	c.mu.RUnlock()

	if conn != nil {
		reply, err := conn.Request(ctx, msg)
		if err == nil {
			return reply, nil
		}
		c.log.DebugContext(ctx, "cached connection failed, redialing",
			logKeyNodeID, node.NodeID.Short(),
			logKeyError, err)
		c.dropConn(node.NodeID, conn)
	}

	conn, err := c.dial(ctx, node)
	if err != nil {
		return Message{}, err
	}
	reply, err := conn.Request(ctx, msg)
	if err != nil {
		c.dropConn(node.NodeID, conn)
		return Message{}, err
	}
	return reply, nil
}

// dial connects to the first reachable address of node.
func (c *DefaultCarrier) dial(ctx context.Context, node Node) (Connection, error) { // A
	var lastErr error
	for _, addr := range node.Addresses {
		conn, err := c.transport.Connect(ctx, addr)
		if err != nil {
			lastErr = err
			c.log.DebugContext(ctx, "failed to connect to address",
				logKeyNodeID, node.NodeID.Short(),
				logKeyAddress, addr,
				logKeyError, err)
			continue
		}
		if conn.RemoteNodeID() != node.NodeID {
			_ = conn.Close()
			lastErr = fmt.Errorf("%s answered as node %s", addr, conn.RemoteNodeID().Short())
			continue
		}

		c.mu.Lock()
		if old := c.conns[node.NodeID]; old != nil {
			_ = old.Close()
		}
		c.conns[node.NodeID] = conn
		c.mu.Unlock()
		return conn, nil
	}
	return nil, fmt.Errorf("connect node %s: %w", node.NodeID.Short(), lastErr)
}

func (c *DefaultCarrier) dropConn(nodeID address.PeerID, conn Connection) { // A
	c.mu.Lock()
	if c.conns[nodeID] == conn {
		delete(c.conns, nodeID)
	}
	c.mu.Unlock()
	_ = conn.Close()
}
