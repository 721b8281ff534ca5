package carrier

import (
	"context"
	"fmt"

	"github.com/i5heu/ouroboros-mesh/pkg/address"
	"github.com/i5heu/ouroboros-mesh/pkg/interfaces"
)

func (c *DefaultCarrier) registerMembershipHandlers() { // A
	c.RegisterHandler(MessageTypeNodeJoinRequest, c.handleJoinRequest)
	c.RegisterHandler(MessageTypeNodeLeaveNotification, c.handleLeaveNotification)
}

// handleJoinRequest adds the sender and answers with every known node.
func (c *DefaultCarrier) handleJoinRequest(
	ctx context.Context,
	senderID address.PeerID,
	msg Message,
) (*Message, error) { // A
	var info interfaces.NodeInfo
	if err := msg.Decode(&info); err != nil {
		return nil, err
	}
	if info.PeerID != senderID {
		return nil, fmt.Errorf("join request for %s sent by %s",
			info.PeerID.Short(), senderID.Short())
	}
	if err := c.AddNode(ctx, nodeFromInfo(info)); err != nil {
		return nil, err
	}

	nodes, err := c.GetNodes(ctx)
	if err != nil {
		return nil, err
	}
	list := interfaces.NodeListResponse{Nodes: make([]interfaces.NodeInfo, 0, len(nodes))}
	for _, n := range nodes {
		list.Nodes = append(list.Nodes, nodeInfo(n))
	}

	reply, err := NewMessage(MessageTypeNodeListResponse, list)
	if err != nil {
		return nil, err
	}
	return &reply, nil
}

func (c *DefaultCarrier) handleLeaveNotification(
	ctx context.Context,
	senderID address.PeerID,
	_ Message,
) (*Message, error) { // A
	c.log.InfoContext(ctx, "node left the mesh",
		logKeyNodeID, senderID.Short())
	c.RemoveNode(ctx, senderID)
	return nil, nil
}

// LeaveCluster notifies the known nodes that this node is leaving and
// forgets them.
func (c *DefaultCarrier) LeaveCluster(ctx context.Context) error { // A
	c.log.InfoContext(ctx, "leaving mesh",
		logKeyNodeID, c.localNode.NodeID.Short())

	result, err := c.Broadcast(ctx, Message{Type: MessageTypeNodeLeaveNotification})
	if err != nil {
		return fmt.Errorf("failed to broadcast leave notification: %w", err)
	}
	if len(result.FailedNodes) > 0 {
		c.log.WarnContext(ctx, "some nodes did not receive leave notification",
			logKeyFailedCount, len(result.FailedNodes))
	}

	c.mu.Lock()
	conns := c.conns
	c.nodes = map[address.PeerID]Node{c.localNode.NodeID: c.localNode}
	c.conns = make(map[address.PeerID]Connection)
	c.failures = make(map[address.PeerID]int)
	c.mu.Unlock()
	for _, conn := range conns {
		_ = conn.Close()
	}

	c.log.InfoContext(ctx, "left mesh")
	return nil
}

func nodeInfo(n Node) interfaces.NodeInfo { // A
	return interfaces.NodeInfo{PeerID: n.NodeID, Addresses: n.Addresses}
}

func nodeFromInfo(info interfaces.NodeInfo) Node { // A
	return Node{NodeID: info.PeerID, Addresses: info.Addresses}
}
