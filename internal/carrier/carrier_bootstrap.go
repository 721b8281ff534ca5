package carrier

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"

	"github.com/i5heu/ouroboros-mesh/pkg/interfaces"
)

// Bootstrap joins the mesh through the configured bootstrap addresses.
// Without any the node starts as a standalone mesh.
func (c *DefaultCarrier) Bootstrap(ctx context.Context) error { // A
	if len(c.config.BootstrapAddresses) == 0 {
		c.log.InfoContext(
			ctx,
			"no bootstrap addresses configured, starting as standalone",
		)
		return nil
	}
	return c.BootstrapFromAddresses(ctx, c.config.BootstrapAddresses)
}

// BootstrapFromAddresses joins the mesh through the first address that
// answers a join request. Addresses are "host:port" or "host", in which
// case the configured default port is used. Every node the bootstrap node
// knows is added and sent a join request of its own.
func (c *DefaultCarrier) BootstrapFromAddresses( // A
	ctx context.Context,
	addresses []string,
) error {
	if len(addresses) == 0 {
		return errors.New("no bootstrap addresses provided")
	}

	c.log.InfoContext(ctx, "bootstrapping mesh from addresses",
		logKeyAddressCount, len(addresses))

	joinMsg, err := NewMessage(MessageTypeNodeJoinRequest, nodeInfo(c.localNode))
	if err != nil {
		return err
	}

	var lastErr error
	for _, addr := range addresses {
		addr = normalizeAddress(addr, c.config.DefaultPort)

		nodes, err := c.joinVia(ctx, addr, joinMsg)
		if err != nil {
			lastErr = err
			c.log.DebugContext(ctx, "bootstrap attempt failed",
				logKeyAddress, addr,
				logKeyError, err)
			continue
		}

		c.greet(ctx, nodes, joinMsg)
		c.log.InfoContext(ctx, "bootstrapped from address",
			logKeyAddress, addr,
			logKeyNodeCount, len(nodes))
		return nil
	}

	return fmt.Errorf("failed to bootstrap from any address: %w", lastErr)
}

// joinVia sends the join request to addr, adds the answering node under
// addr and returns the nodes it listed.
func (c *DefaultCarrier) joinVia(
	ctx context.Context,
	addr string,
	joinMsg Message,
) ([]Node, error) { // A
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.config.RequestTimeout)
		defer cancel()
	}

	conn, err := c.transport.Connect(ctx, addr)
	if err != nil {
		return nil, fmt.Errorf("connect %s: %w", addr, err)
	}
	remoteID := conn.RemoteNodeID()
	if remoteID == c.localNode.NodeID {
		_ = conn.Close()
		return nil, fmt.Errorf("%s is the local node", addr)
	}

	nodes, err := requestNodeList(ctx, conn, joinMsg)
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("join via %s: %w", addr, err)
	}

	if err := c.AddNode(ctx, Node{NodeID: remoteID, Addresses: []string{addr}}); err != nil {
		_ = conn.Close()
		return nil, err
	}
	c.mu.Lock()
	if old := c.conns[remoteID]; old != nil {
		_ = old.Close()
	}
	c.conns[remoteID] = conn
	c.mu.Unlock()

	others := nodes[:0]
	for _, n := range nodes {
		if n.NodeID != remoteID && n.NodeID != c.localNode.NodeID {
			others = append(others, n)
		}
	}
	return others, nil
}

// greet adds the listed nodes and introduces the local node to each.
func (c *DefaultCarrier) greet(ctx context.Context, nodes []Node, joinMsg Message) { // A
	for _, n := range nodes {
		if err := c.AddNode(ctx, n); err != nil {
			c.log.DebugContext(ctx, "skipping listed node",
				logKeyNodeID, n.NodeID.Short(),
				logKeyError, err)
			continue
		}
	}
	for _, n := range nodes {
		if err := c.SendMessageToNode(ctx, n.NodeID, joinMsg); err != nil {
			c.log.WarnContext(ctx, "failed to introduce local node",
				logKeyNodeID, n.NodeID.Short(),
				logKeyError, err)
		}
	}
}

func requestNodeList(ctx context.Context, conn Connection, joinMsg Message) ([]Node, error) { // A
	reply, err := conn.Request(ctx, joinMsg)
	if err != nil {
		return nil, err
	}
	switch reply.Type {
	case MessageTypeNodeListResponse:
	case MessageTypeError:
		return nil, &RemoteError{NodeID: conn.RemoteNodeID(), Message: string(reply.Payload)}
	default:
		return nil, fmt.Errorf("unexpected response type: %s", reply.Type)
	}

	var list interfaces.NodeListResponse
	if err := reply.Decode(&list); err != nil {
		return nil, err
	}
	nodes := make([]Node, 0, len(list.Nodes))
	for _, info := range list.Nodes {
		nodes = append(nodes, nodeFromInfo(info))
	}
	return nodes, nil
}

// normalizeAddress appends defaultPort to addr when it has none.
func normalizeAddress(addr string, defaultPort uint16) string { // A
	if _, _, err := net.SplitHostPort(addr); err == nil {
		return addr
	}
	return net.JoinHostPort(strings.Trim(addr, "[]"), strconv.Itoa(int(defaultPort)))
}
