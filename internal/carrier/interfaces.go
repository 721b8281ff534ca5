package carrier

import (
	"context"

	"github.com/i5heu/ouroboros-mesh/pkg/address"
)

// MessageHandler handles an incoming message. A nil response is
// answered with an Ack; an error is answered with an Error message.
type MessageHandler func(
	ctx context.Context,
	senderID address.PeerID,
	msg Message,
) (*Message, error) // A

// Carrier defines the interface for inter-node communication.
type Carrier interface { // A
	// LocalNode returns the local node's identity.
	LocalNode() Node
	// GetNodes returns all known nodes, the local one included.
	GetNodes(ctx context.Context) ([]Node, error)
	// Request sends msg to a node and waits for its reply.
	Request(ctx context.Context, nodeID address.PeerID, msg Message) (Message, error)
	// SendMessageToNode sends msg and only checks that it was handled.
	SendMessageToNode(ctx context.Context, nodeID address.PeerID, msg Message) error
	// SendIgnoreReply sends msg in the background. Failures are logged.
	SendIgnoreReply(ctx context.Context, nodeID address.PeerID, msg Message)
	// Broadcast sends a message to all known remote nodes.
	Broadcast(ctx context.Context, msg Message) (*BroadcastResult, error)
	// RegisterHandler sets the handler for a message type.
	RegisterHandler(msgType MessageType, handler MessageHandler)
	// OnMembershipChange registers fn for node join and leave events.
	OnMembershipChange(fn func(ctx context.Context, ev MembershipEvent))
	// BootstrapFromAddresses joins the mesh through the first reachable
	// address.
	BootstrapFromAddresses(ctx context.Context, addresses []string) error
	// LeaveCluster notifies the known nodes that this node is leaving.
	LeaveCluster(ctx context.Context) error
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}

// Transport defines the low-level network operations for the carrier.
// The default implementation uses QUIC.
type Transport interface { // A
	// Connect establishes a connection and exchanges node IDs.
	Connect(ctx context.Context, address string) (Connection, error)
	// Listen starts accepting incoming connections on address.
	Listen(ctx context.Context, address string) (Listener, error)
	// Close closes the transport and releases any resources.
	Close() error
}

// Listener accepts incoming connections from remote nodes.
type Listener interface { // A
	Accept(ctx context.Context) (Connection, error)
	Addr() string
	Close() error
}

// Responder answers one incoming request.
type Responder func(ctx context.Context, reply Message) error // A

// Connection represents a network connection to another node.
type Connection interface { // A
	// Request sends msg on a new stream and reads the reply from it.
	Request(ctx context.Context, msg Message) (Message, error)
	// AcceptRequest waits for the next incoming request.
	AcceptRequest(ctx context.Context) (Message, Responder, error)
	// Close terminates the connection.
	Close() error
	// RemoteNodeID returns the ID of the connected node.
	RemoteNodeID() address.PeerID
}
