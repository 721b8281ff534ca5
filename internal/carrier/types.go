// Package carrier moves messages between mesh nodes. Every message is a
// request on its own QUIC stream and is answered on the same stream.
package carrier

import (
	"errors"
	"fmt"

	"github.com/i5heu/ouroboros-mesh/pkg/address"
)

// MessageType defines the type of message being sent between nodes.
type MessageType uint8 // A

const (
	// MessageTypePutRecord asks a node to validate and store a record.
	MessageTypePutRecord MessageType = iota + 1
	// MessageTypePutRecordResponse answers MessageTypePutRecord.
	MessageTypePutRecordResponse
	// MessageTypeGetRecord asks for a stored record.
	MessageTypeGetRecord
	// MessageTypeGetReplicatedRecord asks a holder for an announced record.
	MessageTypeGetReplicatedRecord
	// MessageTypeGetRecordResponse answers both get requests.
	MessageTypeGetRecordResponse
	// MessageTypeReplicate announces keys the receiver should hold.
	MessageTypeReplicate
	// MessageTypeNodeJoinRequest is sent when a node wants to join.
	MessageTypeNodeJoinRequest
	// MessageTypeNodeLeaveNotification is sent when a node leaves.
	MessageTypeNodeLeaveNotification
	// MessageTypeNodeListResponse responds with the list of known nodes.
	MessageTypeNodeListResponse
	// MessageTypeAck acknowledges a message whose handler had no reply.
	MessageTypeAck
	// MessageTypeError carries a handler error as text.
	MessageTypeError
)

// Slog attribute keys used throughout the carrier package.
const (
	logKeyMessageType  = "messageType"
	logKeyNodeID       = "nodeId"
	logKeyAddress      = "address"
	logKeyError        = "error"
	logKeySuccessCount = "successCount"
	logKeyFailedCount  = "failedCount"
	logKeyAddressCount = "addressCount"
	logKeyNodeCount    = "nodeCount"
	logKeyFailures     = "failures"
)

// messageTypeNames maps MessageType values to their string representations.
var messageTypeNames = map[MessageType]string{ // A
	MessageTypePutRecord:             "PutRecord",
	MessageTypePutRecordResponse:     "PutRecordResponse",
	MessageTypeGetRecord:             "GetRecord",
	MessageTypeGetReplicatedRecord:   "GetReplicatedRecord",
	MessageTypeGetRecordResponse:     "GetRecordResponse",
	MessageTypeReplicate:             "Replicate",
	MessageTypeNodeJoinRequest:       "NodeJoinRequest",
	MessageTypeNodeLeaveNotification: "NodeLeaveNotification",
	MessageTypeNodeListResponse:      "NodeListResponse",
	MessageTypeAck:                   "Ack",
	MessageTypeError:                 "Error",
}

// String returns the string representation of a MessageType.
func (mt MessageType) String() string { // A
	if name, ok := messageTypeNames[mt]; ok {
		return name
	}
	return fmt.Sprintf("Unknown(%d)", mt)
}

// Node is a reachable mesh node.
type Node struct { // A
	// NodeID is the keyspace identity of the node.
	NodeID address.PeerID
	// Addresses are "host:port" endpoints of the node.
	Addresses []string
}

// Validate checks if the Node has valid configuration.
func (n Node) Validate() error { // A
	if n.NodeID.IsZero() {
		return errors.New("node ID cannot be empty")
	}
	if len(n.Addresses) == 0 {
		return errors.New("node must have at least one address")
	}
	return nil
}

// MembershipEvent reports a node joining or leaving the known set.
type MembershipEvent struct { // A
	Node    Node
	Removed bool
}

// BroadcastResult contains the result of a broadcast operation.
type BroadcastResult struct { // A
	// SuccessNodes are nodes that successfully received the message.
	SuccessNodes []Node
	// FailedNodes maps failed nodes to their error.
	FailedNodes map[address.PeerID]error
}

// RemoteError is a handler error reported by the remote node.
type RemoteError struct { // A
	NodeID  address.PeerID
	Message string
}

func (e *RemoteError) Error() string { // A
	return fmt.Sprintf("node %s: %s", e.NodeID.Short(), e.Message)
}

// ErrUnknownNode is returned for messages to nodes not in the known set.
var ErrUnknownNode = errors.New("unknown node")
