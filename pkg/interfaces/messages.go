package interfaces

import (
	"github.com/i5heu/ouroboros-mesh/pkg/address"
	"github.com/i5heu/ouroboros-mesh/pkg/record"
)

// ReplicateEntry is one announced key with the type of the holder's copy.
type ReplicateEntry struct { // A
	Key  address.Address
	Type record.RecordType
}

// ReplicateNotice announces records the holder stores that the recipient
// should also hold.
type ReplicateNotice struct { // A
	Holder  address.PeerID
	Entries []ReplicateEntry
}

func (n ReplicateNotice) Keys() []address.Address { // A
	out := make([]address.Address, len(n.Entries))
	for i, e := range n.Entries {
		out[i] = e.Key
	}
	return out
}

// PutRecordRequest carries a framed record to store.
type PutRecordRequest struct { // A
	Key   address.Address
	Value []byte
}

// PutStatus is the outcome of a peer-side put.
type PutStatus uint8 // A

const (
	PutStored PutStatus = iota + 1
	PutConflict
	PutRejected
)

// PutRecordResponse answers a PutRecordRequest.
type PutRecordResponse struct { // A
	Status PutStatus
	Reason string
}

// GetRecordRequest asks for the record stored at Key.
type GetRecordRequest struct { // A
	Key address.Address
}

// GetRecordResponse answers GetRecordRequest and
// GetReplicatedRecordRequest. Holder is the answering peer. Found is
// false when the peer has no record.
type GetRecordResponse struct { // A
	Holder address.PeerID
	Found  bool
	Value  []byte
}

// GetReplicatedRecordRequest asks a holder for a record it announced.
type GetReplicatedRecordRequest struct { // A
	Requester address.PeerID
	Key       address.Address
}

// NodeInfo describes a reachable peer.
type NodeInfo struct { // A
	PeerID    address.PeerID
	Addresses []string
}

// NodeListResponse answers a join request with the known peers.
type NodeListResponse struct { // A
	Nodes []NodeInfo
}
