// Package interfaces defines the abstractions shared between the quorum
// transport, the replication engine, the record validator and the
// client: the peer view, the local record store and the per-peer
// request client.
package interfaces

import (
	"context"
	"errors"
	"fmt"

	"github.com/i5heu/ouroboros-mesh/pkg/address"
	"github.com/i5heu/ouroboros-mesh/pkg/record"
)

var (
	// ErrRecordNotHeld is returned by a peer or the local store when the
	// key is not stored.
	ErrRecordNotHeld = errors.New("record not held")
	// ErrRecordRejected is returned by a peer that refused to store a
	// record for a reason other than a conflict.
	ErrRecordRejected = errors.New("record rejected")
)

// PutConflictError is returned by a peer that already stores a different
// value under the key and cannot merge the two.
type PutConflictError struct { // A
	Key  address.Address
	Peer address.PeerID
}

func (e *PutConflictError) Error() string { // A
	return fmt.Sprintf(
		"peer %s holds a conflicting record at %s",
		e.Peer.Short(), e.Key.Short(),
	)
}

// PeerView exposes the locally known routing table.
type PeerView interface { // A
	// LocalPeerID is the identity of the local peer.
	LocalPeerID() address.PeerID
	// AllPeers returns every known peer including the local one.
	AllPeers(ctx context.Context) ([]address.PeerID, error)
	// ClosestPeers returns the close group of addr from the known peers,
	// ordered by distance. The local peer is left out unless includeSelf.
	ClosestPeers(
		ctx context.Context,
		addr address.Address,
		includeSelf bool,
	) ([]address.PeerID, error)
}

// RecordStore is the local persistent record store.
type RecordStore interface { // A
	Put(ctx context.Context, rec record.Record) error
	// Get returns ErrRecordNotHeld when key is absent.
	Get(ctx context.Context, key address.Address) (record.Record, error)
	Contains(ctx context.Context, key address.Address) (bool, error)
	// Addresses lists every stored key with its record type.
	Addresses(ctx context.Context) (map[address.Address]record.RecordType, error)
}

// PeerClient issues single-peer requests.
type PeerClient interface { // A
	// PutRecord asks peer to validate and store rec. A conflict is
	// reported as *PutConflictError.
	PutRecord(ctx context.Context, peer address.PeerID, rec record.Record) error
	// GetRecord returns ErrRecordNotHeld when peer does not store key.
	GetRecord(
		ctx context.Context,
		peer address.PeerID,
		key address.Address,
	) (record.Record, error)
	// GetReplicatedRecord asks holder for a record it announced.
	GetReplicatedRecord(
		ctx context.Context,
		holder address.PeerID,
		requester address.PeerID,
		key address.Address,
	) (record.Record, error)
}

// ReplicateNotifier delivers fire-and-forget replication notices.
// Delivery failures are logged by the implementation and never surface.
type ReplicateNotifier interface { // A
	NotifyReplicate(ctx context.Context, to address.PeerID, notice ReplicateNotice)
}

// RecordAcceptor validates a record and stores it if acceptable.
type RecordAcceptor interface { // A
	Accept(ctx context.Context, rec record.Record) error
}
