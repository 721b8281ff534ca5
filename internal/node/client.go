package node

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/i5heu/ouroboros-mesh/internal/carrier"
	"github.com/i5heu/ouroboros-mesh/internal/validation"
	"github.com/i5heu/ouroboros-mesh/pkg/address"
	"github.com/i5heu/ouroboros-mesh/pkg/interfaces"
	"github.com/i5heu/ouroboros-mesh/pkg/record"
)

// PeerClient issues record requests to single peers over the carrier.
// Requests addressed to the local peer are served from the local store
// and acceptor without touching the carrier.
type PeerClient struct { // A
	carrier  carrier.Carrier
	store    interfaces.RecordStore
	acceptor interfaces.RecordAcceptor
	log      *slog.Logger
}

// NewPeerClient returns a client sending through c.
func NewPeerClient(
	c carrier.Carrier,
	store interfaces.RecordStore,
	acceptor interfaces.RecordAcceptor,
	logger *slog.Logger,
) *PeerClient { // A
	return &PeerClient{carrier: c, store: store, acceptor: acceptor, log: logger}
}

func (c *PeerClient) self() address.PeerID { // A
	return c.carrier.LocalNode().NodeID
}

// request sends a message of type t with payload v and decodes a reply
// of type want into out.
func (c *PeerClient) request(
	ctx context.Context,
	peer address.PeerID,
	t carrier.MessageType,
	v any,
	want carrier.MessageType,
	out any,
) error { // A
	msg, err := carrier.NewMessage(t, v)
	if err != nil {
		return err
	}
	reply, err := c.carrier.Request(ctx, peer, msg)
	if err != nil {
		return err
	}
	if reply.Type != want {
		return fmt.Errorf("peer %s answered %s with %s", peer.Short(), t, reply.Type)
	}
	return reply.Decode(out)
}

func (c *PeerClient) PutRecord(
	ctx context.Context,
	peer address.PeerID,
	rec record.Record,
) error { // A
	if peer == c.self() {
		return putStatusError(peer, rec.Key, statusOf(c.acceptor.Accept(ctx, rec)))
	}

	var resp interfaces.PutRecordResponse
	err := c.request(ctx, peer,
		carrier.MessageTypePutRecord, interfaces.PutRecordRequest{Key: rec.Key, Value: rec.Value},
		carrier.MessageTypePutRecordResponse, &resp)
	if err != nil {
		return err
	}
	return putStatusError(peer, rec.Key, resp)
}

func (c *PeerClient) GetRecord(
	ctx context.Context,
	peer address.PeerID,
	key address.Address,
) (record.Record, error) { // A
	if peer == c.self() {
		return c.store.Get(ctx, key)
	}
	return c.get(ctx, peer, key,
		carrier.MessageTypeGetRecord, interfaces.GetRecordRequest{Key: key})
}

func (c *PeerClient) GetReplicatedRecord(
	ctx context.Context,
	holder address.PeerID,
	requester address.PeerID,
	key address.Address,
) (record.Record, error) { // A
	if holder == c.self() {
		return c.store.Get(ctx, key)
	}
	return c.get(ctx, holder, key,
		carrier.MessageTypeGetReplicatedRecord,
		interfaces.GetReplicatedRecordRequest{Requester: requester, Key: key})
}

func (c *PeerClient) get(
	ctx context.Context,
	peer address.PeerID,
	key address.Address,
	t carrier.MessageType,
	req any,
) (record.Record, error) { // A
	var resp interfaces.GetRecordResponse
	if err := c.request(ctx, peer, t, req, carrier.MessageTypeGetRecordResponse, &resp); err != nil {
		return record.Record{}, err
	}
	if resp.Holder != peer {
		return record.Record{}, fmt.Errorf("peer %s answered as %s", peer.Short(), resp.Holder.Short())
	}
	if !resp.Found {
		return record.Record{}, fmt.Errorf("peer %s: %w", peer.Short(), interfaces.ErrRecordNotHeld)
	}
	return record.Record{Key: key, Value: resp.Value}, nil
}

// NotifyReplicate sends notice without waiting for the outcome.
func (c *PeerClient) NotifyReplicate(
	ctx context.Context,
	to address.PeerID,
	notice interfaces.ReplicateNotice,
) { // A
	msg, err := carrier.NewMessage(carrier.MessageTypeReplicate, notice)
	if err != nil {
		c.log.WarnContext(ctx, "failed to encode replicate notice",
			logKeyPeer, to.Short(),
			logKeyError, err)
		return
	}
	c.carrier.SendIgnoreReply(ctx, to, msg)
}

// statusOf classifies the outcome of a local accept.
func statusOf(err error) interfaces.PutRecordResponse { // A
	switch {
	case err == nil:
		return interfaces.PutRecordResponse{Status: interfaces.PutStored}
	case errors.Is(err, validation.ErrConflict):
		return interfaces.PutRecordResponse{Status: interfaces.PutConflict, Reason: err.Error()}
	default:
		return interfaces.PutRecordResponse{Status: interfaces.PutRejected, Reason: err.Error()}
	}
}

func putStatusError(
	peer address.PeerID,
	key address.Address,
	resp interfaces.PutRecordResponse,
) error { // A
	switch resp.Status {
	case interfaces.PutStored:
		return nil
	case interfaces.PutConflict:
		return &interfaces.PutConflictError{Key: key, Peer: peer}
	case interfaces.PutRejected:
		return fmt.Errorf("peer %s: %w: %s", peer.Short(), interfaces.ErrRecordRejected, resp.Reason)
	}
	return fmt.Errorf("peer %s answered put with status %d", peer.Short(), resp.Status)
}

var (
	_ interfaces.PeerClient        = (*PeerClient)(nil)
	_ interfaces.ReplicateNotifier = (*PeerClient)(nil)
)
