package node

import (
	"context"
	"errors"
	"fmt"

	"github.com/i5heu/ouroboros-mesh/internal/carrier"
	"github.com/i5heu/ouroboros-mesh/pkg/address"
	"github.com/i5heu/ouroboros-mesh/pkg/interfaces"
	"github.com/i5heu/ouroboros-mesh/pkg/record"
)

func (n *Node) registerHandlers() { // A
	n.carrier.RegisterHandler(carrier.MessageTypePutRecord, n.handlePutRecord)
	n.carrier.RegisterHandler(carrier.MessageTypeGetRecord, n.handleGetRecord)
	n.carrier.RegisterHandler(carrier.MessageTypeGetReplicatedRecord, n.handleGetReplicatedRecord)
	n.carrier.RegisterHandler(carrier.MessageTypeReplicate, n.handleReplicate)
}

// handlePutRecord validates and stores the record. Rejections are part
// of the reply, not handler errors.
func (n *Node) handlePutRecord(
	ctx context.Context,
	sender address.PeerID,
	msg carrier.Message,
) (*carrier.Message, error) { // A
	var req interfaces.PutRecordRequest
	if err := msg.Decode(&req); err != nil {
		return nil, err
	}
	resp := statusOf(n.acceptor.Accept(ctx, record.Record{Key: req.Key, Value: req.Value}))
	if resp.Status != interfaces.PutStored {
		n.log.DebugContext(ctx, "refused record",
			logKeyPeer, sender.Short(),
			logKeyError, resp.Reason)
	}
	return reply(carrier.MessageTypePutRecordResponse, resp)
}

func (n *Node) handleGetRecord(
	ctx context.Context,
	_ address.PeerID,
	msg carrier.Message,
) (*carrier.Message, error) { // A
	var req interfaces.GetRecordRequest
	if err := msg.Decode(&req); err != nil {
		return nil, err
	}
	return n.serveRecord(ctx, req.Key)
}

// handleGetReplicatedRecord serves a record this node announced. The
// requester named in the request must be the sender.
func (n *Node) handleGetReplicatedRecord(
	ctx context.Context,
	sender address.PeerID,
	msg carrier.Message,
) (*carrier.Message, error) { // A
	var req interfaces.GetReplicatedRecordRequest
	if err := msg.Decode(&req); err != nil {
		return nil, err
	}
	if req.Requester != sender {
		return nil, fmt.Errorf("replicated record requested for %s by %s",
			req.Requester.Short(), sender.Short())
	}
	return n.serveRecord(ctx, req.Key)
}

func (n *Node) serveRecord(ctx context.Context, key address.Address) (*carrier.Message, error) { // A
	rec, err := n.store.Get(ctx, key)
	switch {
	case errors.Is(err, interfaces.ErrRecordNotHeld):
		return reply(carrier.MessageTypeGetRecordResponse, interfaces.GetRecordResponse{Holder: n.id})
	case err != nil:
		return nil, err
	}
	return reply(carrier.MessageTypeGetRecordResponse,
		interfaces.GetRecordResponse{Holder: n.id, Found: true, Value: rec.Value})
}

// handleReplicate queues the announced keys this node lacks and starts
// fetching them. The sender is only acknowledged; the fetch outcome is
// never reported back.
func (n *Node) handleReplicate(
	ctx context.Context,
	sender address.PeerID,
	msg carrier.Message,
) (*carrier.Message, error) { // A
	var notice interfaces.ReplicateNotice
	if err := msg.Decode(&notice); err != nil {
		return nil, err
	}
	if notice.Holder != sender {
		return nil, fmt.Errorf("replicate notice for holder %s sent by %s",
			notice.Holder.Short(), sender.Short())
	}

	queued, err := n.fetcher.Enqueue(ctx, notice.Holder, notice.Entries)
	if err != nil {
		return nil, err
	}
	n.log.DebugContext(ctx, "replicate notice received",
		logKeyPeer, sender.Short(),
		logKeyKeys, len(notice.Entries),
		logKeyQueued, queued)
	if queued > 0 {
		n.drain()
	}
	return nil, nil
}

func reply(t carrier.MessageType, v any) (*carrier.Message, error) { // A
	msg, err := carrier.NewMessage(t, v)
	if err != nil {
		return nil, err
	}
	return &msg, nil
}
