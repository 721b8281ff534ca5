package client

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/i5heu/ouroboros-mesh/pkg/address"
	"github.com/i5heu/ouroboros-mesh/pkg/chunker"
	"github.com/i5heu/ouroboros-mesh/pkg/interfaces"
	"github.com/i5heu/ouroboros-mesh/pkg/model"
	"github.com/i5heu/ouroboros-mesh/pkg/network"
	"github.com/i5heu/ouroboros-mesh/pkg/record"
)

// UploadBytes splits data into chunks, stores them and a data map
// listing them, and returns the address of the data map. With a payer
// every chunk is paid for and sent to its payee; without one chunks go
// to their close groups.
func (c *Client) UploadBytes(
	ctx context.Context,
	data []byte,
	payer interfaces.Payer,
) (address.Address, error) { // A
	chunks, err := chunker.ChunkBytes(data)
	if err != nil {
		return address.Address{}, err
	}
	dm := model.DataMap{Size: uint64(len(data)), Chunks: make([]address.Address, len(chunks))}
	for i, ch := range chunks {
		dm.Chunks[i] = ch.Address()
	}
	root, err := dm.Chunk()
	if err != nil {
		return address.Address{}, err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.cfg.UploadConcurrency)
	for _, ch := range append(chunks, root) {
		g.Go(func() error {
			return c.putChunk(gctx, ch, payer)
		})
	}
	if err := g.Wait(); err != nil {
		return address.Address{}, err
	}
	c.log.InfoContext(ctx, "uploaded",
		logKeyKey, root.Address().Short(),
		logKeyChunks, len(chunks))
	return root.Address(), nil
}

func (c *Client) putChunk(ctx context.Context, ch model.Chunk, payer interfaces.Payer) error { // A
	addr := ch.Address()
	cfg := network.PutConfig{Quorum: network.QuorumOne, Retry: network.RetryPersistent}

	var rec record.Record
	var err error
	if payer == nil {
		rec, err = ch.Record()
	} else {
		var payment model.Payment
		payment, err = payer.Pay(ctx, addr, len(ch.Value))
		if err != nil {
			return fmt.Errorf("pay for chunk %s: %w", addr.Short(), err)
		}
		cp := model.ChunkWithPayment{Payment: payment, Chunk: ch}
		rec, err = record.New(addr, &cp, record.KindChunkWithPayment)
		cfg.UsePutRecordTo = []address.PeerID{payment.Payee}
	}
	if err != nil {
		return err
	}
	if err := c.net.Put(ctx, rec, cfg); err != nil {
		return fmt.Errorf("store chunk %s: %w", addr.Short(), err)
	}
	return nil
}

// DownloadBytes reads the data map at addr and reassembles the content
// it lists.
func (c *Client) DownloadBytes(ctx context.Context, addr address.Address) ([]byte, error) { // A
	root, err := c.GetChunk(ctx, addr)
	if err != nil {
		return nil, err
	}
	var dm model.DataMap
	if err := dm.UnmarshalPayload(root.Value); err != nil {
		return nil, fmt.Errorf("data map %s: %w", addr.Short(), err)
	}

	parts := make([][]byte, len(dm.Chunks))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.cfg.UploadConcurrency)
	for i, a := range dm.Chunks {
		g.Go(func() error {
			ch, err := c.GetChunk(gctx, a)
			parts[i] = ch.Value
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	out := make([]byte, 0, dm.Size)
	for _, p := range parts {
		out = append(out, p...)
	}
	if uint64(len(out)) != dm.Size {
		return nil, fmt.Errorf("data map %s: got %d bytes, want %d", addr.Short(), len(out), dm.Size)
	}
	return out, nil
}

// GetChunk reads one chunk and checks that its content hashes to addr.
func (c *Client) GetChunk(ctx context.Context, addr address.Address) (model.Chunk, error) { // A
	want := record.ChunkType()
	rec, err := c.net.Get(ctx, addr, network.GetConfig{
		Quorum:       network.QuorumOne,
		Retry:        network.RetryPersistent,
		ExpectedType: &want,
	})
	if err != nil {
		return model.Chunk{}, fmt.Errorf("get chunk %s: %w", addr.Short(), err)
	}
	f, err := rec.Frame()
	if err != nil {
		return model.Chunk{}, err
	}
	var ch model.Chunk
	if err := f.Parse(&ch); err != nil {
		return model.Chunk{}, err
	}
	if ch.Address() != addr {
		return model.Chunk{}, fmt.Errorf("chunk %s: content hashes elsewhere", addr.Short())
	}
	return ch, nil
}
