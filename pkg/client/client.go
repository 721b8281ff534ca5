// Package client is the user-facing side of the mesh: it settles spends,
// receives transfers, keeps registers and uploads files through the
// quorum network.
package client

import (
	"context"
	"errors"
	"log/slog"

	"github.com/i5heu/ouroboros-mesh/pkg/address"
	"github.com/i5heu/ouroboros-mesh/pkg/network"
	"github.com/i5heu/ouroboros-mesh/pkg/record"
)

// Slog attribute keys used by the client package.
const (
	logKeyKey     = "key"
	logKeyKeys    = "keys"
	logKeyAmount  = "amount"
	logKeyChunks  = "chunks"
	logKeyCounter = "counter"
)

// Network is the quorum network the client talks through.
// *network.Network implements it.
type Network interface { // A
	Put(ctx context.Context, rec record.Record, cfg network.PutConfig) error
	Get(ctx context.Context, key address.Address, cfg network.GetConfig) (record.Record, error)
}

// Config configures a Client.
type Config struct { // A
	// UploadConcurrency bounds parallel chunk puts and gets. Zero means
	// DefaultUploadConcurrency.
	UploadConcurrency int
}

const DefaultUploadConcurrency = 8

// Client issues user operations against the network.
type Client struct { // A
	net Network
	cfg Config
	log *slog.Logger
}

// New returns a client using net.
func New(net Network, cfg Config, logger *slog.Logger) (*Client, error) { // A
	if net == nil {
		return nil, errors.New("client: network is required")
	}
	if logger == nil {
		return nil, errors.New("client: logger is required")
	}
	if cfg.UploadConcurrency <= 0 {
		cfg.UploadConcurrency = DefaultUploadConcurrency
	}
	return &Client{net: net, cfg: cfg, log: logger}, nil
}

var _ Network = (*network.Network)(nil)
