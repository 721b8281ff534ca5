package network

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/avast/retry-go/v4"

	"github.com/i5heu/ouroboros-mesh/pkg/address"
	"github.com/i5heu/ouroboros-mesh/pkg/interfaces"
)

// Slog attribute keys used throughout the network package.
const (
	logKeyKey      = "key"
	logKeyPeer     = "peer"
	logKeyQuorum   = "quorum"
	logKeyAttempt  = "attempt"
	logKeyError    = "error"
	logKeyPeers    = "peers"
	logKeyAcks     = "acks"
	logKeyValues   = "values"
	logKeyRequired = "required"
)

// Network performs quorum operations through a PeerClient.
type Network struct { // A
	cfg    Config
	view   interfaces.PeerView
	client interfaces.PeerClient
	log    *slog.Logger
}

// New creates a Network. Zero fields of cfg fall back to DefaultConfig.
func New(
	cfg Config,
	view interfaces.PeerView,
	client interfaces.PeerClient,
	logger *slog.Logger,
) (*Network, error) { // A
	if view == nil {
		return nil, errors.New("network: peer view is required")
	}
	if client == nil {
		return nil, errors.New("network: peer client is required")
	}
	if logger == nil {
		return nil, errors.New("network: logger is required")
	}
	def := DefaultConfig()
	if cfg.CloseGroupSize <= 0 {
		cfg.CloseGroupSize = def.CloseGroupSize
	}
	if cfg.PersistentAttempts == 0 {
		cfg.PersistentAttempts = def.PersistentAttempts
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = def.RetryDelay
	}
	if cfg.MaxRetryDelay <= 0 {
		cfg.MaxRetryDelay = def.MaxRetryDelay
	}
	return &Network{cfg: cfg, view: view, client: client, log: logger}, nil
}

// CloseGroupSize returns the configured close group size.
func (n *Network) CloseGroupSize() int { // A
	return n.cfg.CloseGroupSize
}

// GetClosestPeers returns the close group of addr, excluding the local
// peer.
func (n *Network) GetClosestPeers(
	ctx context.Context,
	addr address.Address,
) ([]address.PeerID, error) { // A
	peers, err := n.view.ClosestPeers(ctx, addr, false)
	if err != nil {
		return nil, fmt.Errorf("closest peers of %s: %w", addr.Short(), err)
	}
	return peers, nil
}

// withRetry runs op once, or under the persistent backoff policy.
func withRetry[T any](
	ctx context.Context,
	n *Network,
	strategy RetryStrategy,
	key address.Address,
	op func() (T, error),
) (T, error) { // A
	if strategy != RetryPersistent {
		return op()
	}
	return retry.DoWithData(
		op,
		retry.Context(ctx),
		retry.Attempts(n.cfg.PersistentAttempts),
		retry.Delay(n.cfg.RetryDelay),
		retry.MaxDelay(n.cfg.MaxRetryDelay),
		retry.DelayType(retry.BackOffDelay),
		retry.LastErrorOnly(true),
		retry.RetryIf(retryable),
		retry.OnRetry(func(attempt uint, err error) {
			n.log.DebugContext(ctx, "retrying network operation",
				logKeyKey, key.Short(),
				logKeyAttempt, attempt+1,
				logKeyError, err)
		}),
	)
}
