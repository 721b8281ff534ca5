package replication

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/i5heu/ouroboros-mesh/pkg/address"
	"github.com/i5heu/ouroboros-mesh/pkg/interfaces"
	"github.com/i5heu/ouroboros-mesh/pkg/record"
)

// Slog attribute keys used by the replication package.
const (
	logKeyPeer    = "peer"
	logKeyRemoved = "removed"
	logKeyPeers   = "peers"
	logKeyKeys    = "keys"
	logKeyTargets = "targets"
	logKeyKey     = "key"
	logKeyHolder  = "holder"
	logKeyError   = "error"
	logKeySource  = "source"
)

// Config holds the replication tunables.
type Config struct { // A
	// CloseGroupSize is the number of peers that hold a record.
	CloseGroupSize int
	// CompletenessThreshold is the minimum number of known peers below
	// which no replication is attempted.
	CompletenessThreshold int
	// Interval is the period of the anti-entropy sweep.
	Interval time.Duration
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config { // A
	return Config{
		CloseGroupSize:        5,
		CompletenessThreshold: 5,
		Interval:              5 * time.Minute,
	}
}

// Selector announces locally held keys to the peers that should hold
// them. It keeps no state between calls.
type Selector struct { // A
	cfg      Config
	view     interfaces.PeerView
	store    interfaces.RecordStore
	notifier interfaces.ReplicateNotifier
	log      *slog.Logger
}

// NewSelector creates a Selector. Zero fields of cfg fall back to
// DefaultConfig.
func NewSelector(
	cfg Config,
	view interfaces.PeerView,
	store interfaces.RecordStore,
	notifier interfaces.ReplicateNotifier,
	logger *slog.Logger,
) (*Selector, error) { // A
	if view == nil || store == nil || notifier == nil {
		return nil, errors.New("replication: view, store and notifier are required")
	}
	if logger == nil {
		return nil, errors.New("replication: logger is required")
	}
	def := DefaultConfig()
	if cfg.CloseGroupSize <= 0 {
		cfg.CloseGroupSize = def.CloseGroupSize
	}
	if cfg.CompletenessThreshold <= 0 {
		cfg.CompletenessThreshold = cfg.CloseGroupSize
	}
	if cfg.Interval <= 0 {
		cfg.Interval = def.Interval
	}
	return &Selector{
		cfg:      cfg,
		view:     view,
		store:    store,
		notifier: notifier,
		log:      logger,
	}, nil
}

// peersIfComplete returns the current peer view, or nil when fewer
// peers than the completeness threshold are known.
func (s *Selector) peersIfComplete(ctx context.Context) ([]address.PeerID, error) { // A
	peers, err := s.view.AllPeers(ctx)
	if err != nil {
		return nil, fmt.Errorf("peer view: %w", err)
	}
	if len(peers) < s.cfg.CompletenessThreshold {
		s.log.DebugContext(ctx, "too few peers known, skipping replication",
			logKeyPeers, len(peers))
		return nil, nil
	}
	return peers, nil
}

// TargetedReplication reacts to peer joining (removed false) or leaving
// (removed true). It returns the plan that was sent.
func (s *Selector) TargetedReplication(
	ctx context.Context,
	peer address.PeerID,
	removed bool,
) (Plan, error) { // A
	peers, err := s.peersIfComplete(ctx)
	if err != nil || peers == nil {
		return Plan{}, err
	}
	records, err := s.store.Addresses(ctx)
	if err != nil {
		return Plan{}, fmt.Errorf("list local records: %w", err)
	}
	keys := make([]address.Address, 0, len(records))
	for k := range records {
		keys = append(keys, k)
	}

	plan := PlanTargets(
		s.view.LocalPeerID(),
		peers,
		address.NewSet(keys...).Sorted(),
		Churn{Peer: peer, Removed: removed},
		s.cfg.CloseGroupSize,
	)
	s.log.DebugContext(ctx, "targeted replication planned",
		logKeyPeer, peer.Short(),
		logKeyRemoved, removed,
		logKeyTargets, len(plan),
		logKeyKeys, plan.Len())
	s.send(ctx, plan, records)
	return plan, nil
}

// IntervalReplication sends every locally held key to each member of
// the local peer's own close group.
func (s *Selector) IntervalReplication(ctx context.Context) (Plan, error) { // A
	peers, err := s.peersIfComplete(ctx)
	if err != nil || peers == nil {
		return Plan{}, err
	}
	self := s.view.LocalPeerID()
	group, err := s.view.ClosestPeers(ctx, self.Address(), false)
	if err != nil {
		return Plan{}, fmt.Errorf("close group of self: %w", err)
	}
	records, err := s.store.Addresses(ctx)
	if err != nil {
		return Plan{}, fmt.Errorf("list local records: %w", err)
	}
	set := make(address.Set, len(records))
	for k := range records {
		set.Add(k)
	}
	keys := set.Sorted()

	plan := make(Plan)
	if len(keys) == 0 {
		return plan, nil
	}
	for _, peer := range group {
		if peer == self {
			continue
		}
		plan[peer] = keys
	}
	s.log.DebugContext(ctx, "interval replication planned",
		logKeyTargets, len(plan),
		logKeyKeys, len(keys))
	s.send(ctx, plan, records)
	return plan, nil
}

// send delivers one notice per target peer. Each key carries the type
// of the local copy so the recipient can tell a stale record apart.
func (s *Selector) send(
	ctx context.Context,
	plan Plan,
	records map[address.Address]record.RecordType,
) { // A
	self := s.view.LocalPeerID()
	for _, peer := range plan.Targets() {
		keys := plan[peer]
		entries := make([]interfaces.ReplicateEntry, 0, len(keys))
		for _, k := range keys {
			entries = append(entries, interfaces.ReplicateEntry{Key: k, Type: records[k]})
		}
		s.notifier.NotifyReplicate(ctx, peer, interfaces.ReplicateNotice{
			Holder:  self,
			Entries: entries,
		})
	}
}

// Run performs an interval sweep every cfg.Interval until ctx is done.
func (s *Selector) Run(ctx context.Context) { // A
	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.IntervalReplication(ctx); err != nil {
				s.log.WarnContext(ctx, "interval replication failed",
					logKeyError, err)
			}
		}
	}
}
