package network

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"slices"

	"golang.org/x/sync/errgroup"

	"github.com/i5heu/ouroboros-mesh/pkg/address"
	"github.com/i5heu/ouroboros-mesh/pkg/interfaces"
	"github.com/i5heu/ouroboros-mesh/pkg/record"
)

var (
	errWrongKey  = errors.New("peer answered with a record for another key")
	errWrongType = errors.New("peer answered with an unexpected record type")
)

// Get reads key from its close group, or from cfg.ExpectedHolders, and
// returns the value cfg.Quorum peers agree on.
func (n *Network) Get(
	ctx context.Context,
	key address.Address,
	cfg GetConfig,
) (record.Record, error) { // A
	return withRetry(ctx, n, cfg.Retry, key, func() (record.Record, error) {
		return n.getOnce(ctx, key, cfg)
	})
}

type getAnswer struct { // A
	rec record.Record
	err error
}

func (n *Network) getOnce(
	ctx context.Context,
	key address.Address,
	cfg GetConfig,
) (record.Record, error) { // A
	peers := cfg.ExpectedHolders
	if len(peers) == 0 {
		var err error
		peers, err = n.GetClosestPeers(ctx, key)
		if err != nil {
			return record.Record{}, err
		}
	}
	required := cfg.Quorum.Required(len(peers))
	if len(peers) == 0 {
		return record.Record{}, &QuorumNotReachedError{
			Op: "get", Key: key, Quorum: cfg.Quorum,
			Required: required, Errs: []error{ErrNoPeers},
		}
	}

	answers := make([]getAnswer, len(peers))
	var g errgroup.Group
	for i, peer := range peers {
		g.Go(func() error {
			rec, err := n.client.GetRecord(ctx, peer, key)
			answers[i] = getAnswer{rec: rec, err: err}
			return nil
		})
	}
	_ = g.Wait()

	values := make(map[address.Address][]byte)
	counts := make(map[address.Address]int)
	var notFound int
	var errs []error
	for i, a := range answers {
		switch {
		case errors.Is(a.err, interfaces.ErrRecordNotHeld):
			notFound++
		case a.err != nil:
			errs = append(errs, fmt.Errorf("peer %s: %w", peers[i].Short(), a.err))
		case a.rec.Key != key:
			errs = append(errs, fmt.Errorf("peer %s: %w", peers[i].Short(), errWrongKey))
		default:
			if err := checkType(a.rec, cfg.ExpectedType); err != nil {
				errs = append(errs, fmt.Errorf("peer %s: %w", peers[i].Short(), err))
				continue
			}
			h := a.rec.ContentHash()
			values[h] = a.rec.Value
			counts[h]++
		}
	}

	n.log.DebugContext(ctx, "get round finished",
		logKeyKey, key.Short(),
		logKeyQuorum, cfg.Quorum.String(),
		logKeyPeers, len(peers),
		logKeyValues, len(values),
		logKeyRequired, required)

	switch len(values) {
	case 0:
		if notFound >= required {
			return record.Record{}, fmt.Errorf("get %s: %w", key.Short(), ErrRecordNotFound)
		}
		return record.Record{}, &QuorumNotReachedError{
			Op: "get", Key: key, Quorum: cfg.Quorum,
			Required: required, Errs: errs,
		}

	case 1:
		var h address.Address
		for k := range values {
			h = k
		}
		if cfg.TargetRecord != nil && h != cfg.TargetRecord.ContentHash() {
			return record.Record{}, &RecordDoesNotMatchError{Key: key}
		}
		if counts[h] < required {
			return record.Record{}, &QuorumNotReachedError{
				Op: "get", Key: key, Quorum: cfg.Quorum,
				Required: required, Got: counts[h], Errs: errs,
			}
		}
		return record.Record{Key: key, Value: values[h]}, nil

	default:
		if cfg.Merge == nil {
			return record.Record{}, &SplitRecordError{Key: key, Values: values}
		}
		merged, err := cfg.Merge(sortedValues(values))
		if err != nil {
			return record.Record{}, fmt.Errorf("merge split record %s: %w", key.Short(), err)
		}
		n.log.DebugContext(ctx, "merged split record",
			logKeyKey, key.Short(),
			logKeyValues, len(values))
		return record.Record{Key: key, Value: merged}, nil
	}
}

func checkType(rec record.Record, want *record.RecordType) error { // A
	if want == nil {
		return nil
	}
	got, err := record.TypeOf(rec)
	if err != nil {
		return err
	}
	if got != *want {
		return fmt.Errorf("%w: got %s, want %s", errWrongType, got, want)
	}
	return nil
}

// sortedValues orders values by content hash so merges are repeatable.
func sortedValues(values map[address.Address][]byte) [][]byte { // A
	hashes := make([]address.Address, 0, len(values))
	for h := range values {
		hashes = append(hashes, h)
	}
	slices.SortFunc(hashes, func(a, b address.Address) int {
		return bytes.Compare(a[:], b[:])
	})
	out := make([][]byte, len(hashes))
	for i, h := range hashes {
		out[i] = values[h]
	}
	return out
}
