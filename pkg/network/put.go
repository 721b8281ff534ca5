package network

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/i5heu/ouroboros-mesh/pkg/address"
	"github.com/i5heu/ouroboros-mesh/pkg/interfaces"
	"github.com/i5heu/ouroboros-mesh/pkg/record"
)

// Put stores rec on its close group, or on cfg.UsePutRecordTo, until
// cfg.Quorum peers acknowledged it.
func (n *Network) Put(
	ctx context.Context,
	rec record.Record,
	cfg PutConfig,
) error { // A
	kind, err := rec.Kind()
	if err != nil {
		return fmt.Errorf("put %s: %w", rec.Key.Short(), err)
	}
	if kind.HasPayment() && len(cfg.UsePutRecordTo) == 0 {
		return fmt.Errorf("put %s (%s): %w", rec.Key.Short(), kind, ErrPaymentNeedsPayee)
	}
	_, err = withRetry(ctx, n, cfg.Retry, rec.Key, func() (struct{}, error) {
		return struct{}{}, n.putOnce(ctx, rec, cfg)
	})
	return err
}

func (n *Network) putOnce(
	ctx context.Context,
	rec record.Record,
	cfg PutConfig,
) error { // A
	targets := cfg.UsePutRecordTo
	if len(targets) == 0 {
		var err error
		targets, err = n.GetClosestPeers(ctx, rec.Key)
		if err != nil {
			return err
		}
	}
	required := cfg.Quorum.Required(len(targets))
	if len(targets) == 0 {
		return &QuorumNotReachedError{
			Op: "put", Key: rec.Key, Quorum: cfg.Quorum,
			Required: required, Errs: []error{ErrNoPeers},
		}
	}

	results := make([]error, len(targets))
	var g errgroup.Group
	for i, peer := range targets {
		g.Go(func() error {
			results[i] = n.client.PutRecord(ctx, peer, rec)
			return nil
		})
	}
	_ = g.Wait()

	var acks, conflicts int
	var errs []error
	for i, err := range results {
		var conflict *interfaces.PutConflictError
		switch {
		case err == nil:
			acks++
		case errors.As(err, &conflict):
			conflicts++
		default:
			errs = append(errs, fmt.Errorf("peer %s: %w", targets[i].Short(), err))
		}
	}

	n.log.DebugContext(ctx, "put round finished",
		logKeyKey, rec.Key.Short(),
		logKeyQuorum, cfg.Quorum.String(),
		logKeyPeers, len(targets),
		logKeyAcks, acks,
		logKeyRequired, required)

	if acks < required {
		if conflicts > 0 {
			return &RecordDoesNotMatchError{Key: rec.Key}
		}
		return &QuorumNotReachedError{
			Op: "put", Key: rec.Key, Quorum: cfg.Quorum,
			Required: required, Got: acks, Errs: errs,
		}
	}

	if cfg.Verification == nil {
		return nil
	}
	vcfg := *cfg.Verification
	if vcfg.TargetRecord == nil {
		vcfg.TargetRecord = &rec
	}
	if len(vcfg.ExpectedHolders) == 0 {
		vcfg.ExpectedHolders = append([]address.PeerID(nil), targets...)
	}
	if _, err := n.getOnce(ctx, rec.Key, vcfg); err != nil {
		n.log.WarnContext(ctx, "put verification failed",
			logKeyKey, rec.Key.Short(),
			logKeyError, err)
		return err
	}
	return nil
}
