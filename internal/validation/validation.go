// Package validation decides whether a peer accepts a record into its
// local store. Chunks must hash to their key, spends are accepted at
// most once per address, registers merge, and scratchpads only move
// forward.
package validation

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/i5heu/ouroboros-mesh/pkg/address"
	"github.com/i5heu/ouroboros-mesh/pkg/interfaces"
	"github.com/i5heu/ouroboros-mesh/pkg/model"
	"github.com/i5heu/ouroboros-mesh/pkg/record"
	"github.com/i5heu/ouroboros-mesh/pkg/register"
	"github.com/i5heu/ouroboros-mesh/pkg/spend"
)

const logKeyKey = "key"

var (
	// ErrConflict is returned when a different, unmergeable value is
	// already stored under the key.
	ErrConflict = errors.New("conflicting record already stored")
	// ErrInvalid is returned for records that fail verification.
	ErrInvalid = errors.New("invalid record")
	// ErrWrongPayee is returned for payments addressed to another peer.
	ErrWrongPayee = errors.New("payment is for another peer")
)

// Validator implements interfaces.RecordAcceptor.
type Validator struct { // A
	self  address.PeerID
	store interfaces.RecordStore
	log   *slog.Logger

	// mu serializes read-check-write of mutable kinds.
	mu sync.Mutex
}

// New creates a Validator for the peer self. A zero self accepts
// payments to any payee.
func New(
	self address.PeerID,
	store interfaces.RecordStore,
	logger *slog.Logger,
) *Validator { // A
	return &Validator{self: self, store: store, log: logger}
}

// Accept validates rec and stores it. Records already stored unchanged
// are accepted without a write.
func (v *Validator) Accept(ctx context.Context, rec record.Record) error { // A
	f, err := rec.Frame()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalid, err)
	}

	switch f.Kind {
	case record.KindChunk:
		var c model.Chunk
		if err := f.Parse(&c); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalid, err)
		}
		return v.acceptChunk(ctx, rec.Key, c)

	case record.KindChunkWithPayment:
		var cp model.ChunkWithPayment
		if err := f.Parse(&cp); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalid, err)
		}
		if err := v.checkPayment(cp.Payment); err != nil {
			return err
		}
		return v.acceptChunk(ctx, rec.Key, cp.Chunk)

	case record.KindSpend:
		var ss spend.SignedSpend
		if err := f.Parse(&ss); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalid, err)
		}
		return v.acceptSpend(ctx, rec, ss)

	case record.KindRegister:
		var sr register.SignedRegister
		if err := f.Parse(&sr); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalid, err)
		}
		return v.acceptRegister(ctx, rec.Key, sr)

	case record.KindRegisterWithPayment:
		var rp register.RegisterWithPayment
		if err := f.Parse(&rp); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalid, err)
		}
		if err := v.checkPayment(rp.Payment); err != nil {
			return err
		}
		return v.acceptRegister(ctx, rec.Key, rp.Register)

	case record.KindScratchpad:
		var sp model.Scratchpad
		if err := f.Parse(&sp); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalid, err)
		}
		return v.acceptScratchpad(ctx, rec.Key, sp)

	case record.KindScratchpadWithPayment:
		var spp model.ScratchpadWithPayment
		if err := f.Parse(&spp); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalid, err)
		}
		if err := v.checkPayment(spp.Payment); err != nil {
			return err
		}
		return v.acceptScratchpad(ctx, rec.Key, spp.Scratchpad)
	}
	return fmt.Errorf("%w: unhandled kind %s", ErrInvalid, f.Kind)
}

func (v *Validator) checkPayment(p model.Payment) error { // A
	if err := p.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	if !v.self.IsZero() && p.Payee != v.self {
		return fmt.Errorf("%w: payee %s", ErrWrongPayee, p.Payee.Short())
	}
	return nil
}

func (v *Validator) acceptChunk(
	ctx context.Context,
	key address.Address,
	c model.Chunk,
) error { // A
	if c.Address() != key {
		return fmt.Errorf("%w: chunk content does not hash to %s", ErrInvalid, key.Short())
	}
	held, err := v.store.Contains(ctx, key)
	if err != nil {
		return err
	}
	if held {
		return nil
	}
	rec, err := c.Record()
	if err != nil {
		return err
	}
	return v.store.Put(ctx, rec)
}

func (v *Validator) acceptSpend(
	ctx context.Context,
	rec record.Record,
	ss spend.SignedSpend,
) error { // A
	if ss.Address() != rec.Key {
		return fmt.Errorf("%w: spend stored at the wrong address", ErrInvalid)
	}
	if err := ss.Verify(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalid, err)
	}

	v.mu.Lock()
	defer v.mu.Unlock()

	existing, err := v.store.Get(ctx, rec.Key)
	switch {
	case err == nil:
		if bytes.Equal(existing.Value, rec.Value) {
			return nil
		}
		v.log.WarnContext(ctx, "rejecting second spend of a key",
			logKeyKey, rec.Key.Short())
		return fmt.Errorf("%w: spend %s", ErrConflict, rec.Key.Short())
	case errors.Is(err, interfaces.ErrRecordNotHeld):
		return v.store.Put(ctx, rec)
	default:
		return err
	}
}

func (v *Validator) acceptRegister(
	ctx context.Context,
	key address.Address,
	sr register.SignedRegister,
) error { // A
	if sr.Address() != key {
		return fmt.Errorf("%w: register stored at the wrong address", ErrInvalid)
	}
	if err := sr.Verify(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalid, err)
	}

	v.mu.Lock()
	defer v.mu.Unlock()

	existing, getErr := v.store.Get(ctx, key)
	found := getErr == nil
	if !found && !errors.Is(getErr, interfaces.ErrRecordNotHeld) {
		return getErr
	}
	if found {
		current, err := register.FromValue(existing.Value)
		if err != nil {
			return err
		}
		if err := current.Merge(sr); err != nil {
			return fmt.Errorf("%w: %v", ErrConflict, err)
		}
		sr = current
	}

	merged, err := sr.Record()
	if err != nil {
		return err
	}
	if found && bytes.Equal(existing.Value, merged.Value) {
		return nil
	}
	return v.store.Put(ctx, merged)
}

func (v *Validator) acceptScratchpad(
	ctx context.Context,
	key address.Address,
	sp model.Scratchpad,
) error { // A
	if sp.Address() != key {
		return fmt.Errorf("%w: scratchpad stored at the wrong address", ErrInvalid)
	}
	if err := sp.Verify(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalid, err)
	}

	v.mu.Lock()
	defer v.mu.Unlock()

	existing, err := v.store.Get(ctx, key)
	switch {
	case err == nil:
		f, err := existing.Frame()
		if err != nil {
			return err
		}
		var current model.Scratchpad
		if err := f.Parse(&current); err != nil {
			return err
		}
		if sp.Counter < current.Counter {
			return fmt.Errorf(
				"%w: scratchpad counter %d behind stored %d",
				ErrConflict, sp.Counter, current.Counter,
			)
		}
		if sp.Counter == current.Counter {
			if bytes.Equal(sp.Data, current.Data) {
				return nil
			}
			return fmt.Errorf("%w: scratchpad counter %d reused", ErrConflict, sp.Counter)
		}
	case !errors.Is(err, interfaces.ErrRecordNotHeld):
		return err
	}

	rec, err := sp.Record()
	if err != nil {
		return err
	}
	return v.store.Put(ctx, rec)
}

var _ interfaces.RecordAcceptor = (*Validator)(nil)
