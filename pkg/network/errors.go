package network

import (
	"errors"
	"fmt"

	"github.com/i5heu/ouroboros-mesh/pkg/address"
)

var (
	// ErrRecordNotFound is returned when enough peers report the key as
	// absent.
	ErrRecordNotFound = errors.New("record not found")
	// ErrNoPeers is wrapped when no peer is known for a key.
	ErrNoPeers = errors.New("no peers known")
	// ErrPaymentNeedsPayee is returned when a payment-bearing record is
	// put without a payee.
	ErrPaymentNeedsPayee = errors.New("payment-bearing record needs a payee")
)

// RecordDoesNotMatchError is returned when the network holds a value
// other than the expected one.
type RecordDoesNotMatchError struct { // A
	Key address.Address
}

func (e *RecordDoesNotMatchError) Error() string { // A
	return fmt.Sprintf("record at %s does not match the expected value", e.Key.Short())
}

// SplitRecordError is returned when peers hold several distinct values
// for a key. Values maps content hash to value.
type SplitRecordError struct { // A
	Key    address.Address
	Values map[address.Address][]byte
}

func (e *SplitRecordError) Error() string { // A
	return fmt.Sprintf("record at %s is split into %d values", e.Key.Short(), len(e.Values))
}

// QuorumNotReachedError is returned when too few peers answered
// consistently. Errs holds the per-peer transport errors.
type QuorumNotReachedError struct { // A
	Op       string
	Key      address.Address
	Quorum   Quorum
	Required int
	Got      int
	Errs     []error
}

func (e *QuorumNotReachedError) Error() string { // A
	return fmt.Sprintf(
		"%s %s: quorum %s not reached (%d of %d required, %d peer errors)",
		e.Op, e.Key.Short(), e.Quorum, e.Got, e.Required, len(e.Errs),
	)
}

func (e *QuorumNotReachedError) Unwrap() []error { // A
	return e.Errs
}

// IsConflict reports whether err means the network holds diverging or
// unexpected data for a key.
func IsConflict(err error) bool { // A
	var mismatch *RecordDoesNotMatchError
	var split *SplitRecordError
	return errors.As(err, &mismatch) || errors.As(err, &split)
}

// retryable reports whether another round could succeed.
func retryable(err error) bool { // A
	var qnr *QuorumNotReachedError
	return errors.As(err, &qnr) || errors.Is(err, ErrRecordNotFound)
}
