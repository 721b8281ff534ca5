// Package network implements quorum reads and writes over the close
// group of a key. It fans requests out to individual peers, tallies the
// answers against the requested quorum and classifies disagreement.
package network

import (
	"fmt"
	"time"

	"github.com/i5heu/ouroboros-mesh/pkg/address"
	"github.com/i5heu/ouroboros-mesh/pkg/record"
)

// Quorum is the number of agreeing peers an operation needs.
type Quorum uint8 // A

const (
	QuorumOne Quorum = iota + 1
	QuorumMajority
	QuorumAll
)

func (q Quorum) String() string { // A
	switch q {
	case QuorumOne:
		return "One"
	case QuorumMajority:
		return "Majority"
	case QuorumAll:
		return "All"
	}
	return fmt.Sprintf("Quorum(%d)", uint8(q))
}

// Required returns how many of n peers must agree.
func (q Quorum) Required(n int) int { // A
	if n <= 0 {
		return 1
	}
	switch q {
	case QuorumOne:
		return 1
	case QuorumAll:
		return n
	default:
		return n/2 + 1
	}
}

// RetryStrategy selects how often a failed round is repeated.
type RetryStrategy uint8 // A

const (
	RetryNone RetryStrategy = iota
	RetryPersistent
)

func (r RetryStrategy) String() string { // A
	if r == RetryPersistent {
		return "Persistent"
	}
	return "None"
}

// GetConfig controls a quorum read.
type GetConfig struct { // A
	Quorum Quorum
	Retry  RetryStrategy
	// TargetRecord, when set, is the value the read must find. Any other
	// agreed value fails with RecordDoesNotMatchError.
	TargetRecord *record.Record
	// ExpectedHolders replaces the close group as the set of peers to ask.
	ExpectedHolders []address.PeerID
	// ExpectedType rejects peer answers of another record type.
	ExpectedType *record.RecordType
	// Merge, when set, combines diverging values instead of failing with
	// SplitRecordError.
	Merge func(values [][]byte) ([]byte, error)
}

// PutConfig controls a quorum write.
type PutConfig struct { // A
	Quorum Quorum
	Retry  RetryStrategy
	// UsePutRecordTo sends the record only to these peers. Records that
	// carry a payment must name their payee here.
	UsePutRecordTo []address.PeerID
	// Verification, when set, re-reads the record after the write
	// succeeded. An unset TargetRecord defaults to the written record and
	// unset ExpectedHolders default to the peers written to.
	Verification *GetConfig
}

// Config holds the tunables shared by every operation.
type Config struct { // A
	// CloseGroupSize is the number of peers closest to a key.
	CloseGroupSize int
	// PersistentAttempts bounds the rounds of a RetryPersistent operation.
	PersistentAttempts uint
	// RetryDelay is the first backoff delay.
	RetryDelay time.Duration
	// MaxRetryDelay caps the backoff delay.
	MaxRetryDelay time.Duration
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config { // A
	return Config{
		CloseGroupSize:     5,
		PersistentAttempts: 6,
		RetryDelay:         500 * time.Millisecond,
		MaxRetryDelay:      8 * time.Second,
	}
}
