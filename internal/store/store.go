// Package store persists framed records in badger. Every value is
// checked for a valid record header before it is written.
package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/dgraph-io/badger/v4"

	"github.com/i5heu/ouroboros-mesh/pkg/address"
	"github.com/i5heu/ouroboros-mesh/pkg/interfaces"
	"github.com/i5heu/ouroboros-mesh/pkg/record"
)

var recordPrefix = []byte("rec:")

// Slog attribute keys used by the store package.
const (
	logKeyPath     = "path"
	logKeyInMemory = "inMemory"
	logKeyKey      = "key"
	logKeyError    = "error"
)

// RecordStore is the badger backed interfaces.RecordStore.
type RecordStore struct { // A
	db  *badger.DB
	log *slog.Logger

	readCounter  atomic.Uint64
	writeCounter atomic.Uint64
}

// Open opens or creates the store described by cfg.
func Open(cfg Config) (*RecordStore, error) { // A
	if err := cfg.check(); err != nil {
		return nil, fmt.Errorf("error checking config for RecordStore: %w", err)
	}

	opts := badger.DefaultOptions(cfg.Path)
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	}
	opts.Logger = nil
	opts.ValueLogFileSize = 1024 * 1024 * 100
	opts.SyncWrites = false

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger: %w", err)
	}
	cfg.Logger.Debug("record store opened",
		logKeyPath, cfg.Path,
		logKeyInMemory, cfg.InMemory)

	return &RecordStore{db: db, log: cfg.Logger}, nil
}

func recordKey(key address.Address) []byte { // A
	k := make([]byte, 0, len(recordPrefix)+address.Size)
	k = append(k, recordPrefix...)
	return append(k, key[:]...)
}

// Put stores rec, replacing any previous value.
func (s *RecordStore) Put(_ context.Context, rec record.Record) error { // A
	if _, err := rec.Kind(); err != nil {
		return fmt.Errorf("store %s: %w", rec.Key.Short(), err)
	}
	s.writeCounter.Add(1)
	err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(recordKey(rec.Key), rec.Value)
	})
	if err != nil {
		return fmt.Errorf("store %s: %w", rec.Key.Short(), err)
	}
	return nil
}

// Get returns interfaces.ErrRecordNotHeld for unknown keys.
func (s *RecordStore) Get(
	_ context.Context,
	key address.Address,
) (record.Record, error) { // A
	s.readCounter.Add(1)
	var value []byte
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(recordKey(key))
		if err != nil {
			return err
		}
		value, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return record.Record{}, interfaces.ErrRecordNotHeld
	}
	if err != nil {
		return record.Record{}, fmt.Errorf("load %s: %w", key.Short(), err)
	}
	return record.Record{Key: key, Value: value}, nil
}

func (s *RecordStore) Contains(
	_ context.Context,
	key address.Address,
) (bool, error) { // A
	s.readCounter.Add(1)
	err := s.db.View(func(txn *badger.Txn) error {
		_, err := txn.Get(recordKey(key))
		return err
	})
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, badger.ErrKeyNotFound):
		return false, nil
	default:
		return false, err
	}
}

// Addresses lists every stored key with its record type.
func (s *RecordStore) Addresses(
	ctx context.Context,
) (map[address.Address]record.RecordType, error) { // A
	out := make(map[address.Address]record.RecordType)
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = recordPrefix
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			item := it.Item()
			key, err := address.FromBytes(item.Key()[len(recordPrefix):])
			if err != nil {
				return err
			}
			value, err := item.ValueCopy(nil)
			if err != nil {
				return err
			}
			rt, err := record.TypeOf(record.Record{Key: key, Value: value})
			if err != nil {
				s.log.WarnContext(ctx, "skipping unreadable stored record",
					logKeyKey, key.Short(),
					logKeyError, err)
				continue
			}
			out[key] = rt
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list records: %w", err)
	}
	return out, nil
}

// Stats returns the read and write operation counters.
func (s *RecordStore) Stats() (reads, writes uint64) { // A
	return s.readCounter.Load(), s.writeCounter.Load()
}

// Close flushes and closes the database.
func (s *RecordStore) Close() error { // A
	return s.db.Close()
}

var _ interfaces.RecordStore = (*RecordStore)(nil)
