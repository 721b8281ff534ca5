// Package testutil holds helpers shared by tests across packages.
package testutil

import (
	"context"
	"flag"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/i5heu/ouroboros-mesh/pkg/address"
	"github.com/i5heu/ouroboros-mesh/pkg/interfaces"
	"github.com/i5heu/ouroboros-mesh/pkg/record"
)

var RunLong = flag.Bool("long", false, "run long/heavy tests")

// RequireLong skips t unless the -long flag is set.
func RequireLong(t *testing.T) {
	t.Helper()
	if !*RunLong {
		t.Skip("skipping long test (use -long to enable)")
	}
}

// Logger returns a logger that discards everything.
func Logger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// MemStore is a map backed interfaces.RecordStore.
type MemStore struct {
	mu      sync.RWMutex
	records map[address.Address][]byte
}

func NewMemStore() *MemStore {
	return &MemStore{records: make(map[address.Address][]byte)}
}

func (m *MemStore) Put(_ context.Context, rec record.Record) error {
	if _, err := rec.Kind(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records[rec.Key] = append([]byte(nil), rec.Value...)
	return nil
}

func (m *MemStore) Get(_ context.Context, key address.Address) (record.Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.records[key]
	if !ok {
		return record.Record{}, interfaces.ErrRecordNotHeld
	}
	return record.Record{Key: key, Value: append([]byte(nil), v...)}, nil
}

func (m *MemStore) Contains(_ context.Context, key address.Address) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.records[key]
	return ok, nil
}

func (m *MemStore) Addresses(context.Context) (map[address.Address]record.RecordType, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[address.Address]record.RecordType, len(m.records))
	for k, v := range m.records {
		rt, err := record.TypeOf(record.Record{Key: k, Value: v})
		if err != nil {
			return nil, err
		}
		out[k] = rt
	}
	return out, nil
}

// Len returns the number of stored records.
func (m *MemStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.records)
}

var _ interfaces.RecordStore = (*MemStore)(nil)
