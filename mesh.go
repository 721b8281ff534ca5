// Package mesh runs one node of a content-addressed storage mesh: a
// badger record store guarded by kind-specific validation, a QUIC
// carrier to the other nodes, churn-driven and periodic replication, and
// a client for spends, registers, scratchpads and files.
package mesh

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/i5heu/ouroboros-mesh/internal/carrier"
	"github.com/i5heu/ouroboros-mesh/internal/node"
	"github.com/i5heu/ouroboros-mesh/internal/replication"
	"github.com/i5heu/ouroboros-mesh/internal/store"
	"github.com/i5heu/ouroboros-mesh/internal/validation"
	"github.com/i5heu/ouroboros-mesh/pkg/address"
	"github.com/i5heu/ouroboros-mesh/pkg/client"
	"github.com/i5heu/ouroboros-mesh/pkg/keys"
	"github.com/i5heu/ouroboros-mesh/pkg/network"
	workerpool "github.com/i5heu/ouroboros-mesh/pkg/workerPool"
)

// Slog attribute keys used by the mesh package.
const (
	logKeyPeer   = "peer"
	logKeyListen = "listen"
	logKeyError  = "error"
)

var (
	ErrNotStarted = errors.New("mesh: node not started")
	ErrClosed     = errors.New("mesh: node closed")
)

// Mesh is a running mesh node. It owns the store, the carrier and the
// lifecycle of the background replication loop.
type Mesh struct {
	log    *slog.Logger
	config Config

	identity *keys.KeyPair
	store    *store.RecordStore
	pool     *workerpool.WorkerPool
	carrier  *carrier.DefaultCarrier
	node     *node.Node
	client   *client.Client

	runCancel context.CancelFunc
	runDone   chan struct{}

	started   atomic.Bool
	closed    atomic.Bool
	startOnce sync.Once
	closeOnce sync.Once
}

// New constructs a mesh node. New does not perform I/O or start
// background goroutines. Call Start to join the mesh.
func New(conf Config) (*Mesh, error) { // A
	if err := conf.validate(); err != nil {
		return nil, fmt.Errorf("mesh config: %w", err)
	}
	conf.applyDefaults()
	return &Mesh{
		log:    conf.Logger,
		config: conf,
	}, nil
}

// Start opens the store, starts the carrier, joins the mesh through the
// bootstrap peers and begins interval replication. Start is safe to call
// multiple times; only the first call has effect.
func (m *Mesh) Start(ctx context.Context) error { // A
	var startErr error
	m.startOnce.Do(func() {
		if err := m.start(ctx); err != nil {
			m.teardown(ctx)
			startErr = err
			return
		}
		m.started.Store(true)
		m.log.InfoContext(ctx, "mesh node started",
			logKeyPeer, m.identity.PeerID().Short(),
			logKeyListen, m.config.ListenAddress)
	})
	return startErr
}

func (m *Mesh) start(ctx context.Context) error { // A
	var err error
	if m.config.DataPath != "" {
		m.identity, err = node.LoadIdentity(m.config.DataPath)
	} else {
		m.identity, err = keys.Generate()
	}
	if err != nil {
		return err
	}
	self := m.identity.PeerID()

	m.store, err = store.Open(store.Config{
		Path:             filepath.Join(m.config.DataPath, "records"),
		InMemory:         m.config.InMemory,
		MinimumFreeSpace: m.config.MinimumFreeGB,
		Logger:           m.log,
	})
	if err != nil {
		return fmt.Errorf("init store: %w", err)
	}
	validator := validation.New(self, m.store, m.log)

	transport, err := m.transport(self)
	if err != nil {
		return fmt.Errorf("init transport: %w", err)
	}
	m.carrier, err = carrier.NewDefaultCarrier(carrier.Config{
		LocalNode: carrier.Node{
			NodeID:    self,
			Addresses: append([]string{m.config.ListenAddress}, m.config.AdvertiseAddresses...),
		},
		Logger:             m.log,
		Transport:          transport,
		BootstrapAddresses: m.config.BootstrapPeers,
		RequestTimeout:     m.config.RequestTimeout,
	})
	if err != nil {
		_ = transport.Close()
		return fmt.Errorf("init carrier: %w", err)
	}

	m.pool = workerpool.NewWorkerPool(workerpool.Config{
		WorkerCount:  m.config.FetchWorkers,
		GlobalBuffer: m.config.FetchWorkers * 16,
	})
	m.node, err = node.New(node.Config{
		Carrier:  m.carrier,
		Store:    m.store,
		Acceptor: validator,
		Pool:     m.pool,
		Network: network.Config{
			PersistentAttempts: m.config.PutRetryAttempts,
			RetryDelay:         m.config.RetryDelay,
			MaxRetryDelay:      m.config.MaxRetryDelay,
		},
		Replication: replication.Config{
			CloseGroupSize:        m.config.CloseGroupSize,
			CompletenessThreshold: m.config.CompletenessThreshold,
			Interval:              m.config.ReplicationInterval,
		},
		Logger: m.log,
	})
	if err != nil {
		return fmt.Errorf("init node: %w", err)
	}
	m.client, err = client.New(m.node.Network(), client.Config{}, m.log)
	if err != nil {
		return err
	}

	if err := m.carrier.Start(ctx); err != nil {
		return err
	}
	if err := m.carrier.Bootstrap(ctx); err != nil {
		return fmt.Errorf("join mesh: %w", err)
	}

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	m.runCancel = cancel
	m.runDone = make(chan struct{})
	go func() {
		defer close(m.runDone)
		m.node.Run(runCtx)
	}()
	return nil
}

func (m *Mesh) transport(self address.PeerID) (carrier.Transport, error) { // A
	if m.config.NewTransport != nil {
		return m.config.NewTransport(self)
	}
	return carrier.NewQUICTransport(m.log, self, m.config.QUIC)
}

// Run starts the node, then blocks until ctx is canceled, and finally
// performs a bounded graceful shutdown. It is a convenience for services.
func (m *Mesh) Run(ctx context.Context) error { // A
	if err := m.Start(ctx); err != nil {
		return err
	}
	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return m.Close(shutdownCtx)
}

// Close leaves the mesh and releases every resource. Close is idempotent
// and safe to call multiple times.
func (m *Mesh) Close(ctx context.Context) error { // A
	var closeErr error
	m.closeOnce.Do(func() {
		m.closed.Store(true)
		if m.started.Load() {
			if err := m.carrier.LeaveCluster(ctx); err != nil {
				m.log.WarnContext(ctx, "leaving mesh failed", logKeyError, err)
			}
		}
		closeErr = m.teardown(ctx)
		m.log.InfoContext(ctx, "mesh node closed")
	})
	return closeErr
}

// teardown releases whatever start managed to set up.
func (m *Mesh) teardown(ctx context.Context) error { // A
	var err error
	if m.runCancel != nil {
		m.runCancel()
		<-m.runDone
	}
	if m.carrier != nil {
		if e := m.carrier.Stop(ctx); e != nil {
			err = errors.Join(err, fmt.Errorf("stop carrier: %w", e))
		}
	}
	if m.node != nil {
		m.node.Close()
	}
	if m.pool != nil {
		m.pool.Stop()
	}
	if m.store != nil {
		if e := m.store.Close(); e != nil {
			err = errors.Join(err, fmt.Errorf("close store: %w", e))
		}
	}
	return err
}

func (m *Mesh) ready() error { // A
	if m.closed.Load() {
		return ErrClosed
	}
	if !m.started.Load() {
		return ErrNotStarted
	}
	return nil
}

// ID returns the node's peer id.
func (m *Mesh) ID() (address.PeerID, error) { // A
	if err := m.ready(); err != nil {
		return address.PeerID{}, err
	}
	return m.identity.PeerID(), nil
}

// Client returns the client operating through this node.
func (m *Mesh) Client() (*client.Client, error) { // A
	if err := m.ready(); err != nil {
		return nil, err
	}
	return m.client, nil
}

// Node returns the underlying node.
func (m *Mesh) Node() (*node.Node, error) { // A
	if err := m.ready(); err != nil {
		return nil, err
	}
	return m.node, nil
}

// Addresses returns the addresses other nodes can bootstrap from.
func (m *Mesh) Addresses() []string { // A
	return append([]string{m.config.ListenAddress}, m.config.AdvertiseAddresses...)
}
