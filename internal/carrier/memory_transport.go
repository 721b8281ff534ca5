package carrier

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/i5heu/ouroboros-mesh/pkg/address"
)

// ErrMemoryAddrInUse is returned by MemoryTransport.Listen for an address
// that already has a listener.
var ErrMemoryAddrInUse = errors.New("memory address in use")

var errMemoryClosed = errors.New("memory connection closed")

// MemoryNetwork connects MemoryTransports inside one process. It carries
// the same request and reply exchange as QUIC without sockets.
type MemoryNetwork struct { // A
	mu        sync.Mutex
	listeners map[string]*memoryListener
}

// NewMemoryNetwork returns an empty in-process network.
func NewMemoryNetwork() *MemoryNetwork { // A
	return &MemoryNetwork{listeners: make(map[string]*memoryListener)}
}

// Transport returns a transport on n for the node localID.
func (n *MemoryNetwork) Transport(localID address.PeerID) *MemoryTransport { // A
	return &MemoryTransport{network: n, localID: localID}
}

// MemoryTransport implements Transport on a MemoryNetwork.
type MemoryTransport struct { // A
	network *MemoryNetwork
	localID address.PeerID

	mu        sync.Mutex
	listeners []*memoryListener
	conns     []*memoryConn
	closed    bool
}

func (t *MemoryTransport) track(c *memoryConn) error { // A
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return errors.New("transport is closed")
	}
	t.conns = append(t.conns, c)
	return nil
}

// Connect opens a connection to the listener at addr.
func (t *MemoryTransport) Connect(ctx context.Context, addr string) (Connection, error) { // A
	t.network.mu.Lock()
	l := t.network.listeners[addr]
	t.network.mu.Unlock()
	if l == nil {
		return nil, fmt.Errorf("dial %s: connection refused", addr)
	}

	done := make(chan struct{})
	once := &sync.Once{}
	clientInbox := make(chan memoryRequest)
	serverInbox := make(chan memoryRequest)
	client := &memoryConn{
		remoteID: l.owner.localID,
		inbox:    clientInbox,
		outbox:   serverInbox,
		done:     done,
		once:     once,
	}
	server := &memoryConn{
		remoteID: t.localID,
		inbox:    serverInbox,
		outbox:   clientInbox,
		done:     done,
		once:     once,
	}
	if err := t.track(client); err != nil {
		return nil, err
	}
	if err := l.owner.track(server); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("dial %s: %w", addr, err)
	}

	select {
	case l.accept <- server:
		return client, nil
	case <-l.done:
		_ = client.Close()
		return nil, fmt.Errorf("dial %s: connection refused", addr)
	case <-ctx.Done():
		_ = client.Close()
		return nil, ctx.Err()
	}
}

// Listen registers a listener at addr.
func (t *MemoryTransport) Listen(_ context.Context, addr string) (Listener, error) { // A
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil, errors.New("transport is closed")
	}

	t.network.mu.Lock()
	defer t.network.mu.Unlock()
	if _, ok := t.network.listeners[addr]; ok {
		return nil, fmt.Errorf("%w: %s", ErrMemoryAddrInUse, addr)
	}
	l := &memoryListener{
		network: t.network,
		owner:   t,
		addr:    addr,
		accept:  make(chan *memoryConn),
		done:    make(chan struct{}),
	}
	t.network.listeners[addr] = l
	t.listeners = append(t.listeners, l)
	return l, nil
}

// Close closes every listener and connection of the transport.
func (t *MemoryTransport) Close() error { // A
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	listeners, conns := t.listeners, t.conns
	t.listeners, t.conns = nil, nil
	t.mu.Unlock()

	for _, l := range listeners {
		_ = l.Close()
	}
	for _, c := range conns {
		_ = c.Close()
	}
	return nil
}

type memoryListener struct { // A
	network *MemoryNetwork
	owner   *MemoryTransport
	addr    string
	accept  chan *memoryConn
	done    chan struct{}
	once    sync.Once
}

func (l *memoryListener) Accept(ctx context.Context) (Connection, error) { // A
	select {
	case c := <-l.accept:
		return c, nil
	case <-l.done:
		return nil, errors.New("listener closed")
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (l *memoryListener) Addr() string { // A
	return l.addr
}

func (l *memoryListener) Close() error { // A
	l.once.Do(func() {
		close(l.done)
		l.network.mu.Lock()
		if l.network.listeners[l.addr] == l {
			delete(l.network.listeners, l.addr)
		}
		l.network.mu.Unlock()
	})
	return nil
}

type memoryRequest struct { // A
	msg   Message
	reply chan Message
}

// memoryConn is one end of an in-memory connection. Both ends share done.
type memoryConn struct { // A
	remoteID address.PeerID
	inbox    <-chan memoryRequest
	outbox   chan<- memoryRequest
	done     chan struct{}
	once     *sync.Once
}

func (c *memoryConn) Request(ctx context.Context, msg Message) (Message, error) { // A
	req := memoryRequest{msg: msg, reply: make(chan Message, 1)}
	select {
	case c.outbox <- req:
	case <-c.done:
		return Message{}, errMemoryClosed
	case <-ctx.Done():
		return Message{}, ctx.Err()
	}

	select {
	case reply := <-req.reply:
		return reply, nil
	case <-c.done:
		return Message{}, errMemoryClosed
	case <-ctx.Done():
		return Message{}, ctx.Err()
	}
}

func (c *memoryConn) AcceptRequest(ctx context.Context) (Message, Responder, error) { // A
	select {
	case req := <-c.inbox:
		respond := func(_ context.Context, reply Message) error {
			req.reply <- reply
			return nil
		}
		return req.msg, respond, nil
	case <-c.done:
		return Message{}, nil, errMemoryClosed
	case <-ctx.Done():
		return Message{}, nil, ctx.Err()
	}
}

func (c *memoryConn) Close() error { // A
	c.once.Do(func() { close(c.done) })
	return nil
}

func (c *memoryConn) RemoteNodeID() address.PeerID { // A
	return c.remoteID
}
