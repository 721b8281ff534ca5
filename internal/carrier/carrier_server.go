package carrier

import (
	"context"
	"errors"
	"fmt"

	"github.com/i5heu/ouroboros-mesh/pkg/address"
)

// Start begins listening on the local node's first address. It returns
// immediately; connections are handled in background goroutines.
func (c *DefaultCarrier) Start(ctx context.Context) error { // A
	c.listenerMu.Lock()
	defer c.listenerMu.Unlock()

	if c.running {
		return errors.New("carrier is already running")
	}

	listenAddr := c.localNode.Addresses[0]
	listener, err := c.transport.Listen(ctx, listenAddr)
	if err != nil {
		return fmt.Errorf("failed to start listener on %s: %w", listenAddr, err)
	}

	c.listener = listener
	c.running = true
	c.stopCh = make(chan struct{})
	c.bgMu.Lock()
	c.bgClosed = false
	c.bgMu.Unlock()

	c.log.InfoContext(ctx, "carrier started listening",
		logKeyAddress, listener.Addr())

	c.wg.Add(1)
	go c.acceptLoop(context.WithoutCancel(ctx))

	return nil
}

// Stop closes the listener and every connection and waits for the
// background goroutines.
func (c *DefaultCarrier) Stop(ctx context.Context) error { // A
	c.listenerMu.Lock()
	defer c.listenerMu.Unlock()

	if !c.running {
		return nil
	}

	c.log.InfoContext(ctx, "stopping carrier")
	close(c.stopCh)
	c.bgMu.Lock()
	c.bgClosed = true
	c.bgMu.Unlock()

	if c.listener != nil {
		if err := c.listener.Close(); err != nil {
			c.log.WarnContext(ctx, "error closing listener",
				logKeyError, err)
		}
	}

	c.mu.Lock()
	conns := c.conns
	c.conns = make(map[address.PeerID]Connection)
	c.mu.Unlock()
	for _, conn := range conns {
		_ = conn.Close()
	}

	c.wg.Wait()

	if err := c.transport.Close(); err != nil {
		c.log.WarnContext(ctx, "error closing transport",
			logKeyError, err)
	}

	c.running = false
	c.listener = nil

	c.log.InfoContext(ctx, "carrier stopped")
	return nil
}

// ListenAddr returns the bound listen address, or "" when stopped.
func (c *DefaultCarrier) ListenAddr() string { // A
	c.listenerMu.Lock()
	defer c.listenerMu.Unlock()
	if c.listener == nil {
		return ""
	}
	return c.listener.Addr()
}

func (c *DefaultCarrier) stopping() bool { // A
	select {
	case <-c.stopCh:
		return true
	default:
		return false
	}
}

func (c *DefaultCarrier) acceptLoop(ctx context.Context) { // A
	defer c.wg.Done()

	for {
		conn, err := c.listener.Accept(ctx)
		if err != nil {
			if c.stopping() {
				return
			}
			c.log.WarnContext(ctx, "error accepting connection",
				logKeyError, err)
			continue
		}

		c.wg.Add(1)
		go c.handleConnection(ctx, conn)
	}
}

// handleConnection serves requests from one incoming connection until it
// closes or the carrier stops.
func (c *DefaultCarrier) handleConnection(
	ctx context.Context,
	conn Connection,
) { // A
	defer c.wg.Done()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-c.stopCh:
			cancel()
		case <-ctx.Done():
		}
	}()
	defer func() { _ = conn.Close() }()

	remoteID := conn.RemoteNodeID()
	c.log.DebugContext(ctx, "accepted connection",
		logKeyNodeID, remoteID.Short())

	for {
		msg, respond, err := conn.AcceptRequest(ctx)
		if err != nil {
			if !errors.Is(err, context.Canceled) && !c.stopping() {
				c.log.DebugContext(ctx, "connection ended",
					logKeyNodeID, remoteID.Short(),
					logKeyError, err)
			}
			return
		}

		c.wg.Add(1)
		go func() {
			defer c.wg.Done()
			c.serveRequest(ctx, remoteID, msg, respond)
		}()
	}
}

func (c *DefaultCarrier) serveRequest(
	ctx context.Context,
	remoteID address.PeerID,
	msg Message,
	respond Responder,
) { // A
	reply := ackMessage()
	response, err := c.dispatchMessage(ctx, remoteID, msg)
	switch {
	case err != nil:
		c.log.DebugContext(ctx, "handler returned error",
			logKeyNodeID, remoteID.Short(),
			logKeyMessageType, msg.Type.String(),
			logKeyError, err)
		reply = errorMessage(err)
	case response != nil:
		reply = *response
	}

	if err := respond(ctx, reply); err != nil {
		c.log.DebugContext(ctx, "error sending response",
			logKeyNodeID, remoteID.Short(),
			logKeyError, err)
	}
}

var errNoHandler = errors.New("no handler for message type")

func (c *DefaultCarrier) dispatchMessage(
	ctx context.Context,
	senderID address.PeerID,
	msg Message,
) (*Message, error) { // A
	c.handlersMu.RLock()
	handler := c.handlers[msg.Type]
	c.handlersMu.RUnlock()

	if handler == nil {
		return nil, fmt.Errorf("%w %s", errNoHandler, msg.Type)
	}
	return handler(ctx, senderID, msg)
}

// RegisterHandler sets the handler for msgType, replacing any previous one.
func (c *DefaultCarrier) RegisterHandler(
	msgType MessageType,
	handler MessageHandler,
) { // A
	c.handlersMu.Lock()
	defer c.handlersMu.Unlock()

	c.handlers[msgType] = handler
	c.log.Debug("registered message handler",
		logKeyMessageType, msgType.String())
}

// IsRunning returns whether the carrier is accepting connections.
func (c *DefaultCarrier) IsRunning() bool { // A
	c.listenerMu.Lock()
	defer c.listenerMu.Unlock()
	return c.running
}
