package carrier

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/big"
	"sync"
	"time"

	"github.com/quic-go/quic-go"

	"github.com/i5heu/ouroboros-mesh/pkg/address"
)

const alpnProtocol = "ouroboros-mesh"

// Wire protocol constants.
const (
	maxPayloadLength = 16 << 20 // 16 MB max payload
	handshakeTimeout = 10 * time.Second
	streamTimeout    = 30 * time.Second
	frameHeaderSize  = 5
)

// QUICConfig holds configuration for the QUIC transport.
type QUICConfig struct { // A
	// MaxIdleTimeout is the maximum time a connection can be idle.
	MaxIdleTimeout time.Duration `yaml:"maxIdleTimeout"`
	// KeepAlivePeriod is the period for sending keep-alive packets.
	KeepAlivePeriod time.Duration `yaml:"keepAlivePeriod"`
	// MaxIncomingStreams is the maximum number of concurrent incoming
	// streams per connection.
	MaxIncomingStreams int64 `yaml:"maxIncomingStreams"`
}

// DefaultQUICConfig returns sensible default QUIC configuration.
func DefaultQUICConfig() QUICConfig { // A
	return QUICConfig{
		MaxIdleTimeout:     30 * time.Second,
		KeepAlivePeriod:    10 * time.Second,
		MaxIncomingStreams: 256,
	}
}

// QUICTransport implements Transport over QUIC. One connection carries
// many requests, each on its own bidirectional stream.
type QUICTransport struct { // A
	logger    *slog.Logger
	localID   address.PeerID
	tlsConfig *tls.Config
	quicConf  *quic.Config

	mu       sync.Mutex
	listener *quic.Listener
	closed   bool
}

// NewQUICTransport creates a new QUIC transport for the given local node ID.
func NewQUICTransport(
	logger *slog.Logger,
	localID address.PeerID,
	qConfig QUICConfig,
) (*QUICTransport, error) { // A
	tlsConfig, err := generateTLSConfig()
	if err != nil {
		return nil, fmt.Errorf("generate TLS config: %w", err)
	}
	def := DefaultQUICConfig()
	if qConfig.MaxIdleTimeout <= 0 {
		qConfig.MaxIdleTimeout = def.MaxIdleTimeout
	}
	if qConfig.KeepAlivePeriod <= 0 {
		qConfig.KeepAlivePeriod = def.KeepAlivePeriod
	}
	if qConfig.MaxIncomingStreams <= 0 {
		qConfig.MaxIncomingStreams = def.MaxIncomingStreams
	}

	return &QUICTransport{
		logger:    logger,
		localID:   localID,
		tlsConfig: tlsConfig,
		quicConf: &quic.Config{
			MaxIdleTimeout:     qConfig.MaxIdleTimeout,
			KeepAlivePeriod:    qConfig.KeepAlivePeriod,
			MaxIncomingStreams: qConfig.MaxIncomingStreams,
		},
	}, nil
}

// Connect dials address and performs the node ID handshake.
func (t *QUICTransport) Connect(
	ctx context.Context,
	addr string,
) (Connection, error) { // A
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil, errors.New("transport is closed")
	}
	t.mu.Unlock()

	clientTLS := &tls.Config{
		InsecureSkipVerify: true,
		NextProtos:         []string{alpnProtocol},
	}

	conn, err := quic.DialAddr(ctx, addr, clientTLS, t.quicConf)
	if err != nil {
		return nil, fmt.Errorf("quic dial: %w", err)
	}

	qc := &quicConn{conn: conn, localID: t.localID}
	if err := qc.performClientHandshake(ctx); err != nil {
		_ = conn.CloseWithError(1, "handshake failed")
		return nil, fmt.Errorf("handshake: %w", err)
	}

	t.logger.DebugContext(ctx, "quic connection established",
		logKeyAddress, addr,
		logKeyNodeID, qc.remoteID.Short())

	return qc, nil
}

// Listen starts accepting incoming QUIC connections on address.
func (t *QUICTransport) Listen(
	_ context.Context,
	addr string,
) (Listener, error) { // A
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return nil, errors.New("transport is closed")
	}

	listener, err := quic.ListenAddr(addr, t.tlsConfig, t.quicConf)
	if err != nil {
		return nil, fmt.Errorf("quic listen: %w", err)
	}
	t.listener = listener

	return &quicListener{
		listener: listener,
		localID:  t.localID,
		logger:   t.logger,
	}, nil
}

// Close shuts down the transport and releases all resources.
func (t *QUICTransport) Close() error { // A
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return nil
	}
	t.closed = true

	if t.listener != nil {
		return t.listener.Close()
	}
	return nil
}

type quicListener struct { // A
	listener *quic.Listener
	localID  address.PeerID
	logger   *slog.Logger
}

func (l *quicListener) Accept(ctx context.Context) (Connection, error) { // A
	conn, err := l.listener.Accept(ctx)
	if err != nil {
		return nil, err
	}

	qc := &quicConn{conn: conn, localID: l.localID}
	if err := qc.performServerHandshake(ctx); err != nil {
		_ = conn.CloseWithError(1, "handshake failed")
		return nil, fmt.Errorf("handshake: %w", err)
	}

	l.logger.DebugContext(ctx, "quic connection accepted",
		logKeyAddress, conn.RemoteAddr().String(),
		logKeyNodeID, qc.remoteID.Short())

	return qc, nil
}

func (l *quicListener) Addr() string { // A
	return l.listener.Addr().String()
}

func (l *quicListener) Close() error { // A
	return l.listener.Close()
}

// quicConn implements Connection for a persistent QUIC connection.
type quicConn struct { // A
	conn     *quic.Conn
	localID  address.PeerID
	remoteID address.PeerID

	mu     sync.Mutex
	closed bool
}

// performClientHandshake sends the local ID first and reads the remote
// one back on a control stream.
func (c *quicConn) performClientHandshake(ctx context.Context) error { // A
	stream, err := c.conn.OpenStreamSync(ctx)
	if err != nil {
		return fmt.Errorf("open control stream: %w", err)
	}
	defer func() { _ = stream.Close() }()

	if err := stream.SetDeadline(time.Now().Add(handshakeTimeout)); err != nil {
		return err
	}
	if _, err := stream.Write(c.localID[:]); err != nil {
		return fmt.Errorf("send local ID: %w", err)
	}
	if _, err := io.ReadFull(stream, c.remoteID[:]); err != nil {
		return fmt.Errorf("receive remote ID: %w", err)
	}
	return nil
}

func (c *quicConn) performServerHandshake(ctx context.Context) error { // A
	stream, err := c.conn.AcceptStream(ctx)
	if err != nil {
		return fmt.Errorf("accept control stream: %w", err)
	}
	defer func() { _ = stream.Close() }()

	if err := stream.SetDeadline(time.Now().Add(handshakeTimeout)); err != nil {
		return err
	}
	if _, err := io.ReadFull(stream, c.remoteID[:]); err != nil {
		return fmt.Errorf("receive remote ID: %w", err)
	}
	if _, err := stream.Write(c.localID[:]); err != nil {
		return fmt.Errorf("send local ID: %w", err)
	}
	return nil
}

func (c *quicConn) isClosed() bool { // A
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// Request opens a stream, writes msg, closes the write side and reads
// the reply.
func (c *quicConn) Request(ctx context.Context, msg Message) (Message, error) { // A
	if c.isClosed() {
		return Message{}, errors.New("connection closed")
	}

	stream, err := c.conn.OpenStreamSync(ctx)
	if err != nil {
		return Message{}, fmt.Errorf("open stream: %w", err)
	}
	if err := stream.SetDeadline(deadline(ctx)); err != nil {
		stream.CancelRead(0)
		_ = stream.Close()
		return Message{}, err
	}

	if err := writeFrame(stream, msg); err != nil {
		stream.CancelRead(0)
		_ = stream.Close()
		return Message{}, err
	}
	if err := stream.Close(); err != nil {
		return Message{}, fmt.Errorf("close write side: %w", err)
	}
	reply, err := readFrame(stream)
	if err != nil {
		return Message{}, fmt.Errorf("read reply: %w", err)
	}
	return reply, nil
}

// AcceptRequest waits for the next incoming stream and reads its frame.
func (c *quicConn) AcceptRequest(ctx context.Context) (Message, Responder, error) { // A
	if c.isClosed() {
		return Message{}, nil, errors.New("connection closed")
	}

	stream, err := c.conn.AcceptStream(ctx)
	if err != nil {
		return Message{}, nil, fmt.Errorf("accept stream: %w", err)
	}
	if err := stream.SetDeadline(time.Now().Add(streamTimeout)); err != nil {
		_ = stream.Close()
		return Message{}, nil, err
	}

	msg, err := readFrame(stream)
	if err != nil {
		stream.CancelRead(0)
		_ = stream.Close()
		return Message{}, nil, fmt.Errorf("read request: %w", err)
	}

	respond := func(_ context.Context, reply Message) error {
		defer func() { _ = stream.Close() }()
		return writeFrame(stream, reply)
	}
	return msg, respond, nil
}

func (c *quicConn) Close() error { // A
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil
	}
	c.closed = true

	return c.conn.CloseWithError(0, "connection closed")
}

func (c *quicConn) RemoteNodeID() address.PeerID { // A
	return c.remoteID
}

// deadline returns the context deadline or the default stream timeout.
func deadline(ctx context.Context) time.Time { // A
	if d, ok := ctx.Deadline(); ok {
		return d
	}
	return time.Now().Add(streamTimeout)
}

// writeFrame writes [1 byte type][4 bytes payload length][payload].
func writeFrame(w io.Writer, msg Message) error { // A
	if len(msg.Payload) > maxPayloadLength {
		return fmt.Errorf(
			"payload too large: %d > %d",
			len(msg.Payload),
			maxPayloadLength,
		)
	}

	header := make([]byte, frameHeaderSize)
	header[0] = byte(msg.Type)
	binary.BigEndian.PutUint32(header[1:], uint32(len(msg.Payload)))

	if _, err := w.Write(header); err != nil {
		return fmt.Errorf("write header: %w", err)
	}
	if len(msg.Payload) > 0 {
		if _, err := w.Write(msg.Payload); err != nil {
			return fmt.Errorf("write payload: %w", err)
		}
	}
	return nil
}

func readFrame(r io.Reader) (Message, error) { // A
	header := make([]byte, frameHeaderSize)
	if _, err := io.ReadFull(r, header); err != nil {
		return Message{}, fmt.Errorf("read header: %w", err)
	}

	msgType := MessageType(header[0])
	payloadLen := binary.BigEndian.Uint32(header[1:])
	if payloadLen > maxPayloadLength {
		return Message{}, fmt.Errorf("payload too large: %d", payloadLen)
	}

	var payload []byte
	if payloadLen > 0 {
		payload = make([]byte, payloadLen)
		if _, err := io.ReadFull(r, payload); err != nil {
			return Message{}, fmt.Errorf("read payload: %w", err)
		}
	}
	return Message{Type: msgType, Payload: payload}, nil
}

// generateTLSConfig creates a TLS configuration with a self-signed
// certificate. Node identity is established by the ID handshake.
func generateTLSConfig() (*tls.Config, error) { // A
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, err
	}

	template := x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject: pkix.Name{
			Organization: []string{"ouroboros-mesh"},
		},
		NotBefore:             time.Now(),
		NotAfter:              time.Now().Add(365 * 24 * time.Hour),
		KeyUsage:              x509.KeyUsageDigitalSignature,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		BasicConstraintsValid: true,
	}

	certDER, err := x509.CreateCertificate(
		rand.Reader,
		&template,
		&template,
		&key.PublicKey,
		key,
	)
	if err != nil {
		return nil, err
	}

	return &tls.Config{
		Certificates: []tls.Certificate{{
			Certificate: [][]byte{certDER},
			PrivateKey:  key,
		}},
		NextProtos: []string{alpnProtocol},
	}, nil
}

var (
	_ Transport  = (*QUICTransport)(nil)
	_ Listener   = (*quicListener)(nil)
	_ Connection = (*quicConn)(nil)
)
