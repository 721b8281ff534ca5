package carrier

import (
	"log/slog"
	"time"
)

// Config holds configuration for the DefaultCarrier.
type Config struct { // A
	// LocalNode is this node's identity information. The first address
	// is the listen address.
	LocalNode Node
	// Logger is the structured logger for the carrier.
	Logger *slog.Logger
	// Transport is the network transport implementation (QUIC by default).
	Transport Transport
	// BootstrapAddresses are "host:port" or "host" endpoints used to join
	// an existing mesh. Empty means standalone.
	BootstrapAddresses []string
	// DefaultPort is used for bootstrap addresses without a port.
	DefaultPort uint16
	// RequestTimeout bounds one request when the caller set no deadline.
	RequestTimeout time.Duration
	// EvictAfterFailures removes a node after this many consecutive
	// failed deliveries.
	EvictAfterFailures int
}

func (c *Config) applyDefaults() { // A
	if c.DefaultPort == 0 {
		c.DefaultPort = 4242
	}
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = 20 * time.Second
	}
	if c.EvictAfterFailures <= 0 {
		c.EvictAfterFailures = 3
	}
}
