package mesh

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"gopkg.in/yaml.v2"

	"github.com/i5heu/ouroboros-mesh/internal/carrier"
	"github.com/i5heu/ouroboros-mesh/pkg/address"
)

// Config configures a mesh node. It is usually loaded from YAML with
// LoadConfig; zero values fall back to defaults.
type Config struct {
	// DataPath holds the node key and the record store.
	DataPath string `yaml:"dataPath"`
	// InMemory keeps records in memory and uses a throwaway identity
	// when DataPath is empty.
	InMemory bool `yaml:"inMemory"`
	// ListenAddress is the "host:port" the carrier listens on.
	ListenAddress string `yaml:"listenAddress"`
	// AdvertiseAddresses are announced to other nodes in addition to
	// ListenAddress.
	AdvertiseAddresses []string `yaml:"advertiseAddresses"`
	// BootstrapPeers are addresses of nodes already in the mesh.
	BootstrapPeers []string `yaml:"bootstrapPeers"`

	CloseGroupSize        int           `yaml:"closeGroupSize"`
	CompletenessThreshold int           `yaml:"completenessThreshold"`
	ReplicationInterval   time.Duration `yaml:"replicationInterval"`

	// PutRetryAttempts bounds persistent put and get retries.
	PutRetryAttempts uint          `yaml:"putRetryAttempts"`
	RetryDelay       time.Duration `yaml:"retryDelay"`
	MaxRetryDelay    time.Duration `yaml:"maxRetryDelay"`
	RequestTimeout   time.Duration `yaml:"requestTimeout"`

	// FetchWorkers is the size of the replication fetch pool.
	FetchWorkers int `yaml:"fetchWorkers"`
	// MinimumFreeGB is the free disk space required to open the store.
	MinimumFreeGB uint64 `yaml:"minimumFreeGB"`

	QUIC  carrier.QUICConfig `yaml:"quic"`
	Debug bool               `yaml:"debug"`

	// Logger is an optional structured logger. If nil, a stderr logger is used.
	Logger *slog.Logger `yaml:"-"`
	// NewTransport replaces the QUIC transport, e.g. with an in-memory
	// network in tests.
	NewTransport func(self address.PeerID) (carrier.Transport, error) `yaml:"-"`
}

const (
	defaultListenAddress = "0.0.0.0:4242"
	defaultFetchWorkers  = 16
)

// LoadConfig reads a YAML config file.
func LoadConfig(path string) (Config, error) { // A
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}
	var cfg Config
	if err := yaml.UnmarshalStrict(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, nil
}

func (c *Config) validate() error { // A
	if c.DataPath == "" && !c.InMemory {
		return errors.New("a data path is required unless running in memory")
	}
	if c.CloseGroupSize < 0 || c.CompletenessThreshold < 0 || c.FetchWorkers < 0 {
		return errors.New("sizes must not be negative")
	}
	return nil
}

func (c *Config) applyDefaults() { // A
	if c.ListenAddress == "" {
		c.ListenAddress = defaultListenAddress
	}
	if c.FetchWorkers == 0 {
		c.FetchWorkers = defaultFetchWorkers
	}
	if c.Logger == nil {
		c.Logger = defaultLogger(c.Debug)
	}
}

func defaultLogger(debug bool) *slog.Logger { // A
	level := slog.LevelInfo
	if debug {
		level = slog.LevelDebug
	}
	h := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	})
	return slog.New(h)
}
