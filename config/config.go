// Package config loads the node's TOML configuration file (§4.14):
// display name, bind address, data directory, worker pool size, sweep
// interval, log level, and a static peer list to seed the address book
// with at boot in place of the discovery mechanism named out of scope.
package config

import (
	"fmt"
	"time"

	"github.com/BurntSushi/toml"
)

// StaticPeer is one entry of the config-driven address book seed.
type StaticPeer struct {
	PeerID  string `toml:"peer_id"`
	Address string `toml:"address"`
}

// Config is the decoded contents of a node's TOML configuration file.
type Config struct {
	Node struct {
		Name string `toml:"name"`
	} `toml:"Node"`

	Network struct {
		BindAddress string `toml:"bind_address"`
	} `toml:"Network"`

	Storage struct {
		DataDir string `toml:"data_dir"`
	} `toml:"Storage"`

	Sync struct {
		Workers       int      `toml:"workers"`
		SweepInterval duration `toml:"sweep_interval"`
	} `toml:"Sync"`

	Logging struct {
		Level string `toml:"level"`
	} `toml:"Logging"`

	Metrics struct {
		// Address is where the pull-based metrics handler listens, e.g.
		// "127.0.0.1:9100". Left empty, the metrics surface is not served
		// over HTTP at all.
		Address string `toml:"address"`
	} `toml:"Metrics"`

	Peers []StaticPeer `toml:"Peer"`
}

// duration decodes a TOML string like "10s" through time.ParseDuration,
// since BurntSushi/toml has no native duration type.
type duration time.Duration

func (d *duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(string(text))
	if err != nil {
		return fmt.Errorf("config: sweep_interval: %w", err)
	}
	*d = duration(parsed)
	return nil
}

// DefaultWorkers and DefaultSweepInterval are applied when the
// corresponding field is absent or zero in the config file (§4.10).
const (
	DefaultWorkers       = 10
	DefaultSweepInterval = 10 * time.Second
)

// Load reads and decodes the TOML file at path, applying defaults for
// any field the file leaves unset.
func Load(path string) (*Config, error) {
	var c Config
	if _, err := toml.DecodeFile(path, &c); err != nil {
		return nil, fmt.Errorf("config: decode %s: %w", path, err)
	}
	if c.Node.Name == "" {
		return nil, fmt.Errorf("config: Node.name is required")
	}
	if c.Network.BindAddress == "" {
		return nil, fmt.Errorf("config: Network.bind_address is required")
	}
	if c.Storage.DataDir == "" {
		return nil, fmt.Errorf("config: Storage.data_dir is required")
	}
	if c.Sync.Workers <= 0 {
		c.Sync.Workers = DefaultWorkers
	}
	if c.Sync.SweepInterval == 0 {
		c.Sync.SweepInterval = duration(DefaultSweepInterval)
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "INFO"
	}
	return &c, nil
}

// WorkerPoolSize returns the effective worker count for the sync
// engine's queue.
func (c *Config) WorkerPoolSize() int { return c.Sync.Workers }

// SweepInterval returns the effective periodic sweep interval.
func (c *Config) SweepInterval() time.Duration { return time.Duration(c.Sync.SweepInterval) }
