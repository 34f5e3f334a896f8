// Package config loads and validates the YAML configuration a leifraftd
// process starts from: a single Load entry point, validated before
// anything downstream (storage, transport) is constructed.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v2"

	"github.com/leifraft/leifraft/internal/raft"
)

// Peer is one other cluster member's addresses: RaftAddr for consensus
// traffic, ClientAddr so this node can redirect clients there when that
// peer is leader.
type Peer struct {
	ID         string `yaml:"id"`
	RaftAddr   string `yaml:"raft_addr"`
	ClientAddr string `yaml:"client_addr"`
}

// duration wraps time.Duration with the UnmarshalYAML yaml.v2 needs to
// accept Go duration strings like "150ms" — yaml.v2 has no built-in
// support for time.Duration, only for scalars it already knows.
type duration time.Duration

func (d *duration) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var s string
	if err := unmarshal(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	*d = duration(parsed)
	return nil
}

// Config is the on-disk shape of a node's configuration file.
type Config struct {
	ServerID           string   `yaml:"server_id"`
	ClientAddr         string   `yaml:"client_addr"`
	RaftAddr           string   `yaml:"raft_addr"`
	DataDir            string   `yaml:"data_dir"`
	Peers              []Peer   `yaml:"peers"`
	ElectionTimeoutMin duration `yaml:"election_timeout_min"`
	ElectionTimeoutMax duration `yaml:"election_timeout_max"`
	HeartbeatInterval  duration `yaml:"heartbeat_interval"`

	// RngSeed seeds the node's election-timeout jitter. Left at 0, a node
	// picks its own seed from wall-clock time on startup; an operator pins
	// it for reproducible local clusters.
	RngSeed int64 `yaml:"rng_seed"`
}

// Load reads and validates the YAML file at path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: reading %s: %w", path, err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parsing %s: %w", path, err)
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config: %s: %w", path, err)
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	if c.ServerID == "" {
		return fmt.Errorf("server_id is required")
	}
	if c.RaftAddr == "" {
		return fmt.Errorf("raft_addr is required")
	}
	if c.ClientAddr == "" {
		return fmt.Errorf("client_addr is required")
	}
	if c.DataDir == "" {
		return fmt.Errorf("data_dir is required")
	}
	if c.HeartbeatInterval <= 0 {
		return fmt.Errorf("heartbeat_interval must be positive")
	}
	if c.ElectionTimeoutMax < c.ElectionTimeoutMin {
		return fmt.Errorf("election_timeout_max must be >= election_timeout_min")
	}
	if c.ElectionTimeoutMin <= 2*c.HeartbeatInterval {
		return fmt.Errorf("election_timeout_min (%s) must exceed 2x heartbeat_interval (%s)",
			time.Duration(c.ElectionTimeoutMin), time.Duration(c.HeartbeatInterval))
	}
	seen := map[string]bool{c.ServerID: true}
	for _, p := range c.Peers {
		if p.ID == "" || p.RaftAddr == "" {
			return fmt.Errorf("every peer needs both id and raft_addr")
		}
		if seen[p.ID] {
			return fmt.Errorf("duplicate peer id %q", p.ID)
		}
		seen[p.ID] = true
	}
	return nil
}

// RaftConfig builds the internal/raft.Config these timeouts describe.
func (c *Config) RaftConfig() raft.Config {
	peers := make([]raft.ServerId, 0, len(c.Peers))
	for _, p := range c.Peers {
		peers = append(peers, raft.ServerId(p.ID))
	}
	return raft.Config{
		ElectionTimeoutMin: time.Duration(c.ElectionTimeoutMin),
		ElectionTimeoutMax: time.Duration(c.ElectionTimeoutMax),
		HeartbeatInterval:  time.Duration(c.HeartbeatInterval),
		Peers:              peers,
	}
}

// PeerAddrs builds the id->address map internal/transport needs to dial
// every other cluster member.
func (c *Config) PeerAddrs() map[raft.ServerId]string {
	out := make(map[raft.ServerId]string, len(c.Peers))
	for _, p := range c.Peers {
		out[raft.ServerId(p.ID)] = p.RaftAddr
	}
	return out
}

// ClientAddrs builds the id->address map internal/httpapi needs to
// redirect a write to whichever peer is currently leader, including this
// node's own client address.
func (c *Config) ClientAddrs() map[raft.ServerId]string {
	out := make(map[raft.ServerId]string, len(c.Peers)+1)
	out[raft.ServerId(c.ServerID)] = c.ClientAddr
	for _, p := range c.Peers {
		out[raft.ServerId(p.ID)] = p.ClientAddr
	}
	return out
}
