package config

import (
	"fmt"
	"hash/fnv"
	"net/netip"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

const (
	DefaultMulticastAddr       = "224.0.75.69"
	DefaultDelta               = 10
	DefaultMeasuredValue       = 1
	DefaultAnnounceIntervalSec = 1
	DefaultPolicy              = "drain"

	PolicyDrain     = "drain"
	PolicyIncrement = "increment"
)

// DefaultPorts is the candidate bind/destination port range.
var DefaultPorts = []int{31100, 31101, 31102, 31103, 31104}

// DefaultIgnoredInterfaces lists interfaces never used for announcing.
var DefaultIgnoredInterfaces = []string{"eth0:prv"}

// Config is the top-level YAML document.
type Config struct {
	Node *NodeConfig `yaml:"node,omitempty"`
}

// NodeConfig holds the per-run settings of a convergence node.
// Read-only after startup; edits on disk require a restart.
type NodeConfig struct {
	SourceID            uint16   `yaml:"source_id"`
	Ports               []int    `yaml:"ports"`
	MulticastEnabled    *bool    `yaml:"multicast_enabled"`
	MulticastAddr       string   `yaml:"multicast_addr"`
	BroadcastEnabled    *bool    `yaml:"broadcast_enabled"`
	LoopbackEnabled     bool     `yaml:"loopback_enabled"`
	IgnoredInterfaces   []string `yaml:"ignored_interfaces"`
	Delta               float64  `yaml:"delta"`
	MeasuredValue       float64  `yaml:"measured_value"`
	Policy              string   `yaml:"policy"`
	AnnounceIntervalSec int      `yaml:"announce_interval_sec"`
	TraceInbound        bool     `yaml:"trace_inbound"`
	StatusListen        string   `yaml:"status_listen"`
	MetricsPath         string   `yaml:"metrics_path"`
	RegistryPath        string   `yaml:"registry_path"`
	STUNServers         []string `yaml:"stun_servers"`
}

// Multicast reports whether multicast announcing is enabled (default true).
func (n *NodeConfig) Multicast() bool {
	return n.MulticastEnabled == nil || *n.MulticastEnabled
}

// Broadcast reports whether broadcast announcing is enabled (default true).
func (n *NodeConfig) Broadcast() bool {
	return n.BroadcastEnabled == nil || *n.BroadcastEnabled
}

// Load reads and parses a YAML config file.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, err
	}

	ApplyDefaults(&cfg)
	return cfg, nil
}

// Save writes a YAML config file to disk.
func Save(path string, cfg Config) error {
	ApplyDefaults(&cfg)
	data, err := yaml.Marshal(&cfg)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}

	return os.WriteFile(path, data, 0o600)
}

// Validate performs minimal validation for required fields.
func Validate(cfg Config) error {
	if cfg.Node == nil {
		return fmt.Errorf("config must contain a node section")
	}
	n := cfg.Node
	if len(n.Ports) == 0 {
		return fmt.Errorf("node.ports requires at least one port")
	}
	for _, p := range n.Ports {
		if p <= 0 || p > 65535 {
			return fmt.Errorf("node.ports contains invalid port %d", p)
		}
	}
	if n.Multicast() {
		addr, err := netip.ParseAddr(n.MulticastAddr)
		if err != nil {
			return fmt.Errorf("node.multicast_addr: %w", err)
		}
		if !addr.IsMulticast() {
			return fmt.Errorf("node.multicast_addr %q is not a multicast address", n.MulticastAddr)
		}
	}
	if n.Delta <= 0 {
		return fmt.Errorf("node.delta must be positive")
	}
	if n.Policy != PolicyDrain && n.Policy != PolicyIncrement {
		return fmt.Errorf("node.policy must be %q or %q", PolicyDrain, PolicyIncrement)
	}
	if n.AnnounceIntervalSec <= 0 {
		return fmt.Errorf("node.announce_interval_sec must be positive")
	}
	return nil
}

// ApplyDefaults fills in default values when empty.
func ApplyDefaults(cfg *Config) {
	if cfg.Node == nil {
		return
	}
	n := cfg.Node
	if n.SourceID == 0 {
		n.SourceID = deriveSourceID()
	}
	if len(n.Ports) == 0 {
		n.Ports = append([]int(nil), DefaultPorts...)
	}
	if n.MulticastAddr == "" {
		n.MulticastAddr = DefaultMulticastAddr
	}
	if n.IgnoredInterfaces == nil {
		n.IgnoredInterfaces = append([]string(nil), DefaultIgnoredInterfaces...)
	}
	if n.Delta == 0 {
		n.Delta = DefaultDelta
	}
	if n.MeasuredValue == 0 {
		n.MeasuredValue = DefaultMeasuredValue
	}
	if n.Policy == "" {
		n.Policy = DefaultPolicy
	}
	if n.AnnounceIntervalSec == 0 {
		n.AnnounceIntervalSec = DefaultAnnounceIntervalSec
	}
}

// deriveSourceID produces a stable non-zero source id from the hostname so
// unconfigured nodes on the same network do not all collide on id 0.
func deriveSourceID() uint16 {
	name, err := os.Hostname()
	if err != nil || name == "" {
		return 1
	}
	h := fnv.New32a()
	_, _ = h.Write([]byte(name))
	id := uint16(h.Sum32() & 0xffff)
	if id == 0 {
		id = 1
	}
	return id
}
