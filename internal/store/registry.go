package store

import (
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Registry persists the peers a node has heard from.
type Registry struct {
	UpdatedAt time.Time    `yaml:"updated_at"`
	Peers     []PeerRecord `yaml:"peers"`
}

// PeerRecord is one observed gossip sender.
type PeerRecord struct {
	Addr          string    `yaml:"addr"`
	Source        uint16    `yaml:"source"`
	LastTimestamp float64   `yaml:"last_timestamp"`
	LastValue     float64   `yaml:"last_value"`
	Messages      int       `yaml:"messages"`
	LastSeenAt    time.Time `yaml:"last_seen_at"`
}

// LoadRegistry loads the registry from disk. If the file is missing, returns
// an empty registry.
func LoadRegistry(path string) (*Registry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return &Registry{}, nil
		}
		return nil, err
	}

	var reg Registry
	if err := yaml.Unmarshal(data, &reg); err != nil {
		return nil, err
	}

	return &reg, nil
}

// SaveRegistry writes the registry to disk.
func SaveRegistry(path string, reg *Registry) error {
	if reg == nil {
		return nil
	}
	reg.UpdatedAt = time.Now().UTC()
	data, err := yaml.Marshal(reg)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}

	return os.WriteFile(path, data, 0o600)
}

// Upsert merges one peer record by address, accumulating the message count
// across runs.
func (r *Registry) Upsert(rec PeerRecord) {
	for i := range r.Peers {
		if r.Peers[i].Addr == rec.Addr {
			rec.Messages += r.Peers[i].Messages
			r.Peers[i] = rec
			return
		}
	}
	r.Peers = append(r.Peers, rec)
}
