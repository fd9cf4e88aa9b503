package store

import (
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Registry persists the tracked-device state between bridge restarts so
// presence does not flap to away on every start.
type Registry struct {
	UpdatedAt time.Time       `yaml:"updated_at"`
	Devices   []TrackedDevice `yaml:"devices"`
}

// TrackedDevice is the persisted presence state for one tracked device.
// The bridge API also serves these entries, hence the JSON tags.
type TrackedDevice struct {
	ID         string    `yaml:"id" json:"id"`
	Name       string    `yaml:"name" json:"name"`
	Home       bool      `yaml:"home" json:"home"`
	LastSeenAt time.Time `yaml:"last_seen_at" json:"last_seen_at"`
}

// Find returns the tracked device with the given ID, or nil.
func (r *Registry) Find(id string) *TrackedDevice {
	for i := range r.Devices {
		if r.Devices[i].ID == id {
			return &r.Devices[i]
		}
	}
	return nil
}

// LoadRegistry loads the registry from disk. If the file is missing,
// returns an empty registry.
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

	return os.WriteFile(path, data, 0o644)
}
