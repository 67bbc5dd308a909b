// Package config holds the reasoning store's own bootstrap configuration
// (storage location, busy timeout, busy-retry count). It is deliberately small: the
// store does not own CLI flags or host-level policy, only the handful of
// knobs it needs to open its database file.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Store is the store's own bootstrap configuration, decoded from a YAML
// file if one is present and otherwise defaulted.
type Store struct {
	// StorageDir is the directory containing the store's database file
	// (named literally "branchmind_rust.db" per the persisted-state
	// contract).
	StorageDir string `yaml:"storage_dir"`

	// BusyTimeoutMs is the SQLITE_BUSY wait in milliseconds. store.Open
	// does not read it; it always sets a 5000 ms busy_timeout.
	BusyTimeoutMs int `yaml:"busy_timeout_ms"`

	// MaxBusyRetries is the retry count for the busy-retry backoff loop.
	// clock.BusyRetry does not read it; it always allows 5 retries.
	MaxBusyRetries int `yaml:"max_busy_retries"`
}

// Default returns the store's default bootstrap configuration.
func Default() Store {
	return Store{
		StorageDir:     ".",
		BusyTimeoutMs:  5000,
		MaxBusyRetries: 5,
	}
}

// Load reads a YAML config file at path, falling back to Default() values
// for any field the file doesn't set. A missing file is not an error;
// it just yields defaults.
func Load(path string) (Store, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, fmt.Errorf("reading config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parsing config %s: %w", path, err)
	}
	return cfg, nil
}

// DBPath returns the path to the store's database file under StorageDir.
func (s Store) DBPath() string {
	return s.StorageDir + "/branchmind_rust.db"
}
