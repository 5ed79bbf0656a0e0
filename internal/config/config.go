// Package config defines ssndb's tunables and loads them from a TOML
// file via github.com/BurntSushi/toml, the same way talent-plan-tinykv's
// config package loads server configuration.
package config

import (
	"fmt"
	"os"

	"github.com/BurntSushi/toml"
)

// Config holds every core tunable.
type Config struct {
	// OldVersionThreshold is the LSN-age above which a committed version
	// is read without SSN stamping or reader-list registration.
	OldVersionThreshold uint64 `toml:"old_version_threshold"`
	// ReadCommittedSpin, when true, spins for commit settlement on an
	// in-flight version instead of skipping past it during traversal.
	ReadCommittedSpin bool `toml:"read_committed_spin"`
	// ReaderBitmapWidth is the number of concurrent-reader slots the
	// global reader-slot table offers.
	ReaderBitmapWidth int `toml:"reader_bitmap_width"`
	// OIDExtentSize is the number of OIDs reserved per extent fetch.
	OIDExtentSize uint32 `toml:"oid_extent_size"`
	// DoEarlySSNChecks, when true, runs the SSN exclusion check during
	// the read path as soon as a read narrows sstamp/pstamp, aborting
	// early instead of waiting for commit.
	DoEarlySSNChecks bool `toml:"do_early_ssn_checks"`

	// MaxCommitSpin bounds WaitForCommitResult's spin count before it
	// gives up and returns ErrSpinExhausted, a supplemental safeguard
	// against the unbounded spin the source implementation allows.
	MaxCommitSpin int `toml:"max_commit_spin"`
}

// Default returns the configuration spec.md's defaults describe.
func Default() Config {
	return Config{
		OldVersionThreshold: 1<<32 - 1,
		ReadCommittedSpin:   false,
		ReaderBitmapWidth:   24,
		OIDExtentSize:       8192,
		DoEarlySSNChecks:    false,
		MaxCommitSpin:       10000,
	}
}

// Load reads path as TOML, starting from Default() so a partial file
// only overrides the fields it mentions.
func Load(path string) (Config, error) {
	cfg := Default()
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return Config{}, fmt.Errorf("config: decode %s: %w", path, err)
	}
	return cfg, nil
}

// LoadOrDefault is Load, falling back to Default() when path is empty or
// does not exist (so the demo CLI can run with zero setup).
func LoadOrDefault(path string) (Config, error) {
	if path == "" {
		return Default(), nil
	}
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return Default(), nil
		}
		return Config{}, err
	}
	return Load(path)
}
