// Package clientconfig loads the tuning knobs every other package reads
// at construction time, the way cmd/warren loads its cluster config from
// YAML before wiring up the scheduler and API server.
package clientconfig

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the full set of tunables for the tablet commit client.
type Config struct {
	// MaxConcurrentRequests bounds the client facade's execution semaphore
	// (Component I).
	MaxConcurrentRequests int `yaml:"max_concurrent_requests"`

	// TableMountInfoUpdateRetryCount/Period bound the retry-envelope's
	// response to cache-staleness errors (spec §4.F, §4.I).
	TableMountInfoUpdateRetryCount  int           `yaml:"table_mount_info_update_retry_count"`
	TableMountInfoUpdateRetryPeriod time.Duration `yaml:"table_mount_info_update_retry_period"`

	// MaxRowsPerWriteRequest/MaxRowsPerTransaction bound Component F's
	// batching and per-shard row count.
	MaxRowsPerWriteRequest int `yaml:"max_rows_per_write_request"`
	MaxRowsPerTransaction  int `yaml:"max_rows_per_transaction"`

	// ExpireAfterSuccessfulUpdateTime/ExpireAfterFailedUpdateTime bound
	// Component C's cache entry lifetime.
	ExpireAfterSuccessfulUpdateTime time.Duration `yaml:"expire_after_successful_update_time"`
	ExpireAfterFailedUpdateTime     time.Duration `yaml:"expire_after_failed_update_time"`

	// BackupRequestDelay is Component D's hedged-request delay.
	BackupRequestDelay time.Duration `yaml:"backup_request_delay"`

	// TerminalSignature is the sum every participant cell must observe
	// exactly once per transaction (Component G). spec.md §9 leaves its
	// value as an open question; SPEC_FULL.md resolves it to a configured
	// constant defaulting to 1 (see DESIGN.md "Open-question decisions").
	TerminalSignature int64 `yaml:"terminal_signature"`

	// DefaultTransactionTimeout bounds StartTransaction when the caller
	// doesn't specify one.
	DefaultTransactionTimeout time.Duration `yaml:"default_transaction_timeout"`
}

// Default returns the configuration used when no file is supplied,
// mirroring the magnitudes the teacher's cluster defaults use.
func Default() Config {
	return Config{
		MaxConcurrentRequests:           256,
		TableMountInfoUpdateRetryCount:  3,
		TableMountInfoUpdateRetryPeriod: 500 * time.Millisecond,
		MaxRowsPerWriteRequest:          1000,
		MaxRowsPerTransaction:           100000,
		ExpireAfterSuccessfulUpdateTime: 10 * time.Minute,
		ExpireAfterFailedUpdateTime:     5 * time.Second,
		BackupRequestDelay:              20 * time.Millisecond,
		TerminalSignature:               1,
		DefaultTransactionTimeout:       60 * time.Second,
	}
}

// Load reads a YAML config file, overlaying it onto Default().
func Load(path string) (Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, nil
}
