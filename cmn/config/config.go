// Package config defines the engine's process-wide configuration: a single
// struct loaded from and saved to a JSON file via cmn/jsp, validated through
// the same Validator/PropsValidator shape the teacher's own cmn/config.go
// uses for per-section validation.
package config

import (
	"time"

	"github.com/filehaven/engine/cmn/jsp"
)

// Validator is implemented by config sections that can self-check.
type Validator interface {
	Validate() error
}

// PropsValidator is implemented by config sections whose validity depends
// on external context (e.g. the target storage provider).
type PropsValidator interface {
	ValidateWithArgs(args *ValidationArgs) error
}

// ValidationArgs carries cross-section context a PropsValidator may need.
type ValidationArgs struct {
	Provider string
}

// Config is the engine's top-level configuration.
type Config struct {
	Quota     QuotaConf     `json:"quota"`
	Stream    StreamConf    `json:"stream"`
	Scheduler SchedulerConf `json:"scheduler"`
	JobRunner JobRunnerConf `json:"job_runner"`
	Store     StoreConf     `json:"store"`
	Secrets   SecretsConf   `json:"secrets"`
}

type QuotaConf struct {
	LocalDUTimeout      time.Duration `json:"local_du_timeout"`
	LocalDUMaxEntries   int           `json:"local_du_max_entries"`
	ProviderQuotaTimeout time.Duration `json:"provider_quota_timeout"`
	SnapshotCacheTTL    time.Duration `json:"snapshot_cache_ttl"`
	ProviderQuotaCacheTTL time.Duration `json:"provider_quota_cache_ttl"`
}

func (c *QuotaConf) Validate() error {
	if c.LocalDUTimeout <= 0 {
		c.LocalDUTimeout = 10 * time.Second
	}
	if c.LocalDUMaxEntries <= 0 {
		c.LocalDUMaxEntries = 500_000
	}
	if c.ProviderQuotaTimeout <= 0 {
		c.ProviderQuotaTimeout = 6 * time.Second
	}
	if c.SnapshotCacheTTL <= 0 {
		c.SnapshotCacheTTL = 10 * time.Second
	}
	if c.ProviderQuotaCacheTTL <= 0 {
		c.ProviderQuotaCacheTTL = 60 * time.Second
	}
	return nil
}

type StreamConf struct {
	SizeProbeTimeout             time.Duration `json:"size_probe_timeout"`
	VideoSeekGuardThresholdBytes int64         `json:"video_seek_guard_threshold_bytes"`
	RangeFallbackPolicy          string        `json:"range_fallback_policy"` // "full" | "software"
}

func (c *StreamConf) Validate() error {
	if c.SizeProbeTimeout <= 0 {
		c.SizeProbeTimeout = 8 * time.Second
	}
	if c.VideoSeekGuardThresholdBytes <= 0 {
		c.VideoSeekGuardThresholdBytes = 100 << 20 // 100 MiB, per spec S5
	}
	if c.RangeFallbackPolicy == "" {
		c.RangeFallbackPolicy = "software"
	}
	return nil
}

type SchedulerConf struct {
	Lease        time.Duration `json:"lease"`
	TickInterval time.Duration `json:"tick_interval"`
	RunHistoryCap int          `json:"run_history_cap"`
}

func (c *SchedulerConf) Validate() error {
	if c.Lease <= 0 {
		c.Lease = 5 * time.Minute
	}
	if c.TickInterval <= 0 {
		c.TickInterval = 30 * time.Second
	}
	if c.RunHistoryCap <= 0 {
		c.RunHistoryCap = 200
	}
	return nil
}

type JobRunnerConf struct {
	MaxParallelItems int64 `json:"max_parallel_items"`
}

func (c *JobRunnerConf) Validate() error {
	if c.MaxParallelItems <= 0 {
		c.MaxParallelItems = 8
	}
	return nil
}

type StoreConf struct {
	Path string `json:"path"`
}

func (c *StoreConf) Validate() error {
	if c.Path == "" {
		c.Path = "filehaven.db"
	}
	return nil
}

// SecretsConf carries the master key used to decrypt StorageConfig's
// encrypted_secrets column (§3/§6). MasterKeyHex is 64 hex characters
// (32 raw bytes), the key size nacl/secretbox requires.
type SecretsConf struct {
	MasterKeyHex string `json:"master_key_hex"`
}

func (c *SecretsConf) Validate() error {
	if c.MasterKeyHex == "" {
		// Fixed all-zero dev key: every environment that cares about real
		// confidentiality must set secrets.master_key_hex explicitly.
		c.MasterKeyHex = "0000000000000000000000000000000000000000000000000000000000000000"
	}
	return nil
}

// Validate runs every section's Validator, filling in defaults.
func (c *Config) Validate() error {
	for _, v := range []Validator{&c.Quota, &c.Stream, &c.Scheduler, &c.JobRunner, &c.Store, &c.Secrets} {
		if err := v.Validate(); err != nil {
			return err
		}
	}
	return nil
}

// Default returns a Config with every section defaulted.
func Default() *Config {
	c := &Config{}
	_ = c.Validate()
	return c
}

// Load reads a Config from path, applying defaults to anything unset.
func Load(path string) (*Config, error) {
	c := &Config{}
	if err := jsp.Load(path, c); err != nil {
		return nil, err
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

// Save atomically persists c to path.
func Save(path string, c *Config) error {
	return jsp.Save(path, c)
}
