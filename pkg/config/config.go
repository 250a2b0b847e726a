// Package config provides the unified configuration system for chemflow.
// It defines a single Config structure consumed by the pipeline core,
// covering the external sources, the merge precedence lists, the output
// writer, and run-level behavior.
//
// The configuration is organized into logical sections:
//   - Sources: one entry per external REST API, each with its own rate
//     limit, circuit breaker, retry, and cache settings
//   - Pipeline: worker counts, run deadline, retention, partial-source policy
//   - Merge: per-field source precedence lists and the business key
//   - Writer: output directory, column order, sort keys, compression
//   - Logging: level and encoding
//
// Example usage:
//
//	cfg, err := config.Load("chemflow.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	if err := cfg.Validate(); err != nil {
//	    log.Fatal(err)
//	}
package config

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"runtime"
	"sort"
	"time"

	json "github.com/goccy/go-json"
	"gopkg.in/yaml.v3"
)

// Config is the single configuration object consumed by the pipeline core.
// It is loaded once per run and treated as immutable for the run's lifetime.
type Config struct {
	// Pipeline identifies the logical pipeline; runs of the same pipeline
	// share retention accounting
	Pipeline PipelineConfig `yaml:"pipeline" json:"pipeline"`

	// Sources holds per-source client configuration, keyed by source name
	Sources map[string]SourceConfig `yaml:"sources" json:"sources"`

	// Merge controls precedence-based multi-source field resolution
	Merge MergeConfig `yaml:"merge" json:"merge"`

	// Writer controls the deterministic output artifact
	Writer WriterConfig `yaml:"writer" json:"writer"`

	// Logging configures structured log output
	Logging LoggingConfig `yaml:"logging" json:"logging"`
}

// PipelineConfig contains run-level settings.
type PipelineConfig struct {
	// Name identifies the logical pipeline
	Name string `yaml:"name" json:"name"`
	// Workers is the bounded worker count per source during Extract
	Workers int `yaml:"workers" json:"workers"`
	// RunDeadline is an optional wall-clock cutoff for the whole run
	// (0 = no deadline); checked at stage boundaries and between pages
	RunDeadline time.Duration `yaml:"run_deadline" json:"run_deadline"`
	// RetainRuns is how many completed runs to keep during retention cleanup
	RetainRuns int `yaml:"retain_runs" json:"retain_runs"`
	// ContinueOnSourceError lets the run proceed with reduced enrichment
	// when one source's extraction fails
	ContinueOnSourceError bool `yaml:"continue_on_source_error" json:"continue_on_source_error"`
}

// SourceConfig is the per-source client configuration.
type SourceConfig struct {
	// BaseURL is the API root for this source
	BaseURL string `yaml:"base_url" json:"base_url"`
	// UserAgent identifies this client to the upstream source
	UserAgent string `yaml:"user_agent" json:"user_agent"`
	// PolitenessHeaders are sent verbatim on every request (e.g. a contact
	// email header requested by the upstream source); treated as opaque
	PolitenessHeaders map[string]string `yaml:"politeness_headers" json:"politeness_headers"`

	// ConnectTimeout bounds connection establishment
	ConnectTimeout time.Duration `yaml:"connect_timeout" json:"connect_timeout"`
	// RequestTimeout bounds a single HTTP call end to end
	RequestTimeout time.Duration `yaml:"request_timeout" json:"request_timeout"`

	Retry          RetryConfig          `yaml:"retry" json:"retry"`
	RateLimit      RateLimitConfig      `yaml:"rate_limit" json:"rate_limit"`
	CircuitBreaker CircuitBreakerConfig `yaml:"circuit_breaker" json:"circuit_breaker"`
	Cache          CacheConfig          `yaml:"cache" json:"cache"`
}

// RetryConfig controls retry/backoff behavior for one source.
type RetryConfig struct {
	// MaxRetries is the maximum number of retry attempts after the first call
	MaxRetries int `yaml:"max_retries" json:"max_retries"`
	// BackoffBase is the initial backoff delay
	BackoffBase time.Duration `yaml:"backoff_base" json:"backoff_base"`
	// BackoffMultiplier increases the delay exponentially per attempt
	BackoffMultiplier float64 `yaml:"backoff_multiplier" json:"backoff_multiplier"`
	// MaxBackoff caps any single wait, including server-stated Retry-After hints
	MaxBackoff time.Duration `yaml:"max_backoff" json:"max_backoff"`
}

// RateLimitConfig controls token-bucket admission for one source.
type RateLimitConfig struct {
	// MaxCalls is the bucket capacity and the call budget per Period
	MaxCalls int `yaml:"max_calls" json:"max_calls"`
	// Period is the window over which MaxCalls applies
	Period time.Duration `yaml:"period" json:"period"`
	// Jitter enables randomized sleep when the bucket is empty
	Jitter bool `yaml:"jitter" json:"jitter"`
	// JitterFraction is the spread applied to the sleep (default 0.2 = ±20%)
	JitterFraction float64 `yaml:"jitter_fraction" json:"jitter_fraction"`
}

// CircuitBreakerConfig controls the per-source failure gate.
type CircuitBreakerConfig struct {
	// FailureThreshold is the consecutive-failure count that opens the circuit
	FailureThreshold int `yaml:"failure_threshold" json:"failure_threshold"`
	// Cooldown is how long the circuit stays open before a half-open probe
	Cooldown time.Duration `yaml:"cooldown" json:"cooldown"`
}

// CacheConfig controls response memoization for idempotent requests.
type CacheConfig struct {
	// Enabled toggles the cache for this source
	Enabled bool `yaml:"enabled" json:"enabled"`
	// TTL is how long an entry is served before being treated as absent
	TTL time.Duration `yaml:"ttl" json:"ttl"`
	// MaxEntries bounds the cache; the oldest-inserted entry is evicted first
	MaxEntries int `yaml:"max_entries" json:"max_entries"`
}

// MergeConfig controls precedence-based field resolution.
type MergeConfig struct {
	// BusinessKeyField uniquely identifies one logical entity across sources
	BusinessKeyField string `yaml:"business_key_field" json:"business_key_field"`
	// Priority maps each output field to an ordered source precedence list
	Priority map[string][]string `yaml:"priority" json:"priority"`
	// DefaultPriority applies to fields without an explicit list
	DefaultPriority []string `yaml:"default_priority" json:"default_priority"`
}

// WriterConfig controls the deterministic output artifact.
type WriterConfig struct {
	// OutputDir is the root directory for run artifacts and manifests
	OutputDir string `yaml:"output_dir" json:"output_dir"`
	// FileName is the artifact file name within the run directory
	FileName string `yaml:"file_name" json:"file_name"`
	// Columns is the fixed output column order (system hash columns are
	// appended automatically)
	Columns []string `yaml:"columns" json:"columns"`
	// SortKeys are the fields rows are sorted by, ascending, nulls last
	SortKeys []string `yaml:"sort_keys" json:"sort_keys"`
	// SchemaVersion is recorded in the run manifest
	SchemaVersion string `yaml:"schema_version" json:"schema_version"`
	// Compress gzips the published artifact
	Compress bool `yaml:"compress" json:"compress"`
}

// LoggingConfig configures structured logging.
type LoggingConfig struct {
	// Level sets logging verbosity (debug, info, warn, error)
	Level string `yaml:"level" json:"level"`
	// Encoding selects json or console output
	Encoding string `yaml:"encoding" json:"encoding"`
	// Development enables colorized, stack-traced output
	Development bool `yaml:"development" json:"development"`
}

// NewDefaultSourceConfig returns per-source defaults that respect public API
// politeness guidelines. Specific sources override as needed.
func NewDefaultSourceConfig() SourceConfig {
	return SourceConfig{
		UserAgent:      "chemflow/1.0",
		ConnectTimeout: 10 * time.Second,
		RequestTimeout: 30 * time.Second,
		Retry: RetryConfig{
			MaxRetries:        3,
			BackoffBase:       time.Second,
			BackoffMultiplier: 2.0,
			MaxBackoff:        60 * time.Second,
		},
		RateLimit: RateLimitConfig{
			MaxCalls:       3,
			Period:         time.Second,
			Jitter:         true,
			JitterFraction: 0.2,
		},
		CircuitBreaker: CircuitBreakerConfig{
			FailureThreshold: 5,
			Cooldown:         30 * time.Second,
		},
		Cache: CacheConfig{
			Enabled:    true,
			TTL:        15 * time.Minute,
			MaxEntries: 10000,
		},
	}
}

// UnmarshalYAML decodes a source section over the defaults. Absent fields
// keep their default values; fields the file states explicitly survive as
// written, including zero values such as retry.max_retries: 0 or
// rate_limit.jitter_fraction: 0.
func (s *SourceConfig) UnmarshalYAML(value *yaml.Node) error {
	type sourceConfig SourceConfig
	decoded := sourceConfig(NewDefaultSourceConfig())
	if err := value.Decode(&decoded); err != nil {
		return err
	}
	*s = SourceConfig(decoded)
	return nil
}

// NewDefault creates a Config with production-ready defaults.
func NewDefault(pipelineName string) *Config {
	return &Config{
		Pipeline: PipelineConfig{
			Name:                  pipelineName,
			Workers:               runtime.NumCPU(),
			RetainRuns:            5,
			ContinueOnSourceError: true,
		},
		Sources: make(map[string]SourceConfig),
		Merge: MergeConfig{
			BusinessKeyField: "doi",
			Priority:         make(map[string][]string),
		},
		Writer: WriterConfig{
			OutputDir:     "output",
			FileName:      "records.csv",
			SchemaVersion: "1.0.0",
		},
		Logging: LoggingConfig{
			Level:    "info",
			Encoding: "json",
		},
	}
}

// Validate validates the configuration for correctness. Connectors call this
// after loading configuration to catch errors before any network I/O.
func (c *Config) Validate() error {
	if c.Pipeline.Name == "" {
		return fmt.Errorf("pipeline.name is required")
	}
	if c.Pipeline.Workers <= 0 {
		return fmt.Errorf("pipeline.workers must be positive")
	}
	if c.Pipeline.RetainRuns < 1 {
		return fmt.Errorf("pipeline.retain_runs must be at least 1")
	}
	if len(c.Sources) == 0 {
		return fmt.Errorf("at least one source is required")
	}
	for name, src := range c.Sources {
		if src.BaseURL == "" {
			return fmt.Errorf("source %s: base_url is required", name)
		}
		if src.UserAgent == "" {
			return fmt.Errorf("source %s: user_agent is required", name)
		}
		if src.Retry.MaxRetries < 0 {
			return fmt.Errorf("source %s: retry.max_retries cannot be negative", name)
		}
		if src.Retry.BackoffMultiplier < 1.0 {
			return fmt.Errorf("source %s: retry.backoff_multiplier must be at least 1.0", name)
		}
		if src.RateLimit.MaxCalls <= 0 {
			return fmt.Errorf("source %s: rate_limit.max_calls must be positive", name)
		}
		if src.RateLimit.Period <= 0 {
			return fmt.Errorf("source %s: rate_limit.period must be positive", name)
		}
		if src.CircuitBreaker.FailureThreshold <= 0 {
			return fmt.Errorf("source %s: circuit_breaker.failure_threshold must be positive", name)
		}
		if src.Cache.Enabled && src.Cache.MaxEntries <= 0 {
			return fmt.Errorf("source %s: cache.max_entries must be positive when cache is enabled", name)
		}
	}
	if c.Merge.BusinessKeyField == "" {
		return fmt.Errorf("merge.business_key_field is required")
	}
	for field, priority := range c.Merge.Priority {
		if len(priority) == 0 {
			return fmt.Errorf("merge.priority[%s] is empty", field)
		}
		for _, src := range priority {
			if _, ok := c.Sources[src]; !ok {
				return fmt.Errorf("merge.priority[%s] references unknown source %s", field, src)
			}
		}
	}
	// Fields without an explicit priority list fall back to the default, so
	// an empty or dangling default would silently resolve them to null
	if len(c.Merge.DefaultPriority) == 0 {
		return fmt.Errorf("merge.default_priority is required")
	}
	for _, src := range c.Merge.DefaultPriority {
		if _, ok := c.Sources[src]; !ok {
			return fmt.Errorf("merge.default_priority references unknown source %s", src)
		}
	}
	if c.Writer.OutputDir == "" {
		return fmt.Errorf("writer.output_dir is required")
	}
	if c.Writer.FileName == "" {
		return fmt.Errorf("writer.file_name is required")
	}
	if len(c.Writer.SortKeys) == 0 {
		return fmt.Errorf("writer.sort_keys is required")
	}
	return nil
}

// PriorityFor returns the precedence list for an output field, falling back
// to the default priority list.
func (m *MergeConfig) PriorityFor(field string) []string {
	if p, ok := m.Priority[field]; ok {
		return p
	}
	return m.DefaultPriority
}

// SourceNames returns the configured source names in stable sorted order.
func (c *Config) SourceNames() []string {
	names := make([]string, 0, len(c.Sources))
	for name := range c.Sources {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Fingerprint returns a stable hash of the configuration, recorded in the run
// manifest so otherwise-identical runs can be compared.
func (c *Config) Fingerprint() string {
	// goccy/go-json sorts map keys, so the encoding is stable across runs
	data, err := json.Marshal(c)
	if err != nil {
		return ""
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
