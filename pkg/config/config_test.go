package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() *Config {
	cfg := NewDefault("bioactivity")
	src := NewDefaultSourceConfig()
	src.BaseURL = "https://api.example.org/"
	cfg.Sources = map[string]SourceConfig{"chembl": src, "openalex": src}
	cfg.Merge.DefaultPriority = []string{"chembl", "openalex"}
	cfg.Writer.SortKeys = []string{"doi"}
	return cfg
}

func TestNewDefault(t *testing.T) {
	cfg := NewDefault("p")

	assert.Equal(t, "p", cfg.Pipeline.Name)
	assert.Equal(t, 5, cfg.Pipeline.RetainRuns)
	assert.True(t, cfg.Pipeline.ContinueOnSourceError)
	assert.Equal(t, "doi", cfg.Merge.BusinessKeyField)
	assert.Equal(t, "info", cfg.Logging.Level)
}

func TestNewDefaultSourceConfig(t *testing.T) {
	src := NewDefaultSourceConfig()

	assert.Equal(t, 3, src.Retry.MaxRetries)
	assert.Equal(t, time.Second, src.Retry.BackoffBase)
	assert.Equal(t, 2.0, src.Retry.BackoffMultiplier)
	assert.Equal(t, 60*time.Second, src.Retry.MaxBackoff)
	assert.Equal(t, 3, src.RateLimit.MaxCalls)
	assert.Equal(t, 0.2, src.RateLimit.JitterFraction)
	assert.Equal(t, 5, src.CircuitBreaker.FailureThreshold)
	assert.True(t, src.Cache.Enabled)
}

func TestConfig_ValidateAcceptsValid(t *testing.T) {
	assert.NoError(t, validConfig().Validate())
}

func TestConfig_ValidateRejectsBadValues(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"missing pipeline name", func(c *Config) { c.Pipeline.Name = "" }},
		{"zero workers", func(c *Config) { c.Pipeline.Workers = 0 }},
		{"zero retention", func(c *Config) { c.Pipeline.RetainRuns = 0 }},
		{"no sources", func(c *Config) { c.Sources = nil }},
		{"missing base url", func(c *Config) {
			src := c.Sources["chembl"]
			src.BaseURL = ""
			c.Sources["chembl"] = src
		}},
		{"sub-1.0 backoff multiplier", func(c *Config) {
			src := c.Sources["chembl"]
			src.Retry.BackoffMultiplier = 0.5
			c.Sources["chembl"] = src
		}},
		{"zero rate limit", func(c *Config) {
			src := c.Sources["chembl"]
			src.RateLimit.MaxCalls = 0
			c.Sources["chembl"] = src
		}},
		{"missing business key", func(c *Config) { c.Merge.BusinessKeyField = "" }},
		{"priority references unknown source", func(c *Config) {
			c.Merge.Priority = map[string][]string{"title": {"nope"}}
		}},
		{"empty priority list", func(c *Config) {
			c.Merge.Priority = map[string][]string{"title": {}}
		}},
		{"empty default priority", func(c *Config) { c.Merge.DefaultPriority = nil }},
		{"default priority references unknown source", func(c *Config) {
			c.Merge.DefaultPriority = []string{"chembl", "nope"}
		}},
		{"missing sort keys", func(c *Config) { c.Writer.SortKeys = nil }},
		{"missing output dir", func(c *Config) { c.Writer.OutputDir = "" }},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := validConfig()
			tc.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestConfig_PriorityFor(t *testing.T) {
	cfg := validConfig()
	cfg.Merge.Priority = map[string][]string{"title": {"openalex", "chembl"}}

	assert.Equal(t, []string{"openalex", "chembl"}, cfg.Merge.PriorityFor("title"))
	assert.Equal(t, []string{"chembl", "openalex"}, cfg.Merge.PriorityFor("year"))
}

func TestConfig_SourceNamesSorted(t *testing.T) {
	cfg := validConfig()
	assert.Equal(t, []string{"chembl", "openalex"}, cfg.SourceNames())
}

func TestConfig_FingerprintStable(t *testing.T) {
	a := validConfig()
	b := validConfig()

	require.NotEmpty(t, a.Fingerprint())
	assert.Equal(t, a.Fingerprint(), b.Fingerprint())

	b.Pipeline.Workers++
	assert.NotEqual(t, a.Fingerprint(), b.Fingerprint())
}

func TestLoad_AppliesDefaultsAndEnvVars(t *testing.T) {
	t.Setenv("CHEMFLOW_TEST_CONTACT", "team@example.org")

	dir := t.TempDir()
	path := filepath.Join(dir, "chemflow.yaml")
	content := `
pipeline:
  name: bioactivity
  workers: 4
sources:
  chembl:
    base_url: https://www.ebi.ac.uk/chembl/api/data/
    politeness_headers:
      X-Contact: ${CHEMFLOW_TEST_CONTACT}
    cache:
      enabled: true
merge:
  business_key_field: doi
  default_priority: [chembl]
writer:
  output_dir: out
  file_name: records.csv
  sort_keys: [doi]
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	src := cfg.Sources["chembl"]
	assert.Equal(t, "team@example.org", src.PolitenessHeaders["X-Contact"])

	// Unspecified per-source settings come from the defaults
	assert.Equal(t, 3, src.Retry.MaxRetries)
	assert.Equal(t, 15*time.Minute, src.Cache.TTL)
	assert.Equal(t, 10000, src.Cache.MaxEntries)
	assert.Equal(t, "chemflow/1.0", src.UserAgent)
}

func TestLoad_ExplicitZeroValuesSurvive(t *testing.T) {
	path := filepath.Join(t.TempDir(), "chemflow.yaml")
	content := `
pipeline:
  name: bioactivity
  workers: 2
sources:
  chembl:
    base_url: https://www.ebi.ac.uk/chembl/api/data/
    retry:
      max_retries: 0
    rate_limit:
      max_calls: 5
      jitter_fraction: 0
merge:
  business_key_field: doi
  default_priority: [chembl]
writer:
  output_dir: out
  file_name: records.csv
  sort_keys: [doi]
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)

	src := cfg.Sources["chembl"]
	assert.Equal(t, 0, src.Retry.MaxRetries, "max_retries: 0 means no retries, not the default")
	assert.Equal(t, 0.0, src.RateLimit.JitterFraction)
	assert.Equal(t, 5, src.RateLimit.MaxCalls)

	// Settings the file does not mention still come from the defaults,
	// including siblings of explicitly stated fields
	assert.Equal(t, time.Second, src.Retry.BackoffBase)
	assert.Equal(t, time.Second, src.RateLimit.Period)
	assert.Equal(t, "chemflow/1.0", src.UserAgent)
}

func TestSaveRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "chemflow.yaml")

	original := validConfig()
	require.NoError(t, Save(path, original))

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, original.Fingerprint(), loaded.Fingerprint())
}
