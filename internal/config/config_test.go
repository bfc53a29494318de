package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newViper(t *testing.T, yaml string) *viper.Viper {
	t.Helper()
	v := viper.New()
	Defaults(v)
	BindEnv(v)
	if yaml != "" {
		path := filepath.Join(t.TempDir(), "sectiongen.yaml")
		require.NoError(t, os.WriteFile(path, []byte(yaml), 0o644))
		v.SetConfigFile(path)
		require.NoError(t, v.ReadInConfig())
	}
	return v
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load(newViper(t, ""))
	require.NoError(t, err)

	assert.Equal(t, 5, cfg.Document.LeafLevel)
	assert.Equal(t, "output", cfg.Output.Dir)
	assert.Equal(t, "svg", cfg.Output.Kind)
	assert.Equal(t, "all_sections.md", cfg.Output.Aggregate)
	assert.Equal(t, "anthropic", cfg.LLM.Backend)
	assert.Equal(t, "ANTHROPIC_API_KEY", cfg.LLM.APIKeyEnv)
	assert.Equal(t, 120*time.Second, cfg.LLM.Timeout)
	assert.Equal(t, 3, cfg.Retry.MaxAttempts)
	assert.Equal(t, 30*time.Second, cfg.Retry.RateLimitDelay)
	assert.Equal(t, 1, cfg.Pipeline.Concurrency)
	assert.Equal(t, 800, cfg.Pipeline.MinContentLength)
	assert.Equal(t, filepath.Join("output", "runs.db"), cfg.LedgerPath())
	assert.NoError(t, cfg.ValidateLocal())
}

func TestLoad_FileAndEnv(t *testing.T) {
	t.Setenv("SECTIONGEN_PIPELINE_CONCURRENCY", "2")
	v := newViper(t, `
document:
  leaf_level: 6
output:
  kind: text
llm:
  backend: dashscope
  timeout: 45s
retry:
  max_attempts: 5
style:
  colors:
    primary: "#0055AA"
ledger:
  path: "off"
`)
	cfg, err := Load(v)
	require.NoError(t, err)

	assert.Equal(t, 6, cfg.Document.LeafLevel)
	assert.Equal(t, "text", cfg.Output.Kind)
	assert.Equal(t, "DASHSCOPE_API_KEY", cfg.LLM.APIKeyEnv)
	assert.Equal(t, 45*time.Second, cfg.LLM.Timeout)
	assert.Equal(t, 5, cfg.Retry.MaxAttempts)
	assert.Equal(t, 2, cfg.Pipeline.Concurrency)
	assert.Equal(t, "#0055AA", cfg.Style.Colors["primary"])
	assert.Empty(t, cfg.LedgerPath())
}

func TestLoad_ClampsNonPositive(t *testing.T) {
	v := newViper(t, "")
	v.Set("retry.max_attempts", 0)
	v.Set("pipeline.concurrency", -1)
	v.Set("retry.growth", 0.5)

	cfg, err := Load(v)
	require.NoError(t, err)
	assert.Equal(t, 3, cfg.Retry.MaxAttempts)
	assert.Equal(t, 1, cfg.Pipeline.Concurrency)
	assert.Equal(t, 2.0, cfg.Retry.Growth)
}

func TestValidate(t *testing.T) {
	base, err := Load(newViper(t, ""))
	require.NoError(t, err)
	base.LLM.APIKeyEnv = "SECTIONGEN_TEST_KEY"

	t.Run("missing key", func(t *testing.T) {
		t.Setenv("SECTIONGEN_TEST_KEY", "")
		assert.ErrorContains(t, base.Validate(), "SECTIONGEN_TEST_KEY is required")
	})

	t.Setenv("SECTIONGEN_TEST_KEY", "secret")
	require.NoError(t, base.Validate())

	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"leaf level", func(c *Config) { c.Document.LeafLevel = 12 }, "leaf_level"},
		{"concurrency", func(c *Config) { c.Pipeline.Concurrency = 4 }, "concurrency"},
		{"attempts", func(c *Config) { c.Retry.MaxAttempts = 11 }, "max_attempts"},
		{"kind", func(c *Config) { c.Output.Kind = "pdf" }, "output.kind"},
		{"backend", func(c *Config) { c.LLM.Backend = "bard" }, "llm.backend"},
		{"rate limit delay", func(c *Config) { c.Retry.RateLimitDelay = time.Second }, "rate_limit_delay"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := base
			tt.mutate(&cfg)
			assert.ErrorContains(t, cfg.Validate(), tt.want)
		})
	}
}
