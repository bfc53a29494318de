package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// EnvPrefix prefixes environment overrides: SECTIONGEN_LLM_MODEL sets llm.model.
const EnvPrefix = "SECTIONGEN"

type Config struct {
	Document Document `mapstructure:"document"`
	Output   Output   `mapstructure:"output"`
	LLM      LLM      `mapstructure:"llm"`
	Retry    Retry    `mapstructure:"retry"`
	Pipeline Pipeline `mapstructure:"pipeline"`
	Prompts  Prompts  `mapstructure:"prompts"`
	Style    Style    `mapstructure:"style"`
	Status   Status   `mapstructure:"status"`
	Ledger   Ledger   `mapstructure:"ledger"`
}

type Document struct {
	LeafLevel int `mapstructure:"leaf_level"`
}

type Output struct {
	Dir       string `mapstructure:"dir"`
	Kind      string `mapstructure:"kind"`
	Aggregate string `mapstructure:"aggregate"`
	Report    string `mapstructure:"report"`
	Resume    string `mapstructure:"resume"`
}

// LLM selects the generation backend. The API key itself never lives in the
// config file; APIKeyEnv names the variable holding it.
type LLM struct {
	Backend     string        `mapstructure:"backend"`
	Model       string        `mapstructure:"model"`
	BaseURL     string        `mapstructure:"base_url"`
	APIKeyEnv   string        `mapstructure:"api_key_env"`
	Temperature float64       `mapstructure:"temperature"`
	MaxTokens   int           `mapstructure:"max_tokens"`
	Timeout     time.Duration `mapstructure:"timeout"`
}

type Retry struct {
	MaxAttempts     int           `mapstructure:"max_attempts"`
	BaseDelay       time.Duration `mapstructure:"base_delay"`
	Growth          float64       `mapstructure:"growth"`
	MaxDelay        time.Duration `mapstructure:"max_delay"`
	Jitter          time.Duration `mapstructure:"jitter"`
	RateLimitDelay  time.Duration `mapstructure:"rate_limit_delay"`
	RateLimitJitter time.Duration `mapstructure:"rate_limit_jitter"`
}

type Pipeline struct {
	Concurrency      int           `mapstructure:"concurrency"`
	MinContentLength int           `mapstructure:"min_content_length"`
	Rest             time.Duration `mapstructure:"rest"`
}

type Prompts struct {
	Dir string `mapstructure:"dir"`
}

type Style struct {
	BgColor   string            `mapstructure:"bg_color"`
	TextColor string            `mapstructure:"text_color"`
	Font      string            `mapstructure:"font"`
	Colors    map[string]string `mapstructure:"colors"`
}

// Status configures the optional progress server. An empty Addr disables it.
type Status struct {
	Addr   string `mapstructure:"addr"`
	APIKey string `mapstructure:"api_key"`
}

type Ledger struct {
	Path string `mapstructure:"path"`
}

// Defaults registers every key's default on v.
func Defaults(v *viper.Viper) {
	v.SetDefault("document.leaf_level", 5)

	v.SetDefault("output.dir", "output")
	v.SetDefault("output.kind", "svg")
	v.SetDefault("output.aggregate", "all_sections.md")
	v.SetDefault("output.report", "report.json")
	v.SetDefault("output.resume", "resume.yaml")

	v.SetDefault("llm.backend", "anthropic")
	v.SetDefault("llm.model", "")
	v.SetDefault("llm.base_url", "")
	v.SetDefault("llm.api_key_env", "")
	v.SetDefault("llm.temperature", 0.7)
	v.SetDefault("llm.max_tokens", 4096)
	v.SetDefault("llm.timeout", 120*time.Second)

	v.SetDefault("retry.max_attempts", 3)
	v.SetDefault("retry.base_delay", 5*time.Second)
	v.SetDefault("retry.growth", 2.0)
	v.SetDefault("retry.max_delay", 120*time.Second)
	v.SetDefault("retry.jitter", 3*time.Second)
	v.SetDefault("retry.rate_limit_delay", 30*time.Second)
	v.SetDefault("retry.rate_limit_jitter", 10*time.Second)

	v.SetDefault("pipeline.concurrency", 1)
	v.SetDefault("pipeline.min_content_length", 800)
	v.SetDefault("pipeline.rest", time.Duration(0))

	v.SetDefault("prompts.dir", "prompts")

	v.SetDefault("style.bg_color", "#FFFFFF")
	v.SetDefault("style.text_color", "#333333")
	v.SetDefault("style.font", "sans-serif")
	v.SetDefault("style.colors", map[string]string{})

	v.SetDefault("status.addr", "")
	v.SetDefault("status.api_key", "")

	v.SetDefault("ledger.path", "")
}

// BindEnv makes every key overridable through SECTIONGEN_* variables.
func BindEnv(v *viper.Viper) {
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
}

// Load unmarshals v into a Config, putting non-positive numbers back to
// their defaults.
func Load(v *viper.Viper) (Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}

	if cfg.Document.LeafLevel <= 0 {
		cfg.Document.LeafLevel = 5
	}
	if cfg.LLM.MaxTokens <= 0 {
		cfg.LLM.MaxTokens = 4096
	}
	if cfg.LLM.Timeout <= 0 {
		cfg.LLM.Timeout = 120 * time.Second
	}
	if cfg.Retry.MaxAttempts <= 0 {
		cfg.Retry.MaxAttempts = 3
	}
	if cfg.Retry.Growth < 1 {
		cfg.Retry.Growth = 2
	}
	if cfg.Retry.MaxDelay <= 0 {
		cfg.Retry.MaxDelay = 120 * time.Second
	}
	if cfg.Pipeline.Concurrency <= 0 {
		cfg.Pipeline.Concurrency = 1
	}
	if cfg.Pipeline.MinContentLength < 0 {
		cfg.Pipeline.MinContentLength = 0
	}
	if cfg.LLM.APIKeyEnv == "" {
		cfg.LLM.APIKeyEnv = DefaultAPIKeyEnv(cfg.LLM.Backend)
	}
	return cfg, nil
}

// DefaultAPIKeyEnv names the conventional key variable for a backend.
func DefaultAPIKeyEnv(backend string) string {
	switch strings.ToLower(backend) {
	case "openai":
		return "OPENAI_API_KEY"
	case "openrouter":
		return "OPENROUTER_API_KEY"
	case "dashscope":
		return "DASHSCOPE_API_KEY"
	default:
		return "ANTHROPIC_API_KEY"
	}
}

// APIKey reads the generation service key from the environment.
func (c Config) APIKey() string {
	return os.Getenv(c.LLM.APIKeyEnv)
}

// LedgerPath is the run history database, or "" when disabled.
func (c Config) LedgerPath() string {
	switch c.Ledger.Path {
	case "off":
		return ""
	case "":
		return filepath.Join(c.Output.Dir, "runs.db")
	default:
		return c.Ledger.Path
	}
}

// Validate checks the settings a run cannot start without.
func (c Config) Validate() error {
	if c.APIKey() == "" {
		return fmt.Errorf("%s is required", c.LLM.APIKeyEnv)
	}
	return c.ValidateLocal()
}

// ValidateLocal checks everything except credentials, for commands that
// never call the service.
func (c Config) ValidateLocal() error {
	if c.Document.LeafLevel < 1 || c.Document.LeafLevel > 9 {
		return fmt.Errorf("document.leaf_level must be 1..9, got %d", c.Document.LeafLevel)
	}
	if c.Output.Dir == "" {
		return fmt.Errorf("output.dir is required")
	}
	switch strings.ToLower(c.Output.Kind) {
	case "svg", "text", "markdown", "md":
	default:
		return fmt.Errorf("unknown output.kind %q", c.Output.Kind)
	}
	switch strings.ToLower(c.LLM.Backend) {
	case "anthropic", "claude", "openai", "openrouter", "dashscope":
	default:
		return fmt.Errorf("unknown llm.backend %q", c.LLM.Backend)
	}
	if c.Pipeline.Concurrency < 1 || c.Pipeline.Concurrency > 3 {
		return fmt.Errorf("pipeline.concurrency must be 1..3, got %d", c.Pipeline.Concurrency)
	}
	if c.Retry.MaxAttempts < 1 || c.Retry.MaxAttempts > 10 {
		return fmt.Errorf("retry.max_attempts must be 1..10, got %d", c.Retry.MaxAttempts)
	}
	if c.Retry.RateLimitDelay < c.Retry.Jitter {
		return fmt.Errorf("retry.rate_limit_delay (%s) must be at least retry.jitter (%s)",
			c.Retry.RateLimitDelay, c.Retry.Jitter)
	}
	return nil
}
