package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for the proposal service.
type Config struct {
	General       GeneralConfig       `mapstructure:"general"`
	Server        ServerConfig        `mapstructure:"server"`
	LLM           LLMConfig           `mapstructure:"llm"`
	Search        SearchConfig        `mapstructure:"search"`
	Fetch         FetchConfig         `mapstructure:"fetch"`
	Orchestration OrchestrationConfig `mapstructure:"orchestration"`
	Redis         RedisConfig         `mapstructure:"redis"`
	Telemetry     TelemetryConfig     `mapstructure:"telemetry"`
	Runs          RunsConfig          `mapstructure:"runs"`
}

// GeneralConfig contains general application settings
type GeneralConfig struct {
	Debug     bool   `mapstructure:"debug"`
	LogLevel  string `mapstructure:"log_level"`
	OutputDir string `mapstructure:"output_dir"`
}

// ServerConfig contains HTTP server and auth settings
type ServerConfig struct {
	Address     string   `mapstructure:"address"`
	JWTSecret   string   `mapstructure:"jwt_secret"`
	CORSOrigins []string `mapstructure:"cors_origins"`
}

// LLMConfig configures the language-model provider shared by all agents.
type LLMConfig struct {
	Provider    string                 `mapstructure:"provider"`
	APIKey      string                 `mapstructure:"api_key"`
	BaseURL     string                 `mapstructure:"base_url"`
	Model       string                 `mapstructure:"model"`
	Temperature float64                `mapstructure:"temperature"`
	MaxTokens   int                    `mapstructure:"max_tokens"`
	Timeout     time.Duration          `mapstructure:"timeout"`
	Roles       map[string]RoleOptions `mapstructure:"roles"`
}

// RoleOptions overrides model settings for one agent role (planner, researcher, writer, evaluator).
type RoleOptions struct {
	Model       string   `mapstructure:"model"`
	Temperature *float64 `mapstructure:"temperature"`
}

// SearchConfig configures the web search tool used by the researcher.
type SearchConfig struct {
	Provider        string        `mapstructure:"provider"` // serper, brave
	APIKey          string        `mapstructure:"api_key"`
	BaseURL         string        `mapstructure:"base_url"`
	ResultsPerQuery int           `mapstructure:"results_per_query"`
	Timeout         time.Duration `mapstructure:"timeout"`
	Rank            bool          `mapstructure:"rank"`
	MaxQueries      int           `mapstructure:"max_queries"`
}

// FetchConfig controls optional enrichment of search snippets from the source page.
type FetchConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	Mode     string        `mapstructure:"mode"` // http, chromedp
	Timeout  time.Duration `mapstructure:"timeout"`
	MaxChars int           `mapstructure:"max_chars"`
}

// OrchestrationConfig holds the refinement policy and run limits.
type OrchestrationConfig struct {
	AcceptanceThreshold float64       `mapstructure:"acceptance_threshold"`
	MaxIterations       int           `mapstructure:"max_iterations"`
	ResearchParallelism int           `mapstructure:"research_parallelism"`
	CallTimeout         time.Duration `mapstructure:"call_timeout"`
	MaxAttempts         int           `mapstructure:"max_attempts"`
	RetryBackoff        time.Duration `mapstructure:"retry_backoff"`
	FlagThreshold       float64       `mapstructure:"flag_threshold"`
	ResearchOnRefine    bool          `mapstructure:"research_on_refine"`
	LLMQueries          bool          `mapstructure:"llm_queries"`
}

// Normalize fills unset values with defaults.
func (o OrchestrationConfig) Normalize() OrchestrationConfig {
	if o.MaxIterations <= 0 {
		o.MaxIterations = 5
	}
	if o.ResearchParallelism <= 0 {
		o.ResearchParallelism = 4
	}
	if o.CallTimeout <= 0 {
		o.CallTimeout = 2 * time.Minute
	}
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = 3
	}
	if o.RetryBackoff <= 0 {
		o.RetryBackoff = 500 * time.Millisecond
	}
	if o.FlagThreshold <= 0 {
		o.FlagThreshold = o.AcceptanceThreshold
	}
	return o
}

func (o OrchestrationConfig) Validate() error {
	if o.AcceptanceThreshold < 0 || o.AcceptanceThreshold > 10 {
		return fmt.Errorf("orchestration.acceptance_threshold must be within [0, 10]")
	}
	if o.FlagThreshold < 0 || o.FlagThreshold > 10 {
		return fmt.Errorf("orchestration.flag_threshold must be within [0, 10]")
	}
	if o.MaxIterations < 1 {
		return fmt.Errorf("orchestration.max_iterations must be >= 1")
	}
	if o.ResearchParallelism < 1 {
		return fmt.Errorf("orchestration.research_parallelism must be >= 1")
	}
	if o.MaxAttempts < 1 {
		return fmt.Errorf("orchestration.max_attempts must be >= 1")
	}
	return nil
}

// RedisConfig enables mirroring step events into Redis Streams.
type RedisConfig struct {
	Enabled      bool          `mapstructure:"enabled"`
	Address      string        `mapstructure:"address"`
	Password     string        `mapstructure:"password"`
	DB           int           `mapstructure:"db"`
	StreamPrefix string        `mapstructure:"stream_prefix"`
	MaxLen       int64         `mapstructure:"max_len"`
	Timeout      time.Duration `mapstructure:"timeout"`
}

func (r RedisConfig) Validate() error {
	if r.Enabled && strings.TrimSpace(r.Address) == "" {
		return fmt.Errorf("redis.address is required when redis is enabled")
	}
	return nil
}

// TelemetryConfig contains telemetry and monitoring settings
type TelemetryConfig struct {
	Enabled      bool   `mapstructure:"enabled"`
	ServiceName  string `mapstructure:"service_name"`
	OTLPEndpoint string `mapstructure:"otlp_endpoint"`
}

// RunsConfig bounds how long finished runs stay queryable in memory.
type RunsConfig struct {
	Retention time.Duration `mapstructure:"retention"`
	MaxActive int           `mapstructure:"max_active"`
}

// Validate checks every section.
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("config is nil")
	}
	if err := c.Orchestration.Validate(); err != nil {
		return err
	}
	if err := c.Redis.Validate(); err != nil {
		return err
	}
	switch c.Search.Provider {
	case "serper", "brave":
	default:
		return fmt.Errorf("search.provider %q is not supported (serper, brave)", c.Search.Provider)
	}
	switch c.Fetch.Mode {
	case "http", "chromedp":
	default:
		return fmt.Errorf("fetch.mode %q is not supported (http, chromedp)", c.Fetch.Mode)
	}
	if c.LLM.Provider != "openai" {
		return fmt.Errorf("llm.provider %q is not supported", c.LLM.Provider)
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("general.log_level", "info")
	v.SetDefault("general.output_dir", "outputs")
	v.SetDefault("server.address", ":10001")
	v.SetDefault("server.cors_origins", []string{"*"})
	v.SetDefault("llm.provider", "openai")
	v.SetDefault("llm.model", "gpt-4o-mini")
	v.SetDefault("llm.temperature", 0.3)
	v.SetDefault("llm.max_tokens", 4096)
	v.SetDefault("llm.timeout", "90s")
	v.SetDefault("search.provider", "serper")
	v.SetDefault("search.results_per_query", 3)
	v.SetDefault("search.timeout", "15s")
	v.SetDefault("search.rank", true)
	v.SetDefault("search.max_queries", 5)
	v.SetDefault("fetch.mode", "http")
	v.SetDefault("fetch.timeout", "20s")
	v.SetDefault("fetch.max_chars", 1200)
	v.SetDefault("orchestration.acceptance_threshold", 7.0)
	v.SetDefault("orchestration.max_iterations", 5)
	v.SetDefault("orchestration.research_parallelism", 4)
	v.SetDefault("orchestration.call_timeout", "2m")
	v.SetDefault("orchestration.max_attempts", 3)
	v.SetDefault("orchestration.retry_backoff", "500ms")
	v.SetDefault("redis.stream_prefix", "proposer:runs")
	v.SetDefault("redis.max_len", 1000)
	v.SetDefault("redis.timeout", "5s")
	v.SetDefault("telemetry.service_name", "proposer")
	v.SetDefault("runs.retention", "1h")
	v.SetDefault("runs.max_active", 16)
}

// LoadConfig reads the config file (when present) and environment overrides
// prefixed with PROPOSER_. A missing file is fine; a malformed one is not.
func LoadConfig(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if path == "" {
		v.SetConfigName("config")
		v.AddConfigPath("./config")
		v.AddConfigPath(".")
		if exe, err := os.Executable(); err == nil {
			exeDir := filepath.Dir(exe)
			v.AddConfigPath(exeDir)
			v.AddConfigPath(filepath.Join(exeDir, "..", "config"))
		}
	} else {
		v.SetConfigFile(path)
	}

	v.SetEnvPrefix("PROPOSER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for _, key := range []string{"llm.api_key", "llm.base_url", "search.api_key", "search.base_url", "server.jwt_secret", "redis.password", "telemetry.otlp_endpoint"} {
		_ = v.BindEnv(key)
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if cfg.LLM.APIKey == "" {
		cfg.LLM.APIKey = os.Getenv("OPENAI_API_KEY")
	}
	cfg.Orchestration = cfg.Orchestration.Normalize()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}
