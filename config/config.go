package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds all settings of adgenius.
type Config struct {
	LLM        LLMConfig        `yaml:"llm"`
	Analysis   AnalysisConfig   `yaml:"analysis"`
	Fetch      FetchConfig      `yaml:"fetch"`
	Generation GenerationConfig `yaml:"generation"`
	Compliance ComplianceConfig `yaml:"compliance"`
	Output     OutputConfig     `yaml:"output"`
	Server     ServerConfig     `yaml:"server"`
	Batch      BatchConfig      `yaml:"batch"`
	Schedules  []Schedule       `yaml:"schedules"`
}

// LLMConfig 选择模型供应商：openai / deepseek / gemini / mock。
type LLMConfig struct {
	Provider string `yaml:"provider"`
	Model    string `yaml:"model"`
	APIKey   string `yaml:"api_key"`
	BaseURL  string `yaml:"base_url"`
}

// AnalysisConfig controls the remote strategist engine. With UseRemote false only the
// local agent analyzes.
type AnalysisConfig struct {
	UseRemote      bool   `yaml:"use_remote"`
	RemoteEndpoint string `yaml:"remote_endpoint"`
	RemoteToken    string `yaml:"remote_token"`
	UseADC         bool   `yaml:"use_adc"`
	RemoteTimeout  string `yaml:"remote_timeout"`
	MaxInputChars  int    `yaml:"max_input_chars"`
}

type FetchConfig struct {
	Timeout         string `yaml:"timeout"`
	UserAgent       string `yaml:"user_agent"`
	BlockedStatuses []int  `yaml:"blocked_statuses"`
	MinContentChars int    `yaml:"min_content_chars"`
	MaxContentChars int    `yaml:"max_content_chars"`
}

type GenerationConfig struct {
	MaxAttempts int `yaml:"max_attempts"`
}

// ComplianceConfig: mode "rules" uses the rule engine only, "agent" adds the reviewer agent.
type ComplianceConfig struct {
	Mode string `yaml:"mode"`
}

type OutputConfig struct {
	Dir   string      `yaml:"dir"`
	GCS   GCSConfig   `yaml:"gcs"`
	Kafka KafkaConfig `yaml:"kafka"`
}

type GCSConfig struct {
	Bucket string `yaml:"bucket"`
	Prefix string `yaml:"prefix"`
}

type KafkaConfig struct {
	Broker string `yaml:"broker"`
	Topic  string `yaml:"topic"`
}

type ServerConfig struct {
	Addr           string  `yaml:"addr"`
	RateLimit      float64 `yaml:"rate_limit"`
	RateBurst      int     `yaml:"rate_burst"`
	MaxConcurrency int     `yaml:"max_concurrency"`
	// DocumentsDir confines document_path in API requests; empty rejects them.
	DocumentsDir string `yaml:"documents_dir"`
	TrustProxy   bool   `yaml:"trust_proxy"`
}

type BatchConfig struct {
	Concurrency int `yaml:"concurrency"`
}

// Schedule is a recurring run of one website.
type Schedule struct {
	Spec         string `yaml:"spec"`
	URL          string `yaml:"url"`
	DocumentPath string `yaml:"document_path"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		LLM: LLMConfig{
			Provider: "gemini",
			Model:    "gemini-2.5-flash",
		},
		Analysis: AnalysisConfig{
			RemoteTimeout: "120s",
			MaxInputChars: 30000,
		},
		Fetch: FetchConfig{
			Timeout:         "15s",
			BlockedStatuses: []int{401, 403, 500},
			MinContentChars: 500,
			MaxContentChars: 15000,
		},
		Generation: GenerationConfig{MaxAttempts: 3},
		Compliance: ComplianceConfig{Mode: "rules"},
		Output:     OutputConfig{Dir: "."},
		Server: ServerConfig{
			Addr:           ":8080",
			RateLimit:      1,
			RateBurst:      3,
			MaxConcurrency: 4,
		},
		Batch: BatchConfig{Concurrency: 4},
	}
}

// Load reads the YAML file at path (defaults when it does not exist), loads .env next to
// the working directory, then applies environment overrides.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	cfg := DefaultConfig()
	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("failed to parse config: %w", err)
			}
		case os.IsNotExist(err):
		default:
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	cfg.applyEnvOverrides()
	return cfg, nil
}

// Save writes the configuration as YAML.
func (c *Config) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("ADGENIUS_LLM_PROVIDER"); v != "" {
		c.LLM.Provider = v
	}
	switch c.LLM.Provider {
	case "gemini":
		if key := os.Getenv("GEMINI_API_KEY"); key != "" {
			c.LLM.APIKey = key
		}
	case "openai":
		if key := os.Getenv("OPENAI_API_KEY"); key != "" {
			c.LLM.APIKey = key
		}
	case "deepseek":
		if key := os.Getenv("DEEPSEEK_API_KEY"); key != "" {
			c.LLM.APIKey = key
		}
	}
	if v := os.Getenv("ADGENIUS_LLM_MODEL"); v != "" {
		c.LLM.Model = v
	}

	if v := os.Getenv("ADGENIUS_REMOTE_ENDPOINT"); v != "" {
		c.Analysis.RemoteEndpoint = v
		c.Analysis.UseRemote = true
	}
	if v := os.Getenv("ADGENIUS_REMOTE_TOKEN"); v != "" {
		c.Analysis.RemoteToken = v
	}
	if v, ok := envBool("ADGENIUS_USE_REMOTE"); ok {
		c.Analysis.UseRemote = v
	}

	if v := os.Getenv("ADGENIUS_OUTPUT_DIR"); v != "" {
		c.Output.Dir = v
	}
	if v := os.Getenv("ADGENIUS_GCS_BUCKET"); v != "" {
		c.Output.GCS.Bucket = v
	}
	if v := os.Getenv("KAFKA_BROKER"); v != "" {
		c.Output.Kafka.Broker = v
	}
	if v := os.Getenv("ADGENIUS_COMPLIANCE_MODE"); v != "" {
		c.Compliance.Mode = v
	}
	if v := os.Getenv("ADGENIUS_DOCUMENTS_DIR"); v != "" {
		c.Server.DocumentsDir = v
	}
	if v := os.Getenv("PORT"); v != "" {
		c.Server.Addr = ":" + strings.TrimPrefix(v, ":")
	}
}

func envBool(key string) (bool, bool) {
	v := os.Getenv(key)
	if v == "" {
		return false, false
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, false
	}
	return b, true
}

// FetchTimeout returns the website fetch timeout.
func (c *Config) FetchTimeout() time.Duration {
	return parseDuration(c.Fetch.Timeout, 15*time.Second)
}

// RemoteTimeout returns the remote engine request timeout.
func (c *Config) RemoteTimeout() time.Duration {
	return parseDuration(c.Analysis.RemoteTimeout, 120*time.Second)
}

func parseDuration(s string, def time.Duration) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return def
	}
	return d
}

// Validate checks required values and ranges.
func (c *Config) Validate() error {
	switch c.LLM.Provider {
	case "openai", "gemini":
		if c.LLM.APIKey == "" {
			return &ConfigError{Field: "llm.api_key", Message: fmt.Sprintf("API key is required for provider %s", c.LLM.Provider)}
		}
	case "deepseek":
		if c.LLM.APIKey == "" {
			return &ConfigError{Field: "llm.api_key", Message: "API key is required for provider deepseek"}
		}
		if c.LLM.BaseURL == "" {
			return &ConfigError{Field: "llm.base_url", Message: "deepseek requires an OpenAI-compatible base_url"}
		}
	case "mock":
	case "":
		return &ConfigError{Field: "llm.provider", Message: "provider is required"}
	default:
		return &ConfigError{Field: "llm.provider", Message: fmt.Sprintf("unsupported provider %q", c.LLM.Provider)}
	}

	if c.Analysis.UseRemote && c.Analysis.RemoteEndpoint == "" {
		return &ConfigError{Field: "analysis.remote_endpoint", Message: "required when use_remote is true"}
	}
	if _, err := time.ParseDuration(c.Fetch.Timeout); c.Fetch.Timeout != "" && err != nil {
		return &ConfigError{Field: "fetch.timeout", Message: err.Error()}
	}
	if c.Generation.MaxAttempts < 1 {
		return &ConfigError{Field: "generation.max_attempts", Message: "must be at least 1"}
	}
	if c.Compliance.Mode != "rules" && c.Compliance.Mode != "agent" {
		return &ConfigError{Field: "compliance.mode", Message: `must be "rules" or "agent"`}
	}
	if (c.Output.Kafka.Broker == "") != (c.Output.Kafka.Topic == "") {
		return &ConfigError{Field: "output.kafka", Message: "broker and topic must be set together"}
	}
	for i, s := range c.Schedules {
		if s.Spec == "" || s.URL == "" {
			return &ConfigError{Field: fmt.Sprintf("schedules[%d]", i), Message: "spec and url are required"}
		}
	}
	return nil
}

// ConfigError represents a configuration error.
type ConfigError struct {
	Field   string
	Message string
}

func (e *ConfigError) Error() string {
	return e.Field + ": " + e.Message
}
