package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds the application configuration.
type Config struct {
	OpenAIAPIKey    string `yaml:"-"`
	AnthropicAPIKey string `yaml:"-"`
	GoogleAPIKey    string `yaml:"-"`
	JWTSecret       string `yaml:"-"`

	Remote    RemoteConfig    `yaml:"remote"`
	Local     LocalConfig     `yaml:"local"`
	Routing   RoutingConfig   `yaml:"routing"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
	Server    ServerConfig    `yaml:"server"`
	Log       LogConfig       `yaml:"log"`

	ConfigDir string `yaml:"-"`
}

// RemoteConfig configures the hosted model service.
type RemoteConfig struct {
	Provider     string            `yaml:"provider"`
	DefaultModel string            `yaml:"default_model"`
	BaseURL      string            `yaml:"base_url,omitempty"`
	MaxTokens    int               `yaml:"max_tokens"`
	Temperature  float64           `yaml:"temperature"`
	Timeout      time.Duration     `yaml:"timeout"`
	Aliases      map[string]string `yaml:"aliases,omitempty"`
}

// LocalConfig configures the local Ollama backend.
type LocalConfig struct {
	URL          string        `yaml:"url"`
	Model        string        `yaml:"model"`
	NumPredict   int           `yaml:"num_predict"`
	Temperature  float64       `yaml:"temperature"`
	ProbeTimeout time.Duration `yaml:"probe_timeout"`
	Timeout      time.Duration `yaml:"timeout"`
	HealthPath   string        `yaml:"health_path,omitempty"`
}

// RateLimitConfig configures the Redis-backed limiter.
type RateLimitConfig struct {
	RedisURL     string `yaml:"redis_url"`
	UserLimit    int64  `yaml:"user_limit"`
	GlobalLimit  int64  `yaml:"global_limit"`
	SafetyMargin int64  `yaml:"safety_margin"`
}

// ServerConfig configures the HTTP surface.
type ServerConfig struct {
	Addr            string        `yaml:"addr"`
	AllowedOrigins  []string      `yaml:"allowed_origins"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level"`
	Pretty bool   `yaml:"pretty"`
}

// Providers lists the supported remote providers.
var Providers = []string{"openai", "anthropic", "google", "mock"}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Remote: RemoteConfig{
			Provider:     "openai",
			DefaultModel: "gpt-4o-mini",
			MaxTokens:    2000,
			Temperature:  0.7,
			Timeout:      60 * time.Second,
		},
		Local: LocalConfig{
			URL:          "http://localhost:11434",
			Model:        "llama2",
			NumPredict:   2000,
			Temperature:  0.7,
			ProbeTimeout: 2 * time.Second,
			Timeout:      60 * time.Second,
		},
		Routing: DefaultRoutingConfig(),
		RateLimit: RateLimitConfig{
			RedisURL:     "redis://localhost:6379/0",
			UserLimit:    10,
			GlobalLimit:  100,
			SafetyMargin: 5,
		},
		Server: ServerConfig{
			Addr:            ":8000",
			AllowedOrigins:  []string{"http://localhost:5173", "http://localhost:3000"},
			ShutdownTimeout: 10 * time.Second,
		},
		Log: LogConfig{Level: "info"},
	}
}

// LoadDotEnv loads .env files into the environment. A missing file is not an error.
func LoadDotEnv(files ...string) error {
	if err := godotenv.Load(files...); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to load .env: %w", err)
	}
	return nil
}

// Load reads configuration from the config file and environment variables.
// Environment variables take precedence over file configuration. An empty
// path reads ~/.hybridgate/config.yaml if it exists; an explicit path must exist.
func Load(path string) (*Config, error) {
	configDir, err := getConfigDir()
	if err != nil {
		return nil, fmt.Errorf("failed to get config directory: %w", err)
	}

	cfg := Default()
	cfg.ConfigDir = configDir

	explicit := path != ""
	if !explicit {
		path = filepath.Join(configDir, "config.yaml")
	}
	if err := loadFileConfig(path, cfg, explicit); err != nil {
		return nil, err
	}

	applyEnv(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the configuration for values the router and limiter cannot use.
func (c *Config) Validate() error {
	if !validProvider(c.Remote.Provider) {
		return fmt.Errorf("unknown remote provider %q (want one of %v)", c.Remote.Provider, Providers)
	}
	if c.Remote.DefaultModel == "" {
		return fmt.Errorf("remote.default_model is required")
	}
	if c.Local.URL == "" {
		return fmt.Errorf("local.url is required")
	}
	if c.Local.ProbeTimeout <= 0 || c.Local.Timeout <= 0 || c.Remote.Timeout <= 0 {
		return fmt.Errorf("timeouts must be positive")
	}
	if c.RateLimit.UserLimit <= 0 || c.RateLimit.GlobalLimit <= 0 {
		return fmt.Errorf("rate limits must be positive")
	}
	if c.RateLimit.SafetyMargin < 0 || c.RateLimit.SafetyMargin >= c.RateLimit.GlobalLimit {
		return fmt.Errorf("rate_limit.safety_margin must be in [0, %d), got %d", c.RateLimit.GlobalLimit, c.RateLimit.SafetyMargin)
	}
	return nil
}

// HasRemote returns true if the configured remote provider has credentials.
func (c *Config) HasRemote() bool {
	return c.Remote.Provider == "mock" || c.RemoteAPIKey() != ""
}

// RemoteAPIKey returns the API key for the configured remote provider.
func (c *Config) RemoteAPIKey() string {
	switch c.Remote.Provider {
	case "openai":
		return c.OpenAIAPIKey
	case "anthropic":
		return c.AnthropicAPIKey
	case "google":
		return c.GoogleAPIKey
	default:
		return ""
	}
}

// loadFileConfig merges the YAML file at path over cfg.
func loadFileConfig(path string, cfg *Config, required bool) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if !required && errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("failed to read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("failed to parse config %s: %w", path, err)
	}
	return nil
}

// applyEnv overlays environment variables. Secrets are only read from the environment.
func applyEnv(cfg *Config) {
	cfg.OpenAIAPIKey = os.Getenv("OPENAI_API_KEY")
	cfg.AnthropicAPIKey = os.Getenv("ANTHROPIC_API_KEY")
	cfg.GoogleAPIKey = os.Getenv("GOOGLE_API_KEY")
	cfg.JWTSecret = os.Getenv("JWT_SECRET")

	cfg.Remote.Provider = getEnvOrDefault("REMOTE_PROVIDER", cfg.Remote.Provider)
	cfg.Remote.DefaultModel = getEnvOrDefault("REMOTE_DEFAULT_MODEL", cfg.Remote.DefaultModel)
	cfg.Remote.BaseURL = getEnvOrDefault("OPENAI_BASE_URL", cfg.Remote.BaseURL)

	cfg.Local.URL = getEnvOrDefault("LOCAL_MODEL_URL", cfg.Local.URL)
	cfg.Local.Model = getEnvOrDefault("LOCAL_MODEL_NAME", cfg.Local.Model)

	cfg.RateLimit.RedisURL = getEnvOrDefault("REDIS_URL", cfg.RateLimit.RedisURL)
	cfg.RateLimit.UserLimit = getEnvInt64("USER_RPM_LIMIT", cfg.RateLimit.UserLimit)
	cfg.RateLimit.GlobalLimit = getEnvInt64("GLOBAL_RPM_LIMIT", cfg.RateLimit.GlobalLimit)
	cfg.RateLimit.SafetyMargin = getEnvInt64("RATE_LIMIT_SAFETY_MARGIN", cfg.RateLimit.SafetyMargin)

	cfg.Server.Addr = getEnvOrDefault("HYBRIDGATE_ADDR", cfg.Server.Addr)
	cfg.Log.Level = getEnvOrDefault("LOG_LEVEL", cfg.Log.Level)
}

func validProvider(name string) bool {
	for _, p := range Providers {
		if p == name {
			return true
		}
	}
	return false
}

// getEnvOrDefault returns the environment variable value if set,
// otherwise returns the default value.
func getEnvOrDefault(envVar, defaultValue string) string {
	if val := os.Getenv(envVar); val != "" {
		return val
	}
	return defaultValue
}

func getEnvInt64(envVar string, defaultValue int64) int64 {
	if val := os.Getenv(envVar); val != "" {
		if n, err := strconv.ParseInt(val, 10, 64); err == nil {
			return n
		}
	}
	return defaultValue
}

func getConfigDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".hybridgate"), nil
}
