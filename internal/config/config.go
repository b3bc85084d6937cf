// Package config provides application configuration.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config holds all application configuration.
type Config struct {
	Port string `env:"PORT" envDefault:"8080"`

	OpenAIAPIKey      string        `env:"OPENAI_API_KEY"`
	OpenAIBaseURL     string        `env:"OPENAI_BASE_URL"`
	OpenAIModel       string        `env:"OPENAI_MODEL" envDefault:"gpt-4o-mini"`
	ChatTemperature   float64       `env:"CHAT_TEMPERATURE" envDefault:"0.7"`
	CompletionTimeout time.Duration `env:"COMPLETION_TIMEOUT" envDefault:"60s"`

	MaxTurns             int           `env:"MAX_TURNS" envDefault:"20"`
	SessionTTL           time.Duration `env:"SESSION_TTL" envDefault:"24h"`
	SessionSweepInterval time.Duration `env:"SESSION_SWEEP_INTERVAL" envDefault:"5m"`
	InvalidationPolicy   string        `env:"INVALIDATION_POLICY" envDefault:"profile"`

	DefaultProfileID   string `env:"DEFAULT_PROFILE_ID" envDefault:"default"`
	DefaultProfileName string `env:"DEFAULT_PROFILE_NAME" envDefault:"My Place"`
	DefaultLocale      string `env:"DEFAULT_LOCALE" envDefault:"no"`
	DefaultCity        string `env:"DEFAULT_CITY" envDefault:"Tromsø"`

	SourceMaxChars int           `env:"SOURCE_MAX_CHARS" envDefault:"10000"`
	FetchTimeout   time.Duration `env:"FETCH_TIMEOUT" envDefault:"20s"`

	DBPath              string   `env:"DB_PATH" envDefault:":memory:"`
	AllowedOrigins      []string `env:"ALLOWED_ORIGINS" envDefault:"*" envSeparator:","`
	MaxRequestBodyBytes int64    `env:"MAX_REQUEST_BODY_BYTES" envDefault:"1048576"`
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	return load(env.Options{})
}

func load(opts env.Options) (*Config, error) {
	cfg := &Config{}
	if err := env.ParseWithOptions(cfg, opts); err != nil {
		return nil, fmt.Errorf("parse environment: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks that all required configuration fields are set.
func (c *Config) Validate() error {
	if c.Port == "" {
		return fmt.Errorf("PORT cannot be empty")
	}
	if strings.TrimSpace(c.OpenAIModel) == "" {
		return fmt.Errorf("OPENAI_MODEL cannot be empty")
	}
	if c.ChatTemperature < 0 || c.ChatTemperature > 2 {
		return fmt.Errorf("CHAT_TEMPERATURE must be between 0 and 2")
	}
	if c.DBPath == "" {
		return fmt.Errorf("DB_PATH cannot be empty")
	}
	if strings.TrimSpace(c.DefaultProfileID) == "" {
		return fmt.Errorf("DEFAULT_PROFILE_ID cannot be empty")
	}
	if c.SessionTTL > 0 && c.SessionSweepInterval <= 0 {
		return fmt.Errorf("SESSION_SWEEP_INTERVAL must be > 0 when SESSION_TTL is set")
	}
	if c.SourceMaxChars <= 0 {
		return fmt.Errorf("SOURCE_MAX_CHARS must be > 0")
	}
	if c.MaxRequestBodyBytes <= 0 {
		return fmt.Errorf("MAX_REQUEST_BODY_BYTES must be > 0")
	}
	switch strings.ToLower(strings.TrimSpace(c.InvalidationPolicy)) {
	case "profile", "global":
	default:
		return fmt.Errorf("INVALIDATION_POLICY must be \"profile\" or \"global\"")
	}
	return nil
}
