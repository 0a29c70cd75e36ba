// Package config loads process configuration from CREATOR_* environment variables.
package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/rs/zerolog"
)

// Prefix is prepended to every variable name.
const Prefix = "CREATOR_"

// Config is the creator server configuration.
type Config struct {
	HTTPAddr      string        `env:"HTTP_ADDR" envDefault:":3000"`
	LogLevel      string        `env:"LOG_LEVEL" envDefault:"info"`
	DevMode       bool          `env:"DEV_MODE" envDefault:"false"`
	Brand         string        `env:"BRAND" envDefault:"whop"`
	DocumentTitle string        `env:"DOCUMENT_TITLE"`
	SessionDB     string        `env:"SESSION_DB"`
	NATSDir       string        `env:"NATS_DIR"`
	ContextTTL    time.Duration `env:"CONTEXT_TTL" envDefault:"30s"`
	ActionRate    float64       `env:"ACTION_RATE" envDefault:"10"`
	ActionBurst   int           `env:"ACTION_BURST" envDefault:"20"`
	OTLPEndpoint  string        `env:"OTLP_ENDPOINT"`
	DatastarURL   string        `env:"DATASTAR_URL"`
}

// Load parses the environment into a Config.
func Load() (Config, error) {
	var cfg Config
	if err := env.ParseWithOptions(&cfg, env.Options{Prefix: Prefix}); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	if _, err := cfg.Level(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Level parses LogLevel. An empty value means info.
func (c Config) Level() (zerolog.Level, error) {
	if c.LogLevel == "" {
		return zerolog.InfoLevel, nil
	}
	lvl, err := zerolog.ParseLevel(c.LogLevel)
	if err != nil {
		return zerolog.NoLevel, fmt.Errorf("parse log level %q: %w", c.LogLevel, err)
	}
	return lvl, nil
}
