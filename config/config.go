// Package config loads server configuration from environment variables.
package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

type Config struct {
	Port           string        `env:"PORT" envDefault:"8080"`
	Environment    string        `env:"ENVIRONMENT" envDefault:"development"`
	AllowedOrigins []string      `env:"ALLOWED_ORIGINS" envSeparator:"," envDefault:"http://localhost:3000,http://localhost:5173"`
	JWTSecret      string        `env:"JWT_SECRET" envDefault:"change-me-in-production"`
	TokenTTL       time.Duration `env:"TOKEN_TTL" envDefault:"720h"`
	DatabasePath   string        `env:"DATABASE_PATH" envDefault:"parley.db"`

	Redis RedisConfig `envPrefix:"REDIS_"`
	RTC   RTCConfig
}

// RedisConfig configures the optional cross-instance presence mirror. An
// empty Addr disables it.
type RedisConfig struct {
	Addr     string `env:"ADDR"`
	Password string `env:"PASSWORD"`
	DB       int    `env:"DB" envDefault:"0"`
}

// RTCConfig lists the ICE servers handed to clients by /rtc/config.
type RTCConfig struct {
	STUNServers  []string `env:"STUN_SERVERS" envSeparator:"," envDefault:"stun:stun.l.google.com:19302"`
	TURNURI      string   `env:"TURN_URI"`
	TURNUsername string   `env:"TURN_USERNAME"`
	TURNPassword string   `env:"TURN_PASSWORD"`
}

func Load() (*Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	return &cfg, nil
}
