package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config holds process-level settings loaded from the environment.
type Config struct {
	ListenAddr     string        `env:"AUTHLY_LISTEN_ADDR"    envDefault:":8080"`
	GRPCListenAddr string        `env:"AUTHLY_GRPC_ADDR"      envDefault:":9090"`
	PGDSN          string        `env:"AUTHLY_PG_DSN"`
	Issuer         string        `env:"AUTHLY_ISSUER"         envDefault:"authly"`
	AccessSecret   string        `env:"AUTHLY_ACCESS_SECRET"`
	RefreshSecret  string        `env:"AUTHLY_REFRESH_SECRET"`
	AccessTTL      time.Duration `env:"AUTHLY_ACCESS_TTL"     envDefault:"15m"`
	RefreshTTL     time.Duration `env:"AUTHLY_REFRESH_TTL"    envDefault:"168h"`
	TOTPIssuer     string        `env:"AUTHLY_TOTP_ISSUER"    envDefault:"Authly"`
	RateBurst      int           `env:"AUTHLY_RATE_BURST"     envDefault:"20"`
	RatePerSecond  int           `env:"AUTHLY_RATE_PER_SEC"   envDefault:"10"`
	MaxBodyBytes   int64         `env:"AUTHLY_MAX_BODY_BYTES" envDefault:"1048576"`
}

// Load parses the environment and validates security-critical settings.
func Load() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate ensures the token secrets are present and distinct. Access and
// refresh tokens must never verify against each other's key.
func (c Config) Validate() error {
	if c.AccessSecret == "" || c.RefreshSecret == "" {
		return errors.New("config: AUTHLY_ACCESS_SECRET and AUTHLY_REFRESH_SECRET are required")
	}
	if c.AccessSecret == c.RefreshSecret {
		return errors.New("config: access and refresh secrets must differ")
	}
	return nil
}
