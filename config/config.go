package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v10"
	"github.com/joho/godotenv"
)

type Config struct {
	Debug bool `env:"DEBUG" envDefault:"false"`

	Server struct {
		Port   int    `env:"PORT" envDefault:"8080"`
		Origin string `env:"ORIGIN" envDefault:"http://localhost:3000"`
	}

	Storage struct {
		Driver     string `env:"STORAGE_DRIVER" envDefault:"json"`
		Dir        string `env:"STORAGE_DIR" envDefault:"ledger_data"`
		SQLitePath string `env:"SQLITE_PATH"`
		Snapshots  int    `env:"SNAPSHOT_KEEP" envDefault:"5"`
	}

	Ledger struct {
		SignatureScheme    string        `env:"SIGNATURE_SCHEME" envDefault:"ed25519"`
		RateLimitWindow    time.Duration `env:"RATE_LIMIT_WINDOW" envDefault:"60s"`
		RateLimitThreshold int           `env:"RATE_LIMIT_THRESHOLD" envDefault:"3"`
	}

	Verification struct {
		RequiredSteps []string      `env:"REQUIRED_VERIFICATIONS" envSeparator:"," envDefault:"kyc,photo"`
		BadgeTTL      time.Duration `env:"BADGE_TTL" envDefault:"168h"`
	}

	OTP struct {
		TTL         time.Duration `env:"OTP_TTL" envDefault:"5m"`
		MaxAttempts int           `env:"OTP_MAX_ATTEMPTS" envDefault:"3"`
		Length      int           `env:"OTP_LENGTH" envDefault:"6"`
	}

	// An empty address selects the in-memory OTP store.
	Redis struct {
		Addr     string `env:"REDIS_ADDR"`
		Password string `env:"REDIS_PASSWORD" envDefault:""`
		DB       int    `env:"REDIS_DB" envDefault:"0"`
	}

	Queue struct {
		Size    int `env:"QUEUE_SIZE" envDefault:"100"`
		Workers int `env:"QUEUE_WORKERS" envDefault:"4"`
	}
}

// Load reads an optional .env file, then the environment.
func Load() (*Config, error) {
	// a missing .env is fine; production sets variables directly
	_ = godotenv.Load()

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	switch c.Storage.Driver {
	case "json", "sqlite", "memory":
	default:
		return fmt.Errorf("unknown STORAGE_DRIVER %q", c.Storage.Driver)
	}
	switch c.Ledger.SignatureScheme {
	case "ed25519", "secp256k1":
	default:
		return fmt.Errorf("unknown SIGNATURE_SCHEME %q", c.Ledger.SignatureScheme)
	}
	for _, step := range c.Verification.RequiredSteps {
		switch step {
		case "kyc", "photo", "phone":
		default:
			return fmt.Errorf("unknown verification step %q in REQUIRED_VERIFICATIONS", step)
		}
	}
	if c.Ledger.RateLimitWindow <= 0 || c.Ledger.RateLimitThreshold <= 0 {
		return fmt.Errorf("rate limit window and threshold must be positive")
	}
	if c.Queue.Size <= 0 || c.Queue.Workers <= 0 {
		return fmt.Errorf("queue size and workers must be positive")
	}
	return nil
}
