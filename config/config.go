// Package config loads runtime settings from the environment and an optional .env file.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"time"
	_ "time/tzdata" // zone data for minimal images

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Config holds every setting the server and CLI need.
type Config struct {
	DBDriver string `env:"LEDGER_DB_DRIVER" envDefault:"sqlite3"`
	DBDSN    string `env:"LEDGER_DB_DSN" envDefault:"ledger.db"`
	HTTPAddr string `env:"LEDGER_HTTP_ADDR" envDefault:":8000"`

	Timezone      string `env:"LEDGER_TIMEZONE" envDefault:"Asia/Seoul"`
	MaxFutureDays int    `env:"LEDGER_MAX_FUTURE_DAYS" envDefault:"0"`

	AdminSecretHash string        `env:"LEDGER_ADMIN_SECRET_HASH"`
	AdminTokenKey   string        `env:"LEDGER_ADMIN_TOKEN_KEY"`
	AdminTokenTTL   time.Duration `env:"LEDGER_ADMIN_TOKEN_TTL" envDefault:"12h"`

	BlobBackend    string `env:"LEDGER_BLOB_BACKEND" envDefault:"local"`
	UploadDir      string `env:"LEDGER_UPLOAD_DIR" envDefault:"uploads"`
	UploadMaxBytes int64  `env:"LEDGER_UPLOAD_MAX_BYTES" envDefault:"10485760"`
	S3Bucket       string `env:"LEDGER_S3_BUCKET"`
	S3Region       string `env:"LEDGER_S3_REGION" envDefault:"ap-northeast-2"`
	S3Prefix       string `env:"LEDGER_S3_PREFIX" envDefault:"submissions"`
}

// ParseEnv loads configuration from environment variables.
func ParseEnv(target any) error {
	if err := env.Parse(target); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	return nil
}

// Load reads the given .env files (missing files are ignored), then the
// environment, and validates the result. Variables already set in the
// environment win over .env values.
func Load(files ...string) (*Config, error) {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("load %s: %w", f, err)
		}
	}
	var cfg Config
	if err := ParseEnv(&cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects settings the server cannot run with.
func (c *Config) Validate() error {
	switch c.DBDriver {
	case "sqlite3", "postgres":
	default:
		return fmt.Errorf("LEDGER_DB_DRIVER must be sqlite3 or postgres, got %q", c.DBDriver)
	}
	if c.DBDSN == "" {
		return fmt.Errorf("LEDGER_DB_DSN is required")
	}
	if _, err := time.LoadLocation(c.Timezone); err != nil {
		return fmt.Errorf("LEDGER_TIMEZONE: %w", err)
	}
	if c.MaxFutureDays < 0 {
		return fmt.Errorf("LEDGER_MAX_FUTURE_DAYS cannot be negative")
	}
	switch c.BlobBackend {
	case "local":
	case "s3":
		if c.S3Bucket == "" {
			return fmt.Errorf("LEDGER_S3_BUCKET is required for the s3 blob backend")
		}
	default:
		return fmt.Errorf("LEDGER_BLOB_BACKEND must be local or s3, got %q", c.BlobBackend)
	}
	if c.UploadMaxBytes <= 0 {
		return fmt.Errorf("LEDGER_UPLOAD_MAX_BYTES must be positive")
	}
	return nil
}

// AdminEnabled reports whether admin tokens can be issued.
func (c *Config) AdminEnabled() bool {
	return c.AdminSecretHash != "" && c.AdminTokenKey != ""
}
