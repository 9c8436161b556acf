// Package config holds the off-chain configuration of the node: the relay,
// the repository, and the importer all read from here. Consensus-side
// settings stay in the CometBFT home directory and never pass through this
// package.
package config

import (
	"time"

	"github.com/Netflix/go-env"
	"github.com/ShanRaboy11/unitap/pkg/logger"
	"github.com/joho/godotenv"
	"github.com/pkg/errors"
)

var config *Config

// Config is populated once at startup from the environment. No other part
// of the program reads env vars directly.
type Config struct {
	DatabaseURL string `env:"DATABASE_URL"`

	FallbackFile string `env:"FALLBACK_FILE,default=events.jsonl"`

	HealthCheckInterval time.Duration `env:"HEALTH_CHECK_INTERVAL,default=30s"`
	PendingBlockTTL     time.Duration `env:"PENDING_BLOCK_TTL,default=2m"`
	PendingBlockMax     int           `env:"PENDING_BLOCK_MAX,default=4096"`
}

// Load reads an optional dotenv file, then overlays the process environment.
func Load(path string) error {
	c := &Config{}
	if path != "" {
		logger.Info("loading env file", "path", path)
		if err := godotenv.Load(path); err != nil {
			return errors.Wrap(err, "failed to load configuration file "+path)
		}
	}

	if _, err := env.UnmarshalFromEnviron(c); err != nil {
		return errors.Wrap(err, "failed to map env variables to Configuration object")
	}

	config = c
	return nil
}

func Get() *Config {
	if config == nil {
		logger.Fatal(errors.New("config is not initialized"))
	}
	return config
}
