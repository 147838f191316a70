package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

// RelayEnvPrefix prefixes every relay environment variable.
const RelayEnvPrefix = "SHARED_FRAME_RELAY_"

// RelayConfig configures cmd/relay. It is read from the environment; flags
// override individual values.
type RelayConfig struct {
	Addr            string        `env:"ADDR" envDefault:":8090"`
	HistoryDB       string        `env:"HISTORY_DB"` // empty keeps retained history in memory
	DefaultMaxPeers int           `env:"DEFAULT_MAX_PEERS" envDefault:"8"`
	WriteTimeout    time.Duration `env:"WRITE_TIMEOUT" envDefault:"5s"`
	SendQueue       int           `env:"SEND_QUEUE" envDefault:"256"`
	MaxMessageBytes int64         `env:"MAX_MESSAGE_BYTES" envDefault:"65536"`
	Debug           bool          `env:"DEBUG"`
}

// LoadRelayConfig reads RelayConfig from SHARED_FRAME_RELAY_* variables.
func LoadRelayConfig() (RelayConfig, error) {
	return parseRelayConfig(env.Options{Prefix: RelayEnvPrefix})
}

func parseRelayConfig(opts env.Options) (RelayConfig, error) {
	var cfg RelayConfig
	if err := env.ParseWithOptions(&cfg, opts); err != nil {
		return RelayConfig{}, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return RelayConfig{}, err
	}
	return cfg, nil
}

// Validate checks that the configuration values are valid.
func (c RelayConfig) Validate() error {
	if c.Addr == "" {
		return fmt.Errorf("relay addr must not be empty")
	}
	if c.DefaultMaxPeers < 0 {
		return fmt.Errorf("default max peers must be non-negative, got %d", c.DefaultMaxPeers)
	}
	if c.WriteTimeout <= 0 {
		return fmt.Errorf("write timeout must be positive, got %s", c.WriteTimeout)
	}
	if c.SendQueue <= 0 {
		return fmt.Errorf("send queue must be positive, got %d", c.SendQueue)
	}
	if c.MaxMessageBytes <= 0 {
		return fmt.Errorf("max message bytes must be positive, got %d", c.MaxMessageBytes)
	}
	return nil
}
