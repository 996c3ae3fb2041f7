package server

import (
	"errors"
	"fmt"
	"time"

	"github.com/LerianStudio/lib-drain/drain"
	"github.com/go-playground/validator/v10"
)

const (
	// DefaultShutdownTimeout bounds the graceful phase of each server.
	DefaultShutdownTimeout = 30 * time.Second
	// DefaultForceTimeout bounds the forced phase that follows a graceful
	// phase that ran out of time.
	DefaultForceTimeout = 5 * time.Second
)

// ErrInvalidConfig wraps every Config validation failure.
var ErrInvalidConfig = errors.New("invalid server config")

var validate = validator.New(validator.WithRequiredStructEnabled())

// Config holds the shutdown deadlines of a ServerManager.
type Config struct {
	ShutdownTimeout time.Duration `env:"SERVER_SHUTDOWN_TIMEOUT" validate:"gt=0"`
	ForceTimeout    time.Duration `env:"SERVER_FORCE_TIMEOUT" validate:"gt=0"`
}

// DefaultConfig returns a 30s graceful phase and a 5s forced phase.
func DefaultConfig() Config {
	return Config{
		ShutdownTimeout: DefaultShutdownTimeout,
		ForceTimeout:    DefaultForceTimeout,
	}
}

// ConfigFromEnv overrides DefaultConfig with SERVER_SHUTDOWN_TIMEOUT and
// SERVER_FORCE_TIMEOUT.
func ConfigFromEnv() (Config, error) {
	cfg := DefaultConfig()

	if err := drain.SetConfigFromEnvVars(&cfg); err != nil {
		return Config{}, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

// Validate checks field constraints.
func (c Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}

	return nil
}
