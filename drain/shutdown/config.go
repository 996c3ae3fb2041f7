package shutdown

import (
	"errors"
	"fmt"
	"time"

	"github.com/LerianStudio/lib-drain/drain"
	"github.com/go-playground/validator/v10"
)

const (
	// DefaultRetryInterval is the wait between drain-loop passes.
	DefaultRetryInterval = 200 * time.Millisecond
	// DefaultMaxRetries bounds the drain loop to about 15s with the default interval.
	DefaultMaxRetries = 75
)

// ErrInvalidConfig wraps every Config validation failure.
var ErrInvalidConfig = errors.New("invalid drain config")

var validate = validator.New(validator.WithRequiredStructEnabled())

// Config tunes the drain loop.
type Config struct {
	// RetryInterval is the wait between two drain-loop passes.
	RetryInterval time.Duration `env:"DRAIN_RETRY_INTERVAL" validate:"gt=0"`
	// MaxRetries is the number of extra passes after the first one. Zero
	// means a single pass.
	MaxRetries int `env:"DRAIN_MAX_RETRIES" validate:"gte=0"`
}

// DefaultConfig returns 200ms between passes and 75 retries.
func DefaultConfig() Config {
	return Config{
		RetryInterval: DefaultRetryInterval,
		MaxRetries:    DefaultMaxRetries,
	}
}

// ConfigFromEnv starts from DefaultConfig and overrides it with
// DRAIN_RETRY_INTERVAL and DRAIN_MAX_RETRIES when set.
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
