//go:build unit

package server_test

import (
	"testing"
	"time"

	"github.com/LerianStudio/lib-drain/drain/server"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfigFromEnv(t *testing.T) {
	t.Setenv("SERVER_SHUTDOWN_TIMEOUT", "12s")
	t.Setenv("SERVER_FORCE_TIMEOUT", "")

	cfg, err := server.ConfigFromEnv()
	require.NoError(t, err)
	assert.Equal(t, 12*time.Second, cfg.ShutdownTimeout)
	assert.Equal(t, server.DefaultForceTimeout, cfg.ForceTimeout)
}

func TestConfigFromEnv_Invalid(t *testing.T) {
	t.Setenv("SERVER_SHUTDOWN_TIMEOUT", "soon")

	_, err := server.ConfigFromEnv()
	assert.ErrorIs(t, err, server.ErrInvalidConfig)

	t.Setenv("SERVER_SHUTDOWN_TIMEOUT", "-1s")

	_, err = server.ConfigFromEnv()
	assert.ErrorIs(t, err, server.ErrInvalidConfig)
}
