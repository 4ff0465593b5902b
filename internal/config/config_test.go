package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.HTTPPort)
	assert.Equal(t, 30*time.Second, cfg.Server.ShutdownTimeout)
	assert.Equal(t, 20*time.Millisecond, cfg.Simulation.TickInterval)
	assert.Equal(t, []string{"./profiles"}, cfg.Machine.SearchPaths)
	assert.False(t, cfg.Auth.Enabled)
	assert.Equal(t, "info", cfg.Log.Level)
}

func TestLoad_File(t *testing.T) {
	cfg, err := Load("testdata/config.yaml")
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.HTTPPort)
	assert.Equal(t, 5*time.Second, cfg.Server.ShutdownTimeout)
	assert.Equal(t, 10*time.Millisecond, cfg.Simulation.TickInterval)
	assert.Equal(t, "acme/ut50", cfg.Machine.Profile)
	assert.Len(t, cfg.Machine.SearchPaths, 2)
	assert.Equal(t, 20.0, cfg.Machine.Sample.ClampingLength)
	assert.True(t, cfg.Auth.Enabled)
	assert.Equal(t, 15*time.Minute, cfg.Auth.AccessTokenTTL)
	assert.Equal(t, "JWT_SECRET", cfg.Auth.JWTSecretEnv)
	require.Len(t, cfg.Auth.MachineTokens, 1)
	assert.Equal(t, "plc", cfg.Auth.MachineTokens[0].Name)
	assert.Equal(t, []string{"operator"}, cfg.Auth.MachineTokens[0].Permissions)
	assert.True(t, cfg.Log.Development)
}

func TestLoad_EnvOverride(t *testing.T) {
	t.Setenv("OTR_SERVER_HTTP_PORT", "7070")
	t.Setenv("OTR_MACHINE_PROFILE", "acme/other")

	cfg, err := Load("testdata/config.yaml")
	require.NoError(t, err)
	assert.Equal(t, 7070, cfg.Server.HTTPPort)
	assert.Equal(t, "acme/other", cfg.Machine.Profile)
}

func TestLoad_Invalid(t *testing.T) {
	_, err := Load("testdata/missing.yaml")
	assert.ErrorContains(t, err, "failed to read config")

	t.Setenv("OTR_SIMULATION_TICK_INTERVAL", "0s")
	_, err = Load("")
	assert.ErrorContains(t, err, "tick_interval")
}

func TestAuthConfig_Secret(t *testing.T) {
	a := AuthConfig{JWTSecretEnv: "OTR_TEST_SECRET"}
	t.Setenv("OTR_TEST_SECRET", "")
	assert.Equal(t, devJWTSecret, a.GetJWTSecret())
	assert.False(t, a.IsProductionReady())

	t.Setenv("OTR_TEST_SECRET", "0123456789abcdef0123456789abcdef")
	assert.True(t, a.IsProductionReady())
}

func TestLogConfig_Build(t *testing.T) {
	logger, err := LogConfig{Level: "warn"}.Build()
	require.NoError(t, err)
	assert.False(t, logger.Core().Enabled(-1))

	_, err = LogConfig{Level: "loud"}.Build()
	assert.Error(t, err)
}
