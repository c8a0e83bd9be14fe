package server

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testConfig = `
[server]
port = "8081"
mode = "test"

[auth]
jwt_secret = "file-secret"
token_expiration = "24h"

[rate_limit]
backend = "memory"

[rate_limit.rules.login]
limit = 3
window = "1m"

[grpc]
port = "9091"

[grpc.production]
enable_reflection = false
port = "9443"

[grpc.development]
enable_reflection = true
port = "9092"
`

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.toml"), []byte(content), 0o644))
	return dir
}

func TestLoadConfig(t *testing.T) {
	dir := writeConfig(t, testConfig)

	cfg, err := loadConfig(dir, EnvDevelopment)
	require.NoError(t, err)

	assert.Equal(t, "8081", cfg.Server.Port)
	assert.Equal(t, "file-secret", cfg.Auth.JWTSecret)
	assert.Equal(t, 24*time.Hour, cfg.Auth.TokenExpiration)
	assert.Equal(t, 5, cfg.Auth.MaxFailedAttempts)
	assert.Equal(t, 30*time.Minute, cfg.Auth.LockoutDuration)
	assert.Equal(t, 7*24*time.Hour, cfg.AccessRequest.TokenTTL)
	assert.Equal(t, 3, cfg.RateLimit.Rules["login"].Limit)
	assert.Equal(t, time.Minute, cfg.RateLimit.Rules["login"].Window)
	assert.Equal(t, "log", cfg.Notify.Backend)

	// grpc.development overlay
	assert.True(t, cfg.GRPC.EnableReflection)
	assert.Equal(t, "9092", cfg.GRPC.Port)
}

func TestLoadConfig_ProductionOverlay(t *testing.T) {
	dir := writeConfig(t, testConfig)

	cfg, err := loadConfig(dir, EnvProduction)
	require.NoError(t, err)
	assert.False(t, cfg.GRPC.EnableReflection)
	assert.Equal(t, "9443", cfg.GRPC.Port)
}

func TestLoadConfig_EnvOverride(t *testing.T) {
	dir := writeConfig(t, testConfig)
	t.Setenv("PORTAL_AUTH_JWT_SECRET", "env-secret")
	t.Setenv("PORTAL_RATE_LIMIT_BACKEND", "redis")

	cfg, err := loadConfig(dir, EnvTesting)
	require.NoError(t, err)
	assert.Equal(t, "env-secret", cfg.Auth.JWTSecret)
	assert.Equal(t, "redis", cfg.RateLimit.Backend)
}

func TestLoadConfig_MissingSecret(t *testing.T) {
	dir := writeConfig(t, "[server]\nport = \"8080\"\n")

	_, err := loadConfig(dir, EnvDevelopment)
	assert.ErrorIs(t, err, ErrMissingJWTSecret)
}

func TestLoadConfig_MissingFile(t *testing.T) {
	_, err := loadConfig(t.TempDir(), EnvDevelopment)
	assert.Error(t, err)
}

func TestNewAppLogger_FileSink(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "portal.log")
	log, err := NewAppLogger(EnvTesting, logConfig(path))
	require.NoError(t, err)

	log.Info("hello from the test")
	_ = log.Sync()

	assert.Eventually(t, func() bool {
		matches, _ := filepath.Glob(path + ".*")
		return len(matches) > 0
	}, time.Second, 10*time.Millisecond)
}

func TestNewAppLogger_InvalidLevel(t *testing.T) {
	cfg := logConfig("")
	cfg.Level = "loud"
	_, err := NewAppLogger(EnvProduction, cfg)
	assert.Error(t, err)
}
