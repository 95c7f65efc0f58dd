package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/totegamma/domainbay/internal/domain"
)

const sample = `
api:
  graphqlEndpoint: https://api.example.com/graphql
  messagingEndpoint: https://chat.example.com
  timeout: 5s
cache:
  staleAfter: 1m
  typingTimeout: 3s
server:
  environment: production
  redisAddr: localhost:6379
  redisDB: 2
log:
  level: debug
  format: text
`

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoad(t *testing.T) {
	cfg, err := Load(writeConfig(t, sample))
	require.NoError(t, err)

	assert.Equal(t, "https://api.example.com/graphql", cfg.API.GraphQLEndpoint)
	assert.Equal(t, 5*time.Second, cfg.API.Timeout)
	assert.Equal(t, time.Minute, cfg.Cache.StaleAfter)
	assert.Equal(t, 3*time.Second, cfg.Cache.TypingTimeout)
	assert.Equal(t, 2, cfg.Server.RedisDB)
	assert.Equal(t, "text", cfg.Log.Format)

	// defaults
	assert.Equal(t, 10*time.Second, cfg.Cache.LookupTimeout)
	assert.Equal(t, ":8000", cfg.Server.Listen)
	assert.Equal(t, "domainbay", cfg.API.UserAgent)

	assert.Equal(t, domain.EnvironmentProduction, cfg.Runtime("v1").Environment)
}

func TestLoadEnvironmentOverrides(t *testing.T) {
	t.Setenv("DOMAINBAY_GRAPHQL_ENDPOINT", "https://staging.example.com/graphql")
	t.Setenv("DOMAINBAY_LISTEN", ":9000")
	t.Setenv("DOMAINBAY_STALE_AFTER", "30s")

	cfg, err := Load(writeConfig(t, sample))
	require.NoError(t, err)

	assert.Equal(t, "https://staging.example.com/graphql", cfg.API.GraphQLEndpoint)
	assert.Equal(t, ":9000", cfg.Server.Listen)
	assert.Equal(t, 30*time.Second, cfg.Cache.StaleAfter)
}

func TestLoadWithoutFile(t *testing.T) {
	t.Setenv("DOMAINBAY_GRAPHQL_ENDPOINT", "https://api.example.com/graphql")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "json", cfg.Log.Format)
	assert.Equal(t, domain.EnvironmentDevelopment, cfg.Runtime("").Environment)
}

func TestLoadValidation(t *testing.T) {
	_, err := Load(writeConfig(t, "log:\n  format: xml\n"))
	assert.True(t, errors.Is(err, domain.ErrValidation))

	_, err = Load(writeConfig(t, "api:\n  graphqlEndpoint: http://x\nlog:\n  format: xml\n"))
	assert.True(t, errors.Is(err, domain.ErrValidation))

	_, err = Load(writeConfig(t, "api:\n  graphqlEndpoint: http://x\nserver:\n  enableTrace: true\n"))
	assert.True(t, errors.Is(err, domain.ErrValidation))

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
