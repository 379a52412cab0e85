package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/aretw0/toolgate/internal/config"
	"github.com/aretw0/toolgate/pkg/dedup"
	"github.com/aretw0/toolgate/pkg/domain"
	"github.com/aretw0/toolgate/pkg/retry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	t.Chdir(t.TempDir())

	cfg, err := config.Load(config.New(), "")
	require.NoError(t, err)

	assert.Equal(t, retry.DefaultPolicy(), cfg.Retry)
	assert.Equal(t, dedup.DefaultConfig(), cfg.Dedup)
	assert.Equal(t, config.DriverMemory, cfg.Store.Driver)
	assert.Equal(t, domain.ModeInteractive, cfg.Dispatch.DefaultMode)
	assert.Equal(t, []string{"gemini", "openai", "anthropic"}, cfg.Build.Providers)
	assert.Equal(t, 5*time.Second, cfg.MCP.TurnGap)
	assert.Empty(t, cfg.Admin.Addr)
	assert.Equal(t, "handlers.yaml", cfg.Handlers)
	assert.Empty(t, cfg.Store.Mask)
	assert.Empty(t, cfg.Store.Encryption.Key)
}

func TestLoad_FileAndEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "toolgate.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
build:
  dir: defs
  providers: [openai]
retry:
  max_attempts: 5
  base:
    initial: 50ms
dedup:
  ttl: 2m
store:
  driver: redis
  redis:
    addr: redis:6379
  mask: [password, "^ssn"]
`), 0644))
	t.Setenv("TOOLGATE_STORE_REDIS_PREFIX", "tg-test:")
	t.Setenv("TOOLGATE_DISPATCH_MAX_CALLS_PER_TURN", "3")
	t.Setenv("TOOLGATE_STORE_ENCRYPTION_KEY", "c2VjcmV0")

	cfg, err := config.Load(config.New(), path)
	require.NoError(t, err)

	assert.Equal(t, "defs", cfg.Build.Dir)
	assert.Equal(t, []string{"openai"}, cfg.Build.Providers)
	assert.Equal(t, 5, cfg.Retry.MaxAttempts)
	assert.Equal(t, 50*time.Millisecond, cfg.Retry.Base.Initial)
	assert.Equal(t, 2*time.Second, cfg.Retry.Base.Max, "unset keys keep their defaults")
	assert.Equal(t, 2*time.Minute, cfg.Dedup.TTL)
	assert.Equal(t, config.DriverRedis, cfg.Store.Driver)
	assert.Equal(t, "redis:6379", cfg.Store.Redis.Addr)
	assert.Equal(t, "tg-test:", cfg.Store.Redis.Prefix)
	assert.Equal(t, 3, cfg.Dispatch.MaxCallsPerTurn)
	assert.Equal(t, []string{"password", "^ssn"}, cfg.Store.Mask)
	assert.Equal(t, "c2VjcmV0", cfg.Store.Encryption.Key)
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name string
		yaml string
		want string
	}{
		{"driver", "store: {driver: postgres}", "store.driver"},
		{"mode", "dispatch: {default_mode: voice}", "dispatch.default_mode"},
		{"attempts", "retry: {max_attempts: 0}", "retry.max_attempts"},
		{"threshold", "dedup: {threshold: 1.5}", "dedup.threshold"},
		{"transport", "mcp: {transport: websocket}", "mcp.transport"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "toolgate.yaml")
			require.NoError(t, os.WriteFile(path, []byte(tt.yaml), 0644))

			_, err := config.Load(config.New(), path)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestLoad_MissingExplicitFile(t *testing.T) {
	_, err := config.Load(config.New(), filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}
