package watcher_config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, time.Minute, cfg.Sched.Tick)
	assert.Equal(t, 1, cfg.Pool.InteractiveSize)
	assert.Equal(t, 30*time.Second, cfg.Pipeline.NavigationTimeout)
	assert.InDelta(t, 0.1, cfg.Pipeline.PixelThreshold, 1e-9)
	assert.Equal(t, "USD", cfg.Pricing.DefaultCurrency)
	assert.True(t, cfg.Pool.Browser.Headless)
	assert.False(t, cfg.Summarizer.Enabled())
}

func TestLoad_FileAndEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "watcher.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
pool:
  size: 5
sched:
  tick: 30s
summarizer:
  endpoint: http://llm.local/v1/chat/completions
`), 0o600))
	t.Setenv("POOL_ACQUIRE_TIMEOUT", "10s")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 5, cfg.Pool.Size)
	assert.Equal(t, 30*time.Second, cfg.Sched.Tick)
	assert.Equal(t, 10*time.Second, cfg.Pool.AcquireTimeout)
	assert.True(t, cfg.Summarizer.Enabled())
}

func TestLoad_RejectsBadTick(t *testing.T) {
	t.Setenv("SCHED_TICK", "0s")
	_, err := Load("")
	require.Error(t, err)
}
