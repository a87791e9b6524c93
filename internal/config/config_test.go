package config_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/charlalabs/charla-gateway/internal/config"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := config.Load()
	require.NoError(t, err)
	assert.Equal(t, 8080, cfg.Port)
	assert.Equal(t, "dev", cfg.AppEnv)
	assert.True(t, cfg.IsDev())
	assert.False(t, cfg.IsProd())
	assert.Equal(t, 200, cfg.HistoryMaxEntries)
	assert.Equal(t, 5, cfg.MemoriesMax)
	assert.Equal(t, 30*time.Second, cfg.ChatTimeout)
	assert.False(t, cfg.LicenseEnabled())
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("APP_ENV", "prod")
	t.Setenv("PORT", "9999")
	t.Setenv("CHAT_API_KEYS", "k1, k2 ,k3")
	t.Setenv("LICENSE_URL", "https://license.example.com/check")
	cfg, err := config.Load()
	require.NoError(t, err)
	assert.True(t, cfg.IsProd())
	assert.Equal(t, 9999, cfg.Port)
	assert.Len(t, cfg.ChatAPIKeys, 3)
	assert.True(t, cfg.LicenseEnabled())
}
