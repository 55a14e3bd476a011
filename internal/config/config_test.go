package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setRequired(t *testing.T) {
	t.Setenv("QUERYHUB_DATABASE_URL", "postgres://localhost/queryhub")
	t.Setenv("QUERYHUB_API_KEY_PEPPER", "pepper")
}

func TestLoadDefaults(t *testing.T) {
	setRequired(t)
	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, ":8080", cfg.HTTPAddr)
	assert.Equal(t, 30, cfg.AgentTimeoutSeconds)
	assert.Equal(t, 5, cfg.DailyConversationLimit)
	assert.Equal(t, 20, cfg.DailyRunLimit)
	assert.Equal(t, 8, cfg.ExecutorWorkers)
	assert.Equal(t, 256, cfg.ExecutorQueueSize)
	assert.Equal(t, 900, cfg.StaleRunSeconds)
	assert.Equal(t, int64(20<<20), cfg.MaxUploadBytes)
	assert.Equal(t, 120, cfg.IPRateLimitPerMinute)
	assert.Equal(t, 900, cfg.ObjstoreSTSDurationSeconds)
	assert.True(t, cfg.ObjstoreUseSSL)
}

func TestLoadClampsAndParses(t *testing.T) {
	setRequired(t)
	t.Setenv("QUERYHUB_AGENT_TIMEOUT_SECONDS", "9999")
	t.Setenv("QUERYHUB_EXECUTOR_WORKERS", "0")
	t.Setenv("QUERYHUB_DAILY_RUN_LIMIT", "not-a-number")
	t.Setenv("QUERYHUB_STALE_RUN_SECONDS", "5")
	t.Setenv("QUERYHUB_OBJSTORE_STS_DURATION_SECONDS", "10")
	t.Setenv("QUERYHUB_OBJSTORE_PROVIDER", " S3 ")
	t.Setenv("QUERYHUB_OBJSTORE_BASE_PREFIX", "/prod/")
	t.Setenv("QUERYHUB_OBJSTORE_USE_SSL", "false")
	t.Setenv("QUERYHUB_CORS_ORIGINS", "https://a.example, https://b.example,https://a.example")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 600, cfg.AgentTimeoutSeconds)
	assert.Equal(t, 1, cfg.ExecutorWorkers)
	assert.Equal(t, 20, cfg.DailyRunLimit)
	assert.Equal(t, 600+staleRunHeadroomSeconds, cfg.StaleRunSeconds)
	assert.Equal(t, 60, cfg.ObjstoreSTSDurationSeconds)
	assert.Equal(t, "s3", cfg.ObjstoreProvider)
	assert.Equal(t, "prod", cfg.ObjstoreBasePrefix)
	assert.False(t, cfg.ObjstoreUseSSL)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.CORSOrigins)
}

func TestLoadStaleWindowOutlivesAgentTimeout(t *testing.T) {
	setRequired(t)
	t.Setenv("QUERYHUB_AGENT_TIMEOUT_SECONDS", "300")
	t.Setenv("QUERYHUB_STALE_RUN_SECONDS", "200")
	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 300+staleRunHeadroomSeconds, cfg.StaleRunSeconds)

	t.Setenv("QUERYHUB_STALE_RUN_SECONDS", "3600")
	cfg, err = Load()
	require.NoError(t, err)
	assert.Equal(t, 3600, cfg.StaleRunSeconds)
}

func TestLoadRequiresDatabaseAndPepper(t *testing.T) {
	t.Setenv("QUERYHUB_DATABASE_URL", "")
	t.Setenv("QUERYHUB_API_KEY_PEPPER", "pepper")
	_, err := Load()
	assert.ErrorContains(t, err, "QUERYHUB_DATABASE_URL")

	t.Setenv("QUERYHUB_DATABASE_URL", "postgres://x")
	t.Setenv("QUERYHUB_API_KEY_PEPPER", "")
	_, err = Load()
	assert.ErrorContains(t, err, "QUERYHUB_API_KEY_PEPPER")
}
