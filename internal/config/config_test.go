package config

import (
	"bytes"
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chart-gateway/internal/model"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, "server:\n  port: \"9090\"\n"))
	require.NoError(t, err)

	assert.Equal(t, "9090", cfg.Server.Port)
	assert.Equal(t, 1000, cfg.Engine.MaxLimit)
	assert.Equal(t, 10*time.Second, cfg.Engine.StatementTimeout)
	assert.Equal(t, 10, cfg.Pool.MaxSize)
	assert.Equal(t, 5*time.Second, cfg.Pool.AcquireTimeout)
	assert.Equal(t, 300*time.Second, cfg.Schema.CacheTTL)
	assert.False(t, cfg.Database.Enabled)
	assert.True(t, cfg.Security.EnableAuth)
	assert.Empty(t, cfg.DataSources)
}

func TestLoadDataSources(t *testing.T) {
	cfg, err := Load(writeConfig(t, `
engine:
  max_limit: 500
datasources:
  warehouse:
    type: sqlite
    dsn: /var/lib/warehouse.db
    max_pool_size: 4
`))
	require.NoError(t, err)

	assert.Equal(t, 500, cfg.Engine.MaxLimit)
	assert.Equal(t, "warehouse", cfg.Engine.DefaultDataSource)

	sources := cfg.StaticDataSources()
	require.Len(t, sources, 1)
	assert.Equal(t, "warehouse", sources[0].Name)
	assert.Equal(t, model.DatabaseTypeSQLite, sources[0].Type)
	assert.Equal(t, "/var/lib/warehouse.db", sources[0].Config.DSN)
	assert.Equal(t, 4, sources[0].Config.MaxPoolSize)
	assert.Equal(t, model.DataSourceStatusActive, sources[0].Status)
}

func TestLoadEnvironmentOverride(t *testing.T) {
	t.Setenv("CHART_ENGINE_MAX_LIMIT", "50")
	t.Setenv("CHART_POOL_ACQUIRE_TIMEOUT", "250ms")

	cfg, err := Load(writeConfig(t, "engine:\n  max_limit: 500\n"))
	require.NoError(t, err)

	assert.Equal(t, 50, cfg.Engine.MaxLimit)
	assert.Equal(t, 250*time.Millisecond, cfg.Pool.AcquireTimeout)
}

func TestLoadRejectsInvalidSettings(t *testing.T) {
	_, err := Load(writeConfig(t, "engine:\n  max_limit: 0\n"))
	assert.ErrorContains(t, err, "engine.max_limit")

	_, err = Load(writeConfig(t, "datasources:\n  legacy:\n    type: db2\n"))
	assert.ErrorContains(t, err, "unsupported type")
}

func TestNewLogger(t *testing.T) {
	var buf bytes.Buffer

	logger := NewLogger(LoggingConfig{Level: "warn", Format: "json"}, &buf)
	logger.Info("dropped")
	logger.Warn("kept", "datasource", "warehouse")

	out := buf.String()
	assert.NotContains(t, out, "dropped")
	assert.Contains(t, out, `"msg":"kept"`)
	assert.Contains(t, out, `"datasource":"warehouse"`)

	buf.Reset()
	text := NewLogger(LoggingConfig{Level: "debug", Format: "text"}, &buf)
	assert.True(t, text.Enabled(context.Background(), slog.LevelDebug))
	text.Debug("visible")
	assert.Contains(t, buf.String(), "msg=visible")
}
