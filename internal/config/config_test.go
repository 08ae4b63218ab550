package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "dashboard.toml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoad(t *testing.T) {
	t.Setenv(EnvDatabaseDSN, "")
	path := writeConfig(t, `
[server]
addr = ":9090"
allowed_origins = ["https://app.example.com"]

[database]
dsn = "postgres://dash@localhost/dash"
migrate = false

[cache]
default_freshness = "2m"

[realtime]
reconnect_max = "1m"
stable_after = "5m"

[listener]
ping_interval = "30s"

[log]
level = "debug"
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, ":9090", cfg.Server.Addr)
	assert.Equal(t, []string{"https://app.example.com"}, cfg.Server.AllowedOrigins)
	assert.Equal(t, 10*time.Second, cfg.Server.ShutdownTimeout.Std(), "unset keys keep their default")
	assert.False(t, cfg.Database.Migrate)
	assert.Equal(t, 2*time.Minute, cfg.CacheConfig().DefaultFreshness)
	assert.Equal(t, 5*time.Minute, cfg.CacheConfig().EvictionGrace)
	assert.Equal(t, time.Second, cfg.RealtimeConfig().ReconnectMin)
	assert.Equal(t, time.Minute, cfg.RealtimeConfig().ReconnectMax)
	assert.Equal(t, 5*time.Minute, cfg.RealtimeConfig().StableAfter)
	assert.Equal(t, 30*time.Second, cfg.ListenerConfig().PingInterval)
	assert.Equal(t, "debug", cfg.Log.Level)
}

func TestLoad_EnvironmentWins(t *testing.T) {
	path := writeConfig(t, `
[database]
dsn = "postgres://file@localhost/dash"
`)
	t.Setenv(EnvDatabaseDSN, "postgres://env@localhost/dash")
	t.Setenv(EnvServerAddr, ":7070")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "postgres://env@localhost/dash", cfg.Database.DSN)
	assert.Equal(t, ":7070", cfg.Server.Addr)
}

func TestLoad_WithoutFile(t *testing.T) {
	t.Setenv(EnvDatabaseDSN, "postgres://env@localhost/dash")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, Default().Server, cfg.Server)
}

func TestLoad_Errors(t *testing.T) {
	t.Setenv(EnvDatabaseDSN, "")

	tests := []struct {
		name string
		body string
		want string
	}{
		{name: "unknown key", body: "[server]\nport = 80\n", want: "unknown configuration keys"},
		{name: "bad duration", body: "[database]\ndsn = \"x\"\n[cache]\neviction_grace = \"soon\"\n", want: "invalid duration"},
		{name: "missing dsn", body: "[server]\naddr = \":80\"\n", want: "database"},
		{name: "bad level", body: "[database]\ndsn = \"x\"\n[log]\nlevel = \"loud\"\n", want: "log"},
		{name: "backoff inverted", body: "[database]\ndsn = \"x\"\n[realtime]\nreconnect_min = \"1m\"\nreconnect_max = \"1s\"\n", want: "realtime"},
		{name: "negative stable window", body: "[database]\ndsn = \"x\"\n[realtime]\nstable_after = \"-1s\"\n", want: "realtime"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.body))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}

	_, err := Load(filepath.Join(t.TempDir(), "missing.toml"))
	assert.Error(t, err)
}

func TestDuration_Text(t *testing.T) {
	var d Duration
	require.NoError(t, d.UnmarshalText([]byte("1m30s")))
	assert.Equal(t, 90*time.Second, d.Std())

	out, err := d.MarshalText()
	require.NoError(t, err)
	assert.Equal(t, "1m30s", string(out))

	assert.Error(t, d.UnmarshalText([]byte("ninety")))
}
