package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "0.0.0.0:8080", cfg.Addr())
	assert.Equal(t, "arena.db", cfg.DBPath)
	assert.Equal(t, 1000.0, cfg.InitialRating)
	assert.Equal(t, 350.0, cfg.InitialRD)
	assert.Equal(t, "agis_v1", cfg.MatchmakingPolicy)
	assert.Equal(t, 10, cfg.TargetBattlesPerPair)
	assert.Equal(t, 5*time.Minute, cfg.SuggestedTimeLimit)
	assert.Equal(t, 10, cfg.BattlesPerMinute)
	assert.Equal(t, 20, cfg.VotesPerMinute)
}

func TestLoadFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "arena.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
port: 9000
db_path: /var/lib/arena/arena.db
matchmaking_policy: uniform_v0
admin_emails:
  - ops@example.com
suggested_time_limit: 3m
`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 9000, cfg.Port)
	assert.Equal(t, "/var/lib/arena/arena.db", cfg.DBPath)
	assert.Equal(t, "uniform_v0", cfg.MatchmakingPolicy)
	assert.Equal(t, []string{"ops@example.com"}, cfg.AdminEmails)
	assert.Equal(t, 3*time.Minute, cfg.SuggestedTimeLimit)
}

func TestEnvOverridesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "arena.yaml")
	require.NoError(t, os.WriteFile(path, []byte("port: 9000\n"), 0o644))
	t.Setenv("ARENA_PORT", "9100")
	t.Setenv("ARENA_INITIAL_RATING", "1500")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 9100, cfg.Port)
	assert.Equal(t, 1500.0, cfg.InitialRating)
}

func TestLoadRejectsBadValues(t *testing.T) {
	write := func(body string) string {
		path := filepath.Join(t.TempDir(), "arena.yaml")
		require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
		return path
	}

	_, err := Load(write("port: 0\n"))
	assert.ErrorContains(t, err, "port")

	_, err = Load(write("matchmaking_policy: elo_v9\n"))
	assert.ErrorContains(t, err, "matchmaking policy")

	_, err = Load(write("initial_rd: -1\n"))
	assert.ErrorContains(t, err, "rating parameters")

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
