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

	assert.Equal(t, "http://127.0.0.1:18789", cfg.Gateway)
	assert.Equal(t, "/hooks", cfg.HooksPath)
	assert.Equal(t, "tasks-*.json", cfg.FilePattern)
	assert.Equal(t, 30*time.Second, cfg.CheckInterval)
	assert.Equal(t, 30*time.Second, cfg.DispatchTimeout)
	assert.Equal(t, "+03:00", cfg.TZOffset)
	_, off := time.Date(2024, 1, 1, 0, 0, 0, 0, cfg.Location).Zone()
	assert.Equal(t, 3*3600, off)
	assert.Empty(t, cfg.AdminAddr)
	assert.Empty(t, cfg.HistoryDB)
}

func TestLoadEnvironment(t *testing.T) {
	t.Setenv("SCHEDULER_TASKS_DIR", "/srv/tasks")
	t.Setenv("SCHEDULER_GATEWAY", "http://gw:9000")
	t.Setenv("SCHEDULER_HOOKS_TOKEN", "s3cret")
	t.Setenv("SCHEDULER_HOOKS_PATH", "/api/hooks")
	t.Setenv("SCHEDULER_CHECK_INTERVAL", "10s")
	t.Setenv("SCHEDULER_TZ_OFFSET", "-05:30")
	t.Setenv("SCHEDULER_DISPATCH_RATE", "2.5")

	cfg, err := Load("")
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "/srv/tasks", cfg.TasksDir)
	assert.Equal(t, "http://gw:9000", cfg.Gateway)
	assert.Equal(t, "s3cret", cfg.Token)
	assert.Equal(t, "/api/hooks", cfg.HooksPath)
	assert.Equal(t, 10*time.Second, cfg.CheckInterval)
	assert.Equal(t, 2.5, cfg.DispatchRate)
	_, off := time.Date(2024, 1, 1, 0, 0, 0, 0, cfg.Location).Zone()
	assert.Equal(t, -(5*3600 + 30*60), off)
}

func TestLoadFileThenEnvironment(t *testing.T) {
	path := filepath.Join(t.TempDir(), "hooksched.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
tasks_dir: /from/file
hooks_token: file-token
check_interval: 45s
admin_addr: ":9090"
history_db: /var/lib/hooksched/history.db
`), 0o644))
	t.Setenv("SCHEDULER_HOOKS_TOKEN", "env-token")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "/from/file", cfg.TasksDir)
	assert.Equal(t, "env-token", cfg.Token, "environment wins over the file")
	assert.Equal(t, 45*time.Second, cfg.CheckInterval)
	assert.Equal(t, ":9090", cfg.AdminAddr)
	assert.Equal(t, "/var/lib/hooksched/history.db", cfg.HistoryDB)
}

func TestLoadBareNumbersAreSeconds(t *testing.T) {
	t.Setenv("SCHEDULER_HOOKS_TOKEN", "x")
	t.Setenv("SCHEDULER_CHECK_INTERVAL", "30")
	t.Setenv("SCHEDULER_DISPATCH_TIMEOUT", "2.5")
	t.Setenv("SCHEDULER_HISTORY_RETENTION", "86400")

	cfg, err := Load("")
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())
	assert.Equal(t, 30*time.Second, cfg.CheckInterval)
	assert.Equal(t, 2500*time.Millisecond, cfg.DispatchTimeout)
	assert.Equal(t, 24*time.Hour, cfg.HistoryRetention)
}

func TestLoadBareNumberInFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "hooksched.yaml")
	require.NoError(t, os.WriteFile(path, []byte("check_interval: 45\n"), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 45*time.Second, cfg.CheckInterval)
}

func TestLoadRejectsBadDuration(t *testing.T) {
	t.Setenv("SCHEDULER_CHECK_INTERVAL", "soon")
	_, err := Load("")
	assert.ErrorContains(t, err, "check_interval")
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.ErrorIs(t, cfg.Validate(), ErrMissingToken)

	cfg.Token = "x"
	assert.NoError(t, cfg.Validate())

	bad := cfg
	bad.CheckInterval = 0
	assert.Error(t, bad.Validate())

	bad = cfg
	bad.CheckInterval = 30 * time.Nanosecond
	assert.Error(t, bad.Validate(), "sub-second interval")

	bad = cfg
	bad.DispatchTimeout = 500 * time.Millisecond
	assert.Error(t, bad.Validate(), "sub-second timeout")

	bad = cfg
	bad.DispatchRate = -1
	assert.Error(t, bad.Validate())

	bad = cfg
	bad.TasksDir = " "
	assert.Error(t, bad.Validate())
}

func TestParseOffset(t *testing.T) {
	cases := map[string]int{
		"+03:00": 3 * 3600,
		"+0300":  3 * 3600,
		"+3":     3 * 3600,
		"-05:30": -(5*3600 + 30*60),
		"UTC":    0,
		"Z":      0,
		"":       0,
		"+00:00": 0,
	}
	for in, want := range cases {
		loc, err := ParseOffset(in)
		require.NoError(t, err, in)
		_, off := time.Date(2024, 1, 1, 0, 0, 0, 0, loc).Zone()
		assert.Equal(t, want, off, in)
	}

	for _, in := range []string{"Europe/Moscow", "+25:00", "+03:99", "+ab", "3"} {
		_, err := ParseOffset(in)
		assert.Error(t, err, in)
	}
}

func TestLoadRejectsBadOffset(t *testing.T) {
	t.Setenv("SCHEDULER_TZ_OFFSET", "MSK")
	_, err := Load("")
	assert.Error(t, err)
}
