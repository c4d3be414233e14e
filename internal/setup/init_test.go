package setup

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/msageha/autosteer/internal/profile"
)

func initProject(t *testing.T, opts Options) (projectDir, ws string) {
	t.Helper()
	projectDir = filepath.Join(t.TempDir(), "myproject")
	require.NoError(t, os.Mkdir(projectDir, 0755))
	ws, err := Init(projectDir, opts)
	require.NoError(t, err)
	return projectDir, ws
}

func TestInit_Layout(t *testing.T) {
	projectDir, ws := initProject(t, Options{})
	assert.Equal(t, filepath.Join(projectDir, WorkspaceDirName), ws)

	for _, d := range []string{"drafts", "profiles", "locks", "logs", "quarantine"} {
		assert.DirExists(t, filepath.Join(ws, d))
	}

	entries, err := os.ReadDir(projectDir)
	require.NoError(t, err)
	require.Len(t, entries, 1, "no staging directory is left behind")
	assert.Equal(t, WorkspaceDirName, entries[0].Name())
}

func TestInit_StarterProfiles(t *testing.T) {
	_, ws := initProject(t, Options{})

	starters, err := profile.LoadTemplates(os.DirFS(ws))
	require.NoError(t, err)
	assert.Len(t, starters, 3)
	_, ok := profile.FindTemplate(starters, "tpl_ship_fast")
	assert.True(t, ok, "ship-fast starter missing")
}

func TestInit_Config(t *testing.T) {
	created := time.Date(2026, 3, 1, 9, 30, 0, 0, time.UTC)
	_, ws := initProject(t, Options{Now: func() time.Time { return created }})

	cfg, err := LoadConfig(ws)
	require.NoError(t, err)
	assert.Equal(t, "myproject", cfg.Project.Name)
	assert.Equal(t, "2026-03-01T09:30:00Z", cfg.Project.Created)
	assert.Equal(t, DefaultBackendSocket, cfg.Backend.SocketPath)
	assert.Equal(t, DefaultEventSocket, cfg.Backend.EventSocketPath)
	assert.Equal(t, 5, cfg.Channel.MaxAttempts)
	assert.True(t, cfg.Notify.Enabled)
}

func TestInit_ProjectNameOverride(t *testing.T) {
	_, ws := initProject(t, Options{ProjectName: "dashboard"})
	cfg, err := LoadConfig(ws)
	require.NoError(t, err)
	assert.Equal(t, "dashboard", cfg.Project.Name)
}

func TestInit_RefusesExistingWorkspace(t *testing.T) {
	projectDir, ws := initProject(t, Options{})
	require.NoError(t, os.WriteFile(filepath.Join(ws, "marker"), nil, 0644))

	_, err := Init(projectDir, Options{})
	assert.ErrorIs(t, err, ErrExists)
	assert.FileExists(t, filepath.Join(ws, "marker"))
}

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(body), 0644))
	return dir
}

func TestLoadConfig_AppliesDefaults(t *testing.T) {
	cfg, err := LoadConfig(writeConfig(t, "project:\n  name: x\nbackend:\n  socket_path: b.sock\n"))
	require.NoError(t, err)
	assert.Equal(t, 5, cfg.Poll.FastIntervalSec)
	assert.Equal(t, 1000, cfg.Channel.InitialDelayMs)
	assert.Equal(t, "info", cfg.Logging.Level)
}

func TestLoadConfig_Rejects(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
	}{
		{"unknown key", "backend:\n  socket_path: b.sock\n  sokcet: x\n", "sokcet"},
		{"no backend socket", "project:\n  name: x\n", "backend.socket_path"},
		{"inverted backoff", "backend:\n  socket_path: b.sock\nchannel:\n  initial_delay_ms: 5000\n  max_delay_ms: 100\n", "channel.max_delay_ms"},
		{"bad level", "backend:\n  socket_path: b.sock\nlogging:\n  level: loud\n", "logging.level"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadConfig(writeConfig(t, tt.body))
			require.Error(t, err)
			assert.True(t, strings.Contains(err.Error(), tt.want), "got %v", err)
		})
	}
}

func TestLoadConfig_Missing(t *testing.T) {
	_, err := LoadConfig(t.TempDir())
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestFindWorkspaceDir(t *testing.T) {
	dir := t.TempDir()
	ws := filepath.Join(dir, WorkspaceDirName)
	nested := filepath.Join(dir, "a", "b")
	require.NoError(t, os.MkdirAll(ws, 0755))
	require.NoError(t, os.MkdirAll(nested, 0755))

	assert.Equal(t, ws, FindWorkspaceDir(nested))
	assert.Equal(t, ws, FindWorkspaceDir(dir))
	assert.Empty(t, FindWorkspaceDir(t.TempDir()))
}
