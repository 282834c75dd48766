package am

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// isolate points HOME and the working directory at fresh temp dirs and
// clears cached config. Returns (home, project).
func isolate(t *testing.T) (string, string) {
	t.Helper()
	home := t.TempDir()
	project := t.TempDir()
	t.Setenv("HOME", home)
	t.Chdir(project)
	Reset()
	t.Cleanup(Reset)
	return home, project
}

func TestLoad_Precedence(t *testing.T) {
	home, project := isolate(t)

	writeFile(t, filepath.Join(home, ".cronctl", "am.toml"), `
[database]
path = "user.db"

[pulse]
queue_size = 3
confirm_max_pages = 9
`)
	writeFile(t, filepath.Join(project, "am.toml"), `
[pulse]
queue_size = 4
`)
	t.Setenv("CRONCTL_PULSE_CONFIRM_MAX_PAGES", "11")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "user.db", cfg.Database.Path, "user file sets keys the project file leaves alone")
	assert.Equal(t, 4, cfg.Pulse.QueueSize, "project file wins over user file")
	assert.Equal(t, 11, cfg.Pulse.ConfirmMaxPages, "env wins over files")
	assert.Equal(t, 100, cfg.Pulse.ConfirmPageSize, "defaults fill the rest")
}

func TestLoad_ProjectConfigFoundUpward(t *testing.T) {
	_, project := isolate(t)
	writeFile(t, filepath.Join(project, "am.toml"), `
[metrics]
addr = "127.0.0.1:9464"
`)
	nested := filepath.Join(project, "a", "b")
	writeFile(t, filepath.Join(nested, ".keep"), "")
	t.Chdir(nested)
	Reset()

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:9464", cfg.Metrics.Addr)
	assert.Contains(t, ConfigFiles(), filepath.Join(project, "am.toml"))
}

func TestLoad_Cached(t *testing.T) {
	isolate(t)

	first, err := Load()
	require.NoError(t, err)
	second, err := Load()
	require.NoError(t, err)
	assert.Same(t, first, second)

	Reset()
	third, err := Load()
	require.NoError(t, err)
	assert.NotSame(t, first, third)
}

func TestLoad_BoundEnvVars(t *testing.T) {
	isolate(t)
	t.Setenv("CRONCTL_DATABASE_PATH", "/tmp/env.db")
	t.Setenv("CRONCTL_METRICS_ADDR", ":9999")

	path, err := GetDatabasePath()
	require.NoError(t, err)
	assert.Equal(t, "/tmp/env.db", path)
	assert.Equal(t, ":9999", GetString("metrics.addr"))
}

func TestLoad_ExtensionsFileAppended(t *testing.T) {
	_, project := isolate(t)
	extPath := filepath.Join(project, "extensions.toml")
	writeFile(t, extPath, `
[[cadences]]
name = "every_two_hours"
interval_seconds = 7200

[[jobs]]
action = "from_file"
cadence = "every_two_hours"
handler = "purge"
`)
	writeFile(t, filepath.Join(project, "am.toml"), `
[extensions]
file = "`+extPath+`"

[[extensions.jobs]]
action = "inline"
cadence = "hourly"
handler = "legacy"
`)

	cfg, err := Load()
	require.NoError(t, err)

	require.Len(t, cfg.Extensions.Jobs, 2)
	assert.Equal(t, "inline", cfg.Extensions.Jobs[0].Action)
	assert.Equal(t, "from_file", cfg.Extensions.Jobs[1].Action)
	require.Len(t, cfg.Extensions.Cadences, 1)
	assert.Equal(t, int64(7200), cfg.Extensions.Cadences[0].IntervalSeconds)
}

func TestLoad_ExtensionsFileMissing(t *testing.T) {
	isolate(t)
	t.Setenv("CRONCTL_EXTENSIONS_FILE", "/nonexistent/extensions.toml")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "extensions file")
}
