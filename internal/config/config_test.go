package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "carx.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestDefault(t *testing.T) {
	t.Parallel()

	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, ".", cfg.Output)
	assert.Equal(t, 1, cfg.Jobs)

	level, err := cfg.Level()
	require.NoError(t, err)
	assert.Equal(t, slog.LevelInfo, level)

	limit, err := cfg.MaxBufferBytes()
	require.NoError(t, err)
	assert.Zero(t, limit)
}

func TestLoadOverridesDefaults(t *testing.T) {
	t.Parallel()

	path := writeConfig(t, `
output: /tmp/extract
max_buffer: 64MiB
max_section: 1MB
log_level: debug
plain_http: true
jobs: 4
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "/tmp/extract", cfg.Output)
	assert.True(t, cfg.PlainHTTP)
	assert.Equal(t, 4, cfg.Jobs)

	limit, err := cfg.MaxBufferBytes()
	require.NoError(t, err)
	assert.Equal(t, uint64(64<<20), limit)

	section, err := cfg.MaxSectionBytes()
	require.NoError(t, err)
	assert.Equal(t, uint64(1_000_000), section)

	level, err := cfg.Level()
	require.NoError(t, err)
	assert.Equal(t, slog.LevelDebug, level)
}

func TestLoadKeepsUnsetDefaults(t *testing.T) {
	t.Parallel()

	cfg, err := Load(writeConfig(t, "jobs: 2\n"))
	require.NoError(t, err)
	assert.Equal(t, ".", cfg.Output)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, 2, cfg.Jobs)
}

func TestLoadExpandsOutput(t *testing.T) {
	t.Setenv("CARX_TEST_OUT", "/data/out")

	cfg, err := Load(writeConfig(t, "output: ${CARX_TEST_OUT}/car\n"))
	require.NoError(t, err)
	assert.Equal(t, "/data/out/car", cfg.Output)
}

func TestLoadFromEnvironment(t *testing.T) {
	t.Setenv(EnvVar, writeConfig(t, "log_level: warn\n"))

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "warn", cfg.LogLevel)
}

func TestLoadWithoutFile(t *testing.T) {
	t.Setenv(EnvVar, "")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoadRejectsInvalid(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		content string
	}{
		{"bad size", "max_buffer: lots\n"},
		{"bad section", "max_section: -1\n"},
		{"bad level", "log_level: loud\n"},
		{"zero jobs", "jobs: 0\n"},
		{"empty output", "output: \"\"\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := Load(writeConfig(t, tt.content))
			require.ErrorIs(t, err, ErrInvalid)
		})
	}
}

func TestLoadMalformedYAML(t *testing.T) {
	t.Parallel()

	_, err := Load(writeConfig(t, "jobs: [\n"))
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrInvalid)
}

func TestLoadMissingFile(t *testing.T) {
	t.Parallel()

	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.ErrorIs(t, err, os.ErrNotExist)
}
