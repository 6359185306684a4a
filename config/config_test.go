package config_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"osrd.dev/macro/config"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "macro.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0644))
	return path
}

func TestLoaderDefaults(t *testing.T) {
	path := writeConfig(t, "scenario:\n  timetable_id: 5\n")
	l, err := config.NewLoader(path)
	require.NoError(t, err)

	cfg := l.Config()
	assert.Equal(t, int64(5), cfg.Scenario.TimetableID)
	// Unset sections keep the defaults.
	assert.Equal(t, 800, cfg.Layout.CanvasWidth)
	assert.Equal(t, 100, cfg.Paging.PageSize)
	assert.Equal(t, "memory", cfg.Storage.Backend)
	assert.Equal(t, ":8080", cfg.Listen)
}

func TestLoaderOverrides(t *testing.T) {
	path := writeConfig(t, `
layout:
  canvas_width: 1600
  canvas_height: 900
  padding: 0.2
paging:
  page_size: 25
storage:
  backend: sqlite
  directory: /tmp/macro
listen: ":9090"
`)
	l, err := config.NewLoader(path)
	require.NoError(t, err)

	cfg := l.Config()
	assert.Equal(t, 1600, cfg.Layout.CanvasWidth)
	assert.Equal(t, 0.2, cfg.Layout.Padding)
	assert.Equal(t, 25, cfg.Paging.PageSize)
	assert.Equal(t, "sqlite", cfg.Storage.Backend)
	assert.Equal(t, ":9090", cfg.Listen)
}

func TestLoaderRejectsInvalid(t *testing.T) {
	for _, body := range []string{
		"storage:\n  backend: cassandra\n",
		"storage:\n  backend: postgres\n",
		"paging:\n  page_size: 0\n",
		"layout:\n  padding: 0.7\n",
	} {
		_, err := config.NewLoader(writeConfig(t, body))
		assert.Error(t, err, "config %q", body)
	}

	_, err := config.NewLoader(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestValidateDefault(t *testing.T) {
	assert.NoError(t, config.Validate(config.Default()))
}
