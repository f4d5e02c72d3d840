package logging

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ab1355/ModuMind/internal/config"
)

func TestNew_WritesStructuredFields(t *testing.T) {
	out := filepath.Join(t.TempDir(), "out.log")
	log, err := New(config.LoggerConfig{Level: "debug", Encoding: "json", OutputPaths: []string{out}})
	require.NoError(t, err)

	log.Infow("task_submitted", "task_id", "t1", "subtasks", 3)
	_ = log.Sync()

	data, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"message":"task_submitted"`)
	assert.Contains(t, string(data), `"task_id":"t1"`)
	assert.Contains(t, string(data), `"level":"INFO"`)
}

func TestNew_LevelFilters(t *testing.T) {
	out := filepath.Join(t.TempDir(), "out.log")
	log, err := New(config.LoggerConfig{Level: "warn", Encoding: "json", OutputPaths: []string{out}})
	require.NoError(t, err)

	log.Infow("quiet")
	log.Warnw("loud")
	_ = log.Sync()

	data, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.NotContains(t, string(data), "quiet")
	assert.Contains(t, string(data), "loud")
}

func TestNew_UnknownLevelFallsBack(t *testing.T) {
	log, err := New(config.LoggerConfig{Level: "chatty", Encoding: "xml"})
	require.NoError(t, err)
	assert.NotNil(t, log)
	assert.NotNil(t, Nop())
}
