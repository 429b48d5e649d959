package logging

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nhle/portal/internal/model"
)

func TestNew_FileGetsJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "portal.log")

	log, err := New(model.LogConfig{Level: "debug", File: path}, nil)
	require.NoError(t, err)
	log.Debug().Str("k", "v").Msg("hello")
	require.NoError(t, log.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"message":"hello"`)
	assert.Contains(t, string(data), `"k":"v"`)
}

func TestNew_LevelFiltersConsole(t *testing.T) {
	var buf bytes.Buffer

	log, err := New(model.LogConfig{Level: "warn"}, &buf)
	require.NoError(t, err)
	log.Info().Msg("quiet")
	log.Warn().Msg("loud")

	assert.NotContains(t, buf.String(), "quiet")
	assert.Contains(t, buf.String(), "loud")
}

func TestNew_BadLevelFallsBackToInfo(t *testing.T) {
	var buf bytes.Buffer

	log, err := New(model.LogConfig{Level: "chatty"}, &buf)
	require.NoError(t, err)
	log.Debug().Msg("hidden")
	log.Info().Msg("shown")

	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), "shown")
}
