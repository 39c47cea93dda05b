package logger

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/charmbracelet/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	assert.Equal(t, log.DebugLevel, ParseLevel("debug"))
	assert.Equal(t, log.WarnLevel, ParseLevel(" WARN "))
	assert.Equal(t, log.ErrorLevel, ParseLevel("error"))
	assert.Equal(t, log.InfoLevel, ParseLevel("verbose"))
	assert.Equal(t, log.InfoLevel, ParseLevel(""))
}

func TestConfigureWritesToFile(t *testing.T) {
	original := Logger
	t.Cleanup(func() { Logger = original })

	path := filepath.Join(t.TempDir(), "client.log")
	closer, err := Configure("warn", path)
	require.NoError(t, err)

	Info("hidden")
	Warn("save failed", "session", 3)
	require.NoError(t, closer.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.NotContains(t, string(data), "hidden")
	assert.Contains(t, string(data), "save failed")
	assert.Contains(t, string(data), "session=3")
}

func TestSetOutputKeepsLevel(t *testing.T) {
	original := Logger
	t.Cleanup(func() { Logger = original })

	_, err := Configure("error", "")
	require.NoError(t, err)

	var buf bytes.Buffer
	SetOutput(&buf)
	Warn("dropped")
	Error("kept")

	assert.NotContains(t, buf.String(), "dropped")
	assert.Contains(t, buf.String(), "kept")
}
