package logging

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want zerolog.Level
	}{
		{"debug", zerolog.DebugLevel},
		{"INFO", zerolog.InfoLevel},
		{"warn", zerolog.WarnLevel},
		{"warning", zerolog.WarnLevel},
		{"error", zerolog.ErrorLevel},
		{"", zerolog.InfoLevel},
		{"verbose", zerolog.InfoLevel},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, ParseLevel(tt.in))
		})
	}
}

func TestSetup_WritesToOutput(t *testing.T) {
	buf := &bytes.Buffer{}

	logger, closer, err := Setup(Config{Level: "info", Output: buf})
	require.NoError(t, err)
	defer closer.Close()

	logger.Info().Str("partition", "2025-01-01").Msg("partition finished")
	logger.Debug().Msg("hidden debug line")

	out := buf.String()
	assert.Contains(t, out, "partition finished")
	assert.Contains(t, out, `"partition":"2025-01-01"`)
	assert.NotContains(t, out, "hidden debug line")
}

func TestSetup_LogFile(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "logs")
	buf := &bytes.Buffer{}

	logger, closer, err := Setup(Config{Level: "debug", Output: buf, Dir: dir})
	require.NoError(t, err)

	logger.Warn().Msg("written twice")
	require.NoError(t, closer.Close())

	data, err := os.ReadFile(filepath.Join(dir, LogFileName))
	require.NoError(t, err)
	assert.Contains(t, string(data), "written twice")
	assert.Contains(t, buf.String(), "written twice")
}

func TestNewLogger_Component(t *testing.T) {
	buf := &bytes.Buffer{}
	_, closer, err := Setup(Config{Level: "info", Output: buf})
	require.NoError(t, err)
	defer closer.Close()

	l := NewLogger("walker")
	l.Info().Msg("hello")

	assert.Contains(t, buf.String(), `"component":"walker"`)
}
