// ABOUTME: Tests for logging setup
// ABOUTME: Checks level parsing and file output
package logging

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/charmbracelet/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in      string
		want    log.Level
		wantErr bool
	}{
		{"", log.InfoLevel, false},
		{"debug", log.DebugLevel, false},
		{"TRACE", log.DebugLevel, false},
		{"warning", log.WarnLevel, false},
		{" error ", log.ErrorLevel, false},
		{"loud", log.InfoLevel, true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseLevel(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestSetupWritesFile(t *testing.T) {
	prev := log.Default()
	t.Cleanup(func() { log.SetDefault(prev) })

	path := filepath.Join(t.TempDir(), "soundboard.log")
	closer, err := Setup("warn", path, false)
	require.NoError(t, err)

	log.Info("hidden message")
	log.Warn("visible message", "clip", "airhorn")
	require.NoError(t, closer.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.True(t, strings.Contains(string(data), "visible message"))
	assert.False(t, strings.Contains(string(data), "hidden message"))
}

func TestSetupRejectsBadLevel(t *testing.T) {
	_, err := Setup("chatty", "", false)
	assert.Error(t, err)
}

func TestSetupBadFile(t *testing.T) {
	_, err := Setup("info", filepath.Join(t.TempDir(), "missing", "x.log"), false)
	assert.Error(t, err)
}
