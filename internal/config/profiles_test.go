// ABOUTME: Tests for the output profile store and its file watcher
// ABOUTME: Verifies case-insensitive lookup and hot reload of profiles
package config

import (
	"os"
	"testing"
	"time"

	"github.com/Resonate-Protocol/soundboard-go/internal/engine"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProfilesGet(t *testing.T) {
	p := NewProfiles(map[string][]engine.OutputTarget{
		"stream": {{Device: "Headphones", Volume: 40}},
	})

	targets, ok := p.Get("Stream")
	require.True(t, ok)
	assert.Equal(t, []engine.OutputTarget{{Device: "Headphones", Volume: 40}}, targets)

	targets, ok = p.Get("")
	require.True(t, ok, "DEFAULT always exists")
	assert.Equal(t, engine.GlobalDefault, targets[0].Device)

	_, ok = p.Get("missing")
	assert.False(t, ok)

	assert.Equal(t, []string{"DEFAULT", "STREAM"}, p.Names())
}

func TestProfilesGetReturnsCopy(t *testing.T) {
	p := NewProfiles(map[string][]engine.OutputTarget{
		"DEFAULT": {{Device: "Speakers", Volume: 100}},
	})

	targets, _ := p.Get("DEFAULT")
	targets[0].Volume = 1

	again, _ := p.Get("DEFAULT")
	assert.Equal(t, 100, again[0].Volume)
}

func TestWatcherReloadsProfiles(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, sampleConfig)

	v := viper.New()
	cfg, err := Load(v, path)
	require.NoError(t, err)

	profiles := NewProfiles(cfg.Profiles)
	reloaded := make(chan []string, 4)
	w, err := NewWatcher(v, profiles, func(names []string) { reloaded <- names })
	require.NoError(t, err)
	defer w.Close()

	updated := sampleConfig + `
  late:
    - device: Speakers
      volume: 10
`
	require.NoError(t, os.WriteFile(path, []byte(updated), 0o644))

	assert.Eventually(t, func() bool {
		_, ok := profiles.Get("late")
		return ok
	}, 3*time.Second, 20*time.Millisecond)

	select {
	case names := <-reloaded:
		assert.Contains(t, names, "DEFAULT")
	case <-time.After(time.Second):
		t.Fatal("reload callback not called")
	}
}

func TestWatcherKeepsProfilesOnInvalidFile(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, sampleConfig)

	v := viper.New()
	cfg, err := Load(v, path)
	require.NoError(t, err)

	profiles := NewProfiles(cfg.Profiles)
	w, err := NewWatcher(v, profiles, nil)
	require.NoError(t, err)

	bad := `
profiles:
  DEFAULT:
    - device: Speakers
      volume: 500
`
	require.NoError(t, os.WriteFile(path, []byte(bad), 0o644))

	// give the watcher time to see the write
	time.Sleep(200 * time.Millisecond)
	require.NoError(t, w.Close())

	targets, ok := profiles.Get("DEFAULT")
	require.True(t, ok)
	assert.Equal(t, 80, targets[0].Volume)
	_, ok = profiles.Get("stream")
	assert.True(t, ok)
}

func TestNewWatcherWithoutFile(t *testing.T) {
	_, err := NewWatcher(viper.New(), NewProfiles(nil), nil)
	assert.Error(t, err)
}
