// ABOUTME: Tests for configuration loading and validation
// ABOUTME: Covers defaults, file and env overrides, and port fallback
package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/Resonate-Protocol/soundboard-go/internal/engine"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

const sampleConfig = `
log:
  level: debug
audio:
  driver: "null"
  null_devices: ["Speakers", "Headphones"]
engine:
  tick_interval: 100ms
server:
  port: 6000
  mdns: true
profiles:
  Default:
    - device: Speakers
      volume: 80
  stream:
    - device: Headphones
      volume: 40
    - device: Global default
      volume: 100
`

func writeConfig(t *testing.T, dir, body string) string {
	t.Helper()
	path := filepath.Join(dir, "soundboard.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadDefaults(t *testing.T) {
	t.Chdir(t.TempDir())

	cfg, err := Load(viper.New(), "")
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, DefaultDriver, cfg.Audio.Driver)
	assert.Equal(t, DefaultSampleRate, cfg.Audio.SampleRate)
	assert.Equal(t, engine.DefaultTickInterval, cfg.Engine.TickInterval)
	assert.True(t, cfg.Server.Enabled)
	assert.Equal(t, "127.0.0.1:53353", cfg.Server.Addr())
	assert.Equal(t, []engine.OutputTarget{{Device: engine.GlobalDefault, Volume: 100}}, cfg.Profiles[DefaultProfile])
}

func TestLoadFile(t *testing.T) {
	path := writeConfig(t, t.TempDir(), sampleConfig)

	cfg, err := Load(viper.New(), path)
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "null", cfg.Audio.Driver)
	assert.Equal(t, []string{"Speakers", "Headphones"}, cfg.Audio.NullDevices)
	assert.Equal(t, 100*time.Millisecond, cfg.Engine.TickInterval)
	assert.Equal(t, 6000, cfg.Server.Port)
	assert.True(t, cfg.Server.MDNS)

	assert.Equal(t, []engine.OutputTarget{{Device: "Speakers", Volume: 80}}, cfg.Profiles["DEFAULT"])
	assert.Len(t, cfg.Profiles["STREAM"], 2)
}

func TestLoadEnvOverride(t *testing.T) {
	path := writeConfig(t, t.TempDir(), sampleConfig)
	t.Setenv("SOUNDBOARD_SERVER_PORT", "7000")
	t.Setenv("SOUNDBOARD_AUDIO_SAMPLE_RATE", "48000")

	cfg, err := Load(viper.New(), path)
	require.NoError(t, err)
	assert.Equal(t, 7000, cfg.Server.Port)
	assert.Equal(t, 48000, cfg.Audio.SampleRate)
}

func TestLoadMissingExplicitFile(t *testing.T) {
	_, err := Load(viper.New(), filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		return &Config{
			Log:    LogConfig{Level: "info"},
			Audio:  AudioConfig{Driver: "malgo", SampleRate: 44100},
			Engine: EngineConfig{TickInterval: 200 * time.Millisecond},
			Server: ServerConfig{Port: DefaultPort, RateLimit: 5, Burst: 5},
			Profiles: map[string][]engine.OutputTarget{
				DefaultProfile: {{Device: "Speakers", Volume: 50}},
			},
		}
	}

	tests := []struct {
		name   string
		mutate func(*Config)
		field  string
	}{
		{"bad level", func(c *Config) { c.Log.Level = "loud" }, "log.level"},
		{"bad driver", func(c *Config) { c.Audio.Driver = "jack" }, "audio.driver"},
		{"bad rate", func(c *Config) { c.Audio.SampleRate = 100 }, "audio.sample_rate"},
		{"zero tick", func(c *Config) { c.Engine.TickInterval = 0 }, "engine.tick_interval"},
		{"negative rate limit", func(c *Config) { c.Server.RateLimit = -1 }, "server.rate_limit"},
		{"zero burst", func(c *Config) { c.Server.Burst = 0 }, "server.burst"},
		{"loud target", func(c *Config) { c.Profiles[DefaultProfile][0].Volume = 101 }, "profiles.DEFAULT[0].volume"},
		{"unnamed target", func(c *Config) { c.Profiles[DefaultProfile][0].Device = "" }, "profiles.DEFAULT[0].device"},
	}

	require.NoError(t, valid().Validate())

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := valid()
			tt.mutate(c)

			err := c.Validate()
			var ce *ConfigError
			require.ErrorAs(t, err, &ce)
			assert.Equal(t, tt.field, ce.Field)
		})
	}
}

func TestValidatePortFallsBack(t *testing.T) {
	for _, port := range []int{0, -5, 70000} {
		c := &Config{
			Log:    LogConfig{Level: "info"},
			Audio:  AudioConfig{Driver: "null", SampleRate: 44100},
			Engine: EngineConfig{TickInterval: time.Second},
			Server: ServerConfig{Port: port},
		}
		require.NoError(t, c.Validate())
		assert.Equal(t, DefaultPort, c.Server.Port)
	}
}
