// ABOUTME: Configuration loading for the soundboard
// ABOUTME: Reads soundboard.yaml, SOUNDBOARD_ environment variables and bound flags through viper
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/Resonate-Protocol/soundboard-go/internal/engine"
	"github.com/Resonate-Protocol/soundboard-go/internal/logging"
	"github.com/charmbracelet/log"
	"github.com/spf13/viper"
)

const (
	// ConfigName is the config file name without extension
	ConfigName = "soundboard"
	// EnvPrefix prefixes environment overrides, e.g. SOUNDBOARD_SERVER_PORT
	EnvPrefix = "SOUNDBOARD"

	DefaultHost       = "127.0.0.1"
	DefaultPort       = 53353
	DefaultDriver     = "malgo"
	DefaultSampleRate = 44100
	DefaultRateLimit  = 10
	DefaultBurst      = 20
	DefaultLogFile    = "soundboard.log"
)

// Config holds all configuration for the soundboard
type Config struct {
	Log      LogConfig                        `mapstructure:"log"`
	Audio    AudioConfig                      `mapstructure:"audio"`
	Engine   EngineConfig                     `mapstructure:"engine"`
	Server   ServerConfig                     `mapstructure:"server"`
	Profiles map[string][]engine.OutputTarget `mapstructure:"profiles"`
}

// LogConfig holds logging configuration
type LogConfig struct {
	Level string `mapstructure:"level"`
	File  string `mapstructure:"file"`
}

// AudioConfig selects the output driver
type AudioConfig struct {
	Driver     string `mapstructure:"driver"` // malgo, oto or null
	SampleRate int    `mapstructure:"sample_rate"`

	// NullDevices names the fake devices of the null driver
	NullDevices []string `mapstructure:"null_devices"`
}

// EngineConfig holds scheduler settings
type EngineConfig struct {
	TickInterval time.Duration `mapstructure:"tick_interval"`
}

// ServerConfig holds remote control server settings
type ServerConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Host    string `mapstructure:"host"`
	Port    int    `mapstructure:"port"`
	Name    string `mapstructure:"name"`
	MDNS    bool   `mapstructure:"mdns"`

	// RateLimit is commands per second per client; zero disables limiting
	RateLimit float64 `mapstructure:"rate_limit"`
	Burst     int     `mapstructure:"burst"`
}

// Addr returns host:port for listening
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// ConfigError represents a configuration validation error
type ConfigError struct {
	Field   string
	Message string
}

func (e *ConfigError) Error() string {
	return e.Field + ": " + e.Message
}

// SetDefaults registers the default value of every key on v
func SetDefaults(v *viper.Viper) {
	v.SetDefault("log.level", "info")
	v.SetDefault("log.file", DefaultLogFile)

	v.SetDefault("audio.driver", DefaultDriver)
	v.SetDefault("audio.sample_rate", DefaultSampleRate)
	v.SetDefault("audio.null_devices", []string{})

	v.SetDefault("engine.tick_interval", engine.DefaultTickInterval)

	v.SetDefault("server.enabled", true)
	v.SetDefault("server.host", DefaultHost)
	v.SetDefault("server.port", DefaultPort)
	v.SetDefault("server.name", "")
	v.SetDefault("server.mdns", false)
	v.SetDefault("server.rate_limit", DefaultRateLimit)
	v.SetDefault("server.burst", DefaultBurst)
}

// Load reads configuration into v and decodes it. cfgFile overrides the
// search path; a missing file is not an error unless cfgFile names it.
func Load(v *viper.Viper, cfgFile string) (*Config, error) {
	SetDefaults(v)

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.SetConfigName(ConfigName)
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.soundboard")
		v.AddConfigPath("/etc/soundboard")
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
		log.Debug("No config file found, using defaults and environment variables")
	} else {
		log.Info("Using config file", "file", v.ConfigFileUsed())
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	cfg.Profiles = normalizeProfiles(cfg.Profiles)

	return &cfg, nil
}

// Validate checks the configuration. An out-of-range port falls back to the
// default instead of failing.
func (c *Config) Validate() error {
	if _, err := logging.ParseLevel(c.Log.Level); err != nil {
		return &ConfigError{Field: "log.level", Message: err.Error()}
	}

	switch c.Audio.Driver {
	case "", "malgo", "oto", "null":
	default:
		return &ConfigError{Field: "audio.driver", Message: fmt.Sprintf("unknown driver %q (want malgo, oto or null)", c.Audio.Driver)}
	}
	if c.Audio.SampleRate < 8000 || c.Audio.SampleRate > 192000 {
		return &ConfigError{Field: "audio.sample_rate", Message: fmt.Sprintf("%d Hz is out of range", c.Audio.SampleRate)}
	}

	if c.Engine.TickInterval <= 0 {
		return &ConfigError{Field: "engine.tick_interval", Message: "must be positive"}
	}

	if c.Server.Port < 1 || c.Server.Port > 65535 {
		log.Warn("Invalid server port, using default", "port", c.Server.Port, "default", DefaultPort)
		c.Server.Port = DefaultPort
	}
	if c.Server.RateLimit < 0 {
		return &ConfigError{Field: "server.rate_limit", Message: "must not be negative"}
	}
	if c.Server.RateLimit > 0 && c.Server.Burst < 1 {
		return &ConfigError{Field: "server.burst", Message: "must be at least 1 when rate limiting"}
	}

	return ValidateProfiles(c.Profiles)
}

// ValidateProfiles checks every target volume is within 0-100 and names a device
func ValidateProfiles(profiles map[string][]engine.OutputTarget) error {
	for name, targets := range profiles {
		for i, t := range targets {
			field := fmt.Sprintf("profiles.%s[%d]", name, i)
			if t.Device == "" {
				return &ConfigError{Field: field + ".device", Message: "device is required"}
			}
			if t.Volume < 0 || t.Volume > 100 {
				return &ConfigError{Field: field + ".volume", Message: fmt.Sprintf("%d is outside 0-100", t.Volume)}
			}
		}
	}
	return nil
}

// normalizeProfiles upper-cases profile names, since viper lower-cases keys,
// and makes sure the DEFAULT profile exists
func normalizeProfiles(in map[string][]engine.OutputTarget) map[string][]engine.OutputTarget {
	out := make(map[string][]engine.OutputTarget, len(in)+1)
	for name, targets := range in {
		out[strings.ToUpper(name)] = targets
	}
	if _, ok := out[DefaultProfile]; !ok {
		out[DefaultProfile] = []engine.OutputTarget{{Device: engine.GlobalDefault, Volume: 100}}
	}
	return out
}
