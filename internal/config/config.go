// Package config loads textmusic settings from YAML with TEXTMUSIC_*
// environment overrides.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/cbegin/textmusic-go/internal/instrument"
)

type ServiceConfig struct {
	BaseURL   string `yaml:"base_url"`
	TimeoutMS int    `yaml:"timeout_ms"`
}

type InstrumentsConfig struct {
	// BaseURL of the timbre documents; empty uses the built-in timbres.
	BaseURL  string   `yaml:"base_url"`
	Names    []string `yaml:"names"`
	CacheDir string   `yaml:"cache_dir"`
}

type AudioConfig struct {
	SampleRate int     `yaml:"sample_rate"`
	MasterGain float64 `yaml:"master_gain"`
	MelodyGain float64 `yaml:"melody_gain"`
}

type PlaybackConfig struct {
	GraceMS int `yaml:"grace_ms"`
}

type JournalConfig struct {
	Path          string `yaml:"path"`
	RetentionMode string `yaml:"retention_mode"`
}

type TelemetryConfig struct {
	MetricsBind string `yaml:"metrics_bind"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

type Config struct {
	Service     ServiceConfig     `yaml:"service"`
	Instruments InstrumentsConfig `yaml:"instruments"`
	Audio       AudioConfig       `yaml:"audio"`
	Playback    PlaybackConfig    `yaml:"playback"`
	Journal     JournalConfig     `yaml:"journal"`
	Telemetry   TelemetryConfig   `yaml:"telemetry"`
	Log         LogConfig         `yaml:"log"`
}

func Default() Config {
	return Config{
		Service: ServiceConfig{
			BaseURL:   "http://localhost:8000",
			TimeoutMS: 30000,
		},
		Instruments: InstrumentsConfig{
			Names: append([]string(nil), instrument.DefaultNames...),
		},
		Audio: AudioConfig{
			SampleRate: 48000,
			MasterGain: 0.2,
			MelodyGain: 2,
		},
		Playback: PlaybackConfig{
			GraceMS: 500,
		},
		Journal: JournalConfig{
			Path:          "./data/textmusic-journal.db",
			RetentionMode: "ephemeral",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load reads path (if non-empty) over the defaults, applies environment
// overrides and validates the result.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if os.IsNotExist(err) {
				return cfg, fmt.Errorf("config file not found: %w", err)
			}
			return cfg, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	applyEnvOverrides(&cfg)
	if err := validate(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// ServiceTimeout is the service timeout as a duration.
func (c Config) ServiceTimeout() time.Duration {
	return time.Duration(c.Service.TimeoutMS) * time.Millisecond
}

// Grace is the auto-stop grace period as a duration.
func (c Config) Grace() time.Duration {
	return time.Duration(c.Playback.GraceMS) * time.Millisecond
}

func applyEnvOverrides(cfg *Config) {
	overrideString(&cfg.Service.BaseURL, "TEXTMUSIC_SERVICE_BASE_URL")
	overrideInt(&cfg.Service.TimeoutMS, "TEXTMUSIC_SERVICE_TIMEOUT_MS")
	overrideString(&cfg.Instruments.BaseURL, "TEXTMUSIC_INSTRUMENTS_BASE_URL")
	overrideStringSlice(&cfg.Instruments.Names, "TEXTMUSIC_INSTRUMENTS_NAMES")
	overrideString(&cfg.Instruments.CacheDir, "TEXTMUSIC_INSTRUMENTS_CACHE_DIR")
	overrideInt(&cfg.Audio.SampleRate, "TEXTMUSIC_AUDIO_SAMPLE_RATE")
	overrideFloat(&cfg.Audio.MasterGain, "TEXTMUSIC_AUDIO_MASTER_GAIN")
	overrideFloat(&cfg.Audio.MelodyGain, "TEXTMUSIC_AUDIO_MELODY_GAIN")
	overrideInt(&cfg.Playback.GraceMS, "TEXTMUSIC_PLAYBACK_GRACE_MS")
	overrideString(&cfg.Journal.Path, "TEXTMUSIC_JOURNAL_PATH")
	overrideString(&cfg.Journal.RetentionMode, "TEXTMUSIC_JOURNAL_RETENTION_MODE")
	overrideString(&cfg.Telemetry.MetricsBind, "TEXTMUSIC_TELEMETRY_METRICS_BIND")
	overrideString(&cfg.Log.Level, "TEXTMUSIC_LOG_LEVEL")
	overrideString(&cfg.Log.Format, "TEXTMUSIC_LOG_FORMAT")
}

func overrideString(target *string, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok && strings.TrimSpace(value) != "" {
		*target = value
	}
}

func overrideInt(target *int, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.Atoi(value); err == nil {
			*target = parsed
		}
	}
}

func overrideFloat(target *float64, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.ParseFloat(value, 64); err == nil {
			*target = parsed
		}
	}
}

func overrideStringSlice(target *[]string, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		var trimmed []string
		for _, p := range strings.Split(value, ",") {
			if s := strings.TrimSpace(p); s != "" {
				trimmed = append(trimmed, s)
			}
		}
		if len(trimmed) > 0 {
			*target = trimmed
		}
	}
}

func validate(cfg Config) error {
	if cfg.Service.BaseURL == "" {
		return errors.New("service.base_url must not be empty")
	}
	if cfg.Service.TimeoutMS <= 0 {
		return errors.New("service.timeout_ms must be positive")
	}
	if len(cfg.Instruments.Names) == 0 {
		return errors.New("instruments.names must not be empty")
	}
	if cfg.Audio.SampleRate < 8000 || cfg.Audio.SampleRate > 192000 {
		return errors.New("audio.sample_rate must be between 8000 and 192000")
	}
	if cfg.Audio.MasterGain < 0 || cfg.Audio.MelodyGain < 0 {
		return errors.New("audio gains must be >= 0")
	}
	if cfg.Playback.GraceMS < 0 {
		return errors.New("playback.grace_ms must be >= 0")
	}
	switch cfg.Journal.RetentionMode {
	case "ephemeral", "persistent", "off":
	default:
		return errors.New("journal.retention_mode must be one of ephemeral|persistent|off")
	}
	if cfg.Journal.RetentionMode == "persistent" && cfg.Journal.Path == "" {
		return errors.New("journal.path must be set when retention_mode=persistent")
	}
	switch strings.ToLower(cfg.Log.Level) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log.level %q must be one of debug|info|warn|error", cfg.Log.Level)
	}
	switch cfg.Log.Format {
	case "text", "json":
	default:
		return errors.New("log.format must be one of text|json")
	}
	return nil
}
