// Package config handles daemon configuration file management.
package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/spf13/afero"
	"github.com/spf13/viper"
)

const (
	// FileName is the config file name inside the config dir
	FileName = "config.json"
	// EnvPrefix prefixes environment overrides, e.g. PLAYERD_AUDIO_DEFAULTVOLUME
	EnvPrefix = "playerd"
)

// EnvKeyReplacer maps nested keys onto environment variable names
var EnvKeyReplacer = strings.NewReplacer(".", "_")

// Config represents the daemon configuration
type Config struct {
	Audio    AudioConfig    `json:"audio" mapstructure:"audio"`
	Playback PlaybackConfig `json:"playback" mapstructure:"playback"`
	Behavior BehaviorConfig `json:"behavior" mapstructure:"behavior"`
	Logging  LoggingConfig  `json:"logging" mapstructure:"logging"`
}

// AudioConfig contains audio output settings
type AudioConfig struct {
	// SampleRate for audio output (default: 44100)
	SampleRate int `json:"sampleRate" mapstructure:"sampleRate"`
	Channels   int `json:"channels" mapstructure:"channels"`
	// Volume level 0.0 - 1.0 (default: 1.0)
	DefaultVolume float64 `json:"defaultVolume" mapstructure:"defaultVolume"`
}

// PlaybackConfig contains the defaults used for prepare commands
type PlaybackConfig struct {
	// AudioBufferSize and VideoBufferSize are frame counts
	AudioBufferSize      int      `json:"audioBufferSize" mapstructure:"audioBufferSize"`
	VideoBufferSize      int      `json:"videoBufferSize" mapstructure:"videoBufferSize"`
	SyncThresholdMs      int      `json:"syncThresholdMs" mapstructure:"syncThresholdMs"`
	Speed                float64  `json:"speed" mapstructure:"speed"`
	HardwareAcceleration []string `json:"hardwareAcceleration" mapstructure:"hardwareAcceleration"`
	KeyFramesOnlySeek    bool     `json:"keyFramesOnlySeek" mapstructure:"keyFramesOnlySeek"`
}

// SyncThreshold returns the A/V drift tolerance
func (p PlaybackConfig) SyncThreshold() time.Duration {
	return time.Duration(p.SyncThresholdMs) * time.Millisecond
}

// BehaviorConfig contains behavior-related settings
type BehaviorConfig struct {
	// RememberQueue persists the queue across restarts
	RememberQueue bool `json:"rememberQueue" mapstructure:"rememberQueue"`
	// AutoAdvance plays the next queue item when playback completes
	AutoAdvance bool `json:"autoAdvance" mapstructure:"autoAdvance"`
}

// LoggingConfig mirrors logging.Options
type LoggingConfig struct {
	Level string `json:"level" mapstructure:"level"`
	JSON  bool   `json:"json" mapstructure:"json"`
	File  string `json:"file" mapstructure:"file"`
}

// DefaultConfig returns the default configuration
func DefaultConfig() *Config {
	return &Config{
		Audio: AudioConfig{
			SampleRate:    44100,
			Channels:      2,
			DefaultVolume: 1.0,
		},
		Playback: PlaybackConfig{
			AudioBufferSize:      64,
			VideoBufferSize:      8,
			SyncThresholdMs:      40,
			Speed:                1.0,
			HardwareAcceleration: []string{},
		},
		Behavior: BehaviorConfig{
			RememberQueue: true,
			AutoAdvance:   true,
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// defaults flattens DefaultConfig into viper keys
func defaults() map[string]any {
	d := DefaultConfig()
	return map[string]any{
		"audio.sampleRate":              d.Audio.SampleRate,
		"audio.channels":                d.Audio.Channels,
		"audio.defaultVolume":           d.Audio.DefaultVolume,
		"playback.audioBufferSize":      d.Playback.AudioBufferSize,
		"playback.videoBufferSize":      d.Playback.VideoBufferSize,
		"playback.syncThresholdMs":      d.Playback.SyncThresholdMs,
		"playback.speed":                d.Playback.Speed,
		"playback.hardwareAcceleration": d.Playback.HardwareAcceleration,
		"playback.keyFramesOnlySeek":    d.Playback.KeyFramesOnlySeek,
		"behavior.rememberQueue":        d.Behavior.RememberQueue,
		"behavior.autoAdvance":          d.Behavior.AutoAdvance,
		"logging.level":                 d.Logging.Level,
		"logging.json":                  d.Logging.JSON,
		"logging.file":                  d.Logging.File,
	}
}

// Validate checks value ranges
func (c *Config) Validate() error {
	var errs []error
	if c.Audio.SampleRate <= 0 {
		errs = append(errs, fmt.Errorf("audio.sampleRate must be positive, got %d", c.Audio.SampleRate))
	}
	if c.Audio.Channels <= 0 {
		errs = append(errs, fmt.Errorf("audio.channels must be positive, got %d", c.Audio.Channels))
	}
	if c.Audio.DefaultVolume < 0 || c.Audio.DefaultVolume > 1 {
		errs = append(errs, fmt.Errorf("audio.defaultVolume must be within [0, 1], got %v", c.Audio.DefaultVolume))
	}
	if c.Playback.AudioBufferSize < 0 || c.Playback.VideoBufferSize < 0 {
		errs = append(errs, errors.New("playback buffer sizes must not be negative"))
	}
	if c.Playback.AudioBufferSize == 0 && c.Playback.VideoBufferSize == 0 {
		errs = append(errs, errors.New("at least one playback buffer size must be positive"))
	}
	if c.Playback.SyncThresholdMs < 0 {
		errs = append(errs, fmt.Errorf("playback.syncThresholdMs must not be negative, got %d", c.Playback.SyncThresholdMs))
	}
	if c.Playback.Speed <= 0 || c.Playback.Speed > 4 {
		errs = append(errs, fmt.Errorf("playback.speed must be within (0, 4], got %v", c.Playback.Speed))
	}
	return errors.Join(errs...)
}

// Manager handles loading and saving configuration
type Manager struct {
	mu         sync.RWMutex
	fs         afero.Fs
	configDir  string
	configPath string
	v          *viper.Viper
	config     *Config
}

// NewManager creates a configuration manager for configDir on fs
func NewManager(fs afero.Fs, configDir string) *Manager {
	v := viper.New()
	v.SetFs(fs)
	v.SetConfigFile(filepath.Join(configDir, FileName))
	v.SetConfigType("json")
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(EnvKeyReplacer)
	v.AutomaticEnv()
	v.SetTypeByDefaultValue(true)
	for key, value := range defaults() {
		v.SetDefault(key, value)
	}

	return &Manager{
		fs:         fs,
		configDir:  configDir,
		configPath: filepath.Join(configDir, FileName),
		v:          v,
		config:     DefaultConfig(),
	}
}

// Viper exposes the underlying instance so CLI flags can be bound to it
func (m *Manager) Viper() *viper.Viper {
	return m.v
}

// Load reads the configuration, writing defaults when no file exists yet
func (m *Manager) Load() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.fs.MkdirAll(m.configDir, 0700); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	exists, err := afero.Exists(m.fs, m.configPath)
	if err != nil {
		return fmt.Errorf("failed to stat config: %w", err)
	}
	if exists {
		if err := m.v.ReadInConfig(); err != nil {
			return fmt.Errorf("failed to read config: %w", err)
		}
	}

	cfg := &Config{}
	if err := m.v.Unmarshal(cfg); err != nil {
		return fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	m.config = cfg

	if !exists {
		return m.saveLocked()
	}
	return nil
}

// Save writes the current configuration to disk
func (m *Manager) Save() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.saveLocked()
}

func (m *Manager) saveLocked() error {
	if err := m.fs.MkdirAll(m.configDir, 0700); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	if err := m.v.WriteConfigAs(m.configPath); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

// Get returns a copy of the current configuration
func (m *Manager) Get() Config {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return *m.config
}

// GetPath returns the config file path
func (m *Manager) GetPath() string {
	return m.configPath
}

// Set updates one key and saves
func (m *Manager) Set(key string, value any) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	previous := m.v.Get(key)
	m.v.Set(key, value)
	cfg := &Config{}
	err := m.v.Unmarshal(cfg)
	if err == nil {
		err = cfg.Validate()
	}
	if err != nil {
		m.v.Set(key, previous)
		return fmt.Errorf("invalid config: %w", err)
	}
	m.config = cfg
	return m.saveLocked()
}
