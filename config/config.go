// Package config provides the engine's configuration surface using Viper:
// defaults, an optional YAML file, and LUMEN_* environment variables, in
// ascending precedence.
package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/viper"

	"github.com/lumenplay/lumen/media"
)

// Default configuration values.
const (
	defaultMaxVideoDelayMillis   = 100.0
	defaultMaxVideoSpeedupMillis = 100.0
	defaultDropThresholdMillis   = 80.0
	defaultRepeatThresholdMillis = 20.0
	defaultTargetSampleRate      = 44100
	defaultTargetChannels        = 2
	defaultTargetFormat          = "s16"
)

// Config holds all engine configuration.
type Config struct {
	Render RenderConfig `mapstructure:"render"`
	Sync   SyncConfig   `mapstructure:"sync"`
	Audio  AudioConfig  `mapstructure:"audio"`
	Queues QueuesConfig `mapstructure:"queues"`
}

// RenderConfig selects the decode/render path.
type RenderConfig struct {
	UseHardwareAcceleration bool           `mapstructure:"use_hardware_acceleration"`
	Hardware                HardwareConfig `mapstructure:"hardware"`
}

// HardwareConfig tunes hardware acceleration.
type HardwareConfig struct {
	AllowFallback bool `mapstructure:"allow_fallback"`
	// Allow whitelists decoder kinds by name, read from allow_<kind> keys
	// (allow_d3d11va etc.) or a nested allow map; a missing key means
	// allowed.
	Allow map[string]bool `mapstructure:"allow"`
}

// SyncConfig tunes the A/V clock decisions, in milliseconds.
type SyncConfig struct {
	MaxVideoDelayMillis   float64 `mapstructure:"max_video_delay_ms"`
	MaxVideoSpeedupMillis float64 `mapstructure:"max_video_speedup_ms"`
	DropThresholdMillis   float64 `mapstructure:"drop_threshold_ms"`
	RepeatThresholdMillis float64 `mapstructure:"repeat_threshold_ms"`
	EnableFrameDrop       bool    `mapstructure:"enable_frame_drop"`
	EnableFrameRepeat     bool    `mapstructure:"enable_frame_repeat"`
}

// AudioConfig fixes the device target format for the session.
type AudioConfig struct {
	TargetSampleRate int    `mapstructure:"target_sample_rate"`
	TargetChannels   int    `mapstructure:"target_channels"`
	TargetFormat     string `mapstructure:"target_format"`
}

// SampleFormat parses the configured format name.
func (a AudioConfig) SampleFormat() (media.SampleFormat, error) {
	switch strings.ToLower(a.TargetFormat) {
	case "u8":
		return media.SampleU8, nil
	case "s16":
		return media.SampleS16, nil
	case "s32":
		return media.SampleS32, nil
	case "f32":
		return media.SampleF32, nil
	case "f64":
		return media.SampleF64, nil
	default:
		return 0, fmt.Errorf("config: unknown sample format %q", a.TargetFormat)
	}
}

// QueuesConfig sizes the inter-stage queues.
type QueuesConfig struct {
	VideoFrameCapacity int `mapstructure:"video_frame_capacity"`
	PCMCapacity        int `mapstructure:"pcm_capacity"`
	PacketCapacity     int `mapstructure:"packet_capacity"`
}

// setDefaults registers every key's default on the viper instance.
func setDefaults(v *viper.Viper) {
	v.SetDefault("render.use_hardware_acceleration", false)
	v.SetDefault("render.hardware.allow_fallback", false)
	v.SetDefault("sync.max_video_delay_ms", defaultMaxVideoDelayMillis)
	v.SetDefault("sync.max_video_speedup_ms", defaultMaxVideoSpeedupMillis)
	v.SetDefault("sync.drop_threshold_ms", defaultDropThresholdMillis)
	v.SetDefault("sync.repeat_threshold_ms", defaultRepeatThresholdMillis)
	v.SetDefault("sync.enable_frame_drop", true)
	v.SetDefault("sync.enable_frame_repeat", true)
	v.SetDefault("audio.target_sample_rate", defaultTargetSampleRate)
	v.SetDefault("audio.target_channels", defaultTargetChannels)
	v.SetDefault("audio.target_format", defaultTargetFormat)
	v.SetDefault("queues.video_frame_capacity", media.VideoFrameQueueSize)
	v.SetDefault("queues.pcm_capacity", media.PCMQueueSize)
	v.SetDefault("queues.packet_capacity", media.PacketQueueSize)
}

// Load reads configuration from the optional file at path (empty skips the
// file), then LUMEN_* environment variables, over the defaults.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("LUMEN")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}
	// Flat render.hardware.allow_<kind> keys fill the same whitelist.
	for _, key := range v.AllKeys() {
		kind, ok := strings.CutPrefix(key, "render.hardware.allow_")
		if !ok || kind == "fallback" {
			continue
		}
		if cfg.Render.Hardware.Allow == nil {
			cfg.Render.Hardware.Allow = make(map[string]bool)
		}
		cfg.Render.Hardware.Allow[kind] = v.GetBool(key)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Default returns the stock configuration.
func Default() *Config {
	cfg, err := Load("")
	if err != nil {
		// Defaults always validate; a failure here is a programming error.
		panic(err)
	}
	return cfg
}

// Validate rejects out-of-range values.
func (c *Config) Validate() error {
	var errs []error
	if c.Sync.MaxVideoDelayMillis < 0 || c.Sync.MaxVideoSpeedupMillis < 0 {
		errs = append(errs, fmt.Errorf("config: sync clamps must be >= 0"))
	}
	if c.Sync.DropThresholdMillis < 0 || c.Sync.RepeatThresholdMillis < 0 {
		errs = append(errs, fmt.Errorf("config: sync thresholds must be >= 0"))
	}
	if c.Audio.TargetSampleRate <= 0 {
		errs = append(errs, fmt.Errorf("config: audio.target_sample_rate must be > 0"))
	}
	if c.Audio.TargetChannels < 1 || c.Audio.TargetChannels > 8 {
		errs = append(errs, fmt.Errorf("config: audio.target_channels must be 1..8"))
	}
	if _, err := c.Audio.SampleFormat(); err != nil {
		errs = append(errs, err)
	}
	if c.Queues.VideoFrameCapacity < 1 || c.Queues.PCMCapacity < 1 || c.Queues.PacketCapacity < 1 {
		errs = append(errs, fmt.Errorf("config: queue capacities must be >= 1"))
	}
	return errors.Join(errs...)
}
