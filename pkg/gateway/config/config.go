// Package config loads gateway configuration from an optional config file
// and FLEETDECK_* environment variables, env taking precedence.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Addr     string `mapstructure:"addr"`
	LogLevel string `mapstructure:"log_level"`

	Agent AgentConfig `mapstructure:"agent"`
	STT   STTConfig   `mapstructure:"stt"`
	TTS   TTSConfig   `mapstructure:"tts"`

	// MaxSessions caps concurrent voice sessions; further connects are
	// refused at the handshake.
	MaxSessions int `mapstructure:"max_sessions"`

	// MaxFrameBytes bounds one decoded inbound audio frame.
	MaxFrameBytes int `mapstructure:"max_frame_bytes"`

	// InboundFramesPerSecond and InboundBurst rate-limit client audio.
	InboundFramesPerSecond float64 `mapstructure:"inbound_frames_per_second"`
	InboundBurst           int     `mapstructure:"inbound_burst"`

	HandshakeTimeout time.Duration `mapstructure:"handshake_timeout"`
	PingInterval     time.Duration `mapstructure:"ping_interval"`
	WriteTimeout     time.Duration `mapstructure:"write_timeout"`
	ShutdownGrace    time.Duration `mapstructure:"shutdown_grace"`
}

type AgentConfig struct {
	Endpoint string `mapstructure:"endpoint"`
	APIKey   string `mapstructure:"api_key"`
}

type STTConfig struct {
	Endpoint string `mapstructure:"endpoint"`
	APIKey   string `mapstructure:"api_key"`
	Language string `mapstructure:"language"`
	Model    string `mapstructure:"model"`
}

type TTSConfig struct {
	Endpoint string  `mapstructure:"endpoint"`
	APIKey   string  `mapstructure:"api_key"`
	Voice    string  `mapstructure:"voice"`
	Speed    float64 `mapstructure:"speed"`
}

// Load reads configuration. file may be empty; environment variables like
// FLEETDECK_STT_API_KEY always win over file values.
func Load(file string) (Config, error) {
	v := viper.New()

	v.SetDefault("addr", ":8080")
	v.SetDefault("log_level", "info")
	v.SetDefault("agent.endpoint", "")
	v.SetDefault("agent.api_key", "")
	v.SetDefault("stt.endpoint", "")
	v.SetDefault("stt.api_key", "")
	v.SetDefault("stt.language", "en")
	v.SetDefault("stt.model", "")
	v.SetDefault("tts.endpoint", "")
	v.SetDefault("tts.api_key", "")
	v.SetDefault("tts.voice", "")
	v.SetDefault("tts.speed", 1.0)
	v.SetDefault("max_sessions", 64)
	v.SetDefault("max_frame_bytes", 8192)
	v.SetDefault("inbound_frames_per_second", 120)
	v.SetDefault("inbound_burst", 240)
	v.SetDefault("handshake_timeout", 5*time.Second)
	v.SetDefault("ping_interval", 20*time.Second)
	v.SetDefault("write_timeout", 5*time.Second)
	v.SetDefault("shutdown_grace", 10*time.Second)

	v.SetEnvPrefix("FLEETDECK")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if file != "" {
		v.SetConfigFile(file)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate fails fast on missing credentials and nonsensical limits so a
// misconfigured gateway never starts half-working.
func (c Config) Validate() error {
	if strings.TrimSpace(c.Addr) == "" {
		return fmt.Errorf("addr is required")
	}
	if strings.TrimSpace(c.Agent.Endpoint) == "" {
		return fmt.Errorf("agent.endpoint is required")
	}
	if strings.TrimSpace(c.STT.Endpoint) == "" {
		return fmt.Errorf("stt.endpoint is required")
	}
	if strings.TrimSpace(c.STT.APIKey) == "" {
		return fmt.Errorf("stt.api_key is required")
	}
	if strings.TrimSpace(c.TTS.Endpoint) == "" {
		return fmt.Errorf("tts.endpoint is required")
	}
	if strings.TrimSpace(c.TTS.APIKey) == "" {
		return fmt.Errorf("tts.api_key is required")
	}
	if c.MaxSessions <= 0 {
		return fmt.Errorf("max_sessions must be > 0")
	}
	if c.MaxFrameBytes <= 0 {
		return fmt.Errorf("max_frame_bytes must be > 0")
	}
	if c.InboundFramesPerSecond <= 0 {
		return fmt.Errorf("inbound_frames_per_second must be > 0")
	}
	return nil
}
