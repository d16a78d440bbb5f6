// Package config loads gateway configuration from an optional YAML file
// and SATYA_-prefixed environment variables, with programmatic defaults.
package config

import (
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

type Config struct {
	Server    ServerConfig    `koanf:"server"`
	RateLimit RateLimitConfig `koanf:"rate_limit"`
	Pipeline  PipelineConfig  `koanf:"pipeline"`
	Telemetry TelemetryConfig `koanf:"telemetry"`
	Admin     AdminConfig     `koanf:"admin"`
	Services  ServicesConfig  `koanf:"services"`
	Storage   StorageConfig   `koanf:"storage"`

	// MaxAudioSizeMB caps uploads to the transcription endpoint.
	MaxAudioSizeMB int `koanf:"max_audio_size_mb"`
}

type ServerConfig struct {
	Port int `koanf:"port"`
}

type RateLimitConfig struct {
	PerMinute int           `koanf:"per_minute"`
	Window    time.Duration `koanf:"window"`
}

type PipelineConfig struct {
	StageTimeout time.Duration `koanf:"stage_timeout"`
}

type TelemetryConfig struct {
	ReplayCapacity    int           `koanf:"replay_capacity"`
	QueueCapacity     int           `koanf:"queue_capacity"`
	HeartbeatInterval time.Duration `koanf:"heartbeat_interval"`
}

type AdminConfig struct {
	APIKey string `koanf:"api_key"`
}

// ServicesConfig holds upstream API keys. An empty key selects the
// deterministic mock implementation for that capability at startup.
type ServicesConfig struct {
	OpenAIAPIKey     string `koanf:"openai_api_key"`
	DeepgramAPIKey   string `koanf:"deepgram_api_key"`
	ElevenLabsAPIKey string `koanf:"elevenlabs_api_key"`
}

type StorageConfig struct {
	Path string `koanf:"path"`
}

// envKeyMap maps SATYA_-prefixed environment variables to config paths.
// Variables missing from the map are ignored rather than guessed at.
var envKeyMap = map[string]string{
	"PORT":                  "server.port",
	"RATE_LIMIT_PER_MINUTE": "rate_limit.per_minute",
	"RATE_LIMIT_WINDOW":     "rate_limit.window",
	"STAGE_TIMEOUT":         "pipeline.stage_timeout",
	"MAX_AUDIO_SIZE_MB":     "max_audio_size_mb",
	"REPLAY_CAPACITY":       "telemetry.replay_capacity",
	"QUEUE_CAPACITY":        "telemetry.queue_capacity",
	"HEARTBEAT_INTERVAL":    "telemetry.heartbeat_interval",
	"ADMIN_API_KEY":         "admin.api_key",
	"OPENAI_API_KEY":        "services.openai_api_key",
	"DEEPGRAM_API_KEY":      "services.deepgram_api_key",
	"ELEVENLABS_API_KEY":    "services.elevenlabs_api_key",
	"DB_PATH":               "storage.path",
}

// bareEnvKeyMap supports the historical un-prefixed variable names.
var bareEnvKeyMap = map[string]string{
	"RATE_LIMIT_PER_MINUTE": "rate_limit.per_minute",
	"MAX_AUDIO_SIZE_MB":     "max_audio_size_mb",
}

// Load reads configuration. Precedence, lowest to highest: defaults,
// config file (if path is non-empty and the file exists), un-prefixed
// compatibility variables, SATYA_-prefixed variables.
func Load(configPath string) (*Config, error) {
	k := koanf.New(".")

	setDefaults(k)

	if configPath != "" {
		if _, err := os.Stat(configPath); err == nil {
			if err := k.Load(file.Provider(configPath), yaml.Parser()); err != nil {
				return nil, err
			}
		}
	}

	if err := k.Load(env.Provider("", ".", func(s string) string {
		return bareEnvKeyMap[s]
	}), nil); err != nil {
		return nil, err
	}

	if err := k.Load(env.Provider("SATYA_", ".", func(s string) string {
		return envKeyMap[strings.TrimPrefix(s, "SATYA_")]
	}), nil); err != nil {
		return nil, err
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(k *koanf.Koanf) {
	k.Set("server.port", 8080)
	k.Set("rate_limit.per_minute", 60)
	k.Set("rate_limit.window", "60s")
	k.Set("pipeline.stage_timeout", "5s")
	k.Set("max_audio_size_mb", 10)
	k.Set("telemetry.replay_capacity", 100)
	k.Set("telemetry.queue_capacity", 64)
	k.Set("telemetry.heartbeat_interval", "15s")
	k.Set("storage.path", "./data/gateway.db")
}
