// Package config provides the configuration schema and loader for the audio
// bridge. Configuration is loaded from an optional YAML file and overridden
// by the environment variables the deployment tooling sets (PORT,
// LIVEKIT_URL, PUBLISH_GAIN).
package config

// LogLevel controls log verbosity for the bridge.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// Config is the root configuration structure for the bridge.
// It is typically produced by [Load].
type Config struct {
	Server  ServerConfig  `yaml:"server"`
	LiveKit LiveKitConfig `yaml:"livekit"`
	Audio   AudioConfig   `yaml:"audio"`
}

// ServerConfig holds network and logging settings.
type ServerConfig struct {
	// ListenAddr is the TCP address the HTTP/WebSocket server binds
	// (e.g., ":8080").
	ListenAddr string `yaml:"listen_addr"`

	// LogLevel controls verbosity.
	LogLevel LogLevel `yaml:"log_level"`
}

// LiveKitConfig holds media-session settings.
type LiveKitConfig struct {
	// URL is the default room-server endpoint, used when a join command
	// does not carry its own override.
	URL string `yaml:"url"`

	// JoinTimeoutMs bounds how long a room connect may take before the
	// join is failed with a timeout error.
	JoinTimeoutMs int `yaml:"join_timeout_ms"`
}

// AudioConfig holds the audio-path tunables.
type AudioConfig struct {
	// PublishGain is a linear multiplier applied to all outbound audio
	// before it reaches the media session. 1.0 is unity.
	PublishGain float64 `yaml:"publish_gain"`

	// PacingIntervalMs is the flush cadence of the egress pacing buffer.
	PacingIntervalMs int `yaml:"pacing_interval_ms"`

	// PacingCapacity is the maximum number of payloads the pacing buffer
	// holds before evicting the oldest.
	PacingCapacity int `yaml:"pacing_capacity"`
}

// Default returns a Config populated with the bridge's shipped defaults.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			ListenAddr: ":8080",
			LogLevel:   LogInfo,
		},
		LiveKit: LiveKitConfig{
			JoinTimeoutMs: 10_000,
		},
		Audio: AudioConfig{
			PublishGain:      1.0,
			PacingIntervalMs: 100,
			PacingCapacity:   10,
		},
	}
}
