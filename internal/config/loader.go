package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"
)

// Load reads the YAML configuration file at path, applies environment
// overrides, and returns a validated [Config]. A missing file is not an
// error: the bridge was originally configured purely through the
// environment, so defaults plus overrides remain a complete configuration.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			cfg := Default()
			applyEnv(cfg)
			if err := Validate(cfg); err != nil {
				return nil, err
			}
			return cfg, nil
		}
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r on top of the defaults,
// applies environment overrides, and validates the result. Useful in tests
// where configs are constructed from string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := Default()
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	applyEnv(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnv overlays the environment variables recognised by the deployment
// tooling on top of cfg. Unparseable values are ignored, keeping whatever
// the file or defaults provided.
func applyEnv(cfg *Config) {
	if port := os.Getenv("PORT"); port != "" {
		cfg.Server.ListenAddr = ":" + port
	}
	if url := os.Getenv("LIVEKIT_URL"); url != "" {
		cfg.LiveKit.URL = url
	}
	if gainStr := os.Getenv("PUBLISH_GAIN"); gainStr != "" {
		if gain, err := strconv.ParseFloat(gainStr, 64); err == nil && gain > 0 {
			cfg.Audio.PublishGain = gain
		}
	}
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	if cfg.Server.ListenAddr == "" {
		errs = append(errs, errors.New("server.listen_addr must not be empty"))
	}
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if cfg.LiveKit.JoinTimeoutMs <= 0 {
		errs = append(errs, fmt.Errorf("livekit.join_timeout_ms must be positive, got %d", cfg.LiveKit.JoinTimeoutMs))
	}
	if cfg.Audio.PublishGain <= 0 {
		errs = append(errs, fmt.Errorf("audio.publish_gain must be positive, got %g", cfg.Audio.PublishGain))
	}
	if cfg.Audio.PacingIntervalMs <= 0 {
		errs = append(errs, fmt.Errorf("audio.pacing_interval_ms must be positive, got %d", cfg.Audio.PacingIntervalMs))
	}
	if cfg.Audio.PacingCapacity <= 0 {
		errs = append(errs, fmt.Errorf("audio.pacing_capacity must be positive, got %d", cfg.Audio.PacingCapacity))
	}

	return errors.Join(errs...)
}
