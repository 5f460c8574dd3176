package config

// ConfigDiff describes what changed between two configs, split into changes
// that apply immediately and ones that only affect connections established
// after the reload.
type ConfigDiff struct {
	// LogLevelChanged applies to the running process immediately.
	LogLevelChanged bool
	NewLogLevel     LogLevel

	// The remaining fields are picked up by new connections only; existing
	// connections keep the values they were built with.
	PublishGainChanged bool
	NewPublishGain     float64

	PacingChanged bool

	LiveKitURLChanged bool
	NewLiveKitURL     string
}

// Empty reports whether nothing tracked by the diff changed.
func (d ConfigDiff) Empty() bool {
	return !d.LogLevelChanged && !d.PublishGainChanged &&
		!d.PacingChanged && !d.LiveKitURLChanged
}

// Diff compares old and new configs and returns what changed. Only fields
// that are meaningful to change without a restart are tracked; the listen
// address, for instance, is deliberately ignored.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}

	if old.Audio.PublishGain != new.Audio.PublishGain {
		d.PublishGainChanged = true
		d.NewPublishGain = new.Audio.PublishGain
	}

	if old.Audio.PacingIntervalMs != new.Audio.PacingIntervalMs ||
		old.Audio.PacingCapacity != new.Audio.PacingCapacity {
		d.PacingChanged = true
	}

	if old.LiveKit.URL != new.LiveKit.URL {
		d.LiveKitURLChanged = true
		d.NewLiveKitURL = new.LiveKit.URL
	}

	return d
}
