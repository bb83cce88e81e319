package config

import (
	"os"
	"strconv"
	"time"
)

func envFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

// Config holds all runtime configuration, loaded from environment variables.
type Config struct {
	// Server
	Port int

	// Media
	MediaDir string // directory of audio files for the demo arrangement

	// Transport
	BPM          float64
	BeatsPerBar  int
	PlaybackRate float64

	// Scheduling
	LookAhead    time.Duration // region scheduling horizon
	GainRamp     time.Duration // declick ramp on scheduled gain changes
	MasterVolume float64

	// Host loop
	TickInterval time.Duration // control-rate tick
	IdleBudget   time.Duration // per-tick budget for deferred work

	// Parameter batching
	BatchWindow time.Duration

	// Metering
	MeterCalibration float64

	// Outputs
	Speaker       bool // play the monitor bus on the local device
	MonitorMemory bool // sample heap stats in the perf monitor
}

// Load reads configuration from environment variables with sane defaults.
func Load() Config {
	return Config{
		Port: envInt("MIXX_PORT", 8080),

		MediaDir: envStr("MIXX_MEDIA_DIR", ""),

		BPM:          envFloat("MIXX_BPM", 120),
		BeatsPerBar:  envInt("MIXX_BEATS_PER_BAR", 4),
		PlaybackRate: envFloat("MIXX_PLAYBACK_RATE", 1.0),

		LookAhead:    time.Duration(envInt("MIXX_LOOKAHEAD_MS", 100)) * time.Millisecond,
		GainRamp:     time.Duration(envInt("MIXX_GAIN_RAMP_MS", 10)) * time.Millisecond,
		MasterVolume: envFloat("MIXX_MASTER_VOLUME", 1.0),

		TickInterval: time.Duration(envInt("MIXX_TICK_MS", 16)) * time.Millisecond,
		IdleBudget:   time.Duration(envInt("MIXX_IDLE_BUDGET_MS", 4)) * time.Millisecond,

		BatchWindow: time.Duration(envInt("MIXX_BATCH_WINDOW_MS", 16)) * time.Millisecond,

		MeterCalibration: envFloat("MIXX_METER_CALIBRATION", 1.0),

		Speaker:       envBool("MIXX_SPEAKER", false),
		MonitorMemory: envBool("MIXX_MONITOR_MEMORY", true),
	}
}

func envStr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}
