// Package config loads runtime configuration from the environment.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all runtime configuration, loaded from environment variables.
type Config struct {
	// ACE-Step connection
	ACEStepAPIURL    string
	ACEStepAPIKey    string
	ACEStepOutputDir string
	WaitForACEStep   bool // block startup until ACE-Step is healthy

	// Server
	Port        int
	Environment string
	LogLevel    string

	// Playback and lyrics
	SettleDelay       time.Duration // gap between stopping other tracks and starting the selected one
	ScrollHold        time.Duration // auto-scroll pause after a manual scroll
	TimeReportsPerSec float64       // per-client cap on time reports

	// Generation defaults
	TrackDuration  int     // seconds
	BatchSize      int     // versions per song
	InferenceSteps int     // diffusion steps (base model: 50+, turbo: 8)
	GuidanceScale  float64 // CFG strength
	AudioFormat    string  // flac, mp3, wav
}

// Load reads configuration from environment variables with sane defaults.
func Load() Config {
	return Config{
		ACEStepAPIURL:    envStr("ACESTEP_API_URL", "http://acestep:8000"),
		ACEStepAPIKey:    envStr("ACESTEP_API_KEY", ""),
		ACEStepOutputDir: envStr("ACESTEP_OUTPUT_DIR", "/acestep-outputs"),
		WaitForACEStep:   envBool("SONGDECK_WAIT_FOR_ACESTEP", false),

		Port:        envInt("SONGDECK_PORT", 8080),
		Environment: envStr("SONGDECK_ENV", "development"),
		LogLevel:    envStr("LOG_LEVEL", "info"),

		SettleDelay:       envMillis("SONGDECK_SETTLE_DELAY_MS", 50),
		ScrollHold:        envMillis("SONGDECK_SCROLL_HOLD_MS", 2000),
		TimeReportsPerSec: envFloat("SONGDECK_TIME_REPORTS_PER_SEC", 20),

		TrackDuration:  envInt("SONGDECK_TRACK_DURATION", 120),
		BatchSize:      envInt("SONGDECK_BATCH_SIZE", 2),
		InferenceSteps: envInt("SONGDECK_INFERENCE_STEPS", 50),
		GuidanceScale:  envFloat("SONGDECK_GUIDANCE_SCALE", 4.0),
		AudioFormat:    envStr("SONGDECK_AUDIO_FORMAT", "mp3"),
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

func envFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(strings.TrimSpace(v)); err == nil {
			return b
		}
	}
	return fallback
}

func envMillis(key string, fallback int) time.Duration {
	return time.Duration(envInt(key, fallback)) * time.Millisecond
}
