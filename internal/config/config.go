package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config contains all runtime settings for the voice console and the
// collaborator support backend.
type Config struct {
	BindAddr                 string
	ShutdownTimeout          time.Duration
	SessionInactivityTimeout time.Duration
	MetricsNamespace         string

	// Collaborator backend as seen from the client.
	BackendURL   string
	ToolCacheTTL time.Duration

	// Realtime service endpoints.
	TransportKind      string
	RealtimeWSURL      string
	RealtimeSessionURL string
	RealtimeAPIKey     string
	WebRTCURL          string

	Model string
	Voice string

	// Audio and endpointing.
	FrameMS         int
	CaptureDumpPath string
	VADThreshold    int
	MinSpeakingTime time.Duration
	MinSilenceTime  time.Duration
}

// Load reads environment variables and applies safe defaults.
func Load() (Config, error) {
	cfg := Config{
		BindAddr:         envOrDefault("APP_BIND_ADDR", ":8080"),
		MetricsNamespace: envOrDefault("APP_METRICS_NAMESPACE", "realtimeagents"),
		BackendURL:       envOrDefault("BACKEND_URL", "http://localhost:8080"),
		// The peer media transport needs no websocket endpoint; the two
		// socket variants do.
		TransportKind:      envOrDefault("REALTIME_TRANSPORT", "peermedia"),
		RealtimeWSURL:      envTrimmed("REALTIME_WS_URL"),
		RealtimeSessionURL: envTrimmed("REALTIME_SESSION_URL"),
		RealtimeAPIKey:     envTrimmed("REALTIME_API_KEY"),
		WebRTCURL:          envTrimmed("WEBRTC_URL"),
		Model:              envOrDefault("REALTIME_MODEL", "gpt-realtime"),
		Voice:              envOrDefault("REALTIME_VOICE", "verse"),
		CaptureDumpPath:    envTrimmed("CAPTURE_DUMP_PATH"),

		ShutdownTimeout:          15 * time.Second,
		SessionInactivityTimeout: 5 * time.Minute,
		// Zero means cached tool definitions never expire; refresh is an
		// explicit invalidation.
		ToolCacheTTL:    0,
		FrameMS:         20,
		VADThreshold:    12,
		MinSpeakingTime: 120 * time.Millisecond,
		MinSilenceTime:  350 * time.Millisecond,
	}

	var err error
	cfg.ShutdownTimeout, err = durationFromEnv("APP_SHUTDOWN_TIMEOUT", cfg.ShutdownTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.SessionInactivityTimeout, err = durationFromEnv("APP_SESSION_INACTIVITY_TIMEOUT", cfg.SessionInactivityTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.ToolCacheTTL, err = durationFromEnv("TOOL_CACHE_TTL", cfg.ToolCacheTTL)
	if err != nil {
		return Config{}, err
	}
	cfg.FrameMS, err = intFromEnv("AUDIO_FRAME_MS", cfg.FrameMS)
	if err != nil {
		return Config{}, err
	}
	cfg.VADThreshold, err = intFromEnv("VAD_THRESHOLD", cfg.VADThreshold)
	if err != nil {
		return Config{}, err
	}
	cfg.MinSpeakingTime, err = durationFromEnv("VAD_MIN_SPEAKING_TIME", cfg.MinSpeakingTime)
	if err != nil {
		return Config{}, err
	}
	cfg.MinSilenceTime, err = durationFromEnv("VAD_MIN_SILENCE_TIME", cfg.MinSilenceTime)
	if err != nil {
		return Config{}, err
	}

	switch cfg.TransportKind {
	case "peermedia", "textsocket", "binsocket":
	default:
		return Config{}, fmt.Errorf("REALTIME_TRANSPORT must be peermedia, textsocket or binsocket")
	}
	if cfg.SessionInactivityTimeout < 5*time.Second {
		return Config{}, fmt.Errorf("APP_SESSION_INACTIVITY_TIMEOUT must be at least 5s")
	}
	if cfg.FrameMS < 5 || cfg.FrameMS > 100 {
		return Config{}, fmt.Errorf("AUDIO_FRAME_MS must be between 5 and 100")
	}
	if cfg.VADThreshold <= 0 || cfg.VADThreshold >= 100 {
		return Config{}, fmt.Errorf("VAD_THRESHOLD must be between 1 and 99")
	}

	return cfg, nil
}

func envOrDefault(key, fallback string) string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	return v
}

func envTrimmed(key string) string {
	return strings.TrimSpace(os.Getenv(key))
}

func durationFromEnv(key string, fallback time.Duration) (time.Duration, error) {
	v := envTrimmed(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return d, nil
}

func intFromEnv(key string, fallback int) (int, error) {
	v := envTrimmed(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return n, nil
}
