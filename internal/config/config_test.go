package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	setCoreEnvEmpty(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.BindAddr != ":8080" {
		t.Fatalf("BindAddr = %q, want :8080", cfg.BindAddr)
	}
	if cfg.TransportKind != "peermedia" {
		t.Fatalf("TransportKind = %q, want peermedia", cfg.TransportKind)
	}
	if cfg.Model != "gpt-realtime" || cfg.Voice != "verse" {
		t.Fatalf("Model/Voice = %q/%q", cfg.Model, cfg.Voice)
	}
	if cfg.FrameMS != 20 {
		t.Fatalf("FrameMS = %d, want 20", cfg.FrameMS)
	}
	if cfg.MinSpeakingTime != 120*time.Millisecond || cfg.MinSilenceTime != 350*time.Millisecond {
		t.Fatalf("endpointing windows = %v/%v", cfg.MinSpeakingTime, cfg.MinSilenceTime)
	}
}

func TestLoadRejectsUnknownTransport(t *testing.T) {
	setCoreEnvEmpty(t)
	t.Setenv("REALTIME_TRANSPORT", "carrier-pigeon")

	if _, err := Load(); err == nil {
		t.Fatal("Load() accepted an unknown transport kind")
	}
}

func TestLoadParsesDurationOverrides(t *testing.T) {
	setCoreEnvEmpty(t)
	t.Setenv("APP_SHUTDOWN_TIMEOUT", "30s")
	t.Setenv("VAD_MIN_SILENCE_TIME", "500ms")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.ShutdownTimeout != 30*time.Second {
		t.Fatalf("ShutdownTimeout = %v, want 30s", cfg.ShutdownTimeout)
	}
	if cfg.MinSilenceTime != 500*time.Millisecond {
		t.Fatalf("MinSilenceTime = %v, want 500ms", cfg.MinSilenceTime)
	}
}

func TestLoadRejectsMalformedDuration(t *testing.T) {
	setCoreEnvEmpty(t)
	t.Setenv("TOOL_CACHE_TTL", "five minutes")

	if _, err := Load(); err == nil {
		t.Fatal("Load() accepted a malformed duration")
	}
}

func TestLoadRejectsOutOfRangeFrameSize(t *testing.T) {
	setCoreEnvEmpty(t)
	t.Setenv("AUDIO_FRAME_MS", "250")

	if _, err := Load(); err == nil {
		t.Fatal("Load() accepted a 250ms audio frame")
	}
}

func TestLoadRejectsOutOfRangeThreshold(t *testing.T) {
	setCoreEnvEmpty(t)
	t.Setenv("VAD_THRESHOLD", "100")

	if _, err := Load(); err == nil {
		t.Fatal("Load() accepted a threshold of 100")
	}
}

func setCoreEnvEmpty(t *testing.T) {
	t.Helper()
	keys := []string{
		"APP_BIND_ADDR",
		"APP_SHUTDOWN_TIMEOUT",
		"APP_SESSION_INACTIVITY_TIMEOUT",
		"APP_METRICS_NAMESPACE",
		"BACKEND_URL",
		"TOOL_CACHE_TTL",
		"REALTIME_TRANSPORT",
		"REALTIME_WS_URL",
		"REALTIME_SESSION_URL",
		"REALTIME_API_KEY",
		"WEBRTC_URL",
		"REALTIME_MODEL",
		"REALTIME_VOICE",
		"AUDIO_FRAME_MS",
		"CAPTURE_DUMP_PATH",
		"VAD_THRESHOLD",
		"VAD_MIN_SPEAKING_TIME",
		"VAD_MIN_SILENCE_TIME",
	}
	for _, key := range keys {
		t.Setenv(key, "")
	}
}
