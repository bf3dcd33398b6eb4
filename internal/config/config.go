package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config contains all runtime settings for the copilot conversation service.
type Config struct {
	BindAddr         string
	ShutdownTimeout  time.Duration
	SessionTTL       time.Duration
	SweepInterval    time.Duration
	MetricsNamespace string

	AllowAnyOrigin bool

	DashScopeAPIKey string

	QwenModel       string
	QwenBaseURL     string
	QwenMaxTokens   int
	QwenTemperature float64

	ASRModel    string
	ASRBaseURL  string
	ASRLanguage string

	TTSModel string
	TTSVoice string
	TTSURL   string

	EmbeddingModel   string
	EmbeddingBaseURL string

	CollaboratorTimeout time.Duration
	MaxCandidates       int

	DatabaseURL string
}

// Load reads environment variables and applies safe defaults.
func Load() (Config, error) {
	cfg := Config{
		BindAddr:         envOrDefault("APP_BIND_ADDR", ":8080"),
		MetricsNamespace: envOrDefault("APP_METRICS_NAMESPACE", "copilot"),
		AllowAnyOrigin:   false,
		DashScopeAPIKey:  trimmedEnv("DASHSCOPE_API_KEY"),
		QwenModel:        envOrDefault("QWEN_MODEL", "qwen-plus"),
		QwenBaseURL:      envOrDefault("QWEN_BASE_URL", "https://dashscope.aliyuncs.com/compatible-mode/v1"),
		QwenMaxTokens:    1024,
		QwenTemperature:  0.7,
		ASRModel:         envOrDefault("ASR_MODEL", "qwen3-asr-flash-realtime"),
		ASRBaseURL:       envOrDefault("ASR_BASE_URL", "wss://dashscope.aliyuncs.com/api-ws/v1/realtime"),
		ASRLanguage:      envOrDefault("ASR_LANGUAGE", "ja"),
		TTSModel:         envOrDefault("TTS_MODEL", "qwen3-tts-flash"),
		TTSVoice:         envOrDefault("TTS_VOICE", "Cherry"),
		TTSURL:           envOrDefault("TTS_URL", "https://dashscope.aliyuncs.com/api/v1/services/aigc/multimodal-generation/generation"),
		EmbeddingModel:   envOrDefault("EMBEDDING_MODEL", "text-embedding-v4"),
		EmbeddingBaseURL: envOrDefault("EMBEDDING_BASE_URL", "https://dashscope.aliyuncs.com/compatible-mode/v1"),
		DatabaseURL:      trimmedEnv("DATABASE_URL"),

		ShutdownTimeout:     15 * time.Second,
		SessionTTL:          30 * time.Minute,
		SweepInterval:       30 * time.Second,
		CollaboratorTimeout: 30 * time.Second,
		MaxCandidates:       3,
	}

	var err error
	cfg.ShutdownTimeout, err = durationFromEnv("APP_SHUTDOWN_TIMEOUT", cfg.ShutdownTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.SessionTTL, err = durationFromEnv("APP_SESSION_TTL", cfg.SessionTTL)
	if err != nil {
		return Config{}, err
	}
	cfg.SweepInterval, err = durationFromEnv("APP_SESSION_SWEEP_INTERVAL", cfg.SweepInterval)
	if err != nil {
		return Config{}, err
	}
	cfg.CollaboratorTimeout, err = durationFromEnv("APP_COLLABORATOR_TIMEOUT", cfg.CollaboratorTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.MaxCandidates, err = intFromEnv("APP_MAX_CANDIDATES", cfg.MaxCandidates)
	if err != nil {
		return Config{}, err
	}
	cfg.QwenMaxTokens, err = intFromEnv("QWEN_MAX_TOKENS", cfg.QwenMaxTokens)
	if err != nil {
		return Config{}, err
	}
	cfg.AllowAnyOrigin, err = boolFromEnv("APP_ALLOW_ANY_ORIGIN", cfg.AllowAnyOrigin)
	if err != nil {
		return Config{}, err
	}

	if cfg.SessionTTL < 5*time.Second {
		return Config{}, fmt.Errorf("APP_SESSION_TTL must be at least 5s")
	}
	if cfg.SweepInterval <= 0 {
		return Config{}, fmt.Errorf("APP_SESSION_SWEEP_INTERVAL must be positive")
	}
	if cfg.CollaboratorTimeout <= 0 {
		return Config{}, fmt.Errorf("APP_COLLABORATOR_TIMEOUT must be positive")
	}
	if cfg.MaxCandidates < 1 || cfg.MaxCandidates > 3 {
		return Config{}, fmt.Errorf("APP_MAX_CANDIDATES must be between 1 and 3")
	}
	if cfg.QwenMaxTokens <= 0 {
		return Config{}, fmt.Errorf("QWEN_MAX_TOKENS must be positive")
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

func trimmedEnv(key string) string {
	return strings.TrimSpace(os.Getenv(key))
}

func durationFromEnv(key string, fallback time.Duration) (time.Duration, error) {
	v := trimmedEnv(key)
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
	v := trimmedEnv(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return n, nil
}

func boolFromEnv(key string, fallback bool) (bool, error) {
	v := strings.ToLower(trimmedEnv(key))
	if v == "" {
		return fallback, nil
	}
	switch v {
	case "1", "true", "t", "yes", "y", "on":
		return true, nil
	case "0", "false", "f", "no", "n", "off":
		return false, nil
	default:
		return false, fmt.Errorf("%s parse error: expected bool", key)
	}
}
