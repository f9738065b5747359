package config

import (
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	defaultListenAddr     = ":8080"
	defaultDBPath         = "worker.db"
	defaultFilenamePrefix = "APP"
	defaultJobTimeout     = 180 * time.Second
	defaultReadyTimeout   = 300 * time.Second

	envListenAddr    = "WORKER_LISTEN_ADDR"
	envDBPath        = "WORKER_DB_PATH"
	envLogLevel      = "WORKER_LOG_LEVEL"
	envApp           = "APP"
	envEnvironment   = "ENVIRONMENT"
	envHealthCheck   = "HEALTH_CHECK_MODE"
	envNetworkVolume = "ENABLE_NETWORK_VOLUME"
	envJobTimeout    = "COMFYUI_JOB_TIMEOUT_SEC"
	envReadyTimeout  = "COMFYUI_READY_TIMEOUT_SEC"

	// dotEnvFile is read from the working directory when present.
	dotEnvFile = ".env"
)

// Config holds application configuration loaded from environment variables.
type Config struct {
	ListenAddr string
	DBPath     string
	LogLevel   slog.Level

	// FilenamePrefix is prepended to every output image name.
	FilenamePrefix string

	// Production selects the fixed container paths for the engine.
	Production bool

	// HealthCheckMode answers every run request with "OK" without starting
	// the engine.
	HealthCheckMode bool

	// NetworkVolume links the model cache into the engine before start.
	NetworkVolume bool

	JobTimeout   time.Duration
	ReadyTimeout time.Duration
}

// Load reads configuration from environment variables with sensible
// defaults. Values from a .env file fill in variables that are not already
// set.
func Load() Config {
	_ = godotenv.Load(dotEnvFile)

	cfg := Config{
		ListenAddr:     defaultListenAddr,
		DBPath:         defaultDBPath,
		LogLevel:       slog.LevelInfo,
		FilenamePrefix: defaultFilenamePrefix,
		JobTimeout:     defaultJobTimeout,
		ReadyTimeout:   defaultReadyTimeout,
	}

	if v := os.Getenv(envListenAddr); v != "" {
		cfg.ListenAddr = v
	}
	if v := os.Getenv(envDBPath); v != "" {
		cfg.DBPath = v
	}
	if v := os.Getenv(envLogLevel); v != "" {
		cfg.LogLevel = parseLogLevel(v)
	}
	if v := os.Getenv(envApp); v != "" {
		cfg.FilenamePrefix = v
	}

	cfg.Production = strings.EqualFold(os.Getenv(envEnvironment), "PRODUCTION")
	cfg.HealthCheckMode = parseBool(os.Getenv(envHealthCheck))
	cfg.NetworkVolume = parseBool(os.Getenv(envNetworkVolume))

	if d, ok := parseSeconds(os.Getenv(envJobTimeout)); ok {
		cfg.JobTimeout = d
	}
	if d, ok := parseSeconds(os.Getenv(envReadyTimeout)); ok {
		cfg.ReadyTimeout = d
	}

	return cfg
}

func parseLogLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// parseBool accepts TRUE/true/1. Anything else is false.
func parseBool(s string) bool {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "true", "1":
		return true
	}
	return false
}

func parseSeconds(s string) (time.Duration, bool) {
	if s == "" {
		return 0, false
	}
	n, err := strconv.Atoi(s)
	if err != nil || n <= 0 {
		return 0, false
	}
	return time.Duration(n) * time.Second, true
}

// NewLogger creates a structured JSON logger writing to w at the configured level.
func NewLogger(w io.Writer, level slog.Level) *slog.Logger {
	return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level: level,
	}))
}
