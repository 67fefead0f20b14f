package config

import (
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/dmoralesc/vigia/internal/model"
)

const (
	defaultListenAddr      = ":8080"
	defaultDBPath          = "vigia.db"
	defaultAnalyzerURL     = "http://localhost:9090"
	defaultPublisherURL    = "http://localhost:9091"
	defaultSubmitTimeout   = 10 * time.Minute
	defaultAnalysisTimeout = 900 * time.Second
	defaultOwnerUID        = "local"

	envListenAddr      = "VIGIA_LISTEN_ADDR"
	envDBPath          = "VIGIA_DB_PATH"
	envRedisURL        = "VIGIA_REDIS_URL"
	envAnalyzerURL     = "VIGIA_ANALYZER_URL"
	envPublisherURL    = "VIGIA_PUBLISHER_URL"
	envSubmitTimeout   = "VIGIA_SUBMIT_TIMEOUT"
	envAnalysisTimeout = "VIGIA_ANALYSIS_TIMEOUT"
	envScoreThreshold  = "VIGIA_SCORE_THRESHOLD"
	envOwnerUID        = "VIGIA_OWNER_UID"
	envLogLevel        = "VIGIA_LOG_LEVEL"
)

// Config holds application configuration loaded from environment variables.
type Config struct {
	ListenAddr      string
	DBPath          string
	RedisURL        string // empty means the in-process snapshot feed only
	AnalyzerURL     string
	PublisherURL    string
	SubmitTimeout   time.Duration
	AnalysisTimeout time.Duration
	ScoreThreshold  float64
	OwnerUID        string
	LogLevel        slog.Level
}

// Load reads configuration from environment variables with sensible defaults.
func Load() Config {
	cfg := Config{
		ListenAddr:      defaultListenAddr,
		DBPath:          defaultDBPath,
		AnalyzerURL:     defaultAnalyzerURL,
		PublisherURL:    defaultPublisherURL,
		SubmitTimeout:   defaultSubmitTimeout,
		AnalysisTimeout: defaultAnalysisTimeout,
		ScoreThreshold:  model.DefaultScoreThreshold,
		OwnerUID:        defaultOwnerUID,
		LogLevel:        slog.LevelInfo,
	}

	if v := os.Getenv(envListenAddr); v != "" {
		cfg.ListenAddr = v
	}
	if v := os.Getenv(envDBPath); v != "" {
		cfg.DBPath = v
	}
	if v := os.Getenv(envRedisURL); v != "" {
		cfg.RedisURL = v
	}
	if v := os.Getenv(envAnalyzerURL); v != "" {
		cfg.AnalyzerURL = v
	}
	if v := os.Getenv(envPublisherURL); v != "" {
		cfg.PublisherURL = v
	}
	if v := os.Getenv(envSubmitTimeout); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			cfg.SubmitTimeout = d
		}
	}
	if v := os.Getenv(envAnalysisTimeout); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			cfg.AnalysisTimeout = d
		}
	}
	if v := os.Getenv(envScoreThreshold); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.ScoreThreshold = f
		}
	}
	if v := os.Getenv(envOwnerUID); v != "" {
		cfg.OwnerUID = v
	}
	if v := os.Getenv(envLogLevel); v != "" {
		cfg.LogLevel = parseLogLevel(v)
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

// NewLogger creates a structured JSON logger writing to w at the configured level.
func NewLogger(w io.Writer, level slog.Level) *slog.Logger {
	return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level: level,
	}))
}
