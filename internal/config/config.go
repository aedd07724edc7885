package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

const EnvProduction = "production"

type Config struct {
	Port               string
	AppEnv             string
	OpenAIAPIKey       string
	OpenAIBaseURL      string
	OpenAIModelExtract string
	ExtractTimeout     time.Duration
	StoreDriver        string
	DataDir            string
	DatabasePath       string
	CacheSize          int
	MaxBodyBytes       int64
	BaseURL            string
	ShareSecret        string
	ShareTTL           time.Duration
	LogLevel           slog.Level
	LogFormat          string
	CORSOrigins        []string
}

func (c Config) Production() bool {
	return c.AppEnv == EnvProduction
}

func LoadConfig() (Config, error) {
	cfg := Config{}

	cfg.Port = envOrDefault("PORT", "8080")
	cfg.AppEnv = envOrDefault("APP_ENV", "development")
	cfg.OpenAIAPIKey = os.Getenv("OPENAI_API_KEY")
	cfg.OpenAIBaseURL = strings.TrimRight(envOrDefault("OPENAI_BASE_URL", "https://api.openai.com/v1"), "/")
	cfg.OpenAIModelExtract = envOrDefault("OPENAI_MODEL_EXTRACT", "gpt-4o-mini")

	cfg.StoreDriver = envOrDefault("STORE_DRIVER", "sqlite")
	if cfg.StoreDriver != "sqlite" && cfg.StoreDriver != "file" {
		return Config{}, fmt.Errorf("STORE_DRIVER must be sqlite or file, got %q", cfg.StoreDriver)
	}

	cfg.BaseURL = envOrDefault("BASE_URL", fmt.Sprintf("http://localhost:%s", cfg.Port))
	cfg.ShareSecret = envOrDefault("SHARE_SECRET", "change-me")
	cfg.DataDir = envOrDefault("DATA_DIR", "data")
	cfg.LogFormat = envOrDefault("LOG_FORMAT", "text")
	cfg.CORSOrigins = splitList(envOrDefault("CORS_ORIGINS", "http://localhost:5173,http://localhost:8080"))

	extractSeconds, err := parseIntEnv("EXTRACT_TIMEOUT_SECONDS", 60)
	if err != nil {
		return Config{}, fmt.Errorf("parse EXTRACT_TIMEOUT_SECONDS: %w", err)
	}
	cfg.ExtractTimeout = time.Duration(extractSeconds) * time.Second

	cacheSize, err := parseIntEnv("CACHE_SIZE", 512)
	if err != nil {
		return Config{}, fmt.Errorf("parse CACHE_SIZE: %w", err)
	}
	cfg.CacheSize = int(cacheSize)

	maxBodyKB, err := parseIntEnv("MAX_BODY_KB", 1024)
	if err != nil {
		return Config{}, fmt.Errorf("parse MAX_BODY_KB: %w", err)
	}
	cfg.MaxBodyBytes = maxBodyKB * 1024

	shareTTLSeconds, err := parseIntEnv("SHARE_TTL_SECONDS", 86400)
	if err != nil {
		return Config{}, fmt.Errorf("parse SHARE_TTL_SECONDS: %w", err)
	}
	cfg.ShareTTL = time.Duration(shareTTLSeconds) * time.Second

	if err := cfg.LogLevel.UnmarshalText([]byte(envOrDefault("LOG_LEVEL", "info"))); err != nil {
		return Config{}, fmt.Errorf("parse LOG_LEVEL: %w", err)
	}

	absDataDir, err := filepath.Abs(cfg.DataDir)
	if err != nil {
		return Config{}, fmt.Errorf("resolve data dir: %w", err)
	}
	cfg.DataDir = absDataDir

	cfg.DatabasePath = envOrDefault("DATABASE_PATH", filepath.Join(cfg.DataDir, "tasks.db"))

	return cfg, nil
}

// NewLogger builds the process logger from LOG_LEVEL and LOG_FORMAT.
func (c Config) NewLogger() *slog.Logger {
	opts := &slog.HandlerOptions{Level: c.LogLevel}
	if c.LogFormat == "json" {
		return slog.New(slog.NewJSONHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stderr, opts))
}

func envOrDefault(key, fallback string) string {
	if val, ok := os.LookupEnv(key); ok && val != "" {
		return val
	}
	return fallback
}

func parseIntEnv(key string, fallback int64) (int64, error) {
	value := envOrDefault(key, "")
	if value == "" {
		return fallback, nil
	}

	num, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return 0, err
	}
	return num, nil
}

func splitList(value string) []string {
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
