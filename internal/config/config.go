package config

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	BridgeAddr string
	OutputDir  string
	LogLevel   string

	// Redis is optional; an empty addr disables the redirect cache.
	RedisAddr string

	// Transcoder binaries.
	FFmpegPath  string
	FFprobePath string

	// Download engine tuning.
	HTTPTimeout    time.Duration
	MaxRetries     int
	RetryBaseDelay time.Duration

	// Origins the GUI shell is served from.
	CORSAllowedOrigins []string
}

func Load() *Config {
	maxRetries, _ := strconv.Atoi(getEnvOrDefault("MAX_RETRIES", "3"))
	if maxRetries <= 0 {
		maxRetries = 3
	}

	timeoutMs, _ := strconv.Atoi(getEnvOrDefault("HTTP_TIMEOUT_MS", "15000"))
	if timeoutMs <= 0 {
		timeoutMs = 15000
	}

	baseDelayMs, _ := strconv.Atoi(getEnvOrDefault("RETRY_BASE_DELAY_MS", "1000"))
	if baseDelayMs <= 0 {
		baseDelayMs = 1000
	}

	return &Config{
		BridgeAddr:         getEnvOrDefault("BRIDGE_ADDR", "127.0.0.1:8090"),
		OutputDir:          getEnvOrDefault("OUTPUT_DIR", defaultOutputDir()),
		LogLevel:           getEnvOrDefault("LOG_LEVEL", "info"),
		RedisAddr:          os.Getenv("REDIS_ADDR"),
		FFmpegPath:         getEnvOrDefault("FFMPEG_PATH", "ffmpeg"),
		FFprobePath:        getEnvOrDefault("FFPROBE_PATH", "ffprobe"),
		HTTPTimeout:        time.Duration(timeoutMs) * time.Millisecond,
		MaxRetries:         maxRetries,
		RetryBaseDelay:     time.Duration(baseDelayMs) * time.Millisecond,
		CORSAllowedOrigins: splitList(getEnvOrDefault("CORS_ALLOWED_ORIGINS", "http://localhost:5173")),
	}
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func defaultOutputDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "downloads"
	}
	return filepath.Join(home, "Downloads", "streamgrab")
}

func splitList(value string) []string {
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
