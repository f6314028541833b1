package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	// Runner identity
	RunnerAPIKey  string // bootstrap credential; also guards the ops API
	RunnerAuthURL string // exchanges RunnerAPIKey for storage credentials (empty = use env)
	RunnerUserID  string // scope when RunnerAuthURL is empty (empty = all users)

	// Server
	APIPort            string // empty disables the ops API
	CorsAllowedOrigins string // Comma-separated allowed origins (empty = *)

	// Database
	DatabaseURL string

	// Redis (claim lock + publish hand-off; empty = disabled)
	RedisURL string

	// Kafka (status events; empty = disabled)
	KafkaBrokers     []string
	KafkaStatusTopic string

	// Storage
	StorageBackend        string // "supabase" or "gcs"
	SupabaseURL           string
	SupabaseServiceKey    string
	SupabaseStorageBucket string
	GCSBucket             string
	GCSCredentialsFile    string

	// Pipeline
	PollInterval   time.Duration
	MaxClipSeconds float64
	StaleAfter     time.Duration
	ClaimTTL       time.Duration
	UploadRetry    time.Duration
	WorkDir        string

	// Tools
	FFmpegPath  string
	FFprobePath string
	YtdlpPath   string

	// Logging
	LogLevel  string
	LogFormat string
}

func Load() (*Config, error) {
	// Load .env file if it exists (ignore error in production)
	_ = godotenv.Load()

	cfg := &Config{
		RunnerAPIKey:          getEnv("RUNNER_API_KEY", ""),
		RunnerAuthURL:         getEnv("RUNNER_AUTH_URL", ""),
		RunnerUserID:          getEnv("RUNNER_USER_ID", ""),
		APIPort:               getEnv("API_PORT", "8090"),
		CorsAllowedOrigins:    getEnv("CORS_ALLOWED_ORIGINS", ""),
		DatabaseURL:           getEnv("DATABASE_URL", ""),
		RedisURL:              getEnv("REDIS_URL", ""),
		KafkaBrokers:          getEnvList("KAFKA_BROKERS"),
		KafkaStatusTopic:      getEnv("KAFKA_STATUS_TOPIC", "longform.project-status"),
		StorageBackend:        strings.ToLower(getEnv("STORAGE_BACKEND", "supabase")),
		SupabaseURL:           getEnv("SUPABASE_URL", ""),
		SupabaseServiceKey:    getEnv("SUPABASE_SERVICE_KEY", ""),
		SupabaseStorageBucket: getEnv("SUPABASE_STORAGE_BUCKET", "videos"),
		GCSCredentialsFile:    getEnv("GCS_CREDENTIALS_FILE", ""),
		PollInterval:          time.Duration(getEnvInt("LONGFORM_POLL_INTERVAL_MS", 30000)) * time.Millisecond,
		MaxClipSeconds:        getEnvFloat("MAX_CLIP_SECONDS", 10),
		StaleAfter:            time.Duration(getEnvInt("STALE_CLAIM_MINUTES", 5)) * time.Minute,
		ClaimTTL:              time.Duration(getEnvInt("CLAIM_LOCK_TTL_MINUTES", 120)) * time.Minute,
		UploadRetry:           time.Duration(getEnvInt("UPLOAD_RETRY_BASE_MS", 1000)) * time.Millisecond,
		WorkDir:               getEnv("WORK_DIR", "/tmp/longform"),
		FFmpegPath:            getEnv("FFMPEG_PATH", "ffmpeg"),
		FFprobePath:           getEnv("FFPROBE_PATH", "ffprobe"),
		YtdlpPath:             getEnv("YTDLP_PATH", "yt-dlp"),
		LogLevel:              getEnv("LOG_LEVEL", "info"),
		LogFormat:             getEnv("LOG_FORMAT", "json"),
	}
	cfg.GCSBucket = getEnv("GCS_BUCKET", cfg.SupabaseStorageBucket)

	// Validate required fields
	if cfg.RunnerAPIKey == "" {
		return nil, fmt.Errorf("RUNNER_API_KEY is required")
	}

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	switch cfg.StorageBackend {
	case "supabase", "gcs":
	default:
		return nil, fmt.Errorf("STORAGE_BACKEND must be supabase or gcs, got %q", cfg.StorageBackend)
	}

	// Without an auth endpoint the storage credentials must come from the environment
	if cfg.RunnerAuthURL == "" && cfg.StorageBackend == "supabase" {
		if cfg.SupabaseURL == "" || cfg.SupabaseServiceKey == "" {
			return nil, fmt.Errorf("SUPABASE_URL and SUPABASE_SERVICE_KEY are required when RUNNER_AUTH_URL is not set")
		}
	}

	if cfg.PollInterval <= 0 {
		return nil, fmt.Errorf("LONGFORM_POLL_INTERVAL_MS must be positive")
	}

	if cfg.MaxClipSeconds <= 0 {
		return nil, fmt.Errorf("MAX_CLIP_SECONDS must be positive")
	}

	return cfg, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		i, err := strconv.Atoi(value)
		if err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		f, err := strconv.ParseFloat(value, 64)
		if err == nil {
			return f
		}
	}
	return defaultValue
}

// getEnvList splits a comma-separated variable, dropping blanks.
func getEnvList(key string) []string {
	var out []string
	for _, s := range strings.Split(os.Getenv(key), ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
