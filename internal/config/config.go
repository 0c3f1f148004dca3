package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all process configuration, constructed once at startup and
// passed explicitly into component constructors.
type Config struct {
	ServerAddr  string
	CORSOrigins []string
	LogLevel    string

	DBHost     string
	DBPort     string
	DBUser     string
	DBPassword string
	DBName     string

	AccessTokenSecret  string
	RefreshTokenSecret string
	AccessTokenExpiry  time.Duration
	RefreshTokenExpiry time.Duration

	RedisAddr string

	// MinIO/S3 media store configuration
	MinioEndpoint  string
	MinioAccessKey string
	MinioSecretKey string
	MinioRegion    string
	MinioBucket    string
	MinioUseSSL    bool

	// MediaPublicURL is the externally reachable base URL for stored blobs.
	MediaPublicURL string

	CleanupWorkers int
}

func Load() *Config {
	minioUseSSL, _ := strconv.ParseBool(getEnvOrDefault("MINIO_USE_SSL", "false"))

	cleanupWorkers, _ := strconv.Atoi(getEnvOrDefault("CLEANUP_WORKERS", "2"))
	if cleanupWorkers <= 0 {
		cleanupWorkers = 2
	}

	return &Config{
		ServerAddr:  getEnvOrDefault("SERVER_ADDR", ":8000"),
		CORSOrigins: splitOrigins(getEnvOrDefault("CORS_ORIGIN", "*")),
		LogLevel:    getEnvOrDefault("LOG_LEVEL", "info"),

		DBHost:     getEnvOrDefault("DB_HOST", "localhost"),
		DBPort:     getEnvOrDefault("DB_PORT", "5432"),
		DBUser:     getEnvOrDefault("DB_USER", "vidhub"),
		DBPassword: getEnvOrDefault("DB_PASSWORD", "vidhub_dev_password"),
		DBName:     getEnvOrDefault("DB_NAME", "vidhub"),

		AccessTokenSecret:  os.Getenv("ACCESS_TOKEN_SECRET"),
		RefreshTokenSecret: os.Getenv("REFRESH_TOKEN_SECRET"),
		AccessTokenExpiry:  getDurationOrDefault("ACCESS_TOKEN_EXPIRY", 15*time.Minute),
		RefreshTokenExpiry: getDurationOrDefault("REFRESH_TOKEN_EXPIRY", 10*24*time.Hour),

		RedisAddr: getEnvOrDefault("REDIS_ADDR", "localhost:6379"),

		MinioEndpoint:  getEnvOrDefault("MINIO_ENDPOINT", "localhost:9000"),
		MinioAccessKey: getEnvOrDefault("MINIO_ACCESS_KEY", "minioadmin"),
		MinioSecretKey: getEnvOrDefault("MINIO_SECRET_KEY", "minioadmin"),
		MinioRegion:    getEnvOrDefault("MINIO_REGION", "us-east-1"),
		MinioBucket:    getEnvOrDefault("MINIO_BUCKET", "vidhub-media"),
		MinioUseSSL:    minioUseSSL,

		MediaPublicURL: getEnvOrDefault("MEDIA_PUBLIC_URL", "http://localhost:9000"),

		CleanupWorkers: cleanupWorkers,
	}
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getDurationOrDefault(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	d, err := time.ParseDuration(value)
	if err != nil || d <= 0 {
		return defaultValue
	}
	return d
}

func splitOrigins(value string) []string {
	parts := strings.Split(value, ",")
	origins := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			origins = append(origins, p)
		}
	}
	return origins
}
