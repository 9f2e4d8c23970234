package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Addr          string
	Env           string
	LogLevel      string
	DatabaseURL   string
	MigrationsDir string
	JWTSecret     string
	CORSOrigin    string
	// Principals bootstrapped with the admin role on first profile save.
	AdminPrincipals []string
	// Redis Configuration
	RedisURL string
	LockTTL  time.Duration
	// Search
	MeiliURL       string
	MeiliMasterKey string
	// Photo blobs
	MinioEndpoint  string
	MinioAccessKey string
	MinioSecretKey string
	MinioBucket    string
	MinioRegion    string
	MinioUseSSL    bool
	PhotoURLTTL    time.Duration
	PhotoBaseURL   string
	// Event stream
	KafkaBrokers []string
	KafkaTopic   string
}

// Load reads an optional .env file and then the process environment.
func Load() Config {
	_ = godotenv.Load()
	return FromEnv()
}

func FromEnv() Config {
	return Config{
		Addr:            getenv("API_ADDR", ":8787"),
		Env:             getenv("APP_ENV", "production"),
		LogLevel:        getenv("LOG_LEVEL", "info"),
		DatabaseURL:     getenv("DATABASE_URL", ""),
		MigrationsDir:   getenv("MIGRATIONS_DIR", "./db/migrations"),
		JWTSecret:       getenv("JWT_SECRET", "kosmarket-dev-secret"),
		CORSOrigin:      getenv("CORS_ORIGIN", "*"),
		AdminPrincipals: getenvList("ADMIN_PRINCIPALS"),
		// Redis - empty means locks stay in-process
		RedisURL:       getenv("REDIS_URL", ""),
		LockTTL:        time.Duration(getenvInt("LOCK_TTL_SECONDS", 10)) * time.Second,
		MeiliURL:       getenv("MEILI_URL", ""),
		MeiliMasterKey: getenv("MEILI_MASTER_KEY", ""),
		MinioEndpoint:  getenv("MINIO_ENDPOINT", ""),
		MinioAccessKey: getenv("MINIO_ACCESS_KEY", ""),
		MinioSecretKey: getenv("MINIO_SECRET_KEY", ""),
		MinioBucket:    getenv("MINIO_BUCKET", "listing-photos"),
		MinioRegion:    getenv("MINIO_REGION", "us-east-1"),
		MinioUseSSL:    getenvBool("MINIO_USE_SSL", false),
		PhotoURLTTL:    time.Duration(getenvInt("PHOTO_URL_TTL_SECONDS", 900)) * time.Second,
		PhotoBaseURL:   getenv("PHOTO_BASE_URL", "http://localhost:9000/listing-photos"),
		KafkaBrokers:   getenvList("KAFKA_BROKERS"),
		KafkaTopic:     getenv("KAFKA_TOPIC", "listing-moderation"),
	}
}

func getenv(key, fallback string) string {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	return value
}

func getenvInt(key string, fallback int) int {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func getenvBool(key string, fallback bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func getenvList(key string) []string {
	value := os.Getenv(key)
	if strings.TrimSpace(value) == "" {
		return nil
	}
	parts := strings.Split(value, ",")
	items := make([]string, 0, len(parts))
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			items = append(items, trimmed)
		}
	}
	return items
}
