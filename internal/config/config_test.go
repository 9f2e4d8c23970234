package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestFromEnvDefaults(t *testing.T) {
	t.Setenv("DATABASE_URL", "")
	t.Setenv("ADMIN_PRINCIPALS", "")
	t.Setenv("LOCK_TTL_SECONDS", "")

	cfg := FromEnv()

	assert.Equal(t, ":8787", cfg.Addr)
	assert.Empty(t, cfg.DatabaseURL)
	assert.Nil(t, cfg.AdminPrincipals)
	assert.Equal(t, 10*time.Second, cfg.LockTTL)
	assert.Equal(t, "listing-moderation", cfg.KafkaTopic)
}

func TestFromEnvOverrides(t *testing.T) {
	t.Setenv("API_ADDR", ":9000")
	t.Setenv("ADMIN_PRINCIPALS", " admin-1, ,admin-2 ")
	t.Setenv("KAFKA_BROKERS", "k1:9092,k2:9092")
	t.Setenv("MINIO_USE_SSL", "true")
	t.Setenv("LOCK_TTL_SECONDS", "not-a-number")
	t.Setenv("PHOTO_URL_TTL_SECONDS", "60")

	cfg := FromEnv()

	assert.Equal(t, ":9000", cfg.Addr)
	assert.Equal(t, []string{"admin-1", "admin-2"}, cfg.AdminPrincipals)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.KafkaBrokers)
	assert.True(t, cfg.MinioUseSSL)
	assert.Equal(t, 10*time.Second, cfg.LockTTL)
	assert.Equal(t, time.Minute, cfg.PhotoURLTTL)
}
