package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("SCRIBE_ADDR", "")
	t.Setenv("PORT", "")
	t.Setenv("DATABASE_URL", "")
	t.Setenv("MODERATION_ENABLED", "")
	t.Setenv("AUTO_REPLY_RETRY_BACKOFF", "")

	cfg := Load()
	assert.Equal(t, ":8080", cfg.Addr)
	assert.Equal(t, "scribe.db", cfg.DatabaseURL)
	assert.True(t, cfg.Moderation.Enabled)
	assert.Equal(t, 10*time.Second, cfg.Moderation.Timeout)
	assert.Equal(t, 15*time.Second, cfg.AutoReply.Timeout)
	assert.Equal(t, 3, cfg.AutoReply.MaxAttempts)
	assert.Equal(t, 60*time.Second, cfg.AutoReply.RetryBackoff)
	assert.Equal(t, 60, cfg.AutoReply.DefaultDelay)
	assert.Equal(t, 30*time.Minute, cfg.AccessTTL)
	assert.False(t, cfg.IsPostgres())
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("SCRIBE_ADDR", "")
	t.Setenv("PORT", "3000")
	t.Setenv("DATABASE_URL", "postgres://u:p@localhost/scribe")
	t.Setenv("MODERATION_ENABLED", "false")
	t.Setenv("AUTO_REPLY_RETRY_BACKOFF", "5")
	t.Setenv("AUTO_REPLY_WORKERS", "not-a-number")

	cfg := Load()
	assert.Equal(t, ":3000", cfg.Addr)
	assert.True(t, cfg.IsPostgres())
	assert.False(t, cfg.Moderation.Enabled)
	assert.Equal(t, 5*time.Second, cfg.AutoReply.RetryBackoff)
	assert.Equal(t, 4, cfg.AutoReply.Workers)
}
