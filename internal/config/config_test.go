package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var managedVars = []string{
	"REDIS_URL", "REDIS_HOST", "REDIS_PORT", "QUEUE_NAME",
	"NODE_BACKEND_URL", "MODERATION_SECRET",
	"DETECTOR", "DETECTOR_URL", "DETECTOR_API_KEY",
	"ANTHROPIC_API_KEY", "CLAUDE_MODEL", "BEDROCK_MODEL", "AWS_ACCESS_KEY_ID", "AWS_PROFILE",
	"AWS_REGION",
	"UNSAFE_LABELS_FILE", "MEDIA_MAX_BYTES", "MEDIA_BLOCK_PRIVATE", "HTTP_TIMEOUT",
	"WORK_DIR", "FFMPEG_PATH", "FFPROBE_PATH", "OPS_PORT", "LOG_LEVEL",
}

// clearEnv blanks every variable FromEnv reads; t.Setenv restores them.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range managedVars {
		t.Setenv(k, "")
	}
}

func TestFromEnvDefaults(t *testing.T) {
	clearEnv(t)

	cfg, err := FromEnv()
	require.NoError(t, err)

	assert.Equal(t, "redis", cfg.RedisHost)
	assert.Equal(t, 6379, cfg.RedisPort)
	assert.Equal(t, "moderation_jobs_raw", cfg.QueueName)
	assert.Equal(t, "http://localhost:5002", cfg.BackendURL)
	assert.Equal(t, DetectorHTTP, cfg.Detector)
	assert.Equal(t, int64(32<<20), cfg.MediaMaxBytes)
	assert.False(t, cfg.MediaBlockPrivate)
	assert.Zero(t, cfg.HTTPTimeout)
	assert.Equal(t, "ffmpeg", cfg.FFmpegPath)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Empty(t, cfg.OpsPort)
	assert.Equal(t, 0.8, cfg.Thresholds["EXPOSED_BREAST_F"])
}

func TestFromEnvOverrides(t *testing.T) {
	clearEnv(t)
	labels := filepath.Join(t.TempDir(), "labels.yaml")
	require.NoError(t, os.WriteFile(labels, []byte("ONLY_THIS: 0.4\n"), 0o600))

	t.Setenv("REDIS_HOST", "cache.internal")
	t.Setenv("REDIS_PORT", "6380")
	t.Setenv("MODERATION_SECRET", "s3cret")
	t.Setenv("MEDIA_BLOCK_PRIVATE", "true")
	t.Setenv("HTTP_TIMEOUT", "30s")
	t.Setenv("UNSAFE_LABELS_FILE", labels)

	cfg, err := FromEnv()
	require.NoError(t, err)
	assert.Equal(t, "cache.internal", cfg.RedisHost)
	assert.Equal(t, 6380, cfg.RedisPort)
	assert.Equal(t, "s3cret", cfg.Secret)
	assert.True(t, cfg.MediaBlockPrivate)
	assert.Equal(t, 30*time.Second, cfg.HTTPTimeout)
	assert.Len(t, cfg.Thresholds, 1)
	assert.Equal(t, 0.4, cfg.Thresholds["ONLY_THIS"])
}

func TestFromEnvClaude(t *testing.T) {
	clearEnv(t)
	t.Setenv("DETECTOR", "claude")
	t.Setenv("AWS_ACCESS_KEY_ID", "AKIA")
	t.Setenv("BEDROCK_MODEL", "anthropic.claude-sonnet")

	cfg, err := FromEnv()
	require.NoError(t, err)
	assert.True(t, cfg.UseBedrock)
	assert.Equal(t, "anthropic.claude-sonnet", cfg.ClaudeModel)

	t.Setenv("ANTHROPIC_API_KEY", "sk-test")
	cfg, err = FromEnv()
	require.NoError(t, err)
	assert.False(t, cfg.UseBedrock)
}

func TestFromEnvBedrockDefaults(t *testing.T) {
	clearEnv(t)
	t.Setenv("DETECTOR", "claude")
	t.Setenv("AWS_PROFILE", "moderation")

	cfg, err := FromEnv()
	require.NoError(t, err)
	assert.True(t, cfg.UseBedrock)
	assert.Equal(t, "global.anthropic.claude-sonnet-4-5-20250929-v1:0", cfg.ClaudeModel)
	assert.Equal(t, "eu-west-1", cfg.AWSRegion)

	t.Setenv("AWS_REGION", "us-east-1")
	t.Setenv("CLAUDE_MODEL", "us.anthropic.claude-opus-4-1-20250805-v1:0")
	cfg, err = FromEnv()
	require.NoError(t, err)
	assert.Equal(t, "us-east-1", cfg.AWSRegion)
	assert.Equal(t, "us.anthropic.claude-opus-4-1-20250805-v1:0", cfg.ClaudeModel)
}

func TestFromEnvAPIKeyDefaultModel(t *testing.T) {
	clearEnv(t)
	t.Setenv("DETECTOR", "claude")
	t.Setenv("ANTHROPIC_API_KEY", "sk-test")
	t.Setenv("BEDROCK_MODEL", "global.anthropic.claude-sonnet-4-5-20250929-v1:0")

	cfg, err := FromEnv()
	require.NoError(t, err)
	assert.False(t, cfg.UseBedrock)
	assert.Equal(t, "claude-sonnet-4-5", cfg.ClaudeModel)
	assert.Empty(t, cfg.AWSRegion)
}

func TestFromEnvInvalid(t *testing.T) {
	tests := map[string]string{
		"REDIS_PORT":          "six",
		"MEDIA_MAX_BYTES":     "lots",
		"MEDIA_BLOCK_PRIVATE": "maybe",
		"HTTP_TIMEOUT":        "10",
		"DETECTOR":            "nudenet",
		"UNSAFE_LABELS_FILE":  "/nonexistent/labels.yaml",
	}
	for key, val := range tests {
		t.Run(key, func(t *testing.T) {
			clearEnv(t)
			t.Setenv(key, val)
			_, err := FromEnv()
			assert.Error(t, err)
		})
	}
}
