// Package config reads the worker's settings from the environment, after
// loading a .env file when one exists.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"

	"github.com/veil-waf/veil-moderator/internal/detect"
	"github.com/veil-waf/veil-moderator/internal/moderation"
	"github.com/veil-waf/veil-moderator/internal/queue"
)

// Detector backends.
const (
	DetectorHTTP   = "http"
	DetectorClaude = "claude"
)

// Config is the whole process configuration. It is built once at startup and
// passed to the components that need it.
type Config struct {
	RedisURL  string
	RedisHost string
	RedisPort int
	QueueName string

	BackendURL string
	Secret     string

	Detector       string
	DetectorURL    string
	DetectorAPIKey string

	AnthropicAPIKey string
	ClaudeModel     string
	UseBedrock      bool
	AWSRegion       string

	Thresholds moderation.Thresholds

	MediaMaxBytes     int64
	MediaBlockPrivate bool
	HTTPTimeout       time.Duration
	WorkDir           string
	FFmpegPath        string
	FFprobePath       string

	OpsPort  string
	LogLevel string
}

// Load reads .env (if present) and the environment.
func Load() (*Config, error) {
	_ = godotenv.Load()
	return FromEnv()
}

// FromEnv builds a Config from the current environment only.
func FromEnv() (*Config, error) {
	cfg := &Config{
		RedisURL:        os.Getenv("REDIS_URL"),
		RedisHost:       getenv("REDIS_HOST", "redis"),
		QueueName:       getenv("QUEUE_NAME", queue.DefaultName),
		BackendURL:      getenv("NODE_BACKEND_URL", "http://localhost:5002"),
		Secret:          os.Getenv("MODERATION_SECRET"),
		Detector:        getenv("DETECTOR", DetectorHTTP),
		DetectorURL:     getenv("DETECTOR_URL", "http://localhost:8000"),
		DetectorAPIKey:  os.Getenv("DETECTOR_API_KEY"),
		AnthropicAPIKey: os.Getenv("ANTHROPIC_API_KEY"),
		ClaudeModel:     os.Getenv("CLAUDE_MODEL"),
		WorkDir:         os.Getenv("WORK_DIR"),
		FFmpegPath:      getenv("FFMPEG_PATH", "ffmpeg"),
		FFprobePath:     getenv("FFPROBE_PATH", "ffprobe"),
		OpsPort:         os.Getenv("OPS_PORT"),
		LogLevel:        getenv("LOG_LEVEL", "info"),
	}

	var err error
	if cfg.RedisPort, err = intEnv("REDIS_PORT", 6379); err != nil {
		return nil, err
	}
	if cfg.MediaMaxBytes, err = int64Env("MEDIA_MAX_BYTES", 32<<20); err != nil {
		return nil, err
	}
	if cfg.MediaBlockPrivate, err = boolEnv("MEDIA_BLOCK_PRIVATE", false); err != nil {
		return nil, err
	}
	if cfg.HTTPTimeout, err = durationEnv("HTTP_TIMEOUT", 0); err != nil {
		return nil, err
	}

	switch cfg.Detector {
	case DetectorHTTP:
	case DetectorClaude:
		cfg.UseBedrock = cfg.AnthropicAPIKey == "" &&
			(os.Getenv("AWS_ACCESS_KEY_ID") != "" || os.Getenv("AWS_PROFILE") != "")
		if cfg.UseBedrock {
			// Bedrock addresses models by inference profile id, not API alias.
			cfg.ClaudeModel = getenv("CLAUDE_MODEL", getenv("BEDROCK_MODEL", detect.DefaultBedrockModel))
			cfg.AWSRegion = getenv("AWS_REGION", detect.DefaultBedrockRegion)
		} else {
			cfg.ClaudeModel = getenv("CLAUDE_MODEL", detect.DefaultClaudeModel)
		}
	default:
		return nil, fmt.Errorf("config: DETECTOR must be %q or %q, got %q", DetectorHTTP, DetectorClaude, cfg.Detector)
	}

	if path := os.Getenv("UNSAFE_LABELS_FILE"); path != "" {
		cfg.Thresholds, err = moderation.LoadThresholds(path)
	} else {
		cfg.Thresholds, err = moderation.DefaultThresholds()
	}
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}

	return cfg, nil
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func intEnv(key string, def int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("config: %s: %w", key, err)
	}
	return n, nil
}

func int64Env(key string, def int64) (int64, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("config: %s: %w", key, err)
	}
	return n, nil
}

func boolEnv(key string, def bool) (bool, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("config: %s: %w", key, err)
	}
	return b, nil
}

func durationEnv(key string, def time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("config: %s: %w", key, err)
	}
	return d, nil
}
