// Command enqueue pushes one moderation job onto the worker's queue. It is an
// operator tool for replaying a message or smoke-testing a deployment.
//
//	enqueue -type image -url https://cdn.example/p.jpg -message 42 -set chat_id=9
//	echo '{"type":"video","url_media":"...","message_id":7}' | enqueue -raw
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/veil-waf/veil-moderator/internal/config"
	"github.com/veil-waf/veil-moderator/internal/moderation"
	"github.com/veil-waf/veil-moderator/internal/queue"
	"github.com/veil-waf/veil-moderator/internal/server"
)

func main() {
	var (
		jobType   = flag.String("type", moderation.TypeImage, "job type: image or video")
		mediaURL  = flag.String("url", "", "media URL")
		messageID = flag.String("message", "", "message id the media belongs to")
		jobID     = flag.String("id", "", "job id (default: random UUID)")
		raw       = flag.Bool("raw", false, "read the job JSON from stdin instead of flags")
		extra     = fields{}
	)
	flag.Var(extra, "set", "extra job field as key=value, repeatable; JSON values are kept typed")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, "invalid configuration:", err)
		os.Exit(1)
	}
	logger := server.SetupLogger(cfg.LogLevel)

	payload, err := buildPayload(*raw, *jobID, *jobType, *mediaURL, *messageID, extra)
	if err != nil {
		logger.Error("invalid job", "err", err)
		os.Exit(2)
	}

	q, err := queue.Connect(queue.Options{
		URL:  cfg.RedisURL,
		Host: cfg.RedisHost,
		Port: cfg.RedisPort,
		Name: cfg.QueueName,
	}, logger)
	if err != nil {
		logger.Error("failed to configure queue", "err", err)
		os.Exit(1)
	}
	defer q.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := q.Push(ctx, payload); err != nil {
		logger.Error("enqueue failed", "err", err)
		os.Exit(1)
	}
	logger.Info("job enqueued", "queue", q.Name(), "bytes", len(payload))
}

func buildPayload(raw bool, id, typ, mediaURL, messageID string, extra fields) ([]byte, error) {
	if raw {
		data, err := io.ReadAll(os.Stdin)
		if err != nil {
			return nil, fmt.Errorf("read stdin: %w", err)
		}
		// validate before it reaches the worker
		if _, err := moderation.DecodeJob(data); err != nil {
			return nil, err
		}
		return data, nil
	}

	if mediaURL == "" {
		return nil, fmt.Errorf("-url is required")
	}
	if id == "" {
		id = uuid.NewString()
	}
	job, err := moderation.NewJob(id, typ, mediaURL, messageID, extra)
	if err != nil {
		return nil, err
	}
	return job.MarshalJSON()
}

// fields collects -set key=value flags. A value that parses as JSON keeps its
// type, anything else is a string.
type fields map[string]any

func (f fields) String() string {
	return fmt.Sprint(map[string]any(f))
}

func (f fields) Set(kv string) error {
	key, val, ok := strings.Cut(kv, "=")
	if !ok || key == "" {
		return fmt.Errorf("want key=value, got %q", kv)
	}
	var v any
	if err := json.Unmarshal([]byte(val), &v); err != nil {
		v = val
	}
	f[key] = v
	return nil
}
