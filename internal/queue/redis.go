// Package queue is the Redis list the moderation jobs arrive on.
package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultName is the list key the backend pushes jobs onto.
const DefaultName = "moderation_jobs_raw"

// ErrEmpty is returned by Pop when no job arrived within the wait.
var ErrEmpty = errors.New("queue: empty")

// Options holds the connection target.
type Options struct {
	// URL is a redis:// URL; it takes precedence over Host and Port.
	URL  string
	Host string
	Port int
	Name string
}

// Redis pops and pushes JSON payloads on one list.
type Redis struct {
	client *redis.Client
	name   string
	logger *slog.Logger
}

// Connect opens a client for opts. The connection is established lazily.
func Connect(opts Options, logger *slog.Logger) (*Redis, error) {
	var ropts *redis.Options
	if strings.HasPrefix(opts.URL, "redis://") || strings.HasPrefix(opts.URL, "rediss://") {
		parsed, err := redis.ParseURL(opts.URL)
		if err != nil {
			return nil, fmt.Errorf("parse redis url: %w", err)
		}
		ropts = parsed
	} else {
		ropts = &redis.Options{Addr: fmt.Sprintf("%s:%d", opts.Host, opts.Port)}
	}
	// Pops block for up to the caller's wait; the socket must outlive it.
	ropts.ReadTimeout = -1

	name := opts.Name
	if name == "" {
		name = DefaultName
	}
	logger.Info("opening redis connection", "addr", ropts.Addr, "db", ropts.DB, "queue", name)
	return New(redis.NewClient(ropts), name, logger), nil
}

// New wraps an existing client.
func New(client *redis.Client, name string, logger *slog.Logger) *Redis {
	return &Redis{client: client, name: name, logger: logger}
}

// Name returns the list key.
func (q *Redis) Name() string { return q.name }

// Ping checks the connection.
func (q *Redis) Ping(ctx context.Context) error {
	return q.client.Ping(ctx).Err()
}

// Pop blocks up to wait for the next payload. It returns ErrEmpty when the
// wait elapses with nothing queued.
func (q *Redis) Pop(ctx context.Context, wait time.Duration) ([]byte, error) {
	res, err := q.client.BLPop(ctx, wait, q.name).Result()
	if errors.Is(err, redis.Nil) {
		return nil, ErrEmpty
	}
	if err != nil {
		return nil, fmt.Errorf("queue: blpop %s: %w", q.name, err)
	}
	// BLPOP replies [key, value]
	if len(res) != 2 {
		return nil, fmt.Errorf("queue: blpop %s: unexpected reply of %d elements", q.name, len(res))
	}
	return []byte(res[1]), nil
}

// Push appends a payload to the tail of the list.
func (q *Redis) Push(ctx context.Context, payload []byte) error {
	if err := q.client.RPush(ctx, q.name, payload).Err(); err != nil {
		return fmt.Errorf("queue: rpush %s: %w", q.name, err)
	}
	return nil
}

// Len returns the number of queued payloads.
func (q *Redis) Len(ctx context.Context) (int64, error) {
	n, err := q.client.LLen(ctx, q.name).Result()
	if err != nil {
		return 0, fmt.Errorf("queue: llen %s: %w", q.name, err)
	}
	return n, nil
}

// Close closes the underlying client.
func (q *Redis) Close() error {
	return q.client.Close()
}
