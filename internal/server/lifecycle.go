package server

import (
	"context"
	"io"
	"log/slog"
	"math"
	"os"
	"runtime/debug"
	"strings"
	"time"
)

// maxBackoff caps the restart delay of RunWithRecovery.
const maxBackoff = 5 * time.Minute

// RunWithRecovery keeps fn running until ctx is cancelled. When fn panics or
// returns early it is restarted after Backoff(attempt). A run that stayed up
// longer than the backoff cap starts the count again.
func RunWithRecovery(ctx context.Context, logger *slog.Logger, name string, fn func(ctx context.Context)) {
	log := logger.With("name", name)
	for attempt := 0; ctx.Err() == nil; {
		started := time.Now()
		if p := runGuarded(ctx, fn); p != nil {
			log.Error("goroutine panicked", "panic", p.value, "stack", p.stack, "attempt", attempt)
		}
		if ctx.Err() != nil {
			break
		}

		if time.Since(started) > maxBackoff {
			attempt = 0
		}
		attempt++
		delay := Backoff(attempt)
		log.Warn("goroutine restarting", "attempt", attempt, "backoff", delay)
		if !sleep(ctx, delay) {
			break
		}
	}
	log.Info("goroutine stopped", "reason", context.Cause(ctx))
}

type recovered struct {
	value any
	stack string
}

// runGuarded calls fn and returns the recovered panic, if any.
func runGuarded(ctx context.Context, fn func(ctx context.Context)) (p *recovered) {
	defer func() {
		if r := recover(); r != nil {
			p = &recovered{value: r, stack: string(debug.Stack())}
		}
	}()
	fn(ctx)
	return nil
}

// sleep waits for d and reports false if ctx ended first.
func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

// Backoff returns the restart delay for the given attempt: 1s, 2s, 4s, ...
// capped at five minutes.
func Backoff(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	return time.Duration(math.Min(
		float64(time.Second)*math.Pow(2, float64(attempt-1)),
		float64(maxBackoff),
	))
}

// SetupLogger creates a structured slog.Logger with JSON output to stdout.
func SetupLogger(level string) *slog.Logger {
	return NewLogger(os.Stdout, level)
}

// NewLogger creates a JSON slog.Logger writing to w.
func NewLogger(w io.Writer, level string) *slog.Logger {
	var lvl slog.Level
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}

	handler := slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level: lvl,
	})
	return slog.New(handler)
}
