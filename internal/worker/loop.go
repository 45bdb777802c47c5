package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync/atomic"
	"time"

	"github.com/veil-waf/veil-moderator/internal/moderation"
	"github.com/veil-waf/veil-moderator/internal/queue"
)

const (
	defaultPopWait    = 5 * time.Second
	defaultErrorPause = time.Second
)

// Queue supplies raw job payloads.
type Queue interface {
	Pop(ctx context.Context, wait time.Duration) ([]byte, error)
}

// Processor handles one decoded job.
type Processor interface {
	Process(ctx context.Context, job *moderation.Job) (moderation.Outcome, error)
}

// Broadcaster receives an event per finished job. Implementations must not
// block.
type Broadcaster interface {
	Broadcast(data map[string]any)
}

// Stats counts job outcomes since start.
type Stats struct {
	Received  int64 `json:"received"`
	Reported  int64 `json:"reported"`
	Clean     int64 `json:"clean"`
	Skipped   int64 `json:"skipped"`
	Failed    int64 `json:"failed"`
	Malformed int64 `json:"malformed"`
}

// Loop pops jobs one at a time and runs them to completion before popping
// the next.
type Loop struct {
	queue     Queue
	processor Processor
	logger    *slog.Logger
	events    Broadcaster // nil when no live feed is configured

	popWait    time.Duration
	errorPause time.Duration

	running   atomic.Bool
	received  atomic.Int64
	reported  atomic.Int64
	clean     atomic.Int64
	skipped   atomic.Int64
	failed    atomic.Int64
	malformed atomic.Int64
}

// NewLoop creates a loop. events may be nil.
func NewLoop(q Queue, p Processor, events Broadcaster, logger *slog.Logger) *Loop {
	return &Loop{
		queue:      q,
		processor:  p,
		events:     events,
		logger:     logger,
		popWait:    defaultPopWait,
		errorPause: defaultErrorPause,
	}
}

// Run blocks until ctx is cancelled. A single job's failure never stops it.
func (l *Loop) Run(ctx context.Context) {
	l.running.Store(true)
	defer l.running.Store(false)

	l.logger.Info("worker loop started")
	for {
		if ctx.Err() != nil {
			l.logger.Info("worker loop stopped")
			return
		}

		payload, err := l.queue.Pop(ctx, l.popWait)
		switch {
		case err == nil:
			l.handle(ctx, payload)
		case errors.Is(err, queue.ErrEmpty):
		case ctx.Err() != nil:
		default:
			l.logger.Error("queue pop failed", "err", err)
			select {
			case <-ctx.Done():
			case <-time.After(l.errorPause):
			}
		}
	}
}

// Running reports whether Run is active.
func (l *Loop) Running() bool { return l.running.Load() }

// Stats returns a snapshot of the outcome counters.
func (l *Loop) Stats() Stats {
	return Stats{
		Received:  l.received.Load(),
		Reported:  l.reported.Load(),
		Clean:     l.clean.Load(),
		Skipped:   l.skipped.Load(),
		Failed:    l.failed.Load(),
		Malformed: l.malformed.Load(),
	}
}

func (l *Loop) handle(ctx context.Context, payload []byte) {
	l.received.Add(1)

	job, err := moderation.DecodeJob(payload)
	if err != nil {
		l.malformed.Add(1)
		l.logger.Error("malformed job payload", "err", err, "payload", truncate(string(payload), 200))
		l.broadcast(map[string]any{"type": "job", "outcome": "malformed", "error": err.Error()})
		return
	}

	start := time.Now()
	outcome, err := l.process(ctx, job)
	elapsed := time.Since(start)

	attrs := []any{
		"job_id", job.ID,
		"message_id", job.MessageID,
		"type", job.Type,
		"outcome", outcome,
		"duration_ms", elapsed.Milliseconds(),
	}
	switch outcome {
	case moderation.OutcomeReported:
		l.reported.Add(1)
		l.logger.Info("violation reported", attrs...)
	case moderation.OutcomeClean:
		l.clean.Add(1)
		l.logger.Info("message clean", attrs...)
	case moderation.OutcomeSkipped:
		l.skipped.Add(1)
		l.logger.Warn("unsupported job type, skipped", attrs...)
	default:
		l.failed.Add(1)
		var se *moderation.StageError
		if errors.As(err, &se) {
			attrs = append(attrs, "stage", se.Stage)
		}
		l.logger.Error("job failed", append(attrs, "err", err)...)
	}

	event := map[string]any{
		"type":        "job",
		"job_id":      job.ID,
		"message_id":  job.MessageID,
		"media_type":  job.Type,
		"outcome":     string(outcome),
		"duration_ms": elapsed.Milliseconds(),
	}
	if err != nil {
		event["error"] = err.Error()
	}
	l.broadcast(event)
}

// process runs the processor and turns a panic into a failed outcome.
func (l *Loop) process(ctx context.Context, job *moderation.Job) (outcome moderation.Outcome, err error) {
	defer func() {
		if r := recover(); r != nil {
			l.logger.Error("job processing panicked",
				"job_id", job.ID,
				"panic", r,
				"stack", string(debug.Stack()),
			)
			outcome = moderation.OutcomeFailed
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return l.processor.Process(ctx, job)
}

func (l *Loop) broadcast(data map[string]any) {
	if l.events != nil {
		l.events.Broadcast(data)
	}
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen]
}
