package worker

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/veil-waf/veil-moderator/internal/moderation"
	"github.com/veil-waf/veil-moderator/internal/queue"
)

// sliceQueue hands out payloads in order, then reports empty. It cancels the
// test context once drained so Run returns.
type sliceQueue struct {
	mu       sync.Mutex
	payloads [][]byte
	errs     []error
	drained  func()
}

func (q *sliceQueue) Pop(ctx context.Context, _ time.Duration) ([]byte, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.errs) > 0 {
		err := q.errs[0]
		q.errs = q.errs[1:]
		return nil, err
	}
	if len(q.payloads) == 0 {
		if q.drained != nil {
			q.drained()
		}
		return nil, queue.ErrEmpty
	}
	p := q.payloads[0]
	q.payloads = q.payloads[1:]
	return p, nil
}

// scriptedProcessor picks an outcome from the job's message_id.
type scriptedProcessor struct {
	seen []string
}

func (p *scriptedProcessor) Process(_ context.Context, job *moderation.Job) (moderation.Outcome, error) {
	p.seen = append(p.seen, job.MessageID)
	switch job.MessageID {
	case "unsafe":
		return moderation.OutcomeReported, nil
	case "broken":
		return moderation.OutcomeFailed, &moderation.StageError{
			Stage: moderation.StageDetecting,
			Err:   errors.New("detector unavailable"),
		}
	case "panic":
		panic("nil frame")
	case "other":
		return moderation.OutcomeSkipped, nil
	default:
		return moderation.OutcomeClean, nil
	}
}

type recordingBroadcaster struct {
	mu     sync.Mutex
	events []map[string]any
}

func (b *recordingBroadcaster) Broadcast(data map[string]any) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = append(b.events, data)
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func runUntilDrained(t *testing.T, l *Loop, q *sliceQueue) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	q.drained = cancel

	done := make(chan struct{})
	go func() {
		l.Run(ctx)
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		cancel()
		t.Fatal("loop did not stop")
	}
}

func TestLoopSurvivesBadJobs(t *testing.T) {
	q := &sliceQueue{payloads: [][]byte{
		[]byte(`this is not json`),
		[]byte(`{"type":"image","url_media":"u","message_id":"broken"}`),
		[]byte(`{"type":"image","url_media":"u","message_id":"panic"}`),
		[]byte(`{"type":"image","url_media":"u","message_id":"unsafe"}`),
		[]byte(`{"type":"video","url_media":"v","message_id":"fine"}`),
		[]byte(`{"type":"gif","url_media":"g","message_id":"other"}`),
	}}
	proc := &scriptedProcessor{}
	events := &recordingBroadcaster{}
	l := NewLoop(q, proc, events, discardLogger())

	runUntilDrained(t, l, q)

	assert.Equal(t, []string{"broken", "panic", "unsafe", "fine", "other"}, proc.seen)
	assert.Equal(t, Stats{
		Received:  6,
		Reported:  1,
		Clean:     1,
		Skipped:   1,
		Failed:    2,
		Malformed: 1,
	}, l.Stats())
	assert.False(t, l.Running())

	require.Len(t, events.events, 6)
	assert.Equal(t, "malformed", events.events[0]["outcome"])
	assert.Equal(t, "failed", events.events[1]["outcome"])
	assert.Contains(t, events.events[1]["error"], "detector unavailable")
	assert.Contains(t, events.events[2]["error"], "panic: nil frame")
	assert.Equal(t, "reported", events.events[3]["outcome"])
	assert.Equal(t, "unsafe", events.events[3]["message_id"])
}

func TestLoopRetriesAfterQueueError(t *testing.T) {
	q := &sliceQueue{
		errs:     []error{errors.New("connection refused")},
		payloads: [][]byte{[]byte(`{"type":"image","message_id":"fine"}`)},
	}
	proc := &scriptedProcessor{}
	l := NewLoop(q, proc, nil, discardLogger())
	l.errorPause = 10 * time.Millisecond

	runUntilDrained(t, l, q)

	assert.Equal(t, []string{"fine"}, proc.seen)
	assert.Equal(t, int64(1), l.Stats().Clean)
}

func TestLoopStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	l := NewLoop(&sliceQueue{}, &scriptedProcessor{}, nil, discardLogger())

	done := make(chan struct{})
	go func() {
		l.Run(ctx)
		close(done)
	}()

	require.Eventually(t, l.Running, time.Second, 5*time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("loop did not stop after cancel")
	}
	assert.False(t, l.Running())
}
