package queue

import (
	"context"
	"io"
	"log/slog"
	"strconv"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupQueue(t *testing.T) (*Redis, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	q, err := Connect(Options{URL: "redis://" + mr.Addr()}, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)
	t.Cleanup(func() { q.Close() })
	return q, mr
}

func TestConnectDefaults(t *testing.T) {
	q, _ := setupQueue(t)
	assert.Equal(t, DefaultName, q.Name())
	require.NoError(t, q.Ping(context.Background()))
}

func TestConnectHostPort(t *testing.T) {
	mr := miniredis.RunT(t)
	q, err := Connect(Options{Host: mr.Host(), Port: mustPort(t, mr), Name: "jobs"},
		slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)
	defer q.Close()

	assert.Equal(t, "jobs", q.Name())
	require.NoError(t, q.Push(context.Background(), []byte(`{"a":1}`)))
	got, err := mr.List("jobs")
	require.NoError(t, err)
	assert.Equal(t, []string{`{"a":1}`}, got)
}

func mustPort(t *testing.T, mr *miniredis.Miniredis) int {
	t.Helper()
	port, err := strconv.Atoi(mr.Port())
	require.NoError(t, err)
	return port
}

func TestPushPopFIFO(t *testing.T) {
	q, _ := setupQueue(t)
	ctx := context.Background()

	require.NoError(t, q.Push(ctx, []byte("first")))
	require.NoError(t, q.Push(ctx, []byte("second")))

	n, err := q.Len(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	got, err := q.Pop(ctx, time.Second)
	require.NoError(t, err)
	assert.Equal(t, "first", string(got))

	got, err = q.Pop(ctx, time.Second)
	require.NoError(t, err)
	assert.Equal(t, "second", string(got))
}

func TestPopReadsBackendPushes(t *testing.T) {
	q, mr := setupQueue(t)

	// the backend pushes with RPUSH onto the shared list
	mr.RPush(DefaultName, `{"type":"image"}`)
	got, err := q.Pop(context.Background(), time.Second)
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"image"}`, string(got))
}

func TestPopEmpty(t *testing.T) {
	q, _ := setupQueue(t)

	_, err := q.Pop(context.Background(), time.Second)
	assert.ErrorIs(t, err, ErrEmpty)
}

func TestPopWakesOnPush(t *testing.T) {
	q, mr := setupQueue(t)

	go func() {
		time.Sleep(100 * time.Millisecond)
		mr.RPush(DefaultName, "late")
	}()

	got, err := q.Pop(context.Background(), 5*time.Second)
	require.NoError(t, err)
	assert.Equal(t, "late", string(got))
}

func TestPopConnectionError(t *testing.T) {
	q, mr := setupQueue(t)
	mr.Close()

	_, err := q.Pop(context.Background(), time.Second)
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrEmpty)
}
