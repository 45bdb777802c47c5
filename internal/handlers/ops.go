package handlers

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/veil-waf/veil-moderator/internal/auth"
	"github.com/veil-waf/veil-moderator/internal/worker"
)

// LoopStatus is the part of the worker loop the ops surface reads.
type LoopStatus interface {
	Running() bool
	Stats() worker.Stats
}

// QueueStatus reports the backlog of the work queue.
type QueueStatus interface {
	Name() string
	Len(ctx context.Context) (int64, error)
}

// FeedStatus describes the live outcome feed.
type FeedStatus interface {
	ConnectionCount() int
	Dropped() int64
}

// OpsHandler serves liveness and counters for the worker.
type OpsHandler struct {
	loop   LoopStatus
	queue  QueueStatus
	feed   FeedStatus
	logger *slog.Logger
}

// NewOpsHandler creates the handler. q and feed may be nil.
func NewOpsHandler(loop LoopStatus, q QueueStatus, feed FeedStatus, logger *slog.Logger) *OpsHandler {
	return &OpsHandler{loop: loop, queue: q, feed: feed, logger: logger}
}

// Ping handles GET /ping
func (h *OpsHandler) Ping(w http.ResponseWriter, _ *http.Request) {
	w.Write([]byte("pong"))
}

// GetStats handles GET /stats
func (h *OpsHandler) GetStats(w http.ResponseWriter, r *http.Request) {
	resp := map[string]any{
		"running": h.loop.Running(),
		"jobs":    h.loop.Stats(),
	}
	if h.queue != nil {
		resp["queue"] = h.queue.Name()
		n, err := h.queue.Len(r.Context())
		if err != nil {
			h.logger.Warn("queue length unavailable", "err", err)
			resp["queue_length"] = nil
		} else {
			resp["queue_length"] = n
		}
	}
	if h.feed != nil {
		resp["ws_clients"] = h.feed.ConnectionCount()
		resp["ws_dropped"] = h.feed.Dropped()
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

// NewRouter builds the ops router. /stats and /ws require the shared secret.
func NewRouter(ops *OpsHandler, wsHandler http.HandlerFunc, secret string) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)

	r.Get("/ping", ops.Ping)

	r.Group(func(api chi.Router) {
		api.Use(auth.RequireBearer(secret))
		api.Get("/stats", ops.GetStats)
		if wsHandler != nil {
			api.Get("/ws", wsHandler)
		}
	})
	return r
}
