package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/veil-waf/veil-moderator/internal/config"
	"github.com/veil-waf/veil-moderator/internal/detect"
	"github.com/veil-waf/veil-moderator/internal/frames"
	"github.com/veil-waf/veil-moderator/internal/handlers"
	"github.com/veil-waf/veil-moderator/internal/media"
	"github.com/veil-waf/veil-moderator/internal/moderation"
	"github.com/veil-waf/veil-moderator/internal/queue"
	"github.com/veil-waf/veil-moderator/internal/report"
	"github.com/veil-waf/veil-moderator/internal/server"
	"github.com/veil-waf/veil-moderator/internal/worker"
	"github.com/veil-waf/veil-moderator/internal/ws"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("invalid configuration", "err", err)
		os.Exit(1)
	}

	logger := server.SetupLogger(cfg.LogLevel)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.Secret == "" {
		logger.Warn("MODERATION_SECRET not set; backend will reject reports and ops endpoints are locked")
	}

	// Detector
	var detector detect.Detector
	switch cfg.Detector {
	case config.DetectorClaude:
		detector, err = detect.NewClaudeDetector(ctx, detect.ClaudeConfig{
			APIKey:     cfg.AnthropicAPIKey,
			Model:      cfg.ClaudeModel,
			UseBedrock: cfg.UseBedrock,
			Region:     cfg.AWSRegion,
			Labels:     cfg.Thresholds.Labels(),
		})
		if err != nil {
			logger.Error("failed to configure detector", "err", err)
			os.Exit(1)
		}
	default:
		detector = detect.NewHTTPDetector(cfg.DetectorURL, cfg.DetectorAPIKey, cfg.HTTPTimeout)
	}

	// Queue
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

	processor := moderation.NewProcessor(moderation.Config{
		Fetcher: media.NewFetcher(media.Options{
			MaxBytes:     cfg.MediaMaxBytes,
			Timeout:      cfg.HTTPTimeout,
			BlockPrivate: cfg.MediaBlockPrivate,
		}),
		Sampler:    frames.NewSampler(frames.NewFFmpeg(cfg.FFmpegPath, cfg.FFprobePath), logger),
		Detector:   detector,
		Reporter:   report.NewClient(cfg.BackendURL, cfg.Secret, cfg.HTTPTimeout),
		Thresholds: cfg.Thresholds,
		WorkDir:    cfg.WorkDir,
		Logger:     logger,
	})

	var (
		wsManager *ws.Manager
		loop      *worker.Loop
	)
	if cfg.OpsPort != "" {
		wsManager = ws.NewManager(func() map[string]any {
			return map[string]any{"type": "stats", "jobs": loop.Stats()}
		}, logger)
		loop = worker.NewLoop(q, processor, wsManager, logger)
	} else {
		loop = worker.NewLoop(q, processor, nil, logger)
	}

	logger.Info("moderation worker starting",
		"queue", q.Name(),
		"detector", cfg.Detector,
		"model", cfg.ClaudeModel,
		"backend", cfg.BackendURL,
		"labels", len(cfg.Thresholds),
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		server.RunWithRecovery(gctx, logger, "worker-loop", loop.Run)
		return nil
	})

	if cfg.OpsPort != "" {
		router := handlers.NewRouter(handlers.NewOpsHandler(loop, q, wsManager, logger), wsManager.HandleWS, cfg.Secret)
		srv := &http.Server{
			Addr:        ":" + cfg.OpsPort,
			Handler:     router,
			ReadTimeout: 15 * time.Second,
			IdleTimeout: 60 * time.Second,
		}
		g.Go(func() error {
			logger.Info("ops server starting", "port", cfg.OpsPort)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
	}

	if err := g.Wait(); err != nil {
		logger.Error("worker exited with error", "err", err)
		os.Exit(1)
	}
	logger.Info("worker stopped")
}
