// Package moderation decides whether a job's media violates policy and acts
// on the decision.
package moderation

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/google/uuid"

	"github.com/veil-waf/veil-moderator/internal/detect"
	"github.com/veil-waf/veil-moderator/internal/frames"
	"github.com/veil-waf/veil-moderator/internal/media"
	"github.com/veil-waf/veil-moderator/internal/report"
)

// Stage is a step of job processing.
type Stage string

const (
	StageFetching  Stage = "fetching"
	StageDetecting Stage = "detecting"
	StageReporting Stage = "reporting"
)

// Outcome is the terminal state of one job.
type Outcome string

const (
	OutcomeReported Outcome = "reported"
	OutcomeClean    Outcome = "clean"
	OutcomeSkipped  Outcome = "skipped"
	OutcomeFailed   Outcome = "failed"
)

// StageError records which stage a job failed in.
type StageError struct {
	Stage Stage
	Err   error
}

func (e *StageError) Error() string { return fmt.Sprintf("%s: %v", e.Stage, e.Err) }

func (e *StageError) Unwrap() error { return e.Err }

func stageErr(stage Stage, err error) error {
	return &StageError{Stage: stage, Err: err}
}

// Fetcher downloads media.
type Fetcher interface {
	Bytes(ctx context.Context, url string) ([]byte, error)
	ToFile(ctx context.Context, url, path string) (int64, error)
}

// FrameSampler decodes sampled frames of a video into a directory.
type FrameSampler interface {
	Sample(ctx context.Context, videoPath, dir string) ([]frames.Frame, error)
}

// Reporter delivers violation reports.
type Reporter interface {
	Send(ctx context.Context, r *report.Report) error
}

// Config wires a Processor.
type Config struct {
	Fetcher    Fetcher
	Sampler    FrameSampler
	Detector   detect.Detector
	Reporter   Reporter
	Thresholds Thresholds
	// WorkDir is where per-job temporary directories are created. Empty
	// means the OS temp dir.
	WorkDir string
	Logger  *slog.Logger
}

// Processor runs one job through fetch, detect, evaluate and report.
type Processor struct {
	fetcher    Fetcher
	sampler    FrameSampler
	detector   detect.Detector
	reporter   Reporter
	thresholds Thresholds
	workDir    string
	logger     *slog.Logger
}

// NewProcessor creates a processor.
func NewProcessor(cfg Config) *Processor {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Processor{
		fetcher:    cfg.Fetcher,
		sampler:    cfg.Sampler,
		detector:   cfg.Detector,
		reporter:   cfg.Reporter,
		thresholds: cfg.Thresholds,
		workDir:    cfg.WorkDir,
		logger:     logger,
	}
}

// Process handles one job and returns its outcome. A non-nil error is always
// a *StageError paired with OutcomeFailed; the caller decides how to log it.
func (p *Processor) Process(ctx context.Context, job *Job) (Outcome, error) {
	var (
		res detect.Result
		err error
	)
	switch job.Type {
	case TypeImage:
		res, err = p.detectImage(ctx, job)
	case TypeVideo:
		res, err = p.detectVideo(ctx, job)
	default:
		return OutcomeSkipped, nil
	}
	if err != nil {
		return OutcomeFailed, err
	}

	records := res.Records()
	if !p.thresholds.IsUnsafe(records) {
		return OutcomeClean, nil
	}

	p.logger.Info("unsafe content detected",
		"job_id", job.ID,
		"message_id", job.MessageID,
		"violations", p.thresholds.Violations(records),
	)
	if err := p.reporter.Send(ctx, &report.Report{JobData: job.Raw(), Violations: res}); err != nil {
		return OutcomeFailed, stageErr(StageReporting, err)
	}
	return OutcomeReported, nil
}

func (p *Processor) detectImage(ctx context.Context, job *Job) (detect.Result, error) {
	data, err := p.fetcher.Bytes(ctx, job.MediaURL)
	if err != nil {
		return detect.Result{}, stageErr(StageFetching, err)
	}

	res, err := p.detector.Classify(ctx, detect.Image{Name: "image.jpg", Data: data})
	if err != nil {
		return detect.Result{}, stageErr(StageDetecting, err)
	}
	return res, nil
}

// detectVideo keeps the whole video and every sampled frame inside one work
// directory that is removed before returning.
func (p *Processor) detectVideo(ctx context.Context, job *Job) (detect.Result, error) {
	dir, err := os.MkdirTemp(p.workDir, "moderation-"+uuid.NewString()+"-")
	if err != nil {
		return detect.Result{}, stageErr(StageFetching, fmt.Errorf("create work dir: %w", err))
	}
	defer func() {
		if rmErr := os.RemoveAll(dir); rmErr != nil {
			p.logger.Warn("failed to remove work dir", "dir", dir, "err", rmErr)
		}
	}()

	videoPath := filepath.Join(dir, "video.mp4")
	if _, err := p.fetcher.ToFile(ctx, media.VideoURL(job.MediaURL), videoPath); err != nil {
		return detect.Result{}, stageErr(StageFetching, err)
	}

	sampled, err := p.sampler.Sample(ctx, videoPath, dir)
	if err != nil {
		return detect.Result{}, stageErr(StageDetecting, err)
	}
	if len(sampled) == 0 {
		p.logger.Warn("no frames decoded from video", "job_id", job.ID)
		return detect.PerVideoFrameResult([][]detect.Record{}), nil
	}

	imgs := make([]detect.Image, 0, len(sampled))
	for _, f := range sampled {
		imgs = append(imgs, detect.Image{Name: filepath.Base(f.Path), Data: f.Data})
	}
	res, err := p.detector.ClassifyBatch(ctx, imgs)
	if err != nil {
		return detect.Result{}, stageErr(StageDetecting, err)
	}
	return res, nil
}
