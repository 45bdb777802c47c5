// Package frames picks a small, evenly spaced set of frames out of a video
// and decodes them to JPEG files for classification.
package frames

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/google/uuid"
)

// SampleSize is the maximum number of frames taken from one video.
const SampleSize = 5

// Decoder reads frame counts and single frames out of a video file.
type Decoder interface {
	FrameCount(ctx context.Context, videoPath string) (int, error)
	DecodeFrame(ctx context.Context, videoPath string, index int, outPath string) error
}

// Frame is one decoded sample.
type Frame struct {
	Index int
	Path  string
	Data  []byte
}

// SampleIndices returns up to k frame indices, starting at 0 and spaced by
// max(n/k, 1). Every index is below n.
func SampleIndices(n, k int) []int {
	if n <= 0 || k <= 0 {
		return []int{}
	}
	step := max(n/k, 1)
	out := make([]int, 0, k)
	for i := 0; i < n && len(out) < k; i += step {
		out = append(out, i)
	}
	return out
}

// Sampler extracts SampleSize frames from a video with a Decoder.
type Sampler struct {
	decoder Decoder
	logger  *slog.Logger
}

// NewSampler creates a sampler backed by decoder.
func NewSampler(decoder Decoder, logger *slog.Logger) *Sampler {
	return &Sampler{decoder: decoder, logger: logger}
}

// Sample decodes the sampled frames of videoPath into dir. Frames that fail
// to decode are skipped; the caller owns dir and removes it.
func (s *Sampler) Sample(ctx context.Context, videoPath, dir string) ([]Frame, error) {
	n, err := s.decoder.FrameCount(ctx, videoPath)
	if err != nil {
		return nil, fmt.Errorf("frames: count: %w", err)
	}

	indices := SampleIndices(n, SampleSize)
	out := make([]Frame, 0, len(indices))
	for _, idx := range indices {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		path := filepath.Join(dir, fmt.Sprintf("frame-%d-%s.jpg", idx, uuid.NewString()))
		if err := s.decoder.DecodeFrame(ctx, videoPath, idx, path); err != nil {
			s.logger.Debug("frame decode failed, skipping", "index", idx, "err", err)
			continue
		}
		data, err := os.ReadFile(path)
		if err != nil || len(data) == 0 {
			s.logger.Debug("frame unreadable, skipping", "index", idx, "err", err)
			continue
		}
		out = append(out, Frame{Index: idx, Path: path, Data: data})
	}

	s.logger.Debug("frames sampled", "frame_count", n, "attempted", len(indices), "decoded", len(out))
	return out, nil
}
