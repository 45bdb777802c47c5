package frames

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"
)

// FFmpeg decodes frames by shelling out to ffprobe and ffmpeg.
type FFmpeg struct {
	FFmpegPath  string
	FFprobePath string
}

// NewFFmpeg returns a decoder using the given binaries, defaulting to the
// names on PATH.
func NewFFmpeg(ffmpegPath, ffprobePath string) *FFmpeg {
	if ffmpegPath == "" {
		ffmpegPath = "ffmpeg"
	}
	if ffprobePath == "" {
		ffprobePath = "ffprobe"
	}
	return &FFmpeg{FFmpegPath: ffmpegPath, FFprobePath: ffprobePath}
}

// FrameCount reads the container's frame count, counting packets when the
// container does not record it.
func (f *FFmpeg) FrameCount(ctx context.Context, videoPath string) (int, error) {
	out, err := exec.CommandContext(ctx, f.FFprobePath,
		"-v", "error",
		"-select_streams", "v:0",
		"-show_entries", "stream=nb_frames",
		"-of", "csv=p=0",
		videoPath,
	).Output()
	if err != nil {
		return 0, fmt.Errorf("ffprobe failed: %w", err)
	}
	if n, err := parseCount(out); err == nil {
		return n, nil
	}

	out, err = exec.CommandContext(ctx, f.FFprobePath,
		"-v", "error",
		"-select_streams", "v:0",
		"-count_packets",
		"-show_entries", "stream=nb_read_packets",
		"-of", "csv=p=0",
		videoPath,
	).Output()
	if err != nil {
		return 0, fmt.Errorf("ffprobe packet count failed: %w", err)
	}
	n, err := parseCount(out)
	if err != nil {
		return 0, fmt.Errorf("failed to parse frame count: %w", err)
	}
	return n, nil
}

// DecodeFrame writes frame index of videoPath to outPath as a JPEG.
func (f *FFmpeg) DecodeFrame(ctx context.Context, videoPath string, index int, outPath string) error {
	cmd := exec.CommandContext(ctx, f.FFmpegPath,
		"-v", "error",
		"-i", videoPath,
		"-vf", fmt.Sprintf(`select=eq(n\,%d)`, index),
		"-vsync", "vfr",
		"-frames:v", "1",
		"-y",
		outPath,
	)
	output, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("ffmpeg decode failed: %w\nOutput: %s", err, string(output))
	}
	info, err := os.Stat(outPath)
	if err != nil {
		return fmt.Errorf("ffmpeg produced no frame %d: %w", index, err)
	}
	if info.Size() == 0 {
		return fmt.Errorf("ffmpeg produced an empty frame %d", index)
	}
	return nil
}

func parseCount(out []byte) (int, error) {
	s := strings.TrimSpace(string(out))
	// multi-line output when the stream repeats; first line is enough
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = strings.TrimSpace(s[:i])
	}
	s = strings.TrimSuffix(s, ",")
	return strconv.Atoi(s)
}
