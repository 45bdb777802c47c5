package detect

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"
)

const maxResponseLen = 4 << 20 // 4 MiB

// HTTPDetector calls a detector service exposing /detect and /detect_batch.
type HTTPDetector struct {
	baseURL string
	apiKey  string
	http    *http.Client
}

// NewHTTPDetector creates a client for the detector service at baseURL.
// apiKey is optional. A zero timeout means requests are not time-limited.
func NewHTTPDetector(baseURL, apiKey string, timeout time.Duration) *HTTPDetector {
	return &HTTPDetector{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		http:    &http.Client{Timeout: timeout},
	}
}

// Classify sends one image to POST /detect.
func (d *HTTPDetector) Classify(ctx context.Context, img Image) (Result, error) {
	data, err := d.post(ctx, "/detect", "file", []Image{img})
	if err != nil {
		return Result{}, err
	}
	return DecodeResult(data)
}

// ClassifyBatch sends all images in one POST /detect_batch.
func (d *HTTPDetector) ClassifyBatch(ctx context.Context, imgs []Image) (Result, error) {
	if len(imgs) == 0 {
		return PerVideoFrameResult([][]Record{}), nil
	}
	data, err := d.post(ctx, "/detect_batch", "files", imgs)
	if err != nil {
		return Result{}, err
	}
	res, err := DecodeBatch(data)
	if err != nil {
		return Result{}, err
	}
	if len(res.Frames) != len(imgs) {
		return Result{}, fmt.Errorf("detect: batch returned %d results for %d images", len(res.Frames), len(imgs))
	}
	return res, nil
}

func (d *HTTPDetector) post(ctx context.Context, path, field string, imgs []Image) ([]byte, error) {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	for i, img := range imgs {
		name := img.Name
		if name == "" {
			name = fmt.Sprintf("image-%d.jpg", i)
		}
		fw, err := mw.CreateFormFile(field, name)
		if err != nil {
			return nil, fmt.Errorf("detect: create form file: %w", err)
		}
		if _, err := fw.Write(img.Data); err != nil {
			return nil, fmt.Errorf("detect: write form file: %w", err)
		}
	}
	if err := mw.Close(); err != nil {
		return nil, fmt.Errorf("detect: close multipart: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.baseURL+path, &body)
	if err != nil {
		return nil, fmt.Errorf("detect: create request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	if d.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+d.apiKey)
	}

	resp, err := d.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("detect: request failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseLen))
	if err != nil {
		return nil, fmt.Errorf("detect: read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("%w %d: %s", ErrStatus, resp.StatusCode, truncate(string(data), 200))
	}
	return data, nil
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen]
}
