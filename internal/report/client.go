// Package report delivers violation reports to the chat backend, which
// removes the offending message.
package report

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/veil-waf/veil-moderator/internal/detect"
)

const (
	removePath     = "/moderation/remove_message"
	maxResponseLen = 1 << 20 // 1 MiB
)

// ErrStatus is wrapped by errors for non-2xx backend responses.
var ErrStatus = errors.New("report: unexpected status")

// Report is the payload of POST /moderation/remove_message.
type Report struct {
	JobData    json.RawMessage `json:"job_data"`
	Violations detect.Result   `json:"violations"`
}

// Client posts reports to the backend.
type Client struct {
	baseURL string
	secret  string
	http    *http.Client
}

// NewClient creates a backend client. A zero timeout means requests are not
// time-limited.
func NewClient(baseURL, secret string, timeout time.Duration) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		secret:  secret,
		http:    &http.Client{Timeout: timeout},
	}
}

// Send delivers one report synchronously.
func (c *Client) Send(ctx context.Context, r *Report) error {
	body, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("report: marshal: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+removePath, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("report: create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.secret)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("report: request failed: %w", err)
	}
	defer resp.Body.Close()

	data, _ := io.ReadAll(io.LimitReader(resp.Body, maxResponseLen))
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("%w %d: %s", ErrStatus, resp.StatusCode, strings.TrimSpace(string(data)))
	}
	return nil
}
