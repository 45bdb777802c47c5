// Package media downloads the images and videos referenced by moderation jobs.
package media

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/veil-waf/veil-moderator/internal/netguard"
)

// VideoSeparator splits a video job's URL field from the secondary component
// the backend appends to it.
const VideoSeparator = "####"

var (
	// ErrStatus is wrapped by errors for non-2xx media responses.
	ErrStatus = errors.New("media: unexpected status")
	// ErrTooLarge is returned when an in-memory fetch exceeds its cap.
	ErrTooLarge = errors.New("media: body exceeds size limit")
)

// VideoURL returns the part of a video job's URL field before the separator.
func VideoURL(field string) string {
	u, _, _ := strings.Cut(field, VideoSeparator)
	return u
}

// Options configures a Fetcher.
type Options struct {
	// MaxBytes caps in-memory fetches. Zero means no cap.
	MaxBytes int64
	// Timeout bounds each request. Zero means no timeout.
	Timeout time.Duration
	// BlockPrivate refuses hosts resolving to private or internal ranges.
	BlockPrivate bool
}

// Fetcher performs streaming HTTP GETs.
type Fetcher struct {
	http     *http.Client
	maxBytes int64
}

// NewFetcher creates a fetcher with the given options.
func NewFetcher(opts Options) *Fetcher {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	if opts.BlockPrivate {
		transport.DialContext = guardedDial
	}
	return &Fetcher{
		http:     &http.Client{Timeout: opts.Timeout, Transport: transport},
		maxBytes: opts.MaxBytes,
	}
}

// Bytes downloads url into memory.
func (f *Fetcher) Bytes(ctx context.Context, url string) ([]byte, error) {
	body, err := f.open(ctx, url)
	if err != nil {
		return nil, err
	}
	defer body.Close()

	r := io.Reader(body)
	if f.maxBytes > 0 {
		r = io.LimitReader(body, f.maxBytes+1)
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("media: read body: %w", err)
	}
	if f.maxBytes > 0 && int64(len(data)) > f.maxBytes {
		return nil, fmt.Errorf("%w (%d bytes)", ErrTooLarge, f.maxBytes)
	}
	return data, nil
}

// ToFile streams url into a new file at path and returns the bytes written.
func (f *Fetcher) ToFile(ctx context.Context, url, path string) (int64, error) {
	body, err := f.open(ctx, url)
	if err != nil {
		return 0, err
	}
	defer body.Close()

	out, err := os.Create(path)
	if err != nil {
		return 0, fmt.Errorf("media: create file: %w", err)
	}
	n, err := io.Copy(out, body)
	if cerr := out.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return n, fmt.Errorf("media: write file: %w", err)
	}
	return n, nil
}

func (f *Fetcher) open(ctx context.Context, url string) (io.ReadCloser, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("media: create request: %w", err)
	}
	resp, err := f.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("media: get failed: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		// Drain body to allow connection reuse.
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 1<<16))
		resp.Body.Close()
		return nil, fmt.Errorf("%w %d for %s", ErrStatus, resp.StatusCode, url)
	}
	return resp.Body, nil
}

var guardDialer = &net.Dialer{Timeout: 10 * time.Second}

// guardedDial resolves the host and checks every address before connecting.
func guardedDial(ctx context.Context, network, addr string) (net.Conn, error) {
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return nil, fmt.Errorf("invalid address: %w", err)
	}

	if ip := net.ParseIP(host); ip != nil {
		if netguard.IsBlocked(ip) {
			return nil, fmt.Errorf("media host %s is a blocked private IP", addr)
		}
		return guardDialer.DialContext(ctx, network, addr)
	}

	ips, err := net.DefaultResolver.LookupIPAddr(ctx, host)
	if err != nil {
		return nil, fmt.Errorf("resolve %s: %w", host, err)
	}
	if len(ips) == 0 {
		return nil, fmt.Errorf("resolve %s: no addresses", host)
	}
	for _, ipAddr := range ips {
		if netguard.IsBlocked(ipAddr.IP) {
			return nil, fmt.Errorf("media host %s resolves to blocked private IP %s", addr, ipAddr.IP)
		}
	}
	return guardDialer.DialContext(ctx, network, net.JoinHostPort(ips[0].IP.String(), port))
}
