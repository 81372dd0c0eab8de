package entropy

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"
)

// OnlineConfig tunes the remote quantum-randomness fetcher.
type OnlineConfig struct {
	// URL is the endpoint serving uint8 random data.
	URL string

	// MaxChunk bounds the number of bytes requested per HTTP call.
	MaxChunk int

	// Timeout applies to each individual request.
	Timeout time.Duration

	// Delay is slept between chunked requests to respect rate limits.
	Delay time.Duration
}

// DefaultOnlineConfig points at the ANU QRNG JSON API with 1 KiB chunks.
func DefaultOnlineConfig() OnlineConfig {
	return OnlineConfig{
		URL:      "https://qrng.anu.edu.au/API/jsonI.php",
		MaxChunk: 1024,
		Timeout:  5 * time.Second,
		Delay:    50 * time.Millisecond,
	}
}

// Online retrieves bytes from a remote quantum-randomness web API in
// bounded chunks. Any network, timeout, or malformed-response error
// aborts the whole fetch; the chain then falls through.
type Online struct {
	cfg    OnlineConfig
	client *http.Client
}

// NewOnline creates a fetcher for the configured endpoint.
func NewOnline(cfg OnlineConfig) *Online {
	if cfg.URL == "" {
		cfg.URL = DefaultOnlineConfig().URL
	}
	if cfg.MaxChunk <= 0 {
		cfg.MaxChunk = DefaultOnlineConfig().MaxChunk
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultOnlineConfig().Timeout
	}

	return &Online{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
	}
}

// Name implements Source.
func (o *Online) Name() string { return "online" }

// Fetch implements Source. Requests are chunked at MaxChunk bytes with
// a short delay between chunks.
func (o *Online) Fetch(ctx context.Context, n int) ([]byte, error) {
	if n <= 0 {
		return []byte{}, nil
	}

	out := make([]byte, 0, n)

	for len(out) < n {
		ask := n - len(out)
		if ask > o.cfg.MaxChunk {
			ask = o.cfg.MaxChunk
		}

		chunk, err := o.fetchChunk(ctx, ask)
		if err != nil {
			return nil, err
		}

		out = append(out, chunk...)

		if len(out) < n && o.cfg.Delay > 0 {
			select {
			case <-ctx.Done():
				return nil, unavailable("online", "fetch cancelled", ctx.Err())
			case <-time.After(o.cfg.Delay):
			}
		}
	}

	return out[:n], nil
}

// response is the wire shape of the remote API. Anything else is a
// malformed-response failure.
type response struct {
	Data []int `json:"data"`
}

func (o *Online) fetchChunk(ctx context.Context, n int) ([]byte, error) {
	q := url.Values{}
	q.Set("length", fmt.Sprintf("%d", n))
	q.Set("type", "uint8")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, o.cfg.URL+"?"+q.Encode(), nil)
	if err != nil {
		return nil, unavailable("online", "build request", err)
	}

	resp, err := o.client.Do(req)
	if err != nil {
		return nil, unavailable("online", "request failed", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, unavailable("online", fmt.Sprintf("unexpected status %d", resp.StatusCode), nil)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, unavailable("online", "read body", err)
	}

	var r response
	if err := json.Unmarshal(body, &r); err != nil {
		return nil, malformed("online", "decode body", err)
	}
	if len(r.Data) == 0 {
		return nil, malformed("online", "response missing data array", nil)
	}

	chunk := make([]byte, 0, len(r.Data))
	for _, v := range r.Data {
		if v < 0 || v > 255 {
			return nil, malformed("online", fmt.Sprintf("byte value out of range: %d", v), nil)
		}
		chunk = append(chunk, byte(v))
	}

	return chunk, nil
}
