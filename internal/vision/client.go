package vision

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/runnerr0/refyn/internal/config"
)

// Client calls a vision-analysis service over HTTP. The service accepts a
// JSON Request by POST and answers with JSON Descriptors.
type Client struct {
	endpoint string
	apiKey   string
	client   *http.Client
}

// NewClient creates a client for cfg.URL.
func NewClient(cfg config.VisionConfig) (*Client, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("vision url is not configured")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Client{
		endpoint: cfg.URL,
		apiKey:   cfg.APIKey,
		client:   &http.Client{Timeout: timeout},
	}, nil
}

// Analyze requests descriptors for req.
func (c *Client) Analyze(ctx context.Context, req Request) (Descriptors, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return Descriptors{}, fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return Descriptors{}, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return Descriptors{}, fmt.Errorf("vision request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return Descriptors{}, fmt.Errorf("vision service returned status %d: %s", resp.StatusCode, bytes.TrimSpace(msg))
	}

	var out Descriptors
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return Descriptors{}, fmt.Errorf("decode response: %w", err)
	}
	return out, nil
}
