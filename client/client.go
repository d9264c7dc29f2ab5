// Package client talks to a detector running in HTTP mode.
package client

import (
	"context"
	"fmt"
	"time"

	"github.com/Angelo-oinv/imx415-detector/models"

	"github.com/go-resty/resty/v2"
	"github.com/google/uuid"
)

const defaultTimeout = 30 * time.Second

type Client struct {
	http    *resty.Client
	baseURL string
}

// New builds a client for the detector at baseURL, for example
// "http://127.0.0.1:8080".
func New(baseURL string) *Client {
	return &Client{
		http:    resty.New().SetTimeout(defaultTimeout),
		baseURL: baseURL,
	}
}

// SetTimeout overrides the per-request timeout.
func (c *Client) SetTimeout(d time.Duration) *Client {
	c.http.SetTimeout(d)
	return c
}

// Detect submits one encoded image and returns the detection record. A
// per-frame failure comes back as a record with Error set, not as a Go
// error; Go errors mean the request itself did not go through.
func (c *Client) Detect(ctx context.Context, image []byte) (*models.Result, error) {
	var record models.Result
	resp, err := c.http.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/octet-stream").
		SetHeader("X-Request-ID", uuid.NewString()).
		SetBody(image).
		SetResult(&record).
		SetError(&record).
		Post(c.baseURL + "/detect")
	if err != nil {
		return nil, fmt.Errorf("detect request: %w", err)
	}
	if resp.IsError() && record.Error == "" {
		return nil, fmt.Errorf("detect failed: %s: %s", resp.Status(), resp.String())
	}
	return &record, nil
}

// Healthz reports whether the detector answers its health endpoint.
func (c *Client) Healthz(ctx context.Context) error {
	resp, err := c.http.R().SetContext(ctx).Get(c.baseURL + "/healthz")
	if err != nil {
		return fmt.Errorf("healthz request: %w", err)
	}
	if resp.IsError() {
		return fmt.Errorf("healthz: %s", resp.Status())
	}
	return nil
}

// PoolMetrics fetches the engine pool counters.
func (c *Client) PoolMetrics(ctx context.Context) (map[string]interface{}, error) {
	var out map[string]interface{}
	resp, err := c.http.R().SetContext(ctx).SetResult(&out).Get(c.baseURL + "/metrics")
	if err != nil {
		return nil, fmt.Errorf("metrics request: %w", err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("metrics: %s", resp.Status())
	}
	return out, nil
}
