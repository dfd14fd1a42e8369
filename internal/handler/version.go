// Package handler holds the example request handler served by cmd/worker.
package handler

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/miladsoleymani/replymux/core"
	"github.com/miladsoleymani/replymux/internal/jsoncodec"
)

// Version answers requests with the downstream service version. With no
// base URL it returns {"value":1}.
type Version struct {
	BaseURL string
	Delay   time.Duration
	HTTP    *http.Client
}

func NewVersion(baseURL string, delay time.Duration, httpClient *http.Client) *Version {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	return &Version{
		BaseURL: strings.TrimRight(baseURL, "/"),
		Delay:   delay,
		HTTP:    httpClient,
	}
}

// Handle implements core.HandlerFunc.
func (v *Version) Handle(c core.Context) (any, error) {
	ctx := c.Context()

	if v.Delay > 0 {
		t := time.NewTimer(v.Delay)
		defer t.Stop()
		select {
		case <-t.C:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	if v.BaseURL == "" {
		return map[string]int{"value": 1}, nil
	}
	return v.fetch(ctx)
}

func (v *Version) fetch(ctx context.Context) (any, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, v.BaseURL+"/version", nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := v.HTTP.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	if resp.StatusCode/100 != 2 {
		return nil, fmt.Errorf("version endpoint returned %d: %s", resp.StatusCode, strings.TrimSpace(string(raw)))
	}

	var out any
	if err := jsoncodec.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("decode version: %w", err)
	}
	return out, nil
}
