package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/hazyhaar/pagerelay/entity"
)

// httpAnalyzer POSTs the snapshot to the configured analysis endpoint
// and returns the response body uninterpreted.
type httpAnalyzer struct {
	url    string
	client *http.Client
	logger *slog.Logger
}

func newHTTPAnalyzer(url string, timeout time.Duration, logger *slog.Logger) *httpAnalyzer {
	return &httpAnalyzer{
		url:    url,
		client: &http.Client{Timeout: timeout},
		logger: logger,
	}
}

func (a *httpAnalyzer) Analyze(ctx context.Context, snap *entity.Snapshot) (json.RawMessage, error) {
	body, err := json.Marshal(snap)
	if err != nil {
		return nil, fmt.Errorf("analyzer: marshal: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("analyzer: new request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("analyzer: post: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("analyzer: read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("analyzer: status %d: %s", resp.StatusCode, data)
	}

	a.logger.Debug("analyzer: completed", "subject", snap.SubjectID, "bytes", len(data))
	return json.RawMessage(data), nil
}

// nullAnalyzer echoes the snapshot back when no analysis endpoint is
// configured, so the panel flow stays exercisable in development.
type nullAnalyzer struct{}

func (nullAnalyzer) Analyze(ctx context.Context, snap *entity.Snapshot) (json.RawMessage, error) {
	data, err := json.Marshal(map[string]any{"echo": snap})
	if err != nil {
		return nil, err
	}
	return json.RawMessage(data), nil
}
