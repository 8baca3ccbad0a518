package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/dsa110/taskq/pkg/logger"
	"github.com/dsa110/taskq/pkg/queue"
)

// WorkerInfoSource yields the snapshot to report. *queue.Worker satisfies it.
type WorkerInfoSource interface {
	Info() queue.WorkerInfo
}

// HeartbeatReporter posts worker snapshots to a taskq API server so idle
// workers stay visible to the monitor.
type HeartbeatReporter struct {
	baseURL  string
	source   WorkerInfoSource
	interval time.Duration
	client   *http.Client
	logger   *slog.Logger
}

// HeartbeatOption configures a HeartbeatReporter.
type HeartbeatOption func(*HeartbeatReporter)

func WithHTTPClient(c *http.Client) HeartbeatOption {
	return func(r *HeartbeatReporter) {
		if c != nil {
			r.client = c
		}
	}
}

func WithHeartbeatLogger(l *slog.Logger) HeartbeatOption {
	return func(r *HeartbeatReporter) {
		if l != nil {
			r.logger = l
		}
	}
}

// NewHeartbeatReporter reports source every interval to baseURL, the API
// root without the /api/v1 suffix.
func NewHeartbeatReporter(baseURL string, source WorkerInfoSource, interval time.Duration, opts ...HeartbeatOption) (*HeartbeatReporter, error) {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		return nil, ErrEmptyBaseURL
	}
	if _, err := url.Parse(baseURL); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEmptyBaseURL, err)
	}
	if source == nil {
		return nil, ErrNilSource
	}
	if interval <= 0 {
		interval = 10 * time.Second
	}

	r := &HeartbeatReporter{
		baseURL:  baseURL,
		source:   source,
		interval: interval,
		client:   &http.Client{Timeout: 5 * time.Second},
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.logger = r.logger.With(logger.Component("heartbeat"))
	return r, nil
}

// Report sends one snapshot.
func (r *HeartbeatReporter) Report(ctx context.Context) error {
	info := r.source.Info()
	body, err := json.Marshal(info)
	if err != nil {
		return err
	}

	endpoint := r.baseURL + "/api/v1/workers/" + url.PathEscape(info.ID) + "/heartbeat"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode >= http.StatusBadRequest {
		return fmt.Errorf("%w: %s", ErrUnexpectedCode, resp.Status)
	}
	return nil
}

// Run reports immediately and then every interval until ctx is cancelled.
// Failures are logged; a final report is sent on the way out so the server
// sees the stopped state.
func (r *HeartbeatReporter) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		if err := r.Report(ctx); err != nil && ctx.Err() == nil {
			r.logger.WarnContext(ctx, "worker heartbeat failed", logger.Error(err))
		}

		select {
		case <-ctx.Done():
			final, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
			_ = r.Report(final)
			cancel()
			return nil
		case <-ticker.C:
		}
	}
}
