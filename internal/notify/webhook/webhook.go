// Package webhook implements the default notification sink: a JSON POST to a
// messaging endpoint speaking the X-RateLimit header protocol.
package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/restockd/restockd/internal/monitor"
	"github.com/restockd/restockd/internal/notify"
)

// Sink posts payloads to a webhook URL.
type Sink struct {
	url    string
	client *http.Client
}

// New creates a webhook Sink.
func New(url string, timeout time.Duration) (*Sink, error) {
	if url == "" {
		return nil, fmt.Errorf("webhook url is required")
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Sink{
		url:    url,
		client: &http.Client{Timeout: timeout},
	}, nil
}

// Deliver posts the payload. The returned DeliveryInfo always reflects the
// response's rate-limit headers, including on failure, so the dispatcher can
// honor the sink's quota.
func (s *Sink) Deliver(ctx context.Context, payload monitor.NotificationPayload) (notify.DeliveryInfo, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return notify.DeliveryInfo{Remaining: -1}, fmt.Errorf("marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(body))
	if err != nil {
		return notify.DeliveryInfo{Remaining: -1}, fmt.Errorf("build webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return notify.DeliveryInfo{Remaining: -1}, fmt.Errorf("post webhook: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	_, _ = io.Copy(io.Discard, resp.Body)

	info := parseInfo(resp)
	if info.RateLimited {
		return info, fmt.Errorf("webhook rate limited, reset in %s", info.ResetAfter)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return info, fmt.Errorf("webhook status %d", resp.StatusCode)
	}
	return info, nil
}

func parseInfo(resp *http.Response) notify.DeliveryInfo {
	info := notify.DeliveryInfo{
		StatusCode: resp.StatusCode,
		Remaining:  -1,
	}
	if v := resp.Header.Get("X-RateLimit-Remaining"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			info.Remaining = n
		}
	}
	if v := resp.Header.Get("X-RateLimit-Reset-After"); v != "" {
		if secs, err := strconv.ParseFloat(v, 64); err == nil && secs > 0 {
			info.ResetAfter = time.Duration(secs * float64(time.Second))
		}
	}
	if resp.StatusCode == http.StatusTooManyRequests {
		info.RateLimited = true
		info.Remaining = 0
		if v := resp.Header.Get("Retry-After"); v != "" {
			if secs, err := strconv.ParseFloat(v, 64); err == nil && secs > 0 {
				info.ResetAfter = time.Duration(secs * float64(time.Second))
			}
		}
		if info.ResetAfter <= 0 {
			info.ResetAfter = time.Second
		}
	}
	return info
}
