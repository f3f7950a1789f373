package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"math/rand/v2"
	"net/http"
	"time"
)

// retryPolicy bounds how often a provider request is re-sent.
type retryPolicy struct {
	maxRetries int
	baseDelay  time.Duration
}

var defaultRetryPolicy = retryPolicy{maxRetries: 3, baseDelay: time.Second}

// statusError is a non-2xx response from a provider endpoint.
type statusError struct {
	statusCode int
	body       string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("HTTP %d: %s", e.statusCode, e.body)
}

func (e *statusError) retryable() bool {
	return e.statusCode >= 500 || e.statusCode == http.StatusTooManyRequests
}

// backoff grows quadratically with jitter so parallel tool calls do not retry in lockstep.
func (p retryPolicy) backoff(attempt int) time.Duration {
	base := time.Duration(attempt*attempt) * p.baseDelay
	return base + time.Duration(rand.Int64N(int64(base/2+1)))
}

// do sends the request built by buildReq and retries on network
// failures, 5xx and 429. Any other non-2xx status is returned as *statusError
// without retry. On success the caller owns resp.Body.
func (p retryPolicy) do(ctx context.Context, client *http.Client, buildReq func() (*http.Request, error), logger *slog.Logger) (*http.Response, error) {
	var lastErr error

	for attempt := 0; attempt <= p.maxRetries; attempt++ {
		if attempt > 0 {
			wait := p.backoff(attempt)
			logger.Warn("retrying request", "attempt", attempt+1, "backoff", wait, "error", lastErr)
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(wait):
			}
		}

		req, err := buildReq()
		if err != nil {
			return nil, fmt.Errorf("build request: %w", err)
		}

		resp, err := client.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			lastErr = err
			continue
		}

		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			return resp, nil
		}

		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		resp.Body.Close()
		serr := &statusError{statusCode: resp.StatusCode, body: string(body)}
		if !serr.retryable() {
			return nil, serr
		}
		lastErr = serr
	}

	return nil, fmt.Errorf("request failed after %d retries: %w", p.maxRetries, lastErr)
}

// postJSON sends body as JSON to url, retrying per the policy, and decodes
// the 2xx response into out.
func (p retryPolicy) postJSON(ctx context.Context, client *http.Client, url, apiKey string, body, out any, logger *slog.Logger) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}
	resp, err := p.do(ctx, client, func() (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		if apiKey != "" {
			req.Header.Set("Authorization", "Bearer "+apiKey)
		}
		return req, nil
	}, logger)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
