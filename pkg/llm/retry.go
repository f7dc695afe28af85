package llm

import (
	"context"
	"math"
	"math/rand/v2"
	"net/http"
	"strconv"
	"time"
)

// RetryConfig controls retries of transient HTTP failures.
type RetryConfig struct {
	MaxRetries        int
	InitialBackoff    time.Duration
	MaxBackoff        time.Duration
	BackoffFactor     float64
	JitterFraction    float64
	RetryableStatuses []int
}

// DefaultRetryConfig retries 429 and 5xx responses three times.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:        3,
		InitialBackoff:    time.Second,
		MaxBackoff:        20 * time.Second,
		BackoffFactor:     2,
		JitterFraction:    0.1,
		RetryableStatuses: []int{429, 500, 502, 503, 529},
	}
}

// doWithRetry sends requests built by makeRequest until one succeeds, fails
// with a non-retryable status, or the retries run out. Non-2xx responses
// that are not retried are returned for the caller to classify.
func doWithRetry(ctx context.Context, cfg RetryConfig, makeRequest func(ctx context.Context) (*http.Response, error)) (*http.Response, error) {
	var (
		lastStatus int
		lastErr    error
	)
	for attempt := 0; attempt <= cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			if err := sleep(ctx, cfg.backoff(attempt)); err != nil {
				return nil, err
			}
		}

		resp, err := makeRequest(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			lastStatus, lastErr = 0, err
			continue
		}
		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			return resp, nil
		}
		if !isRetryable(resp.StatusCode, cfg.RetryableStatuses) || attempt == cfg.MaxRetries {
			return resp, nil
		}
		lastStatus, lastErr = resp.StatusCode, nil
		wait := parseRetryAfter(resp.Header.Get("Retry-After"))
		resp.Body.Close()
		if wait > 0 {
			if err := sleep(ctx, min(wait, cfg.MaxBackoff)); err != nil {
				return nil, err
			}
		}
	}
	return nil, &MaxRetriesError{Attempts: cfg.MaxRetries + 1, LastStatus: lastStatus, Err: lastErr}
}

func (c RetryConfig) backoff(attempt int) time.Duration {
	d := float64(c.InitialBackoff) * math.Pow(c.BackoffFactor, float64(attempt-1))
	if c.MaxBackoff > 0 && d > float64(c.MaxBackoff) {
		d = float64(c.MaxBackoff)
	}
	return time.Duration(d + d*c.JitterFraction*rand.Float64())
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func isRetryable(status int, retryable []int) bool {
	for _, s := range retryable {
		if s == status {
			return true
		}
	}
	return false
}

// parseRetryAfter accepts delay-seconds and HTTP-date values.
func parseRetryAfter(v string) time.Duration {
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(v); err == nil {
		if d := time.Until(t); d > 0 {
			return d
		}
	}
	return 0
}
