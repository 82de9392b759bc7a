package llm

import (
	"context"
	"io"
	"strings"
	"time"
)

// RetryConfig bounds transient-error retries at the provider boundary.
type RetryConfig struct {
	MaxAttempts int
	BaseBackoff time.Duration
	MaxBackoff  time.Duration
}

func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts: 5,
		BaseBackoff: time.Second,
		MaxBackoff:  30 * time.Second,
	}
}

// RetryProvider retries rate-limited or transiently-failed provider calls
// with exponential backoff. Only the provider call is retried; tool
// execution failures are fed back to the model, never replayed. A stream
// that failed after emitting events is not retried either, since the
// consumer has already seen partial output.
type RetryProvider struct {
	inner Provider
	cfg   RetryConfig
}

func WrapWithRetry(p Provider, cfg RetryConfig) Provider {
	return &RetryProvider{inner: p, cfg: cfg}
}

func (r *RetryProvider) Name() string               { return r.inner.Name() }
func (r *RetryProvider) Capabilities() Capabilities { return r.inner.Capabilities() }

func (r *RetryProvider) Stream(ctx context.Context, req Request) (Stream, error) {
	return newEventStream(ctx, func(ctx context.Context, events chan<- Event) error {
		var lastErr error

		for attempt := 1; ; attempt++ {
			forwarded, err := r.attempt(ctx, req, events)
			if err == nil {
				return nil
			}
			if forwarded || !isRetryable(err) {
				return err
			}
			lastErr = err

			if attempt >= r.cfg.MaxAttempts {
				return lastErr
			}
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(r.backoff(attempt)):
			}
		}
	}), nil
}

// attempt runs one provider call, forwarding its events. It reports
// whether any event reached the consumer before the error.
func (r *RetryProvider) attempt(ctx context.Context, req Request, events chan<- Event) (bool, error) {
	stream, err := r.inner.Stream(ctx, req)
	if err != nil {
		return false, err
	}
	defer stream.Close()

	forwarded := false
	for {
		event, err := stream.Recv()
		if err == io.EOF {
			return forwarded, nil
		}
		if err != nil {
			return forwarded, err
		}
		if event.Type == EventError && event.Err != nil {
			return forwarded, event.Err
		}

		select {
		case events <- event:
			forwarded = true
		case <-ctx.Done():
			return forwarded, ctx.Err()
		}
	}
}

func (r *RetryProvider) backoff(attempt int) time.Duration {
	wait := r.cfg.BaseBackoff << (attempt - 1)
	if wait > r.cfg.MaxBackoff || wait <= 0 {
		wait = r.cfg.MaxBackoff
	}
	return wait
}

// isRetryable matches rate limiting, throttling (Bedrock wraps 429s in
// ThrottlingException), and transient upstream failures by message text,
// since each SDK wraps its HTTP errors differently.
func isRetryable(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, marker := range []string{
		"429", "rate limit", "too many requests", "throttl",
		"502", "bad gateway",
		"503", "service unavailable", "overloaded",
		"connection refused", "connection reset", "temporary failure",
	} {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}
