package llm

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

// flakyProvider fails a fixed number of times before delegating.
type flakyProvider struct {
	inner    Provider
	failures int
	err      error

	mu    sync.Mutex
	tries int
}

func (p *flakyProvider) Name() string { return p.inner.Name() }

func (p *flakyProvider) Capabilities() Capabilities { return p.inner.Capabilities() }

func (p *flakyProvider) Stream(ctx context.Context, req Request) (Stream, error) {
	p.mu.Lock()
	p.tries++
	fail := p.tries <= p.failures
	p.mu.Unlock()
	if fail {
		return nil, p.err
	}
	return p.inner.Stream(ctx, req)
}

func TestRetryProviderRecoversFromRateLimit(t *testing.T) {
	inner := NewMockProvider("mock").AddTextResponse("recovered")
	flaky := &flakyProvider{inner: inner, failures: 2, err: errors.New("429 too many requests")}

	provider := WrapWithRetry(flaky, RetryConfig{
		MaxAttempts: 3,
		BaseBackoff: time.Millisecond,
		MaxBackoff:  5 * time.Millisecond,
	})

	stream, err := provider.Stream(context.Background(), Request{Messages: []Message{UserText("hi")}})
	if err != nil {
		t.Fatalf("Stream() error: %v", err)
	}
	text, err := CollectText(stream)
	if err != nil {
		t.Fatalf("CollectText() error: %v", err)
	}
	if text != "recovered" {
		t.Errorf("text = %q, want %q", text, "recovered")
	}
	if flaky.tries != 3 {
		t.Errorf("provider tried %d times, want 3", flaky.tries)
	}
}

func TestRetryProviderStopsOnPermanentError(t *testing.T) {
	flaky := &flakyProvider{
		inner:    NewMockProvider("mock"),
		failures: 10,
		err:      errors.New("401 unauthorized"),
	}
	provider := WrapWithRetry(flaky, RetryConfig{
		MaxAttempts: 3,
		BaseBackoff: time.Millisecond,
		MaxBackoff:  5 * time.Millisecond,
	})

	stream, err := provider.Stream(context.Background(), Request{Messages: []Message{UserText("hi")}})
	if err != nil {
		t.Fatalf("Stream() error: %v", err)
	}
	if _, err := CollectText(stream); err == nil {
		t.Fatalf("expected permanent error to surface")
	}
	if flaky.tries != 1 {
		t.Errorf("permanent error retried: %d tries, want 1", flaky.tries)
	}
}

// partialProvider emits output and then fails mid-stream.
type partialProvider struct {
	mu    sync.Mutex
	tries int
}

func (p *partialProvider) Name() string               { return "partial" }
func (p *partialProvider) Capabilities() Capabilities { return Capabilities{Streaming: true} }

func (p *partialProvider) Stream(ctx context.Context, req Request) (Stream, error) {
	p.mu.Lock()
	p.tries++
	p.mu.Unlock()
	return &sliceStream{events: []Event{
		{Type: EventTextDelta, Text: "partial answer"},
		{Type: EventError, Err: errors.New("503 service unavailable")},
	}}, nil
}

func TestRetryProviderDoesNotReplayAfterPartialOutput(t *testing.T) {
	inner := &partialProvider{}
	provider := WrapWithRetry(inner, RetryConfig{
		MaxAttempts: 3,
		BaseBackoff: time.Millisecond,
		MaxBackoff:  5 * time.Millisecond,
	})

	stream, err := provider.Stream(context.Background(), Request{Messages: []Message{UserText("hi")}})
	if err != nil {
		t.Fatalf("Stream() error: %v", err)
	}
	if _, err := CollectText(stream); err == nil {
		t.Fatal("expected mid-stream error to surface")
	}
	if inner.tries != 1 {
		t.Errorf("partial stream retried: %d tries, want 1", inner.tries)
	}
}

func TestIsRetryable(t *testing.T) {
	tests := []struct {
		err  error
		want bool
	}{
		{errors.New("429 Too Many Requests"), true},
		{errors.New("rate limit exceeded"), true},
		{errors.New("503 service unavailable"), true},
		{errors.New("overloaded_error"), true},
		{errors.New("connection refused"), true},
		{errors.New("401 unauthorized"), false},
		{errors.New("invalid request"), false},
		{nil, false},
	}
	for _, tt := range tests {
		if got := isRetryable(tt.err); got != tt.want {
			t.Errorf("isRetryable(%v) = %v, want %v", tt.err, got, tt.want)
		}
	}
}
