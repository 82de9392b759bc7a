package llm

import (
	"context"
	"fmt"
	"io"
	"sync"
)

// MockProvider is a scripted provider for tests and offline development.
// Responses are consumed in order, one per Stream call.
type MockProvider struct {
	name         string
	capabilities Capabilities

	mu        sync.Mutex
	responses [][]Event
	requests  []Request
}

func NewMockProvider(name string) *MockProvider {
	return &MockProvider{
		name:         name,
		capabilities: Capabilities{ToolCalls: true, Streaming: true},
	}
}

// WithCapabilities overrides the default capabilities.
func (p *MockProvider) WithCapabilities(caps Capabilities) *MockProvider {
	p.capabilities = caps
	return p
}

// AddTextResponse queues a plain text response.
func (p *MockProvider) AddTextResponse(text string) *MockProvider {
	return p.AddResponse(
		Event{Type: EventTextDelta, Text: text},
		Event{Type: EventUsage, Use: &Usage{InputTokens: 10, OutputTokens: 5}},
		Event{Type: EventDone},
	)
}

// AddToolCallResponse queues a response that requests the given tool calls.
func (p *MockProvider) AddToolCallResponse(calls ...ToolCall) *MockProvider {
	events := make([]Event, 0, len(calls)+1)
	for i := range calls {
		call := calls[i]
		events = append(events, Event{Type: EventToolCall, Tool: &call})
	}
	events = append(events, Event{Type: EventDone})
	return p.AddResponse(events...)
}

// AddResponse queues a raw event sequence.
func (p *MockProvider) AddResponse(events ...Event) *MockProvider {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.responses = append(p.responses, events)
	return p
}

// Requests returns the requests seen so far, in order.
func (p *MockProvider) Requests() []Request {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]Request(nil), p.requests...)
}

func (p *MockProvider) Name() string {
	return p.name
}

func (p *MockProvider) Capabilities() Capabilities {
	return p.capabilities
}

func (p *MockProvider) Stream(ctx context.Context, req Request) (Stream, error) {
	p.mu.Lock()
	p.requests = append(p.requests, req)
	if len(p.responses) == 0 {
		p.mu.Unlock()
		return nil, fmt.Errorf("mock provider %s: no scripted response left", p.name)
	}
	events := p.responses[0]
	p.responses = p.responses[1:]
	p.mu.Unlock()

	return &sliceStream{events: events}, nil
}

// sliceStream replays a fixed event slice.
type sliceStream struct {
	events []Event
	index  int
}

func (s *sliceStream) Recv() (Event, error) {
	if s.index >= len(s.events) {
		return Event{}, io.EOF
	}
	event := s.events[s.index]
	s.index++
	return event, nil
}

func (s *sliceStream) Close() error {
	return nil
}
