package llm

import (
	"context"
	"io"
	"sync"
)

// eventStream adapts a producer function to the Stream interface. The
// producer runs in its own goroutine and sends events on the channel;
// Recv yields them in order and returns io.EOF (or the producer's error)
// once the producer finishes.
type eventStream struct {
	events chan Event
	errc   chan error

	cancel context.CancelFunc
	once   sync.Once

	err  error
	done bool
}

func newEventStream(ctx context.Context, fn func(ctx context.Context, events chan<- Event) error) Stream {
	ctx, cancel := context.WithCancel(ctx)
	s := &eventStream{
		events: make(chan Event, 16),
		errc:   make(chan error, 1),
		cancel: cancel,
	}
	go func() {
		defer close(s.events)
		s.errc <- fn(ctx, s.events)
	}()
	return s
}

func (s *eventStream) Recv() (Event, error) {
	if s.done {
		if s.err != nil {
			return Event{}, s.err
		}
		return Event{}, io.EOF
	}
	event, ok := <-s.events
	if !ok {
		s.done = true
		if err := <-s.errc; err != nil {
			s.err = err
			return Event{}, err
		}
		return Event{}, io.EOF
	}
	return event, nil
}

func (s *eventStream) Close() error {
	s.once.Do(func() {
		s.cancel()
		// Drain so the producer goroutine can finish.
		go func() {
			for range s.events {
			}
		}()
	})
	return nil
}

// CollectText drains a stream, concatenating text deltas. Used for
// single-shot invocations where streaming granularity does not matter,
// such as the partial-summary call.
func CollectText(stream Stream) (string, error) {
	defer stream.Close()
	var text string
	for {
		event, err := stream.Recv()
		if err == io.EOF {
			return text, nil
		}
		if err != nil {
			return text, err
		}
		switch event.Type {
		case EventTextDelta:
			text += event.Text
		case EventError:
			if event.Err != nil {
				return text, event.Err
			}
		}
	}
}
