package audit

import (
	"context"
	"sync"

	"github.com/rs/zerolog/log"
)

// AsyncSink queues events for a single background writer. Write never
// blocks; when the queue is full the event is dropped.
type AsyncSink struct {
	next   Sink
	events chan Event
	onDrop func(Event)

	wg        sync.WaitGroup
	mu        sync.RWMutex
	closed    bool
	closeOnce sync.Once
}

// NewAsyncSink starts the writer goroutine. onDrop may be nil.
func NewAsyncSink(next Sink, bufferSize int, onDrop func(Event)) *AsyncSink {
	if bufferSize <= 0 {
		bufferSize = 1
	}
	s := &AsyncSink{
		next:   next,
		events: make(chan Event, bufferSize),
		onDrop: onDrop,
	}
	s.wg.Add(1)
	go s.run()
	return s
}

func (s *AsyncSink) Write(_ context.Context, event Event) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		s.drop(event)
		return nil
	}

	select {
	case s.events <- event:
	default:
		s.drop(event)
	}
	return nil
}

func (s *AsyncSink) drop(event Event) {
	log.Warn().
		Str("component", "audit").
		Str("event_type", string(event.Type)).
		Msg("audit queue full, dropping event")
	if s.onDrop != nil {
		s.onDrop(event)
	}
}

func (s *AsyncSink) run() {
	defer s.wg.Done()
	logger := log.With().Str("component", "audit_writer").Logger()

	for event := range s.events {
		// Events outlive the request that produced them.
		if err := s.next.Write(context.Background(), event); err != nil {
			logger.Error().
				Err(err).
				Str("event_id", event.ID).
				Str("event_type", string(event.Type)).
				Msg("failed to deliver audit event")
		}
	}
}

// Close stops accepting events, drains the queue and closes the next sink
func (s *AsyncSink) Close() error {
	var err error
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.closed = true
		close(s.events)
		s.mu.Unlock()

		s.wg.Wait()
		err = s.next.Close()
	})
	return err
}
