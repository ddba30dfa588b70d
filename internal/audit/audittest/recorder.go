// Package audittest provides an in-memory audit sink for tests.
package audittest

import (
	"context"
	"sync"

	"github.com/ksred/daytrader-api/internal/audit"
)

// Recorder keeps every event written to it
type Recorder struct {
	mu     sync.Mutex
	events []audit.Event
}

// NewLog returns an audit log backed by a fresh Recorder
func NewLog() (*audit.Logger, *Recorder) {
	rec := &Recorder{}
	return audit.New("test", rec), rec
}

func (r *Recorder) Write(_ context.Context, event audit.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
	return nil
}

func (r *Recorder) Close() error {
	return nil
}

// Events returns a copy of the recorded events
func (r *Recorder) Events() []audit.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]audit.Event, len(r.events))
	copy(out, r.events)
	return out
}

// OfType returns the recorded events of one type
func (r *Recorder) OfType(t audit.EventType) []audit.Event {
	var out []audit.Event
	for _, event := range r.Events() {
		if event.Type == t {
			out = append(out, event)
		}
	}
	return out
}

// Reset forgets every recorded event
func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = nil
}
