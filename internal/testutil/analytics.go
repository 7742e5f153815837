package testutil

import (
	"context"
	"sync"
)

// RecordedEvent is one event captured by RecordingSink
type RecordedEvent struct {
	Name   string
	Params map[string]interface{}
}

// RecordingSink is an analytics sink that keeps every event in memory.
// Setting Err makes every call fail with it.
type RecordingSink struct {
	mu     sync.Mutex
	events []RecordedEvent
	Err    error
}

// LogEvent records the event
func (s *RecordingSink) LogEvent(ctx context.Context, name string, params map[string]interface{}) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return s.Err
	}
	s.events = append(s.events, RecordedEvent{Name: name, Params: params})
	return nil
}

// Ping reports Err
func (s *RecordingSink) Ping(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.Err
}

// Events returns the recorded events with the given name
func (s *RecordingSink) Events(name string) []RecordedEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []RecordedEvent
	for _, e := range s.events {
		if e.Name == name {
			out = append(out, e)
		}
	}
	return out
}
