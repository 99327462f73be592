package harness

import (
	"sync"

	"github.com/dop251/goja"
)

// Sink collects values passed to console methods by executed code. A sink is
// handed to one evaluation and drained when it finishes.
type Sink struct {
	mu      sync.Mutex
	entries []goja.Value
}

// NewSink returns an empty sink.
func NewSink() *Sink {
	return &Sink{}
}

// Append records entries in call order.
func (s *Sink) Append(entries ...goja.Value) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = append(s.entries, entries...)
}

// Len returns the number of pending entries.
func (s *Sink) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// Drain returns all pending entries and empties the sink.
func (s *Sink) Drain() []goja.Value {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := s.entries
	s.entries = nil
	return out
}
