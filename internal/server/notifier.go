package server

import (
	"sync"

	"github.com/leapstack-labs/nodebook/internal/engine"
)

// Event announces a finished cell run.
type Event struct {
	ProjectID string
	Result    *engine.RunResult
}

// Notifier fans run events out to the listeners of a project.
type Notifier struct {
	mu        sync.RWMutex
	listeners map[chan Event]string
}

// NewNotifier creates an empty Notifier.
func NewNotifier() *Notifier {
	return &Notifier{listeners: make(map[chan Event]string)}
}

// Subscribe returns a channel receiving events for projectID. The caller must
// call Unsubscribe when done.
func (n *Notifier) Subscribe(projectID string) chan Event {
	ch := make(chan Event, 8)
	n.mu.Lock()
	n.listeners[ch] = projectID
	n.mu.Unlock()
	return ch
}

// Unsubscribe removes a listener channel and closes it.
func (n *Notifier) Unsubscribe(ch chan Event) {
	n.mu.Lock()
	delete(n.listeners, ch)
	n.mu.Unlock()
	close(ch)
}

// Broadcast delivers ev to every listener of its project. Listeners whose
// buffer is full miss the event.
func (n *Notifier) Broadcast(ev Event) {
	n.mu.RLock()
	defer n.mu.RUnlock()

	for ch, id := range n.listeners {
		if id != ev.ProjectID {
			continue
		}
		select {
		case ch <- ev:
		default:
		}
	}
}
