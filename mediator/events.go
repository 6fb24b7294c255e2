package mediator

import (
	"github.com/c360studio/discoverer/description"
)

// EventKind names a registry change.
type EventKind string

// Registry change kinds.
const (
	EventAdded   EventKind = "added"
	EventRemoved EventKind = "removed"
	EventUpdated EventKind = "updated"
)

// Event describes one registry change. Description is a copy shared by all
// listeners and must not be modified.
type Event struct {
	Kind        EventKind
	Index       int
	Description *description.ComponentDescription
	// Reason is set for removals.
	Reason string
}

// Listener receives registry changes. Listeners are called synchronously
// after the change is applied and must not call back into the mediator.
type Listener interface {
	OnEvent(Event)
}

// ListenerFunc adapts a function to Listener.
type ListenerFunc func(Event)

// OnEvent implements Listener.
func (f ListenerFunc) OnEvent(e Event) { f(e) }

// Subscribe adds a listener. The returned function removes it.
func (m *Mediator) Subscribe(l Listener) func() {
	m.listenersMu.Lock()
	defer m.listenersMu.Unlock()

	id := m.nextListener
	m.nextListener++
	m.listeners[id] = l
	return func() {
		m.listenersMu.Lock()
		defer m.listenersMu.Unlock()
		delete(m.listeners, id)
	}
}

func (m *Mediator) emit(e Event) {
	m.listenersMu.RLock()
	listeners := make([]Listener, 0, len(m.listeners))
	for _, l := range m.listeners {
		listeners = append(listeners, l)
	}
	m.listenersMu.RUnlock()

	for _, l := range listeners {
		l.OnEvent(e)
	}
}
