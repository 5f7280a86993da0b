package lookup

import "sync"

// DrawingSurface is the source of finalized shapes. It decouples the lookup
// pipeline from any particular drawing toolkit.
type DrawingSurface interface {
	OnShapeFinalized(handler func(ShapeEvent))
}

// EventSurface is an in-process DrawingSurface; Publish delivers an event to
// every registered handler in registration order.
type EventSurface struct {
	mu       sync.RWMutex
	handlers []func(ShapeEvent)
}

// NewEventSurface creates an empty surface.
func NewEventSurface() *EventSurface {
	return &EventSurface{}
}

// OnShapeFinalized implements DrawingSurface.
func (s *EventSurface) OnShapeFinalized(handler func(ShapeEvent)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handlers = append(s.handlers, handler)
}

// Publish delivers ev synchronously.
func (s *EventSurface) Publish(ev ShapeEvent) {
	s.mu.RLock()
	handlers := make([]func(ShapeEvent), len(s.handlers))
	copy(handlers, s.handlers)
	s.mu.RUnlock()

	for _, h := range handlers {
		h(ev)
	}
}
