package feed

import (
	"log/slog"
	"sync"
)

// Handler consumes one bus event. The payload type is fixed per kind, see
// the EventKind constants.
type Handler func(payload any)

// Bus is a synchronous typed event bus. Emit runs handlers inline in
// registration order; a panicking handler is isolated and logged so the
// remaining handlers still run.
type Bus struct {
	mu       sync.RWMutex
	handlers map[EventKind][]Handler
	logger   *slog.Logger
}

// NewBus creates an empty bus.
func NewBus(logger *slog.Logger) *Bus {
	return &Bus{
		handlers: make(map[EventKind][]Handler),
		logger:   logger,
	}
}

// Register appends a handler for the kind. Handlers cannot be removed;
// wiring happens once at composition time.
func (b *Bus) Register(kind EventKind, h Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[kind] = append(b.handlers[kind], h)
}

// Emit dispatches the payload to every handler registered for the kind.
// No-op when nothing is registered.
func (b *Bus) Emit(kind EventKind, payload any) {
	b.mu.RLock()
	hs := b.handlers[kind]
	b.mu.RUnlock()

	for _, h := range hs {
		b.dispatch(kind, h, payload)
	}
}

func (b *Bus) dispatch(kind EventKind, h Handler, payload any) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("bus handler panic", "kind", string(kind), "panic", r)
		}
	}()
	h(payload)
}
