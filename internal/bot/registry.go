package bot

import (
	"context"
	"fmt"
	"sync"

	"github.com/murmurbot/murmur/internal/envelope"
)

// Handler processes one normalized message. Handlers for the same kind run
// in registration order; one handler's failure never blocks the others.
type Handler interface {
	Handle(ctx context.Context, msg envelope.Message) error
}

// HandlerFunc adapts a function to the Handler interface.
type HandlerFunc func(ctx context.Context, msg envelope.Message) error

func (f HandlerFunc) Handle(ctx context.Context, msg envelope.Message) error {
	return f(ctx, msg)
}

// Registry maps message kinds to their handlers. Registration happens at
// startup and must finish before dispatch begins; lookups are read-locked
// only to keep late registration safe.
type Registry struct {
	mu       sync.RWMutex
	handlers map[envelope.Kind][]Handler
}

func NewRegistry() *Registry {
	return &Registry{handlers: map[envelope.Kind][]Handler{}}
}

// Register adds a handler for a kind. A handler may be registered under
// several kinds.
func (r *Registry) Register(kind envelope.Kind, h Handler) error {
	if h == nil {
		return fmt.Errorf("handler is nil")
	}
	if kind == "" {
		return fmt.Errorf("message kind is required")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[kind] = append(r.handlers[kind], h)
	return nil
}

// MustRegister calls Register and panics on error.
func (r *Registry) MustRegister(kind envelope.Kind, h Handler) {
	if err := r.Register(kind, h); err != nil {
		panic(err)
	}
}

// HandlersFor returns the handlers registered for a kind, in registration
// order. The returned slice must not be mutated.
func (r *Registry) HandlersFor(kind envelope.Kind) []Handler {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.handlers[kind]
}

// Kinds returns the kinds that have at least one handler.
func (r *Registry) Kinds() []envelope.Kind {
	r.mu.RLock()
	defer r.mu.RUnlock()
	kinds := make([]envelope.Kind, 0, len(r.handlers))
	for k := range r.handlers {
		kinds = append(kinds, k)
	}
	return kinds
}
