package provider

import (
	"sync"

	"github.com/Davide9292/v-try.app-sub001/internal/domain"
)

// Registry maps job kinds to their provider clients.
type Registry struct {
	mu      sync.RWMutex
	clients map[domain.Kind]Client
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{clients: make(map[domain.Kind]Client)}
}

// Register adds a client. Safe to call concurrently.
func (r *Registry) Register(c Client) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.clients[c.Kind()] = c
}

// Get returns the client for the given kind. A missing client is a fatal
// configuration error for jobs of that kind, not a retryable one.
func (r *Registry) Get(kind domain.Kind) (Client, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.clients[kind]
	if !ok {
		return nil, &Error{
			Code:      CodeRejected,
			Message:   "no provider configured for kind " + string(kind),
			Retryable: false,
		}
	}
	return c, nil
}
