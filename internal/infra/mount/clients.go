package mount

import (
	"sync"

	"github.com/google/uuid"

	"mcpreg/internal/domain"
)

// ClientRegistry owns the live RPC clients keyed by opaque id. Mount records
// carry only the id, so the store never holds a reference into a running
// session.
type ClientRegistry struct {
	mu      sync.RWMutex
	clients map[string]domain.RPCClient
}

func NewClientRegistry() *ClientRegistry {
	return &ClientRegistry{clients: make(map[string]domain.RPCClient)}
}

// Add registers the client and returns its new id.
func (r *ClientRegistry) Add(client domain.RPCClient) string {
	id := uuid.NewString()
	r.mu.Lock()
	r.clients[id] = client
	r.mu.Unlock()
	return id
}

func (r *ClientRegistry) Get(id string) (domain.RPCClient, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	client, ok := r.clients[id]
	return client, ok
}

// Remove forgets the client without closing it; the caller owns teardown.
func (r *ClientRegistry) Remove(id string) {
	r.mu.Lock()
	delete(r.clients, id)
	r.mu.Unlock()
}

func (r *ClientRegistry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.clients)
}
