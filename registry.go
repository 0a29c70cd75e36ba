package live

import (
	"fmt"
	"sync"
	"time"
)

// registry holds the page contexts that can still receive actions or an SSE
// stream, keyed by context id.
type registry struct {
	mu   sync.RWMutex
	byID map[string]*Context
}

func newRegistry() *registry {
	return &registry{byID: make(map[string]*Context)}
}

func (r *registry) put(c *Context) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byID[c.id] = c
	return len(r.byID)
}

func (r *registry) remove(id string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.byID, id)
	return len(r.byID)
}

func (r *registry) get(id string) (*Context, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.byID[id]
	if !ok {
		return nil, fmt.Errorf("ctx '%s' not found", id)
	}
	return c, nil
}

func (r *registry) len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byID)
}

// orphans lists contexts older than ttl that never opened a stream.
func (r *registry) orphans(now time.Time, ttl time.Duration) []*Context {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*Context
	for _, c := range r.byID {
		if !c.sseConnected.Load() && now.Sub(c.createdAt) > ttl {
			out = append(out, c)
		}
	}
	return out
}

// takeAll empties the registry and returns what it held.
func (r *registry) takeAll() []*Context {
	r.mu.Lock()
	defer r.mu.Unlock()
	all := make([]*Context, 0, len(r.byID))
	for _, c := range r.byID {
		all = append(all, c)
	}
	r.byID = make(map[string]*Context)
	return all
}
