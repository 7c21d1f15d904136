package gateway

import (
	"sort"
	"sync"
)

type streamClient struct {
	info  ClientInfo
	close func()
}

// clientRegistry tracks attached event streams so shutdown can end them.
type clientRegistry struct {
	mu      sync.Mutex
	clients map[string]*streamClient
}

func newClientRegistry() *clientRegistry {
	return &clientRegistry{clients: make(map[string]*streamClient)}
}

func (r *clientRegistry) add(c *streamClient) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.clients[c.info.ID] = c
}

func (r *clientRegistry) remove(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.clients, id)
}

func (r *clientRegistry) list() []ClientInfo {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]ClientInfo, 0, len(r.clients))
	for _, c := range r.clients {
		out = append(out, c.info)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ConnectedAt.Before(out[j].ConnectedAt) })
	return out
}

// closeAll ends every attached stream and returns how many there were.
func (r *clientRegistry) closeAll() int {
	r.mu.Lock()
	clients := make([]*streamClient, 0, len(r.clients))
	for _, c := range r.clients {
		clients = append(clients, c)
	}
	r.mu.Unlock()
	for _, c := range clients {
		c.close()
	}
	return len(clients)
}
