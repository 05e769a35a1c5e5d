package httpapi

import (
	"sync"

	"golang.org/x/time/rate"
)

// maxTrackedClients caps the limiter map so rotating client ids cannot
// exhaust memory.
const maxTrackedClients = 4096

// ClientLimiter keeps one token bucket per client id. rpm <= 0 disables
// limiting. Safe for concurrent use.
type ClientLimiter struct {
	rpm   int
	burst int

	mu      sync.Mutex
	clients map[string]*rate.Limiter
}

// NewClientLimiter builds a per-client limiter at rpm requests per minute
// with the given burst.
func NewClientLimiter(rpm, burst int) *ClientLimiter {
	if burst < 1 {
		burst = 1
	}
	return &ClientLimiter{
		rpm:     rpm,
		burst:   burst,
		clients: make(map[string]*rate.Limiter),
	}
}

// Allow reports whether the client may proceed.
func (l *ClientLimiter) Allow(key string) bool {
	if l.rpm <= 0 {
		return true
	}

	l.mu.Lock()
	lim, ok := l.clients[key]
	if !ok {
		if len(l.clients) >= maxTrackedClients {
			for k := range l.clients {
				delete(l.clients, k)
				break
			}
		}
		lim = rate.NewLimiter(rate.Limit(float64(l.rpm)/60.0), l.burst)
		l.clients[key] = lim
	}
	l.mu.Unlock()

	return lim.Allow()
}
