package gateway

import (
	"sync"
	"time"
)

// Rate limit rejection reasons.
const (
	reasonRateLimited   = "rate limit exceeded"
	reasonTooConcurrent = "too many concurrent requests"
)

// ClientRateLimiter is a sliding one-minute window plus a concurrency cap
// for one client.
type ClientRateLimiter struct {
	mu                sync.Mutex
	requestsPerMinute int
	maxConcurrent     int
	requests          []time.Time
	concurrent        int
	lastSeen          time.Time
	now               func() time.Time
}

// NewClientRateLimiter creates a limiter. A limit <= 0 disables that check.
func NewClientRateLimiter(requestsPerMinute, maxConcurrent int) *ClientRateLimiter {
	return &ClientRateLimiter{
		requestsPerMinute: requestsPerMinute,
		maxConcurrent:     maxConcurrent,
		now:               time.Now,
	}
}

// Acquire admits one request, returning the rejection reason when the client
// is over a limit. Every admitted request must be paired with Release.
func (r *ClientRateLimiter) Acquire() (bool, string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	r.lastSeen = now
	if r.maxConcurrent > 0 && r.concurrent >= r.maxConcurrent {
		return false, reasonTooConcurrent
	}

	cutoff := now.Add(-time.Minute)
	kept := r.requests[:0]
	for _, t := range r.requests {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	r.requests = kept
	if r.requestsPerMinute > 0 && len(r.requests) >= r.requestsPerMinute {
		return false, reasonRateLimited
	}

	r.requests = append(r.requests, now)
	r.concurrent++
	return true, ""
}

// Release ends an admitted request.
func (r *ClientRateLimiter) Release() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.concurrent > 0 {
		r.concurrent--
	}
}

// Stats returns the requests in the current window and those in flight.
func (r *ClientRateLimiter) Stats() (requests, concurrent int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cutoff := r.now().Add(-time.Minute)
	for _, t := range r.requests {
		if t.After(cutoff) {
			requests++
		}
	}
	return requests, r.concurrent
}

func (r *ClientRateLimiter) idleSince(cutoff time.Time) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.concurrent == 0 && r.lastSeen.Before(cutoff)
}

// limiterSet keys limiters by client address and forgets idle ones.
type limiterSet struct {
	mu                sync.Mutex
	limiters          map[string]*ClientRateLimiter
	requestsPerMinute int
	maxConcurrent     int
	lastSweep         time.Time
}

func newLimiterSet(requestsPerMinute, maxConcurrent int) *limiterSet {
	return &limiterSet{
		limiters:          make(map[string]*ClientRateLimiter),
		requestsPerMinute: requestsPerMinute,
		maxConcurrent:     maxConcurrent,
		lastSweep:         time.Now(),
	}
}

func (s *limiterSet) get(key string) *ClientRateLimiter {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	if now.Sub(s.lastSweep) > 5*time.Minute {
		cutoff := now.Add(-5 * time.Minute)
		for k, l := range s.limiters {
			if l.idleSince(cutoff) {
				delete(s.limiters, k)
			}
		}
		s.lastSweep = now
	}

	l, ok := s.limiters[key]
	if !ok {
		l = NewClientRateLimiter(s.requestsPerMinute, s.maxConcurrent)
		s.limiters[key] = l
	}
	return l
}
