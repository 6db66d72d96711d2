// Package ratelimit paces outbound requests to remote collaborators.
//
// The crawler uses one Limiter for the file-store API budget and, when
// enabled, one per-host Limiter in the probe engine so that many endpoints
// served from the same host are not probed in a burst.
package ratelimit

import (
	"context"
	"net/url"
	"strings"
	"sync"

	"golang.org/x/time/rate"
)

// Limiter implements a global rate limit plus lazily created per-host limits.
type Limiter struct {
	mu        sync.RWMutex
	limiter   *rate.Limiter
	perHost   map[string]*rate.Limiter
	hostRate  rate.Limit
	hostBurst int
	waits     int64
}

// NewLimiter creates a new rate limiter. A non-positive rate disables the
// global limit.
func NewLimiter(requestsPerSecond float64, burst int) *Limiter {
	if burst < 1 {
		burst = 1
	}
	return &Limiter{
		limiter:   rate.NewLimiter(toLimit(requestsPerSecond), burst),
		perHost:   make(map[string]*rate.Limiter),
		hostRate:  rate.Inf,
		hostBurst: burst,
	}
}

// NewHostLimiter creates a limiter that only limits per host.
func NewHostLimiter(requestsPerSecond float64, burst int) *Limiter {
	l := NewLimiter(0, burst)
	l.hostRate = toLimit(requestsPerSecond)
	return l
}

func toLimit(requestsPerSecond float64) rate.Limit {
	if requestsPerSecond <= 0 {
		return rate.Inf
	}
	return rate.Limit(requestsPerSecond)
}

// Wait blocks until a request is allowed or context is cancelled.
func (l *Limiter) Wait(ctx context.Context) error {
	l.mu.Lock()
	l.waits++
	l.mu.Unlock()
	return l.limiter.Wait(ctx)
}

// WaitHost blocks until a request to the host of rawURL is allowed.
func (l *Limiter) WaitHost(ctx context.Context, rawURL string) error {
	if err := l.Wait(ctx); err != nil {
		return err
	}

	host := HostOf(rawURL)
	l.mu.Lock()
	hostLimiter, exists := l.perHost[host]
	if !exists {
		hostLimiter = rate.NewLimiter(l.hostRate, l.hostBurst)
		l.perHost[host] = hostLimiter
	}
	l.mu.Unlock()

	return hostLimiter.Wait(ctx)
}

// SetHostRate sets a custom rate limit for a specific host.
func (l *Limiter) SetHostRate(host string, requestsPerSecond float64, burst int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.perHost[strings.ToLower(host)] = rate.NewLimiter(toLimit(requestsPerSecond), burst)
}

// Allow checks if a request is allowed without blocking.
func (l *Limiter) Allow() bool {
	return l.limiter.Allow()
}

// SetRate updates the global rate limit.
func (l *Limiter) SetRate(requestsPerSecond float64, burst int) {
	l.limiter.SetLimit(toLimit(requestsPerSecond))
	l.limiter.SetBurst(burst)
}

// HostOf returns the lower-cased host:port of a URL, or the input itself
// when it does not parse.
func HostOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return strings.ToLower(rawURL)
	}
	return strings.ToLower(u.Host)
}

// Stats returns rate limiter statistics.
func (l *Limiter) Stats() LimiterStats {
	l.mu.RLock()
	defer l.mu.RUnlock()

	return LimiterStats{
		HostCount: len(l.perHost),
		Rate:      float64(l.limiter.Limit()),
		Burst:     l.limiter.Burst(),
		Waits:     l.waits,
	}
}

// LimiterStats contains rate limiter statistics.
type LimiterStats struct {
	HostCount int     `json:"host_count"`
	Rate      float64 `json:"rate"`
	Burst     int     `json:"burst"`
	Waits     int64   `json:"waits"`
}
