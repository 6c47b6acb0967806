package api

import (
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const (
	rateWebhook = "webhook"
	rateRead    = "read"

	// limiters idle for longer than this are dropped
	limiterIdleTTL = 3 * time.Minute
	sweepInterval  = time.Minute
)

type clientLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// requestRateLimiter keeps one token bucket per action and client address.
// Each bucket holds a minute worth of requests and refills continuously.
type requestRateLimiter struct {
	enabled bool
	limits  map[string]int

	mu        sync.Mutex
	clients   map[string]*clientLimiter
	lastSweep time.Time
	now       func() time.Time
}

func newRequestRateLimiter(cfg RateLimitPolicy) *requestRateLimiter {
	l := &requestRateLimiter{
		enabled: cfg.Enabled,
		limits: map[string]int{
			rateWebhook: cfg.WebhookPerMinute,
			rateRead:    cfg.ReadPerMinute,
		},
		clients: make(map[string]*clientLimiter),
		now:     time.Now,
	}
	l.lastSweep = l.now()
	return l
}

func (l *requestRateLimiter) Allow(client, action string) bool {
	if l == nil || !l.enabled {
		return true
	}
	perMinute := l.limits[action]
	if perMinute <= 0 {
		return true
	}
	now := l.now()
	key := action + "|" + client

	l.mu.Lock()
	defer l.mu.Unlock()
	if now.Sub(l.lastSweep) >= sweepInterval {
		l.sweep(now)
	}
	c, ok := l.clients[key]
	if !ok {
		c = &clientLimiter{
			limiter: rate.NewLimiter(rate.Every(time.Minute/time.Duration(perMinute)), perMinute),
		}
		l.clients[key] = c
	}
	c.lastSeen = now
	return c.limiter.AllowN(now, 1)
}

func (l *requestRateLimiter) sweep(now time.Time) {
	for key, c := range l.clients {
		if now.Sub(c.lastSeen) > limiterIdleTTL {
			delete(l.clients, key)
		}
	}
	l.lastSweep = now
}

// clientIP returns the peer address of r. X-Forwarded-For is only consulted
// when the server runs behind a trusted proxy, and then only its last hop,
// which is the address the proxy itself saw.
func clientIP(r *http.Request, trustForwardedFor bool) string {
	if trustForwardedFor {
		if xff := r.Header.Values("X-Forwarded-For"); len(xff) > 0 {
			hops := strings.Split(xff[len(xff)-1], ",")
			if last := strings.TrimSpace(hops[len(hops)-1]); last != "" {
				return last
			}
		}
	}
	host, _, err := net.SplitHostPort(strings.TrimSpace(r.RemoteAddr))
	if err == nil {
		return host
	}
	return strings.TrimSpace(r.RemoteAddr)
}
