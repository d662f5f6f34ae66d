// throttle.go -- Per-IP request throttling for unauthenticated endpoints.
//
// Token bucket per client IP (golang.org/x/time/rate). Sits in front of login
// so a single client cannot burn CPU on PBKDF2 or spray identifiers faster
// than the lockout can react. Independent of the per-identifier lockout.
package api

import (
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/MGallo-Code/warden/internal/clock"
	"golang.org/x/time/rate"
)

type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// IPLimiter hands out one token bucket per client IP.
type IPLimiter struct {
	limit rate.Limit
	burst int
	clk   clock.Clock

	mu       sync.Mutex
	visitors map[string]*visitor
}

// NewIPLimiter allows perSecond sustained requests with the given burst per IP.
// perSecond <= 0 disables throttling. clk drives token refill and idle
// sweeping; nil means the wall clock.
func NewIPLimiter(perSecond float64, burst int, clk clock.Clock) *IPLimiter {
	if burst < 1 {
		burst = 1
	}
	return &IPLimiter{
		limit:    rate.Limit(perSecond),
		burst:    burst,
		clk:      clock.OrReal(clk),
		visitors: make(map[string]*visitor),
	}
}

// Allow reports whether ip may make a request now and records it.
func (l *IPLimiter) Allow(ip string) bool {
	if l.limit <= 0 {
		return true
	}
	l.mu.Lock()
	v, ok := l.visitors[ip]
	if !ok {
		v = &visitor{limiter: rate.NewLimiter(l.limit, l.burst)}
		l.visitors[ip] = v
	}
	now := l.clk.Now()
	v.lastSeen = now
	l.mu.Unlock()
	return v.limiter.AllowN(now, 1)
}

// Sweep forgets IPs not seen for idle and returns how many were dropped.
func (l *IPLimiter) Sweep(idle time.Duration) int {
	cutoff := l.clk.Now().Add(-idle)
	l.mu.Lock()
	defer l.mu.Unlock()
	n := 0
	for ip, v := range l.visitors {
		if v.lastSeen.Before(cutoff) {
			delete(l.visitors, ip)
			n++
		}
	}
	return n
}

// Throttle rejects requests over the per-IP rate with 429.
func (l *IPLimiter) Throttle(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip := clientIP(r)
		if !l.Allow(ip) {
			logWarn(r, "request throttled", "client_ip", ip)
			TooManyRequests(w)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// clientIP strips the port from RemoteAddr. RemoteAddr is only rewritten from
// forwarding headers when the router trusts a proxy in front of it.
func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
