package middleware

import (
	"encoding/json"
	"log/slog"
	"math"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"golang.org/x/time/rate"
)

// Limiter table bounds. An idle client's bucket is forgotten after
// limiterIdleTTL; at most maxTrackedClients buckets are kept.
const (
	maxTrackedClients = 10_000
	limiterIdleTTL    = 10 * time.Minute
)

// RateLimiter throttles requests per client IP with a token bucket.
//
// perMinute requests are refilled evenly over a minute; a client may
// burst up to half of that at once (at least one).
type RateLimiter struct {
	every   time.Duration
	burst   int
	clients *expirable.LRU[string, *rate.Limiter]
	logger  *slog.Logger
}

// NewRateLimiter creates a limiter allowing perMinute requests per client.
// perMinute below 1 is treated as 1.
func NewRateLimiter(perMinute int, logger *slog.Logger) *RateLimiter {
	perMinute = max(perMinute, 1)
	return &RateLimiter{
		every:   time.Minute / time.Duration(perMinute),
		burst:   max(perMinute/2, 1),
		clients: expirable.NewLRU[string, *rate.Limiter](maxTrackedClients, nil, limiterIdleTTL),
		logger:  logger,
	}
}

// Handler rejects requests over the limit with 429 Too Many Requests.
func (l *RateLimiter) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip := clientIP(r)
		if !l.limiter(ip).Allow() {
			l.logger.Warn("rate limit exceeded",
				slog.String("ip", ip),
				slog.String("path", r.URL.Path),
			)
			w.Header().Set("Content-Type", "application/json")
			w.Header().Set("Retry-After", strconv.Itoa(int(math.Ceil(l.every.Seconds()))))
			w.WriteHeader(http.StatusTooManyRequests)
			_ = json.NewEncoder(w).Encode(map[string]string{
				"error":   "rate_limited",
				"message": "Too many requests, try again later",
			})
			return
		}
		next.ServeHTTP(w, r)
	})
}

// limiter returns the bucket for key, creating it on first use. Two
// concurrent first requests may each create one; the later Add wins and
// the loser's single token is lost.
func (l *RateLimiter) limiter(key string) *rate.Limiter {
	if lim, ok := l.clients.Get(key); ok {
		return lim
	}
	lim := rate.NewLimiter(rate.Every(l.every), l.burst)
	l.clients.Add(key, lim)
	return lim
}

// clientIP is the host part of RemoteAddr. chi's RealIP middleware runs
// first and has already replaced RemoteAddr with the forwarded address.
func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
