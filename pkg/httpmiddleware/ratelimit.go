package httpmiddleware

import (
	"context"
	"math"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
)

// RateLimitConfig configures RateLimit.
type RateLimitConfig struct {
	// Max requests per Window and key.
	Max    int
	Window time.Duration
	// Key extracts the limited identity. Defaults to ClientIP.
	Key func(*http.Request) string
	// now is overridden in tests.
	now func() time.Time
}

// window approximates a sliding window with two fixed buckets, weighting
// the previous bucket by how much of it still overlaps.
type window struct {
	start     time.Time
	count     float64
	prevCount float64
}

type limiter struct {
	cfg RateLimitConfig

	mu      sync.Mutex
	windows map[string]*window
}

// take consumes one request for key. It returns the remaining budget and
// when the current bucket ends.
func (l *limiter) take(key string, now time.Time) (remaining int, reset time.Time, ok bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	size := l.cfg.Window
	w := l.windows[key]
	switch {
	case w == nil:
		w = &window{start: now.Truncate(size)}
		l.windows[key] = w
	case now.Sub(w.start) >= 2*size:
		*w = window{start: now.Truncate(size)}
	case now.Sub(w.start) >= size:
		*w = window{start: w.start.Add(size), prevCount: w.count}
	}

	overlap := 1 - float64(now.Sub(w.start))/float64(size)
	used := w.prevCount*max(overlap, 0) + w.count
	reset = w.start.Add(size)
	if used >= float64(l.cfg.Max) {
		return 0, reset, false
	}
	w.count++
	return max(l.cfg.Max-int(math.Ceil(used))-1, 0), reset, true
}

func (l *limiter) evict(now time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for key, w := range l.windows {
		if now.Sub(w.start) >= 2*l.cfg.Window {
			delete(l.windows, key)
		}
	}
}

// RateLimit limits requests per key and answers 429 once the budget is
// spent. Every response carries X-RateLimit-* headers. Idle keys are
// evicted in the background until ctx is done.
func RateLimit(ctx context.Context, cfg RateLimitConfig) Middleware {
	if cfg.Key == nil {
		cfg.Key = ClientIP
	}
	if cfg.now == nil {
		cfg.now = time.Now
	}
	l := &limiter{cfg: cfg, windows: make(map[string]*window)}

	go func() {
		ticker := time.NewTicker(2 * cfg.Window)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case now := <-ticker.C:
				l.evict(now)
			}
		}
	}()

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			now := cfg.now()
			remaining, reset, ok := l.take(cfg.Key(r), now)

			h := w.Header()
			h.Set("X-RateLimit-Limit", strconv.Itoa(cfg.Max))
			h.Set("X-RateLimit-Remaining", strconv.Itoa(remaining))
			h.Set("X-RateLimit-Reset", strconv.FormatInt(reset.Unix(), 10))
			if !ok {
				h.Set("Retry-After", strconv.Itoa(int(math.Ceil(max(reset.Sub(now), 0).Seconds()))))
				writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// TenantKey limits per tenant as captured by the {tenantID} route
// parameter, falling back to ClientIP outside tenant routes. It must run
// inside a chi router.
func TenantKey(r *http.Request) string {
	if tenant := chi.URLParam(r, "tenantID"); tenant != "" {
		return "tenant:" + tenant
	}
	return ClientIP(r)
}

// ClientIP returns the first X-Forwarded-For hop, X-Real-IP, or the remote
// address host.
func ClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		return strings.TrimSpace(first)
	}
	if ip := r.Header.Get("X-Real-IP"); ip != "" {
		return ip
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
