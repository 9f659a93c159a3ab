package security

import (
	"container/list"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// RateLimitConfig configures a RateLimiter.
type RateLimitConfig struct {
	// RequestsPerSecond is the sustained rate allowed per identifier.
	RequestsPerSecond int

	// Burst is the bucket size per identifier.
	Burst int

	// MaxEntries bounds the number of identifiers tracked at once. The least
	// recently seen identifier is evicted when full. Zero means 10000.
	MaxEntries int

	// IdleTimeout is how long an identifier may go unseen before cleanup
	// forgets it (default: 30 minutes).
	IdleTimeout time.Duration

	// CleanupInterval is how often idle identifiers are swept (default: 5 minutes).
	CleanupInterval time.Duration

	Logger *slog.Logger
}

type bucket struct {
	key      string
	limiter  *rate.Limiter
	lastSeen time.Time
}

// RateLimiter is a per-identifier token bucket limiter with LRU eviction.
type RateLimiter struct {
	cfg RateLimitConfig

	mu      sync.Mutex
	index   map[string]*list.Element
	order   *list.List
	evicted int64

	stop chan struct{}
	once sync.Once
}

// NewRateLimiter starts a limiter and its cleanup goroutine. Call Stop when done.
func NewRateLimiter(cfg RateLimitConfig) *RateLimiter {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.MaxEntries <= 0 {
		cfg.MaxEntries = 10000
	}
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = 30 * time.Minute
	}
	if cfg.CleanupInterval <= 0 {
		cfg.CleanupInterval = 5 * time.Minute
	}

	rl := &RateLimiter{
		cfg:   cfg,
		index: make(map[string]*list.Element),
		order: list.New(),
		stop:  make(chan struct{}),
	}
	go rl.sweepLoop()
	return rl
}

// Allow consumes one token for key and reports whether the request may proceed.
func (rl *RateLimiter) Allow(key string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := time.Now()
	if elem, ok := rl.index[key]; ok {
		rl.order.MoveToFront(elem)
		b := elem.Value.(*bucket)
		b.lastSeen = now
		return b.limiter.Allow()
	}

	if len(rl.index) >= rl.cfg.MaxEntries {
		if oldest := rl.order.Back(); oldest != nil {
			delete(rl.index, oldest.Value.(*bucket).key)
			rl.order.Remove(oldest)
			rl.evicted++
		}
	}

	b := &bucket{
		key:      key,
		limiter:  rate.NewLimiter(rate.Limit(rl.cfg.RequestsPerSecond), rl.cfg.Burst),
		lastSeen: now,
	}
	rl.index[key] = rl.order.PushFront(b)
	return b.limiter.Allow()
}

// Len returns the number of identifiers currently tracked.
func (rl *RateLimiter) Len() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return len(rl.index)
}

// Evictions returns how many identifiers were dropped for capacity.
func (rl *RateLimiter) Evictions() int64 {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return rl.evicted
}

// Sweep forgets identifiers not seen within idle.
func (rl *RateLimiter) Sweep(idle time.Duration) int {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	cutoff := time.Now().Add(-idle)
	removed := 0
	// The list is ordered most recent first, so idle entries sit at the back.
	for elem := rl.order.Back(); elem != nil; {
		b := elem.Value.(*bucket)
		if !b.lastSeen.Before(cutoff) {
			break
		}
		prev := elem.Prev()
		delete(rl.index, b.key)
		rl.order.Remove(elem)
		removed++
		elem = prev
	}

	if removed > 0 {
		rl.cfg.Logger.Debug("Rate limiter sweep completed",
			"removed", removed,
			"remaining", len(rl.index))
	}
	return removed
}

func (rl *RateLimiter) sweepLoop() {
	ticker := time.NewTicker(rl.cfg.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			rl.Sweep(rl.cfg.IdleTimeout)
		case <-rl.stop:
			return
		}
	}
}

// Stop ends the cleanup goroutine. It is safe to call more than once.
func (rl *RateLimiter) Stop() {
	rl.once.Do(func() { close(rl.stop) })
}

// Middleware rejects requests whose client IP has exhausted its bucket with
// 429 Too Many Requests.
func (rl *RateLimiter) Middleware(ips *ClientIPResolver, auditor *Auditor, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip := ips.Resolve(r)
		if !rl.Allow(ip) {
			auditor.LogRateLimitExceeded(ip)
			w.Header().Set("Retry-After", "1")
			http.Error(w, http.StatusText(http.StatusTooManyRequests), http.StatusTooManyRequests)
			return
		}
		next.ServeHTTP(w, r)
	})
}
