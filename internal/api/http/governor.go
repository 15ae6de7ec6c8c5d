package apihttp

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/puzpuzpuz/xsync/v3"
	"golang.org/x/time/rate"

	"swarmstream/internal/metrics"
)

// blockStrikes is how many rejected requests inside the cooldown window
// escalate a client from throttled to blocked.
const blockStrikes = 5

type GovernorConfig struct {
	GlobalRPS     float64
	GlobalBurst   int
	ClientRPS     float64
	ClientBurst   int
	BlockCooldown time.Duration
	EntryTTL      time.Duration
}

func (c *GovernorConfig) applyDefaults() {
	if c.GlobalRPS <= 0 {
		c.GlobalRPS = 200
	}
	if c.GlobalBurst <= 0 {
		c.GlobalBurst = int(c.GlobalRPS) * 2
	}
	if c.ClientRPS <= 0 {
		c.ClientRPS = 25
	}
	if c.ClientBurst <= 0 {
		c.ClientBurst = int(c.ClientRPS) * 2
	}
	if c.BlockCooldown <= 0 {
		c.BlockCooldown = 30 * time.Second
	}
	if c.EntryTTL <= 0 {
		c.EntryTTL = 10 * time.Minute
	}
}

type clientBucket struct {
	mu           sync.Mutex
	limiter      *rate.Limiter
	strikes      int
	blockedUntil time.Time
	lastSeen     time.Time
}

// Governor applies a global token bucket plus per-principal buckets. A
// principal that keeps hammering past its budget is blocked outright for a
// cooldown window. Idle entries age out.
type Governor struct {
	cfg     GovernorConfig
	global  *rate.Limiter
	clients *xsync.MapOf[string, *clientBucket]
	done    chan struct{}
}

func NewGovernor(cfg GovernorConfig) *Governor {
	cfg.applyDefaults()
	g := &Governor{
		cfg:     cfg,
		global:  rate.NewLimiter(rate.Limit(cfg.GlobalRPS), cfg.GlobalBurst),
		clients: xsync.NewMapOf[string, *clientBucket](),
		done:    make(chan struct{}),
	}
	go g.janitor()
	return g
}

func (g *Governor) Close() {
	close(g.done)
}

// Middleware wraps next with the rate checks. /ping and /metrics bypass
// the governor so health probes and scrapes never get throttled.
func (g *Governor) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/ping" || r.URL.Path == "/metrics" {
			next.ServeHTTP(w, r)
			return
		}
		if retryAfter, ok := g.admit(principal(r)); !ok {
			w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
			writeError(w, http.StatusTooManyRequests, "rate_limited", "too many requests")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// admit returns (retryAfterSeconds, allowed).
func (g *Governor) admit(id string) (int, bool) {
	if !g.global.Allow() {
		metrics.GovernorBlocksTotal.WithLabelValues("global").Inc()
		return 1, false
	}

	bucket, _ := g.clients.LoadOrCompute(id, func() *clientBucket {
		return &clientBucket{
			limiter: rate.NewLimiter(rate.Limit(g.cfg.ClientRPS), g.cfg.ClientBurst),
		}
	})

	bucket.mu.Lock()
	defer bucket.mu.Unlock()
	now := time.Now()
	bucket.lastSeen = now

	if now.Before(bucket.blockedUntil) {
		metrics.GovernorBlocksTotal.WithLabelValues("client").Inc()
		return retrySeconds(bucket.blockedUntil.Sub(now)), false
	}

	if bucket.limiter.Allow() {
		bucket.strikes = 0
		return 0, true
	}

	bucket.strikes++
	if bucket.strikes >= blockStrikes {
		bucket.blockedUntil = now.Add(g.cfg.BlockCooldown)
		bucket.strikes = 0
		metrics.GovernorBlocksTotal.WithLabelValues("client").Inc()
		return retrySeconds(g.cfg.BlockCooldown), false
	}
	metrics.GovernorBlocksTotal.WithLabelValues("client").Inc()
	return 1, false
}

func (g *Governor) janitor() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-g.done:
			return
		case <-ticker.C:
			cutoff := time.Now().Add(-g.cfg.EntryTTL)
			g.clients.Range(func(id string, bucket *clientBucket) bool {
				bucket.mu.Lock()
				stale := bucket.lastSeen.Before(cutoff) && time.Now().After(bucket.blockedUntil)
				bucket.mu.Unlock()
				if stale {
					g.clients.Delete(id)
				}
				return true
			})
		}
	}
}

func principal(r *http.Request) string {
	if id := r.Header.Get("X-Principal-ID"); id != "" {
		return id
	}
	return clientIP(r)
}

func retrySeconds(d time.Duration) int {
	s := int(d.Seconds())
	if s < 1 {
		s = 1
	}
	return s
}
