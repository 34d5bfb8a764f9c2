package signal

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const limiterIdle = 10 * time.Minute

type limiterEntry struct {
	lim  *rate.Limiter
	seen time.Time
}

// JoinLimiter throttles join attempts per remote address.
// A nil limiter or a non-positive rate allows everything.
type JoinLimiter struct {
	mu       sync.Mutex
	limiters map[string]*limiterEntry
	limit    rate.Limit
	burst    int
}

func NewJoinLimiter(perSecond float64, burst int) *JoinLimiter {
	return &JoinLimiter{
		limiters: make(map[string]*limiterEntry),
		limit:    rate.Limit(perSecond),
		burst:    max(burst, 1),
	}
}

func (l *JoinLimiter) Allow(key string) bool {
	if l == nil || l.limit <= 0 {
		return true
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now()
	e, ok := l.limiters[key]
	if !ok {
		l.prune(now)
		e = &limiterEntry{lim: rate.NewLimiter(l.limit, l.burst)}
		l.limiters[key] = e
	}
	e.seen = now
	return e.lim.AllowN(now, 1)
}

func (l *JoinLimiter) prune(now time.Time) {
	for k, e := range l.limiters {
		if now.Sub(e.seen) > limiterIdle {
			delete(l.limiters, k)
		}
	}
}
