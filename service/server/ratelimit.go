package server

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// subjectLimiter applies a token bucket per authenticated subject and
// periodically evicts idle entries.
type subjectLimiter struct {
	limit   rate.Limit
	burst   int
	mu      sync.Mutex
	buckets map[string]*bucket
	hits    uint64
	idleTTL time.Duration
}

type bucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// newSubjectLimiter returns nil, which allows everything, if rps or burst is
// not positive.
func newSubjectLimiter(rps float64, burst int) *subjectLimiter {
	if rps <= 0 || burst <= 0 {
		return nil
	}
	return &subjectLimiter{
		limit:   rate.Limit(rps),
		burst:   burst,
		buckets: make(map[string]*bucket),
		idleTTL: 10 * time.Minute,
	}
}

func (l *subjectLimiter) allow(subject string, now time.Time) bool {
	if l == nil {
		return true
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	b, ok := l.buckets[subject]
	if !ok {
		b = &bucket{limiter: rate.NewLimiter(l.limit, l.burst)}
		l.buckets[subject] = b
	}
	b.lastSeen = now
	allowed := b.limiter.AllowN(now, 1)

	l.hits++
	if l.hits%512 == 0 {
		cutoff := now.Add(-l.idleTTL)
		for k, v := range l.buckets {
			if v.lastSeen.Before(cutoff) {
				delete(l.buckets, k)
			}
		}
	}

	return allowed
}
