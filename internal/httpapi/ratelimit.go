package httpapi

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// keyedLimiter holds one token bucket per (bucket, client) pair.
// Entries idle past the horizon are dropped on the next sweep so the
// map cannot grow without bound.
type keyedLimiter struct {
	mu      sync.Mutex
	buckets map[string]*limiterEntry
	swept   time.Time
}

type limiterEntry struct {
	lim      *rate.Limiter
	lastSeen time.Time
}

const limiterIdleHorizon = 10 * time.Minute

func newKeyedLimiter() *keyedLimiter {
	return &keyedLimiter{buckets: make(map[string]*limiterEntry), swept: time.Now()}
}

func (k *keyedLimiter) allow(bucket, client string, perMinute int) bool {
	key := bucket + "|" + client
	now := time.Now()

	k.mu.Lock()
	defer k.mu.Unlock()

	if now.Sub(k.swept) > limiterIdleHorizon {
		for key, e := range k.buckets {
			if now.Sub(e.lastSeen) > limiterIdleHorizon {
				delete(k.buckets, key)
			}
		}
		k.swept = now
	}

	e, ok := k.buckets[key]
	if !ok {
		e = &limiterEntry{
			lim: rate.NewLimiter(rate.Limit(float64(perMinute)/60.0), perMinute),
		}
		k.buckets[key] = e
	}
	e.lastSeen = now
	return e.lim.Allow()
}
