package ratelimit

import (
	"context"
	"sync"
	"time"

	"github.com/scribeflow/creditcore/internal/cache"
)

type localState struct {
	tokens float64
	ts     time.Time
}

// LocalBucket is an in-process token bucket used when no redis address is
// configured. Limits then apply per instance, not across the fleet.
type LocalBucket struct {
	mu    sync.Mutex
	items cache.Cache[string, localState]
	nowFn func() time.Time
}

func NewLocalBucket() *LocalBucket {
	return &LocalBucket{
		items: cache.NewTTLCache[string, localState](),
		nowFn: time.Now,
	}
}

func (l *LocalBucket) Allow(_ context.Context, key string, rate float64, burst int) (bool, error) {
	if key == "" || rate <= 0 || burst <= 0 {
		return false, nil
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.nowFn()
	state, ok := l.items.Get(key)
	if !ok {
		state = localState{tokens: float64(burst), ts: now}
	} else {
		delta := now.Sub(state.ts).Seconds()
		if delta < 0 {
			delta = 0
		}
		state.tokens += delta * rate
		if state.tokens > float64(burst) {
			state.tokens = float64(burst)
		}
		state.ts = now
	}

	allowed := state.tokens >= 1
	if allowed {
		state.tokens--
	}
	l.items.Set(key, state, bucketTTL(rate, burst))
	return allowed, nil
}
