// slidingwindow.go: In-memory per-key sliding window limiter
package ratelimit

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/Aidin1998/optigate/pkg/metrics"
)

// SlidingWindow is a thread-safe, in-memory sliding window limiter keyed by
// client identity. Each key keeps the ordered timestamps of its admitted
// calls; a call is admitted when fewer than limit calls fall inside the
// trailing window.
type SlidingWindow struct {
	limit  int
	window time.Duration

	mu   sync.RWMutex // guards keys
	keys map[string]*keyWindow
}

type keyWindow struct {
	mu       sync.Mutex
	requests []time.Time // ascending
	evicted  bool        // set by Sweep once removed from the map
}

// NewSlidingWindow creates a limiter allowing maxCalls per window per key.
func NewSlidingWindow(maxCalls int, window time.Duration) (*SlidingWindow, error) {
	if err := validate(maxCalls, window); err != nil {
		return nil, err
	}
	return &SlidingWindow{
		limit:  maxCalls,
		window: window,
		keys:   make(map[string]*keyWindow),
	}, nil
}

// Admit records a call for key at now if the window has room.
func (sw *SlidingWindow) Admit(_ context.Context, key string, now time.Time) (Decision, error) {
	for {
		kw := sw.get(key)
		kw.mu.Lock()
		if kw.evicted {
			// Swept between lookup and lock; fetch the replacement.
			kw.mu.Unlock()
			continue
		}
		d := sw.take(kw, now)
		kw.mu.Unlock()
		return d, nil
	}
}

func (sw *SlidingWindow) take(kw *keyWindow, now time.Time) Decision {
	sw.cleanup(kw, now)
	if len(kw.requests) >= sw.limit {
		return Decision{
			Allowed:    false,
			Limit:      sw.limit,
			Remaining:  0,
			RetryAfter: kw.requests[0].Add(sw.window).Sub(now),
		}
	}

	// Concurrent callers may pass slightly out-of-order instants.
	i := sort.Search(len(kw.requests), func(i int) bool { return kw.requests[i].After(now) })
	kw.requests = append(kw.requests, time.Time{})
	copy(kw.requests[i+1:], kw.requests[i:])
	kw.requests[i] = now

	return Decision{
		Allowed:   true,
		Limit:     sw.limit,
		Remaining: sw.limit - len(kw.requests),
	}
}

// cleanup removes timestamps t with now - t >= window.
func (sw *SlidingWindow) cleanup(kw *keyWindow, now time.Time) {
	idx := 0
	for idx < len(kw.requests) && now.Sub(kw.requests[idx]) >= sw.window {
		idx++
	}
	if idx > 0 {
		kw.requests = append(kw.requests[:0], kw.requests[idx:]...)
	}
}

func (sw *SlidingWindow) get(key string) *keyWindow {
	sw.mu.RLock()
	kw, ok := sw.keys[key]
	sw.mu.RUnlock()
	if ok {
		return kw
	}

	sw.mu.Lock()
	defer sw.mu.Unlock()
	if kw, ok = sw.keys[key]; ok {
		return kw
	}
	kw = &keyWindow{requests: make([]time.Time, 0, sw.limit)}
	sw.keys[key] = kw
	return kw
}

// peek returns the remaining calls for key and when the oldest recorded call
// leaves the window. It does not record anything.
func (sw *SlidingWindow) peek(key string, now time.Time) (remaining int, reset time.Time) {
	sw.mu.RLock()
	kw, ok := sw.keys[key]
	sw.mu.RUnlock()
	if !ok {
		return sw.limit, now
	}

	kw.mu.Lock()
	defer kw.mu.Unlock()
	sw.cleanup(kw, now)
	remaining = sw.limit - len(kw.requests)
	reset = now
	if len(kw.requests) > 0 {
		reset = kw.requests[0].Add(sw.window)
	}
	return remaining, reset
}

// reset clears the window for key.
func (sw *SlidingWindow) reset(key string) {
	sw.mu.Lock()
	defer sw.mu.Unlock()
	if kw, ok := sw.keys[key]; ok {
		kw.mu.Lock()
		kw.evicted = true
		kw.mu.Unlock()
		delete(sw.keys, key)
	}
}

// Len returns the number of tracked keys.
func (sw *SlidingWindow) Len() int {
	sw.mu.RLock()
	defer sw.mu.RUnlock()
	return len(sw.keys)
}

// Sweep drops keys whose windows are empty at now and returns how many
// were removed.
func (sw *SlidingWindow) Sweep(now time.Time) int {
	sw.mu.Lock()
	defer sw.mu.Unlock()

	removed := 0
	for key, kw := range sw.keys {
		kw.mu.Lock()
		sw.cleanup(kw, now)
		if len(kw.requests) == 0 {
			kw.evicted = true
			delete(sw.keys, key)
			removed++
		}
		kw.mu.Unlock()
	}
	return removed
}

// Run sweeps idle keys every interval until ctx is cancelled and publishes
// the number of tracked keys.
func (sw *SlidingWindow) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			sw.Sweep(now)
			metrics.RateLimitTrackedKeys.Set(float64(sw.Len()))
		}
	}
}
