// Package ratelimit implements the sliding-window counters shared by the
// tool registry's per-tool call limit and the outbound rate limiter.
package ratelimit

import (
	"sync"
	"time"
)

// Window is a single sliding-window quota: at most Limit events may occur
// within Duration.
type Window struct {
	Limit    int
	Duration time.Duration
}

// entry tracks timestamps for one key across all configured windows. The
// timestamps slice is pruned to the longest configured window on access.
type entry struct {
	mu         sync.Mutex
	timestamps []time.Time
}

// Limiter enforces one or more sliding-window quotas per key. With a single
// window it behaves as a plain per-minute (or per-N-seconds) limiter; with
// two windows (e.g. per-minute and per-hour) it enforces both tiers,
// checking the shortest window first.
type Limiter struct {
	windows []Window

	mu      sync.Mutex
	entries map[string]*entry
}

// New builds a Limiter over the given windows, ordered shortest-duration
// first by convention (callers should pass them that way; NewTiered does
// this automatically).
func New(windows ...Window) *Limiter {
	return &Limiter{windows: windows, entries: make(map[string]*entry)}
}

// NewTiered builds the two-tier per-minute/per-hour limiter used by the
// outbound rate limiter: at most perMinute events in any 60s window, and at
// most perHour events in any 3600s window.
func NewTiered(perMinute, perHour int) *Limiter {
	return New(
		Window{Limit: perMinute, Duration: time.Minute},
		Window{Limit: perHour, Duration: time.Hour},
	)
}

func (l *Limiter) longestWindow() time.Duration {
	var longest time.Duration
	for _, w := range l.windows {
		if w.Duration > longest {
			longest = w.Duration
		}
	}
	return longest
}

func (l *Limiter) entryFor(key string) *entry {
	l.mu.Lock()
	defer l.mu.Unlock()
	e, ok := l.entries[key]
	if !ok {
		e = &entry{}
		l.entries[key] = e
	}
	return e
}

// Check prunes timestamps older than the longest configured window, then
// evaluates each window shortest-first. If any window's quota is exceeded
// it returns (false, retry_after) for the window that was violated. If all
// windows have headroom, it records now and returns (true, 0).
func (l *Limiter) Check(key string) (allowed bool, retryAfter time.Duration) {
	allowed, retryAfter = l.Peek(key)
	if allowed {
		l.Record(key)
	}
	return allowed, retryAfter
}

// Peek runs the same window evaluation as Check but never records an
// event, so repeated calls do not consume quota. Callers that must decide
// before a side effect happens (e.g. enqueuing a message) call Peek first
// and Record only once that side effect actually succeeds.
func (l *Limiter) Peek(key string) (allowed bool, retryAfter time.Duration) {
	e := l.entryFor(key)
	e.mu.Lock()
	defer e.mu.Unlock()

	now := time.Now()
	longest := l.longestWindow()
	e.timestamps = pruneOlderThan(e.timestamps, now.Add(-longest))

	for _, w := range l.windows {
		cutoff := now.Add(-w.Duration)
		count := 0
		var oldestInWindow time.Time
		for _, ts := range e.timestamps {
			if ts.After(cutoff) {
				if count == 0 || ts.Before(oldestInWindow) {
					oldestInWindow = ts
				}
				count++
			}
		}
		if count >= w.Limit {
			retry := oldestInWindow.Add(w.Duration).Sub(now)
			if retry < 0 {
				retry = 0
			}
			return false, retry
		}
	}

	return true, 0
}

// Record unconditionally appends an event for key at the current time,
// without re-evaluating quota. Call it only after a prior Peek (or Check)
// reported allowed and the gated side effect has actually happened.
func (l *Limiter) Record(key string) {
	e := l.entryFor(key)
	e.mu.Lock()
	defer e.mu.Unlock()
	e.timestamps = append(e.timestamps, time.Now())
}

// Available reports how many more events key may record within the
// shortest configured window (that window's limit minus the events already
// recorded in it), primarily for diagnostics/metrics.
func (l *Limiter) Available(key string) int {
	if len(l.windows) == 0 {
		return 0
	}
	e := l.entryFor(key)
	e.mu.Lock()
	defer e.mu.Unlock()

	shortest := l.windows[0]
	for _, w := range l.windows[1:] {
		if w.Duration < shortest.Duration {
			shortest = w
		}
	}
	cutoff := time.Now().Add(-shortest.Duration)
	count := 0
	for _, ts := range e.timestamps {
		if ts.After(cutoff) {
			count++
		}
	}
	return shortest.Limit - count
}

// GC removes keys with no timestamps remaining within the longest window.
// Intended to be called periodically so the entries map does not grow
// without bound across long-lived processes.
func (l *Limiter) GC() {
	longest := l.longestWindow()
	cutoff := time.Now().Add(-longest)

	l.mu.Lock()
	keys := make([]string, 0, len(l.entries))
	for k, e := range l.entries {
		e.mu.Lock()
		empty := len(pruneOlderThan(e.timestamps, cutoff)) == 0
		e.mu.Unlock()
		if empty {
			keys = append(keys, k)
		}
	}
	for _, k := range keys {
		delete(l.entries, k)
	}
	l.mu.Unlock()
}

// Reset clears all recorded timestamps for key.
func (l *Limiter) Reset(key string) {
	l.mu.Lock()
	delete(l.entries, key)
	l.mu.Unlock()
}

func pruneOlderThan(timestamps []time.Time, cutoff time.Time) []time.Time {
	out := timestamps[:0]
	for _, ts := range timestamps {
		if ts.After(cutoff) {
			out = append(out, ts)
		}
	}
	return out
}
