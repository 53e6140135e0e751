package handlers

import (
	"strconv"
	"strings"
	"sync"
	"time"
)

// Route groups share one budget per caller. Status polling never eats into the submit budget.
const (
	rateGroupIntents = "payments.intents"
	rateGroupProcess = "payments.process"
	rateGroupStatus  = "payments.status"
)

type rateLimiter interface {
	// Allow reports whether uid may call group now and, when refused, how long until the
	// window reopens.
	Allow(group, uid string) (bool, time.Duration)
}

type windowKey struct {
	group string
	uid   string
}

type windowCount struct {
	used    int
	resetAt time.Time
}

// windowLimiter counts calls per caller and route group in fixed windows.
type windowLimiter struct {
	limit  int
	window time.Duration
	clock  func() time.Time

	mu      sync.Mutex
	windows map[windowKey]windowCount
}

func newWindowLimiter(limit int, window time.Duration, clock func() time.Time) rateLimiter {
	if limit <= 0 || window <= 0 {
		return nil
	}
	if clock == nil {
		clock = time.Now
	}
	return &windowLimiter{
		limit:   limit,
		window:  window,
		clock:   clock,
		windows: make(map[windowKey]windowCount),
	}
}

func (l *windowLimiter) Allow(group, uid string) (bool, time.Duration) {
	key := windowKey{group: group, uid: strings.TrimSpace(uid)}
	now := l.clock()
	l.mu.Lock()
	defer l.mu.Unlock()

	current, ok := l.windows[key]
	if !ok || !now.Before(current.resetAt) {
		l.evictExpiredLocked(now)
		l.windows[key] = windowCount{used: 1, resetAt: now.Add(l.window)}
		return true, 0
	}
	if current.used >= l.limit {
		return false, current.resetAt.Sub(now)
	}
	current.used++
	l.windows[key] = current
	return true, 0
}

func (l *windowLimiter) evictExpiredLocked(now time.Time) {
	for key, count := range l.windows {
		if !now.Before(count.resetAt) {
			delete(l.windows, key)
		}
	}
}

// retryAfterSeconds renders a Retry-After value, rounding up to whole seconds.
func retryAfterSeconds(wait time.Duration) string {
	secs := int((wait + time.Second - 1) / time.Second)
	if secs < 1 {
		secs = 1
	}
	return strconv.Itoa(secs)
}
