// internal/dispatch/ratelimit.go
package dispatch

import (
	"sync"
	"time"
)

// Window identifies which ceiling denied a send.
type Window string

const (
	WindowMinute Window = "minute"
	WindowHour   Window = "hour"
	WindowDay    Window = "day"
)

// LimitConfig contains the send ceilings. A zero value disables that
// window.
type LimitConfig struct {
	PerMinute int `mapstructure:"per_minute" json:"per_minute"`
	PerHour   int `mapstructure:"per_hour" json:"per_hour"`
	PerDay    int `mapstructure:"per_day" json:"per_day"`
}

// Result contains the rate limit check result. RetryAfter is how long
// until the denying window rolls over; deferred jobs are rescheduled
// past it, never dropped.
type Result struct {
	Allowed    bool
	DeniedBy   Window
	RetryAfter time.Duration
}

// Counter tracks the rolling window counts.
type Counter struct {
	MinuteCount int       `json:"minute_count"`
	HourlyCount int       `json:"hourly_count"`
	DailyCount  int       `json:"daily_count"`
	MinuteStart time.Time `json:"minute_start"`
	HourStart   time.Time `json:"hour_start"`
	DayStart    time.Time `json:"day_start"`
}

// Limiter enforces global send ceilings across minute, hour and day
// windows. All three are checked before any counter increments, so a
// denial never consumes quota.
type Limiter struct {
	mu      sync.Mutex
	config  LimitConfig
	counter Counter
	now     func() time.Time
}

func NewLimiter(cfg LimitConfig) *Limiter {
	return &Limiter{
		config: cfg,
		now:    time.Now,
	}
}

// NewLimiterWithClock exists for deterministic tests.
func NewLimiterWithClock(cfg LimitConfig, now func() time.Time) *Limiter {
	return &Limiter{config: cfg, now: now}
}

// Allow checks every window and increments all of them when the send
// is admitted.
func (l *Limiter) Allow() Result {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	l.resetExpired(now)

	if result := l.check(now); !result.Allowed {
		return result
	}

	l.counter.MinuteCount++
	l.counter.HourlyCount++
	l.counter.DailyCount++
	return Result{Allowed: true}
}

// Check reports whether a send would be admitted without consuming
// quota.
func (l *Limiter) Check() Result {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	l.resetExpired(now)
	return l.check(now)
}

func (l *Limiter) check(now time.Time) Result {
	if l.config.PerMinute > 0 && l.counter.MinuteCount >= l.config.PerMinute {
		return Result{
			DeniedBy:   WindowMinute,
			RetryAfter: l.counter.MinuteStart.Add(time.Minute).Sub(now),
		}
	}
	if l.config.PerHour > 0 && l.counter.HourlyCount >= l.config.PerHour {
		return Result{
			DeniedBy:   WindowHour,
			RetryAfter: l.counter.HourStart.Add(time.Hour).Sub(now),
		}
	}
	if l.config.PerDay > 0 && l.counter.DailyCount >= l.config.PerDay {
		return Result{
			DeniedBy:   WindowDay,
			RetryAfter: l.counter.DayStart.Add(24 * time.Hour).Sub(now),
		}
	}
	return Result{Allowed: true}
}

func (l *Limiter) resetExpired(now time.Time) {
	c := &l.counter
	if c.MinuteStart.IsZero() {
		c.MinuteStart = now
		c.HourStart = now
		c.DayStart = now
		return
	}
	if now.Sub(c.MinuteStart) >= time.Minute {
		c.MinuteCount = 0
		c.MinuteStart = now
	}
	if now.Sub(c.HourStart) >= time.Hour {
		c.HourlyCount = 0
		c.HourStart = now
	}
	if now.Sub(c.DayStart) >= 24*time.Hour {
		c.DailyCount = 0
		c.DayStart = now
	}
}

// Stats returns a copy of the current window counts.
func (l *Limiter) Stats() Counter {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.resetExpired(l.now())
	return l.counter
}
